package storage

import (
	"context"
	"time"
)

// ObjectStorage is the subset of object storage the pipeline needs: the
// audio is fetched by the ASR provider itself through a time-limited URL.
type ObjectStorage interface {
	// PresignGet returns a URL granting read access to key for ttl.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Exists reports whether key is present in the bucket.
	Exists(ctx context.Context, key string) (bool, error)

	// Bucket returns the bucket objects are read from.
	Bucket() string
}
