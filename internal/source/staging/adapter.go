package staging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/timmy/visitscribe/internal/logger"
	"github.com/timmy/visitscribe/internal/source"
)

// ManifestFileName is the JSONL manifest file name in staging sources.
const ManifestFileName = "manifest.jsonl"

// ManifestItem represents a line of the manifest.jsonl file.
type ManifestItem struct {
	ID          string  `json:"id"`
	VisitID     string  `json:"visit_id"`
	PatientID   string  `json:"patient_id"`
	ClinicianID string  `json:"clinician_id"`
	Path        string  `json:"path"`
	CacheID     *string `json:"cache_id"`
	ScheduledAt string  `json:"scheduled_at"`
}

// Adapter implements the Source interface for a staging directory. Items
// keep manifest order so jobs are enqueued in the order recordings arrived.
type Adapter struct {
	basePath string
	sourceID string
	items    []source.RecordingItem
	loaded   bool
}

// NewAdapter creates a new staging adapter.
// Parameters:
//   - basePath: base path to the staging directory.
//   - sourceID: subdirectory holding manifest.jsonl.
// Returns:
//   - *Adapter: initialized staging adapter.
func NewAdapter(basePath, sourceID string) *Adapter {
	return &Adapter{
		basePath: basePath,
		sourceID: sourceID,
	}
}

// GetSourceID returns the source identifier with a "staging:" prefix.
func (a *Adapter) GetSourceID() string {
	return "staging:" + a.sourceID
}

// GetDisplayName returns a human-readable name for this source.
func (a *Adapter) GetDisplayName() string {
	return fmt.Sprintf("Staging (%s)", a.sourceID)
}

// FetchBatch fetches a batch of recordings from the manifest.
// Parameters:
//   - ctx: context for cancellation and deadlines (unused for local reads).
//   - cursor: pagination cursor as an index string.
//   - limit: maximum number of items to fetch.
// Returns:
//   - []source.RecordingItem: batch of recordings.
//   - string: next cursor or empty if no more items.
//   - error: non-nil if loading or parsing fails.
func (a *Adapter) FetchBatch(ctx context.Context, cursor string, limit int) ([]source.RecordingItem, string, error) {
	if !a.loaded {
		if err := a.loadItems(ctx); err != nil {
			return nil, "", fmt.Errorf("failed to load staging items: %w", err)
		}
		a.loaded = true
	}

	startIndex := 0
	if cursor != "" {
		var err error
		startIndex, err = strconv.Atoi(cursor)
		if err != nil || startIndex < 0 {
			return nil, "", fmt.Errorf("invalid cursor: %q", cursor)
		}
	}

	if startIndex >= len(a.items) {
		return []source.RecordingItem{}, "", nil
	}

	endIndex := startIndex + limit
	if limit <= 0 || endIndex > len(a.items) {
		endIndex = len(a.items)
	}

	nextCursor := ""
	if endIndex < len(a.items) {
		nextCursor = strconv.Itoa(endIndex)
	}

	return a.items[startIndex:endIndex], nextCursor, nil
}

// loadItems loads all items from the manifest file
func (a *Adapter) loadItems(ctx context.Context) error {
	manifestPath := filepath.Join(a.basePath, a.sourceID, ManifestFileName)

	file, err := os.Open(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("manifest file not found: %s", manifestPath)
		}
		return fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()

	a.items = []source.RecordingItem{}

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var item ManifestItem
		if err := json.Unmarshal([]byte(line), &item); err != nil {
			logger.CtxWarn(ctx, "Skipping malformed manifest line %d: %v", lineNo, err)
			continue
		}
		visitID := strings.TrimSpace(item.VisitID)
		path := strings.TrimSpace(item.Path)
		if visitID == "" || path == "" {
			logger.CtxWarn(ctx, "Skipping manifest line %d: visit_id and path are required", lineNo)
			continue
		}

		id := item.ID
		if id == "" {
			id = strconv.Itoa(lineNo)
		}
		rec := source.RecordingItem{
			SourceID:    fmt.Sprintf("%s_%s", a.sourceID, id),
			VisitID:     visitID,
			PatientID:   strings.TrimSpace(item.PatientID),
			ClinicianID: strings.TrimSpace(item.ClinicianID),
			Path:        path,
			CacheID:     item.CacheID,
		}
		if item.ScheduledAt != "" {
			if at, err := time.Parse(time.RFC3339, item.ScheduledAt); err == nil {
				at = at.UTC()
				rec.ScheduledAt = &at
			}
		}
		a.items = append(a.items, rec)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading manifest: %w", err)
	}
	return nil
}

// GetTotalCount returns the total number of recordings in the manifest.
func (a *Adapter) GetTotalCount(ctx context.Context) (int, error) {
	if !a.loaded {
		if err := a.loadItems(ctx); err != nil {
			return 0, err
		}
		a.loaded = true
	}
	return len(a.items), nil
}

// ListStagingSources lists all available staging sources.
// Parameters:
//   - basePath: base path to the staging directory.
// Returns:
//   - []string: list of staging source IDs.
//   - error: non-nil if reading the directory fails.
func ListStagingSources(basePath string) ([]string, error) {
	entries, err := os.ReadDir(basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	var sources []string
	for _, entry := range entries {
		if entry.IsDir() {
			manifestPath := filepath.Join(basePath, entry.Name(), ManifestFileName)
			if _, err := os.Stat(manifestPath); err == nil {
				sources = append(sources, entry.Name())
			}
		}
	}

	return sources, nil
}
