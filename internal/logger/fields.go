package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, propagated through the context.
const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldJobID is the transcription job ID
	FieldJobID = "job_id"

	// FieldVisitID is the visit the job or note belongs to
	FieldVisitID = "visit_id"

	// FieldWorkerID identifies the worker process holding a claim
	FieldWorkerID = "worker_id"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldStage is the pipeline stage
	FieldStage = "stage"

	// FieldStream is the fallback stream name
	FieldStream = "stream"
)

// Metric fields, attached per entry.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldSize       = "size"
	FieldStatus     = "status"
)
