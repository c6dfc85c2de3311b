package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/timmy/visitscribe/internal/api/handler"
	"github.com/timmy/visitscribe/internal/api/middleware"
	"github.com/timmy/visitscribe/internal/config"
	"github.com/timmy/visitscribe/internal/domain"
	"github.com/timmy/visitscribe/internal/fallback"
	"github.com/timmy/visitscribe/internal/logger"
	"github.com/timmy/visitscribe/internal/repository"
	"github.com/timmy/visitscribe/internal/service"
)

type testServer struct {
	router      *gin.Engine
	jobs        *repository.JobRepository
	transcripts *repository.TranscriptRepository
	writer      *fallback.Writer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         filepath.Join(t.TempDir(), "api.db"),
		MaxOpenConns: 1,
		AutoMigrate:  true,
		LogLevel:     "silent",
	})
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	writer, err := fallback.NewWriter(t.TempDir(), fallback.WithPermanentErrors(domain.ErrNoteSigned))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	jobs := repository.NewJobRepository(db)
	transcripts := repository.NewTranscriptRepository(db)
	ledger := repository.NewVisitNoteRepository(db)
	audits := repository.NewAuditRepository(db)
	visits := repository.NewVisitRepository(db)

	notes := service.NewNotesService(ledger, audits)
	pipeline := service.NewPipeline(service.PipelineDeps{
		ASR:         service.NewTranscriptionClient(&service.TranscriptionConfig{}),
		Parser:      service.NewClinicalParser(&service.ClinicalParserConfig{}),
		Transcripts: transcripts,
		Notes:       notes,
		Audit:       audits,
		Fallback:    writer,
	})
	worker := service.NewWorker(jobs, pipeline, service.WorkerConfig{ID: "api-test"})

	reconciler := fallback.NewReconciler(writer)
	service.RegisterReplayers(reconciler, transcripts, ledger)

	router := SetupRouter(Handlers{
		Jobs:        handler.NewJobHandler(jobs, worker),
		Notes:       handler.NewNoteHandler(notes),
		Transcripts: handler.NewTranscriptHandler(service.NewTranscriptService(transcripts, visits, audits, writer)),
		Admin:       handler.NewAdminHandler(reconciler, jobs),
	}, "test", middleware.CORSConfig{AllowAllOrigins: true}, logger.NewNop())

	return &testServer{router: router, jobs: jobs, transcripts: transcripts, writer: writer}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("expected a request ID header")
	}
}

func TestRequestIDIsPropagated(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if got := w.Header().Get(middleware.RequestIDHeader); got != "req-123" {
		t.Errorf("expected request ID req-123, got %q", got)
	}
}

func TestEnqueueAndProcessSimulated(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/jobs", map[string]any{"visit_id": "v1", "path": "rec1.mp3"})
	if w.Code != http.StatusCreated {
		t.Fatalf("enqueue: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	job := decode[domain.Job](t, w)
	if job.Status != domain.JobStatusPending {
		t.Fatalf("expected pending job, got %s", job.Status)
	}

	w = s.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/process", map[string]any{"simulate": true})
	if w.Code != http.StatusOK {
		t.Fatalf("process: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[handler.ProcessJobResponse](t, w)
	if resp.Job.Status != domain.JobStatusCompleted {
		t.Errorf("expected completed job, got %s", resp.Job.Status)
	}
	if resp.Result == nil || resp.Result.Transcript.Text != service.SimulatedTranscript {
		t.Fatalf("expected simulated transcript, got %+v", resp.Result)
	}

	w = s.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}
	if got := decode[domain.Job](t, w); got.Status != domain.JobStatusCompleted {
		t.Errorf("expected stored status completed, got %s", got.Status)
	}

	// A completed job cannot be processed again.
	w = s.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/process", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("reprocess: expected 409, got %d", w.Code)
	}

	w = s.do(t, http.MethodGet, "/api/v1/transcripts?visit_id=v1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("transcripts: expected 200, got %d", w.Code)
	}
	listing := decode[service.TranscriptListing](t, w)
	if listing.Source != service.TranscriptSourcePrimary || len(listing.Transcripts) != 1 {
		t.Errorf("expected one primary transcript, got %+v", listing)
	}
}

func TestProcessWithoutBodyUsesStub(t *testing.T) {
	s := newTestServer(t)
	job, err := s.jobs.Enqueue(context.Background(), "v2", "rec2.mp3", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	w := s.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/process", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[handler.ProcessJobResponse](t, w)
	if resp.Result.Transcript.Provider != domain.ProviderLocalStub {
		t.Errorf("expected stub provider, got %q", resp.Result.Transcript.Provider)
	}
	if !strings.HasPrefix(resp.Result.Transcript.Text, "STUB TRANSCRIPT for rec2.mp3") {
		t.Errorf("unexpected stub text %q", resp.Result.Transcript.Text)
	}
}

func TestJobErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"missing fields", http.MethodPost, "/api/v1/jobs", map[string]any{"visit_id": "v1"}, http.StatusBadRequest},
		{"blank path", http.MethodPost, "/api/v1/jobs", map[string]any{"visit_id": "v1", "path": "  "}, http.StatusBadRequest},
		{"unknown job", http.MethodGet, "/api/v1/jobs/nope", nil, http.StatusNotFound},
		{"process unknown job", http.MethodPost, "/api/v1/jobs/nope/process", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, tt.method, tt.path, tt.body)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
			if _, ok := decode[map[string]any](t, w)["error"]; !ok {
				t.Error("expected an error field")
			}
		})
	}
}

func TestNoteLifecycle(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/visits/v3/notes", map[string]any{
		"section": "subjective",
		"content": "Cough for three days",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("append: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	entry := decode[domain.VisitNoteEntry](t, w)
	if entry.Source != domain.EntrySourceManual {
		t.Errorf("expected manual source, got %q", entry.Source)
	}

	w = s.do(t, http.MethodPost, "/api/v1/visits/v3/notes", map[string]any{"section": "nope", "content": "x"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid section: expected 400, got %d", w.Code)
	}

	w = s.do(t, http.MethodPost, "/api/v1/visits/v3/notes/sign", map[string]any{"signed_by": "dr-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("sign: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	note := decode[service.VisitNote](t, w)
	if note.Status != domain.NoteStatusSigned || note.SignedBy == nil || *note.SignedBy != "dr-1" {
		t.Errorf("unexpected signed note %+v", note)
	}

	w = s.do(t, http.MethodPost, "/api/v1/visits/v3/notes/sign", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("re-sign: expected 409, got %d", w.Code)
	}

	w = s.do(t, http.MethodPost, "/api/v1/visits/v3/notes", map[string]any{"section": "plan", "content": "late"})
	if w.Code != http.StatusConflict {
		t.Errorf("append after sign: expected 409, got %d", w.Code)
	}

	w = s.do(t, http.MethodGet, "/api/v1/visits/v3/notes", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}
	if got := decode[service.VisitNote](t, w); len(got.Entries) != 1 {
		t.Errorf("expected 1 entry after sign, got %d", len(got.Entries))
	}
}

func TestTranscriptsRequiresQuery(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/v1/transcripts", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestAdminReplayRestoresFallbackTranscripts(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	down := func(context.Context) error { return errors.New("database unavailable") }
	transcript := &domain.Transcript{VisitID: "v4", Provider: domain.ProviderSimulate, Text: "diverted"}
	if _, err := s.writer.Write(ctx, fallback.StreamTranscripts, down, transcript); err != nil {
		t.Fatalf("Write: %v", err)
	}

	w := s.do(t, http.MethodGet, "/api/v1/transcripts?visit_id=v4", nil)
	if listing := decode[service.TranscriptListing](t, w); listing.Source != service.TranscriptSourceFallback {
		t.Fatalf("expected fallback listing before replay, got %q", listing.Source)
	}

	w = s.do(t, http.MethodPost, "/api/v1/admin/fallback/replay", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("replay: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[handler.ReplayResponse](t, w)
	var replayed int
	for _, st := range resp.Streams {
		replayed += st.Replayed
	}
	if replayed != 1 {
		t.Errorf("expected 1 replayed record, got %+v", resp.Streams)
	}

	w = s.do(t, http.MethodGet, "/api/v1/transcripts?visit_id=v4", nil)
	listing := decode[service.TranscriptListing](t, w)
	if listing.Source != service.TranscriptSourcePrimary || len(listing.Transcripts) != 1 {
		t.Errorf("expected restored primary transcript, got %+v", listing)
	}

	w = s.do(t, http.MethodGet, "/api/v1/admin/fallback/status", nil)
	status := decode[handler.ReplayStatusResponse](t, w)
	if status.IsRunning || status.LastRunStatus != "success" {
		t.Errorf("unexpected replay status %+v", status)
	}
}

func TestAdminJobStats(t *testing.T) {
	s := newTestServer(t)
	if _, err := s.jobs.Enqueue(context.Background(), "v5", "a.mp3", nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	w := s.do(t, http.MethodGet, "/api/v1/admin/jobs/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Total    int64            `json:"total"`
		ByStatus map[string]int64 `json:"by_status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 1 || body.ByStatus["pending"] != 1 {
		t.Errorf("unexpected stats %+v", body)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/jobs", nil)
	req.Header.Set("Origin", "https://portal.example")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected wildcard origin, got %q", got)
	}
}

func TestAdminListJobs(t *testing.T) {
	s := newTestServer(t)
	job, err := s.jobs.Enqueue(context.Background(), "v6", "a.mp3", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	w := s.do(t, http.MethodGet, "/api/v1/admin/jobs?status=pending&limit=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Jobs []domain.Job `json:"jobs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Jobs) != 1 || body.Jobs[0].ID != job.ID {
		t.Errorf("expected the pending job, got %+v", body.Jobs)
	}

	w = s.do(t, http.MethodGet, "/api/v1/admin/jobs?status=bogus", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown status, got %d", w.Code)
	}
}
