package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/timmy/visitscribe/internal/domain"
	"github.com/timmy/visitscribe/internal/fallback"
)

type fakeQueue struct {
	mu        sync.Mutex
	jobs      []*domain.Job
	claimErr  error
	completed []string
	failed    map[string]string
}

func (q *fakeQueue) ClaimNext(ctx context.Context, workerID string) (*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.claimErr != nil {
		return nil, q.claimErr
	}
	if len(q.jobs) == 0 {
		return nil, nil
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	job.Status = domain.JobStatusProcessing
	job.ClaimedBy = workerID
	return job, nil
}

func (q *fakeQueue) ClaimByID(ctx context.Context, id, workerID string) (*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, job := range q.jobs {
		if job.ID == id {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			job.Status = domain.JobStatusProcessing
			return job, nil
		}
	}
	return nil, domain.ErrJobNotFound
}

func (q *fakeQueue) Complete(ctx context.Context, job *domain.Job, result *domain.JobResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.Status = domain.JobStatusCompleted
	q.completed = append(q.completed, job.ID)
	return nil
}

func (q *fakeQueue) Fail(ctx context.Context, job *domain.Job, message string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failed == nil {
		q.failed = make(map[string]string)
	}
	job.Status = domain.JobStatusFailed
	q.failed[job.ID] = message
	return nil
}

type processorFunc func(ctx context.Context, job *domain.Job, opts RunOptions) (*domain.JobResult, error)

func (f processorFunc) Run(ctx context.Context, job *domain.Job, opts RunOptions) (*domain.JobResult, error) {
	return f(ctx, job, opts)
}

func okProcessor(ctx context.Context, job *domain.Job, opts RunOptions) (*domain.JobResult, error) {
	return &domain.JobResult{Transcript: domain.Transcript{Text: "ok"}}, nil
}

func TestRunOnceOutcomes(t *testing.T) {
	tests := []struct {
		name          string
		processor     processorFunc
		wantCompleted int
		wantFailure   string
	}{
		{"success completes", okProcessor, 1, ""},
		{"error fails", func(context.Context, *domain.Job, RunOptions) (*domain.JobResult, error) {
			return nil, errors.New("visit note is signed")
		}, 0, "visit note is signed"},
		{"panic fails", func(context.Context, *domain.Job, RunOptions) (*domain.JobResult, error) {
			panic("nil transcript")
		}, 0, "pipeline panic: nil transcript"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := &fakeQueue{jobs: []*domain.Job{{ID: "j1", VisitID: "v1", Path: "rec1.mp3"}}}
			worker := NewWorker(queue, tt.processor, WorkerConfig{ID: "w1"})

			processed, err := worker.RunOnce(context.Background())
			if err != nil {
				t.Fatalf("RunOnce: %v", err)
			}
			if !processed {
				t.Fatal("expected a job to be processed")
			}
			if len(queue.completed) != tt.wantCompleted {
				t.Errorf("completed = %v, want %d", queue.completed, tt.wantCompleted)
			}
			if tt.wantFailure != "" && queue.failed["j1"] != tt.wantFailure {
				t.Errorf("failure message = %q, want %q", queue.failed["j1"], tt.wantFailure)
			}
		})
	}
}

func TestRunOnceEmptyQueue(t *testing.T) {
	worker := NewWorker(&fakeQueue{}, processorFunc(okProcessor), WorkerConfig{})
	processed, err := worker.RunOnce(context.Background())
	if err != nil || processed {
		t.Fatalf("expected no work, got processed=%v err=%v", processed, err)
	}
}

func TestRunOnceSurfacesQueueErrors(t *testing.T) {
	worker := NewWorker(&fakeQueue{claimErr: errors.New("db down")}, processorFunc(okProcessor), WorkerConfig{})
	if _, err := worker.RunOnce(context.Background()); err == nil {
		t.Fatal("expected queue error")
	}
}

func TestRunPassesSimulateAndStopsOnCancel(t *testing.T) {
	queue := &fakeQueue{jobs: []*domain.Job{{ID: "j1"}, {ID: "j2"}}}
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	var seen []string
	processor := processorFunc(func(ctx context.Context, job *domain.Job, opts RunOptions) (*domain.JobResult, error) {
		if !opts.Simulate {
			t.Errorf("expected simulate to be passed through")
		}
		mu.Lock()
		seen = append(seen, job.ID)
		if len(seen) == 2 {
			cancel()
		}
		mu.Unlock()
		return &domain.JobResult{}, nil
	})

	worker := NewWorker(queue, processor, WorkerConfig{Interval: 10 * time.Millisecond, Simulate: true})

	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}

	if len(queue.completed) != 2 {
		t.Errorf("expected both jobs completed, got %v", queue.completed)
	}
}

func TestRunSurvivesQueueErrors(t *testing.T) {
	queue := &fakeQueue{claimErr: errors.New("db down")}
	worker := NewWorker(queue, processorFunc(okProcessor), WorkerConfig{Interval: time.Millisecond, ErrorBackoff: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := worker.Run(ctx); err != nil {
		t.Fatalf("Run should stop cleanly, got %v", err)
	}
}

func TestProcessJob(t *testing.T) {
	queue := &fakeQueue{jobs: []*domain.Job{{ID: "j1"}, {ID: "j2"}}}
	worker := NewWorker(queue, processorFunc(okProcessor), WorkerConfig{})

	job, result, err := worker.ProcessJob(context.Background(), "j2", false)
	if err != nil {
		t.Fatalf("ProcessJob: %v", err)
	}
	if job.ID != "j2" || job.Status != domain.JobStatusCompleted || result == nil {
		t.Errorf("unexpected outcome job=%+v result=%+v", job, result)
	}

	if _, _, err := worker.ProcessJob(context.Background(), "missing", false); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

// blockingASR holds the transcription call open until ctx is done.
type blockingASR struct {
	started chan struct{}
}

func (b *blockingASR) Configured() bool { return true }
func (b *blockingASR) Provider() string { return "blocking-asr" }

func (b *blockingASR) Transcribe(ctx context.Context, signedURL string, simulate bool) (*TranscriptionOutput, error) {
	close(b.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestShutdownDuringTranscriptionLeavesJobProcessing(t *testing.T) {
	env := newTestEnv(t)
	asr := &blockingASR{started: make(chan struct{})}
	deps := env.deps()
	deps.Storage = &fakeStorage{url: "https://audio.example"}
	deps.ASR = asr
	deps.Parser = &fakeParser{}

	job, err := env.jobs.Enqueue(context.Background(), "v1", "rec1.mp3", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-asr.started
		cancel()
	}()

	worker := NewWorker(env.jobs, NewPipeline(deps), WorkerConfig{ID: "w-shutdown"})
	processed, err := worker.RunOnce(ctx)
	if err != nil || !processed {
		t.Fatalf("RunOnce: processed=%v err=%v", processed, err)
	}

	bg := context.Background()
	got, err := env.jobs.GetByID(bg, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != domain.JobStatusProcessing {
		t.Errorf("status = %s, want processing", got.Status)
	}
	if len(got.Result) != 0 {
		t.Errorf("expected no result on an interrupted job, got %s", string(got.Result))
	}
	if transcripts, _ := env.transcripts.ListByVisits(bg, []string{"v1"}); len(transcripts) != 0 {
		t.Errorf("expected no stored transcript, got %d", len(transcripts))
	}
	if pending, _ := env.writer.Read(fallback.StreamTranscripts); len(pending) != 0 {
		t.Errorf("expected nothing diverted to fallback, got %d", len(pending))
	}
}
