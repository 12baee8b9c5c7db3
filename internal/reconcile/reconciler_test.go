package reconcile

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/seqflow-labs/seqflow-go/internal/domain"
	"github.com/seqflow-labs/seqflow-go/internal/engine"
	"github.com/seqflow-labs/seqflow-go/internal/pipelines"
	"github.com/seqflow-labs/seqflow-go/internal/repo/memory"
	"github.com/seqflow-labs/seqflow-go/internal/service/jobs"
)

type staticCatalog struct{}

func (staticCatalog) Get(id string) (pipelines.Pipeline, error) {
	return pipelines.Pipeline{ID: id, Name: id, Repo: "https://github.com/nf-core/" + id}, nil
}

func (staticCatalog) List() []pipelines.Pipeline { return nil }

type scriptedLauncher struct {
	mu           sync.Mutex
	observations []engine.Observation
	pollErr      error
	polls        int
}

func (l *scriptedLauncher) Kind() string { return "scripted" }

func (l *scriptedLauncher) Launch(_ context.Context, req engine.LaunchRequest) (engine.LaunchResult, error) {
	return engine.LaunchResult{ExternalID: "run-" + req.JobID, WorkDir: req.WorkDir}, nil
}

func (l *scriptedLauncher) Poll(_ context.Context, _ string) (engine.Observation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.polls++
	if l.pollErr != nil {
		return engine.Observation{}, l.pollErr
	}
	obs := l.observations[0]
	if len(l.observations) > 1 {
		l.observations = l.observations[1:]
	}
	return obs, nil
}

func (l *scriptedLauncher) Cancel(_ context.Context, _ string) error { return nil }

func (l *scriptedLauncher) pollCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.polls
}

func newFixture(t *testing.T, launcher engine.Launcher, cfg Config) (*Reconciler, *jobs.Service, *memory.JobStore) {
	t.Helper()
	store := memory.NewJobStore()
	svc, err := jobs.New(nil, store, memory.NewSubscriptionStore(), staticCatalog{}, launcher, nil, nil, jobs.Config{
		DataBucket: "pipeline-data",
	})
	if err != nil {
		t.Fatalf("jobs.New: %v", err)
	}
	return New(nil, store, launcher, svc, nil, cfg), svc, store
}

func submitJob(t *testing.T, svc *jobs.Service) domain.Job {
	t.Helper()
	job, err := svc.Submit(context.Background(), jobs.SubmitRequest{UserID: "user-1", PipelineID: "rnaseq"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return job
}

func waitForStatus(t *testing.T, store *memory.JobStore, jobID string, want domain.Status) domain.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.Get(context.Background(), jobID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := store.Get(context.Background(), jobID)
	t.Fatalf("job %s stuck in %s, want %s", jobID, job.Status, want)
	return domain.Job{}
}

func TestPollNowAppliesObservedStatus(t *testing.T) {
	launcher := &scriptedLauncher{observations: []engine.Observation{{Status: "running"}}}
	rec, svc, _ := newFixture(t, launcher, Config{})
	job := submitJob(t, svc)

	updated, err := rec.PollNow(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("PollNow: %v", err)
	}
	if updated.Status != domain.StatusRunning {
		t.Fatalf("status = %s, want RUNNING", updated.Status)
	}
	if updated.StartedAt == nil {
		t.Error("started_at not set")
	}
}

func TestPollNowCompletionCarriesOutputDir(t *testing.T) {
	launcher := &scriptedLauncher{observations: []engine.Observation{
		{Status: "succeeded", OutputDir: "s3://pipeline-data/results/custom"},
	}}
	rec, svc, _ := newFixture(t, launcher, Config{})
	job := submitJob(t, svc)

	updated, err := rec.PollNow(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("PollNow: %v", err)
	}
	if updated.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", updated.Status)
	}
	if updated.OutputDir != "s3://pipeline-data/results/custom" {
		t.Errorf("output dir = %q", updated.OutputDir)
	}
}

func TestPollNowUnmappedStatusPreservesState(t *testing.T) {
	launcher := &scriptedLauncher{observations: []engine.Observation{{Status: "rebalancing"}}}
	rec, svc, _ := newFixture(t, launcher, Config{})
	job := submitJob(t, svc)

	updated, err := rec.PollNow(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("PollNow: %v", err)
	}
	if updated.Status != domain.StatusQueued {
		t.Fatalf("status = %s, unmapped statuses must not transition", updated.Status)
	}
}

func TestPollNowTerminalJobSkipsEngine(t *testing.T) {
	launcher := &scriptedLauncher{observations: []engine.Observation{{Status: "running"}}}
	rec, svc, _ := newFixture(t, launcher, Config{})
	job := submitJob(t, svc)

	if _, err := svc.RequestCancel(context.Background(), job.ID); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	before := launcher.pollCount()
	updated, err := rec.PollNow(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("PollNow: %v", err)
	}
	if updated.Status != domain.StatusCancelled {
		t.Fatalf("status = %s", updated.Status)
	}
	if launcher.pollCount() != before {
		t.Error("terminal job must not be polled")
	}
}

func TestTaskStopsAfterTerminalObservation(t *testing.T) {
	launcher := &scriptedLauncher{observations: []engine.Observation{
		{Status: "running"},
		{Status: "succeeded", OutputDir: "s3://pipeline-data/results/job"},
	}}
	rec, svc, store := newFixture(t, launcher, Config{PollInterval: 5 * time.Millisecond})
	job := submitJob(t, svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec.Watch(ctx, job.ID)

	done := waitForStatus(t, store, job.ID, domain.StatusCompleted)
	if done.CompletedAt == nil {
		t.Error("completed job missing completed_at")
	}

	// The task exits on its own; further polls would drain nothing since
	// the scripted launcher keeps returning the terminal observation.
	settled := launcher.pollCount()
	time.Sleep(50 * time.Millisecond)
	if launcher.pollCount() > settled+1 {
		t.Errorf("poll task kept polling a terminal job: %d -> %d", settled, launcher.pollCount())
	}
}

func TestConsecutivePollFailuresFailTheJob(t *testing.T) {
	launcher := &scriptedLauncher{pollErr: errors.New("scheduler timeout")}
	rec, svc, store := newFixture(t, launcher, Config{
		PollInterval: 2 * time.Millisecond,
		FailureLimit: 3,
	})
	job := submitJob(t, svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec.Watch(ctx, job.ID)

	failed := waitForStatus(t, store, job.ID, domain.StatusFailed)
	if !strings.Contains(failed.Error, "status unreachable") {
		t.Errorf("error = %q", failed.Error)
	}
	if !strings.Contains(failed.Error, "3 consecutive") {
		t.Errorf("error = %q, want the failure bound recorded", failed.Error)
	}
	if launcher.pollCount() != 3 {
		t.Errorf("poll count = %d, want exactly the failure limit", launcher.pollCount())
	}
}

func TestSinglePollFailureDoesNotFailTheJob(t *testing.T) {
	launcher := &scriptedLauncher{pollErr: errors.New("scheduler timeout")}
	rec, svc, store := newFixture(t, launcher, Config{FailureLimit: 3})
	job := submitJob(t, svc)

	if _, err := rec.PollNow(context.Background(), job.ID); err == nil {
		t.Fatal("expected the poll error to surface")
	}
	stored, err := store.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != domain.StatusQueued {
		t.Fatalf("status = %s, a single failure must not fail the job", stored.Status)
	}
}

func TestStaleQueuedJobFails(t *testing.T) {
	launcher := &scriptedLauncher{observations: []engine.Observation{{Status: "submitted"}}}
	rec, svc, store := newFixture(t, launcher, Config{StaleAfter: time.Nanosecond})
	job := submitJob(t, svc)

	time.Sleep(time.Millisecond)
	updated, err := rec.PollNow(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("PollNow: %v", err)
	}
	if updated.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want FAILED", updated.Status)
	}
	if !strings.Contains(updated.Error, "launch never started") {
		t.Errorf("error = %q", updated.Error)
	}
	stored, _ := store.Get(context.Background(), job.ID)
	if stored.CompletedAt == nil {
		t.Error("stale-failed job missing completed_at")
	}
}

func TestRunAdoptsActiveJobs(t *testing.T) {
	launcher := &scriptedLauncher{observations: []engine.Observation{
		{Status: "succeeded", OutputDir: "s3://pipeline-data/results/job"},
	}}
	rec, svc, store := newFixture(t, launcher, Config{
		PollInterval:  5 * time.Millisecond,
		AdoptInterval: 5 * time.Millisecond,
	})
	job := submitJob(t, svc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		rec.Run(ctx)
	}()

	waitForStatus(t, store, job.ID, domain.StatusCompleted)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
