// Package reconcile aligns locally recorded job status with the
// authoritative status reported by the execution engine. Every active job
// gets its own polling task; one slow or hung external call never stalls
// reconciliation of other jobs.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seqflow-labs/seqflow-go/internal/domain"
	"github.com/seqflow-labs/seqflow-go/internal/engine"
	"github.com/seqflow-labs/seqflow-go/internal/observability"
	"github.com/seqflow-labs/seqflow-go/internal/repo"
	"github.com/seqflow-labs/seqflow-go/internal/service/jobs"
)

// Transitions is the single write path for job records. Implemented by
// the jobs service; re-applying the same status is a no-op there.
type Transitions interface {
	Apply(ctx context.Context, jobID string, tr jobs.Transition) (domain.Job, bool, error)
}

type Config struct {
	// PollInterval is the per-job polling cadence.
	PollInterval time.Duration
	// PollTimeout bounds each engine poll call.
	PollTimeout time.Duration
	// FailureLimit is the consecutive poll-failure bound before the job
	// is failed as status-unreachable.
	FailureLimit int
	// StaleAfter fails jobs that sit in SUBMITTED/QUEUED longer than
	// this; a launch that silently never started.
	StaleAfter time.Duration
	// AdoptInterval is the store-scan cadence that picks up active jobs
	// without a polling task (new submissions and startup recovery).
	AdoptInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 15 * time.Second
	}
	if c.FailureLimit <= 0 {
		c.FailureLimit = 5
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 30 * time.Minute
	}
	if c.AdoptInterval <= 0 {
		c.AdoptInterval = c.PollInterval
	}
	return c
}

type Reconciler struct {
	logger   *slog.Logger
	jobs     repo.JobRepository
	launcher engine.Launcher
	control  Transitions
	metrics  *observability.Metrics
	cfg      Config

	mu    sync.Mutex
	tasks map[string]struct{}
	wg    sync.WaitGroup
}

func New(
	logger *slog.Logger,
	jobRepo repo.JobRepository,
	launcher engine.Launcher,
	control Transitions,
	metrics *observability.Metrics,
	cfg Config,
) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		logger:   logger.With("component", "reconciler"),
		jobs:     jobRepo,
		launcher: launcher,
		control:  control,
		metrics:  metrics,
		cfg:      cfg.withDefaults(),
		tasks:    make(map[string]struct{}),
	}
}

// Run scans for active jobs and keeps a polling task per job until ctx is
// cancelled. It blocks, and returns once every task has stopped.
func (r *Reconciler) Run(ctx context.Context) {
	r.adopt(ctx)

	ticker := time.NewTicker(r.cfg.AdoptInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			return
		case <-ticker.C:
			r.adopt(ctx)
		}
	}
}

func (r *Reconciler) adopt(ctx context.Context) {
	active, err := r.jobs.ListActive(ctx)
	if err != nil {
		r.logger.Error("active job scan failed", "error", err)
		return
	}
	for _, job := range active {
		r.Watch(ctx, job.ID)
	}
}

// Watch ensures a polling task exists for the job. Idempotent; the task
// removes itself once the job reaches a terminal state.
func (r *Reconciler) Watch(ctx context.Context, jobID string) {
	r.mu.Lock()
	if _, ok := r.tasks[jobID]; ok {
		r.mu.Unlock()
		return
	}
	r.tasks[jobID] = struct{}{}
	r.mu.Unlock()

	r.wg.Add(1)
	go r.task(ctx, jobID)
}

func (r *Reconciler) task(ctx context.Context, jobID string) {
	defer func() {
		r.mu.Lock()
		delete(r.tasks, jobID)
		r.mu.Unlock()
		r.wg.Done()
	}()

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		job, terminal, pollErr := r.reconcileOnce(ctx, jobID)
		if pollErr != nil {
			failures++
			r.logger.Warn("poll failed", "job_id", jobID, "consecutive", failures, "error", pollErr)
			if failures >= r.cfg.FailureLimit {
				r.failUnreachable(ctx, jobID, failures, pollErr)
				return
			}
			continue
		}
		failures = 0
		if terminal {
			r.logger.Info("job reached terminal state, stopping poll task",
				"job_id", jobID, "status", string(job.Status))
			return
		}
	}
}

func (r *Reconciler) failUnreachable(ctx context.Context, jobID string, failures int, lastErr error) {
	r.metrics.UnreachableFailure()
	_, _, err := r.control.Apply(ctx, jobID, jobs.Transition{
		To:     domain.StatusFailed,
		Reason: fmt.Sprintf("status unreachable after %d consecutive poll failures: %v", failures, lastErr),
	})
	if err != nil {
		r.logger.Error("failed to mark job status-unreachable", "job_id", jobID, "error", err)
	}
}

// reconcileOnce performs a single poll-and-apply pass. The returned error
// is a transient poll failure; repository or transition errors are logged
// here and not counted toward the failure bound.
func (r *Reconciler) reconcileOnce(ctx context.Context, jobID string) (domain.Job, bool, error) {
	job, err := r.jobs.Get(ctx, jobID)
	if err != nil {
		r.logger.Error("job lookup failed", "job_id", jobID, "error", err)
		return domain.Job{}, false, nil
	}
	if job.Status.Terminal() {
		return job, true, nil
	}

	if r.isStale(job) {
		r.metrics.StaleFailure()
		updated, _, err := r.control.Apply(ctx, jobID, jobs.Transition{
			To:     domain.StatusFailed,
			Reason: fmt.Sprintf("launch never started: job stuck in %s for more than %s", job.Status, r.cfg.StaleAfter),
		})
		if err != nil {
			r.logger.Error("failed to mark job stale", "job_id", jobID, "error", err)
			return job, false, nil
		}
		return updated, updated.Status.Terminal(), nil
	}

	if job.ExternalID == "" {
		// Launch still in flight; nothing to poll yet.
		return job, false, nil
	}

	pollCtx, cancel := context.WithTimeout(ctx, r.cfg.PollTimeout)
	obs, err := r.launcher.Poll(pollCtx, job.ExternalID)
	cancel()
	if err != nil {
		r.metrics.PollError()
		return job, false, err
	}

	to, ok := engine.MapStatus(obs.Status)
	if !ok {
		r.logger.Warn("unmapped engine status, preserving current state",
			"job_id", jobID, "external_status", obs.Status)
		return job, false, nil
	}

	tr := jobs.Transition{To: to}
	switch to {
	case domain.StatusCompleted:
		tr.OutputDir = obs.OutputDir
	case domain.StatusFailed:
		tr.Reason = obs.Message
		if tr.Reason == "" {
			tr.Reason = "engine reported failure"
		}
	}

	updated, _, err := r.control.Apply(ctx, jobID, tr)
	if err != nil {
		r.logger.Error("transition apply failed", "job_id", jobID, "error", err)
		return job, false, nil
	}
	return updated, updated.Status.Terminal(), nil
}

// PollNow runs one on-demand reconciliation pass, for user-triggered
// status refreshes. A transient poll failure is returned alongside the
// last stored record; it does not count toward any task's failure bound.
func (r *Reconciler) PollNow(ctx context.Context, jobID string) (domain.Job, error) {
	job, _, pollErr := r.reconcileOnce(ctx, jobID)
	return job, pollErr
}

func (r *Reconciler) isStale(job domain.Job) bool {
	switch job.Status {
	case domain.StatusSubmitted, domain.StatusQueued:
		return time.Since(job.CreatedAt) > r.cfg.StaleAfter
	}
	return false
}
