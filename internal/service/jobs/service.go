// Package jobs is the orchestration facade: the single entry point for
// submitting, inspecting, and cancelling pipeline jobs. All job record
// writes flow through Apply, which serializes per job id and enforces the
// lifecycle state machine.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/seqflow-labs/seqflow-go/internal/domain"
	"github.com/seqflow-labs/seqflow-go/internal/engine"
	"github.com/seqflow-labs/seqflow-go/internal/observability"
	"github.com/seqflow-labs/seqflow-go/internal/pipelines"
	"github.com/seqflow-labs/seqflow-go/internal/repo"
)

// Notifier observes applied transitions. Delivery is strictly
// observational; failures never reach job state.
type Notifier interface {
	JobTransition(job domain.Job)
}

type Config struct {
	// DataBucket is the object-store bucket holding work dirs and results.
	DataBucket string
	// LaunchTimeout bounds the engine launch call during Submit.
	LaunchTimeout time.Duration
	// CancelTimeout bounds the asynchronous cancel propagation call.
	CancelTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.DataBucket) == "" {
		c.DataBucket = "pipeline-data"
	}
	if c.LaunchTimeout <= 0 {
		c.LaunchTimeout = 60 * time.Second
	}
	if c.CancelTimeout <= 0 {
		c.CancelTimeout = 30 * time.Second
	}
	return c
}

type Service struct {
	logger   *slog.Logger
	jobs     repo.JobRepository
	subs     repo.SubscriptionRepository
	catalog  pipelines.Catalog
	launcher engine.Launcher
	notifier Notifier
	metrics  *observability.Metrics
	locks    *lockRegistry
	cfg      Config
}

func New(
	logger *slog.Logger,
	jobRepo repo.JobRepository,
	subRepo repo.SubscriptionRepository,
	catalog pipelines.Catalog,
	launcher engine.Launcher,
	notifier Notifier,
	metrics *observability.Metrics,
	cfg Config,
) (*Service, error) {
	if jobRepo == nil {
		return nil, errors.New("job repository is required")
	}
	if subRepo == nil {
		return nil, errors.New("subscription repository is required")
	}
	if catalog == nil {
		return nil, errors.New("pipeline catalog is required")
	}
	if launcher == nil {
		return nil, errors.New("engine launcher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger:   logger,
		jobs:     jobRepo,
		subs:     subRepo,
		catalog:  catalog,
		launcher: launcher,
		notifier: notifier,
		metrics:  metrics,
		locks:    newLockRegistry(),
		cfg:      cfg.withDefaults(),
	}, nil
}

type SubmitRequest struct {
	UserID      string
	PipelineID  string
	Params      domain.Params
	Description string
}

// Submit creates the job record and launches the run. The returned job is
// QUEUED on success or FAILED when the engine rejects the launch; launch
// failures are terminal and never retried, the caller resubmits.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (domain.Job, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return domain.Job{}, errors.New("user id is required")
	}
	pipeline, err := s.catalog.Get(req.PipelineID)
	if err != nil {
		return domain.Job{}, fmt.Errorf("resolve pipeline %q: %w", req.PipelineID, err)
	}

	now := time.Now().UTC()
	job := domain.Job{
		ID:          "job-" + uuid.NewString(),
		UserID:      strings.TrimSpace(req.UserID),
		PipelineID:  pipeline.ID,
		Status:      domain.StatusSubmitted,
		Params:      req.Params,
		Description: strings.TrimSpace(req.Description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return domain.Job{}, fmt.Errorf("create job record: %w", err)
	}
	s.metrics.JobSubmitted()
	s.logger.Info("job submitted", "job_id", job.ID, "pipeline_id", pipeline.ID, "user_id", job.UserID)

	return s.launch(ctx, job, pipeline)
}

func (s *Service) launch(ctx context.Context, job domain.Job, pipeline pipelines.Pipeline) (domain.Job, error) {
	launchCtx, cancel := context.WithTimeout(ctx, s.cfg.LaunchTimeout)
	defer cancel()

	workDir := fmt.Sprintf("s3://%s/work/%s", s.cfg.DataBucket, job.ID)
	outputDir := fmt.Sprintf("s3://%s/results/%s", s.cfg.DataBucket, job.ID)

	result, err := s.launcher.Launch(launchCtx, engine.LaunchRequest{
		JobID:     job.ID,
		Pipeline:  pipeline,
		Params:    job.Params,
		WorkDir:   workDir,
		OutputDir: outputDir,
	})
	if err != nil {
		s.metrics.LaunchFailure()
		s.logger.Error("launch failed", "job_id", job.ID, "error", err)
		failed, _, applyErr := s.Apply(ctx, job.ID, Transition{
			To:     domain.StatusFailed,
			Reason: fmt.Sprintf("launch failed: %v", err),
		})
		if applyErr != nil {
			return domain.Job{}, applyErr
		}
		return failed, nil
	}

	queued, _, err := s.Apply(ctx, job.ID, Transition{
		To:         domain.StatusQueued,
		ExternalID: result.ExternalID,
		WorkDir:    result.WorkDir,
	})
	if err != nil {
		return domain.Job{}, err
	}
	return queued, nil
}

func (s *Service) Get(ctx context.Context, jobID string) (domain.Job, error) {
	return s.jobs.Get(ctx, jobID)
}

func (s *Service) List(ctx context.Context, filter repo.JobFilter) ([]domain.Job, error) {
	return s.jobs.List(ctx, filter)
}

// RequestCancel marks the job CANCELLED and propagates the signal to the
// engine asynchronously. On a terminal job it is a no-op reporting the
// current status. The local decision is authoritative: a failed
// propagation is logged and counted but never reverts the record.
func (s *Service) RequestCancel(ctx context.Context, jobID string) (domain.Job, error) {
	release := s.locks.acquire(jobID)
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		release()
		return domain.Job{}, err
	}
	if job.Status.Terminal() {
		release()
		return job, nil
	}
	cancelled, applied, err := s.applyLocked(ctx, job, Transition{To: domain.StatusCancelled})
	release()
	if err != nil {
		return domain.Job{}, err
	}
	if !applied {
		return cancelled, nil
	}

	if cancelled.ExternalID != "" {
		go s.propagateCancel(cancelled.ID, cancelled.ExternalID)
	}
	return cancelled, nil
}

func (s *Service) propagateCancel(jobID, externalID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CancelTimeout)
	defer cancel()
	if err := s.launcher.Cancel(ctx, externalID); err != nil {
		s.metrics.CancelPropagationFailure()
		s.logger.Error("cancel propagation failed; external run may still be active",
			"job_id", jobID, "external_id", externalID, "error", err)
		return
	}
	s.logger.Info("cancel propagated", "job_id", jobID, "external_id", externalID)
}

// Transition describes one requested lifecycle edge. Fields beyond To are
// applied only where the lifecycle allows them: ExternalID is set at most
// once, OutputDir only on completion, Reason only on failure.
type Transition struct {
	To         domain.Status
	ExternalID string
	WorkDir    string
	OutputDir  string
	Reason     string
}

// Apply attempts the transition under the job's lock. It returns the
// resulting record and whether a transition was applied. Re-applying the
// current status is a silent no-op; an illegal edge is logged as a
// consistency warning and ignored, never surfaced to the caller.
func (s *Service) Apply(ctx context.Context, jobID string, tr Transition) (domain.Job, bool, error) {
	release := s.locks.acquire(jobID)
	defer release()

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return domain.Job{}, false, err
	}
	return s.applyLocked(ctx, job, tr)
}

func (s *Service) applyLocked(ctx context.Context, job domain.Job, tr Transition) (domain.Job, bool, error) {
	if job.Status == tr.To {
		return job, false, nil
	}
	if !domain.CanTransition(job.Status, tr.To) {
		s.metrics.IllegalTransition()
		s.logger.Warn("illegal transition attempt ignored",
			"job_id", job.ID, "from", string(job.Status), "to", string(tr.To))
		return job, false, nil
	}

	now := time.Now().UTC()
	job.Status = tr.To
	job.UpdatedAt = now
	if tr.To == domain.StatusRunning && job.StartedAt == nil {
		job.StartedAt = &now
	}
	if tr.To.Terminal() && job.CompletedAt == nil {
		job.CompletedAt = &now
	}
	if job.ExternalID == "" && strings.TrimSpace(tr.ExternalID) != "" {
		job.ExternalID = strings.TrimSpace(tr.ExternalID)
	}
	if job.WorkDir == "" && strings.TrimSpace(tr.WorkDir) != "" {
		job.WorkDir = strings.TrimSpace(tr.WorkDir)
	}
	if tr.To == domain.StatusCompleted {
		out := strings.TrimSpace(tr.OutputDir)
		if out == "" {
			// Engine reported success without a location; fall back to
			// the launch convention. The result resolver still validates
			// the path before handing out references.
			out = fmt.Sprintf("s3://%s/results/%s", s.cfg.DataBucket, job.ID)
		}
		job.OutputDir = out
	}
	if tr.To == domain.StatusFailed && strings.TrimSpace(tr.Reason) != "" {
		job.Error = strings.TrimSpace(tr.Reason)
	}

	if err := s.jobs.Update(ctx, job); err != nil {
		return domain.Job{}, false, fmt.Errorf("persist transition: %w", err)
	}
	s.metrics.JobTransition(string(job.Status))
	s.logger.Info("job transition", "job_id", job.ID, "status", string(job.Status))
	if s.notifier != nil {
		s.notifier.JobTransition(job)
	}
	return job, true, nil
}

// Subscribe registers a webhook endpoint for the given event names.
func (s *Service) Subscribe(ctx context.Context, url string, events []string) (domain.Subscription, error) {
	sub := domain.Subscription{
		ID:        "sub-" + uuid.NewString(),
		URL:       strings.TrimSpace(url),
		Events:    events,
		CreatedAt: time.Now().UTC(),
	}
	if err := sub.Validate(); err != nil {
		return domain.Subscription{}, err
	}
	if err := s.subs.Create(ctx, sub); err != nil {
		return domain.Subscription{}, fmt.Errorf("create subscription: %w", err)
	}
	return sub, nil
}

func (s *Service) Subscriptions(ctx context.Context) ([]domain.Subscription, error) {
	return s.subs.List(ctx)
}
