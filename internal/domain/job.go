package domain

import (
	"errors"
	"strings"
	"time"
)

// Status is the locally recorded lifecycle state of a job.
type Status string

const (
	StatusSubmitted Status = "SUBMITTED"
	StatusQueued    Status = "QUEUED"
	StatusPreparing Status = "PREPARING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusSubmitted, StatusQueued, StatusPreparing, StatusRunning,
		StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// transitions is the legal edge set. A missing entry means the source
// state accepts nothing further.
var transitions = map[Status][]Status{
	StatusSubmitted: {StatusQueued, StatusFailed},
	StatusQueued:    {StatusPreparing, StatusRunning, StatusCancelled, StatusFailed},
	StatusPreparing: {StatusRunning, StatusCancelled, StatusFailed},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Params is the opaque parameter mapping supplied at submission.
// Immutable after the job record is created.
type Params map[string]any

// Job is one execution instance of a pipeline with specific parameters.
type Job struct {
	ID          string
	UserID      string
	PipelineID  string
	Status      Status
	Params      Params
	Description string

	// ExternalID is assigned by the execution engine once the run is
	// launched. Set at most once, never cleared.
	ExternalID string
	WorkDir    string
	OutputDir  string

	// Error holds the failure reason for FAILED jobs.
	Error string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

func (j Job) Validate() error {
	if strings.TrimSpace(j.ID) == "" {
		return errors.New("job id is required")
	}
	if strings.TrimSpace(j.UserID) == "" {
		return errors.New("user id is required")
	}
	if strings.TrimSpace(j.PipelineID) == "" {
		return errors.New("pipeline id is required")
	}
	if !j.Status.Valid() {
		return errors.New("status is invalid")
	}
	return j.CheckInvariants()
}

// CheckInvariants verifies the record-level consistency rules:
// completed_at set iff terminal, output_dir set iff COMPLETED, and a
// started job carries an external id.
func (j Job) CheckInvariants() error {
	if j.Status.Terminal() && j.CompletedAt == nil {
		return errors.New("terminal job missing completed_at")
	}
	if !j.Status.Terminal() && j.CompletedAt != nil {
		return errors.New("non-terminal job has completed_at")
	}
	if j.Status == StatusCompleted && strings.TrimSpace(j.OutputDir) == "" {
		return errors.New("completed job missing output_dir")
	}
	if j.Status != StatusCompleted && strings.TrimSpace(j.OutputDir) != "" {
		return errors.New("non-completed job has output_dir")
	}
	return nil
}
