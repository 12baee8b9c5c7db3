// Package engine is the execution adapter boundary: it launches workflow
// runs against an external engine, reports their authoritative status, and
// forwards cancellation signals. The orchestration core never shells out or
// talks to a scheduler API directly.
package engine

import (
	"context"
	"errors"

	"github.com/seqflow-labs/seqflow-go/internal/pipelines"
)

var (
	ErrRunNotFound    = errors.New("engine run not found")
	ErrLaunchRejected = errors.New("engine rejected launch")
)

// Launcher drives one execution backend. Launch is invoked exactly once
// per job and is not retried; Poll is idempotent and side-effect-free;
// Cancel returns once the signal is accepted, not once the run stopped.
type Launcher interface {
	Kind() string
	Launch(ctx context.Context, req LaunchRequest) (LaunchResult, error)
	Poll(ctx context.Context, externalID string) (Observation, error)
	Cancel(ctx context.Context, externalID string) error
}

type LaunchRequest struct {
	JobID     string
	Pipeline  pipelines.Pipeline
	Params    map[string]any
	WorkDir   string
	OutputDir string
}

type LaunchResult struct {
	ExternalID string
	WorkDir    string
}

// Observation is the adapter's view of a run: the backend-specific status
// plus the output location once the backend reports one.
type Observation struct {
	Status    string
	OutputDir string
	Message   string
}
