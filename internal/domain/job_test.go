package domain

import (
	"testing"
	"time"
)

func allStatuses() []Status {
	return []Status{
		StatusSubmitted, StatusQueued, StatusPreparing, StatusRunning,
		StatusCompleted, StatusFailed, StatusCancelled,
	}
}

func TestTerminalStatesAcceptNothing(t *testing.T) {
	for _, from := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		for _, to := range allStatuses() {
			if CanTransition(from, to) {
				t.Errorf("terminal %s must not transition to %s", from, to)
			}
		}
	}
}

func TestTransitionEdges(t *testing.T) {
	legal := map[[2]Status]bool{
		{StatusSubmitted, StatusQueued}:    true,
		{StatusSubmitted, StatusFailed}:    true,
		{StatusQueued, StatusPreparing}:    true,
		{StatusQueued, StatusRunning}:      true,
		{StatusQueued, StatusCancelled}:    true,
		{StatusQueued, StatusFailed}:       true,
		{StatusPreparing, StatusRunning}:   true,
		{StatusPreparing, StatusCancelled}: true,
		{StatusPreparing, StatusFailed}:    true,
		{StatusRunning, StatusCompleted}:   true,
		{StatusRunning, StatusFailed}:      true,
		{StatusRunning, StatusCancelled}:   true,
	}
	for _, from := range allStatuses() {
		for _, to := range allStatuses() {
			want := legal[[2]Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestSubmittedCannotBeCancelledDirectly(t *testing.T) {
	if CanTransition(StatusSubmitted, StatusCancelled) {
		t.Fatal("SUBMITTED must not transition directly to CANCELLED")
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range allStatuses() {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if Status("queued").Valid() {
		t.Error("lowercase status must not be valid")
	}
	if Status("").Valid() {
		t.Error("empty status must not be valid")
	}
}

func TestCheckInvariants(t *testing.T) {
	now := time.Now().UTC()
	base := Job{
		ID:         "job-1",
		UserID:     "user-1",
		PipelineID: "rnaseq",
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	cases := []struct {
		name    string
		mutate  func(*Job)
		wantErr bool
	}{
		{
			name:   "running with started_at",
			mutate: func(j *Job) { j.Status = StatusRunning; j.StartedAt = &now },
		},
		{
			name:    "terminal without completed_at",
			mutate:  func(j *Job) { j.Status = StatusFailed },
			wantErr: true,
		},
		{
			name:    "active with completed_at",
			mutate:  func(j *Job) { j.Status = StatusRunning; j.CompletedAt = &now },
			wantErr: true,
		},
		{
			name:    "completed without output_dir",
			mutate:  func(j *Job) { j.Status = StatusCompleted; j.CompletedAt = &now },
			wantErr: true,
		},
		{
			name: "completed with output_dir",
			mutate: func(j *Job) {
				j.Status = StatusCompleted
				j.CompletedAt = &now
				j.OutputDir = "s3://pipeline-data/results/job-1"
			},
		},
		{
			name: "failed with output_dir",
			mutate: func(j *Job) {
				j.Status = StatusFailed
				j.CompletedAt = &now
				j.OutputDir = "s3://pipeline-data/results/job-1"
			},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			job := base
			tc.mutate(&job)
			err := job.CheckInvariants()
			if tc.wantErr && err == nil {
				t.Fatal("expected invariant violation")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected violation: %v", err)
			}
		})
	}
}

func TestValidateRequiredFields(t *testing.T) {
	job := Job{Status: StatusSubmitted}
	if err := job.Validate(); err == nil {
		t.Fatal("expected validation error for empty identifiers")
	}
}
