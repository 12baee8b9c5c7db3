package domain

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// Event names delivered to webhook subscribers, one per lifecycle status.
const (
	EventJobQueued    = "job.queued"
	EventJobPreparing = "job.preparing"
	EventJobRunning   = "job.running"
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
	EventJobCancelled = "job.cancelled"

	// EventAll subscribes to every lifecycle event.
	EventAll = "*"
)

// EventForStatus maps a job status to its lifecycle event name.
// SUBMITTED is the initial state, not a transition, so it has no event.
func EventForStatus(s Status) (string, bool) {
	switch s {
	case StatusQueued:
		return EventJobQueued, true
	case StatusPreparing:
		return EventJobPreparing, true
	case StatusRunning:
		return EventJobRunning, true
	case StatusCompleted:
		return EventJobCompleted, true
	case StatusFailed:
		return EventJobFailed, true
	case StatusCancelled:
		return EventJobCancelled, true
	}
	return "", false
}

// Subscription is a registered webhook endpoint with the event names it
// wants. Consumed only by the notifier; subscriptions never mutate jobs.
type Subscription struct {
	ID        string
	URL       string
	Events    []string
	CreatedAt time.Time
}

func (s Subscription) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("subscription id is required")
	}
	u, err := url.Parse(strings.TrimSpace(s.URL))
	if err != nil {
		return errors.New("subscription url is invalid")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("subscription url scheme must be http or https")
	}
	if u.Host == "" {
		return errors.New("subscription url host is required")
	}
	if len(s.Events) == 0 {
		return errors.New("at least one event name is required")
	}
	for _, ev := range s.Events {
		if strings.TrimSpace(ev) == "" {
			return errors.New("event name must not be empty")
		}
	}
	return nil
}

// Matches reports whether the subscription wants the given event.
func (s Subscription) Matches(event string) bool {
	for _, ev := range s.Events {
		if ev == EventAll || ev == event {
			return true
		}
	}
	return false
}

// JobEvent is the payload delivered to subscribers. Consumers de-duplicate
// on (job id, status, timestamp); delivery is at-least-once.
type JobEvent struct {
	JobID     string    `json:"job_id"`
	Event     string    `json:"event"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	OutputDir string    `json:"output_dir,omitempty"`
}

// NewJobEvent builds the event for a job that just entered its current
// status. OutputDir rides along only on completion.
func NewJobEvent(job Job) (JobEvent, bool) {
	name, ok := EventForStatus(job.Status)
	if !ok {
		return JobEvent{}, false
	}
	ev := JobEvent{
		JobID:     job.ID,
		Event:     name,
		Status:    job.Status,
		Timestamp: job.UpdatedAt,
	}
	if job.Status == StatusCompleted {
		ev.OutputDir = job.OutputDir
	}
	return ev, true
}
