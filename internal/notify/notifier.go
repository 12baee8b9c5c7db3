// Package notify delivers job lifecycle events to registered webhook
// endpoints. Delivery is strictly observational and at-least-once: a
// transition is never blocked, reverted, or retried because an endpoint
// is down.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/seqflow-labs/seqflow-go/internal/domain"
	"github.com/seqflow-labs/seqflow-go/internal/observability"
	"github.com/seqflow-labs/seqflow-go/internal/platform/backoff"
	"github.com/seqflow-labs/seqflow-go/internal/repo"
)

type Config struct {
	// QueueSize bounds the in-flight event buffer. Events beyond it are
	// dropped with a metric rather than blocking the transition path.
	QueueSize int
	// Workers is the delivery worker count.
	Workers int
	// Timeout bounds a single HTTP delivery attempt.
	Timeout time.Duration
	// Retry is the per-endpoint redelivery budget.
	Retry backoff.Policy
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	c.Retry = c.Retry.WithDefaults()
	return c
}

type Notifier struct {
	logger  *slog.Logger
	subs    repo.SubscriptionRepository
	client  *http.Client
	metrics *observability.Metrics
	cfg     Config

	queue chan domain.JobEvent
	wg    sync.WaitGroup
	once  sync.Once
}

func New(logger *slog.Logger, subs repo.SubscriptionRepository, metrics *observability.Metrics, cfg Config) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	n := &Notifier{
		logger:  logger.With("component", "notifier"),
		subs:    subs,
		client:  &http.Client{Timeout: cfg.Timeout},
		metrics: metrics,
		cfg:     cfg,
		queue:   make(chan domain.JobEvent, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		n.wg.Add(1)
		go n.worker()
	}
	return n
}

// JobTransition enqueues the lifecycle event for delivery. It never
// blocks; when the buffer is full the event is dropped and counted.
func (n *Notifier) JobTransition(job domain.Job) {
	event, ok := domain.NewJobEvent(job)
	if !ok {
		return
	}
	select {
	case n.queue <- event:
	default:
		n.metrics.WebhookDropped()
		n.logger.Warn("event queue full, dropping notification",
			"job_id", event.JobID, "event", event.Event)
	}
}

// Close stops accepting events and waits for in-flight deliveries.
func (n *Notifier) Close() {
	n.once.Do(func() {
		close(n.queue)
	})
	n.wg.Wait()
}

func (n *Notifier) worker() {
	defer n.wg.Done()
	for event := range n.queue {
		n.dispatch(event)
	}
}

func (n *Notifier) dispatch(event domain.JobEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.Timeout)
	subs, err := n.subs.List(ctx)
	cancel()
	if err != nil {
		n.metrics.WebhookDropped()
		n.logger.Error("subscription lookup failed, dropping notification",
			"job_id", event.JobID, "event", event.Event, "error", err)
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("event marshal failed", "job_id", event.JobID, "error", err)
		return
	}

	for _, sub := range subs {
		if !sub.Matches(event.Event) {
			continue
		}
		n.deliver(sub, event, body)
	}
}

// deliver posts the event to one endpoint, retrying with backoff until
// the budget is spent. Exhaustion drops the event for this endpoint only.
func (n *Notifier) deliver(sub domain.Subscription, event domain.JobEvent, body []byte) {
	start := time.Now()
	attempt := 0
	for {
		attempt++
		err := n.post(sub.URL, body)
		if err == nil {
			n.metrics.WebhookDelivered()
			n.logger.Info("notification delivered",
				"subscription_id", sub.ID, "job_id", event.JobID, "event", event.Event, "attempts", attempt)
			return
		}
		if n.cfg.Retry.Exhausted(attempt, time.Since(start)) {
			n.metrics.WebhookDropped()
			n.logger.Warn("notification dropped after retry budget",
				"subscription_id", sub.ID, "job_id", event.JobID, "event", event.Event,
				"attempts", attempt, "error", err)
			return
		}
		n.metrics.WebhookRetry()
		n.logger.Warn("notification attempt failed, will retry",
			"subscription_id", sub.ID, "job_id", event.JobID, "attempt", attempt, "error", err)
		time.Sleep(n.cfg.Retry.Delay(attempt))
	}
}

func (n *Notifier) post(url string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}
