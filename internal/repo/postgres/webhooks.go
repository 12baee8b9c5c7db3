package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/seqflow-labs/seqflow-go/internal/domain"
)

type SubscriptionStore struct {
	db DB
}

func NewSubscriptionStore(db DB) *SubscriptionStore {
	if db == nil {
		return nil
	}
	return &SubscriptionStore{db: db}
}

func (s *SubscriptionStore) Create(ctx context.Context, sub domain.Subscription) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("subscription store not initialized")
	}
	if err := sub.Validate(); err != nil {
		return err
	}
	eventsJSON, err := json.Marshal(sub.Events)
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO webhook_subscriptions (subscription_id, url, events, created_at)
		 VALUES ($1,$2,$3,$4)`,
		strings.TrimSpace(sub.ID),
		strings.TrimSpace(sub.URL),
		eventsJSON,
		normalizeTime(sub.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", handleConflict(err))
	}
	return nil
}

func (s *SubscriptionStore) List(ctx context.Context) ([]domain.Subscription, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("subscription store not initialized")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT subscription_id, url, events, created_at
		 FROM webhook_subscriptions
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	subs := make([]domain.Subscription, 0)
	for rows.Next() {
		var sub domain.Subscription
		var eventsJSON []byte
		if err := rows.Scan(&sub.ID, &sub.URL, &eventsJSON, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		if err := json.Unmarshal(eventsJSON, &sub.Events); err != nil {
			return nil, fmt.Errorf("decode events: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}
