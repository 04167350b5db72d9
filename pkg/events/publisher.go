// Package events publishes delivery outcomes for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/smith3v/wa-word-reminder/pkg/logger"
)

const (
	DeliverySent     = "outbox.sent"
	DeliveryFailed   = "outbox.failed"
	DeliveryExpired  = "outbox.expired"
	DeliveryRetrying = "outbox.retrying"
)

// Publisher sends a payload to the event bus under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
	Close() error
}

// Delivery describes what happened to one outbox row.
type Delivery struct {
	OutboxID          uint       `json:"outbox_id"`
	Phone             string     `json:"phone"`
	UserID            string     `json:"user_id"`
	Word              string     `json:"word"`
	Status            string     `json:"status"`
	RetryCount        int        `json:"retry_count"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	Error             string     `json:"error,omitempty"`
	NextAttemptAt     *time.Time `json:"next_attempt_at,omitempty"`
	OccurredAt        time.Time  `json:"occurred_at"`
}

// PublishDelivery encodes evt and publishes it under routingKey.
func PublishDelivery(ctx context.Context, p Publisher, routingKey string, evt Delivery) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal delivery event: %w", err)
	}
	return p.Publish(ctx, routingKey, payload)
}

// NoopPublisher drops events.
type NoopPublisher struct{}

func (NoopPublisher) Publish(_ context.Context, routingKey string, payload []byte) error {
	logger.Debug("noop publish", "routing_key", routingKey, "size", len(payload))
	return nil
}

func (NoopPublisher) Close() error {
	return nil
}
