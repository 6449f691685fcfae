package fire

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fxlabs-dev/signalgate/internal/msg"
)

// Publisher drains the fire-event outbox to Kafka. Publishing retries are
// harmless (events are keyed and idempotent on event_id); order dispatch is
// a different story and is never retried anywhere.
type Publisher struct {
	store     *Store
	producer  *msg.Producer
	logger    *zap.Logger
	interval  time.Duration
	batchSize int
}

// NewPublisher creates a new outbox publisher
func NewPublisher(store *Store, producer *msg.Producer, logger *zap.Logger) *Publisher {
	return &Publisher{
		store:     store,
		producer:  producer,
		logger:    logger,
		interval:  250 * time.Millisecond,
		batchSize: 100,
	}
}

// Run starts the publisher loop
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.publishBatch(ctx); err != nil {
				p.logger.Error("failed to publish outbox batch", zap.Error(err))
			}
		}
	}
}

func (p *Publisher) publishBatch(ctx context.Context) error {
	events, err := p.store.ListUnpublished(ctx, p.batchSize)
	if err != nil {
		return fmt.Errorf("failed to list unpublished events: %w", err)
	}

	if len(events) == 0 {
		return nil
	}

	now := time.Now().UnixMilli()
	published := 0

	for _, event := range events {
		var fireEvent msg.FireEventMsg
		if err := json.Unmarshal([]byte(event.PayloadJSON), &fireEvent); err != nil {
			p.logger.Error("failed to unmarshal fire event payload",
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
			continue
		}

		if err := p.producer.ProduceJSON(ctx, event.Topic, event.Key, fireEvent); err != nil {
			p.logger.Error("failed to produce fire event",
				zap.String("event_id", event.EventID),
				zap.String("fire_id", event.FireID),
				zap.Error(err),
			)
			// Retried on the next tick.
			continue
		}

		if err := p.store.MarkPublished(ctx, event.EventID, now); err != nil {
			p.logger.Error("failed to mark fire event published",
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
			continue
		}

		published++
	}

	if published > 0 {
		p.logger.Info("published fire events",
			zap.Int("published", published),
			zap.Int("batch", len(events)),
		)
	}

	return nil
}
