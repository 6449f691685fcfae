package pubsub

import (
	"context"

	"go.uber.org/zap"

	"github.com/fxlabs-dev/signalgate/internal/msg"
)

// KafkaBridge republishes every accepted tick to the ticks.live topic so
// out-of-process consumers (scoring engines, recorders) see the same stream
// as in-process subscribers. It rides a normal broker subscription, so a
// slow broker costs dropped updates, never ingestion stall.
type KafkaBridge struct {
	sub      *Subscription
	producer *msg.Producer
	logger   *zap.Logger
}

// NewKafkaBridge subscribes to all symbols with a deep buffer.
func NewKafkaBridge(broker *Broker, producer *msg.Producer, logger *zap.Logger) *KafkaBridge {
	return &KafkaBridge{
		sub:      broker.Subscribe(AllSymbols, 1024),
		producer: producer,
		logger:   logger,
	}
}

// Run forwards updates until the context ends.
func (kb *KafkaBridge) Run(ctx context.Context) error {
	defer kb.sub.Cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-kb.sub.C:
			if !ok {
				return nil
			}
			event := msg.TickEventMsg{
				Symbol:           update.Tick.Symbol,
				Bid:              update.Tick.Bid,
				Ask:              update.Tick.Ask,
				Spread:           update.Tick.Spread,
				Volume:           update.Tick.Volume,
				TsUnixMillis:     update.Tick.TsUnixMillis,
				TerminalID:       update.TerminalID,
				ReceivedAtMillis: update.ReceivedAt.UnixMilli(),
			}
			// Async produce keeps the bridge draining even when the
			// broker is slow to acknowledge.
			kb.producer.TryProduceJSON(ctx, msg.TopicTicksLive, event.Symbol, event)
		}
	}
}
