package mission

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fxlabs-dev/signalgate/internal/msg"
)

// Intake turns missions.proposed records from the external signal engine
// into store entries. The engine owns proposal content; the gateway never
// edits a mission, it only stores and transitions it.
type Intake struct {
	store  *Store
	logger *zap.Logger
}

// NewIntake creates a mission intake over the store.
func NewIntake(store *Store, logger *zap.Logger) *Intake {
	return &Intake{store: store, logger: logger}
}

// Handle processes one consumed record; wired into msg.Consumer.Run.
func (in *Intake) Handle(ctx context.Context, rec msg.Record) error {
	var proposal msg.MissionMsg
	if err := json.Unmarshal(rec.Value, &proposal); err != nil {
		// Malformed proposals are logged and skipped; retrying cannot
		// fix them.
		in.logger.Warn("malformed mission proposal",
			zap.String("key", rec.Key),
			zap.Error(err),
		)
		return nil
	}

	if proposal.MissionID == "" || proposal.Symbol == "" {
		in.logger.Warn("mission proposal missing required fields",
			zap.String("key", rec.Key),
		)
		return nil
	}

	if Status(proposal.Status) == StatusCancelled {
		if err := in.store.Cancel(ctx, proposal.MissionID); err != nil {
			return fmt.Errorf("failed to cancel mission %s: %w", proposal.MissionID, err)
		}
		in.logger.Info("mission cancelled by signal engine",
			zap.String("mission_id", proposal.MissionID),
		)
		return nil
	}

	m := Mission{
		MissionID: proposal.MissionID,
		Symbol:    proposal.Symbol,
		Direction: proposal.Direction,
		Entry:     proposal.Entry,
		Stop:      proposal.Stop,
		Target:    proposal.Target,
		Pattern:   proposal.Pattern,
		Status:    StatusPending,
		CreatedAt: time.UnixMilli(proposal.CreatedUnixMillis),
		ExpiresAt: time.UnixMilli(proposal.ExpiresUnixMillis),
	}

	if err := in.store.Put(ctx, m); err != nil {
		return fmt.Errorf("failed to store mission %s: %w", m.MissionID, err)
	}

	in.logger.Info("mission stored",
		zap.String("mission_id", m.MissionID),
		zap.String("symbol", m.Symbol),
		zap.String("direction", m.Direction),
		zap.Time("expires_at", m.ExpiresAt),
	)
	return nil
}

// RunExpirySweep periodically flips stale PENDING missions to EXPIRED.
func RunExpirySweep(ctx context.Context, store *Store, interval time.Duration, logger *zap.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			expired, err := store.ExpireSweep(ctx, time.Now())
			if err != nil {
				logger.Error("mission expiry sweep failed", zap.Error(err))
				continue
			}
			if expired > 0 {
				logger.Info("expired stale missions", zap.Int64("expired", expired))
			}
		}
	}
}
