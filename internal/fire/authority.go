package fire

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fxlabs-dev/signalgate/internal/authz"
	"github.com/fxlabs-dev/signalgate/internal/mission"
	"github.com/fxlabs-dev/signalgate/internal/msg"
	"github.com/fxlabs-dev/signalgate/internal/observability"
	"github.com/fxlabs-dev/signalgate/internal/risk"
	"github.com/fxlabs-dev/signalgate/internal/wire"
)

// Disclosable rejections beyond the mission store's own. Authorization
// failures are NOT here: they all surface as authz.ErrForbidden.
var (
	ErrDuplicate = errors.New("duplicate fire request")
	ErrCooldown  = errors.New("cooldown active")
)

// Dispatcher delivers a sized order command toward the owning terminal.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd wire.OrderCommand, symbol string) error
}

// Request is one fire attempt from the UI collaborator.
type Request struct {
	MissionID      string
	UserID         string
	IdempotencyKey string
	Capability     authz.Capability
}

// Result is the successful (or duplicate-replayed) outcome.
type Result struct {
	FireID string
	Lot    float64
}

// Authority is the single path from an authorized request to a dispatched
// order. Everything that can reject does so before the mission transition;
// nothing after the transition can oversize or duplicate the order.
type Authority struct {
	signer     *authz.Signer
	store      *Store
	missions   *mission.Store
	profiles   risk.Profiles
	book       *risk.InstrumentBook
	dispatcher Dispatcher
	logger     *zap.Logger

	// Serializes cooldown check-and-touch per user.
	userMu   sync.Mutex
	userLock map[string]*sync.Mutex

	now func() time.Time
}

// NewAuthority wires the fire authority.
func NewAuthority(
	signer *authz.Signer,
	store *Store,
	missions *mission.Store,
	profiles risk.Profiles,
	book *risk.InstrumentBook,
	dispatcher Dispatcher,
	logger *zap.Logger,
) *Authority {
	return &Authority{
		signer:     signer,
		store:      store,
		missions:   missions,
		profiles:   profiles,
		book:       book,
		dispatcher: dispatcher,
		logger:     logger,
		userLock:   make(map[string]*sync.Mutex),
		now:        time.Now,
	}
}

func (a *Authority) lockFor(userID string) *sync.Mutex {
	a.userMu.Lock()
	defer a.userMu.Unlock()
	mu, ok := a.userLock[userID]
	if !ok {
		mu = &sync.Mutex{}
		a.userLock[userID] = mu
	}
	return mu
}

// Fire runs the full authorization pipeline. On ErrDuplicate the returned
// Result carries the fire_id of the original attempt.
func (a *Authority) Fire(ctx context.Context, req Request) (Result, error) {
	now := a.now()

	// 1. Capability first; nothing else leaks before this passes.
	if err := a.signer.Verify(req.Capability, now); err != nil {
		observability.FireRequests.WithLabelValues("forbidden").Inc()
		return Result{}, authz.ErrForbidden
	}
	if req.Capability.UserID != req.UserID || req.Capability.MissionID != req.MissionID {
		observability.FireRequests.WithLabelValues("forbidden").Inc()
		return Result{}, authz.ErrForbidden
	}
	if req.IdempotencyKey == "" {
		return Result{}, fmt.Errorf("missing idempotency key")
	}

	// 2. Claim the idempotency key. Losing the claim ends the request
	// with zero side effects.
	fireID := uuid.New().String()
	existing, err := a.store.Reserve(ctx, Record{
		IdempotencyKey: req.IdempotencyKey,
		FireID:         fireID,
		MissionID:      req.MissionID,
		UserID:         req.UserID,
		Status:         StatusReserved,
		CreatedAt:      now,
	})
	if err != nil {
		return Result{}, fmt.Errorf("idempotency reservation failed: %w", err)
	}
	if existing != nil {
		observability.FireRequests.WithLabelValues("duplicate").Inc()
		a.logger.Info("duplicate fire request",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.String("original_fire_id", existing.FireID),
		)
		return Result{FireID: existing.FireID}, ErrDuplicate
	}

	result, err := a.fireReserved(ctx, req, fireID, now)
	if err != nil {
		// The reservation is kept on purpose: a retried key replays
		// this outcome instead of re-entering the pipeline.
		if rejErr := a.store.Reject(ctx, req.IdempotencyKey); rejErr != nil {
			a.logger.Error("failed to mark fire record rejected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Error(rejErr),
			)
		}
		return Result{}, err
	}
	return result, nil
}

func (a *Authority) fireReserved(ctx context.Context, req Request, fireID string, now time.Time) (Result, error) {
	// 3. Mission gate.
	m, err := a.missions.Get(ctx, req.MissionID, now)
	if err != nil {
		if errors.Is(err, mission.ErrNotFound) {
			observability.FireRequests.WithLabelValues("mission_not_found").Inc()
			return Result{}, mission.ErrNotFound
		}
		return Result{}, fmt.Errorf("mission lookup failed: %w", err)
	}
	switch m.Status {
	case mission.StatusPending:
	case mission.StatusExpired:
		observability.FireRequests.WithLabelValues("mission_expired").Inc()
		return Result{}, mission.ErrExpired
	default:
		observability.FireRequests.WithLabelValues("mission_conflict").Inc()
		return Result{}, mission.ErrNotPending
	}

	inst, err := a.book.Lookup(m.Symbol)
	if err != nil {
		return Result{}, fmt.Errorf("mission %s references unknown instrument %s: %w", m.MissionID, m.Symbol, err)
	}

	// 4-6. Cooldown check-and-touch, sizing and the mission CAS run under
	// the user's lock so two of their concurrent fires cannot both pass
	// the cooldown gate.
	userMu := a.lockFor(req.UserID)
	userMu.Lock()
	result, err := a.sizeAndTransition(ctx, req, m, inst, fireID, now)
	userMu.Unlock()
	if err != nil {
		return Result{}, err
	}

	// 7. Dispatch is outside the lock and deliberately after the FIRED
	// transition: a delivery failure never reopens the mission, because a
	// retry could double-execute.
	cmd := wire.OrderCommand{
		Type:        wire.CommandOpen,
		FireID:      fireID,
		Symbol:      m.Symbol,
		Side:        m.Direction,
		Entry:       m.Entry,
		StopLoss:    m.Stop,
		TakeProfit:  m.Target,
		Lot:         result.Lot,
		TimeInForce: "GTC",
	}
	if err := a.dispatcher.Dispatch(ctx, cmd, m.Symbol); err != nil {
		observability.DispatchFailures.Inc()
		a.logger.Warn("order dispatch failed, fire stays recorded",
			zap.String("fire_id", fireID),
			zap.String("mission_id", m.MissionID),
			zap.Error(err),
		)
	}

	// 8. Audit record + outbox event.
	event := msg.FireEventMsg{
		EventID:        uuid.New().String(),
		FireID:         fireID,
		MissionID:      m.MissionID,
		UserID:         req.UserID,
		IdempotencyKey: req.IdempotencyKey,
		Symbol:         m.Symbol,
		Side:           m.Direction,
		Lot:            result.Lot,
		Status:         StatusFired,
		TsUnixMillis:   now.UnixMilli(),
	}
	if err := a.store.FinalizeFired(ctx, req.IdempotencyKey, event); err != nil {
		// The order is out; the record must say so even if the outbox
		// insert failed.
		a.logger.Error("failed to finalize fire record",
			zap.String("fire_id", fireID),
			zap.Error(err),
		)
	}

	observability.FireRequests.WithLabelValues("fired").Inc()
	a.logger.Info("mission fired",
		zap.String("fire_id", fireID),
		zap.String("mission_id", m.MissionID),
		zap.String("user_id", req.UserID),
		zap.String("symbol", m.Symbol),
		zap.String("side", m.Direction),
		zap.Float64("lot", result.Lot),
	)

	return result, nil
}

// sizeAndTransition holds the user lock: cooldown gate, position sizing,
// mission CAS, last-fire touch.
func (a *Authority) sizeAndTransition(ctx context.Context, req Request, m mission.Mission, inst risk.Instrument, fireID string, now time.Time) (Result, error) {
	profile, err := a.profiles.Get(ctx, req.UserID)
	if err != nil {
		return Result{}, fmt.Errorf("risk profile lookup failed: %w", err)
	}

	if profile.Cooldown > 0 && !profile.LastFireAt.IsZero() && now.Sub(profile.LastFireAt) < profile.Cooldown {
		observability.FireRequests.WithLabelValues("cooldown").Inc()
		return Result{}, ErrCooldown
	}

	lot, err := risk.ComputeLot(profile.Balance, profile.RiskPct, m.Entry, m.Stop, inst)
	if err != nil {
		if errors.Is(err, risk.ErrStopDistance) {
			observability.FireRequests.WithLabelValues("invalid_sl_distance").Inc()
			return Result{}, err
		}
		return Result{}, fmt.Errorf("position sizing failed: %w", err)
	}

	// The mission CAS decides the race between users on one mission.
	if err := a.missions.MarkFired(ctx, m.MissionID, now); err != nil {
		switch {
		case errors.Is(err, mission.ErrExpired):
			observability.FireRequests.WithLabelValues("mission_expired").Inc()
		case errors.Is(err, mission.ErrNotPending):
			observability.FireRequests.WithLabelValues("mission_conflict").Inc()
		}
		return Result{}, err
	}

	if err := a.profiles.TouchLastFire(ctx, req.UserID, now); err != nil {
		a.logger.Error("failed to record last fire time",
			zap.String("user_id", req.UserID),
			zap.Error(err),
		)
	}

	return Result{FireID: fireID, Lot: lot}, nil
}
