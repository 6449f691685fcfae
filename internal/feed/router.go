package feed

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fxlabs-dev/signalgate/internal/observability"
	"github.com/fxlabs-dev/signalgate/internal/pubsub"
	"github.com/fxlabs-dev/signalgate/internal/wire"
)

// TradeResultSink receives execution confirmations arriving from terminals.
// The gateway only forwards them; tracking is an external collaborator.
type TradeResultSink interface {
	HandleTradeResult(ctx context.Context, terminalID string, result wire.TradeResult)
}

// TradeResultFunc adapts a function to the TradeResultSink interface.
type TradeResultFunc func(ctx context.Context, terminalID string, result wire.TradeResult)

// HandleTradeResult implements TradeResultSink.
func (f TradeResultFunc) HandleTradeResult(ctx context.Context, terminalID string, result wire.TradeResult) {
	f(ctx, terminalID, result)
}

// SnapshotEntry is the latest accepted tick for one symbol plus receipt
// metadata. Entries are superseded whole, never merged.
type SnapshotEntry struct {
	Tick       wire.Tick
	TerminalID string
	ReceivedAt time.Time
}

// Stats is a point-in-time copy of the router counters.
type Stats struct {
	Accepted      int64
	UnknownSymbol int64
	NonLiveSource int64
	InboxDropped  int64
}

// Router is the ingress hot path. Connections enqueue decoded messages into
// a bounded inbox; one goroutine drains it and performs every snapshot and
// counter mutation, so the tick path itself needs no locks. The snapshot map
// is guarded only because other components read it.
type Router struct {
	inbox     chan wire.Message
	whitelist map[string]struct{}

	snapMu   sync.RWMutex
	snapshot map[string]SnapshotEntry

	sessions   *SessionTable
	broker     *pubsub.Broker
	resultSink TradeResultSink
	logger     *zap.Logger

	accepted      int64
	unknownSymbol int64
	nonLiveSource int64
	inboxDropped  int64
}

// NewRouter creates a router for the given instrument whitelist.
func NewRouter(symbols []string, sessions *SessionTable, broker *pubsub.Broker, sink TradeResultSink, logger *zap.Logger) *Router {
	whitelist := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		whitelist[s] = struct{}{}
	}
	return &Router{
		inbox:      make(chan wire.Message, 4096),
		whitelist:  whitelist,
		snapshot:   make(map[string]SnapshotEntry),
		sessions:   sessions,
		broker:     broker,
		resultSink: sink,
		logger:     logger,
	}
}

// Enqueue hands a decoded message to the router loop without blocking.
// Returns false when the inbox is full and the message was dropped.
func (r *Router) Enqueue(msg wire.Message) bool {
	select {
	case r.inbox <- msg:
		return true
	default:
		atomic.AddInt64(&r.inboxDropped, 1)
		return false
	}
}

// Run drains the inbox until the context ends.
func (r *Router) Run(ctx context.Context) error {
	r.logger.Info("ingress router started", zap.Int("whitelist", len(r.whitelist)))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("ingress router stopping")
			return ctx.Err()
		case msg := <-r.inbox:
			r.process(ctx, msg)
		}
	}
}

func (r *Router) process(ctx context.Context, msg wire.Message) {
	now := time.Now()

	// Any message kind counts as liveness.
	r.sessions.Refresh(msg.TerminalID, now)

	switch msg.Kind {
	case wire.KindMarketData:
		r.processTick(msg, now)

	case wire.KindHeartbeat:
		// Session refresh is the whole effect.

	case wire.KindStartup:
		r.logger.Info("terminal startup",
			zap.String("terminal_id", msg.TerminalID),
			zap.String("account", msg.Startup.Account),
			zap.String("broker", msg.Startup.Broker),
		)

	case wire.KindTradeResult:
		if r.resultSink != nil {
			r.resultSink.HandleTradeResult(ctx, msg.TerminalID, *msg.TradeResult)
		}
	}
}

func (r *Router) processTick(msg wire.Message, now time.Time) {
	tick := *msg.Tick

	if _, ok := r.whitelist[tick.Symbol]; !ok {
		atomic.AddInt64(&r.unknownSymbol, 1)
		observability.TicksRejected.WithLabelValues("unknown_symbol").Inc()
		return
	}

	if tick.Source != wire.LiveSource {
		n := atomic.AddInt64(&r.nonLiveSource, 1)
		observability.TicksRejected.WithLabelValues("non_live_source").Inc()
		if n == 1 || n%500 == 0 {
			r.logger.Warn("dropping non-live tick",
				zap.String("terminal_id", msg.TerminalID),
				zap.String("symbol", tick.Symbol),
				zap.String("source", tick.Source),
				zap.Int64("dropped_total", n),
			)
		}
		return
	}

	entry := SnapshotEntry{Tick: tick, TerminalID: msg.TerminalID, ReceivedAt: now}

	// Last write wins, arrival order only.
	r.snapMu.Lock()
	r.snapshot[tick.Symbol] = entry
	r.snapMu.Unlock()

	atomic.AddInt64(&r.accepted, 1)
	observability.TicksAccepted.WithLabelValues(tick.Symbol).Inc()

	r.broker.Publish(pubsub.TickUpdate{
		Tick:       tick,
		TerminalID: msg.TerminalID,
		ReceivedAt: now,
	})
}

// Latest returns a copy of the latest accepted tick for a symbol.
func (r *Router) Latest(symbol string) (SnapshotEntry, bool) {
	r.snapMu.RLock()
	defer r.snapMu.RUnlock()
	entry, ok := r.snapshot[symbol]
	return entry, ok
}

// OwnerTerminal reports which terminal supplied the latest live tick for a
// symbol; dispatch targets that terminal.
func (r *Router) OwnerTerminal(symbol string) (string, bool) {
	entry, ok := r.Latest(symbol)
	if !ok {
		return "", false
	}
	return entry.TerminalID, true
}

// SnapshotAll returns a copy of the whole latest-tick snapshot.
func (r *Router) SnapshotAll() map[string]SnapshotEntry {
	r.snapMu.RLock()
	defer r.snapMu.RUnlock()

	out := make(map[string]SnapshotEntry, len(r.snapshot))
	for k, v := range r.snapshot {
		out[k] = v
	}
	return out
}

// Stats returns a copy of the router counters.
func (r *Router) Stats() Stats {
	return Stats{
		Accepted:      atomic.LoadInt64(&r.accepted),
		UnknownSymbol: atomic.LoadInt64(&r.unknownSymbol),
		NonLiveSource: atomic.LoadInt64(&r.nonLiveSource),
		InboxDropped:  atomic.LoadInt64(&r.inboxDropped),
	}
}
