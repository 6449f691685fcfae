package pubsub

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fxlabs-dev/signalgate/internal/observability"
	"github.com/fxlabs-dev/signalgate/internal/wire"
)

// AllSymbols subscribes to every instrument the router accepts.
const AllSymbols = "*"

// TickUpdate is what subscribers receive: the validated tick plus the
// router's receipt time.
type TickUpdate struct {
	Tick       wire.Tick
	TerminalID string
	ReceivedAt time.Time
}

// Subscription is one subscriber's handle. Updates arrives on C; Cancel
// detaches and closes C.
type Subscription struct {
	C      <-chan TickUpdate
	ch     chan TickUpdate
	symbol string
	broker *Broker
	once   sync.Once
}

// Cancel detaches the subscription from the broker and closes C.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.broker.remove(s)
	})
}

// Broker fans validated ticks out to subscribers keyed by symbol.
// Publication is at-most-once and never blocks: a subscriber whose buffer is
// full simply misses the update.
type Broker struct {
	mu      sync.RWMutex
	subs    map[string][]*Subscription
	logger  *zap.Logger
	dropped int64
}

// NewBroker creates an empty broker.
func NewBroker(logger *zap.Logger) *Broker {
	return &Broker{
		subs:   make(map[string][]*Subscription),
		logger: logger,
	}
}

// Subscribe registers interest in one symbol (or AllSymbols) with the given
// channel buffer. buffer <= 0 selects a small default.
func (b *Broker) Subscribe(symbol string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan TickUpdate, buffer)
	sub := &Subscription{C: ch, ch: ch, symbol: symbol, broker: b}

	b.mu.Lock()
	b.subs[symbol] = append(b.subs[symbol], sub)
	b.mu.Unlock()

	return sub
}

// Publish delivers an update to every matching subscriber without blocking.
// The read lock is held across delivery: channels are only closed under the
// write lock, so a concurrent Cancel can never close one mid-send.
func (b *Broker) Publish(update TickUpdate) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.deliver(b.subs[update.Tick.Symbol], update)
	b.deliver(b.subs[AllSymbols], update)
}

func (b *Broker) deliver(subs []*Subscription, update TickUpdate) {
	for _, sub := range subs {
		select {
		case sub.ch <- update:
		default:
			n := atomic.AddInt64(&b.dropped, 1)
			observability.FanoutDropped.WithLabelValues(update.Tick.Symbol).Inc()
			if n == 1 || n%1000 == 0 {
				b.logger.Warn("fan-out drop on slow subscriber",
					zap.String("symbol", update.Tick.Symbol),
					zap.Int64("dropped_total", n),
				)
			}
		}
	}
}

// Dropped returns how many updates were lost to subscriber backpressure.
func (b *Broker) Dropped() int64 {
	return atomic.LoadInt64(&b.dropped)
}

func (b *Broker) remove(target *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[target.symbol]
	for i, sub := range subs {
		if sub == target {
			b.subs[target.symbol] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[target.symbol]) == 0 {
		delete(b.subs, target.symbol)
	}

	// Close under the write lock: once we hold it, no Publish is in
	// flight and none that follows can still see this subscription.
	close(target.ch)
}
