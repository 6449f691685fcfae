package chaos

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Injector perturbs a simulated terminal's outbound byte stream: random
// delays, dropped lines, and fragmentation of lines into sub-chunks. The rng
// is seeded so a run is reproducible.
type Injector struct {
	cfg    *Config
	logger *zap.Logger
	rng    *rand.Rand
	mu     sync.Mutex
	start  time.Time
}

// New creates an injector from cfg.
func New(cfg *Config, logger *zap.Logger) *Injector {
	inj := &Injector{
		cfg:    cfg,
		logger: logger,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		start:  time.Now(),
	}

	if cfg.Profile != "" {
		parsed, err := ParseProfile(cfg.Profile)
		if err != nil {
			logger.Warn("failed to parse chaos profile", zap.Error(err))
		} else {
			if parsed.DropPct > 0 {
				cfg.DropPct = parsed.DropPct
			}
			if parsed.FragPct > 0 {
				cfg.FragPct = parsed.FragPct
			}
			if parsed.DelayMsMin > 0 || parsed.DelayMsMax > 0 {
				cfg.DelayMsMin = parsed.DelayMsMin
				cfg.DelayMsMax = parsed.DelayMsMax
			}
		}
	}

	return inj
}

func (c *Injector) enabled() bool {
	if !c.cfg.Enabled {
		return false
	}
	if c.cfg.WindowMs > 0 {
		elapsed := time.Since(c.start).Milliseconds()
		if elapsed > int64(c.cfg.WindowMs) {
			return false
		}
	}
	return true
}

// MaybeDelay sleeps a random interval within the configured band.
func (c *Injector) MaybeDelay(ctx context.Context) error {
	if !c.enabled() || (c.cfg.DelayMsMin == 0 && c.cfg.DelayMsMax == 0) {
		return nil
	}

	c.mu.Lock()
	var delayMs int
	if c.cfg.DelayMsMin == c.cfg.DelayMsMax {
		delayMs = c.cfg.DelayMsMin
	} else {
		delayMs = c.cfg.DelayMsMin + c.rng.Intn(c.cfg.DelayMsMax-c.cfg.DelayMsMin+1)
	}
	c.mu.Unlock()

	if delayMs == 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(delayMs) * time.Millisecond):
		return nil
	}
}

// MaybeDrop reports whether the next line should be silently discarded.
func (c *Injector) MaybeDrop() bool {
	if !c.enabled() || c.cfg.DropPct == 0 {
		return false
	}

	c.mu.Lock()
	drop := c.rng.Intn(100) < c.cfg.DropPct
	c.mu.Unlock()

	if drop {
		c.logger.Debug("chaos dropped line")
	}
	return drop
}

// Fragment splits a line into 2-4 sub-chunks at random offsets, or returns
// it whole. Chunk boundaries land anywhere, including mid-field, which is
// exactly what the receiving framer has to cope with.
func (c *Injector) Fragment(line []byte) [][]byte {
	if !c.enabled() || c.cfg.FragPct == 0 || len(line) < 2 {
		return [][]byte{line}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rng.Intn(100) >= c.cfg.FragPct {
		return [][]byte{line}
	}

	pieces := 2 + c.rng.Intn(3)
	if pieces > len(line) {
		pieces = len(line)
	}

	cuts := make(map[int]bool)
	for len(cuts) < pieces-1 {
		cuts[1+c.rng.Intn(len(line)-1)] = true
	}

	var chunks [][]byte
	prev := 0
	for i := 1; i < len(line); i++ {
		if cuts[i] {
			chunks = append(chunks, line[prev:i])
			prev = i
		}
	}
	chunks = append(chunks, line[prev:])
	return chunks
}
