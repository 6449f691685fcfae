package feed

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SessionTable tracks liveness of remote terminal clients. A session exists
// from the first message a terminal sends and is refreshed by every
// subsequent one; the sweep prunes sessions that went quiet.
type SessionTable struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
	logger   *zap.Logger
}

// NewSessionTable creates an empty session table.
func NewSessionTable(logger *zap.Logger) *SessionTable {
	return &SessionTable{
		lastSeen: make(map[string]time.Time),
		logger:   logger,
	}
}

// Refresh records activity for a client, creating the session if needed.
func (s *SessionTable) Refresh(clientID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen[clientID] = now
}

// LastSeen reports the last activity time for a client.
func (s *SessionTable) LastSeen(clientID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lastSeen[clientID]
	return t, ok
}

// ActiveCount returns the number of tracked sessions.
func (s *SessionTable) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lastSeen)
}

// Prune removes sessions idle past ttl and returns how many were dropped.
func (s *SessionTable) Prune(now time.Time, ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for id, seen := range s.lastSeen {
		if now.Sub(seen) > ttl {
			delete(s.lastSeen, id)
			pruned++
		}
	}
	return pruned
}

// RunSweep prunes on a fixed period, independent of traffic, until the
// context ends.
func (s *SessionTable) RunSweep(ctx context.Context, interval, ttl time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if pruned := s.Prune(time.Now(), ttl); pruned > 0 {
				s.logger.Info("pruned stale client sessions",
					zap.Int("pruned", pruned),
					zap.Int("active", s.ActiveCount()),
				)
			}
		}
	}
}
