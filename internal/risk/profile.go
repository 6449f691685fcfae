package risk

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrProfileNotFound is returned for users without a risk profile.
var ErrProfileNotFound = errors.New("risk profile not found")

// Profile is a user's risk configuration. It is owned by an external
// account service; the gateway reads it and writes back only LastFireAt.
type Profile struct {
	UserID             string
	Tier               string
	RiskPct            float64 // fraction of balance risked per fire
	Balance            float64 // cached account balance
	MaxConcurrent      int
	DailyDrawdownLimit float64
	Cooldown           time.Duration
	LastFireAt         time.Time
}

// Profiles is the collaborator interface for the external profile store.
type Profiles interface {
	Get(ctx context.Context, userID string) (Profile, error)
	TouchLastFire(ctx context.Context, userID string, firedAt time.Time) error
}

// MemoryProfiles is an in-process Profiles implementation, used standalone
// and as the test double for the external store.
type MemoryProfiles struct {
	mu       sync.Mutex
	profiles map[string]Profile
}

// NewMemoryProfiles creates an empty profile table.
func NewMemoryProfiles() *MemoryProfiles {
	return &MemoryProfiles{profiles: make(map[string]Profile)}
}

// Put inserts or replaces a profile.
func (m *MemoryProfiles) Put(p Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.UserID] = p
}

// Get implements Profiles.
func (m *MemoryProfiles) Get(ctx context.Context, userID string) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return Profile{}, ErrProfileNotFound
	}
	return p, nil
}

// TouchLastFire implements Profiles; the only field the gateway writes.
func (m *MemoryProfiles) TouchLastFire(ctx context.Context, userID string, firedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return ErrProfileNotFound
	}
	p.LastFireAt = firedAt
	m.profiles[userID] = p
	return nil
}
