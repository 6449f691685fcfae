package fire

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fxlabs-dev/signalgate/internal/authz"
	"github.com/fxlabs-dev/signalgate/internal/mission"
	"github.com/fxlabs-dev/signalgate/internal/risk"
	"github.com/fxlabs-dev/signalgate/internal/wire"
)

type fakeDispatcher struct {
	count int64
	fail  bool
	mu    sync.Mutex
	last  wire.OrderCommand
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, cmd wire.OrderCommand, symbol string) error {
	if d.fail {
		return errors.New("transport down")
	}
	atomic.AddInt64(&d.count, 1)
	d.mu.Lock()
	d.last = cmd
	d.mu.Unlock()
	return nil
}

func (d *fakeDispatcher) dispatched() int64 { return atomic.LoadInt64(&d.count) }

type fixture struct {
	authority  *Authority
	signer     *authz.Signer
	missions   *mission.Store
	store      *Store
	profiles   *risk.MemoryProfiles
	dispatcher *fakeDispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	missions, err := mission.Open(filepath.Join(dir, "missions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { missions.Close() })

	store, err := Open(filepath.Join(dir, "fires.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	profiles := risk.NewMemoryProfiles()
	profiles.Put(risk.Profile{
		UserID:  "user-1",
		Tier:    "pro",
		RiskPct: 0.02,
		Balance: 10000,
	})

	signer := authz.NewSigner([]byte("test-secret"))
	dispatcher := &fakeDispatcher{}
	book := risk.NewBook([]string{"EURUSD", "USDJPY"})

	authority := NewAuthority(signer, store, missions, profiles, book, dispatcher, zap.NewNop())

	return &fixture{
		authority:  authority,
		signer:     signer,
		missions:   missions,
		store:      store,
		profiles:   profiles,
		dispatcher: dispatcher,
	}
}

func (f *fixture) addMission(t *testing.T, id string, expiresAt time.Time) {
	t.Helper()
	require.NoError(t, f.missions.Put(context.Background(), mission.Mission{
		MissionID: id,
		Symbol:    "EURUSD",
		Direction: "BUY",
		Entry:     1.10000,
		Stop:      1.09850,
		Target:    1.10450,
		Pattern:   "breakout",
		Status:    mission.StatusPending,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	}))
}

func (f *fixture) request(user, missionID, key string) Request {
	exp := time.Now().Add(10 * time.Minute).Truncate(time.Second)
	return Request{
		MissionID:      missionID,
		UserID:         user,
		IdempotencyKey: key,
		Capability: authz.Capability{
			UserID:    user,
			MissionID: missionID,
			ExpiresAt: exp,
			Signature: f.signer.Sign(user, missionID, exp),
		},
	}
}

func TestAuthority_FireHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addMission(t, "m-1", time.Now().Add(time.Hour))

	result, err := f.authority.Fire(ctx, f.request("user-1", "m-1", "key-1"))
	require.NoError(t, err)
	assert.NotEmpty(t, result.FireID)
	assert.Equal(t, 1.33, result.Lot, "worked sizing example: 200/(15*10) rounded to step")

	assert.EqualValues(t, 1, f.dispatcher.dispatched())
	f.dispatcher.mu.Lock()
	cmd := f.dispatcher.last
	f.dispatcher.mu.Unlock()
	assert.Equal(t, wire.CommandOpen, cmd.Type)
	assert.Equal(t, result.FireID, cmd.FireID)
	assert.Equal(t, "BUY", cmd.Side)
	assert.Equal(t, 1.33, cmd.Lot)
	assert.Equal(t, "GTC", cmd.TimeInForce)

	m, err := f.missions.Get(ctx, "m-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, mission.StatusFired, m.Status)

	rec, err := f.store.GetByKey(ctx, "key-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusFired, rec.Status)
	assert.Equal(t, result.FireID, rec.FireID)

	events, err := f.store.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1, "a fired mission leaves one outbox event")

	profile, err := f.profiles.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, profile.LastFireAt.IsZero(), "fire must write back last_fire_at")
}

func TestAuthority_SequentialDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addMission(t, "m-1", time.Now().Add(time.Hour))

	first, err := f.authority.Fire(ctx, f.request("user-1", "m-1", "key-1"))
	require.NoError(t, err)

	second, err := f.authority.Fire(ctx, f.request("user-1", "m-1", "key-1"))
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, first.FireID, second.FireID, "retry must converge on the original fire_id")

	assert.EqualValues(t, 1, f.dispatcher.dispatched(), "duplicate must not dispatch")
}

func TestAuthority_ConcurrentDuplicates_OneDispatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addMission(t, "m-1", time.Now().Add(time.Hour))

	const attempts = 12
	var wg sync.WaitGroup
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.authority.Fire(ctx, f.request("user-1", "m-1", "same-key"))
		}(i)
	}
	wg.Wait()

	wins, dups := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrDuplicate):
			dups++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, attempts-1, dups)
	assert.EqualValues(t, 1, f.dispatcher.dispatched())
}

func TestAuthority_ConcurrentDifferentKeys_OneMissionWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addMission(t, "m-1", time.Now().Add(time.Hour))

	f.profiles.Put(risk.Profile{UserID: "user-2", Tier: "pro", RiskPct: 0.01, Balance: 5000})

	var wg sync.WaitGroup
	var err1, err2 error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err1 = f.authority.Fire(ctx, f.request("user-1", "m-1", "key-a"))
	}()
	go func() {
		defer wg.Done()
		_, err2 = f.authority.Fire(ctx, f.request("user-2", "m-1", "key-b"))
	}()
	wg.Wait()

	winners, conflicts := 0, 0
	for _, err := range []error{err1, err2} {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, mission.ErrNotPending):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, winners, "exactly one request wins the mission")
	assert.Equal(t, 1, conflicts, "the loser sees a mission-state conflict")
	assert.EqualValues(t, 1, f.dispatcher.dispatched())
}

func TestAuthority_ForbiddenIsOpaque(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addMission(t, "m-1", time.Now().Add(time.Hour))

	// Tampered mission id.
	req := f.request("user-1", "m-1", "key-1")
	req.Capability.MissionID = "m-other"
	_, err := f.authority.Fire(ctx, req)
	assert.ErrorIs(t, err, authz.ErrForbidden)

	// Expired capability, correct signature.
	exp := time.Now().Add(-time.Minute).Truncate(time.Second)
	req = Request{
		MissionID:      "m-1",
		UserID:         "user-1",
		IdempotencyKey: "key-2",
		Capability: authz.Capability{
			UserID:    "user-1",
			MissionID: "m-1",
			ExpiresAt: exp,
			Signature: f.signer.Sign("user-1", "m-1", exp),
		},
	}
	_, err = f.authority.Fire(ctx, req)
	assert.ErrorIs(t, err, authz.ErrForbidden)

	// Neither attempt reserved a key or dispatched.
	rec, err2 := f.store.GetByKey(ctx, "key-1")
	require.NoError(t, err2)
	assert.Nil(t, rec, "forbidden requests must not reserve idempotency keys")
	assert.Zero(t, f.dispatcher.dispatched())
}

func TestAuthority_MissionStateRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.authority.Fire(ctx, f.request("user-1", "m-missing", "key-1"))
	assert.ErrorIs(t, err, mission.ErrNotFound)

	f.addMission(t, "m-old", time.Now().Add(-time.Minute))
	_, err = f.authority.Fire(ctx, f.request("user-1", "m-old", "key-2"))
	assert.ErrorIs(t, err, mission.ErrExpired)

	f.addMission(t, "m-live", time.Now().Add(time.Hour))
	_, err = f.authority.Fire(ctx, f.request("user-1", "m-live", "key-3"))
	require.NoError(t, err)
	_, err = f.authority.Fire(ctx, f.request("user-1", "m-live", "key-4"))
	assert.ErrorIs(t, err, mission.ErrNotPending, "already FIRED is a distinguishable rejection")

	assert.EqualValues(t, 1, f.dispatcher.dispatched())

	// Rejected keys stay reserved.
	rec, err := f.store.GetByKey(ctx, "key-2")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusRejected, rec.Status)
}

func TestAuthority_ZeroStopDistanceNeverDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.missions.Put(ctx, mission.Mission{
		MissionID: "m-flat",
		Symbol:    "EURUSD",
		Direction: "SELL",
		Entry:     1.1000,
		Stop:      1.1000, // zero distance
		Target:    1.0900,
		Pattern:   "fakeout",
		Status:    mission.StatusPending,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}))

	_, err := f.authority.Fire(ctx, f.request("user-1", "m-flat", "key-1"))
	assert.ErrorIs(t, err, risk.ErrStopDistance)
	assert.Zero(t, f.dispatcher.dispatched())

	// The mission must not have been consumed by the failed sizing.
	m, err := f.missions.Get(ctx, "m-flat", time.Now())
	require.NoError(t, err)
	assert.Equal(t, mission.StatusPending, m.Status)
}

func TestAuthority_CooldownBlocksSecondFire(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.profiles.Put(risk.Profile{
		UserID:   "user-1",
		Tier:     "pro",
		RiskPct:  0.02,
		Balance:  10000,
		Cooldown: time.Hour,
	})

	f.addMission(t, "m-1", time.Now().Add(time.Hour))
	f.addMission(t, "m-2", time.Now().Add(time.Hour))

	_, err := f.authority.Fire(ctx, f.request("user-1", "m-1", "key-1"))
	require.NoError(t, err)

	_, err = f.authority.Fire(ctx, f.request("user-1", "m-2", "key-2"))
	assert.ErrorIs(t, err, ErrCooldown)
	assert.EqualValues(t, 1, f.dispatcher.dispatched())
}

func TestAuthority_DispatchFailureKeepsFired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addMission(t, "m-1", time.Now().Add(time.Hour))
	f.dispatcher.fail = true

	result, err := f.authority.Fire(ctx, f.request("user-1", "m-1", "key-1"))
	require.NoError(t, err, "a dispatch failure is a warning, not a fire failure")
	assert.NotEmpty(t, result.FireID)

	m, err := f.missions.Get(ctx, "m-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, mission.StatusFired, m.Status, "the mission stays FIRED; no auto-retry")

	rec, err := f.store.GetByKey(ctx, "key-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusFired, rec.Status)
}
