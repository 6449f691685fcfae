package fire

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxlabs-dev/signalgate/internal/msg"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "fires.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_ReserveFirstClaimWins(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	rec := Record{
		IdempotencyKey: "key-1",
		FireID:         "fire-a",
		MissionID:      "m-1",
		UserID:         "user-1",
		Status:         StatusReserved,
		CreatedAt:      time.Now(),
	}

	existing, err := store.Reserve(ctx, rec)
	require.NoError(t, err)
	assert.Nil(t, existing, "first claim inserts and returns nil")

	// Second claim with a different fire_id returns the original record.
	rec2 := rec
	rec2.FireID = "fire-b"
	existing, err = store.Reserve(ctx, rec2)
	require.NoError(t, err)
	require.NotNil(t, existing)
	assert.Equal(t, "fire-a", existing.FireID, "the key stays bound to the first fire_id")
	assert.Equal(t, StatusReserved, existing.Status)
}

func TestStore_GetByKeyMissing(t *testing.T) {
	store := newStore(t)

	rec, err := store.GetByKey(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestStore_RejectKeepsReservation(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.Reserve(ctx, Record{
		IdempotencyKey: "key-1",
		FireID:         "fire-a",
		MissionID:      "m-1",
		UserID:         "user-1",
		Status:         StatusReserved,
		CreatedAt:      time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, store.Reject(ctx, "key-1"))

	rec, err := store.GetByKey(ctx, "key-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusRejected, rec.Status)

	// The rejected key still blocks a fresh claim.
	existing, err := store.Reserve(ctx, Record{
		IdempotencyKey: "key-1",
		FireID:         "fire-c",
		MissionID:      "m-1",
		UserID:         "user-1",
		Status:         StatusReserved,
		CreatedAt:      time.Now(),
	})
	require.NoError(t, err)
	require.NotNil(t, existing)
	assert.Equal(t, "fire-a", existing.FireID)
}

func TestStore_FinalizeFiredWritesOutbox(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.Reserve(ctx, Record{
		IdempotencyKey: "key-1",
		FireID:         "fire-a",
		MissionID:      "m-1",
		UserID:         "user-1",
		Status:         StatusReserved,
		CreatedAt:      time.Now(),
	})
	require.NoError(t, err)

	event := msg.FireEventMsg{
		EventID:        "evt-1",
		FireID:         "fire-a",
		MissionID:      "m-1",
		UserID:         "user-1",
		IdempotencyKey: "key-1",
		Symbol:         "EURUSD",
		Side:           "BUY",
		Lot:            1.33,
		Status:         StatusFired,
		TsUnixMillis:   time.Now().UnixMilli(),
	}
	require.NoError(t, store.FinalizeFired(ctx, "key-1", event))

	rec, err := store.GetByKey(ctx, "key-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusFired, rec.Status)

	events, err := store.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "evt-1", events[0].EventID)
	assert.Equal(t, msg.TopicFireEvents, events[0].Topic)
	assert.Equal(t, "m-1", events[0].Key, "events are keyed by mission for per-mission ordering")
	assert.False(t, events[0].PublishedUnixMillis.Valid)
}

func TestStore_MarkPublishedDrainsBacklog(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for i, key := range []string{"key-1", "key-2"} {
		_, err := store.Reserve(ctx, Record{
			IdempotencyKey: key,
			FireID:         "fire-" + key,
			MissionID:      "m-1",
			UserID:         "user-1",
			Status:         StatusReserved,
			CreatedAt:      time.Now(),
		})
		require.NoError(t, err)
		require.NoError(t, store.FinalizeFired(ctx, key, msg.FireEventMsg{
			EventID:      "evt-" + key,
			FireID:       "fire-" + key,
			MissionID:    "m-1",
			UserID:       "user-1",
			Status:       StatusFired,
			TsUnixMillis: time.Now().UnixMilli() + int64(i),
		}))
	}

	events, err := store.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	require.NoError(t, store.MarkPublished(ctx, events[0].EventID, time.Now().UnixMilli()))

	events, err = store.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "evt-key-2", events[0].EventID)
}
