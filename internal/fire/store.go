package fire

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fxlabs-dev/signalgate/internal/msg"
)

// Fire record statuses.
const (
	StatusReserved = "RESERVED"
	StatusFired    = "FIRED"
	StatusRejected = "REJECTED"
)

// Record is one fire attempt, keyed by idempotency key. The key is the
// uniqueness anchor: a retry maps back to the same record and fire_id.
type Record struct {
	IdempotencyKey string
	FireID         string
	MissionID      string
	UserID         string
	Status         string
	CreatedAt      time.Time
}

// OutboxEvent is a fire audit event waiting to be published.
type OutboxEvent struct {
	ID                  int64
	EventID             string
	FireID              string
	Topic               string
	Key                 string
	PayloadJSON         string
	CreatedUnixMillis   int64
	PublishedUnixMillis sql.NullInt64
}

// Store persists fire records and their outbox events in SQLite.
type Store struct {
	db *sql.DB
}

// Open creates or opens the fire store
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection serializes writers; SQLite would otherwise answer
	// concurrent transactions with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS fires (
			idempotency_key TEXT PRIMARY KEY,
			fire_id TEXT NOT NULL UNIQUE,
			mission_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created_unix_millis INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS fire_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL UNIQUE,
			fire_id TEXT NOT NULL,
			topic TEXT NOT NULL,
			key TEXT NOT NULL,
			payload_json TEXT NOT NULL,
			created_unix_millis INTEGER NOT NULL,
			published_unix_millis INTEGER NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fire_events_unpublished
			ON fire_events(published_unix_millis)
			WHERE published_unix_millis IS NULL`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}

// Reserve atomically claims an idempotency key. On first use it inserts the
// record and returns nil; if the key is already taken it returns the
// original record untouched, so retries converge on the first fire_id.
func (s *Store) Reserve(ctx context.Context, rec Record) (*Record, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO fires (idempotency_key, fire_id, mission_id, user_id, status, created_unix_millis)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(idempotency_key) DO NOTHING`,
		rec.IdempotencyKey, rec.FireID, rec.MissionID, rec.UserID, rec.Status, rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 1 {
		return nil, nil
	}

	existing, err := s.GetByKey(ctx, rec.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	return existing, nil
}

// GetByKey looks a fire record up by idempotency key.
func (s *Store) GetByKey(ctx context.Context, key string) (*Record, error) {
	var rec Record
	var createdMillis int64

	err := s.db.QueryRowContext(ctx,
		`SELECT idempotency_key, fire_id, mission_id, user_id, status, created_unix_millis
		 FROM fires WHERE idempotency_key = ?`,
		key,
	).Scan(&rec.IdempotencyKey, &rec.FireID, &rec.MissionID, &rec.UserID, &rec.Status, &createdMillis)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query fire record: %w", err)
	}

	rec.CreatedAt = time.UnixMilli(createdMillis)
	return &rec, nil
}

// Reject finalizes a reserved record as REJECTED. The reservation itself is
// kept: a retried key replays the rejection instead of re-running the fire.
func (s *Store) Reject(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE fires SET status = ? WHERE idempotency_key = ?`,
		StatusRejected, key,
	)
	if err != nil {
		return fmt.Errorf("failed to reject fire record: %w", err)
	}
	return nil
}

// FinalizeFired marks the record FIRED and enqueues its audit event in the
// outbox, both in one transaction.
func (s *Store) FinalizeFired(ctx context.Context, key string, event msg.FireEventMsg) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE fires SET status = ? WHERE idempotency_key = ?`,
		StatusFired, key,
	); err != nil {
		return fmt.Errorf("failed to finalize fire record: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal fire event: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO fire_events (event_id, fire_id, topic, key, payload_json, created_unix_millis, published_unix_millis)
		 VALUES (?, ?, ?, ?, ?, ?, NULL)`,
		event.EventID, event.FireID, msg.TopicFireEvents, event.MissionID, string(payload), event.TsUnixMillis,
	); err != nil {
		return fmt.Errorf("failed to insert fire event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListUnpublished returns unpublished outbox events oldest first.
func (s *Store) ListUnpublished(ctx context.Context, limit int) ([]OutboxEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, fire_id, topic, key, payload_json, created_unix_millis, published_unix_millis
		 FROM fire_events
		 WHERE published_unix_millis IS NULL
		 ORDER BY created_unix_millis ASC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query unpublished events: %w", err)
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		if err := rows.Scan(
			&e.ID, &e.EventID, &e.FireID, &e.Topic, &e.Key,
			&e.PayloadJSON, &e.CreatedUnixMillis, &e.PublishedUnixMillis,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// MarkPublished marks an event as published
func (s *Store) MarkPublished(ctx context.Context, eventID string, nowMillis int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE fire_events SET published_unix_millis = ? WHERE event_id = ?`,
		nowMillis, eventID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark event as published: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
