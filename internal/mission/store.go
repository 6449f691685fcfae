package mission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Status is a mission lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusFired     Status = "FIRED"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
)

// Store errors. These classify mark-fired failures; they are disclosable to
// API callers because they carry no secret material.
var (
	ErrNotFound   = errors.New("mission not found")
	ErrExpired    = errors.New("mission expired")
	ErrNotPending = errors.New("mission not pending")
)

// Mission is one proposed trade awaiting user authorization. Written by the
// external signal engine through intake; the store only transitions
// PENDING→FIRED (fire authority) and PENDING→EXPIRED (sweep or lazy read).
type Mission struct {
	MissionID string
	Symbol    string
	Direction string
	Entry     float64
	Stop      float64
	Target    float64
	Pattern   string
	Status    Status
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store persists missions in SQLite.
type Store struct {
	db *sql.DB
}

// Open creates or opens the mission store
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
		`CREATE TABLE IF NOT EXISTS missions (
			mission_id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			direction TEXT NOT NULL,
			entry REAL NOT NULL,
			stop REAL NOT NULL,
			target REAL NOT NULL,
			pattern TEXT NOT NULL,
			status TEXT NOT NULL,
			created_unix_millis INTEGER NOT NULL,
			expires_unix_millis INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_missions_pending
			ON missions(status, expires_unix_millis)
			WHERE status = 'PENDING'`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}

// Put inserts a new PENDING mission. Intake replays of an existing
// mission_id are ignored; missions are immutable once proposed.
func (s *Store) Put(ctx context.Context, m Mission) error {
	if m.Status == "" {
		m.Status = StatusPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO missions (mission_id, symbol, direction, entry, stop, target, pattern, status, created_unix_millis, expires_unix_millis)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(mission_id) DO NOTHING`,
		m.MissionID, m.Symbol, m.Direction, m.Entry, m.Stop, m.Target,
		m.Pattern, string(m.Status), m.CreatedAt.UnixMilli(), m.ExpiresAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert mission: %w", err)
	}
	return nil
}

// Cancel flips a still-pending mission to CANCELLED (signal engine recall).
func (s *Store) Cancel(ctx context.Context, missionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE missions SET status = ? WHERE mission_id = ? AND status = ?`,
		string(StatusCancelled), missionID, string(StatusPending),
	)
	if err != nil {
		return fmt.Errorf("failed to cancel mission: %w", err)
	}
	return nil
}

// Get looks a mission up by id. Expiry is applied lazily: a PENDING mission
// past its deadline is reported EXPIRED even before the sweep touches it.
func (s *Store) Get(ctx context.Context, missionID string, now time.Time) (Mission, error) {
	var m Mission
	var status string
	var createdMillis, expiresMillis int64

	err := s.db.QueryRowContext(ctx,
		`SELECT mission_id, symbol, direction, entry, stop, target, pattern, status, created_unix_millis, expires_unix_millis
		 FROM missions WHERE mission_id = ?`,
		missionID,
	).Scan(&m.MissionID, &m.Symbol, &m.Direction, &m.Entry, &m.Stop, &m.Target,
		&m.Pattern, &status, &createdMillis, &expiresMillis)
	if err == sql.ErrNoRows {
		return Mission{}, ErrNotFound
	}
	if err != nil {
		return Mission{}, fmt.Errorf("failed to query mission: %w", err)
	}

	m.Status = Status(status)
	m.CreatedAt = time.UnixMilli(createdMillis)
	m.ExpiresAt = time.UnixMilli(expiresMillis)

	if m.Status == StatusPending && !now.Before(m.ExpiresAt) {
		m.Status = StatusExpired
	}

	return m, nil
}

// MarkFired atomically transitions PENDING→FIRED. The single conditional
// UPDATE is the arbiter: of two concurrent calls exactly one sees a row
// affected. Failures are classified for the caller.
func (s *Store) MarkFired(ctx context.Context, missionID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE missions SET status = ?
		 WHERE mission_id = ? AND status = ? AND expires_unix_millis > ?`,
		string(StatusFired), missionID, string(StatusPending), now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark mission fired: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	// The CAS lost; find out why.
	m, err := s.Get(ctx, missionID, now)
	if err != nil {
		return err
	}
	switch m.Status {
	case StatusExpired:
		return ErrExpired
	default:
		return ErrNotPending
	}
}

// ExpireSweep flips every stale PENDING mission to EXPIRED and returns how
// many it touched.
func (s *Store) ExpireSweep(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE missions SET status = ?
		 WHERE status = ? AND expires_unix_millis <= ?`,
		string(StatusExpired), string(StatusPending), now.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired missions: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
