// Package snapshot caches the latest aggregated context per user, together
// with its content hash. Exactly one row exists per user; Upsert replaces
// the whole row.
package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/lunahealth/contextd/internal/aggregate"
)

// envelopeVersion tags persisted contexts so future schema changes can be
// migrated instead of silently reinterpreted.
const envelopeVersion = 1

type envelope struct {
	Version int                `json:"version"`
	Context *aggregate.Context `json:"context"`
}

// Snapshot is the cached current context for a user.
type Snapshot struct {
	UserID    string
	Context   *aggregate.Context
	Hash      string
	UpdatedAt time.Time
}

// Store persists snapshots in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time // test hook
}

// NewStore prepares the snapshot table on the given database.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		user_id TEXT PRIMARY KEY,
		context BLOB NOT NULL,
		hash TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_hash ON snapshots(hash);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return nil, fmt.Errorf("snapshot migrate: %w", err)
	}
	return s, nil
}

// Get returns the user's snapshot, or nil when the user has none yet.
func (s *Store) Get(ctx context.Context, userID string) (*Snapshot, error) {
	var (
		doc       []byte
		hash      string
		updatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT context, hash, updated_at FROM snapshots WHERE user_id = ?
	`, userID).Scan(&doc, &hash, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot for %s: %w", userID, err)
	}

	var env envelope
	if err := gojson.Unmarshal(doc, &env); err != nil {
		return nil, fmt.Errorf("decode snapshot for %s: %w", userID, err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("snapshot for %s has unknown schema version %d", userID, env.Version)
	}

	return &Snapshot{
		UserID:    userID,
		Context:   env.Context,
		Hash:      hash,
		UpdatedAt: updatedAt,
	}, nil
}

// ErrConflict is returned by Upsert when the stored hash no longer matches
// the prevHash the caller read, meaning another refresh won the race.
var ErrConflict = errors.New("snapshot modified concurrently")

// Upsert replaces the user's snapshot with the given context and hash,
// stamping UpdatedAt with the time of the call. prevHash is the hash the
// caller observed via Get ("" when the user had no snapshot); if the stored
// row has moved on since, the write is rejected with ErrConflict so the
// caller can re-run the refresh instead of clobbering a newer snapshot.
func (s *Store) Upsert(ctx context.Context, userID string, c *aggregate.Context, hash, prevHash string) (*Snapshot, error) {
	doc, err := gojson.Marshal(envelope{Version: envelopeVersion, Context: c})
	if err != nil {
		return nil, fmt.Errorf("encode snapshot for %s: %w", userID, err)
	}

	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (user_id, context, hash, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			context = excluded.context,
			hash = excluded.hash,
			updated_at = excluded.updated_at
		WHERE snapshots.hash = ?
	`, userID, doc, hash, now, prevHash)
	if err != nil {
		return nil, fmt.Errorf("upsert snapshot for %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("upsert snapshot for %s: %w", userID, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("upsert snapshot for %s: %w", userID, ErrConflict)
	}

	return &Snapshot{UserID: userID, Context: c, Hash: hash, UpdatedAt: now}, nil
}
