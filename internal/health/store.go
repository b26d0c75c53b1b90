package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store persists raw health records in SQLite. Queryable fields live in
// columns; the full record is kept as a JSON document so nested tracking
// arrays survive round-trips unchanged.
type Store struct {
	db *sql.DB
}

// NewStore prepares the health record tables on the given database.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("health migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		ai_consent INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS cycles (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		start_date DATETIME NOT NULL,
		doc BLOB NOT NULL,
		UNIQUE(user_id, start_date)
	);
	CREATE INDEX IF NOT EXISTS idx_cycles_user_start ON cycles(user_id, start_date DESC);

	CREATE TABLE IF NOT EXISTS symptom_entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		date DATETIME NOT NULL,
		doc BLOB NOT NULL,
		UNIQUE(user_id, date)
	);
	CREATE INDEX IF NOT EXISTS idx_symptoms_user_date ON symptom_entries(user_id, date DESC);

	CREATE TABLE IF NOT EXISTS trackers (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		doc BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trackers_user_active ON trackers(user_id, is_active);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveUser upserts a user's consent flag.
func (s *Store) SaveUser(ctx context.Context, userID string, aiConsent bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, ai_consent, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET ai_consent = excluded.ai_consent, updated_at = excluded.updated_at
	`, userID, aiConsent, time.Now())
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// Consent returns the user's AI-processing consent flag. Unknown users have
// no consent.
func (s *Store) Consent(ctx context.Context, userID string) (bool, error) {
	var consent bool
	err := s.db.QueryRowContext(ctx, `SELECT ai_consent FROM users WHERE id = ?`, userID).Scan(&consent)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read consent: %w", err)
	}
	return consent, nil
}

// AddCycle inserts or replaces a cycle record, assigning an ID when unset.
func (s *Store) AddCycle(ctx context.Context, rec *CycleRecord) error {
	if rec.UserID == "" {
		return fmt.Errorf("cycle record needs userId")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode cycle: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cycles (id, user_id, start_date, doc) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET start_date = excluded.start_date, doc = excluded.doc
	`, rec.ID, rec.UserID, rec.StartDate, doc)
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}

// LatestCycle returns the user's most recent cycle record by start date, or
// nil when the user has none.
func (s *Store) LatestCycle(ctx context.Context, userID string) (*CycleRecord, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT doc FROM cycles WHERE user_id = ? ORDER BY start_date DESC LIMIT 1
	`, userID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest cycle: %w", err)
	}
	var rec CycleRecord
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("decode cycle: %w", err)
	}
	return &rec, nil
}

// AddSymptomEntry inserts or replaces a daily symptom entry, assigning an
// ID when unset.
func (s *Store) AddSymptomEntry(ctx context.Context, entry *SymptomEntry) error {
	if entry.UserID == "" {
		return fmt.Errorf("symptom entry needs userId")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	doc, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode symptom entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO symptom_entries (id, user_id, date, doc) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET date = excluded.date, doc = excluded.doc
	`, entry.ID, entry.UserID, entry.Date, doc)
	if err != nil {
		return fmt.Errorf("insert symptom entry: %w", err)
	}
	return nil
}

// RecentSymptoms returns the user's most recent symptom entries, newest
// first, up to limit.
func (s *Store) RecentSymptoms(ctx context.Context, userID string, limit int) ([]SymptomEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc FROM symptom_entries WHERE user_id = ? ORDER BY date DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query symptoms: %w", err)
	}
	defer rows.Close()

	var entries []SymptomEntry
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan symptom entry: %w", err)
		}
		var entry SymptomEntry
		if err := json.Unmarshal(doc, &entry); err != nil {
			return nil, fmt.Errorf("decode symptom entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// SaveTracker upserts a period tracker record, assigning an ID when unset.
// Saving an active tracker deactivates the user's other trackers so at most
// one stays active.
func (s *Store) SaveTracker(ctx context.Context, tr *PeriodTracker) error {
	if tr.UserID == "" {
		return fmt.Errorf("tracker needs userId")
	}
	if tr.ID == "" {
		tr.ID = uuid.NewString()
	}
	doc, err := json.Marshal(tr)
	if err != nil {
		return fmt.Errorf("encode tracker: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tracker save: %w", err)
	}
	defer tx.Rollback()

	if tr.IsActive {
		if _, err := tx.ExecContext(ctx, `
			UPDATE trackers SET is_active = 0 WHERE user_id = ? AND id != ?
		`, tr.UserID, tr.ID); err != nil {
			return fmt.Errorf("deactivate trackers: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO trackers (id, user_id, is_active, doc) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET is_active = excluded.is_active, doc = excluded.doc
	`, tr.ID, tr.UserID, tr.IsActive, doc); err != nil {
		return fmt.Errorf("insert tracker: %w", err)
	}
	return tx.Commit()
}

// ActiveTracker returns the user's active tracker, or nil when none exists.
func (s *Store) ActiveTracker(ctx context.Context, userID string) (*PeriodTracker, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT doc FROM trackers WHERE user_id = ? AND is_active = 1 LIMIT 1
	`, userID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query tracker: %w", err)
	}
	var tr PeriodTracker
	if err := json.Unmarshal(doc, &tr); err != nil {
		return nil, fmt.Errorf("decode tracker: %w", err)
	}
	return &tr, nil
}
