package memory

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/lunahealth/contextd/internal/logging"
)

func init() {
	sqlite_vec.Auto() // registers the vec0 virtual table with go-sqlite3
}

// recentScanLimit bounds the brute-force similarity fallback.
const recentScanLimit = 200

// Store persists archived summaries in SQLite. Writes are append-only:
// archived context is never updated or deleted. When the sqlite-vec
// extension is available a vec0 index mirrors the embeddings for fast KNN;
// otherwise search falls back to a full scan of recent records.
type Store struct {
	db           *sql.DB
	now          func() time.Time
	vecAvailable bool

	vecMu  sync.Mutex
	vecDim int // dimension of memory_vec (0 = not yet created)
}

// NewStore creates the memories tables on db and probes for sqlite-vec.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate memories: %w", err)
	}

	var vecVersion string
	if err := db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		logging.Info("memory", "sqlite-vec not available: %v, falling back to full scan", err)
	} else {
		logging.Info("memory", "sqlite-vec %s loaded", vecVersion)
		s.vecAvailable = true
		if err := s.initVecFromRecords(); err != nil {
			logging.Warn("memory", "vec init: %v", err)
		}
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		summary TEXT NOT NULL,
		source_hash TEXT NOT NULL,
		stats TEXT NOT NULL,
		embedding BLOB,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_memories_user_created ON memories(user_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append stores rec, assigning ID and CreatedAt when unset. The SQL write
// must succeed; indexing the embedding in vec0 is best-effort on top.
func (s *Store) Append(ctx context.Context, rec *Record) error {
	if rec.UserID == "" {
		return fmt.Errorf("append memory: empty user id")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}

	statsJSON, err := gojson.Marshal(rec.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	var embJSON []byte
	if len(rec.Embedding) > 0 {
		if embJSON, err = gojson.Marshal(rec.Embedding); err != nil {
			return fmt.Errorf("marshal embedding: %w", err)
		}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (id, user_id, summary, source_hash, stats, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.UserID, rec.SummaryText, rec.SourceHash, string(statsJSON), embJSON, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}

	if s.vecAvailable && len(rec.Embedding) > 0 {
		rowid, err := res.LastInsertId()
		if err == nil {
			if err := s.vecIndex(rowid, rec.ID, rec.Embedding); err != nil {
				logging.Warn("memory", "vec index failed for %s: %v", rec.ID, err)
			}
		}
	}
	return nil
}

// Get returns the record with id, or nil if absent.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, summary, source_hash, stats, embedding, created_at
		FROM memories WHERE id = ?
	`, id)
	return scanRecord(row)
}

// ListRecent returns up to limit records for userID, newest first.
func (s *Store) ListRecent(ctx context.Context, userID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = recentScanLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, summary, source_hash, stats, embedding, created_at
		FROM memories WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecordRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Count returns the number of records for userID.
func (s *Store) Count(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row *sql.Row) (*Record, error) {
	rec, err := scanFrom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func scanRecordRows(rows *sql.Rows) (*Record, error) {
	return scanFrom(rows)
}

func scanFrom(sc rowScanner) (*Record, error) {
	var rec Record
	var statsJSON string
	var embJSON []byte
	if err := sc.Scan(&rec.ID, &rec.UserID, &rec.SummaryText, &rec.SourceHash, &statsJSON, &embJSON, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if err := gojson.Unmarshal([]byte(statsJSON), &rec.Stats); err != nil {
		return nil, fmt.Errorf("decode stats for %s: %w", rec.ID, err)
	}
	if len(embJSON) > 0 {
		if err := gojson.Unmarshal(embJSON, &rec.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding for %s: %w", rec.ID, err)
		}
	}
	return &rec, nil
}

// initVecFromRecords determines the embedding dimension from stored records
// and rebuilds the vec0 index. No-op when no embeddings exist yet.
func (s *Store) initVecFromRecords() error {
	var embJSON []byte
	err := s.db.QueryRow(`SELECT embedding FROM memories WHERE embedding IS NOT NULL AND LENGTH(embedding) > 4 LIMIT 1`).Scan(&embJSON)
	if err != nil {
		return nil // empty store, defer to first Append
	}
	var emb []float64
	if err := gojson.Unmarshal(embJSON, &emb); err != nil || len(emb) == 0 {
		return nil
	}
	if err := s.ensureVecTable(len(emb)); err != nil {
		return err
	}
	return s.vecBackfill()
}

// ensureVecTable creates the memory_vec virtual table for dim. Idempotent
// for the same dimension; a mismatched dimension disables vec indexing for
// that record rather than erroring the write.
func (s *Store) ensureVecTable(dim int) error {
	s.vecMu.Lock()
	defer s.vecMu.Unlock()

	if s.vecDim == dim {
		return nil
	}
	if s.vecDim != 0 {
		return fmt.Errorf("embedding dim %d does not match vec table dim %d", dim, s.vecDim)
	}

	_, err := s.db.Exec(fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS memory_vec USING vec0(
			embedding float[%d],
			+memory_id TEXT
		)
	`, dim))
	if err != nil {
		return fmt.Errorf("create memory_vec(float[%d]): %w", dim, err)
	}
	s.vecDim = dim
	return nil
}

func (s *Store) vecIndex(rowid int64, id string, emb []float64) error {
	if err := s.ensureVecTable(len(emb)); err != nil {
		return err
	}
	serialized, err := sqlite_vec.SerializeFloat32(normalizeFloat32(float64ToFloat32(emb)))
	if err != nil {
		return err
	}
	// vec0 does not reliably support INSERT OR REPLACE; use DELETE + INSERT.
	s.db.Exec(`DELETE FROM memory_vec WHERE rowid = ?`, rowid)
	_, err = s.db.Exec(`INSERT INTO memory_vec(rowid, embedding, memory_id) VALUES (?, ?, ?)`, rowid, serialized, id)
	return err
}

func (s *Store) vecBackfill() error {
	rows, err := s.db.Query(`SELECT rowid, id, embedding FROM memories WHERE embedding IS NOT NULL`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var count int
	for rows.Next() {
		var rowid int64
		var id string
		var embJSON []byte
		if err := rows.Scan(&rowid, &id, &embJSON); err != nil {
			continue
		}
		var emb []float64
		if err := gojson.Unmarshal(embJSON, &emb); err != nil || len(emb) != s.vecDim {
			continue
		}
		if err := s.vecIndex(rowid, id, emb); err != nil {
			continue
		}
		count++
	}
	if count > 0 {
		logging.Info("memory", "vec backfill: indexed %d memories (dim=%d)", count, s.vecDim)
	}
	return rows.Err()
}

// knnRecords queries the vec0 index for the n nearest records to queryEmb,
// across all users. Returns nil when the index is unusable.
func (s *Store) knnRecords(ctx context.Context, queryEmb []float64, n int) ([]Record, error) {
	if !s.vecAvailable || s.vecDim == 0 || len(queryEmb) != s.vecDim {
		return nil, nil
	}
	serialized, err := sqlite_vec.SerializeFloat32(normalizeFloat32(float64ToFloat32(queryEmb)))
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.user_id, m.summary, m.source_hash, m.stats, m.embedding, m.created_at
		FROM memory_vec v
		JOIN memories m ON m.rowid = v.rowid
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serialized, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecordRows(rows)
		if err != nil {
			continue
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func float64ToFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

// normalizeFloat32 returns a unit-length copy. Normalizing before storing
// in vec0 makes L2 nearest-neighbor order match cosine order.
func normalizeFloat32(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
