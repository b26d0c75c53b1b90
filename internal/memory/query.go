package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/lunahealth/contextd/internal/embedding"
	"github.com/lunahealth/contextd/internal/logging"
)

// DefaultTopK is the result count when a query does not specify one.
const DefaultTopK = 5

// Searcher answers top-k similarity queries over a user's archived
// memories. Candidate selection is tiered: the in-process HNSW index if
// one is attached, then the sqlite-vec index, then a cosine scan of the
// most recent records. All tiers re-rank candidates with exact cosine
// similarity so the tier in use never changes the ordering contract.
type Searcher struct {
	store *Store
	index *Index
}

// NewSearcher creates a Searcher over store. index may be nil.
func NewSearcher(store *Store, index *Index) *Searcher {
	return &Searcher{store: store, index: index}
}

// Warm loads recent records for all users into the in-process index.
// Call once at startup; safe to skip.
func (q *Searcher) Warm(ctx context.Context) error {
	if q.index == nil {
		return nil
	}
	rows, err := q.store.db.QueryContext(ctx, `
		SELECT id, user_id, summary, source_hash, stats, embedding, created_at
		FROM memories WHERE embedding IS NOT NULL
	`)
	if err != nil {
		return fmt.Errorf("warm index: %w", err)
	}
	defer rows.Close()

	var n int
	for rows.Next() {
		rec, err := scanRecordRows(rows)
		if err != nil {
			continue
		}
		if q.index.Add(*rec) == nil {
			n++
		}
	}
	logging.Info("memory", "warmed hnsw index with %d records", n)
	return rows.Err()
}

// Observe admits a freshly archived record to the in-process index.
func (q *Searcher) Observe(rec Record) {
	if q.index == nil {
		return
	}
	if err := q.index.Add(rec); err != nil {
		logging.Debug("memory", "index add skipped for %s: %v", rec.ID, err)
	}
}

// Search returns up to k archived memories for userID ranked by cosine
// similarity to queryEmb, highest first. Embeddings are stripped from
// results. An empty query vector or an empty archive yields no results.
func (q *Searcher) Search(ctx context.Context, userID string, queryEmb []float64, k int) ([]Result, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	if len(queryEmb) == 0 {
		return nil, nil
	}

	candidates, err := q.gather(ctx, userID, queryEmb, candidateLimit(k))
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(candidates))
	for _, rec := range candidates {
		if len(rec.Embedding) == 0 {
			continue
		}
		sim := embedding.Cosine(queryEmb, rec.Embedding)
		rec.Embedding = nil
		results = append(results, Result{Record: rec, Similarity: sim})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// gather collects candidate records from the fastest available tier.
func (q *Searcher) gather(ctx context.Context, userID string, queryEmb []float64, n int) ([]Record, error) {
	if q.index != nil && q.index.Len() > 0 {
		if ids := q.index.Candidates(userID, queryEmb, n); len(ids) > 0 {
			recs := make([]Record, 0, len(ids))
			for _, id := range ids {
				rec, err := q.store.Get(ctx, id)
				if err != nil || rec == nil {
					continue
				}
				recs = append(recs, *rec)
			}
			if len(recs) > 0 {
				return recs, nil
			}
		}
	}

	if recs, err := q.store.knnRecords(ctx, queryEmb, n); err == nil && len(recs) > 0 {
		filtered := recs[:0]
		for _, rec := range recs {
			if rec.UserID == userID {
				filtered = append(filtered, rec)
			}
		}
		if len(filtered) > 0 {
			return filtered, nil
		}
	}

	// Last tier: exact scan over the most recent records.
	return q.store.ListRecent(ctx, userID, recentScanLimit)
}

// candidateLimit over-fetches so per-user filtering and exact re-ranking
// still have enough material to fill k results.
func candidateLimit(k int) int {
	n := 10 * k
	if n < 50 {
		n = 50
	}
	return n
}
