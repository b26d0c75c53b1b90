package memory

import (
	"context"
	"math"
	"testing"

	"github.com/lunahealth/contextd/internal/embedding"
)

func appendWithEmbedding(t *testing.T, store *Store, userID, summary string) *Record {
	t.Helper()
	rec := &Record{
		UserID:      userID,
		SummaryText: summary,
		SourceHash:  "h",
		Embedding:   embedding.HashEmbedding(summary, 64),
	}
	if err := store.Append(context.Background(), rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	return rec
}

func TestSearchRanksBySimilarity(t *testing.T) {
	store := openTestStore(t)
	q := NewSearcher(store, nil)
	ctx := context.Background()

	appendWithEmbedding(t, store, "u1", "cramps and headaches were frequent this cycle")
	appendWithEmbedding(t, store, "u1", "sleep quality improved with no symptoms")
	target := appendWithEmbedding(t, store, "u1", "severe cramps with headaches reported")

	query := embedding.HashEmbedding("cramps headaches", 64)
	results, err := q.Search(ctx, "u1", query, 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Similarity > results[i-1].Similarity {
			t.Errorf("results not in descending order at %d", i)
		}
	}
	if results[0].ID != target.ID && results[0].SummaryText == "sleep quality improved with no symptoms" {
		t.Errorf("least related summary ranked first")
	}
}

func TestSearchSelfSimilarity(t *testing.T) {
	store := openTestStore(t)
	q := NewSearcher(store, nil)

	rec := appendWithEmbedding(t, store, "u1", "average cycle length is about 30 days")
	query := embedding.HashEmbedding(rec.SummaryText, 64)

	results, err := q.Search(context.Background(), "u1", query, 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if math.Abs(results[0].Similarity-1) > 1e-6 {
		t.Errorf("self similarity = %v, want 1", results[0].Similarity)
	}
}

func TestSearchStripsEmbeddings(t *testing.T) {
	store := openTestStore(t)
	q := NewSearcher(store, nil)

	appendWithEmbedding(t, store, "u1", "some archived summary")
	results, err := q.Search(context.Background(), "u1", embedding.HashEmbedding("summary", 64), 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, r := range results {
		if r.Embedding != nil {
			t.Errorf("embedding leaked into result %s", r.ID)
		}
	}
}

func TestSearchScopedToUser(t *testing.T) {
	store := openTestStore(t)
	q := NewSearcher(store, nil)

	appendWithEmbedding(t, store, "u1", "cramps reported")
	appendWithEmbedding(t, store, "u2", "cramps reported")

	results, err := q.Search(context.Background(), "u1", embedding.HashEmbedding("cramps reported", 64), 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, r := range results {
		if r.UserID != "u1" {
			t.Errorf("result for wrong user: %s", r.UserID)
		}
	}
	if len(results) != 1 {
		t.Errorf("got %d results, want 1", len(results))
	}
}

func TestSearchEmptyInputs(t *testing.T) {
	store := openTestStore(t)
	q := NewSearcher(store, nil)
	ctx := context.Background()

	results, err := q.Search(ctx, "u1", nil, 5)
	if err != nil || results != nil {
		t.Errorf("empty query: got (%v, %v), want (nil, nil)", results, err)
	}

	results, err = q.Search(ctx, "nobody", embedding.HashEmbedding("text", 64), 5)
	if err != nil {
		t.Fatalf("search empty archive: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results from empty archive, want 0", len(results))
	}
}

func TestSearchViaIndex(t *testing.T) {
	store := openTestStore(t)
	index := NewIndex(64)
	q := NewSearcher(store, index)
	ctx := context.Background()

	for _, summary := range []string{
		"cramps and bloating this cycle",
		"no symptoms recorded",
		"cramps with mood swings",
	} {
		q.Observe(*appendWithEmbedding(t, store, "u1", summary))
	}
	if index.Len() != 3 {
		t.Fatalf("index len = %d, want 3", index.Len())
	}

	results, err := q.Search(ctx, "u1", embedding.HashEmbedding("cramps", 64), 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Similarity > results[i-1].Similarity {
			t.Errorf("index-backed results not in descending order")
		}
	}
}

func TestWarmRebuildsIndex(t *testing.T) {
	store := openTestStore(t)
	appendWithEmbedding(t, store, "u1", "archived before restart")
	appendWithEmbedding(t, store, "u2", "another user's memory")

	index := NewIndex(64)
	q := NewSearcher(store, index)
	if err := q.Warm(context.Background()); err != nil {
		t.Fatalf("warm: %v", err)
	}
	if index.Len() != 2 {
		t.Errorf("index len = %d after warm, want 2", index.Len())
	}
}
