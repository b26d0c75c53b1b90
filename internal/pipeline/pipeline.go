// Package pipeline runs the context refresh cycle: aggregate the user's
// current health data, detect whether it changed since the stored snapshot,
// archive the prior context as a searchable memory when it did, and upsert
// the fresh snapshot.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/lunahealth/contextd/internal/aggregate"
	"github.com/lunahealth/contextd/internal/canon"
	"github.com/lunahealth/contextd/internal/embedding"
	"github.com/lunahealth/contextd/internal/logging"
	"github.com/lunahealth/contextd/internal/memory"
	"github.com/lunahealth/contextd/internal/snapshot"
	"github.com/lunahealth/contextd/internal/stats"
	"github.com/lunahealth/contextd/internal/summarize"
)

// Result reports one refresh run.
type Result struct {
	Context  *aggregate.Context `json:"context"`
	Hash     string             `json:"hash"`
	Changed  bool               `json:"changed"`
	Archived *memory.Record     `json:"archived,omitempty"`
}

// Orchestrator wires the refresh steps together.
type Orchestrator struct {
	aggregator *aggregate.Aggregator
	snapshots  *snapshot.Store
	memories   *memory.Store
	searcher   *memory.Searcher
	summarizer *summarize.Summarizer
	embedder   *embedding.Embedder

	now func() time.Time
}

// New creates an Orchestrator. searcher may be nil when no in-process
// index is kept.
func New(
	aggregator *aggregate.Aggregator,
	snapshots *snapshot.Store,
	memories *memory.Store,
	searcher *memory.Searcher,
	summarizer *summarize.Summarizer,
	embedder *embedding.Embedder,
) *Orchestrator {
	return &Orchestrator{
		aggregator: aggregator,
		snapshots:  snapshots,
		memories:   memories,
		searcher:   searcher,
		summarizer: summarizer,
		embedder:   embedder,
		now:        time.Now,
	}
}

// Run executes one refresh for userID.
//
// Storage failures abort the run: a context that cannot be aggregated,
// archived, or persisted must not be reported as refreshed. Summarization
// and embedding degrade internally and never abort.
//
// Archival happens before the snapshot upsert so a prior context is never
// lost: if archiving fails the old snapshot stays in place and the next
// run retries the same transition. Concurrent refreshes for the same user
// are detected at the upsert; the loser gets snapshot.ErrConflict and
// should simply re-run.
func (o *Orchestrator) Run(ctx context.Context, userID string) (*Result, error) {
	agg, err := o.aggregator.Aggregate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("aggregate context: %w", err)
	}
	hash := canon.Hash(agg.HashView())

	prev, err := o.snapshots.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	prevHash := ""
	if prev != nil {
		prevHash = prev.Hash
	}
	changed := canon.Changed(prevHash, hash)

	result := &Result{Context: agg, Hash: hash, Changed: changed}

	if changed && prev != nil {
		rec, err := o.archive(ctx, userID, prev)
		if err != nil {
			return nil, err
		}
		result.Archived = rec
	}

	// The snapshot is rewritten even when the hash is unchanged so its
	// timestamp and non-hashed metadata stay current.
	if _, err := o.snapshots.Upsert(ctx, userID, agg, hash, prevHash); err != nil {
		return nil, fmt.Errorf("upsert snapshot: %w", err)
	}
	if changed {
		logging.Info("pipeline", "refreshed context for %s (hash=%s archived=%t)",
			userID, hash[:12], result.Archived != nil)
	} else {
		logging.Debug("pipeline", "context unchanged for %s", userID)
	}
	return result, nil
}

// archive reduces the outgoing snapshot to stats, summarizes and embeds
// them, and appends the result to the memory archive.
func (o *Orchestrator) archive(ctx context.Context, userID string, prev *snapshot.Snapshot) (*memory.Record, error) {
	st := stats.Reduce(prev.Context, o.now())
	summary := o.summarizer.Summarize(ctx, st)
	emb := o.embedder.Embed(ctx, summary)

	rec := &memory.Record{
		UserID:      userID,
		SummaryText: summary,
		SourceHash:  prev.Hash,
		Stats:       st,
		Embedding:   emb,
	}
	if err := o.memories.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("archive prior context: %w", err)
	}
	if o.searcher != nil {
		o.searcher.Observe(*rec)
	}
	logging.Debug("pipeline", "archived memory %s for %s: %s",
		rec.ID, userID, logging.Truncate(summary, 120))
	return rec, nil
}
