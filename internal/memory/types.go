// Package memory is the append-only archive of prior context summaries.
// Each record pairs a summary with its embedding so past state stays
// searchable by similarity after the live snapshot moves on.
package memory

import (
	"time"

	"github.com/lunahealth/contextd/internal/stats"
)

// Record is one archived context summary.
type Record struct {
	ID          string      `json:"id"`
	UserID      string      `json:"userId"`
	SummaryText string      `json:"summaryText"`
	SourceHash  string      `json:"sourceHash"`
	Stats       stats.Stats `json:"stats"`
	Embedding   []float64   `json:"embedding,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// Result is a search hit. Embeddings are stripped from results; callers
// get the summary and score, not the raw vector.
type Result struct {
	Record
	Similarity float64 `json:"similarity"`
}
