package memory

import (
	"fmt"
	"sync"

	"github.com/coder/hnsw"
)

// Index is an in-process HNSW graph over archived embeddings. It speeds up
// candidate selection for long-lived processes; the SQLite store remains
// the source of truth and the index is rebuilt from it on startup.
type Index struct {
	mu    sync.Mutex
	graph *hnsw.Graph[string]
	dim   int
	users map[string]string // record ID -> user ID
}

// NewIndex creates an empty index for embeddings of the given dimension.
func NewIndex(dim int) *Index {
	return &Index{
		graph: hnsw.NewGraph[string](),
		dim:   dim,
		users: make(map[string]string),
	}
}

// Add inserts a record's embedding. Records without embeddings or with a
// mismatched dimension are skipped.
func (ix *Index) Add(rec Record) error {
	if len(rec.Embedding) == 0 {
		return nil
	}
	if len(rec.Embedding) != ix.dim {
		return fmt.Errorf("embedding dim %d does not match index dim %d", len(rec.Embedding), ix.dim)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.graph.Add(hnsw.MakeNode(rec.ID, float64ToFloat32(rec.Embedding)))
	ix.users[rec.ID] = rec.UserID
	return nil
}

// Candidates returns up to n record IDs near queryEmb that belong to
// userID. The graph is shared across users, so it over-fetches and filters.
func (ix *Index) Candidates(userID string, queryEmb []float64, n int) []string {
	if len(queryEmb) != ix.dim || n <= 0 {
		return nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	neighbors := ix.graph.Search(float64ToFloat32(queryEmb), n*4)
	var ids []string
	for _, node := range neighbors {
		if ix.users[node.Key] != userID {
			continue
		}
		ids = append(ids, node.Key)
		if len(ids) >= n {
			break
		}
	}
	return ids
}

// Len returns the number of indexed records.
func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.users)
}
