// Package embedding turns summary text into fixed-orientation numeric
// vectors. A configurable backend supplies real embeddings; a deterministic
// bag-of-tokens hash embedding takes over whenever the backend is absent or
// misbehaves, so embedding can never fail.
package embedding

import (
	"context"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/lunahealth/contextd/internal/logging"
)

// MaxInputChars truncates backend input to keep requests bounded.
const MaxInputChars = 4000

// DefaultDim is the fallback embedding dimensionality.
const DefaultDim = 256

// Backend produces an embedding vector for text.
type Backend interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Embedder wraps a Backend with a timeout and circuit breaker. A nil
// backend is valid and always uses the hash fallback.
type Embedder struct {
	backend Backend
	dim     int
	breaker *gobreaker.CircuitBreaker[[]float64]
	timeout time.Duration
}

// New creates an Embedder. dim sets the fallback dimensionality; timeout
// bounds each backend call.
func New(backend Backend, dim int, timeout time.Duration) *Embedder {
	if dim <= 0 {
		dim = DefaultDim
	}
	breaker := gobreaker.NewCircuitBreaker[[]float64](gobreaker.Settings{
		Name:    "embedder",
		Timeout: time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return &Embedder{backend: backend, dim: dim, breaker: breaker, timeout: timeout}
}

// Embed converts text to a vector. Empty text yields an empty vector. It
// never fails: backend errors and malformed responses fall back to the
// deterministic hash embedding.
func (e *Embedder) Embed(ctx context.Context, text string) []float64 {
	if strings.TrimSpace(text) == "" {
		return []float64{}
	}
	if e.backend == nil {
		return HashEmbedding(text, e.dim)
	}

	input := truncate(text, MaxInputChars)

	vec, err := e.breaker.Execute(func() ([]float64, error) {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		return e.backend.Embed(callCtx, input)
	})
	if err != nil || len(vec) == 0 {
		logging.Debug("embedding", "backend unavailable, using hash fallback: %v", err)
		return HashEmbedding(text, e.dim)
	}
	return vec
}

// Dim returns the fallback dimensionality.
func (e *Embedder) Dim() int { return e.dim }

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

var tokenSplit = regexp.MustCompile(`[^0-9A-Za-z_]+`)

// HashEmbedding is the deterministic bag-of-tokens fallback: lower-case,
// split on non-word boundaries, hash each token with FNV-1a-style mixing
// into a fixed-size accumulator, then L2-normalize. Identical text always
// yields an identical vector.
func HashEmbedding(text string, dim int) []float64 {
	if dim <= 0 {
		dim = DefaultDim
	}
	vec := make([]float64, dim)

	for _, tok := range tokenSplit.Split(strings.ToLower(text), -1) {
		if tok == "" {
			continue
		}
		var h uint32 = 2166136261
		for i := 0; i < len(tok); i++ {
			h ^= uint32(tok[i])
			h += (h << 1) + (h << 4) + (h << 7) + (h << 8) + (h << 24)
		}
		vec[h%uint32(dim)]++
	}

	return Normalize(vec)
}

// Normalize scales the vector to unit L2 length in place and returns it. A
// zero-norm vector is returned unchanged (norm treated as 1).
func Normalize(vec []float64) []float64 {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

// Cosine computes cosine similarity over the common prefix of two vectors,
// with zero-norm denominators guarded to 1.
func Cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}

	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}

	denom := math.Sqrt(na) * math.Sqrt(nb)
	if denom == 0 {
		denom = 1
	}
	return dot / denom
}
