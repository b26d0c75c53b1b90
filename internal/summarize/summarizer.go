// Package summarize turns archival stats into a short natural-language
// summary. A configurable generation backend produces the text; when the
// backend is missing, slow, broken, or returns nothing, a deterministic
// composer takes over so summarization can never fail.
package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/lunahealth/contextd/internal/logging"
	"github.com/lunahealth/contextd/internal/stats"
)

// MaxSummaryLen bounds summary text, matching the archived record's column
// cap.
const MaxSummaryLen = 2500

// Backend generates free text from a prompt.
type Backend interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Summarizer wraps a Backend with a timeout and a circuit breaker. A nil
// backend is valid and always uses the fallback.
type Summarizer struct {
	backend Backend
	breaker *gobreaker.CircuitBreaker[string]
	timeout time.Duration
}

// New creates a Summarizer. timeout bounds each backend call.
func New(backend Backend, timeout time.Duration) *Summarizer {
	breaker := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:    "summarizer",
		Timeout: time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return &Summarizer{backend: backend, breaker: breaker, timeout: timeout}
}

// Summarize produces a 2-3 sentence summary of the stats. It never fails:
// backend errors, timeouts, and empty outputs all fall back to the
// deterministic composer.
func (s *Summarizer) Summarize(ctx context.Context, st stats.Stats) string {
	if s.backend == nil {
		return Fallback(st)
	}

	text, err := s.breaker.Execute(func() (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return s.backend.Generate(callCtx, buildPrompt(st))
	})
	if err != nil {
		logging.Debug("summarize", "backend unavailable, using fallback: %v", err)
		return Fallback(st)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return Fallback(st)
	}
	return truncate(text, MaxSummaryLen)
}

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

func buildPrompt(st stats.Stats) string {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		data = []byte("{}")
	}
	return strings.Join([]string{
		"You are an assistant generating a concise summary of a user's menstrual health context.",
		"Write 2-3 sentences. Avoid medical diagnosis. Keep it supportive and neutral.",
		"Structured data:",
		string(data),
	}, "\n")
}

// Fallback deterministically composes a summary from the present stats
// fields in fixed order. Identical stats always produce identical text.
func Fallback(st stats.Stats) string {
	var parts []string

	if st.AvgCycleLength != nil {
		parts = append(parts, fmt.Sprintf("average cycle length is about %d days", *st.AvgCycleLength))
	}
	if st.IrregularCycle != nil {
		if *st.IrregularCycle {
			parts = append(parts, "cycles appear irregular")
		} else {
			parts = append(parts, "cycles appear regular")
		}
	}
	if top := topSymptoms(st.SymptomFrequency, 2); len(top) > 0 {
		parts = append(parts, "recent symptoms include "+strings.Join(top, ", "))
	}
	if st.DaysUntilNextPeriod != nil {
		parts = append(parts, fmt.Sprintf("%d day(s) until the next predicted period", *st.DaysUntilNextPeriod))
	}

	if len(parts) == 0 {
		return "No recent cycle statistics available."
	}
	return capitalize(strings.Join(parts, "; ") + ".")
}

// topSymptoms returns the n most frequent symptoms as "name (count)",
// lowercased, ordered by count descending with name as tiebreaker.
func topSymptoms(freq map[string]int, n int) []string {
	type entry struct {
		name  string
		count int
	}
	entries := make([]entry, 0, len(freq))
	for name, count := range freq {
		entries = append(entries, entry{name, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].name < entries[j].name
	})
	if len(entries) > n {
		entries = entries[:n]
	}

	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = fmt.Sprintf("%s (%d)", strings.ToLower(e.name), e.count)
	}
	return out
}

func capitalize(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
