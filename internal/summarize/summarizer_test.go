package summarize

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/lunahealth/contextd/internal/stats"
)

type fakeBackend struct {
	text string
	err  error
}

func (f *fakeBackend) Generate(ctx context.Context, prompt string) (string, error) {
	return f.text, f.err
}

func intPtr(n int) *int    { return &n }
func boolPtr(b bool) *bool { return &b }

func fullStats() stats.Stats {
	return stats.Stats{
		AvgCycleLength:      intPtr(28),
		IrregularCycle:      boolPtr(false),
		SymptomFrequency:    map[string]int{"Headaches": 3, "Bloating": 1, "Fatigue": 2},
		DaysUntilNextPeriod: intPtr(7),
	}
}

func TestFallbackFixedOrder(t *testing.T) {
	got := Fallback(fullStats())
	want := "Average cycle length is about 28 days; cycles appear regular; recent symptoms include headaches (3), fatigue (2); 7 day(s) until the next predicted period."
	if got != want {
		t.Errorf("fallback mismatch:\ngot  %s\nwant %s", got, want)
	}
}

func TestFallbackDeterministic(t *testing.T) {
	st := fullStats()
	first := Fallback(st)
	for i := 0; i < 20; i++ {
		if got := Fallback(st); got != first {
			t.Fatalf("fallback not deterministic: %s vs %s", got, first)
		}
	}
}

func TestFallbackOmitsAbsentFields(t *testing.T) {
	st := stats.Stats{AvgCycleLength: intPtr(30)}
	got := Fallback(st)
	if got != "Average cycle length is about 30 days." {
		t.Errorf("unexpected fallback: %s", got)
	}

	if got := Fallback(stats.Stats{}); got != "No recent cycle statistics available." {
		t.Errorf("empty stats fallback: %s", got)
	}
}

func TestSummarizeUsesBackend(t *testing.T) {
	s := New(&fakeBackend{text: "  Your cycle looks steady this month.  "}, time.Second)
	got := s.Summarize(context.Background(), fullStats())
	if got != "Your cycle looks steady this month." {
		t.Errorf("summarize = %q", got)
	}
}

func TestSummarizeFallsBackOnError(t *testing.T) {
	s := New(&fakeBackend{err: errors.New("backend down")}, time.Second)
	got := s.Summarize(context.Background(), fullStats())
	if !strings.HasPrefix(got, "Average cycle length is about 28 days") {
		t.Errorf("expected fallback text, got %q", got)
	}
}

func TestSummarizeFallsBackOnEmptyOutput(t *testing.T) {
	s := New(&fakeBackend{text: "   "}, time.Second)
	got := s.Summarize(context.Background(), fullStats())
	if !strings.HasPrefix(got, "Average cycle length") {
		t.Errorf("expected fallback text, got %q", got)
	}
}

func TestSummarizeNilBackend(t *testing.T) {
	s := New(nil, time.Second)
	got := s.Summarize(context.Background(), fullStats())
	if !strings.HasPrefix(got, "Average cycle length") {
		t.Errorf("expected fallback text, got %q", got)
	}
}

func TestSummarizeBoundsLength(t *testing.T) {
	s := New(&fakeBackend{text: strings.Repeat("a", MaxSummaryLen+500)}, time.Second)
	got := s.Summarize(context.Background(), fullStats())
	if len(got) != MaxSummaryLen {
		t.Errorf("summary length = %d, want %d", len(got), MaxSummaryLen)
	}
}

func TestSummarizeTruncatesOnRuneBoundary(t *testing.T) {
	s := New(&fakeBackend{text: strings.Repeat("é", MaxSummaryLen)}, time.Second)
	got := s.Summarize(context.Background(), fullStats())
	if len(got) > MaxSummaryLen {
		t.Errorf("summary length = %d, want at most %d", len(got), MaxSummaryLen)
	}
	if !utf8.ValidString(got) {
		t.Error("truncated summary is not valid UTF-8")
	}
}
