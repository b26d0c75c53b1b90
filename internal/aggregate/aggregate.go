// Package aggregate builds the per-user health context: the latest cycle
// record, a recent window of symptom entries, and the active period tracker,
// redacted according to the user's AI-processing consent.
package aggregate

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lunahealth/contextd/internal/health"
)

// SymptomWindow is how many recent symptom entries the context carries.
const SymptomWindow = 30

// Context is the aggregated, consent-redacted view of a user's health
// records at a point in time. It is built fresh per pipeline run and never
// mutated afterwards.
type Context struct {
	User     UserInfo              `json:"user"`
	Cycle    *health.CycleRecord   `json:"cycle"`
	Symptoms []health.SymptomEntry `json:"symptoms"`
	Tracker  *TrackerContext       `json:"periodTracker"`
	Meta     Meta                  `json:"meta"`
}

// UserInfo identifies the context's owner and their consent state.
type UserInfo struct {
	ID        string `json:"id"`
	AIConsent bool   `json:"aiConsent"`
}

// TrackerContext is the active period tracker plus derived analysis fields,
// computed here when the tracker does not already carry them.
type TrackerContext struct {
	health.PeriodTracker

	CycleAnalysis       string `json:"cycleAnalysis,omitempty"`  // short, normal, long
	PeriodAnalysis      string `json:"periodAnalysis,omitempty"` // short, normal, long
	DaysUntilNextPeriod *int   `json:"daysUntilNextPeriod,omitempty"`
}

// Meta carries per-invocation information. It is excluded from change
// hashing so repeated aggregation of unchanged records hashes identically.
type Meta struct {
	AIConsent   bool      `json:"aiConsent"`
	GeneratedAt time.Time `json:"generatedAt"`
	Disclaimer  string    `json:"disclaimer"`
}

const (
	disclaimerConsented = "User consent granted for AI usage of sensitive context."
	disclaimerRedacted  = "Sensitive fields excluded due to missing AI consent."
)

// HashView returns the hashable portion of the context: everything except
// the per-invocation Meta block.
func (c *Context) HashView() any {
	return struct {
		User     UserInfo              `json:"user"`
		Cycle    *health.CycleRecord   `json:"cycle"`
		Symptoms []health.SymptomEntry `json:"symptoms"`
		Tracker  *TrackerContext       `json:"periodTracker"`
	}{c.User, c.Cycle, c.Symptoms, c.Tracker}
}

// Provider interfaces for the four underlying reads. A nil record result
// means "not found" and is not an error; errors are transport or storage
// failures and abort the aggregation.

type CycleProvider interface {
	LatestCycle(ctx context.Context, userID string) (*health.CycleRecord, error)
}

type SymptomProvider interface {
	RecentSymptoms(ctx context.Context, userID string, limit int) ([]health.SymptomEntry, error)
}

type TrackerProvider interface {
	ActiveTracker(ctx context.Context, userID string) (*health.PeriodTracker, error)
}

type ConsentProvider interface {
	Consent(ctx context.Context, userID string) (bool, error)
}

// Aggregator fans out the record reads and assembles a Context.
type Aggregator struct {
	cycles   CycleProvider
	symptoms SymptomProvider
	trackers TrackerProvider
	consents ConsentProvider

	now func() time.Time // test hook
}

// New creates an Aggregator over the given providers.
func New(cycles CycleProvider, symptoms SymptomProvider, trackers TrackerProvider, consents ConsentProvider) *Aggregator {
	return &Aggregator{
		cycles:   cycles,
		symptoms: symptoms,
		trackers: trackers,
		consents: consents,
		now:      time.Now,
	}
}

// Aggregate builds the user's context. The three record reads run
// concurrently; any storage failure fails the aggregation as a whole.
func (a *Aggregator) Aggregate(ctx context.Context, userID string) (*Context, error) {
	consent, err := a.consents.Consent(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read consent for %s: %w", userID, err)
	}

	var (
		cycle    *health.CycleRecord
		symptoms []health.SymptomEntry
		tracker  *health.PeriodTracker
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cycle, err = a.cycles.LatestCycle(gctx, userID)
		if err != nil {
			return fmt.Errorf("read cycle: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		symptoms, err = a.symptoms.RecentSymptoms(gctx, userID, SymptomWindow)
		if err != nil {
			return fmt.Errorf("read symptoms: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		tracker, err = a.trackers.ActiveTracker(gctx, userID)
		if err != nil {
			return fmt.Errorf("read tracker: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", userID, err)
	}

	disclaimer := disclaimerRedacted
	if consent {
		disclaimer = disclaimerConsented
	}

	out := &Context{
		User:     UserInfo{ID: userID, AIConsent: consent},
		Cycle:    redactCycle(cycle, consent),
		Symptoms: redactSymptoms(symptoms, consent),
		Tracker:  a.buildTracker(tracker, consent),
		Meta: Meta{
			AIConsent:   consent,
			GeneratedAt: a.now().UTC(),
			Disclaimer:  disclaimer,
		},
	}
	return out, nil
}

func redactCycle(c *health.CycleRecord, consent bool) *health.CycleRecord {
	if c == nil {
		return nil
	}
	out := *c
	if !consent {
		out.FertilityWindow = nil
		out.PregnancyID = ""
		out.Notes = ""
	}
	return &out
}

func redactSymptoms(entries []health.SymptomEntry, consent bool) []health.SymptomEntry {
	if entries == nil {
		return nil
	}
	out := make([]health.SymptomEntry, len(entries))
	copy(out, entries)
	if !consent {
		for i := range out {
			out[i].Notes = ""
		}
	}
	return out
}

func (a *Aggregator) buildTracker(tr *health.PeriodTracker, consent bool) *TrackerContext {
	if tr == nil {
		return nil
	}
	out := TrackerContext{PeriodTracker: *tr}
	if !consent {
		out.HealthTips = nil
		out.SymptomTracking = nil
		out.MoodTracking = nil
		out.SleepTracking = nil
	}

	out.CycleAnalysis = lengthCategory(tr.CycleInfo.CycleDuration, 21, 35)
	out.PeriodAnalysis = lengthCategory(tr.CycleInfo.LastPeriodDuration, 3, 7)
	if d, ok := DaysUntil(tr.CycleInfo.NextPeriodPrediction, a.now()); ok {
		out.DaysUntilNextPeriod = &d
	}
	return &out
}

func lengthCategory(days, shortBelow, longAbove int) string {
	switch {
	case days <= 0:
		return ""
	case days < shortBelow:
		return "short"
	case days > longAbove:
		return "long"
	default:
		return "normal"
	}
}

// DaysUntil returns the number of whole days from now until the given
// prediction, rounded up and floored at zero. ok is false when there is no
// prediction.
func DaysUntil(prediction *time.Time, now time.Time) (int, bool) {
	if prediction == nil {
		return 0, false
	}
	diff := prediction.Sub(now)
	days := int(math.Ceil(diff.Hours() / 24))
	if days < 0 {
		days = 0
	}
	return days, true
}
