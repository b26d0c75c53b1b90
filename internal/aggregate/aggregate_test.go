package aggregate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lunahealth/contextd/internal/health"
)

// fakeProviders serves canned records and satisfies all four provider
// interfaces.
type fakeProviders struct {
	cycle    *health.CycleRecord
	symptoms []health.SymptomEntry
	tracker  *health.PeriodTracker
	consent  bool

	cycleErr   error
	symptomErr error
	trackerErr error
	consentErr error
}

func (f *fakeProviders) LatestCycle(ctx context.Context, userID string) (*health.CycleRecord, error) {
	return f.cycle, f.cycleErr
}

func (f *fakeProviders) RecentSymptoms(ctx context.Context, userID string, limit int) ([]health.SymptomEntry, error) {
	return f.symptoms, f.symptomErr
}

func (f *fakeProviders) ActiveTracker(ctx context.Context, userID string) (*health.PeriodTracker, error) {
	return f.tracker, f.trackerErr
}

func (f *fakeProviders) Consent(ctx context.Context, userID string) (bool, error) {
	return f.consent, f.consentErr
}

func newTestAggregator(f *fakeProviders, now time.Time) *Aggregator {
	a := New(f, f, f, f)
	a.now = func() time.Time { return now }
	return a
}

func testTracker(nextPeriod time.Time) *health.PeriodTracker {
	return &health.PeriodTracker{
		ID:       "t1",
		UserID:   "u1",
		IsActive: true,
		CycleInfo: health.CycleInfo{
			CycleDuration:        28,
			LastPeriodStart:      nextPeriod.AddDate(0, 0, -28),
			LastPeriodDuration:   5,
			NextPeriodPrediction: &nextPeriod,
		},
		SymptomTracking: []health.TrackedSymptoms{
			{Date: nextPeriod.AddDate(0, 0, -10), Symptoms: []health.NamedSymptom{{Name: "Headaches", Severity: "mild"}}},
		},
		HealthTips: []health.HealthTip{{Tip: "stay hydrated", Category: "general"}},
	}
}

func TestAggregateWithConsent(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	next := now.AddDate(0, 0, 7)

	f := &fakeProviders{
		cycle: &health.CycleRecord{
			ID: "c1", UserID: "u1", StartDate: now.AddDate(0, 0, -20),
			CycleLength: 28, Notes: "private note",
		},
		symptoms: []health.SymptomEntry{
			{ID: "s1", UserID: "u1", Date: now.AddDate(0, 0, -1), Notes: "rough day"},
		},
		tracker: testTracker(next),
		consent: true,
	}

	got, err := newTestAggregator(f, now).Aggregate(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	if got.Cycle.Notes != "private note" {
		t.Error("consented context should keep cycle notes")
	}
	if got.Symptoms[0].Notes != "rough day" {
		t.Error("consented context should keep symptom notes")
	}
	if len(got.Tracker.SymptomTracking) != 1 {
		t.Error("consented context should keep symptom tracking")
	}
	if got.Tracker.CycleAnalysis != "normal" {
		t.Errorf("cycleAnalysis = %q, want normal", got.Tracker.CycleAnalysis)
	}
	if got.Tracker.PeriodAnalysis != "normal" {
		t.Errorf("periodAnalysis = %q, want normal", got.Tracker.PeriodAnalysis)
	}
	if got.Tracker.DaysUntilNextPeriod == nil || *got.Tracker.DaysUntilNextPeriod != 7 {
		t.Errorf("daysUntilNextPeriod = %v, want 7", got.Tracker.DaysUntilNextPeriod)
	}
	if !strings.Contains(got.Meta.Disclaimer, "consent granted") {
		t.Errorf("unexpected disclaimer: %s", got.Meta.Disclaimer)
	}
}

func TestAggregateRedactsWithoutConsent(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	next := now.AddDate(0, 0, 7)

	f := &fakeProviders{
		cycle: &health.CycleRecord{
			ID: "c1", UserID: "u1", StartDate: now.AddDate(0, 0, -20),
			CycleLength: 28, Notes: "private note", PregnancyID: "p1",
			FertilityWindow: []health.FertilityDay{{Date: now, Probability: 80, Phase: "fertile"}},
		},
		symptoms: []health.SymptomEntry{
			{ID: "s1", UserID: "u1", Date: now.AddDate(0, 0, -1), Notes: "rough day"},
		},
		tracker: testTracker(next),
		consent: false,
	}

	got, err := newTestAggregator(f, now).Aggregate(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	if got.Cycle.Notes != "" || got.Cycle.PregnancyID != "" || got.Cycle.FertilityWindow != nil {
		t.Error("sensitive cycle fields should be stripped without consent")
	}
	if got.Symptoms[0].Notes != "" {
		t.Error("symptom notes should be stripped without consent")
	}
	if got.Tracker.SymptomTracking != nil || got.Tracker.HealthTips != nil {
		t.Error("tracker detail arrays should be stripped without consent")
	}
	// Derived fields survive redaction
	if got.Tracker.CycleAnalysis != "normal" {
		t.Errorf("cycleAnalysis = %q, want normal", got.Tracker.CycleAnalysis)
	}
	// Redaction must not mutate the provider's record
	if f.tracker.SymptomTracking == nil {
		t.Error("redaction mutated the source tracker")
	}
	if f.cycle.Notes == "" {
		t.Error("redaction mutated the source cycle")
	}
}

func TestAggregateAbsentRecords(t *testing.T) {
	f := &fakeProviders{consent: true}
	got, err := newTestAggregator(f, time.Now()).Aggregate(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if got.Cycle != nil || got.Tracker != nil || got.Symptoms != nil {
		t.Error("absent records should aggregate to nil fields, not errors")
	}
}

func TestAggregateFailsOnStorageError(t *testing.T) {
	f := &fakeProviders{trackerErr: errors.New("disk unhappy")}
	_, err := newTestAggregator(f, time.Now()).Aggregate(context.Background(), "u1")
	if err == nil {
		t.Fatal("expected aggregation to fail when a read fails")
	}
	if !strings.Contains(err.Error(), "disk unhappy") {
		t.Errorf("error should wrap the cause, got %v", err)
	}
}

func TestDaysUntil(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	past := now.AddDate(0, 0, -3)
	if d, ok := DaysUntil(&past, now); !ok || d != 0 {
		t.Errorf("past prediction should floor at 0, got %d", d)
	}

	soon := now.Add(36 * time.Hour)
	if d, ok := DaysUntil(&soon, now); !ok || d != 2 {
		t.Errorf("36h out should round up to 2 days, got %d", d)
	}

	if _, ok := DaysUntil(nil, now); ok {
		t.Error("nil prediction should report not ok")
	}
}
