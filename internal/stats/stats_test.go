package stats

import (
	"testing"
	"time"

	"github.com/lunahealth/contextd/internal/aggregate"
	"github.com/lunahealth/contextd/internal/health"
)

func trackerContext(cycleDuration int, entries []health.TrackedSymptoms) *aggregate.Context {
	return &aggregate.Context{
		User: aggregate.UserInfo{ID: "u1"},
		Tracker: &aggregate.TrackerContext{
			PeriodTracker: health.PeriodTracker{
				CycleInfo:       health.CycleInfo{CycleDuration: cycleDuration},
				SymptomTracking: entries,
			},
		},
	}
}

func TestReduceCycleAndNamedSymptoms(t *testing.T) {
	entries := []health.TrackedSymptoms{
		{Symptoms: []health.NamedSymptom{{Name: "Headaches", Severity: "mild"}}},
		{Symptoms: []health.NamedSymptom{{Name: "Headaches", Severity: "mild"}}},
		{Symptoms: []health.NamedSymptom{{Name: "Headaches", Severity: "mild"}}},
	}
	st := Reduce(trackerContext(28, entries), time.Now())

	if st.AvgCycleLength == nil || *st.AvgCycleLength != 28 {
		t.Errorf("avgCycleLength = %v, want 28", st.AvgCycleLength)
	}
	if got := st.SymptomFrequency["Headaches"]; got != 3 {
		t.Errorf("symptomFrequency[Headaches] = %d, want 3", got)
	}
}

func TestReducePrefersTrackerCycleDuration(t *testing.T) {
	ctx := trackerContext(30, nil)
	ctx.Cycle = &health.CycleRecord{CycleLength: 27}

	st := Reduce(ctx, time.Now())
	if st.AvgCycleLength == nil || *st.AvgCycleLength != 30 {
		t.Errorf("avgCycleLength = %v, want tracker value 30", st.AvgCycleLength)
	}
}

func TestReduceFallsBackToCycleRecord(t *testing.T) {
	ctx := &aggregate.Context{Cycle: &health.CycleRecord{CycleLength: 27}}
	st := Reduce(ctx, time.Now())
	if st.AvgCycleLength == nil || *st.AvgCycleLength != 27 {
		t.Errorf("avgCycleLength = %v, want 27", st.AvgCycleLength)
	}
	if st.IrregularCycle != nil {
		t.Error("irregularCycle should be omitted without a tracker")
	}
}

func TestReduceOmitsAbsentFields(t *testing.T) {
	st := Reduce(&aggregate.Context{}, time.Now())
	if st.AvgCycleLength != nil || st.IrregularCycle != nil || st.DaysUntilNextPeriod != nil {
		t.Errorf("empty context should omit all scalar stats, got %+v", st)
	}
	if len(st.SymptomFrequency) != 0 {
		t.Errorf("expected empty frequency map, got %v", st.SymptomFrequency)
	}
}

func TestFrequencyHandlesAllShapes(t *testing.T) {
	obs := []Observation{
		{Shape: ShapeNamed, Named: []health.NamedSymptom{{Name: "Back Pain", Severity: "moderate"}, {Name: " "}}},
		{Shape: ShapeTag, Tag: "Nausea"},
		{Shape: ShapeFlags, Flags: map[string]bool{"cramps": true, "bloating": true, "headaches": false}},
		{Shape: ShapeUnknown}, // skipped silently
	}
	freq := Frequency(obs)

	want := map[string]int{"Back Pain": 1, "Nausea": 1, "cramps": 1, "bloating": 1}
	for k, v := range want {
		if freq[k] != v {
			t.Errorf("freq[%s] = %d, want %d", k, freq[k], v)
		}
	}
	if len(freq) != len(want) {
		t.Errorf("unexpected frequency entries: %v", freq)
	}
}

func TestObservationsWindowKeepsNewestAcrossSources(t *testing.T) {
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	// Enough older tracked entries to fill the window on their own.
	var tracked []health.TrackedSymptoms
	for i := 0; i < Window; i++ {
		tracked = append(tracked, health.TrackedSymptoms{
			Date:     base.AddDate(0, 0, -i),
			Symptoms: []health.NamedSymptom{{Name: "Fatigue", Severity: "mild"}},
		})
	}
	ctx := trackerContext(28, tracked)
	ctx.Symptoms = []health.SymptomEntry{
		{Date: base.AddDate(0, 0, 5), Flags: health.SymptomFlags{Cramps: true}},
	}

	st := Reduce(ctx, base)
	if st.SymptomFrequency["cramps"] != 1 {
		t.Errorf("newest standalone entry fell out of the window: %v", st.SymptomFrequency)
	}
	if st.SymptomFrequency["Fatigue"] != Window-1 {
		t.Errorf("freq[Fatigue] = %d, want %d (oldest tracked entry displaced)",
			st.SymptomFrequency["Fatigue"], Window-1)
	}
}

func TestFrequencyWindowCap(t *testing.T) {
	var obs []Observation
	for i := 0; i < Window+10; i++ {
		obs = append(obs, Observation{Shape: ShapeTag, Tag: "Fatigue"})
	}
	freq := Frequency(obs)
	if freq["Fatigue"] != Window {
		t.Errorf("freq[Fatigue] = %d, want capped at %d", freq["Fatigue"], Window)
	}
}

func TestReduceDaysUntilNextPeriod(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	// Precomputed field wins
	ctx := trackerContext(28, nil)
	five := 5
	ctx.Tracker.DaysUntilNextPeriod = &five
	next := now.AddDate(0, 0, 9)
	ctx.Tracker.CycleInfo.NextPeriodPrediction = &next

	st := Reduce(ctx, now)
	if st.DaysUntilNextPeriod == nil || *st.DaysUntilNextPeriod != 5 {
		t.Errorf("daysUntilNextPeriod = %v, want precomputed 5", st.DaysUntilNextPeriod)
	}

	// Computed from prediction otherwise, floored at zero
	ctx2 := trackerContext(28, nil)
	past := now.AddDate(0, 0, -2)
	ctx2.Tracker.CycleInfo.NextPeriodPrediction = &past
	st2 := Reduce(ctx2, now)
	if st2.DaysUntilNextPeriod == nil || *st2.DaysUntilNextPeriod != 0 {
		t.Errorf("daysUntilNextPeriod = %v, want 0", st2.DaysUntilNextPeriod)
	}
}
