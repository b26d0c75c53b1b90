// Package stats compresses a superseded context into a small structured
// statistics object. Reduction always runs over the *previous* context so
// the archived record reflects the state that is about to go stale.
package stats

import (
	"sort"
	"strings"
	"time"

	"github.com/lunahealth/contextd/internal/aggregate"
	"github.com/lunahealth/contextd/internal/health"
)

// Window caps how many recent symptom observations feed the frequency map.
const Window = 30

// Stats is the derived, ephemeral compression of a context. Fields whose
// inputs are absent stay nil/empty and are omitted from serialization.
type Stats struct {
	AvgCycleLength      *int           `json:"avgCycleLength,omitempty"`
	IrregularCycle      *bool          `json:"irregularCycle,omitempty"`
	SymptomFrequency    map[string]int `json:"symptomFrequency,omitempty"`
	DaysUntilNextPeriod *int           `json:"daysUntilNextPeriod,omitempty"`
}

// ObservationShape discriminates the three symptom-entry shapes that
// different data sources produce.
type ObservationShape int

const (
	ShapeUnknown ObservationShape = iota
	ShapeNamed                    // list of {name, severity} observations
	ShapeTag                      // single typed tag
	ShapeFlags                    // fixed set of boolean flags
)

// Observation is one symptom entry in any of the supported shapes. The
// Shape field selects which payload is meaningful; unknown shapes are
// skipped silently during reduction.
type Observation struct {
	Date  time.Time
	Shape ObservationShape
	Named []health.NamedSymptom
	Tag   string
	Flags map[string]bool
}

// flagOrder lists the boolean symptom fields counted for flag-shaped
// observations.
var flagOrder = []string{"cramps", "headaches", "moodSwings", "bloating", "breastTenderness"}

// Reduce computes the stats for a previous context.
func Reduce(prev *aggregate.Context, now time.Time) Stats {
	var st Stats
	if prev == nil {
		return st
	}

	if n, ok := cycleLength(prev); ok {
		st.AvgCycleLength = &n
	}
	if prev.Tracker != nil {
		irregular := prev.Tracker.CycleInfo.IrregularCycle
		st.IrregularCycle = &irregular
	}

	st.SymptomFrequency = Frequency(Observations(prev))

	if d, ok := daysUntilNext(prev, now); ok {
		st.DaysUntilNextPeriod = &d
	}
	return st
}

// cycleLength picks the first cycle-duration-like field, preferring the
// tracker's cycle info over the standalone cycle record.
func cycleLength(prev *aggregate.Context) (int, bool) {
	if prev.Tracker != nil && prev.Tracker.CycleInfo.CycleDuration > 0 {
		return prev.Tracker.CycleInfo.CycleDuration, true
	}
	if prev.Cycle != nil && prev.Cycle.CycleLength > 0 {
		return prev.Cycle.CycleLength, true
	}
	return 0, false
}

// Observations flattens the context's symptom sources into the tagged
// union, merged by date newest first so the window cap in Frequency keeps
// the most recent entries regardless of source: tracker symptom-tracking
// entries carry named observations, standalone daily entries carry boolean
// flags.
func Observations(prev *aggregate.Context) []Observation {
	var obs []Observation
	if prev.Tracker != nil {
		for _, day := range prev.Tracker.SymptomTracking {
			obs = append(obs, Observation{Date: day.Date, Shape: ShapeNamed, Named: day.Symptoms})
		}
	}
	for _, entry := range prev.Symptoms {
		obs = append(obs, Observation{Date: entry.Date, Shape: ShapeFlags, Flags: map[string]bool{
			"cramps":           entry.Flags.Cramps,
			"headaches":        entry.Flags.Headaches,
			"moodSwings":       entry.Flags.MoodSwings,
			"bloating":         entry.Flags.Bloating,
			"breastTenderness": entry.Flags.BreastTenderness,
		}})
	}
	sort.SliceStable(obs, func(i, j int) bool {
		return obs[i].Date.After(obs[j].Date)
	})
	return obs
}

// Frequency counts symptom occurrences over the first Window observations.
// Each shape contributes its own counting rule; unrecognized shapes are
// skipped without error.
func Frequency(obs []Observation) map[string]int {
	freq := make(map[string]int)
	if len(obs) > Window {
		obs = obs[:Window]
	}
	for _, o := range obs {
		switch o.Shape {
		case ShapeNamed:
			for _, s := range o.Named {
				name := strings.TrimSpace(s.Name)
				if name != "" {
					freq[name]++
				}
			}
		case ShapeTag:
			tag := strings.TrimSpace(o.Tag)
			if tag != "" {
				freq[tag]++
			}
		case ShapeFlags:
			for _, key := range flagOrder {
				if o.Flags[key] {
					freq[key]++
				}
			}
		}
	}
	return freq
}

func daysUntilNext(prev *aggregate.Context, now time.Time) (int, bool) {
	if prev.Tracker == nil {
		return 0, false
	}
	if prev.Tracker.DaysUntilNextPeriod != nil {
		return *prev.Tracker.DaysUntilNextPeriod, true
	}
	return aggregate.DaysUntil(prev.Tracker.CycleInfo.NextPeriodPrediction, now)
}
