// Package health defines the raw per-user health records the context
// pipeline aggregates, and a SQLite-backed store that serves them.
//
// Field names in JSON tags follow the upstream API payloads so hashes and
// archived stats stay stable across services.
package health

import "time"

// CycleRecord is a user's most recent menstrual cycle entry.
type CycleRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	StartDate time.Time `json:"startDate"`

	CycleLength       int `json:"cycleLength"`
	LutealPhaseLength int `json:"lutealPhaseLength,omitempty"`
	MenstrualDuration int `json:"menstrualDuration,omitempty"`

	OvulationDate *time.Time `json:"ovulationDate,omitempty"`
	NextPeriod    *time.Time `json:"nextPeriod,omitempty"`

	// Snapshot of boolean symptoms recorded when the cycle was created.
	Symptoms SymptomFlags `json:"symptoms"`

	// Sensitive: stripped when the user has not granted processing consent.
	FertilityWindow []FertilityDay `json:"fertilityWindow,omitempty"`
	PregnancyID     string         `json:"pregnancy,omitempty"`
	Notes           string         `json:"notes,omitempty"`
}

// FertilityDay is one day of a persisted fertility window.
type FertilityDay struct {
	Date        time.Time `json:"date"`
	Probability int       `json:"probability"`
	Phase       string    `json:"phase"` // low, fertile, ovulation
}

// SymptomFlags is the fixed boolean symptom set of the daily symptoms model.
type SymptomFlags struct {
	Cramps           bool `json:"cramps"`
	Headaches        bool `json:"headaches"`
	MoodSwings       bool `json:"moodSwings"`
	Bloating         bool `json:"bloating"`
	BreastTenderness bool `json:"breastTenderness"`
}

// SymptomEntry is one day of the standalone symptoms model: boolean presence
// flags plus per-symptom severities and an optional free-text note.
type SymptomEntry struct {
	ID     string    `json:"id"`
	UserID string    `json:"userId"`
	Date   time.Time `json:"date"`

	Flags    SymptomFlags    `json:"flags"`
	Severity SymptomSeverity `json:"severity"`

	// Sensitive.
	Notes string `json:"notes,omitempty"`
}

// SymptomSeverity holds 0-5 severity per symptom (0 = none).
type SymptomSeverity struct {
	Cramps           int `json:"cramps"`
	Headaches        int `json:"headaches"`
	MoodSwings       int `json:"moodSwings"`
	Bloating         int `json:"bloating"`
	BreastTenderness int `json:"breastTenderness"`
}

// PeriodTracker is the user's single active period-tracker record.
type PeriodTracker struct {
	ID       string    `json:"id"`
	UserID   string    `json:"userId"`
	IsActive bool      `json:"isActive"`
	Privacy  string    `json:"privacy,omitempty"` // private, shared_with_parent, shared_with_doctor
	Updated  time.Time `json:"lastUpdated"`

	CycleInfo CycleInfo `json:"cycleInfo"`

	// Sensitive tracking detail, stripped without consent.
	MoodTracking    []MoodDay         `json:"moodTracking,omitempty"`
	SymptomTracking []TrackedSymptoms `json:"symptomTracking,omitempty"`
	SleepTracking   []SleepDay        `json:"sleepTracking,omitempty"`
	HealthTips      []HealthTip       `json:"healthTips,omitempty"`
}

// CycleInfo is the tracker's cycle summary.
type CycleInfo struct {
	CycleDuration        int        `json:"cycleDuration"`
	LastPeriodStart      time.Time  `json:"lastPeriodStart"`
	LastPeriodDuration   int        `json:"lastPeriodDuration"`
	NextPeriodPrediction *time.Time `json:"nextPeriodPrediction,omitempty"`
	IrregularCycle       bool       `json:"irregularCycle"`
}

// MoodDay is one mood-tracking entry.
type MoodDay struct {
	Date      time.Time `json:"date"`
	MoodTypes []string  `json:"moodTypes"` // Happy, Sad, Calm, Angry, Tired, Energized
	Intensity string    `json:"intensity"` // low, medium, high
	Notes     string    `json:"notes,omitempty"`
}

// TrackedSymptoms is one symptom-tracking entry: a dated list of named
// symptoms with categorical severity.
type TrackedSymptoms struct {
	Date     time.Time      `json:"date"`
	Symptoms []NamedSymptom `json:"symptoms"`
	Notes    string         `json:"notes,omitempty"`
}

// NamedSymptom is a single named symptom observation.
type NamedSymptom struct {
	Name     string `json:"name"`
	Severity string `json:"severity"` // none, mild, moderate, severe
}

// SleepDay is one sleep-tracking entry.
type SleepDay struct {
	Date     time.Time `json:"date"`
	Duration float64   `json:"duration"` // hours
	Quality  string    `json:"quality"`  // poor, fair, good, excellent
	Notes    string    `json:"notes,omitempty"`
}

// HealthTip is a generated tip attached to the tracker.
type HealthTip struct {
	Tip       string    `json:"tip"`
	Category  string    `json:"category"` // cycle, symptoms, mood, sleep, general
	Generated time.Time `json:"generated"`
}
