// seed-demo loads a YAML scenario of demo users and their health records
// into the contextd database, then runs the context pipeline for each user
// so the database carries snapshots and archived memories to explore.
//
// Scenario format:
//
//	name: two-cycle demo
//	users:
//	  - id: demo-user
//	    aiConsent: true
//	    cycles:
//	      - startdate: 2026-07-01T00:00:00Z
//	        cyclelength: 28
//	    symptoms:
//	      - date: 2026-07-03T00:00:00Z
//	        flags: {cramps: true}
//	    tracker:
//	      isactive: true
//	      cycleinfo: {cycleduration: 28}
//	    refreshes: 2
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"gopkg.in/yaml.v3"

	"github.com/lunahealth/contextd/internal/aggregate"
	"github.com/lunahealth/contextd/internal/config"
	"github.com/lunahealth/contextd/internal/embedding"
	"github.com/lunahealth/contextd/internal/health"
	"github.com/lunahealth/contextd/internal/memory"
	"github.com/lunahealth/contextd/internal/pipeline"
	"github.com/lunahealth/contextd/internal/snapshot"
	"github.com/lunahealth/contextd/internal/summarize"
)

// Scenario is the YAML root.
type Scenario struct {
	Name  string     `yaml:"name"`
	Users []UserSeed `yaml:"users"`
}

// UserSeed is one demo user's records. Refreshes controls how many
// pipeline runs happen; records are fed in cycle order so later runs see
// changed data and archive the earlier context.
type UserSeed struct {
	ID        string                `yaml:"id"`
	AIConsent bool                  `yaml:"aiConsent"`
	Cycles    []health.CycleRecord  `yaml:"cycles"`
	Symptoms  []health.SymptomEntry `yaml:"symptoms"`
	Tracker   *health.PeriodTracker `yaml:"tracker"`
	Refreshes int                   `yaml:"refreshes"`
}

func main() {
	scenarioPath := flag.String("scenario", "", "Path to scenario YAML file (required)")
	verbose := flag.Bool("v", false, "Verbose output")
	flag.Parse()

	if *scenarioPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	data, err := os.ReadFile(*scenarioPath)
	if err != nil {
		log.Fatalf("read scenario: %v", err)
	}
	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		log.Fatalf("parse scenario: %v", err)
	}
	if len(scenario.Users) == 0 {
		log.Fatal("scenario has no users")
	}

	cfg, err := config.Load(os.Getenv("CONTEXTD_CONFIG"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(cfg.DataDir, "contextd.db")+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	records, err := health.NewStore(db)
	if err != nil {
		log.Fatalf("health store: %v", err)
	}
	snapshots, err := snapshot.NewStore(db)
	if err != nil {
		log.Fatalf("snapshot store: %v", err)
	}
	memories, err := memory.NewStore(db)
	if err != nil {
		log.Fatalf("memory store: %v", err)
	}

	// Offline by default: fallback summaries and hash embeddings keep the
	// seed deterministic without an Ollama instance.
	orch := pipeline.New(
		aggregate.New(records, records, records, records),
		snapshots, memories, nil,
		summarize.New(nil, cfg.BackendTimeout),
		embedding.New(nil, cfg.EmbedDim, cfg.BackendTimeout),
	)

	ctx := context.Background()
	log.Printf("seeding scenario %q (%d users)", scenario.Name, len(scenario.Users))

	for _, user := range scenario.Users {
		if err := seedUser(ctx, records, orch, user, *verbose); err != nil {
			log.Fatalf("seed %s: %v", user.ID, err)
		}
	}
	log.Println("done")
}

// seedUser writes the user's records in order, refreshing the context
// between steps so superseded contexts land in the memory archive.
func seedUser(ctx context.Context, records *health.Store, orch *pipeline.Orchestrator, user UserSeed, verbose bool) error {
	if user.ID == "" {
		return fmt.Errorf("user id is required")
	}
	if err := records.SaveUser(ctx, user.ID, user.AIConsent); err != nil {
		return fmt.Errorf("save user: %w", err)
	}

	steps := user.Refreshes
	if steps <= 0 {
		steps = 1
	}

	for step := 0; step < steps; step++ {
		if step < len(user.Cycles) {
			cycle := user.Cycles[step]
			cycle.UserID = user.ID
			if cycle.StartDate.IsZero() {
				cycle.StartDate = time.Now().UTC().AddDate(0, 0, -28*(steps-step))
			}
			if err := records.AddCycle(ctx, &cycle); err != nil {
				return fmt.Errorf("add cycle: %w", err)
			}
		}
		for _, entry := range user.Symptoms {
			entry.UserID = user.ID
			if entry.Date.IsZero() {
				entry.Date = time.Now().UTC()
			}
			if err := records.AddSymptomEntry(ctx, &entry); err != nil {
				return fmt.Errorf("add symptom: %w", err)
			}
		}
		if user.Tracker != nil {
			tracker := *user.Tracker
			tracker.UserID = user.ID
			tracker.CycleInfo.CycleDuration += step // nudge so each refresh sees a change
			if err := records.SaveTracker(ctx, &tracker); err != nil {
				return fmt.Errorf("save tracker: %w", err)
			}
		}

		result, err := orch.Run(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("refresh %d: %w", step+1, err)
		}
		if verbose {
			archived := "-"
			if result.Archived != nil {
				archived = result.Archived.SummaryText
			}
			log.Printf("  %s refresh %d: changed=%t archived=%s", user.ID, step+1, result.Changed, archived)
		}
	}
	return nil
}
