// contextd is the health context pipeline service.
//
// It ingests cycle records, symptom entries, and period trackers, refreshes
// a per-user aggregated context snapshot on demand, archives superseded
// contexts as similarity-searchable memories, and answers top-k memory
// queries.
//
// External dependencies:
//   - SQLite (embedded, via go-sqlite3; sqlite-vec when available)
//   - Ollama (optional, for summaries and embeddings; deterministic
//     fallbacks cover it being down)
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/lunahealth/contextd/internal/aggregate"
	"github.com/lunahealth/contextd/internal/config"
	"github.com/lunahealth/contextd/internal/embedding"
	"github.com/lunahealth/contextd/internal/health"
	"github.com/lunahealth/contextd/internal/logging"
	"github.com/lunahealth/contextd/internal/memory"
	"github.com/lunahealth/contextd/internal/pipeline"
	"github.com/lunahealth/contextd/internal/ratelimit"
	"github.com/lunahealth/contextd/internal/snapshot"
	"github.com/lunahealth/contextd/internal/summarize"
)

// Service holds the wired components behind the HTTP handlers.
type Service struct {
	records   *health.Store
	snapshots *snapshot.Store
	memories  *memory.Store
	searcher  *memory.Searcher
	pipeline  *pipeline.Orchestrator
	embedder  *embedding.Embedder
	limiter   *ratelimit.Limiter
	cfg       config.Config
	started   time.Time
}

func main() {
	godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONTEXTD_CONFIG"))
	if err != nil {
		logging.Warn("main", "config: %v", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		logging.Warn("main", "create data dir: %v", err)
		os.Exit(1)
	}

	dbPath := filepath.Join(cfg.DataDir, "contextd.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		logging.Warn("main", "open database: %v", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logging.Warn("main", "ping database: %v", err)
		os.Exit(1)
	}

	records, err := health.NewStore(db)
	if err != nil {
		logging.Warn("main", "health store: %v", err)
		os.Exit(1)
	}
	snapshots, err := snapshot.NewStore(db)
	if err != nil {
		logging.Warn("main", "snapshot store: %v", err)
		os.Exit(1)
	}
	memories, err := memory.NewStore(db)
	if err != nil {
		logging.Warn("main", "memory store: %v", err)
		os.Exit(1)
	}

	embedder := embedding.New(
		embedding.NewOllamaBackend(cfg.OllamaURL, cfg.EmbedModel),
		cfg.EmbedDim, cfg.BackendTimeout)
	summarizer := summarize.New(
		summarize.NewOllamaBackend(cfg.OllamaURL, cfg.GenModel),
		cfg.BackendTimeout)

	index := memory.NewIndex(cfg.EmbedDim)
	searcher := memory.NewSearcher(memories, index)
	if err := searcher.Warm(context.Background()); err != nil {
		logging.Warn("main", "warm memory index: %v", err)
	}

	aggregator := aggregate.New(records, records, records, records)
	orch := pipeline.New(aggregator, snapshots, memories, searcher, summarizer, embedder)
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), cfg.RateWindow)

	svc := &Service{
		records:   records,
		snapshots: snapshots,
		memories:  memories,
		searcher:  searcher,
		pipeline:  orch,
		embedder:  embedder,
		limiter:   limiter,
		cfg:       cfg,
		started:   time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", svc.handleHealth)
	mux.HandleFunc("PUT /users/{id}/consent", svc.handleConsent)
	mux.HandleFunc("POST /users/{id}/cycles", svc.handleAddCycle)
	mux.HandleFunc("POST /users/{id}/symptoms", svc.handleAddSymptom)
	mux.HandleFunc("POST /users/{id}/tracker", svc.handleSaveTracker)
	mux.HandleFunc("POST /users/{id}/context/refresh", svc.handleRefresh)
	mux.HandleFunc("GET /users/{id}/context", svc.handleGetContext)
	mux.HandleFunc("POST /users/{id}/memories/query", svc.handleQueryMemories)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("main", "shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	logging.Info("main", "contextd listening on :%s (data: %s)", cfg.Port, cfg.DataDir)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logging.Warn("main", "server error: %v", err)
		os.Exit(1)
	}
}

// ─── Health ──────────────────────────────────────────────────────────────────

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"process": processStats(),
	}
	writeJSON(w, http.StatusOK, resp)
}

// processStats reports host and self resource usage. Best-effort: fields
// are omitted when a probe fails.
func processStats() map[string]any {
	out := map[string]any{}
	if vm, err := mem.VirtualMemory(); err == nil {
		out["host_mem_used_percent"] = vm.UsedPercent
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		out["host_cpu_percent"] = percents[0]
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := p.MemoryInfo(); err == nil {
			out["rss_bytes"] = mi.RSS
		}
	}
	return out
}

// ─── Record ingestion ────────────────────────────────────────────────────────

type consentRequest struct {
	AIConsent bool `json:"aiConsent"`
}

func (s *Service) handleConsent(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	var req consentRequest
	if err := gojson.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := s.records.SaveUser(r.Context(), userID, req.AIConsent); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": userID, "aiConsent": req.AIConsent})
}

func (s *Service) handleAddCycle(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	var rec health.CycleRecord
	if err := gojson.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	rec.UserID = userID
	if rec.StartDate.IsZero() {
		writeError(w, http.StatusBadRequest, "startDate is required")
		return
	}
	if err := s.records.AddCycle(r.Context(), &rec); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": rec.ID})
}

func (s *Service) handleAddSymptom(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	var entry health.SymptomEntry
	if err := gojson.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	entry.UserID = userID
	if entry.Date.IsZero() {
		entry.Date = time.Now().UTC()
	}
	if err := s.records.AddSymptomEntry(r.Context(), &entry); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": entry.ID})
}

func (s *Service) handleSaveTracker(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	var tr health.PeriodTracker
	if err := gojson.NewDecoder(r.Body).Decode(&tr); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	tr.UserID = userID
	if err := s.records.SaveTracker(r.Context(), &tr); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": tr.ID})
}

// ─── Context refresh ─────────────────────────────────────────────────────────

func (s *Service) handleRefresh(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")

	retryAfter, ok := s.limiter.Allow(userID)
	if !ok {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())+1))
		writeError(w, http.StatusTooManyRequests,
			fmt.Sprintf("context refresh throttled, retry in %s", retryAfter.Round(time.Second)))
		return
	}

	result, err := s.pipeline.Run(r.Context(), userID)
	if errors.Is(err, snapshot.ErrConflict) {
		writeError(w, http.StatusConflict, "concurrent refresh in progress, retry")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Service) handleGetContext(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	snap, err := s.snapshots.Get(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if snap == nil {
		writeError(w, http.StatusNotFound, "no context snapshot for user")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ─── Memory query ────────────────────────────────────────────────────────────

type queryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"topK,omitempty"`
}

type queryResponse struct {
	Results []memory.Result `json:"results"`
}

func (s *Service) handleQueryMemories(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	var req queryRequest
	if err := gojson.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	queryEmb := s.embedder.Embed(r.Context(), req.Query)
	results, err := s.searcher.Search(r.Context(), userID, queryEmb, req.TopK)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if results == nil {
		results = []memory.Result{}
	}
	writeJSON(w, http.StatusOK, queryResponse{Results: results})
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	gojson.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
