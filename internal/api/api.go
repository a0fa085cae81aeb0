// Package api exposes the engine's write, read and forgetting operations
// (§6 of the design) as a JSON HTTP surface, plus the C13/C15 read-only
// view projections. It mounts the health and Prometheus metrics endpoints
// from internal/health and internal/observe alongside the domain routes,
// mirroring the reference's pattern of a single process serving both its
// application API and its operational endpoints.
//
// Streaming reads are served by delegating straight to [*readgraph.Runtime],
// which already implements http.Handler over a websocket upgrade.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/memorybear/engine/internal/activation"
	"github.com/memorybear/engine/internal/forgetting"
	"github.com/memorybear/engine/internal/health"
	"github.com/memorybear/engine/internal/memerr"
	"github.com/memorybear/engine/internal/observe"
	"github.com/memorybear/engine/internal/perceptual"
	"github.com/memorybear/engine/internal/preprocess"
	"github.com/memorybear/engine/internal/readgraph"
	"github.com/memorybear/engine/internal/views"
	"github.com/memorybear/engine/internal/writecoord"
)

// Router assembles the engine's HTTP surface from its already-constructed
// subsystems. The zero value is not ready to use; construct with [NewRouter].
type Router struct {
	coordinator *writecoord.Coordinator
	runtime     *readgraph.Runtime
	scheduler   *forgetting.Scheduler
	views       *views.Views
	salience    *perceptual.Views
	health      *health.Handler
	metrics     *observe.Metrics
}

// NewRouter wires a Router to the given subsystems. The /v1/forgetting/curve
// projection endpoint reads its activation tuning live from runtime, so its
// curve always matches what C8 currently applies during retrieval, including
// after a config hot-reload.
func NewRouter(
	coordinator *writecoord.Coordinator,
	runtime *readgraph.Runtime,
	scheduler *forgetting.Scheduler,
	v *views.Views,
	salience *perceptual.Views,
	h *health.Handler,
	m *observe.Metrics,
) *Router {
	return &Router{
		coordinator: coordinator,
		runtime:     runtime,
		scheduler:   scheduler,
		views:       v,
		salience:    salience,
		health:      h,
		metrics:     m,
	}
}

// Handler builds the full mux, wrapped with the tracing/metrics middleware.
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()

	rt.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /v1/ingest", rt.handleIngest)
	mux.HandleFunc("POST /v1/read", rt.handleRead)
	mux.Handle("GET /v1/read/stream", rt.runtime)
	mux.HandleFunc("POST /v1/forgetting/trigger", rt.handleForgettingTrigger)
	mux.HandleFunc("GET /v1/forgetting/curve", rt.handleForgettingCurve)
	mux.HandleFunc("GET /v1/views/memory-count", rt.handleMemoryCount)
	mux.HandleFunc("GET /v1/views/latest-memory", rt.handleLatestMemory)
	mux.HandleFunc("GET /v1/views/episodic-overview", rt.handleEpisodicOverview)
	mux.HandleFunc("GET /v1/views/episodic-detail", rt.handleEpisodicDetail)
	mux.HandleFunc("GET /v1/perceptual/emotion-suggestions", rt.handleEmotionSuggestions)
	mux.HandleFunc("GET /v1/perceptual/implicit-profile", rt.handleImplicitProfile)

	return observe.Middleware(rt.metrics)(mux)
}

// --- /v1/ingest ---

type ingestMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type ingestRequest struct {
	EndUserID string          `json:"end_user_id"`
	ConfigID  string          `json:"config_id"`
	RefID     string          `json:"ref_id"`
	RunID     string          `json:"run_id"`
	Messages  []ingestMessage `json:"messages"`
}

type ingestResponse struct {
	DialogueID     string `json:"dialogue_id"`
	ChunkCount     int    `json:"chunk_count"`
	StatementCount int    `json:"statement_count"`
	EntityCount    int    `json:"entity_count"`
	SummaryCount   int    `json:"summary_count"`
}

func (rt *Router) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	msgs := make([]preprocess.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = preprocess.Message{Role: m.Role, Text: m.Text}
	}
	payload := preprocess.DialoguePayload{
		RefID:     req.RefID,
		EndUserID: req.EndUserID,
		ConfigID:  req.ConfigID,
		RunID:     req.RunID,
		Messages:  msgs,
	}

	result, err := rt.coordinator.Ingest(r.Context(), req.EndUserID, req.ConfigID, payload)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ingestResponse{
		DialogueID:     result.DialogueID,
		ChunkCount:     result.ChunkCount,
		StatementCount: result.StatementCount,
		EntityCount:    result.EntityCount,
		SummaryCount:   result.SummaryCount,
	})
}

// --- /v1/read ---

type readRequest struct {
	EndUserID       string `json:"end_user_id"`
	ApplyID         string `json:"apply_id"`
	Query           string `json:"query"`
	SearchSwitch    int    `json:"search_switch"`
	ConfigID        string `json:"config_id"`
	StorageType     string `json:"storage_type"`
	UserRAGMemoryID string `json:"user_rag_memory_id"`
}

type readResponse struct {
	Answer              string                        `json:"answer"`
	IntermediateOutputs []readgraph.IntermediateOutput `json:"intermediate_outputs,omitempty"`
	EndUserID           string                        `json:"end_user_id"`
	Truncated           bool                          `json:"truncated"`
}

func (rt *Router) handleRead(w http.ResponseWriter, r *http.Request) {
	var req readRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := rt.runtime.ReadMemory(r.Context(), readgraph.Request{
		EndUserID:       req.EndUserID,
		ApplyID:         req.ApplyID,
		Query:           req.Query,
		SearchSwitch:    readgraph.SearchSwitch(req.SearchSwitch),
		ConfigID:        req.ConfigID,
		StorageType:     req.StorageType,
		UserRAGMemoryID: req.UserRAGMemoryID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, readResponse{
		Answer:              result.Answer,
		IntermediateOutputs: result.IntermediateOutputs,
		EndUserID:           result.EndUserID,
		Truncated:           result.Truncated,
	})
}

// --- /v1/forgetting ---

type forgettingTriggerRequest struct {
	EndUserID string `json:"end_user_id"`
	MaxBatch  int    `json:"max_batch"`
	MinDays   int    `json:"min_days"`
}

func (rt *Router) handleForgettingTrigger(w http.ResponseWriter, r *http.Request) {
	var req forgettingTriggerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var scope *string
	if req.EndUserID != "" {
		scope = &req.EndUserID
	}

	report, err := rt.scheduler.RunForgettingCycle(r.Context(), scope, req.MaxBatch, req.MinDays)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (rt *Router) handleForgettingCurve(w http.ResponseWriter, r *http.Request) {
	importance, err := strconv.ParseFloat(r.URL.Query().Get("importance"), 64)
	if err != nil {
		http.Error(w, "invalid importance", http.StatusBadRequest)
		return
	}
	days, err := strconv.Atoi(r.URL.Query().Get("days"))
	if err != nil {
		http.Error(w, "invalid days", http.StatusBadRequest)
		return
	}

	curve := activation.ForgettingCurve(rt.runtime.ActivationConfig(), time.Now().UTC(), importance, days)
	writeJSON(w, http.StatusOK, curve)
}

// --- /v1/views (C15) ---

func (rt *Router) handleMemoryCount(w http.ResponseWriter, r *http.Request) {
	counts, err := rt.views.MemoryCount(r.Context(), r.URL.Query().Get("end_user_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (rt *Router) handleLatestMemory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	node, err := rt.views.LatestMemory(r.Context(), q.Get("end_user_id"), views.PerceptualType(q.Get("kind")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (rt *Router) handleEpisodicOverview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	summaries, err := rt.views.EpisodicOverview(r.Context(), q.Get("end_user_id"),
		views.TimeRange(q.Get("time_range")), q.Get("episodic_type"), q.Get("title_keyword"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (rt *Router) handleEpisodicDetail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	detail, err := rt.views.EpisodicDetail(r.Context(), q.Get("end_user_id"), q.Get("summary_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// --- /v1/perceptual (C13) ---

func (rt *Router) handleEmotionSuggestions(w http.ResponseWriter, r *http.Request) {
	suggestions, err := rt.salience.EmotionSuggestions(r.Context(), r.URL.Query().Get("end_user_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestions)
}

func (rt *Router) handleImplicitProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := rt.salience.ImplicitProfile(r.Context(), r.URL.Query().Get("end_user_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// --- helpers ---

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a classified [memerr.Kind] to an HTTP status code:
// validation → 400, concurrency conflict → 409, transient external failure →
// 503, cancellation → 408. Any other kind, and unclassified errors, fall back
// to 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if kind, ok := memerr.KindOf(err); ok {
		switch kind {
		case memerr.KindValidation:
			status = http.StatusBadRequest
		case memerr.KindConcurrencyConflict:
			status = http.StatusConflict
		case memerr.KindExternalTransient:
			status = http.StatusServiceUnavailable
		case memerr.KindCancelled:
			status = http.StatusRequestTimeout
		}
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		status = http.StatusRequestTimeout
	}
	http.Error(w, err.Error(), status)
}
