package httpadapter

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/retrieval-core/internal/config"
	"github.com/kirillkom/retrieval-core/internal/core/domain"
	"github.com/kirillkom/retrieval-core/internal/core/ports"
	"github.com/kirillkom/retrieval-core/internal/observability/metrics"
)

const serviceName = "api"

type Router struct {
	search   ports.SearchService
	routing  ports.RoutingCacheService
	feedback ports.FeedbackService
	ingest   ports.ChunkIngestor
	stats    ports.StatsProvider
	queue    ports.FeedbackQueue
	metrics  *metrics.HTTPServerMetrics
	cfg      config.Config
}

func NewRouter(
	search ports.SearchService,
	routing ports.RoutingCacheService,
	feedback ports.FeedbackService,
	ingest ports.ChunkIngestor,
	stats ports.StatsProvider,
	queue ports.FeedbackQueue,
	m *metrics.HTTPServerMetrics,
	cfg config.Config,
) *Router {
	return &Router{
		search:   search,
		routing:  routing,
		feedback: feedback,
		ingest:   ingest,
		stats:    stats,
		queue:    queue,
		metrics:  m,
		cfg:      cfg,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/search", rt.searchHandler)
	mux.HandleFunc("/v1/route", rt.putRoute)
	mux.HandleFunc("/v1/route/", rt.routeSubresource)
	mux.HandleFunc("/v1/feedback", rt.submitFeedback)
	mux.HandleFunc("/v1/chunks", rt.upsertChunk)
	mux.HandleFunc("/v1/chunks/", rt.deleteChunk)
	mux.HandleFunc("/v1/stats", rt.statsHandler)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxConcurrent, rt.cfg.APIBackpressureWait)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	handler = accessLogMiddleware(rt.metrics, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type searchRequestBody struct {
	Query     string               `json:"query"`
	Embedding []float32            `json:"embedding,omitempty"`
	Namespace string               `json:"namespace,omitempty"`
	Metadata  map[string]string    `json:"metadata,omitempty"`
	Limit     int                  `json:"limit,omitempty"`
	Params    *domain.SearchParams `json:"params,omitempty"`
	Fusion    *domain.FusionParams `json:"fusion,omitempty"`
}

func (rt *Router) searchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req searchRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	start := time.Now()
	results, err := rt.search.Search(r.Context(), domain.SearchRequest{
		Query:     req.Query,
		Embedding: req.Embedding,
		Filter:    domain.SearchFilter{Namespace: req.Namespace, Metadata: req.Metadata},
		Limit:     req.Limit,
		Params:    req.Params,
		Fusion:    req.Fusion,
	})
	if rt.metrics != nil {
		topScore := 0.0
		if len(results) > 0 {
			topScore = results[0].FusedScore
		}
		rt.metrics.ObserveSearch(serviceName, time.Since(start), err, topScore, len(results) > 0)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

type routeLookupBody struct {
	Query               string    `json:"query"`
	Embedding           []float32 `json:"embedding,omitempty"`
	SimilarityThreshold float64   `json:"similarity_threshold,omitempty"`
}

func (rt *Router) routeSubresource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/route/")
	switch {
	case rest == "lookup":
		rt.lookupRoute(w, r)
	case strings.HasSuffix(rest, "/hit"):
		rt.recordRouteHit(w, r, strings.TrimSuffix(rest, "/hit"))
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown route resource"})
	}
}

func (rt *Router) lookupRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req routeLookupBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	result, err := rt.routing.Lookup(r.Context(), req.Query, req.Embedding, req.SimilarityThreshold)
	if err != nil {
		if rt.metrics != nil {
			rt.metrics.ObserveCacheLookup(serviceName, "error")
		}
		writeError(w, err)
		return
	}
	if result == nil {
		if rt.metrics != nil {
			rt.metrics.ObserveCacheLookup(serviceName, "miss")
		}
		writeJSON(w, http.StatusOK, map[string]any{"found": false})
		return
	}

	if rt.metrics != nil {
		outcome := "semantic_hit"
		if result.IsExactMatch {
			outcome = "exact_hit"
		}
		rt.metrics.ObserveCacheLookup(serviceName, outcome)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"found":          true,
		"entry":          result.Entry,
		"is_exact_match": result.IsExactMatch,
		"similarity":     result.Similarity,
	})
}

func (rt *Router) putRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var entry domain.RoutingCacheEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	stored, err := rt.routing.Put(r.Context(), entry)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (rt *Router) recordRouteHit(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "entry id is required"})
		return
	}

	if err := rt.routing.RecordHit(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) submitFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var fb domain.FeedbackRecord
	if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if fb.Rating < 1 || fb.Rating > 5 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "rating must be between 1 and 5"})
		return
	}
	if strings.TrimSpace(fb.SelectedDecision) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "selected_decision is required"})
		return
	}

	// Queue submission is fire-and-forget from the client's point of view;
	// the worker applies the counters. Without a queue the record is applied
	// inline.
	if rt.queue != nil {
		if err := rt.queue.PublishFeedback(r.Context(), fb); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}

	stored, err := rt.feedback.Record(r.Context(), fb)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, stored)
}

func (rt *Router) upsertChunk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var chunk domain.ContentChunk
	if err := json.NewDecoder(r.Body).Decode(&chunk); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(chunk.ID) == "" || strings.TrimSpace(chunk.Content) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "chunk id and content are required"})
		return
	}

	if err := rt.ingest.UpsertChunk(r.Context(), chunk); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": chunk.ID, "status": "indexed"})
}

func (rt *Router) deleteChunk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/chunks/")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "chunk id is required"})
		return
	}

	if err := rt.ingest.DeleteChunk(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) statsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, rt.stats.Stats())
}

func writeError(w http.ResponseWriter, err error) {
	status := mapErrorToHTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
