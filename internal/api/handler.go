package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/skymood/internal/history"
	"github.com/kalambet/skymood/internal/metrics"
	"github.com/kalambet/skymood/internal/post"
	"github.com/kalambet/skymood/internal/store"
)

// RunLister reads the run ledger. history.Ledger implements it.
type RunLister interface {
	RecentRuns(ctx context.Context, limit int) ([]history.Run, error)
}

// Deps configures the read API. Token and Runs are optional; a zero
// RatePerSecond disables rate limiting.
type Deps struct {
	StatePath      string
	Runs           RunLister
	Token          string
	RatePerSecond  float64
	Burst          int
	HTTPMetrics    *metrics.HTTPMetrics
	MetricsHandler http.Handler
}

// NewHandler returns the read-only HTTP API over the state file.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	if deps.HTTPMetrics != nil {
		r.Use(deps.HTTPMetrics.Middleware)
	}

	r.Get("/health", handleHealth)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		if deps.RatePerSecond > 0 {
			r.Use(newClientRateLimiter(deps.RatePerSecond, deps.Burst).middleware)
		}
		if deps.Token != "" {
			r.Use(requireToken(deps.Token))
		}
		r.Get("/v1/summary", handleSummary(deps))
		r.Get("/v1/posts", handlePosts(deps))
		r.Get("/v1/runs", handleRuns(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleSummary(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, summarize(store.Load(deps.StatePath)))
	}
}

func handlePosts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, err := intParam(q.Get("limit"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid limit: %v", err)
			return
		}
		f, err := newPostFilter(q.Get("category"), q.Get("label"), q.Get("handle"), limit)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		posts := f.apply(store.Load(deps.StatePath))
		writeJSON(w, struct {
			Count int             `json:"count"`
			Posts []post.Enriched `json:"posts"`
		}{len(posts), posts})
	}
}

func handleRuns(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Runs == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "run history is not available")
			return
		}
		limit, err := intParam(r.URL.Query().Get("limit"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid limit: %v", err)
			return
		}
		if limit <= 0 || limit > 100 {
			limit = 20
		}

		runs, err := deps.Runs.RecentRuns(r.Context(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing runs: %v", err)
			return
		}
		if runs == nil {
			runs = []history.Run{}
		}
		writeJSON(w, struct {
			Runs []history.Run `json:"runs"`
		}{runs})
	}
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: writing response", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
