// Package api serves cached gold tables and the run log over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/finlake/internal/cache"
	"github.com/sells-group/finlake/internal/catalog"
	"github.com/sells-group/finlake/internal/runlog"
)

// MaxRunsLimit caps the limit query parameter of /v1/runs.
const MaxRunsLimit = 100

// TableReader reads published gold tables.
type TableReader interface {
	Get(ctx context.Context, table catalog.GoldTable, agg catalog.AggregationType) (*cache.Record, error)
}

// RunLister lists recorded runs.
type RunLister interface {
	List(ctx context.Context, limit int) ([]runlog.Entry, error)
}

type handler struct {
	tables TableReader
	runs   RunLister
	log    *zap.Logger
}

// NewRouter builds the read API. origins configures CORS.
func NewRouter(tables TableReader, runs RunLister, origins []string) http.Handler {
	h := &handler{
		tables: tables,
		runs:   runs,
		log:    zap.L().With(zap.String("component", "api")),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/financials/{aggregation}", h.financials)
		r.Get("/runs", h.listRuns)
	})
	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) financials(w http.ResponseWriter, r *http.Request) {
	agg, err := catalog.ParseAggregationType(chi.URLParam(r, "aggregation"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown aggregation type")
		return
	}
	rec, err := h.tables.Get(r.Context(), catalog.TableFinancialsQuarterly, agg)
	if eris.Is(err, cache.ErrCacheMiss) {
		writeError(w, http.StatusNotFound, "no published table for "+string(agg))
		return
	}
	if err != nil {
		h.log.Error("read cached table", zap.String("aggregation", string(agg)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cache unavailable")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := runlog.DefaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, MaxRunsLimit)
	}
	entries, err := h.runs.List(r.Context(), limit)
	if err != nil {
		h.log.Error("list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "run log unavailable")
		return
	}
	if entries == nil {
		entries = []runlog.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": entries})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
