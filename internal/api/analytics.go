package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/homeinal/gurag/internal/log"
	"github.com/homeinal/gurag/internal/metrics"
)

type analyticsHandler struct {
	analytics AnalyticsStore
	cache     CacheReader
	metrics   *metrics.Metrics
	logger    log.Logger
}

// summary reports aggregates over a trailing window (?days=, default 7).
func (h *analyticsHandler) summary(w http.ResponseWriter, r *http.Request) {
	days, ok := queryInt(w, r, "days", 7, 1, 365, h.logger)
	if !ok {
		return
	}

	sum, err := h.analytics.Summarize(r.Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		h.logger.Error("summarizing analytics failed", "error", err)
		writeError(w, http.StatusInternalServerError, "summary_failed", "failed to summarize analytics", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, sum, h.logger)
}

// popular lists the most frequent queries (?days=, ?min_count=, ?limit=).
func (h *analyticsHandler) popular(w http.ResponseWriter, r *http.Request) {
	days, ok := queryInt(w, r, "days", 7, 1, 365, h.logger)
	if !ok {
		return
	}
	minCount, ok := queryInt(w, r, "min_count", 2, 1, 1000, h.logger)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", 20, 1, 100, h.logger)
	if !ok {
		return
	}

	popular, err := h.analytics.Popular(r.Context(), time.Duration(days)*24*time.Hour, minCount, limit)
	if err != nil {
		h.logger.Error("listing popular queries failed", "error", err)
		writeError(w, http.StatusInternalServerError, "popular_failed", "failed to list popular queries", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queries": popular, "count": len(popular)}, h.logger)
}

// recent lists the newest records (?limit=, default 50; ?user_id=
// narrows to one user).
func (h *analyticsHandler) recent(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 50, 1, 500, h.logger)
	if !ok {
		return
	}

	records, err := h.analytics.Recent(r.Context(), limit, r.URL.Query().Get("user_id"))
	if err != nil {
		h.logger.Error("listing recent records failed", "error", err)
		writeError(w, http.StatusInternalServerError, "recent_failed", "failed to list recent records", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records, "count": len(records)}, h.logger)
}

// negative lists queries that drew repeated negative feedback
// (?days=, ?min_negative=).
func (h *analyticsHandler) negative(w http.ResponseWriter, r *http.Request) {
	days, ok := queryInt(w, r, "days", 7, 1, 365, h.logger)
	if !ok {
		return
	}
	minNegative, ok := queryInt(w, r, "min_negative", 2, 1, 1000, h.logger)
	if !ok {
		return
	}

	queries, err := h.analytics.NegativeQueries(r.Context(), time.Duration(days)*24*time.Hour, minNegative)
	if err != nil {
		h.logger.Error("listing negative queries failed", "error", err)
		writeError(w, http.StatusInternalServerError, "negative_failed", "failed to list negative queries", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queries": queries, "count": len(queries)}, h.logger)
}

// dashboard bundles the week's summary, top queries, and cache
// occupancy into one response.
func (h *analyticsHandler) dashboard(w http.ResponseWriter, r *http.Request) {
	days, ok := queryInt(w, r, "days", 7, 1, 365, h.logger)
	if !ok {
		return
	}
	window := time.Duration(days) * 24 * time.Hour

	sum, err := h.analytics.Summarize(r.Context(), window)
	if err != nil {
		h.logger.Error("summarizing analytics failed", "error", err)
		writeError(w, http.StatusInternalServerError, "dashboard_failed", "failed to build dashboard", h.logger)
		return
	}
	popular, err := h.analytics.Popular(r.Context(), window, 1, 10)
	if err != nil {
		h.logger.Error("listing popular queries failed", "error", err)
		writeError(w, http.StatusInternalServerError, "dashboard_failed", "failed to build dashboard", h.logger)
		return
	}

	body := map[string]any{
		"days":    days,
		"summary": sum,
		"popular": popular,
	}
	if h.cache != nil {
		stats, err := h.cache.Stats(r.Context())
		if err != nil {
			h.logger.Warn("reading cache stats failed", "error", err)
		} else {
			body["cache"] = stats
		}
	}
	writeJSON(w, http.StatusOK, body, h.logger)
}

// cacheStats reports cache occupancy.
func (h *analyticsHandler) cacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cache.Stats(r.Context())
	if err != nil {
		h.logger.Error("reading cache stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "stats_failed", "failed to read cache stats", h.logger)
		return
	}
	if h.metrics != nil {
		h.metrics.CacheEntries.Set(float64(stats.ActiveEntries))
	}
	writeJSON(w, http.StatusOK, stats, h.logger)
}

// cacheSimilar lists cached queries near ?q= for threshold tuning
// (?limit=, ?min_similarity=).
func (h *analyticsHandler) cacheSimilar(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing_query", "q parameter is required", h.logger)
		return
	}
	limit, ok := queryInt(w, r, "limit", 10, 1, 100, h.logger)
	if !ok {
		return
	}
	minSimilarity := 0.5
	if raw := r.URL.Query().Get("min_similarity"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			writeError(w, http.StatusBadRequest, "invalid_min_similarity",
				"min_similarity must be a number between 0 and 1", h.logger)
			return
		}
		minSimilarity = v
	}

	entries, err := h.cache.FindSimilar(r.Context(), query, limit, minSimilarity)
	if err != nil {
		h.logger.Error("finding similar cache entries failed", "error", err)
		writeError(w, http.StatusInternalServerError, "similar_failed", "failed to find similar entries", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)}, h.logger)
}

// queryInt parses an integer query parameter with bounds. Writes the
// error response itself and reports whether parsing succeeded.
func queryInt(w http.ResponseWriter, r *http.Request, name string, def, min, max int, logger log.Logger) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || v > max {
		writeError(w, http.StatusBadRequest, "invalid_"+name,
			name+" must be an integer between "+strconv.Itoa(min)+" and "+strconv.Itoa(max), logger)
		return 0, false
	}
	return v, true
}
