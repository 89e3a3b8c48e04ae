package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/homeinal/gurag/internal/learning"
	"github.com/homeinal/gurag/internal/log"
)

// cycleTimeout bounds a manually triggered maintenance cycle.
const cycleTimeout = 10 * time.Minute

type learningHandler struct {
	learner *learning.Learner
	logger  log.Logger
}

// run starts a maintenance cycle in the background. Returns 202 when
// started and 409 when a cycle is already in flight. StartCycle claims
// the guard before it returns, so concurrent requests cannot both see
// 202.
func (h *learningHandler) run(w http.ResponseWriter, _ *http.Request) {
	if err := h.learner.StartCycle(cycleTimeout); err != nil {
		writeError(w, http.StatusConflict, "cycle_running", "a maintenance cycle is already running", h.logger)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"}, h.logger)
}

// runPhase executes one named phase synchronously and returns its
// summary. Phase names follow the cycle: pre_warm, improve_negative,
// cleanup, extend_ttl.
func (h *learningHandler) runPhase(w http.ResponseWriter, r *http.Request) {
	result, err := h.learner.RunPhase(r.Context(), r.PathValue("phase"))
	switch {
	case errors.Is(err, learning.ErrUnknownPhase):
		writeError(w, http.StatusNotFound, "unknown_phase", err.Error(), h.logger)
		return
	case errors.Is(err, learning.ErrCycleRunning):
		writeError(w, http.StatusConflict, "cycle_running", "a maintenance cycle is already running", h.logger)
		return
	case err != nil:
		h.logger.Error("maintenance phase failed", "error", err)
		writeError(w, http.StatusInternalServerError, "phase_failed", "failed to run maintenance phase", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, result, h.logger)
}

// status reports whether a cycle is running and the last completed result.
func (h *learningHandler) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"running":     h.learner.Running(),
		"last_result": h.learner.LastResult(),
	}, h.logger)
}
