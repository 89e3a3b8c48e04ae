package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/homeinal/gurag/internal/analytics"
	"github.com/homeinal/gurag/internal/answer"
	"github.com/homeinal/gurag/internal/log"
)

// maxBodySize bounds request bodies. Queries are short.
const maxBodySize = 64 << 10

type chatHandler struct {
	answerer   Answerer
	classifier Classifier
	analytics  AnalyticsStore
	logger     log.Logger
}

type chatRequest struct {
	Query  string `json:"query"`
	UserID string `json:"user_id,omitempty"`
}

// chat answers a question through the full pipeline.
func (h *chatHandler) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	resp, err := h.answerer.Answer(r.Context(), req.UserID, req.Query)
	if errors.Is(err, answer.ErrEmptyQuery) {
		writeError(w, http.StatusBadRequest, "empty_query", "query is required", h.logger)
		return
	}
	if err != nil {
		h.logger.Error("answering failed", "error", err)
		writeError(w, http.StatusInternalServerError, "answer_failed", "failed to answer query", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, resp, h.logger)
}

type classifyRequest struct {
	Query string `json:"query"`
}

// classify exposes the router decision without running the pipeline.
func (h *chatHandler) classify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "empty_query", "query is required", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, h.classifier.Classify(r.Context(), req.Query), h.logger)
}

type feedbackRequest struct {
	RecordID uuid.UUID `json:"record_id"`
	Feedback int       `json:"feedback"`
}

// feedback attaches a user rating to a previously answered query.
func (h *chatHandler) feedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}
	if req.RecordID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "invalid_record_id", "record_id is required", h.logger)
		return
	}
	if req.Feedback != analytics.FeedbackPositive && req.Feedback != analytics.FeedbackNegative {
		writeError(w, http.StatusBadRequest, "invalid_feedback", "feedback must be 1 or -1", h.logger)
		return
	}

	err := h.analytics.SetFeedback(r.Context(), req.RecordID, req.Feedback)
	if errors.Is(err, analytics.ErrNotFound) {
		writeError(w, http.StatusNotFound, "record_not_found", "no record with that id", h.logger)
		return
	}
	if err != nil {
		h.logger.Error("setting feedback failed", "error", err)
		writeError(w, http.StatusInternalServerError, "feedback_failed", "failed to record feedback", h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeBody parses a bounded JSON request body. Writes the error
// response itself and reports whether decoding succeeded.
func decodeBody(w http.ResponseWriter, r *http.Request, out any, logger log.Logger) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large", logger)
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", logger)
		return false
	}
	return true
}
