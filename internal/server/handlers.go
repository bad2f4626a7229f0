package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"scout/internal/abtest"
	"scout/internal/core"
	"scout/internal/schedule"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("failed to encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{Error: err.Error()}
	var pe *core.PipelineError
	if errors.As(err, &pe) {
		resp.Kind = string(pe.Kind)
	}
	s.respondJSON(w, status, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy", "database": err.Error(),
		})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type runDigestRequest struct {
	TopicID     string     `json:"topic_id"`
	WindowStart *time.Time `json:"window_start,omitempty"`
	WindowEnd   *time.Time `json:"window_end,omitempty"`
}

// handleRunDigest triggers one synchronous digest run. Without an explicit
// window the topic's scheduling policy decides; an already-generated fixed
// bucket yields 204.
func (s *Server) handleRunDigest(w http.ResponseWriter, r *http.Request) {
	var req runDigestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.TopicID == "" {
		s.respondJSON(w, http.StatusBadRequest, errorResponse{Error: "topic_id is required"})
		return
	}

	user, err := s.db.Users().GetPrimary(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if user == nil {
		s.respondJSON(w, http.StatusConflict, errorResponse{Error: "no user configured"})
		return
	}

	var window core.DigestWindow
	if req.WindowStart != nil && req.WindowEnd != nil {
		window = core.DigestWindow{WindowStart: *req.WindowStart, WindowEnd: *req.WindowEnd}
	} else {
		topic, err := s.db.Topics().Get(r.Context(), req.TopicID)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err)
			return
		}
		if topic == nil {
			s.respondJSON(w, http.StatusNotFound, errorResponse{Error: "unknown topic: " + req.TopicID})
			return
		}
		windows, err := s.scheduler.GenerateDueWindows(r.Context(), user.ID, topic, time.Now())
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err)
			return
		}
		if len(windows) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		window = windows[0]
	}

	result := s.assembler.Run(r.Context(), user.ID, req.TopicID, window)
	status := http.StatusOK
	if result.Status == core.DigestStatusFailed {
		status = http.StatusUnprocessableEntity
	}
	s.respondJSON(w, status, result)
}

func (s *Server) handleListDigests(w http.ResponseWriter, r *http.Request) {
	user, err := s.db.Users().GetPrimary(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if user == nil {
		s.respondJSON(w, http.StatusOK, []core.Digest{})
		return
	}
	digests, err := s.db.Digests().List(r.Context(), user.ID, 50)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if digests == nil {
		digests = []core.Digest{}
	}
	s.respondJSON(w, http.StatusOK, digests)
}

func (s *Server) handleGetDigest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := s.db.Digests().Get(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if d == nil {
		s.respondJSON(w, http.StatusNotFound, errorResponse{Error: "unknown digest: " + id})
		return
	}
	items, err := s.db.Digests().ListItems(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"digest": d,
		"items":  items,
	})
}

type runAbtestRequest struct {
	TopicID     string               `json:"topic_id"`
	WindowStart *time.Time           `json:"window_start,omitempty"`
	WindowEnd   *time.Time           `json:"window_end,omitempty"`
	Variants    []core.AbtestVariant `json:"variants"`
	MaxItems    int                  `json:"max_items,omitempty"`
}

// handleRunAbtest triggers one synchronous A/B comparison run. Without an
// explicit window the current fixed bucket is replayed.
func (s *Server) handleRunAbtest(w http.ResponseWriter, r *http.Request) {
	var req runAbtestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.TopicID == "" {
		s.respondJSON(w, http.StatusBadRequest, errorResponse{Error: "topic_id is required"})
		return
	}

	user, err := s.db.Users().GetPrimary(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if user == nil {
		s.respondJSON(w, http.StatusConflict, errorResponse{Error: "no user configured"})
		return
	}

	params := abtest.RunParams{
		UserID:   user.ID,
		TopicID:  req.TopicID,
		Variants: req.Variants,
		MaxItems: req.MaxItems,
	}
	if req.WindowStart != nil && req.WindowEnd != nil {
		params.WindowStart = *req.WindowStart
		params.WindowEnd = *req.WindowEnd
	} else {
		bucket := schedule.CurrentBucket(time.Now())
		params.WindowStart = bucket.WindowStart
		params.WindowEnd = bucket.WindowEnd
	}
	if params.MaxItems <= 0 {
		params.MaxItems = 10
	}

	summary := s.harness.RunOnce(r.Context(), params)
	status := http.StatusOK
	if summary.Status == core.AbtestStatusFailed {
		status = http.StatusUnprocessableEntity
	}
	s.respondJSON(w, status, summary)
}

// handleCredits reports the primary user's spend state, including the exact
// numbers a UI needs to explain a budget block.
func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	user, err := s.db.Users().GetPrimary(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if user == nil {
		s.respondJSON(w, http.StatusConflict, errorResponse{Error: "no user configured"})
		return
	}
	usage, err := s.ledger.Status(r.Context(), user, time.Now())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, usage)
}
