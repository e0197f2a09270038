package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/me/reflow/pkg/model"
)

// handleGetTime reports the virtual clock.
// GET /api/v1/time
func (s *Server) handleGetTime(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, s.engine.Time())
}

type expireResponse struct {
	NowMS     int64    `json:"now_ms"`
	FrameSeq  int64    `json:"frame_seq"`
	Unblocked []string `json:"unblocked"`
}

// handleExpire advances the virtual clock by duration_ms, firing due fetch
// timers and deadline crossings. In tick mode the loop already advances time;
// the endpoint still works and simply adds to it.
// POST /api/v1/time/expire
func (s *Server) handleExpire(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req struct {
		DurationMS int64 `json:"duration_ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "Invalid JSON body: " + err.Error(),
		})
		return
	}
	if req.DurationMS <= 0 {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("invalid duration",
				model.FieldError{Field: "duration_ms", Message: "duration_ms must be positive"}))
		return
	}

	unblocked := s.engine.Advance(time.Duration(req.DurationMS) * time.Millisecond)
	if unblocked == nil {
		unblocked = []string{}
	}

	respondOK(w, reqID, expireResponse{
		NowMS:     s.engine.Time().NowMS,
		FrameSeq:  s.engine.FrameSeq(),
		Unblocked: unblocked,
	})
}
