package server

import (
	"net/http"
	"strconv"

	"github.com/me/reflow/pkg/model"
)

type framesResponse struct {
	Since    int64         `json:"since"`
	FrameSeq int64         `json:"frame_seq"`
	Frames   []model.Frame `json:"frames"`
}

// handleListFrames returns retained frames committed after ?since=N (default
// 0, i.e. everything still retained). Polling clients alternate this with
// POST /time/expire; push clients use the SSE stream instead.
// GET /api/v1/frames
func (s *Server) handleListFrames(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondError(w, reqID, http.StatusBadRequest,
				model.NewValidationError("invalid since parameter",
					model.FieldError{Field: "since", Message: "must be an integer frame sequence number"}))
			return
		}
		since = n
	}

	frames := s.engine.FramesSince(since)
	if frames == nil {
		frames = []model.Frame{}
	}

	respondOK(w, reqID, framesResponse{
		Since:    since,
		FrameSeq: s.engine.FrameSeq(),
		Frames:   frames,
	})
}
