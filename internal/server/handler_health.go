package server

import (
	"net/http"
	"runtime"
	"time"
)

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	Engine    string `json:"engine"`
	NowMS     int64  `json:"now_ms"`
	FrameSeq  int64  `json:"frame_seq"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	mode := "virtual"
	if s.config.TickMS > 0 {
		mode = "tick"
	}

	respondOK(w, reqID, healthResponse{
		Status:    "healthy",
		Version:   "0.1.0",
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Engine:    mode,
		NowMS:     s.engine.Time().NowMS,
		FrameSeq:  s.engine.FrameSeq(),
	})
}
