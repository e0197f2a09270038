package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// handleSSEFrames streams committed frames via Server-Sent Events.
// GET /api/v1/sse/frames
//
// With ?since=N the stream opens by replaying retained frames after sequence
// N; without it, the last committed frame is sent as an "init" event so the
// client has a full tree to start from. Every event carries the whole frame,
// so a dropped event only delays, never corrupts, the client's view.
func (s *Server) handleSSEFrames(w http.ResponseWriter, r *http.Request) {
	// Set headers for SSE.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// Subscribe before the catch-up read so no frame falls between them;
	// frames seen twice are skipped by sequence number.
	subID, frames := s.engine.Subscribe(16)
	defer s.engine.Unsubscribe(subID)

	var lastSeq int64
	if v := r.URL.Query().Get("since"); v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid since parameter", http.StatusBadRequest)
			return
		}
		lastSeq = seq
		for _, f := range s.engine.FramesSince(seq) {
			if err := sendSSEEvent(w, flusher, "frame", f); err != nil {
				return
			}
			lastSeq = f.Seq
		}
	} else if last, ok := s.engine.LastFrame(); ok {
		if err := sendSSEEvent(w, flusher, "init", last); err != nil {
			return
		}
		lastSeq = last.Seq
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case f, open := <-frames:
			if !open {
				return
			}
			if f.Seq <= lastSeq {
				continue
			}
			if err := sendSSEEvent(w, flusher, "frame", f); err != nil {
				s.logger.Debug("sse client disconnected", "error", err)
				return
			}
			lastSeq = f.Seq
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
	if err != nil {
		return err
	}

	flusher.Flush()
	return nil
}
