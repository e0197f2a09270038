package server

import (
	"net/http"

	"github.com/me/reflow/internal/host"
	"github.com/me/reflow/pkg/model"
)

type treeResponse struct {
	FrameSeq int64               `json:"frame_seq"`
	Tree     *model.RenderedNode `json:"tree"`
}

// handleGetTree returns the last committed tree.
// GET /api/v1/tree (?format=text for the indented host rendering)
func (s *Server) handleGetTree(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	tree := s.engine.Tree()

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(host.Format(tree)))
		return
	}

	respondOK(w, reqID, treeResponse{
		FrameSeq: s.engine.FrameSeq(),
		Tree:     tree,
	})
}

// handleListBoundaries lists persistent boundary states.
// GET /api/v1/boundaries
func (s *Server) handleListBoundaries(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, s.engine.Boundaries())
}
