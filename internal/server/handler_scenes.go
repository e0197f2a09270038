package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/me/reflow/pkg/model"
)

// handleListScenes lists the stored scene library.
// GET /api/v1/scenes
func (s *Server) handleListScenes(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	opts := listOptionsFromQuery(r)

	scenes, total, err := s.store.ListScenes(r.Context(), opts)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}

	respondList(w, reqID, scenes, &model.Pagination{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+opts.Limit < total,
	})
}

// handleGetScene returns one stored scene with its tree.
// GET /api/v1/scenes/{name}
func (s *Server) handleGetScene(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	name := chi.URLParam(r, "name")

	sc, err := s.store.GetScene(r.Context(), name)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}
	if sc == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("scene", name))
		return
	}
	respondOK(w, reqID, sc)
}

// handlePutScene stores a scene document under the name in the URL. The body
// is a YAML scene document (JSON bodies parse too); the tree is validated
// before anything is written.
// PUT /api/v1/scenes/{name}
func (s *Server) handlePutScene(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	name := chi.URLParam(r, "name")

	data, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "read body: " + err.Error(),
		})
		return
	}

	sc, err := s.loader.Parse(data)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			respondError(w, reqID, http.StatusBadRequest, apiErr)
			return
		}
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: err.Error(),
		})
		return
	}
	sc.Name = name

	existing, err := s.store.GetScene(r.Context(), name)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}
	if existing != nil {
		sc.CreatedAt = existing.CreatedAt
	}

	if err := s.store.PutScene(r.Context(), sc); err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}
	s.logger.Info("scene stored", "name", name, "updated", existing != nil)

	if existing != nil {
		respondOK(w, reqID, sc)
		return
	}
	respondCreated(w, reqID, sc)
}

// handleDeleteScene removes a stored scene.
// DELETE /api/v1/scenes/{name}
func (s *Server) handleDeleteScene(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	name := chi.URLParam(r, "name")

	if err := s.store.DeleteScene(r.Context(), name); err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrNotFound {
			respondError(w, reqID, http.StatusNotFound, apiErr)
			return
		}
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}
	respondOK(w, reqID, map[string]any{"name": name, "deleted": true})
}
