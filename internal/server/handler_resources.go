package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/me/reflow/internal/cache"
	"github.com/me/reflow/pkg/model"
)

// handleListResources lists the resource catalog.
// GET /api/v1/resources
func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	opts := listOptionsFromQuery(r)

	resources, total, err := s.store.ListResources(r.Context(), opts)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}

	respondList(w, reqID, resources, &model.Pagination{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+opts.Limit < total,
	})
}

// handleGetResource returns one catalog entry.
// GET /api/v1/resources/{key}
func (s *Server) handleGetResource(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	key := chi.URLParam(r, "key")

	res, err := s.store.GetResource(r.Context(), key)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}
	if res == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("resource", key))
		return
	}
	respondOK(w, reqID, res)
}

// handlePutResource upserts a catalog entry and invalidates its cache key so
// the next read refetches the new value.
// PUT /api/v1/resources/{key}
func (s *Server) handlePutResource(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	key := chi.URLParam(r, "key")

	var req struct {
		Value     string `json:"value"`
		LatencyMS int    `json:"latency_ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "Invalid JSON body: " + err.Error(),
		})
		return
	}
	if req.LatencyMS < 0 {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("invalid latency",
				model.FieldError{Field: "latency_ms", Message: "latency_ms cannot be negative"}))
		return
	}

	res := &model.Resource{
		Key:       key,
		Value:     req.Value,
		LatencyMS: req.LatencyMS,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.store.PutResource(r.Context(), res); err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}

	invalidated := s.engine.Invalidate(key)
	s.logger.Info("resource updated", "key", key, "invalidated", invalidated)

	respondOK(w, reqID, map[string]any{
		"resource":    res,
		"invalidated": invalidated,
	})
}

// handleDeleteResource removes a catalog entry. The cache key is invalidated
// so reads stop serving the deleted value.
// DELETE /api/v1/resources/{key}
func (s *Server) handleDeleteResource(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	key := chi.URLParam(r, "key")

	res, err := s.store.GetResource(r.Context(), key)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}
	if res == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("resource", key))
		return
	}

	if err := s.store.DeleteResource(r.Context(), key); err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}
	invalidated := s.engine.Invalidate(key)

	respondOK(w, reqID, map[string]any{
		"key":         key,
		"deleted":     true,
		"invalidated": invalidated,
	})
}

// handleInvalidate invalidates one cache key or, with an empty body or no
// key, the whole cache.
// POST /api/v1/resources/invalidate
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req struct {
		Key string `json:"key"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, reqID, http.StatusBadRequest, &model.APIError{
				Code:    model.ErrValidation,
				Message: "Invalid JSON body: " + err.Error(),
			})
			return
		}
	}

	if req.Key != "" {
		invalidated := s.engine.Invalidate(req.Key)
		s.logger.Info("cache key invalidated", "key", req.Key, "hit", invalidated)
		respondOK(w, reqID, map[string]any{
			"key":         req.Key,
			"invalidated": invalidated,
		})
		return
	}

	count := s.engine.InvalidateAll()
	s.logger.Info("cache invalidated", "entries", count)
	respondOK(w, reqID, map[string]any{
		"invalidated_count": count,
		"epoch":             s.engine.CacheEpoch(),
	})
}

type cacheResponse struct {
	Epoch   int64             `json:"epoch"`
	Count   int               `json:"count"`
	NowMS   int64             `json:"now_ms"`
	Entries []cache.EntryInfo `json:"entries"`
}

// handleGetCache reports the live resource cache: entry states and the
// invalidation epoch.
// GET /api/v1/cache
func (s *Server) handleGetCache(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	entries := s.engine.CacheSnapshot()
	respondOK(w, reqID, cacheResponse{
		Epoch:   s.engine.CacheEpoch(),
		Count:   len(entries),
		NowMS:   s.engine.Time().NowMS,
		Entries: entries,
	})
}
