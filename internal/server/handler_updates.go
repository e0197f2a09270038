package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/me/reflow/pkg/model"
)

// handleScheduleUpdate schedules a render of a new tree.
// POST /api/v1/updates
//
// The body names the tree inline, references a stored scene, or omits both to
// re-render the current tree. ?wait=true blocks until the update reaches a
// terminal state (bounded by the server's wait timeout).
func (s *Server) handleScheduleUpdate(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req model.ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "Invalid JSON body: " + err.Error(),
		})
		return
	}

	if req.Tree != nil && req.Scene != "" {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("tree and scene are mutually exclusive",
				model.FieldError{Field: "scene", Message: "provide an inline tree or a scene name, not both"}))
		return
	}
	if req.Priority != "" && !req.Priority.Valid() {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("unknown priority",
				model.FieldError{Field: "priority", Message: "want IMMEDIATE, USER_BLOCKING, NORMAL, LOW, or IDLE"}))
		return
	}

	tree := req.Tree
	if req.Scene != "" {
		sc, err := s.store.GetScene(r.Context(), req.Scene)
		if err != nil {
			respondError(w, reqID, http.StatusInternalServerError,
				&model.APIError{Code: model.ErrInternal, Message: err.Error()})
			return
		}
		if sc == nil {
			respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("scene", req.Scene))
			return
		}
		tree = sc.Tree
	}

	if req.Sync {
		st, err := s.engine.ScheduleSync(tree)
		if err != nil {
			s.logger.Warn("sync update dropped", "update_id", st.ID, "error", err)
		}
		respondCreated(w, reqID, st)
		return
	}

	wait := r.URL.Query().Get("wait") == "true"

	var committed chan model.Frame
	var onCommit func(model.Frame)
	if wait {
		committed = make(chan model.Frame, 1)
		onCommit = func(f model.Frame) { committed <- f }
	}

	st := s.engine.Schedule(tree, req.Priority, onCommit)
	if !wait || st.State.IsTerminal() {
		respondCreated(w, reqID, st)
		return
	}

	// Suspended past the flush inside Schedule. Wait for the commit, the
	// client going away, or the timeout; whichever fires, report the status
	// as it stands then.
	timer := time.NewTimer(s.waitTimeout)
	defer timer.Stop()

	select {
	case <-committed:
	case <-r.Context().Done():
	case <-timer.C:
	}

	if latest, ok := s.engine.Update(st.ID); ok {
		st = latest
	}
	respondCreated(w, reqID, st)
}

// handleListUpdates lists update statuses in arrival order.
// GET /api/v1/updates
func (s *Server) handleListUpdates(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	opts := listOptionsFromQuery(r)

	all := s.engine.Updates()
	if opts.State != "" {
		filtered := all[:0]
		for _, u := range all {
			if string(u.State) == opts.State {
				filtered = append(filtered, u)
			}
		}
		all = filtered
	}

	total := len(all)
	page := all[min(opts.Offset, total):min(opts.Offset+opts.Limit, total)]

	respondList(w, reqID, page, &model.Pagination{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+opts.Limit < total,
	})
}

// handleGetUpdate returns one update's status.
// GET /api/v1/updates/{id}
func (s *Server) handleGetUpdate(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	st, ok := s.engine.Update(id)
	if !ok {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("update", id))
		return
	}
	respondOK(w, reqID, st)
}

// listOptionsFromQuery reads limit/offset/state query parameters.
func listOptionsFromQuery(r *http.Request) model.ListOptions {
	opts := model.DefaultListOptions()
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Offset = n
		}
	}
	opts.State = r.URL.Query().Get("state")
	opts.Clamp()
	return opts
}
