package model

import "time"

// Response is the standard API response envelope.
type Response struct {
	Status     string      `json:"status"`
	RequestID  string      `json:"request_id"`
	Timestamp  time.Time   `json:"timestamp"`
	Data       any         `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Error      *APIError   `json:"error"`
}

// Pagination holds pagination metadata for list endpoints.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// ListOptions configures list queries with pagination and filtering.
type ListOptions struct {
	Limit  int
	Offset int
	State  string // Optional state filter
}

// DefaultListOptions returns sensible defaults.
func DefaultListOptions() ListOptions {
	return ListOptions{Limit: 20, Offset: 0}
}

// Clamp enforces limits (max 100, min 1).
func (o *ListOptions) Clamp() {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// ScheduleRequest asks the engine to schedule a new update.
type ScheduleRequest struct {
	// Tree is the new element tree for the root. Omitted for a re-render of
	// the current tree.
	Tree *Element `json:"tree,omitempty"`

	// Scene names a stored scene to load as the tree instead of providing
	// one inline.
	Scene string `json:"scene,omitempty"`

	Priority Priority `json:"priority,omitempty"`

	// Sync forces legacy blocking behavior: the update flushes immediately
	// and suspensions show fallbacks without waiting out boundary delays.
	Sync bool `json:"sync,omitempty"`
}

// UpdateStatus is the API view of a scheduled update.
type UpdateStatus struct {
	ID         string      `json:"id"`
	Priority   Priority    `json:"priority"`
	State      UpdateState `json:"state"`
	Sync       bool        `json:"sync,omitempty"`
	CreatedMS  int64       `json:"created_ms"`
	ExpiresMS  int64       `json:"expires_ms,omitempty"`
	BlockedOn  []string    `json:"blocked_on,omitempty"`
	FrameSeq   int64       `json:"frame_seq,omitempty"`
	Error      string      `json:"error,omitempty"`
	CommitTime int64       `json:"commit_time_ms,omitempty"`
}

// Resource is one catalog entry: a key, the value fetches resolve to, and
// the simulated fetch latency in virtual milliseconds.
type Resource struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	LatencyMS int       `json:"latency_ms"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TimeStatus reports the engine's virtual clock: the current reading and the
// due times of timers it is still waiting on.
type TimeStatus struct {
	NowMS     int64   `json:"now_ms"`
	PendingMS []int64 `json:"pending_ms,omitempty"`
}
