package model

// WorkState represents the completion status of a single unit of work inside
// a render pass.
type WorkState string

const (
	WorkStatePending   WorkState = "PENDING"
	WorkStateComplete  WorkState = "COMPLETE"
	WorkStateSuspended WorkState = "SUSPENDED"
	WorkStateErrored   WorkState = "ERRORED"
)

// String returns the string representation of the work state.
func (s WorkState) String() string {
	return string(s)
}

// BoundaryState represents the lifecycle state of a boundary: whether its
// primary children or its fallback content is the active view.
type BoundaryState string

const (
	// BoundaryActive means the primary children render normally.
	BoundaryActive BoundaryState = "ACTIVE"

	// BoundarySuspendedPending means a descendant suspended but the
	// boundary's deadline has not been reached; nothing committed yet.
	BoundarySuspendedPending BoundaryState = "SUSPENDED_PENDING"

	// BoundarySuspendedFallback means the deadline elapsed (or the render
	// ran in forced-synchronous mode) and the fallback is the committed view.
	BoundarySuspendedFallback BoundaryState = "SUSPENDED_FALLBACK"
)

// String returns the string representation of the boundary state.
func (s BoundaryState) String() string {
	return string(s)
}

// ValidBoundaryTransitions defines the allowed state transitions for Boundaries.
//
// Recovery (back to ACTIVE) is legal from both suspended states the instant
// every blocking resource has resolved and a re-render of the primary subtree
// completes without suspending again; it never waits for the deadline.
var ValidBoundaryTransitions = map[BoundaryState][]BoundaryState{
	BoundaryActive:            {BoundarySuspendedPending, BoundarySuspendedFallback},
	BoundarySuspendedPending:  {BoundarySuspendedFallback, BoundaryActive},
	BoundarySuspendedFallback: {BoundaryActive},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s BoundaryState) CanTransitionTo(next BoundaryState) bool {
	for _, allowed := range ValidBoundaryTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// UpdateState represents the lifecycle state of a scheduled update.
type UpdateState string

const (
	// UpdateQueued means the update is waiting for a flush to process it.
	UpdateQueued UpdateState = "QUEUED"

	// UpdateSuspended means a render pass completed its walk but at least
	// one boundary is suspended within its deadline, so nothing committed;
	// the update is parked until a ping or a deadline crossing.
	UpdateSuspended UpdateState = "SUSPENDED"

	// UpdateCommitted means the update's tree (possibly containing
	// fallbacks) was committed to the host.
	UpdateCommitted UpdateState = "COMMITTED"

	// UpdateDropped means the update failed terminally and was discarded;
	// the previously committed tree remains visible.
	UpdateDropped UpdateState = "DROPPED"
)

// String returns the string representation of the update state.
func (s UpdateState) String() string {
	return string(s)
}

// IsTerminal returns true if the update is in a final state.
func (s UpdateState) IsTerminal() bool {
	switch s {
	case UpdateCommitted, UpdateDropped:
		return true
	}
	return false
}
