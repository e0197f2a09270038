package scheduler

import (
	"math"
	"sort"
	"time"

	"github.com/me/reflow/pkg/model"
)

// boundary is the persistent state of one fallback-owning boundary element,
// keyed by its element path. It survives across passes so that deadlines
// measure from the first suspension, not from the latest retry, and is swept
// when a committed tree no longer contains it.
type boundary struct {
	path          string
	state         model.BoundaryState
	delay         time.Duration
	suspendedAt   time.Duration
	deadline      time.Duration
	blockedOn     map[string]bool
	retryPriority model.Priority
}

// transition moves the boundary to next, logging and refusing invalid moves.
func (s *Scheduler) transition(b *boundary, next model.BoundaryState) {
	if b.state == next {
		return
	}
	if !b.state.CanTransitionTo(next) {
		s.logger.Error("invalid boundary transition",
			"path", b.path, "from", b.state, "to", next)
		return
	}
	s.logger.Info("boundary state changed", "path", b.path, "from", b.state, "to", next)
	b.state = next
}

// recoverBoundary returns a previously suspended boundary to Active after a
// pass over its primary children completed clean.
func (s *Scheduler) recoverBoundary(path string) {
	b, ok := s.boundaries[path]
	if !ok || b.state == model.BoundaryActive {
		return
	}
	s.transition(b, model.BoundaryActive)
	b.blockedOn = nil
	b.suspendedAt = 0
	b.deadline = 0
}

// effectiveDeadline is the instant at which the boundary must stop holding
// back and show its fallback: the boundary's own delay-derived deadline when
// it has one, capped by the update's expiration. A boundary without a delay
// holds indefinitely and relies on the update's expiration alone.
func (s *Scheduler) effectiveDeadline(u *Update, b *boundary) time.Duration {
	eff := time.Duration(math.MaxInt64)
	if b.delay > 0 {
		eff = b.deadline
	}
	if u.HasExpiration && u.Expiration < eff {
		eff = u.Expiration
	}
	return eff
}

// sweepBoundaries drops persistent state for boundaries absent from the
// just-committed pass.
func (s *Scheduler) sweepBoundaries(p *pass) {
	for path := range s.boundaries {
		if !p.visited[path] {
			delete(s.boundaries, path)
			s.logger.Debug("boundary removed", "path", path)
		}
	}
}

// BoundaryInfo is the API view of one boundary's persistent state, as of the
// last render pass that touched it.
type BoundaryInfo struct {
	Path       string              `json:"path"`
	State      model.BoundaryState `json:"state"`
	DelayMS    int64               `json:"delay_ms,omitempty"`
	DeadlineMS int64               `json:"deadline_ms,omitempty"`
	BlockedOn  []string            `json:"blocked_on,omitempty"`
}

// Boundaries lists the persistent boundary states sorted by path.
func (s *Scheduler) Boundaries() []BoundaryInfo {
	paths := make([]string, 0, len(s.boundaries))
	for path := range s.boundaries {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	out := make([]BoundaryInfo, 0, len(paths))
	for _, path := range paths {
		b := s.boundaries[path]
		info := BoundaryInfo{
			Path:    b.path,
			State:   b.state,
			DelayMS: b.delay.Milliseconds(),
		}
		if b.state != model.BoundaryActive && b.delay > 0 {
			info.DeadlineMS = b.deadline.Milliseconds()
		}
		if len(b.blockedOn) > 0 {
			info.BlockedOn = sortedKeys(b.blockedOn)
		}
		out = append(out, info)
	}
	return out
}
