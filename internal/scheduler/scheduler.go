// Package scheduler implements the priority-ordered render loop. Updates
// enter a queue tagged with a priority and an expiration; Flush walks the
// highest-priority update's element tree into a shadow arena, lets resource
// reads suspend against their nearest fallback-owning boundary, and either
// commits the pass atomically, parks the update until a resource ping or a
// deadline crossing, or drops it on a terminal error.
//
// The scheduler is single-owner: every method must be called from the one
// goroutine that drives it (the engine serializes external callers onto its
// own goroutine). There is no locking because there is no parallelism, only
// interleaved cooperative steps.
package scheduler

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/me/reflow/internal/cache"
	"github.com/me/reflow/internal/clock"
	"github.com/me/reflow/internal/commit"
	"github.com/me/reflow/internal/expr"
	"github.com/me/reflow/internal/worktree"
	"github.com/me/reflow/pkg/model"
)

// maxFlushPasses bounds one Flush call; render callbacks that keep
// scheduling work cannot wedge the loop.
const maxFlushPasses = 1000

// Host applies committed frames to a visible surface. Implementations are
// synchronous and must not suspend.
type Host interface {
	Apply(frame model.Frame) error
}

// Config holds scheduler configuration.
type Config struct {
	Clock     *clock.Virtual
	Cache     *cache.Cache
	Host      Host            // may be nil; commits are then only observable via OnFrame
	Evaluator *expr.Evaluator // defaults to an evaluator with no prelude
	OnFrame   func(model.Frame)
}

// Scheduler owns the update queue, the persistent boundary states and the
// committed tree. Not goroutine-safe; see package doc.
type Scheduler struct {
	logger  *slog.Logger
	clock   *clock.Virtual
	cache   *cache.Cache
	host    Host
	eval    *expr.Evaluator
	onFrame func(model.Frame)

	arena      *worktree.Tree
	boundaries map[string]*boundary
	order      []*Update
	byID       map[string]*Update
	needsRetry map[string]bool

	// tree is the element tree of record: the root carried by the last
	// committed update that supplied one. prev is its committed rendering.
	tree *model.Element
	prev *model.RenderedNode

	seq        int64
	frameSeq   int64
	active     *Update
	preempt    bool
	flushing   bool
	batchDepth int
}

// New creates a scheduler. cfg.Clock and cfg.Cache are required.
func New(cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Evaluator == nil {
		cfg.Evaluator = expr.New(nil)
	}
	return &Scheduler{
		logger:     logger.With("component", "scheduler"),
		clock:      cfg.Clock,
		cache:      cfg.Cache,
		host:       cfg.Host,
		eval:       cfg.Evaluator,
		onFrame:    cfg.OnFrame,
		arena:      worktree.New(),
		boundaries: make(map[string]*boundary),
		byID:       make(map[string]*Update),
		needsRetry: make(map[string]bool),
		prev:       commit.EmptyTree(),
	}
}

// ScheduleUpdate enqueues a render of tree at the given priority and returns
// without flushing; call Flush (or Batch) to process the queue. A nil tree
// re-renders the current tree of record. Scheduling from inside a render
// callback is allowed and preempts the in-progress pass when the new
// priority is higher.
func (s *Scheduler) ScheduleUpdate(tree *model.Element, priority model.Priority) *Update {
	u := s.newUpdate(tree, priority)
	s.logger.Info("update scheduled",
		"update_id", u.ID, "priority", u.Priority, "sync", false)
	if s.active != nil && u.Priority.Preempts(s.active.Priority) {
		s.preempt = true
		s.logger.Info("preempting in-progress pass",
			"update_id", s.active.ID, "preempted_by", u.ID)
	}
	return u
}

// ScheduleSync enqueues tree as a synchronous update and flushes at once:
// any suspension inside the pass commits the owning boundary's fallback
// immediately instead of waiting out its delay. The returned error is the
// update's own terminal error, if it was dropped.
func (s *Scheduler) ScheduleSync(tree *model.Element) (*Update, error) {
	u := s.newUpdate(tree, model.PriorityImmediate)
	u.Sync = true
	s.logger.Info("update scheduled", "update_id", u.ID, "priority", u.Priority, "sync", true)
	if err := s.Flush(); err != nil {
		return u, err
	}
	if u.State == model.UpdateDropped {
		return u, u.Err
	}
	return u, nil
}

// Batch runs fn, which may schedule any number of updates, then flushes
// once. Nested batches flush at the outermost level.
func (s *Scheduler) Batch(fn func()) error {
	s.batchDepth++
	fn()
	s.batchDepth--
	if s.batchDepth > 0 {
		return nil
	}
	return s.Flush()
}

func (s *Scheduler) newUpdate(tree *model.Element, priority model.Priority) *Update {
	if !priority.Valid() {
		priority = model.PriorityNormal
	}
	s.seq++
	now := s.clock.Now()
	u := &Update{
		ID:        "upd_" + uuid.New().String(),
		Seq:       s.seq,
		Priority:  priority,
		State:     model.UpdateQueued,
		Tree:      tree,
		CreatedAt: now,
	}
	if timeout, ok := priority.Timeout(); ok {
		u.Expiration = now + timeout
		u.HasExpiration = true
	}
	s.order = append(s.order, u)
	s.byID[u.ID] = u
	return u
}

// Flush drains the queue: materialize coalesced retry pings, pick the
// highest-priority runnable update, render it, repeat until nothing is
// runnable. Reentrant calls (from render callbacks) are no-ops; the
// outermost flush keeps draining.
func (s *Scheduler) Flush() error {
	if s.flushing {
		return nil
	}
	s.flushing = true
	defer func() { s.flushing = false }()

	for passes := 0; ; passes++ {
		if passes >= maxFlushPasses {
			return fmt.Errorf("flush did not settle after %d passes", maxFlushPasses)
		}
		s.materializeRetries()
		u := s.nextRunnable()
		if u == nil {
			return nil
		}
		s.renderUpdate(u)
	}
}

// nextRunnable returns the queued update with the highest priority, breaking
// ties by arrival order.
func (s *Scheduler) nextRunnable() *Update {
	var best *Update
	for _, u := range s.order {
		if u.State != model.UpdateQueued {
			continue
		}
		if best == nil || u.Priority.Preempts(best.Priority) {
			best = u
		}
	}
	return best
}

// materializeRetries turns boundary pings that arrived since the last pass
// into a single re-render update over the current tree, at the highest
// priority among the pinged boundaries.
func (s *Scheduler) materializeRetries() {
	if len(s.needsRetry) == 0 {
		return
	}
	paths := sortedKeys(s.needsRetry)
	s.needsRetry = make(map[string]bool)

	var live []string
	var prio model.Priority
	for _, path := range paths {
		b, ok := s.boundaries[path]
		if !ok {
			continue
		}
		live = append(live, path)
		if prio == "" || b.retryPriority.Preempts(prio) {
			prio = b.retryPriority
		}
	}
	// A commit between the ping and this pass may have swept every pinged
	// boundary; there is no fallback left to restore.
	if len(live) == 0 {
		s.logger.Debug("retry pings dropped, boundaries swept",
			"paths", strings.Join(paths, ","))
		return
	}
	u := s.newUpdate(nil, prio)
	u.retry = true
	s.logger.Info("retry update scheduled",
		"update_id", u.ID, "priority", prio, "boundaries", strings.Join(live, ","))
}

// Expire advances the virtual clock by d, firing due fetch timers, then
// unparks every suspended update whose expiration or whose blocking
// boundary's deadline has been crossed. It returns the IDs of all updates
// made runnable, whether by resolution pings or by deadline crossings; the
// next Flush processes them.
func (s *Scheduler) Expire(d time.Duration) []string {
	wasSuspended := make(map[string]bool)
	for _, u := range s.order {
		if u.State == model.UpdateSuspended {
			wasSuspended[u.ID] = true
		}
	}

	// Advancing fires fetch timers; their pings may requeue parked updates
	// before the deadline scan below runs.
	s.clock.Advance(d)
	now := s.clock.Now()

	for _, u := range s.order {
		if u.State != model.UpdateSuspended {
			continue
		}
		if s.deadlineCrossed(u, now) {
			u.State = model.UpdateQueued
			s.logger.Info("deadline crossed, update forced runnable",
				"update_id", u.ID, "now_ms", now.Milliseconds())
		}
	}

	var unblocked []string
	for _, u := range s.order {
		if wasSuspended[u.ID] && u.State == model.UpdateQueued {
			unblocked = append(unblocked, u.ID)
		}
	}
	return unblocked
}

func (s *Scheduler) deadlineCrossed(u *Update, now time.Duration) bool {
	if u.HasExpiration && now >= u.Expiration {
		return true
	}
	for _, path := range u.pendingPaths {
		b, ok := s.boundaries[path]
		if !ok {
			continue
		}
		// A boundary already showing its fallback has spent its deadline;
		// only a resource ping or the update's expiration moves it.
		if b.state == model.BoundarySuspendedFallback {
			continue
		}
		if now >= s.effectiveDeadline(u, b) {
			return true
		}
	}
	return false
}

// pingUpdate returns the cache waiter for a parked update: once every
// blocking key has resolved the update re-enters the queue.
func (s *Scheduler) pingUpdate(u *Update) func(key string) {
	return func(key string) {
		if u.State != model.UpdateSuspended || !u.blockedOn[key] {
			return
		}
		delete(u.blockedOn, key)
		s.logger.Debug("resource resolved for parked update",
			"update_id", u.ID, "key", key, "remaining", len(u.blockedOn))
		if len(u.blockedOn) == 0 {
			u.State = model.UpdateQueued
			s.logger.Info("update unblocked", "update_id", u.ID)
		}
	}
}

// pingBoundary returns the cache waiter for a boundary that committed its
// fallback: once every blocking key has resolved, a coalesced retry update
// is requested to restore the primary content.
func (s *Scheduler) pingBoundary(b *boundary) func(key string) {
	return func(key string) {
		if !b.blockedOn[key] {
			return
		}
		delete(b.blockedOn, key)
		if len(b.blockedOn) == 0 {
			s.needsRetry[b.path] = true
			s.logger.Info("boundary resources resolved, retry pending", "path", b.path)
		}
	}
}

// Update returns the update with the given ID.
func (s *Scheduler) Update(id string) (*Update, bool) {
	u, ok := s.byID[id]
	return u, ok
}

// Updates lists all updates in arrival order, including terminal ones.
func (s *Scheduler) Updates() []*Update {
	out := make([]*Update, len(s.order))
	copy(out, s.order)
	return out
}

// Tree returns the last committed tree. Callers must not modify it.
func (s *Scheduler) Tree() *model.RenderedNode {
	return s.prev
}

// Now returns the virtual clock reading.
func (s *Scheduler) Now() time.Duration {
	return s.clock.Now()
}

// FrameSeq returns the sequence number of the last committed frame.
func (s *Scheduler) FrameSeq() int64 {
	return s.frameSeq
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
