package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/me/reflow/internal/cache"
	"github.com/me/reflow/internal/commit"
	"github.com/me/reflow/internal/worktree"
	"github.com/me/reflow/pkg/model"
)

// errPreempted aborts a pass whose update has been outranked mid-walk.
var errPreempted = errors.New("render pass preempted")

// fatalError aborts the walk and drops the update; no handler can catch it.
type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// unwindError carries a render failure up toward the nearest enclosing
// element with an error handler.
type unwindError struct{ re *model.RenderError }

func (e *unwindError) Error() string { return e.re.Error() }
func (e *unwindError) Unwrap() error { return e.re }

// boundaryFrame tracks one enclosing fallback-owning boundary during the
// walk; suspensions below it register their keys here.
type boundaryFrame struct {
	el   *model.Element
	path string
	id   worktree.NodeID
	keys map[string]bool
}

// pass is the scratch state of one render walk.
type pass struct {
	u *Update

	// fresh marks externally scheduled passes, which reset boundary
	// deadlines; ping-driven retries and resumed walks keep them.
	fresh bool

	frames    []*boundaryFrame
	pending   map[string][]string // boundary path -> blocking keys, parked boundaries
	fallbacks []string            // boundary paths whose fallback this pass shows
	visited   map[string]bool     // every fallback-owning boundary path seen
}

func (p *pass) top() *boundaryFrame {
	if len(p.frames) == 0 {
		return nil
	}
	return p.frames[len(p.frames)-1]
}

// renderUpdate runs one full pass for u: walk the tree, then park, drop or
// commit.
func (s *Scheduler) renderUpdate(u *Update) {
	root := u.Tree
	if root == nil {
		root = s.tree
	}
	s.preempt = false
	s.active = u
	defer func() { s.active = nil }()

	s.arena.Reset()
	p := &pass{
		u:       u,
		fresh:   !u.walked && !u.retry,
		pending: make(map[string][]string),
		visited: make(map[string]bool),
	}
	s.logger.Debug("render pass started", "update_id", u.ID, "fresh", p.fresh)

	rootID := worktree.None
	var err error
	if root != nil {
		rootID, err = s.render(p, root, "0")
	}
	if errors.Is(err, errPreempted) {
		// The pass is abandoned wholesale; the update stays queued and the
		// higher-priority one runs first. Cache entries fetched so far stay
		// warm for the rerun.
		s.arena.Reset()
		s.logger.Info("render pass abandoned", "update_id", u.ID)
		return
	}
	u.walked = true
	if err != nil {
		s.dropUpdate(u, err)
		s.arena.Reset()
		return
	}
	if rootID != worktree.None {
		s.arena.SetRoot(rootID)
	}
	if len(p.pending) > 0 {
		s.parkUpdate(u, p)
		return
	}
	s.commitPass(u, p)
}

// dropUpdate marks u terminally failed. The previously committed tree stays
// in place untouched.
func (s *Scheduler) dropUpdate(u *Update, err error) {
	var fe *fatalError
	var uw *unwindError
	switch {
	case errors.As(err, &fe):
		u.fail(fe.err)
	case errors.As(err, &uw):
		u.fail(uw.re)
	default:
		u.fail(err)
	}
	s.logger.Error("update dropped", "update_id", u.ID, "error", u.Err)
}

// parkUpdate suspends u until every blocking key resolves or a deadline
// crossing forces it back into the queue.
func (s *Scheduler) parkUpdate(u *Update, p *pass) {
	u.State = model.UpdateSuspended
	u.pendingPaths = u.pendingPaths[:0]
	blocked := make(map[string]bool)
	for path, keys := range p.pending {
		u.pendingPaths = append(u.pendingPaths, path)
		for _, key := range keys {
			blocked[key] = true
		}
	}
	sort.Strings(u.pendingPaths)
	u.blockedOn = blocked
	keys := sortedKeys(blocked)
	s.logger.Info("update parked",
		"update_id", u.ID, "blocked_on", strings.Join(keys, ","))
	// Subscribing can notify synchronously if a key settled between the read
	// and here; pingUpdate requeues the update in that case.
	for _, key := range keys {
		s.cache.Subscribe(key, u.ID, s.pingUpdate(u))
	}
}

// commitPass diffs the pass against the committed tree and applies the
// resulting frame atomically.
func (s *Scheduler) commitPass(u *Update, p *pass) {
	next := s.arena.Visible()
	muts := commit.Diff(s.prev, next)
	s.frameSeq++
	frame := model.Frame{
		Seq:       s.frameSeq,
		TimeMS:    s.clock.NowMS(),
		UpdateID:  u.ID,
		Mutations: muts,
		Tree:      next,
	}
	if s.host != nil {
		if err := s.host.Apply(frame); err != nil {
			s.logger.Error("host apply failed", "frame_seq", frame.Seq, "error", err)
		}
	}
	s.prev = next
	if u.Tree != nil {
		s.tree = u.Tree
	}
	u.State = model.UpdateCommitted
	u.FrameSeq = frame.Seq
	u.CommittedAt = s.clock.Now()
	u.blockedOn = nil
	u.pendingPaths = nil

	// A fallback-showing boundary subscribes for recovery pings only once
	// its fallback is actually on screen.
	for _, path := range p.fallbacks {
		b, ok := s.boundaries[path]
		if !ok {
			continue
		}
		for _, key := range sortedKeys(b.blockedOn) {
			s.cache.Subscribe(key, "bnd:"+path, s.pingBoundary(b))
		}
	}
	s.sweepBoundaries(p)
	s.logger.Info("update committed",
		"update_id", u.ID, "frame_seq", frame.Seq, "mutations", len(muts))
	if s.onFrame != nil {
		s.onFrame(frame)
	}
	if u.OnCommit != nil {
		u.OnCommit(frame)
	}
}

// render walks one element into the arena and returns its node ID. An
// element whose descendants fail terminally may replace the failed subtree
// through its OnError handler; failures of the element itself propagate up.
func (s *Scheduler) render(p *pass, el *model.Element, path string) (worktree.NodeID, error) {
	if s.preempt {
		return worktree.None, errPreempted
	}
	id, err := s.renderElement(p, el, path)
	if err == nil {
		return id, nil
	}
	var uw *unwindError
	if errors.As(err, &uw) && el.OnError != nil && uw.re.Path != path {
		if repl := el.OnError(uw.re); repl != nil {
			s.logger.Info("render error handled",
				"path", path, "origin", uw.re.Path, "error", uw.re.Err)
			nid := s.arena.Alloc(worktree.Node{
				Kind:  el.Kind,
				Key:   el.Key,
				Path:  path,
				State: model.WorkStateComplete,
			})
			cid, cerr := s.render(p, repl, path+".e")
			if cerr != nil {
				return worktree.None, cerr
			}
			s.arena.AppendChild(nid, cid)
			return nid, nil
		}
	}
	return worktree.None, err
}

func (s *Scheduler) renderElement(p *pass, el *model.Element, path string) (worktree.NodeID, error) {
	switch el.Kind {
	case model.KindText:
		return s.arena.Alloc(worktree.Node{
			Kind:  el.Kind,
			Key:   el.Key,
			Path:  path,
			Text:  el.Text,
			State: model.WorkStateComplete,
		}), nil

	case model.KindGroup:
		id := s.arena.Alloc(worktree.Node{
			Kind:  el.Kind,
			Key:   el.Key,
			Path:  path,
			State: model.WorkStatePending,
		})
		if err := s.renderChildren(p, el, id, path); err != nil {
			return worktree.None, err
		}
		s.arena.Node(id).State = model.WorkStateComplete
		return id, nil

	case model.KindResource:
		return s.renderResource(p, el, path)

	case model.KindExpr:
		return s.renderExpr(p, el, path)

	case model.KindBoundary:
		return s.renderBoundary(p, el, path)

	case model.KindComponent:
		return s.renderComponent(p, el, path)
	}
	return worktree.None, &unwindError{re: &model.RenderError{
		Path: path,
		Err:  fmt.Errorf("unknown element kind %q", el.Kind),
	}}
}

func (s *Scheduler) renderChildren(p *pass, el *model.Element, id worktree.NodeID, path string) error {
	for i, child := range el.Children {
		cid, err := s.render(p, child, childPath(path, i))
		if err != nil {
			return err
		}
		s.arena.AppendChild(id, cid)
	}
	return nil
}

// renderResource reads the element's cache key; a miss suspends the leaf
// against the nearest fallback-owning boundary while siblings continue.
func (s *Scheduler) renderResource(p *pass, el *model.Element, path string) (worktree.NodeID, error) {
	id := s.arena.Alloc(worktree.Node{
		Kind:     el.Kind,
		Key:      el.Key,
		Path:     path,
		Resource: el.Resource,
		State:    model.WorkStatePending,
	})
	val, err := s.readOnce(path, el.Resource)
	if err != nil {
		var susp *cache.Suspension
		if errors.As(err, &susp) {
			return id, s.suspendOn(p, id, path, el.Resource)
		}
		return worktree.None, err
	}
	n := s.arena.Node(id)
	n.Text = val
	n.State = model.WorkStateComplete
	return id, nil
}

// readOnce reads key, retrying a rejection once before letting it unwind as
// a render error. Suspensions pass through untouched.
func (s *Scheduler) readOnce(path, key string) (string, error) {
	val, err := s.cache.Read(key)
	if err == nil {
		return val, nil
	}
	var susp *cache.Suspension
	if errors.As(err, &susp) {
		return "", err
	}
	s.logger.Warn("resource read failed, retrying once",
		"path", path, "key", key, "error", err)
	val, err = s.cache.Read(key)
	if err == nil {
		return val, nil
	}
	if errors.As(err, &susp) {
		return "", err
	}
	return "", &unwindError{re: &model.RenderError{Path: path, Err: err}}
}

// renderExpr reads every dependency, suspending on the pending ones, then
// evaluates the expression with the resolved values bound.
func (s *Scheduler) renderExpr(p *pass, el *model.Element, path string) (worktree.NodeID, error) {
	id := s.arena.Alloc(worktree.Node{
		Kind:  el.Kind,
		Key:   el.Key,
		Path:  path,
		State: model.WorkStatePending,
	})
	values := make(map[string]string, len(el.Uses))
	var missing []string
	for _, key := range el.Uses {
		val, err := s.readOnce(path, key)
		if err != nil {
			var susp *cache.Suspension
			if errors.As(err, &susp) {
				missing = append(missing, key)
				continue
			}
			return worktree.None, err
		}
		values[key] = val
	}
	if len(missing) > 0 {
		return id, s.suspendOn(p, id, path, missing...)
	}
	out, err := s.eval.Evaluate(el.Expr, values)
	if err != nil {
		s.logger.Warn("expression failed, retrying once", "path", path, "error", err)
		out, err = s.eval.Evaluate(el.Expr, values)
		if err != nil {
			return worktree.None, &unwindError{re: &model.RenderError{Path: path, Err: err}}
		}
	}
	n := s.arena.Node(id)
	n.Text = out
	n.State = model.WorkStateComplete
	return id, nil
}

// renderComponent invokes the element's render function and walks its
// output. A failing function is retried once.
func (s *Scheduler) renderComponent(p *pass, el *model.Element, path string) (worktree.NodeID, error) {
	if el.Render == nil {
		return worktree.None, &unwindError{re: &model.RenderError{
			Path: path,
			Err:  errors.New("component has no render function"),
		}}
	}
	id := s.arena.Alloc(worktree.Node{
		Kind:  el.Kind,
		Key:   el.Key,
		Path:  path,
		State: model.WorkStatePending,
	})
	out, err := el.Render()
	if err != nil {
		s.logger.Warn("component render failed, retrying once",
			"path", path, "error", err)
		out, err = el.Render()
		if err != nil {
			return worktree.None, &unwindError{re: &model.RenderError{Path: path, Err: err}}
		}
	}
	if out != nil {
		cid, cerr := s.render(p, out, childPath(path, 0))
		if cerr != nil {
			return worktree.None, cerr
		}
		s.arena.AppendChild(id, cid)
	}
	s.arena.Node(id).State = model.WorkStateComplete
	return id, nil
}

// renderBoundary renders the boundary's primary children; if any descendant
// suspended, decide between holding the update parked and committing the
// fallback. A boundary without a fallback is transparent and suspensions
// bubble to the next one above.
func (s *Scheduler) renderBoundary(p *pass, el *model.Element, path string) (worktree.NodeID, error) {
	id := s.arena.Alloc(worktree.Node{
		Kind:  el.Kind,
		Key:   el.Key,
		Path:  path,
		State: model.WorkStatePending,
	})
	if el.Fallback == nil {
		if err := s.renderChildren(p, el, id, path); err != nil {
			return worktree.None, err
		}
		s.arena.Node(id).State = model.WorkStateComplete
		return id, nil
	}

	p.visited[path] = true
	f := &boundaryFrame{el: el, path: path, id: id, keys: make(map[string]bool)}
	p.frames = append(p.frames, f)
	err := s.renderChildren(p, el, id, path)
	p.frames = p.frames[:len(p.frames)-1]
	if err != nil {
		return worktree.None, err
	}

	if len(f.keys) == 0 {
		s.recoverBoundary(path)
		s.arena.Node(id).State = model.WorkStateComplete
		return id, nil
	}
	if err := s.decideBoundary(p, f); err != nil {
		return worktree.None, err
	}
	return id, nil
}

// decideBoundary resolves a suspended boundary for this pass: keep the
// update parked while the effective deadline is in the future, or swap the
// fallback subtree in.
func (s *Scheduler) decideBoundary(p *pass, f *boundaryFrame) error {
	now := s.clock.Now()
	b, ok := s.boundaries[f.path]
	if !ok {
		b = &boundary{path: f.path, state: model.BoundaryActive}
		s.boundaries[f.path] = b
	}
	b.delay = f.el.Delay()
	if b.state == model.BoundaryActive {
		b.suspendedAt = now
		b.deadline = now + b.delay
	} else if p.fresh {
		// A fresh external update restarts the grace period; ping-driven
		// retries and resumed walks keep the original deadline.
		b.deadline = now + b.delay
	}
	b.blockedOn = make(map[string]bool, len(f.keys))
	for k := range f.keys {
		b.blockedOn[k] = true
	}
	b.retryPriority = p.u.Priority

	if !p.u.Sync && now < s.effectiveDeadline(p.u, b) {
		// A boundary already showing its fallback keeps showing it; parking
		// here only delays the restored content, never re-hides it.
		if b.state == model.BoundaryActive {
			s.transition(b, model.BoundarySuspendedPending)
		}
		s.arena.Node(f.id).State = model.WorkStateSuspended
		p.pending[f.path] = sortedKeys(f.keys)
		return nil
	}

	s.transition(b, model.BoundarySuspendedFallback)
	// Drop whatever the primary pass built and render the fallback in its
	// place. Suspensions inside the fallback escalate to the boundary above.
	n := s.arena.Node(f.id)
	n.FirstChild = worktree.None
	n.LastChild = worktree.None
	fid, err := s.render(p, f.el.Fallback, f.path+".f")
	if err != nil {
		return err
	}
	s.arena.AppendChild(f.id, fid)
	s.arena.Node(f.id).State = model.WorkStateComplete
	p.fallbacks = append(p.fallbacks, f.path)
	return nil
}

// suspendOn marks the arena node suspended and records each key against the
// nearest fallback-owning boundary. With no such boundary above, the walk
// aborts and the update is dropped.
func (s *Scheduler) suspendOn(p *pass, id worktree.NodeID, path string, keys ...string) error {
	n := s.arena.Node(id)
	n.State = model.WorkStateSuspended
	n.Resource = strings.Join(keys, ",")
	f := p.top()
	if f == nil {
		return &fatalError{err: &model.NoBoundaryError{
			UpdateID: p.u.ID,
			Path:     path,
			Resource: n.Resource,
		}}
	}
	for _, key := range keys {
		f.keys[key] = true
	}
	s.logger.Debug("unit suspended", "path", path, "keys", n.Resource, "boundary", f.path)
	return nil
}

func childPath(parent string, i int) string {
	return parent + "." + strconv.Itoa(i)
}
