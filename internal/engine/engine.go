// Package engine wraps the clock, cache and scheduler behind one mutex so
// callers on arbitrary goroutines (HTTP handlers, the tick loop, tests) take
// cooperative turns driving the core. Nothing inside the core runs in
// parallel; the engine is the serialization point the core's single-owner
// contract relies on.
//
// The engine drives time two ways. In virtual mode the caller advances the
// clock explicitly with Advance. In tick mode, Start maps wall-clock ticks
// onto the same Advance call, so a running server behaves like a test that
// advances time in fixed steps.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/me/reflow/internal/cache"
	"github.com/me/reflow/internal/clock"
	"github.com/me/reflow/internal/expr"
	"github.com/me/reflow/internal/host"
	"github.com/me/reflow/internal/scheduler"
	"github.com/me/reflow/pkg/model"
)

// defaultFrameHistory is how many committed frames the engine retains for
// catch-up reads when the config does not say otherwise.
const defaultFrameHistory = 256

// Config holds engine configuration.
type Config struct {
	// Clock defaults to a fresh virtual clock at zero.
	Clock *clock.Virtual

	// Fetcher loads resource cache misses. Defaults to a fetcher that
	// rejects every key with NOT_FOUND.
	Fetcher cache.Fetcher

	// Host, when set, receives committed frames in addition to the engine's
	// own frame history.
	Host scheduler.Host

	// Evaluator runs expression leaves. Defaults to one with no prelude.
	Evaluator *expr.Evaluator

	// Tick is how much virtual time each wall tick of Start advances. Zero
	// leaves the engine in virtual mode, where only Advance moves the clock.
	Tick time.Duration

	// FrameHistory bounds the retained frame log (default 256).
	FrameHistory int
}

// Engine owns one scheduler session. All exported methods are safe for
// concurrent use.
type Engine struct {
	logger *slog.Logger
	cfg    Config

	mu       sync.Mutex
	clock    *clock.Virtual
	cache    *cache.Cache
	sched    *scheduler.Scheduler
	recorder *host.Recorder
	subs     map[int64]chan model.Frame
	nextSub  int64
	started  bool
	stopped  bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New assembles an engine from cfg.
func New(cfg Config, logger *slog.Logger) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = &cache.StaticFetcher{Clock: cfg.Clock}
	}
	if cfg.FrameHistory <= 0 {
		cfg.FrameHistory = defaultFrameHistory
	}

	e := &Engine{
		logger:   logger.With("component", "engine"),
		cfg:      cfg,
		clock:    cfg.Clock,
		recorder: host.NewCappedRecorder(cfg.FrameHistory),
		subs:     make(map[int64]chan model.Frame),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	e.cache = cache.New(cfg.Fetcher, logger)

	var h scheduler.Host = e.recorder
	if cfg.Host != nil {
		h = host.Tee{e.recorder, cfg.Host}
	}
	e.sched = scheduler.New(scheduler.Config{
		Clock:     e.clock,
		Cache:     e.cache,
		Host:      h,
		Evaluator: cfg.Evaluator,
		OnFrame:   e.fanout,
	}, logger)
	return e
}

// Schedule enqueues a render of tree at the given priority and flushes. The
// returned status is a snapshot; look the update up by ID for later state.
//
// onCommit, when non-nil, runs right after the update's frame commits. It is
// invoked with the engine lock held and must not call back into the engine;
// hand the frame off (a buffered channel) and return.
func (e *Engine) Schedule(tree *model.Element, priority model.Priority, onCommit func(model.Frame)) model.UpdateStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	u := e.sched.ScheduleUpdate(tree, priority)
	u.OnCommit = onCommit
	e.flush()
	return u.Status()
}

// ScheduleSync runs tree as a forced-synchronous update: suspensions show
// fallbacks immediately instead of waiting out boundary delays. The returned
// status is terminal.
func (e *Engine) ScheduleSync(tree *model.Element) (model.UpdateStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, err := e.sched.ScheduleSync(tree)
	return u.Status(), err
}

// Advance moves the virtual clock forward by d, firing due fetch timers and
// deadline crossings, then flushes whatever became runnable. It returns the
// IDs of updates the crossing unblocked.
func (e *Engine) Advance(d time.Duration) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	unblocked := e.sched.Expire(d)
	e.flush()
	return unblocked
}

// flush drains the queue, logging the give-up error Flush reserves for render
// callbacks that keep scheduling work forever.
func (e *Engine) flush() {
	if err := e.sched.Flush(); err != nil {
		e.logger.Error("flush aborted", "error", err)
	}
}

// Start runs the tick loop: every cfg.Tick of wall time advances the virtual
// clock by the same amount. Blocks until ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.cfg.Tick <= 0 {
		e.mu.Unlock()
		return fmt.Errorf("engine is in virtual mode (no tick interval configured)")
	}
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	e.started = true
	e.mu.Unlock()

	e.logger.Info("engine started", "tick", e.cfg.Tick)
	ticker := time.NewTicker(e.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping (context cancelled)")
			close(e.doneCh)
			return ctx.Err()
		case <-e.stopCh:
			e.logger.Info("engine stopping (stop called)")
			close(e.doneCh)
			return nil
		case <-ticker.C:
			e.Advance(e.cfg.Tick)
		}
	}
}

// Stop shuts the tick loop down and waits for the in-progress tick to finish.
// Safe to call when the loop never started.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.started || e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	e.mu.Unlock()

	close(e.stopCh)
	<-e.doneCh
	return nil
}

// Subscribe registers a frame listener. Frames committed after the call are
// delivered in order on the returned channel; a subscriber that falls more
// than buffer frames behind has frames dropped (any later frame carries the
// full tree, so the view resynchronizes on its own).
func (e *Engine) Subscribe(buffer int) (int64, <-chan model.Frame) {
	if buffer <= 0 {
		buffer = 16
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextSub++
	ch := make(chan model.Frame, buffer)
	e.subs[e.nextSub] = ch
	return e.nextSub, ch
}

// Unsubscribe removes the listener and closes its channel.
func (e *Engine) Unsubscribe(id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ch, ok := e.subs[id]; ok {
		delete(e.subs, id)
		close(ch)
	}
}

// fanout runs inside commit with the engine lock held.
func (e *Engine) fanout(f model.Frame) {
	for id, ch := range e.subs {
		select {
		case ch <- f:
		default:
			e.logger.Warn("subscriber lagging, frame dropped", "subscriber", id, "frame_seq", f.Seq)
		}
	}
}

// Update returns a status snapshot of the update with the given ID.
func (e *Engine) Update(id string) (model.UpdateStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, ok := e.sched.Update(id)
	if !ok {
		return model.UpdateStatus{}, false
	}
	return u.Status(), true
}

// Updates lists status snapshots of all updates in arrival order.
func (e *Engine) Updates() []model.UpdateStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	updates := e.sched.Updates()
	out := make([]model.UpdateStatus, len(updates))
	for i, u := range updates {
		out[i] = u.Status()
	}
	return out
}

// Tree returns a copy of the last committed tree.
func (e *Engine) Tree() *model.RenderedNode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sched.Tree().Clone()
}

// Boundaries lists the persistent boundary states.
func (e *Engine) Boundaries() []scheduler.BoundaryInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sched.Boundaries()
}

// CacheSnapshot lists the live cache entries.
func (e *Engine) CacheSnapshot() []cache.EntryInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache.Snapshot()
}

// CacheEpoch returns the cache invalidation epoch.
func (e *Engine) CacheEpoch() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache.Epoch()
}

// Invalidate discards the cache entry for key so the next read refetches.
func (e *Engine) Invalidate(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache.Invalidate(key)
}

// InvalidateAll discards every settled cache entry and returns the count.
func (e *Engine) InvalidateAll() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache.InvalidateAll()
}

// Time reports the virtual clock reading and the timers it still holds.
func (e *Engine) Time() model.TimeStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := model.TimeStatus{NowMS: e.clock.NowMS()}
	for _, due := range e.clock.Pending() {
		st.PendingMS = append(st.PendingMS, due.Milliseconds())
	}
	return st
}

// FrameSeq returns the sequence number of the last committed frame.
func (e *Engine) FrameSeq() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sched.FrameSeq()
}

// FramesSince returns retained frames with sequence numbers greater than seq.
func (e *Engine) FramesSince(seq int64) []model.Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recorder.Since(seq)
}

// LastFrame returns the most recent committed frame.
func (e *Engine) LastFrame() (model.Frame, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recorder.Last()
}
