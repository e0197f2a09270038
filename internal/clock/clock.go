// Package clock implements the virtual time source that drives scheduling
// deadlines. Time never flows on its own: it moves only when Advance is
// called, so tests (and the engine's tick loop) control exactly when boundary
// delays elapse and update expirations fire.
//
// Timers registered with AfterFunc fire during Advance, in due order. While
// firing, the clock reads as the timer's own due time, so a callback that
// registers another timer sees a consistent now.
//
// Note: Virtual is not goroutine-safe. In this architecture each clock is
// owned by a single engine goroutine (or a single test); cross-goroutine
// access goes through the engine's intake channel.
package clock

import (
	"sort"
	"time"
)

// Virtual is an explicitly-advanced clock. Not goroutine-safe; see package doc.
type Virtual struct {
	now    time.Duration
	timers []*Timer
	nextID int64
}

// Timer is a pending callback registered with AfterFunc.
type Timer struct {
	id      int64
	due     time.Duration
	fn      func()
	stopped bool
	fired   bool
}

// New returns a clock positioned at zero.
func New() *Virtual {
	return &Virtual{}
}

// Now returns the current virtual time as an offset from zero.
func (v *Virtual) Now() time.Duration {
	return v.now
}

// NowMS returns the current virtual time in whole milliseconds.
func (v *Virtual) NowMS() int64 {
	return v.now.Milliseconds()
}

// AfterFunc registers fn to run once the clock has advanced by d. A zero or
// negative d fires on the next Advance call, not immediately. The returned
// Timer can be stopped before it fires.
func (v *Virtual) AfterFunc(d time.Duration, fn func()) *Timer {
	v.nextID++
	t := &Timer{id: v.nextID, due: v.now + d, fn: fn}
	v.timers = append(v.timers, t)
	return t
}

// Stop cancels the timer. It returns false if the timer already fired or was
// already stopped.
func (t *Timer) Stop() bool {
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock forward by d, firing every timer that becomes due,
// in due order (registration order breaks ties). The clock steps through each
// timer's due time before invoking it, so callbacks observe Now() equal to
// their own deadline, and timers they register are themselves eligible to
// fire within the same Advance if they fall inside the window.
func (v *Virtual) Advance(d time.Duration) {
	if d < 0 {
		d = 0
	}
	target := v.now + d
	for {
		t := v.popDue(target)
		if t == nil {
			break
		}
		if t.due > v.now {
			v.now = t.due
		}
		t.fired = true
		t.fn()
	}
	v.now = target
}

// popDue removes and returns the earliest live timer due at or before target,
// or nil if none remain in the window.
func (v *Virtual) popDue(target time.Duration) *Timer {
	best := -1
	for i, t := range v.timers {
		if t.stopped {
			continue
		}
		if t.due > target {
			continue
		}
		if best == -1 || t.due < v.timers[best].due || (t.due == v.timers[best].due && t.id < v.timers[best].id) {
			best = i
		}
	}
	if best == -1 {
		v.compact()
		return nil
	}
	t := v.timers[best]
	v.timers = append(v.timers[:best], v.timers[best+1:]...)
	return t
}

// compact drops stopped timers so long-lived clocks do not accumulate them.
func (v *Virtual) compact() {
	live := v.timers[:0]
	for _, t := range v.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	v.timers = live
}

// Pending returns the due times of live timers, soonest first. Used by
// status endpoints to report what the clock is waiting on.
func (v *Virtual) Pending() []time.Duration {
	var due []time.Duration
	for _, t := range v.timers {
		if !t.stopped {
			due = append(due, t.due)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i] < due[j] })
	return due
}
