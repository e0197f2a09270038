package cache

import (
	"time"

	"github.com/me/reflow/internal/clock"
	"github.com/me/reflow/pkg/model"
)

// Record is one resource as a lookup-backed fetcher sees it: the value to
// deliver and how long the simulated load takes.
type Record struct {
	Value   string
	Latency time.Duration
}

// TimedFetcher loads keys through a lookup function and delivers the result
// after the record's latency has elapsed on the virtual clock. The lookup
// runs when the fetch starts, so a catalog update during flight does not
// change an in-flight result; invalidation is the way to pick up new values.
type TimedFetcher struct {
	Clock  *clock.Virtual
	Lookup func(key string) (Record, error)
}

// Fetch implements Fetcher. Lookup failures are still delivered through a
// zero-delay timer so rejections surface asynchronously like any other
// completion.
func (f *TimedFetcher) Fetch(key string, deliver func(Result)) {
	rec, err := f.Lookup(key)
	if err != nil {
		f.Clock.AfterFunc(0, func() { deliver(Result{Err: err}) })
		return
	}
	f.Clock.AfterFunc(rec.Latency, func() { deliver(Result{Value: rec.Value}) })
}

// StaticFetcher serves a fixed value set with a uniform latency. Keys in
// Errs reject instead; keys in neither map reject with NOT_FOUND. Used by
// the CLI render command and tests.
type StaticFetcher struct {
	Clock   *clock.Virtual
	Values  map[string]string
	Errs    map[string]error
	Latency time.Duration
}

// Fetch implements Fetcher.
func (f *StaticFetcher) Fetch(key string, deliver func(Result)) {
	f.Clock.AfterFunc(f.Latency, func() {
		if err, ok := f.Errs[key]; ok {
			deliver(Result{Err: err})
			return
		}
		v, ok := f.Values[key]
		if !ok {
			deliver(Result{Err: model.NewNotFoundError("Resource", key)})
			return
		}
		deliver(Result{Value: v})
	})
}
