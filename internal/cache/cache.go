// Package cache implements the suspending resource cache. A read either
// returns a settled value, rethrows a recorded failure, or suspends: it
// starts (or joins) an in-flight fetch and returns a *Suspension error that
// the scheduler catches to park the work that hit it.
//
// Fetches are deduplicated per key, and every waiter subscribed to a pending
// fetch is notified exactly once when it completes, in subscription order.
// Invalidation discards settled entries immediately; an in-flight fetch is
// never cancelled, but its result arrives stale: the value is discarded, the
// entry evicted, and its waiters still notified so they re-read and start a
// fresh fetch.
//
// Note: Cache is not goroutine-safe. Each cache is owned by a single engine
// goroutine, and fetchers must call deliver on that goroutine (the
// clock-driven fetchers in this package do, since timers fire during the
// owner's Advance calls).
package cache

import (
	"fmt"
	"log/slog"
	"sort"
)

// Suspension is the error returned by Read while a fetch for the key is in
// flight. It is a control-flow signal, not a failure: callers detect it with
// errors.As, subscribe to the key, and park the work that hit it.
type Suspension struct {
	Key string
}

func (s *Suspension) Error() string {
	return fmt.Sprintf("resource '%s' is not ready", s.Key)
}

// Result is the outcome a Fetcher delivers for one fetch.
type Result struct {
	Value string
	Err   error
}

// Fetcher starts asynchronous resource loads. Fetch must call deliver
// exactly once, on the goroutine that owns the cache.
type Fetcher interface {
	Fetch(key string, deliver func(Result))
}

// EntryState represents the lifecycle state of a cache entry.
type EntryState string

const (
	EntryPending  EntryState = "PENDING"
	EntryResolved EntryState = "RESOLVED"
	EntryRejected EntryState = "REJECTED"
)

// String returns the string representation of the entry state.
func (s EntryState) String() string {
	return string(s)
}

type waiter struct {
	token string
	fn    func(key string)
}

type entry struct {
	key     string
	epoch   int64
	state   EntryState
	value   string
	err     error
	stale   bool
	waiters []waiter
	seen    map[string]bool
}

// staleAt reports whether the entry's eventual result must be discarded:
// either the whole cache was invalidated after the fetch started, or the
// key itself was.
func (e *entry) staleAt(epoch int64) bool {
	return e.stale || e.epoch != epoch
}

// Cache deduplicates fetches and serves settled values. Not goroutine-safe;
// see package doc.
type Cache struct {
	fetcher Fetcher
	logger  *slog.Logger
	entries map[string]*entry
	epoch   int64
}

// New creates a cache that loads misses through fetcher.
func New(fetcher Fetcher, logger *slog.Logger) *Cache {
	return &Cache{
		fetcher: fetcher,
		logger:  logger.With("component", "cache"),
		entries: make(map[string]*entry),
	}
}

// Read returns the cached value for key. A rejected entry rethrows the
// recorded error on every read. A miss starts a fetch and, like a hit on a
// pending entry, returns a *Suspension. Reads during an in-flight fetch
// always join it, even one already marked stale; the stale completion will
// notify them to read again.
//
// If the fetcher delivers synchronously inside Fetch, the settled result is
// returned directly and the read never suspends.
func (c *Cache) Read(key string) (string, error) {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{key: key, epoch: c.epoch, state: EntryPending, seen: make(map[string]bool)}
		c.entries[key] = e
		c.logger.Debug("starting fetch", "key", key)
		c.fetcher.Fetch(key, func(res Result) { c.deliver(e, res) })
	}
	switch e.state {
	case EntryResolved:
		return e.value, nil
	case EntryRejected:
		return "", e.err
	}
	return "", &Suspension{Key: key}
}

// Subscribe registers fn to run exactly once when the fetch for key
// completes, even if the completion arrives stale. Duplicate subscriptions
// with the same token are ignored and keep the original position in the
// notification order. Subscribing to a key that is not pending notifies
// immediately: the completion the caller would have waited for already
// happened.
func (c *Cache) Subscribe(key, token string, fn func(key string)) {
	e, ok := c.entries[key]
	if !ok || e.state != EntryPending {
		fn(key)
		return
	}
	if e.seen[token] {
		return
	}
	e.seen[token] = true
	e.waiters = append(e.waiters, waiter{token: token, fn: fn})
}

// Invalidate discards what the cache knows about key. A settled entry is
// removed so the next read starts a fresh fetch. A pending entry stays in
// place (the in-flight fetch is not cancelled and new reads keep joining it)
// but is marked stale, so its result is discarded on arrival. Returns true
// if an entry existed.
func (c *Cache) Invalidate(key string) bool {
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if e.state == EntryPending {
		e.stale = true
		c.logger.Debug("invalidated in-flight fetch", "key", key)
		return true
	}
	delete(c.entries, key)
	c.logger.Debug("invalidated entry", "key", key, "state", e.state)
	return true
}

// InvalidateAll bumps the cache epoch and discards every settled entry.
// Pending entries keep their in-flight fetches, which will arrive stale
// (their creation epoch no longer matches). Returns the number of settled
// entries discarded.
func (c *Cache) InvalidateAll() int {
	c.epoch++
	discarded := 0
	for key, e := range c.entries {
		if e.state != EntryPending {
			delete(c.entries, key)
			discarded++
		}
	}
	c.logger.Debug("invalidated cache", "epoch", c.epoch, "discarded", discarded)
	return discarded
}

// Epoch returns the invalidation epoch, incremented by each InvalidateAll.
func (c *Cache) Epoch() int64 {
	return c.epoch
}

// deliver settles a fetch. A stale completion is evicted instead of stored,
// but its waiters are still notified so they re-read.
func (c *Cache) deliver(e *entry, res Result) {
	if e.state != EntryPending {
		c.logger.Warn("ignoring duplicate delivery", "key", e.key)
		return
	}
	if res.Err != nil {
		e.state = EntryRejected
		e.err = res.Err
	} else {
		e.state = EntryResolved
		e.value = res.Value
	}
	if e.staleAt(c.epoch) {
		if c.entries[e.key] == e {
			delete(c.entries, e.key)
		}
		c.logger.Debug("fetch completed after invalidation, result discarded", "key", e.key)
	} else {
		c.logger.Debug("fetch completed", "key", e.key, "state", e.state)
	}
	waiters := e.waiters
	e.waiters = nil
	e.seen = nil
	for _, w := range waiters {
		w.fn(e.key)
	}
}

// EntryInfo describes one live cache entry for status reporting.
type EntryInfo struct {
	Key     string     `json:"key"`
	State   EntryState `json:"state"`
	Stale   bool       `json:"stale,omitempty"`
	Waiters int        `json:"waiters,omitempty"`
}

// Snapshot lists the live entries sorted by key.
func (c *Cache) Snapshot() []EntryInfo {
	infos := make([]EntryInfo, 0, len(c.entries))
	for _, e := range c.entries {
		infos = append(infos, EntryInfo{
			Key:     e.key,
			State:   e.state,
			Stale:   e.state == EntryPending && e.staleAt(c.epoch),
			Waiters: len(e.waiters),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos
}
