package store

import (
	"context"
	"time"

	"github.com/me/reflow/internal/cache"
	"github.com/me/reflow/internal/clock"
	"github.com/me/reflow/pkg/model"
)

// NewCatalogFetcher builds a cache fetcher backed by the resource catalog.
// Each fetch looks its key up when it starts, then delivers the stored value
// after the row's latency (or defaultLatency when the row carries none) has
// elapsed on the virtual clock. Keys missing from the catalog reject with
// NOT_FOUND.
func NewCatalogFetcher(s Store, clk *clock.Virtual, defaultLatency time.Duration) *cache.TimedFetcher {
	return &cache.TimedFetcher{
		Clock: clk,
		Lookup: func(key string) (cache.Record, error) {
			res, err := s.GetResource(context.Background(), key)
			if err != nil {
				return cache.Record{}, err
			}
			if res == nil {
				return cache.Record{}, model.NewNotFoundError("Resource", key)
			}
			latency := defaultLatency
			if res.LatencyMS > 0 {
				latency = time.Duration(res.LatencyMS) * time.Millisecond
			}
			return cache.Record{Value: res.Value, Latency: latency}, nil
		},
	}
}
