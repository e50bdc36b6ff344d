package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"AlertGate/internal/domain/models"
	"AlertGate/pkg/logger"
)

const viewKey = "market_view"

// LoadFunc produces a fresh view. The error is returned to every coalesced caller.
type LoadFunc func(ctx context.Context) (models.MarketView, error)

// ViewCache memoizes the last successful MarketView for a fixed TTL.
// Concurrent misses share a single load.
type ViewCache struct {
	ttl   time.Duration
	store *TTLCache[models.MarketView]
	group singleflight.Group
	log   *logger.Logger
}

type ViewOption func(*ViewCache)

func WithClock(now func() time.Time) ViewOption {
	return func(c *ViewCache) { c.store = NewTTLCache[models.MarketView](now) }
}

func WithLogger(l *logger.Logger) ViewOption { return func(c *ViewCache) { c.log = l } }

func NewViewCache(ttl time.Duration, opts ...ViewOption) *ViewCache {
	c := &ViewCache{
		ttl:   ttl,
		store: NewTTLCache[models.MarketView](nil),
		log:   logger.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *ViewCache) Get() (models.MarketView, bool) {
	return c.store.Get(viewKey)
}

// Set caches v. Empty views are never cached so a dead round cannot mask recovery.
func (c *ViewCache) Set(v models.MarketView) {
	if v.Empty() {
		return
	}
	c.store.Set(viewKey, v, c.ttl)
}

func (c *ViewCache) Invalidate() { c.store.Delete(viewKey) }

// GetOrLoad returns the cached view or runs load, at most once per miss across callers.
// hit reports whether the value came from cache.
func (c *ViewCache) GetOrLoad(ctx context.Context, load LoadFunc) (view models.MarketView, hit bool, err error) {
	if v, ok := c.Get(); ok {
		return v, true, nil
	}
	res, err, shared := c.group.Do(viewKey, func() (any, error) {
		// a caller that lost the race may find the view already stored
		if v, ok := c.Get(); ok {
			return v, nil
		}
		v, err := load(ctx)
		if err != nil {
			return models.MarketView{}, err
		}
		c.Set(v)
		return v, nil
	})
	if err != nil {
		return models.MarketView{}, false, err
	}
	if shared {
		c.log.Debug("view load coalesced")
	}
	return res.(models.MarketView), false, nil
}
