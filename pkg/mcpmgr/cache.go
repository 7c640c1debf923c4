package mcpmgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// CapabilityKind names one of the capability lists a server exposes.
type CapabilityKind string

const (
	KindTools     CapabilityKind = "tools"
	KindPrompts   CapabilityKind = "prompts"
	KindResources CapabilityKind = "resources"
)

// queryFetchTimeout bounds a shared fetch once it no longer follows the
// caller that started it.
const queryFetchTimeout = 30 * time.Second

// CacheKey addresses one cache partition.
type CacheKey struct {
	Kind   CapabilityKind
	Server string
}

func (k CacheKey) String() string { return string(k.Kind) + "/" + k.Server }

// QueryCache memoizes per-server capability listings. Partitions are keyed
// by (kind, server key) so invalidating one server leaves the others intact.
// Failed fetches are not cached.
type QueryCache struct {
	mu      sync.Mutex
	entries map[CacheKey]any
	// gen is bumped on invalidation so an in-flight fetch that started before
	// it does not repopulate the partition.
	gen   map[string]uint64
	group singleflight.Group
}

// NewQueryCache returns an empty cache.
func NewQueryCache() *QueryCache {
	return &QueryCache{entries: make(map[CacheKey]any), gen: make(map[string]uint64)}
}

// Len reports the number of populated partitions.
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys returns the populated partition keys.
func (c *QueryCache) Keys() []CacheKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]CacheKey, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

// Invalidate drops every partition of server.
func (c *QueryCache) Invalidate(server string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.Server == server {
			delete(c.entries, k)
		}
	}
	c.gen[server]++
}

// Clear drops every partition.
func (c *QueryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		c.gen[k.Server]++
	}
	c.entries = make(map[CacheKey]any)
}

func (c *QueryCache) lookup(key CacheKey) (any, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, c.gen[key.Server], ok
}

func (c *QueryCache) store(key CacheKey, gen uint64, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen[key.Server] != gen {
		return
	}
	c.entries[key] = v
}

// cachedQuery returns the cached value for key or runs fetch once, sharing
// the result with concurrent callers of the same partition.
func cachedQuery[T any](ctx context.Context, c *QueryCache, key CacheKey, fetch func(context.Context) (T, error)) (T, error) {
	var zero T
	if v, _, ok := c.lookup(key); ok {
		return v.(T), nil
	}
	// The fetch is shared by every waiter, so it must outlive the caller
	// that happened to start it. Each waiter still honors its own ctx.
	ch := c.group.DoChan(key.String(), func() (any, error) {
		cached, gen, ok := c.lookup(key)
		if ok {
			return cached, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), queryFetchTimeout)
		defer cancel()
		fetched, err := fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		c.store(key, gen, fetched)
		return fetched, nil
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return zero, res.Err
	}
	out, ok := res.Val.(T)
	if !ok {
		return zero, fmt.Errorf("mcpmgr: cache entry %s has type %T", key, res.Val)
	}
	return out, nil
}
