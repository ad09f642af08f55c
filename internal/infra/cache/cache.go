// Package cache keeps lookup results in memory for a fixed TTL.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// maxSweepInterval caps how long expired entries may linger in memory.
const maxSweepInterval = time.Minute

type item[T any] struct {
	value   T
	expires time.Time
}

// TTL is a concurrency-safe cache whose entries expire a fixed duration
// after they were stored. Concurrent loads of one missing key share a single
// call to the loader.
type TTL[T any] struct {
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu    sync.RWMutex
	items map[string]item[T]

	quit      chan struct{}
	closeOnce sync.Once
}

// New creates a cache and starts its sweeper. Call Close to stop it.
func New[T any](ttl time.Duration) *TTL[T] {
	c := &TTL[T]{
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]item[T]),
		quit:  make(chan struct{}),
	}
	every := ttl
	if every <= 0 || every > maxSweepInterval {
		every = maxSweepInterval
	}
	go c.sweepLoop(every)
	return c
}

// Get returns the live value stored under key.
func (c *TTL[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || !c.now().Before(it.expires) {
		var zero T
		return zero, false
	}
	return it.value, true
}

// Set stores value under key for one TTL.
func (c *TTL[T]) Set(key string, value T) {
	c.mu.Lock()
	c.items[key] = item[T]{value: value, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Delete drops key.
func (c *TTL[T]) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// GetOrLoad returns the cached value of key, or runs load and stores its
// result. hit reports whether the value came from the cache. Errors are
// returned to every waiting caller and never stored.
func (c *TTL[T]) GetOrLoad(ctx context.Context, key string, load func(context.Context) (T, error)) (value T, hit bool, err error) {
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}

	res, err, _ := c.group.Do(key, func() (any, error) {
		// Another caller may have filled the key while this one waited.
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return res.(T), false, nil
}

// Len returns the number of stored entries, expired ones included until swept.
func (c *TTL[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the sweeper. Safe to call more than once.
func (c *TTL[T]) Close() {
	c.closeOnce.Do(func() { close(c.quit) })
}

func (c *TTL[T]) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-c.quit:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep removes expired entries and returns how many were dropped.
func (c *TTL[T]) sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	dropped := 0
	for key, it := range c.items {
		if !now.Before(it.expires) {
			delete(c.items, key)
			dropped++
		}
	}
	return dropped
}
