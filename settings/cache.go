package settings

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Source reads the persisted settings object.
type Source interface {
	Lookup(ctx context.Context, key string) (value []byte, ok bool, err error)
}

// Feed delivers storage change notifications until ctx is done.
type Feed interface {
	Watch(ctx context.Context, fn func(key string, value []byte)) error
}

// Cache is a local, eagerly-usable copy of the persisted settings. It starts
// at Defaults so consumers work before the first Load completes. Snapshot
// always returns a complete object: replacement is a single pointer swap.
type Cache struct {
	cur    atomic.Pointer[Settings]
	mu     sync.Mutex // serialises merges and listener registration
	subs   map[int]func(Settings)
	nextID int
	logger *slog.Logger
}

// NewCache creates a Cache holding Defaults.
func NewCache(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{subs: make(map[int]func(Settings)), logger: logger}
	d := Defaults()
	c.cur.Store(&d)
	return c
}

// Snapshot returns a copy of the current settings.
func (c *Cache) Snapshot() Settings {
	return c.cur.Load().Clone()
}

// Load reads the persisted object once. A missing object keeps the
// defaults. Read errors are returned but leave the cache usable.
func (c *Cache) Load(ctx context.Context, src Source) error {
	raw, ok, err := src.Lookup(ctx, StorageKey)
	if err != nil {
		return err
	}
	if !ok {
		c.logger.Debug("settings: nothing persisted, using defaults")
		return nil
	}
	c.Apply(raw)
	return nil
}

// Apply merges a changed settings object over the current value and
// replaces it. Undecodable fields are logged and skipped.
func (c *Cache) Apply(raw []byte) Settings {
	c.mu.Lock()
	next, err := Merge(*c.cur.Load(), raw)
	if err != nil {
		c.logger.Warn("settings: partial merge", "error", err)
	}
	c.cur.Store(&next)
	subs := make([]func(Settings), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(next.Clone())
	}
	return next.Clone()
}

// Subscribe registers fn to be called with every new value. The returned
// function removes the subscription.
func (c *Cache) Subscribe(fn func(Settings)) (cancel func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Follow applies every change to StorageKey delivered by feed. It blocks
// until ctx is cancelled.
func (c *Cache) Follow(ctx context.Context, feed Feed) error {
	return feed.Watch(ctx, func(key string, value []byte) {
		if key != StorageKey {
			return
		}
		c.Apply(value)
	})
}
