// Package cache memoizes paginated folder fetches and folder message counts
// for a bounded freshness window.
package cache

import (
	"sync"
	"time"

	"github.com/nhle/mailsync/internal/model"
)

// Default freshness windows.
const (
	DefaultTTL      = 5 * time.Minute
	DefaultCountTTL = 5 * time.Minute
)

// Key identifies one cached page.
type Key struct {
	Folder   string
	PageSize int
	Page     int
}

// Entry is a cached page.
type Entry struct {
	Key       Key
	Messages  []model.Message
	Total     int
	CreatedAt time.Time
}

type countEntry struct {
	total     int
	createdAt time.Time
}

// Cache holds page entries and per-folder counts. All methods are safe for
// concurrent use; values are copied on the way in and out so no caller
// ever observes a partially written entry.
type Cache struct {
	mu       sync.RWMutex
	ttl      time.Duration
	countTTL time.Duration
	now      func() time.Time

	pages  map[Key]Entry
	counts map[string]countEntry

	// gen is bumped on every invalidation so an in-flight fetch can tell
	// whether its result is still safe to store (see Generation).
	gen       uint64
	folderGen map[string]uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithCountTTL sets the freshness window of folder counts.
func WithCountTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.countTTL = ttl
		}
	}
}

// New creates an empty cache whose page entries live for ttl.
func New(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		ttl:       ttl,
		countTTL:  DefaultCountTTL,
		now:       time.Now,
		pages:     make(map[Key]Entry),
		counts:    make(map[string]countEntry),
		folderGen: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the non-expired entry for key.
func (c *Cache) Get(key Key) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.pages[key]
	if !ok || c.expired(e.CreatedAt, c.ttl) {
		return Entry{}, false
	}
	e.Messages = model.CloneMessages(e.Messages)
	return e, true
}

// Put inserts or overwrites the entry for key, stamping the current time.
// The folder count is refreshed opportunistically.
func (c *Cache) Put(key Key, messages []model.Message, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(key, messages, total)
}

// PutIfCurrent stores the entry only if no invalidation touching key's
// folder has happened since gen was read. It reports whether the entry
// was stored.
func (c *Cache) PutIfCurrent(gen Generation, key Key, messages []model.Message, total int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen.global != c.gen || gen.folder != c.folderGen[key.Folder] {
		return false
	}
	c.put(key, messages, total)
	return true
}

func (c *Cache) put(key Key, messages []model.Message, total int) {
	now := c.now()
	c.pages[key] = Entry{
		Key:       key,
		Messages:  model.CloneMessages(messages),
		Total:     total,
		CreatedAt: now,
	}
	c.counts[key.Folder] = countEntry{total: total, createdAt: now}
}

// Flags returns the server-reported flags of message id from any fresh page
// of folder.
func (c *Cache) Flags(folder, id string) (model.Flags, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for k, e := range c.pages {
		if k.Folder != folder || c.expired(e.CreatedAt, c.ttl) {
			continue
		}
		for _, m := range e.Messages {
			if m.ID == id {
				return m.Flags, true
			}
		}
	}
	return model.Flags{}, false
}

// Count returns the cached message count for folder.
func (c *Cache) Count(folder string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.counts[folder]
	if !ok || c.expired(e.createdAt, c.countTTL) {
		return 0, false
	}
	return e.total, true
}

// PutCount stores the message count for folder.
func (c *Cache) PutCount(folder string, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[folder] = countEntry{total: total, createdAt: c.now()}
}

// PutCountIfCurrent is PutCount guarded by a generation read before the
// count was fetched.
func (c *Cache) PutCountIfCurrent(gen Generation, folder string, total int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen.global != c.gen || gen.folder != c.folderGen[folder] {
		return false
	}
	c.counts[folder] = countEntry{total: total, createdAt: c.now()}
	return true
}

// InvalidateFolder drops every page entry and the count for folder,
// regardless of page or page size. It returns the number of pages dropped.
func (c *Cache) InvalidateFolder(folder string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for k := range c.pages {
		if k.Folder == folder {
			delete(c.pages, k)
			dropped++
		}
	}
	delete(c.counts, folder)
	c.folderGen[folder]++
	return dropped
}

// ClearAll drops every entry and count.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pages = make(map[Key]Entry)
	c.counts = make(map[string]countEntry)
	c.gen++
}

// Sweep removes expired entries and returns how many pages were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.pages {
		if c.expired(e.CreatedAt, c.ttl) {
			delete(c.pages, k)
			removed++
		}
	}
	for f, e := range c.counts {
		if c.expired(e.createdAt, c.countTTL) {
			delete(c.counts, f)
		}
	}
	return removed
}

// Len returns the number of stored page entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pages)
}

// Generation is an opaque snapshot of the invalidation counters for one
// folder.
type Generation struct {
	global uint64
	folder uint64
}

// Generation snapshots the invalidation counters for folder. Read it
// before starting a gateway fetch and pass it to PutIfCurrent afterwards.
func (c *Cache) Generation(folder string) Generation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Generation{global: c.gen, folder: c.folderGen[folder]}
}

func (c *Cache) expired(createdAt time.Time, ttl time.Duration) bool {
	return c.now().Sub(createdAt) >= ttl
}
