package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsync/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(ttl time.Duration) (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	return New(ttl, WithClock(clock.Now), WithCountTTL(ttl)), clock
}

func msgs(ids ...string) []model.Message {
	out := make([]model.Message, len(ids))
	for i, id := range ids {
		out[i] = model.Message{ID: id, Folder: "INBOX", To: []string{"me@example.com"}}
	}
	return out
}

func TestGetPutAndExpiry(t *testing.T) {
	c, clock := newTestCache(time.Minute)
	key := Key{Folder: "INBOX", PageSize: 10, Page: 1}

	_, ok := c.Get(key)
	require.False(t, ok)

	c.Put(key, msgs("a", "b"), 25)

	e, ok := c.Get(key)
	require.True(t, ok)
	assert.Len(t, e.Messages, 2)
	assert.Equal(t, 25, e.Total)

	total, ok := c.Count("INBOX")
	require.True(t, ok)
	assert.Equal(t, 25, total)

	clock.Advance(time.Minute)
	_, ok = c.Get(key)
	assert.False(t, ok, "entry at its TTL must be treated as absent")
	_, ok = c.Count("INBOX")
	assert.False(t, ok)
}

func TestGetReturnsCopies(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	key := Key{Folder: "INBOX", PageSize: 10, Page: 1}
	c.Put(key, msgs("a"), 1)

	e, _ := c.Get(key)
	e.Messages[0].Subject = "mutated"
	e.Messages[0].To[0] = "mutated"

	again, _ := c.Get(key)
	assert.Empty(t, again.Messages[0].Subject)
	assert.Equal(t, "me@example.com", again.Messages[0].To[0])
}

func TestFlags(t *testing.T) {
	c, clock := newTestCache(time.Minute)
	page := msgs("a", "b")
	page[1].Flags.Flagged = true
	c.Put(Key{Folder: "INBOX", PageSize: 10, Page: 2}, page, 12)

	flags, ok := c.Flags("INBOX", "b")
	require.True(t, ok)
	assert.True(t, flags.Flagged)

	_, ok = c.Flags("Archive", "b")
	assert.False(t, ok)

	clock.Advance(time.Minute)
	_, ok = c.Flags("INBOX", "b")
	assert.False(t, ok)
}

func TestInvalidateFolderDropsAllPagesAndSizes(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.Put(Key{Folder: "INBOX", PageSize: 10, Page: 1}, msgs("a"), 3)
	c.Put(Key{Folder: "INBOX", PageSize: 10, Page: 2}, msgs("b"), 3)
	c.Put(Key{Folder: "INBOX", PageSize: 50, Page: 1}, msgs("c"), 3)
	c.Put(Key{Folder: "Trash", PageSize: 10, Page: 1}, msgs("d"), 1)

	dropped := c.InvalidateFolder("INBOX")
	assert.Equal(t, 3, dropped)
	assert.Equal(t, 1, c.Len())

	_, ok := c.Count("INBOX")
	assert.False(t, ok)
	_, ok = c.Get(Key{Folder: "Trash", PageSize: 10, Page: 1})
	assert.True(t, ok)
}

func TestClearAll(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.Put(Key{Folder: "INBOX", PageSize: 10, Page: 1}, msgs("a"), 3)
	c.PutCount("Trash", 4)

	c.ClearAll()

	assert.Equal(t, 0, c.Len())
	_, ok := c.Count("Trash")
	assert.False(t, ok)
}

func TestPutIfCurrentRejectsStaleGeneration(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	key := Key{Folder: "INBOX", PageSize: 10, Page: 1}

	gen := c.Generation("INBOX")
	c.InvalidateFolder("INBOX")
	assert.False(t, c.PutIfCurrent(gen, key, msgs("a"), 1))
	assert.Equal(t, 0, c.Len())

	gen = c.Generation("INBOX")
	c.ClearAll()
	assert.False(t, c.PutIfCurrent(gen, key, msgs("a"), 1))

	gen = c.Generation("INBOX")
	c.InvalidateFolder("Trash")
	assert.True(t, c.PutIfCurrent(gen, key, msgs("a"), 1), "other folders do not affect INBOX")

	gen = c.Generation("Trash")
	c.InvalidateFolder("Trash")
	assert.False(t, c.PutCountIfCurrent(gen, "Trash", 9))
}

func TestSweep(t *testing.T) {
	c, clock := newTestCache(time.Minute)
	c.Put(Key{Folder: "INBOX", PageSize: 10, Page: 1}, msgs("a"), 1)
	clock.Advance(30 * time.Second)
	c.Put(Key{Folder: "INBOX", PageSize: 10, Page: 2}, msgs("b"), 1)
	clock.Advance(31 * time.Second)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
}

func TestConcurrentAccess(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := Key{Folder: "INBOX", PageSize: 10, Page: i%3 + 1}
			for j := 0; j < 200; j++ {
				c.Put(key, msgs("a", "b"), 25)
				if e, ok := c.Get(key); ok {
					assert.Len(t, e.Messages, 2)
				}
				if j%50 == 0 {
					c.InvalidateFolder("INBOX")
				}
			}
		}(i)
	}
	wg.Wait()
}
