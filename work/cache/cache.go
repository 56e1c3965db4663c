package cache

import (
	"strconv"
	"time"

	"github.com/maypok86/otter/v2"
)

// Entry is a cached HTTP response body with its content type.
type Entry struct {
	ContentType string
	Body        []byte
}

// Cache holds rendered directory responses. Keys embed the generation
// sequence, so a new generation never serves a previous one's body; entries
// also expire after the configured duration.
type Cache struct {
	store    *otter.Cache[string, Entry]
	duration time.Duration
}

// NewCache creates and returns a new Cache whose entries live for duration.
func NewCache(duration time.Duration) *Cache {
	return &Cache{
		store: otter.Must(&otter.Options[string, Entry]{
			MaximumSize:      1024,
			ExpiryCalculator: otter.ExpiryWriting[string, Entry](duration),
		}),
		duration: duration,
	}
}

// Key builds the cache key for a route rendered from generation seq.
func Key(seq uint64, route string) string {
	return strconv.FormatUint(seq, 10) + ":" + route
}

// Get retrieves an entry by key.
func (c *Cache) Get(key string) (Entry, bool) {
	return c.store.GetIfPresent(key)
}

// Set stores an entry under key.
func (c *Cache) Set(key string, entry Entry) {
	c.store.Set(key, entry)
}

// Clear drops every entry. Called when a new generation is published.
func (c *Cache) Clear() {
	c.store.InvalidateAll()
}

// Len returns the approximate number of cached entries.
func (c *Cache) Len() int {
	return c.store.EstimatedSize()
}
