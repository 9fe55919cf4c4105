// Package cache keeps the working set of records used to answer conditional requests.
package cache

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type ExpiryPolicy int

const (
	// ExpiryFixed keeps the expiry computed when the record was built.
	ExpiryFixed ExpiryPolicy = iota
	// ExpirySliding restarts the TTL on every hit.
	ExpirySliding
)

func (p ExpiryPolicy) String() string {
	if p == ExpirySliding {
		return "sliding"
	}
	return "fixed"
}

// ParseExpiryPolicy accepts "fixed" and "sliding"; anything else is fixed.
func ParseExpiryPolicy(s string) ExpiryPolicy {
	if s == "sliding" {
		return ExpirySliding
	}
	return ExpiryFixed
}

const (
	EvictLRU     = "lru"
	EvictExpired = "expired"
	EvictCleared = "cleared"
	EvictReplace = "replaced"
	EvictPurged  = "purged"
)

// Observer is notified of cache events. Calls are made while the cache lock is held.
type Observer interface {
	Lookup(hit bool)
	Evicted(reason string, n int)
	Resized(n int)
}

type nopObserver struct{}

func (nopObserver) Lookup(bool)         {}
func (nopObserver) Evicted(string, int) {}
func (nopObserver) Resized(int)         {}

type Option func(*Cache)

func WithExpiryPolicy(p ExpiryPolicy) Option {
	return func(c *Cache) { c.policy = p }
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithObserver(o Observer) Option {
	return func(c *Cache) {
		if o != nil {
			c.observer = o
		}
	}
}

// Cache is a capacity bounded, recency ordered set of records.
// Every public method holds the lock for its whole duration.
type Cache struct {
	mu       sync.Mutex
	records  []*Record // front is most recently used
	capacity int
	policy   ExpiryPolicy
	now      func() time.Time
	observer Observer
}

func New(capacity int, opts ...Option) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	c := &Cache{
		records:  make([]*Record, 0, capacity),
		capacity: capacity,
		policy:   ExpiryFixed,
		now:      time.Now,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FindRecord returns the freshest match for key and promotes it to the front.
// Expired records met during the scan are never returned and are removed before returning.
func (c *Cache) FindRecord(key Key) *Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var found *Record
	var expired []*Record
	for i, rec := range c.records {
		if c.isExpired(rec, now) {
			expired = append(expired, rec)
			continue
		}
		if rec.IsMatch(key) {
			found = rec
			c.moveToFront(i)
			break
		}
	}
	if len(expired) > 0 {
		for _, rec := range expired {
			c.remove(rec)
		}
		c.observer.Evicted(EvictExpired, len(expired))
		c.observer.Resized(len(c.records))
		log.Trace().Int("count", len(expired)).Msg("Removed expired records")
	}
	if found != nil && c.policy == ExpirySliding {
		found.refresh(now)
	}
	c.observer.Lookup(found != nil)
	return found
}

// InsertResponse stores rec at the front.
// A record with an equal key is replaced. When the cache is full, expired records
// are removed first and only if there were none the least recently used one is evicted.
func (c *Cache) InsertResponse(rec *Record) {
	if !rec.wellFormed() {
		log.Warn().Msg("Refusing to cache malformed record")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, existing := range c.records {
		if existing.key == rec.key {
			c.remove(existing)
			c.observer.Evicted(EvictReplace, 1)
			break
		}
	}
	if len(c.records) >= c.capacity {
		if n := c.evictExpired(c.now()); n > 0 {
			c.observer.Evicted(EvictExpired, n)
		} else {
			tail := c.records[len(c.records)-1]
			c.remove(tail)
			c.observer.Evicted(EvictLRU, 1)
			log.Debug().Str("key", tail.key.String()).Msg("Evicted least recently used record")
		}
	}
	c.records = append(c.records, nil)
	copy(c.records[1:], c.records)
	c.records[0] = rec
	c.observer.Resized(len(c.records))
}

// ClearCache removes every record and returns how many there were.
func (c *Cache) ClearCache() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.records)
	clear(c.records)
	c.records = c.records[:0]
	c.observer.Evicted(EvictCleared, n)
	c.observer.Resized(0)
	return n
}

// EvictExpired removes every expired record and returns how many were removed.
func (c *Cache) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.evictExpired(c.now())
	if n > 0 {
		c.observer.Evicted(EvictExpired, n)
		c.observer.Resized(len(c.records))
	}
	return n
}

// Purge removes every variant stored for the normalized URL path.
func (c *Cache) Purge(urlPath string) int {
	urlPath = NormalizePath(urlPath)
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.records[:0]
	for _, rec := range c.records {
		if rec.key.URL != urlPath {
			kept = append(kept, rec)
		}
	}
	n := len(c.records) - len(kept)
	clear(c.records[len(kept):])
	c.records = kept
	if n > 0 {
		c.observer.Evicted(EvictPurged, n)
		c.observer.Resized(len(c.records))
	}
	return n
}

// IsExpired reports whether rec's expiry is not strictly in the future.
// A nil or malformed record is expired.
func (c *Cache) IsExpired(rec *Record) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isExpired(rec, c.now())
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func (c *Cache) Capacity() int {
	return c.capacity
}

func (c *Cache) Policy() ExpiryPolicy {
	return c.policy
}

// Records returns a snapshot of the records in recency order.
func (c *Cache) Records() []*Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Record, len(c.records))
	copy(out, c.records)
	return out
}

func (c *Cache) isExpired(rec *Record, now time.Time) bool {
	if !rec.wellFormed() {
		return true
	}
	return !rec.Expires().After(now)
}

func (c *Cache) evictExpired(now time.Time) int {
	kept := c.records[:0]
	for _, rec := range c.records {
		if !c.isExpired(rec, now) {
			kept = append(kept, rec)
		}
	}
	n := len(c.records) - len(kept)
	for i := len(kept); i < len(c.records); i++ {
		c.records[i] = nil
	}
	c.records = kept
	return n
}

func (c *Cache) moveToFront(i int) {
	if i == 0 {
		return
	}
	rec := c.records[i]
	copy(c.records[1:i+1], c.records[:i])
	c.records[0] = rec
}

// remove tolerates records that are no longer present.
func (c *Cache) remove(rec *Record) {
	for i, r := range c.records {
		if r == rec {
			copy(c.records[i:], c.records[i+1:])
			c.records[len(c.records)-1] = nil
			c.records = c.records[:len(c.records)-1]
			return
		}
	}
}
