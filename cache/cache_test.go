package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/always-cache/always-origin/resource"
)

type staticFetcher struct {
	content  string
	modified time.Time
	calls    int
}

func (f *staticFetcher) Fetch(ctx context.Context) (resource.Representation, error) {
	f.calls++
	return resource.Representation{
		Content:      []byte(f.content),
		ContentType:  "text/html",
		LastModified: f.modified,
	}, nil
}

type failingFetcher struct{}

func (failingFetcher) Fetch(ctx context.Context) (resource.Representation, error) {
	return resource.Representation{}, resource.ErrNotFound
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testKey(url string, encoding string) Key {
	h := make(http.Header)
	if encoding != "" {
		h.Set("Accept-Encoding", encoding)
	}
	r := &http.Request{Method: "GET", URL: mustURL(url), Proto: "HTTP/1.1", Header: h}
	return KeyFromRequest(r)
}

func newTestRecord(t *testing.T, clock *fakeClock, key Key, ttl time.Duration) *Record {
	t.Helper()
	rec, err := NewRecordAt(context.Background(), key, &staticFetcher{content: "body of " + key.URL}, ttl, clock.Now())
	require.NoError(t, err)
	return rec
}

func TestFindRecordEmpty(t *testing.T) {
	c := New(2)
	assert.Nil(t, c.FindRecord(testKey("/", "")))
}

func TestInsertAndFind(t *testing.T) {
	clock := newFakeClock()
	c := New(2, WithClock(clock.Now))
	key := testKey("/index.html", "gzip")
	rec := newTestRecord(t, clock, key, time.Minute)
	c.InsertResponse(rec)

	assert.Same(t, rec, c.FindRecord(key))
	assert.Nil(t, c.FindRecord(testKey("/index.html", "br")))
	assert.Nil(t, c.FindRecord(testKey("/index.html", "")))
	assert.Nil(t, c.FindRecord(testKey("/other.html", "gzip")))
}

func TestCapacityInvariant(t *testing.T) {
	clock := newFakeClock()
	for capacity := 1; capacity <= 4; capacity++ {
		c := New(capacity, WithClock(clock.Now))
		for i := 0; i < 20; i++ {
			ttl := time.Minute
			if i%3 == 0 {
				ttl = 0
			}
			c.InsertResponse(newTestRecord(t, clock, testKey(fmt.Sprintf("/%d", i%7), ""), ttl))
			require.LessOrEqual(t, c.Len(), capacity)
		}
	}
}

func TestLRUEviction(t *testing.T) {
	clock := newFakeClock()
	c := New(2, WithClock(clock.Now))
	a := newTestRecord(t, clock, testKey("/a", ""), time.Minute)
	b := newTestRecord(t, clock, testKey("/b", ""), time.Minute)
	d := newTestRecord(t, clock, testKey("/d", ""), time.Minute)

	c.InsertResponse(a)
	c.InsertResponse(b)
	c.InsertResponse(d)

	assert.Equal(t, []*Record{d, b}, c.Records())
	assert.Nil(t, c.FindRecord(a.Key()))
}

func TestFindPromotes(t *testing.T) {
	clock := newFakeClock()
	c := New(2, WithClock(clock.Now))
	a := newTestRecord(t, clock, testKey("/a", ""), time.Minute)
	b := newTestRecord(t, clock, testKey("/b", ""), time.Minute)
	d := newTestRecord(t, clock, testKey("/d", ""), time.Minute)

	c.InsertResponse(a)
	c.InsertResponse(b)
	require.Same(t, a, c.FindRecord(a.Key()))
	c.InsertResponse(d)

	assert.Equal(t, []*Record{d, a}, c.Records())
}

func TestInsertPrefersExpiredOverLRU(t *testing.T) {
	clock := newFakeClock()
	c := New(2, WithClock(clock.Now))
	short := newTestRecord(t, clock, testKey("/short", ""), time.Second)
	long := newTestRecord(t, clock, testKey("/long", ""), time.Hour)
	c.InsertResponse(long)
	c.InsertResponse(short)

	clock.Advance(2 * time.Second)
	fresh := newTestRecord(t, clock, testKey("/fresh", ""), time.Hour)
	c.InsertResponse(fresh)

	assert.Equal(t, []*Record{fresh, long}, c.Records())
}

func TestInsertReplacesEqualKey(t *testing.T) {
	clock := newFakeClock()
	c := New(3, WithClock(clock.Now))
	key := testKey("/a", "gzip")
	first := newTestRecord(t, clock, key, time.Minute)
	second := newTestRecord(t, clock, key, time.Minute)
	c.InsertResponse(first)
	c.InsertResponse(second)

	assert.Equal(t, []*Record{second}, c.Records())
}

func TestExpiredNeverReturned(t *testing.T) {
	clock := newFakeClock()
	c := New(2, WithClock(clock.Now))
	rec := newTestRecord(t, clock, testKey("/a", ""), 10*time.Second)
	c.InsertResponse(rec)

	clock.Advance(10 * time.Second)
	assert.True(t, c.IsExpired(rec))
	assert.Nil(t, c.FindRecord(rec.Key()))
	assert.Equal(t, 0, c.Len())
}

func TestFindRemovesExpiredWithoutMatching(t *testing.T) {
	clock := newFakeClock()
	c := New(3, WithClock(clock.Now))
	old := newTestRecord(t, clock, testKey("/old", ""), time.Second)
	c.InsertResponse(old)
	clock.Advance(time.Second)
	cur := newTestRecord(t, clock, testKey("/cur", ""), time.Minute)
	c.InsertResponse(cur)

	assert.Nil(t, c.FindRecord(testKey("/none", "")))
	assert.Equal(t, []*Record{cur}, c.Records())
}

func TestZeroTTLEvictExpired(t *testing.T) {
	clock := newFakeClock()
	c := New(2, WithClock(clock.Now))
	c.InsertResponse(newTestRecord(t, clock, testKey("/a", ""), 0))

	assert.Equal(t, 1, c.EvictExpired())
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, c.EvictExpired())
}

func TestClearCache(t *testing.T) {
	clock := newFakeClock()
	c := New(2, WithClock(clock.Now))
	c.InsertResponse(newTestRecord(t, clock, testKey("/a", ""), time.Minute))
	c.InsertResponse(newTestRecord(t, clock, testKey("/b", ""), time.Minute))

	assert.Equal(t, 2, c.ClearCache())
	assert.Equal(t, 0, c.Len())
	for i, rec := range c.records[:cap(c.records)] {
		assert.Nil(t, rec, "slot %d still references a cleared record", i)
	}
	assert.Nil(t, c.FindRecord(testKey("/a", "")))
}

func TestPurgeRemovesAllVariants(t *testing.T) {
	clock := newFakeClock()
	c := New(3, WithClock(clock.Now))
	c.InsertResponse(newTestRecord(t, clock, testKey("/a", "gzip"), time.Minute))
	c.InsertResponse(newTestRecord(t, clock, testKey("/b", ""), time.Minute))
	c.InsertResponse(newTestRecord(t, clock, testKey("/a", "br"), time.Minute))

	assert.Equal(t, 2, c.Purge("a/./"))
	assert.Equal(t, 1, c.Len())
	assert.NotNil(t, c.FindRecord(testKey("/b", "")))
	assert.Equal(t, 0, c.Purge("/a"))
}

func TestMalformedInsertIsNoop(t *testing.T) {
	c := New(1)
	c.InsertResponse(nil)
	c.InsertResponse(&Record{})
	assert.Equal(t, 0, c.Len())
	assert.True(t, c.IsExpired(nil))
}

func TestCapacityClamped(t *testing.T) {
	assert.Equal(t, 1, New(0).Capacity())
	assert.Equal(t, 1, New(-3).Capacity())
}

func TestFixedExpiryNotExtended(t *testing.T) {
	clock := newFakeClock()
	c := New(1, WithClock(clock.Now))
	rec := newTestRecord(t, clock, testKey("/a", ""), 10*time.Second)
	c.InsertResponse(rec)

	clock.Advance(6 * time.Second)
	require.NotNil(t, c.FindRecord(rec.Key()))
	clock.Advance(6 * time.Second)
	assert.Nil(t, c.FindRecord(rec.Key()))
}

func TestSlidingExpiryExtended(t *testing.T) {
	clock := newFakeClock()
	c := New(1, WithClock(clock.Now), WithExpiryPolicy(ExpirySliding))
	rec := newTestRecord(t, clock, testKey("/a", ""), 10*time.Second)
	c.InsertResponse(rec)

	clock.Advance(6 * time.Second)
	require.NotNil(t, c.FindRecord(rec.Key()))
	clock.Advance(6 * time.Second)
	require.NotNil(t, c.FindRecord(rec.Key()))
	assert.Equal(t, clock.Now().Add(10*time.Second), rec.Expires())
}

func TestConcurrentAccess(t *testing.T) {
	c := New(2)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := testKey(fmt.Sprintf("/%d", (w+i)%5), "")
				if c.FindRecord(key) == nil {
					rec, err := NewRecord(context.Background(), key, &staticFetcher{content: key.URL}, time.Minute)
					if err == nil {
						c.InsertResponse(rec)
					}
				}
				if i%50 == 0 {
					c.EvictExpired()
				}
				for _, rec := range c.Records() {
					c.IsExpired(rec)
				}
			}
		}(w)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 2)
}

type countingObserver struct {
	hits, misses int
	evicted      map[string]int
	size         int
}

func (o *countingObserver) Lookup(hit bool) {
	if hit {
		o.hits++
	} else {
		o.misses++
	}
}

func (o *countingObserver) Evicted(reason string, n int) {
	o.evicted[reason] += n
}

func (o *countingObserver) Resized(n int) {
	o.size = n
}

func TestObserver(t *testing.T) {
	clock := newFakeClock()
	obs := &countingObserver{evicted: map[string]int{}}
	c := New(1, WithClock(clock.Now), WithObserver(obs))
	a := newTestRecord(t, clock, testKey("/a", ""), time.Minute)
	c.InsertResponse(a)
	c.FindRecord(a.Key())
	c.FindRecord(testKey("/b", ""))
	c.InsertResponse(newTestRecord(t, clock, testKey("/b", ""), time.Minute))
	c.ClearCache()

	assert.Equal(t, 1, obs.hits)
	assert.Equal(t, 1, obs.misses)
	assert.Equal(t, 1, obs.evicted[EvictLRU])
	assert.Equal(t, 1, obs.evicted[EvictCleared])
	assert.Equal(t, 0, obs.size)
}

func TestNewRecordFetchFailure(t *testing.T) {
	_, err := NewRecord(context.Background(), testKey("/a", ""), failingFetcher{}, time.Minute)
	assert.True(t, errors.Is(err, resource.ErrNotFound))
}
