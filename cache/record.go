package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/always-cache/always-origin/resource"
	"github.com/always-cache/always-origin/rfc9110"
)

// DefaultTTL is the freshness lifetime of a record when none is configured.
const DefaultTTL = 60 * time.Second

// Fetcher produces the representation a record is built from.
type Fetcher interface {
	Fetch(ctx context.Context) (resource.Representation, error)
}

// Record is one cached representation variant.
// All fields except the expiry are fixed at construction.
type Record struct {
	key          Key
	content      []byte
	contentType  string
	lastModified time.Time
	etag         string
	varyHeader   string
	ttl          time.Duration
	stored       time.Time
	// unix nanoseconds, refreshed on hits under the sliding policy
	expires atomic.Int64
}

// NewRecord fetches the resource once and builds a record that expires ttl from now.
func NewRecord(ctx context.Context, key Key, src Fetcher, ttl time.Duration) (*Record, error) {
	return NewRecordAt(ctx, key, src, ttl, time.Now())
}

// NewRecordAt is NewRecord with an explicit construction time.
func NewRecordAt(ctx context.Context, key Key, src Fetcher, ttl time.Duration, now time.Time) (*Record, error) {
	if src == nil {
		return nil, fmt.Errorf("record %s: no resource", key)
	}
	rep, err := src.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", key, err)
	}
	if ttl < 0 {
		ttl = 0
	}
	r := &Record{
		key:          key,
		content:      rep.Content,
		contentType:  rep.ContentType,
		lastModified: rep.LastModified,
		etag:         entityTag(rep.Content, key.Vary),
		varyHeader:   VaryHeaders[0],
		ttl:          ttl,
		stored:       now,
	}
	r.expires.Store(now.Add(ttl).UnixNano())
	return r, nil
}

func entityTag(content []byte, vary string) string {
	d := xxhash.New()
	d.Write(content)
	d.WriteString(vary)
	return strconv.FormatUint(d.Sum64(), 16)
}

// IsMatch reports whether the record can serve a request with the given key.
// Validators are not looked at. Vary values compare exactly, an absent
// Accept-Encoding counts as the empty value.
func (r *Record) IsMatch(key Key) bool {
	if key.Method != "" && key.Method != r.key.Method {
		return false
	}
	if key.URL != "" && key.URL != r.key.URL {
		return false
	}
	if key.Version != "" && key.Version != r.key.Version {
		return false
	}
	return key.Vary == r.key.Vary
}

// IsNewerThan reports whether the record was modified after the given HTTP date.
// An unparseable date counts as modified.
func (r *Record) IsNewerThan(httpDate string) bool {
	since, err := rfc9110.HttpDate(httpDate)
	if err != nil {
		return true
	}
	return r.lastModified.Truncate(time.Second).After(since)
}

func (r *Record) Key() Key {
	return r.key
}

// Content must not be modified by the caller.
func (r *Record) Content() []byte {
	return r.content
}

func (r *Record) ContentType() string {
	return r.contentType
}

func (r *Record) LastModified() time.Time {
	return r.lastModified
}

// ETag returns the unquoted entity tag.
func (r *Record) ETag() string {
	return r.etag
}

func (r *Record) VaryHeader() string {
	return r.varyHeader
}

func (r *Record) TTL() time.Duration {
	return r.ttl
}

// Stored is when the representation was fetched.
func (r *Record) Stored() time.Time {
	return r.stored
}

func (r *Record) Expires() time.Time {
	return time.Unix(0, r.expires.Load()).UTC()
}

func (r *Record) LastModifiedHeader() string {
	return rfc9110.ToHttpDate(r.lastModified)
}

func (r *Record) ExpiresHeader() string {
	return rfc9110.ToHttpDate(r.Expires())
}

func (r *Record) refresh(now time.Time) {
	r.expires.Store(now.Add(r.ttl).UnixNano())
}

func (r *Record) wellFormed() bool {
	return r != nil && r.key.URL != "" && r.etag != ""
}
