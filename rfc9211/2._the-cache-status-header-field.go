package rfc9211

import (
	"strconv"
	"strings"
)

// §  2.  The Cache-Status HTTP Response Header Field
// §
// §     The Cache-Status HTTP response header field indicates caches'
// §     handling of the request corresponding to the response it occurs
// §     within.
// §
// §     Its value is a List (Section 3.1 of [STRUCTURED-FIELDS]):
// §
// §     Cache-Status   = sf-list
// §
// §     Each member of the List represents a cache that has handled the
// §     request.  The first member of the List represents the cache closest
// §     to the origin server, and the last member of the List represents the
// §     cache closest to the user (possibly including the user agent's cache
// §     itself, if it appends a value).
// §
// §     Caches determine when it is appropriate to add the Cache-Status
// §     header field to a response.  Some might add it to all responses,
// §     whereas others might only do so when specifically configured to, or
// §     when the request contains a header field that activates a debugging
// §     mode.
// §
// §     Each member of the List identifies the cache that inserted it; this
// §     identifier SHOULD be a String or Token.
type CacheStatus struct {
	// Cache identifies the cache that inserted the member.
	Cache      string
	Status     Status
	FwdReason  FwdReason
	FwdStatus  int
	TimeToLive int
	Stored     bool
	Key        string
	Detail     string
}

type Status string

const (
	StatusHit Status = "hit"
	StatusFwd Status = "fwd"
)

// §  2.1.  The hit Parameter
// §
// §     "hit", when true, indicates that the request was satisfied by the
// §     cache; that is, it was not forwarded, and the response was obtained
// §     from the cache.
func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
	cs.FwdReason = ""
}

// §  2.2.  The fwd Parameter
// §
// §     "fwd" indicates that the request went forward towards the origin and
// §     why.
// §
// §     The following parameter values are defined to explain why the request
// §     went forward, from most specific to least:
type FwdReason string

const (
	// §     bypass:  The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"
	// §     method:  The request method's semantics require the request to be
	// §        forwarded.
	FwdReasonMethod FwdReason = "method"
	// §     uri-miss:  The cache did not contain any responses that matched the
	// §        request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"
	// §     vary-miss:  The cache contained a response that matched the request
	// §        URI, but it could not select a response based upon this request's
	// §        header fields and stored Vary header fields.
	FwdReasonVaryMiss FwdReason = "vary-miss"
	// §     miss:  The cache did not contain any responses that could be used to
	// §        satisfy this request (to be used when an implementation cannot
	// §        distinguish between uri-miss and vary-miss).
	FwdReasonMiss FwdReason = "miss"
	// §     request:  The cache was able to select a fresh response for the
	// §        request, but the request's semantics (e.g., Cache-Control request
	// §        directives) did not allow its use.
	FwdReasonRequest FwdReason = "request"
	// §     stale:  The cache was able to select a response for the request, but
	// §        it was stale.
	FwdReasonStale FwdReason = "stale"
)

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

// IsHit reports whether the response was served from the cache.
func (cs CacheStatus) IsHit() bool {
	return cs.Status == StatusHit
}

// §  2.3.  The fwd-status Parameter
// §
// §     "fwd-status" indicates what status code (see Section 15 of [HTTP])
// §     the next hop server returned in response to the forwarded request.
// §
// §  2.4.  The ttl Parameter
// §
// §     "ttl" indicates the response's remaining freshness lifetime (see
// §     Section 4.2.1 of [HTTP-CACHING]) as calculated by the cache, as an
// §     integer number of seconds, measured when the response header section
// §     is sent by the cache.
// §
// §  2.5.  The stored Parameter
// §
// §     "stored" indicates whether the cache stored the response (see
// §     Section 3 of [HTTP-CACHING]); a true value indicates that it did.
// §     The parameter is only meaningful when fwd is present.
// §
// §  2.7.  The key Parameter
// §
// §     "key" conveys a representation of the cache key (see Section 2 of
// §     [HTTP-CACHING]) used for the response.
// §
// §  2.8.  The detail Parameter
// §
// §     "detail" allows implementations to convey additional information not
// §     captured in other parameters, such as implementation-specific states
// §     or other caching-related metrics.
func (cs CacheStatus) String() string {
	var b strings.Builder
	b.WriteString(cs.Cache)
	switch cs.Status {
	case StatusHit:
		b.WriteString("; hit")
	case StatusFwd:
		b.WriteString("; fwd=")
		b.WriteString(string(cs.FwdReason))
		if cs.FwdStatus != 0 {
			b.WriteString("; fwd-status=")
			b.WriteString(strconv.Itoa(cs.FwdStatus))
		}
		if cs.Stored {
			b.WriteString("; stored")
		}
	}
	if cs.TimeToLive != 0 {
		b.WriteString("; ttl=")
		b.WriteString(strconv.Itoa(cs.TimeToLive))
	}
	if cs.Key != "" {
		b.WriteString("; key=")
		b.WriteString(strconv.Quote(cs.Key))
	}
	if cs.Detail != "" {
		b.WriteString("; detail=")
		b.WriteString(cs.Detail)
	}
	return b.String()
}
