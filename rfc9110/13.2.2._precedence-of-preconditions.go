package rfc9110

import "time"

// Validators are the conditional request header fields relevant to GET.
type Validators struct {
	IfNoneMatch     string
	IfModifiedSince string
}

// Representation carries the validators of the selected representation.
type Representation struct {
	ETag         string
	LastModified time.Time
}

type Outcome int

const (
	// OutcomeFull means the full representation is sent with 200.
	OutcomeFull Outcome = iota
	// OutcomeNotModified means a 304 is sent without content.
	OutcomeNotModified
)

func (o Outcome) String() string {
	if o == OutcomeNotModified {
		return "not-modified"
	}
	return "full"
}

// §  13.2.2.  Precedence of Preconditions
// §
// §     When more than one conditional request header field is present in a
// §     request, the order in which the fields are evaluated becomes
// §     important.  In practice, the fields defined in this document are
// §     consistently implemented in a single, logical order, since "lost
// §     update" preconditions have more strict requirements than cache
// §     validation, a validated cache is more efficient than a partial
// §     response, and entity tags are presumed to be more accurate than date
// §     validators.
// §
// §     A recipient cache or origin server MUST evaluate the request
// §     preconditions defined by this specification in the following order:
// §
// §     [...]
// §
// §     3.  When If-None-Match is present, evaluate the If-None-Match
// §         precondition:
// §
// §         *  if true, continue to step 5
// §
// §         *  if false for GET/HEAD, respond 304 (Not Modified)
// §
// §         *  if false for other methods, respond 412 (Precondition Failed)
// §
// §     4.  When the method is GET or HEAD, If-None-Match is not present, and
// §         If-Modified-Since is present, evaluate the If-Modified-Since
// §         precondition:
// §
// §         *  if true, continue to step 5
// §
// §         *  if false, respond 304 (Not Modified)
// §
// §     5.  [...] perform the requested method and respond according to its
// §         success or failure.
//
// Only GET reaches Evaluate, so If-Match, If-Unmodified-Since and If-Range are
// not considered.
func Evaluate(v Validators, r Representation, now time.Time) Outcome {
	if v.IfNoneMatch != "" {
		if IfNoneMatchMatches(v.IfNoneMatch, r.ETag) {
			return OutcomeNotModified
		}
		return OutcomeFull
	}
	if v.IfModifiedSince != "" && NotModifiedSince(r.LastModified, v.IfModifiedSince, now) {
		return OutcomeNotModified
	}
	return OutcomeFull
}
