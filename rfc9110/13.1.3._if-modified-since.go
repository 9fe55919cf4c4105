package rfc9110

import "time"

// §  13.1.3.  If-Modified-Since
// §
// §     The "If-Modified-Since" header field makes a GET or HEAD request
// §     method conditional on the selected representation's modification
// §     date being more recent than the date provided in the field value.
// §     Transfer of the selected representation's data is avoided if that
// §     data has not changed.
// §
// §       If-Modified-Since = HTTP-date
// §
// §     A recipient MUST ignore If-Modified-Since if the request contains an
// §     If-None-Match header field; the condition in If-None-Match is
// §     considered to be a more accurate replacement for the condition in
// §     If-Modified-Since, and the two are only combined for the sake of
// §     interoperating with older intermediaries that might not implement
// §     If-None-Match.
// §
// §     A recipient MUST ignore the If-Modified-Since header field if the
// §     received field value is not a valid HTTP-date, the field value has
// §     more than one member, or if the request method is neither GET nor
// §     HEAD.
// §
// §     A recipient MUST interpret an If-Modified-Since field value's
// §     timestamp in terms of the origin server's clock.
//
// A date later than the server's current time is treated as invalid as well.
//
// §     An origin server that receives an If-Modified-Since header field
// §     SHOULD evaluate the condition per Section 13.2 prior to performing
// §     the method.
// §
// §     To evaluate a received If-Modified-Since header field:
// §
// §     1.  If the selected representation's last modification date is
// §         earlier or equal to the date provided in the field value, the
// §         condition is false.
// §
// §     2.  Otherwise, the condition is true.
//
// NotModifiedSince reports whether the condition is false, i.e. the representation last
// modified at lastModified has not changed since the date in the field value.
func NotModifiedSince(lastModified time.Time, fieldValue string, now time.Time) bool {
	since, err := HttpDate(fieldValue)
	if err != nil {
		return false
	}
	if since.After(now) {
		return false
	}
	// HTTP dates have one second resolution
	return !lastModified.Truncate(time.Second).After(since)
}
