package rfc9111

import "time"

// §  5.1.  Age
// §
// §     The "Age" response header field conveys the sender's estimate of the
// §     time since the response was generated or successfully validated at
// §     the origin server.  Age values are calculated as specified in
// §     Section 4.2.3.
// §
// §       Age = delta-seconds

// Age renders the Age of a response stored at the given time.
func Age(stored, now time.Time) string {
	return ToDeltaSeconds(now.Sub(stored))
}
