package rfc9111

import (
	"strconv"
	"time"
)

// §  1.2.2. Delta Seconds
// §
// §  The delta-seconds rule specifies a non-negative integer, representing time
// §  in seconds.
// §
// §      delta-seconds  = 1*DIGIT
// §
// §  A recipient parsing a delta-seconds value and converting it to binary form
// §  ought to use an arithmetic type of at least 31 bits of non-negative integer
// §  range. If a cache receives a delta-seconds value greater than the greatest
// §  integer it can represent, or if any of its subsequent calculations overflows,
// §  the cache MUST consider the value to be 2147483648 (2^31) or the greatest
// §  positive integer it can conveniently represent.

// MaxDeltaSeconds is the value used when delta-seconds overflow.
const MaxDeltaSeconds = 2147483648

// DeltaSeconds parses a delta-seconds value. Anything other than digits is invalid.
func DeltaSeconds(secondsStr string) (time.Duration, bool) {
	if secondsStr == "" {
		return 0, false
	}
	for _, c := range secondsStr {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	seconds, err := strconv.ParseUint(secondsStr, 10, 64)
	if err != nil || seconds > MaxDeltaSeconds {
		seconds = MaxDeltaSeconds
	}
	return time.Duration(seconds) * time.Second, true
}

// ToDeltaSeconds renders whole seconds, never negative.
func ToDeltaSeconds(d time.Duration) string {
	if d <= 0 {
		return "0"
	}
	seconds := int64(d / time.Second)
	if seconds > MaxDeltaSeconds {
		seconds = MaxDeltaSeconds
	}
	return strconv.FormatInt(seconds, 10)
}
