package cacheupdate

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// HeaderName carries purge targets on admin requests.
const HeaderName = "Cache-Update"

// MaxDelay caps the delay directive.
const MaxDelay = time.Hour

// CacheUpdate represents a single `Cache-Update` entry.
type CacheUpdate struct {
	// Fully resolved path to the resource.
	// Equivalent to `url.URL.Path`.
	Path string
	// Update delay, i.e. delay update by this duration.
	Delay time.Duration
}

var delayDirective = regexp.MustCompile(`(?i)\bdelay=(\d+)`)

// Parse gets the updates listed in the given header values.
// base is used in order to resolve relative paths.
// Syntax per entry is `path[; delay=N]`, entries separated by commas.
func Parse(base *url.URL, values []string) []CacheUpdate {
	updates := make([]CacheUpdate, 0)
	for _, value := range values {
		for _, update := range strings.Split(value, ",") {
			update = strings.TrimSpace(update)
			if update == "" {
				continue
			}
			u := getURL(base, update)
			if u == nil || u.Path == "" {
				continue
			}
			updates = append(updates, CacheUpdate{Path: u.Path, Delay: getDelay(update)})
		}
	}
	return updates
}

// getURL returns the URL named by the first parameter of the entry.
func getURL(base *url.URL, update string) *url.URL {
	possiblyRelativeURL, _, _ := strings.Cut(update, ";")
	ref, err := url.Parse(strings.TrimSpace(possiblyRelativeURL))
	if err != nil {
		return nil
	}
	if base == nil {
		return ref
	}
	return base.ResolveReference(ref)
}

// getDelay returns the `delay=N` directive in seconds, or 0 if there is none.
func getDelay(update string) time.Duration {
	if matches := delayDirective.FindStringSubmatch(update); matches != nil {
		if delay, err := strconv.Atoi(matches[1]); err == nil {
			return min(time.Duration(delay)*time.Second, MaxDelay)
		}
	}
	return 0
}
