package cache

import (
	"net/http"
	"path"
	"strings"

	cachekey "github.com/always-cache/always-origin/pkg/cache-key"
)

// VaryHeaders are the request headers that select a representation variant.
var VaryHeaders = []string{"Accept-Encoding"}

// Key identifies one representation variant of a resource.
// Empty Method, URL or Version do not constrain a match.
type Key struct {
	Method  string
	URL     string
	Version string
	// Vary is the canonical encoding of the VaryHeaders values.
	Vary string
}

// KeyFromRequest builds the key of a parsed request.
func KeyFromRequest(r *http.Request) Key {
	return Key{
		Method:  strings.ToUpper(r.Method),
		URL:     NormalizePath(r.URL.Path),
		Version: r.Proto,
		Vary:    cachekey.EncodeVary(r.Header, VaryHeaders),
	}
}

// NormalizePath returns a cleaned absolute path.
func NormalizePath(p string) string {
	return path.Clean("/" + p)
}

func (k Key) String() string {
	return cachekey.Format(k.Method, k.URL, k.Version, k.Vary)
}

// VaryValues decodes the vary encoding back into header values.
func (k Key) VaryValues() http.Header {
	return cachekey.DecodeVary(k.Vary)
}
