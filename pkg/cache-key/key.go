package cachekey

import (
	"net/http"
	"strings"
)

const (
	methodSeparator  = ":"
	versionSeparator = " "
	varySeparator    = "\t"
	varyLineSep      = "\n"
	varyNameSep      = ": "
)

// EncodeVary returns the canonical encoding of the given request header values.
// Each name gets one line, in the order given, also when the header is absent,
// so that two encodings are equal exactly when every value is equal.
func EncodeVary(h http.Header, names []string) string {
	var b strings.Builder
	for _, name := range names {
		b.WriteString(varyLineSep)
		b.WriteString(strings.ToLower(name))
		b.WriteString(varyNameSep)
		b.WriteString(strings.TrimSpace(h.Get(name)))
	}
	return b.String()
}

// DecodeVary creates a http.Header instance containing all the vary values included in an encoding.
func DecodeVary(vary string) http.Header {
	header := make(http.Header)
	for _, line := range strings.Split(vary, varyLineSep) {
		if line == "" {
			continue
		}
		name, value, _ := strings.Cut(line, varyNameSep)
		header.Add(name, value)
	}
	return header
}

// Format renders the parts of a key as `METHOD:URL HTTP/x.y\t<vary>`.
func Format(method, url, version, vary string) string {
	return method + methodSeparator + url + versionSeparator + version + varySeparator + vary
}
