package cachekey

import (
	"net/http"
	"testing"
)

func TestEncodeVaryAbsentHeader(t *testing.T) {
	h := make(http.Header)
	if got := EncodeVary(h, []string{"Accept-Encoding"}); got != "\naccept-encoding: " {
		t.Fatalf("Encoded vary is %q", got)
	}
}

func TestEncodeVaryDistinguishesValues(t *testing.T) {
	gzip := http.Header{"Accept-Encoding": {"gzip"}}
	none := http.Header{"Accept-Encoding": {"identity"}}
	names := []string{"Accept-Encoding"}
	if EncodeVary(gzip, names) == EncodeVary(none, names) {
		t.Fatalf("Different values encode equal")
	}
}

func TestFormat(t *testing.T) {
	key := Format("GET", "/a b/page", "HTTP/1.1", "\naccept-encoding: gzip")
	if key != "GET:/a b/page HTTP/1.1\t\naccept-encoding: gzip" {
		t.Fatalf("Key is %q", key)
	}
}

func TestDecodeVary(t *testing.T) {
	h := http.Header{"Accept-Encoding": {"gzip, br"}}
	decoded := DecodeVary(EncodeVary(h, []string{"Accept-Encoding"}))
	if v := decoded.Get("Accept-Encoding"); v != "gzip, br" {
		t.Fatalf("Decoded value is %q", v)
	}
}
