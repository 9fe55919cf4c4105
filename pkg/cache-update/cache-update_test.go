package cacheupdate

import (
	"net/url"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	base, _ := url.Parse("/_admin/cache/purge")
	updates := Parse(base, []string{"/index.html, static/app.js; delay=2", "../notes.txt;DELAY=x"})
	if len(updates) != 3 {
		t.Fatalf("Got %d updates: %+v", len(updates), updates)
	}
	expected := []CacheUpdate{
		{Path: "/index.html"},
		{Path: "/_admin/cache/static/app.js", Delay: 2 * time.Second},
		{Path: "/_admin/notes.txt"},
	}
	for i, u := range updates {
		if u != expected[i] {
			t.Fatalf("Update %d is %+v, expected %+v", i, u, expected[i])
		}
	}
}

func TestParseEmpty(t *testing.T) {
	if updates := Parse(nil, []string{"", " , "}); len(updates) != 0 {
		t.Fatalf("Got %+v", updates)
	}
}

func TestDelayCapped(t *testing.T) {
	updates := Parse(nil, []string{"/a; delay=999999"})
	if len(updates) != 1 || updates[0].Delay != MaxDelay {
		t.Fatalf("Got %+v", updates)
	}
}
