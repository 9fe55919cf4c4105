package rfc9111

import (
	"testing"
	"time"
)

func TestMaxAge(t *testing.T) {
	cc := ParseCacheControl([]string{"max-age=60"})
	if d, ok := cc.MaxAge(); !ok || d != time.Minute {
		t.Fatalf("max-age %v ok %v", d, ok)
	}
}

func TestReal(t *testing.T) {
	cc := ParseCacheControl([]string{"public,max-age=0, S-MaxAge=\"600\""})
	if val, ok := cc.Get("public"); !ok || val != "" {
		t.Fatalf("val: '%s', ok: %v", val, ok)
	}
	if val, ok := cc.Get("max-age"); !ok || val != "0" {
		t.Fatalf("val: '%s', ok: %v", val, ok)
	}
	if val, ok := cc.Get("s-maxage"); !ok || val != "600" {
		t.Fatalf("val: '%s', ok: %v", val, ok)
	}
	if cc.NoStore() {
		t.Fatal("no-store not present")
	}
}

func TestInvalidMaxAge(t *testing.T) {
	if _, ok := ParseCacheControl([]string{"max-age=-1"}).MaxAge(); ok {
		t.Fatal("negative max-age accepted")
	}
}

func TestFormatMaxAge(t *testing.T) {
	if s := FormatMaxAge(90 * time.Second); s != "max-age=90" {
		t.Fatalf("got %s", s)
	}
	if s := FormatMaxAge(-time.Second); s != "max-age=0" {
		t.Fatalf("got %s", s)
	}
}

func TestDeltaSecondsOverflow(t *testing.T) {
	d, ok := DeltaSeconds("99999999999999999999999")
	if !ok || d != MaxDeltaSeconds*time.Second {
		t.Fatalf("got %v %v", d, ok)
	}
}

func TestAge(t *testing.T) {
	now := time.Now()
	if s := Age(now.Add(-1500*time.Millisecond), now); s != "1" {
		t.Fatalf("Age %s", s)
	}
	if s := Age(now.Add(time.Second), now); s != "0" {
		t.Fatalf("Age %s", s)
	}
}
