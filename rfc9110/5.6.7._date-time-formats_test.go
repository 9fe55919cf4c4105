package rfc9110

import (
	"testing"
	"time"
)

func TestHttpDateIMF(t *testing.T) {
	date, err := HttpDate("Sun, 06 Nov 1994 08:49:37 GMT")
	if err != nil {
		t.Fatalf("Error parsing date %+v", err)
	}
	if want := time.Date(1994, 11, 6, 8, 49, 37, 0, time.UTC); !date.Equal(want) {
		t.Fatalf("Date is %v, expected %v", date, want)
	}
}

func TestHttpDateRFC850(t *testing.T) {
	_, err := HttpDate("Sunday, 06-Nov-94 08:49:37 GMT")
	if err != nil {
		t.Fatalf("Error parsing date %+v", err)
	}
}

func TestHttpDateAsctime(t *testing.T) {
	_, err := HttpDate("Sun Nov  6 08:49:37 1994")
	if err != nil {
		t.Fatalf("Error parsing date %+v", err)
	}
}

func TestHttpDateTZCase(t *testing.T) {
	_, err := HttpDate("Thu, 18 Aug 2050 02:01:18 gMT")
	if err != nil {
		t.Fatalf("Error parsing date %+v", err)
	}
}

func TestHttpDateRejectsOtherZones(t *testing.T) {
	if _, err := HttpDate("Thu, 18 Aug 2050 02:01:18 PST"); err == nil {
		t.Fatal("Expected error for non-GMT date")
	}
	if _, err := HttpDate("yesterday"); err == nil {
		t.Fatal("Expected error for garbage date")
	}
}

func TestToHttpDateRoundTrip(t *testing.T) {
	now := time.Date(2024, 3, 9, 17, 4, 5, 0, time.FixedZone("CET", 3600))
	str := ToHttpDate(now)
	if str != "Sat, 09 Mar 2024 16:04:05 GMT" {
		t.Fatalf("Date string is %s", str)
	}
	parsed, err := HttpDate(str)
	if err != nil || !parsed.Equal(now) {
		t.Fatalf("Parsed %v (%v), expected %v", parsed, err, now)
	}
}
