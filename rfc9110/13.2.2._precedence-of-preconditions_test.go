package rfc9110

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var (
	testNow      = time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	testModified = time.Date(2024, 3, 1, 8, 30, 15, 500_000_000, time.UTC)
	testRep      = Representation{ETag: `"abc123"`, LastModified: testModified}
)

func TestEvaluateNoValidators(t *testing.T) {
	assert.Equal(t, OutcomeFull, Evaluate(Validators{}, testRep, testNow))
}

func TestEvaluateIfNoneMatch(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   Outcome
	}{
		{"exact", `"abc123"`, OutcomeNotModified},
		{"weak", `W/"abc123"`, OutcomeNotModified},
		{"list", `"zzz", "abc123"`, OutcomeNotModified},
		{"star", `*`, OutcomeNotModified},
		{"other", `"zzz"`, OutcomeFull},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(Validators{IfNoneMatch: tt.header}, testRep, testNow)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateIfModifiedSince(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   Outcome
	}{
		{"same second", "Fri, 01 Mar 2024 08:30:15 GMT", OutcomeNotModified},
		{"later", "Sat, 02 Mar 2024 00:00:00 GMT", OutcomeNotModified},
		{"earlier", "Fri, 01 Mar 2024 08:30:14 GMT", OutcomeFull},
		{"invalid", "yesterday", OutcomeFull},
		{"future", "Sun, 10 Mar 2024 00:00:00 GMT", OutcomeFull},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(Validators{IfModifiedSince: tt.header}, testRep, testNow)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateIfNoneMatchTakesPrecedence(t *testing.T) {
	v := Validators{
		IfNoneMatch:     `"zzz"`,
		IfModifiedSince: "Sat, 02 Mar 2024 00:00:00 GMT",
	}
	assert.Equal(t, OutcomeFull, Evaluate(v, testRep, testNow))

	v.IfNoneMatch = `"abc123"`
	v.IfModifiedSince = "Thu, 01 Jan 1970 00:00:00 GMT"
	assert.Equal(t, OutcomeNotModified, Evaluate(v, testRep, testNow))
}

func TestQuoteETag(t *testing.T) {
	assert.Equal(t, `"abc"`, QuoteETag("abc"))
	assert.True(t, IfNoneMatchMatches(QuoteETag("abc"), "abc"))
}
