package ids

import (
	"strings"
	"testing"
	"time"
)

func TestNewSessionIDPrefixAndUniqueness(t *testing.T) {
	a := NewSessionID()
	b := NewSessionID()
	if !strings.HasPrefix(a, SessionPrefix) {
		t.Fatalf("expected prefix %q, got %q", SessionPrefix, a)
	}
	if a == b {
		t.Fatalf("expected distinct ids, got %q twice", a)
	}
	if len(a) <= len(SessionPrefix) {
		t.Fatalf("expected a non-empty random suffix, got %q", a)
	}
}

func TestIDPrefixes(t *testing.T) {
	cases := []struct {
		gen    func() string
		prefix string
	}{
		{NewSessionID, SessionPrefix},
		{NewCallID, CallPrefix},
		{NewReferenceID, ReferencePrefix},
		{NewKey, KeyPrefix},
	}
	for _, c := range cases {
		id := c.gen()
		if !strings.HasPrefix(id, c.prefix) {
			t.Errorf("expected prefix %q, got %q", c.prefix, id)
		}
		if !HasPrefix(id) {
			t.Errorf("HasPrefix(%q) = false, want true", id)
		}
	}
	if HasPrefix("nope") {
		t.Error("HasPrefix(\"nope\") = true, want false")
	}
}

func TestClockMonotonic(t *testing.T) {
	c := NewClock()
	first := c.ElapsedMs()
	time.Sleep(2 * time.Millisecond)
	second := c.ElapsedMs()
	if second < first {
		t.Fatalf("clock moved backwards: %d then %d", first, second)
	}
}

func TestISO8601Format(t *testing.T) {
	ts := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	got := ISO8601(ts)
	if got != "2026-07-31T12:00:00.000Z" {
		t.Fatalf("unexpected ISO8601 format: %q", got)
	}
}

func TestCounterMonotonic(t *testing.T) {
	var c Counter
	if v := c.Next(); v != 1 {
		t.Fatalf("expected first value 1, got %d", v)
	}
	if v := c.Next(); v != 2 {
		t.Fatalf("expected second value 2, got %d", v)
	}
}
