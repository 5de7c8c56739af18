// Package ids generates the prefixed identifiers used throughout the
// execution pipeline (session IDs, tool-call IDs, reference IDs, generic
// keys) and a monotonic clock for duration measurement.
package ids

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	// SessionPrefix prefixes session identifiers.
	SessionPrefix = "s_"
	// CallPrefix prefixes tool-call identifiers.
	CallPrefix = "c_"
	// ReferencePrefix prefixes reference-sidecar identifiers.
	ReferencePrefix = "ref_"
	// KeyPrefix prefixes generic opaque keys (idempotency keys, rule IDs, etc).
	KeyPrefix = "k_"
)

// newSuffix returns a URL-safe random suffix carrying a UUIDv4's 122 bits
// of randomness, comfortably over the spec's 120-bit floor. Dashes are
// URL-safe, so the canonical UUID string needs no further encoding.
func newSuffix() string {
	return uuid.NewString()
}

// NewSessionID returns a fresh session identifier: "s_" + random suffix.
func NewSessionID() string { return SessionPrefix + newSuffix() }

// NewCallID returns a fresh tool-call identifier: "c_" + random suffix.
func NewCallID() string { return CallPrefix + newSuffix() }

// NewReferenceID returns a fresh reference-sidecar identifier: "ref_" + random suffix.
func NewReferenceID() string { return ReferencePrefix + newSuffix() }

// NewKey returns a fresh generic opaque key: "k_" + random suffix.
func NewKey() string { return KeyPrefix + newSuffix() }

// HasPrefix reports whether id carries one of the four known ID prefixes.
func HasPrefix(id string) bool {
	for _, p := range []string{SessionPrefix, CallPrefix, ReferencePrefix, KeyPrefix} {
		if len(id) > len(p) && id[:len(p)] == p {
			return true
		}
	}
	return false
}

// Clock is a monotonic clock that never moves backwards, used to compute
// durationMs and heartbeat ticks independent of wall-clock adjustments.
type Clock struct {
	start monotonicPoint
}

type monotonicPoint struct {
	t time.Time
}

// NewClock returns a Clock anchored at the current instant.
func NewClock() *Clock {
	return &Clock{start: monotonicPoint{t: time.Now()}}
}

// ElapsedMs returns the number of milliseconds elapsed since the clock was
// created. Because it is derived from time.Time's monotonic reading, it
// never decreases even if the wall clock is adjusted.
func (c *Clock) ElapsedMs() int64 {
	return time.Since(c.start.t).Milliseconds()
}

// Now returns the current wall-clock time as an ISO-8601 string, for
// transport fields such as heartbeat.ts and session_init.expiresAt.
func (c *Clock) Now() time.Time { return time.Now() }

// ISO8601 formats t as an RFC3339 string with millisecond precision, the
// wire format used for all timestamp fields.
func ISO8601(t time.Time) string { return t.UTC().Format("2006-01-02T15:04:05.000Z") }

// Counter is a simple atomic monotonic counter, used where a package needs
// a process-wide incrementing value (e.g. NDJSON line numbers in tests).
type Counter struct{ v int64 }

// Next returns the next value, starting at 1.
func (c *Counter) Next() int64 { return atomic.AddInt64(&c.v, 1) }
