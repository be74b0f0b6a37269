// Package expiry decides when a cached document is stale and must be rebuilt
// from source. The policy is shared by the station-code directory, the channel
// catalog, and every guide source: a document carries the time it was built
// and a per-document lifetime; expiry is checked on access, never in the
// background.
package expiry

import "time"

// Clock returns the current time. Injected so tests can advance a simulated
// clock past a document's lifetime.
type Clock func() time.Time

// Document wraps a cached payload with its build time and lifetime.
type Document[T any] struct {
	Data             T             `json:"data"`
	Date             time.Time     `json:"date"`
	ExpirationMillis int64         `json:"expirationMillis"`
}

// New stamps data with now and the given lifetime.
func New[T any](data T, now time.Time, lifetime time.Duration) Document[T] {
	return Document[T]{
		Data:             data,
		Date:             now,
		ExpirationMillis: lifetime.Milliseconds(),
	}
}

// Expired reports whether the document's lifetime has elapsed at now.
// A zero Date (never built) is always expired.
func (d Document[T]) Expired(now time.Time) bool {
	if d.Date.IsZero() {
		return true
	}
	deadline := d.Date.Add(time.Duration(d.ExpirationMillis) * time.Millisecond)
	return !deadline.After(now)
}

// Fresh is the negation of Expired; reads better at call sites that gate a
// reload on an already-fresh document.
func (d Document[T]) Fresh(now time.Time) bool { return !d.Expired(now) }
