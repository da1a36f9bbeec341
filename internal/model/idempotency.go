// internal/model/idempotency.go
package model

import (
	"encoding/json"
	"time"
)

// IdempotencyRecord is the value stored per (team, idempotency key). The
// record is created in the locked state by an atomic insert-if-absent, then
// either completed with a result or deleted when the wrapped operation fails.
// Expiry is enforced by the store's TTL; a record past its TTL is absent.
type IdempotencyRecord struct {
	Fingerprint string          `json:"fingerprint"`
	LockedAt    *time.Time      `json:"lockedAt,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// InFlight reports whether the wrapped operation is still executing
// somewhere: locked and no result stored yet.
func (r *IdempotencyRecord) InFlight() bool {
	return r.LockedAt != nil && len(r.Result) == 0
}

// Completed reports whether a cached result is available for replay.
func (r *IdempotencyRecord) Completed() bool {
	return len(r.Result) > 0
}

// IdempotencyKeyMaxLen bounds the caller-supplied key (header value).
const (
	IdempotencyKeyMinLen = 1
	IdempotencyKeyMaxLen = 256

	// IdempotencyTTL is how long records (and therefore cached replays)
	// live, counted from creation.
	IdempotencyTTL = 24 * time.Hour
)
