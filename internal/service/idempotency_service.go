// internal/service/idempotency_service.go
package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	appErrors "github.com/mailroomhq/mailroom-backend/internal/errors"
	"github.com/mailroomhq/mailroom-backend/internal/metrics"
	"github.com/mailroomhq/mailroom-backend/internal/repository"
)

// IdempotencyService wraps mutating operations in the idempotency guard.
// Records live in shared storage, so the guard holds across every API
// instance without any in-process locking.
type IdempotencyService struct {
	Store repository.IdempotencyStoreInterface
	Log   *logrus.Logger
}

// createAttempts bounds the create/re-read loop when racing a concurrent
// request that keeps releasing the record.
const createAttempts = 3

// Do executes op at most once per (team, key, payload). An empty key
// disables the guard. The second return reports a replay: the cached result
// of an earlier execution, byte-identical to what that execution returned.
//
// Reusing a key with a different payload fails with ErrIdempotencyKeyReused
// and never touches the stored record. A concurrent holder of the key yields
// ErrIdempotencyInFlight, telling the caller to retry shortly. A failed op
// releases the record so the next retry runs fresh.
func (s *IdempotencyService) Do(ctx context.Context, teamID int64, key string, payload any, op func(ctx context.Context) (json.RawMessage, error)) (json.RawMessage, bool, error) {
	if key == "" {
		result, err := op(ctx)
		return result, false, err
	}

	fingerprint, err := Fingerprint(payload)
	if err != nil {
		return nil, false, fmt.Errorf("failed to fingerprint payload: %w", err)
	}

	for attempt := 0; attempt < createAttempts; attempt++ {
		rec, err := s.Store.Get(ctx, teamID, key)
		if err != nil {
			return nil, false, err
		}
		if rec != nil {
			if rec.Fingerprint != fingerprint {
				metrics.RecordIdempotencyOutcome("reused")
				return nil, false, &appErrors.ErrIdempotencyKeyReused{Key: key}
			}
			if rec.Completed() {
				metrics.RecordIdempotencyOutcome("replayed")
				return rec.Result, true, nil
			}
			metrics.RecordIdempotencyOutcome("in_flight")
			return nil, false, &appErrors.ErrIdempotencyInFlight{Key: key}
		}

		created, err := s.Store.CreateLocked(ctx, teamID, key, fingerprint)
		if err != nil {
			return nil, false, err
		}
		if !created {
			// Lost the creation race; re-read and take the record branches.
			continue
		}

		result, opErr := op(ctx)
		if opErr != nil {
			if relErr := s.Store.Release(ctx, teamID, key); relErr != nil {
				s.Log.WithFields(logrus.Fields{
					"teamId": teamID,
					"key":    key,
					"error":  relErr.Error(),
				}).Error("failed to release idempotency record")
			}
			return nil, false, opErr
		}

		if storeErr := s.Store.StoreResult(ctx, teamID, key, result); storeErr != nil {
			// The op succeeded; leaving the record locked blocks retries
			// until the TTL rather than risking a second execution.
			s.Log.WithFields(logrus.Fields{
				"teamId": teamID,
				"key":    key,
				"error":  storeErr.Error(),
			}).Error("failed to store idempotency result")
		}
		metrics.RecordIdempotencyOutcome("executed")
		return result, false, nil
	}

	metrics.RecordIdempotencyOutcome("in_flight")
	return nil, false, &appErrors.ErrIdempotencyInFlight{Key: key}
}

// Fingerprint hashes a request payload into its canonical form: object keys
// sorted recursively, array order preserved, numbers kept verbatim. Two
// bodies that differ only in key order or whitespace fingerprint equal.
func Fingerprint(payload any) (string, error) {
	raw, ok := payload.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(payload)
		if err != nil {
			return "", err
		}
		raw = b
	}

	canonical, err := canonicalJSON(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalJSON re-encodes raw JSON deterministically. Decoding into
// interface{} with UseNumber keeps numbers verbatim, and encoding/json
// marshals map keys in sorted order at every level.
func canonicalJSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
