package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mailroomhq/mailroom-backend/internal/model"
)

// IdempotencyStoreInterface is the shared record store behind the idempotency
// guard. Creation must be atomic insert-if-absent across all API instances;
// everything else builds on that.
type IdempotencyStoreInterface interface {
	// CreateLocked atomically inserts a locked record with the store TTL.
	// Returns false when a record already exists (the caller re-reads it).
	CreateLocked(ctx context.Context, teamID int64, key, fingerprint string) (bool, error)
	Get(ctx context.Context, teamID int64, key string) (*model.IdempotencyRecord, error)
	// StoreResult completes the record without extending its TTL: replay
	// protection is counted from first use, not last.
	StoreResult(ctx context.Context, teamID int64, key string, result json.RawMessage) error
	// Release removes the record so a failed operation never poisons the key.
	Release(ctx context.Context, teamID int64, key string) error
}

// IdempotencyStore keeps records in Redis under idempotency:{team}:{key}
// with a 24h TTL enforced by Redis itself.
type IdempotencyStore struct {
	Client *redis.Client
}

func idempotencyKey(teamID int64, key string) string {
	return fmt.Sprintf("idempotency:%d:%s", teamID, key)
}

func (s *IdempotencyStore) CreateLocked(ctx context.Context, teamID int64, key, fingerprint string) (bool, error) {
	now := time.Now().UTC()
	rec := model.IdempotencyRecord{
		Fingerprint: fingerprint,
		LockedAt:    &now,
		CreatedAt:   now,
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("failed to marshal idempotency record: %w", err)
	}

	created, err := s.Client.SetNX(ctx, idempotencyKey(teamID, key), payload, model.IdempotencyTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to create idempotency record: %w", err)
	}
	return created, nil
}

func (s *IdempotencyStore) Get(ctx context.Context, teamID int64, key string) (*model.IdempotencyRecord, error) {
	raw, err := s.Client.Get(ctx, idempotencyKey(teamID, key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read idempotency record: %w", err)
	}
	var rec model.IdempotencyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode idempotency record: %w", err)
	}
	return &rec, nil
}

func (s *IdempotencyStore) StoreResult(ctx context.Context, teamID int64, key string, result json.RawMessage) error {
	rec, err := s.Get(ctx, teamID, key)
	if err != nil {
		return err
	}
	if rec == nil {
		// Record expired between lock and completion: nothing to complete,
		// the next retry runs fresh.
		return nil
	}
	rec.LockedAt = nil
	rec.Result = result

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal idempotency record: %w", err)
	}
	// XX + KeepTTL: only overwrite an existing record and leave the original
	// 24h expiry counting from creation.
	err = s.Client.SetArgs(ctx, idempotencyKey(teamID, key), payload, redis.SetArgs{
		Mode:    "XX",
		KeepTTL: true,
	}).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to store idempotency result: %w", err)
	}
	return nil
}

func (s *IdempotencyStore) Release(ctx context.Context, teamID int64, key string) error {
	if err := s.Client.Del(ctx, idempotencyKey(teamID, key)).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency record: %w", err)
	}
	return nil
}

var _ IdempotencyStoreInterface = (*IdempotencyStore)(nil)
