package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/groupspend/groupspend/internal/shared"
)

// ErrIdempotencyConflict indicates a key that was already claimed.
var ErrIdempotencyConflict = fmt.Errorf("idempotent request already processed: %w", shared.ErrConflict)

// IdempotencyStore remembers client supplied request keys for a retention
// window. A nil store accepts every key.
type IdempotencyStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(client *redis.Client, retention time.Duration) *IdempotencyStore {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &IdempotencyStore{client: client, retention: retention}
}

func idempotencyKey(scope, key string) string {
	return "idempotency:" + scope + ":" + key
}

// Claim records key within scope. It returns ErrIdempotencyConflict when the
// key was claimed before and has not expired.
func (s *IdempotencyStore) Claim(ctx context.Context, scope, key string) error {
	if s == nil || s.client == nil {
		return nil
	}
	if key == "" {
		return errors.New("platform/cache: idempotency key required")
	}
	ok, err := s.client.SetNX(ctx, idempotencyKey(scope, key), time.Now().UTC().Format(time.RFC3339), s.retention).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrIdempotencyConflict
	}
	return nil
}

// Release forgets key, typically after the guarded request failed.
func (s *IdempotencyStore) Release(ctx context.Context, scope, key string) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Del(ctx, idempotencyKey(scope, key)).Err()
}
