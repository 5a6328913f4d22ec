package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// Key layout in the session cache. The current-session key mirrors the
// client-side cache contract; history is an append-only list used for
// resume without a round-trip to the audit store.
const (
	currentSessionKeyPrefix = "currentVerificationSession:"
	historyKey              = "verificationHistory"
)

// sessionTTL bounds abandoned in-progress sessions.
const sessionTTL = 24 * time.Hour

// RedisStore is a Store backed by go-redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a Redis-backed session store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get loads and decodes the session for the id.
func (r *RedisStore) Get(ctx context.Context, id string) (*VerificationSession, error) {
	raw, err := r.client.Get(ctx, currentSessionKeyPrefix+id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var s VerificationSession
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Put serializes and stores the session under its id.
func (r *RedisStore) Put(ctx context.Context, s *VerificationSession) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, currentSessionKeyPrefix+s.ID, raw, sessionTTL).Err()
}

// Delete removes the session key.
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, currentSessionKeyPrefix+id).Err()
}

// AppendHistory pushes a finalized session onto the append-only history list.
func (r *RedisStore) AppendHistory(ctx context.Context, s *VerificationSession) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.client.RPush(ctx, historyKey, raw).Err()
}
