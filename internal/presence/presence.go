// Package presence tracks the per-user online flag in the shared store. A user is online iff they hold at least
// one connection on any instance; the session lifecycle maintains the flag and the TTL guards against instances
// that die without cleaning up.
package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// presenceTTL bounds how long a presence key can outlive its last connection if an instance crashes before
	// flipping the flag. Session registration refreshes it.
	presenceTTL = 120 * time.Second

	// StatusOnline indicates the user has at least one live connection.
	StatusOnline = "online"
	// StatusOffline is the implicit status when no presence key exists. It is never stored.
	StatusOffline = "offline"
)

// Store reads and writes the per-user presence flag.
type Store struct {
	rdb *redis.Client
}

// NewStore creates a presence store backed by the given store client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func presenceKey(userID string) string { return "presence:" + userID }

// SetOnline marks the user online with the standard TTL.
func (s *Store) SetOnline(ctx context.Context, userID string) error {
	if err := s.rdb.Set(ctx, presenceKey(userID), StatusOnline, presenceTTL).Err(); err != nil {
		return fmt.Errorf("set presence for %s: %w", userID, err)
	}
	return nil
}

// SetOffline removes the user's presence key.
func (s *Store) SetOffline(ctx context.Context, userID string) error {
	if err := s.rdb.Del(ctx, presenceKey(userID)).Err(); err != nil {
		return fmt.Errorf("delete presence for %s: %w", userID, err)
	}
	return nil
}

// Get returns the user's current status. A missing key means offline.
func (s *Store) Get(ctx context.Context, userID string) (string, error) {
	val, err := s.rdb.Get(ctx, presenceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return StatusOffline, nil
	}
	if err != nil {
		return "", fmt.Errorf("get presence for %s: %w", userID, err)
	}
	return val, nil
}

// Refresh extends the TTL of the user's presence key without changing the stored status.
func (s *Store) Refresh(ctx context.Context, userID string) error {
	if err := s.rdb.Expire(ctx, presenceKey(userID), presenceTTL).Err(); err != nil {
		return fmt.Errorf("refresh presence for %s: %w", userID, err)
	}
	return nil
}
