package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ConnInfo is the shared directory row for one connection. Only the id and owning instance matter to other
// instances; the rest is diagnostic.
type ConnInfo struct {
	ID          string
	UserID      string
	IP          string
	ClientType  string // "web" or "mobile"
	InstanceID  string
	ConnectedAt time.Time
}

// Directory is the cross-instance connection directory in the key-value store. Rows are written by the owning
// instance and garbage-collected by the staleness sweep when an instance dies without cleaning up.
type Directory struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewDirectory creates a directory backed by the given store client.
func NewDirectory(rdb *redis.Client, logger zerolog.Logger) *Directory {
	return &Directory{rdb: rdb, log: logger.With().Str("component", "directory").Logger()}
}

func connKey(connID string) string          { return "gateway:conn:" + connID }
func userConnsKey(userID string) string     { return "gateway:user_conns:" + userID }
func instanceConnsKey(instID string) string { return "gateway:instance_conns:" + instID }

// Save writes the connection row and adds the id to the per-user and per-instance sets.
func (d *Directory) Save(ctx context.Context, info ConnInfo) error {
	pipe := d.rdb.Pipeline()
	pipe.HSet(ctx, connKey(info.ID), map[string]any{
		"user_id":      info.UserID,
		"ip":           info.IP,
		"client_type":  info.ClientType,
		"instance_id":  info.InstanceID,
		"connected_at": info.ConnectedAt.UTC().Format(time.RFC3339),
	})
	pipe.SAdd(ctx, userConnsKey(info.UserID), info.ID)
	pipe.SAdd(ctx, instanceConnsKey(info.InstanceID), info.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save connection %s: %w", info.ID, err)
	}
	return nil
}

// Delete removes the connection row and its set memberships. The owning instance id is read from the row so the
// per-instance set stays consistent even if the caller races a sweep.
func (d *Directory) Delete(ctx context.Context, connID, userID string) error {
	instID, err := d.rdb.HGet(ctx, connKey(connID), "instance_id").Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("read connection %s: %w", connID, err)
	}

	pipe := d.rdb.Pipeline()
	pipe.Del(ctx, connKey(connID))
	pipe.SRem(ctx, userConnsKey(userID), connID)
	if instID != "" {
		pipe.SRem(ctx, instanceConnsKey(instID), connID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete connection %s: %w", connID, err)
	}
	return nil
}

// ByUser returns the ids of all connections the user currently holds, on any instance.
func (d *Directory) ByUser(ctx context.Context, userID string) ([]string, error) {
	ids, err := d.rdb.SMembers(ctx, userConnsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list connections for user %s: %w", userID, err)
	}
	return ids, nil
}

// ClearInstance removes every directory row owned by the given instance. Called by the staleness sweep and during
// graceful shutdown.
func (d *Directory) ClearInstance(ctx context.Context, instanceID string) error {
	ids, err := d.rdb.SMembers(ctx, instanceConnsKey(instanceID)).Result()
	if err != nil {
		return fmt.Errorf("list connections for instance %s: %w", instanceID, err)
	}

	for _, connID := range ids {
		userID, err := d.rdb.HGet(ctx, connKey(connID), "user_id").Result()
		if err != nil && err != redis.Nil {
			d.log.Warn().Err(err).Str("conn_id", connID).Msg("Failed to read connection row during clear")
			continue
		}
		pipe := d.rdb.Pipeline()
		pipe.Del(ctx, connKey(connID))
		if userID != "" {
			pipe.SRem(ctx, userConnsKey(userID), connID)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			d.log.Warn().Err(err).Str("conn_id", connID).Msg("Failed to delete connection row during clear")
		}
	}

	if err := d.rdb.Del(ctx, instanceConnsKey(instanceID)).Err(); err != nil {
		return fmt.Errorf("delete instance set %s: %w", instanceID, err)
	}
	return nil
}
