// Package subscription maintains the shared channel subscription index: a forward map from channel to connection
// ids and a reverse map from connection id to channels. The two maps are not written transactionally; transient
// inconsistency is tolerated because delivery to a stale conn id is a no-op, and UnsubscribeAll converges the index
// at disconnect.
package subscription

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Channel name helpers. A channel is "lobby", "table:<tableId>", or "chat:<tableId>".
const Lobby = "lobby"

// TableChannel returns the channel name for a table's game events.
func TableChannel(tableID string) string { return "table:" + tableID }

// ChatChannel returns the channel name for a table's chat.
func ChatChannel(tableID string) string { return "chat:" + tableID }

func forwardKey(channel string) string { return "gateway:subscriptions:" + channel }
func reverseKey(connID string) string  { return "conn_subs:" + connID }

// Index is the shared subscription index. All writes are best-effort: store failures are logged, never surfaced,
// so a flaky store degrades delivery instead of breaking message handling.
type Index struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewIndex creates an index backed by the given store client.
func NewIndex(rdb *redis.Client, logger zerolog.Logger) *Index {
	return &Index{rdb: rdb, log: logger.With().Str("component", "subscriptions").Logger()}
}

// Subscribe adds the connection to the channel's forward set and the channel to the connection's reverse set.
func (i *Index) Subscribe(ctx context.Context, connID, channel string) {
	pipe := i.rdb.Pipeline()
	pipe.SAdd(ctx, forwardKey(channel), connID)
	pipe.SAdd(ctx, reverseKey(connID), channel)
	if _, err := pipe.Exec(ctx); err != nil {
		i.log.Warn().Err(err).Str("conn_id", connID).Str("channel", channel).Msg("Subscribe write failed")
	}
}

// Unsubscribe removes the connection from both maps for the given channel.
func (i *Index) Unsubscribe(ctx context.Context, connID, channel string) {
	pipe := i.rdb.Pipeline()
	pipe.SRem(ctx, forwardKey(channel), connID)
	pipe.SRem(ctx, reverseKey(connID), channel)
	if _, err := pipe.Exec(ctx); err != nil {
		i.log.Warn().Err(err).Str("conn_id", connID).Str("channel", channel).Msg("Unsubscribe write failed")
	}
}

// UnsubscribeAll reads the connection's reverse set, removes the connection from each channel's forward set, and
// deletes the reverse set. Applying it twice has the same effect as once.
func (i *Index) UnsubscribeAll(ctx context.Context, connID string) {
	channels, err := i.rdb.SMembers(ctx, reverseKey(connID)).Result()
	if err != nil {
		i.log.Warn().Err(err).Str("conn_id", connID).Msg("Reverse set read failed")
		return
	}

	pipe := i.rdb.Pipeline()
	for _, channel := range channels {
		pipe.SRem(ctx, forwardKey(channel), connID)
	}
	pipe.Del(ctx, reverseKey(connID))
	if _, err := pipe.Exec(ctx); err != nil {
		i.log.Warn().Err(err).Str("conn_id", connID).Msg("UnsubscribeAll write failed")
	}
}

// Subscribers returns the connection ids currently subscribed to the channel. A store failure yields an empty
// list; delivery simply skips this instance's fan-out for the message.
func (i *Index) Subscribers(ctx context.Context, channel string) []string {
	ids, err := i.rdb.SMembers(ctx, forwardKey(channel)).Result()
	if err != nil {
		i.log.Warn().Err(err).Str("channel", channel).Msg("Subscriber read failed")
		return nil
	}
	return ids
}

// Channels returns the channels the connection is currently subscribed to.
func (i *Index) Channels(ctx context.Context, connID string) []string {
	channels, err := i.rdb.SMembers(ctx, reverseKey(connID)).Result()
	if err != nil {
		i.log.Warn().Err(err).Str("conn_id", connID).Msg("Reverse set read failed")
		return nil
	}
	return channels
}
