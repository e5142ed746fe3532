// Package chat stores per-table chat history as a capped list in the shared store. The list is trimmed on every
// append and its TTL refreshed, so idle tables age out on their own.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// historyTTL is the lifetime of a table's chat history after the last message.
const historyTTL = 24 * time.Hour

// Message is one persisted chat record. Timestamp is an ISO-8601 string because it travels to clients verbatim.
type Message struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// Store reads and writes chat history.
type Store struct {
	rdb   *redis.Client
	limit int
}

// NewStore creates a chat history store keeping at most limit messages per table.
func NewStore(rdb *redis.Client, limit int) *Store {
	return &Store{rdb: rdb, limit: limit}
}

func historyKey(tableID string) string { return "gateway:chat:history:" + tableID }

// Save appends a message to the table's history, trimming to the configured cap and refreshing the TTL.
func (s *Store) Save(ctx context.Context, tableID string, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal chat message: %w", err)
	}

	key := historyKey(tableID)
	pipe := s.rdb.Pipeline()
	pipe.RPush(ctx, key, raw)
	pipe.LTrim(ctx, key, int64(-s.limit), -1)
	pipe.Expire(ctx, key, historyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save chat message for table %s: %w", tableID, err)
	}
	return nil
}

// History returns the table's messages, oldest first.
func (s *Store) History(ctx context.Context, tableID string) ([]Message, error) {
	raw, err := s.rdb.LRange(ctx, historyKey(tableID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read chat history for table %s: %w", tableID, err)
	}

	msgs := make([]Message, 0, len(raw))
	for _, item := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}
