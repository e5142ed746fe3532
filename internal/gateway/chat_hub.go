package gateway

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/riverpile/riverpile-gateway/internal/chat"
	"github.com/riverpile/riverpile-gateway/internal/metrics"
	"github.com/riverpile/riverpile-gateway/internal/subscription"
)

// maxChatLength is the maximum chat message length in runes, measured after sanitisation.
const maxChatLength = 500

// ChatHub serves per-table chat: subscriptions with history replay, and sends gated by the policy chain
// (sanitise, length, rate limit, table membership, mute).
type ChatHub struct {
	index    *subscription.Index
	bc       *Broadcaster
	game     GameService
	players  PlayerService
	history  ChatHistory
	limiter  RateLimiter
	sanitize *bluemonday.Policy
	met      *metrics.Metrics
	log      zerolog.Logger
}

// NewChatHub creates the chat hub.
func NewChatHub(index *subscription.Index, bc *Broadcaster, game GameService, players PlayerService, history ChatHistory, limiter RateLimiter, met *metrics.Metrics, logger zerolog.Logger) *ChatHub {
	return &ChatHub{
		index:    index,
		bc:       bc,
		game:     game,
		players:  players,
		history:  history,
		limiter:  limiter,
		sanitize: bluemonday.StrictPolicy(),
		met:      met,
		log:      logger.With().Str("component", "chat_hub").Logger(),
	}
}

// RegisterHandlers binds the hub's message types on the router.
func (h *ChatHub) RegisterHandlers(r *Router) {
	r.Register("chat", TypeSubscribeChat, h.handleSubscribe)
	r.Register("chat", TypeUnsubscribeChat, h.handleUnsubscribe)
	r.Register("chat", TypeChatSend, h.handleSend)
}

func (h *ChatHub) handleSubscribe(ctx context.Context, c *Client, msg *ClientMessage) {
	h.index.Subscribe(ctx, c.ConnID(), subscription.ChatChannel(msg.TableID))

	history, err := h.history.History(ctx, msg.TableID)
	if err != nil {
		h.log.Warn().Err(err).Str("table_id", msg.TableID).Msg("Chat history fetch failed")
	}
	if history == nil {
		history = []chat.Message{}
	}

	c.sendMessage(ChatSubscribed{Type: TypeChatSubscribed, TableID: msg.TableID, History: history})
}

func (h *ChatHub) handleUnsubscribe(ctx context.Context, c *Client, msg *ClientMessage) {
	h.index.Unsubscribe(ctx, c.ConnID(), subscription.ChatChannel(msg.TableID))
}

// handleSend runs the send policy chain in order; the first failing check rejects with its reason and nothing
// later in the chain runs. Only messages that pass everything are persisted and broadcast.
func (h *ChatHub) handleSend(ctx context.Context, c *Client, msg *ClientMessage) {
	reject := func(reason string) {
		c.sendMessage(ChatError{Type: TypeChatError, TableID: msg.TableID, Reason: reason})
	}

	text := strings.TrimSpace(h.sanitize.Sanitize(msg.Message))
	if text == "" {
		reject(ReasonEmptyMessage)
		return
	}
	if utf8.RuneCountInString(text) > maxChatLength {
		reject(ReasonMessageTooLong)
		return
	}

	if !h.limiter.Allow(ctx, c.UserID(), c.IP(), "chat") {
		h.met.RateLimited.WithLabelValues("chat").Inc()
		reject(ReasonRateLimited)
		return
	}

	state, err := h.game.GetTableState(ctx, msg.TableID, c.UserID())
	if err != nil {
		h.log.Warn().Err(err).Str("table_id", msg.TableID).Msg("Membership check failed")
		reject(ReasonInternalError)
		return
	}
	if !isTableMember(state.State, c.UserID()) {
		reject(ReasonNotSeated)
		return
	}

	muted, err := h.game.IsMuted(ctx, c.UserID())
	if err != nil {
		// Fail open: a mute-service outage must not silence every table.
		h.log.Warn().Err(err).Str("user_id", c.UserID()).Msg("Mute check failed")
	} else if muted {
		reject(ReasonMuted)
		return
	}

	username := "Unknown"
	if profile, err := h.players.GetProfile(ctx, c.UserID()); err != nil {
		h.log.Debug().Err(err).Str("user_id", c.UserID()).Msg("Profile fetch failed")
	} else if profile != nil && profile.Username != "" {
		username = profile.Username
	}

	record := chat.Message{
		ID:        uuid.NewString(),
		UserID:    c.UserID(),
		Username:  username,
		Text:      text,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if err := h.history.Save(ctx, msg.TableID, record); err != nil {
		h.log.Error().Err(err).Str("table_id", msg.TableID).Msg("Chat persist failed")
		reject(ReasonInternalError)
		return
	}

	h.bc.Broadcast(ctx, subscription.ChatChannel(msg.TableID), map[string]any{
		"type":    TypeChatMessage,
		"tableId": msg.TableID,
		"message": record,
	})
}

// isTableMember reports whether the user appears in the state's seats or spectators. A seat only counts with a
// non-empty status: a stood-up or placeholder seat row still names the user but no longer grants membership. The
// state map is owned by the game service; both snake_case and camelCase key spellings are accepted.
func isTableMember(state map[string]any, userID string) bool {
	if state == nil {
		return false
	}

	if seats, ok := state["seats"].([]any); ok {
		for _, seat := range seats {
			entry, ok := seat.(map[string]any)
			if !ok {
				continue
			}
			if stateUserID(entry) == userID && seatStatus(entry) != "" {
				return true
			}
		}
	}

	if spectators, ok := state["spectators"].([]any); ok {
		for _, spec := range spectators {
			switch v := spec.(type) {
			case string:
				if v == userID {
					return true
				}
			case map[string]any:
				if stateUserID(v) == userID {
					return true
				}
			}
		}
	}

	return false
}

func seatStatus(entry map[string]any) string {
	s, _ := entry["status"].(string)
	return s
}

func stateUserID(entry map[string]any) string {
	if id, ok := entry["user_id"].(string); ok {
		return id
	}
	if id, ok := entry["userId"].(string); ok {
		return id
	}
	return ""
}
