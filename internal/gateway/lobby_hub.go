package gateway

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/riverpile/riverpile-gateway/internal/subscription"
)

// LobbyHub serves the open-table list. Every authenticated connection is attached to the lobby channel and
// receives the current list immediately; later updates arrive over the bus, published by whichever service
// observed the table change.
type LobbyHub struct {
	index *subscription.Index
	bc    *Broadcaster
	game  GameService
	log   zerolog.Logger
}

// NewLobbyHub creates the lobby hub.
func NewLobbyHub(index *subscription.Index, bc *Broadcaster, game GameService, logger zerolog.Logger) *LobbyHub {
	return &LobbyHub{
		index: index,
		bc:    bc,
		game:  game,
		log:   logger.With().Str("component", "lobby_hub").Logger(),
	}
}

// OnAttach subscribes a freshly authenticated connection to the lobby and sends it the current table list. A
// failed list fetch leaves the subscription standing; the next bus update fills the gap.
func (h *LobbyHub) OnAttach(ctx context.Context, c *Client) {
	h.index.Subscribe(ctx, c.ConnID(), subscription.Lobby)

	tables, err := h.game.ListTables(ctx)
	if err != nil {
		h.log.Warn().Err(err).Msg("Table list fetch failed")
		return
	}

	c.sendMessage(LobbyTablesUpdated{Type: TypeLobbyTablesUpdated, Tables: tableViews(tables)})
}

// DeliverBusUpdate normalizes a lobby payload received over the bus and fans it out to local lobby subscribers.
// Payloads without a tables array are dropped.
func (h *LobbyHub) DeliverBusUpdate(ctx context.Context, payload map[string]any) {
	raw, ok := payload["tables"].([]any)
	if !ok {
		h.log.Warn().Msg("Lobby bus payload without tables array dropped")
		return
	}

	h.bc.Local(ctx, subscription.Lobby, LobbyTablesUpdated{
		Type:   TypeLobbyTablesUpdated,
		Tables: normalizeTables(raw),
	})
}

// normalizeTables coerces loosely typed table maps into wire views, accepting snake_case and camelCase key
// spellings. Entries that are not objects are skipped.
func normalizeTables(raw []any) []TableView {
	views := make([]TableView, 0, len(raw))
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		views = append(views, TableView{
			ID:         mapStr(m, "id"),
			Name:       mapStr(m, "name"),
			GameType:   mapStr(m, "game_type", "gameType"),
			SmallBlind: mapNum(m, "small_blind", "smallBlind"),
			BigBlind:   mapNum(m, "big_blind", "bigBlind"),
			MaxSeats:   int(mapNum(m, "max_seats", "maxSeats")),
			Seated:     int(mapNum(m, "seated")),
			Spectators: int(mapNum(m, "spectators")),
		})
	}
	return views
}

func mapStr(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok {
			return v
		}
	}
	return ""
}

func mapNum(m map[string]any, keys ...string) float64 {
	for _, k := range keys {
		if v, ok := m[k].(float64); ok {
			return v
		}
	}
	return 0
}
