package gateway

import (
	"encoding/json"

	"github.com/riverpile/riverpile-gateway/internal/chat"
	"github.com/riverpile/riverpile-gateway/internal/rpc"
)

// Client → server message type tags.
const (
	TypeAuthenticate     = "Authenticate"
	TypeSubscribeTable   = "SubscribeTable"
	TypeUnsubscribeTable = "UnsubscribeTable"
	TypeResyncTable      = "ResyncTable"
	TypeJoinSeat         = "JoinSeat"
	TypeLeaveTable       = "LeaveTable"
	TypeAction           = "Action"
	TypeSubscribeChat    = "SubscribeChat"
	TypeUnsubscribeChat  = "UnsubscribeChat"
	TypeChatSend         = "ChatSend"
)

// Server → client message type tags.
const (
	TypeWelcome            = "Welcome"
	TypeError              = "Error"
	TypeLobbyTablesUpdated = "LobbyTablesUpdated"
	TypeTableSnapshot      = "TableSnapshot"
	TypeHoleCards          = "HoleCards"
	TypeActionResult       = "ActionResult"
	TypeChatSubscribed     = "ChatSubscribed"
	TypeChatError          = "ChatError"
	TypeChatMessage        = "ChatMessage"
)

// Policy rejection reasons carried on ActionResult and ChatError.
const (
	ReasonRateLimited    = "rate_limited"
	ReasonNotSeated      = "not_seated"
	ReasonMuted          = "muted"
	ReasonEmptyMessage   = "empty_message"
	ReasonMessageTooLong = "message_too_long"
	ReasonMissingAmount  = "missing_amount"
	ReasonInvalidAmount  = "invalid_amount"
	ReasonInvalidAction  = "invalid_action"
	ReasonInternalError  = "internal_error"
)

// ClientMessage is the decoded form of every inbound frame. Numeric fields are pointers so "absent" and "zero" can
// be told apart during coercion.
type ClientMessage struct {
	Type        string   `json:"type"`
	Token       string   `json:"token,omitempty"`
	TableID     string   `json:"tableId,omitempty"`
	SeatID      *float64 `json:"seatId,omitempty"`
	BuyInAmount *float64 `json:"buyInAmount,omitempty"`
	Action      string   `json:"action,omitempty"`
	Amount      *float64 `json:"amount,omitempty"`
	Message     string   `json:"message,omitempty"`
}

// Welcome is sent once after successful authentication. The heartbeat interval tells the client how often to
// expect pings.
type Welcome struct {
	Type                string `json:"type"`
	UserID              string `json:"userId"`
	ConnectionID        string `json:"connectionId"`
	HeartbeatIntervalMS int    `json:"heartbeatIntervalMs"`
}

// ServerError is a typed error reply that leaves the socket open.
type ServerError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ActionResult reports the outcome of an Action submission.
type ActionResult struct {
	Type     string `json:"type"`
	TableID  string `json:"tableId"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// TableSnapshot carries the table summary and the viewer's state, sent on subscribe and resync. TableState is
// opaque game-service state forwarded untouched.
type TableSnapshot struct {
	Type       string         `json:"type"`
	TableID    string         `json:"tableId"`
	Table      *TableView     `json:"table,omitempty"`
	TableState map[string]any `json:"tableState"`
}

// HoleCards delivers the viewer's private cards for the current hand.
type HoleCards struct {
	Type    string   `json:"type"`
	TableID string   `json:"tableId"`
	HandID  string   `json:"handId,omitempty"`
	Cards   []string `json:"cards"`
}

// ChatSubscribed acknowledges a chat subscription with the table's history.
type ChatSubscribed struct {
	Type    string         `json:"type"`
	TableID string         `json:"tableId"`
	History []chat.Message `json:"history"`
}

// ChatError is a chat policy rejection.
type ChatError struct {
	Type    string `json:"type"`
	TableID string `json:"tableId"`
	Reason  string `json:"reason"`
}

// LobbyTablesUpdated carries the current open-table list.
type LobbyTablesUpdated struct {
	Type   string      `json:"type"`
	Tables []TableView `json:"tables"`
}

// TableView is the client-facing table summary.
type TableView struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	GameType   string  `json:"gameType"`
	SmallBlind float64 `json:"smallBlind"`
	BigBlind   float64 `json:"bigBlind"`
	MaxSeats   int     `json:"maxSeats"`
	Seated     int     `json:"seated"`
	Spectators int     `json:"spectators"`
}

// tableView normalizes a game service summary into the wire view.
func tableView(t rpc.TableSummary) TableView {
	return TableView{
		ID:         t.ID,
		Name:       t.Name,
		GameType:   t.GameType,
		SmallBlind: t.SmallBlind,
		BigBlind:   t.BigBlind,
		MaxSeats:   t.MaxSeats,
		Seated:     t.Seated,
		Spectators: t.Spectators,
	}
}

// tableViews normalizes a summary slice, never returning nil so the wire field is always an array.
func tableViews(ts []rpc.TableSummary) []TableView {
	views := make([]TableView, len(ts))
	for i, t := range ts {
		views[i] = tableView(t)
	}
	return views
}

// decodeClientMessage parses a raw inbound frame.
func decodeClientMessage(raw []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// marshal serializes a server message, returning nil on failure. All wire types marshal cleanly; a nil return only
// happens for payload maps carrying unmarshalable values, which callers treat as a dropped send.
func marshal(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
