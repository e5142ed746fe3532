package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const gameService = "/riverpile.game.v1.GameService/"

// TableSummary is the lobby-facing view of a table.
type TableSummary struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	GameType   string  `json:"game_type"`
	SmallBlind float64 `json:"small_blind"`
	BigBlind   float64 `json:"big_blind"`
	MaxSeats   int     `json:"max_seats"`
	Seated     int     `json:"seated"`
	Spectators int     `json:"spectators"`
}

// TableState is the per-viewer table state. State is an opaque map owned by the game service; the gateway forwards
// it without interpretation. HoleCards is populated only for viewers seated in the current hand.
type TableState struct {
	State     map[string]any `json:"state"`
	HoleCards []string       `json:"hole_cards,omitempty"`
	HandID    string         `json:"hand_id,omitempty"`
}

// SeatRequest asks the game service to seat a user.
type SeatRequest struct {
	TableID     string  `json:"table_id"`
	UserID      string  `json:"user_id"`
	SeatID      int     `json:"seat_id"`
	BuyInAmount float64 `json:"buy_in_amount"`
}

// ActionRequest submits a player action for the current hand.
type ActionRequest struct {
	TableID string  `json:"table_id"`
	UserID  string  `json:"user_id"`
	Action  string  `json:"action"`
	Amount  float64 `json:"amount,omitempty"`
}

// OpResult is the game service's accept/reject answer for seat and action requests.
type OpResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type tableRef struct {
	TableID string `json:"table_id"`
	UserID  string `json:"user_id,omitempty"`
}

type userRef struct {
	UserID string `json:"user_id"`
}

type mutedResponse struct {
	IsMuted bool `json:"is_muted"`
}

type listTablesResponse struct {
	Tables []TableSummary `json:"tables"`
}

// GameClient calls the game service.
type GameClient struct {
	cc *grpc.ClientConn
}

// NewGameClient wraps a client connection to the game service.
func NewGameClient(cc *grpc.ClientConn) *GameClient {
	return &GameClient{cc: cc}
}

func (c *GameClient) invoke(ctx context.Context, method string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return c.cc.Invoke(ctx, gameService+method, in, out)
}

// JoinSpectator registers the user as a spectator on the table. Advisory; callers swallow failures.
func (c *GameClient) JoinSpectator(ctx context.Context, tableID, userID string) error {
	return c.invoke(ctx, "JoinSpectator", &tableRef{TableID: tableID, UserID: userID}, &struct{}{})
}

// LeaveSpectator removes the user's spectator registration. Advisory; callers swallow failures.
func (c *GameClient) LeaveSpectator(ctx context.Context, tableID, userID string) error {
	return c.invoke(ctx, "LeaveSpectator", &tableRef{TableID: tableID, UserID: userID}, &struct{}{})
}

// GetTable fetches the table's summary view.
func (c *GameClient) GetTable(ctx context.Context, tableID string) (*TableSummary, error) {
	out := &TableSummary{}
	if err := c.invoke(ctx, "GetTable", &tableRef{TableID: tableID}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTableState fetches the table state as seen by userID, including hole cards when the user is in the hand.
func (c *GameClient) GetTableState(ctx context.Context, tableID, userID string) (*TableState, error) {
	out := &TableState{}
	if err := c.invoke(ctx, "GetTableState", &tableRef{TableID: tableID, UserID: userID}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// JoinSeat seats the user with the given buy-in.
func (c *GameClient) JoinSeat(ctx context.Context, req SeatRequest) (*OpResult, error) {
	out := &OpResult{}
	if err := c.invoke(ctx, "JoinSeat", &req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// LeaveSeat stands the user up from the table. Best-effort; callers ignore failures.
func (c *GameClient) LeaveSeat(ctx context.Context, tableID, userID string) error {
	return c.invoke(ctx, "LeaveSeat", &tableRef{TableID: tableID, UserID: userID}, &struct{}{})
}

// SubmitAction submits a player action and returns the game service's verdict.
func (c *GameClient) SubmitAction(ctx context.Context, req ActionRequest) (*OpResult, error) {
	out := &OpResult{}
	if err := c.invoke(ctx, "SubmitAction", &req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// IsMuted reports whether the user is muted table-wide.
func (c *GameClient) IsMuted(ctx context.Context, userID string) (bool, error) {
	out := &mutedResponse{}
	if err := c.invoke(ctx, "IsMuted", &userRef{UserID: userID}, out); err != nil {
		return false, err
	}
	return out.IsMuted, nil
}

// ListTables returns summaries for all open tables.
func (c *GameClient) ListTables(ctx context.Context) ([]TableSummary, error) {
	out := &listTablesResponse{}
	if err := c.invoke(ctx, "ListTables", &struct{}{}, out); err != nil {
		return nil, err
	}
	return out.Tables, nil
}
