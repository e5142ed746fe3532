package gateway

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/riverpile/riverpile-gateway/internal/metrics"
	"github.com/riverpile/riverpile-gateway/internal/rpc"
	"github.com/riverpile/riverpile-gateway/internal/subscription"
)

const (
	// defaultBuyIn is applied when a seat request carries no buy-in amount.
	defaultBuyIn = 200

	// maxSeatID is the highest valid seat index (nine-handed tables).
	maxSeatID = 8
)

// actionNames maps client action verbs onto the game service's action vocabulary.
var actionNames = map[string]string{
	"fold":  "FOLD",
	"check": "CHECK",
	"call":  "CALL",
	"bet":   "BET",
	"raise": "RAISE",
}

// TableHub serves table subscriptions, seat management, and action submission. Table state lives in the game
// service; the hub only validates, forwards, and keeps the subscription index in step.
type TableHub struct {
	index   *subscription.Index
	bc      *Broadcaster
	game    GameService
	limiter RateLimiter
	met     *metrics.Metrics
	log     zerolog.Logger
}

// NewTableHub creates the table hub.
func NewTableHub(index *subscription.Index, bc *Broadcaster, game GameService, limiter RateLimiter, met *metrics.Metrics, logger zerolog.Logger) *TableHub {
	return &TableHub{
		index:   index,
		bc:      bc,
		game:    game,
		limiter: limiter,
		met:     met,
		log:     logger.With().Str("component", "table_hub").Logger(),
	}
}

// RegisterHandlers binds the hub's message types on the router.
func (h *TableHub) RegisterHandlers(r *Router) {
	r.Register("table", TypeSubscribeTable, h.handleSubscribe)
	r.Register("table", TypeUnsubscribeTable, h.handleUnsubscribe)
	r.Register("table", TypeResyncTable, h.handleResync)
	r.Register("table", TypeJoinSeat, h.handleJoinSeat)
	r.Register("table", TypeLeaveTable, h.handleLeaveTable)
	r.Register("table", TypeAction, h.handleAction)
}

func (h *TableHub) handleSubscribe(ctx context.Context, c *Client, msg *ClientMessage) {
	h.index.Subscribe(ctx, c.ConnID(), subscription.TableChannel(msg.TableID))

	// Spectator registration is advisory: the subscription stands regardless of the game service's answer.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), lifecycleTimeout)
		defer cancel()
		if err := h.game.JoinSpectator(ctx, msg.TableID, c.UserID()); err != nil {
			h.log.Debug().Err(err).Str("table_id", msg.TableID).Msg("Spectator join failed")
		}
	}()

	h.sendSnapshot(ctx, c, msg.TableID)
}

func (h *TableHub) handleResync(ctx context.Context, c *Client, msg *ClientMessage) {
	h.sendSnapshot(ctx, c, msg.TableID)
}

func (h *TableHub) handleUnsubscribe(ctx context.Context, c *Client, msg *ClientMessage) {
	h.index.Unsubscribe(ctx, c.ConnID(), subscription.TableChannel(msg.TableID))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), lifecycleTimeout)
		defer cancel()
		if err := h.game.LeaveSpectator(ctx, msg.TableID, c.UserID()); err != nil {
			h.log.Debug().Err(err).Str("table_id", msg.TableID).Msg("Spectator leave failed")
		}
	}()
}

// sendSnapshot fetches the table summary and the viewer's state in parallel and sends the snapshot, followed by a
// HoleCards frame when the viewer is in the current hand. A failed summary fetch aborts with a typed error; a
// failed state fetch sends nothing and leaves the client to resync.
func (h *TableHub) sendSnapshot(ctx context.Context, c *Client, tableID string) {
	var (
		summary    *rpc.TableSummary
		summaryErr error
		state      *rpc.TableState
		stateErr   error
	)

	var eg errgroup.Group
	eg.Go(func() error {
		summary, summaryErr = h.game.GetTable(ctx, tableID)
		return nil
	})
	eg.Go(func() error {
		state, stateErr = h.game.GetTableState(ctx, tableID, c.UserID())
		return nil
	})
	_ = eg.Wait()

	if summaryErr != nil {
		h.log.Warn().Err(summaryErr).Str("table_id", tableID).Msg("Table summary fetch failed")
		c.sendMessage(ServerError{Type: TypeError, Message: ReasonInternal, Code: ReasonInternalError})
		return
	}

	if stateErr != nil {
		h.log.Warn().Err(stateErr).Str("table_id", tableID).Msg("Table state fetch failed")
		return
	}

	snapshot := TableSnapshot{Type: TypeTableSnapshot, TableID: tableID}
	if summary != nil {
		view := tableView(*summary)
		snapshot.Table = &view
	}
	if state != nil {
		snapshot.TableState = state.State
	}
	c.sendMessage(snapshot)

	if state != nil && len(state.HoleCards) > 0 {
		c.sendMessage(HoleCards{
			Type:    TypeHoleCards,
			TableID: tableID,
			HandID:  state.HandID,
			Cards:   state.HoleCards,
		})
	}
}

func (h *TableHub) handleJoinSeat(ctx context.Context, c *Client, msg *ClientMessage) {
	if msg.SeatID == nil {
		c.sendMessage(ServerError{Type: TypeError, Message: "Seat id is required", Code: ReasonInvalidAction})
		return
	}
	seatID := int(*msg.SeatID)
	if seatID < 0 || seatID > maxSeatID {
		c.sendMessage(ServerError{Type: TypeError, Message: "Seat id out of range", Code: ReasonInvalidAction})
		return
	}

	buyIn := float64(defaultBuyIn)
	if msg.BuyInAmount != nil && *msg.BuyInAmount > 0 {
		buyIn = *msg.BuyInAmount
	}

	res, err := h.game.JoinSeat(ctx, rpc.SeatRequest{
		TableID:     msg.TableID,
		UserID:      c.UserID(),
		SeatID:      seatID,
		BuyInAmount: buyIn,
	})
	if err != nil {
		h.log.Warn().Err(err).Str("table_id", msg.TableID).Int("seat_id", seatID).Msg("Seat request failed")
		c.sendMessage(ServerError{Type: TypeError, Message: ReasonInternal, Code: ReasonInternalError})
		return
	}
	if !res.OK {
		c.sendMessage(ServerError{Type: TypeError, Message: res.Error})
		return
	}

	h.log.Info().
		Str("table_id", msg.TableID).
		Str("user_id", c.UserID()).
		Int("seat_id", seatID).
		Msg("User seated")
}

func (h *TableHub) handleLeaveTable(ctx context.Context, c *Client, msg *ClientMessage) {
	if err := h.game.LeaveSeat(ctx, msg.TableID, c.UserID()); err != nil {
		h.log.Debug().Err(err).Str("table_id", msg.TableID).Msg("Leave seat failed")
	}
}

func (h *TableHub) handleAction(ctx context.Context, c *Client, msg *ClientMessage) {
	reject := func(reason string) {
		c.sendMessage(ActionResult{Type: TypeActionResult, TableID: msg.TableID, Accepted: false, Reason: reason})
	}

	action, ok := actionNames[strings.ToLower(msg.Action)]
	if !ok {
		reject(ReasonInvalidAction)
		return
	}

	var amount float64
	if action == "BET" || action == "RAISE" {
		if msg.Amount == nil {
			reject(ReasonMissingAmount)
			return
		}
		if *msg.Amount <= 0 {
			reject(ReasonInvalidAmount)
			return
		}
		amount = *msg.Amount
	}

	if !h.limiter.Allow(ctx, c.UserID(), c.IP(), "action") {
		h.met.RateLimited.WithLabelValues("action").Inc()
		reject(ReasonRateLimited)
		return
	}

	res, err := h.game.SubmitAction(ctx, rpc.ActionRequest{
		TableID: msg.TableID,
		UserID:  c.UserID(),
		Action:  action,
		Amount:  amount,
	})
	if err != nil {
		h.log.Warn().Err(err).Str("table_id", msg.TableID).Str("action", action).Msg("Action submission failed")
		reject(ReasonInternalError)
		return
	}

	c.sendMessage(ActionResult{
		Type:     TypeActionResult,
		TableID:  msg.TableID,
		Accepted: res.OK,
		Reason:   res.Error,
	})
}
