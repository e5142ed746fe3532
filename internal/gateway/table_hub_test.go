package gateway

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/riverpile/riverpile-gateway/internal/rpc"
	"github.com/riverpile/riverpile-gateway/internal/subscription"
)

func floatPtr(v float64) *float64 { return &v }

func TestSubscribeTableSendsSnapshotAndHoleCards(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.game.table = &rpc.TableSummary{ID: "t1", Name: "High Stakes", MaxSeats: 9, Seated: 3}
	env.game.state = &rpc.TableState{
		State:     map[string]any{"phase": "FLOP"},
		HoleCards: []string{"As", "Kd"},
		HandID:    "hand-7",
	}

	c := env.newAuthedClient("conn-1", "user-1")
	ctx := context.Background()

	env.gw.tables.handleSubscribe(ctx, c, &ClientMessage{Type: TypeSubscribeTable, TableID: "t1"})

	if subs := env.index.Subscribers(ctx, subscription.TableChannel("t1")); !slices.Contains(subs, "conn-1") {
		t.Errorf("subscribers = %v, want conn-1", subs)
	}

	snapshot := queuedFrame(t, c)
	if snapshot["type"] != TypeTableSnapshot || snapshot["tableId"] != "t1" {
		t.Fatalf("first frame = %v, want TableSnapshot for t1", snapshot)
	}
	table, _ := snapshot["table"].(map[string]any)
	if table["name"] != "High Stakes" {
		t.Errorf("snapshot table = %v, want High Stakes summary", table)
	}
	state, _ := snapshot["tableState"].(map[string]any)
	if state["phase"] != "FLOP" {
		t.Errorf("snapshot state = %v, want phase FLOP", state)
	}

	cards := queuedFrame(t, c)
	if cards["type"] != TypeHoleCards || cards["handId"] != "hand-7" {
		t.Fatalf("second frame = %v, want HoleCards for hand-7", cards)
	}
}

func TestSubscribeTableWithoutHoleCards(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.game.table = &rpc.TableSummary{ID: "t1"}
	env.game.state = &rpc.TableState{State: map[string]any{"phase": "WAITING"}}

	c := env.newAuthedClient("conn-1", "user-1")
	env.gw.tables.handleSubscribe(context.Background(), c, &ClientMessage{Type: TypeSubscribeTable, TableID: "t1"})

	if frame := queuedFrame(t, c); frame["type"] != TypeTableSnapshot {
		t.Fatalf("frame = %v, want TableSnapshot", frame)
	}
	select {
	case raw := <-c.send:
		t.Errorf("unexpected extra frame for a spectator: %s", raw)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribeTableSummaryFailure(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.game.tableErr = errors.New("game service down")
	env.game.state = &rpc.TableState{State: map[string]any{}}

	c := env.newAuthedClient("conn-1", "user-1")
	env.gw.tables.handleSubscribe(context.Background(), c, &ClientMessage{Type: TypeSubscribeTable, TableID: "t1"})

	frame := queuedFrame(t, c)
	if frame["type"] != TypeError {
		t.Errorf("frame = %v, want typed error", frame)
	}
}

func TestResyncSendsNothingWhenStateFetchFails(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.game.table = &rpc.TableSummary{ID: "t1", Name: "Main"}
	env.game.stateErr = errors.New("state unavailable")

	c := env.newAuthedClient("conn-1", "user-1")
	env.gw.tables.handleResync(context.Background(), c, &ClientMessage{Type: TypeResyncTable, TableID: "t1"})

	// The client retries the resync itself; a partial snapshot would overwrite its last good state.
	select {
	case raw := <-c.send:
		t.Errorf("unexpected frame after a failed state fetch: %s", raw)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnsubscribeTableRemovesSubscription(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.game.table = &rpc.TableSummary{ID: "t1"}
	env.game.state = &rpc.TableState{State: map[string]any{}}

	c := env.newAuthedClient("conn-1", "user-1")
	ctx := context.Background()

	env.gw.tables.handleSubscribe(ctx, c, &ClientMessage{TableID: "t1"})
	env.gw.tables.handleUnsubscribe(ctx, c, &ClientMessage{TableID: "t1"})

	if subs := env.index.Subscribers(ctx, subscription.TableChannel("t1")); slices.Contains(subs, "conn-1") {
		t.Errorf("subscribers = %v, want conn-1 removed", subs)
	}
}

func TestJoinSeatValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		seat *float64
	}{
		{"missing seat", nil},
		{"negative seat", floatPtr(-1)},
		{"seat beyond max", floatPtr(9)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t)
			c := env.newAuthedClient("conn-1", "user-1")

			env.gw.tables.handleJoinSeat(context.Background(), c, &ClientMessage{TableID: "t1", SeatID: tt.seat})

			if frame := queuedFrame(t, c); frame["type"] != TypeError {
				t.Errorf("frame = %v, want typed error", frame)
			}
			if env.game.called("JoinSeat") {
				t.Error("JoinSeat reached the game service despite invalid input")
			}
		})
	}
}

func TestJoinSeatDefaultsBuyIn(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.game.joinRes = &rpc.OpResult{OK: true}

	c := env.newAuthedClient("conn-1", "user-1")
	env.gw.tables.handleJoinSeat(context.Background(), c, &ClientMessage{TableID: "t1", SeatID: floatPtr(3)})

	if env.game.lastSeat.BuyInAmount != defaultBuyIn {
		t.Errorf("buy-in = %v, want default %d", env.game.lastSeat.BuyInAmount, defaultBuyIn)
	}
	if env.game.lastSeat.SeatID != 3 || env.game.lastSeat.UserID != "user-1" {
		t.Errorf("seat request = %+v", env.game.lastSeat)
	}
}

func TestJoinSeatRejectedByGameService(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.game.joinRes = &rpc.OpResult{OK: false, Error: "Seat is taken"}

	c := env.newAuthedClient("conn-1", "user-1")
	env.gw.tables.handleJoinSeat(context.Background(), c, &ClientMessage{TableID: "t1", SeatID: floatPtr(2), BuyInAmount: floatPtr(500)})

	frame := queuedFrame(t, c)
	if frame["type"] != TypeError || frame["message"] != "Seat is taken" {
		t.Errorf("frame = %v, want the game service's message", frame)
	}
	if env.game.lastSeat.BuyInAmount != 500 {
		t.Errorf("buy-in = %v, want 500", env.game.lastSeat.BuyInAmount)
	}
}

func TestActionMapsVerbs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		verb string
		want string
	}{
		{"Fold", "FOLD"},
		{"check", "CHECK"},
		{"CALL", "CALL"},
	}

	for _, tt := range tests {
		t.Run(tt.verb, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t)
			env.game.actionRes = &rpc.OpResult{OK: true}
			c := env.newAuthedClient("conn-1", "user-1")

			env.gw.tables.handleAction(context.Background(), c, &ClientMessage{TableID: "t1", Action: tt.verb})

			if env.game.lastAction.Action != tt.want {
				t.Errorf("submitted action = %q, want %q", env.game.lastAction.Action, tt.want)
			}
			frame := queuedFrame(t, c)
			if frame["type"] != TypeActionResult || frame["accepted"] != true {
				t.Errorf("frame = %v, want accepted ActionResult", frame)
			}
		})
	}
}

func TestActionRejectsUnknownVerb(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	c := env.newAuthedClient("conn-1", "user-1")

	env.gw.tables.handleAction(context.Background(), c, &ClientMessage{TableID: "t1", Action: "AllIn"})

	frame := queuedFrame(t, c)
	if frame["reason"] != ReasonInvalidAction {
		t.Errorf("reason = %v, want %q", frame["reason"], ReasonInvalidAction)
	}
	if env.game.called("SubmitAction") {
		t.Error("unknown verb reached the game service")
	}
}

func TestActionBetRequiresAmount(t *testing.T) {
	t.Parallel()

	for _, verb := range []string{"Bet", "Raise"} {
		t.Run(verb, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t)
			c := env.newAuthedClient("conn-1", "user-1")

			env.gw.tables.handleAction(context.Background(), c, &ClientMessage{TableID: "t1", Action: verb})
			if frame := queuedFrame(t, c); frame["reason"] != ReasonMissingAmount {
				t.Errorf("reason = %v, want %q", frame["reason"], ReasonMissingAmount)
			}

			if env.game.called("SubmitAction") {
				t.Error("amountless bet reached the game service")
			}
		})
	}
}

func TestActionBetRejectsNonPositiveAmount(t *testing.T) {
	t.Parallel()

	for _, amount := range []float64{0, -50} {
		env := newTestEnv(t)
		c := env.newAuthedClient("conn-1", "user-1")

		env.gw.tables.handleAction(context.Background(), c, &ClientMessage{TableID: "t1", Action: "Bet", Amount: floatPtr(amount)})

		if frame := queuedFrame(t, c); frame["reason"] != ReasonInvalidAmount {
			t.Errorf("amount %v: reason = %v, want %q", amount, frame["reason"], ReasonInvalidAmount)
		}
		if env.game.called("SubmitAction") {
			t.Errorf("amount %v reached the game service", amount)
		}
	}
}

func TestActionRateLimited(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.limiter.allow = false
	c := env.newAuthedClient("conn-1", "user-1")

	env.gw.tables.handleAction(context.Background(), c, &ClientMessage{TableID: "t1", Action: "Fold"})

	frame := queuedFrame(t, c)
	if frame["reason"] != ReasonRateLimited {
		t.Errorf("reason = %v, want %q", frame["reason"], ReasonRateLimited)
	}
	if env.game.called("SubmitAction") {
		t.Error("rate-limited action reached the game service")
	}
}

func TestActionCarriesGameVerdict(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.game.actionRes = &rpc.OpResult{OK: false, Error: "not your turn"}
	c := env.newAuthedClient("conn-1", "user-1")

	env.gw.tables.handleAction(context.Background(), c, &ClientMessage{TableID: "t1", Action: "Bet", Amount: floatPtr(50)})

	frame := queuedFrame(t, c)
	if frame["accepted"] != false || frame["reason"] != "not your turn" {
		t.Errorf("frame = %v, want the game service's rejection", frame)
	}
	if env.game.lastAction.Amount != 50 {
		t.Errorf("amount = %v, want 50", env.game.lastAction.Amount)
	}
}

func TestActionServiceFailure(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.game.actionErr = errors.New("game service down")
	c := env.newAuthedClient("conn-1", "user-1")

	env.gw.tables.handleAction(context.Background(), c, &ClientMessage{TableID: "t1", Action: "Call"})

	if frame := queuedFrame(t, c); frame["reason"] != ReasonInternalError {
		t.Errorf("reason = %v, want %q", frame["reason"], ReasonInternalError)
	}
}
