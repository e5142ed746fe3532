package gateway

import (
	"context"

	"github.com/riverpile/riverpile-gateway/internal/chat"
	"github.com/riverpile/riverpile-gateway/internal/rpc"
)

// GameService is the slice of the game service the hubs consume. *rpc.GameClient implements it.
type GameService interface {
	JoinSpectator(ctx context.Context, tableID, userID string) error
	LeaveSpectator(ctx context.Context, tableID, userID string) error
	GetTable(ctx context.Context, tableID string) (*rpc.TableSummary, error)
	GetTableState(ctx context.Context, tableID, userID string) (*rpc.TableState, error)
	JoinSeat(ctx context.Context, req rpc.SeatRequest) (*rpc.OpResult, error)
	LeaveSeat(ctx context.Context, tableID, userID string) error
	SubmitAction(ctx context.Context, req rpc.ActionRequest) (*rpc.OpResult, error)
	IsMuted(ctx context.Context, userID string) (bool, error)
	ListTables(ctx context.Context) ([]rpc.TableSummary, error)
}

// PlayerService is the slice of the player service the gateway consumes. *rpc.PlayerClient implements it.
type PlayerService interface {
	GetProfile(ctx context.Context, userID string) (*rpc.Profile, error)
	SyncUsername(ctx context.Context, userID, username string) error
}

// EventService publishes session lifecycle events. *rpc.EventClient implements it.
type EventService interface {
	PublishEvent(ctx context.Context, ev rpc.Event) error
}

// RateLimiter checks per-(subject, kind) message limits. *ratelimit.Limiter implements it.
type RateLimiter interface {
	Allow(ctx context.Context, userID, ip, kind string) bool
}

// ChatHistory stores and reads per-table chat history. *chat.Store implements it.
type ChatHistory interface {
	Save(ctx context.Context, tableID string, msg chat.Message) error
	History(ctx context.Context, tableID string) ([]chat.Message, error)
}
