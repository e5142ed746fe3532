package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const playerService = "/riverpile.player.v1.PlayerService/"

// Profile is the subset of the player profile the gateway reads.
type Profile struct {
	Username string `json:"username,omitempty"`
}

type profileResponse struct {
	Profile Profile `json:"profile"`
}

type syncUsernameRequest struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// PlayerClient calls the player service.
type PlayerClient struct {
	cc *grpc.ClientConn
}

// NewPlayerClient wraps a client connection to the player service.
func NewPlayerClient(cc *grpc.ClientConn) *PlayerClient {
	return &PlayerClient{cc: cc}
}

func (c *PlayerClient) invoke(ctx context.Context, method string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return c.cc.Invoke(ctx, playerService+method, in, out)
}

// GetProfile fetches the user's profile.
func (c *PlayerClient) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	out := &profileResponse{}
	if err := c.invoke(ctx, "GetProfile", &userRef{UserID: userID}, out); err != nil {
		return nil, err
	}
	return &out.Profile, nil
}

// SyncUsername pushes the token's preferred username to the player service. Fire-and-forget; callers swallow
// failures.
func (c *PlayerClient) SyncUsername(ctx context.Context, userID, username string) error {
	return c.invoke(ctx, "SyncUsername", &syncUsernameRequest{UserID: userID, Username: username}, &struct{}{})
}
