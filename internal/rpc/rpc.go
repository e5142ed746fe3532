// Package rpc holds the gateway's clients for the backend gRPC services (game, player, event). The services live
// inside the cluster, so connections use insecure transport credentials; every call carries the caller's context
// deadline.
package rpc

import (
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// callTimeout bounds a single downstream RPC when the caller has no tighter deadline.
const callTimeout = 10 * time.Second

// Dial creates a client connection to a backend service. grpc.NewClient connects lazily, so startup does not block
// on downstream availability.
func Dial(target string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(
		target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return conn, nil
}
