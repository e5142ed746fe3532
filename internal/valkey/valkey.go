// Package valkey connects the gateway to its shared key-value store. Valkey and Redis are interchangeable here; the
// package keeps the deployment's name.
package valkey

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// pingAttempts bounds the startup liveness check. Gateway instances regularly come up before the store does, so
	// a failed ping is retried a few times before the process gives up.
	pingAttempts = 3
	pingBackoff  = 500 * time.Millisecond
)

// Connect opens a client for the store URL and verifies liveness with a bounded ping-retry loop. The dialTimeout
// applies to every new connection the pool establishes.
func Connect(ctx context.Context, rawURL string, dialTimeout time.Duration) (*redis.Client, error) {
	opts, err := parseURL(rawURL)
	if err != nil {
		return nil, err
	}
	opts.DialTimeout = dialTimeout

	client := redis.NewClient(opts)

	var pingErr error
	for attempt := 1; attempt <= pingAttempts; attempt++ {
		if pingErr = client.Ping(ctx).Err(); pingErr == nil {
			return client, nil
		}
		if attempt == pingAttempts {
			break
		}
		select {
		case <-ctx.Done():
			_ = client.Close()
			return nil, fmt.Errorf("ping store: %w", ctx.Err())
		case <-time.After(pingBackoff):
		}
	}

	_ = client.Close()
	return nil, fmt.Errorf("ping store after %d attempts: %w", pingAttempts, pingErr)
}

// parseURL accepts both redis:// and valkey:// URLs; go-redis only understands the former, so the valkey scheme is
// rewritten before parsing.
func parseURL(rawURL string) (*redis.Options, error) {
	const valkeyScheme = "valkey://"
	if len(rawURL) >= len(valkeyScheme) && strings.EqualFold(rawURL[:len(valkeyScheme)], valkeyScheme) {
		rawURL = "redis://" + rawURL[len(valkeyScheme):]
	}

	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse store URL: %w", err)
	}
	return opts, nil
}
