package registry

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const instancesKey = "gateway:instances"

// Instances tracks gateway process liveness. Every instance writes a heartbeat timestamp under its id; a periodic
// sweep clears directory rows belonging to instances whose heartbeat has gone stale, converging the shared indices
// after a crash.
type Instances struct {
	rdb        *redis.Client
	directory  *Directory
	instanceID string
	log        zerolog.Logger
}

// NewInstances creates the liveness tracker for this process.
func NewInstances(rdb *redis.Client, directory *Directory, instanceID string, logger zerolog.Logger) *Instances {
	return &Instances{
		rdb:        rdb,
		directory:  directory,
		instanceID: instanceID,
		log:        logger.With().Str("component", "instances").Logger(),
	}
}

// Heartbeat writes this instance's presence timestamp.
func (i *Instances) Heartbeat(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return i.rdb.HSet(ctx, instancesKey, i.instanceID, now).Err()
}

// RunHeartbeat writes heartbeats on the given interval until the context is cancelled.
func (i *Instances) RunHeartbeat(ctx context.Context, interval time.Duration) error {
	if err := i.Heartbeat(ctx); err != nil {
		i.log.Warn().Err(err).Msg("Initial heartbeat failed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := i.Heartbeat(ctx); err != nil {
				i.log.Warn().Err(err).Msg("Heartbeat failed")
			}
		}
	}
}

// Sweep scans the instance set and clears directory rows for instances whose heartbeat is older than staleAfter.
func (i *Instances) Sweep(ctx context.Context, staleAfter time.Duration) error {
	entries, err := i.rdb.HGetAll(ctx, instancesKey).Result()
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-staleAfter).UnixMilli()
	for instID, raw := range entries {
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err == nil && ts >= cutoff {
			continue
		}
		if instID == i.instanceID {
			continue
		}

		i.log.Info().Str("instance_id", instID).Msg("Clearing connections of stale instance")
		if err := i.directory.ClearInstance(ctx, instID); err != nil {
			i.log.Warn().Err(err).Str("instance_id", instID).Msg("Failed to clear stale instance")
			continue
		}
		if err := i.rdb.HDel(ctx, instancesKey, instID).Err(); err != nil {
			i.log.Warn().Err(err).Str("instance_id", instID).Msg("Failed to drop stale heartbeat")
		}
	}
	return nil
}

// RunSweeper runs Sweep on the given interval until the context is cancelled.
func (i *Instances) RunSweeper(ctx context.Context, interval, staleAfter time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := i.Sweep(ctx, staleAfter); err != nil {
				i.log.Warn().Err(err).Msg("Stale instance sweep failed")
			}
		}
	}
}

// Shutdown removes this instance's heartbeat and directory rows during graceful shutdown.
func (i *Instances) Shutdown(ctx context.Context) {
	if err := i.directory.ClearInstance(ctx, i.instanceID); err != nil {
		i.log.Warn().Err(err).Msg("Failed to clear own directory rows on shutdown")
	}
	if err := i.rdb.HDel(ctx, instancesKey, i.instanceID).Err(); err != nil {
		i.log.Warn().Err(err).Msg("Failed to drop own heartbeat on shutdown")
	}
}
