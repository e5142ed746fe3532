package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/riverpile/riverpile-gateway/internal/api"
	"github.com/riverpile/riverpile-gateway/internal/auth"
	"github.com/riverpile/riverpile-gateway/internal/bus"
	"github.com/riverpile/riverpile-gateway/internal/chat"
	"github.com/riverpile/riverpile-gateway/internal/config"
	"github.com/riverpile/riverpile-gateway/internal/gateway"
	"github.com/riverpile/riverpile-gateway/internal/httputil"
	"github.com/riverpile/riverpile-gateway/internal/metrics"
	"github.com/riverpile/riverpile-gateway/internal/presence"
	"github.com/riverpile/riverpile-gateway/internal/ratelimit"
	"github.com/riverpile/riverpile-gateway/internal/registry"
	"github.com/riverpile/riverpile-gateway/internal/rpc"
	"github.com/riverpile/riverpile-gateway/internal/subscription"
	"github.com/riverpile/riverpile-gateway/internal/valkey"
)

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Gateway stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}

	instanceID := uuid.NewString()
	log.Info().Str("env", cfg.ServerEnv).Str("instance_id", instanceID).Msg("Starting Riverpile Gateway")

	if cfg.CORSAllowOrigins == "*" {
		log.Warn().Msg("CORS_ALLOW_ORIGINS is set to a wildcard \"*\". Set an explicit origin for production deployments.")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect Valkey
	rdb, err := valkey.Connect(ctx, cfg.RedisURL, 5*time.Second)
	if err != nil {
		return fmt.Errorf("connect valkey: %w", err)
	}
	defer rdb.Close()
	log.Info().Msg("Valkey connected")

	// Dial backend services. Connections are lazy; a backend that is down surfaces per-call, not here.
	gameConn, err := rpc.Dial(cfg.GameServiceAddr)
	if err != nil {
		return fmt.Errorf("dial game service: %w", err)
	}
	defer gameConn.Close()

	playerConn, err := rpc.Dial(cfg.PlayerServiceAddr)
	if err != nil {
		return fmt.Errorf("dial player service: %w", err)
	}
	defer playerConn.Close()

	eventConn, err := rpc.Dial(cfg.EventServiceAddr)
	if err != nil {
		return fmt.Errorf("dial event service: %w", err)
	}
	defer eventConn.Close()

	verifier, err := auth.NewVerifier(cfg)
	if err != nil {
		return fmt.Errorf("init token verifier: %w", err)
	}

	met := metrics.New()
	local := registry.NewLocal(log.Logger)
	directory := registry.NewDirectory(rdb, log.Logger)
	instances := registry.NewInstances(rdb, directory, instanceID, log.Logger)
	index := subscription.NewIndex(rdb, log.Logger)
	eventBus := bus.New(rdb, instanceID, log.Logger)
	broadcaster := gateway.NewBroadcaster(index, local, eventBus, met, log.Logger)
	limiter := ratelimit.New(rdb, cfg.RateLimitWindow, cfg.RateLimitMax, log.Logger)
	presenceStore := presence.NewStore(rdb)
	chatStore := chat.NewStore(rdb, cfg.ChatHistoryLimit)

	gw := gateway.New(
		ctx, cfg, verifier,
		local, directory, index,
		broadcaster, limiter, presenceStore,
		rpc.NewGameClient(gameConn), rpc.NewPlayerClient(playerConn), rpc.NewEventClient(eventConn),
		chatStore, instanceID, met, log.Logger,
	)
	eventBus.Init(gw.BusHandlers())

	app := fiber.New(fiber.Config{
		AppName: "Riverpile Gateway",
	})

	app.Use(requestid.New())
	app.Use(httputil.RequestLogger(log.Logger))
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Split(cfg.CORSAllowOrigins, ","),
		AllowMethods: []string{"GET", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
	}))

	health := api.NewHealthHandler(rdb)
	app.Get("/healthz", health.Health)

	gatewayHandler := api.NewGatewayHandler(gw, verifier, log.Logger)
	app.Get("/ws", gatewayHandler.Upgrade)

	g, gctx := errgroup.WithContext(ctx)

	// Bus subscriber with reconnection; a dropped subscription must not take the instance down.
	g.Go(func() error {
		for {
			err := eventBus.Run(gctx)
			if err == nil || errors.Is(err, context.Canceled) {
				return nil
			}
			log.Error().Err(err).Msg("Bus subscriber stopped, restarting in 5s")
			select {
			case <-gctx.Done():
				return nil
			case <-time.After(5 * time.Second):
			}
		}
	})

	g.Go(func() error {
		return ignoreCanceled(instances.RunHeartbeat(gctx, cfg.InstanceSweepInterval/2))
	})
	g.Go(func() error {
		return ignoreCanceled(instances.RunSweeper(gctx, cfg.InstanceSweepInterval, cfg.InstanceStaleAfter))
	})
	g.Go(func() error {
		return ignoreCanceled(met.Serve(gctx, cfg.MetricsPort))
	})

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down gateway")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		instances.Shutdown(shutdownCtx)
		local.CloseAll()
		if err := eventBus.Close(); err != nil {
			log.Warn().Err(err).Msg("Bus close failed")
		}
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	log.Info().Str("addr", addr).Msg("Gateway listening")
	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
