package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds gateway configuration populated from environment variables.
type Config struct {
	// Core
	ServerPort  int
	ServerEnv   string // "development" or "production"
	MetricsPort int

	// Shared store
	RedisURL string

	// Downstream gRPC services
	GameServiceAddr   string
	PlayerServiceAddr string
	EventServiceAddr  string

	// Token verification
	JWTPublicKey   string // static PEM (or bare base64 body) public key
	JWTHS256Secret string
	JWTIssuer      string
	JWTAudience    string
	AuthBaseURL    string // identity provider base URL, e.g. https://auth.example.com
	AuthRealm      string
	JWKSCacheTTL   time.Duration

	// WebSocket behaviour
	AuthTimeout       time.Duration
	HeartbeatInterval time.Duration

	// Rate limiting
	RateLimitWindow time.Duration
	RateLimitMax    int

	// Instance liveness
	InstanceStaleAfter    time.Duration
	InstanceSweepInterval time.Duration

	// Chat
	ChatHistoryLimit int

	// CORS
	CORSAllowOrigins string
}

// Load reads configuration from environment variables. It returns an error if any variable is set but cannot be
// parsed, or if required values are missing.
func Load() (*Config, error) {
	p := &parser{}

	cfg := &Config{
		ServerPort:  p.int("SERVER_PORT", 8080),
		ServerEnv:   envStr("SERVER_ENV", "production"),
		MetricsPort: p.int("METRICS_PORT", 9100),

		RedisURL: envStr("REDIS_URL", "redis://redis:6379/0"),

		GameServiceAddr:   envStr("GAME_SERVICE_ADDR", "game:50051"),
		PlayerServiceAddr: envStr("PLAYER_SERVICE_ADDR", "player:50052"),
		EventServiceAddr:  envStr("EVENT_SERVICE_ADDR", "event:50053"),

		JWTPublicKey:   envStr("JWT_PUBLIC_KEY", ""),
		JWTHS256Secret: envStr("JWT_HS256_SECRET", ""),
		JWTIssuer:      envStr("JWT_ISSUER", ""),
		JWTAudience:    envStr("JWT_AUDIENCE", ""),
		AuthBaseURL:    envStr("AUTH_BASE_URL", ""),
		AuthRealm:      envStr("AUTH_REALM", ""),
		JWKSCacheTTL:   p.duration("JWKS_CACHE_TTL", 10*time.Minute),

		AuthTimeout:       p.millis("WS_AUTH_TIMEOUT_MS", 5000),
		HeartbeatInterval: p.millis("WS_HEARTBEAT_INTERVAL_MS", 25000),

		RateLimitWindow: p.millis("WS_RATE_LIMIT_WINDOW_MS", 10000),
		RateLimitMax:    p.int("WS_RATE_LIMIT_MAX", 20),

		InstanceStaleAfter:    p.millis("INSTANCE_STALE_AFTER_MS", 60000),
		InstanceSweepInterval: p.millis("INSTANCE_SWEEP_INTERVAL_MS", 30000),

		ChatHistoryLimit: p.int("CHAT_HISTORY_LIMIT", 50),

		CORSAllowOrigins: envStr("CORS_ALLOW_ORIGINS", "*"),
	}

	if parseErr := errors.Join(p.errs...); parseErr != nil {
		return nil, parseErr
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsDevelopment returns true when running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.ServerEnv == "development"
}

func (c *Config) validate() error {
	var errs []error

	if c.ServerPort < 1 || c.ServerPort > 65535 {
		errs = append(errs, fmt.Errorf("SERVER_PORT must be between 1 and 65535"))
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("METRICS_PORT must be between 0 and 65535"))
	}

	// Without at least one key source every token would fail verification.
	if c.JWTPublicKey == "" && c.JWTHS256Secret == "" && c.AuthBaseURL == "" {
		errs = append(errs, fmt.Errorf("one of JWT_PUBLIC_KEY, JWT_HS256_SECRET or AUTH_BASE_URL is required"))
	}
	if c.AuthBaseURL != "" && c.AuthRealm == "" {
		errs = append(errs, fmt.Errorf("AUTH_REALM is required when AUTH_BASE_URL is set"))
	}

	if c.AuthTimeout < time.Second {
		errs = append(errs, fmt.Errorf("WS_AUTH_TIMEOUT_MS must be at least 1000"))
	}
	if c.HeartbeatInterval < time.Second {
		errs = append(errs, fmt.Errorf("WS_HEARTBEAT_INTERVAL_MS must be at least 1000"))
	}

	if c.RateLimitWindow < time.Millisecond {
		errs = append(errs, fmt.Errorf("WS_RATE_LIMIT_WINDOW_MS must be at least 1"))
	}
	if c.RateLimitMax < 1 {
		errs = append(errs, fmt.Errorf("WS_RATE_LIMIT_MAX must be at least 1"))
	}

	if c.InstanceStaleAfter < c.InstanceSweepInterval {
		errs = append(errs, fmt.Errorf("INSTANCE_STALE_AFTER_MS (%s) must not be below INSTANCE_SWEEP_INTERVAL_MS (%s)",
			c.InstanceStaleAfter, c.InstanceSweepInterval))
	}

	if c.ChatHistoryLimit < 1 {
		errs = append(errs, fmt.Errorf("CHAT_HISTORY_LIMIT must be at least 1"))
	}

	return errors.Join(errs...)
}

// parser collects parse errors so Load can report all invalid values at once.
type parser struct {
	errs []error
}

func (p *parser) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected integer)", key, v))
		return fallback
	}
	return n
}

// millis parses an integer number of milliseconds into a time.Duration.
func (p *parser) millis(key string, fallback int) time.Duration {
	return time.Duration(p.int(key, fallback)) * time.Millisecond
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected duration like \"10m\" or \"30s\")", key, v))
		return fallback
	}
	return d
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
