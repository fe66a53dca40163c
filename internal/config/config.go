// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

// Package config loads the granited configuration from defaults, an optional
// YAML file and environment variables, in that order of precedence.
package config

import (
	"time"

	"github.com/tomtom215/granite/internal/andesite"
	"github.com/tomtom215/granite/internal/logging"
)

// Config is the complete daemon configuration.
type Config struct {
	Discord DiscordConfig `koanf:"discord"`

	// Nodes are the Andesite nodes to connect at startup.
	Nodes []andesite.NodeConfig `koanf:"nodes"`

	// NodeList is the NODES environment form: id@password@host:port,...
	// When set it replaces Nodes.
	NodeList string `koanf:"node_list"`

	Node      NodeConfig      `koanf:"node"`
	Reconnect ReconnectConfig `koanf:"reconnect"`
	REST      RESTConfig      `koanf:"rest"`
	Events    EventsConfig    `koanf:"events"`
	Session   SessionConfig   `koanf:"session"`
	API       APIConfig       `koanf:"api"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// DiscordConfig holds the bot credentials.
//
// Environment Variables:
//   - DISCORD_TOKEN: bot token; enables the gateway session
//   - DISCORD_USER_ID: bot user id sent to nodes as User-Id
type DiscordConfig struct {
	Token string `koanf:"token"`

	// UserID may be left empty when Token is set; it is then read from the
	// gateway READY payload.
	UserID string `koanf:"user_id"`
}

// NodeConfig tunes every node session.
//
// Environment Variables:
//   - NODE_PROBE_TIMEOUT (default: 5s)
//   - NODE_PING_INTERVAL (default: 30s)
//   - NODE_STATS_INTERVAL (default: 1m)
//   - NODE_HANDSHAKE_TIMEOUT (default: 10s)
//   - NODE_WRITE_TIMEOUT (default: 10s)
type NodeConfig struct {
	ProbeTimeout     time.Duration `koanf:"probe_timeout"`
	PingInterval     time.Duration `koanf:"ping_interval"`
	StatsInterval    time.Duration `koanf:"stats_interval"`
	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`
	WriteTimeout     time.Duration `koanf:"write_timeout"`
}

// ReconnectConfig is the policy applied after a node session ends abnormally.
//
// Environment Variables:
//   - RECONNECT_ENABLED (default: true)
//   - RECONNECT_MAX_ATTEMPTS: 0 retries forever (default: 0)
//   - RECONNECT_INITIAL_BACKOFF (default: 1s)
//   - RECONNECT_MAX_BACKOFF (default: 1m)
type ReconnectConfig struct {
	Enabled        bool          `koanf:"enabled"`
	MaxAttempts    int           `koanf:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff"`
}

// RESTConfig tunes track lookups.
//
// Environment Variables:
//   - REST_TIMEOUT (default: 10s)
//   - REST_RATE_LIMIT: requests per second, 0 disables (default: 0)
//   - REST_BURST (default: 5)
//   - REST_CACHE_SIZE: -1 disables the cache (default: 500)
//   - REST_CACHE_TTL (default: 5m)
//   - REST_BREAKER_MAX_REQUESTS, REST_BREAKER_INTERVAL, REST_BREAKER_TIMEOUT,
//     REST_BREAKER_MIN_REQUESTS, REST_BREAKER_FAILURE_THRESHOLD
type RESTConfig struct {
	Timeout                 time.Duration `koanf:"timeout"`
	RateLimit               float64       `koanf:"rate_limit"`
	Burst                   int           `koanf:"burst"`
	CacheSize               int           `koanf:"cache_size"`
	CacheTTL                time.Duration `koanf:"cache_ttl"`
	BreakerMaxRequests      uint32        `koanf:"breaker_max_requests"`
	BreakerInterval         time.Duration `koanf:"breaker_interval"`
	BreakerTimeout          time.Duration `koanf:"breaker_timeout"`
	BreakerMinRequests      uint32        `koanf:"breaker_min_requests"`
	BreakerFailureThreshold float64       `koanf:"breaker_failure_threshold"`
}

// Andesite converts the section into the client's lookup settings.
func (r RESTConfig) Andesite() andesite.RESTConfig {
	return andesite.RESTConfig{
		Timeout:             r.Timeout,
		RateLimit:           r.RateLimit,
		Burst:               r.Burst,
		CacheSize:           r.CacheSize,
		CacheTTL:            r.CacheTTL,
		BreakerMaxRequests:  r.BreakerMaxRequests,
		BreakerInterval:     r.BreakerInterval,
		BreakerTimeout:      r.BreakerTimeout,
		BreakerMinRequests:  r.BreakerMinRequests,
		BreakerFailureRatio: r.BreakerFailureThreshold,
	}
}

// Event bus backends.
const (
	BackendGoChannel = "gochannel"
	BackendNATS      = "nats"
)

// EventsConfig selects where node events are published.
//
// Environment Variables:
//   - EVENTS_BACKEND: gochannel or nats (default: gochannel)
//   - EVENTS_BUFFER: per-subscriber buffer for gochannel (default: 64)
//   - NATS_URL (default: nats://127.0.0.1:4222)
//   - NATS_EMBEDDED: run an in-process NATS server (default: false)
type EventsConfig struct {
	Backend      string `koanf:"backend"`
	Buffer       int64  `koanf:"buffer"`
	NATSURL      string `koanf:"nats_url"`
	EmbeddedNATS bool   `koanf:"embedded_nats"`
}

// SessionConfig locates the resume-token store.
//
// Environment Variables:
//   - SESSION_PATH: badger directory; empty keeps tokens in memory (default: empty)
type SessionConfig struct {
	Path string `koanf:"path"`
}

// APIConfig configures the control API.
//
// Environment Variables:
//   - API_ENABLED (default: true)
//   - HTTP_ADDR (default: :8089)
//   - JWT_SECRET: HS256 key, at least 32 characters
//   - CORS_ORIGINS: comma-separated (default: *)
//   - RATE_LIMIT_REQUESTS (default: 100)
//   - RATE_LIMIT_WINDOW (default: 1m)
type APIConfig struct {
	Enabled     bool          `koanf:"enabled"`
	Addr        string        `koanf:"addr"`
	JWTSecret   string        `koanf:"jwt_secret"`
	CORSOrigins []string      `koanf:"cors_origins"`
	RateLimit   int           `koanf:"rate_limit"`
	RateWindow  time.Duration `koanf:"rate_window"`
}

// LoggingConfig holds logging settings for zerolog.
//
// Environment Variables:
//   - LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - LOG_FORMAT: json, console (default: json)
//   - LOG_CALLER: true/false - include caller file:line (default: false)
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Logging converts the section into logger settings.
func (l LoggingConfig) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = l.Level
	cfg.Format = l.Format
	cfg.Caller = l.Caller
	return cfg
}
