// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tomtom215/granite/internal/validation"
)

// minJWTSecretLength is the shortest HS256 key accepted for the API.
const minJWTSecretLength = 32

// Validate checks that required configuration is present and valid
func (c *Config) Validate() error {
	if err := c.validateDiscord(); err != nil {
		return err
	}
	if err := c.validateNodes(); err != nil {
		return err
	}
	if err := c.validateReconnect(); err != nil {
		return err
	}
	if err := c.validateREST(); err != nil {
		return err
	}
	if err := c.validateEvents(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateDiscord() error {
	if c.Discord.Token == "" && c.Discord.UserID == "" {
		return fmt.Errorf("DISCORD_USER_ID or DISCORD_TOKEN is required")
	}
	return nil
}

func (c *Config) validateNodes() error {
	if len(c.Nodes) == 0 {
		return fmt.Errorf("at least one node is required (NODES or nodes: in the config file)")
	}
	seen := make(map[string]bool, len(c.Nodes))
	for i, n := range c.Nodes {
		if err := validation.ValidateStruct(n); err != nil {
			return fmt.Errorf("nodes[%d]: %w", i, err)
		}
		if seen[n.Identifier] {
			return fmt.Errorf("nodes[%d]: duplicate identifier %q", i, n.Identifier)
		}
		seen[n.Identifier] = true
	}
	if c.Node.ProbeTimeout <= 0 || c.Node.HandshakeTimeout <= 0 || c.Node.WriteTimeout <= 0 {
		return fmt.Errorf("NODE_PROBE_TIMEOUT, NODE_HANDSHAKE_TIMEOUT and NODE_WRITE_TIMEOUT must be positive")
	}
	if c.Node.PingInterval < 0 || c.Node.StatsInterval < 0 {
		return fmt.Errorf("NODE_PING_INTERVAL and NODE_STATS_INTERVAL must not be negative")
	}
	return nil
}

func (c *Config) validateReconnect() error {
	r := c.Reconnect
	if !r.Enabled {
		return nil
	}
	if r.MaxAttempts < 0 {
		return fmt.Errorf("RECONNECT_MAX_ATTEMPTS must not be negative")
	}
	if r.InitialBackoff <= 0 {
		return fmt.Errorf("RECONNECT_INITIAL_BACKOFF must be positive")
	}
	if r.MaxBackoff < r.InitialBackoff {
		return fmt.Errorf("RECONNECT_MAX_BACKOFF (%s) must be at least RECONNECT_INITIAL_BACKOFF (%s)", r.MaxBackoff, r.InitialBackoff)
	}
	return nil
}

func (c *Config) validateREST() error {
	r := c.REST
	if r.Timeout <= 0 {
		return fmt.Errorf("REST_TIMEOUT must be positive")
	}
	if r.RateLimit < 0 {
		return fmt.Errorf("REST_RATE_LIMIT must not be negative")
	}
	if r.CacheSize < -1 {
		return fmt.Errorf("REST_CACHE_SIZE must be -1 (disabled) or larger")
	}
	if r.BreakerFailureThreshold <= 0 || r.BreakerFailureThreshold > 1 {
		return fmt.Errorf("REST_BREAKER_FAILURE_THRESHOLD must be in (0, 1], got %v", r.BreakerFailureThreshold)
	}
	return nil
}

func (c *Config) validateEvents() error {
	switch c.Events.Backend {
	case BackendGoChannel:
		return nil
	case BackendNATS:
		if c.Events.EmbeddedNATS {
			return nil
		}
		u, err := url.Parse(c.Events.NATSURL)
		if err != nil {
			return fmt.Errorf("NATS_URL is invalid: %w", err)
		}
		if u.Scheme != "nats" && u.Scheme != "tls" {
			return fmt.Errorf("NATS_URL must use nats:// or tls://, got %q", c.Events.NATSURL)
		}
		return nil
	default:
		return fmt.Errorf("EVENTS_BACKEND must be %q or %q, got %q", BackendGoChannel, BackendNATS, c.Events.Backend)
	}
}

func (c *Config) validateAPI() error {
	a := c.API
	if !a.Enabled {
		return nil
	}
	if a.Addr == "" {
		return fmt.Errorf("HTTP_ADDR is required when API_ENABLED=true")
	}
	if len(a.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters when API_ENABLED=true", minJWTSecretLength)
	}
	if a.RateLimit <= 0 || a.RateWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error; got %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console; got %q", c.Logging.Format)
	}
	return nil
}
