// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/granite/internal/andesite"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"granite.yaml",
	"granite.yml",
	"/etc/granite/granite.yaml",
	"/etc/granite/granite.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			ProbeTimeout:     andesite.DefaultProbeTimeout,
			PingInterval:     30 * time.Second,
			StatsInterval:    time.Minute,
			HandshakeTimeout: andesite.DefaultHandshakeTimeout,
			WriteTimeout:     andesite.DefaultWriteTimeout,
		},
		Reconnect: ReconnectConfig{
			Enabled:        true,
			MaxAttempts:    0, // Retry until the node comes back
			InitialBackoff: time.Second,
			MaxBackoff:     time.Minute,
		},
		REST: RESTConfig{
			Timeout:                 10 * time.Second,
			RateLimit:               0,
			Burst:                   5,
			CacheSize:               500,
			CacheTTL:                5 * time.Minute,
			BreakerMaxRequests:      3,
			BreakerInterval:         time.Minute,
			BreakerTimeout:          30 * time.Second,
			BreakerMinRequests:      5,
			BreakerFailureThreshold: 0.6,
		},
		Events: EventsConfig{
			Backend:      BackendGoChannel,
			Buffer:       64,
			NATSURL:      "nats://127.0.0.1:4222",
			EmbeddedNATS: false,
		},
		Session: SessionConfig{
			Path: "",
		},
		API: APIConfig{
			Enabled:     true,
			Addr:        ":8089",
			CORSOrigins: []string{"*"},
			RateLimit:   100,
			RateWindow:  time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any setting
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if cfg.NodeList != "" {
		nodes, err := ParseNodeList(cfg.NodeList)
		if err != nil {
			return nil, fmt.Errorf("NODES is invalid: %w", err)
		}
		cfg.Nodes = nodes
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ParseNodeList parses "id@password@host:port" entries separated by commas.
// The password may itself contain '@'.
func ParseNodeList(list string) ([]andesite.NodeConfig, error) {
	var nodes []andesite.NodeConfig
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		first := strings.Index(entry, "@")
		last := strings.LastIndex(entry, "@")
		if first <= 0 || last == first {
			return nil, fmt.Errorf("entry %q: want id@password@host:port", entry)
		}
		id := entry[:first]
		password := entry[first+1 : last]
		hostPort := entry[last+1:]

		colon := strings.LastIndex(hostPort, ":")
		if colon <= 0 {
			return nil, fmt.Errorf("entry %q: missing host:port", entry)
		}
		port, err := strconv.Atoi(hostPort[colon+1:])
		if err != nil {
			return nil, fmt.Errorf("entry %q: invalid port: %w", entry, err)
		}
		nodes = append(nodes, andesite.NodeConfig{
			Identifier: id,
			Host:       strings.Trim(hostPort[:colon], "[]"),
			Port:       port,
			Password:   password,
		})
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("no entries")
	}
	return nodes, nil
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"api.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// Env vars come in as strings, but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) == 0 {
			continue
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to koanf paths.
// Unmapped variables are ignored.
var envMappings = map[string]string{
	// Discord
	"discord_token":   "discord.token",
	"discord_user_id": "discord.user_id",

	// Nodes
	"nodes":                  "node_list",
	"node_probe_timeout":     "node.probe_timeout",
	"node_ping_interval":     "node.ping_interval",
	"node_stats_interval":    "node.stats_interval",
	"node_handshake_timeout": "node.handshake_timeout",
	"node_write_timeout":     "node.write_timeout",

	// Reconnect policy
	"reconnect_enabled":         "reconnect.enabled",
	"reconnect_max_attempts":    "reconnect.max_attempts",
	"reconnect_initial_backoff": "reconnect.initial_backoff",
	"reconnect_max_backoff":     "reconnect.max_backoff",

	// REST lookups
	"rest_timeout":                   "rest.timeout",
	"rest_rate_limit":                "rest.rate_limit",
	"rest_burst":                     "rest.burst",
	"rest_cache_size":                "rest.cache_size",
	"rest_cache_ttl":                 "rest.cache_ttl",
	"rest_breaker_max_requests":      "rest.breaker_max_requests",
	"rest_breaker_interval":          "rest.breaker_interval",
	"rest_breaker_timeout":           "rest.breaker_timeout",
	"rest_breaker_min_requests":      "rest.breaker_min_requests",
	"rest_breaker_failure_threshold": "rest.breaker_failure_threshold",

	// Events
	"events_backend": "events.backend",
	"events_buffer":  "events.buffer",
	"nats_url":       "events.nats_url",
	"nats_embedded":  "events.embedded_nats",

	// Session store
	"session_path": "session.path",

	// API
	"api_enabled":         "api.enabled",
	"http_addr":           "api.addr",
	"jwt_secret":          "api.jwt_secret",
	"cors_origins":        "api.cors_origins",
	"rate_limit_requests": "api.rate_limit",
	"rate_limit_window":   "api.rate_window",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - DISCORD_TOKEN -> discord.token
//   - NODES -> node_list
//   - REST_CACHE_TTL -> rest.cache_ttl
//   - HTTP_ADDR -> api.addr
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
