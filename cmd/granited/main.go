// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

// Package main is the entry point for granited, the Granite daemon.
//
// granited connects a Discord bot to one or more Andesite audio nodes,
// keeps their sessions alive under a supervisor tree and exposes players,
// track lookups and node events over an authenticated HTTP API.
//
// # Commands
//
//	granited serve              run the daemon
//	granited search <query>     one-shot track lookup on the first available node
//	granited token [subject]    issue an admin API token signed with JWT_SECRET
//	granited version            print the build version
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest priority wins):
//   - Environment variables (a .env file in the working directory is read first)
//   - Config file (config.yaml, or the path in CONFIG_PATH)
//   - Built-in defaults
//
// The minimum is a node list and either a bot token or the bot's user id:
//
//	export NODES=main@youshallnotpass@127.0.0.1:5000
//	export DISCORD_TOKEN=your-bot-token
//	export JWT_SECRET=$(openssl rand -base64 32)
//	./granited serve
//
// # Build Tags
//
//	go build -tags "nats" ./cmd/granited    # Enable the NATS event backend
//
// # Signal Handling
//
// serve shuts down gracefully on SIGINT and SIGTERM: the supervisor tree
// stops the HTTP server and node sessions, then the event bus and session
// store are closed.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tomtom215/granite/internal/config"
	"github.com/tomtom215/granite/internal/logging"
)

// Set at build time with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
)

var rootCmd = &cobra.Command{
	Use:           "granited",
	Short:         "Granite connects Discord bots to Andesite audio nodes.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A missing .env is normal in containers.
		_ = godotenv.Load()
	},
}

// loadConfig loads configuration and initializes logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.Logging.Logging())
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
