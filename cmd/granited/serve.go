// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/granite/internal/andesite"
	"github.com/tomtom215/granite/internal/api"
	"github.com/tomtom215/granite/internal/auth"
	"github.com/tomtom215/granite/internal/config"
	"github.com/tomtom215/granite/internal/discord"
	"github.com/tomtom215/granite/internal/eventbus"
	"github.com/tomtom215/granite/internal/logging"
	"github.com/tomtom215/granite/internal/sessionstore"
	"github.com/tomtom215/granite/internal/supervisor"
	"github.com/tomtom215/granite/internal/supervisor/services"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the granited daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

//nolint:gocyclo // Sequential daemon wiring
func serve(ctx context.Context, cfg *config.Config) error {
	logging.Info().
		Str("version", version).
		Int("nodes", len(cfg.Nodes)).
		Str("events_backend", cfg.Events.Backend).
		Bool("api_enabled", cfg.API.Enabled).
		Msg("Starting granited with supervisor tree")

	store, err := sessionstore.Open(sessionstore.Config{Path: cfg.Session.Path})
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing session store")
		}
	}()
	if cfg.Session.Path == "" {
		logging.Warn().Msg("SESSION_PATH is empty: resume ids are kept in memory and lost on restart")
	}

	bus, err := eventbus.New(eventbus.Config{
		Backend:      cfg.Events.Backend,
		Buffer:       cfg.Events.Buffer,
		NATSURL:      cfg.Events.NATSURL,
		EmbeddedNATS: cfg.Events.EmbeddedNATS,
	})
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}()

	// The gateway is optional; without it players cannot join voice but
	// lookups and node monitoring still work.
	userID := cfg.Discord.UserID
	var session *discord.Session
	if cfg.Discord.Token != "" {
		session, err = discord.Open(cfg.Discord.Token)
		if err != nil {
			return err
		}
		if userID == "" {
			userID = session.UserID()
		}
	} else {
		logging.Warn().Msg("DISCORD_TOKEN is not set: voice connections are disabled")
	}
	if userID == "" {
		return errors.New("bot user id unknown: set DISCORD_USER_ID")
	}

	clientCfg := andesite.ClientConfig{
		UserID:           userID,
		Sink:             bus,
		Tokens:           store,
		HandshakeTimeout: cfg.Node.HandshakeTimeout,
		ProbeTimeout:     cfg.Node.ProbeTimeout,
		WriteTimeout:     cfg.Node.WriteTimeout,
		REST:             cfg.REST.Andesite(),
	}
	if session != nil {
		clientCfg.Voice = session.Connector()
	}
	client := andesite.NewClient(clientCfg)

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("supervisor tree: %w", err)
	}

	nodeCfg := services.NodeServiceConfig{
		Reconnect: services.ReconnectPolicy{
			Enabled:        cfg.Reconnect.Enabled,
			MaxAttempts:    cfg.Reconnect.MaxAttempts,
			InitialBackoff: cfg.Reconnect.InitialBackoff,
			MaxBackoff:     cfg.Reconnect.MaxBackoff,
		},
		PingInterval:  cfg.Node.PingInterval,
		StatsInterval: cfg.Node.StatsInterval,
	}
	for _, nc := range cfg.Nodes {
		node, err := client.AddNode(nc)
		if err != nil {
			return err
		}
		tree.AddNodeService(services.NewNodeService(node, nodeCfg))
		logging.Info().Str("node", nc.Identifier).Str("host", nc.Host).Int("port", nc.Port).Msg("Node service added")
	}

	if session != nil {
		tree.AddPlatformService(services.NewDiscordService(session, client))
	}
	tree.AddPlatformService(services.NewSessionGCService(store, 0))

	if cfg.API.Enabled {
		server, err := newHTTPServer(cfg, client, store, bus)
		if err != nil {
			return err
		}
		tree.AddAPIService(services.NewHTTPServerService(server, cfg.API.Addr, 10*time.Second))
		logging.Info().Str("addr", cfg.API.Addr).Msg("HTTP server service added")
	}

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown requested, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Close(closeCtx); err != nil {
		logging.Warn().Err(err).Msg("Client close failed")
	}

	logging.Info().Msg("granited stopped gracefully")
	return nil
}

// newHTTPServer builds the control API server.
func newHTTPServer(cfg *config.Config, client *andesite.Client, store *sessionstore.Store, bus *eventbus.Bus) (*http.Server, error) {
	jwtManager, err := auth.NewJWTManager(cfg.API.JWTSecret, auth.DefaultTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("API authentication: %w", err)
	}

	mw := api.DefaultChiMiddlewareConfig()
	mw.CORSAllowedOrigins = cfg.API.CORSOrigins
	mw.RateLimitRequests = cfg.API.RateLimit
	mw.RateLimitWindow = cfg.API.RateWindow

	handler := api.NewHandler(client,
		api.WithSessions(store),
		api.WithEvents(bus),
		api.WithVersion(version),
	)
	router, err := api.NewRouter(handler, api.RouterConfig{JWT: jwtManager, Middleware: mw})
	if err != nil {
		return nil, err
	}

	return &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}, nil
}
