// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/granite/internal/auth"
	"github.com/tomtom215/granite/internal/middleware"
)

// requestTimeout bounds every non-streaming API call.
const requestTimeout = 30 * time.Second

// RouterConfig wires authentication and the shared middleware.
type RouterConfig struct {
	// JWT verifies bearer tokens on every /api/v1 route except health.
	JWT *auth.JWTManager

	Middleware *ChiMiddlewareConfig
}

// NewRouter builds the control API.
//
//	GET    /metrics
//	GET    /api/v1/health, /api/v1/health/live
//	GET    /api/v1/nodes, /api/v1/nodes/{nodeID}
//	POST   /api/v1/nodes/{nodeID}/ping
//	GET    /api/v1/tracks?identifier=
//	GET    /api/v1/sessions
//	GET    /api/v1/events?event=
//	GET    /api/v1/players
//	GET    /api/v1/players/{guildID}
//	POST   /api/v1/players/{guildID}
//	DELETE /api/v1/players/{guildID}
//	POST   /api/v1/players/{guildID}/{connect,disconnect,play,stop,pause,seek,volume,move}
//	PUT    /api/v1/players/{guildID}/filters
//	DELETE /api/v1/players/{guildID}/filters
func NewRouter(h *Handler, cfg RouterConfig) (http.Handler, error) {
	if h == nil {
		return nil, errors.New("api: handler is required")
	}
	if cfg.JWT == nil {
		return nil, errors.New("api: JWT manager is required")
	}
	mw := NewChiMiddleware(cfg.Middleware)
	authMW := auth.NewMiddleware(cfg.JWT)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(mw.CORS())
	r.Use(middleware.PrometheusMetrics)

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/health", func(r chi.Router) {
			r.Get("/", h.Health)
			r.Get("/live", h.Live)
		})

		r.Group(func(r chi.Router) {
			r.Use(mw.RateLimit())
			r.Use(authMW.Authenticate)

			// Streams outlive requestTimeout.
			r.Get("/events", h.StreamEvents)

			r.Group(func(r chi.Router) {
				r.Use(chimiddleware.Timeout(requestTimeout))

				r.Get("/nodes", h.ListNodes)
				r.Get("/nodes/{nodeID}", h.GetNode)
				r.Post("/nodes/{nodeID}/ping", h.PingNode)

				r.Get("/tracks", h.SearchTracks)
				r.Get("/sessions", h.ListSessions)

				r.Get("/players", h.ListPlayers)
				r.Route("/players/{guildID}", func(r chi.Router) {
					r.Get("/", h.GetPlayer)
					r.Post("/", h.CreatePlayer)
					r.Delete("/", h.DestroyPlayer)

					r.Post("/connect", h.Connect)
					r.Post("/disconnect", h.Disconnect)
					r.Post("/play", h.Play)
					r.Post("/stop", h.Stop)
					r.Post("/pause", h.Pause)
					r.Post("/seek", h.Seek)
					r.Post("/volume", h.Volume)
					r.Post("/move", h.Move)
					r.Put("/filters", h.SetFilters)
					r.Delete("/filters", h.ResetFilters)
				})
			})
		})
	})

	return r, nil
}
