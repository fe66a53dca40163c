// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

/*
Package api is the HTTP control plane of granited.

It exposes the node registry and every player operation over a chi router
so that operators and bot frontends can inspect nodes, search tracks and
drive playback without holding a websocket of their own.

# Authentication

Every route under /api/v1 except /api/v1/health requires an HS256 bearer
token signed with JWT_SECRET (see internal/auth). /metrics is public so
that Prometheus can scrape it without credentials.

# Responses

JSON responses share one envelope:

	{"success": true, "data": {...}, "meta": {"request_id": "...", "timestamp": "...", "duration_ms": 3}}
	{"success": false, "error": {"code": "NOT_FOUND", "message": "player not found: guild 1"}, "meta": {...}}

Client errors map to status codes as follows:

	ErrNoNodesAvailable, ErrNodeNotAvailable     503
	ErrInvalidPosition, ErrFilterInvalidArgument 400
	*TrackLoadError                              502
	unknown player or node                       404

# Events

GET /api/v1/events streams the node events published on the event bus as
server-sent events. ?event=track_end,track_start narrows the stream.
*/
package api
