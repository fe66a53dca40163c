// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

/*
Package middleware provides HTTP middleware for the control API.

# Available Middleware

RequestID assigns every request an id, taken from an upstream X-Request-ID
header when present and generated as a UUID v4 otherwise. The id is echoed
in the response header and attached to the logging context so that every
log line written while serving the request carries it.

PrometheusMetrics records granite_api_requests_total and
granite_api_request_duration_seconds. The route label is the chi route
pattern (for example /api/v1/players/{guildID}/play), never the raw path,
so guild ids do not explode label cardinality.

# Usage

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)

Both are plain func(http.Handler) http.Handler and work with any router.
*/
package middleware
