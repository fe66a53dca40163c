// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/tomtom215/granite/internal/andesite"
	"github.com/tomtom215/granite/internal/filters"
)

var (
	// ErrPlayerNotFound: no player exists for the guild in the path.
	ErrPlayerNotFound = errors.New("player not found")

	// ErrNodeNotFound: no node is registered under the identifier.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNoMatches: a play-by-identifier lookup found nothing to play.
	ErrNoMatches = errors.New("no tracks matched")
)

// Fail maps a client or handler error to its status code and writes it.
func (rw *ResponseWriter) Fail(err error) {
	var loadErr *andesite.TrackLoadError
	switch {
	case errors.Is(err, ErrPlayerNotFound), errors.Is(err, ErrNodeNotFound), errors.Is(err, ErrNoMatches):
		rw.NotFound(err.Error())

	case errors.Is(err, andesite.ErrNoNodesAvailable),
		errors.Is(err, andesite.ErrNodeNotAvailable),
		errors.Is(err, andesite.ErrNoVoiceConnector):
		rw.ServiceUnavailable(err.Error())

	case errors.Is(err, andesite.ErrInvalidPosition), errors.Is(err, filters.ErrFilterInvalidArgument):
		rw.BadRequest(err.Error())

	case errors.Is(err, andesite.ErrPlayerAlreadyExists), errors.Is(err, andesite.ErrDuplicateIdentifier):
		rw.Error(http.StatusConflict, ErrCodeConflict, err.Error())

	case errors.As(err, &loadErr):
		rw.ErrorWithDetails(http.StatusBadGateway, ErrCodeTrackLoadFailed, "track load failed", map[string]string{
			"node":     loadErr.Node,
			"severity": loadErr.Severity,
			"cause":    loadErr.Cause,
		})

	case errors.Is(err, andesite.ErrInvalidCredentials), errors.Is(err, andesite.ErrConnectionFailure):
		rw.Error(http.StatusBadGateway, ErrCodeNodeError, err.Error())

	case errors.Is(err, andesite.ErrProbeTimeout), errors.Is(err, context.DeadlineExceeded):
		rw.Error(http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())

	default:
		rw.InternalError(err)
	}
}
