// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

package api

import (
	"net/http"

	"github.com/tomtom215/granite/internal/sessionstore"
)

// ListSessions returns the stored node resume tokens.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.sessions == nil {
		rw.List([]sessionstore.Session{}, 0)
		return
	}
	sessions, err := h.sessions.List()
	if err != nil {
		rw.InternalError(err)
		return
	}
	if sessions == nil {
		sessions = []sessionstore.Session{}
	}
	rw.List(sessions, len(sessions))
}
