// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

package api

import (
	"fmt"
	"net/http"

	"github.com/tomtom215/granite/internal/models"
)

// maxIdentifierLength bounds loadtracks identifiers.
const maxIdentifierLength = 2048

// SearchTracks resolves ?identifier= through ?node=, or any available node.
//
// Example: GET /api/v1/tracks?identifier=ytsearch:lofi
func (h *Handler) SearchTracks(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	q := r.URL.Query()
	identifier := q.Get("identifier")
	if identifier == "" {
		rw.BadRequest("identifier query parameter is required")
		return
	}
	if len(identifier) > maxIdentifierLength {
		rw.BadRequest(fmt.Sprintf("identifier longer than %d bytes", maxIdentifierLength))
		return
	}

	var (
		res models.LoadResult
		err error
	)
	if id := q.Get("node"); id != "" {
		n, ok := h.client.Node(id)
		if !ok {
			rw.Fail(fmt.Errorf("%w: %s", ErrNodeNotFound, id))
			return
		}
		res, err = n.LoadTracks(r.Context(), identifier)
	} else {
		res, err = h.client.GetTracks(r.Context(), identifier)
	}
	if err != nil {
		rw.Fail(err)
		return
	}
	rw.Success(res)
}
