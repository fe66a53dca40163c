// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/granite/internal/andesite"
	"github.com/tomtom215/granite/internal/models"
)

// NodeSummary is the API view of a node.
type NodeSummary struct {
	Identifier string               `json:"identifier"`
	Region     string               `json:"region,omitempty"`
	State      string               `json:"state"`
	Available  bool                 `json:"available"`
	Players    int                  `json:"players"`
	LastClose  *CloseSummary        `json:"last_close,omitempty"`
	Metadata   *models.NodeMetadata `json:"metadata,omitempty"`
	Stats      *models.NodeStats    `json:"stats,omitempty"`
}

// CloseSummary describes how the last session ended.
type CloseSummary struct {
	Code   int    `json:"code"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

func summarizeNode(n *andesite.Node) NodeSummary {
	s := NodeSummary{
		Identifier: n.Identifier(),
		Region:     n.Region(),
		State:      n.State().String(),
		Available:  n.Available(),
		Players:    n.PlayerCount(),
		Metadata:   n.Metadata(),
		Stats:      n.Stats(),
	}
	if last := n.LastClose(); last.Code != 0 {
		s.LastClose = &CloseSummary{Code: last.Code, Reason: last.Reason}
		if last.Err != nil {
			s.LastClose.Error = last.Err.Error()
		}
	}
	return s
}

func (h *Handler) nodeFromPath(r *http.Request) (*andesite.Node, error) {
	id := chi.URLParam(r, "nodeID")
	n, ok := h.client.Node(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return n, nil
}

// ListNodes returns every registered node.
func (h *Handler) ListNodes(w http.ResponseWriter, r *http.Request) {
	nodes := h.client.Nodes()
	out := make([]NodeSummary, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, summarizeNode(n))
	}
	NewResponseWriter(w, r).List(out, len(out))
}

// GetNode returns one node.
func (h *Handler) GetNode(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	n, err := h.nodeFromPath(r)
	if err != nil {
		rw.Fail(err)
		return
	}
	rw.Success(summarizeNode(n))
}

// PingResponse is a measured round trip.
type PingResponse struct {
	Node  string  `json:"node"`
	RTTMs float64 `json:"rtt_ms"`
}

// PingNode measures the node's websocket round trip.
func (h *Handler) PingNode(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	n, err := h.nodeFromPath(r)
	if err != nil {
		rw.Fail(err)
		return
	}
	rtt, err := n.Ping(r.Context())
	if err != nil {
		rw.Fail(err)
		return
	}
	rw.Success(PingResponse{Node: n.Identifier(), RTTMs: float64(rtt.Microseconds()) / 1000})
}
