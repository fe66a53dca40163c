// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

package api

import (
	"net/http"
	"time"
)

// Health statuses.
const (
	HealthOK          = "ok"
	HealthDegraded    = "degraded"
	HealthUnavailable = "unavailable"
)

// HealthResponse reports node availability.
type HealthResponse struct {
	Status         string  `json:"status"`
	Version        string  `json:"version"`
	NodesTotal     int     `json:"nodes_total"`
	NodesAvailable int     `json:"nodes_available"`
	Players        int     `json:"players"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// Health returns 200 while at least one node is available, 503 otherwise.
// Degraded means some configured nodes are down.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	nodes := h.client.Nodes()
	resp := HealthResponse{
		Version:       h.version,
		NodesTotal:    len(nodes),
		Players:       len(h.client.Players()),
		UptimeSeconds: time.Since(h.startTime).Seconds(),
	}
	for _, n := range nodes {
		if n.Available() {
			resp.NodesAvailable++
		}
	}

	rw := NewResponseWriter(w, r)
	switch {
	case resp.NodesAvailable == 0:
		resp.Status = HealthUnavailable
		rw.writeJSON(http.StatusServiceUnavailable, APIResponse{Success: false, Data: resp, Meta: rw.meta()})
		return
	case resp.NodesAvailable < resp.NodesTotal:
		resp.Status = HealthDegraded
	default:
		resp.Status = HealthOK
	}
	rw.Success(resp)
}

// Live always answers 200 while the process serves HTTP.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "alive"})
}
