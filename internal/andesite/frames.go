// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

package andesite

import (
	"github.com/goccy/go-json"
)

// Outbound ops.
const (
	OpPlay              = "play"
	OpStop              = "stop"
	OpPause             = "pause"
	OpSeek              = "seek"
	OpVolume            = "volume"
	OpFilters           = "filters"
	OpDestroy           = "destroy"
	OpVoiceServerUpdate = "voice-server-update"
	OpPing              = "ping"
	OpGetStats          = "get-stats"
)

// Inbound ops.
const (
	OpConnectionID = "connection-id"
	OpMetadata     = "metadata"
	OpStats        = "stats"
	OpPong         = "pong"
	OpPlayerUpdate = "player-update"
	OpEvent        = "event"
)

// Frame is one outbound control message: a flat object keyed by op.
type Frame map[string]any

// Op returns the frame's op, or "" if unset.
func (f Frame) Op() string {
	op, _ := f["op"].(string)
	return op
}

func newFrame(op string) Frame {
	return Frame{"op": op}
}

func guildFrame(op, guildID string) Frame {
	return Frame{"op": op, "guildId": guildID}
}

// inboundFrame covers every field the receive loop dispatches on. Unused
// fields stay empty for a given op.
type inboundFrame struct {
	Op      string          `json:"op"`
	GuildID string          `json:"guildId"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Data    json.RawMessage `json:"data"`
	Stats   json.RawMessage `json:"stats"`
	State   json.RawMessage `json:"state"`
}

// knownInboundOps bounds the op label on frame metrics.
var knownInboundOps = map[string]bool{
	OpConnectionID: true,
	OpMetadata:     true,
	OpStats:        true,
	OpPong:         true,
	OpPlayerUpdate: true,
	OpEvent:        true,
}

func opLabel(op string) string {
	if knownInboundOps[op] {
		return op
	}
	return "unknown"
}
