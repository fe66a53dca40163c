// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

package models

import (
	"bytes"

	"github.com/goccy/go-json"
)

// NodeMetadata is the capability and version block a node sends on connect.
type NodeMetadata struct {
	Version         FlexString `json:"version"`
	VersionMajor    FlexString `json:"versionMajor"`
	VersionMinor    FlexString `json:"versionMinor"`
	VersionRevision FlexString `json:"versionRevision"`
	VersionCommit   FlexString `json:"versionCommit"`
	VersionBuild    FlexString `json:"versionBuild"`
	NodeRegion      string     `json:"nodeRegion"`
	NodeID          string     `json:"nodeId"`
	EnabledSources  []string   `json:"enabledSources"`
	LoadedPlugins   []string   `json:"loadedPlugins"`
}

// FlexString accepts either a JSON string or a JSON number. Node builds
// disagree on whether version components are quoted.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	*f = FlexString(b)
	return nil
}

// NodeStats is the load report a node sends in reply to get-stats.
type NodeStats struct {
	Players struct {
		Total   int `json:"total"`
		Playing int `json:"playing"`
	} `json:"players"`
	CPU struct {
		Andesite float64 `json:"andesite"`
		System   float64 `json:"system"`
	} `json:"cpu"`
	Memory struct {
		Heap    MemoryUsage `json:"heap"`
		NonHeap MemoryUsage `json:"nonHeap"`
	} `json:"memory"`
	Runtime struct {
		Uptime int64 `json:"uptime"`
		PID    int   `json:"pid"`
	} `json:"runtime"`

	// Raw keeps the full frame; nodes with plugins report extra sections.
	Raw json.RawMessage `json:"-"`
}

// MemoryUsage is one JVM memory pool in bytes.
type MemoryUsage struct {
	Init      int64 `json:"init"`
	Used      int64 `json:"used"`
	Committed int64 `json:"committed"`
	Max       int64 `json:"max"`
}

// PlayerState is the authoritative snapshot carried by player-update frames.
// Pointer fields are nil when the node omitted them.
type PlayerState struct {
	Time         int64           `json:"time"`
	Position     *int64          `json:"position"`
	Paused       *bool           `json:"paused"`
	Volume       *int            `json:"volume"`
	Filters      json.RawMessage `json:"filters,omitempty"`
	MixerEnabled *bool           `json:"mixerEnabled,omitempty"`
}
