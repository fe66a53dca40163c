// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

package andesite

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers match with errors.Is; returned errors wrap these
// with the node or guild they concern.
var (
	// ErrConnectionFailure: the node was unreachable or the handshake was malformed.
	ErrConnectionFailure = errors.New("node connection failure")

	// ErrInvalidCredentials: the node rejected the password. Not retryable.
	ErrInvalidCredentials = errors.New("invalid node credentials")

	// ErrNodeNotAvailable: a frame was sent while the node was disconnected.
	ErrNodeNotAvailable = errors.New("node not available")

	// ErrNoNodesAvailable: the registry has no node that can take work.
	ErrNoNodesAvailable = errors.New("no nodes available")

	// ErrNodeClosed: the node was disconnected and left its client.
	ErrNodeClosed = errors.New("node closed")

	ErrDuplicateIdentifier = errors.New("duplicate node identifier")
	ErrPlayerAlreadyExists = errors.New("player already exists")

	// ErrInvalidPosition: a seek target outside [0, length], or no current track.
	ErrInvalidPosition = errors.New("invalid track position")

	// ErrProbeTimeout: no pong arrived before the probe deadline.
	ErrProbeTimeout = errors.New("latency probe timed out")
)

// TrackLoadError is returned when a node answers loadtracks with LOAD_FAILED.
type TrackLoadError struct {
	Node     string
	Query    string
	Severity string
	Cause    string
}

func (e *TrackLoadError) Error() string {
	return fmt.Sprintf("track load failed on node %s (severity %s): %s", e.Node, e.Severity, e.Cause)
}
