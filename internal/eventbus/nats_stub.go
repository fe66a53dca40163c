// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

//go:build !nats

package eventbus

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
)

// newNATSBus returns an error when NATS dependencies are not available.
// Build with -tags=nats to enable the NATS backend.
func newNATSBus(Config, watermill.LoggerAdapter) (*Bus, error) {
	return nil, fmt.Errorf("NATS event backend not available: build with -tags=nats")
}
