// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

package services

import (
	"context"
	"time"

	"github.com/tomtom215/granite/internal/logging"
)

// Collector is satisfied by *sessionstore.Store.
type Collector interface {
	GC() error
}

// DefaultGCInterval is used when NewSessionGCService gets a zero interval.
const DefaultGCInterval = 10 * time.Minute

// SessionGCService periodically reclaims session store space.
type SessionGCService struct {
	store    Collector
	interval time.Duration
}

// NewSessionGCService creates a GC service for store.
func NewSessionGCService(store Collector, interval time.Duration) *SessionGCService {
	if interval <= 0 {
		interval = DefaultGCInterval
	}
	return &SessionGCService{store: store, interval: interval}
}

// Serve implements suture.Service. GC errors are logged, not returned.
func (s *SessionGCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.store.GC(); err != nil {
				logging.Warn().Err(err).Msg("Session store GC failed")
			}
		}
	}
}

// String implements fmt.Stringer for logging.
func (s *SessionGCService) String() string {
	return "session-gc"
}
