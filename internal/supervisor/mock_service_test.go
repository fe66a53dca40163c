// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
)

// stubService counts Serve calls and can fail a fixed number of times.
type stubService struct {
	name     string
	starts   atomic.Int32
	failures atomic.Int32
	maxFails int32
	err      error
}

func newStubService(name string) *stubService {
	return &stubService{name: name}
}

func (s *stubService) Serve(ctx context.Context) error {
	s.starts.Add(1)
	if s.maxFails > 0 && s.failures.Add(1) <= s.maxFails {
		return errors.New("simulated failure")
	}
	if s.err != nil {
		return s.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *stubService) String() string {
	return s.name
}
