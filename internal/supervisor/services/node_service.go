// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/granite/internal/andesite"
	"github.com/tomtom215/granite/internal/logging"
	"github.com/tomtom215/granite/internal/metrics"
)

// Reconnect outcomes recorded in granite_node_reconnects_total.
const (
	ReconnectSuccess = "success"
	ReconnectFailure = "failure"
	ReconnectGaveUp  = "gave_up"
)

// ReconnectPolicy decides whether and when a node is dialled again.
type ReconnectPolicy struct {
	Enabled bool

	// MaxAttempts caps consecutive failed dials. 0 retries forever.
	MaxAttempts int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Backoff returns the wait before the given 1-based attempt: InitialBackoff
// doubled per attempt, capped at MaxBackoff.
func (p ReconnectPolicy) Backoff(attempt int) time.Duration {
	d := p.InitialBackoff
	if d <= 0 {
		d = time.Second
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// NodeServiceConfig tunes a NodeService.
type NodeServiceConfig struct {
	Reconnect ReconnectPolicy

	// PingInterval and StatsInterval of 0 disable the probes.
	PingInterval  time.Duration
	StatsInterval time.Duration
}

// NodeService owns one node's session for the life of the process.
//
// Example usage:
//
//	node, _ := client.AddNode(cfg)
//	tree.AddNodeService(services.NewNodeService(node, nodeCfg))
type NodeService struct {
	node *andesite.Node
	cfg  NodeServiceConfig
	log  zerolog.Logger
	name string

	// sleep waits d or until ctx ends; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewNodeService creates a service for node.
func NewNodeService(node *andesite.Node, cfg NodeServiceConfig) *NodeService {
	return &NodeService{
		node:  node,
		cfg:   cfg,
		log:   logging.WithNode(node.Identifier()),
		name:  "node-" + node.Identifier(),
		sleep: sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve implements suture.Service.
//
// The loop dials the node, runs the probes until the session ends and dials
// again according to the reconnect policy. Players are kept across
// sessions and their voice state is sent again after each reconnect.
// Returns an error wrapping suture.ErrDoNotRestart when the node rejects
// the credentials or the policy gives up.
func (s *NodeService) Serve(ctx context.Context) error {
	id := s.node.Identifier()
	attempts := 0
	hadSession := false

	for {
		err := s.node.Connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, andesite.ErrNodeClosed) {
				s.log.Info().Msg("Node disconnected, stopping")
				return fmt.Errorf("%w: %w", suture.ErrDoNotRestart, err)
			}
			if errors.Is(err, andesite.ErrInvalidCredentials) {
				s.log.Error().Err(err).Msg("Node rejected credentials, not reconnecting")
				metrics.RecordReconnect(id, ReconnectGaveUp)
				return fmt.Errorf("%w: %w", suture.ErrDoNotRestart, err)
			}

			attempts++
			if hadSession {
				metrics.RecordReconnect(id, ReconnectFailure)
			}
			if !s.cfg.Reconnect.Enabled || (s.cfg.Reconnect.MaxAttempts > 0 && attempts >= s.cfg.Reconnect.MaxAttempts) {
				s.log.Error().Err(err).Int("attempts", attempts).Msg("Giving up on node")
				metrics.RecordReconnect(id, ReconnectGaveUp)
				return fmt.Errorf("%w: node %s unreachable after %d attempts: %w", suture.ErrDoNotRestart, id, attempts, err)
			}

			wait := s.cfg.Reconnect.Backoff(attempts)
			s.log.Warn().Err(err).Int("attempt", attempts).Dur("backoff", wait).Msg("Node connect failed, retrying")
			if err := s.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		if hadSession {
			metrics.RecordReconnect(id, ReconnectSuccess)
			s.log.Info().Int("attempts", attempts+1).Msg("Node reconnected")
			s.resendVoice(ctx)
		}
		attempts = 0
		hadSession = true

		s.watch(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		last := s.node.LastClose()
		if last.Code == andesite.CloseInvalidCredentials {
			metrics.RecordReconnect(id, ReconnectGaveUp)
			return fmt.Errorf("%w: %w", suture.ErrDoNotRestart, last.Err)
		}
		if !last.Abnormal() {
			// Disconnect was called; the node left the registry.
			return fmt.Errorf("%w: node %s disconnected", suture.ErrDoNotRestart, id)
		}
		if !s.cfg.Reconnect.Enabled {
			metrics.RecordReconnect(id, ReconnectGaveUp)
			return fmt.Errorf("%w: %w", suture.ErrDoNotRestart, last.Err)
		}

		wait := s.cfg.Reconnect.Backoff(1)
		s.log.Warn().Int("code", last.Code).Dur("backoff", wait).Msg("Node session lost, reconnecting")
		if err := s.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// watch runs the probes until the session ends or ctx is cancelled.
func (s *NodeService) watch(ctx context.Context) {
	done := s.node.Done()

	var pingC, statsC <-chan time.Time
	if s.cfg.PingInterval > 0 {
		t := time.NewTicker(s.cfg.PingInterval)
		defer t.Stop()
		pingC = t.C
	}
	if s.cfg.StatsInterval > 0 {
		t := time.NewTicker(s.cfg.StatsInterval)
		defer t.Stop()
		statsC = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-pingC:
			rtt, err := s.node.Ping(ctx)
			if err != nil {
				s.log.Warn().Err(err).Msg("Ping failed")
				continue
			}
			s.log.Debug().Dur("rtt", rtt).Msg("Ping")
		case <-statsC:
			if err := s.node.RequestStats(ctx); err != nil {
				s.log.Debug().Err(err).Msg("Stats request failed")
			}
		}
	}
}

func (s *NodeService) resendVoice(ctx context.Context) {
	for _, p := range s.node.Players() {
		if err := p.ResendVoice(ctx); err != nil {
			s.log.Warn().Err(err).Str("guild_id", p.GuildID()).Msg("Voice resend after reconnect failed")
		}
	}
}

// String implements fmt.Stringer for logging.
func (s *NodeService) String() string {
	return s.name
}
