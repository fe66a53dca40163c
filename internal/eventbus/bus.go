// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

// Package eventbus publishes node events to watermill topics named
// "andesite_<event>", e.g. andesite_track_end.
//
// The default backend is an in-process gochannel pub/sub. Building with
// -tags=nats adds a NATS backend that forwards every event to a broker,
// optionally one embedded in the process.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/tomtom215/granite/internal/andesite"
	"github.com/tomtom215/granite/internal/logging"
)

// Backends.
const (
	BackendGoChannel = "gochannel"
	BackendNATS      = "nats"
)

// Metadata keys set on every published message.
const (
	MetadataEvent   = "event"
	MetadataGuildID = "guild_id"
	MetadataNode    = "node"
)

// ErrClosed is returned by Publish and Subscribe after Close.
var ErrClosed = errors.New("event bus closed")

// Config selects and tunes the backend.
type Config struct {
	Backend string

	// Buffer is the per-subscriber channel size for gochannel.
	Buffer int64

	NATSURL      string
	EmbeddedNATS bool
}

// Bus is an andesite.EventSink backed by a watermill publisher.
type Bus struct {
	pub    message.Publisher
	sub    message.Subscriber
	logger watermill.LoggerAdapter

	// closers run in reverse order on Close.
	closers []func() error

	mu     sync.RWMutex
	closed bool
}

var _ andesite.EventSink = (*Bus)(nil)

// New builds a bus for cfg.Backend.
func New(cfg Config) (*Bus, error) {
	// gochannel reports every publish without subscribers at info level.
	logger := watermill.NewSlogLoggerWithLevelMapping(logging.NewSlogLogger(), map[slog.Level]slog.Level{
		slog.LevelInfo: slog.LevelDebug,
	})

	switch cfg.Backend {
	case "", BackendGoChannel:
		ch := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: cfg.Buffer,
		}, logger)
		return &Bus{pub: ch, sub: ch, logger: logger, closers: []func() error{ch.Close}}, nil
	case BackendNATS:
		return newNATSBus(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown event backend %q", cfg.Backend)
	}
}

// NewWithPubSub wraps an existing watermill publisher and subscriber. sub
// may be nil for publish-only buses.
func NewWithPubSub(pub message.Publisher, sub message.Subscriber) *Bus {
	return &Bus{
		pub:     pub,
		sub:     sub,
		logger:  watermill.NopLogger{},
		closers: []func() error{pub.Close},
	}
}

// Publish encodes ev with andesite.EventPayload and sends it to
// andesite.Topic(ev).
func (b *Bus) Publish(ctx context.Context, ev andesite.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	payload, err := andesite.EventPayload(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Name(), err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(MetadataEvent, ev.Name())
	msg.Metadata.Set(MetadataGuildID, ev.GuildID())
	if p := ev.Player(); p != nil {
		if n := p.Node(); n != nil {
			msg.Metadata.Set(MetadataNode, n.Identifier())
		}
	}

	if err := b.pub.Publish(andesite.Topic(ev), msg); err != nil {
		return fmt.Errorf("publish %s: %w", andesite.Topic(ev), err)
	}
	return nil
}

// Subscribe returns the messages published to topic after the call. It
// fails for publish-only backends.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	if b.sub == nil {
		return nil, fmt.Errorf("event bus backend does not support subscriptions")
	}
	return b.sub.Subscribe(ctx, topic)
}

// CanSubscribe reports whether Subscribe is supported.
func (b *Bus) CanSubscribe() bool {
	return b.sub != nil
}

// Close shuts the backend down. Subsequent calls are no-ops.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Topics lists every topic the bus publishes to.
func Topics() []string {
	return []string{
		andesite.EventPrefix + andesite.EventTrackStart,
		andesite.EventPrefix + andesite.EventTrackEnd,
		andesite.EventPrefix + andesite.EventTrackStuck,
		andesite.EventPrefix + andesite.EventTrackException,
		andesite.EventPrefix + andesite.EventWebSocketClosed,
	}
}
