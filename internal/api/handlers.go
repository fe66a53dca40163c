// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

package api

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/granite/internal/andesite"
	"github.com/tomtom215/granite/internal/sessionstore"
)

// SessionLister lists stored resume tokens.
type SessionLister interface {
	List() ([]sessionstore.Session, error)
}

// EventSubscriber streams published node events.
type EventSubscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
	CanSubscribe() bool
}

// Handler serves the control API over one andesite client.
type Handler struct {
	client    *andesite.Client
	sessions  SessionLister
	events    EventSubscriber
	version   string
	startTime time.Time
}

// HandlerOption configures optional Handler collaborators.
type HandlerOption func(*Handler)

// WithSessions exposes stored resume tokens under /sessions.
func WithSessions(s SessionLister) HandlerOption {
	return func(h *Handler) { h.sessions = s }
}

// WithEvents enables the /events stream.
func WithEvents(e EventSubscriber) HandlerOption {
	return func(h *Handler) { h.events = e }
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) HandlerOption {
	return func(h *Handler) { h.version = v }
}

// NewHandler creates a handler for client.
func NewHandler(client *andesite.Client, opts ...HandlerOption) *Handler {
	h := &Handler{
		client:    client,
		version:   "dev",
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}
