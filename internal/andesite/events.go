// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

package andesite

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
)

// EventPrefix namespaces every event name on the outward bus.
const EventPrefix = "andesite_"

// Event names.
const (
	EventTrackStart      = "track_start"
	EventTrackEnd        = "track_end"
	EventTrackStuck      = "track_stuck"
	EventTrackException  = "track_exception"
	EventWebSocketClosed = "websocket_closed"
)

// Event is a typed node event. The set of implementations is closed.
type Event interface {
	// Name is the unprefixed event name, e.g. "track_end".
	Name() string
	// Player is the player the event concerns. It is not owned by the event.
	Player() *Player
	GuildID() string
	isEvent()
}

// Topic returns the bus topic for ev: "andesite_" + ev.Name().
func Topic(ev Event) string {
	return EventPrefix + ev.Name()
}

// EventSink receives decoded events from every node's receive loop. It is
// called on the loop goroutine and must not block for long.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, ev Event) error

// Publish calls f.
func (f EventSinkFunc) Publish(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

type discardSink struct{}

func (discardSink) Publish(context.Context, Event) error { return nil }

type baseEvent struct {
	player  *Player
	guildID string
}

func (b baseEvent) Player() *Player { return b.player }
func (b baseEvent) GuildID() string { return b.guildID }
func (baseEvent) isEvent()          {}

// TrackStartEvent: a track began playing.
type TrackStartEvent struct {
	baseEvent
	Track string `json:"track"`
}

// Name implements Event.
func (TrackStartEvent) Name() string { return EventTrackStart }

// TrackEndEvent: a track finished. MayStartNext is false when the end was
// caused by a replacement or stop.
type TrackEndEvent struct {
	baseEvent
	Track        string `json:"track"`
	Reason       string `json:"reason"`
	MayStartNext bool   `json:"mayStartNext"`
}

// Name implements Event.
func (TrackEndEvent) Name() string { return EventTrackEnd }

// TrackStuckEvent: no audio was provided for ThresholdMs.
type TrackStuckEvent struct {
	baseEvent
	Track       string `json:"track"`
	ThresholdMs int64  `json:"thresholdMs"`
}

// Name implements Event.
func (TrackStuckEvent) Name() string { return EventTrackStuck }

// TrackExceptionEvent: playback failed.
type TrackExceptionEvent struct {
	baseEvent
	Track     string          `json:"track,omitempty"`
	Error     string          `json:"error"`
	Exception json.RawMessage `json:"exception,omitempty"`
}

// Name implements Event.
func (TrackExceptionEvent) Name() string { return EventTrackException }

// WebSocketClosedEvent: the node's voice websocket to Discord closed.
type WebSocketClosedEvent struct {
	baseEvent
	Reason   string `json:"reason"`
	Code     int    `json:"code"`
	ByRemote bool   `json:"byRemote"`
}

// Name implements Event.
func (WebSocketClosedEvent) Name() string { return EventWebSocketClosed }

type eventDecoder func(base baseEvent, raw []byte) (Event, error)

// eventDecoders is the total set of wire event types. Anything else is dropped.
var eventDecoders = map[string]eventDecoder{
	"TrackStartEvent": func(base baseEvent, raw []byte) (Event, error) {
		ev := TrackStartEvent{baseEvent: base}
		return ev.withBody(raw)
	},
	"TrackEndEvent": func(base baseEvent, raw []byte) (Event, error) {
		ev := TrackEndEvent{baseEvent: base}
		return ev.withBody(raw)
	},
	"TrackStuckEvent": func(base baseEvent, raw []byte) (Event, error) {
		ev := TrackStuckEvent{baseEvent: base}
		return ev.withBody(raw)
	},
	"TrackExceptionEvent": func(base baseEvent, raw []byte) (Event, error) {
		ev := TrackExceptionEvent{baseEvent: base}
		return ev.withBody(raw)
	},
	"WebSocketClosedEvent": func(base baseEvent, raw []byte) (Event, error) {
		ev := WebSocketClosedEvent{baseEvent: base}
		return ev.withBody(raw)
	},
}

func (ev TrackStartEvent) withBody(raw []byte) (Event, error) {
	err := json.Unmarshal(raw, &ev)
	return ev, err
}

func (ev TrackEndEvent) withBody(raw []byte) (Event, error) {
	err := json.Unmarshal(raw, &ev)
	return ev, err
}

func (ev TrackStuckEvent) withBody(raw []byte) (Event, error) {
	err := json.Unmarshal(raw, &ev)
	return ev, err
}

func (ev TrackExceptionEvent) withBody(raw []byte) (Event, error) {
	err := json.Unmarshal(raw, &ev)
	return ev, err
}

func (ev WebSocketClosedEvent) withBody(raw []byte) (Event, error) {
	err := json.Unmarshal(raw, &ev)
	return ev, err
}

// DecodeEvent builds the Event for a raw "event" frame. ok is false for an
// unknown type, which callers discard.
func DecodeEvent(p *Player, guildID, eventType string, raw []byte) (ev Event, ok bool, err error) {
	dec, known := eventDecoders[eventType]
	if !known {
		return nil, false, nil
	}
	ev, err = dec(baseEvent{player: p, guildID: guildID}, raw)
	if err != nil {
		return nil, true, fmt.Errorf("decode %s: %w", eventType, err)
	}
	return ev, true, nil
}

// EventPayload is the JSON form of an event for consumers outside the process.
func EventPayload(ev Event) ([]byte, error) {
	return json.Marshal(struct {
		Event   string `json:"event"`
		GuildID string `json:"guildId"`
		Data    Event  `json:"data"`
	}{Event: ev.Name(), GuildID: ev.GuildID(), Data: ev})
}
