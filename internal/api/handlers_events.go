// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/granite/internal/andesite"
	"github.com/tomtom215/granite/internal/eventbus"
	"github.com/tomtom215/granite/internal/logging"
)

// sseKeepAlive is the comment interval that keeps idle proxies from
// closing the stream.
const sseKeepAlive = 15 * time.Second

// eventTopics maps ?event= values (e.g. track_end) to bus topics. No
// values selects every topic.
func eventTopics(names []string) ([]string, error) {
	if len(names) == 0 {
		return eventbus.Topics(), nil
	}
	known := make(map[string]bool)
	for _, t := range eventbus.Topics() {
		known[t] = true
	}
	var topics []string
	for _, name := range names {
		for _, part := range strings.Split(name, ",") {
			topic := andesite.EventPrefix + strings.TrimSpace(part)
			if !known[topic] {
				return nil, fmt.Errorf("unknown event %q", part)
			}
			topics = append(topics, topic)
		}
	}
	return topics, nil
}

// StreamEvents streams node events as server-sent events until the client
// goes away. Each SSE frame carries the event name and the JSON payload
// published on the bus.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.events == nil || !h.events.CanSubscribe() {
		rw.ServiceUnavailable("event streaming is not enabled")
		return
	}
	topics, err := eventTopics(r.URL.Query()["event"])
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	merged := make(chan *message.Message)
	for _, topic := range topics {
		msgs, err := h.events.Subscribe(ctx, topic)
		if err != nil {
			rw.InternalError(fmt.Errorf("subscribe %s: %w", topic, err))
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range msgs {
				select {
				case merged <- msg:
				case <-ctx.Done():
					msg.Nack()
					return
				}
			}
		}()
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	_ = rc.Flush()

	log := logging.Ctx(ctx)
	log.Debug().Strs("topics", topics).Msg("Event stream opened")

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("Event stream closed")
			return

		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			_ = rc.Flush()

		case msg := <-merged:
			_, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n",
				msg.UUID, msg.Metadata.Get(eventbus.MetadataEvent), msg.Payload)
			msg.Ack()
			if err != nil {
				return
			}
			_ = rc.Flush()
		}
	}
}
