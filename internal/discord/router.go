// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

package discord

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/goccy/go-json"

	"github.com/tomtom215/granite/internal/andesite"
	"github.com/tomtom215/granite/internal/logging"
)

// VoiceHandler receives the bot's voice dispatches. *andesite.Client
// implements it.
type VoiceHandler interface {
	HandleVoiceStateUpdate(ctx context.Context, vs andesite.VoiceState) error
	HandleVoiceServerUpdate(ctx context.Context, event json.RawMessage) error
}

// DefaultRouteTimeout bounds forwarding one dispatch to a node.
const DefaultRouteTimeout = 10 * time.Second

// Router converts discordgo voice events into VoiceHandler calls.
type Router struct {
	handler VoiceHandler
	timeout time.Duration
}

// NewRouter returns a router forwarding to h.
func NewRouter(h VoiceHandler) *Router {
	return &Router{handler: h, timeout: DefaultRouteTimeout}
}

// Register adds the router's handlers to s and returns a function
// removing them.
func (r *Router) Register(s *discordgo.Session) func() {
	removeState := s.AddHandler(r.OnVoiceStateUpdate)
	removeServer := s.AddHandler(r.OnVoiceServerUpdate)
	return func() {
		removeState()
		removeServer()
	}
}

// OnVoiceStateUpdate is a discordgo handler for VOICE_STATE_UPDATE.
func (r *Router) OnVoiceStateUpdate(_ *discordgo.Session, e *discordgo.VoiceStateUpdate) {
	if e == nil || e.VoiceState == nil {
		return
	}
	vs := andesite.VoiceState{
		GuildID:   e.GuildID,
		ChannelID: e.ChannelID,
		UserID:    e.UserID,
		SessionID: e.SessionID,
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.handler.HandleVoiceStateUpdate(logging.ContextWithGuild(ctx, vs.GuildID), vs); err != nil {
		logging.Warn().Err(err).Str("guild_id", vs.GuildID).Msg("Voice state update not forwarded")
	}
}

// OnVoiceServerUpdate is a discordgo handler for VOICE_SERVER_UPDATE.
func (r *Router) OnVoiceServerUpdate(_ *discordgo.Session, e *discordgo.VoiceServerUpdate) {
	if e == nil {
		return
	}
	raw, err := json.Marshal(e)
	if err != nil {
		logging.Error().Err(err).Str("guild_id", e.GuildID).Msg("Encode voice server update")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.handler.HandleVoiceServerUpdate(logging.ContextWithGuild(ctx, e.GuildID), raw); err != nil {
		logging.Warn().Err(err).Str("guild_id", e.GuildID).Msg("Voice server update not forwarded")
	}
}
