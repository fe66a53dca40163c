// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

package services

import (
	"context"

	"github.com/tomtom215/granite/internal/discord"
	"github.com/tomtom215/granite/internal/logging"
)

// DiscordSession is satisfied by *discord.Session.
type DiscordSession interface {
	Route(h discord.VoiceHandler) func()
	Close() error
}

// DiscordService keeps the gateway's voice routing installed while it
// runs and closes the gateway on shutdown. discordgo reconnects the
// gateway itself, so Serve only returns on cancellation.
type DiscordService struct {
	session DiscordSession
	handler discord.VoiceHandler
}

// NewDiscordService creates a service routing the session's voice
// dispatches to handler, normally the *andesite.Client.
func NewDiscordService(session DiscordSession, handler discord.VoiceHandler) *DiscordService {
	return &DiscordService{session: session, handler: handler}
}

// Serve implements suture.Service.
func (d *DiscordService) Serve(ctx context.Context) error {
	remove := d.session.Route(d.handler)
	<-ctx.Done()
	remove()

	if err := d.session.Close(); err != nil {
		logging.Warn().Err(err).Msg("Discord session close failed")
	}
	return ctx.Err()
}

// String implements fmt.Stringer for logging.
func (d *DiscordService) String() string {
	return "discord-gateway"
}
