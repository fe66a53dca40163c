// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

package discord

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/tomtom215/granite/internal/logging"
)

// Intents requested by the bot. Voice routing only needs guild and voice
// state events.
const Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

// Session is an open gateway connection.
type Session struct {
	dg     *discordgo.Session
	userID string
}

// Open connects to the gateway. discordgo reconnects the gateway on its
// own after Open returns.
func Open(token string) (*Session, error) {
	if !strings.HasPrefix(token, "Bot ") {
		token = "Bot " + token
	}
	dg, err := discordgo.New(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	dg.Identify.Intents = Intents
	dg.LogLevel = discordgo.LogWarning

	if err := dg.Open(); err != nil {
		return nil, fmt.Errorf("failed to open Discord session: %w", err)
	}

	s := &Session{dg: dg}
	if dg.State != nil && dg.State.User != nil {
		s.userID = dg.State.User.ID
	}
	logging.Info().Str("user_id", s.userID).Msg("Discord session opened")
	return s, nil
}

// UserID is the bot's user id from the READY payload.
func (s *Session) UserID() string {
	return s.userID
}

// Connector returns a voice connector using this session.
func (s *Session) Connector() *Connector {
	return NewConnector(s.dg, true)
}

// Route registers a router for h and returns a function removing it.
func (s *Session) Route(h VoiceHandler) func() {
	return NewRouter(h).Register(s.dg)
}

// Close closes the gateway connection.
func (s *Session) Close() error {
	return s.dg.Close()
}
