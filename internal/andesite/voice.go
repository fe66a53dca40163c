// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

package andesite

import (
	"context"
	"errors"
)

// VoiceConnector moves the bot between voice channels on the host platform.
// An empty channelID means leave voice in that guild.
type VoiceConnector interface {
	ChangeVoiceChannel(ctx context.Context, guildID, channelID string) error
}

// VoiceConnectorFunc adapts a function to VoiceConnector.
type VoiceConnectorFunc func(ctx context.Context, guildID, channelID string) error

// ChangeVoiceChannel calls f.
func (f VoiceConnectorFunc) ChangeVoiceChannel(ctx context.Context, guildID, channelID string) error {
	return f(ctx, guildID, channelID)
}

// ErrNoVoiceConnector is returned by Player.Connect when the client was
// built without a voice connector.
var ErrNoVoiceConnector = errors.New("no voice connector configured")

type missingVoice struct{}

func (missingVoice) ChangeVoiceChannel(_ context.Context, _, channelID string) error {
	if channelID == "" {
		// Leaving is best-effort during teardown.
		return nil
	}
	return ErrNoVoiceConnector
}

// TokenStore persists node resume ids across process restarts.
type TokenStore interface {
	LoadResumeID(node string) (string, error)
	SaveResumeID(node, id string) error
}
