// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

// Package discord adapts a discordgo session to the andesite client: it
// sends voice channel changes through the gateway and routes the bot's
// voice dispatches back to the client's players.
package discord

import (
	"context"
	"fmt"

	"github.com/tomtom215/granite/internal/andesite"
)

// Gateway is the part of *discordgo.Session the connector needs.
type Gateway interface {
	ChannelVoiceJoinManual(gID, cID string, mute, deaf bool) error
}

// Connector implements andesite.VoiceConnector over the main gateway. It
// only requests the channel change; the node sends the audio.
type Connector struct {
	gw       Gateway
	selfMute bool
	selfDeaf bool
}

var _ andesite.VoiceConnector = (*Connector)(nil)

// NewConnector returns a connector joining channels self-deafened when deaf is set.
func NewConnector(gw Gateway, deaf bool) *Connector {
	return &Connector{gw: gw, selfDeaf: deaf}
}

// ChangeVoiceChannel joins channelID, or leaves voice in guildID when
// channelID is empty.
func (c *Connector) ChangeVoiceChannel(ctx context.Context, guildID, channelID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.gw.ChannelVoiceJoinManual(guildID, channelID, c.selfMute, c.selfDeaf); err != nil {
		return fmt.Errorf("voice state update for guild %s: %w", guildID, err)
	}
	return nil
}
