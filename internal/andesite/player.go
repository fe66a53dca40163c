// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

/*
player.go - Per-guild playback state

A Player mirrors one guild's playback on the node that owns it. Commands
update local state optimistically and then send the matching op; the node's
player-update frames later overwrite that state with the authoritative
snapshot.

Before a node can join Discord voice for a guild it needs two fragments that
arrive independently from the Discord gateway: the bot's voice session id
(VOICE_STATE_UPDATE) and the voice server event (VOICE_SERVER_UPDATE). The
player accumulates both and sends one voice-server-update op each time the
pair is complete.
*/

package andesite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/granite/internal/filters"
	"github.com/tomtom215/granite/internal/logging"
	"github.com/tomtom215/granite/internal/models"
)

// DefaultVolume is the volume a new player starts at.
const DefaultVolume = 100

// VoiceState is the subset of a Discord VOICE_STATE_UPDATE the player needs.
// An empty ChannelID means the bot left voice.
type VoiceState struct {
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// voiceHandshake holds the two fragments; it is cleared only on a full
// voice disconnect.
type voiceHandshake struct {
	sessionID  string
	hasSession bool
	event      json.RawMessage
}

func (v *voiceHandshake) complete() bool {
	return v.hasSession && len(v.event) > 0
}

// Player is one guild's playback state.
type Player struct {
	guildID string
	client  *Client
	now     func() time.Time
	log     zerolog.Logger

	// opMu orders this guild's outbound ops; it is held across compose and send.
	opMu sync.Mutex

	// mu guards the fields below and is never held across I/O.
	mu        sync.Mutex
	node      *Node
	channelID string
	track     *models.Track
	volume    int
	paused    bool
	filters   map[string]any
	voice     voiceHandshake

	// Last reconciled position and when the node measured it.
	lastPosition int64
	lastUpdate   time.Time
}

func newPlayer(c *Client, node *Node, guildID string) *Player {
	return &Player{
		guildID: guildID,
		client:  c,
		now:     c.now,
		log:     logging.With().Str("component", "player").Str("guild_id", guildID).Logger(),
		node:    node,
		volume:  DefaultVolume,
	}
}

// GuildID returns the guild this player belongs to.
func (p *Player) GuildID() string {
	return p.guildID
}

// Node returns the node that currently owns the player.
func (p *Player) Node() *Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.node
}

// ChannelID returns the voice channel, or "" when not connected.
func (p *Player) ChannelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channelID
}

// IsConnected reports whether the bot is in a voice channel for this guild.
func (p *Player) IsConnected() bool {
	return p.ChannelID() != ""
}

// IsPlaying reports whether the player is connected and has a current track.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channelID != "" && p.track != nil
}

// Current returns the current track.
func (p *Player) Current() (models.Track, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.track == nil {
		return models.Track{}, false
	}
	return *p.track, true
}

// Volume returns the last known volume.
func (p *Player) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Paused returns the last known pause state.
func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Filters returns a copy of the active filter payload, keyed by filter kind.
func (p *Player) Filters() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filtersLocked()
}

func (p *Player) filtersLocked() map[string]any {
	out := make(map[string]any, len(p.filters))
	for k, v := range p.filters {
		out[k] = v
	}
	return out
}

// Position extrapolates the playback position in milliseconds from the last
// server update. The result is always within [0, track length].
func (p *Player) Position() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.track == nil {
		return 0
	}
	pos := p.lastPosition
	if !p.paused {
		pos += p.now().Sub(p.lastUpdate).Milliseconds()
	}
	return clamp(pos, 0, p.track.Info.Length)
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Snapshot is a point-in-time view of a player.
type Snapshot struct {
	GuildID   string         `json:"guildId"`
	Node      string         `json:"node"`
	ChannelID string         `json:"channelId,omitempty"`
	Track     *models.Track  `json:"track,omitempty"`
	Position  int64          `json:"position"`
	Volume    int            `json:"volume"`
	Paused    bool           `json:"paused"`
	Filters   map[string]any `json:"filters,omitempty"`
}

// Snapshot returns the player's current state.
func (p *Player) Snapshot() Snapshot {
	pos := p.Position()
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Snapshot{
		GuildID:   p.guildID,
		ChannelID: p.channelID,
		Position:  pos,
		Volume:    p.volume,
		Paused:    p.paused,
		Filters:   p.filtersLocked(),
	}
	if p.node != nil {
		s.Node = p.node.Identifier()
	}
	if p.track != nil {
		t := *p.track
		s.Track = &t
	}
	return s
}

// ===================================================================================================
// Voice handshake
// ===================================================================================================

// VoiceStateUpdate records the bot's voice session. A state without a
// channel is a full disconnect: the handshake is cleared and nothing is sent.
func (p *Player) VoiceStateUpdate(ctx context.Context, vs VoiceState) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	if vs.ChannelID == "" {
		p.channelID = ""
		p.voice = voiceHandshake{}
		p.mu.Unlock()
		p.log.Debug().Msg("Voice disconnected, handshake cleared")
		return nil
	}
	p.channelID = vs.ChannelID
	p.voice.sessionID = vs.SessionID
	p.voice.hasSession = true
	frame, ready := p.voiceFrameLocked()
	p.mu.Unlock()

	if !ready {
		return nil
	}
	return p.send(ctx, frame)
}

// VoiceServerUpdate records the voice server event (the raw "d" object of a
// VOICE_SERVER_UPDATE dispatch).
func (p *Player) VoiceServerUpdate(ctx context.Context, event json.RawMessage) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	p.voice.event = append(json.RawMessage(nil), event...)
	frame, ready := p.voiceFrameLocked()
	p.mu.Unlock()

	if !ready {
		return nil
	}
	return p.send(ctx, frame)
}

// ResendVoice replays the last complete handshake, used after a node resume
// or when the player moves to another node. It is a no-op when incomplete.
func (p *Player) ResendVoice(ctx context.Context) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	frame, ready := p.voiceFrameLocked()
	p.mu.Unlock()

	if !ready {
		return nil
	}
	return p.send(ctx, frame)
}

func (p *Player) voiceFrameLocked() (Frame, bool) {
	if !p.voice.complete() {
		return nil, false
	}
	f := guildFrame(OpVoiceServerUpdate, p.guildID)
	f["sessionId"] = p.voice.sessionID
	f["event"] = p.voice.event
	return f, true
}

// ===================================================================================================
// Voice channel
// ===================================================================================================

// Connect asks Discord to move the bot into channelID. The node is not
// contacted; the resulting gateway events drive the handshake.
func (p *Player) Connect(ctx context.Context, channelID string) error {
	if channelID == "" {
		return fmt.Errorf("guild %s: empty channel id", p.guildID)
	}
	if err := p.client.voice.ChangeVoiceChannel(ctx, p.guildID, channelID); err != nil {
		return fmt.Errorf("join voice channel %s: %w", channelID, err)
	}
	p.mu.Lock()
	p.channelID = channelID
	p.mu.Unlock()
	return nil
}

// Disconnect asks Discord to remove the bot from voice in this guild.
func (p *Player) Disconnect(ctx context.Context) error {
	if err := p.client.voice.ChangeVoiceChannel(ctx, p.guildID, ""); err != nil {
		return fmt.Errorf("leave voice: %w", err)
	}
	return nil
}

// ===================================================================================================
// Playback commands
// ===================================================================================================

// Play starts track at startMs and resets position tracking.
func (p *Player) Play(ctx context.Context, track models.Track, startMs int64) error {
	if startMs < 0 {
		return fmt.Errorf("start %d: %w", startMs, ErrInvalidPosition)
	}

	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	t := track
	p.track = &t
	p.lastPosition = startMs
	p.lastUpdate = p.now()
	p.mu.Unlock()

	f := guildFrame(OpPlay, p.guildID)
	f["track"] = track.ID
	f["start"] = startMs
	return p.send(ctx, f)
}

// Stop ends playback and clears the current track.
func (p *Player) Stop(ctx context.Context) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	p.track = nil
	p.mu.Unlock()

	return p.send(ctx, guildFrame(OpStop, p.guildID))
}

// Seek moves to position ms and restarts position tracking there. It fails
// with ErrInvalidPosition, without sending, if there is no current track or
// position is outside [0, length].
func (p *Player) Seek(ctx context.Context, position int64) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	if p.track == nil {
		p.mu.Unlock()
		return fmt.Errorf("guild %s has no current track: %w", p.guildID, ErrInvalidPosition)
	}
	length := p.track.Info.Length
	if position < 0 || position > length {
		p.mu.Unlock()
		return fmt.Errorf("seek to %d outside [0, %d]: %w", position, length, ErrInvalidPosition)
	}
	p.lastPosition = position
	p.lastUpdate = p.now()
	p.mu.Unlock()

	f := guildFrame(OpSeek, p.guildID)
	f["position"] = position
	return p.send(ctx, f)
}

// SetPause pauses or resumes. Setting the current value again sends nothing.
func (p *Player) SetPause(ctx context.Context, paused bool) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	if p.paused == paused {
		p.mu.Unlock()
		return nil
	}
	p.paused = paused
	p.mu.Unlock()

	f := guildFrame(OpPause, p.guildID)
	f["pause"] = paused
	return p.send(ctx, f)
}

// SetVolume sets the playback volume; 100 is unchanged loudness.
func (p *Player) SetVolume(ctx context.Context, volume int) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	p.volume = volume
	p.mu.Unlock()

	f := guildFrame(OpVolume, p.guildID)
	f["volume"] = volume
	return p.send(ctx, f)
}

// SetFilters applies every filter in set. Kinds not in set keep their
// current node-side value.
func (p *Player) SetFilters(ctx context.Context, set filters.Set) error {
	if set.Len() == 0 {
		return nil
	}
	body := set.Payload()

	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	if p.filters == nil {
		p.filters = make(map[string]any, len(body))
	}
	for k, v := range body {
		p.filters[k] = v
	}
	p.mu.Unlock()

	f := guildFrame(OpFilters, p.guildID)
	for k, v := range body {
		f[k] = v
	}
	return p.send(ctx, f)
}

// SetFilter applies a single filter.
func (p *Player) SetFilter(ctx context.Context, f filters.Filter) error {
	return p.SetFilters(ctx, filters.NewSet(f))
}

// SetTimescale validates and applies a timescale filter.
func (p *Player) SetTimescale(ctx context.Context, speed, pitch, rate float64) error {
	ts, err := filters.NewTimescale(speed, pitch, rate)
	if err != nil {
		return err
	}
	return p.SetFilter(ctx, ts)
}

// SetKaraoke validates and applies a karaoke filter.
func (p *Player) SetKaraoke(ctx context.Context, level, monoLevel, filterBand, filterWidth float64) error {
	k, err := filters.NewKaraoke(level, monoLevel, filterBand, filterWidth)
	if err != nil {
		return err
	}
	return p.SetFilter(ctx, k)
}

// SetTremolo validates and applies a tremolo filter.
func (p *Player) SetTremolo(ctx context.Context, frequency, depth float64) error {
	t, err := filters.NewTremolo(frequency, depth)
	if err != nil {
		return err
	}
	return p.SetFilter(ctx, t)
}

// SetVibrato validates and applies a vibrato filter.
func (p *Player) SetVibrato(ctx context.Context, frequency, depth float64) error {
	v, err := filters.NewVibrato(frequency, depth)
	if err != nil {
		return err
	}
	return p.SetFilter(ctx, v)
}

// SetEqualizer validates and applies band gains.
func (p *Player) SetEqualizer(ctx context.Context, gains map[int]float64) error {
	eq, err := filters.NewEqualizer(gains)
	if err != nil {
		return err
	}
	return p.SetFilter(ctx, eq)
}

// ResetFilters disables every filter.
func (p *Player) ResetFilters(ctx context.Context) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	p.filters = nil
	p.mu.Unlock()

	f := guildFrame(OpFilters, p.guildID)
	for k, v := range filters.Reset() {
		f[k] = v
	}
	return p.send(ctx, f)
}

// ===================================================================================================
// Reconciliation
// ===================================================================================================

// UpdateState applies a player-update snapshot from the node. It is called
// on the node's receive loop and only touches in-memory state.
func (p *Player) UpdateState(st models.PlayerState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if st.Position != nil {
		p.lastPosition = *st.Position
	}
	if st.Time > 0 {
		p.lastUpdate = time.UnixMilli(st.Time)
	} else {
		p.lastUpdate = p.now()
	}
	if st.Paused != nil {
		p.paused = *st.Paused
	}
	if st.Volume != nil {
		p.volume = *st.Volume
	}
	if len(st.Filters) > 0 {
		var fs map[string]any
		if err := json.Unmarshal(st.Filters, &fs); err == nil {
			p.filters = fs
		}
	}
}

// ===================================================================================================
// Lifecycle
// ===================================================================================================

// Destroy tears the player down in order: stop, leave voice, send destroy,
// then drop it from its node. Later steps run even if earlier ones fail.
func (p *Player) Destroy(ctx context.Context) error {
	var errs []error

	if err := p.Stop(ctx); err != nil {
		p.log.Warn().Err(err).Msg("Stop during destroy failed")
		errs = append(errs, err)
	}
	if err := p.Disconnect(ctx); err != nil {
		p.log.Warn().Err(err).Msg("Voice disconnect during destroy failed")
		errs = append(errs, err)
	}

	p.opMu.Lock()
	err := p.send(ctx, guildFrame(OpDestroy, p.guildID))
	p.opMu.Unlock()
	if err != nil {
		p.log.Warn().Err(err).Msg("Destroy op failed")
		errs = append(errs, err)
	}

	if node := p.Node(); node != nil {
		node.removePlayer(p)
	}
	p.log.Debug().Msg("Player destroyed")
	return errors.Join(errs...)
}

// MoveTo re-homes the player on another node, replaying the voice handshake
// and resuming the current track at its extrapolated position. The old node
// is told to destroy its copy if it is still reachable.
func (p *Player) MoveTo(ctx context.Context, target *Node) error {
	if target == nil {
		return ErrNoNodesAvailable
	}
	if !target.Available() {
		return fmt.Errorf("node %s: %w", target.Identifier(), ErrNodeNotAvailable)
	}

	old := p.Node()
	if old == target {
		return nil
	}
	if err := p.client.movePlayer(p, old, target); err != nil {
		return err
	}
	if old != nil && old.Available() {
		if err := old.Send(ctx, guildFrame(OpDestroy, p.guildID)); err != nil {
			p.log.Debug().Err(err).Msg("Destroy on previous node failed")
		}
	}

	if err := p.ResendVoice(ctx); err != nil {
		return err
	}
	track, ok := p.Current()
	if !ok {
		return nil
	}
	return p.Play(ctx, track, p.Position())
}

func (p *Player) send(ctx context.Context, f Frame) error {
	node := p.Node()
	if node == nil {
		return ErrNodeNotAvailable
	}
	return node.Send(ctx, f)
}

// setNode is called by the registry with the client lock held.
func (p *Player) setNode(n *Node) {
	p.mu.Lock()
	p.node = n
	p.mu.Unlock()
}
