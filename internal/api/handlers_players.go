// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/granite/internal/andesite"
	"github.com/tomtom215/granite/internal/logging"
	"github.com/tomtom215/granite/internal/models"
)

type guildPath struct {
	GuildID string `json:"guild_id" validate:"snowflake"`
}

// guildFromPath validates the {guildID} segment. On failure the error
// response has been written.
func guildFromPath(rw *ResponseWriter, r *http.Request) (string, bool) {
	p := guildPath{GuildID: chi.URLParam(r, "guildID")}
	if !validateRequest(rw, &p) {
		return "", false
	}
	return p.GuildID, true
}

// playerFromPath looks up the existing player for {guildID}.
func (h *Handler) playerFromPath(rw *ResponseWriter, r *http.Request) (*andesite.Player, context.Context, bool) {
	guildID, ok := guildFromPath(rw, r)
	if !ok {
		return nil, nil, false
	}
	p, found := h.client.Player(guildID)
	if !found {
		rw.Fail(fmt.Errorf("%w: guild %s", ErrPlayerNotFound, guildID))
		return nil, nil, false
	}
	return p, logging.ContextWithGuild(r.Context(), guildID), true
}

// ListPlayers returns a snapshot of every player.
func (h *Handler) ListPlayers(w http.ResponseWriter, r *http.Request) {
	players := h.client.Players()
	out := make([]andesite.Snapshot, 0, len(players))
	for _, p := range players {
		out = append(out, p.Snapshot())
	}
	NewResponseWriter(w, r).List(out, len(out))
}

// GetPlayer returns one player's snapshot.
func (h *Handler) GetPlayer(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	p, _, ok := h.playerFromPath(rw, r)
	if !ok {
		return
	}
	rw.Success(p.Snapshot())
}

// CreatePlayer returns the guild's player, placing a new one on a node
// chosen by the client's selector when none exists.
func (h *Handler) CreatePlayer(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	guildID, ok := guildFromPath(rw, r)
	if !ok {
		return
	}
	if p, exists := h.client.Player(guildID); exists {
		rw.Success(p.Snapshot())
		return
	}
	p, err := h.client.GetOrCreatePlayer(logging.ContextWithGuild(r.Context(), guildID), guildID)
	if err != nil {
		rw.Fail(err)
		return
	}
	rw.Created(p.Snapshot())
}

// DestroyPlayer tears the player down. Step failures are logged by the
// player; the player is removed regardless.
func (h *Handler) DestroyPlayer(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	p, ctx, ok := h.playerFromPath(rw, r)
	if !ok {
		return
	}
	if err := p.Destroy(ctx); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Player destroyed with errors")
	}
	rw.NoContent()
}

// Connect joins the voice channel in the body.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	p, ctx, ok := h.playerFromPath(rw, r)
	if !ok {
		return
	}
	var req ConnectRequest
	if !decodeBody(rw, r, &req) {
		return
	}
	if err := p.Connect(ctx, req.ChannelID); err != nil {
		rw.Fail(err)
		return
	}
	rw.Success(p.Snapshot())
}

// Disconnect leaves voice.
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	p, ctx, ok := h.playerFromPath(rw, r)
	if !ok {
		return
	}
	if err := p.Disconnect(ctx); err != nil {
		rw.Fail(err)
		return
	}
	rw.Success(p.Snapshot())
}

// Play starts a track, resolving an identifier on the player's node first
// when no encoded track is given.
func (h *Handler) Play(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	p, ctx, ok := h.playerFromPath(rw, r)
	if !ok {
		return
	}
	var req PlayRequest
	if !decodeBody(rw, r, &req) {
		return
	}

	track := models.Track{ID: req.Track}
	if req.Info != nil {
		track.Info = *req.Info
	}
	if req.Track == "" {
		resolved, err := resolveTrack(ctx, p, req.Identifier)
		if err != nil {
			rw.Fail(err)
			return
		}
		track = resolved
	}

	if err := p.Play(ctx, track, req.StartMs); err != nil {
		rw.Fail(err)
		return
	}
	rw.Success(p.Snapshot())
}

// resolveTrack picks what to play from a lookup: the playlist's selected
// track, else the first track.
func resolveTrack(ctx context.Context, p *andesite.Player, identifier string) (models.Track, error) {
	node := p.Node()
	if node == nil {
		return models.Track{}, andesite.ErrNoNodesAvailable
	}
	res, err := node.LoadTracks(ctx, identifier)
	if err != nil {
		return models.Track{}, err
	}
	if res.Playlist != nil {
		if t, ok := res.Playlist.Selected(); ok {
			return t, nil
		}
		if len(res.Playlist.Tracks) > 0 {
			return res.Playlist.Tracks[0], nil
		}
	}
	if len(res.Tracks) > 0 {
		return res.Tracks[0], nil
	}
	return models.Track{}, fmt.Errorf("%w: %s", ErrNoMatches, identifier)
}

// Stop ends playback.
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	p, ctx, ok := h.playerFromPath(rw, r)
	if !ok {
		return
	}
	if err := p.Stop(ctx); err != nil {
		rw.Fail(err)
		return
	}
	rw.Success(p.Snapshot())
}

// Pause pauses or resumes.
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	p, ctx, ok := h.playerFromPath(rw, r)
	if !ok {
		return
	}
	var req PauseRequest
	if !decodeBody(rw, r, &req) {
		return
	}
	if err := p.SetPause(ctx, *req.Paused); err != nil {
		rw.Fail(err)
		return
	}
	rw.Success(p.Snapshot())
}

// Seek moves within the current track.
func (h *Handler) Seek(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	p, ctx, ok := h.playerFromPath(rw, r)
	if !ok {
		return
	}
	var req SeekRequest
	if !decodeBody(rw, r, &req) {
		return
	}
	if err := p.Seek(ctx, *req.Position); err != nil {
		rw.Fail(err)
		return
	}
	rw.Success(p.Snapshot())
}

// Volume sets the playback volume.
func (h *Handler) Volume(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	p, ctx, ok := h.playerFromPath(rw, r)
	if !ok {
		return
	}
	var req VolumeRequest
	if !decodeBody(rw, r, &req) {
		return
	}
	if err := p.SetVolume(ctx, *req.Volume); err != nil {
		rw.Fail(err)
		return
	}
	rw.Success(p.Snapshot())
}

// SetFilters applies the filters in the body.
func (h *Handler) SetFilters(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	p, ctx, ok := h.playerFromPath(rw, r)
	if !ok {
		return
	}
	var req FiltersRequest
	if !decodeBody(rw, r, &req) {
		return
	}
	set, err := req.Set()
	if err != nil {
		rw.Fail(err)
		return
	}
	if err := p.SetFilters(ctx, set); err != nil {
		rw.Fail(err)
		return
	}
	rw.Success(p.Snapshot())
}

// ResetFilters disables every filter.
func (h *Handler) ResetFilters(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	p, ctx, ok := h.playerFromPath(rw, r)
	if !ok {
		return
	}
	if err := p.ResetFilters(ctx); err != nil {
		rw.Fail(err)
		return
	}
	rw.Success(p.Snapshot())
}

// Move re-homes the player on the node named in the body.
func (h *Handler) Move(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	p, ctx, ok := h.playerFromPath(rw, r)
	if !ok {
		return
	}
	var req MoveRequest
	if !decodeBody(rw, r, &req) {
		return
	}
	target, found := h.client.Node(req.Node)
	if !found {
		rw.Fail(fmt.Errorf("%w: %s", ErrNodeNotFound, req.Node))
		return
	}
	if err := p.MoveTo(ctx, target); err != nil {
		rw.Fail(err)
		return
	}
	rw.Success(p.Snapshot())
}
