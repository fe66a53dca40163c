// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

// Package models holds the value types decoded from Andesite REST and
// websocket payloads. Values are treated as immutable once decoded.
package models

import "fmt"

// Track is a playable item returned by a node. ID is the node's opaque
// encoded handle; it is passed back verbatim in play ops and never decoded.
type Track struct {
	ID   string    `json:"track"`
	Info TrackInfo `json:"info"`
}

// TrackInfo describes a track.
type TrackInfo struct {
	Title      string `json:"title"`
	Author     string `json:"author"`
	Length     int64  `json:"length"`
	Identifier string `json:"identifier"`
	URI        string `json:"uri"`
	IsStream   bool   `json:"isStream"`
	IsSeekable bool   `json:"isSeekable"`
	Position   int64  `json:"position"`
}

// String returns the track title.
func (t Track) String() string {
	return t.Info.Title
}

// GoString mirrors the repr used in log output.
func (t Track) GoString() string {
	return fmt.Sprintf("<Track title=%q uri=%q length=%d>", t.Info.Title, t.Info.URI, t.Info.Length)
}

// Playlist is a named, ordered set of tracks.
type Playlist struct {
	Name string `json:"name"`
	// SelectedTrack is nil when the playlist was linked directly.
	SelectedTrack *int    `json:"selectedTrack,omitempty"`
	Tracks        []Track `json:"tracks"`
}

// Selected returns the selected track if the playlist has one.
func (p *Playlist) Selected() (Track, bool) {
	if p.SelectedTrack == nil {
		return Track{}, false
	}
	i := *p.SelectedTrack
	if i < 0 || i >= len(p.Tracks) {
		return Track{}, false
	}
	return p.Tracks[i], true
}

// LoadType discriminates a loadtracks response.
type LoadType string

// Load types returned by /loadtracks.
const (
	LoadNoMatches      LoadType = "NO_MATCHES"
	LoadFailed         LoadType = "LOAD_FAILED"
	LoadPlaylistLoaded LoadType = "PLAYLIST_LOADED"
	LoadTrackLoaded    LoadType = "TRACK_LOADED"
	LoadSearchResult   LoadType = "SEARCH_RESULT"
)

// LoadResult is the decoded outcome of a successful lookup. Exactly one of
// Tracks or Playlist is populated, and neither is for NO_MATCHES.
type LoadResult struct {
	Type     LoadType  `json:"loadType"`
	Tracks   []Track   `json:"tracks,omitempty"`
	Playlist *Playlist `json:"playlist,omitempty"`
}

// Empty reports whether the lookup matched nothing.
func (r *LoadResult) Empty() bool {
	return r.Type == LoadNoMatches
}

// LoadTracksResponse is the raw /loadtracks body.
type LoadTracksResponse struct {
	LoadType     LoadType      `json:"loadType"`
	Tracks       []Track       `json:"tracks"`
	PlaylistInfo *PlaylistInfo `json:"playlistInfo"`
	Severity     string        `json:"severity"`
	Cause        *LoadCause    `json:"cause"`
}

// PlaylistInfo is the playlist header of a PLAYLIST_LOADED response.
type PlaylistInfo struct {
	Name          string `json:"name"`
	SelectedTrack *int   `json:"selectedTrack"`
}

// LoadCause is the exception a node reports for LOAD_FAILED.
type LoadCause struct {
	Class      string `json:"class"`
	Message    string `json:"message"`
	Stack      []any  `json:"stack,omitempty"`
	Suppressed []any  `json:"suppressed,omitempty"`
}

// String renders the cause as "class: message".
func (c *LoadCause) String() string {
	if c == nil {
		return ""
	}
	if c.Class == "" {
		return c.Message
	}
	return c.Class + ": " + c.Message
}

// ToResult converts a non-failure response into a LoadResult. A negative
// selected track index is normalised to nil.
func (r *LoadTracksResponse) ToResult() LoadResult {
	switch r.LoadType {
	case LoadPlaylistLoaded:
		pl := &Playlist{Tracks: r.Tracks}
		if r.PlaylistInfo != nil {
			pl.Name = r.PlaylistInfo.Name
			if r.PlaylistInfo.SelectedTrack != nil && *r.PlaylistInfo.SelectedTrack >= 0 {
				idx := *r.PlaylistInfo.SelectedTrack
				pl.SelectedTrack = &idx
			}
		}
		if pl.Tracks == nil {
			pl.Tracks = []Track{}
		}
		return LoadResult{Type: r.LoadType, Playlist: pl}
	case LoadTrackLoaded, LoadSearchResult:
		return LoadResult{Type: r.LoadType, Tracks: r.Tracks}
	default:
		return LoadResult{Type: LoadNoMatches}
	}
}
