// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

package api

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/granite/internal/andesite"
	"github.com/tomtom215/granite/internal/eventbus"
	"github.com/tomtom215/granite/internal/sessionstore"
)

const playerPath = "/api/v1/players/" + testGuildID

// withPlayer connects one fake node and creates the test guild's player.
func withPlayer(t *testing.T, h *apiHarness) *fakeNode {
	t.Helper()
	f := newFakeNode(t)
	f.connect(t, h.client, "main")
	rec, _ := h.do(t, http.MethodPost, playerPath, "")
	checkStatus(t, rec, http.StatusCreated)
	return f
}

// ===================================================================================================
// Nodes
// ===================================================================================================

func TestNodes(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t, nil)
	newFakeNode(t).connect(t, h.client, "main")

	rec, env := h.do(t, http.MethodGet, "/api/v1/nodes", "")
	checkStatus(t, rec, http.StatusOK)
	var nodes []NodeSummary
	decodeData(t, env, &nodes)
	if len(nodes) != 1 || nodes[0].Identifier != "main" || !nodes[0].Available {
		t.Errorf("nodes = %+v", nodes)
	}
	if env.Meta.Count == nil || *env.Meta.Count != 1 {
		t.Errorf("meta count = %v", env.Meta.Count)
	}

	rec, env = h.do(t, http.MethodGet, "/api/v1/nodes/main", "")
	checkStatus(t, rec, http.StatusOK)
	var node NodeSummary
	decodeData(t, env, &node)
	if node.State != andesite.StateAvailable.String() {
		t.Errorf("state = %s", node.State)
	}

	rec, env = h.do(t, http.MethodGet, "/api/v1/nodes/ghost", "")
	checkStatus(t, rec, http.StatusNotFound)
	checkErrorCode(t, env, ErrCodeNotFound)
}

func TestPingNode(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t, nil)
	newFakeNode(t).connect(t, h.client, "main")

	rec, env := h.do(t, http.MethodPost, "/api/v1/nodes/main/ping", "")
	checkStatus(t, rec, http.StatusOK)
	var resp PingResponse
	decodeData(t, env, &resp)
	if resp.Node != "main" || resp.RTTMs < 0 {
		t.Errorf("ping = %+v", resp)
	}
}

// ===================================================================================================
// Tracks
// ===================================================================================================

func TestSearchTracks(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t, nil)

	rec, env := h.do(t, http.MethodGet, "/api/v1/tracks?identifier=ytsearch:lofi", "")
	checkStatus(t, rec, http.StatusServiceUnavailable)
	checkErrorCode(t, env, ErrCodeServiceUnavailable)

	f := newFakeNode(t)
	f.connect(t, h.client, "main")
	f.setLoadTracks(`{"loadType":"SEARCH_RESULT","tracks":[` + lofiTrackJSON + `]}`)

	rec, env = h.do(t, http.MethodGet, "/api/v1/tracks?identifier=ytsearch:lofi", "")
	checkStatus(t, rec, http.StatusOK)
	if !strings.Contains(string(env.Data), "Lofi Beats") {
		t.Errorf("data = %s", env.Data)
	}

	rec, _ = h.do(t, http.MethodGet, "/api/v1/tracks?identifier=ytsearch:other&node=main", "")
	checkStatus(t, rec, http.StatusOK)

	rec, env = h.do(t, http.MethodGet, "/api/v1/tracks?identifier=x&node=ghost", "")
	checkStatus(t, rec, http.StatusNotFound)

	rec, env = h.do(t, http.MethodGet, "/api/v1/tracks", "")
	checkStatus(t, rec, http.StatusBadRequest)
	checkErrorCode(t, env, ErrCodeBadRequest)
}

func TestSearchTracks_LoadFailed(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t, nil)
	f := newFakeNode(t)
	f.connect(t, h.client, "main")
	f.setLoadTracks(`{"loadType":"LOAD_FAILED","severity":"COMMON","cause":{"class":"FriendlyException","message":"This video is unavailable"}}`)

	rec, env := h.do(t, http.MethodGet, "/api/v1/tracks?identifier=https://youtu.be/gone", "")
	checkStatus(t, rec, http.StatusBadGateway)
	checkErrorCode(t, env, ErrCodeTrackLoadFailed)
	if !strings.Contains(string(mustJSON(t, env.Error.Details)), "COMMON") {
		t.Errorf("details = %v", env.Error.Details)
	}
}

// ===================================================================================================
// Players
// ===================================================================================================

func TestCreatePlayer(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t, nil)

	rec, env := h.do(t, http.MethodPost, playerPath, "")
	checkStatus(t, rec, http.StatusServiceUnavailable)
	checkErrorCode(t, env, ErrCodeServiceUnavailable)

	withPlayer(t, h)

	rec, env = h.do(t, http.MethodPost, playerPath, "")
	checkStatus(t, rec, http.StatusOK)
	var snap andesite.Snapshot
	decodeData(t, env, &snap)
	if snap.GuildID != testGuildID || snap.Node != "main" {
		t.Errorf("snapshot = %+v", snap)
	}

	rec, env = h.do(t, http.MethodGet, "/api/v1/players", "")
	checkStatus(t, rec, http.StatusOK)
	var all []andesite.Snapshot
	decodeData(t, env, &all)
	if len(all) != 1 {
		t.Errorf("players = %d, want 1", len(all))
	}

	rec, env = h.do(t, http.MethodPost, "/api/v1/players/not-a-guild", "")
	checkStatus(t, rec, http.StatusBadRequest)
	checkErrorCode(t, env, ErrCodeValidationFailed)
}

func TestPlayer_NotFound(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t, nil)
	for _, tc := range []struct{ method, suffix string }{
		{http.MethodGet, ""},
		{http.MethodPost, "/stop"},
		{http.MethodPost, "/pause"},
		{http.MethodDelete, ""},
		{http.MethodDelete, "/filters"},
	} {
		rec, env := h.do(t, tc.method, playerPath+tc.suffix, "")
		checkStatus(t, rec, http.StatusNotFound)
		checkErrorCode(t, env, ErrCodeNotFound)
	}
}

func TestPlay_ByIdentifier(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t, nil)
	f := withPlayer(t, h)
	f.setLoadTracks(`{"loadType":"TRACK_LOADED","tracks":[` + lofiTrackJSON + `]}`)

	rec, env := h.do(t, http.MethodPost, playerPath+"/play", `{"identifier":"https://example.com/abc","start_ms":5000}`)
	checkStatus(t, rec, http.StatusOK)

	frame := f.expectFrame(t, andesite.OpPlay)
	if frame["track"] != "QAAAjQIA" || frame["start"] != float64(5000) || frame["guildId"] != testGuildID {
		t.Errorf("play frame = %v", frame)
	}
	var snap andesite.Snapshot
	decodeData(t, env, &snap)
	if snap.Track == nil || snap.Track.Info.Title != "Lofi Beats" {
		t.Errorf("snapshot track = %+v", snap.Track)
	}
}

func TestPlay_PlaylistSelected(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t, nil)
	f := withPlayer(t, h)
	second := strings.Replace(lofiTrackJSON, "QAAAjQIA", "QAAAsecond", 1)
	f.setLoadTracks(`{"loadType":"PLAYLIST_LOADED","playlistInfo":{"name":"Study","selectedTrack":1},"tracks":[` + lofiTrackJSON + `,` + second + `]}`)

	rec, _ := h.do(t, http.MethodPost, playerPath+"/play", `{"identifier":"https://example.com/list"}`)
	checkStatus(t, rec, http.StatusOK)
	if frame := f.expectFrame(t, andesite.OpPlay); frame["track"] != "QAAAsecond" {
		t.Errorf("played %v, want the selected playlist track", frame["track"])
	}
}

func TestPlay_Errors(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t, nil)
	f := withPlayer(t, h)

	f.setLoadTracks(`{"loadType":"NO_MATCHES","tracks":[]}`)
	rec, env := h.do(t, http.MethodPost, playerPath+"/play", `{"identifier":"ytsearch:nothing"}`)
	checkStatus(t, rec, http.StatusNotFound)
	checkErrorCode(t, env, ErrCodeNotFound)

	rec, env = h.do(t, http.MethodPost, playerPath+"/play", `{}`)
	checkStatus(t, rec, http.StatusBadRequest)
	checkErrorCode(t, env, ErrCodeValidationFailed)

	rec, env = h.do(t, http.MethodPost, playerPath+"/play", `{"track":"QAAA","start_ms":-1}`)
	checkStatus(t, rec, http.StatusBadRequest)
	checkErrorCode(t, env, ErrCodeValidationFailed)

	rec, env = h.do(t, http.MethodPost, playerPath+"/play", `{"track":"QAAA","bogus":true}`)
	checkStatus(t, rec, http.StatusBadRequest)
	checkErrorCode(t, env, ErrCodeBadRequest)

	rec, env = h.do(t, http.MethodPost, playerPath+"/play", "")
	checkStatus(t, rec, http.StatusBadRequest)
	checkErrorCode(t, env, ErrCodeBadRequest)
}

func TestSeek(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t, nil)
	f := withPlayer(t, h)

	rec, env := h.do(t, http.MethodPost, playerPath+"/seek", `{"position":1000}`)
	checkStatus(t, rec, http.StatusBadRequest)
	checkErrorCode(t, env, ErrCodeBadRequest)

	rec, _ = h.do(t, http.MethodPost, playerPath+"/play", `{"track":"QAAAjQIA","info":{"title":"Lofi Beats","length":180000}}`)
	checkStatus(t, rec, http.StatusOK)

	rec, _ = h.do(t, http.MethodPost, playerPath+"/seek", `{"position":90000}`)
	checkStatus(t, rec, http.StatusOK)
	if frame := f.expectFrame(t, andesite.OpSeek); frame["position"] != float64(90000) {
		t.Errorf("seek frame = %v", frame)
	}

	rec, _ = h.do(t, http.MethodPost, playerPath+"/seek", `{"position":180001}`)
	checkStatus(t, rec, http.StatusBadRequest)

	rec, env = h.do(t, http.MethodPost, playerPath+"/seek", `{}`)
	checkStatus(t, rec, http.StatusBadRequest)
	checkErrorCode(t, env, ErrCodeValidationFailed)
}

func TestPauseVolumeStop(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t, nil)
	f := withPlayer(t, h)

	rec, env := h.do(t, http.MethodPost, playerPath+"/pause", `{"paused":true}`)
	checkStatus(t, rec, http.StatusOK)
	if frame := f.expectFrame(t, andesite.OpPause); frame["pause"] != true {
		t.Errorf("pause frame = %v", frame)
	}
	var snap andesite.Snapshot
	decodeData(t, env, &snap)
	if !snap.Paused {
		t.Error("snapshot not paused")
	}

	rec, env = h.do(t, http.MethodPost, playerPath+"/pause", `{}`)
	checkStatus(t, rec, http.StatusBadRequest)
	checkErrorCode(t, env, ErrCodeValidationFailed)

	rec, _ = h.do(t, http.MethodPost, playerPath+"/volume", `{"volume":50}`)
	checkStatus(t, rec, http.StatusOK)
	if frame := f.expectFrame(t, andesite.OpVolume); frame["volume"] != float64(50) {
		t.Errorf("volume frame = %v", frame)
	}

	rec, env = h.do(t, http.MethodPost, playerPath+"/volume", `{"volume":5000}`)
	checkStatus(t, rec, http.StatusBadRequest)
	checkErrorCode(t, env, ErrCodeValidationFailed)

	rec, _ = h.do(t, http.MethodPost, playerPath+"/stop", "")
	checkStatus(t, rec, http.StatusOK)
	f.expectFrame(t, andesite.OpStop)
}

func TestFilters(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t, nil)
	f := withPlayer(t, h)

	rec, _ := h.do(t, http.MethodPut, playerPath+"/filters", `{"timescale":{"speed":1.25,"pitch":1,"rate":1},"equalizer":{"0":0.2,"14":-0.1}}`)
	checkStatus(t, rec, http.StatusOK)
	frame := f.expectFrame(t, andesite.OpFilters)
	if _, ok := frame["timescale"]; !ok {
		t.Errorf("filters frame without timescale: %v", frame)
	}
	if _, ok := frame["equalizer"]; !ok {
		t.Errorf("filters frame without equalizer: %v", frame)
	}

	tests := map[string]string{
		"zero speed":       `{"timescale":{"speed":0,"pitch":1,"rate":1}}`,
		"band out of range": `{"equalizer":{"15":0.1}}`,
		"gain too high":    `{"equalizer":{"3":2}}`,
		"empty":            `{}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			rec, env := h.do(t, http.MethodPut, playerPath+"/filters", body)
			checkStatus(t, rec, http.StatusBadRequest)
			checkErrorCode(t, env, ErrCodeBadRequest)
		})
	}

	rec, _ = h.do(t, http.MethodDelete, playerPath+"/filters", "")
	checkStatus(t, rec, http.StatusOK)
	f.expectFrame(t, andesite.OpFilters)
}

func TestConnectDisconnect(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t, nil)
	withPlayer(t, h)

	rec, env := h.do(t, http.MethodPost, playerPath+"/connect", `{"channel_id":"300000000000000003"}`)
	checkStatus(t, rec, http.StatusOK)
	var snap andesite.Snapshot
	decodeData(t, env, &snap)
	if snap.ChannelID != "300000000000000003" {
		t.Errorf("channel = %q", snap.ChannelID)
	}

	rec, env = h.do(t, http.MethodPost, playerPath+"/connect", `{"channel_id":"general"}`)
	checkStatus(t, rec, http.StatusBadRequest)
	checkErrorCode(t, env, ErrCodeValidationFailed)

	rec, _ = h.do(t, http.MethodPost, playerPath+"/disconnect", "")
	checkStatus(t, rec, http.StatusOK)

	want := []string{testGuildID + ":300000000000000003", testGuildID + ":"}
	got := h.voice.recorded()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("voice calls = %v, want %v", got, want)
	}
}

func TestMove(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t, nil)
	withPlayer(t, h)
	second := newFakeNode(t)
	second.connect(t, h.client, "backup")

	rec, env := h.do(t, http.MethodPost, playerPath+"/move", `{"node":"ghost"}`)
	checkStatus(t, rec, http.StatusNotFound)
	checkErrorCode(t, env, ErrCodeNotFound)

	rec, env = h.do(t, http.MethodPost, playerPath+"/move", `{"node":"backup"}`)
	checkStatus(t, rec, http.StatusOK)
	var snap andesite.Snapshot
	decodeData(t, env, &snap)
	if snap.Node != "backup" {
		t.Errorf("node = %q, want backup", snap.Node)
	}
}

func TestDestroyPlayer(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t, nil)
	f := withPlayer(t, h)

	rec, _ := h.do(t, http.MethodDelete, playerPath, "")
	checkStatus(t, rec, http.StatusNoContent)
	f.expectFrame(t, andesite.OpDestroy)

	if _, ok := h.client.Player(testGuildID); ok {
		t.Error("player still registered after destroy")
	}
}

// ===================================================================================================
// Sessions
// ===================================================================================================

type stubSessions struct {
	sessions []sessionstore.Session
	err      error
}

func (s stubSessions) List() ([]sessionstore.Session, error) { return s.sessions, s.err }

func TestListSessions(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t, nil)
	rec, env := h.do(t, http.MethodGet, "/api/v1/sessions", "")
	checkStatus(t, rec, http.StatusOK)
	if string(env.Data) != "[]" {
		t.Errorf("data = %s, want []", env.Data)
	}

	h = newAPIHarness(t, nil, WithSessions(stubSessions{sessions: []sessionstore.Session{
		{Node: "main", ResumeID: "resume-1", UpdatedAt: time.Unix(1700000000, 0).UTC()},
	}}))
	rec, env = h.do(t, http.MethodGet, "/api/v1/sessions", "")
	checkStatus(t, rec, http.StatusOK)
	var got []sessionstore.Session
	decodeData(t, env, &got)
	if len(got) != 1 || got[0].ResumeID != "resume-1" {
		t.Errorf("sessions = %+v", got)
	}

	h = newAPIHarness(t, nil, WithSessions(stubSessions{err: errors.New("badger closed")}))
	rec, env = h.do(t, http.MethodGet, "/api/v1/sessions", "")
	checkStatus(t, rec, http.StatusInternalServerError)
	if strings.Contains(env.Error.Message, "badger") {
		t.Error("internal error leaked to client")
	}
}

// ===================================================================================================
// Events
// ===================================================================================================

func TestStreamEvents_Disabled(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t, nil)
	rec, env := h.do(t, http.MethodGet, "/api/v1/events", "")
	checkStatus(t, rec, http.StatusServiceUnavailable)
	checkErrorCode(t, env, ErrCodeServiceUnavailable)

	bus, err := eventbus.New(eventbus.Config{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = bus.Close() })
	h = newAPIHarness(t, nil, WithEvents(bus))
	rec, env = h.do(t, http.MethodGet, "/api/v1/events?event=track_explode", "")
	checkStatus(t, rec, http.StatusBadRequest)
	checkErrorCode(t, env, ErrCodeBadRequest)
}

func TestStreamEvents(t *testing.T) {
	t.Parallel()

	bus, err := eventbus.New(eventbus.Config{Buffer: 8})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = bus.Close() })

	h := newAPIHarness(t, nil, WithEvents(bus))
	srv := httptest.NewServer(h.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events?event=track_end", nil)
	req.Header.Set("Authorization", "Bearer "+h.token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("status %d, content type %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	lines := bufio.NewScanner(resp.Body)
	if !lines.Scan() || lines.Text() != ": connected" {
		t.Fatalf("first line = %q", lines.Text())
	}

	publish := func(wireType, raw string) {
		ev, _, err := andesite.DecodeEvent(nil, testGuildID, wireType, []byte(raw))
		if err != nil {
			t.Fatal(err)
		}
		if err := bus.Publish(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	// Not subscribed; must not reach the stream.
	publish("TrackStartEvent", `{"track":"QAAA"}`)
	publish("TrackEndEvent", `{"track":"QAAA","reason":"FINISHED","mayStartNext":true}`)

	var event, data string
	for lines.Scan() {
		line := lines.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
		if data != "" {
			break
		}
	}
	if event != andesite.EventTrackEnd {
		t.Errorf("event = %q, want track_end", event)
	}
	if !strings.Contains(data, `"FINISHED"`) || !strings.Contains(data, testGuildID) {
		t.Errorf("data = %s", data)
	}
}
