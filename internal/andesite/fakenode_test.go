// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

package andesite

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/granite/internal/models"
)

const (
	testUserID   = "100000000000000001"
	testPassword = "youshallnotpass"
	testGuildID  = "200000000000000002"
	frameWait    = 2 * time.Second
)

// fakeNode is an in-process Andesite node: a websocket endpoint that records
// every frame it receives and a /loadtracks endpoint driven by the test.
type fakeNode struct {
	t   *testing.T
	srv *httptest.Server

	// rejectStatus, when set, answers the upgrade with that HTTP status.
	rejectStatus int
	// autoPong answers ping frames.
	autoPong bool
	// held, when set, parks each upgrade until release is closed.
	held    chan struct{}
	release chan struct{}

	loadtracks http.HandlerFunc

	mu      sync.Mutex
	conns   []*websocket.Conn
	headers []http.Header
	writeMu sync.Mutex

	frames chan map[string]any
}

func newFakeNode(t *testing.T) *fakeNode {
	t.Helper()
	f := &fakeNode{
		t:        t,
		autoPong: true,
		frames:   make(chan map[string]any, 128),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/websocket", f.serveWS)
	mux.HandleFunc("/loadtracks", func(w http.ResponseWriter, r *http.Request) {
		if f.loadtracks == nil {
			http.NotFound(w, r)
			return
		}
		f.loadtracks(w, r)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.close)
	return f
}

func (f *fakeNode) serveWS(w http.ResponseWriter, r *http.Request) {
	if f.rejectStatus != 0 {
		http.Error(w, "rejected", f.rejectStatus)
		return
	}
	if f.held != nil {
		f.held <- struct{}{}
		select {
		case <-f.release:
		case <-time.After(frameWait):
		}
	}
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.headers = append(f.headers, r.Header.Clone())
	f.mu.Unlock()

	go f.read(conn)
}

func (f *fakeNode) read(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame["op"] == OpPing && f.autoPong {
			f.writeTo(conn, map[string]any{"op": OpPong})
			continue
		}
		select {
		case f.frames <- frame:
		default:
		}
	}
}

func (f *fakeNode) close() {
	f.mu.Lock()
	for _, c := range f.conns {
		_ = c.Close()
	}
	f.mu.Unlock()
	f.srv.Close()
}

// holdHandshakes parks every later upgrade until the returned func runs.
func (f *fakeNode) holdHandshakes() func() {
	f.held = make(chan struct{}, 4)
	f.release = make(chan struct{})
	var once sync.Once
	release := func() { once.Do(func() { close(f.release) }) }
	f.t.Cleanup(release)
	return release
}

func (f *fakeNode) waitHeld() {
	f.t.Helper()
	select {
	case <-f.held:
	case <-time.After(frameWait):
		f.t.Fatal("no handshake arrived")
	}
}

// config returns a NodeConfig pointing at the fake.
func (f *fakeNode) config(id string) NodeConfig {
	f.t.Helper()
	u, err := url.Parse(f.srv.URL)
	if err != nil {
		f.t.Fatalf("parse server url: %v", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		f.t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		f.t.Fatalf("parse port: %v", err)
	}
	return NodeConfig{Identifier: id, Host: host, Port: port, Password: testPassword}
}

func (f *fakeNode) connCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeNode) header(i int) http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.headers) {
		f.t.Fatalf("no handshake #%d recorded", i)
	}
	return f.headers[i]
}

func (f *fakeNode) latest() *websocket.Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		f.t.Fatal("fake node has no connection")
	}
	return f.conns[len(f.conns)-1]
}

func (f *fakeNode) writeTo(conn *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		f.t.Errorf("marshal fake frame: %v", err)
		return
	}
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

// push sends a frame to the client on the latest connection.
func (f *fakeNode) push(v any) {
	f.writeTo(f.latest(), v)
}

// closeWith sends a close frame with code and drops the connection.
func (f *fakeNode) closeWith(code int, text string) {
	conn := f.latest()
	f.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
	f.writeMu.Unlock()
	_ = conn.Close()
}

// drop closes the TCP connection without a close frame (1006 on the client).
func (f *fakeNode) drop() {
	_ = f.latest().Close()
}

// expectFrame returns the next frame and fails unless its op is op.
func (f *fakeNode) expectFrame(op string) map[string]any {
	f.t.Helper()
	select {
	case frame := <-f.frames:
		if frame["op"] != op {
			f.t.Fatalf("next frame op = %v, want %s (frame %v)", frame["op"], op, frame)
		}
		return frame
	case <-time.After(frameWait):
		f.t.Fatalf("timed out waiting for %s frame", op)
		return nil
	}
}

// expectNoFrame fails if any frame arrives within d.
func (f *fakeNode) expectNoFrame(d time.Duration) {
	f.t.Helper()
	select {
	case frame := <-f.frames:
		f.t.Fatalf("unexpected frame %v", frame)
	case <-time.After(d):
	}
}

// ===================================================================================================
// Test collaborators
// ===================================================================================================

type voiceCall struct {
	guildID   string
	channelID string
}

type recordingVoice struct {
	mu    sync.Mutex
	calls []voiceCall
	err   error
}

func (v *recordingVoice) ChangeVoiceChannel(_ context.Context, guildID, channelID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, voiceCall{guildID, channelID})
	return v.err
}

func (v *recordingVoice) snapshot() []voiceCall {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]voiceCall(nil), v.calls...)
}

// blockingVoice parks every channel leave until release is closed.
type blockingVoice struct {
	leaving chan string
	release chan struct{}
}

func newBlockingVoice() *blockingVoice {
	return &blockingVoice{leaving: make(chan string, 8), release: make(chan struct{})}
}

func (v *blockingVoice) ChangeVoiceChannel(ctx context.Context, guildID, channelID string) error {
	if channelID != "" {
		return nil
	}
	v.leaving <- guildID
	select {
	case <-v.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type memTokens struct {
	mu  sync.Mutex
	ids map[string]string
}

func newMemTokens() *memTokens {
	return &memTokens{ids: make(map[string]string)}
}

var errNoToken = errors.New("no token")

func (m *memTokens) LoadResumeID(node string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.ids[node]
	if !ok {
		return "", errNoToken
	}
	return id, nil
}

func (m *memTokens) SaveResumeID(node, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids[node] = id
	return nil
}

func (m *memTokens) get(node string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ids[node]
}

type eventRecorder struct {
	ch chan Event
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{ch: make(chan Event, 16)}
}

func (r *eventRecorder) Publish(_ context.Context, ev Event) error {
	r.ch <- ev
	return nil
}

func (r *eventRecorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(frameWait):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func (r *eventRecorder) expectNone(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case ev := <-r.ch:
		t.Fatalf("unexpected event %s", ev.Name())
	case <-time.After(d):
	}
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// ===================================================================================================
// Helpers
// ===================================================================================================

func newTestClient(t *testing.T, cfg ClientConfig) *Client {
	t.Helper()
	if cfg.UserID == "" {
		cfg.UserID = testUserID
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = time.Second
	}
	c := NewClient(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return c
}

func connectNode(t *testing.T, c *Client, f *fakeNode, id string) *Node {
	t.Helper()
	n, err := c.CreateNode(context.Background(), f.config(id))
	if err != nil {
		t.Fatalf("CreateNode(%s): %v", id, err)
	}
	return n
}

// waitFor polls cond until it holds or the frame timeout expires.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(frameWait)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testTrack(length int64) models.Track {
	return models.Track{
		ID: "QAAAjQIAJFJpY2sgQXN0bGV5IC0gTmV2ZXIgR29ubmEgR2l2ZSBZb3UgVXA",
		Info: models.TrackInfo{
			Title:      "Never Gonna Give You Up",
			Author:     "Rick Astley",
			Length:     length,
			Identifier: "dQw4w9WgXcQ",
			URI:        "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
			IsSeekable: true,
		},
	}
}

func checkStringEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s = %q, want %q", field, got, want)
	}
}

func checkNumber(t *testing.T, field string, got any, want float64) {
	t.Helper()
	n, ok := got.(float64)
	if !ok || n != want {
		t.Errorf("%s = %v (%T), want %v", field, got, got, want)
	}
}

func checkErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Errorf("error = %v, want errors.Is %v", err, target)
	}
}
