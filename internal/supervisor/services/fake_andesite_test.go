// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

package services

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/granite/internal/andesite"
)

const (
	testUserID   = "170939974227591168"
	testGuildID  = "200000000000000002"
	testPassword = "youshallnotpass"
	frameWait    = 2 * time.Second
)

// fakeAndesite accepts websocket sessions, hands out numbered connection
// ids and answers pings.
type fakeAndesite struct {
	srv          *httptest.Server
	rejectStatus atomic.Int32

	mu      sync.Mutex
	conns   []*websocket.Conn
	headers []http.Header

	connected chan int
	frames    chan andesite.Frame

	// held, when set, parks each upgrade until release is closed.
	held    chan struct{}
	release chan struct{}
}

func newFakeAndesite(t *testing.T) *fakeAndesite {
	t.Helper()
	f := &fakeAndesite{
		connected: make(chan int, 16),
		frames:    make(chan andesite.Frame, 64),
	}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status := int(f.rejectStatus.Load()); status != 0 {
			http.Error(w, "rejected", status)
			return
		}
		if r.Header.Get("Authorization") != testPassword {
			http.Error(w, "bad password", http.StatusUnauthorized)
			return
		}
		if f.held != nil {
			f.held <- struct{}{}
			select {
			case <-f.release:
			case <-time.After(frameWait):
			}
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.headers = append(f.headers, r.Header.Clone())
		n := len(f.conns)
		f.mu.Unlock()

		_ = conn.WriteJSON(map[string]any{"op": "connection-id", "id": fmt.Sprintf("resume-%d", n)})
		f.connected <- n
		go f.read(conn)
	}))
	t.Cleanup(func() {
		f.mu.Lock()
		for _, c := range f.conns {
			_ = c.Close()
		}
		f.mu.Unlock()
		f.srv.Close()
	})
	return f
}

func (f *fakeAndesite) read(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame andesite.Frame
		if json.Unmarshal(data, &frame) != nil {
			continue
		}
		if frame.Op() == andesite.OpPing {
			_ = conn.WriteJSON(map[string]any{"op": "pong"})
		}
		select {
		case f.frames <- frame:
		default:
		}
	}
}

// holdHandshakes parks every later upgrade until the returned func runs.
// Call it before the first connect.
func (f *fakeAndesite) holdHandshakes(t *testing.T) func() {
	f.held = make(chan struct{}, 4)
	f.release = make(chan struct{})
	var once sync.Once
	release := func() { once.Do(func() { close(f.release) }) }
	t.Cleanup(release)
	return release
}

func (f *fakeAndesite) waitHeld(t *testing.T) {
	t.Helper()
	select {
	case <-f.held:
	case <-time.After(frameWait):
		t.Fatal("no handshake arrived")
	}
}

func (f *fakeAndesite) config(id string) andesite.NodeConfig {
	u, _ := url.Parse(f.srv.URL)
	port, _ := strconv.Atoi(u.Port())
	return andesite.NodeConfig{Identifier: id, Host: u.Hostname(), Port: port, Password: testPassword}
}

func (f *fakeAndesite) header(i int) http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.headers[i]
}

// drop closes the latest session without a close frame (code 1006).
func (f *fakeAndesite) drop() {
	f.mu.Lock()
	conn := f.conns[len(f.conns)-1]
	f.mu.Unlock()
	_ = conn.UnderlyingConn().Close()
}

// closeWith ends the latest session with a close frame.
func (f *fakeAndesite) closeWith(code int) {
	f.mu.Lock()
	conn := f.conns[len(f.conns)-1]
	f.mu.Unlock()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), time.Now().Add(time.Second))
}

// waitConnected waits until the fake accepted session want and node has
// finished its side of the handshake.
func (f *fakeAndesite) waitConnected(t *testing.T, node *andesite.Node, want int) {
	t.Helper()
	timeout := time.After(frameWait)
	for accepted := false; !accepted; {
		select {
		case n := <-f.connected:
			accepted = n >= want
		case <-timeout:
			t.Fatalf("session %d never connected", want)
		}
	}
	for !node.Available() {
		select {
		case <-timeout:
			t.Fatalf("node never became available on session %d", want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (f *fakeAndesite) expectFrame(t *testing.T, op string) andesite.Frame {
	t.Helper()
	timeout := time.After(frameWait)
	for {
		select {
		case frame := <-f.frames:
			if frame.Op() == op {
				return frame
			}
		case <-timeout:
			t.Fatalf("no %q frame received", op)
			return nil
		}
	}
}
