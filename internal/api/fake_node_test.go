// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
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

	lofiTrackJSON = `{"track":"QAAAjQIA","info":{"title":"Lofi Beats","author":"Chillhop","length":180000,"identifier":"abc","uri":"https://example.com/abc","isStream":false,"isSeekable":true,"position":0}}`
)

// fakeNode serves /websocket and /loadtracks like an Andesite node.
type fakeNode struct {
	srv *httptest.Server

	mu         sync.Mutex
	loadtracks string
	conns      []*websocket.Conn

	frames chan map[string]any
}

func newFakeNode(t *testing.T) *fakeNode {
	t.Helper()
	f := &fakeNode{frames: make(chan map[string]any, 64)}

	mux := http.NewServeMux()
	mux.HandleFunc("/websocket", func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.mu.Unlock()
		go f.read(conn)
	})
	mux.HandleFunc("/loadtracks", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != testPassword {
			http.Error(w, "bad password", http.StatusUnauthorized)
			return
		}
		f.mu.Lock()
		body := f.loadtracks
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	})
	f.srv = httptest.NewServer(mux)
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

func (f *fakeNode) read(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame map[string]any
		if json.Unmarshal(data, &frame) != nil {
			continue
		}
		if frame["op"] == andesite.OpPing {
			_ = conn.WriteJSON(map[string]any{"op": "pong"})
		}
		select {
		case f.frames <- frame:
		default:
		}
	}
}

func (f *fakeNode) setLoadTracks(body string) {
	f.mu.Lock()
	f.loadtracks = body
	f.mu.Unlock()
}

func (f *fakeNode) config(id string) andesite.NodeConfig {
	u, _ := url.Parse(f.srv.URL)
	port, _ := strconv.Atoi(u.Port())
	return andesite.NodeConfig{Identifier: id, Host: u.Hostname(), Port: port, Password: testPassword}
}

// connect registers the fake under id and opens its session.
func (f *fakeNode) connect(t *testing.T, c *andesite.Client, id string) *andesite.Node {
	t.Helper()
	n, err := c.AddNode(f.config(id))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), frameWait)
	defer cancel()
	if err := n.Connect(ctx); err != nil {
		t.Fatalf("connect %s: %v", id, err)
	}
	return n
}

func (f *fakeNode) expectFrame(t *testing.T, op string) map[string]any {
	t.Helper()
	timeout := time.After(frameWait)
	for {
		select {
		case frame := <-f.frames:
			if frame["op"] == op {
				return frame
			}
		case <-timeout:
			t.Fatalf("no %q frame received", op)
			return nil
		}
	}
}
