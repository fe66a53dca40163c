// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

package andesite

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// ===================================================================================================
// Connect
// ===================================================================================================

func TestNodeURIs(t *testing.T) {
	t.Parallel()

	c := NewClient(ClientConfig{UserID: testUserID})
	n, err := c.AddNode(NodeConfig{Identifier: "main", Host: "andesite.local", Port: 5000})
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	checkStringEqual(t, "WebSocketURL", n.WebSocketURL(), "ws://andesite.local:5000/websocket")
	checkStringEqual(t, "RESTURL", n.RESTURL(), "http://andesite.local:5000")
	if n.Available() {
		t.Error("unconnected node reports available")
	}
	if n.State() != StateDisconnected {
		t.Errorf("State = %s, want disconnected", n.State())
	}
}

func TestNodeConnect_Headers(t *testing.T) {
	t.Parallel()

	f := newFakeNode(t)
	c := newTestClient(t, ClientConfig{})
	n := connectNode(t, c, f, "main")

	if !n.Available() {
		t.Fatal("node not available after Connect")
	}
	h := f.header(0)
	checkStringEqual(t, "Authorization", h.Get("Authorization"), testPassword)
	checkStringEqual(t, "User-Id", h.Get("User-Id"), testUserID)
	if _, ok := h["Andesite-Resume-Id"]; ok {
		t.Error("Andesite-Resume-Id sent without a resume token")
	}
}

func TestNodeConnect_SendsResumeID(t *testing.T) {
	t.Parallel()

	f := newFakeNode(t)
	tokens := newMemTokens()
	if err := tokens.SaveResumeID("main", "resume-abc"); err != nil {
		t.Fatal(err)
	}
	c := newTestClient(t, ClientConfig{Tokens: tokens})
	connectNode(t, c, f, "main")

	checkStringEqual(t, "Andesite-Resume-Id", f.header(0).Get("Andesite-Resume-Id"), "resume-abc")
}

func TestNodeConnect_NoopWhenAvailable(t *testing.T) {
	t.Parallel()

	f := newFakeNode(t)
	c := newTestClient(t, ClientConfig{})
	n := connectNode(t, c, f, "main")

	if err := n.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if got := f.connCount(); got != 1 {
		t.Errorf("handshakes = %d, want 1", got)
	}
}

func TestNodeConnect_InvalidCredentials(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		f := newFakeNode(t)
		f.rejectStatus = status
		c := newTestClient(t, ClientConfig{})

		_, err := c.CreateNode(context.Background(), f.config("main"))
		checkErrorIs(t, err, ErrConnectionFailure)
		checkErrorIs(t, err, ErrInvalidCredentials)
		if _, ok := c.Node("main"); ok {
			t.Errorf("status %d: failed node left registered", status)
		}
	}
}

func TestNodeConnect_Unreachable(t *testing.T) {
	t.Parallel()

	f := newFakeNode(t)
	cfg := f.config("main")
	f.srv.Close()

	c := newTestClient(t, ClientConfig{})
	n, err := c.AddNode(cfg)
	if err != nil {
		t.Fatal(err)
	}
	err = n.Connect(context.Background())
	checkErrorIs(t, err, ErrConnectionFailure)
	if errors.Is(err, ErrInvalidCredentials) {
		t.Error("unreachable node reported as invalid credentials")
	}
	if n.State() != StateDisconnected {
		t.Errorf("State = %s, want disconnected", n.State())
	}
}

// ===================================================================================================
// Receive loop
// ===================================================================================================

func TestNode_ConnectionIDPersisted(t *testing.T) {
	t.Parallel()

	f := newFakeNode(t)
	tokens := newMemTokens()
	c := newTestClient(t, ClientConfig{Tokens: tokens})
	n := connectNode(t, c, f, "main")

	f.push(map[string]any{"op": "connection-id", "id": "conn-42"})
	waitFor(t, "resume id", func() bool { return n.ResumeID() == "conn-42" })
	checkStringEqual(t, "stored token", tokens.get("main"), "conn-42")
}

func TestNode_MetadataAndStats(t *testing.T) {
	t.Parallel()

	f := newFakeNode(t)
	c := newTestClient(t, ClientConfig{})
	n := connectNode(t, c, f, "main")

	f.push(map[string]any{
		"op": "metadata",
		"data": map[string]any{
			"version":        "0.20.0",
			"versionMajor":   "0",
			"versionMinor":   20,
			"nodeRegion":     "eu-west",
			"enabledSources": []string{"youtube", "soundcloud"},
		},
	})
	f.push(map[string]any{
		"op": "stats",
		"stats": map[string]any{
			"players": map[string]any{"total": 3, "playing": 2},
			"cpu":     map[string]any{"andesite": 0.25, "system": 0.5},
		},
	})

	waitFor(t, "metadata and stats", func() bool { return n.Metadata() != nil && n.Stats() != nil })
	md := n.Metadata()
	checkStringEqual(t, "version", string(md.Version), "0.20.0")
	checkStringEqual(t, "versionMinor", string(md.VersionMinor), "20")
	checkStringEqual(t, "nodeRegion", md.NodeRegion, "eu-west")

	st := n.Stats()
	if st.Players.Total != 3 || st.Players.Playing != 2 {
		t.Errorf("players = %+v, want 3/2", st.Players)
	}
	if len(st.Raw) == 0 {
		t.Error("raw stats frame not kept")
	}
}

func TestNode_AnomaliesDiscarded(t *testing.T) {
	t.Parallel()

	f := newFakeNode(t)
	rec := newEventRecorder()
	c := newTestClient(t, ClientConfig{Sink: rec})
	n := connectNode(t, c, f, "main")

	f.push(map[string]any{"op": "bogus-op"})
	f.push(map[string]any{"op": "player-update", "guildId": "unknown", "state": map[string]any{"position": 10}})
	f.push(map[string]any{"op": "event", "guildId": "unknown", "type": "TrackStartEvent", "track": "x"})
	f.push(map[string]any{"op": "connection-id", "id": "still-alive"})

	waitFor(t, "loop to keep running", func() bool { return n.ResumeID() == "still-alive" })
	if !n.Available() {
		t.Error("anomalous frames made the node unavailable")
	}
	rec.expectNone(t, 50*time.Millisecond)
}

// ===================================================================================================
// Send
// ===================================================================================================

func TestNodeSend_Unavailable(t *testing.T) {
	t.Parallel()

	c := NewClient(ClientConfig{UserID: testUserID})
	n, err := c.AddNode(NodeConfig{Identifier: "main", Host: "127.0.0.1", Port: 1})
	if err != nil {
		t.Fatal(err)
	}
	err = n.Send(context.Background(), newFrame(OpGetStats))
	checkErrorIs(t, err, ErrNodeNotAvailable)
}

func TestNodeSend_Concurrent(t *testing.T) {
	t.Parallel()

	f := newFakeNode(t)
	c := newTestClient(t, ClientConfig{})
	n := connectNode(t, c, f, "main")

	const senders = 20
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := n.RequestStats(context.Background()); err != nil {
				t.Errorf("RequestStats: %v", err)
			}
		}()
	}
	wg.Wait()

	for i := 0; i < senders; i++ {
		f.expectFrame(OpGetStats)
	}
}

// ===================================================================================================
// Close handling
// ===================================================================================================

func TestNode_CloseInvalidCredentials(t *testing.T) {
	t.Parallel()

	f := newFakeNode(t)
	c := newTestClient(t, ClientConfig{})
	n := connectNode(t, c, f, "main")
	p, err := c.GetOrCreatePlayer(context.Background(), testGuildID)
	if err != nil {
		t.Fatal(err)
	}

	closed := make(chan CloseInfo, 1)
	n.OnClose(func(info CloseInfo) { closed <- info })

	f.closeWith(CloseInvalidCredentials, "Invalid password")

	select {
	case info := <-closed:
		if info.Code != CloseInvalidCredentials {
			t.Errorf("close code = %d, want %d", info.Code, CloseInvalidCredentials)
		}
		checkErrorIs(t, info.Err, ErrInvalidCredentials)
	case <-time.After(frameWait):
		t.Fatal("close hook not called")
	}

	if n.Available() {
		t.Error("node still available after 4001")
	}
	if n.State() != StateFailed {
		t.Errorf("State = %s, want failed", n.State())
	}
	checkErrorIs(t, n.Err(), ErrInvalidCredentials)
	if n.Player(testGuildID) != p {
		t.Error("player dropped on close")
	}
}

func TestNode_AbnormalClose(t *testing.T) {
	t.Parallel()

	f := newFakeNode(t)
	c := newTestClient(t, ClientConfig{})
	n := connectNode(t, c, f, "main")
	p, err := c.GetOrCreatePlayer(context.Background(), testGuildID)
	if err != nil {
		t.Fatal(err)
	}

	closed := make(chan CloseInfo, 1)
	n.OnClose(func(CloseInfo) { panic("hook panics are contained") })
	n.OnClose(func(info CloseInfo) { closed <- info })

	done := n.Done()
	f.drop()

	select {
	case info := <-closed:
		if !info.Abnormal() {
			t.Error("drop reported as a deliberate close")
		}
		if info.Code != websocket.CloseAbnormalClosure {
			t.Errorf("close code = %d, want 1006", info.Code)
		}
	case <-time.After(frameWait):
		t.Fatal("close hook not called")
	}
	<-done

	if n.Available() {
		t.Error("node still available after drop")
	}
	if n.State() != StateDisconnected {
		t.Errorf("State = %s, want disconnected", n.State())
	}
	if n.Player(testGuildID) != p {
		t.Error("player dropped on abnormal close")
	}
	checkErrorIs(t, p.SetVolume(context.Background(), 50), ErrNodeNotAvailable)
}

func TestNode_ReconnectAfterDrop(t *testing.T) {
	t.Parallel()

	f := newFakeNode(t)
	c := newTestClient(t, ClientConfig{})
	n := connectNode(t, c, f, "main")

	f.push(map[string]any{"op": "connection-id", "id": "resume-1"})
	waitFor(t, "resume id", func() bool { return n.ResumeID() == "resume-1" })

	f.drop()
	waitFor(t, "unavailable", func() bool { return !n.Available() })

	if err := n.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	checkStringEqual(t, "resume header", f.header(1).Get("Andesite-Resume-Id"), "resume-1")
	if err := n.RequestStats(context.Background()); err != nil {
		t.Fatalf("send after reconnect: %v", err)
	}
	f.expectFrame(OpGetStats)
}

// ===================================================================================================
// Ping
// ===================================================================================================

func TestNodePing(t *testing.T) {
	t.Parallel()

	f := newFakeNode(t)
	c := newTestClient(t, ClientConfig{})
	n := connectNode(t, c, f, "main")

	rtt, err := n.Ping(context.Background())
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if rtt <= 0 || rtt > frameWait {
		t.Errorf("rtt = %s, want (0, %s]", rtt, frameWait)
	}
}

func TestNodePing_Timeout(t *testing.T) {
	t.Parallel()

	f := newFakeNode(t)
	f.autoPong = false
	c := newTestClient(t, ClientConfig{ProbeTimeout: 50 * time.Millisecond})
	n := connectNode(t, c, f, "main")

	_, err := n.Ping(context.Background())
	checkErrorIs(t, err, ErrProbeTimeout)
	f.expectFrame(OpPing)

	// A late pong with no waiter is ignored.
	f.push(map[string]any{"op": "pong"})
	if !n.Available() {
		t.Error("probe timeout should not affect availability")
	}
}

func TestNodePing_Unavailable(t *testing.T) {
	t.Parallel()

	c := NewClient(ClientConfig{UserID: testUserID})
	n, err := c.AddNode(NodeConfig{Identifier: "main", Host: "127.0.0.1", Port: 1})
	if err != nil {
		t.Fatal(err)
	}
	_, err = n.Ping(context.Background())
	checkErrorIs(t, err, ErrNodeNotAvailable)
}

func TestNodePing_LatePongIgnored(t *testing.T) {
	t.Parallel()

	f := newFakeNode(t)
	f.autoPong = false
	c := newTestClient(t, ClientConfig{ProbeTimeout: 300 * time.Millisecond})
	n := connectNode(t, c, f, "main")

	_, err := n.Ping(context.Background())
	checkErrorIs(t, err, ErrProbeTimeout)
	f.expectFrame(OpPing)

	type result struct {
		rtt time.Duration
		err error
	}
	done := make(chan result, 1)
	go func() {
		rtt, err := n.Ping(context.Background())
		done <- result{rtt, err}
	}()
	f.expectFrame(OpPing)

	// The first ping's reply arrives while the second is outstanding.
	f.push(map[string]any{"op": OpPong})
	const delay = 100 * time.Millisecond
	time.Sleep(delay)
	f.push(map[string]any{"op": OpPong})

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("second Ping: %v", r.err)
		}
		if r.rtt < delay {
			t.Errorf("rtt = %s, late pong completed the second ping (want >= %s)", r.rtt, delay)
		}
	case <-time.After(frameWait):
		t.Fatal("second Ping never returned")
	}
}

// ===================================================================================================
// Disconnect
// ===================================================================================================

func TestNodeDisconnect(t *testing.T) {
	t.Parallel()

	f := newFakeNode(t)
	voice := &recordingVoice{}
	c := newTestClient(t, ClientConfig{Voice: voice})
	n := connectNode(t, c, f, "main")

	if _, err := c.GetOrCreatePlayer(context.Background(), testGuildID); err != nil {
		t.Fatal(err)
	}

	if err := n.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	f.expectFrame(OpStop)
	f.expectFrame(OpDestroy)

	if n.Available() {
		t.Error("node available after Disconnect")
	}
	if n.PlayerCount() != 0 {
		t.Errorf("PlayerCount = %d after Disconnect", n.PlayerCount())
	}
	if _, ok := c.Node("main"); ok {
		t.Error("node still registered after Disconnect")
	}
	if info := n.LastClose(); info.Abnormal() {
		t.Errorf("deliberate disconnect reported abnormal: %v", info.Err)
	}

	calls := voice.snapshot()
	if len(calls) != 1 || calls[0].channelID != "" {
		t.Errorf("voice calls = %+v, want one leave", calls)
	}
}

func TestNodeDisconnect_LeavesSelectionFirst(t *testing.T) {
	t.Parallel()

	f := newFakeNode(t)
	voice := newBlockingVoice()
	c := newTestClient(t, ClientConfig{
		Voice: voice,
		Selector: SelectorFunc(func(nodes []*Node) *Node {
			for _, n := range nodes {
				if n.Identifier() == "main" {
					return n
				}
			}
			return nodes[0]
		}),
	})
	primary := connectNode(t, c, f, "main")
	backup := connectNode(t, c, f, "backup")

	ctx := context.Background()
	if _, err := c.GetOrCreatePlayer(ctx, testGuildID); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- primary.Disconnect(ctx) }()

	// Teardown is parked in the voice leave; the node must already be out of selection.
	select {
	case <-voice.leaving:
	case <-time.After(frameWait):
		t.Fatal("player teardown never reached the voice leave")
	}
	p, err := c.GetOrCreatePlayer(ctx, "200000000000000009")
	if err != nil {
		t.Fatalf("GetOrCreatePlayer during disconnect: %v", err)
	}
	checkStringEqual(t, "new player node", p.Node().Identifier(), "backup")

	close(voice.release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Disconnect: %v", err)
		}
	case <-time.After(frameWait):
		t.Fatal("Disconnect never returned")
	}

	if primary.PlayerCount() != 0 {
		t.Errorf("main PlayerCount = %d after Disconnect", primary.PlayerCount())
	}
	if backup.Player("200000000000000009") != p {
		t.Error("player created during disconnect is not on backup")
	}
}

func TestNodeDisconnect_LastNodeRejectsNewPlayers(t *testing.T) {
	t.Parallel()

	f := newFakeNode(t)
	voice := newBlockingVoice()
	c := newTestClient(t, ClientConfig{Voice: voice})
	n := connectNode(t, c, f, "main")

	ctx := context.Background()
	if _, err := c.GetOrCreatePlayer(ctx, testGuildID); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- n.Disconnect(ctx) }()
	select {
	case <-voice.leaving:
	case <-time.After(frameWait):
		t.Fatal("player teardown never reached the voice leave")
	}

	_, err := c.GetOrCreatePlayer(ctx, "200000000000000009")
	checkErrorIs(t, err, ErrNoNodesAvailable)

	close(voice.release)
	if err := <-done; err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if n.PlayerCount() != 0 {
		t.Errorf("PlayerCount = %d, a player was placed on the disconnecting node", n.PlayerCount())
	}
}

func TestNodeDisconnect_DuringConnect(t *testing.T) {
	t.Parallel()

	f := newFakeNode(t)
	release := f.holdHandshakes()
	c := newTestClient(t, ClientConfig{})
	n, err := c.AddNode(f.config("main"))
	if err != nil {
		t.Fatal(err)
	}

	connected := make(chan error, 1)
	go func() { connected <- n.Connect(context.Background()) }()
	f.waitHeld()

	if err := n.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	release()

	select {
	case err := <-connected:
		checkErrorIs(t, err, ErrNodeClosed)
	case <-time.After(frameWait):
		t.Fatal("Connect never returned")
	}
	if n.Available() {
		t.Error("node available after Disconnect during handshake")
	}
	if n.State() != StateDisconnected {
		t.Errorf("state = %s, want disconnected", n.State())
	}
	if _, ok := c.Node("main"); ok {
		t.Error("node still registered after Disconnect")
	}

	checkErrorIs(t, n.Connect(context.Background()), ErrNodeClosed)
}

func TestNodeStateString(t *testing.T) {
	t.Parallel()

	for state, want := range map[NodeState]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateAvailable:    "available",
		StateFailed:       "failed",
		NodeState(42):     "unknown",
	} {
		if got := state.String(); got != want {
			t.Errorf("NodeState(%d).String() = %q, want %q", state, got, want)
		}
	}
}
