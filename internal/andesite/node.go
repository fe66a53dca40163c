// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

/*
node.go - Andesite node websocket session

WebSocket Endpoint: ws://{host}:{port}/websocket
Handshake headers: Authorization, User-Id, Andesite-Resume-Id (when resuming)

A Node owns exactly one websocket at a time and exactly one receive loop per
websocket. Frames are handled on the loop goroutine in wire order, so
updates for one guild are never reordered. The loop ends when the transport
closes; Disconnect closes it on purpose, anything else is an abnormal
closure that leaves players in place for the reconnect policy to recover.
*/

package andesite

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tomtom215/granite/internal/logging"
	"github.com/tomtom215/granite/internal/metrics"
	"github.com/tomtom215/granite/internal/models"
)

// Close code Andesite uses when the Authorization header is wrong.
const CloseInvalidCredentials = 4001

// NodeState is a node's session state.
type NodeState int

// Node states.
const (
	StateDisconnected NodeState = iota
	StateConnecting
	StateAvailable
	StateFailed
)

func (s NodeState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAvailable:
		return "available"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// NodeConfig identifies one Andesite node.
type NodeConfig struct {
	Identifier string `koanf:"identifier" validate:"required"`
	Host       string `koanf:"host" validate:"required"`
	Port       int    `koanf:"port" validate:"gt=0,lte=65535"`
	Password   string `koanf:"password"`
	Region     string `koanf:"region"`
}

// CloseInfo describes how a session ended.
type CloseInfo struct {
	Node   string
	Code   int
	Reason string
	// Err is nil for a deliberate Disconnect.
	Err error
}

// Abnormal reports whether the session ended without a Disconnect call.
func (c CloseInfo) Abnormal() bool {
	return c.Err != nil
}

// Node is one Andesite server and the players it hosts.
type Node struct {
	cfg     NodeConfig
	wsURL   string
	restURL string
	client  *Client
	log     zerolog.Logger

	// connMu guards the session fields.
	connMu     sync.RWMutex
	conn       *websocket.Conn
	state      NodeState
	resumeID   string
	lastErr    error
	lastClose  CloseInfo
	closing    *websocket.Conn
	sessionEnd chan struct{}
	// removed is set by Disconnect; the node never connects again.
	removed bool

	// writeMu serializes writes; gorilla allows one concurrent writer.
	writeMu sync.Mutex

	playersMu sync.RWMutex
	players   map[string]*Player

	infoMu   sync.RWMutex
	metadata *models.NodeMetadata
	stats    *models.NodeStats

	pingMu      sync.Mutex
	pingWaiters []chan time.Time
	// stalePongs counts pings that timed out while still owed a pong.
	stalePongs int

	hookMu     sync.RWMutex
	closeHooks []func(CloseInfo)

	wg sync.WaitGroup
}

func newNode(c *Client, cfg NodeConfig) *Node {
	hostPort := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	return &Node{
		cfg:        cfg,
		wsURL:      "ws://" + hostPort + "/websocket",
		restURL:    "http://" + hostPort,
		client:     c,
		log:        logging.WithNode(cfg.Identifier),
		players:    make(map[string]*Player),
		sessionEnd: closedChan(),
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Identifier returns the node's unique key.
func (n *Node) Identifier() string { return n.cfg.Identifier }

// Region returns the configured region label, if any.
func (n *Node) Region() string { return n.cfg.Region }

// WebSocketURL returns ws://host:port/websocket.
func (n *Node) WebSocketURL() string { return n.wsURL }

// RESTURL returns http://host:port.
func (n *Node) RESTURL() string { return n.restURL }

// Password returns the Authorization value for this node.
func (n *Node) Password() string { return n.cfg.Password }

// Available reports whether the node can accept frames.
func (n *Node) Available() bool {
	n.connMu.RLock()
	defer n.connMu.RUnlock()
	return n.state == StateAvailable && n.conn != nil
}

// State returns the current session state.
func (n *Node) State() NodeState {
	n.connMu.RLock()
	defer n.connMu.RUnlock()
	return n.state
}

// Err returns the error that ended the last session, if any.
func (n *Node) Err() error {
	n.connMu.RLock()
	defer n.connMu.RUnlock()
	return n.lastErr
}

// LastClose describes how the last session ended.
func (n *Node) LastClose() CloseInfo {
	n.connMu.RLock()
	defer n.connMu.RUnlock()
	return n.lastClose
}

// ResumeID returns the connection id issued by the node, used to resume.
func (n *Node) ResumeID() string {
	n.connMu.RLock()
	defer n.connMu.RUnlock()
	return n.resumeID
}

// SetResumeID seeds the resume token, e.g. from a previous process run.
func (n *Node) SetResumeID(id string) {
	n.connMu.Lock()
	n.resumeID = id
	n.connMu.Unlock()
}

// Done returns a channel closed when the current session's receive loop exits.
// For a node that is not connected the channel is already closed.
func (n *Node) Done() <-chan struct{} {
	n.connMu.RLock()
	defer n.connMu.RUnlock()
	return n.sessionEnd
}

// OnClose registers fn to run after every session ends. Hooks run on the
// receive loop goroutine; a panicking hook is recovered and logged.
func (n *Node) OnClose(fn func(CloseInfo)) {
	n.hookMu.Lock()
	n.closeHooks = append(n.closeHooks, fn)
	n.hookMu.Unlock()
}

// Metadata returns the node's metadata, or nil before it has been received.
func (n *Node) Metadata() *models.NodeMetadata {
	n.infoMu.RLock()
	defer n.infoMu.RUnlock()
	return n.metadata
}

// Stats returns the last stats report, or nil.
func (n *Node) Stats() *models.NodeStats {
	n.infoMu.RLock()
	defer n.infoMu.RUnlock()
	return n.stats
}

// ===================================================================================================
// Connect
// ===================================================================================================

// Connect opens the websocket and starts the receive loop. It is a no-op on
// an available node. Failures wrap ErrConnectionFailure, and additionally
// ErrInvalidCredentials when the node refused the password. After
// Disconnect every attempt fails with ErrNodeClosed.
func (n *Node) Connect(ctx context.Context) error {
	n.connMu.Lock()
	if n.removed {
		n.connMu.Unlock()
		return fmt.Errorf("node %s: %w", n.cfg.Identifier, ErrNodeClosed)
	}
	if n.state == StateAvailable && n.conn != nil {
		n.connMu.Unlock()
		return nil
	}
	if n.state == StateConnecting {
		n.connMu.Unlock()
		return fmt.Errorf("node %s: connect already in progress: %w", n.cfg.Identifier, ErrConnectionFailure)
	}
	prevEnd := n.sessionEnd
	n.state = StateConnecting
	resumeID := n.resumeID
	n.connMu.Unlock()

	// A previous loop may still be running its close path.
	select {
	case <-prevEnd:
	case <-ctx.Done():
		n.setState(StateDisconnected)
		return fmt.Errorf("node %s: %w: %w", n.cfg.Identifier, ErrConnectionFailure, ctx.Err())
	}

	header := http.Header{}
	header.Set("Authorization", n.cfg.Password)
	header.Set("User-Id", n.client.userID)
	if resumeID != "" {
		header.Set("Andesite-Resume-Id", resumeID)
	}

	n.log.Info().Str("url", n.wsURL).Bool("resume", resumeID != "").Msg("Connecting")

	conn, resp, err := n.client.dialer.DialContext(ctx, n.wsURL, header)
	if resp != nil && resp.Body != nil {
		if cerr := resp.Body.Close(); cerr != nil {
			n.log.Debug().Err(cerr).Msg("Failed to close handshake response body")
		}
	}
	if err != nil {
		err = n.dialError(resp, err)
		n.connMu.Lock()
		n.state = StateDisconnected
		if errors.Is(err, ErrInvalidCredentials) {
			n.state = StateFailed
		}
		n.lastErr = err
		n.connMu.Unlock()
		metrics.NodeAvailable.WithLabelValues(n.cfg.Identifier).Set(0)
		return err
	}

	done := make(chan struct{})
	n.connMu.Lock()
	if n.removed {
		// Disconnect ran while the handshake was in flight.
		n.state = StateDisconnected
		n.connMu.Unlock()
		if cerr := conn.Close(); cerr != nil {
			n.log.Debug().Err(cerr).Msg("Failed to close connection")
		}
		return fmt.Errorf("node %s: %w", n.cfg.Identifier, ErrNodeClosed)
	}
	n.conn = conn
	n.state = StateAvailable
	n.lastErr = nil
	n.sessionEnd = done
	n.connMu.Unlock()

	metrics.NodeAvailable.WithLabelValues(n.cfg.Identifier).Set(1)
	n.log.Info().Msg("Connected")

	n.wg.Add(1)
	go n.listen(conn, done)
	return nil
}

func (n *Node) dialError(resp *http.Response, err error) error {
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("node %s: %w: %w (status %d)", n.cfg.Identifier, ErrConnectionFailure, ErrInvalidCredentials, resp.StatusCode)
		}
		return fmt.Errorf("node %s: %w: websocket dial failed (status %d): %w", n.cfg.Identifier, ErrConnectionFailure, resp.StatusCode, err)
	}
	return fmt.Errorf("node %s: %w: websocket dial failed: %w", n.cfg.Identifier, ErrConnectionFailure, err)
}

func (n *Node) setState(s NodeState) {
	n.connMu.Lock()
	n.state = s
	n.connMu.Unlock()
}

// ===================================================================================================
// Receive loop
// ===================================================================================================

func (n *Node) listen(conn *websocket.Conn, done chan struct{}) {
	defer n.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			info := n.sessionClosed(conn, err)
			close(done)
			n.runCloseHooks(info)
			return
		}
		n.handleFrame(data)
	}
}

// sessionClosed records how the session ended and flips availability.
// Players are left untouched.
func (n *Node) sessionClosed(conn *websocket.Conn, readErr error) CloseInfo {
	info := CloseInfo{Node: n.cfg.Identifier, Code: websocket.CloseAbnormalClosure}
	var ce *websocket.CloseError
	if errors.As(readErr, &ce) {
		info.Code = ce.Code
		info.Reason = ce.Text
	}

	n.connMu.Lock()
	deliberate := n.closing == conn
	if n.conn == conn {
		n.conn = nil
	}
	n.closing = nil

	switch {
	case deliberate:
		n.state = StateDisconnected
		info.Code = websocket.CloseNormalClosure
	case info.Code == CloseInvalidCredentials:
		n.state = StateFailed
		info.Err = fmt.Errorf("node %s: %w", n.cfg.Identifier, ErrInvalidCredentials)
	default:
		n.state = StateDisconnected
		info.Err = fmt.Errorf("node %s: connection closed abnormally (code %d): %w", n.cfg.Identifier, info.Code, readErr)
	}
	n.lastErr = info.Err
	n.lastClose = info
	n.connMu.Unlock()

	_ = conn.Close()
	n.failPings()
	metrics.NodeAvailable.WithLabelValues(n.cfg.Identifier).Set(0)

	switch {
	case deliberate:
		n.log.Info().Msg("Disconnected")
	case info.Code == CloseInvalidCredentials:
		n.log.Error().Int("code", info.Code).Msg("Node rejected credentials")
	default:
		n.log.Warn().Int("code", info.Code).Str("reason", info.Reason).Err(readErr).Msg("Connection closed abnormally, node unavailable")
	}
	return info
}

func (n *Node) runCloseHooks(info CloseInfo) {
	n.hookMu.RLock()
	hooks := append([]func(CloseInfo){}, n.closeHooks...)
	n.hookMu.RUnlock()

	for _, fn := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					n.log.Error().Interface("panic", r).Msg("Close hook panicked")
				}
			}()
			fn(info)
		}()
	}
}

// handleFrame dispatches one inbound frame. Anomalies are logged and dropped.
func (n *Node) handleFrame(data []byte) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		n.log.Debug().Err(err).Msg("Dropping undecodable frame")
		return
	}
	metrics.FramesReceived.WithLabelValues(n.cfg.Identifier, opLabel(f.Op)).Inc()

	switch f.Op {
	case OpConnectionID:
		n.storeResumeID(f.ID)

	case OpMetadata:
		var md models.NodeMetadata
		if err := json.Unmarshal(f.Data, &md); err != nil {
			n.log.Debug().Err(err).Msg("Failed to parse metadata")
			return
		}
		n.infoMu.Lock()
		n.metadata = &md
		n.infoMu.Unlock()
		n.log.Debug().Str("version", string(md.Version)).Str("region", md.NodeRegion).Msg("Received metadata")

	case OpStats:
		var st models.NodeStats
		if err := json.Unmarshal(f.Stats, &st); err != nil {
			n.log.Debug().Err(err).Msg("Failed to parse stats")
			return
		}
		st.Raw = append([]byte(nil), f.Stats...)
		n.infoMu.Lock()
		n.stats = &st
		n.infoMu.Unlock()

	case OpPong:
		n.completePing(time.Now())

	case OpPlayerUpdate:
		p := n.Player(f.GuildID)
		if p == nil {
			return
		}
		var st models.PlayerState
		if err := json.Unmarshal(f.State, &st); err != nil {
			n.log.Debug().Err(err).Str("guild_id", f.GuildID).Msg("Failed to parse player state")
			return
		}
		p.UpdateState(st)

	case OpEvent:
		n.dispatchEvent(f, data)

	default:
		n.log.Debug().Str("op", f.Op).Msg("Unknown op")
	}
}

func (n *Node) storeResumeID(id string) {
	n.connMu.Lock()
	n.resumeID = id
	n.connMu.Unlock()
	n.log.Debug().Str("connection_id", id).Msg("Received connection id")

	if n.client.tokens == nil {
		return
	}
	if err := n.client.tokens.SaveResumeID(n.cfg.Identifier, id); err != nil {
		n.log.Warn().Err(err).Msg("Failed to persist resume id")
	}
}

func (n *Node) dispatchEvent(f inboundFrame, raw []byte) {
	p := n.Player(f.GuildID)
	if p == nil {
		return
	}
	ev, ok, err := DecodeEvent(p, f.GuildID, f.Type, raw)
	if !ok {
		n.log.Debug().Str("type", f.Type).Msg("Unknown event, discarding")
		return
	}
	if err != nil {
		n.log.Debug().Err(err).Msg("Dropping malformed event")
		return
	}

	n.log.Debug().Str("type", f.Type).Str("guild_id", f.GuildID).Msg("Dispatching event")
	if err := n.client.sink.Publish(context.Background(), ev); err != nil {
		n.log.Warn().Err(err).Str("event", ev.Name()).Msg("Event publish failed")
		return
	}
	metrics.EventsPublished.WithLabelValues(ev.Name()).Inc()
}

// ===================================================================================================
// Send
// ===================================================================================================

// Send writes one frame. It fails with ErrNodeNotAvailable, without
// touching the transport, when the node is not available.
func (n *Node) Send(ctx context.Context, f Frame) error {
	n.connMu.RLock()
	conn := n.conn
	ok := n.state == StateAvailable && conn != nil
	n.connMu.RUnlock()

	if !ok {
		metrics.SendErrors.WithLabelValues(n.cfg.Identifier).Inc()
		return fmt.Errorf("node %s: %w", n.cfg.Identifier, ErrNodeNotAvailable)
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", f.Op(), err)
	}

	deadline := time.Now().Add(n.client.writeTimeout)
	if d, has := ctx.Deadline(); has && d.Before(deadline) {
		deadline = d
	}

	n.writeMu.Lock()
	defer n.writeMu.Unlock()

	if err := conn.SetWriteDeadline(deadline); err != nil {
		n.log.Debug().Err(err).Msg("Failed to set write deadline")
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		metrics.SendErrors.WithLabelValues(n.cfg.Identifier).Inc()
		return fmt.Errorf("node %s: write %s frame: %w", n.cfg.Identifier, f.Op(), err)
	}
	metrics.FramesSent.WithLabelValues(n.cfg.Identifier, f.Op()).Inc()
	return nil
}

// RequestStats asks the node for a stats frame.
func (n *Node) RequestStats(ctx context.Context) error {
	return n.Send(ctx, newFrame(OpGetStats))
}

// ===================================================================================================
// Latency probe
// ===================================================================================================

// Ping measures round-trip latency. It fails with ErrProbeTimeout when no
// pong arrives within the client's probe timeout.
func (n *Node) Ping(ctx context.Context) (time.Duration, error) {
	waiter := make(chan time.Time, 1)
	n.pingMu.Lock()
	n.pingWaiters = append(n.pingWaiters, waiter)
	n.pingMu.Unlock()

	start := time.Now()
	if err := n.Send(ctx, newFrame(OpPing)); err != nil {
		n.dropPing(waiter)
		return 0, err
	}

	timer := time.NewTimer(n.client.probeTimeout)
	defer timer.Stop()

	select {
	case at, ok := <-waiter:
		if !ok {
			return 0, fmt.Errorf("node %s: %w", n.cfg.Identifier, ErrNodeNotAvailable)
		}
		rtt := at.Sub(start)
		metrics.PingLatency.WithLabelValues(n.cfg.Identifier).Observe(rtt.Seconds())
		return rtt, nil
	case <-timer.C:
		n.abandonPing(waiter)
		return 0, fmt.Errorf("node %s after %s: %w", n.cfg.Identifier, n.client.probeTimeout, ErrProbeTimeout)
	case <-ctx.Done():
		n.abandonPing(waiter)
		return 0, ctx.Err()
	}
}

// completePing hands a pong to the oldest waiter. Pongs owed to abandoned
// pings are swallowed first so a late reply never times a newer ping.
func (n *Node) completePing(at time.Time) {
	n.pingMu.Lock()
	defer n.pingMu.Unlock()
	if n.stalePongs > 0 {
		n.stalePongs--
		n.log.Debug().Msg("Discarded late pong")
		return
	}
	if len(n.pingWaiters) == 0 {
		return
	}
	w := n.pingWaiters[0]
	n.pingWaiters = n.pingWaiters[1:]
	w <- at
}

// dropPing forgets a waiter whose ping never reached the node.
func (n *Node) dropPing(waiter chan time.Time) {
	n.pingMu.Lock()
	defer n.pingMu.Unlock()
	n.removeWaiterLocked(waiter)
}

// abandonPing forgets a waiter whose ping was sent. If the pong is still
// outstanding it is recorded as stale.
func (n *Node) abandonPing(waiter chan time.Time) {
	n.pingMu.Lock()
	defer n.pingMu.Unlock()
	if n.removeWaiterLocked(waiter) {
		n.stalePongs++
	}
}

func (n *Node) removeWaiterLocked(waiter chan time.Time) bool {
	for i, w := range n.pingWaiters {
		if w == waiter {
			n.pingWaiters = append(n.pingWaiters[:i], n.pingWaiters[i+1:]...)
			return true
		}
	}
	return false
}

// failPings releases every waiter when the session ends.
func (n *Node) failPings() {
	n.pingMu.Lock()
	defer n.pingMu.Unlock()
	for _, w := range n.pingWaiters {
		close(w)
	}
	n.pingWaiters = nil
	n.stalePongs = 0
}

// ===================================================================================================
// Players
// ===================================================================================================

// Player returns the player for guildID on this node, or nil.
func (n *Node) Player(guildID string) *Player {
	n.playersMu.RLock()
	defer n.playersMu.RUnlock()
	return n.players[guildID]
}

// Players returns a snapshot of this node's players.
func (n *Node) Players() []*Player {
	n.playersMu.RLock()
	defer n.playersMu.RUnlock()
	out := make([]*Player, 0, len(n.players))
	for _, p := range n.players {
		out = append(out, p)
	}
	return out
}

// PlayerCount returns the number of players on this node.
func (n *Node) PlayerCount() int {
	n.playersMu.RLock()
	defer n.playersMu.RUnlock()
	return len(n.players)
}

func (n *Node) addPlayer(p *Player) {
	n.playersMu.Lock()
	n.players[p.guildID] = p
	count := len(n.players)
	n.playersMu.Unlock()
	metrics.Players.WithLabelValues(n.cfg.Identifier).Set(float64(count))
}

func (n *Node) removePlayer(p *Player) {
	n.playersMu.Lock()
	if n.players[p.guildID] == p {
		delete(n.players, p.guildID)
	}
	count := len(n.players)
	n.playersMu.Unlock()
	metrics.Players.WithLabelValues(n.cfg.Identifier).Set(float64(count))
}

// ===================================================================================================
// Disconnect
// ===================================================================================================

// Disconnect removes the node from its client, destroys every player on it,
// closes the websocket and waits for the receive loop to exit. The node
// leaves selection before any player is torn down, and a Connect still in
// its handshake fails with ErrNodeClosed. A disconnected node cannot be
// reconnected.
func (n *Node) Disconnect(ctx context.Context) error {
	n.connMu.Lock()
	n.removed = true
	n.connMu.Unlock()

	n.client.removeNode(n)

	for _, p := range n.Players() {
		if err := p.Destroy(ctx); err != nil {
			n.log.Warn().Err(err).Str("guild_id", p.guildID).Msg("Player destroy during disconnect failed")
		}
	}

	n.closeConnection()
	n.wg.Wait()

	n.connMu.Lock()
	n.state = StateDisconnected
	n.connMu.Unlock()

	metrics.ResetNode(n.cfg.Identifier)
	return nil
}

// closeConnection sends a normal close frame and closes the transport. The
// receive loop observes the close and exits.
func (n *Node) closeConnection() {
	n.connMu.Lock()
	conn := n.conn
	if conn == nil {
		n.connMu.Unlock()
		return
	}
	n.closing = conn
	n.state = StateDisconnected
	n.connMu.Unlock()

	n.writeMu.Lock()
	if err := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	); err != nil {
		n.log.Debug().Err(err).Msg("Failed to send close message")
	}
	n.writeMu.Unlock()

	if err := conn.Close(); err != nil {
		n.log.Debug().Err(err).Msg("Failed to close connection")
	}
}
