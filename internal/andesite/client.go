// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

// Package andesite is a client for Andesite audio nodes.
//
// A Client is the registry: it owns the connected Nodes, and each Node owns
// the Players for the guilds it serves. At most one Player exists per guild
// across all nodes. Discord voice gateway frames are routed to players with
// RouteVoiceUpdate (raw dispatch frames) or the typed Handle* methods.
//
//	c := andesite.NewClient(andesite.ClientConfig{UserID: botID, Voice: connector, Sink: bus})
//	node, err := c.CreateNode(ctx, andesite.NodeConfig{Identifier: "main", Host: "localhost", Port: 5000, Password: "pw"})
//	p, err := c.GetOrCreatePlayer(ctx, guildID)
//	err = p.Connect(ctx, channelID)
//	err = p.Play(ctx, track, 0)
package andesite

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/granite/internal/logging"
)

// Defaults applied by NewClient for zero ClientConfig fields.
const (
	DefaultProbeTimeout     = 5 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
)

// Selector picks a node for a new player from the available nodes. nodes
// is never empty.
type Selector interface {
	Select(nodes []*Node) *Node
}

// SelectorFunc adapts a function to Selector.
type SelectorFunc func(nodes []*Node) *Node

// Select calls f.
func (f SelectorFunc) Select(nodes []*Node) *Node { return f(nodes) }

// RandomSelector picks uniformly at random.
var RandomSelector Selector = SelectorFunc(func(nodes []*Node) *Node {
	return nodes[rand.IntN(len(nodes))]
})

// LeastPlayersSelector picks the node hosting the fewest players, breaking
// ties by identifier.
var LeastPlayersSelector Selector = SelectorFunc(func(nodes []*Node) *Node {
	best := nodes[0]
	bestCount := best.PlayerCount()
	for _, n := range nodes[1:] {
		c := n.PlayerCount()
		if c < bestCount || (c == bestCount && n.Identifier() < best.Identifier()) {
			best, bestCount = n, c
		}
	}
	return best
})

// ClientConfig configures a Client.
type ClientConfig struct {
	// UserID is the bot's own Discord user id, sent as User-Id.
	UserID string

	Voice    VoiceConnector
	Sink     EventSink
	Selector Selector
	Tokens   TokenStore

	// Dialer overrides the websocket dialer; HandshakeTimeout applies otherwise.
	Dialer           *websocket.Dialer
	HandshakeTimeout time.Duration
	ProbeTimeout     time.Duration
	WriteTimeout     time.Duration

	// REST tunes track lookups.
	REST RESTConfig

	// Clock is used for position extrapolation. Defaults to time.Now.
	Clock func() time.Time

	// PlayerInit, when set, runs on every new player before it is
	// registered. It runs under the registry lock and must not call back
	// into the Client.
	PlayerInit PlayerInit
}

// PlayerInit prepares a newly constructed player. GetOrCreatePlayer and
// CreatePlayer accept one per call; it runs after ClientConfig.PlayerInit.
type PlayerInit func(p *Player)

// Client is the node and player registry.
type Client struct {
	userID       string
	voice        VoiceConnector
	sink         EventSink
	selector     Selector
	tokens       TokenStore
	dialer       *websocket.Dialer
	probeTimeout time.Duration
	writeTimeout time.Duration
	now          func() time.Time
	rest         *RESTClient
	playerInit   PlayerInit

	// mu serializes node registration and player placement.
	mu    sync.Mutex
	nodes map[string]*Node
}

// NewClient builds a Client. Missing collaborators get safe defaults.
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		userID:       cfg.UserID,
		voice:        cfg.Voice,
		sink:         cfg.Sink,
		selector:     cfg.Selector,
		tokens:       cfg.Tokens,
		dialer:       cfg.Dialer,
		probeTimeout: cfg.ProbeTimeout,
		writeTimeout: cfg.WriteTimeout,
		now:          cfg.Clock,
		rest:         NewRESTClient(cfg.REST),
		playerInit:   cfg.PlayerInit,
		nodes:        make(map[string]*Node),
	}
	if c.voice == nil {
		c.voice = missingVoice{}
	}
	if c.sink == nil {
		c.sink = discardSink{}
	}
	if c.selector == nil {
		c.selector = RandomSelector
	}
	if c.dialer == nil {
		hs := cfg.HandshakeTimeout
		if hs <= 0 {
			hs = DefaultHandshakeTimeout
		}
		c.dialer = &websocket.Dialer{HandshakeTimeout: hs}
	}
	if c.probeTimeout <= 0 {
		c.probeTimeout = DefaultProbeTimeout
	}
	if c.writeTimeout <= 0 {
		c.writeTimeout = DefaultWriteTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// UserID returns the bot's user id.
func (c *Client) UserID() string {
	return c.userID
}

// ===================================================================================================
// Nodes
// ===================================================================================================

// AddNode registers a node without connecting it. It fails with
// ErrDuplicateIdentifier if the identifier is taken. A stored resume id is
// loaded from the token store.
func (c *Client) AddNode(cfg NodeConfig) (*Node, error) {
	c.mu.Lock()
	if _, exists := c.nodes[cfg.Identifier]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("node %q: %w", cfg.Identifier, ErrDuplicateIdentifier)
	}
	n := newNode(c, cfg)
	c.nodes[cfg.Identifier] = n
	c.mu.Unlock()

	if c.tokens != nil {
		id, err := c.tokens.LoadResumeID(cfg.Identifier)
		if err != nil {
			n.log.Debug().Err(err).Msg("No stored resume id")
		} else if id != "" {
			n.SetResumeID(id)
		}
	}
	return n, nil
}

// CreateNode registers and connects a node. A node that fails to connect
// is not left registered.
func (c *Client) CreateNode(ctx context.Context, cfg NodeConfig) (*Node, error) {
	n, err := c.AddNode(cfg)
	if err != nil {
		return nil, err
	}
	if err := n.Connect(ctx); err != nil {
		c.removeNode(n)
		return nil, err
	}
	return n, nil
}

// Node returns the node registered under identifier.
func (c *Client) Node(identifier string) (*Node, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[identifier]
	return n, ok
}

// Nodes returns the registered nodes ordered by identifier.
func (c *Client) Nodes() []*Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodesLocked()
}

func (c *Client) nodesLocked() []*Node {
	out := make([]*Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier() < out[j].Identifier() })
	return out
}

// GetNode picks an available node with the configured selector.
func (c *Client) GetNode() (*Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectLocked()
}

func (c *Client) selectLocked() (*Node, error) {
	var avail []*Node
	for _, n := range c.nodesLocked() {
		if n.Available() {
			avail = append(avail, n)
		}
	}
	if len(avail) == 0 {
		return nil, ErrNoNodesAvailable
	}
	n := c.selector.Select(avail)
	if n == nil {
		return nil, ErrNoNodesAvailable
	}
	return n, nil
}

func (c *Client) removeNode(n *Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nodes[n.Identifier()] == n {
		delete(c.nodes, n.Identifier())
	}
}

// ===================================================================================================
// Players
// ===================================================================================================

// Player returns the existing player for guildID on any node.
func (c *Client) Player(guildID string) (*Player, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.playerLocked(guildID)
	return p, p != nil
}

func (c *Client) playerLocked(guildID string) *Player {
	for _, n := range c.nodes {
		if p := n.Player(guildID); p != nil {
			return p
		}
	}
	return nil
}

// Players returns every player across all nodes.
func (c *Client) Players() []*Player {
	var out []*Player
	for _, n := range c.Nodes() {
		out = append(out, n.Players()...)
	}
	return out
}

// GetOrCreatePlayer returns the guild's player, creating it on a selected
// node if none exists. Concurrent calls for one guild return the same player.
// The init hooks only run when a player is created.
func (c *Client) GetOrCreatePlayer(ctx context.Context, guildID string, inits ...PlayerInit) (*Player, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p := c.playerLocked(guildID); p != nil {
		return p, nil
	}
	return c.createPlayerLocked(ctx, guildID, inits)
}

// CreatePlayer creates a player for guildID and fails with
// ErrPlayerAlreadyExists if one exists on any node.
func (c *Client) CreatePlayer(ctx context.Context, guildID string, inits ...PlayerInit) (*Player, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p := c.playerLocked(guildID); p != nil {
		return nil, fmt.Errorf("guild %s on node %s: %w", guildID, p.Node().Identifier(), ErrPlayerAlreadyExists)
	}
	return c.createPlayerLocked(ctx, guildID, inits)
}

func (c *Client) createPlayerLocked(ctx context.Context, guildID string, inits []PlayerInit) (*Player, error) {
	n, err := c.selectLocked()
	if err != nil {
		return nil, err
	}
	p := newPlayer(c, n, guildID)
	if c.playerInit != nil {
		c.playerInit(p)
	}
	for _, fn := range inits {
		if fn != nil {
			fn(p)
		}
	}
	n.addPlayer(p)
	logging.Ctx(ctx).Debug().Str("guild_id", guildID).Str("node", n.Identifier()).Msg("Player created")
	return p, nil
}

// movePlayer re-homes p from old to target under the registry lock. It
// fails when target has left the registry.
func (c *Client) movePlayer(p *Player, old, target *Node) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nodes[target.Identifier()] != target {
		return fmt.Errorf("node %s: %w", target.Identifier(), ErrNodeClosed)
	}
	if old != nil {
		old.removePlayer(p)
	}
	p.setNode(target)
	target.addPlayer(p)
	return nil
}

// ===================================================================================================
// Discord voice routing
// ===================================================================================================

// Discord gateway dispatch types the client consumes.
const (
	DispatchVoiceServerUpdate = "VOICE_SERVER_UPDATE"
	DispatchVoiceStateUpdate  = "VOICE_STATE_UPDATE"
)

type gatewayDispatch struct {
	Type string          `json:"t"`
	Data json.RawMessage `json:"d"`
}

// RouteVoiceUpdate routes a raw Discord gateway dispatch frame ({"t":..., "d":...}).
// Other dispatch types, frames for guilds without a player and voice states
// of other users are ignored without error.
func (c *Client) RouteVoiceUpdate(ctx context.Context, raw []byte) error {
	var d gatewayDispatch
	if err := json.Unmarshal(raw, &d); err != nil {
		return fmt.Errorf("decode gateway dispatch: %w", err)
	}
	switch d.Type {
	case DispatchVoiceServerUpdate:
		return c.HandleVoiceServerUpdate(ctx, d.Data)
	case DispatchVoiceStateUpdate:
		var vs VoiceState
		if err := json.Unmarshal(d.Data, &vs); err != nil {
			return fmt.Errorf("decode voice state: %w", err)
		}
		return c.HandleVoiceStateUpdate(ctx, vs)
	default:
		return nil
	}
}

// HandleVoiceStateUpdate forwards the bot's own voice state to its player.
func (c *Client) HandleVoiceStateUpdate(ctx context.Context, vs VoiceState) error {
	if vs.UserID != c.userID {
		return nil
	}
	p, ok := c.Player(vs.GuildID)
	if !ok {
		return nil
	}
	return p.VoiceStateUpdate(ctx, vs)
}

// HandleVoiceServerUpdate forwards a VOICE_SERVER_UPDATE payload to its
// player. event is the raw "d" object, passed to the node unchanged.
func (c *Client) HandleVoiceServerUpdate(ctx context.Context, event json.RawMessage) error {
	var hdr struct {
		GuildID string `json:"guild_id"`
	}
	if err := json.Unmarshal(event, &hdr); err != nil {
		return fmt.Errorf("decode voice server update: %w", err)
	}
	p, ok := c.Player(hdr.GuildID)
	if !ok {
		return nil
	}
	return p.VoiceServerUpdate(ctx, event)
}

// ===================================================================================================
// Shutdown
// ===================================================================================================

// Close disconnects every node.
func (c *Client) Close(ctx context.Context) error {
	for _, n := range c.Nodes() {
		if err := n.Disconnect(ctx); err != nil {
			logging.Warn().Err(err).Str("node", n.Identifier()).Msg("Node disconnect failed")
		}
	}
	return nil
}
