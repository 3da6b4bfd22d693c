// Package gameclient connects to the game-side control server over a
// WebSocket and implements the agent capability surface on top of its JSON
// protocol.
//
// The server pushes world-state snapshots (position, health, entities,
// blocks, inventory) and game events (chat, hurt, time, attack-stopped);
// the client caches the snapshots for the Perception queries and forwards
// the events to the subscribed callback set. Action requests carry a
// sequence ID; blocking actions (navigation, collect, sleep) wait for the
// matching result message.
package gameclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/bloopmc/bloop/internal/agent"
	"github.com/bloopmc/bloop/pkg/types"
)

// Compile-time interface checks.
var (
	_ agent.Capability  = (*Client)(nil)
	_ agent.EventSource = (*Client)(nil)
)

// ErrClosed is returned for requests issued after the connection ended.
var ErrClosed = errors.New("gameclient: connection closed")

// request is the message sent to the control server.
type request struct {
	ID     uint64      `json:"id,omitempty"`
	Type   string      `json:"type"`
	Text   string      `json:"text,omitempty"`
	Player string      `json:"player,omitempty"`
	Entity string      `json:"entity,omitempty"`
	Item   string      `json:"item,omitempty"`
	Slot   *int        `json:"slot,omitempty"`
	Pos    *types.Vec3 `json:"pos,omitempty"`
}

// message is the envelope received from the control server.
type message struct {
	ID     uint64          `json:"id,omitempty"`
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
	Status string          `json:"status,omitempty"`
}

// stateSnapshot is the world-state payload pushed by the server.
type stateSnapshot struct {
	Position  *types.Vec3         `json:"position,omitempty"`
	Health    *types.HealthSample `json:"health,omitempty"`
	TimeOfDay *int                `json:"time_of_day,omitempty"`
	Entities  []types.Entity      `json:"entities,omitempty"`
	Blocks    []types.Block       `json:"blocks,omitempty"`
	Inventory []types.Item        `json:"inventory,omitempty"`
}

type chatPayload struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

type hurtPayload struct {
	Attacker types.Entity `json:"attacker"`
}

// Client is a connected game-control session.
type Client struct {
	conn *websocket.Conn
	log  *slog.Logger

	mu        sync.Mutex
	seq       uint64
	pending   map[uint64]chan message
	events    agent.Events
	closed    bool
	closeOnce sync.Once

	stateMu   sync.RWMutex
	pos       types.Vec3
	health    types.HealthSample
	timeOfDay int
	entities  []types.Entity
	blocks    []types.Block
	inventory []types.Item
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// Dial connects to the control server at url, joins as agentName and starts
// the read loop. The caller owns the returned client and must Close it.
func Dial(ctx context.Context, url, agentName string, opts ...Option) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("gameclient: dial %q: %w", url, err)
	}
	// World snapshots can be large.
	conn.SetReadLimit(1 << 22)

	c := &Client{
		conn:    conn,
		log:     slog.Default(),
		pending: make(map[uint64]chan message),
	}
	for _, opt := range opts {
		opt(c)
	}

	join, _ := json.Marshal(request{Type: "join", Player: agentName})
	if err := conn.Write(ctx, websocket.MessageText, join); err != nil {
		conn.Close(websocket.StatusInternalError, "join failed")
		return nil, fmt.Errorf("gameclient: join: %w", err)
	}

	go c.readLoop()
	return c, nil
}

// Subscribe implements [agent.EventSource].
func (c *Client) Subscribe(ev agent.Events) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = ev
}

// Close ends the session. Pending blocking requests fail with [ErrClosed].
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.mu.Unlock()
		c.conn.Close(websocket.StatusNormalClosure, "bye")
	})
	return nil
}

func (c *Client) readLoop() {
	for {
		_, raw, err := c.conn.Read(context.Background())
		if err != nil {
			c.handleDisconnect(err)
			return
		}
		var msg message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Warn("undecodable message from server", "error", err)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) handleDisconnect(cause error) {
	c.mu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	ev := c.events
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if alreadyClosed {
		return
	}
	c.log.Warn("game connection lost", "error", cause)
	if ev.OnDisconnect != nil {
		ev.OnDisconnect(cause.Error())
	}
}

func (c *Client) dispatch(msg message) {
	if msg.ID != 0 {
		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		if ok {
			delete(c.pending, msg.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- msg
		}
		return
	}

	c.mu.Lock()
	ev := c.events
	c.mu.Unlock()

	switch msg.Type {
	case "state":
		c.applyState(msg.Data)
	case "chat":
		var p chatPayload
		if err := json.Unmarshal(msg.Data, &p); err == nil && ev.OnChat != nil {
			ev.OnChat(p.From, p.Message)
		}
	case "whisper":
		var p chatPayload
		if err := json.Unmarshal(msg.Data, &p); err == nil && ev.OnWhisper != nil {
			ev.OnWhisper(p.From, p.Message)
		}
	case "health":
		var h types.HealthSample
		if err := json.Unmarshal(msg.Data, &h); err == nil {
			c.stateMu.Lock()
			c.health = h
			c.stateMu.Unlock()
			if ev.OnHealth != nil {
				ev.OnHealth(h)
			}
		}
	case "hurt":
		var p hurtPayload
		if err := json.Unmarshal(msg.Data, &p); err == nil && ev.OnHurt != nil {
			ev.OnHurt(p.Attacker)
		}
	case "time":
		var tod int
		if err := json.Unmarshal(msg.Data, &tod); err == nil {
			c.stateMu.Lock()
			c.timeOfDay = tod
			c.stateMu.Unlock()
			if ev.OnTime != nil {
				ev.OnTime(tod)
			}
		}
	case "attack_stopped":
		var reason string
		_ = json.Unmarshal(msg.Data, &reason)
		if ev.OnAttackStopped != nil {
			ev.OnAttackStopped(reason)
		}
	case "spawn":
		if ev.OnSpawn != nil {
			ev.OnSpawn()
		}
	case "death":
		if ev.OnDeath != nil {
			ev.OnDeath()
		}
	default:
		c.log.Debug("unhandled server message", "type", msg.Type)
	}
}

func (c *Client) applyState(data json.RawMessage) {
	var s stateSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		c.log.Warn("undecodable state snapshot", "error", err)
		return
	}
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if s.Position != nil {
		c.pos = *s.Position
	}
	if s.Health != nil {
		c.health = *s.Health
	}
	if s.TimeOfDay != nil {
		c.timeOfDay = *s.TimeOfDay
	}
	if s.Entities != nil {
		c.entities = s.Entities
	}
	if s.Blocks != nil {
		c.blocks = s.Blocks
	}
	if s.Inventory != nil {
		c.inventory = s.Inventory
	}
}

// send writes req without waiting for a result.
func (c *Client) send(req request) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("gameclient: encode %s: %w", req.Type, err)
	}
	if err := c.conn.Write(context.Background(), websocket.MessageText, raw); err != nil {
		return fmt.Errorf("gameclient: send %s: %w", req.Type, err)
	}
	return nil
}

// call writes req with a sequence ID and blocks until the matching result
// arrives, the connection ends, or ctx is cancelled.
func (c *Client) call(ctx context.Context, req request) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.seq++
	req.ID = c.seq
	ch := make(chan message, 1)
	c.pending[req.ID] = ch
	c.mu.Unlock()

	raw, err := json.Marshal(req)
	if err != nil {
		c.forget(req.ID)
		return fmt.Errorf("gameclient: encode %s: %w", req.Type, err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, raw); err != nil {
		c.forget(req.ID)
		return fmt.Errorf("gameclient: send %s: %w", req.Type, err)
	}

	select {
	case <-ctx.Done():
		c.forget(req.ID)
		return ctx.Err()
	case msg, ok := <-ch:
		if !ok {
			return ErrClosed
		}
		return resultError(req.Type, msg)
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// resultError maps a result message onto the capability error contract.
func resultError(reqType string, msg message) error {
	switch msg.Status {
	case "", "ok":
		return nil
	case "partial":
		return agent.ErrGoalPartial
	case "no_path":
		return agent.ErrNoPath
	default:
		if msg.Error != "" {
			return fmt.Errorf("gameclient: %s: %s", reqType, msg.Error)
		}
		return fmt.Errorf("gameclient: %s: status %q", reqType, msg.Status)
	}
}

// --- Perception ---

func (c *Client) Position() types.Vec3 {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.pos
}

func (c *Client) Health() types.HealthSample {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.health
}

func (c *Client) TimeOfDay() int {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.timeOfDay
}

func (c *Client) Player(name string) (types.Entity, bool) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	for _, e := range c.entities {
		if e.Kind == types.EntityPlayer && e.Name == name {
			return e, true
		}
	}
	return types.Entity{}, false
}

func (c *Client) Entities() []types.Entity {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	out := make([]types.Entity, len(c.entities))
	copy(out, c.entities)
	return out
}

func (c *Client) NearestBlock(match func(string) bool, maxDistance float64) (types.Block, bool) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	var (
		best     types.Block
		bestDist float64
		found    bool
	)
	for _, b := range c.blocks {
		if !match(b.Name) {
			continue
		}
		d := c.pos.DistanceTo(b.Position)
		if d > maxDistance {
			continue
		}
		if !found || d < bestDist {
			best, bestDist, found = b, d, true
		}
	}
	return best, found
}

func (c *Client) Inventory() []types.Item {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	out := make([]types.Item, len(c.inventory))
	copy(out, c.inventory)
	return out
}

// --- Chatter ---

func (c *Client) Say(text string) {
	if err := c.send(request{Type: "say", Text: text}); err != nil {
		c.log.Warn("say failed", "error", err)
	}
}

func (c *Client) Whisper(player, text string) {
	if err := c.send(request{Type: "whisper", Player: player, Text: text}); err != nil {
		c.log.Warn("whisper failed", "player", player, "error", err)
	}
}

// --- Navigator ---

func (c *Client) Goto(ctx context.Context, pos types.Vec3) error {
	return c.call(ctx, request{Type: "goto", Pos: &pos})
}

func (c *Client) GotoFallback(ctx context.Context, pos types.Vec3) error {
	return c.call(ctx, request{Type: "goto_fallback", Pos: &pos})
}

func (c *Client) Follow(ctx context.Context, entityID string) error {
	return c.call(ctx, request{Type: "follow", Entity: entityID})
}

func (c *Client) StopNavigation() {
	if err := c.send(request{Type: "stop_nav"}); err != nil && !errors.Is(err, ErrClosed) {
		c.log.Warn("stop navigation failed", "error", err)
	}
}

// --- Combatant ---

func (c *Client) Attack(ctx context.Context, entityID string) error {
	return c.call(ctx, request{Type: "attack", Entity: entityID})
}

func (c *Client) RangedAttack(ctx context.Context, entityID string) error {
	return c.call(ctx, request{Type: "ranged_attack", Entity: entityID})
}

func (c *Client) StopAttack() {
	if err := c.send(request{Type: "stop_attack"}); err != nil && !errors.Is(err, ErrClosed) {
		c.log.Warn("stop attack failed", "error", err)
	}
}

// --- Inventory ---

func (c *Client) Equip(ctx context.Context, item string) error {
	return c.call(ctx, request{Type: "equip", Item: item})
}

func (c *Client) Consume(ctx context.Context, item string) error {
	return c.call(ctx, request{Type: "consume", Item: item})
}

func (c *Client) TossStack(ctx context.Context, slot int) error {
	return c.call(ctx, request{Type: "toss", Slot: &slot})
}

// --- Actions ---

func (c *Client) Collect(ctx context.Context, block types.Block) error {
	return c.call(ctx, request{Type: "collect", Item: block.Name, Pos: &block.Position})
}

func (c *Client) Sleep(ctx context.Context) error {
	return c.call(ctx, request{Type: "sleep"})
}

func (c *Client) SetSpawn(ctx context.Context) error {
	return c.call(ctx, request{Type: "setspawn"})
}
