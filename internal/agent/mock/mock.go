// Package mock provides a scriptable test double for [agent.Capability].
//
// Configure world state by setting the exported fields, then inspect the
// recorded call lists. All methods are safe for concurrent use.
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/bloopmc/bloop/internal/agent"
	"github.com/bloopmc/bloop/pkg/types"
)

// Compile-time interface checks.
var (
	_ agent.Capability  = (*Capability)(nil)
	_ agent.EventSource = (*Capability)(nil)
)

// Capability is a mock implementation of [agent.Capability].
// The zero value is usable; populate the world-state fields as needed.
type Capability struct {
	mu sync.Mutex

	// --- World state ---

	Pos       types.Vec3
	Telemetry types.HealthSample
	Time      int
	Players   map[string]types.Entity
	Visible   []types.Entity
	Blocks    []types.Block
	Items     []types.Item

	// --- Injected behavior ---

	// GotoFunc, when set, replaces the default Goto behavior. The call
	// is still recorded.
	GotoFunc func(ctx context.Context, pos types.Vec3) error

	// --- Injected errors ---

	GotoErr         error
	GotoFallbackErr error
	FollowErr       error
	AttackErr       error
	RangedErr       error
	EquipErr        error
	ConsumeErr      error
	TossErr         error
	CollectErr      error
	SleepErr        error
	SetSpawnErr     error

	// EquipFailFor lists item names whose Equip fails even when EquipErr
	// is nil, for testing per-weapon fallback.
	EquipFailFor []string

	// --- Recorded calls ---

	SaidMessages    []string
	Whispers        []Whisper
	GotoCalls       []types.Vec3
	FallbackCalls   []types.Vec3
	FollowCalls     []string
	StopNavCalls    int
	AttackCalls     []string
	RangedCalls     []string
	StopAttackCalls int
	EquipCalls      []string
	ConsumeCalls    []string
	TossCalls       []int
	CollectCalls    []types.Block
	SleepCalls      int
	SetSpawnCalls   int

	events agent.Events
}

// Whisper records one Whisper invocation.
type Whisper struct {
	Player  string
	Message string
}

// --- Perception ---

func (c *Capability) Position() types.Vec3 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Pos
}

func (c *Capability) Health() types.HealthSample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Telemetry
}

func (c *Capability) TimeOfDay() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Time
}

func (c *Capability) Player(name string) (types.Entity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.Players[name]
	return e, ok
}

func (c *Capability) Entities() []types.Entity {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Entity, len(c.Visible))
	copy(out, c.Visible)
	return out
}

func (c *Capability) NearestBlock(match func(string) bool, maxDistance float64) (types.Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.Blocks {
		if match(b.Name) && c.Pos.DistanceTo(b.Position) <= maxDistance {
			return b, true
		}
	}
	return types.Block{}, false
}

func (c *Capability) Inventory() []types.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Item, len(c.Items))
	copy(out, c.Items)
	return out
}

// --- Chatter ---

func (c *Capability) Say(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SaidMessages = append(c.SaidMessages, text)
}

func (c *Capability) Whisper(player, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Whispers = append(c.Whispers, Whisper{Player: player, Message: text})
}

// --- Navigator ---

func (c *Capability) Goto(ctx context.Context, pos types.Vec3) error {
	c.mu.Lock()
	c.GotoCalls = append(c.GotoCalls, pos)
	err := c.GotoErr
	fn := c.GotoFunc
	c.mu.Unlock()
	if fn != nil {
		return fn(ctx, pos)
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (c *Capability) GotoFallback(ctx context.Context, pos types.Vec3) error {
	c.mu.Lock()
	c.FallbackCalls = append(c.FallbackCalls, pos)
	err := c.GotoFallbackErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (c *Capability) Follow(ctx context.Context, entityID string) error {
	c.mu.Lock()
	c.FollowCalls = append(c.FollowCalls, entityID)
	err := c.FollowErr
	c.mu.Unlock()
	return err
}

func (c *Capability) StopNavigation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StopNavCalls++
}

// --- Combatant ---

func (c *Capability) Attack(ctx context.Context, entityID string) error {
	c.mu.Lock()
	c.AttackCalls = append(c.AttackCalls, entityID)
	err := c.AttackErr
	c.mu.Unlock()
	return err
}

func (c *Capability) RangedAttack(ctx context.Context, entityID string) error {
	c.mu.Lock()
	c.RangedCalls = append(c.RangedCalls, entityID)
	err := c.RangedErr
	c.mu.Unlock()
	return err
}

func (c *Capability) StopAttack() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StopAttackCalls++
}

// --- Inventory ---

func (c *Capability) Equip(ctx context.Context, item string) error {
	c.mu.Lock()
	c.EquipCalls = append(c.EquipCalls, item)
	err := c.EquipErr
	for _, fail := range c.EquipFailFor {
		if strings.EqualFold(fail, item) {
			err = agent.ErrNoPath // any non-nil error will do for tests
		}
	}
	c.mu.Unlock()
	return err
}

func (c *Capability) Consume(ctx context.Context, item string) error {
	c.mu.Lock()
	c.ConsumeCalls = append(c.ConsumeCalls, item)
	err := c.ConsumeErr
	c.mu.Unlock()
	return err
}

func (c *Capability) TossStack(ctx context.Context, slot int) error {
	c.mu.Lock()
	c.TossCalls = append(c.TossCalls, slot)
	err := c.TossErr
	c.mu.Unlock()
	return err
}

// --- Actions ---

func (c *Capability) Collect(ctx context.Context, block types.Block) error {
	c.mu.Lock()
	c.CollectCalls = append(c.CollectCalls, block)
	err := c.CollectErr
	c.mu.Unlock()
	return err
}

func (c *Capability) Sleep(ctx context.Context) error {
	c.mu.Lock()
	c.SleepCalls++
	err := c.SleepErr
	c.mu.Unlock()
	return err
}

func (c *Capability) SetSpawn(ctx context.Context) error {
	c.mu.Lock()
	c.SetSpawnCalls++
	err := c.SetSpawnErr
	c.mu.Unlock()
	return err
}

// --- EventSource ---

func (c *Capability) Subscribe(ev agent.Events) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = ev
}

// Emit returns the currently subscribed event set so tests can fire events.
func (c *Capability) Emit() agent.Events {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events
}

// --- Race-safe accessors for concurrent tests ---

// GotoLog returns a copy of the recorded Goto positions.
func (c *Capability) GotoLog() []types.Vec3 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Vec3, len(c.GotoCalls))
	copy(out, c.GotoCalls)
	return out
}

// SaidLog returns a copy of the recorded Say messages.
func (c *Capability) SaidLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.SaidMessages))
	copy(out, c.SaidMessages)
	return out
}

// AttackLog returns a copy of the recorded Attack targets.
func (c *Capability) AttackLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.AttackCalls))
	copy(out, c.AttackCalls)
	return out
}

// ConsumeLog returns a copy of the recorded Consume items.
func (c *Capability) ConsumeLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.ConsumeCalls))
	copy(out, c.ConsumeCalls)
	return out
}

// Stops returns the recorded StopAttack and StopNavigation counts.
func (c *Capability) Stops() (attack, nav int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.StopAttackCalls, c.StopNavCalls
}

// SleepCount returns the recorded Sleep call count.
func (c *Capability) SleepCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.SleepCalls
}
