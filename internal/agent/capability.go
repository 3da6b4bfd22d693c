// Package agent defines the capability interfaces through which the command
// pipeline drives the controlled game character.
//
// The game-protocol client, the pathfinding engines, and the combat plugin
// are external collaborators; this package specifies only the surface the
// core needs: perceive, chat, navigate, fight, manage inventory. The
// reference implementation lives in internal/gameclient; tests use
// internal/agent/mock.
//
// Every blocking call takes a context and must return promptly on
// cancellation. Callers must assume the underlying engines keep acting until
// explicitly told to stop: cancelling the context of a Goto does not halt
// the agent's legs — call StopNavigation.
package agent

import (
	"context"
	"errors"

	"github.com/bloopmc/bloop/pkg/types"
)

// ErrGoalPartial is returned by Goto when the primary pathfinding engine
// reports repeated stagnation short of the goal. The executor falls back to
// the secondary engine in that case.
var ErrGoalPartial = errors.New("agent: goal reached partially")

// ErrNoPath is returned when an engine cannot produce any route at all.
var ErrNoPath = errors.New("agent: no path to goal")

// Perception is the read/query surface over the agent's world state.
type Perception interface {
	// Position returns the agent's current position.
	Position() types.Vec3

	// Health returns the latest health/food telemetry.
	Health() types.HealthSample

	// TimeOfDay returns the in-game time in ticks (0..23999).
	TimeOfDay() int

	// Player resolves a currently visible player by exact name.
	Player(name string) (types.Entity, bool)

	// Entities returns all currently visible entities.
	Entities() []types.Entity

	// NearestBlock finds the closest block within maxDistance whose name
	// satisfies match.
	NearestBlock(match func(name string) bool, maxDistance float64) (types.Block, bool)

	// Inventory returns the agent's current inventory stacks.
	Inventory() []types.Item
}

// Chatter sends chat output.
type Chatter interface {
	// Say speaks in public chat.
	Say(text string)

	// Whisper sends a private message to player.
	Whisper(player, text string)
}

// Navigator drives the agent's movement engines.
type Navigator interface {
	// Goto issues an exact-position goal to the primary pathfinding
	// engine and blocks until the goal is reached, fails, or ctx is
	// cancelled. Repeated stagnation surfaces as [ErrGoalPartial].
	Goto(ctx context.Context, pos types.Vec3) error

	// GotoFallback issues the goal through the secondary engine, which
	// uses a different movement model. Used after [ErrGoalPartial].
	GotoFallback(ctx context.Context, pos types.Vec3) error

	// Follow sets a continuous following goal on entityID, re-evaluated
	// as the target moves. It blocks until superseded, stopped, or ctx
	// is cancelled.
	Follow(ctx context.Context, entityID string) error

	// StopNavigation halts all movement engines immediately.
	StopNavigation()
}

// Combatant drives the melee and ranged combat plugins.
type Combatant interface {
	// Attack engages entityID in melee and returns once the engagement
	// has started. The end of combat is reported through the
	// attack-stopped event, not the return of this call.
	Attack(ctx context.Context, entityID string) error

	// RangedAttack engages entityID with the ranged plugin.
	RangedAttack(ctx context.Context, entityID string) error

	// StopAttack halts melee and ranged combat immediately.
	StopAttack()
}

// Inventory performs inventory mutations.
type Inventory interface {
	// Equip wields the named item. Fails if the item is not held.
	Equip(ctx context.Context, item string) error

	// Consume eats/drinks the named item.
	Consume(ctx context.Context, item string) error

	// TossStack discards the entire stack in the given slot toward the
	// agent's current facing.
	TossStack(ctx context.Context, slot int) error
}

// Actions covers the remaining world interactions.
type Actions interface {
	// Collect paths to block and harvests it, blocking until done.
	Collect(ctx context.Context, block types.Block) error

	// Sleep finds and uses a bed, blocking until woken or failed.
	Sleep(ctx context.Context) error

	// SetSpawn sets the agent's respawn point at its current position.
	SetSpawn(ctx context.Context) error
}

// Capability is the full control surface the pipeline needs.
type Capability interface {
	Perception
	Chatter
	Navigator
	Combatant
	Inventory
	Actions
}

// Events is the set of callbacks a capability implementation delivers.
// Nil fields are skipped. Callbacks run on the event-ingest goroutine and
// must not block.
type Events struct {
	OnChat          func(from, message string)
	OnWhisper       func(from, message string)
	OnHealth        func(sample types.HealthSample)
	OnHurt          func(attacker types.Entity)
	OnTime          func(timeOfDay int)
	OnAttackStopped func(reason string)
	OnSpawn         func()
	OnDeath         func()
	OnDisconnect    func(reason string)
}

// EventSource is implemented by capabilities that emit game events.
type EventSource interface {
	// Subscribe registers the callback set. A second call replaces the
	// previous one.
	Subscribe(ev Events)
}
