// Package arbiter decides which autonomous behaviors may run at any
// instant and resolves conflicts between them.
//
// Foreground behaviors (combat, fleeing, sleeping) are mutually exclusive;
// eating, guarding and collecting are background flags. Priority, highest
// first: fleeing, explicit stop, combat, sleeping, eating/collecting, idle
// navigation. Taking damage pre-empts everything else because losing the
// agent to death is the costliest failure mode.
//
// Event handlers mutate state under a single mutex and hand blocking work
// (navigation, eating, sleeping) to goroutines whose re-entry is guarded by
// the behavior flags. Stop and the fleeing transition are the only two
// cancellation triggers; both issue explicit stop calls to the underlying
// engines rather than merely abandoning in-flight calls, since the engines
// keep acting until told otherwise.
package arbiter

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bloopmc/bloop/internal/agent"
	"github.com/bloopmc/bloop/internal/observe"
	"github.com/bloopmc/bloop/internal/resilience"
	"github.com/bloopmc/bloop/internal/store"
	"github.com/bloopmc/bloop/pkg/types"
)

// ErrFleeing is returned when a behavior cannot start because the agent is
// currently fleeing.
var ErrFleeing = errors.New("arbiter: fleeing takes priority")

const (
	// Night window in game ticks during which a bed is usable.
	nightStart = 12541
	nightEnd   = 23458

	// How far from the nearest hostile the flee goal is placed.
	fleeDistance = 16.0

	// Hostiles within this range of the guarded player are engaged.
	guardRadius = 16.0

	// The guard loop walks back to the guarded player beyond this range.
	guardFollowDistance = 4.0

	// Food/health levels below which opportunistic eating triggers.
	eatFoodThreshold   = 14.0
	eatHealthThreshold = 14.0

	eatAttempts = 3

	defaultGuardInterval  = 2 * time.Second
	defaultSuppressWindow = 10 * time.Second
)

// foodNames lists inventory items the eat loop will consume.
var foodNames = []string{
	"golden_apple", "cooked_beef", "cooked_porkchop", "cooked_mutton",
	"cooked_chicken", "cooked_cod", "cooked_salmon", "baked_potato",
	"bread", "apple", "carrot", "melon_slice",
}

// State is a point-in-time snapshot of the arbiter's behavior flags.
type State struct {
	CombatTarget string // entity ID, empty when not in combat
	Fleeing      bool
	Sleeping     bool
	Eating       bool
	Guarding     string // player name, empty when not guarding
	Collecting   bool
}

// Arbiter owns the live behavior state of one agent.
type Arbiter struct {
	caps     agent.Capability
	settings *store.Settings
	log      *slog.Logger
	limiter  *resilience.LogLimiter
	metrics  *observe.Metrics

	guardInterval time.Duration

	mu            sync.Mutex
	combatTarget  string
	fleeing       bool
	sleeping      bool
	eating        bool
	guarded       string
	collecting    bool
	guardNav      bool
	navCancel     context.CancelFunc
	collectCancel context.CancelFunc
	fleeCancel    context.CancelFunc
	sleepCancel   context.CancelFunc
	eatCancel     context.CancelFunc

	// Generation counters for the flee/sleep/eat goroutines. Each start
	// bumps its counter; the goroutine only clears state if it still owns
	// the current generation. A cancelled attempt returning late must not
	// clobber a successor's flag and cancel handle.
	fleeSeq  uint64
	sleepSeq uint64
	eatSeq   uint64
}

// Option configures an Arbiter.
type Option func(*Arbiter)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(a *Arbiter) { a.log = log }
}

// WithMetrics enables behavior-transition metrics. Defaults to none.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Arbiter) { a.metrics = m }
}

// WithGuardInterval sets the guard loop's re-discovery period.
func WithGuardInterval(d time.Duration) Option {
	return func(a *Arbiter) { a.guardInterval = d }
}

// WithSuppressWindow sets the repeat-error suppression window used for
// flee failures.
func WithSuppressWindow(d time.Duration) Option {
	return func(a *Arbiter) { a.limiter = resilience.NewLogLimiter(d) }
}

// New creates an Arbiter driving caps, consulting settings for the
// auto-behavior toggles and thresholds.
func New(caps agent.Capability, settings *store.Settings, opts ...Option) *Arbiter {
	a := &Arbiter{
		caps:          caps,
		settings:      settings,
		log:           slog.Default(),
		limiter:       resilience.NewLogLimiter(defaultSuppressWindow),
		guardInterval: defaultGuardInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Snapshot returns the current behavior state.
func (a *Arbiter) Snapshot() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return State{
		CombatTarget: a.combatTarget,
		Fleeing:      a.fleeing,
		Sleeping:     a.sleeping,
		Eating:       a.eating,
		Guarding:     a.guarded,
		Collecting:   a.collecting,
	}
}

// transition counts one behavior entry when metrics are enabled.
func (a *Arbiter) transition(behavior string) {
	if a.metrics != nil {
		a.metrics.RecordTransition(context.Background(), behavior)
	}
}

// Run drives the guard loop until ctx is cancelled. Event handlers work
// without Run; only guarding needs the periodic re-discovery tick.
func (a *Arbiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.guardInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.guardTick(ctx)
		}
	}
}

// --- Commands from the executor ---

// EngageCombat puts the agent into combat with target. It refuses while
// fleeing, interrupts collecting and sleeping, and reports the engagement
// start; the end of combat arrives through HandleAttackStopped.
func (a *Arbiter) EngageCombat(ctx context.Context, target types.Entity, ranged bool) error {
	a.mu.Lock()
	if a.fleeing {
		a.mu.Unlock()
		return ErrFleeing
	}
	if a.collecting && a.collectCancel != nil {
		a.collectCancel()
		a.collecting = false
	}
	if a.sleeping && a.sleepCancel != nil {
		a.sleepCancel()
		a.sleeping = false
	}
	a.combatTarget = target.ID
	a.mu.Unlock()
	a.transition("combat")

	var err error
	if ranged {
		err = a.caps.RangedAttack(ctx, target.ID)
	} else {
		err = a.caps.Attack(ctx, target.ID)
	}
	if err != nil {
		a.mu.Lock()
		if a.combatTarget == target.ID {
			a.combatTarget = ""
		}
		a.mu.Unlock()
	}
	return err
}

// BeginNav registers a foreground navigation goal and returns a context
// that is cancelled when Stop or Fleeing pre-empts it. The returned done
// func must be called when the goal resolves.
func (a *Arbiter) BeginNav(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	a.mu.Lock()
	if a.navCancel != nil {
		a.navCancel()
	}
	a.navCancel = cancel
	a.mu.Unlock()
	return ctx, func() {
		a.mu.Lock()
		if a.navCancel != nil {
			a.navCancel()
			a.navCancel = nil
		}
		a.mu.Unlock()
	}
}

// BeginCollect marks the agent as collecting and returns a context that is
// cancelled when combat, fleeing or Stop interrupts the collection.
func (a *Arbiter) BeginCollect(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	a.mu.Lock()
	if a.collectCancel != nil {
		a.collectCancel()
	}
	a.collecting = true
	a.collectCancel = cancel
	a.mu.Unlock()
	return ctx, func() {
		a.mu.Lock()
		a.collecting = false
		if a.collectCancel != nil {
			a.collectCancel()
			a.collectCancel = nil
		}
		a.mu.Unlock()
	}
}

// Guard starts guarding player. The guard loop re-discovers hostiles near
// the player on every tick of Run.
func (a *Arbiter) Guard(player string) {
	a.mu.Lock()
	a.guarded = player
	a.mu.Unlock()
	a.log.Info("guarding player", "player", player)
	a.transition("guarding")
}

// StopAll unconditionally halts navigation, combat and the guard and flee
// loops. This is the one command that is always authorized and always
// immediate; it is idempotent.
func (a *Arbiter) StopAll() {
	a.mu.Lock()
	a.combatTarget = ""
	a.fleeing = false
	a.sleeping = false
	a.eating = false
	a.guarded = ""
	a.collecting = false
	a.guardNav = false
	a.cancelAllLocked()
	a.mu.Unlock()

	// Explicit stops: the engines keep acting until told otherwise.
	a.caps.StopAttack()
	a.caps.StopNavigation()
}

// --- Event handlers ---

// HandleHealth reacts to a health sample: flee when below the threshold,
// otherwise opportunistically eat.
func (a *Arbiter) HandleHealth(sample types.HealthSample) {
	threshold := float64(a.settings.FleeHealthThreshold())
	if a.settings.AutoFlee() && sample.Health < threshold {
		a.startFlee()
		return
	}
	if !a.settings.AutoEat() {
		return
	}
	hungry := sample.Food <= eatFoodThreshold ||
		(sample.Health < eatHealthThreshold && sample.Saturation == 0)
	if hungry {
		a.startEating()
	}
}

// HandleHurt reacts to an entity-hurt event attributing attacker.
func (a *Arbiter) HandleHurt(attacker types.Entity) {
	if !a.settings.AutoDefend() {
		return
	}
	if attacker.Kind == types.EntityObject {
		return
	}
	if a.settings.IsWhitelisted(attacker.Name) {
		return
	}
	a.mu.Lock()
	busy := a.fleeing || a.combatTarget != ""
	a.mu.Unlock()
	if busy {
		return
	}
	a.log.Info("defending against attacker", "attacker", attacker.Name)
	go func() {
		if err := a.EngageCombat(context.Background(), attacker, false); err != nil {
			a.log.Warn("auto-defend engagement failed", "attacker", attacker.Name, "error", err)
		}
	}()
}

// HandleTime reacts to a time-of-day tick and starts sleeping at night.
func (a *Arbiter) HandleTime(timeOfDay int) {
	if !a.settings.AutoSleep() {
		return
	}
	if timeOfDay < nightStart || timeOfDay > nightEnd {
		return
	}
	a.mu.Lock()
	if a.sleeping || a.fleeing || a.eating || a.combatTarget != "" {
		a.mu.Unlock()
		return
	}
	a.sleeping = true
	ctx, cancel := context.WithCancel(context.Background())
	a.sleepCancel = cancel
	a.sleepSeq++
	seq := a.sleepSeq
	a.mu.Unlock()
	a.transition("sleeping")

	go func() {
		err := a.caps.Sleep(ctx)
		a.mu.Lock()
		if a.sleepSeq == seq {
			a.sleeping = false
			a.sleepCancel = nil
		}
		a.mu.Unlock()
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("sleep attempt failed", "error", err)
		}
	}()
}

// HandleAttackStopped reacts to the combat plugin's attack-stopped signal.
func (a *Arbiter) HandleAttackStopped(reason string) {
	a.mu.Lock()
	target := a.combatTarget
	a.combatTarget = ""
	a.mu.Unlock()
	if target != "" {
		a.log.Info("combat ended", "target", target, "reason", reason)
	}
}

// HandleSpawn resets all behavior state; the agent respawned.
func (a *Arbiter) HandleSpawn() { a.reset() }

// HandleDeath resets all behavior state.
func (a *Arbiter) HandleDeath() { a.reset() }

// HandleDisconnect resets all behavior state.
func (a *Arbiter) HandleDisconnect(reason string) {
	a.reset()
	a.limiter.Reset("flee")
	a.limiter.Reset("guard-nav")
}

func (a *Arbiter) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.combatTarget = ""
	a.fleeing = false
	a.sleeping = false
	a.eating = false
	a.guarded = ""
	a.collecting = false
	a.guardNav = false
	a.cancelAllLocked()
}

func (a *Arbiter) cancelAllLocked() {
	for _, cancel := range []context.CancelFunc{
		a.navCancel, a.collectCancel, a.fleeCancel, a.sleepCancel, a.eatCancel,
	} {
		if cancel != nil {
			cancel()
		}
	}
	a.navCancel = nil
	a.collectCancel = nil
	a.fleeCancel = nil
	a.sleepCancel = nil
	a.eatCancel = nil
}

// --- Fleeing ---

// startFlee transitions into Fleeing unless already fleeing. Combat,
// navigation and ranged attacks are halted before the flee goal is issued:
// cancel before redirect, or the engines queue further attacks under the
// new goal.
func (a *Arbiter) startFlee() {
	a.mu.Lock()
	if a.fleeing {
		a.mu.Unlock()
		return
	}
	a.fleeing = true
	a.combatTarget = ""
	a.sleeping = false
	a.eating = false
	a.cancelAllLocked()
	ctx, cancel := context.WithCancel(context.Background())
	a.fleeCancel = cancel
	a.fleeSeq++
	seq := a.fleeSeq
	a.mu.Unlock()

	a.caps.StopAttack()
	a.caps.StopNavigation()

	goal := a.fleeGoal()
	a.log.Info("fleeing", "goal", goal.String())
	a.transition("fleeing")

	go func() {
		err := a.caps.Goto(ctx, goal)
		a.mu.Lock()
		if a.fleeSeq == seq {
			a.fleeing = false
			a.fleeCancel = nil
		}
		a.mu.Unlock()
		if err != nil && !errors.Is(err, context.Canceled) {
			// Suppress repeats: the motion attempt is reissued on the
			// next health tick regardless.
			if a.limiter.Allow("flee") {
				a.log.Warn("flee attempt failed", "goal", goal.String(), "error", err)
			}
		}
	}()
}

// fleeGoal picks a point fleeDistance away from the agent, opposite the
// nearest hostile. Without a visible hostile any direction works.
func (a *Arbiter) fleeGoal() types.Vec3 {
	pos := a.caps.Position()
	hostile, ok := a.nearestHostile(pos)
	if !ok {
		return pos.Add(types.Vec3{X: fleeDistance})
	}
	d := pos.DistanceTo(hostile.Position)
	if d == 0 {
		return pos.Add(types.Vec3{X: fleeDistance})
	}
	away := pos.Sub(hostile.Position).Scale(fleeDistance / d)
	away.Y = 0
	return pos.Add(away)
}

func (a *Arbiter) nearestHostile(from types.Vec3) (types.Entity, bool) {
	var (
		best     types.Entity
		bestDist float64
		found    bool
	)
	for _, e := range a.caps.Entities() {
		if !e.Hostile {
			continue
		}
		d := from.DistanceTo(e.Position)
		if !found || d < bestDist {
			best, bestDist, found = e, d, true
		}
	}
	return best, found
}

// --- Eating ---

func (a *Arbiter) startEating() {
	a.mu.Lock()
	if a.eating || a.fleeing || a.sleeping {
		a.mu.Unlock()
		return
	}
	food, ok := a.findFoodLocked()
	if !ok {
		a.mu.Unlock()
		return
	}
	a.eating = true
	ctx, cancel := context.WithCancel(context.Background())
	a.eatCancel = cancel
	a.eatSeq++
	seq := a.eatSeq
	a.mu.Unlock()
	a.transition("eating")

	go func() {
		err := resilience.Retry(ctx, eatAttempts, 500*time.Millisecond, func() error {
			return a.caps.Consume(ctx, food)
		})
		a.mu.Lock()
		if a.eatSeq == seq {
			a.eating = false
			a.eatCancel = nil
		}
		a.mu.Unlock()
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("eating failed", "item", food, "error", err)
		}
	}()
}

func (a *Arbiter) findFoodLocked() (string, bool) {
	inv := a.caps.Inventory()
	for _, name := range foodNames {
		for _, item := range inv {
			if strings.EqualFold(item.Name, name) {
				return item.Name, true
			}
		}
	}
	return "", false
}

// --- Guarding ---

// guardTick runs one iteration of the guard loop: discover hostiles near
// the guarded player and engage the nearest, or walk back to the player.
// Fleeing suspends the loop without clearing the guarded player; once
// fleeing ends the loop resumes from scratch.
func (a *Arbiter) guardTick(ctx context.Context) {
	a.mu.Lock()
	player := a.guarded
	busy := a.fleeing || a.combatTarget != "" || a.guardNav
	a.mu.Unlock()
	if player == "" || busy {
		return
	}

	guarded, ok := a.caps.Player(player)
	if !ok {
		return
	}

	if hostile, ok := a.guardThreat(guarded.Position); ok {
		if err := a.EngageCombat(ctx, hostile, false); err != nil && !errors.Is(err, ErrFleeing) {
			a.log.Warn("guard engagement failed", "target", hostile.Name, "error", err)
		}
		return
	}

	if a.caps.Position().DistanceTo(guarded.Position) <= guardFollowDistance {
		return
	}
	a.mu.Lock()
	a.guardNav = true
	a.mu.Unlock()
	go func() {
		navCtx, done := a.BeginNav(ctx)
		err := a.caps.Goto(navCtx, guarded.Position)
		done()
		a.mu.Lock()
		a.guardNav = false
		a.mu.Unlock()
		if err != nil && !errors.Is(err, context.Canceled) {
			if a.limiter.Allow("guard-nav") {
				a.log.Warn("guard reposition failed", "player", player, "error", err)
			}
		}
	}()
}

// guardThreat finds the nearest non-whitelisted hostile within guardRadius
// of the guarded player.
func (a *Arbiter) guardThreat(around types.Vec3) (types.Entity, bool) {
	var (
		best     types.Entity
		bestDist float64
		found    bool
	)
	for _, e := range a.caps.Entities() {
		if !e.Hostile {
			continue
		}
		if a.settings.IsWhitelisted(e.Name) {
			continue
		}
		d := around.DistanceTo(e.Position)
		if d > guardRadius {
			continue
		}
		if !found || d < bestDist {
			best, bestDist, found = e, d, true
		}
	}
	return best, found
}
