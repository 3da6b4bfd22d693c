// Package executor maps typed commands onto the agent's capability surface.
//
// Each command variant runs a deterministic sequence of capability calls.
// Failures degrade to reported or logged outcomes; no path is allowed to
// take down the control loop. Long-running actions (navigation, chopping,
// item hand-over) run on their own goroutines under contexts registered
// with the arbiter, so Stop and the fleeing transition can cancel them.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/bloopmc/bloop/internal/agent"
	"github.com/bloopmc/bloop/internal/arbiter"
	"github.com/bloopmc/bloop/internal/command"
	"github.com/bloopmc/bloop/internal/store"
	"github.com/bloopmc/bloop/pkg/types"
)

// ErrUnknownLocation is returned by a goto with a name that is neither a
// saved location nor literal coordinates. The dispatcher hands the raw text
// to the AI translator once before reporting failure.
var ErrUnknownLocation = errors.New("executor: unknown location")

// ErrShutdown is returned for a quit command; the caller disconnects and
// exits cleanly instead of reconnecting.
var ErrShutdown = errors.New("executor: shutdown requested")

// Replier delivers feedback text to the command's issuer: chat, whisper, or
// the terminal, depending on where the command came from.
type Replier func(text string)

const (
	// Radius within which chop looks for a loggable block.
	chopRadius = 32.0

	// Minimum Jaro-Winkler similarity for a fuzzy entity-name match.
	fuzzyThreshold = 0.82

	// How many visible mob names to offer when a hunt target is not found.
	maxAlternatives = 5
)

// weaponPriority is the melee equip order, best material first.
var weaponPriority = []string{
	"netherite_sword", "diamond_sword", "iron_sword", "stone_sword",
	"golden_sword", "wooden_sword",
	"netherite_axe", "diamond_axe", "iron_axe", "stone_axe",
	"golden_axe", "wooden_axe",
}

// Executor executes typed commands against one agent.
type Executor struct {
	caps      agent.Capability
	arb       *arbiter.Arbiter
	settings  *store.Settings
	locations store.LocationStore
	log       *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(e *Executor) { e.log = log }
}

// New creates an Executor.
func New(caps agent.Capability, arb *arbiter.Arbiter, settings *store.Settings, locations store.LocationStore, opts ...Option) *Executor {
	e := &Executor{
		caps:      caps,
		arb:       arb,
		settings:  settings,
		locations: locations,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs cmd, delivering user feedback through reply. The returned
// error is reserved for pipeline-level conditions ([ErrUnknownLocation],
// [ErrShutdown], store failures); ordinary action failures are reported to
// the issuer and logged instead.
func (e *Executor) Execute(ctx context.Context, cmd types.Command, reply Replier) error {
	switch cmd.Verb {
	case types.VerbNone:
		return nil
	case types.VerbSay:
		e.caps.Say(cmd.Text)
		return nil
	case types.VerbChat:
		reply(cmd.Text)
		return nil
	case types.VerbUnknown:
		reply("Sorry, I don't know how to do that.")
		return nil
	case types.VerbHelp:
		reply(command.HelpText)
		return nil
	case types.VerbStatus:
		h := e.caps.Health()
		reply(fmt.Sprintf("Health: %.1f | Food: %.1f | Saturation: %.1f | Time: %d (%s)",
			h.Health, h.Food, h.Saturation, e.caps.TimeOfDay(), dayPhase(e.caps.TimeOfDay())))
		return nil
	case types.VerbStop:
		e.arb.StopAll()
		reply("Stopping everything.")
		return nil
	case types.VerbQuit:
		reply("Bye!")
		return ErrShutdown
	case types.VerbFollow:
		return e.follow(ctx, cmd.Player, reply)
	case types.VerbHunt:
		return e.hunt(ctx, cmd.Targets, reply)
	case types.VerbGoto:
		return e.goTo(ctx, cmd, reply)
	case types.VerbSave:
		return e.save(ctx, cmd.Location, reply)
	case types.VerbDelete:
		return e.delete(ctx, cmd.Location, reply)
	case types.VerbList:
		return e.list(ctx, reply)
	case types.VerbChop:
		return e.chop(ctx, reply)
	case types.VerbGive:
		return e.give(ctx, cmd.Player, reply)
	case types.VerbGuard:
		return e.guard(cmd.Player, reply)
	case types.VerbSetSpawn:
		return e.setSpawn(ctx, reply)
	case types.VerbToggleSetting:
		return e.toggle(cmd.Setting, cmd.On, reply)
	case types.VerbSetFleeHealth:
		return e.setFleeHealth(cmd.Value, reply)
	case types.VerbWhitelist:
		return e.whitelist(cmd.Action, cmd.Player, reply)
	default:
		return fmt.Errorf("executor: unhandled command %q", cmd.Verb)
	}
}

func (e *Executor) follow(ctx context.Context, player string, reply Replier) error {
	target, ok := e.caps.Player(player)
	if !ok {
		reply(fmt.Sprintf("I can't see %s anywhere.", player))
		return nil
	}
	reply(fmt.Sprintf("Following %s!", target.Name))
	navCtx, done := e.arb.BeginNav(ctx)
	go func() {
		defer done()
		if err := e.caps.Follow(navCtx, target.ID); err != nil && !errors.Is(err, context.Canceled) {
			e.log.Warn("follow ended with error", "player", target.Name, "error", err)
		}
	}()
	return nil
}

func (e *Executor) hunt(ctx context.Context, targets []string, reply Replier) error {
	for _, name := range targets {
		if e.settings.IsWhitelisted(name) {
			continue
		}
		target, ok := e.resolveTarget(name)
		if !ok {
			if alts := e.visibleMobNames(); len(alts) > 0 {
				reply(fmt.Sprintf("I can't find %s. I can see: %s.", name, strings.Join(alts, ", ")))
			} else {
				reply(fmt.Sprintf("I can't find %s, and nothing else is nearby.", name))
			}
			continue
		}
		if e.settings.IsWhitelisted(target.Name) {
			continue
		}

		ranged := e.hasBowAndArrows()
		if !ranged {
			e.equipBestWeapon(ctx)
		}
		err := e.arb.EngageCombat(ctx, target, ranged)
		if errors.Is(err, arbiter.ErrFleeing) {
			reply("Not now, I'm running for my life!")
			return nil
		}
		if err != nil {
			reply(fmt.Sprintf("I couldn't attack %s.", target.Name))
			e.log.Warn("attack failed", "target", target.Name, "error", err)
			continue
		}
		reply(fmt.Sprintf("Attacking %s!", target.Name))
	}
	return nil
}

func (e *Executor) goTo(ctx context.Context, cmd types.Command, reply Replier) error {
	var goal types.Vec3
	switch {
	case cmd.Location != "":
		pos, err := e.locations.Get(ctx, cmd.Location)
		if errors.Is(err, store.ErrLocationNotFound) {
			return fmt.Errorf("%w: %q", ErrUnknownLocation, cmd.Location)
		}
		if err != nil {
			return fmt.Errorf("executor: resolve location %q: %w", cmd.Location, err)
		}
		goal = pos
	case cmd.Coords != nil:
		goal = *cmd.Coords
	default:
		return fmt.Errorf("%w: goto without destination", ErrUnknownLocation)
	}

	reply(fmt.Sprintf("Heading to %s.", goal))
	navCtx, done := e.arb.BeginNav(ctx)
	go func() {
		defer done()
		err := e.caps.Goto(navCtx, goal)
		if errors.Is(err, agent.ErrGoalPartial) {
			// The primary engine stalled; the secondary engine uses a
			// different movement model as a safety net.
			e.log.Info("primary pathfinder stalled, using fallback", "goal", goal.String())
			err = e.caps.GotoFallback(navCtx, goal)
		}
		switch {
		case err == nil:
			reply("I'm here!")
		case errors.Is(err, context.Canceled):
		default:
			reply("I couldn't get there.")
			e.log.Warn("navigation failed", "goal", goal.String(), "error", err)
		}
	}()
	return nil
}

func (e *Executor) save(ctx context.Context, name string, reply Replier) error {
	pos := e.caps.Position()
	if err := e.locations.Save(ctx, name, pos); err != nil {
		return fmt.Errorf("executor: save location %q: %w", name, err)
	}
	reply(fmt.Sprintf("Saved %s at %s.", name, pos))
	return nil
}

func (e *Executor) delete(ctx context.Context, name string, reply Replier) error {
	err := e.locations.Delete(ctx, name)
	if errors.Is(err, store.ErrLocationNotFound) {
		reply(fmt.Sprintf("I don't know a place called %s.", name))
		return nil
	}
	if err != nil {
		return fmt.Errorf("executor: delete location %q: %w", name, err)
	}
	reply(fmt.Sprintf("Deleted %s.", name))
	return nil
}

func (e *Executor) list(ctx context.Context, reply Replier) error {
	locs, err := e.locations.List(ctx)
	if err != nil {
		return fmt.Errorf("executor: list locations: %w", err)
	}
	if len(locs) == 0 {
		reply("I have no saved locations.")
		return nil
	}
	names := make([]string, len(locs))
	for i, l := range locs {
		names[i] = l.Name
	}
	reply("Saved locations: " + strings.Join(names, ", "))
	return nil
}

func (e *Executor) chop(ctx context.Context, reply Replier) error {
	block, ok := e.caps.NearestBlock(isLog, chopRadius)
	if !ok {
		reply("No trees nearby.")
		return nil
	}
	reply("Chopping!")
	collectCtx, done := e.arb.BeginCollect(ctx)
	go func() {
		defer done()
		err := e.caps.Collect(collectCtx, block)
		switch {
		case err == nil:
			reply("Got the wood!")
		case errors.Is(err, context.Canceled):
		default:
			reply("I couldn't harvest that.")
			e.log.Warn("collect failed", "block", block.Name, "error", err)
		}
	}()
	return nil
}

// give walks to the target player and tosses every inventory stack. A
// single stack's failure is logged and skipped, not fatal: at least one
// attempt per item, never all-or-nothing.
func (e *Executor) give(ctx context.Context, player string, reply Replier) error {
	target, ok := e.caps.Player(player)
	if !ok {
		reply(fmt.Sprintf("I can't see %s anywhere.", player))
		return nil
	}
	reply(fmt.Sprintf("Coming to you, %s!", target.Name))
	navCtx, done := e.arb.BeginNav(ctx)
	go func() {
		defer done()
		if err := e.caps.Goto(navCtx, target.Position); err != nil {
			if !errors.Is(err, context.Canceled) {
				reply("I couldn't reach you.")
				e.log.Warn("give navigation failed", "player", target.Name, "error", err)
			}
			return
		}
		dropped := 0
		for _, item := range e.caps.Inventory() {
			if err := e.caps.TossStack(navCtx, item.Slot); err != nil {
				e.log.Warn("toss failed, skipping stack", "item", item.Name, "slot", item.Slot, "error", err)
				continue
			}
			dropped++
		}
		reply(fmt.Sprintf("Here you go, %d stacks!", dropped))
	}()
	return nil
}

func (e *Executor) guard(player string, reply Replier) error {
	if _, ok := e.caps.Player(player); !ok {
		reply(fmt.Sprintf("I can't see %s anywhere.", player))
		return nil
	}
	e.arb.Guard(player)
	reply(fmt.Sprintf("Guarding %s with my life!", player))
	return nil
}

func (e *Executor) setSpawn(ctx context.Context, reply Replier) error {
	if err := e.caps.SetSpawn(ctx); err != nil {
		reply("I couldn't set my spawn here.")
		e.log.Warn("setspawn failed", "error", err)
		return nil
	}
	reply("Spawn point set.")
	return nil
}

func (e *Executor) toggle(setting string, on bool, reply Replier) error {
	if err := e.settings.SetToggle(setting, on); err != nil {
		return fmt.Errorf("executor: toggle %q: %w", setting, err)
	}
	state := "off"
	if on {
		state = "on"
	}
	reply(fmt.Sprintf("%s is now %s.", setting, state))
	return nil
}

func (e *Executor) setFleeHealth(value int, reply Replier) error {
	if err := e.settings.SetFleeHealthThreshold(value); err != nil {
		return fmt.Errorf("executor: set flee health: %w", err)
	}
	reply(fmt.Sprintf("I'll run when my health drops below %d.", value))
	return nil
}

func (e *Executor) whitelist(action types.WhitelistAction, player string, reply Replier) error {
	switch action {
	case types.WhitelistAdd:
		if err := e.settings.AddWhitelist(player); err != nil {
			return fmt.Errorf("executor: whitelist add: %w", err)
		}
		reply(fmt.Sprintf("%s is now whitelisted.", player))
	case types.WhitelistRemove:
		if err := e.settings.RemoveWhitelist(player); err != nil {
			return fmt.Errorf("executor: whitelist remove: %w", err)
		}
		reply(fmt.Sprintf("%s is no longer whitelisted.", player))
	default:
		return fmt.Errorf("executor: unknown whitelist action %q", action)
	}
	return nil
}

// --- Target resolution ---

// resolveTarget maps a spoken name to a visible entity: exact player-list
// match first, then the best fuzzy match across visible entity names and
// display names, nearest entity winning ties.
func (e *Executor) resolveTarget(name string) (types.Entity, bool) {
	if p, ok := e.caps.Player(name); ok {
		return p, true
	}

	pos := e.caps.Position()
	var (
		best      types.Entity
		bestScore float64
		bestDist  float64
		found     bool
	)
	for _, ent := range e.caps.Entities() {
		score := nameScore(name, ent)
		if score < fuzzyThreshold {
			continue
		}
		dist := pos.DistanceTo(ent.Position)
		if !found || score > bestScore || (score == bestScore && dist < bestDist) {
			best, bestScore, bestDist, found = ent, score, dist, true
		}
	}
	return best, found
}

// nameScore is the best Jaro-Winkler similarity between input and the
// entity's name or display name, case-insensitive. Exact matches short
// circuit at 1.
func nameScore(input string, ent types.Entity) float64 {
	in := strings.ToLower(strings.TrimSpace(input))
	score := 0.0
	for _, cand := range []string{ent.Name, ent.DisplayName} {
		if cand == "" {
			continue
		}
		c := strings.ToLower(cand)
		if c == in {
			return 1
		}
		if s := matchr.JaroWinkler(in, c, false); s > score {
			score = s
		}
	}
	return score
}

// visibleMobNames returns the distinct names of visible mobs, sorted, for
// the "I can see" alternatives report.
func (e *Executor) visibleMobNames() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, ent := range e.caps.Entities() {
		if ent.Kind != types.EntityMob {
			continue
		}
		name := ent.Name
		if name == "" {
			name = ent.DisplayName
		}
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > maxAlternatives {
		names = names[:maxAlternatives]
	}
	return names
}

func (e *Executor) hasBowAndArrows() bool {
	var bow, arrows bool
	for _, item := range e.caps.Inventory() {
		switch item.Name {
		case "bow":
			bow = true
		case "arrow":
			arrows = item.Count > 0
		}
	}
	return bow && arrows
}

// equipBestWeapon equips the highest-priority held melee weapon. Equip
// failure falls through to the next candidate and finally to bare hands.
func (e *Executor) equipBestWeapon(ctx context.Context) {
	held := make(map[string]bool)
	for _, item := range e.caps.Inventory() {
		held[strings.ToLower(item.Name)] = true
	}
	for _, weapon := range weaponPriority {
		if !held[weapon] {
			continue
		}
		if err := e.caps.Equip(ctx, weapon); err != nil {
			e.log.Warn("equip failed, trying next weapon", "item", weapon, "error", err)
			continue
		}
		return
	}
}

func isLog(name string) bool {
	return strings.HasSuffix(name, "_log") || name == "log"
}

// dayPhase labels a tick count for the status readout. Beds work in the
// 12541..23458 window.
func dayPhase(ticks int) string {
	if ticks >= 12541 && ticks <= 23458 {
		return "night"
	}
	return "day"
}
