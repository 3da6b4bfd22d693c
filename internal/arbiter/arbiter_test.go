package arbiter

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/bloopmc/bloop/internal/agent/mock"
	"github.com/bloopmc/bloop/internal/observe"
	"github.com/bloopmc/bloop/internal/store"
	"github.com/bloopmc/bloop/pkg/types"
)

func newSettings(t *testing.T) *store.Settings {
	t.Helper()
	s, err := store.LoadSettings(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	return s
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestFleePreemptsCombat(t *testing.T) {
	caps := &mock.Capability{
		Pos: types.Vec3{X: 0, Y: 64, Z: 0},
		Visible: []types.Entity{
			{ID: "z1", Name: "zombie", Kind: types.EntityMob, Hostile: true, Position: types.Vec3{X: 4, Y: 64, Z: 0}},
		},
	}
	a := New(caps, newSettings(t)) // defaults: autoFlee on, threshold 8

	target := types.Entity{ID: "z1", Name: "zombie", Kind: types.EntityMob, Hostile: true}
	if err := a.EngageCombat(context.Background(), target, false); err != nil {
		t.Fatalf("EngageCombat() error = %v", err)
	}
	if got := a.Snapshot().CombatTarget; got != "z1" {
		t.Fatalf("CombatTarget = %q, want z1", got)
	}

	a.HandleHealth(types.HealthSample{Health: 6, Food: 20})

	if a.Snapshot().CombatTarget != "" {
		t.Error("combat still active after flee transition")
	}
	attack, nav := caps.Stops()
	if attack == 0 || nav == 0 {
		t.Errorf("stops (attack=%d, nav=%d), want both > 0 before redirect", attack, nav)
	}
	waitFor(t, func() bool { return len(caps.GotoLog()) == 1 })

	// Hostile at x=4, agent at x=0: the flee goal lies opposite, at x=-16.
	goal := caps.GotoLog()[0]
	if goal.X != -16 || goal.Z != 0 {
		t.Errorf("flee goal = %v, want x=-16 z=0", goal)
	}
}

func TestFleeDisabled(t *testing.T) {
	caps := &mock.Capability{}
	settings := newSettings(t)
	if err := settings.SetToggle("autoflee", false); err != nil {
		t.Fatal(err)
	}
	a := New(caps, settings)

	a.HandleHealth(types.HealthSample{Health: 2, Food: 20})

	time.Sleep(20 * time.Millisecond)
	if got := len(caps.GotoLog()); got != 0 {
		t.Errorf("Goto called %d times with autoflee off", got)
	}
	if a.Snapshot().Fleeing {
		t.Error("fleeing with autoflee off")
	}
}

func TestFleeNotReentrant(t *testing.T) {
	release := make(chan struct{})
	caps := &mock.Capability{
		GotoFunc: func(ctx context.Context, pos types.Vec3) error {
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	a := New(caps, newSettings(t))

	a.HandleHealth(types.HealthSample{Health: 5, Food: 20})
	waitFor(t, func() bool { return a.Snapshot().Fleeing && len(caps.GotoLog()) == 1 })
	a.HandleHealth(types.HealthSample{Health: 4, Food: 20})

	if got := len(caps.GotoLog()); got != 1 {
		t.Errorf("Goto called %d times, want 1", got)
	}
	close(release)
	waitFor(t, func() bool { return !a.Snapshot().Fleeing })
}

func TestStaleFleeReturnDoesNotClearSuccessor(t *testing.T) {
	release1 := make(chan struct{})
	var calls atomic.Int32
	caps := &mock.Capability{
		Items: []types.Item{{Name: "bread", Count: 4}},
		GotoFunc: func(ctx context.Context, pos types.Vec3) error {
			switch calls.Add(1) {
			case 1:
				<-release1
				return ctx.Err()
			default:
				<-ctx.Done()
				return ctx.Err()
			}
		},
	}
	a := New(caps, newSettings(t))

	a.HandleHealth(types.HealthSample{Health: 5, Food: 20})
	waitFor(t, func() bool { return calls.Load() == 1 })

	// Operator interrupt cancels the first attempt, but its goroutine is
	// still stuck inside Goto when the second attempt starts.
	a.StopAll()
	a.HandleHealth(types.HealthSample{Health: 4, Food: 20})
	waitFor(t, func() bool { return calls.Load() == 2 })

	close(release1)
	time.Sleep(50 * time.Millisecond)

	if !a.Snapshot().Fleeing {
		t.Error("Fleeing cleared by the cancelled attempt while the second is in flight")
	}
	// A flag wrongly cleared would also let eating start mid-flee.
	a.HandleHealth(types.HealthSample{Health: 20, Food: 5})
	time.Sleep(20 * time.Millisecond)
	if got := len(caps.ConsumeLog()); got != 0 {
		t.Errorf("Consume called %d times while fleeing", got)
	}
	a.StopAll()
}

func TestEngageCombatRefusedWhileFleeing(t *testing.T) {
	release := make(chan struct{})
	caps := &mock.Capability{
		GotoFunc: func(ctx context.Context, pos types.Vec3) error {
			<-release
			return nil
		},
	}
	a := New(caps, newSettings(t))

	a.HandleHealth(types.HealthSample{Health: 5, Food: 20})
	waitFor(t, func() bool { return a.Snapshot().Fleeing })

	err := a.EngageCombat(context.Background(), types.Entity{ID: "z1"}, false)
	if !errors.Is(err, ErrFleeing) {
		t.Errorf("EngageCombat() error = %v, want ErrFleeing", err)
	}
	if got := len(caps.AttackLog()); got != 0 {
		t.Errorf("Attack called %d times while fleeing", got)
	}
	close(release)
}

func TestStopAllIdempotent(t *testing.T) {
	caps := &mock.Capability{}
	a := New(caps, newSettings(t))
	a.Guard("steve")
	if err := a.EngageCombat(context.Background(), types.Entity{ID: "z1"}, false); err != nil {
		t.Fatal(err)
	}

	a.StopAll()
	a.StopAll()

	got := a.Snapshot()
	if got != (State{}) {
		t.Errorf("Snapshot() = %+v, want zero state", got)
	}
	attack, nav := caps.Stops()
	if attack != 2 || nav != 2 {
		t.Errorf("stops (attack=%d, nav=%d), want 2 each", attack, nav)
	}
}

func TestAutoDefend(t *testing.T) {
	attacker := types.Entity{ID: "sk1", Name: "skeleton", Kind: types.EntityMob, Hostile: true}

	t.Run("engages attacker", func(t *testing.T) {
		caps := &mock.Capability{}
		a := New(caps, newSettings(t))

		a.HandleHurt(attacker)

		waitFor(t, func() bool { return len(caps.AttackLog()) == 1 })
		if got := caps.AttackLog()[0]; got != "sk1" {
			t.Errorf("attacked %q, want sk1", got)
		}
	})

	t.Run("skips whitelisted", func(t *testing.T) {
		caps := &mock.Capability{}
		settings := newSettings(t)
		if err := settings.AddWhitelist("Skeleton"); err != nil {
			t.Fatal(err)
		}
		a := New(caps, settings)

		a.HandleHurt(attacker)

		time.Sleep(20 * time.Millisecond)
		if got := len(caps.AttackLog()); got != 0 {
			t.Errorf("Attack called %d times for whitelisted attacker", got)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		caps := &mock.Capability{}
		settings := newSettings(t)
		if err := settings.SetToggle("autodefend", false); err != nil {
			t.Fatal(err)
		}
		a := New(caps, settings)

		a.HandleHurt(attacker)

		time.Sleep(20 * time.Millisecond)
		if got := len(caps.AttackLog()); got != 0 {
			t.Errorf("Attack called %d times with autodefend off", got)
		}
	})

	t.Run("ignores objects", func(t *testing.T) {
		caps := &mock.Capability{}
		a := New(caps, newSettings(t))

		a.HandleHurt(types.Entity{ID: "c1", Name: "cactus", Kind: types.EntityObject})

		time.Sleep(20 * time.Millisecond)
		if got := len(caps.AttackLog()); got != 0 {
			t.Errorf("Attack called %d times for an object", got)
		}
	})
}

func TestAttackStoppedClearsCombat(t *testing.T) {
	caps := &mock.Capability{}
	a := New(caps, newSettings(t))
	if err := a.EngageCombat(context.Background(), types.Entity{ID: "z1"}, false); err != nil {
		t.Fatal(err)
	}

	a.HandleAttackStopped("target died")

	if got := a.Snapshot().CombatTarget; got != "" {
		t.Errorf("CombatTarget = %q after attack stopped", got)
	}
}

func TestSleepAtNight(t *testing.T) {
	caps := &mock.Capability{}
	settings := newSettings(t)
	if err := settings.SetToggle("autosleep", true); err != nil {
		t.Fatal(err)
	}
	a := New(caps, settings)

	a.HandleTime(6000) // midday
	time.Sleep(20 * time.Millisecond)
	if got := caps.SleepCount(); got != 0 {
		t.Errorf("Sleep called %d times at midday", got)
	}

	a.HandleTime(13000) // night
	waitFor(t, func() bool { return caps.SleepCount() == 1 })
	waitFor(t, func() bool { return !a.Snapshot().Sleeping })
}

func TestOpportunisticEating(t *testing.T) {
	t.Run("eats preferred food when hungry", func(t *testing.T) {
		caps := &mock.Capability{
			Items: []types.Item{
				{Name: "dirt", Slot: 0, Count: 12},
				{Name: "bread", Slot: 1, Count: 3},
				{Name: "cooked_beef", Slot: 2, Count: 1},
			},
		}
		a := New(caps, newSettings(t))

		a.HandleHealth(types.HealthSample{Health: 20, Food: 10})

		waitFor(t, func() bool { return len(caps.ConsumeLog()) == 1 })
		if got := caps.ConsumeLog()[0]; got != "cooked_beef" {
			t.Errorf("consumed %q, want cooked_beef (higher priority than bread)", got)
		}
	})

	t.Run("no food available", func(t *testing.T) {
		caps := &mock.Capability{Items: []types.Item{{Name: "cobblestone", Count: 64}}}
		a := New(caps, newSettings(t))

		a.HandleHealth(types.HealthSample{Health: 20, Food: 5})

		time.Sleep(20 * time.Millisecond)
		if got := len(caps.ConsumeLog()); got != 0 {
			t.Errorf("Consume called %d times with no food held", got)
		}
		if a.Snapshot().Eating {
			t.Error("eating flag set with no food held")
		}
	})

	t.Run("skipped while fleeing", func(t *testing.T) {
		release := make(chan struct{})
		caps := &mock.Capability{
			Items: []types.Item{{Name: "bread", Count: 3}},
			GotoFunc: func(ctx context.Context, pos types.Vec3) error {
				<-release
				return nil
			},
		}
		a := New(caps, newSettings(t))

		a.HandleHealth(types.HealthSample{Health: 5, Food: 20})
		waitFor(t, func() bool { return a.Snapshot().Fleeing })
		a.HandleHealth(types.HealthSample{Health: 10, Food: 5})

		time.Sleep(20 * time.Millisecond)
		if got := len(caps.ConsumeLog()); got != 0 {
			t.Errorf("Consume called %d times while fleeing", got)
		}
		close(release)
	})
}

func TestGuardTick(t *testing.T) {
	steve := types.Entity{ID: "p1", Name: "steve", Kind: types.EntityPlayer, Position: types.Vec3{X: 2}}

	t.Run("engages hostile near guarded player", func(t *testing.T) {
		caps := &mock.Capability{
			Players: map[string]types.Entity{"steve": steve},
			Visible: []types.Entity{
				{ID: "z1", Name: "zombie", Kind: types.EntityMob, Hostile: true, Position: types.Vec3{X: 6}},
				{ID: "z2", Name: "zombie", Kind: types.EntityMob, Hostile: true, Position: types.Vec3{X: 40}},
			},
		}
		a := New(caps, newSettings(t))
		a.Guard("steve")

		a.guardTick(context.Background())

		if got := caps.AttackLog(); len(got) != 1 || got[0] != "z1" {
			t.Errorf("AttackLog = %v, want [z1]", got)
		}
	})

	t.Run("skips whitelisted hostiles", func(t *testing.T) {
		caps := &mock.Capability{
			Players: map[string]types.Entity{"steve": steve},
			Visible: []types.Entity{
				{ID: "g1", Name: "griefer", Kind: types.EntityPlayer, Hostile: true, Position: types.Vec3{X: 4}},
			},
		}
		settings := newSettings(t)
		if err := settings.AddWhitelist("griefer"); err != nil {
			t.Fatal(err)
		}
		a := New(caps, settings)
		a.Guard("steve")

		a.guardTick(context.Background())

		if got := len(caps.AttackLog()); got != 0 {
			t.Errorf("Attack called %d times for whitelisted hostile", got)
		}
	})

	t.Run("repositions toward distant player", func(t *testing.T) {
		far := steve
		far.Position = types.Vec3{X: 30}
		caps := &mock.Capability{Players: map[string]types.Entity{"steve": far}}
		a := New(caps, newSettings(t))
		a.Guard("steve")

		a.guardTick(context.Background())

		waitFor(t, func() bool { return len(caps.GotoLog()) == 1 })
		if got := caps.GotoLog()[0]; got != far.Position {
			t.Errorf("repositioned to %v, want %v", got, far.Position)
		}
	})

	t.Run("suspended while fleeing without clearing guard", func(t *testing.T) {
		release := make(chan struct{})
		caps := &mock.Capability{
			Players: map[string]types.Entity{"steve": steve},
			Visible: []types.Entity{
				{ID: "z1", Name: "zombie", Kind: types.EntityMob, Hostile: true, Position: types.Vec3{X: 4}},
			},
			GotoFunc: func(ctx context.Context, pos types.Vec3) error {
				<-release
				return nil
			},
		}
		a := New(caps, newSettings(t))
		a.Guard("steve")
		a.HandleHealth(types.HealthSample{Health: 5, Food: 20})
		waitFor(t, func() bool { return a.Snapshot().Fleeing })

		a.guardTick(context.Background())

		if got := len(caps.AttackLog()); got != 0 {
			t.Errorf("guard engaged combat while fleeing (%d attacks)", got)
		}
		if got := a.Snapshot().Guarding; got != "steve" {
			t.Errorf("Guarding = %q, fleeing must not clear the guarded player", got)
		}
		close(release)
	})
}

func TestResetOnRespawn(t *testing.T) {
	caps := &mock.Capability{}
	a := New(caps, newSettings(t))
	a.Guard("steve")
	if err := a.EngageCombat(context.Background(), types.Entity{ID: "z1"}, false); err != nil {
		t.Fatal(err)
	}

	a.HandleSpawn()

	if got := a.Snapshot(); got != (State{}) {
		t.Errorf("Snapshot() after respawn = %+v, want zero state", got)
	}
}

func TestBeginCollectInterruptedByCombat(t *testing.T) {
	caps := &mock.Capability{}
	a := New(caps, newSettings(t))

	ctx, done := a.BeginCollect(context.Background())
	defer done()
	if !a.Snapshot().Collecting {
		t.Fatal("Collecting flag not set")
	}

	if err := a.EngageCombat(context.Background(), types.Entity{ID: "z1"}, false); err != nil {
		t.Fatal(err)
	}

	select {
	case <-ctx.Done():
	default:
		t.Error("collect context not cancelled by combat")
	}
	if a.Snapshot().Collecting {
		t.Error("Collecting flag still set after combat")
	}
}

func TestBehaviorTransitionsRecorded(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	caps := &mock.Capability{}
	a := New(caps, newSettings(t), WithMetrics(metrics))

	a.Guard("MrBoss")
	// startFlee records the transition before its goroutine runs.
	a.HandleHealth(types.HealthSample{Health: 5, Food: 20})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var counter *metricdata.Metrics
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == "bloop.behavior.transitions" {
				counter = &sm.Metrics[i]
			}
		}
	}
	if counter == nil {
		t.Fatal("bloop.behavior.transitions not recorded")
	}
	sum, ok := counter.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("bloop.behavior.transitions data type = %T", counter.Data)
	}
	seen := make(map[string]bool)
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value("behavior"); ok {
			seen[v.AsString()] = true
		}
	}
	if !seen["guarding"] || !seen["fleeing"] {
		t.Errorf("behaviors recorded = %v, want guarding and fleeing", seen)
	}
	a.StopAll()
}
