package battle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"

	"ecobot/internal/clock"
	"ecobot/internal/content"
	"ecobot/internal/economy"
	"ecobot/internal/event"
	"ecobot/internal/rng"
)

func newStore(t *testing.T) *economy.Store {
	t.Helper()
	store, err := economy.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func single(m content.Monster) *content.Tables {
	if m.Weight == 0 {
		m.Weight = 1
	}
	return &content.Tables{Monsters: []content.Monster{m}}
}

func TestMitigate(t *testing.T) {
	tests := []struct {
		raw     float64
		defense int
		want    int
	}{
		{raw: 60, defense: 5, want: 58},
		{raw: 3, defense: 20, want: 1},
		{raw: 12.5, defense: 0, want: 13},
		{raw: 12, defense: 5, want: 10},
	}
	for _, tt := range tests {
		if got := mitigate(tt.raw, tt.defense); got != tt.want {
			t.Fatalf("mitigate(%v, %d): expected %d, got %d", tt.raw, tt.defense, tt.want, got)
		}
	}
}

func TestPlayerCombatantAppliesGearThenPet(t *testing.T) {
	c := PlayerCombatant("alice", economy.Profile{
		Health:    500,
		Base:      economy.Stats{HPMax: 100, Attack: 10, Defense: 4, Agility: 25, Luck: 200},
		Equipment: []economy.Equipment{{Slot: "weapon", Bonus: economy.Stats{Attack: 10, HPMax: 20}}},
		Pet:       &economy.Pet{Attack: 1.5, Defense: 1, HP: 1, Luck: 1},
	})
	if c.Attack != 30 {
		t.Fatalf("expected attack (10+10)*1.5=30, got %d", c.Attack)
	}
	if c.HPMax != 120 || c.HP != 120 {
		t.Fatalf("expected hp clamped to 120, got %d/%d", c.HP, c.HPMax)
	}
	if c.CritChance != 0.5 {
		t.Fatalf("expected crit capped at 0.5, got %v", c.CritChance)
	}
	if math.Abs(c.DodgeChance-0.12) > 1e-9 {
		t.Fatalf("expected dodge 0.12, got %v", c.DodgeChance)
	}
}

func TestVictoryGrantsRewardOnce(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	if err := store.SetStats(ctx, "alice", economy.Stats{HPMax: 100, Attack: 50, Defense: 20, Luck: 5}); err != nil {
		t.Fatalf("set stats: %v", err)
	}
	events := &event.Buffer{}
	e := New(store,
		single(content.Monster{ID: "dummy", Name: "Training Dummy", HP: 40, Defense: 5, XP: 30, CoinsMin: 10, CoinsMax: 10}),
		WithRand(&rng.Script{}),
		WithNotifier(events),
		WithSkills([]Skill{{ID: "smite", Name: "Smite", Damage: func(Combatant) float64 { return 60 }}}),
	)

	start, err := e.Start(ctx, "alice")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	snap, err := e.UseSkill(ctx, start.ID, "alice", "smite")
	if err != nil {
		t.Fatalf("use skill: %v", err)
	}
	if snap.Status != StatusVictory || snap.Enemy.HP != 0 {
		t.Fatalf("expected victory with enemy at 0 hp, got %s hp=%d", snap.Status, snap.Enemy.HP)
	}
	if !strings.Contains(strings.Join(snap.Log, "\n"), "Smite hits Training Dummy for 58.") {
		t.Fatalf("expected 58 damage in log, got %q", snap.Log)
	}
	if snap.Player.HP != 100 {
		t.Fatalf("enemy must not act after dying, player hp %d", snap.Player.HP)
	}
	if snap.Reward == nil || snap.Reward.Coins != 10 || snap.Reward.XP.Gained != 30 {
		t.Fatalf("unexpected reward %+v", snap.Reward)
	}

	if _, err := e.UseSkill(ctx, start.ID, "alice", "smite"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected finished battle to be gone, got %v", err)
	}
	if bal, _ := store.Balance(ctx, "alice"); bal != 10 {
		t.Fatalf("expected balance 10, got %d", bal)
	}
	entries, err := store.JournalFor(ctx, start.ID)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one journal entry, got %d err=%v", len(entries), err)
	}
	if events.Count(event.BattleFinished) != 1 {
		t.Fatalf("expected one finished event")
	}
}

func TestDefeatSetsHealthAndDeath(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	e := New(store,
		single(content.Monster{ID: "ogre", Name: "Ogre", HP: 1000, Attack: 500, XP: 1}),
		WithRand(&rng.Script{}),
	)

	start, _ := e.Start(ctx, "bob")
	snap, err := e.UseSkill(ctx, start.ID, "bob", "strike")
	if err != nil {
		t.Fatalf("use skill: %v", err)
	}
	if snap.Status != StatusDefeat || snap.Player.HP != 0 {
		t.Fatalf("expected defeat, got %s hp=%d", snap.Status, snap.Player.HP)
	}

	p, err := store.Profile(ctx, "bob")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if p.Health != 25 || p.Deaths != 1 {
		t.Fatalf("expected health 25 and 1 death, got %d/%d", p.Health, p.Deaths)
	}
	if p.Coins != 0 {
		t.Fatalf("defeat must not pay out, got %d coins", p.Coins)
	}
}

func TestOneBattlePerPlayer(t *testing.T) {
	e := New(newStore(t), nil, WithRand(rng.NewSeeded(3, 4)))
	ctx := context.Background()

	snap, err := e.Start(ctx, "alice")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := e.Start(ctx, "alice"); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
	if _, err := e.UseSkill(ctx, snap.ID, "mallory", "strike"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if _, err := e.UseSkill(ctx, snap.ID, "alice", "teleport"); !errors.Is(err, ErrUnknownSkill) {
		t.Fatalf("expected ErrUnknownSkill, got %v", err)
	}

	w, err := e.Withdraw(snap.ID, "alice")
	if err != nil || w.Status != StatusWithdrawn {
		t.Fatalf("withdraw: %+v err=%v", w, err)
	}
	if _, err := e.ByUser("alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no battle after withdraw, got %v", err)
	}
}

func TestDailyCap(t *testing.T) {
	c := clock.NewManual(time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC))
	e := New(newStore(t), nil, WithClock(c), WithRand(rng.NewSeeded(1, 1)), WithConfig(Config{DailyCap: 1}))
	ctx := context.Background()

	snap, err := e.Start(ctx, "alice")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	e.Withdraw(snap.ID, "alice")
	if _, err := e.Start(ctx, "alice"); !errors.Is(err, ErrDailyCap) {
		t.Fatalf("expected ErrDailyCap, got %v", err)
	}

	c.Advance(2 * time.Hour)
	if _, err := e.Start(ctx, "alice"); err != nil {
		t.Fatalf("expected new day to reset cap, got %v", err)
	}
}

func TestSkillCooldownsTick(t *testing.T) {
	e := New(newStore(t),
		single(content.Monster{ID: "wall", Name: "Wall", HP: 100000}),
		WithRand(&rng.Script{}),
	)
	ctx := context.Background()
	start, _ := e.Start(ctx, "alice")

	snap, err := e.UseSkill(ctx, start.ID, "alice", "fireball")
	if err != nil {
		t.Fatalf("fireball: %v", err)
	}
	if snap.Player.Cooldowns["fireball"] != 2 {
		t.Fatalf("expected 2 turns of cooldown, got %d", snap.Player.Cooldowns["fireball"])
	}
	if _, err := e.UseSkill(ctx, start.ID, "alice", "fireball"); !errors.Is(err, ErrOnCooldown) {
		t.Fatalf("expected ErrOnCooldown, got %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := e.UseSkill(ctx, start.ID, "alice", "strike"); err != nil {
			t.Fatalf("strike: %v", err)
		}
	}
	if _, err := e.UseSkill(ctx, start.ID, "alice", "fireball"); err != nil {
		t.Fatalf("expected fireball ready again, got %v", err)
	}
}

func TestGuardShieldAbsorbsOneHit(t *testing.T) {
	e := New(newStore(t),
		single(content.Monster{ID: "brute", Name: "Brute", HP: 100000, Attack: 20}),
		WithRand(&rng.Script{}),
	)
	ctx := context.Background()
	start, _ := e.Start(ctx, "alice")

	snap, err := e.UseSkill(ctx, start.ID, "alice", "guard")
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	if snap.Player.HP != 92 || snap.Player.Shield != 0 {
		t.Fatalf("expected 18 damage minus 10 shield and shield reset, got hp=%d shield=%d", snap.Player.HP, snap.Player.Shield)
	}
}

func TestSweepAbandonsIdleBattles(t *testing.T) {
	c := clock.NewManual(time.Unix(1_700_000_000, 0))
	e := New(newStore(t), nil, WithClock(c), WithRand(rng.NewSeeded(5, 6)))
	ctx := context.Background()
	e.Start(ctx, "alice")

	c.Advance(5 * time.Minute)
	if n := e.Sweep(0); n != 0 {
		t.Fatalf("expected nothing swept yet, got %d", n)
	}
	c.Advance(6 * time.Minute)
	if n := e.Sweep(0); n != 1 {
		t.Fatalf("expected 1 swept battle, got %d", n)
	}
	if e.Len() != 0 {
		t.Fatalf("expected no battles left")
	}
}

func TestHealthStaysInBounds(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	ids := make([]string, 0, len(DefaultSkills()))
	for _, sk := range DefaultSkills() {
		ids = append(ids, sk.ID)
	}
	run := 0

	rapid.Check(t, func(rt *rapid.T) {
		run++
		user := fmt.Sprintf("player-%d", run)
		err := store.SetStats(ctx, user, economy.Stats{
			HPMax:     rapid.IntRange(1, 300).Draw(rt, "hpMax"),
			Attack:    rapid.IntRange(0, 100).Draw(rt, "attack"),
			Defense:   rapid.IntRange(0, 100).Draw(rt, "defense"),
			Strength:  rapid.IntRange(0, 50).Draw(rt, "strength"),
			Intellect: rapid.IntRange(0, 50).Draw(rt, "intellect"),
			Agility:   rapid.IntRange(0, 50).Draw(rt, "agility"),
			Luck:      rapid.IntRange(0, 50).Draw(rt, "luck"),
		})
		if err != nil {
			rt.Fatalf("set stats: %v", err)
		}
		monster := content.Monster{
			ID: "m", Name: "Monster", Weight: 1,
			HP:         rapid.IntRange(1, 500).Draw(rt, "monsterHP"),
			Attack:     rapid.IntRange(0, 150).Draw(rt, "monsterAttack"),
			Defense:    rapid.IntRange(0, 100).Draw(rt, "monsterDefense"),
			Strength:   rapid.IntRange(0, 50).Draw(rt, "monsterStrength"),
			Luck:       rapid.IntRange(0, 20).Draw(rt, "monsterLuck"),
			CritChance: rapid.Float64Range(0, 0.5).Draw(rt, "monsterCrit"),
		}
		seed := rapid.Uint64().Draw(rt, "seed")
		e := New(store, single(monster), WithRand(rng.NewSeeded(seed, seed^0x9e3779b9)))

		snap, err := e.Start(ctx, user)
		if err != nil {
			rt.Fatalf("start: %v", err)
		}
		for i := 0; i < 25 && snap.Status == StatusActive; i++ {
			skill := rapid.SampledFrom(ids).Draw(rt, "skill")
			next, err := e.UseSkill(ctx, snap.ID, user, skill)
			if errors.Is(err, ErrOnCooldown) {
				continue
			}
			if err != nil {
				rt.Fatalf("use %s: %v", skill, err)
			}
			snap = next
			for _, c := range []Combatant{snap.Player.Combatant, snap.Enemy} {
				if c.HP < 0 || c.HP > c.HPMax {
					rt.Fatalf("%s hp %d outside [0, %d]", c.Name, c.HP, c.HPMax)
				}
			}
		}
		if snap.Status == StatusActive {
			e.Withdraw(snap.ID, user)
		}
	})
}
