// Package minigame runs the mine, fish and work click games. An attempt claims
// the player's cooldown up front, every click is checked for scripted input,
// and the reward is credited once the click target is reached.
package minigame

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"ecobot/internal/anticheat"
	"ecobot/internal/clock"
	"ecobot/internal/cooldown"
	"ecobot/internal/economy"
	"ecobot/internal/rng"
	"ecobot/internal/session"
)

var (
	ErrUnknownKind = errors.New("minigame: unknown game")
	ErrOnCooldown  = errors.New("minigame: on cooldown")
	ErrBusy        = errors.New("minigame: attempt already in progress")
	ErrNotFound    = errors.New("minigame: attempt not found")
	ErrExpired     = errors.New("minigame: attempt expired")
	ErrIncomplete  = errors.New("minigame: click target not reached")
)

// CooldownError carries the time left before the game can be played again.
type CooldownError struct {
	Kind      Kind
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("minigame: %s on cooldown for %s", e.Kind, e.Remaining.Round(time.Second))
}

func (e *CooldownError) Is(target error) bool { return target == ErrOnCooldown }

type Kind string

const (
	Mine Kind = "mine"
	Fish Kind = "fish"
	Work Kind = "work"
)

// Game is the tuning of one kind.
type Game struct {
	Cooldown   time.Duration `toml:"cooldown"`
	Clicks     int           `toml:"clicks"`
	Window     time.Duration `toml:"window"`
	CoinsMin   int           `toml:"coins_min"`
	CoinsMax   int           `toml:"coins_max"`
	XP         int64         `toml:"xp"`
	ItemID     string        `toml:"item_id"`
	ItemName   string        `toml:"item_name"`
	ItemChance float64       `toml:"item_chance"`
}

// DefaultGames returns the built-in tuning for every kind.
func DefaultGames() map[Kind]Game {
	return map[Kind]Game{
		Mine: {
			Cooldown: 5 * time.Minute, Clicks: 5, Window: 15 * time.Second,
			CoinsMin: 15, CoinsMax: 40, XP: 10,
			ItemID: "copper_ore", ItemName: "Copper Ore", ItemChance: 0.5,
		},
		Fish: {
			Cooldown: 5 * time.Minute, Clicks: 4, Window: 12 * time.Second,
			CoinsMin: 10, CoinsMax: 30, XP: 8,
			ItemID: "river_trout", ItemName: "River Trout", ItemChance: 0.6,
		},
		Work: {
			Cooldown: time.Hour, Clicks: 6, Window: 20 * time.Second,
			CoinsMin: 50, CoinsMax: 120, XP: 15,
		},
	}
}

// Attempt is one running game.
type Attempt struct {
	ID      string        `json:"id"`
	UserID  string        `json:"userId"`
	Kind    Kind          `json:"kind"`
	Started time.Time     `json:"started"`
	Window  time.Duration `json:"window"`
	Clicks  int           `json:"clicks"`
	Target  int           `json:"target"`
}

func (a *Attempt) expired(now time.Time) bool {
	return now.Sub(a.Started) > a.Window
}

// Progress is returned by Click. A failed Verdict means the attempt ended.
type Progress struct {
	Attempt  Attempt           `json:"attempt"`
	Complete bool              `json:"complete"`
	Verdict  anticheat.Verdict `json:"verdict"`
}

// Reward is what Finish credited.
type Reward struct {
	Kind  Kind            `json:"kind"`
	Coins int64           `json:"coins"`
	XP    economy.LevelUp `json:"xp"`
	Item  *economy.Item   `json:"item,omitempty"`
}

// Gate owns the running attempts.
type Gate struct {
	mu        sync.Mutex
	attempts  *session.Registry[*Attempt]
	games     map[Kind]Game
	ledger    economy.Ledger
	cooldowns *cooldown.Registry
	detector  *anticheat.Detector
	clock     clock.Clock
	rand      rng.Source
	logger    *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

func WithClock(c clock.Clock) Option {
	return func(g *Gate) {
		if c != nil {
			g.clock = c
		}
	}
}

func WithRand(src rng.Source) Option {
	return func(g *Gate) {
		if src != nil {
			g.rand = src
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithGames replaces the tuning of the given kinds.
func WithGames(games map[Kind]Game) Option {
	return func(g *Gate) {
		for k, v := range games {
			g.games[k] = v
		}
	}
}

// New returns a Gate crediting rewards to ledger.
func New(ledger economy.Ledger, cooldowns *cooldown.Registry, detector *anticheat.Detector, opts ...Option) *Gate {
	g := &Gate{
		attempts:  session.New[*Attempt](),
		games:     DefaultGames(),
		ledger:    ledger,
		cooldowns: cooldowns,
		detector:  detector,
		clock:     clock.Real(),
		rand:      rng.New(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func cooldownKey(kind Kind, userID string) string {
	return string(kind) + ":" + userID
}

// Begin starts an attempt and claims the kind's cooldown for the user.
func (g *Gate) Begin(userID string, kind Kind) (Attempt, error) {
	game, ok := g.games[kind]
	if !ok {
		return Attempt{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	if cur, ok := g.attempts.ByOwner(userID); ok {
		if !cur.expired(now) {
			return Attempt{}, ErrBusy
		}
		g.dropLocked(cur.ID)
	}

	if res := g.cooldowns.Check(cooldownKey(kind, userID), game.Cooldown); !res.OK {
		return Attempt{}, &CooldownError{Kind: kind, Remaining: res.Remaining}
	}

	a := &Attempt{
		ID:      uuid.NewString(),
		UserID:  userID,
		Kind:    kind,
		Started: now,
		Window:  game.Window,
		Target:  game.Clicks,
	}
	if err := g.attempts.Insert(a.ID, a, userID); err != nil {
		return Attempt{}, err
	}
	return *a, nil
}

// Click records one click at the gate's current time.
func (g *Gate) Click(attemptID string) (Progress, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	a, ok := g.attempts.Get(attemptID)
	if !ok {
		return Progress{}, ErrNotFound
	}
	now := g.clock.Now()
	if a.expired(now) {
		g.dropLocked(a.ID)
		return Progress{}, ErrExpired
	}

	v := g.detector.Sample(a.ID, a.Started, a.Window, now)
	if !v.OK {
		g.attempts.Remove(a.ID)
		g.logger.Warn("minigame attempt rejected",
			slog.String("session", a.ID),
			slog.String("user", a.UserID),
			slog.String("reason", v.Reason),
		)
		return Progress{Attempt: *a, Verdict: v}, nil
	}
	a.Clicks++
	return Progress{Attempt: *a, Complete: a.Clicks >= a.Target, Verdict: v}, nil
}

// Finish credits the reward of a completed attempt.
func (g *Gate) Finish(ctx context.Context, attemptID string) (Reward, error) {
	g.mu.Lock()
	a, ok := g.attempts.Get(attemptID)
	if !ok {
		g.mu.Unlock()
		return Reward{}, ErrNotFound
	}
	if a.expired(g.clock.Now()) {
		g.dropLocked(a.ID)
		g.mu.Unlock()
		return Reward{}, ErrExpired
	}
	if a.Clicks < a.Target {
		g.mu.Unlock()
		return Reward{}, fmt.Errorf("%w: %d/%d", ErrIncomplete, a.Clicks, a.Target)
	}
	g.dropLocked(a.ID)
	g.mu.Unlock()

	game := g.games[a.Kind]
	reward := Reward{Kind: a.Kind}
	err := g.ledger.Atomic(ctx, func(tx economy.Tx) error {
		rates := tx.Rates()
		reward.Coins = int64(math.Round(float64(rng.Between(g.rand, game.CoinsMin, game.CoinsMax)) * rates.Coins))
		if err := tx.AddCoins(a.UserID, reward.Coins); err != nil {
			return err
		}
		up, err := tx.GrantXP(a.UserID, game.XP)
		if err != nil {
			return err
		}
		reward.XP = up

		entry := economy.JournalEntry{Kind: "minigame." + string(a.Kind), Ref: a.ID, To: a.UserID, Coins: reward.Coins}
		if game.ItemID != "" && rng.Chance(g.rand, game.ItemChance*rates.Drop) {
			if err := tx.AdjustItem(a.UserID, game.ItemID, game.ItemName, 1); err != nil {
				return err
			}
			reward.Item = &economy.Item{ItemID: game.ItemID, Name: game.ItemName, Quantity: 1}
			entry.ItemID, entry.Quantity = game.ItemID, 1
		}
		return tx.Journal(entry)
	})
	if err != nil {
		g.logger.Error("minigame reward failed",
			slog.String("session", a.ID),
			slog.String("user", a.UserID),
			slog.String("error", err.Error()),
		)
		return Reward{}, err
	}
	g.logger.Info("minigame finished",
		slog.String("session", a.ID),
		slog.String("user", a.UserID),
		slog.String("kind", string(a.Kind)),
		slog.Int64("coins", reward.Coins),
	)
	return reward, nil
}

// Abandon ends an attempt without reward. The cooldown stays claimed.
func (g *Gate) Abandon(attemptID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.attempts.Get(attemptID); !ok {
		return ErrNotFound
	}
	g.dropLocked(attemptID)
	return nil
}

// Get returns a copy of an attempt.
func (g *Gate) Get(attemptID string) (Attempt, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.attempts.Get(attemptID)
	if !ok {
		return Attempt{}, false
	}
	return *a, true
}

// Sweep drops attempts whose window has passed.
func (g *Gate) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	var stale []string
	g.attempts.Range(func(id string, a *Attempt) bool {
		if a.expired(now) {
			stale = append(stale, id)
		}
		return true
	})
	for _, id := range stale {
		g.dropLocked(id)
	}
	return len(stale)
}

func (g *Gate) dropLocked(id string) {
	g.attempts.Remove(id)
	g.detector.Reset(id)
}
