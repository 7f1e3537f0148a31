// Package battle runs turn-based fights between one player and one monster.
// Rewards and penalties are written to the ledger only when a fight ends.
package battle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ecobot/internal/clock"
	"ecobot/internal/content"
	"ecobot/internal/economy"
	"ecobot/internal/event"
	"ecobot/internal/rng"
	"ecobot/internal/session"
)

var (
	ErrNotFound         = errors.New("battle: not found")
	ErrNotOwner         = errors.New("battle: not your battle")
	ErrAlreadyActive    = errors.New("battle: already in a battle")
	ErrDailyCap         = errors.New("battle: daily battle limit reached")
	ErrExhausted        = errors.New("battle: no health left to fight")
	ErrUnknownSkill     = errors.New("battle: unknown skill")
	ErrOnCooldown       = errors.New("battle: skill on cooldown")
	ErrSettlementFailed = errors.New("battle: settlement failed")
)

type Status string

const (
	StatusActive    Status = "active"
	StatusVictory   Status = "victory"
	StatusDefeat    Status = "defeat"
	StatusWithdrawn Status = "withdrawn"
)

// Config is the battle tuning.
type Config struct {
	DailyCap          int           `toml:"daily_cap"`
	LogSize           int           `toml:"log_size"`
	IdleTimeout       time.Duration `toml:"idle_timeout"`
	InventoryCapacity int           `toml:"inventory_capacity"`
}

func DefaultConfig() Config {
	return Config{
		DailyCap:          50,
		LogSize:           8,
		IdleTimeout:       10 * time.Minute,
		InventoryCapacity: 30,
	}
}

// Reward is what a victory credited.
type Reward struct {
	Coins        int64           `json:"coins"`
	CriticalLuck bool            `json:"criticalLuck"`
	XP           economy.LevelUp `json:"xp"`
	Loot         *economy.Item   `json:"loot,omitempty"`
}

// Player is the player side of a battle.
type Player struct {
	Combatant
	Shield    int            `json:"shield"`
	Cooldowns map[string]int `json:"cooldowns"`
}

// Snapshot is a copy of a battle safe to hand to renderers.
type Snapshot struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Status    Status    `json:"status"`
	Turn      int       `json:"turn"`
	MonsterID string    `json:"monsterId"`
	Boss      bool      `json:"boss"`
	Player    Player    `json:"player"`
	Enemy     Combatant `json:"enemy"`
	Log       []string  `json:"log"`
	Reward    *Reward   `json:"reward,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type battleSession struct {
	id        string
	userID    string
	status    Status
	turn      int
	monster   content.Monster
	player    Player
	enemy     Combatant
	log       []string
	createdAt time.Time
	touchedAt time.Time
}

func (s *battleSession) snapshot() Snapshot {
	p := s.player
	p.Cooldowns = make(map[string]int, len(s.player.Cooldowns))
	for k, v := range s.player.Cooldowns {
		p.Cooldowns[k] = v
	}
	return Snapshot{
		ID:        s.id,
		UserID:    s.userID,
		Status:    s.status,
		Turn:      s.turn,
		MonsterID: s.monster.ID,
		Boss:      s.monster.Boss,
		Player:    p,
		Enemy:     s.enemy,
		Log:       append([]string{}, s.log...),
		CreatedAt: s.createdAt,
	}
}

// Engine owns every active battle.
type Engine struct {
	mu       sync.Mutex
	sessions *session.Registry[*battleSession]
	starting map[string]struct{}

	ledger   economy.Ledger
	tables   *content.Tables
	skills   map[string]Skill
	order    []string
	cfg      Config
	clock    clock.Clock
	rand     rng.Source
	notifier event.Notifier
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

func WithRand(src rng.Source) Option {
	return func(e *Engine) {
		if src != nil {
			e.rand = src
		}
	}
}

func WithNotifier(n event.Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithConfig replaces the tuning. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		if cfg.DailyCap > 0 {
			e.cfg.DailyCap = cfg.DailyCap
		}
		if cfg.LogSize > 0 {
			e.cfg.LogSize = cfg.LogSize
		}
		if cfg.IdleTimeout > 0 {
			e.cfg.IdleTimeout = cfg.IdleTimeout
		}
		if cfg.InventoryCapacity > 0 {
			e.cfg.InventoryCapacity = cfg.InventoryCapacity
		}
	}
}

// WithSkills replaces the skill list.
func WithSkills(skills []Skill) Option {
	return func(e *Engine) { e.setSkills(skills) }
}

// New returns an Engine drawing monsters from tables.
func New(ledger economy.Ledger, tables *content.Tables, opts ...Option) *Engine {
	if tables == nil {
		tables = content.Default()
	}
	e := &Engine{
		sessions: session.New[*battleSession](),
		starting: make(map[string]struct{}),
		ledger:   ledger,
		tables:   tables,
		cfg:      DefaultConfig(),
		clock:    clock.Real(),
		rand:     rng.New(),
		notifier: event.Discard,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	e.setSkills(DefaultSkills())
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) setSkills(skills []Skill) {
	e.skills = make(map[string]Skill, len(skills))
	e.order = e.order[:0]
	for _, sk := range skills {
		e.skills[sk.ID] = sk
		e.order = append(e.order, sk.ID)
	}
}

// Skills lists the available skills in display order.
func (e *Engine) Skills() []Skill {
	out := make([]Skill, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.skills[id])
	}
	return out
}

func day(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// Start opens a battle for userID against a random monster.
func (e *Engine) Start(ctx context.Context, userID string) (Snapshot, error) {
	e.mu.Lock()
	if _, ok := e.sessions.OwnerSession(userID); ok {
		e.mu.Unlock()
		return Snapshot{}, ErrAlreadyActive
	}
	if _, ok := e.starting[userID]; ok {
		e.mu.Unlock()
		return Snapshot{}, ErrAlreadyActive
	}
	e.starting[userID] = struct{}{}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.starting, userID)
		e.mu.Unlock()
	}()

	profile, err := e.ledger.Profile(ctx, userID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("battle: load profile: %w", err)
	}
	player := PlayerCombatant(userID, profile)
	if !player.alive() {
		return Snapshot{}, ErrExhausted
	}

	now := e.clock.Now()
	err = e.ledger.Atomic(ctx, func(tx economy.Tx) error {
		n, err := tx.CountBattle(userID, day(now))
		if err != nil {
			return err
		}
		if n > e.cfg.DailyCap {
			return fmt.Errorf("%w: %d per day", ErrDailyCap, e.cfg.DailyCap)
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}

	monster := e.tables.PickMonster(e.rand)
	s := &battleSession{
		id:        uuid.NewString(),
		userID:    userID,
		status:    StatusActive,
		monster:   monster,
		player:    Player{Combatant: player, Cooldowns: make(map[string]int)},
		enemy:     MonsterCombatant(monster),
		createdAt: now,
		touchedAt: now,
	}
	if monster.Boss {
		s.appendLog(fmt.Sprintf("A boss appears: %s!", monster.Name), e.cfg.LogSize)
	} else {
		s.appendLog(fmt.Sprintf("A wild %s appears.", monster.Name), e.cfg.LogSize)
	}

	e.mu.Lock()
	err = e.sessions.Insert(s.id, s, userID)
	snap := s.snapshot()
	e.mu.Unlock()
	if err != nil {
		return Snapshot{}, err
	}

	e.logger.Info("battle started",
		slog.String("session", s.id),
		slog.String("user", userID),
		slog.String("monster", monster.ID),
	)
	return snap, nil
}

// appendLog keeps only the newest limit lines.
func (s *battleSession) appendLog(line string, limit int) {
	s.log = append(s.log, line)
	if limit > 0 && len(s.log) > limit {
		s.log = append([]string{}, s.log[len(s.log)-limit:]...)
	}
}

func (e *Engine) ownedLocked(id, userID string) (*battleSession, error) {
	s, ok := e.sessions.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	if s.userID != userID {
		return nil, ErrNotOwner
	}
	return s, nil
}

// UseSkill resolves one player action and, unless the fight ended, the
// enemy's reply.
func (e *Engine) UseSkill(ctx context.Context, id, userID, skillID string) (Snapshot, error) {
	e.mu.Lock()
	s, err := e.ownedLocked(id, userID)
	if err != nil {
		e.mu.Unlock()
		return Snapshot{}, err
	}
	sk, ok := e.skills[skillID]
	if !ok {
		e.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownSkill, skillID)
	}
	if left := s.player.Cooldowns[skillID]; left > 0 {
		e.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: %s ready in %d turns", ErrOnCooldown, sk.Name, left)
	}

	e.resolve(s, sk)
	s.touchedAt = e.clock.Now()
	if s.status == StatusActive {
		snap := s.snapshot()
		e.mu.Unlock()
		return snap, nil
	}
	e.sessions.Remove(id)
	snap := s.snapshot()
	e.mu.Unlock()

	return e.finish(ctx, s, snap)
}

func (e *Engine) resolve(s *battleSession, sk Skill) {
	s.turn++
	p := &s.player
	logf := func(format string, args ...any) {
		s.appendLog(fmt.Sprintf(format, args...), e.cfg.LogSize)
	}

	if sk.Damage != nil {
		dmg := mitigate(sk.Damage(p.Combatant), s.enemy.Defense)
		crit := rng.Chance(e.rand, math.Min(0.75, p.CritChance+sk.CritBonus))
		if crit {
			dmg = round(float64(dmg) * critMultiplier(p.Luck))
		}
		dealt := s.enemy.hit(dmg)
		if crit {
			logf("Critical! %s hits %s for %d.", sk.Name, s.enemy.Name, dmg)
		} else {
			logf("%s hits %s for %d.", sk.Name, s.enemy.Name, dmg)
		}
		if sk.Recoil > 0 && dealt > 0 {
			recoil := min(round(float64(dealt)*sk.Recoil), p.HP-1)
			if taken := p.hit(recoil); taken > 0 {
				logf("You take %d recoil damage.", taken)
			}
		}
	}
	if sk.Shield != nil {
		amount := max(0, round(sk.Shield(p.Combatant)))
		p.Shield += amount
		logf("You raise a %d point shield.", amount)
	}
	if sk.Heal != nil {
		healed := p.heal(round(sk.Heal(p.Combatant)))
		logf("You recover %d hp.", healed)
	}

	if sk.Cooldown > 0 {
		p.Cooldowns[sk.ID] = sk.Cooldown + 1
	}
	for id, left := range p.Cooldowns {
		if left <= 1 {
			delete(p.Cooldowns, id)
			continue
		}
		p.Cooldowns[id] = left - 1
	}

	if !s.enemy.alive() {
		s.status = StatusVictory
		logf("%s is defeated!", s.enemy.Name)
		return
	}
	e.enemyTurn(s, logf)
}

func (e *Engine) enemyTurn(s *battleSession, logf func(string, ...any)) {
	p := &s.player
	defer func() { p.Shield = 0 }()

	if rng.Chance(e.rand, p.DodgeChance) {
		logf("You dodge %s's attack.", s.enemy.Name)
		return
	}
	raw := float64(s.enemy.Attack) + float64(s.enemy.Strength)*0.5
	dmg := mitigate(raw, p.Defense)
	crit := rng.Chance(e.rand, s.enemy.CritChance)
	if crit {
		dmg = round(float64(dmg) * critMultiplier(s.enemy.Luck))
	}
	absorbed := min(p.Shield, dmg)
	taken := p.hit(dmg - absorbed)

	switch {
	case crit && absorbed > 0:
		logf("Critical! %s hits you for %d (%d absorbed).", s.enemy.Name, taken, absorbed)
	case crit:
		logf("Critical! %s hits you for %d.", s.enemy.Name, taken)
	case absorbed > 0:
		logf("%s hits you for %d (%d absorbed).", s.enemy.Name, taken, absorbed)
	default:
		logf("%s hits you for %d.", s.enemy.Name, taken)
	}
	if !p.alive() {
		s.status = StatusDefeat
		logf("You were defeated by %s.", s.enemy.Name)
	}
}

// Withdraw ends the battle with no reward and no penalty.
func (e *Engine) Withdraw(id, userID string) (Snapshot, error) {
	e.mu.Lock()
	s, err := e.ownedLocked(id, userID)
	if err != nil {
		e.mu.Unlock()
		return Snapshot{}, err
	}
	e.sessions.Remove(id)
	s.status = StatusWithdrawn
	s.appendLog("You withdrew from the battle.", e.cfg.LogSize)
	snap := s.snapshot()
	e.mu.Unlock()

	e.logger.Info("battle withdrawn", slog.String("session", id), slog.String("user", userID))
	e.publish(snap)
	return snap, nil
}

func (e *Engine) Get(id string) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions.Get(id)
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return s.snapshot(), nil
}

func (e *Engine) ByUser(userID string) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions.ByOwner(userID)
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return s.snapshot(), nil
}

// Sweep withdraws battles idle for longer than idle. A non-positive idle
// uses the configured timeout.
func (e *Engine) Sweep(idle time.Duration) int {
	if idle <= 0 {
		idle = e.cfg.IdleTimeout
	}
	e.mu.Lock()
	now := e.clock.Now()
	var stale []*battleSession
	e.sessions.Range(func(_ string, s *battleSession) bool {
		if now.Sub(s.touchedAt) > idle {
			stale = append(stale, s)
		}
		return true
	})
	snaps := make([]Snapshot, 0, len(stale))
	for _, s := range stale {
		e.sessions.Remove(s.id)
		s.status = StatusWithdrawn
		s.appendLog("The battle was abandoned.", e.cfg.LogSize)
		snaps = append(snaps, s.snapshot())
	}
	e.mu.Unlock()

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
	for _, snap := range snaps {
		e.logger.Info("battle abandoned", slog.String("session", snap.ID), slog.String("user", snap.UserID))
		e.publish(snap)
	}
	return len(snaps)
}

// Len reports the number of active battles.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions.Len()
}

func (e *Engine) publish(snap Snapshot) {
	e.notifier.Publish(event.Event{
		Kind:    event.BattleFinished,
		Session: snap.ID,
		Users:   []string{snap.UserID},
		At:      e.clock.Now(),
		Data:    snap,
	})
}
