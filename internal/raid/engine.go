package raid

import (
	"context"
	"fmt"
	"io"
	"log/slog"
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

type activePrompt struct {
	Prompt
	timer clock.Timer
}

type raidSession struct {
	id        string
	leaderID  string
	channelID string
	messageID string
	status    Status
	members   map[string]*Member
	order     []string
	phase     int
	progress  int
	enrage    int
	prompt    *activePrompt
	// resolved maps every settled prompt id to the member who resolved it;
	// an empty responder means the prompt timed out.
	resolved  map[string]string
	log       []string
	createdAt time.Time
}

// Engine owns every forming and active raid.
type Engine struct {
	mu       sync.Mutex
	sessions *session.Registry[*raidSession]

	ledger   economy.Ledger
	tables   *content.Tables
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
		d := &e.cfg
		if cfg.PromptTimeout > 0 {
			d.PromptTimeout = cfg.PromptTimeout
		}
		if cfg.ReviveCooldown > 0 {
			d.ReviveCooldown = cfg.ReviveCooldown
		}
		if cfg.MinMembers > 0 {
			d.MinMembers = cfg.MinMembers
		}
		if cfg.MaxMembers > 0 {
			d.MaxMembers = cfg.MaxMembers
		}
		if cfg.SuccessXP > 0 {
			d.SuccessXP = cfg.SuccessXP
		}
		if cfg.SuccessCoins > 0 {
			d.SuccessCoins = cfg.SuccessCoins
		}
		if cfg.FailureFactor > 0 {
			d.FailureFactor = cfg.FailureFactor
		}
		if cfg.FormingTimeout > 0 {
			d.FormingTimeout = cfg.FormingTimeout
		}
		if cfg.LogSize > 0 {
			d.LogSize = cfg.LogSize
		}
	}
}

// New returns an Engine running the phases in tables.
func New(ledger economy.Ledger, tables *content.Tables, opts ...Option) *Engine {
	if tables == nil {
		tables = content.Default()
	}
	e := &Engine{
		sessions: session.New[*raidSession](),
		ledger:   ledger,
		tables:   tables,
		cfg:      DefaultConfig(),
		clock:    clock.Real(),
		rand:     rng.New(),
		notifier: event.Discard,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) snapshot(s *raidSession) Snapshot {
	snap := Snapshot{
		ID:        s.id,
		LeaderID:  s.leaderID,
		ChannelID: s.channelID,
		MessageID: s.messageID,
		Status:    s.status,
		Phase:     s.phase,
		Phases:    len(e.tables.Phases),
		Progress:  s.progress,
		Enrage:    s.enrage,
		Members:   make([]Member, 0, len(s.order)),
		Log:       append([]string{}, s.log...),
		CreatedAt: s.createdAt,
	}
	if s.phase < len(e.tables.Phases) {
		ph := e.tables.Phases[s.phase]
		snap.PhaseName = ph.Name
		snap.Threshold = ph.Threshold
		snap.EnrageLimit = ph.EnrageLimit
	}
	for _, id := range s.order {
		snap.Members = append(snap.Members, *s.members[id])
	}
	if s.prompt != nil {
		p := s.prompt.Prompt
		snap.Prompt = &p
	}
	return snap
}

func (e *Engine) logf(s *raidSession, format string, args ...any) {
	s.log = append(s.log, fmt.Sprintf(format, args...))
	if n := e.cfg.LogSize; n > 0 && len(s.log) > n {
		s.log = append([]string{}, s.log[len(s.log)-n:]...)
	}
}

func (e *Engine) publish(kind event.Kind, snap Snapshot) {
	e.notifier.Publish(event.Event{
		Kind:    kind,
		Session: snap.ID,
		Users:   snap.Users(),
		At:      e.clock.Now(),
		Data:    snap,
	})
}

// Create opens a lobby owned by leaderID. The leader still has to Join to
// take a role.
func (e *Engine) Create(leaderID, channelID string) (Snapshot, error) {
	e.mu.Lock()
	s := &raidSession{
		id:        uuid.NewString(),
		leaderID:  leaderID,
		channelID: channelID,
		status:    StatusForming,
		members:   make(map[string]*Member),
		resolved:  make(map[string]string),
		createdAt: e.clock.Now(),
	}
	if err := e.sessions.Insert(s.id, s, leaderID); err != nil {
		e.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: %v", ErrBusy, err)
	}
	e.logf(s, "%s is gathering a raid party.", leaderID)
	snap := e.snapshot(s)
	e.mu.Unlock()

	e.logger.Info("raid created", slog.String("session", s.id), slog.String("user", leaderID))
	e.publish(event.RaidUpdated, snap)
	return snap, nil
}

func (e *Engine) getLocked(id string) (*raidSession, error) {
	s, ok := e.sessions.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Join adds userID with role, or changes the role of an existing member.
func (e *Engine) Join(id, userID string, role Role) (Snapshot, error) {
	if !role.valid() {
		return Snapshot{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	e.mu.Lock()
	snap, err := e.joinLocked(id, userID, role)
	e.mu.Unlock()
	if err != nil {
		return Snapshot{}, err
	}
	e.publish(event.RaidUpdated, snap)
	return snap, nil
}

func (e *Engine) joinLocked(id, userID string, role Role) (Snapshot, error) {
	s, err := e.getLocked(id)
	if err != nil {
		return Snapshot{}, err
	}
	if s.status != StatusForming {
		return Snapshot{}, ErrNotForming
	}
	if m, ok := s.members[userID]; ok {
		if m.Role != role {
			m.Role = role
			e.logf(s, "%s switched to %s.", userID, role)
		}
		return e.snapshot(s), nil
	}
	if len(s.members) >= e.cfg.MaxMembers {
		return Snapshot{}, ErrFull
	}
	if err := e.sessions.Claim(id, userID); err != nil {
		return Snapshot{}, ErrBusy
	}
	s.members[userID] = &Member{UserID: userID, Role: role}
	s.order = append(s.order, userID)
	e.logf(s, "%s joined as %s.", userID, role)
	return e.snapshot(s), nil
}

// Leave removes userID from a forming raid.
func (e *Engine) Leave(id, userID string) (Snapshot, error) {
	e.mu.Lock()
	snap, err := e.leaveLocked(id, userID)
	e.mu.Unlock()
	if err != nil {
		return Snapshot{}, err
	}
	e.publish(event.RaidUpdated, snap)
	return snap, nil
}

func (e *Engine) leaveLocked(id, userID string) (Snapshot, error) {
	s, err := e.getLocked(id)
	if err != nil {
		return Snapshot{}, err
	}
	if _, ok := s.members[userID]; !ok {
		return Snapshot{}, ErrNotMember
	}
	if s.status != StatusForming {
		return Snapshot{}, ErrNotForming
	}
	delete(s.members, userID)
	for i, uid := range s.order {
		if uid == userID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if userID != s.leaderID {
		e.sessions.Release(userID)
	}
	e.logf(s, "%s left the party.", userID)
	return e.snapshot(s), nil
}

func (e *Engine) readyLocked(s *raidSession) error {
	if len(s.members) < e.cfg.MinMembers {
		return fmt.Errorf("%w: need at least %d members, have %d", ErrNotReady, e.cfg.MinMembers, len(s.members))
	}
	covered := make(map[Role]bool, len(Roles))
	for _, m := range s.members {
		covered[m.Role] = true
	}
	for _, r := range Roles {
		if !covered[r] {
			return fmt.Errorf("%w: no %s in the party", ErrNotReady, r)
		}
	}
	return nil
}

// Start moves a ready lobby into its first phase and issues the first prompt.
func (e *Engine) Start(id, userID string) (Snapshot, error) {
	e.mu.Lock()
	snap, err := e.startLocked(id, userID)
	e.mu.Unlock()
	if err != nil {
		return Snapshot{}, err
	}

	e.logger.Info("raid started", slog.String("session", snap.ID), slog.Int("members", len(snap.Members)))
	e.publish(event.RaidUpdated, snap)
	e.publish(event.RaidPrompt, snap)
	return snap, nil
}

func (e *Engine) startLocked(id, userID string) (Snapshot, error) {
	s, err := e.getLocked(id)
	if err != nil {
		return Snapshot{}, err
	}
	if s.leaderID != userID {
		return Snapshot{}, ErrNotLeader
	}
	if s.status != StatusForming {
		return Snapshot{}, ErrNotForming
	}
	if err := e.readyLocked(s); err != nil {
		return Snapshot{}, err
	}

	s.status = StatusActive
	e.logf(s, "The raid begins: %s.", e.tables.Phases[0].Name)
	e.issuePromptLocked(s)
	return e.snapshot(s), nil
}

// Respond submits a role-tagged answer to the current prompt. Any answer
// resolves the prompt; only the matching role counts as a success.
func (e *Engine) Respond(ctx context.Context, id, userID string, role Role, promptID string) (Snapshot, error) {
	e.mu.Lock()
	s, err := e.getLocked(id)
	if err != nil {
		e.mu.Unlock()
		return Snapshot{}, err
	}
	m, ok := s.members[userID]
	if !ok {
		e.mu.Unlock()
		return Snapshot{}, ErrNotMember
	}
	if s.status != StatusActive || s.prompt == nil {
		e.mu.Unlock()
		return Snapshot{}, ErrNotActive
	}
	if promptID != s.prompt.ID {
		responder, seen := s.resolved[promptID]
		e.mu.Unlock()
		if seen && responder == userID {
			return Snapshot{}, ErrAlreadyResponded
		}
		return Snapshot{}, ErrStalePrompt
	}
	if m.Down {
		e.mu.Unlock()
		return Snapshot{}, ErrDowned
	}
	if role != m.Role {
		e.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: you are %s", ErrRoleMismatch, m.Role)
	}

	p := e.takePromptLocked(s, userID)
	if m.Role == p.Role {
		e.succeedLocked(s, m, p)
	} else {
		e.logf(s, "%s answered %s as %s; the boss punishes the mistake.", userID, p.Mechanic, m.Role)
		e.failLocked(s)
	}
	snap, finished := e.advanceLocked(s)
	e.mu.Unlock()
	return e.conclude(ctx, snap, finished)
}

// expirePrompt runs from the prompt timer. It does nothing unless promptID
// is still the outstanding prompt.
func (e *Engine) expirePrompt(id, promptID string) {
	e.mu.Lock()
	s, ok := e.sessions.Get(id)
	if !ok || s.status != StatusActive || s.prompt == nil || s.prompt.ID != promptID {
		e.mu.Unlock()
		return
	}
	p := e.takePromptLocked(s, "")
	e.logf(s, "Nobody answered %s in time.", p.Mechanic)
	expired := e.snapshot(s)
	e.failLocked(s)
	snap, finished := e.advanceLocked(s)
	e.mu.Unlock()

	e.publish(event.RaidPromptExpired, expired)
	if _, err := e.conclude(context.Background(), snap, finished); err != nil {
		e.logger.Error("raid settlement after timeout failed",
			slog.String("session", id),
			slog.String("error", err.Error()),
		)
	}
}

// advanceLocked issues the next prompt of an active raid, or removes a
// finished one and reports it as finished.
func (e *Engine) advanceLocked(s *raidSession) (Snapshot, bool) {
	if s.status == StatusActive {
		e.issuePromptLocked(s)
		return e.snapshot(s), false
	}
	e.sessions.Remove(s.id)
	return e.snapshot(s), true
}

// conclude runs without e.mu held.
func (e *Engine) conclude(ctx context.Context, snap Snapshot, finished bool) (Snapshot, error) {
	if finished {
		return e.settle(ctx, snap)
	}
	e.publish(event.RaidUpdated, snap)
	e.publish(event.RaidPrompt, snap)
	return snap, nil
}

// Revive stands every downed member back up. Each support member has their
// own cooldown.
func (e *Engine) Revive(id, userID string) (Snapshot, error) {
	e.mu.Lock()
	snap, err := e.reviveLocked(id, userID)
	e.mu.Unlock()
	if err != nil {
		return Snapshot{}, err
	}
	e.publish(event.RaidUpdated, snap)
	return snap, nil
}

func (e *Engine) reviveLocked(id, userID string) (Snapshot, error) {
	s, err := e.getLocked(id)
	if err != nil {
		return Snapshot{}, err
	}
	m, ok := s.members[userID]
	if !ok {
		return Snapshot{}, ErrNotMember
	}
	if s.status != StatusActive {
		return Snapshot{}, ErrNotActive
	}
	if m.Role != RoleSupport {
		return Snapshot{}, ErrNotSupport
	}
	if m.Down {
		return Snapshot{}, ErrDowned
	}
	now := e.clock.Now()
	if now.Before(m.ReviveReadyAt) {
		return Snapshot{}, fmt.Errorf("%w: ready in %s", ErrReviveCooldown, m.ReviveReadyAt.Sub(now).Round(time.Second))
	}

	revived := 0
	for _, uid := range s.order {
		if other := s.members[uid]; other.Down {
			other.Down = false
			revived++
		}
	}
	if revived == 0 {
		return Snapshot{}, ErrNothingToRevive
	}
	m.ReviveReadyAt = now.Add(e.cfg.ReviveCooldown)
	e.logf(s, "%s revived %d fallen allies.", userID, revived)
	return e.snapshot(s), nil
}

// Cancel disbands a forming raid. Nothing is recorded or paid.
func (e *Engine) Cancel(id, userID string) (Snapshot, error) {
	e.mu.Lock()
	s, err := e.getLocked(id)
	if err != nil {
		e.mu.Unlock()
		return Snapshot{}, err
	}
	if s.leaderID != userID {
		e.mu.Unlock()
		return Snapshot{}, ErrNotLeader
	}
	if s.status != StatusForming {
		e.mu.Unlock()
		return Snapshot{}, ErrNotForming
	}
	snap := e.cancelLocked(s, "The leader disbanded the raid.")
	e.mu.Unlock()

	e.logger.Info("raid cancelled", slog.String("session", id), slog.String("user", userID))
	e.publish(event.RaidCancelled, snap)
	return snap, nil
}

func (e *Engine) cancelLocked(s *raidSession, line string) Snapshot {
	e.sessions.Remove(s.id)
	s.status = StatusCancelled
	e.logf(s, "%s", line)
	return e.snapshot(s)
}

// Sweep disbands lobbies that have been forming for longer than maxAge. A
// non-positive maxAge uses the configured forming timeout.
func (e *Engine) Sweep(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = e.cfg.FormingTimeout
	}
	e.mu.Lock()
	now := e.clock.Now()
	var stale []*raidSession
	e.sessions.Range(func(_ string, s *raidSession) bool {
		if s.status == StatusForming && now.Sub(s.createdAt) > maxAge {
			stale = append(stale, s)
		}
		return true
	})
	snaps := make([]Snapshot, 0, len(stale))
	for _, s := range stale {
		snaps = append(snaps, e.cancelLocked(s, "The party never assembled."))
	}
	e.mu.Unlock()

	for _, snap := range snaps {
		e.logger.Info("raid lobby expired", slog.String("session", snap.ID))
		e.publish(event.RaidCancelled, snap)
	}
	return len(snaps)
}

// BindMessage attaches the rendering message id to a raid.
func (e *Engine) BindMessage(id, messageID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.getLocked(id)
	if err != nil {
		return err
	}
	if err := e.sessions.Bind(id, messageID); err != nil {
		return err
	}
	s.messageID = messageID
	return nil
}

func (e *Engine) Get(id string) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.getLocked(id)
	if err != nil {
		return Snapshot{}, err
	}
	return e.snapshot(s), nil
}

func (e *Engine) ByMessage(messageID string) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions.ByRef(messageID)
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return e.snapshot(s), nil
}

func (e *Engine) ByUser(userID string) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions.ByOwner(userID)
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return e.snapshot(s), nil
}

// Len reports the number of forming and active raids.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions.Len()
}
