// Package trade implements two-party item swaps: each side sets an offer, both
// confirm, and the swap settles in one ledger transaction.
package trade

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ecobot/internal/clock"
	"ecobot/internal/economy"
	"ecobot/internal/event"
	"ecobot/internal/session"
)

var (
	ErrNotFound          = errors.New("trade: session not found")
	ErrNotParticipant    = errors.New("trade: not a participant")
	ErrBusy              = errors.New("trade: user already in a trade")
	ErrSelfTrade         = errors.New("trade: cannot trade with yourself")
	ErrInvalidOffer      = errors.New("trade: invalid offer")
	ErrInsufficientItems = errors.New("trade: offer exceeds inventory")
	ErrHoldingsChanged   = errors.New("trade: holdings changed since the offer was made")
	ErrSettlementFailed  = errors.New("trade: settlement failed")
)

const DefaultTTL = 2 * time.Minute

type Status string

const (
	StatusOpen      Status = "open"
	StatusSettled   Status = "settled"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Offer is one participant's side of a trade.
type Offer struct {
	UserID    string         `json:"userId"`
	Items     []economy.Item `json:"items"`
	Confirmed bool           `json:"confirmed"`
}

// Snapshot is a copy of a session safe to hand to renderers.
type Snapshot struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channelId"`
	MessageID string    `json:"messageId,omitempty"`
	Status    Status    `json:"status"`
	Initiator Offer     `json:"initiator"`
	Target    Offer     `json:"target"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Outcome is the result of a Confirm. Settled is set once the swap committed.
type Outcome struct {
	Snapshot Snapshot `json:"snapshot"`
	Settled  bool     `json:"settled"`
}

type tradeSession struct {
	id        string
	channelID string
	messageID string
	offers    [2]*Offer
	expiresAt time.Time
}

func (s *tradeSession) side(userID string) (*Offer, bool) {
	for _, o := range s.offers {
		if o.UserID == userID {
			return o, true
		}
	}
	return nil, false
}

func (s *tradeSession) users() []string {
	return []string{s.offers[0].UserID, s.offers[1].UserID}
}

func (s *tradeSession) snapshot(status Status) Snapshot {
	cp := func(o *Offer) Offer {
		return Offer{UserID: o.UserID, Items: append([]economy.Item{}, o.Items...), Confirmed: o.Confirmed}
	}
	return Snapshot{
		ID:        s.id,
		ChannelID: s.channelID,
		MessageID: s.messageID,
		Status:    status,
		Initiator: cp(s.offers[0]),
		Target:    cp(s.offers[1]),
		ExpiresAt: s.expiresAt,
	}
}

// Engine owns every open trade.
type Engine struct {
	mu       sync.Mutex
	sessions *session.Registry[*tradeSession]
	ledger   economy.Ledger
	clock    clock.Clock
	ttl      time.Duration
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

// WithTTL sets the sliding expiry refreshed on every mutating action.
func WithTTL(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.ttl = d
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

// New returns an Engine settling against ledger.
func New(ledger economy.Ledger, opts ...Option) *Engine {
	e := &Engine{
		sessions: session.New[*tradeSession](),
		ledger:   ledger,
		clock:    clock.Real(),
		ttl:      DefaultTTL,
		notifier: event.Discard,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Create opens a trade between initiator and target.
func (e *Engine) Create(ctx context.Context, initiatorID, targetID, channelID string) (Snapshot, error) {
	if initiatorID == "" || targetID == "" {
		return Snapshot{}, fmt.Errorf("%w: missing participant", ErrInvalidOffer)
	}
	if initiatorID == targetID {
		return Snapshot{}, ErrSelfTrade
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	for _, user := range []string{initiatorID, targetID} {
		if id, ok := e.sessions.OwnerSession(user); ok {
			if _, err := e.lookupLocked(id, now); err == nil {
				return Snapshot{}, fmt.Errorf("%w: %s", ErrBusy, user)
			}
		}
	}

	s := &tradeSession{
		id:        uuid.NewString(),
		channelID: channelID,
		offers: [2]*Offer{
			{UserID: initiatorID, Items: []economy.Item{}},
			{UserID: targetID, Items: []economy.Item{}},
		},
		expiresAt: now.Add(e.ttl),
	}
	if err := e.sessions.Insert(s.id, s, initiatorID, targetID); err != nil {
		if errors.Is(err, session.ErrOwnerBusy) {
			return Snapshot{}, fmt.Errorf("%w: %v", ErrBusy, err)
		}
		return Snapshot{}, err
	}
	e.logger.Info("trade created",
		slog.String("session", s.id),
		slog.String("user", initiatorID),
		slog.String("target", targetID),
	)
	return s.snapshot(StatusOpen), nil
}

// lookupLocked returns a live session, purging it if its expiry has passed.
func (e *Engine) lookupLocked(id string, now time.Time) (*tradeSession, error) {
	s, ok := e.sessions.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	if now.After(s.expiresAt) {
		e.sessions.Remove(id)
		e.logger.Info("trade expired", slog.String("session", id))
		e.publish(event.TradeExpired, s, s.snapshot(StatusExpired))
		return nil, ErrNotFound
	}
	return s, nil
}

func (e *Engine) publish(kind event.Kind, s *tradeSession, snap Snapshot) {
	e.notifier.Publish(event.Event{
		Kind:    kind,
		Session: s.id,
		Users:   s.users(),
		At:      e.clock.Now(),
		Data:    snap,
	})
}

// BindMessage attaches the rendering message id to a session.
func (e *Engine) BindMessage(id, messageID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.lookupLocked(id, e.clock.Now())
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
	s, err := e.lookupLocked(id, e.clock.Now())
	if err != nil {
		return Snapshot{}, err
	}
	return s.snapshot(StatusOpen), nil
}

func (e *Engine) ByMessage(messageID string) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions.ByRef(messageID)
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	if _, err := e.lookupLocked(s.id, e.clock.Now()); err != nil {
		return Snapshot{}, err
	}
	return s.snapshot(StatusOpen), nil
}

func (e *Engine) ByUser(userID string) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.sessions.OwnerSession(userID)
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	s, err := e.lookupLocked(id, e.clock.Now())
	if err != nil {
		return Snapshot{}, err
	}
	return s.snapshot(StatusOpen), nil
}

// participantLocked resolves a live session and the caller's side of it.
func (e *Engine) participantLocked(id, userID string) (*tradeSession, *Offer, error) {
	s, err := e.lookupLocked(id, e.clock.Now())
	if err != nil {
		return nil, nil, err
	}
	o, ok := s.side(userID)
	if !ok {
		return nil, nil, ErrNotParticipant
	}
	return s, o, nil
}

// aggregate merges lines that name the same item.
func aggregate(items []economy.Item) ([]economy.Item, error) {
	byID := make(map[string]*economy.Item)
	var order []string
	for _, it := range items {
		if it.ItemID == "" {
			return nil, fmt.Errorf("%w: empty item id", ErrInvalidOffer)
		}
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity %d for %s", ErrInvalidOffer, it.Quantity, it.ItemID)
		}
		if cur, ok := byID[it.ItemID]; ok {
			cur.Quantity += it.Quantity
			if cur.Name == "" {
				cur.Name = it.Name
			}
			continue
		}
		cp := it
		byID[it.ItemID] = &cp
		order = append(order, it.ItemID)
	}
	sort.Strings(order)
	out := make([]economy.Item, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

// SetOffer replaces the caller's offer after checking it against their
// inventory. Both confirmations are cleared.
func (e *Engine) SetOffer(ctx context.Context, id, userID string, items []economy.Item) (Snapshot, error) {
	e.mu.Lock()
	_, _, err := e.participantLocked(id, userID)
	e.mu.Unlock()
	if err != nil {
		return Snapshot{}, err
	}

	offer, err := aggregate(items)
	if err != nil {
		return Snapshot{}, err
	}
	held, err := e.ledger.Inventory(ctx, userID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("trade: load inventory: %w", err)
	}
	have := make(map[string]economy.Item, len(held))
	for _, it := range held {
		have[it.ItemID] = it
	}
	for i, it := range offer {
		h := have[it.ItemID]
		if h.Quantity < it.Quantity {
			return Snapshot{}, fmt.Errorf("%w: %s has %d, offered %d", ErrInsufficientItems, it.ItemID, h.Quantity, it.Quantity)
		}
		if offer[i].Name == "" {
			offer[i].Name = h.Name
		}
	}

	e.mu.Lock()
	s, side, err := e.participantLocked(id, userID)
	if err != nil {
		e.mu.Unlock()
		return Snapshot{}, err
	}
	side.Items = offer
	for _, o := range s.offers {
		o.Confirmed = false
	}
	s.expiresAt = e.clock.Now().Add(e.ttl)
	snap := s.snapshot(StatusOpen)
	e.mu.Unlock()

	e.publish(event.TradeUpdated, s, snap)
	return snap, nil
}

// Confirm marks the caller as confirmed. The second confirmation settles the
// trade; the session is gone afterwards whatever the result.
func (e *Engine) Confirm(ctx context.Context, id, userID string) (Outcome, error) {
	e.mu.Lock()
	s, side, err := e.participantLocked(id, userID)
	if err != nil {
		e.mu.Unlock()
		return Outcome{}, err
	}
	side.Confirmed = true
	s.expiresAt = e.clock.Now().Add(e.ttl)
	if !s.offers[0].Confirmed || !s.offers[1].Confirmed {
		snap := s.snapshot(StatusOpen)
		e.mu.Unlock()
		e.publish(event.TradeUpdated, s, snap)
		return Outcome{Snapshot: snap}, nil
	}
	e.sessions.Remove(id)
	pending := s.snapshot(StatusOpen)
	e.mu.Unlock()

	if err := e.settle(ctx, pending); err != nil {
		failed := pending
		failed.Status = StatusFailed
		e.publish(event.TradeFailed, s, failed)
		if errors.Is(err, ErrHoldingsChanged) {
			e.logger.Info("trade aborted", slog.String("session", id), slog.String("reason", err.Error()))
			return Outcome{Snapshot: failed}, err
		}
		e.logger.Error("trade settlement failed", slog.String("session", id), slog.String("error", err.Error()))
		return Outcome{Snapshot: failed}, fmt.Errorf("%w: %v", ErrSettlementFailed, err)
	}

	settled := pending
	settled.Status = StatusSettled
	e.logger.Info("trade settled",
		slog.String("session", id),
		slog.String("user", settled.Initiator.UserID),
		slog.String("target", settled.Target.UserID),
	)
	e.publish(event.TradeSettled, s, settled)
	return Outcome{Snapshot: settled, Settled: true}, nil
}

func (e *Engine) settle(ctx context.Context, snap Snapshot) error {
	legs := []struct {
		from, to string
		items    []economy.Item
	}{
		{snap.Initiator.UserID, snap.Target.UserID, snap.Initiator.Items},
		{snap.Target.UserID, snap.Initiator.UserID, snap.Target.Items},
	}
	return e.ledger.Atomic(ctx, func(tx economy.Tx) error {
		for _, leg := range legs {
			for _, it := range leg.items {
				have, err := tx.Quantity(leg.from, it.ItemID)
				if err != nil {
					return err
				}
				if have < it.Quantity {
					return fmt.Errorf("%w: %s has %d %s, offered %d", ErrHoldingsChanged, leg.from, have, it.ItemID, it.Quantity)
				}
			}
		}
		for _, leg := range legs {
			for _, it := range leg.items {
				if err := tx.AdjustItem(leg.from, it.ItemID, it.Name, -it.Quantity); err != nil {
					if errors.Is(err, economy.ErrInsufficientItems) {
						return fmt.Errorf("%w: %v", ErrHoldingsChanged, err)
					}
					return err
				}
			}
		}
		for _, leg := range legs {
			for _, it := range leg.items {
				if err := tx.AdjustItem(leg.to, it.ItemID, it.Name, it.Quantity); err != nil {
					return err
				}
				if err := tx.Journal(economy.JournalEntry{
					Kind:     "trade",
					Ref:      snap.ID,
					From:     leg.from,
					To:       leg.to,
					ItemID:   it.ItemID,
					Quantity: it.Quantity,
				}); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Cancel purges the session. Either participant may cancel.
func (e *Engine) Cancel(id, userID string) (Snapshot, error) {
	e.mu.Lock()
	s, _, err := e.participantLocked(id, userID)
	if err != nil {
		e.mu.Unlock()
		return Snapshot{}, err
	}
	e.sessions.Remove(id)
	snap := s.snapshot(StatusCancelled)
	e.mu.Unlock()

	e.logger.Info("trade cancelled", slog.String("session", id), slog.String("user", userID))
	e.publish(event.TradeCancelled, s, snap)
	return snap, nil
}

// Len reports the number of sessions held, expired ones included.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions.Len()
}
