package event

import (
	"sync"
	"time"
)

// Kind names an engine transition pushed to subscribers.
type Kind string

const (
	BattleFinished Kind = "battle.finished"

	TradeUpdated   Kind = "trade.updated"
	TradeSettled   Kind = "trade.settled"
	TradeFailed    Kind = "trade.failed"
	TradeCancelled Kind = "trade.cancelled"
	TradeExpired   Kind = "trade.expired"

	RaidUpdated       Kind = "raid.updated"
	RaidPrompt        Kind = "raid.prompt"
	RaidPromptExpired Kind = "raid.prompt_expired"
	RaidFinished      Kind = "raid.finished"
	RaidCancelled     Kind = "raid.cancelled"
)

// Event is addressed to Users; Data is the renderable session snapshot.
type Event struct {
	Kind    Kind      `json:"kind"`
	Session string    `json:"session"`
	Users   []string  `json:"users"`
	At      time.Time `json:"at"`
	Data    any       `json:"data,omitempty"`
}

// Notifier receives events. Publish must not block on slow consumers.
type Notifier interface {
	Publish(Event)
}

type discard struct{}

func (discard) Publish(Event) {}

// Discard drops every event.
var Discard Notifier = discard{}

// Buffer keeps published events in memory.
type Buffer struct {
	mu     sync.Mutex
	events []Event
}

func (b *Buffer) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

// Events returns a copy of everything published so far.
func (b *Buffer) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.events...)
}

// Count returns how many events of the given kind were published.
func (b *Buffer) Count(kind Kind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
