// Package economy is the persistent ledger the session engines settle
// against: balances, inventories, progression, health and raid history.
package economy

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInsufficientFunds = errors.New("economy: insufficient funds")
	ErrInsufficientItems = errors.New("economy: insufficient items")
	ErrInvalidAmount     = errors.New("economy: invalid amount")
)

// Stats are the persisted combat attributes of a player or equipment bonus.
type Stats struct {
	HPMax     int `json:"hpMax"`
	Attack    int `json:"attack"`
	Defense   int `json:"defense"`
	Strength  int `json:"strength"`
	Intellect int `json:"intellect"`
	Agility   int `json:"agility"`
	Luck      int `json:"luck"`
}

// Add returns the field-wise sum of s and o.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		HPMax:     s.HPMax + o.HPMax,
		Attack:    s.Attack + o.Attack,
		Defense:   s.Defense + o.Defense,
		Strength:  s.Strength + o.Strength,
		Intellect: s.Intellect + o.Intellect,
		Agility:   s.Agility + o.Agility,
		Luck:      s.Luck + o.Luck,
	}
}

// Equipment is one equipped piece and the stats it adds.
type Equipment struct {
	Slot  string `json:"slot"`
	Name  string `json:"name"`
	Bonus Stats  `json:"bonus"`
}

// Pet holds the passive multipliers of a player's active pet. A multiplier of
// 1 leaves the stat unchanged.
type Pet struct {
	Name    string  `json:"name"`
	Attack  float64 `json:"attack"`
	Defense float64 `json:"defense"`
	HP      float64 `json:"hp"`
	Luck    float64 `json:"luck"`
}

// Profile is the read model used to derive combatants.
type Profile struct {
	UserID      string      `json:"userId"`
	Level       int         `json:"level"`
	XP          int64       `json:"xp"`
	SkillPoints int         `json:"skillPoints"`
	Coins       int64       `json:"coins"`
	Health      int         `json:"health"`
	Deaths      int         `json:"deaths"`
	GuildID     string      `json:"guildId,omitempty"`
	Base        Stats       `json:"base"`
	Equipment   []Equipment `json:"equipment"`
	Pet         *Pet        `json:"pet,omitempty"`
}

// Item is a quantity of one inventory item.
type Item struct {
	ItemID   string `json:"itemId"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// LevelUp reports what a GrantXP call changed.
type LevelUp struct {
	Gained      int64 `json:"gained"`
	Levels      int   `json:"levels"`
	SkillPoints int   `json:"skillPoints"`
	Level       int   `json:"level"`
}

// GuildBonus is the guild-wide modifier set of a player's guild.
type GuildBonus struct {
	GuildID        string  `json:"guildId,omitempty"`
	Name           string  `json:"name,omitempty"`
	DropRateBonus  float64 `json:"dropRateBonus"`
	InventoryBonus int     `json:"inventoryBonus"`
}

// Rates is the modifier snapshot applied to rewards (world events feed it).
type Rates struct {
	XP    float64 `toml:"xp" json:"xp"`
	Coins float64 `toml:"coins" json:"coins"`
	Drop  float64 `toml:"drop" json:"drop"`
}

// DefaultRates leaves rewards untouched.
func DefaultRates() Rates { return Rates{XP: 1, Coins: 1, Drop: 1} }

// RaidRecord is the durable per-member result of a finished raid.
type RaidRecord struct {
	RaidID       string    `json:"raidId"`
	UserID       string    `json:"userId"`
	Role         string    `json:"role"`
	Contribution int       `json:"contribution"`
	Outcome      string    `json:"outcome"`
	At           time.Time `json:"at"`
}

// JournalEntry is one economic movement written alongside a settlement.
type JournalEntry struct {
	Kind     string `json:"kind"`
	Ref      string `json:"ref"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
	ItemID   string `json:"itemId,omitempty"`
	Quantity int    `json:"quantity,omitempty"`
	Coins    int64  `json:"coins,omitempty"`
}

// Ledger is what the engines need from persistent storage.
type Ledger interface {
	Profile(ctx context.Context, userID string) (Profile, error)
	Inventory(ctx context.Context, userID string) ([]Item, error)
	// Atomic runs fn in one transaction. Any error rolls everything back.
	Atomic(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of mutations available inside Ledger.Atomic.
type Tx interface {
	Quantity(userID, itemID string) (int, error)
	// ItemCount returns the number of distinct stacks the user holds.
	ItemCount(userID string) (int, error)
	AdjustItem(userID, itemID, name string, delta int) error
	AddCoins(userID string, delta int64) error
	GrantXP(userID string, xp int64) (LevelUp, error)
	SetHealth(userID string, hp int) error
	AddDeath(userID string) error
	// CountBattle increments the user's battle counter for day and returns
	// the new value.
	CountBattle(userID, day string) (int, error)
	BattlesOn(userID, day string) (int, error)
	Guild(userID string) (GuildBonus, error)
	RecordRaid(rec RaidRecord) error
	Journal(entry JournalEntry) error
	Rates() Rates
}
