// Package raid coordinates cooperative encounters for three to five players.
// A raid walks through ordered phases; in each phase the engine issues timed
// mechanic prompts that only one role can resolve.
package raid

import (
	"errors"
	"sort"
	"time"
)

var (
	ErrNotFound         = errors.New("raid: not found")
	ErrNotLeader        = errors.New("raid: only the leader can do that")
	ErrNotMember        = errors.New("raid: not a member of this raid")
	ErrBusy             = errors.New("raid: already in another raid")
	ErrFull             = errors.New("raid: raid is full")
	ErrInvalidRole      = errors.New("raid: unknown role")
	ErrNotForming       = errors.New("raid: raid is no longer forming")
	ErrNotActive        = errors.New("raid: raid is not active")
	ErrNotReady         = errors.New("raid: raid cannot start yet")
	ErrRoleMismatch     = errors.New("raid: role does not match your assignment")
	ErrDowned           = errors.New("raid: you are down")
	ErrStalePrompt      = errors.New("raid: prompt is no longer current")
	ErrAlreadyResponded = errors.New("raid: already responded to this prompt")
	ErrNotSupport       = errors.New("raid: only support members can revive")
	ErrNothingToRevive  = errors.New("raid: nobody is down")
	ErrReviveCooldown   = errors.New("raid: revive on cooldown")
	ErrSettlementFailed = errors.New("raid: settlement failed")
)

type Role string

const (
	RoleDamage  Role = "damage"
	RoleSupport Role = "support"
	RoleTank    Role = "tank"
)

// Roles lists every role a raid needs covered before it starts.
var Roles = []Role{RoleDamage, RoleSupport, RoleTank}

func (r Role) valid() bool {
	return r == RoleDamage || r == RoleSupport || r == RoleTank
}

type Status string

const (
	StatusForming   Status = "forming"
	StatusActive    Status = "active"
	StatusComplete  Status = "complete"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Config is the raid tuning.
type Config struct {
	PromptTimeout  time.Duration `toml:"prompt_timeout"`
	ReviveCooldown time.Duration `toml:"revive_cooldown"`
	MinMembers     int           `toml:"min_members"`
	MaxMembers     int           `toml:"max_members"`
	SuccessXP      int64         `toml:"success_xp"`
	SuccessCoins   int64         `toml:"success_coins"`
	FailureFactor  float64       `toml:"failure_factor"`
	FormingTimeout time.Duration `toml:"forming_timeout"`
	LogSize        int           `toml:"log_size"`
}

func DefaultConfig() Config {
	return Config{
		PromptTimeout:  30 * time.Second,
		ReviveCooldown: 5 * time.Minute,
		MinMembers:     3,
		MaxMembers:     5,
		SuccessXP:      250,
		SuccessCoins:   500,
		FailureFactor:  0.5,
		FormingTimeout: 15 * time.Minute,
		LogSize:        10,
	}
}

// Member is one participant of a raid.
type Member struct {
	UserID        string    `json:"userId"`
	Role          Role      `json:"role"`
	Down          bool      `json:"down"`
	ReviveReadyAt time.Time `json:"reviveReadyAt,omitzero"`
	Contribution  int       `json:"contribution"`
}

// Prompt is the outstanding mechanic challenge.
type Prompt struct {
	ID        string    `json:"id"`
	Mechanic  string    `json:"mechanic"`
	Role      Role      `json:"role"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Reward is what each member was credited when the raid ended.
type Reward struct {
	XP    int64 `json:"xp"`
	Coins int64 `json:"coins"`
}

// Snapshot is a copy of a raid safe to hand to renderers.
type Snapshot struct {
	ID          string    `json:"id"`
	LeaderID    string    `json:"leaderId"`
	ChannelID   string    `json:"channelId"`
	MessageID   string    `json:"messageId,omitempty"`
	Status      Status    `json:"status"`
	Phase       int       `json:"phase"`
	PhaseName   string    `json:"phaseName,omitempty"`
	Phases      int       `json:"phases"`
	Progress    int       `json:"progress"`
	Threshold   int       `json:"threshold"`
	Enrage      int       `json:"enrage"`
	EnrageLimit int       `json:"enrageLimit"`
	Members     []Member  `json:"members"`
	Prompt      *Prompt   `json:"prompt,omitempty"`
	Log         []string  `json:"log"`
	Reward      *Reward   `json:"reward,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Member returns the member entry for userID.
func (s Snapshot) Member(userID string) (Member, bool) {
	for _, m := range s.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return Member{}, false
}

// Users returns the leader and every member, deduplicated and sorted.
func (s Snapshot) Users() []string {
	seen := map[string]bool{s.LeaderID: true}
	users := []string{s.LeaderID}
	for _, m := range s.Members {
		if !seen[m.UserID] {
			seen[m.UserID] = true
			users = append(users, m.UserID)
		}
	}
	sort.Strings(users)
	return users
}
