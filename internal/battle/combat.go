package battle

import (
	"math"

	"ecobot/internal/content"
	"ecobot/internal/economy"
)

// Combatant is the in-battle view of a player or monster.
type Combatant struct {
	Name        string  `json:"name"`
	HP          int     `json:"hp"`
	HPMax       int     `json:"hpMax"`
	Attack      int     `json:"attack"`
	Defense     int     `json:"defense"`
	Strength    int     `json:"strength"`
	Intellect   int     `json:"intellect"`
	Agility     int     `json:"agility"`
	Luck        int     `json:"luck"`
	CritChance  float64 `json:"critChance"`
	DodgeChance float64 `json:"dodgeChance"`
}

// hit removes up to n hp and returns how much was taken.
func (c *Combatant) hit(n int) int {
	if n < 0 {
		n = 0
	}
	if n > c.HP {
		n = c.HP
	}
	c.HP -= n
	return n
}

// heal restores up to n hp and returns how much was restored.
func (c *Combatant) heal(n int) int {
	if n < 0 {
		n = 0
	}
	if room := c.HPMax - c.HP; n > room {
		n = room
	}
	c.HP += n
	return n
}

func (c *Combatant) alive() bool { return c.HP > 0 }

func round(x float64) int {
	return int(math.Floor(x + 0.5))
}

func scale(v int, mult float64) int {
	if mult <= 0 {
		return v
	}
	return round(float64(v) * mult)
}

// mitigate applies target defense to a raw hit. Every hit lands for at least 1.
func mitigate(raw float64, defense int) int {
	return max(1, round(raw-float64(defense)*0.4))
}

func critMultiplier(luck int) float64 {
	return 1.5 + float64(luck)*0.02
}

// PlayerCombatant derives a combatant from persisted stats: equipment
// bonuses are summed onto base stats, then pet multipliers are applied.
func PlayerCombatant(name string, p economy.Profile) Combatant {
	st := p.Base
	for _, eq := range p.Equipment {
		st = st.Add(eq.Bonus)
	}
	if p.Pet != nil {
		st.Attack = scale(st.Attack, p.Pet.Attack)
		st.Defense = scale(st.Defense, p.Pet.Defense)
		st.HPMax = scale(st.HPMax, p.Pet.HP)
		st.Luck = scale(st.Luck, p.Pet.Luck)
	}
	st.HPMax = max(1, st.HPMax)

	return Combatant{
		Name:        name,
		HP:          min(max(p.Health, 0), st.HPMax),
		HPMax:       st.HPMax,
		Attack:      st.Attack,
		Defense:     st.Defense,
		Strength:    st.Strength,
		Intellect:   st.Intellect,
		Agility:     st.Agility,
		Luck:        st.Luck,
		CritChance:  math.Min(0.5, 0.05+float64(st.Luck)*0.005),
		DodgeChance: math.Min(0.4, 0.02+float64(st.Agility)*0.004),
	}
}

// MonsterCombatant builds a full-health combatant from a table entry.
func MonsterCombatant(m content.Monster) Combatant {
	return Combatant{
		Name:        m.Name,
		HP:          m.HP,
		HPMax:       m.HP,
		Attack:      m.Attack,
		Defense:     m.Defense,
		Strength:    m.Strength,
		Intellect:   m.Intellect,
		Agility:     m.Agility,
		Luck:        m.Luck,
		CritChance:  m.CritChance,
		DodgeChance: m.DodgeChance,
	}
}

// Skill is a player action. Damage, Shield and Heal are optional.
type Skill struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Cooldown    int     `json:"cooldown"`
	CritBonus   float64 `json:"critBonus"`
	// Recoil is the share of dealt damage the user takes back.
	Recoil float64 `json:"recoil,omitempty"`

	Damage func(c Combatant) float64 `json:"-"`
	Shield func(c Combatant) float64 `json:"-"`
	Heal   func(c Combatant) float64 `json:"-"`
}

// DefaultSkills returns the built-in skill list.
func DefaultSkills() []Skill {
	return []Skill{
		{
			ID: "strike", Name: "Strike", Description: "A reliable weapon blow.",
			Damage: func(c Combatant) float64 { return float64(c.Attack) + float64(c.Strength)*0.5 },
		},
		{
			ID: "fireball", Name: "Fireball", Description: "Burns through armour with raw intellect.",
			Cooldown: 2, CritBonus: 0.05,
			Damage: func(c Combatant) float64 { return float64(c.Intellect)*2 + float64(c.Attack)*0.5 },
		},
		{
			ID: "quickshot", Name: "Quickshot", Description: "A fast shot that finds weak spots.",
			Cooldown: 1, CritBonus: 0.15,
			Damage: func(c Combatant) float64 { return float64(c.Attack)*0.8 + float64(c.Agility) },
		},
		{
			ID: "guard", Name: "Guard", Description: "Raise a shield that soaks the next enemy hit.",
			Cooldown: 3,
			Damage:   func(c Combatant) float64 { return float64(c.Attack) * 0.5 },
			Shield:   func(c Combatant) float64 { return float64(c.Defense)*1.5 + float64(c.Strength)*0.5 },
		},
		{
			ID: "mend", Name: "Mend", Description: "Close wounds instead of attacking.",
			Cooldown: 3,
			Heal:     func(c Combatant) float64 { return float64(c.Intellect)*1.5 + float64(c.HPMax)*0.1 },
		},
		{
			ID: "reckless", Name: "Reckless Swing", Description: "A huge blow that hurts you too.",
			Cooldown: 2, CritBonus: 0.1, Recoil: 0.2,
			Damage: func(c Combatant) float64 { return float64(c.Attack)*1.8 + float64(c.Strength) },
		},
	}
}
