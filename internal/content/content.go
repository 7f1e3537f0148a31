package content

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"ecobot/internal/rng"
)

// LootEntry is one weighted drop in a monster's loot table.
type LootEntry struct {
	ItemID string `yaml:"item_id" json:"itemId"`
	Name   string `yaml:"name" json:"name"`
	Weight int    `yaml:"weight" json:"weight"`
}

// Monster is the static stat block a battle enemy is built from.
type Monster struct {
	ID          string      `yaml:"id" json:"id"`
	Name        string      `yaml:"name" json:"name"`
	Boss        bool        `yaml:"boss" json:"boss"`
	Weight      int         `yaml:"weight" json:"weight"`
	HP          int         `yaml:"hp" json:"hp"`
	Attack      int         `yaml:"attack" json:"attack"`
	Defense     int         `yaml:"defense" json:"defense"`
	Strength    int         `yaml:"strength" json:"strength"`
	Intellect   int         `yaml:"intellect" json:"intellect"`
	Agility     int         `yaml:"agility" json:"agility"`
	Luck        int         `yaml:"luck" json:"luck"`
	CritChance  float64     `yaml:"crit_chance" json:"critChance"`
	DodgeChance float64     `yaml:"dodge_chance" json:"dodgeChance"`
	XP          int64       `yaml:"xp" json:"xp"`
	CoinsMin    int64       `yaml:"coins_min" json:"coinsMin"`
	CoinsMax    int64       `yaml:"coins_max" json:"coinsMax"`
	LootChance  float64     `yaml:"loot_chance" json:"lootChance"`
	Loot        []LootEntry `yaml:"loot" json:"loot"`
}

// Mechanic is a raid challenge that exactly one role resolves.
type Mechanic struct {
	Name   string `yaml:"name" json:"name"`
	Role   string `yaml:"role" json:"role"`
	Weight int    `yaml:"weight" json:"weight"`
}

// Phase is one stage of a raid encounter.
type Phase struct {
	Name        string   `yaml:"name" json:"name"`
	Mechanics   []string `yaml:"mechanics" json:"mechanics"`
	Threshold   int      `yaml:"threshold" json:"threshold"`
	EnrageLimit int      `yaml:"enrage_limit" json:"enrageLimit"`
}

// Tables bundles every content table the engines read.
type Tables struct {
	Monsters  []Monster  `yaml:"monsters"`
	Mechanics []Mechanic `yaml:"mechanics"`
	Phases    []Phase    `yaml:"phases"`
}

var roles = map[string]bool{"damage": true, "support": true, "tank": true}

// Load reads a YAML content file. Sections left out of the file keep their
// built-in defaults.
func Load(path string) (*Tables, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	var f Tables
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse content: %w", err)
	}
	t := Default()
	if len(f.Monsters) > 0 {
		t.Monsters = f.Monsters
	}
	if len(f.Mechanics) > 0 {
		t.Mechanics = f.Mechanics
	}
	if len(f.Phases) > 0 {
		t.Phases = f.Phases
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("content %s: %w", path, err)
	}
	return t, nil
}

// Validate checks cross references and numeric ranges.
func (t *Tables) Validate() error {
	if len(t.Monsters) == 0 {
		return errors.New("no monsters defined")
	}
	for _, m := range t.Monsters {
		if m.ID == "" || m.HP <= 0 {
			return fmt.Errorf("monster %q: id and positive hp required", m.ID)
		}
		if m.Weight <= 0 {
			return fmt.Errorf("monster %q: weight must be positive", m.ID)
		}
		if m.CoinsMin < 0 || m.CoinsMax < m.CoinsMin {
			return fmt.Errorf("monster %q: invalid coin range %d..%d", m.ID, m.CoinsMin, m.CoinsMax)
		}
		for _, l := range m.Loot {
			if l.ItemID == "" || l.Weight <= 0 {
				return fmt.Errorf("monster %q: invalid loot entry %+v", m.ID, l)
			}
		}
	}
	for _, mech := range t.Mechanics {
		if !roles[mech.Role] {
			return fmt.Errorf("mechanic %q: unknown role %q", mech.Name, mech.Role)
		}
	}
	if len(t.Phases) == 0 {
		return errors.New("no raid phases defined")
	}
	for _, p := range t.Phases {
		if p.Threshold <= 0 || p.EnrageLimit <= 0 {
			return fmt.Errorf("phase %q: threshold and enrage limit must be positive", p.Name)
		}
		if len(p.Mechanics) == 0 {
			return fmt.Errorf("phase %q: empty mechanic pool", p.Name)
		}
		for _, name := range p.Mechanics {
			if _, ok := t.Mechanic(name); !ok {
				return fmt.Errorf("phase %q: unknown mechanic %q", p.Name, name)
			}
		}
	}
	return nil
}

// Mechanic looks up a mechanic by name.
func (t *Tables) Mechanic(name string) (Mechanic, bool) {
	for _, m := range t.Mechanics {
		if m.Name == name {
			return m, true
		}
	}
	return Mechanic{}, false
}

// Monster looks up a monster by id.
func (t *Tables) Monster(id string) (Monster, bool) {
	for _, m := range t.Monsters {
		if m.ID == id {
			return m, true
		}
	}
	return Monster{}, false
}

// PickMonster draws a monster weighted by Weight.
func (t *Tables) PickMonster(src rng.Source) Monster {
	total := 0
	for _, m := range t.Monsters {
		total += m.Weight
	}
	roll := src.IntN(total)
	for _, m := range t.Monsters {
		if roll < m.Weight {
			return m
		}
		roll -= m.Weight
	}
	return t.Monsters[len(t.Monsters)-1]
}

// PickLoot draws an entry from a loot table weighted by Weight.
func PickLoot(src rng.Source, loot []LootEntry) (LootEntry, bool) {
	total := 0
	for _, l := range loot {
		total += l.Weight
	}
	if total <= 0 {
		return LootEntry{}, false
	}
	roll := src.IntN(total)
	for _, l := range loot {
		if roll < l.Weight {
			return l, true
		}
		roll -= l.Weight
	}
	return loot[len(loot)-1], true
}
