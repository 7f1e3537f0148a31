package content

// Default returns the built-in content tables.
func Default() *Tables {
	return &Tables{
		Monsters: []Monster{
			{
				ID: "slime", Name: "Cave Slime", Weight: 40,
				HP: 45, Attack: 9, Defense: 3, Strength: 2, Agility: 2, Luck: 1,
				CritChance: 0.03, DodgeChance: 0.02,
				XP: 20, CoinsMin: 10, CoinsMax: 25, LootChance: 0.30,
				Loot: []LootEntry{
					{ItemID: "slime_gel", Name: "Slime Gel", Weight: 8},
					{ItemID: "copper_ore", Name: "Copper Ore", Weight: 2},
				},
			},
			{
				ID: "wolf", Name: "Ash Wolf", Weight: 30,
				HP: 70, Attack: 14, Defense: 6, Strength: 6, Agility: 8, Luck: 3,
				CritChance: 0.08, DodgeChance: 0.06,
				XP: 35, CoinsMin: 20, CoinsMax: 45, LootChance: 0.25,
				Loot: []LootEntry{
					{ItemID: "wolf_pelt", Name: "Wolf Pelt", Weight: 7},
					{ItemID: "fang", Name: "Sharp Fang", Weight: 3},
				},
			},
			{
				ID: "golem", Name: "Quarry Golem", Weight: 20,
				HP: 120, Attack: 16, Defense: 14, Strength: 12, Agility: 1, Luck: 2,
				CritChance: 0.05, DodgeChance: 0,
				XP: 60, CoinsMin: 40, CoinsMax: 80, LootChance: 0.35,
				Loot: []LootEntry{
					{ItemID: "iron_ore", Name: "Iron Ore", Weight: 6},
					{ItemID: "golem_core", Name: "Golem Core", Weight: 1},
				},
			},
			{
				ID: "wyrm", Name: "Ember Wyrm", Boss: true, Weight: 10,
				HP: 220, Attack: 24, Defense: 16, Strength: 14, Intellect: 10, Agility: 6, Luck: 6,
				CritChance: 0.12, DodgeChance: 0.05,
				XP: 150, CoinsMin: 120, CoinsMax: 260, LootChance: 0.50,
				Loot: []LootEntry{
					{ItemID: "ember_scale", Name: "Ember Scale", Weight: 5},
					{ItemID: "wyrm_heart", Name: "Wyrm Heart", Weight: 1},
				},
			},
		},
		Mechanics: []Mechanic{
			{Name: "interrupt", Role: "damage", Weight: 10},
			{Name: "burst", Role: "damage", Weight: 15},
			{Name: "shield", Role: "support", Weight: 12},
			{Name: "taunt", Role: "tank", Weight: 12},
		},
		Phases: []Phase{
			{Name: "Vanguard", Mechanics: []string{"interrupt", "taunt"}, Threshold: 3, EnrageLimit: 3},
			{Name: "Storm", Mechanics: []string{"shield", "interrupt", "burst"}, Threshold: 4, EnrageLimit: 3},
			{Name: "Cataclysm", Mechanics: []string{"interrupt", "shield", "taunt", "burst"}, Threshold: 5, EnrageLimit: 3},
		},
	}
}
