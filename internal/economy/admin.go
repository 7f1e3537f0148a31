package economy

import (
	"context"
	"fmt"
)

// GrantItem credits quantity of an item outside any session settlement.
func (s *Store) GrantItem(ctx context.Context, userID, itemID, name string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity %d", ErrInvalidAmount, qty)
	}
	return s.Atomic(ctx, func(tx Tx) error {
		if err := tx.AdjustItem(userID, itemID, name, qty); err != nil {
			return err
		}
		return tx.Journal(JournalEntry{Kind: "grant", Ref: userID, To: userID, ItemID: itemID, Quantity: qty})
	})
}

// Deposit credits coins outside any session settlement.
func (s *Store) Deposit(ctx context.Context, userID string, coins int64) error {
	if coins <= 0 {
		return fmt.Errorf("%w: coins %d", ErrInvalidAmount, coins)
	}
	return s.Atomic(ctx, func(tx Tx) error {
		if err := tx.AddCoins(userID, coins); err != nil {
			return err
		}
		return tx.Journal(JournalEntry{Kind: "deposit", Ref: userID, To: userID, Coins: coins})
	})
}

// SetStats overwrites a player's base stats and clamps health to the new max.
func (s *Store) SetStats(ctx context.Context, userID string, st Stats) error {
	if err := s.ensurePlayer(ctx, s.db, userID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE players SET hp_max = ?, attack = ?, defense = ?, strength = ?, intellect = ?,
		        agility = ?, luck = ?, health = MIN(health, ?)
		 WHERE id = ?`,
		st.HPMax, st.Attack, st.Defense, st.Strength, st.Intellect, st.Agility, st.Luck, st.HPMax, userID)
	if err != nil {
		return fmt.Errorf("set stats %s: %w", userID, err)
	}
	return nil
}

// Equip places a piece of equipment in its slot, replacing what was there.
func (s *Store) Equip(ctx context.Context, userID string, e Equipment) error {
	if err := s.ensurePlayer(ctx, s.db, userID); err != nil {
		return err
	}
	b := e.Bonus
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO equipment (user_id, slot, name, hp_max, attack, defense, strength, intellect, agility, luck)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, slot) DO UPDATE SET
		   name = excluded.name, hp_max = excluded.hp_max, attack = excluded.attack,
		   defense = excluded.defense, strength = excluded.strength, intellect = excluded.intellect,
		   agility = excluded.agility, luck = excluded.luck`,
		userID, e.Slot, e.Name, b.HPMax, b.Attack, b.Defense, b.Strength, b.Intellect, b.Agility, b.Luck)
	if err != nil {
		return fmt.Errorf("equip %s/%s: %w", userID, e.Slot, err)
	}
	return nil
}

// SetPet makes pet the player's active pet.
func (s *Store) SetPet(ctx context.Context, userID string, pet Pet) error {
	if err := s.ensurePlayer(ctx, s.db, userID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pets (user_id, name, attack_mult, defense_mult, hp_mult, luck_mult)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   name = excluded.name, attack_mult = excluded.attack_mult, defense_mult = excluded.defense_mult,
		   hp_mult = excluded.hp_mult, luck_mult = excluded.luck_mult`,
		userID, pet.Name, pet.Attack, pet.Defense, pet.HP, pet.Luck)
	if err != nil {
		return fmt.Errorf("set pet %s: %w", userID, err)
	}
	return nil
}

// JoinGuild upserts the guild and makes userID a member of it.
func (s *Store) JoinGuild(ctx context.Context, userID string, g GuildBonus) error {
	if g.GuildID == "" {
		return fmt.Errorf("%w: empty guild id", ErrInvalidAmount)
	}
	if err := s.ensurePlayer(ctx, s.db, userID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO guilds (id, name, drop_rate_bonus, inventory_bonus) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name, drop_rate_bonus = excluded.drop_rate_bonus, inventory_bonus = excluded.inventory_bonus`,
		g.GuildID, g.Name, g.DropRateBonus, g.InventoryBonus); err != nil {
		return fmt.Errorf("upsert guild %s: %w", g.GuildID, err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE players SET guild_id = ? WHERE id = ?`, g.GuildID, userID); err != nil {
		return fmt.Errorf("join guild %s: %w", g.GuildID, err)
	}
	return nil
}

// Balance returns the user's coin balance.
func (s *Store) Balance(ctx context.Context, userID string) (int64, error) {
	p, err := s.Profile(ctx, userID)
	if err != nil {
		return 0, err
	}
	return p.Coins, nil
}

// RaidHistory lists a user's raid records, newest first.
func (s *Store) RaidHistory(ctx context.Context, userID string) ([]RaidRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT raid_id, user_id, role, contribution, outcome, created_at
		 FROM raid_records WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("load raid history %s: %w", userID, err)
	}
	defer rows.Close()

	records := []RaidRecord{}
	for rows.Next() {
		var r RaidRecord
		if err := rows.Scan(&r.RaidID, &r.UserID, &r.Role, &r.Contribution, &r.Outcome, &r.At); err != nil {
			return nil, fmt.Errorf("scan raid record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// JournalFor lists the journal entries written under ref in insertion order.
func (s *Store) JournalFor(ctx context.Context, ref string) ([]JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, ref, from_user, to_user, item_id, quantity, coins
		 FROM journal WHERE ref = ? ORDER BY created_at, rowid`, ref)
	if err != nil {
		return nil, fmt.Errorf("load journal %s: %w", ref, err)
	}
	defer rows.Close()

	entries := []JournalEntry{}
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(&e.Kind, &e.Ref, &e.From, &e.To, &e.ItemID, &e.Quantity, &e.Coins); err != nil {
			return nil, fmt.Errorf("scan journal: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
