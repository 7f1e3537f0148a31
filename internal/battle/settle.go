package battle

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"ecobot/internal/content"
	"ecobot/internal/economy"
	"ecobot/internal/rng"
)

// DefeatHealthShare is the fraction of max hp a defeated player keeps.
const DefeatHealthShare = 0.25

// finish settles a battle that has left the registry. It runs at most once
// per battle because only the caller that removed the session gets here.
func (e *Engine) finish(ctx context.Context, s *battleSession, snap Snapshot) (Snapshot, error) {
	var err error
	switch s.status {
	case StatusVictory:
		var reward Reward
		reward, err = e.settleVictory(ctx, s)
		if err == nil {
			snap.Reward = &reward
		}
	case StatusDefeat:
		err = e.settleDefeat(ctx, s)
	}

	if err != nil {
		e.logger.Error("battle settlement failed",
			slog.String("session", s.id),
			slog.String("user", s.userID),
			slog.String("error", err.Error()),
		)
		e.publish(snap)
		return snap, fmt.Errorf("%w: %v", ErrSettlementFailed, err)
	}

	e.logger.Info("battle finished",
		slog.String("session", s.id),
		slog.String("user", s.userID),
		slog.String("status", string(s.status)),
		slog.Int("turns", s.turn),
	)
	e.publish(snap)
	return snap, nil
}

func (e *Engine) settleVictory(ctx context.Context, s *battleSession) (Reward, error) {
	var reward Reward
	p := s.player
	m := s.monster

	err := e.ledger.Atomic(ctx, func(tx economy.Tx) error {
		reward = Reward{}
		rates := tx.Rates()
		guild, err := tx.Guild(s.userID)
		if err != nil {
			return err
		}

		reward.Coins = int64(round(float64(rng.Between(e.rand, int(m.CoinsMin), int(m.CoinsMax))) * rates.Coins))
		if rng.Chance(e.rand, math.Min(0.25, float64(p.Luck)*0.01)) {
			reward.Coins *= 2
			reward.CriticalLuck = true
		}
		if err := tx.AddCoins(s.userID, reward.Coins); err != nil {
			return err
		}
		if reward.XP, err = tx.GrantXP(s.userID, m.XP); err != nil {
			return err
		}

		entry := economy.JournalEntry{Kind: "battle.victory", Ref: s.id, To: s.userID, Coins: reward.Coins}
		loot, err := e.rollLoot(tx, s.userID, p.Luck, m, guild, rates)
		if err != nil {
			return err
		}
		if loot != nil {
			if err := tx.AdjustItem(s.userID, loot.ItemID, loot.Name, loot.Quantity); err != nil {
				return err
			}
			reward.Loot = loot
			entry.ItemID, entry.Quantity = loot.ItemID, loot.Quantity
		}

		if err := tx.SetHealth(s.userID, p.HP); err != nil {
			return err
		}
		return tx.Journal(entry)
	})
	return reward, err
}

// rollLoot draws a drop unless the player's inventory is already full.
func (e *Engine) rollLoot(tx economy.Tx, userID string, luck int, m content.Monster, guild economy.GuildBonus, rates economy.Rates) (*economy.Item, error) {
	if len(m.Loot) == 0 {
		return nil, nil
	}
	stacks, err := tx.ItemCount(userID)
	if err != nil {
		return nil, err
	}
	if stacks >= e.cfg.InventoryCapacity+guild.InventoryBonus {
		return nil, nil
	}
	drop := rates.Drop
	if drop <= 0 {
		drop = 1
	}
	chance := math.Min(1, m.LootChance*(1+float64(luck)*0.01)*(1+guild.DropRateBonus)*drop)
	if !rng.Chance(e.rand, chance) {
		return nil, nil
	}
	entry, ok := content.PickLoot(e.rand, m.Loot)
	if !ok {
		return nil, nil
	}
	return &economy.Item{ItemID: entry.ItemID, Name: entry.Name, Quantity: 1}, nil
}

func (e *Engine) settleDefeat(ctx context.Context, s *battleSession) error {
	hp := max(1, int(float64(s.player.HPMax)*DefeatHealthShare))
	return e.ledger.Atomic(ctx, func(tx economy.Tx) error {
		if err := tx.SetHealth(s.userID, hp); err != nil {
			return err
		}
		if err := tx.AddDeath(s.userID); err != nil {
			return err
		}
		return tx.Journal(economy.JournalEntry{Kind: "battle.defeat", Ref: s.id, From: s.userID})
	})
}
