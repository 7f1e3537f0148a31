package raid

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"ecobot/internal/economy"
	"ecobot/internal/event"
)

// reward returns the per-member payout for a finished raid.
func (e *Engine) reward(status Status) Reward {
	if status == StatusComplete {
		return Reward{XP: e.cfg.SuccessXP, Coins: e.cfg.SuccessCoins}
	}
	f := e.cfg.FailureFactor
	return Reward{
		XP:    int64(math.Round(float64(e.cfg.SuccessXP) * f)),
		Coins: int64(math.Round(float64(e.cfg.SuccessCoins) * f)),
	}
}

// settle records every member and pays them in one transaction. The raid
// has already left the registry, so this runs once per raid.
func (e *Engine) settle(ctx context.Context, snap Snapshot) (Snapshot, error) {
	r := e.reward(snap.Status)
	at := e.clock.Now()

	err := e.ledger.Atomic(ctx, func(tx economy.Tx) error {
		coins := int64(math.Round(float64(r.Coins) * tx.Rates().Coins))
		for _, m := range snap.Members {
			if err := tx.RecordRaid(economy.RaidRecord{
				RaidID:       snap.ID,
				UserID:       m.UserID,
				Role:         string(m.Role),
				Contribution: m.Contribution,
				Outcome:      string(snap.Status),
				At:           at,
			}); err != nil {
				return err
			}
			if err := tx.AddCoins(m.UserID, coins); err != nil {
				return err
			}
			if _, err := tx.GrantXP(m.UserID, r.XP); err != nil {
				return err
			}
			if err := tx.Journal(economy.JournalEntry{
				Kind:  "raid." + string(snap.Status),
				Ref:   snap.ID,
				To:    m.UserID,
				Coins: coins,
			}); err != nil {
				return err
			}
		}
		r.Coins = coins
		return nil
	})
	if err != nil {
		e.logger.Error("raid settlement failed",
			slog.String("session", snap.ID),
			slog.String("error", err.Error()),
		)
		e.publish(event.RaidFinished, snap)
		return snap, fmt.Errorf("%w: %v", ErrSettlementFailed, err)
	}

	snap.Reward = &r
	e.logger.Info("raid finished",
		slog.String("session", snap.ID),
		slog.String("status", string(snap.Status)),
		slog.Int("members", len(snap.Members)),
	)
	e.publish(event.RaidFinished, snap)
	return snap, nil
}
