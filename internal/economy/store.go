package economy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultStats are given to a player the first time the ledger sees them.
var DefaultStats = Stats{
	HPMax:     100,
	Attack:    10,
	Defense:   5,
	Strength:  5,
	Intellect: 5,
	Agility:   5,
	Luck:      5,
}

// Store is the SQLite-backed Ledger.
type Store struct {
	db  *sql.DB
	now func() time.Time

	mu    sync.RWMutex
	rates Rates
}

// Option configures a Store.
type Option func(*Store)

// WithRates sets the reward modifier snapshot.
func WithRates(r Rates) Option {
	return func(s *Store) { s.rates = r }
}

// WithClock overrides the timestamp source used for records.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open opens (or creates) the ledger database at path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := openDatabase(path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, rates: DefaultRates(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Rates returns the active modifier snapshot.
func (s *Store) Rates() Rates {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rates
}

// SetRates swaps the modifier snapshot. Settlements already running keep the
// snapshot they started with.
func (s *Store) SetRates(r Rates) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates = r
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) ensurePlayer(ctx context.Context, q querier, userID string) error {
	if userID == "" {
		return errors.New("economy: empty user id")
	}
	d := DefaultStats
	_, err := q.ExecContext(ctx,
		`INSERT INTO players (id, health, hp_max, attack, defense, strength, intellect, agility, luck, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		userID, d.HPMax, d.HPMax, d.Attack, d.Defense, d.Strength, d.Intellect, d.Agility, d.Luck, s.now().UTC())
	if err != nil {
		return fmt.Errorf("ensure player %s: %w", userID, err)
	}
	return nil
}

// Profile loads a player's stats, gear and pet.
func (s *Store) Profile(ctx context.Context, userID string) (Profile, error) {
	if err := s.ensurePlayer(ctx, s.db, userID); err != nil {
		return Profile{}, err
	}
	p := Profile{UserID: userID}
	var guild sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT coins, xp, level, skill_points, health, deaths, guild_id,
		        hp_max, attack, defense, strength, intellect, agility, luck
		 FROM players WHERE id = ?`, userID).
		Scan(&p.Coins, &p.XP, &p.Level, &p.SkillPoints, &p.Health, &p.Deaths, &guild,
			&p.Base.HPMax, &p.Base.Attack, &p.Base.Defense, &p.Base.Strength,
			&p.Base.Intellect, &p.Base.Agility, &p.Base.Luck)
	if err != nil {
		return Profile{}, fmt.Errorf("load player %s: %w", userID, err)
	}
	p.GuildID = guild.String

	rows, err := s.db.QueryContext(ctx,
		`SELECT slot, name, hp_max, attack, defense, strength, intellect, agility, luck
		 FROM equipment WHERE user_id = ? ORDER BY slot`, userID)
	if err != nil {
		return Profile{}, fmt.Errorf("load equipment %s: %w", userID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var e Equipment
		if err := rows.Scan(&e.Slot, &e.Name, &e.Bonus.HPMax, &e.Bonus.Attack, &e.Bonus.Defense,
			&e.Bonus.Strength, &e.Bonus.Intellect, &e.Bonus.Agility, &e.Bonus.Luck); err != nil {
			return Profile{}, fmt.Errorf("scan equipment: %w", err)
		}
		p.Equipment = append(p.Equipment, e)
	}
	if err := rows.Err(); err != nil {
		return Profile{}, err
	}

	var pet Pet
	err = s.db.QueryRowContext(ctx,
		`SELECT name, attack_mult, defense_mult, hp_mult, luck_mult FROM pets WHERE user_id = ?`, userID).
		Scan(&pet.Name, &pet.Attack, &pet.Defense, &pet.HP, &pet.Luck)
	switch {
	case err == nil:
		p.Pet = &pet
	case errors.Is(err, sql.ErrNoRows):
	default:
		return Profile{}, fmt.Errorf("load pet %s: %w", userID, err)
	}
	return p, nil
}

// Inventory lists the user's non-empty stacks ordered by item id.
func (s *Store) Inventory(ctx context.Context, userID string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, name, quantity FROM inventory
		 WHERE user_id = ? AND quantity > 0 ORDER BY item_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("load inventory %s: %w", userID, err)
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ItemID, &it.Name, &it.Quantity); err != nil {
			return nil, fmt.Errorf("scan inventory: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Atomic runs fn inside a single transaction.
func (s *Store) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("economy begin: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txn{ctx: ctx, tx: sqlTx, store: s, rates: s.Rates()}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("economy commit: %w", err)
	}
	return nil
}

type txn struct {
	ctx   context.Context
	tx    *sql.Tx
	store *Store
	rates Rates
}

func (t *txn) Rates() Rates { return t.rates }

func (t *txn) Quantity(userID, itemID string) (int, error) {
	return quantity(t.ctx, t.tx, userID, itemID)
}

func quantity(ctx context.Context, q querier, userID, itemID string) (int, error) {
	var qty int
	err := q.QueryRowContext(ctx,
		`SELECT quantity FROM inventory WHERE user_id = ? AND item_id = ?`, userID, itemID).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load quantity %s/%s: %w", userID, itemID, err)
	}
	return qty, nil
}

func (t *txn) ItemCount(userID string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT COUNT(*) FROM inventory WHERE user_id = ? AND quantity > 0`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count items %s: %w", userID, err)
	}
	return n, nil
}

func (t *txn) AdjustItem(userID, itemID, name string, delta int) error {
	return adjustItem(t.ctx, t.tx, t.store, userID, itemID, name, delta)
}

func adjustItem(ctx context.Context, q querier, s *Store, userID, itemID, name string, delta int) error {
	if itemID == "" {
		return fmt.Errorf("%w: empty item id", ErrInvalidAmount)
	}
	if delta == 0 {
		return nil
	}
	if err := s.ensurePlayer(ctx, q, userID); err != nil {
		return err
	}
	if delta > 0 {
		_, err := q.ExecContext(ctx,
			`INSERT INTO inventory (user_id, item_id, name, quantity) VALUES (?, ?, ?, ?)
			 ON CONFLICT(user_id, item_id) DO UPDATE SET
			   quantity = quantity + excluded.quantity,
			   name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE inventory.name END`,
			userID, itemID, name, delta)
		if err != nil {
			return fmt.Errorf("credit %s x%d to %s: %w", itemID, delta, userID, err)
		}
		return nil
	}

	have, err := quantity(ctx, q, userID, itemID)
	if err != nil {
		return err
	}
	if have < -delta {
		return fmt.Errorf("%w: %s has %d %s, needs %d", ErrInsufficientItems, userID, have, itemID, -delta)
	}
	if _, err := q.ExecContext(ctx,
		`UPDATE inventory SET quantity = quantity + ? WHERE user_id = ? AND item_id = ?`,
		delta, userID, itemID); err != nil {
		return fmt.Errorf("debit %s x%d from %s: %w", itemID, -delta, userID, err)
	}
	if _, err := q.ExecContext(ctx,
		`DELETE FROM inventory WHERE user_id = ? AND item_id = ? AND quantity = 0`, userID, itemID); err != nil {
		return fmt.Errorf("prune empty stack: %w", err)
	}
	return nil
}

func (t *txn) AddCoins(userID string, delta int64) error {
	if delta == 0 {
		return nil
	}
	if err := t.store.ensurePlayer(t.ctx, t.tx, userID); err != nil {
		return err
	}
	if delta < 0 {
		var balance int64
		if err := t.tx.QueryRowContext(t.ctx, `SELECT coins FROM players WHERE id = ?`, userID).Scan(&balance); err != nil {
			return fmt.Errorf("load balance %s: %w", userID, err)
		}
		if balance < -delta {
			return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, userID, balance, -delta)
		}
	}
	if _, err := t.tx.ExecContext(t.ctx, `UPDATE players SET coins = coins + ? WHERE id = ?`, delta, userID); err != nil {
		return fmt.Errorf("update balance %s: %w", userID, err)
	}
	return nil
}

// XPToNext is the experience needed to leave the given level.
func XPToNext(level int) int64 {
	return int64(100 * level)
}

func (t *txn) GrantXP(userID string, xp int64) (LevelUp, error) {
	if xp < 0 {
		return LevelUp{}, fmt.Errorf("%w: negative xp", ErrInvalidAmount)
	}
	if err := t.store.ensurePlayer(t.ctx, t.tx, userID); err != nil {
		return LevelUp{}, err
	}
	rate := t.rates.XP
	if rate <= 0 {
		rate = 1
	}
	gained := int64(math.Round(float64(xp) * rate))

	var current int64
	var level int
	if err := t.tx.QueryRowContext(t.ctx, `SELECT xp, level FROM players WHERE id = ?`, userID).
		Scan(&current, &level); err != nil {
		return LevelUp{}, fmt.Errorf("load progression %s: %w", userID, err)
	}

	up := LevelUp{Gained: gained}
	current += gained
	for current >= XPToNext(level) {
		current -= XPToNext(level)
		level++
		up.Levels++
	}
	up.SkillPoints = up.Levels
	up.Level = level

	if _, err := t.tx.ExecContext(t.ctx,
		`UPDATE players SET xp = ?, level = ?, skill_points = skill_points + ? WHERE id = ?`,
		current, level, up.SkillPoints, userID); err != nil {
		return LevelUp{}, fmt.Errorf("update progression %s: %w", userID, err)
	}
	return up, nil
}

func (t *txn) SetHealth(userID string, hp int) error {
	if err := t.store.ensurePlayer(t.ctx, t.tx, userID); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(t.ctx,
		`UPDATE players SET health = MAX(0, MIN(?, hp_max)) WHERE id = ?`, hp, userID); err != nil {
		return fmt.Errorf("set health %s: %w", userID, err)
	}
	return nil
}

func (t *txn) AddDeath(userID string) error {
	if _, err := t.tx.ExecContext(t.ctx, `UPDATE players SET deaths = deaths + 1 WHERE id = ?`, userID); err != nil {
		return fmt.Errorf("add death %s: %w", userID, err)
	}
	return nil
}

func (t *txn) CountBattle(userID, day string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(t.ctx,
		`INSERT INTO battle_days (user_id, day, count) VALUES (?, ?, 1)
		 ON CONFLICT(user_id, day) DO UPDATE SET count = count + 1
		 RETURNING count`, userID, day).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count battle %s/%s: %w", userID, day, err)
	}
	return n, nil
}

func (t *txn) BattlesOn(userID, day string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT count FROM battle_days WHERE user_id = ? AND day = ?`, userID, day).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load battles %s/%s: %w", userID, day, err)
	}
	return n, nil
}

func (t *txn) Guild(userID string) (GuildBonus, error) {
	var g GuildBonus
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT g.id, g.name, g.drop_rate_bonus, g.inventory_bonus
		 FROM players p JOIN guilds g ON g.id = p.guild_id
		 WHERE p.id = ?`, userID).
		Scan(&g.GuildID, &g.Name, &g.DropRateBonus, &g.InventoryBonus)
	if errors.Is(err, sql.ErrNoRows) {
		return GuildBonus{}, nil
	}
	if err != nil {
		return GuildBonus{}, fmt.Errorf("load guild bonus %s: %w", userID, err)
	}
	return g, nil
}

func (t *txn) RecordRaid(rec RaidRecord) error {
	at := rec.At
	if at.IsZero() {
		at = t.store.now()
	}
	if _, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO raid_records (raid_id, user_id, role, contribution, outcome, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.RaidID, rec.UserID, rec.Role, rec.Contribution, rec.Outcome, at.UTC()); err != nil {
		return fmt.Errorf("record raid %s/%s: %w", rec.RaidID, rec.UserID, err)
	}
	return nil
}

func (t *txn) Journal(e JournalEntry) error {
	return writeJournal(t.ctx, t.tx, t.store.now(), e)
}

func writeJournal(ctx context.Context, q querier, at time.Time, e JournalEntry) error {
	if _, err := q.ExecContext(ctx,
		`INSERT INTO journal (id, kind, ref, from_user, to_user, item_id, quantity, coins, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), e.Kind, e.Ref, e.From, e.To, e.ItemID, e.Quantity, e.Coins, at.UTC()); err != nil {
		return fmt.Errorf("journal %s/%s: %w", e.Kind, e.Ref, err)
	}
	return nil
}

var _ Ledger = (*Store)(nil)
