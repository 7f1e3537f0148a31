package economy

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// openDatabase prepares a SQLite database at the given path and ensures the schema exists.
func openDatabase(path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// A single connection serialises Atomic transactions.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000; PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func initSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS guilds (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			drop_rate_bonus REAL NOT NULL DEFAULT 0,
			inventory_bonus INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS players (
			id TEXT PRIMARY KEY,
			coins INTEGER NOT NULL DEFAULT 0 CHECK (coins >= 0),
			xp INTEGER NOT NULL DEFAULT 0,
			level INTEGER NOT NULL DEFAULT 1,
			skill_points INTEGER NOT NULL DEFAULT 0,
			health INTEGER NOT NULL,
			hp_max INTEGER NOT NULL,
			attack INTEGER NOT NULL,
			defense INTEGER NOT NULL,
			strength INTEGER NOT NULL,
			intellect INTEGER NOT NULL,
			agility INTEGER NOT NULL,
			luck INTEGER NOT NULL,
			deaths INTEGER NOT NULL DEFAULT 0,
			guild_id TEXT REFERENCES guilds(id) ON DELETE SET NULL,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS inventory (
			user_id TEXT NOT NULL,
			item_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			quantity INTEGER NOT NULL CHECK (quantity >= 0),
			PRIMARY KEY (user_id, item_id),
			FOREIGN KEY(user_id) REFERENCES players(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS equipment (
			user_id TEXT NOT NULL,
			slot TEXT NOT NULL,
			name TEXT NOT NULL,
			hp_max INTEGER NOT NULL DEFAULT 0,
			attack INTEGER NOT NULL DEFAULT 0,
			defense INTEGER NOT NULL DEFAULT 0,
			strength INTEGER NOT NULL DEFAULT 0,
			intellect INTEGER NOT NULL DEFAULT 0,
			agility INTEGER NOT NULL DEFAULT 0,
			luck INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, slot),
			FOREIGN KEY(user_id) REFERENCES players(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS pets (
			user_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			attack_mult REAL NOT NULL DEFAULT 1,
			defense_mult REAL NOT NULL DEFAULT 1,
			hp_mult REAL NOT NULL DEFAULT 1,
			luck_mult REAL NOT NULL DEFAULT 1,
			FOREIGN KEY(user_id) REFERENCES players(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS battle_days (
			user_id TEXT NOT NULL,
			day TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, day)
		);`,
		`CREATE TABLE IF NOT EXISTS raid_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			raid_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			contribution INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS journal (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			ref TEXT NOT NULL,
			from_user TEXT NOT NULL DEFAULT '',
			to_user TEXT NOT NULL DEFAULT '',
			item_id TEXT NOT NULL DEFAULT '',
			quantity INTEGER NOT NULL DEFAULT 0,
			coins INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_raid_records_user ON raid_records(user_id, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_journal_ref ON journal(ref, created_at);`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	return nil
}
