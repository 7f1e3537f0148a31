package server

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"ecobot/internal/anticheat"
	"ecobot/internal/battle"
	"ecobot/internal/economy"
	"ecobot/internal/minigame"
	"ecobot/internal/raid"
	"ecobot/internal/trade"
)

// Config holds runtime configuration loaded from environment variables.
type Config struct {
	Port                string
	AllowedOrigins      []string
	DBPath              string
	LogLevel            slog.Level
	GameConfigPath      string
	ContentPath         string
	MaintenanceInterval time.Duration
}

const (
	defaultPort                = "8080"
	defaultAllowedOrigin       = "*"
	defaultDBPath              = "data/ecobot.db"
	defaultMaintenanceInterval = 30 * time.Second
)

// LoadConfig builds a Config instance using environment variables when present.
func LoadConfig() Config {
	cfg := Config{
		Port:                getEnv("PORT", defaultPort),
		AllowedOrigins:      parseAllowedOrigins(getEnv("ALLOWED_ORIGINS", defaultAllowedOrigin)),
		DBPath:              getEnv("DB_PATH", defaultDBPath),
		LogLevel:            parseLevel(os.Getenv("LOG_LEVEL")),
		GameConfigPath:      os.Getenv("GAME_CONFIG"),
		ContentPath:         os.Getenv("CONTENT_FILE"),
		MaintenanceInterval: defaultMaintenanceInterval,
	}

	if raw := os.Getenv("MAINTENANCE_INTERVAL"); raw != "" {
		if v, err := time.ParseDuration(raw); err == nil && v > 0 {
			cfg.MaintenanceInterval = v
		}
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseAllowedOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	var origins []string
	for _, origin := range parts {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		origins = []string{defaultAllowedOrigin}
	}
	return origins
}

// TradeConfig is the [trade] table.
type TradeConfig struct {
	TTL time.Duration `toml:"ttl"`
}

// InventoryConfig is the [inventory] table.
type InventoryConfig struct {
	Capacity int `toml:"capacity"`
}

// GameConfig is the game tuning file. Tables and keys left out keep their
// built-in values, except that a [minigame.<kind>] table replaces that
// game's tuning as a whole.
type GameConfig struct {
	Battle    battle.Config                   `toml:"battle"`
	Raid      raid.Config                     `toml:"raid"`
	Trade     TradeConfig                     `toml:"trade"`
	Anticheat anticheat.Thresholds            `toml:"anticheat"`
	Minigame  map[minigame.Kind]minigame.Game `toml:"minigame"`
	Rates     economy.Rates                   `toml:"rates"`
	Inventory InventoryConfig                 `toml:"inventory"`
}

// DefaultGameConfig returns the built-in tuning.
func DefaultGameConfig() GameConfig {
	b := battle.DefaultConfig()
	return GameConfig{
		Battle:    b,
		Raid:      raid.DefaultConfig(),
		Trade:     TradeConfig{TTL: trade.DefaultTTL},
		Anticheat: anticheat.DefaultThresholds(),
		Minigame:  minigame.DefaultGames(),
		Rates:     economy.DefaultRates(),
		Inventory: InventoryConfig{Capacity: b.InventoryCapacity},
	}
}

// LoadGameConfig decodes the TOML file at path over the defaults. An empty
// path returns the defaults.
func LoadGameConfig(path string) (GameConfig, error) {
	cfg := DefaultGameConfig()
	if path == "" {
		return cfg, nil
	}
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return GameConfig{}, fmt.Errorf("decode game config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return GameConfig{}, fmt.Errorf("game config %s: unknown keys %v", path, undecoded)
	}
	if err := cfg.validate(); err != nil {
		return GameConfig{}, fmt.Errorf("game config %s: %w", path, err)
	}
	if cfg.Inventory.Capacity > 0 {
		cfg.Battle.InventoryCapacity = cfg.Inventory.Capacity
	}
	return cfg, nil
}

func (c GameConfig) validate() error {
	if c.Raid.MinMembers < 3 || c.Raid.MaxMembers > 5 {
		return fmt.Errorf("raid: members must stay within 3..5, got %d..%d", c.Raid.MinMembers, c.Raid.MaxMembers)
	}
	if c.Raid.MinMembers > c.Raid.MaxMembers {
		return fmt.Errorf("raid: min_members %d exceeds max_members %d", c.Raid.MinMembers, c.Raid.MaxMembers)
	}
	if c.Raid.FailureFactor < 0 || c.Raid.FailureFactor > 1 {
		return fmt.Errorf("raid: failure_factor %.2f outside [0,1]", c.Raid.FailureFactor)
	}
	if c.Rates.XP < 0 || c.Rates.Coins < 0 || c.Rates.Drop < 0 {
		return fmt.Errorf("rates: multipliers must not be negative")
	}
	for kind, g := range c.Minigame {
		if g.Clicks <= 0 || g.Window <= 0 {
			return fmt.Errorf("minigame %s: clicks and window must be positive", kind)
		}
		if g.CoinsMin > g.CoinsMax {
			return fmt.Errorf("minigame %s: coins_min exceeds coins_max", kind)
		}
	}
	return nil
}
