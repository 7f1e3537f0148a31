package server

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ecobot/internal/minigame"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("MAINTENANCE_INTERVAL", "5s")

	cfg := LoadConfig()
	if cfg.Port != "9090" {
		t.Fatalf("expected port 9090, got %s", cfg.Port)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("expected debug level, got %s", cfg.LogLevel)
	}
	if cfg.MaintenanceInterval != 5*time.Second {
		t.Fatalf("expected 5s interval, got %s", cfg.MaintenanceInterval)
	}

	t.Setenv("MAINTENANCE_INTERVAL", "soon")
	if got := LoadConfig().MaintenanceInterval; got != defaultMaintenanceInterval {
		t.Fatalf("expected fallback interval, got %s", got)
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "game.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadGameConfigOverlaysDefaults(t *testing.T) {
	path := writeFile(t, `
[raid]
prompt_timeout = "45s"

[rates]
coins = 2.0

[inventory]
capacity = 40

[minigame.work]
cooldown = "30m"
clicks = 4
window = "10s"
coins_min = 5
coins_max = 10
xp = 1
`)
	cfg, err := LoadGameConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Raid.PromptTimeout != 45*time.Second {
		t.Fatalf("expected 45s prompt timeout, got %s", cfg.Raid.PromptTimeout)
	}
	if cfg.Raid.ReviveCooldown != 5*time.Minute {
		t.Fatalf("expected default revive cooldown kept, got %s", cfg.Raid.ReviveCooldown)
	}
	if cfg.Rates.Coins != 2 || cfg.Rates.XP != 1 {
		t.Fatalf("unexpected rates %+v", cfg.Rates)
	}
	if cfg.Battle.InventoryCapacity != 40 {
		t.Fatalf("expected inventory capacity 40, got %d", cfg.Battle.InventoryCapacity)
	}
	if cfg.Minigame[minigame.Work].Clicks != 4 || cfg.Minigame[minigame.Mine].Clicks != 5 {
		t.Fatalf("unexpected minigame tuning %+v", cfg.Minigame)
	}
}

func TestLoadGameConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "[raid]\nprompt_timout = \"10s\"\n"},
		{"failure factor", "[raid]\nfailure_factor = 1.5\n"},
		{"member bounds", "[raid]\nmin_members = 5\nmax_members = 4\n"},
		{"too few members", "[raid]\nmin_members = 2\n"},
		{"too many members", "[raid]\nmax_members = 6\n"},
		{"negative rate", "[rates]\ndrop = -1.0\n"},
		{"syntax", "[raid\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadGameConfig(writeFile(t, tt.body)); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}

func TestLoadGameConfigWithoutFile(t *testing.T) {
	cfg, err := LoadGameConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Trade.TTL != 2*time.Minute || cfg.Anticheat.MinSamples != 3 {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}
