package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"ecobot/internal/anticheat"
	"ecobot/internal/battle"
	"ecobot/internal/clock"
	"ecobot/internal/economy"
	"ecobot/internal/minigame"
	"ecobot/internal/raid"
	"ecobot/internal/rng"
	"ecobot/internal/trade"
)

type testEnv struct {
	srv    *Server
	router http.Handler
	store  *economy.Store
	clock  *clock.Manual
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	store, err := economy.Open(filepath.Join(t.TempDir(), "ecobot.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	cfg := LoadConfig()
	cfg.AllowedOrigins = []string{"https://bot.example"}
	srv, err := New(cfg, Deps{Store: store, Clock: clk, Rand: &rng.Script{}})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return &testEnv{srv: srv, router: srv.Router(), store: store, clock: clk}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealth(t *testing.T) {
	env := newTestServer(t)
	w := env.do(t, http.MethodGet, "/healthz", nil)
	expectStatus(t, w, http.StatusOK)
	if got := decodeBody[map[string]string](t, w)["status"]; got != "ok" {
		t.Fatalf("expected ok status, got %q", got)
	}
}

func TestRequestValidation(t *testing.T) {
	env := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"missing user", http.MethodPost, "/battles", map[string]string{}, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/raids", map[string]string{"userId": "ana", "guild": "x"}, http.StatusBadRequest},
		{"trade without target", http.MethodPost, "/trades", map[string]string{"userId": "ana"}, http.StatusBadRequest},
		{"self trade", http.MethodPost, "/trades", map[string]string{"userId": "ana", "targetId": "ana"}, http.StatusBadRequest},
		{"unknown battle", http.MethodGet, "/battles/nope", nil, http.StatusNotFound},
		{"unknown raid action", http.MethodPost, "/raids/nope/dance", map[string]string{"userId": "ana"}, http.StatusNotFound},
		{"unknown game", http.MethodPost, "/minigames/dance", map[string]string{"userId": "ana"}, http.StatusBadRequest},
		{"cooldown without duration", http.MethodPost, "/cooldowns/check", map[string]any{"key": "k"}, http.StatusBadRequest},
		{"wrong method", http.MethodDelete, "/battles", nil, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, tt.body)
			expectStatus(t, w, tt.want)
		})
	}
}

func TestTradeOverHTTP(t *testing.T) {
	env := newTestServer(t)
	ctx := context.Background()
	if err := env.store.GrantItem(ctx, "ana", "gem", "Gem", 2); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := env.store.GrantItem(ctx, "ben", "ore", "Ore", 3); err != nil {
		t.Fatalf("grant: %v", err)
	}

	w := env.do(t, http.MethodPost, "/trades", map[string]string{"userId": "ana", "targetId": "ben", "channelId": "c1"})
	expectStatus(t, w, http.StatusCreated)
	snap := decodeBody[trade.Snapshot](t, w)

	expectStatus(t, env.do(t, http.MethodPost, "/trades", map[string]string{"userId": "ben", "targetId": "cat"}), http.StatusConflict)
	expectStatus(t, env.do(t, http.MethodPost, "/trades/"+snap.ID+"/message", map[string]string{"messageId": "m1"}), http.StatusNoContent)
	expectStatus(t, env.do(t, http.MethodGet, "/trades/by-message/m1", nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodGet, "/trades/by-user/ben", nil), http.StatusOK)

	over := env.do(t, http.MethodPost, "/trades/"+snap.ID+"/offer", map[string]any{
		"userId": "ana", "items": []map[string]any{{"itemId": "gem", "quantity": 5}},
	})
	expectStatus(t, over, http.StatusBadRequest)

	for user, item := range map[string]map[string]any{
		"ana": {"itemId": "gem", "quantity": 2},
		"ben": {"itemId": "ore", "quantity": 3},
	} {
		w := env.do(t, http.MethodPost, "/trades/"+snap.ID+"/offer", map[string]any{"userId": user, "items": []map[string]any{item}})
		expectStatus(t, w, http.StatusOK)
	}

	expectStatus(t, env.do(t, http.MethodPost, "/trades/"+snap.ID+"/confirm", map[string]string{"userId": "cat"}), http.StatusForbidden)
	first := decodeBody[trade.Outcome](t, env.do(t, http.MethodPost, "/trades/"+snap.ID+"/confirm", map[string]string{"userId": "ana"}))
	if first.Settled {
		t.Fatalf("expected trade to wait for the second confirmation")
	}
	w = env.do(t, http.MethodPost, "/trades/"+snap.ID+"/confirm", map[string]string{"userId": "ben"})
	expectStatus(t, w, http.StatusOK)
	if out := decodeBody[trade.Outcome](t, w); !out.Settled {
		t.Fatalf("expected settled outcome, got %+v", out)
	}

	player := decodeBody[playerResponse](t, env.do(t, http.MethodGet, "/players/ben", nil))
	if len(player.Inventory) != 1 || player.Inventory[0].ItemID != "gem" || player.Inventory[0].Quantity != 2 {
		t.Fatalf("expected ben to hold 2 gems only, got %+v", player.Inventory)
	}
	expectStatus(t, env.do(t, http.MethodGet, "/trades/"+snap.ID, nil), http.StatusNotFound)
}

func TestRaidOverHTTP(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodPost, "/raids", map[string]string{"userId": "ana", "channelId": "c1"})
	expectStatus(t, w, http.StatusCreated)
	id := decodeBody[raid.Snapshot](t, w).ID

	expectStatus(t, env.do(t, http.MethodPost, "/raids/"+id+"/start", map[string]string{"userId": "ana"}), http.StatusConflict)

	roles := map[string]raid.Role{"ana": raid.RoleDamage, "ben": raid.RoleSupport, "cat": raid.RoleTank}
	for user, role := range roles {
		w := env.do(t, http.MethodPost, "/raids/"+id+"/join", map[string]string{"userId": user, "role": string(role)})
		expectStatus(t, w, http.StatusOK)
	}
	expectStatus(t, env.do(t, http.MethodPost, "/raids/"+id+"/start", map[string]string{"userId": "ben"}), http.StatusForbidden)

	w = env.do(t, http.MethodPost, "/raids/"+id+"/start", map[string]string{"userId": "ana"})
	expectStatus(t, w, http.StatusOK)
	started := decodeBody[raid.Snapshot](t, w)
	if started.Status != raid.StatusActive || started.Prompt == nil {
		t.Fatalf("expected active raid with a prompt, got %+v", started)
	}

	var responder string
	for user, role := range roles {
		if role == started.Prompt.Role {
			responder = user
		}
	}
	body := map[string]string{"userId": responder, "role": string(started.Prompt.Role), "promptId": started.Prompt.ID}
	w = env.do(t, http.MethodPost, "/raids/"+id+"/respond", body)
	expectStatus(t, w, http.StatusOK)
	if after := decodeBody[raid.Snapshot](t, w); after.Progress != 1 && after.Phase == 0 {
		t.Fatalf("expected progress after a correct answer, got %+v", after)
	}
	expectStatus(t, env.do(t, http.MethodPost, "/raids/"+id+"/respond", body), http.StatusConflict)
	expectStatus(t, env.do(t, http.MethodPost, "/raids/"+id+"/cancel", map[string]string{"userId": "ana"}), http.StatusConflict)
}

func TestBattleOverHTTP(t *testing.T) {
	env := newTestServer(t)

	skills := decodeBody[[]battle.Skill](t, env.do(t, http.MethodGet, "/battles/skills", nil))
	if len(skills) != len(battle.DefaultSkills()) {
		t.Fatalf("expected %d skills, got %d", len(battle.DefaultSkills()), len(skills))
	}

	w := env.do(t, http.MethodPost, "/battles", map[string]string{"userId": "ana"})
	expectStatus(t, w, http.StatusCreated)
	snap := decodeBody[battle.Snapshot](t, w)
	if snap.Status != battle.StatusActive || snap.Player.HP != snap.Player.HPMax {
		t.Fatalf("expected fresh active battle, got %+v", snap)
	}

	expectStatus(t, env.do(t, http.MethodPost, "/battles", map[string]string{"userId": "ana"}), http.StatusConflict)
	expectStatus(t, env.do(t, http.MethodPost, "/battles/"+snap.ID+"/skills", map[string]string{"userId": "ana", "skillId": "dance"}), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodPost, "/battles/"+snap.ID+"/withdraw", map[string]string{"userId": "ben"}), http.StatusForbidden)

	w = env.do(t, http.MethodPost, "/battles/"+snap.ID+"/withdraw", map[string]string{"userId": "ana"})
	expectStatus(t, w, http.StatusOK)
	if got := decodeBody[battle.Snapshot](t, w).Status; got != battle.StatusWithdrawn {
		t.Fatalf("expected withdrawn, got %s", got)
	}
	expectStatus(t, env.do(t, http.MethodGet, "/battles/"+snap.ID, nil), http.StatusNotFound)
}

func TestCooldownAndSequences(t *testing.T) {
	env := newTestServer(t)

	check := map[string]any{"key": "daily:ana", "durationMs": 60000}
	first := decodeBody[map[string]any](t, env.do(t, http.MethodPost, "/cooldowns/check", check))
	if first["ok"] != true {
		t.Fatalf("expected first check to claim, got %v", first)
	}
	second := decodeBody[map[string]any](t, env.do(t, http.MethodPost, "/cooldowns/check", check))
	if second["ok"] != false || second["remainingMs"] != float64(60000) {
		t.Fatalf("expected 60000ms remaining, got %v", second)
	}

	start := env.clock.Now().UnixMilli()
	var last anticheat.Verdict
	for _, offset := range []int64{50, 100, 150} {
		w := env.do(t, http.MethodPost, "/sequences/seq-1/samples", map[string]int64{
			"startMs": start, "windowMs": 10000, "timestampMs": start + offset,
		})
		expectStatus(t, w, http.StatusOK)
		last = decodeBody[anticheat.Verdict](t, w)
	}
	if last.OK || last.Reason != anticheat.ReasonTooFast {
		t.Fatalf("expected fast clicks rejected, got %+v", last)
	}
	expectStatus(t, env.do(t, http.MethodDelete, "/sequences/seq-1", nil), http.StatusNoContent)
}

func TestMinigameOverHTTP(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodPost, "/minigames/mine", map[string]string{"userId": "ana"})
	expectStatus(t, w, http.StatusCreated)
	attempt := decodeBody[minigame.Attempt](t, w)

	expectStatus(t, env.do(t, http.MethodPost, "/minigames/fish", map[string]string{"userId": "ana"}), http.StatusConflict)
	expectStatus(t, env.do(t, http.MethodGet, "/minigames/attempts/"+attempt.ID, nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodPost, "/minigames/attempts/"+attempt.ID+"/click", map[string]int64{}), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodPost, "/minigames/attempts/"+attempt.ID+"/finish", nil), http.StatusConflict)
	expectStatus(t, env.do(t, http.MethodDelete, "/minigames/attempts/"+attempt.ID, nil), http.StatusNoContent)
	expectStatus(t, env.do(t, http.MethodPost, "/minigames/mine", map[string]string{"userId": "ana"}), http.StatusTooManyRequests)
}

func TestSweepRemovesStaleState(t *testing.T) {
	env := newTestServer(t)

	expectStatus(t, env.do(t, http.MethodPost, "/raids", map[string]string{"userId": "ana"}), http.StatusCreated)
	expectStatus(t, env.do(t, http.MethodPost, "/battles", map[string]string{"userId": "ben"}), http.StatusCreated)
	expectStatus(t, env.do(t, http.MethodPost, "/cooldowns/check", map[string]any{"key": "k", "durationMs": 1000}), http.StatusOK)

	env.clock.Advance(time.Hour)
	st := env.srv.Sweep()
	if st.Lobbies != 1 || st.Battles != 1 || st.Cooldowns != 1 {
		t.Fatalf("unexpected sweep result %+v", st)
	}
}
