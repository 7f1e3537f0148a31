package trade

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"pgregory.net/rapid"

	"ecobot/internal/clock"
	"ecobot/internal/economy"
	"ecobot/internal/event"
)

func newStore(t testing.TB, dir, name string) *economy.Store {
	t.Helper()
	store, err := economy.Open(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func grant(t testing.TB, store *economy.Store, user, item string, qty int) {
	t.Helper()
	if err := store.GrantItem(context.Background(), user, item, item, qty); err != nil {
		t.Fatalf("grant %s to %s: %v", item, user, err)
	}
}

func quantities(t testing.TB, store *economy.Store, user string) map[string]int {
	t.Helper()
	items, err := store.Inventory(context.Background(), user)
	if err != nil {
		t.Fatalf("inventory %s: %v", user, err)
	}
	out := make(map[string]int, len(items))
	for _, it := range items {
		out[it.ItemID] = it.Quantity
	}
	return out
}

func TestCreateRejectsBusyAndSelf(t *testing.T) {
	e := New(newStore(t, t.TempDir(), "ledger.db"))
	ctx := context.Background()

	if _, err := e.Create(ctx, "alice", "alice", "c1"); !errors.Is(err, ErrSelfTrade) {
		t.Fatalf("expected ErrSelfTrade, got %v", err)
	}
	if _, err := e.Create(ctx, "alice", "bob", "c1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e.Create(ctx, "carol", "bob", "c1"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for bob, got %v", err)
	}
	if _, err := e.Create(ctx, "alice", "carol", "c1"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for alice, got %v", err)
	}
}

func TestCancelPurgesEveryIndex(t *testing.T) {
	store := newStore(t, t.TempDir(), "ledger.db")
	grant(t, store, "alice", "gem", 3)
	events := &event.Buffer{}
	e := New(store, WithNotifier(events))
	ctx := context.Background()

	snap, err := e.Create(ctx, "alice", "bob", "c1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := e.BindMessage(snap.ID, "m1"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if _, err := e.SetOffer(ctx, snap.ID, "alice", []economy.Item{{ItemID: "gem", Quantity: 2}}); err != nil {
		t.Fatalf("offer: %v", err)
	}
	if _, err := e.Cancel(snap.ID, "carol"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if _, err := e.Cancel(snap.ID, "bob"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	lookups := map[string]func() error{
		"id":      func() error { _, err := e.Get(snap.ID); return err },
		"message": func() error { _, err := e.ByMessage("m1"); return err },
		"alice":   func() error { _, err := e.ByUser("alice"); return err },
		"bob":     func() error { _, err := e.ByUser("bob"); return err },
	}
	for name, lookup := range lookups {
		if err := lookup(); !errors.Is(err, ErrNotFound) {
			t.Fatalf("lookup by %s: expected ErrNotFound, got %v", name, err)
		}
	}
	if got := quantities(t, store, "alice")["gem"]; got != 3 {
		t.Fatalf("expected inventory untouched, got %d gems", got)
	}
	if events.Count(event.TradeCancelled) != 1 {
		t.Fatalf("expected one cancel event")
	}
}

func TestOfferChangeResetsConfirmations(t *testing.T) {
	store := newStore(t, t.TempDir(), "ledger.db")
	grant(t, store, "alice", "gem", 5)
	e := New(store)
	ctx := context.Background()

	snap, _ := e.Create(ctx, "alice", "bob", "c1")
	if _, err := e.SetOffer(ctx, snap.ID, "alice", []economy.Item{{ItemID: "gem", Quantity: 1}}); err != nil {
		t.Fatalf("offer: %v", err)
	}
	out, err := e.Confirm(ctx, snap.ID, "bob")
	if err != nil || out.Settled || !out.Snapshot.Target.Confirmed {
		t.Fatalf("expected bob confirmed without settling, got %+v err=%v", out, err)
	}

	after, err := e.SetOffer(ctx, snap.ID, "alice", []economy.Item{{ItemID: "gem", Quantity: 4}})
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	if after.Initiator.Confirmed || after.Target.Confirmed {
		t.Fatalf("expected both confirmations cleared, got %+v", after)
	}
}

func TestSetOfferValidatesInventory(t *testing.T) {
	store := newStore(t, t.TempDir(), "ledger.db")
	grant(t, store, "alice", "gem", 2)
	e := New(store)
	ctx := context.Background()
	snap, _ := e.Create(ctx, "alice", "bob", "c1")

	tests := []struct {
		name  string
		items []economy.Item
		want  error
	}{
		{name: "aggregated lines exceed stock", items: []economy.Item{{ItemID: "gem", Quantity: 1}, {ItemID: "gem", Quantity: 2}}, want: ErrInsufficientItems},
		{name: "unknown item", items: []economy.Item{{ItemID: "ore", Quantity: 1}}, want: ErrInsufficientItems},
		{name: "zero quantity", items: []economy.Item{{ItemID: "gem", Quantity: 0}}, want: ErrInvalidOffer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.SetOffer(ctx, snap.ID, "alice", tt.items); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	got, err := e.SetOffer(ctx, snap.ID, "alice", []economy.Item{{ItemID: "gem", Quantity: 1}, {ItemID: "gem", Quantity: 1}})
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	if len(got.Initiator.Items) != 1 || got.Initiator.Items[0].Quantity != 2 || got.Initiator.Items[0].Name != "gem" {
		t.Fatalf("expected one aggregated line, got %+v", got.Initiator.Items)
	}
}

func TestHoldingsChangedAbortsSettlement(t *testing.T) {
	store := newStore(t, t.TempDir(), "ledger.db")
	grant(t, store, "alice", "gem", 2)
	grant(t, store, "bob", "ore", 4)
	events := &event.Buffer{}
	e := New(store, WithNotifier(events))
	ctx := context.Background()

	snap, _ := e.Create(ctx, "alice", "bob", "c1")
	e.SetOffer(ctx, snap.ID, "alice", []economy.Item{{ItemID: "gem", Quantity: 2}})
	e.SetOffer(ctx, snap.ID, "bob", []economy.Item{{ItemID: "ore", Quantity: 4}})

	err := store.Atomic(ctx, func(tx economy.Tx) error { return tx.AdjustItem("alice", "gem", "gem", -1) })
	if err != nil {
		t.Fatalf("sell gem: %v", err)
	}

	e.Confirm(ctx, snap.ID, "alice")
	_, err = e.Confirm(ctx, snap.ID, "bob")
	if !errors.Is(err, ErrHoldingsChanged) {
		t.Fatalf("expected ErrHoldingsChanged, got %v", err)
	}
	if got := quantities(t, store, "bob")["ore"]; got != 4 {
		t.Fatalf("expected bob's ore untouched, got %d", got)
	}
	if _, err := e.ByUser("alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected session purged after failure, got %v", err)
	}
	if events.Count(event.TradeFailed) != 1 {
		t.Fatalf("expected one failure event")
	}
}

func TestLazyExpiry(t *testing.T) {
	c := clock.NewManual(time.Unix(1_700_000_000, 0))
	events := &event.Buffer{}
	e := New(newStore(t, t.TempDir(), "ledger.db"), WithClock(c), WithNotifier(events))
	ctx := context.Background()

	snap, _ := e.Create(ctx, "alice", "bob", "c1")
	c.Advance(90 * time.Second)
	if _, err := e.Confirm(ctx, snap.ID, "alice"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	c.Advance(90 * time.Second)
	if _, err := e.Get(snap.ID); err != nil {
		t.Fatalf("expected sliding expiry to keep the session, got %v", err)
	}

	c.Advance(2*time.Minute + time.Second)
	if _, err := e.ByUser("bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired session, got %v", err)
	}
	if e.Len() != 0 || events.Count(event.TradeExpired) != 1 {
		t.Fatalf("expected purge with one expiry event, len=%d", e.Len())
	}
	if _, err := e.Create(ctx, "bob", "alice", "c1"); err != nil {
		t.Fatalf("expected new trade after expiry, got %v", err)
	}
}

func TestExpiredSessionDoesNotBlockCreate(t *testing.T) {
	c := clock.NewManual(time.Unix(0, 0))
	e := New(newStore(t, t.TempDir(), "ledger.db"), WithClock(c))
	ctx := context.Background()

	e.Create(ctx, "alice", "bob", "c1")
	c.Advance(3 * time.Minute)
	if _, err := e.Create(ctx, "alice", "carol", "c1"); err != nil {
		t.Fatalf("expected stale trade to be purged on create, got %v", err)
	}
}

func TestRoundTripProperty(t *testing.T) {
	dir := t.TempDir()
	keys := []string{"gem", "ore", "pelt"}
	run := 0

	rapid.Check(t, func(rt *rapid.T) {
		run++
		store := newStore(t, dir, fmt.Sprintf("ledger-%d.db", run))
		ctx := context.Background()

		held := map[string]map[string]int{"alice": {}, "bob": {}}
		offers := map[string][]economy.Item{}
		for _, user := range []string{"alice", "bob"} {
			for _, key := range keys {
				qty := rapid.IntRange(0, 5).Draw(rt, user+"/"+key)
				if qty > 0 {
					grant(t, store, user, key, qty)
					held[user][key] = qty
				}
				if give := rapid.IntRange(0, qty).Draw(rt, user+"/offer/"+key); give > 0 {
					offers[user] = append(offers[user], economy.Item{ItemID: key, Quantity: give})
				}
			}
		}

		e := New(store)
		snap, err := e.Create(ctx, "alice", "bob", "c1")
		if err != nil {
			rt.Fatalf("create: %v", err)
		}
		for _, user := range []string{"alice", "bob"} {
			if _, err := e.SetOffer(ctx, snap.ID, user, offers[user]); err != nil {
				rt.Fatalf("offer %s: %v", user, err)
			}
		}
		e.Confirm(ctx, snap.ID, "alice")
		out, err := e.Confirm(ctx, snap.ID, "bob")
		if err != nil || !out.Settled {
			rt.Fatalf("expected settlement, got %+v err=%v", out, err)
		}

		for user, other := range map[string]string{"alice": "bob", "bob": "alice"} {
			want := map[string]int{}
			for k, v := range held[user] {
				want[k] += v
			}
			for _, it := range offers[user] {
				want[it.ItemID] -= it.Quantity
			}
			for _, it := range offers[other] {
				want[it.ItemID] += it.Quantity
			}
			got := quantities(t, store, user)
			for _, key := range keys {
				if got[key] != want[key] {
					rt.Fatalf("%s %s: expected %d, got %d", user, key, want[key], got[key])
				}
			}
		}
	})
}
