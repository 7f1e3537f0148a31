package session

import (
	"errors"
	"testing"
)

func TestRegistryOwnerUniqueness(t *testing.T) {
	r := New[string]()
	if err := r.Insert("s1", "first", "alice", "bob"); err != nil {
		t.Fatalf("insert s1: %v", err)
	}

	err := r.Insert("s2", "second", "carol", "bob")
	if !errors.Is(err, ErrOwnerBusy) {
		t.Fatalf("expected ErrOwnerBusy, got %v", err)
	}
	if _, ok := r.ByOwner("carol"); ok {
		t.Fatalf("failed insert must not claim carol")
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 session, got %d", r.Len())
	}
}

func TestRegistryDuplicateID(t *testing.T) {
	r := New[int]()
	_ = r.Insert("s1", 1)
	if err := r.Insert("s1", 2); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
}

func TestRegistryRemoveDropsIndices(t *testing.T) {
	r := New[string]()
	_ = r.Insert("s1", "v", "alice", "bob")
	if err := r.Bind("s1", "msg-1"); err != nil {
		t.Fatalf("bind: %v", err)
	}

	if v, ok := r.ByRef("msg-1"); !ok || v != "v" {
		t.Fatalf("expected lookup by ref, got %q %v", v, ok)
	}

	if _, ok := r.Remove("s1"); !ok {
		t.Fatalf("expected remove to succeed")
	}
	for _, owner := range []string{"alice", "bob"} {
		if _, ok := r.ByOwner(owner); ok {
			t.Fatalf("owner %s still indexed", owner)
		}
	}
	if _, ok := r.ByRef("msg-1"); ok {
		t.Fatalf("reference still indexed")
	}
	if err := r.Insert("s2", "w", "alice"); err != nil {
		t.Fatalf("alice should be free after removal: %v", err)
	}
}

func TestRegistryBind(t *testing.T) {
	r := New[string]()
	_ = r.Insert("s1", "a")
	_ = r.Insert("s2", "b")

	tests := []struct {
		name    string
		id      string
		ref     string
		wantErr error
	}{
		{name: "bind new ref", id: "s1", ref: "m1"},
		{name: "rebind same pair", id: "s1", ref: "m1"},
		{name: "ref owned by other session", id: "s2", ref: "m1", wantErr: ErrRefTaken},
		{name: "unknown session", id: "nope", ref: "m2", wantErr: ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Bind(tt.id, tt.ref)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRegistryClaimAndRelease(t *testing.T) {
	r := New[string]()
	_ = r.Insert("raid", "r", "leader")
	_ = r.Insert("other", "o", "busy")

	if err := r.Claim("raid", "member"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := r.Claim("raid", "member"); err != nil {
		t.Fatalf("re-claim of same session should be a no-op: %v", err)
	}
	if err := r.Claim("raid", "busy"); !errors.Is(err, ErrOwnerBusy) {
		t.Fatalf("expected ErrOwnerBusy, got %v", err)
	}

	r.Release("member")
	if _, ok := r.ByOwner("member"); ok {
		t.Fatalf("member still claimed after release")
	}
	if id, ok := r.OwnerSession("leader"); !ok || id != "raid" {
		t.Fatalf("leader claim lost: %q %v", id, ok)
	}

	r.Remove("raid")
	if _, ok := r.ByOwner("leader"); ok {
		t.Fatalf("leader still claimed after removal")
	}
}
