package tutor

import "testing"

func TestMemoryStoreLookups(t *testing.T) {
	store := NewMemoryStore(Seed())

	if len(store.List()) != 4 {
		t.Fatalf("expected 4 seeded profiles, got %d", len(store.List()))
	}

	p, ok := store.FindByLevel("High School")
	if !ok || p.ID != "mentor" {
		t.Fatalf("expected mentor for high school, got %+v (ok=%v)", p, ok)
	}

	if _, ok := store.FindByID("missing"); ok {
		t.Fatal("expected missing id to be absent")
	}
}

func TestResolveFallsBackToDefaultLevel(t *testing.T) {
	store := NewMemoryStore(Seed())

	p, ok := Resolve(store, "kindergarten")
	if !ok || p.Level != DefaultLevel {
		t.Fatalf("expected default level profile, got %+v", p)
	}

	if _, ok := Resolve(NewMemoryStore(nil), "college"); ok {
		t.Fatal("expected empty store to resolve nothing")
	}
}
