package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/relabs-tech/bci_runtime/internal/state"
)

func TestRegistryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models", "sessions.db")
	reg, err := OpenRegistry(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	ctx := context.Background()

	a := state.SavedSession{
		ID: "alice_2026-01-01_10-00-00", Label: "Jan 1, 10:00 (alice)",
		Subject: "alice", Session: "2026-01-01_10-00-00",
		CreatedAt: "2026-01-01T10:05:00Z", ModelDir: "/models/alice/2026-01-01_10-00-00",
		FreqLeftE: state.Freq10Hz, FreqRightE: state.Freq12Hz,
		FreqLeftHz: 10, FreqRightHz: 12,
	}
	b := state.SavedSession{
		ID: "bob_2026-01-02_11-00-00", Label: "Jan 2, 11:00 (bob)",
		Subject: "bob", Session: "2026-01-02_11-00-00",
		CreatedAt: "2026-01-02T11:05:00Z", ModelDir: "/models/bob/2026-01-02_11-00-00",
	}

	if err := reg.Insert(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := reg.Insert(ctx, b); err != nil {
		t.Fatal(err)
	}

	got, err := reg.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("list length = %d, want 2", len(got))
	}
	if got[0] != a || got[1] != b {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, []state.SavedSession{a, b})
	}
}

func TestRegistryReplaceSameID(t *testing.T) {
	reg, err := OpenRegistry(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	ctx := context.Background()
	s := state.SavedSession{ID: "x", Subject: "alice", Session: "s1", CreatedAt: "2026-01-01T00:00:00Z"}
	if err := reg.Insert(ctx, s); err != nil {
		t.Fatal(err)
	}
	s.FreqLeftHz = 10
	if err := reg.Insert(ctx, s); err != nil {
		t.Fatal(err)
	}

	got, err := reg.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("list length = %d, want 1 after replace", len(got))
	}
	if got[0].FreqLeftHz != 10 {
		t.Errorf("replaced row not updated: %+v", got[0])
	}
}

func TestRegistryDeleteBySubject(t *testing.T) {
	reg, err := OpenRegistry(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	ctx := context.Background()
	for _, s := range []state.SavedSession{
		{ID: "a1", Subject: "alice", CreatedAt: "2026-01-01T00:00:00Z"},
		{ID: "a2", Subject: "alice", CreatedAt: "2026-01-02T00:00:00Z"},
		{ID: "b1", Subject: "bob", CreatedAt: "2026-01-03T00:00:00Z"},
	} {
		if err := reg.Insert(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	if err := reg.DeleteBySubject(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	got, err := reg.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Subject != "bob" {
		t.Errorf("after delete: %+v", got)
	}
}
