package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hcwagner/orchestrator/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, "test-machine-key")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.db.Close() })
	return s
}

func TestObfuscateRoundTripUTF8(t *testing.T) {
	s := openTestStore(t)
	cases := []string{"", "plain ascii", "emoji 🎉 and 日本語"}
	for _, in := range cases {
		enc := s.obfuscate(in)
		dec, err := s.deobfuscate(enc)
		if err != nil {
			t.Fatalf("deobfuscate: %v", err)
		}
		if dec != in {
			t.Errorf("round trip mismatch: got %q, want %q", dec, in)
		}
	}
}

func TestStoreThenGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Store(types.MemoryEntry{Type: types.MemFact, Key: "favorite-editor", Value: "neovim", Importance: 0.5})
	s.persist(ctx, <-s.writeCh)

	entry, ok, err := s.Get(ctx, types.MemFact, "favorite-editor")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected entry to be found")
	}
	if entry.Value != "neovim" {
		t.Errorf("got %q, want neovim", entry.Value)
	}
}

func TestStoreUpsertLeavesExactlyOneEntry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Store(types.MemoryEntry{Type: types.MemPreference, Key: "theme", Value: "dark", Importance: 0.2})
	s.persist(ctx, <-s.writeCh)
	s.Store(types.MemoryEntry{Type: types.MemPreference, Key: "theme", Value: "light", Importance: 0.2})
	s.persist(ctx, <-s.writeCh)

	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM memories WHERE memory_type = ? AND key = ?`, types.MemPreference, "theme"); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one entry, got %d", count)
	}
	entry, _, _ := s.Get(ctx, types.MemPreference, "theme")
	if entry.Value != "light" {
		t.Errorf("expected the later value to win, got %q", entry.Value)
	}
}

func TestRecallOnlyReturnsOverlappingEntries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Store(types.MemoryEntry{Type: types.MemFact, Key: "editor-pref", Value: "use neovim for go files", Importance: 0.5})
	s.persist(ctx, <-s.writeCh)
	s.Store(types.MemoryEntry{Type: types.MemFact, Key: "unrelated", Value: "completely different subject", Importance: 0.9})
	s.persist(ctx, <-s.writeCh)

	results, err := s.Recall(ctx, "neovim editor", "", 10, 0)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(results) != 1 || results[0].Key != "editor-pref" {
		t.Errorf("expected only the overlapping entry, got %+v", results)
	}
}

func TestFindErrorFixOnlyReturnsWhenSuccessesExceedFailures(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.LearnErrorFix("sig-1", "apply patch X", true)
	s.persist(ctx, <-s.writeCh)
	s.LearnErrorFix("sig-1", "apply patch X", false)
	s.persist(ctx, <-s.writeCh)
	s.LearnErrorFix("sig-1", "apply patch X", false)
	s.persist(ctx, <-s.writeCh)

	_, ok, err := s.FindErrorFix(ctx, "sig-1")
	if err != nil {
		t.Fatalf("FindErrorFix: %v", err)
	}
	if ok {
		t.Error("expected no fix when failures >= successes")
	}
}
