package tools

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGlobFilesMatchesByBaseName(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "foo.py"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bar.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(dir, "nested")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "baz.py"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	matches, err := GlobFiles(dir, "*.py")
	if err != nil {
		t.Fatalf("GlobFiles returned error: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %v", matches)
	}
}

func TestGlobFilesDefaultsRootToCwd(t *testing.T) {
	if _, err := GlobFiles("", "*.go"); err != nil {
		t.Fatalf("expected empty root to default to \".\", got error: %v", err)
	}
}

func TestGlobJoinEmptyMatchesReturnsPlaceholder(t *testing.T) {
	if got := GlobJoin(nil); got != "(no matches)" {
		t.Errorf("GlobJoin(nil) = %q, want placeholder", got)
	}
}

func TestGlobJoinJoinsWithNewlines(t *testing.T) {
	got := GlobJoin([]string{"a.py", "b.py"})
	if got != "a.py\nb.py" {
		t.Errorf("GlobJoin = %q, want newline-joined", got)
	}
}

func TestFindFilesToolRequiresPattern(t *testing.T) {
	if _, err := FindFiles(nil, map[string]any{}); err == nil {
		t.Fatal("expected error when pattern is missing")
	}
}

func TestFindFilesToolReturnsMatches(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hyprland.conf"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := FindFiles(nil, map[string]any{"root": dir, "pattern": "hyprland.conf"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := filepath.Join(dir, "hyprland.conf")
	if out != want {
		t.Errorf("FindFiles output = %q, want %q", out, want)
	}
}
