package tools

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadFileReturnsContents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello" {
		t.Errorf("ReadFile = %q, want %q", got, "hello")
	}
}

func TestReadFileToolRequiresPath(t *testing.T) {
	if _, err := ReadFileTool(nil, map[string]any{}); err == nil {
		t.Fatal("expected error when path is missing")
	}
}

func TestWriteFileRedirectsBareFilenameIntoWorkspace(t *testing.T) {
	workspace := t.TempDir()
	t.Setenv("ORCHESTRATOR_WORKSPACE", workspace)

	resolved, err := WriteFile("generated.py", "print(1)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Dir(resolved) != workspace {
		t.Errorf("expected file written under workspace %q, got %q", workspace, resolved)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		t.Fatalf("expected file to exist at %q: %v", resolved, err)
	}
	if string(data) != "print(1)" {
		t.Errorf("written content = %q, want %q", string(data), "print(1)")
	}
}

func TestWriteFileHonorsExplicitDirectory(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.txt")
	resolved, err := WriteFile(target, "data")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved != target {
		t.Errorf("expected explicit path unchanged, got %q", resolved)
	}
}

func TestWriteFileToolRequiresPath(t *testing.T) {
	if _, err := WriteFileTool(nil, map[string]any{"content": "x"}); err == nil {
		t.Fatal("expected error when path is missing")
	}
}
