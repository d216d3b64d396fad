package tools

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExpandHomeExpandsTildeSlash(t *testing.T) {
	home, _ := os.UserHomeDir()
	got := ExpandHome("~/Documents/file.txt")
	want := filepath.Join(home, "Documents", "file.txt")
	if got != want {
		t.Errorf("ExpandHome(~/Documents/file.txt) = %q, want %q", got, want)
	}
}

func TestExpandHomeExpandsBareTilde(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := ExpandHome("~"); got != home {
		t.Errorf("ExpandHome(~) = %q, want %q", got, home)
	}
}

func TestExpandHomeAbsolutePathUnchanged(t *testing.T) {
	if got := ExpandHome("/absolute/path"); got != "/absolute/path" {
		t.Errorf("ExpandHome(/absolute/path) = %q, want unchanged", got)
	}
}

func TestResolveOutputPathBareFilenameRedirected(t *testing.T) {
	resolved, redirected := ResolveOutputPath("report.txt")
	if !redirected {
		t.Fatal("expected redirected=true for bare filename")
	}
	if !strings.HasPrefix(resolved, WorkspaceDir()) {
		t.Errorf("expected resolved path under workspace %q, got %q", WorkspaceDir(), resolved)
	}
}

func TestResolveOutputPathDotSlashRedirected(t *testing.T) {
	resolved, redirected := ResolveOutputPath("./output.txt")
	if !redirected {
		t.Fatal("expected redirected=true for ./ prefix")
	}
	if !strings.HasPrefix(resolved, WorkspaceDir()) {
		t.Errorf("expected resolved path under workspace %q, got %q", WorkspaceDir(), resolved)
	}
}

func TestResolveOutputPathDirComponentNotRedirected(t *testing.T) {
	path := "internal/operator/operator.go"
	resolved, redirected := ResolveOutputPath(path)
	if redirected {
		t.Errorf("expected redirected=false for path with dir component, got resolved=%q", resolved)
	}
	if resolved != path {
		t.Errorf("expected path unchanged, got %q", resolved)
	}
}

func TestResolveOutputPathAbsolutePathNotRedirected(t *testing.T) {
	path := "/tmp/output.txt"
	resolved, redirected := ResolveOutputPath(path)
	if redirected {
		t.Errorf("expected redirected=false for absolute path, got resolved=%q", resolved)
	}
	if resolved != path {
		t.Errorf("expected path unchanged, got %q", resolved)
	}
}

func TestWorkspaceDirHonorsEnvOverride(t *testing.T) {
	t.Setenv("ORCHESTRATOR_WORKSPACE", "/tmp/custom-workspace")
	if got := WorkspaceDir(); got != "/tmp/custom-workspace" {
		t.Errorf("WorkspaceDir() = %q, want env override", got)
	}
}
