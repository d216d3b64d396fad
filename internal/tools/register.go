package tools

import (
	"context"
	"fmt"
)

// ToolFunc matches operator.Tool's signature without importing the operator
// package (which would create an import cycle back into tools); main.go
// passes these functions straight to Operator.Register.
type ToolFunc func(ctx context.Context, params map[string]any) (string, error)

// FindFiles adapts GlobFiles/GlobJoin into a registrable tool. Params:
// "pattern" (required, filepath.Match syntax) and optional "root" (defaults
// to ".").
func FindFiles(ctx context.Context, params map[string]any) (string, error) {
	pattern, _ := params["pattern"].(string)
	if pattern == "" {
		return "", fmt.Errorf("tools: find_files requires a \"pattern\" param")
	}
	root, _ := params["root"].(string)
	matches, err := GlobFiles(root, pattern)
	if err != nil {
		return "", fmt.Errorf("tools: find_files: %w", err)
	}
	return GlobJoin(matches), nil
}

// ReadFileTool adapts ReadFile into a registrable tool. Params: "path"
// (required).
func ReadFileTool(ctx context.Context, params map[string]any) (string, error) {
	path, _ := params["path"].(string)
	if path == "" {
		return "", fmt.Errorf("tools: read_file requires a \"path\" param")
	}
	return ReadFile(path)
}

// WriteFileTool adapts WriteFile into a registrable tool. Params: "path"
// and "content" (both required). Returns the resolved path actually
// written, so callers can see when a bare filename was redirected into the
// workspace directory.
func WriteFileTool(ctx context.Context, params map[string]any) (string, error) {
	path, _ := params["path"].(string)
	if path == "" {
		return "", fmt.Errorf("tools: write_file requires a \"path\" param")
	}
	content, _ := params["content"].(string)
	return WriteFile(path, content)
}

// RunShortcutTool adapts RunShortcut into a registrable tool. Params:
// "name" (required) and optional "input".
func RunShortcutTool(ctx context.Context, params map[string]any) (string, error) {
	name, _ := params["name"].(string)
	if name == "" {
		return "", fmt.Errorf("tools: run_shortcut requires a \"name\" param")
	}
	input, _ := params["input"].(string)
	return RunShortcut(ctx, name, input)
}
