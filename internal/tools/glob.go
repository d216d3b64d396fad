// Package tools provides Operator-registrable file and shortcut tools,
// adapted from the teacher's internal/tools package: find_files, read_file,
// write_file, and run_shortcut, each exposed as a plain function with
// operator.Tool's signature (FindFiles, ReadFileTool, WriteFileTool and
// RunShortcutTool in register.go) so cmd/orchestrator/main.go can register
// them directly.
package tools

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// GlobFiles walks root recursively and returns paths whose base name matches
// pattern (standard filepath.Match syntax: *.go, *.json, etc.).
// root supports ~ / ~/ prefix (expanded to the user's home directory).
// If root is empty, it defaults to ".".
// Inaccessible directories are silently skipped.
func GlobFiles(root, pattern string) ([]string, error) {
	if root == "" {
		root = "."
	}
	root = ExpandHome(root)

	var matches []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip inaccessible entries
		}
		if d.IsDir() {
			return nil
		}
		matched, _ := filepath.Match(pattern, d.Name())
		if matched {
			matches = append(matches, path)
		}
		return nil
	})
	return matches, err
}

// GlobJoin returns the matched paths as a newline-separated string, ready to
// be returned as a tool result.
func GlobJoin(paths []string) string {
	if len(paths) == 0 {
		return "(no matches)"
	}
	return strings.Join(paths, "\n")
}
