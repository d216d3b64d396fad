// Package rag implements Retrieval & Ranking: chunking source files,
// maintaining a hybrid keyword+vector index, and budgeting ranked results
// into a token-bounded context block (Budget, which the Supervisor and
// Operator prompt builders do not call).
// This subsystem has no direct teacher analogue — it is grounded on
// original_source/ryx_pkg/rag/{code_embeddings,incremental_indexer,
// semantic_search,context_ranker}.py, reimplemented in Go with the rest of
// this repository's persistence (internal/store) and concurrency idioms.
package rag

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hcwagner/orchestrator/internal/types"
)

// funcHeaderRe recognizes common function/method declaration lines across
// Go, Python, and C-family sources — good enough to split chunks at
// meaningful boundaries without a full per-language parser.
var funcHeaderRe = regexp.MustCompile(`^\s*(func |def |class |public |private |protected |export function |function )`)

// ChunkFile splits content into CodeChunks by contiguous blocks, breaking at
// recognized function/class headers and otherwise capping chunk size at
// maxLines, matching code_embeddings.py's "chunk at logical boundaries,
// cap size" strategy.
func ChunkFile(path, content, language string, maxLines int) []types.CodeChunk {
	if maxLines <= 0 {
		maxLines = 60
	}
	lines := strings.Split(content, "\n")

	var chunks []types.CodeChunk
	start := 0
	for i := 1; i <= len(lines); i++ {
		atBoundary := i == len(lines) || (funcHeaderRe.MatchString(lines[i]) && i > start)
		tooLong := i-start >= maxLines
		if atBoundary || tooLong {
			if i > start {
				chunks = append(chunks, buildChunk(path, lines[start:i], start, i-1, language))
			}
			start = i
		}
	}
	return chunks
}

func buildChunk(path string, lines []string, startLine, endLine int, language string) types.CodeChunk {
	content := strings.Join(lines, "\n")
	kind := types.ChunkBlock
	if len(lines) > 0 && funcHeaderRe.MatchString(lines[0]) {
		switch {
		case strings.Contains(lines[0], "class "):
			kind = types.ChunkClass
		default:
			kind = types.ChunkFunction
		}
	}
	return types.CodeChunk{
		ID:        path + ":" + itoa(startLine) + ":" + itoa(endLine),
		Content:   content,
		File:      path,
		StartLine: startLine + 1,
		EndLine:   endLine + 1,
		Language:  language,
		Kind:      kind,
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ContentHash returns the content-derived hash used to detect unchanged
// files during incremental re-indexing, per original_source's FileStatus
// content_hash field.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// LanguageFor guesses a chunking language from a file extension.
func LanguageFor(path string) string {
	switch filepath.Ext(path) {
	case ".go":
		return "go"
	case ".py":
		return "python"
	case ".js", ".jsx":
		return "javascript"
	case ".ts", ".tsx":
		return "typescript"
	case ".rs":
		return "rust"
	case ".java":
		return "java"
	default:
		return "text"
	}
}

// ReadLines reads path and returns its lines without trailing newlines,
// tolerant of files that don't end in a newline.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}
