package rag

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hcwagner/orchestrator/internal/types"
)

// Embedder produces a vector embedding for a chunk of text. A nil Embedder
// degrades the Index to pure keyword search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

var defaultIgnorePatterns = []string{
	".git", "node_modules", "__pycache__", "venv", ".venv", "dist", "build", "vendor",
}

var defaultExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".rs": true, ".java": true, ".md": true,
}

// fileState tracks one indexed file's content hash, for incremental
// re-indexing (original_source's FileStatus.content_hash).
type fileState struct {
	hash   string
	chunks []types.EmbeddedChunk
}

// Index is the incremental code index: only files whose content hash has
// changed since the last Update are re-chunked and re-embedded.
type Index struct {
	mu       sync.RWMutex
	repoPath string
	embedder Embedder
	files    map[string]*fileState
}

// NewIndex creates an empty Index rooted at repoPath. embedder may be nil.
func NewIndex(repoPath string, embedder Embedder) *Index {
	return &Index{repoPath: repoPath, embedder: embedder, files: make(map[string]*fileState)}
}

// Status summarizes the index's coverage, per original_source's IndexStatus.
type Status struct {
	TotalFiles   int
	IndexedFiles int
	FailedFiles  int
}

// Update walks the repo, skipping ignored directories, and re-chunks/
// re-embeds only files whose content hash differs from the last indexed
// value (or that are new). Deleted files are dropped from the index.
func (idx *Index) Update(ctx context.Context) (Status, error) {
	seen := make(map[string]bool)
	var status Status

	err := filepath.WalkDir(idx.repoPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries rather than aborting the whole walk
		}
		if d.IsDir() {
			if isIgnored(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !defaultExtensions[filepath.Ext(path)] {
			return nil
		}
		status.TotalFiles++
		rel, _ := filepath.Rel(idx.repoPath, path)
		seen[rel] = true

		content, rerr := os.ReadFile(path)
		if rerr != nil {
			status.FailedFiles++
			return nil
		}
		hash := ContentHash(string(content))

		idx.mu.RLock()
		existing, ok := idx.files[rel]
		idx.mu.RUnlock()
		if ok && existing.hash == hash {
			return nil // unchanged, skip re-chunking
		}

		chunks := ChunkFile(rel, string(content), LanguageFor(path), 60)
		embedded := make([]types.EmbeddedChunk, len(chunks))
		for i, c := range chunks {
			ec := types.EmbeddedChunk{Chunk: c, ContentHash: ContentHash(c.Content)}
			if idx.embedder != nil {
				if vec, everr := idx.embedder.Embed(ctx, c.Content); everr == nil {
					ec.Vector = vec
				}
			}
			embedded[i] = ec
		}

		idx.mu.Lock()
		idx.files[rel] = &fileState{hash: hash, chunks: embedded}
		idx.mu.Unlock()
		status.IndexedFiles++
		return nil
	})
	if err != nil {
		return status, err
	}

	idx.mu.Lock()
	for rel := range idx.files {
		if !seen[rel] {
			delete(idx.files, rel)
		}
	}
	idx.mu.Unlock()

	return status, nil
}

func isIgnored(name string) bool {
	for _, p := range defaultIgnorePatterns {
		if name == p {
			return true
		}
	}
	return false
}

// allChunks returns a flattened, read-locked snapshot of every indexed
// chunk across all files.
func (idx *Index) allChunks() []types.EmbeddedChunk {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var all []types.EmbeddedChunk
	for _, fs := range idx.files {
		all = append(all, fs.chunks...)
	}
	return all
}

// tokenizeQuery lowercases and splits on non-alphanumeric runs, matching
// the keyword side of search.
func tokenizeQuery(q string) []string {
	fields := strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return fields
}
