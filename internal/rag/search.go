package rag

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/hcwagner/orchestrator/internal/types"
)

// SearchResult is one hybrid keyword+vector hit, paired with its score.
type SearchResult struct {
	Chunk types.CodeChunk
	Score float64 // [0,1]
}

// Search scores every indexed chunk against query using a hybrid of keyword
// overlap (always available) and cosine similarity (when both the chunk and
// the query have vectors), then returns the top limit results sorted
// descending by score. The 0.5/0.5 keyword/vector split mirrors
// semantic_search.py's hybrid weighting; pure-keyword search (no embedder
// configured) uses keyword score alone.
func (idx *Index) Search(ctx context.Context, query string, limit int) []SearchResult {
	queryTerms := tokenizeQuery(query)
	var queryVec []float32
	if idx.embedder != nil {
		if vec, err := idx.embedder.Embed(ctx, query); err == nil {
			queryVec = vec
		}
	}

	chunks := idx.allChunks()
	var results []SearchResult
	for _, ec := range chunks {
		kw := keywordScore(queryTerms, ec.Chunk.Content)
		var score float64
		if queryVec != nil && len(ec.Vector) == len(queryVec) && len(queryVec) > 0 {
			vecScore := cosineSimilarity(queryVec, ec.Vector)
			score = 0.5*kw + 0.5*vecScore
		} else {
			score = kw
		}
		if score <= 0 {
			continue
		}
		results = append(results, SearchResult{Chunk: ec.Chunk, Score: score})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

func keywordScore(queryTerms []string, content string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	hits := 0
	for _, t := range queryTerms {
		if strings.Contains(lower, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTerms))
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// RankedItem is one piece of context queued for budgeting, per
// context_ranker.py's RankedContext.
type RankedItem struct {
	Content   string
	Source    string
	Relevance float64 // [0,1]
	Priority  int     // 1 = highest priority, 10 = lowest
}

// estimateTokens approximates token count at 4 characters per token, the
// same rough heuristic context_ranker.py uses.
func estimateTokens(s string) int {
	n := len(s) / 4
	if n == 0 && s != "" {
		n = 1
	}
	return n
}

// Budget selects items greedily by (priority, relevance) — lower Priority
// number first, then higher Relevance — accepting each item whose tokens
// still fit within maxTokens-reserveTokens, and joins the accepted content
// blocks with a source-labeled header. Matches context_ranker.py's
// build_context contract: maximize relevance within a hard token ceiling.
func Budget(items []RankedItem, maxTokens, reserveTokens int) string {
	budget := maxTokens - reserveTokens
	if budget <= 0 {
		return ""
	}
	ordered := make([]RankedItem, len(items))
	copy(ordered, items)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].Relevance > ordered[j].Relevance
	})

	var b strings.Builder
	used := 0
	for _, item := range ordered {
		cost := estimateTokens(item.Content)
		if used+cost > budget {
			continue
		}
		b.WriteString("--- ")
		b.WriteString(item.Source)
		b.WriteString(" ---\n")
		b.WriteString(item.Content)
		b.WriteString("\n\n")
		used += cost
	}
	return strings.TrimRight(b.String(), "\n")
}
