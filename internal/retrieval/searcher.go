package retrieval

import (
	"context"
	"fmt"
	"strings"
)

// ScoredChunk is a retrieved document fragment with its similarity score.
type ScoredChunk struct {
	DocumentID string
	ChunkIndex int
	Text       string
	Score      float32
}

// Searcher combines embedding and vector search to find relevant chunks.
type Searcher struct {
	embedder *Embedder
	store    VectorStore
}

// NewSearcher creates a Searcher backed by the given Embedder and VectorStore.
func NewSearcher(embedder *Embedder, store VectorStore) *Searcher {
	return &Searcher{embedder: embedder, store: store}
}

// Search embeds the query and returns the top-K most similar chunks,
// optionally restricted to the given documents.
func (s *Searcher) Search(ctx context.Context, query string, topK int, documentIDs []string) ([]ScoredChunk, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	scored, err := s.store.Search(ctx, vec, topK, documentIDs)
	if err != nil {
		return nil, err
	}

	chunks := make([]ScoredChunk, len(scored))
	for i, r := range scored {
		chunks[i] = ScoredChunk{
			DocumentID: r.DocumentID,
			ChunkIndex: r.ChunkIndex,
			Text:       r.TextChunk,
			Score:      r.Score,
		}
	}
	return chunks, nil
}

// EstimateTokens approximates the token count of a string. Rough heuristic:
// one token per 4 characters, rounded up.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// FormatChunks renders retrieved chunks as model context, stopping before
// the estimated token budget is exceeded. A budget <= 0 means unlimited.
func FormatChunks(chunks []ScoredChunk, tokenBudget int) string {
	if len(chunks) == 0 {
		return "No matching passages found."
	}

	var b strings.Builder
	used := 0
	for i, c := range chunks {
		entry := fmt.Sprintf("[%d] (score %.3f)\n%s\n", i+1, c.Score, strings.TrimSpace(c.Text))
		cost := EstimateTokens(entry)
		if tokenBudget > 0 && used+cost > tokenBudget && i > 0 {
			break
		}
		b.WriteString(entry)
		if i < len(chunks)-1 {
			b.WriteString("\n")
		}
		used += cost
	}
	return strings.TrimRight(b.String(), "\n")
}
