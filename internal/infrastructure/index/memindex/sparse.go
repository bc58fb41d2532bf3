package memindex

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/kirillkom/retrieval-core/internal/core/domain"
	"github.com/kirillkom/retrieval-core/internal/core/ports"
)

// SearchSparse ranks chunks by a length-normalized BM25 relevance score
// over the inverted index. Queries too short to carry lexical signal return
// nothing rather than failing.
func (ix *Index) SearchSparse(
	ctx context.Context,
	query string,
	filter domain.SearchFilter,
	limit int,
	minRank float64,
) ([]ports.LexicalHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	docCount := len(ix.chunks)
	if docCount == 0 {
		return nil, nil
	}
	avgLen := float64(ix.totalLen) / float64(docCount)
	if avgLen <= 0 {
		avgLen = 1
	}

	scores := make(map[string]float64)
	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}

		posting, ok := ix.postings[term]
		if !ok {
			continue
		}
		idf := math.Log(1 + (float64(docCount)-float64(len(posting))+0.5)/(float64(len(posting))+0.5))
		for chunkID, tf := range posting {
			entry := ix.chunks[chunkID]
			norm := 1 - bm25B + bm25B*float64(entry.length)/avgLen
			scores[chunkID] += idf * float64(tf) * (bm25K1 + 1) / (float64(tf) + bm25K1*norm)
		}
	}

	hits := make([]ports.LexicalHit, 0, len(scores))
	for chunkID, score := range scores {
		if score < minRank {
			continue
		}
		entry := ix.chunks[chunkID]
		if !matchesFilter(entry.chunk, filter) {
			continue
		}
		hits = append(hits, ports.LexicalHit{Chunk: entry.chunk, Score: score})
	}
	return sortAndTrim(hits, limit), nil
}

func tokenize(s string) []string {
	if s == "" {
		return nil
	}
	out := make([]string, 0, 24)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}
