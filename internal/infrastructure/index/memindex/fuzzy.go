package memindex

import (
	"context"
	"sort"
	"strings"

	"github.com/kirillkom/retrieval-core/internal/core/domain"
	"github.com/kirillkom/retrieval-core/internal/core/ports"
)

// SearchFuzzy scores chunks by the Dice coefficient over character trigram
// sets, tolerating misspellings the term index cannot match.
func (ix *Index) SearchFuzzy(
	ctx context.Context,
	query string,
	filter domain.SearchFilter,
	limit int,
	minSimilarity float64,
) ([]ports.LexicalHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	queryTrigrams := trigramSet(query)
	if len(queryTrigrams) == 0 {
		return nil, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	hits := make([]ports.LexicalHit, 0, 16)
	for _, entry := range ix.chunks {
		if !matchesFilter(entry.chunk, filter) {
			continue
		}
		similarity := diceCoefficient(queryTrigrams, entry.trigrams)
		if similarity < minSimilarity || similarity <= 0 {
			continue
		}
		hits = append(hits, ports.LexicalHit{Chunk: entry.chunk, Score: similarity})
	}
	return sortAndTrim(hits, limit), nil
}

// SearchExact is a recall safety net: case-insensitive substring
// containment, binary match, no score.
func (ix *Index) SearchExact(
	ctx context.Context,
	query string,
	filter domain.SearchFilter,
	limit int,
) ([]domain.ContentChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	matches := make([]domain.ContentChunk, 0, 8)
	for _, entry := range ix.chunks {
		if !matchesFilter(entry.chunk, filter) {
			continue
		}
		if strings.Contains(entry.lowered, needle) {
			matches = append(matches, entry.chunk)
		}
	}
	// Binary matches carry no score; order by id for determinism.
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// trigramSet builds the set of letter trigrams over the normalized text,
// padding each token so short words still produce grams.
func trigramSet(s string) map[string]struct{} {
	tokens := tokenize(s)
	if len(tokens) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(tokens)*4)
	for _, token := range tokens {
		padded := "  " + token + " "
		runes := []rune(padded)
		for i := 0; i+3 <= len(runes); i++ {
			out[string(runes[i:i+3])] = struct{}{}
		}
	}
	return out
}

func diceCoefficient(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	shared := 0
	for gram := range small {
		if _, ok := large[gram]; ok {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(a)+len(b))
}
