package usecase

import (
	"sort"

	"github.com/kirillkom/retrieval-core/internal/core/domain"
	"github.com/kirillkom/retrieval-core/internal/core/ports"
)

type fusedCandidate struct {
	result  domain.SearchResult
	bestRaw float64
	scored  int
}

// fuseRRF merges the per-method ranked lists with weighted reciprocal rank
// fusion: each appearance at 1-indexed rank r contributes weight/(k+r).
// Exact matches carry no rank signal; chunks found only by the exact method
// receive a floor contribution so they are never dropped for lack of a
// ranking.
func fuseRRF(
	dense, sparse, fuzzy []ports.LexicalHit,
	exact []domain.ContentChunk,
	fusion domain.FusionParams,
	limit int,
) []domain.SearchResult {
	fusion = normalizeFusionParams(fusion)

	acc := make(map[string]*fusedCandidate, len(dense)+len(sparse)+len(fuzzy)+len(exact))
	get := func(chunk domain.ContentChunk) *fusedCandidate {
		candidate, ok := acc[chunk.ID]
		if !ok {
			candidate = &fusedCandidate{result: domain.SearchResult{
				ChunkID:   chunk.ID,
				Content:   chunk.Content,
				Metadata:  chunk.Metadata,
				SourceRef: chunk.Metadata["source_ref"],
			}}
			acc[chunk.ID] = candidate
		}
		if candidate.result.Content == "" && chunk.Content != "" {
			candidate.result.Content = chunk.Content
		}
		return candidate
	}
	addList := func(hits []ports.LexicalHit, weight float64, assign func(*domain.SearchResult, float64)) {
		for rank, hit := range hits {
			candidate := get(hit.Chunk)
			raw := hit.Score
			assign(&candidate.result, raw)
			candidate.result.FusedScore += weight / float64(fusion.K+rank+1)
			candidate.result.MethodCount++
			candidate.scored++
			if raw > candidate.bestRaw {
				candidate.bestRaw = raw
			}
		}
	}

	addList(dense, fusion.DenseWeight, func(r *domain.SearchResult, s float64) { r.DenseScore = &s })
	addList(sparse, fusion.SparseWeight, func(r *domain.SearchResult, s float64) { r.SparseScore = &s })
	addList(fuzzy, fusion.FuzzyWeight, func(r *domain.SearchResult, s float64) { r.FuzzyScore = &s })

	floorRank := maxLen(len(dense), len(sparse), len(fuzzy), len(exact)) + 1
	floorWeight := minPositiveWeight(fusion)
	for _, chunk := range exact {
		candidate := get(chunk)
		candidate.result.ExactMatch = true
		candidate.result.MethodCount++
		if candidate.scored == 0 {
			candidate.result.FusedScore += floorWeight / float64(fusion.K+floorRank)
		}
	}

	out := make([]domain.SearchResult, 0, len(acc))
	for _, candidate := range acc {
		out = append(out, candidate.result)
	}

	bestRaw := func(r domain.SearchResult) float64 {
		best := 0.0
		for _, s := range []*float64{r.DenseScore, r.SparseScore, r.FuzzyScore} {
			if s != nil && *s > best {
				best = *s
			}
		}
		return best
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		if out[i].MethodCount != out[j].MethodCount {
			return out[i].MethodCount > out[j].MethodCount
		}
		if bi, bj := bestRaw(out[i]), bestRaw(out[j]); bi != bj {
			return bi > bj
		}
		return out[i].ChunkID < out[j].ChunkID
	})

	return trimResults(out, limit)
}

func trimResults(results []domain.SearchResult, limit int) []domain.SearchResult {
	if limit <= 0 || len(results) <= limit {
		return results
	}
	return results[:limit]
}

func normalizeFusionParams(p domain.FusionParams) domain.FusionParams {
	def := domain.DefaultFusionParams()
	if p.K <= 0 {
		p.K = def.K
	}
	if p.DenseWeight <= 0 && p.SparseWeight <= 0 && p.FuzzyWeight <= 0 {
		p.DenseWeight = def.DenseWeight
		p.SparseWeight = def.SparseWeight
		p.FuzzyWeight = def.FuzzyWeight
	}
	return p
}

func minPositiveWeight(p domain.FusionParams) float64 {
	min := 0.0
	for _, w := range []float64{p.DenseWeight, p.SparseWeight, p.FuzzyWeight} {
		if w <= 0 {
			continue
		}
		if min == 0 || w < min {
			min = w
		}
	}
	if min == 0 {
		return 1.0
	}
	return min
}

func maxLen(lens ...int) int {
	max := 0
	for _, n := range lens {
		if n > max {
			max = n
		}
	}
	return max
}
