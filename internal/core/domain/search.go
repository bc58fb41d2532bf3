package domain

import "time"

// MinQueryLength is the shortest query the lexical methods accept. Sparse
// and fuzzy matching are ill-defined on shorter input and return nothing.
const MinQueryLength = 2

// MethodParams bounds one retrieval method independently so a noisy method
// cannot starve the others' result budget.
type MethodParams struct {
	Limit     int           `json:"limit"`
	Threshold float64       `json:"threshold"`
	Timeout   time.Duration `json:"timeout"`
}

// SearchParams carries the per-method bounds for one query.
type SearchParams struct {
	Dense  MethodParams `json:"dense"`
	Sparse MethodParams `json:"sparse"`
	Fuzzy  MethodParams `json:"fuzzy"`
	Exact  MethodParams `json:"exact"`
}

// FusionParams configures reciprocal rank fusion. Weights and K are
// per-query overridable; zero values fall back to defaults.
type FusionParams struct {
	K            int     `json:"k" yaml:"k"`
	DenseWeight  float64 `json:"dense_weight" yaml:"dense_weight"`
	SparseWeight float64 `json:"sparse_weight" yaml:"sparse_weight"`
	FuzzyWeight  float64 `json:"fuzzy_weight" yaml:"fuzzy_weight"`
}

func DefaultSearchParams() SearchParams {
	return SearchParams{
		Dense:  MethodParams{Limit: 20, Threshold: 0.3, Timeout: 5 * time.Second},
		Sparse: MethodParams{Limit: 20, Threshold: 0.1, Timeout: 2 * time.Second},
		Fuzzy:  MethodParams{Limit: 20, Threshold: 0.3, Timeout: 2 * time.Second},
		Exact:  MethodParams{Limit: 20, Timeout: 2 * time.Second},
	}
}

func DefaultFusionParams() FusionParams {
	return FusionParams{
		K:            60,
		DenseWeight:  0.5,
		SparseWeight: 0.3,
		FuzzyWeight:  0.2,
	}
}

// SearchRequest is one fused search. Embedding, Params and Fusion are
// optional: a nil embedding makes the dense path call the embedder, nil
// Params/Fusion use the configured defaults.
type SearchRequest struct {
	Query     string
	Embedding []float32
	Filter    SearchFilter
	Limit     int
	Params    *SearchParams
	Fusion    *FusionParams
}
