package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/retrieval-core/internal/core/domain"
	"github.com/kirillkom/retrieval-core/internal/core/ports"
)

// maxQueryLength caps lexical matching; oversized queries degrade to the
// dense path instead of failing the fused search.
const maxQueryLength = 8192

// WeightSelector picks fusion parameters for a query. The default keeps the
// configured static weights; callers may plug an adaptive rule.
type WeightSelector func(query string) domain.FusionParams

// SearchUseCase runs the four retrieval methods concurrently and fuses
// their rankings. A slow or failing method never fails the whole search;
// fusion proceeds with whatever methods returned.
type SearchUseCase struct {
	embedder ports.Embedder
	vectors  ports.EmbeddingStore
	index    ports.CorpusIndex
	modelID  string

	defaults       domain.SearchParams
	fusion         domain.FusionParams
	weightSelector WeightSelector
	onDegraded     MethodDegradedObserver

	stats *StatsRecorder
}

// MethodDegradedObserver is called with the method name and reason
// ("timeout" or "error") whenever a method is dropped from fusion.
type MethodDegradedObserver func(method, reason string)

func NewSearchUseCase(
	embedder ports.Embedder,
	vectors ports.EmbeddingStore,
	index ports.CorpusIndex,
	modelID string,
	defaults domain.SearchParams,
	fusion domain.FusionParams,
	stats *StatsRecorder,
) *SearchUseCase {
	if stats == nil {
		stats = NewStatsRecorder()
	}
	return &SearchUseCase{
		embedder: embedder,
		vectors:  vectors,
		index:    index,
		modelID:  modelID,
		defaults: defaults,
		fusion:   normalizeFusionParams(fusion),
		stats:    stats,
	}
}

// WithWeightSelector installs an adaptive fusion-weight rule.
func (uc *SearchUseCase) WithWeightSelector(selector WeightSelector) *SearchUseCase {
	uc.weightSelector = selector
	return uc
}

// WithMethodDegradedObserver hooks degraded-method events, typically into
// a metrics collector.
func (uc *SearchUseCase) WithMethodDegradedObserver(fn MethodDegradedObserver) *SearchUseCase {
	uc.onDegraded = fn
	return uc
}

type methodOutcome struct {
	method string
	hits   []ports.LexicalHit
	exact  []domain.ContentChunk
	err    error
}

func (uc *SearchUseCase) Search(ctx context.Context, req domain.SearchRequest) ([]domain.SearchResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" && len(req.Embedding) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidQuery, "search", errors.New("empty query and no embedding"))
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}

	params := uc.defaults
	if req.Params != nil {
		params = *req.Params
	}
	fusion := uc.fusion
	if req.Fusion != nil {
		fusion = normalizeFusionParams(*req.Fusion)
	} else if uc.weightSelector != nil {
		fusion = normalizeFusionParams(uc.weightSelector(query))
	}

	// Sparse and fuzzy are ill-defined on degenerate input; exact still runs
	// for any non-empty query within bounds.
	lexicalOK := len(query) >= domain.MinQueryLength && len(query) <= maxQueryLength
	exactOK := query != "" && len(query) <= maxQueryLength

	outcomes := make(chan methodOutcome, 4)
	go uc.runDense(ctx, query, req.Embedding, req.Filter, params.Dense, outcomes)
	go uc.runLexical(ctx, methodSparse, query, req.Filter, params.Sparse, lexicalOK, outcomes)
	go uc.runLexical(ctx, methodFuzzy, query, req.Filter, params.Fuzzy, lexicalOK, outcomes)
	go uc.runExact(ctx, query, req.Filter, params.Exact, exactOK, outcomes)

	var dense, sparse, fuzzy []ports.LexicalHit
	var exact []domain.ContentChunk
	for i := 0; i < 4; i++ {
		outcome := <-outcomes
		timedOut := errors.Is(outcome.err, context.DeadlineExceeded) || domain.IsKind(outcome.err, domain.ErrMethodTimeout)
		uc.stats.recordMethod(outcome.method, len(outcome.hits)+len(outcome.exact), outcome.err, timedOut)
		if outcome.err != nil {
			slog.Warn("search_method_degraded",
				"method", outcome.method,
				"timeout", timedOut,
				"error", outcome.err,
			)
			if uc.onDegraded != nil {
				reason := "error"
				if timedOut {
					reason = "timeout"
				}
				uc.onDegraded(outcome.method, reason)
			}
			continue
		}
		switch outcome.method {
		case methodDense:
			dense = outcome.hits
		case methodSparse:
			sparse = outcome.hits
		case methodFuzzy:
			fuzzy = outcome.hits
		case methodExact:
			exact = outcome.exact
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := fuseRRF(dense, sparse, fuzzy, exact, fusion, req.Limit)

	uc.stats.recordSearch()
	scores := make([]float64, len(results))
	for i, r := range results {
		scores[i] = r.FusedScore
	}
	uc.stats.recordFused(scores)

	return results, nil
}

func (uc *SearchUseCase) runDense(
	ctx context.Context,
	query string,
	embedding []float32,
	filter domain.SearchFilter,
	params domain.MethodParams,
	out chan<- methodOutcome,
) {
	methodCtx, cancel := methodContext(ctx, params.Timeout)
	defer cancel()

	if len(embedding) == 0 {
		if query == "" || uc.embedder == nil {
			out <- methodOutcome{method: methodDense}
			return
		}
		vector, err := uc.embedder.EmbedQuery(methodCtx, query)
		if err != nil {
			out <- methodOutcome{method: methodDense, err: err}
			return
		}
		embedding = vector
	}

	hits, err := uc.vectors.Nearest(methodCtx, embedding, ports.EmbeddingFilter{
		Namespace: filter.Namespace,
		ModelID:   uc.modelID,
	}, params.Threshold, params.Limit)
	if err != nil {
		out <- methodOutcome{method: methodDense, err: err}
		return
	}

	lexical := make([]ports.LexicalHit, 0, len(hits))
	for _, hit := range hits {
		if err := uc.vectors.Touch(methodCtx, hit.Record.ID); err != nil {
			slog.Warn("embedding_touch_failed", "record_id", hit.Record.ID, "error", err)
		}
		chunk := uc.hydrateChunk(methodCtx, hit.Record, filter)
		if chunk == nil {
			continue
		}
		lexical = append(lexical, ports.LexicalHit{Chunk: *chunk, Score: hit.Similarity})
	}
	out <- methodOutcome{method: methodDense, hits: lexical}
}

// hydrateChunk resolves the chunk behind an embedding record and applies
// the metadata filter the vector store cannot evaluate.
func (uc *SearchUseCase) hydrateChunk(ctx context.Context, record domain.EmbeddingRecord, filter domain.SearchFilter) *domain.ContentChunk {
	chunkID := record.Metadata["chunk_id"]
	if chunkID == "" {
		return nil
	}
	chunk, err := uc.index.Get(ctx, chunkID)
	if err != nil {
		return nil
	}
	for key, want := range filter.Metadata {
		if chunk.Metadata[key] != want {
			return nil
		}
	}
	return &chunk
}

func (uc *SearchUseCase) runLexical(
	ctx context.Context,
	method, query string,
	filter domain.SearchFilter,
	params domain.MethodParams,
	lexicalOK bool,
	out chan<- methodOutcome,
) {
	if !lexicalOK {
		out <- methodOutcome{method: method}
		return
	}
	methodCtx, cancel := methodContext(ctx, params.Timeout)
	defer cancel()

	var hits []ports.LexicalHit
	var err error
	switch method {
	case methodSparse:
		hits, err = uc.index.SearchSparse(methodCtx, query, filter, params.Limit, params.Threshold)
	case methodFuzzy:
		hits, err = uc.index.SearchFuzzy(methodCtx, query, filter, params.Limit, params.Threshold)
	}
	out <- methodOutcome{method: method, hits: hits, err: err}
}

func (uc *SearchUseCase) runExact(
	ctx context.Context,
	query string,
	filter domain.SearchFilter,
	params domain.MethodParams,
	exactOK bool,
	out chan<- methodOutcome,
) {
	if !exactOK {
		out <- methodOutcome{method: methodExact}
		return
	}
	methodCtx, cancel := methodContext(ctx, params.Timeout)
	defer cancel()

	chunks, err := uc.index.SearchExact(methodCtx, query, filter, params.Limit)
	out <- methodOutcome{method: methodExact, exact: chunks, err: err}
}

func methodContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func (uc *SearchUseCase) Stats() ports.Stats {
	return uc.stats.Stats()
}
