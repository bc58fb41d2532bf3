package ports

import (
	"context"
	"time"

	"github.com/kirillkom/retrieval-core/internal/core/domain"
)

// SearchService is the inbound contract for fused multi-method retrieval.
type SearchService interface {
	Search(ctx context.Context, req domain.SearchRequest) ([]domain.SearchResult, error)
}

// RoutingCacheService is the inbound contract for the decision cache.
type RoutingCacheService interface {
	Lookup(ctx context.Context, queryText string, embedding []float32, similarityThreshold float64) (*domain.RoutingLookupResult, error)
	Put(ctx context.Context, entry domain.RoutingCacheEntry) (domain.RoutingCacheEntry, error)
	RecordHit(ctx context.Context, id string) error
}

// FeedbackService ingests outcome signals and applies them to linked cache
// entries.
type FeedbackService interface {
	Record(ctx context.Context, feedback domain.FeedbackRecord) (domain.FeedbackRecord, error)
}

// ChunkIngestor is the inbound adapter surface for the external ingestion
// pipeline: index a chunk lexically and (re)embed it.
type ChunkIngestor interface {
	UpsertChunk(ctx context.Context, chunk domain.ContentChunk) error
	DeleteChunk(ctx context.Context, id string) error
}

// Sweeper runs the periodic eviction/expiry pass.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (SweepReport, error)
}

// SweepReport summarizes one eviction pass.
type SweepReport struct {
	RoutingReclaimed   int
	EmbeddingReclaimed int
}

// StatsProvider exposes operational counters for observability.
type StatsProvider interface {
	Stats() Stats
}

// MethodStats counts per-method outcomes of fused searches.
type MethodStats struct {
	Results  int64 `json:"results"`
	Empty    int64 `json:"empty"`
	Errors   int64 `json:"errors"`
	Timeouts int64 `json:"timeouts"`
}

// Stats is the aggregate observability snapshot.
type Stats struct {
	Searches       int64                  `json:"searches"`
	Methods        map[string]MethodStats `json:"methods"`
	MeanFusedScore float64                `json:"mean_fused_score"`

	CacheExactHits    int64   `json:"cache_exact_hits"`
	CacheSemanticHits int64   `json:"cache_semantic_hits"`
	CacheMisses       int64   `json:"cache_misses"`
	CacheHitRate      float64 `json:"cache_hit_rate"`
}
