package ports

import (
	"context"
	"time"

	"github.com/kirillkom/retrieval-core/internal/core/domain"
)

// Embedder builds query vectors. The core never generates embeddings
// itself; this is the one external call on the hot path, skippable when the
// caller already supplies a vector.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingFilter narrows nearest-neighbor lookups. Empty fields do not
// filter.
type EmbeddingFilter struct {
	Namespace string
	ModelID   string
}

// EmbeddingStore is a content-addressed vector store with nearest-neighbor
// lookup. Put has upsert semantics on (content hash, model id, namespace).
type EmbeddingStore interface {
	Put(ctx context.Context, contentHash, modelID, namespace string, vector []float32, metadata map[string]string) (domain.EmbeddingRecord, error)
	Nearest(ctx context.Context, query []float32, filter EmbeddingFilter, threshold float64, limit int) ([]domain.EmbeddingHit, error)
	Touch(ctx context.Context, id string) error
	DeleteByHash(ctx context.Context, contentHash, modelID, namespace string) error
	SweepStale(ctx context.Context, cutoff time.Time) (int, error)
}

// LexicalHit pairs a chunk with a method-local relevance score.
type LexicalHit struct {
	Chunk domain.ContentChunk
	Score float64
}

// CorpusIndex serves the sparse, fuzzy and exact methods over the shared
// content corpus. Upsert/Delete exist for the external ingestion boundary;
// the search paths only read.
type CorpusIndex interface {
	Upsert(ctx context.Context, chunk domain.ContentChunk) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (domain.ContentChunk, error)
	SearchSparse(ctx context.Context, query string, filter domain.SearchFilter, limit int, minRank float64) ([]LexicalHit, error)
	SearchFuzzy(ctx context.Context, query string, filter domain.SearchFilter, limit int, minSimilarity float64) ([]LexicalHit, error)
	SearchExact(ctx context.Context, query string, filter domain.SearchFilter, limit int) ([]domain.ContentChunk, error)
}

// RoutingStore is the authoritative routing-decision cache. Implementations
// must be safe for many concurrent readers and writers; Insert is atomic
// with respect to readers and counter updates must not lose writes.
type RoutingStore interface {
	Insert(ctx context.Context, entry *domain.RoutingCacheEntry) error
	GetByID(ctx context.Context, id string) (domain.RoutingCacheEntry, error)
	GetByHash(ctx context.Context, queryHash string) (domain.RoutingCacheEntry, error)
	NearestActive(ctx context.Context, embedding []float32) (domain.RoutingCacheEntry, float64, error)
	RecordHit(ctx context.Context, id string) error
	ApplyFeedback(ctx context.Context, id string, successful bool, rating int) (domain.RoutingCacheEntry, error)
	Deactivate(ctx context.Context, id string) error
	ActiveIDs(ctx context.Context) ([]string, error)
	Sweep(ctx context.Context, now, inactiveCutoff time.Time) (int, error)
}

// RoutingArchive is optional durable write-through persistence behind the
// in-memory routing store. Several processes share one archive, so counter
// updates are relative increments against the shared row, never snapshots
// of one process's private store. Archive failures degrade durability,
// never lookup correctness.
type RoutingArchive interface {
	SaveEntry(ctx context.Context, entry domain.RoutingCacheEntry) error
	RecordHit(ctx context.Context, id string, usedAt time.Time) error
	ApplyFeedback(ctx context.Context, id string, successful bool, rating int) (domain.RoutingCacheEntry, error)
	SetActive(ctx context.Context, id string, active bool) error
	DeleteExpired(ctx context.Context, now, inactiveCutoff time.Time) (int64, error)
	LoadActive(ctx context.Context) ([]domain.RoutingCacheEntry, error)
}

// FeedbackStore persists immutable feedback records.
type FeedbackStore interface {
	Save(ctx context.Context, feedback domain.FeedbackRecord) error
}

// FeedbackQueue is the asynchronous feedback submission boundary.
type FeedbackQueue interface {
	PublishFeedback(ctx context.Context, feedback domain.FeedbackRecord) error
	SubscribeFeedback(ctx context.Context, handler func(context.Context, domain.FeedbackRecord) error) error
	Close()
}
