package memstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/retrieval-core/internal/core/domain"
	"github.com/kirillkom/retrieval-core/internal/core/ports"
)

// Store is an in-memory content-addressed vector store. Records are unique
// per (content hash, model id, namespace); writes happen under the write
// lock so readers never observe a partially written record.
type Store struct {
	mu    sync.RWMutex
	byKey map[string]*domain.EmbeddingRecord
	byID  map[string]string

	// dims pins the vector dimension per model id; the first put wins and
	// later disagreement fails fast.
	dims map[string]int
}

func New() *Store {
	return &Store{
		byKey: make(map[string]*domain.EmbeddingRecord),
		byID:  make(map[string]string),
		dims:  make(map[string]int),
	}
}

func tripleKey(contentHash, modelID, namespace string) string {
	return contentHash + "|" + modelID + "|" + namespace
}

func (s *Store) Put(
	ctx context.Context,
	contentHash, modelID, namespace string,
	vector []float32,
	metadata map[string]string,
) (domain.EmbeddingRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.EmbeddingRecord{}, err
	}
	if len(vector) == 0 {
		return domain.EmbeddingRecord{}, domain.WrapError(domain.ErrInvalidQuery, "embedding put",
			fmt.Errorf("empty vector for hash %s", contentHash))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if dim, ok := s.dims[modelID]; ok && dim != len(vector) {
		return domain.EmbeddingRecord{}, domain.WrapError(domain.ErrDimensionMismatch, "embedding put",
			fmt.Errorf("model %s stores %d-dim vectors, got %d", modelID, dim, len(vector)))
	}
	s.dims[modelID] = len(vector)

	now := time.Now().UTC()
	key := tripleKey(contentHash, modelID, namespace)
	if existing, ok := s.byKey[key]; ok {
		existing.Vector = append([]float32(nil), vector...)
		existing.Metadata = copyMetadata(metadata)
		existing.UpdatedAt = now
		return *existing, nil
	}

	record := &domain.EmbeddingRecord{
		ID:             uuid.NewString(),
		ContentHash:    contentHash,
		ModelID:        modelID,
		Namespace:      namespace,
		Vector:         append([]float32(nil), vector...),
		Metadata:       copyMetadata(metadata),
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessedAt: now,
	}
	s.byKey[key] = record
	s.byID[record.ID] = key
	return *record, nil
}

func (s *Store) Nearest(
	ctx context.Context,
	query []float32,
	filter ports.EmbeddingFilter,
	threshold float64,
	limit int,
) ([]domain.EmbeddingHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(query) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]domain.EmbeddingHit, 0, 16)
	for _, record := range s.byKey {
		if filter.Namespace != "" && record.Namespace != filter.Namespace {
			continue
		}
		if filter.ModelID != "" && record.ModelID != filter.ModelID {
			continue
		}
		if len(record.Vector) != len(query) {
			return nil, domain.WrapError(domain.ErrDimensionMismatch, "embedding nearest",
				fmt.Errorf("query has %d dims, record %s has %d", len(query), record.ID, len(record.Vector)))
		}
		similarity := cosineSimilarity(query, record.Vector)
		if similarity < threshold {
			continue
		}
		hits = append(hits, domain.EmbeddingHit{Record: *record, Similarity: similarity})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].Record.ID < hits[j].Record.ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *Store) Touch(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.byID[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "embedding touch", fmt.Errorf("record %s", id))
	}
	s.byKey[key].LastAccessedAt = time.Now().UTC()
	return nil
}

func (s *Store) DeleteByHash(ctx context.Context, contentHash, modelID, namespace string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tripleKey(contentHash, modelID, namespace)
	record, ok := s.byKey[key]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "embedding delete", fmt.Errorf("hash %s", contentHash))
	}
	delete(s.byKey, key)
	delete(s.byID, record.ID)
	return nil
}

// SweepStale reclaims records unused since before cutoff, judged by
// LastAccessedAt rather than creation time.
func (s *Store) SweepStale(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.RLock()
	stale := make([]string, 0)
	for key, record := range s.byKey {
		if record.LastAccessedAt.Before(cutoff) {
			stale = append(stale, key)
		}
	}
	s.mu.RUnlock()

	removed := 0
	for _, key := range stale {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		s.mu.Lock()
		if record, ok := s.byKey[key]; ok && record.LastAccessedAt.Before(cutoff) {
			delete(s.byKey, key)
			delete(s.byID, record.ID)
			removed++
		}
		s.mu.Unlock()
	}
	return removed, nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKey)
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

func copyMetadata(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}
