// Package memcache is the authoritative in-memory routing-decision cache:
// O(1) exact-hash lookup, linear cosine scan for the semantic fallback.
// All writes go through the store lock, so counter updates never lose
// increments and readers never see a partially inserted entry.
package memcache

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/kirillkom/retrieval-core/internal/core/domain"
)

type Store struct {
	mu           sync.RWMutex
	byID         map[string]*domain.RoutingCacheEntry
	activeByHash map[string]string
}

func New() *Store {
	return &Store{
		byID:         make(map[string]*domain.RoutingCacheEntry),
		activeByHash: make(map[string]string),
	}
}

// Insert rejects a second active entry for the same query hash. An expired
// or deactivated predecessor is superseded in place.
func (s *Store) Insert(ctx context.Context, entry *domain.RoutingCacheEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.activeByHash[entry.QueryHash]; ok {
		existing := s.byID[existingID]
		if existing != nil && existing.Visible(now) {
			return domain.WrapError(domain.ErrDuplicateKey, "routing insert",
				fmt.Errorf("active entry %s for hash %s", existingID, entry.QueryHash))
		}
		if existing != nil {
			existing.IsActive = false
		}
	}

	stored := *entry
	s.byID[stored.ID] = &stored
	s.activeByHash[stored.QueryHash] = stored.ID
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (domain.RoutingCacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return domain.RoutingCacheEntry{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.byID[id]
	if !ok {
		return domain.RoutingCacheEntry{}, domain.WrapError(domain.ErrNotFound, "routing get", fmt.Errorf("entry %s", id))
	}
	return *entry, nil
}

// GetByHash returns the active, non-expired entry for a query hash. Expiry
// is evaluated here, lazily; the sweep is not required for correctness.
func (s *Store) GetByHash(ctx context.Context, queryHash string) (domain.RoutingCacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return domain.RoutingCacheEntry{}, err
	}
	now := time.Now().UTC()

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.activeByHash[queryHash]
	if !ok {
		return domain.RoutingCacheEntry{}, domain.WrapError(domain.ErrNotFound, "routing lookup", fmt.Errorf("hash %s", queryHash))
	}
	entry, ok := s.byID[id]
	if !ok || !entry.Visible(now) {
		return domain.RoutingCacheEntry{}, domain.WrapError(domain.ErrNotFound, "routing lookup", fmt.Errorf("hash %s", queryHash))
	}
	return *entry, nil
}

// NearestActive scans visible entries that carry an embedding and returns
// the closest by cosine similarity. Entries embedded with a different
// dimensionality are skipped rather than poisoning every future lookup.
func (s *Store) NearestActive(ctx context.Context, embedding []float32) (domain.RoutingCacheEntry, float64, error) {
	if err := ctx.Err(); err != nil {
		return domain.RoutingCacheEntry{}, 0, err
	}
	now := time.Now().UTC()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *domain.RoutingCacheEntry
	bestSim := math.Inf(-1)
	for _, entry := range s.byID {
		if !entry.Visible(now) || len(entry.QueryEmbedding) == 0 {
			continue
		}
		if len(entry.QueryEmbedding) != len(embedding) {
			continue
		}
		similarity := cosineSimilarity(embedding, entry.QueryEmbedding)
		if similarity > bestSim || (similarity == bestSim && best != nil && entry.ID < best.ID) {
			best = entry
			bestSim = similarity
		}
	}
	if best == nil {
		return domain.RoutingCacheEntry{}, 0, domain.WrapError(domain.ErrNotFound, "routing nearest", fmt.Errorf("no embedded entries"))
	}
	return *best, bestSim, nil
}

func (s *Store) RecordHit(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byID[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "routing record hit", fmt.Errorf("entry %s", id))
	}
	entry.HitCount++
	entry.LastUsedAt = time.Now().UTC()
	return nil
}

// ApplyFeedback updates quality counters under the write lock; concurrent
// feedback for the same entry serializes here, so no increment is lost.
// The rolling mean includes the rating only on successful outcomes.
func (s *Store) ApplyFeedback(ctx context.Context, id string, successful bool, rating int) (domain.RoutingCacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return domain.RoutingCacheEntry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byID[id]
	if !ok {
		return domain.RoutingCacheEntry{}, domain.WrapError(domain.ErrNotFound, "routing apply feedback", fmt.Errorf("entry %s", id))
	}

	if successful {
		entry.SuccessfulExecutions++
		entry.AverageRating = (entry.AverageRating*float64(entry.RatingCount) + float64(rating)) / float64(entry.RatingCount+1)
		entry.RatingCount++
	} else {
		entry.FailedExecutions++
	}
	return *entry, nil
}

// Deactivate is the explicit soft delete: the entry is hidden from lookup
// but retained for audit until the sweep reclaims it.
func (s *Store) Deactivate(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byID[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "routing deactivate", fmt.Errorf("entry %s", id))
	}
	entry.IsActive = false
	if s.activeByHash[entry.QueryHash] == id {
		delete(s.activeByHash, entry.QueryHash)
	}
	return nil
}

// ActiveIDs lists the entries currently visible to lookup, for
// reconciliation against archive-side state.
func (s *Store) ActiveIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.activeByHash))
	for _, entry := range s.byID {
		if entry.Visible(now) {
			ids = append(ids, entry.ID)
		}
	}
	return ids, nil
}

// Sweep reclaims expired entries and inactive entries unused since the
// cutoff. Candidates are collected under the read lock and deleted with
// short per-entry write sections so lookups are never blocked for long.
func (s *Store) Sweep(ctx context.Context, now, inactiveCutoff time.Time) (int, error) {
	s.mu.RLock()
	candidates := make([]string, 0)
	for id, entry := range s.byID {
		if entry.Expired(now) || (!entry.IsActive && entry.LastUsedAt.Before(inactiveCutoff)) {
			candidates = append(candidates, id)
		}
	}
	s.mu.RUnlock()

	removed := 0
	for _, id := range candidates {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		s.mu.Lock()
		entry, ok := s.byID[id]
		if ok && (entry.Expired(now) || (!entry.IsActive && entry.LastUsedAt.Before(inactiveCutoff))) {
			delete(s.byID, id)
			if s.activeByHash[entry.QueryHash] == id {
				delete(s.activeByHash, entry.QueryHash)
			}
			removed++
		}
		s.mu.Unlock()
	}
	return removed, nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
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
