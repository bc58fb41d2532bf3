package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/retrieval-core/internal/core/domain"
	"github.com/kirillkom/retrieval-core/internal/core/ports"
)

const DefaultSimilarityThreshold = 0.85

// NormalizeQuery lowercases and collapses whitespace so that trivially
// different spellings of the same query share an exact-match key.
func NormalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// HashQuery is the exact-match key of a normalized query.
func HashQuery(query string) string {
	sum := sha256.Sum256([]byte(NormalizeQuery(query)))
	return hex.EncodeToString(sum[:])
}

// RoutingUseCase is the decision cache. The in-memory store is
// authoritative for lookups; the archive, when present, is durable
// write-through persistence whose failures never affect lookup results.
type RoutingUseCase struct {
	store    ports.RoutingStore
	archive  ports.RoutingArchive
	embedder ports.Embedder

	ttl              time.Duration
	defaultThreshold float64

	stats *StatsRecorder
}

func NewRoutingUseCase(
	store ports.RoutingStore,
	archive ports.RoutingArchive,
	embedder ports.Embedder,
	ttl time.Duration,
	similarityThreshold float64,
	stats *StatsRecorder,
) *RoutingUseCase {
	if ttl <= 0 {
		ttl = domain.DefaultRoutingTTL
	}
	if similarityThreshold <= 0 {
		similarityThreshold = DefaultSimilarityThreshold
	}
	if stats == nil {
		stats = NewStatsRecorder()
	}
	return &RoutingUseCase{
		store:            store,
		archive:          archive,
		embedder:         embedder,
		ttl:              ttl,
		defaultThreshold: similarityThreshold,
		stats:            stats,
	}
}

// Lookup tries the exact-hash path first and falls back to semantic
// nearest-neighbor matching when an embedding is available. A miss is a
// normal outcome: (nil, nil).
func (uc *RoutingUseCase) Lookup(
	ctx context.Context,
	queryText string,
	embedding []float32,
	similarityThreshold float64,
) (*domain.RoutingLookupResult, error) {
	query := strings.TrimSpace(queryText)
	if query == "" {
		return nil, domain.WrapError(domain.ErrInvalidQuery, "route lookup", errors.New("empty query"))
	}
	if similarityThreshold <= 0 {
		similarityThreshold = uc.defaultThreshold
	}

	entry, err := uc.store.GetByHash(ctx, HashQuery(query))
	switch {
	case err == nil:
		uc.stats.recordCacheHit(true)
		return &domain.RoutingLookupResult{Entry: entry, IsExactMatch: true, Similarity: 1}, nil
	case !domain.IsKind(err, domain.ErrNotFound):
		return nil, fmt.Errorf("exact lookup: %w", err)
	}

	if len(embedding) == 0 && uc.embedder != nil {
		vector, embedErr := uc.embedder.EmbedQuery(ctx, query)
		if embedErr != nil {
			// The semantic path is best effort on top of the exact path.
			slog.Warn("route_lookup_embed_failed", "error", embedErr)
			uc.stats.recordCacheMiss()
			return nil, nil
		}
		embedding = vector
	}
	if len(embedding) == 0 {
		uc.stats.recordCacheMiss()
		return nil, nil
	}

	entry, similarity, err := uc.store.NearestActive(ctx, embedding)
	switch {
	case domain.IsKind(err, domain.ErrNotFound):
		uc.stats.recordCacheMiss()
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("semantic lookup: %w", err)
	case similarity < similarityThreshold:
		uc.stats.recordCacheMiss()
		return nil, nil
	}

	uc.stats.recordCacheHit(false)
	return &domain.RoutingLookupResult{Entry: entry, IsExactMatch: false, Similarity: similarity}, nil
}

// Put caches a freshly computed decision. An active entry with the same
// query hash is a conflict the caller must resolve by explicit supersede.
func (uc *RoutingUseCase) Put(ctx context.Context, entry domain.RoutingCacheEntry) (domain.RoutingCacheEntry, error) {
	entry.QueryText = strings.TrimSpace(entry.QueryText)
	if entry.QueryText == "" && entry.QueryHash == "" {
		return domain.RoutingCacheEntry{}, domain.WrapError(domain.ErrInvalidQuery, "route put", errors.New("empty query"))
	}
	if entry.Decision == "" {
		return domain.RoutingCacheEntry{}, domain.WrapError(domain.ErrInvalidQuery, "route put", errors.New("empty decision"))
	}
	if entry.Confidence < 0 || entry.Confidence > 1 {
		return domain.RoutingCacheEntry{}, domain.WrapError(domain.ErrInvalidQuery, "route put",
			fmt.Errorf("confidence %.3f outside [0,1]", entry.Confidence))
	}

	now := time.Now().UTC()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.QueryHash == "" {
		entry.QueryHash = HashQuery(entry.QueryText)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.ExpiresAt.IsZero() {
		entry.ExpiresAt = entry.CreatedAt.Add(uc.ttl)
	}
	if !entry.ExpiresAt.After(entry.CreatedAt) {
		// Callers may simulate elapsed TTL; the entry is stored but is
		// already invisible to lookup.
		entry.ExpiresAt = entry.CreatedAt.Add(time.Nanosecond)
	}
	entry.HitCount = 0
	entry.LastUsedAt = now
	entry.IsActive = true

	if err := uc.store.Insert(ctx, &entry); err != nil {
		return domain.RoutingCacheEntry{}, err
	}
	uc.archiveSave(ctx, entry)
	return entry, nil
}

// RecordHit is deliberately separate from Lookup: finding a match and the
// caller actually using it are different events. The archive write is a
// relative increment against the shared row; other processes record hits
// for the same entry.
func (uc *RoutingUseCase) RecordHit(ctx context.Context, id string) error {
	if err := uc.store.RecordHit(ctx, id); err != nil {
		return err
	}
	if uc.archive != nil {
		if err := uc.archive.RecordHit(ctx, id, time.Now().UTC()); err != nil {
			slog.Warn("routing_archive_hit_failed", "entry_id", id, "error", err)
		}
	}
	return nil
}

// Supersede deactivates the active entry for a query hash so a replacement
// decision can be cached.
func (uc *RoutingUseCase) Supersede(ctx context.Context, queryHash string) error {
	entry, err := uc.store.GetByHash(ctx, queryHash)
	if err != nil {
		return err
	}
	if err := uc.store.Deactivate(ctx, entry.ID); err != nil {
		return err
	}
	if uc.archive != nil {
		if err := uc.archive.SetActive(ctx, entry.ID, false); err != nil {
			slog.Warn("routing_archive_deactivate_failed", "entry_id", entry.ID, "error", err)
		}
	}
	return nil
}

func (uc *RoutingUseCase) Stats() ports.Stats {
	return uc.stats.Stats()
}

// WarmLoad restores active entries from the archive into the in-memory
// store at startup.
func (uc *RoutingUseCase) WarmLoad(ctx context.Context) (int, error) {
	_, loaded, err := uc.SyncArchive(ctx)
	return loaded, err
}

// SyncArchive reconciles the serving store with the archive. Feedback is
// applied wherever the entry happens to live, so a demotion decided in
// another process reaches this one here; entries the archive no longer
// lists as active stop being served, and archive entries missing locally
// become visible.
func (uc *RoutingUseCase) SyncArchive(ctx context.Context) (deactivated, loaded int, err error) {
	if uc.archive == nil {
		return 0, 0, nil
	}
	entries, err := uc.archive.LoadActive(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("load active entries: %w", err)
	}
	activeInArchive := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		activeInArchive[entry.ID] = struct{}{}
	}

	localIDs, err := uc.store.ActiveIDs(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list local entries: %w", err)
	}
	for _, id := range localIDs {
		if _, ok := activeInArchive[id]; ok {
			continue
		}
		if err := uc.store.Deactivate(ctx, id); err != nil {
			if domain.IsKind(err, domain.ErrNotFound) {
				continue
			}
			return deactivated, loaded, fmt.Errorf("deactivate entry %s: %w", id, err)
		}
		deactivated++
	}

	for _, entry := range entries {
		entry := entry
		if err := uc.store.Insert(ctx, &entry); err != nil {
			if domain.IsKind(err, domain.ErrDuplicateKey) {
				continue
			}
			return deactivated, loaded, fmt.Errorf("restore entry %s: %w", entry.ID, err)
		}
		loaded++
	}
	return deactivated, loaded, nil
}

// SyncLoop re-runs SyncArchive on a ticker so a long-running api process
// picks up worker-side demotions without a restart. No-op without an
// archive.
func (uc *RoutingUseCase) SyncLoop(ctx context.Context, interval time.Duration) {
	if uc.archive == nil {
		return
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deactivated, loaded, err := uc.SyncArchive(ctx)
			if err != nil {
				slog.Warn("routing_archive_sync_failed", "error", err)
				continue
			}
			if deactivated > 0 || loaded > 0 {
				slog.Info("routing_archive_synced", "deactivated", deactivated, "loaded", loaded)
			}
		}
	}
}

func (uc *RoutingUseCase) archiveSave(ctx context.Context, entry domain.RoutingCacheEntry) {
	if uc.archive == nil {
		return
	}
	if err := uc.archive.SaveEntry(ctx, entry); err != nil {
		slog.Warn("routing_archive_save_failed", "entry_id", entry.ID, "error", err)
	}
}
