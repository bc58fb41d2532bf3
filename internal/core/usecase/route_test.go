package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/kirillkom/retrieval-core/internal/core/domain"
	"github.com/kirillkom/retrieval-core/internal/infrastructure/routing/memcache"
)

func newTestRoutingUC(embedder *fakeEmbedder) (*RoutingUseCase, *memcache.Store) {
	store := memcache.New()
	var uc *RoutingUseCase
	if embedder != nil {
		uc = NewRoutingUseCase(store, nil, embedder, 0, 0, NewStatsRecorder())
	} else {
		uc = NewRoutingUseCase(store, nil, nil, 0, 0, NewStatsRecorder())
	}
	return uc, store
}

func TestNormalizeQueryCollapsesCaseAndWhitespace(t *testing.T) {
	a := NormalizeQuery("  How   do I  Reverse a LIST? ")
	b := NormalizeQuery("how do i reverse a list?")
	if a != b {
		t.Fatalf("normalization mismatch: %q vs %q", a, b)
	}
	if HashQuery("  How   do I  Reverse a LIST? ") != HashQuery("how do i reverse a list?") {
		t.Fatalf("normalized variants must share a hash")
	}
}

func TestPutThenExactLookup(t *testing.T) {
	uc, _ := newTestRoutingUC(nil)
	ctx := context.Background()

	stored, err := uc.Put(ctx, domain.RoutingCacheEntry{
		QueryText:  "deploy the api service",
		Decision:   "ops-agent",
		Confidence: 0.92,
	})
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if stored.ID == "" || stored.QueryHash == "" {
		t.Fatalf("put must assign id and hash, got %+v", stored)
	}
	if !stored.IsActive || stored.HitCount != 0 {
		t.Fatalf("fresh entry must be active with zero hits, got %+v", stored)
	}

	result, err := uc.Lookup(ctx, "  Deploy THE api   service ", nil, 0)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if result == nil || !result.IsExactMatch {
		t.Fatalf("expected exact hit, got %+v", result)
	}
	if result.Entry.ID != stored.ID {
		t.Fatalf("expected entry %s, got %s", stored.ID, result.Entry.ID)
	}
	if result.Entry.HitCount != 0 {
		t.Fatalf("lookup must not bump hit count, got %d", result.Entry.HitCount)
	}
}

func TestLookupMissIsNotAnError(t *testing.T) {
	uc, _ := newTestRoutingUC(nil)

	result, err := uc.Lookup(context.Background(), "never cached", nil, 0)
	if err != nil {
		t.Fatalf("miss must not error: %v", err)
	}
	if result != nil {
		t.Fatalf("expected nil result on miss, got %+v", result)
	}
}

func TestLookupExpiredEntryMisses(t *testing.T) {
	uc, _ := newTestRoutingUC(nil)
	ctx := context.Background()

	created := time.Now().UTC().Add(-time.Hour)
	_, err := uc.Put(ctx, domain.RoutingCacheEntry{
		QueryText:  "stale decision",
		Decision:   "old-agent",
		Confidence: 0.5,
		CreatedAt:  created,
		ExpiresAt:  created.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}

	result, err := uc.Lookup(ctx, "stale decision", nil, 0)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if result != nil {
		t.Fatalf("expired entry must be invisible, got %+v", result)
	}
}

func TestLookupExactPrecedesSemantic(t *testing.T) {
	embedder := &fakeEmbedder{vector: []float32{1, 0}}
	uc, _ := newTestRoutingUC(embedder)
	ctx := context.Background()

	if _, err := uc.Put(ctx, domain.RoutingCacheEntry{
		QueryText:      "scale the worker pool",
		QueryEmbedding: []float32{1, 0},
		Decision:       "ops-agent",
		Confidence:     0.9,
	}); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	result, err := uc.Lookup(ctx, "scale the worker pool", nil, 0)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if result == nil || !result.IsExactMatch {
		t.Fatalf("expected the exact path to win, got %+v", result)
	}
	if embedder.calls != 0 {
		t.Fatalf("exact hit must not embed, got %d embedder calls", embedder.calls)
	}
}

func TestLookupSemanticFallback(t *testing.T) {
	embedder := &fakeEmbedder{vector: []float32{0.99, 0.1}}
	uc, _ := newTestRoutingUC(embedder)
	ctx := context.Background()

	stored, err := uc.Put(ctx, domain.RoutingCacheEntry{
		QueryText:      "restart the ingestion pipeline",
		QueryEmbedding: []float32{1, 0},
		Decision:       "ops-agent",
		Confidence:     0.9,
	})
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}

	result, err := uc.Lookup(ctx, "kick the ingest pipeline again", nil, 0.8)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if result == nil || result.IsExactMatch {
		t.Fatalf("expected semantic hit, got %+v", result)
	}
	if result.Entry.ID != stored.ID {
		t.Fatalf("expected entry %s, got %s", stored.ID, result.Entry.ID)
	}
	if result.Similarity < 0.8 {
		t.Fatalf("similarity %f below requested threshold", result.Similarity)
	}

	// Same query with a stricter threshold misses.
	strict, err := uc.Lookup(ctx, "kick the ingest pipeline again", nil, 0.9999)
	if err != nil {
		t.Fatalf("strict lookup failed: %v", err)
	}
	if strict != nil {
		t.Fatalf("expected miss under strict threshold, got %+v", strict)
	}
}

func TestRecordHitIncrements(t *testing.T) {
	uc, store := newTestRoutingUC(nil)
	ctx := context.Background()

	stored, err := uc.Put(ctx, domain.RoutingCacheEntry{
		QueryText: "hit counting", Decision: "agent", Confidence: 1,
	})
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := uc.RecordHit(ctx, stored.ID); err != nil {
			t.Fatalf("record hit failed: %v", err)
		}
	}
	entry, err := store.GetByID(ctx, stored.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if entry.HitCount != 3 {
		t.Fatalf("expected 3 hits, got %d", entry.HitCount)
	}
}

func TestPutDuplicateActiveHashConflicts(t *testing.T) {
	uc, _ := newTestRoutingUC(nil)
	ctx := context.Background()

	entry := domain.RoutingCacheEntry{QueryText: "same question", Decision: "agent-a", Confidence: 0.8}
	if _, err := uc.Put(ctx, entry); err != nil {
		t.Fatalf("first put failed: %v", err)
	}

	entry.Decision = "agent-b"
	if _, err := uc.Put(ctx, entry); !domain.IsKind(err, domain.ErrDuplicateKey) {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
}

func TestSupersedeAllowsReplacement(t *testing.T) {
	uc, _ := newTestRoutingUC(nil)
	ctx := context.Background()

	first, err := uc.Put(ctx, domain.RoutingCacheEntry{
		QueryText: "replace me", Decision: "agent-a", Confidence: 0.8,
	})
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := uc.Supersede(ctx, first.QueryHash); err != nil {
		t.Fatalf("supersede failed: %v", err)
	}

	second, err := uc.Put(ctx, domain.RoutingCacheEntry{
		QueryText: "replace me", Decision: "agent-b", Confidence: 0.9,
	})
	if err != nil {
		t.Fatalf("replacement put failed: %v", err)
	}

	result, err := uc.Lookup(ctx, "replace me", nil, 0)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if result == nil || result.Entry.ID != second.ID || result.Entry.Decision != "agent-b" {
		t.Fatalf("expected replacement entry, got %+v", result)
	}
}

func TestPutValidation(t *testing.T) {
	uc, _ := newTestRoutingUC(nil)
	ctx := context.Background()

	cases := []domain.RoutingCacheEntry{
		{Decision: "agent", Confidence: 0.5},                           // no query
		{QueryText: "q", Confidence: 0.5},                              // no decision
		{QueryText: "q", Decision: "agent", Confidence: 1.5},           // confidence out of range
		{QueryText: "q", Decision: "agent", Confidence: -0.1},          // negative confidence
	}
	for i, entry := range cases {
		if _, err := uc.Put(ctx, entry); !domain.IsKind(err, domain.ErrInvalidQuery) {
			t.Fatalf("case %d: expected invalid query error, got %v", i, err)
		}
	}
}
