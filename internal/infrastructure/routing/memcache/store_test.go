package memcache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/retrieval-core/internal/core/domain"
)

func activeEntry(id, hash string) domain.RoutingCacheEntry {
	now := time.Now().UTC()
	return domain.RoutingCacheEntry{
		ID:        id,
		QueryHash: hash,
		Decision:  "agent",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
		IsActive:  true,
	}
}

func TestInsertRejectsSecondActiveEntryForHash(t *testing.T) {
	store := New()
	ctx := context.Background()

	first := activeEntry("id-1", "hash-a")
	if err := store.Insert(ctx, &first); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	second := activeEntry("id-2", "hash-a")
	if err := store.Insert(ctx, &second); !domain.IsKind(err, domain.ErrDuplicateKey) {
		t.Fatalf("expected duplicate key, got %v", err)
	}
}

func TestInsertSupersedesExpiredPredecessor(t *testing.T) {
	store := New()
	ctx := context.Background()

	stale := activeEntry("id-1", "hash-a")
	stale.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	if err := store.Insert(ctx, &stale); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	fresh := activeEntry("id-2", "hash-a")
	if err := store.Insert(ctx, &fresh); err != nil {
		t.Fatalf("superseding insert failed: %v", err)
	}

	got, err := store.GetByHash(ctx, "hash-a")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if got.ID != "id-2" {
		t.Fatalf("expected fresh entry, got %s", got.ID)
	}

	// The predecessor is retained for audit but marked inactive.
	old, err := store.GetByID(ctx, "id-1")
	if err != nil {
		t.Fatalf("old entry must be retained: %v", err)
	}
	if old.IsActive {
		t.Fatalf("superseded entry must be inactive")
	}
}

func TestGetByHashEvaluatesExpiryLazily(t *testing.T) {
	store := New()
	ctx := context.Background()

	entry := activeEntry("id-1", "hash-a")
	entry.ExpiresAt = time.Now().UTC().Add(5 * time.Millisecond)
	if err := store.Insert(ctx, &entry); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	if _, err := store.GetByHash(ctx, "hash-a"); err != nil {
		t.Fatalf("entry should still be visible: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := store.GetByHash(ctx, "hash-a"); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expired entry must miss without any sweep, got %v", err)
	}
}

func TestNearestActiveSkipsInactiveAndMismatchedDimensions(t *testing.T) {
	store := New()
	ctx := context.Background()

	match := activeEntry("id-match", "hash-a")
	match.QueryEmbedding = []float32{1, 0}
	inactive := activeEntry("id-inactive", "hash-b")
	inactive.QueryEmbedding = []float32{1, 0}
	inactive.IsActive = false
	odd := activeEntry("id-odd", "hash-c")
	odd.QueryEmbedding = []float32{1, 0, 0}

	for _, e := range []*domain.RoutingCacheEntry{&match, &inactive, &odd} {
		if err := store.Insert(ctx, e); err != nil {
			t.Fatalf("insert %s failed: %v", e.ID, err)
		}
	}

	got, similarity, err := store.NearestActive(ctx, []float32{1, 0})
	if err != nil {
		t.Fatalf("nearest failed: %v", err)
	}
	if got.ID != "id-match" {
		t.Fatalf("expected id-match, got %s", got.ID)
	}
	if similarity != 1 {
		t.Fatalf("expected similarity 1, got %f", similarity)
	}
}

func TestConcurrentFeedbackLosesNoUpdates(t *testing.T) {
	store := New()
	ctx := context.Background()

	entry := activeEntry("id-1", "hash-a")
	if err := store.Insert(ctx, &entry); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	const writers = 50
	const perWriter = 20

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				successful := (w+i)%2 == 0
				if _, err := store.ApplyFeedback(ctx, "id-1", successful, 4); err != nil {
					t.Errorf("apply feedback: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	got, err := store.GetByID(ctx, "id-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	total := got.SuccessfulExecutions + got.FailedExecutions
	if total != writers*perWriter {
		t.Fatalf("lost updates: expected %d recorded outcomes, got %d", writers*perWriter, total)
	}
	if got.SuccessfulExecutions != writers*perWriter/2 {
		t.Fatalf("expected half successful, got %d", got.SuccessfulExecutions)
	}
	if got.AverageRating != 4 {
		t.Fatalf("uniform ratings must average exactly, got %f", got.AverageRating)
	}
}

func TestConcurrentHitsAndLookups(t *testing.T) {
	store := New()
	ctx := context.Background()

	const entries = 10
	for i := 0; i < entries; i++ {
		entry := activeEntry(fmt.Sprintf("id-%d", i), fmt.Sprintf("hash-%d", i))
		if err := store.Insert(ctx, &entry); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	const hitsPerEntry = 100
	var wg sync.WaitGroup
	for i := 0; i < entries; i++ {
		id := fmt.Sprintf("id-%d", i)
		hash := fmt.Sprintf("hash-%d", i)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for n := 0; n < hitsPerEntry; n++ {
				if err := store.RecordHit(ctx, id); err != nil {
					t.Errorf("record hit: %v", err)
					return
				}
			}
		}()
		go func() {
			defer wg.Done()
			for n := 0; n < hitsPerEntry; n++ {
				if _, err := store.GetByHash(ctx, hash); err != nil {
					t.Errorf("lookup: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	for i := 0; i < entries; i++ {
		got, err := store.GetByID(ctx, fmt.Sprintf("id-%d", i))
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got.HitCount != hitsPerEntry {
			t.Fatalf("entry %d: expected %d hits, got %d", i, hitsPerEntry, got.HitCount)
		}
	}
}

func TestSweepReclaimsExpiredAndLongInactive(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Now().UTC()

	expired := activeEntry("id-expired", "hash-a")
	expired.ExpiresAt = now.Add(-time.Minute)

	inactive := activeEntry("id-inactive", "hash-b")
	inactive.IsActive = false
	inactive.LastUsedAt = now.Add(-48 * time.Hour)

	recentInactive := activeEntry("id-recent", "hash-c")
	recentInactive.IsActive = false
	recentInactive.LastUsedAt = now.Add(-time.Hour)

	live := activeEntry("id-live", "hash-d")

	for _, e := range []*domain.RoutingCacheEntry{&expired, &inactive, &recentInactive, &live} {
		if err := store.Insert(ctx, e); err != nil {
			t.Fatalf("insert %s failed: %v", e.ID, err)
		}
	}

	removed, err := store.Sweep(ctx, now, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected the expired and long-inactive entries reclaimed, got %d", removed)
	}
	if store.Len() != 2 {
		t.Fatalf("expected 2 survivors, got %d", store.Len())
	}
	if _, err := store.GetByID(ctx, "id-live"); err != nil {
		t.Fatalf("live entry swept: %v", err)
	}
	if _, err := store.GetByID(ctx, "id-recent"); err != nil {
		t.Fatalf("recently used inactive entry swept: %v", err)
	}
}

func TestActiveIDsSkipsExpiredAndDeactivated(t *testing.T) {
	store := New()
	ctx := context.Background()

	live := activeEntry("id-live", "hash-a")
	if err := store.Insert(ctx, &live); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	expired := activeEntry("id-expired", "hash-b")
	expired.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	if err := store.Insert(ctx, &expired); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	demoted := activeEntry("id-demoted", "hash-c")
	if err := store.Insert(ctx, &demoted); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := store.Deactivate(ctx, "id-demoted"); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}

	ids, err := store.ActiveIDs(ctx)
	if err != nil {
		t.Fatalf("active ids: %v", err)
	}
	if len(ids) != 1 || ids[0] != "id-live" {
		t.Fatalf("expected only the live entry, got %v", ids)
	}
}
