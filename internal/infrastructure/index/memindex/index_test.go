package memindex

import (
	"context"
	"testing"

	"github.com/kirillkom/retrieval-core/internal/core/domain"
)

func seedIndex(t *testing.T, chunks ...domain.ContentChunk) *Index {
	t.Helper()
	ix := New()
	for _, c := range chunks {
		if err := ix.Upsert(context.Background(), c); err != nil {
			t.Fatalf("upsert %s: %v", c.ID, err)
		}
	}
	return ix
}

func TestUpsertReplacesExistingChunk(t *testing.T) {
	ix := seedIndex(t,
		domain.ContentChunk{ID: "c1", Content: "goroutines and channels"},
	)
	if err := ix.Upsert(context.Background(), domain.ContentChunk{
		ID: "c1", Content: "error handling patterns",
	}); err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	if ix.Len() != 1 {
		t.Fatalf("expected 1 chunk, got %d", ix.Len())
	}

	hits, err := ix.SearchSparse(context.Background(), "goroutines", domain.SearchFilter{}, 10, 0)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("stale postings must be removed on upsert, got %d hits", len(hits))
	}

	hits, err = ix.SearchSparse(context.Background(), "error handling", domain.SearchFilter{}, 10, 0)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(hits) != 1 || hits[0].Chunk.ID != "c1" {
		t.Fatalf("replacement content must be searchable, got %+v", hits)
	}
}

func TestDeleteRemovesFromAllMethods(t *testing.T) {
	ix := seedIndex(t,
		domain.ContentChunk{ID: "c1", Content: "scheduling goroutines"},
	)
	if err := ix.Delete(context.Background(), "c1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := ix.Delete(context.Background(), "c1"); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("double delete must report not found, got %v", err)
	}

	if _, err := ix.Get(context.Background(), "c1"); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("deleted chunk must be gone, got %v", err)
	}
	exact, err := ix.SearchExact(context.Background(), "goroutines", domain.SearchFilter{}, 10)
	if err != nil {
		t.Fatalf("exact search failed: %v", err)
	}
	if len(exact) != 0 {
		t.Fatalf("deleted chunk still matched, got %d", len(exact))
	}
}

func TestSparseRanksRareTermsHigher(t *testing.T) {
	ix := seedIndex(t,
		domain.ContentChunk{ID: "common1", Content: "the service starts the server"},
		domain.ContentChunk{ID: "common2", Content: "the service stops the server"},
		domain.ContentChunk{ID: "rare", Content: "the service compacts the write ahead log"},
	)

	hits, err := ix.SearchSparse(context.Background(), "service compacts", domain.SearchFilter{}, 10, 0)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(hits) == 0 || hits[0].Chunk.ID != "rare" {
		t.Fatalf("rare term must dominate, got %+v", hits)
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[0].Score {
			t.Fatalf("ordering violated at %d", i)
		}
	}
}

func TestSparseIgnoresUnknownTermsAndEmptyQuery(t *testing.T) {
	ix := seedIndex(t,
		domain.ContentChunk{ID: "c1", Content: "mutex contention profile"},
	)

	hits, err := ix.SearchSparse(context.Background(), "zzz qqq", domain.SearchFilter{}, 10, 0)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("unknown terms must produce no hits, got %d", len(hits))
	}

	hits, err = ix.SearchSparse(context.Background(), "  !!  ", domain.SearchFilter{}, 10, 0)
	if err != nil || len(hits) != 0 {
		t.Fatalf("degenerate query must return nothing, got %v %v", hits, err)
	}
}

func TestFuzzyToleratesMisspelling(t *testing.T) {
	ix := seedIndex(t,
		domain.ContentChunk{ID: "target", Content: "kubernetes deployment rollout"},
		domain.ContentChunk{ID: "other", Content: "postgres connection pooling"},
	)

	hits, err := ix.SearchFuzzy(context.Background(), "kubernets deploymnet", domain.SearchFilter{}, 10, 0.2)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(hits) == 0 || hits[0].Chunk.ID != "target" {
		t.Fatalf("expected the near-match chunk first, got %+v", hits)
	}
	if hits[0].Score <= 0 || hits[0].Score > 1 {
		t.Fatalf("dice similarity out of range: %f", hits[0].Score)
	}
}

func TestFuzzyThresholdCutsWeakMatches(t *testing.T) {
	ix := seedIndex(t,
		domain.ContentChunk{ID: "c1", Content: "totally unrelated text"},
	)

	hits, err := ix.SearchFuzzy(context.Background(), "kubernetes", domain.SearchFilter{}, 10, 0.3)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("weak matches must be cut by the threshold, got %+v", hits)
	}
}

func TestExactIsCaseInsensitiveSubstring(t *testing.T) {
	ix := seedIndex(t,
		domain.ContentChunk{ID: "b", Content: "Use Context.WithTimeout for deadlines"},
		domain.ContentChunk{ID: "a", Content: "context cancellation propagates"},
		domain.ContentChunk{ID: "c", Content: "no relation"},
	)

	matches, err := ix.SearchExact(context.Background(), "CONTEXT", domain.SearchFilter{}, 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].ID != "a" || matches[1].ID != "b" {
		t.Fatalf("exact matches must be id-ordered, got %s then %s", matches[0].ID, matches[1].ID)
	}
}

func TestSearchHonorsNamespaceAndMetadataFilter(t *testing.T) {
	ix := seedIndex(t,
		domain.ContentChunk{ID: "go", Content: "handling worker panics", Namespace: "docs",
			Metadata: map[string]string{"lang": "go"}},
		domain.ContentChunk{ID: "py", Content: "handling worker panics", Namespace: "docs",
			Metadata: map[string]string{"lang": "python"}},
		domain.ContentChunk{ID: "blog", Content: "handling worker panics", Namespace: "blog"},
	)

	filter := domain.SearchFilter{Namespace: "docs", Metadata: map[string]string{"lang": "go"}}

	sparse, err := ix.SearchSparse(context.Background(), "worker panics", filter, 10, 0)
	if err != nil {
		t.Fatalf("sparse failed: %v", err)
	}
	if len(sparse) != 1 || sparse[0].Chunk.ID != "go" {
		t.Fatalf("sparse filter leaked: %+v", sparse)
	}

	exact, err := ix.SearchExact(context.Background(), "worker panics", filter, 10)
	if err != nil {
		t.Fatalf("exact failed: %v", err)
	}
	if len(exact) != 1 || exact[0].ID != "go" {
		t.Fatalf("exact filter leaked: %+v", exact)
	}

	fuzzy, err := ix.SearchFuzzy(context.Background(), "worker panics", filter, 10, 0.1)
	if err != nil {
		t.Fatalf("fuzzy failed: %v", err)
	}
	if len(fuzzy) != 1 || fuzzy[0].Chunk.ID != "go" {
		t.Fatalf("fuzzy filter leaked: %+v", fuzzy)
	}
}

func TestSearchLimit(t *testing.T) {
	ix := seedIndex(t,
		domain.ContentChunk{ID: "a", Content: "retry with backoff"},
		domain.ContentChunk{ID: "b", Content: "retry with jitter"},
		domain.ContentChunk{ID: "c", Content: "retry budget exhausted"},
	)

	hits, err := ix.SearchSparse(context.Background(), "retry", domain.SearchFilter{}, 2, 0)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("limit not applied, got %d", len(hits))
	}
}
