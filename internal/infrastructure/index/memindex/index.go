// Package memindex is an in-memory lexical index over the shared content
// corpus. It serves the sparse, fuzzy and exact retrieval methods; the
// external ingestion pipeline keeps it current through Upsert and Delete.
package memindex

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kirillkom/retrieval-core/internal/core/domain"
	"github.com/kirillkom/retrieval-core/internal/core/ports"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

type indexedChunk struct {
	chunk    domain.ContentChunk
	lowered  string
	termFreq map[string]int
	length   int
	trigrams map[string]struct{}
}

type Index struct {
	mu       sync.RWMutex
	chunks   map[string]*indexedChunk
	postings map[string]map[string]int
	totalLen int
}

func New() *Index {
	return &Index{
		chunks:   make(map[string]*indexedChunk),
		postings: make(map[string]map[string]int),
	}
}

func (ix *Index) Upsert(ctx context.Context, chunk domain.ContentChunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tokens := tokenize(chunk.Content)
	termFreq := make(map[string]int, len(tokens))
	for _, token := range tokens {
		termFreq[token]++
	}

	entry := &indexedChunk{
		chunk:    chunk,
		lowered:  strings.ToLower(chunk.Content),
		termFreq: termFreq,
		length:   len(tokens),
		trigrams: trigramSet(chunk.Content),
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.removeLocked(chunk.ID)
	ix.chunks[chunk.ID] = entry
	ix.totalLen += entry.length
	for term, tf := range termFreq {
		posting, ok := ix.postings[term]
		if !ok {
			posting = make(map[string]int)
			ix.postings[term] = posting
		}
		posting[chunk.ID] = tf
	}
	return nil
}

func (ix *Index) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.chunks[id]; !ok {
		return domain.WrapError(domain.ErrNotFound, "index delete", fmt.Errorf("chunk %s", id))
	}
	ix.removeLocked(id)
	return nil
}

func (ix *Index) removeLocked(id string) {
	entry, ok := ix.chunks[id]
	if !ok {
		return
	}
	ix.totalLen -= entry.length
	for term := range entry.termFreq {
		posting := ix.postings[term]
		delete(posting, id)
		if len(posting) == 0 {
			delete(ix.postings, term)
		}
	}
	delete(ix.chunks, id)
}

func (ix *Index) Get(ctx context.Context, id string) (domain.ContentChunk, error) {
	if err := ctx.Err(); err != nil {
		return domain.ContentChunk{}, err
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	entry, ok := ix.chunks[id]
	if !ok {
		return domain.ContentChunk{}, domain.WrapError(domain.ErrNotFound, "index get", fmt.Errorf("chunk %s", id))
	}
	return entry.chunk, nil
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.chunks)
}

func matchesFilter(chunk domain.ContentChunk, filter domain.SearchFilter) bool {
	if filter.Namespace != "" && chunk.Namespace != filter.Namespace {
		return false
	}
	for key, want := range filter.Metadata {
		if chunk.Metadata[key] != want {
			return false
		}
	}
	return true
}

func sortAndTrim(hits []ports.LexicalHit, limit int) []ports.LexicalHit {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}
