package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/retrieval-core/internal/core/domain"
	"github.com/kirillkom/retrieval-core/internal/core/ports"
)

// ChunkIngestUseCase is the thin adapter for the external ingestion
// pipeline that owns the corpus: it indexes a chunk lexically and keeps its
// embedding current. Updating a chunk regenerates both.
type ChunkIngestUseCase struct {
	index    ports.CorpusIndex
	vectors  ports.EmbeddingStore
	embedder ports.Embedder
	modelID  string
}

func NewChunkIngestUseCase(index ports.CorpusIndex, vectors ports.EmbeddingStore, embedder ports.Embedder, modelID string) *ChunkIngestUseCase {
	return &ChunkIngestUseCase{index: index, vectors: vectors, embedder: embedder, modelID: modelID}
}

// ContentHash addresses embeddings by normalized content so identical text
// deduplicates to a single record per model and namespace.
func ContentHash(content string) string {
	normalized := strings.Join(strings.Fields(content), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func (uc *ChunkIngestUseCase) UpsertChunk(ctx context.Context, chunk domain.ContentChunk) error {
	if chunk.ID == "" {
		return domain.WrapError(domain.ErrInvalidQuery, "upsert chunk", errors.New("empty chunk id"))
	}
	if strings.TrimSpace(chunk.Content) == "" {
		return domain.WrapError(domain.ErrInvalidQuery, "upsert chunk", errors.New("empty chunk content"))
	}

	if err := uc.index.Upsert(ctx, chunk); err != nil {
		return fmt.Errorf("index chunk: %w", err)
	}

	if uc.embedder == nil || uc.vectors == nil {
		return nil
	}
	vector, err := uc.embedder.EmbedQuery(ctx, chunk.Content)
	if err != nil {
		return fmt.Errorf("embed chunk: %w", err)
	}

	metadata := map[string]string{"chunk_id": chunk.ID}
	if ref := chunk.Metadata["source_ref"]; ref != "" {
		metadata["source_ref"] = ref
	}
	if _, err := uc.vectors.Put(ctx, ContentHash(chunk.Content), uc.modelID, chunk.Namespace, vector, metadata); err != nil {
		return fmt.Errorf("store embedding: %w", err)
	}
	return nil
}

func (uc *ChunkIngestUseCase) DeleteChunk(ctx context.Context, id string) error {
	chunk, err := uc.index.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := uc.index.Delete(ctx, id); err != nil {
		return err
	}
	if uc.vectors != nil {
		if err := uc.vectors.DeleteByHash(ctx, ContentHash(chunk.Content), uc.modelID, chunk.Namespace); err != nil && !domain.IsKind(err, domain.ErrNotFound) {
			return fmt.Errorf("delete embedding: %w", err)
		}
	}
	return nil
}
