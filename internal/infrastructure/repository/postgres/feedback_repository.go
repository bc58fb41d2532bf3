package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kirillkom/retrieval-core/internal/core/domain"
)

// FeedbackRepository persists immutable feedback records. Records are
// append-only; their effect on cache counters happens in the core, not via
// database triggers.
type FeedbackRepository struct {
	db *sql.DB
}

func NewFeedbackRepository(db *sql.DB) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

func (r *FeedbackRepository) Save(ctx context.Context, fb domain.FeedbackRecord) error {
	var cacheID sql.NullString
	if fb.RoutingCacheID != "" {
		cacheID = sql.NullString{String: fb.RoutingCacheID, Valid: true}
	}
	var wasCorrect sql.NullBool
	if fb.WasCorrect != nil {
		wasCorrect = sql.NullBool{Bool: *fb.WasCorrect, Valid: true}
	}

	// The queue delivers at least once; a redelivered record is a no-op.
	_, err := r.db.ExecContext(ctx, `
INSERT INTO routing_feedback (
	id, routing_cache_id, query_text, selected_decision, rating, was_correct, preferred_alternative, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO NOTHING
`,
		fb.ID, cacheID, fb.QueryText, fb.SelectedDecision, fb.Rating, wasCorrect,
		fb.PreferredAlternative, fb.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}
