package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/retrieval-core/internal/core/domain"
	"github.com/kirillkom/retrieval-core/internal/core/ports"
)

const (
	// demotionMinExecutions is the sample floor before the failure ratio is
	// trusted enough to demote an entry.
	demotionMinExecutions = 10
	demotionFailureRatio  = 0.5
)

// FeedbackUseCase persists feedback records and applies their one-time
// effect to the linked routing-cache entry. The cache update is an explicit
// call after the record is persisted, so ordering and failure semantics stay
// visible.
type FeedbackUseCase struct {
	feedback ports.FeedbackStore
	store    ports.RoutingStore
	archive  ports.RoutingArchive
}

func NewFeedbackUseCase(feedback ports.FeedbackStore, store ports.RoutingStore, archive ports.RoutingArchive) *FeedbackUseCase {
	return &FeedbackUseCase{feedback: feedback, store: store, archive: archive}
}

func (uc *FeedbackUseCase) Record(ctx context.Context, fb domain.FeedbackRecord) (domain.FeedbackRecord, error) {
	if fb.Rating < 1 || fb.Rating > 5 {
		return domain.FeedbackRecord{}, domain.WrapError(domain.ErrInvalidQuery, "record feedback",
			fmt.Errorf("rating %d outside [1,5]", fb.Rating))
	}
	if fb.SelectedDecision == "" {
		return domain.FeedbackRecord{}, domain.WrapError(domain.ErrInvalidQuery, "record feedback",
			errors.New("empty selected decision"))
	}
	if fb.ID == "" {
		fb.ID = uuid.NewString()
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}

	if uc.feedback != nil {
		if err := uc.feedback.Save(ctx, fb); err != nil {
			return domain.FeedbackRecord{}, fmt.Errorf("save feedback: %w", err)
		}
	}

	if fb.RoutingCacheID == "" {
		return fb, nil
	}

	// Counters are applied to the local store when the entry lives here and
	// to the archive as a relative increment. The archive row merges updates
	// from every process, so when the entry was cached by another process
	// (the api, after this worker started) the quality signal still lands.
	entry, err := uc.store.ApplyFeedback(ctx, fb.RoutingCacheID, fb.Successful(), fb.Rating)
	if err != nil && !domain.IsKind(err, domain.ErrNotFound) {
		return domain.FeedbackRecord{}, fmt.Errorf("apply feedback: %w", err)
	}
	localMiss := err != nil

	if uc.archive != nil {
		archived, archiveErr := uc.archive.ApplyFeedback(ctx, fb.RoutingCacheID, fb.Successful(), fb.Rating)
		switch {
		case archiveErr == nil:
			// The merged counters decide demotion.
			uc.maybeDemote(ctx, archived)
			return fb, nil
		case domain.IsKind(archiveErr, domain.ErrNotFound):
		case localMiss:
			// Applied nowhere; surface the error so the queue redelivers.
			return domain.FeedbackRecord{}, fmt.Errorf("apply feedback via archive: %w", archiveErr)
		default:
			slog.Warn("routing_archive_update_failed", "entry_id", fb.RoutingCacheID, "error", archiveErr)
		}
	}

	if localMiss {
		// Weak reference: the feedback record stands on its own.
		slog.Info("feedback_entry_missing", "routing_cache_id", fb.RoutingCacheID)
		return fb, nil
	}

	uc.maybeDemote(ctx, entry)
	return fb, nil
}

// maybeDemote deactivates an entry whose recorded outcomes are mostly
// failures, flagging it for review instead of silently serving it again.
func (uc *FeedbackUseCase) maybeDemote(ctx context.Context, entry domain.RoutingCacheEntry) {
	total := entry.SuccessfulExecutions + entry.FailedExecutions
	if total < demotionMinExecutions {
		return
	}
	ratio := float64(entry.FailedExecutions) / float64(total)
	if ratio < demotionFailureRatio {
		return
	}

	if err := uc.store.Deactivate(ctx, entry.ID); err != nil && !domain.IsKind(err, domain.ErrNotFound) {
		slog.Warn("routing_demote_failed", "entry_id", entry.ID, "error", err)
		return
	}
	slog.Warn("routing_entry_demoted",
		"entry_id", entry.ID,
		"query_hash", entry.QueryHash,
		"failed", entry.FailedExecutions,
		"successful", entry.SuccessfulExecutions,
	)
	if uc.archive != nil {
		if err := uc.archive.SetActive(ctx, entry.ID, false); err != nil {
			slog.Warn("routing_archive_deactivate_failed", "entry_id", entry.ID, "error", err)
		}
	}
}
