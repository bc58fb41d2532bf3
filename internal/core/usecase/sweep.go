package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/retrieval-core/internal/core/ports"
)

// SweepUseCase is advisory housekeeping: it reclaims entries that lazy
// expiry already hides from lookup, plus embeddings nobody has touched in a
// long time. Lookup correctness never depends on it having run.
type SweepUseCase struct {
	store   ports.RoutingStore
	archive ports.RoutingArchive
	vectors ports.EmbeddingStore

	inactiveRetention time.Duration
	embeddingHorizon  time.Duration
}

func NewSweepUseCase(
	store ports.RoutingStore,
	archive ports.RoutingArchive,
	vectors ports.EmbeddingStore,
	inactiveRetention, embeddingHorizon time.Duration,
) *SweepUseCase {
	if inactiveRetention <= 0 {
		inactiveRetention = 30 * 24 * time.Hour
	}
	if embeddingHorizon <= 0 {
		embeddingHorizon = 90 * 24 * time.Hour
	}
	return &SweepUseCase{
		store:             store,
		archive:           archive,
		vectors:           vectors,
		inactiveRetention: inactiveRetention,
		embeddingHorizon:  embeddingHorizon,
	}
}

func (uc *SweepUseCase) Sweep(ctx context.Context, now time.Time) (ports.SweepReport, error) {
	var report ports.SweepReport

	inactiveCutoff := now.Add(-uc.inactiveRetention)
	reclaimed, err := uc.store.Sweep(ctx, now, inactiveCutoff)
	if err != nil {
		return report, fmt.Errorf("sweep routing store: %w", err)
	}
	report.RoutingReclaimed = reclaimed

	if uc.archive != nil {
		if _, err := uc.archive.DeleteExpired(ctx, now, inactiveCutoff); err != nil {
			slog.Warn("routing_archive_sweep_failed", "error", err)
		}
	}

	if uc.vectors != nil {
		stale, err := uc.vectors.SweepStale(ctx, now.Add(-uc.embeddingHorizon))
		if err != nil {
			return report, fmt.Errorf("sweep embedding store: %w", err)
		}
		report.EmbeddingReclaimed = stale
	}

	slog.Info("sweep_completed",
		"routing_reclaimed", report.RoutingReclaimed,
		"embeddings_reclaimed", report.EmbeddingReclaimed,
	)
	return report, nil
}

// Run executes Sweep on a ticker until the context is cancelled.
func (uc *SweepUseCase) Run(ctx context.Context, interval time.Duration, observe func(ports.SweepReport, error)) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := uc.Sweep(ctx, time.Now().UTC())
			if err != nil {
				slog.Error("sweep_failed", "error", err)
			}
			if observe != nil {
				observe(report, err)
			}
		}
	}
}
