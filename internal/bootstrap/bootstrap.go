package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/kirillkom/retrieval-core/internal/config"
	"github.com/kirillkom/retrieval-core/internal/core/ports"
	"github.com/kirillkom/retrieval-core/internal/core/usecase"
	"github.com/kirillkom/retrieval-core/internal/infrastructure/embedding/memstore"
	"github.com/kirillkom/retrieval-core/internal/infrastructure/embedding/ollama"
	"github.com/kirillkom/retrieval-core/internal/infrastructure/index/memindex"
	"github.com/kirillkom/retrieval-core/internal/infrastructure/queue/nats"
	"github.com/kirillkom/retrieval-core/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/retrieval-core/internal/infrastructure/resilience"
	"github.com/kirillkom/retrieval-core/internal/infrastructure/routing/memcache"
)

// App holds the wired object graph shared by the api and worker binaries.
// The in-memory stores are authoritative; postgres is write-through
// durability and is optional in memory persistence mode.
type App struct {
	Config config.Config

	Queue      ports.FeedbackQueue
	SearchUC   *usecase.SearchUseCase
	RoutingUC  *usecase.RoutingUseCase
	FeedbackUC *usecase.FeedbackUseCase
	IngestUC   *usecase.ChunkIngestUseCase
	SweepUC    *usecase.SweepUseCase

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	tuning, err := config.LoadFusionTuning(cfg.FusionConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load fusion tuning: %w", err)
	}

	var (
		db       *sql.DB
		archive  ports.RoutingArchive
		feedback ports.FeedbackStore
	)
	if cfg.PersistenceMode == "postgres" {
		db, err = postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		routingRepo := postgres.NewRoutingRepository(db)
		if err := routingRepo.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		archive = routingRepo
		feedback = postgres.NewFeedbackRepository(db)
	}

	var queue ports.FeedbackQueue
	if cfg.QueueEnabled {
		natsQueue, err := nats.New(cfg.NATSURL, cfg.NATSFeedbackSubject)
		if err != nil {
			if db != nil {
				db.Close()
			}
			return nil, fmt.Errorf("init feedback queue: %w", err)
		}
		queue = natsQueue
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())
	embedder := ollama.New(cfg.OllamaURL, cfg.OllamaEmbedModel).WithExecutor(executor)

	vectors := memstore.New()
	index := memindex.New()
	routingStore := memcache.New()

	stats := usecase.NewStatsRecorder()

	searchUC := usecase.NewSearchUseCase(embedder, vectors, index, embedder.ModelID(), tuning.Search, tuning.Fusion, stats)
	routingUC := usecase.NewRoutingUseCase(routingStore, archive, embedder, cfg.RoutingTTL, cfg.SimilarityThreshold, stats)
	feedbackUC := usecase.NewFeedbackUseCase(feedback, routingStore, archive)
	ingestUC := usecase.NewChunkIngestUseCase(index, vectors, embedder, embedder.ModelID())
	sweepUC := usecase.NewSweepUseCase(routingStore, archive, vectors, cfg.InactiveRetention, cfg.EmbeddingHorizon)

	if archive != nil {
		restored, err := routingUC.WarmLoad(ctx)
		if err != nil {
			slog.Warn("routing_warm_load_failed", "error", err)
		} else {
			slog.Info("routing_cache_restored", "entries", restored)
		}
	}

	return &App{
		Config: cfg,

		Queue:      queue,
		SearchUC:   searchUC,
		RoutingUC:  routingUC,
		FeedbackUC: feedbackUC,
		IngestUC:   ingestUC,
		SweepUC:    sweepUC,

		closeFn: func() {
			if queue != nil {
				queue.Close()
			}
			if db != nil {
				_ = db.Close()
			}
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
