package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/retrieval-core/internal/bootstrap"
	"github.com/kirillkom/retrieval-core/internal/config"
	"github.com/kirillkom/retrieval-core/internal/core/domain"
	"github.com/kirillkom/retrieval-core/internal/core/ports"
	"github.com/kirillkom/retrieval-core/internal/observability/logging"
	"github.com/kirillkom/retrieval-core/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("worker", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	go serveMetrics(ctx, cfg.WorkerMetricsPort, workerMetrics)

	go app.SweepUC.Run(ctx, cfg.SweepInterval, func(report ports.SweepReport, err error) {
		workerMetrics.ObserveSweep("worker", report.RoutingReclaimed, report.EmbeddingReclaimed, err)
	})

	if app.Queue == nil {
		slog.Info("feedback_queue_disabled")
		<-ctx.Done()
		return
	}

	slog.Info("worker_subscribed", "subject", cfg.NATSFeedbackSubject)
	err = app.Queue.SubscribeFeedback(ctx, func(handlerCtx context.Context, fb domain.FeedbackRecord) error {
		recordCtx, cancel := context.WithTimeout(handlerCtx, 30*time.Second)
		defer cancel()

		start := time.Now()
		_, err := app.FeedbackUC.Record(recordCtx, fb)
		workerMetrics.ObserveFeedback("worker", time.Since(start), err)
		return err
	})
	if err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}
}

func serveMetrics(ctx context.Context, port string, m *metrics.WorkerMetrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{Addr: ":" + port, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("worker_metrics_server_error", "error", err)
	}
}
