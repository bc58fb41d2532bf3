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

	httpadapter "github.com/kirillkom/retrieval-core/internal/adapters/http"
	"github.com/kirillkom/retrieval-core/internal/bootstrap"
	"github.com/kirillkom/retrieval-core/internal/config"
	"github.com/kirillkom/retrieval-core/internal/observability/logging"
	"github.com/kirillkom/retrieval-core/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("api", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	// Demotions decided by the worker land in the archive; this loop folds
	// them back into the serving store.
	go app.RoutingUC.SyncLoop(ctx, cfg.ArchiveSyncInterval)

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	app.SearchUC.WithMethodDegradedObserver(func(method, reason string) {
		httpMetrics.ObserveMethodDegraded("api", method, reason)
	})
	router := httpadapter.NewRouter(
		app.SearchUC,
		app.RoutingUC,
		app.FeedbackUC,
		app.IngestUC,
		app.SearchUC,
		app.Queue,
		httpMetrics,
		cfg,
	).Handler()

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("api_shutdown_error", "error", err)
	}
}
