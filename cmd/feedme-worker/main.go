// Command feedme-worker runs the scheduled ingestion pipeline. One binary
// serves every mode; the scheduler container and the worker container differ
// only in the --mode flag.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/feedmehq/feedme-worker/internal/adapter/embedder/openai"
	"github.com/feedmehq/feedme-worker/internal/adapter/observability"
	"github.com/feedmehq/feedme-worker/internal/adapter/repo/postgres"
	"github.com/feedmehq/feedme-worker/internal/adapter/scraper/apify"
	"github.com/feedmehq/feedme-worker/internal/adapter/sheets"
	"github.com/feedmehq/feedme-worker/internal/config"
	"github.com/feedmehq/feedme-worker/internal/usecase"
)

func main() {
	mode := flag.String("mode", "", "required: schedule, worker, embeddings, alerts, aggregates, retention or repair_velocity")
	runType := flag.String("run_type", "daily", "daily or weekly")
	subscriberID := flag.Int64("subscriber_id", 0, "limit the run to one subscriber (0 = all)")
	flag.Parse()
	if !validMode(*mode) {
		fmt.Fprintf(os.Stderr, "feedme-worker: unknown or missing --mode %q\n", *mode)
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.RegisterMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := postgres.NewSchemaInitializer(pool, cfg.SpreadsheetID).Init(ctx); err != nil {
		slog.Error("schema init failed", slog.Any("error", err))
		os.Exit(1)
	}

	// Repositories
	dir := postgres.NewDirectoryRepo(pool)
	handleQueue := postgres.NewHandleQueueRepo(pool)
	postQueue := postgres.NewPostQueueRepo(pool)
	health := postgres.NewHealthRepo(pool)
	snapshots := postgres.NewSnapshotRepo(pool)
	signals := postgres.NewSignalRepo(pool)
	metrics := postgres.NewMetricRepo(pool)
	posts := postgres.NewPostRepo(pool)
	runLog := postgres.NewRunLogRepo(pool)
	embeddings := postgres.NewEmbeddingRepo(pool)
	alerts := postgres.NewAlertRepo(pool)
	aggregates := postgres.NewAggregateRepo(pool)
	retention := postgres.NewRetentionRepo(pool)

	// External adapters
	scraper := apify.New(cfg)
	sheetClient, err := sheets.New(ctx, cfg)
	if err != nil {
		slog.Error("sheets client init failed", slog.Any("error", err))
		os.Exit(1)
	}
	sanitize := func(m string) string { return apify.SanitizeMessage(m, cfg.ApifyToken) }

	syncSvc := usecase.NewSyncService(cfg, scraper, sheetClient, snapshots, signals, metrics, posts, postQueue, dir, logger)

	go serveMetrics(cfg.MetricsAddr)

	switch *mode {
	case "schedule":
		scheduleSvc := usecase.NewScheduleService(cfg, dir, sheetClient, handleQueue, scraper, logger)
		err = scheduleSvc.Run(ctx, *runType)
	case "worker":
		workerSvc := usecase.WorkerService{
			Cfg:      cfg,
			Sync:     syncSvc,
			Handles:  handleQueue,
			PostJobs: postQueue,
			Health:   health,
			Signals:  signals,
			Metrics:  metrics,
			Dir:      dir,
			RunLog:   runLog,
			Sanitize: sanitize,
			Log:      logger.With(slog.String("worker_id", uuid.NewString())),
		}
		err = workerSvc.Run(ctx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	case "embeddings":
		embedSvc := usecase.NewEmbedService(cfg, dir, signals, embeddings, openai.New(cfg), sanitize, logger)
		err = embedSvc.Run(ctx, optionalID(*subscriberID))
	case "alerts":
		// Aggregates feed the pattern rules, so they rebuild first.
		aggSvc := usecase.NewAggregateService(dir, aggregates, logger)
		if err = aggSvc.Run(ctx, optionalID(*subscriberID)); err == nil {
			alertSvc := usecase.NewAlertService(dir, alerts, logger)
			err = alertSvc.Run(ctx, optionalID(*subscriberID), 3)
		}
	case "aggregates":
		aggSvc := usecase.NewAggregateService(dir, aggregates, logger)
		err = aggSvc.Run(ctx, optionalID(*subscriberID))
	case "retention":
		retSvc := usecase.NewRetentionService(retention, logger)
		err = retSvc.Run(ctx)
	case "repair_velocity":
		repairSvc := usecase.NewRepairService(cfg, dir, signals, sheetClient, logger)
		err = repairSvc.Run(ctx, optionalID(*subscriberID))
	}
	if err != nil {
		slog.Error("run failed", slog.String("mode", *mode), slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("run finished", slog.String("mode", *mode))
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Warn("metrics server stopped", slog.Any("error", err))
	}
}

// validMode reports whether the --mode value names a runnable mode.
// The flag has no default; a bare invocation is an argument error.
func validMode(mode string) bool {
	switch mode {
	case "schedule", "worker", "embeddings", "alerts", "aggregates", "retention", "repair_velocity":
		return true
	}
	return false
}

func optionalID(v int64) *int64 {
	if v <= 0 {
		return nil
	}
	return &v
}
