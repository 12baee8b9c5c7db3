// Command orchestrator runs the SeqFlow job orchestration service: the
// HTTP/JSON surface, the status reconciler, and the webhook notifier in
// one process.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seqflow-labs/seqflow-go/internal/api"
	"github.com/seqflow-labs/seqflow-go/internal/engine"
	"github.com/seqflow-labs/seqflow-go/internal/notify"
	"github.com/seqflow-labs/seqflow-go/internal/observability"
	"github.com/seqflow-labs/seqflow-go/internal/pipelines"
	"github.com/seqflow-labs/seqflow-go/internal/platform/backoff"
	"github.com/seqflow-labs/seqflow-go/internal/platform/env"
	"github.com/seqflow-labs/seqflow-go/internal/platform/httpserver"
	"github.com/seqflow-labs/seqflow-go/internal/platform/objectstore"
	"github.com/seqflow-labs/seqflow-go/internal/platform/postgres"
	"github.com/seqflow-labs/seqflow-go/internal/reconcile"
	pgrepo "github.com/seqflow-labs/seqflow-go/internal/repo/postgres"
	"github.com/seqflow-labs/seqflow-go/internal/results"
	"github.com/seqflow-labs/seqflow-go/internal/service/jobs"
)

const serviceName = "seqflow-orchestrator"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", serviceName)
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("service exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("SEQFLOW_HTTP_ADDR", ":8080")
	catalogPath := env.String("SEQFLOW_PIPELINES_FILE", "pipelines.yaml")

	pollInterval, err := env.Duration("SEQFLOW_POLL_INTERVAL", 10*time.Second)
	if err != nil {
		return err
	}
	staleAfter, err := env.Duration("SEQFLOW_STALE_AFTER", 30*time.Minute)
	if err != nil {
		return err
	}
	failureLimit, err := env.Int("SEQFLOW_POLL_FAILURE_LIMIT", 5)
	if err != nil {
		return err
	}

	pgCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("database config: %w", err)
	}
	db, err := postgres.Open(ctx, pgCfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("object store config: %w", err)
	}
	minioClient, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		return fmt.Errorf("object store client: %w", err)
	}
	if err := objectstore.EnsureBucket(ctx, minioClient, storeCfg); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	store, err := objectstore.NewMinioStore(minioClient)
	if err != nil {
		return err
	}

	catalog, err := pipelines.LoadCatalog(catalogPath)
	if err != nil {
		return fmt.Errorf("load pipeline catalog: %w", err)
	}

	launcher, err := buildLauncher()
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	logger.Info("execution engine configured", "kind", launcher.Kind())

	metrics := observability.New()
	jobRepo := pgrepo.NewJobStore(db)
	subRepo := pgrepo.NewSubscriptionStore(db)

	notifier := notify.New(logger, subRepo, metrics, notify.Config{
		Retry: backoff.Policy{Base: time.Second, Multiplier: 2, Cap: time.Minute, MaxAttempts: 6, MaxElapsed: 10 * time.Minute},
	})
	defer notifier.Close()

	service, err := jobs.New(logger, jobRepo, subRepo, catalog, launcher, notifier, metrics, jobs.Config{
		DataBucket: storeCfg.BucketData,
	})
	if err != nil {
		return err
	}

	resolver, err := results.NewResolver(logger, store, results.Config{})
	if err != nil {
		return err
	}

	reconciler := reconcile.New(logger, jobRepo, launcher, service, metrics, reconcile.Config{
		PollInterval: pollInterval,
		FailureLimit: failureLimit,
		StaleAfter:   staleAfter,
	})
	reconcilerDone := make(chan struct{})
	go func() {
		defer close(reconcilerDone)
		reconciler.Run(ctx)
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("GET /readyz", httpserver.Readyz(serviceName,
		httpserver.ReadinessCheck{Name: "postgres", Check: db.PingContext},
		httpserver.ReadinessCheck{Name: "object_store", Check: func(ctx context.Context) error {
			return objectstore.CheckBucket(ctx, minioClient, storeCfg)
		}},
	))
	mux.Handle("GET /metrics", metrics.Handler())
	api.NewHandler(logger, service, catalog, resolver, reconciler).Register(mux)

	err = httpserver.Run(ctx, logger, httpserver.Config{
		Service: serviceName,
		Addr:    addr,
	}, httpserver.Wrap(logger, serviceName, mux))

	<-reconcilerDone
	return err
}

// buildLauncher selects the execution backend: a remote batch scheduler in
// deployments, a local nextflow process for development.
func buildLauncher() (engine.Launcher, error) {
	switch kind := env.String("SEQFLOW_ENGINE", "batch"); kind {
	case "batch":
		cfg, err := engine.BatchConfigFromEnv()
		if err != nil {
			return nil, err
		}
		client, err := engine.NewBatchClient(cfg)
		if err != nil {
			return nil, err
		}
		return engine.NewBatchExecutor(client, cfg)
	case "local":
		bin := env.String("SEQFLOW_NEXTFLOW_BIN", "nextflow")
		runsDir := env.String("SEQFLOW_RUNS_DIR", "/var/lib/seqflow/runs")
		return engine.NewLocalExecutor(bin, runsDir)
	default:
		return nil, fmt.Errorf("unknown engine kind %q", kind)
	}
}
