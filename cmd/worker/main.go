package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/musoukun/policyScope/internal/config"
	"github.com/musoukun/policyScope/internal/llm"
	"github.com/musoukun/policyScope/internal/logging"
	"github.com/musoukun/policyScope/internal/prompts"
	"github.com/musoukun/policyScope/internal/secrets"
	"github.com/musoukun/policyScope/internal/store"
	"github.com/musoukun/policyScope/internal/store/memory"
	"github.com/musoukun/policyScope/internal/store/postgres"
	"github.com/musoukun/policyScope/internal/workflows"
)

var (
	loadConfig = func() (config.Config, error) {
		return config.Load(), nil
	}
	newLogger    = logging.New
	dialTemporal = client.Dial
	newStore     = func(cfg config.Config) (store.Store, error) {
		if cfg.StoreBackend == "memory" {
			return memory.New(), nil
		}
		return postgres.New(cfg.PostgresURL)
	}
	loadPrompts     = prompts.Load
	parseSecretsKey = secrets.ParseKey
	newActivities   = func(st store.Store, catalog *prompts.Catalog, cfg llm.Config, sealer *secrets.Sealer, serverURL string, opts ...workflows.ResearchActivitiesOption) *workflows.ResearchActivities {
		return workflows.NewResearchActivities(st, catalog, cfg, sealer, serverURL, opts...)
	}
	newWorker       = worker.New
	workerInterrupt = worker.InterruptCh
	serveMetrics    = func(addr string, handler http.Handler) error {
		server := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
		return server.ListenAndServe()
	}
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	temporalClient, err := dialTemporal(client.Options{
		HostPort: cfg.TemporalAddress,
		Logger:   logging.NewTemporalLogger(logger),
	})
	if err != nil {
		logger.Error("failed to dial temporal", zap.String("address", cfg.TemporalAddress), zap.Error(err))
		return err
	}
	if temporalClient != nil {
		defer temporalClient.Close()
	}

	st, err := newStore(cfg)
	if err != nil {
		return err
	}

	catalog, err := loadPrompts(cfg.PromptsPath)
	if err != nil {
		return err
	}

	var sealer *secrets.Sealer
	if cfg.LLMSecretsKey != "" {
		key, err := parseSecretsKey(cfg.LLMSecretsKey)
		if err != nil {
			return err
		}
		sealer, err = secrets.NewSealer(key)
		if err != nil {
			return err
		}
	}

	activities := newActivities(st, catalog, cfg.LLM(), sealer, cfg.ServerURL,
		workflows.WithStageTimeout(cfg.StageTimeout),
		workflows.WithGrounding(cfg.LLMSearchGrounding),
		workflows.WithLogger(logger),
	)

	w := newWorker(temporalClient, cfg.TemporalTaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.ResearchWorkflow)
	w.RegisterWorkflow(workflows.ArtifactWorkflow)
	w.RegisterWorkflow(workflows.NewsWorkflow)
	w.RegisterActivity(activities)

	if cfg.WorkerMetricsPort != "" {
		addr := fmt.Sprintf(":%s", cfg.WorkerMetricsPort)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		serve := serveMetrics
		go func() {
			if err := serve(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server stopped", zap.String("addr", addr), zap.Error(err))
			}
		}()
	}

	logger.Info("policyScope worker started", zap.String("task_queue", cfg.TemporalTaskQueue))
	if err := w.Run(workerInterrupt()); err != nil {
		return err
	}

	return nil
}
