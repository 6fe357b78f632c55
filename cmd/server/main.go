package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/musoukun/policyScope/internal/api"
	"github.com/musoukun/policyScope/internal/config"
	"github.com/musoukun/policyScope/internal/events"
	"github.com/musoukun/policyScope/internal/limits"
	"github.com/musoukun/policyScope/internal/logging"
	"github.com/musoukun/policyScope/internal/parties"
	"github.com/musoukun/policyScope/internal/store"
	"github.com/musoukun/policyScope/internal/store/memory"
	"github.com/musoukun/policyScope/internal/store/postgres"
	"github.com/musoukun/policyScope/internal/workflows"
)

type server interface {
	Start(ctx context.Context, addr string) error
}

var (
	loadConfig = func() (config.Config, error) {
		return config.Load(), nil
	}
	newLogger = logging.New
	newBroker = func() *events.Broker {
		return events.NewBroker()
	}
	newStore = func(cfg config.Config) (store.Store, error) {
		if cfg.StoreBackend == "memory" {
			return memory.New(), nil
		}
		return postgres.New(cfg.PostgresURL)
	}
	ensureBuiltins = parties.EnsureBuiltins
	newBudget      = func(cfg config.Config) (limits.Budget, error) {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			return limits.NewMemoryBudget(cfg.Limits(), nil), nil
		}
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		return limits.NewRedisBudget(redis.NewClient(opts), cfg.Limits()), nil
	}
	dialTemporal       = client.Dial
	newWorkflowService = workflows.NewService
	newServer          = func(st store.Store, broker *events.Broker, workflows *workflows.Service, cfg config.Config, opts ...api.ServerOption) server {
		return api.NewServer(st, broker, workflows, cfg, opts...)
	}
	notifyContext = signal.NotifyContext
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

	ctx, cancel := notifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	broker := newBroker()
	st, err := newStore(cfg)
	if err != nil {
		logger.Error("failed to open store", zap.String("backend", cfg.StoreBackend), zap.Error(err))
		return err
	}
	if st != nil {
		if err := ensureBuiltins(ctx, st); err != nil {
			logger.Warn("failed to seed built-in parties", zap.Error(err))
		}
	}

	budget, err := newBudget(cfg)
	if err != nil {
		return err
	}

	workflowClient, err := dialTemporal(client.Options{
		HostPort: cfg.TemporalAddress,
		Logger:   logging.NewTemporalLogger(logger),
	})
	if err != nil {
		logger.Error("failed to dial temporal", zap.String("address", cfg.TemporalAddress), zap.Error(err))
		return err
	}
	if workflowClient != nil {
		defer workflowClient.Close()
	}
	workflowService := newWorkflowService(workflowClient, cfg.TemporalTaskQueue)

	server := newServer(st, broker, workflowService, cfg, api.WithLogger(logger), api.WithBudget(budget))

	addr := fmt.Sprintf(":%s", cfg.ServerPort)
	logger.Info("policyScope server listening", zap.String("addr", addr), zap.String("store", cfg.StoreBackend))
	if err := server.Start(ctx, addr); err != nil {
		return err
	}

	return nil
}
