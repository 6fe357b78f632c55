package main

import (
	"errors"
	"net/http"
	"testing"

	"github.com/nexus-rpc/sdk-go/nexus"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/musoukun/policyScope/internal/config"
	"github.com/musoukun/policyScope/internal/llm"
	"github.com/musoukun/policyScope/internal/prompts"
	"github.com/musoukun/policyScope/internal/secrets"
	"github.com/musoukun/policyScope/internal/store"
	"github.com/musoukun/policyScope/internal/store/memory"
	"github.com/musoukun/policyScope/internal/workflows"
)

type stubWorker struct {
	runErr     error
	startErr   error
	workflows  int
	activities int
}

func (s *stubWorker) RegisterWorkflow(w interface{}) { s.workflows++ }

func (s *stubWorker) RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions) {}

func (s *stubWorker) RegisterDynamicWorkflow(w interface{}, options workflow.DynamicRegisterOptions) {
}

func (s *stubWorker) RegisterActivity(a interface{}) { s.activities++ }

func (s *stubWorker) RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions) {}

func (s *stubWorker) RegisterDynamicActivity(a interface{}, options activity.DynamicRegisterOptions) {
}

func (s *stubWorker) RegisterNexusService(_ *nexus.Service) {}

func (s *stubWorker) Start() error {
	return s.startErr
}

func (s *stubWorker) Run(_ <-chan interface{}) error {
	return s.runErr
}

func (s *stubWorker) Stop() {}

func captureWorkerDeps() func() {
	origLoadConfig := loadConfig
	origNewLogger := newLogger
	origDialTemporal := dialTemporal
	origNewStore := newStore
	origLoadPrompts := loadPrompts
	origParseSecretsKey := parseSecretsKey
	origNewActivities := newActivities
	origNewWorker := newWorker
	origWorkerInterrupt := workerInterrupt
	origServeMetrics := serveMetrics

	return func() {
		loadConfig = origLoadConfig
		newLogger = origNewLogger
		dialTemporal = origDialTemporal
		newStore = origNewStore
		loadPrompts = origLoadPrompts
		parseSecretsKey = origParseSecretsKey
		newActivities = origNewActivities
		newWorker = origNewWorker
		workerInterrupt = origWorkerInterrupt
		serveMetrics = origServeMetrics
	}
}

func stubWorkerDeps(w *stubWorker) {
	newLogger = func(_ string, _ string) (*zap.Logger, error) {
		return zap.NewNop(), nil
	}
	dialTemporal = func(_ client.Options) (client.Client, error) {
		return nil, nil
	}
	newStore = func(_ config.Config) (store.Store, error) {
		return memory.New(), nil
	}
	newWorker = func(_ client.Client, _ string, _ worker.Options) worker.Worker {
		return w
	}
	workerInterrupt = func() <-chan interface{} {
		return make(chan interface{})
	}
	serveMetrics = func(_ string, _ http.Handler) error {
		return http.ErrServerClosed
	}
}

func TestRunSuccess(t *testing.T) {
	restore := captureWorkerDeps()
	t.Cleanup(restore)
	w := &stubWorker{}
	stubWorkerDeps(w)

	loadConfig = func() (config.Config, error) {
		return config.Config{
			StoreBackend:      "memory",
			TemporalAddress:   "localhost:7233",
			ServerURL:         "http://localhost:8080",
			LLMSecretsKey:     "0123456789abcdef0123456789abcdef",
			WorkerMetricsPort: "0",
		}, nil
	}
	var gotSealer *secrets.Sealer
	var gotServerURL string
	newActivities = func(_ store.Store, _ *prompts.Catalog, _ llm.Config, sealer *secrets.Sealer, serverURL string, _ ...workflows.ResearchActivitiesOption) *workflows.ResearchActivities {
		gotSealer = sealer
		gotServerURL = serverURL
		return &workflows.ResearchActivities{}
	}

	if err := run(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if gotSealer == nil {
		t.Fatal("expected a sealer built from LLM_SECRETS_KEY")
	}
	if gotServerURL != "http://localhost:8080" {
		t.Fatalf("unexpected server url %q", gotServerURL)
	}
	if w.workflows != 3 || w.activities != 1 {
		t.Fatalf("expected 3 workflows and 1 activity struct, got %d and %d", w.workflows, w.activities)
	}
}

func TestRunConfigLoadFailure(t *testing.T) {
	restore := captureWorkerDeps()
	t.Cleanup(restore)

	loadConfig = func() (config.Config, error) {
		return config.Config{}, errors.New("config load failed")
	}

	if err := run(); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRunTemporalClientFailure(t *testing.T) {
	restore := captureWorkerDeps()
	t.Cleanup(restore)
	stubWorkerDeps(&stubWorker{})

	loadConfig = func() (config.Config, error) {
		return config.Config{TemporalAddress: "localhost:7233"}, nil
	}
	dialTemporal = func(_ client.Options) (client.Client, error) {
		return nil, errors.New("temporal dial failed")
	}

	if err := run(); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRunPromptCatalogFailure(t *testing.T) {
	restore := captureWorkerDeps()
	t.Cleanup(restore)
	stubWorkerDeps(&stubWorker{})

	loadConfig = func() (config.Config, error) {
		return config.Config{StoreBackend: "memory", PromptsPath: "/does/not/exist.yaml"}, nil
	}

	if err := run(); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRunSecretsKeyParseFailure(t *testing.T) {
	restore := captureWorkerDeps()
	t.Cleanup(restore)
	stubWorkerDeps(&stubWorker{})

	loadConfig = func() (config.Config, error) {
		return config.Config{
			StoreBackend:    "memory",
			TemporalAddress: "localhost:7233",
			LLMSecretsKey:   "bad-key",
		}, nil
	}
	parseSecretsKey = func(_ string) ([]byte, error) {
		return nil, errors.New("parse failed")
	}

	if err := run(); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRunWorkerFailure(t *testing.T) {
	restore := captureWorkerDeps()
	t.Cleanup(restore)
	stubWorkerDeps(&stubWorker{runErr: errors.New("worker stopped")})

	loadConfig = func() (config.Config, error) {
		return config.Config{StoreBackend: "memory"}, nil
	}
	newActivities = func(_ store.Store, _ *prompts.Catalog, _ llm.Config, _ *secrets.Sealer, _ string, _ ...workflows.ResearchActivitiesOption) *workflows.ResearchActivities {
		return &workflows.ResearchActivities{}
	}

	if err := run(); err == nil {
		t.Fatal("expected error, got nil")
	}
}
