package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/musoukun/policyScope/internal/config"
	"github.com/musoukun/policyScope/internal/events"
	"github.com/musoukun/policyScope/internal/limits"
	"github.com/musoukun/policyScope/internal/logging"
	"github.com/musoukun/policyScope/internal/secrets"
	"github.com/musoukun/policyScope/internal/store"
	"github.com/musoukun/policyScope/internal/workflows"
)

const eventSource = "server"

type Server struct {
	store     store.Store
	broker    Broker
	workflows WorkflowService
	budget    limits.Budget
	sealer    *secrets.Sealer
	cfg       config.Config
	logger    *zap.Logger
	heartbeat time.Duration
}

type Broker interface {
	Publish(event events.RunEvent)
	Subscribe(ctx context.Context, runID string) <-chan events.RunEvent
}

type WorkflowService interface {
	StartResearch(ctx context.Context, input workflows.ResearchInput) error
	StartArtifact(ctx context.Context, input workflows.ArtifactInput) error
	StartNews(ctx context.Context, input workflows.NewsInput) error
	CancelRun(ctx context.Context, runID string) error
}

type ServerOption func(*Server)

func WithLogger(logger *zap.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBudget enables the daily call budget on endpoints that start runs.
func WithBudget(budget limits.Budget) ServerOption {
	return func(s *Server) { s.budget = budget }
}

func WithHeartbeat(interval time.Duration) ServerOption {
	return func(s *Server) {
		if interval > 0 {
			s.heartbeat = interval
		}
	}
}

func NewServer(store store.Store, broker Broker, workflows WorkflowService, cfg config.Config, opts ...ServerOption) *Server {
	server := &Server{
		store:     store,
		broker:    broker,
		workflows: workflows,
		cfg:       cfg,
		logger:    zap.NewNop(),
		heartbeat: 15 * time.Second,
	}
	if strings.TrimSpace(cfg.LLMSecretsKey) != "" {
		if sealer, err := secrets.NewSealerFromEnv(cfg.LLMSecretsKey); err == nil {
			server.sealer = sealer
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(server)
		}
	}
	return server
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.quietRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/parties", s.listParties)
	r.Get("/parties/{id}", s.getParty)
	r.Get("/parties/{id}/summary", s.getPartySummary)
	r.Post("/parties/{id}/summary", s.upsertPartySummary)
	r.Get("/parties/{id}/news", s.getPartyNews)
	r.Post("/parties/{id}/news", s.fetchPartyNews)
	r.Post("/research", s.createResearch)
	r.Get("/research", s.listResearch)
	r.Get("/research/{id}", s.getResearch)
	r.Get("/research/{id}/stages", s.listResearchStages)
	r.Post("/research/{id}/cancel", s.cancelResearch)
	r.Post("/research/{id}/events", s.ingestEvent)
	r.Get("/research/{id}/events", s.streamEvents)
	r.Get("/limits", s.listLimits)
	r.Post("/limits/{type}/reset", s.resetLimit)
	r.Get("/settings/llm", s.getLLMSettings)
	r.Post("/settings/llm", s.updateLLMSettings)
	r.Post("/settings/llm/test", s.testLLMSettings)
	r.Post("/settings/llm/models", s.listLLMModels)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", s.health)
	r.Get("/ready", s.ready)

	return r
}

func (s *Server) quietRequestLogger(next http.Handler) http.Handler {
	logged := middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  logging.NewStdLogger(s.logger),
		NoColor: true,
	})(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSuppressRequestLog(r.Method, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		logged.ServeHTTP(w, r)
	})
}

func shouldSuppressRequestLog(method string, path string) bool {
	cleanPath := strings.TrimSpace(path)
	if strings.HasSuffix(cleanPath, "/events") && (method == http.MethodPost || method == http.MethodGet) {
		return true
	}
	if method == http.MethodGet && (cleanPath == "/health" || cleanPath == "/metrics" || cleanPath == "/limits") {
		return true
	}
	return method == http.MethodOptions
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSONStatus(w, map[string]string{"status": "ok"}, http.StatusOK)
}

type subsystemStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status     string                     `json:"status"`
	Subsystems map[string]subsystemStatus `json:"subsystems"`
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	subsystems := map[string]subsystemStatus{}
	overall := http.StatusOK

	if _, err := s.store.ListParties(ctx); err != nil {
		subsystems["store"] = subsystemStatus{Status: "error", Error: err.Error()}
		overall = http.StatusServiceUnavailable
	} else {
		subsystems["store"] = subsystemStatus{Status: "ok"}
	}

	if s.budget == nil {
		subsystems["budget"] = subsystemStatus{Status: "skipped"}
	} else if _, err := s.budget.List(ctx); err != nil {
		subsystems["budget"] = subsystemStatus{Status: "error", Error: err.Error()}
		overall = http.StatusServiceUnavailable
	} else {
		subsystems["budget"] = subsystemStatus{Status: "ok"}
	}

	if s.workflows == nil {
		subsystems["workflows"] = subsystemStatus{Status: "skipped"}
	} else {
		subsystems["workflows"] = subsystemStatus{Status: "ok"}
	}

	status := "ok"
	if overall != http.StatusOK {
		status = "degraded"
	}
	writeJSONStatus(w, readinessResponse{Status: status, Subsystems: subsystems}, overall)
}

func writeJSONStatus(w http.ResponseWriter, value any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeJSON(w http.ResponseWriter, value any) {
	writeJSONStatus(w, value, http.StatusOK)
}

func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSONStatus(w, map[string]string{"error": message}, statusCode)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()
	return server.ListenAndServe()
}
