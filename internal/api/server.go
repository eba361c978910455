// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/portfolio-bridge/internal/config"
	"github.com/portfolio-bridge/internal/exchange"
	"github.com/portfolio-bridge/internal/logging"
	"github.com/portfolio-bridge/internal/service"
	"github.com/portfolio-bridge/internal/types"
)

// Service interfaces for dependency injection and testing

// BalanceServiceInterface defines the balance aggregator operations
type BalanceServiceInterface interface {
	GetHoldings(ctx context.Context, client service.ExchangeClient) (*service.BalanceResult, error)
}

// HistoryServiceInterface defines the history aggregator operations
type HistoryServiceInterface interface {
	GetHistory(ctx context.Context, client service.ExchangeClient, timeRange types.TimeRange, currentValue float64) (*service.HistoryResult, error)
}

// CredentialStoreInterface defines the credential persistence operations
type CredentialStoreInterface interface {
	Upsert(ctx context.Context, userID string, creds *types.Credentials) error
	Get(ctx context.Context, userID string) (*types.Credentials, error)
	GetMetadata(ctx context.Context, userID string) (*types.CredentialsMetadata, error)
	Delete(ctx context.Context, userID string) error
}

// SessionStoreInterface defines the session operations
type SessionStoreInterface interface {
	Create(ctx context.Context, userID string) (*types.Session, error)
	Get(ctx context.Context, token string) (*types.Session, error)
	Delete(ctx context.Context, token string) error
}

// ExchangeClientFactory builds a client from per-request credentials.
type ExchangeClientFactory func(creds *types.Credentials) service.ExchangeClient

// Server represents the HTTP API server.
type Server struct {
	router          *mux.Router
	httpServer      *http.Server
	balanceService  BalanceServiceInterface
	historyService  HistoryServiceInterface
	credentialStore CredentialStoreInterface
	sessionStore    SessionStoreInterface
	clientFactory   ExchangeClientFactory
	serviceKey      string
	logger          *logging.Logger
	config          *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerSecond int
	Burst             int
}

// Deps bundles the server's collaborators.
type Deps struct {
	BalanceService  BalanceServiceInterface
	HistoryService  HistoryServiceInterface
	CredentialStore CredentialStoreInterface
	SessionStore    SessionStoreInterface
	// ClientFactory may be nil; the default builds a real exchange client
	// from ExchangeConfig.
	ClientFactory  ExchangeClientFactory
	ExchangeConfig config.ExchangeConfig
	ServiceKey     string
	Logger         *logging.Logger
}

// NewServer creates a new API server instance.
func NewServer(cfg *ServerConfig, deps Deps) *Server {
	clientFactory := deps.ClientFactory
	if clientFactory == nil {
		clientFactory = defaultClientFactory(deps.ExchangeConfig)
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	s := &Server{
		router:          mux.NewRouter(),
		balanceService:  deps.BalanceService,
		historyService:  deps.HistoryService,
		credentialStore: deps.CredentialStore,
		sessionStore:    deps.SessionStore,
		clientFactory:   clientFactory,
		serviceKey:      deps.ServiceKey,
		logger:          logger,
		config:          cfg,
	}

	s.setupRouter()

	return s
}

// defaultClientFactory builds real exchange clients from stored credentials.
func defaultClientFactory(cfg config.ExchangeConfig) ExchangeClientFactory {
	return func(creds *types.Credentials) service.ExchangeClient {
		baseURL := cfg.BaseURL
		if creds.UseTestnet {
			baseURL = cfg.TestnetBaseURL
		}
		return exchange.NewClient(exchange.Config{
			APIKey:     creds.APIKey,
			APISecret:  creds.APISecret,
			UseTestnet: creds.UseTestnet,
			BaseURL:    baseURL,
			RecvWindow: cfg.RecvWindow,
			Deadline:   cfg.RequestTimeout,
		})
	}
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)

	// Middleware order matters: logging wraps everything, recovery catches
	// panics before they reach the transport.
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)

	s.setupRoutes(rateLimiter)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes(rateLimiter *RateLimiter) {
	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Session issuing is guarded by the service key, not a session.
	s.router.HandleFunc("/api/auth/sessions", s.handleCreateSession).Methods("POST")

	// Everything else requires an authenticated session.
	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.AuthMiddleware)
	api.Use(RateLimitMiddleware(rateLimiter))

	api.HandleFunc("/auth/sessions", s.handleDeleteSession).Methods("DELETE")

	api.HandleFunc("/credentials", s.handlePutCredentials).Methods("PUT")
	api.HandleFunc("/credentials", s.handleGetCredentials).Methods("GET")
	api.HandleFunc("/credentials", s.handleDeleteCredentials).Methods("DELETE")

	api.HandleFunc("/portfolio/balances", s.handleGetBalances).Methods("GET")
	api.HandleFunc("/portfolio/history", s.handleGetHistory).Methods("GET")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "portfolio-bridge",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
