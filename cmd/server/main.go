// Package main provides the API server entry point for the portfolio bridge
// service.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/portfolio-bridge/internal/api"
	"github.com/portfolio-bridge/internal/config"
	"github.com/portfolio-bridge/internal/crypto"
	"github.com/portfolio-bridge/internal/logging"
	"github.com/portfolio-bridge/internal/service"
	"github.com/portfolio-bridge/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// Initialize database connections
	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	redis, err := storage.NewRedisStore(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Database connections established")

	// Initialize the credential cipher
	cipher, err := crypto.NewCipher(cfg.Auth.EncryptionKey)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize credential cipher")
	}

	// Initialize stores and services
	credentialRepo := storage.NewCredentialRepository(postgres, cipher)
	sessionStore := storage.NewSessionStore(redis, cfg.Auth.SessionTTL)
	balanceService := service.NewBalanceService(logger)
	historyService := service.NewHistoryService(logger)

	logger.Info("Services initialized")

	serverConfig := &api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}

	server := api.NewServer(serverConfig, api.Deps{
		BalanceService:  balanceService,
		HistoryService:  historyService,
		CredentialStore: credentialRepo,
		SessionStore:    sessionStore,
		ExchangeConfig:  cfg.Exchange,
		ServiceKey:      cfg.Auth.ServiceKey,
		Logger:          logger,
	})

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
