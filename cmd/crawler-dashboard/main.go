package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crawler-dashboard/internal/apiclient"
	"crawler-dashboard/internal/config"
	"crawler-dashboard/internal/dashboard"
	"crawler-dashboard/internal/database"
	"crawler-dashboard/internal/handlers"
	"crawler-dashboard/internal/query"
	"crawler-dashboard/internal/service"

	"github.com/sirupsen/logrus"
)

func main() {
	config.LoadEnvFiles()

	// logger
	logger := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// DB
	db, err := database.NewDatabase(cfg.DBPath)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	tokens := database.NewTokenStore(db)

	// HTTP Client
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	client := apiclient.NewClient(cfg.APIURL, httpClient, tokens, logger)
	client.OnUnauthorized(func() {
		logger.Warn("Analysis API rejected the token; it has been cleared")
	})

	cacheOpts := query.DefaultOptions()
	cacheOpts.StaleTime = cfg.StaleTime
	cache := query.NewCache(cacheOpts, logger)

	analyses := service.NewAnalysisService(client, cache, tokens, logger, cfg.PollInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// best effort, a missing token is retried on the first 401
	analyses.Bootstrap(ctx)

	go analyses.StartWorker(ctx)

	sessions := handlers.NewSessionManager(func() *dashboard.Controller {
		return dashboard.New(analyses, logger, dashboard.Options{
			PageSize:       cfg.PageSize,
			SearchDebounce: cfg.SearchDebounce,
		})
	}, cfg.SessionTTL, logger)
	go sessions.Run(ctx)

	// Routers
	handler := handlers.NewHandler(analyses, sessions, logger)
	router := handler.SetupRoutes()

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start
	go func() {
		logger.WithField("api_url", cfg.APIURL).Infof("Starting server on :%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server error: %v", err)
		}
	}()

	// Shutdown
	gracefulShutdown(server, analyses, sessions, 30*time.Second, logger)
}

func gracefulShutdown(server *http.Server, analyses *service.AnalysisService, sessions *handlers.SessionManager, shutdownTimeout time.Duration, logger *logrus.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutdown signal received, starting graceful shutdown...")

	analyses.SetShutdown(true)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown error: %v", err)
	}

	sessions.CloseAll()

	logger.Info("Graceful shutdown completed")
}
