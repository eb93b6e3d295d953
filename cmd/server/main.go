package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/metasearch-io/metasearch/internal/api/handlers"
	"github.com/metasearch-io/metasearch/internal/config"
	"github.com/metasearch-io/metasearch/internal/health"
	"github.com/metasearch-io/metasearch/internal/middleware"
	"github.com/metasearch-io/metasearch/internal/router"
	"github.com/metasearch-io/metasearch/pkg/utils"
)

func main() {
	// .env is optional; real deployments configure via environment.
	_ = godotenv.Load()

	utils.InitLogger()
	logger := utils.GetLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	searchRouter, err := router.New(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize search router")
	}

	checker := health.NewChecker(searchRouter, logger)

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.SecurityHeaders(),
		middleware.RequestLogger(logger),
	)

	handler := handlers.NewSearchHandler(searchRouter, checker, logger)
	handler.Register(engine.Group("/api/v1"))

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: engine,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Starting search server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}
	if err := searchRouter.Close(); err != nil {
		logger.WithError(err).Error("Router shutdown failed")
	}

	logger.Info("Server stopped")
}
