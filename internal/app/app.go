package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/lumora/affinity/internal/config"
	"github.com/lumora/affinity/internal/database"
	"github.com/lumora/affinity/internal/handlers"
	"github.com/lumora/affinity/internal/middleware"
	"github.com/lumora/affinity/internal/services"
)

type App struct {
	config   *config.Config
	logger   *logrus.Logger
	db       *database.Database
	services *services.Services
	handlers *handlers.Handlers
	router   *gin.Engine
}

func New(cfg *config.Config) (*App, error) {
	app := &App{
		config: cfg,
		logger: setupLogger(cfg),
	}

	db, err := database.New(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	services, err := services.New(cfg, app.logger, db)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.services = services

	// The vector collection must exist before the first search or upsert.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := services.Vector.EnsureCollection(ctx); err != nil {
		app.logger.WithError(err).Warn("Failed to ensure vector collection; catalog writes will retry it")
	}

	app.handlers = handlers.New(cfg, app.logger, services)
	app.setupRouter()

	return app, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	if err := a.services.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing services")
	}
	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing database connections")
		return err
	}
	return nil
}

func setupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

func (a *App) setupRouter() {
	if a.config.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.Logger(a.logger))
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.CORS(a.config))
	router.Use(middleware.CompressionMiddleware())
	router.Use(middleware.Identity(a.services.Auth, a.logger))
	if a.config.Auth.RateLimit.Enabled {
		router.Use(middleware.RateLimit(a.services.RateLimit, a.logger))
	}

	// Process health and Prometheus metrics
	router.GET("/health", a.handlers.Health.Check)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Event admission
	router.POST("/events", a.handlers.Event.Create)
	router.POST("/events/batch", a.handlers.Event.CreateBatch)

	// Multi-source orchestrator
	orchestrator := router.Group("/orchestrator")
	{
		orchestrator.GET("/recommendations/:userID", a.handlers.Orchestrator.Get)
		orchestrator.POST("/recommendations", a.handlers.Orchestrator.Post)
		orchestrator.POST("/for-you", a.handlers.Orchestrator.ForYou)
		orchestrator.GET("/for-you/:userID", a.handlers.Orchestrator.ForYouGet)
		orchestrator.GET("/user-mode/:userID", a.handlers.Orchestrator.UserMode)
		orchestrator.POST("/similar-to-recent", a.handlers.Orchestrator.SimilarToRecent)
		orchestrator.POST("/complementary", a.handlers.Orchestrator.Complementary)
		orchestrator.GET("/trending", a.handlers.Orchestrator.Trending)
		orchestrator.GET("/health", a.handlers.Orchestrator.Health)
	}

	// Raw graph sources
	behavioral := router.Group("/behavioral")
	{
		behavioral.GET("/users/:userID/recommendations", a.handlers.Behavioral.Collaborative)
		behavioral.GET("/users/:userID/similar", a.handlers.Behavioral.SimilarUsers)
		behavioral.GET("/users/:userID/history", a.handlers.Behavioral.History)
		behavioral.GET("/products/:productID/similar", a.handlers.Behavioral.SimilarProducts)
		behavioral.GET("/products/:productID/bought-together", a.handlers.Behavioral.BoughtTogether)
		behavioral.GET("/products/:productID/also-viewed", a.handlers.Behavioral.AlsoViewed)
		behavioral.GET("/products/:productID/stats", a.handlers.Behavioral.ProductStats)
		behavioral.GET("/trending", a.handlers.Behavioral.Trending)
		behavioral.POST("/rerank", a.handlers.Behavioral.Rerank)
		behavioral.GET("/stats", a.handlers.Behavioral.Stats)
	}

	// Product indexing
	catalog := router.Group("/catalog")
	{
		catalog.POST("/products", a.handlers.Catalog.Create)
		catalog.POST("/products/batch", a.handlers.Catalog.CreateBatch)
		catalog.GET("/products/:productID", a.handlers.Catalog.Get)
	}

	// Broker control surface
	rabbitmq := router.Group("/rabbitmq")
	{
		rabbitmq.GET("/health", a.handlers.Broker.Health)
		rabbitmq.GET("/queues/:name", a.handlers.Broker.QueueInfo)
		rabbitmq.POST("/queues/:name/purge", a.handlers.Broker.Purge)
	}

	a.router = router
}
