package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/lumora/affinity/internal/config"
	"github.com/lumora/affinity/internal/database"
	"github.com/lumora/affinity/internal/graph"
	"github.com/lumora/affinity/internal/messaging"
	"github.com/lumora/affinity/internal/workers"
)

func main() {
	queue := flag.String("queue", "neo4j", "queue to project: neo4j, qdrant or batch")
	count := flag.Int("workers", 1, "number of concurrent consumers")
	prefetch := flag.Int("prefetch", 0, "per-consumer prefetch override")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *prefetch > 0 {
		cfg.Worker.Prefetch = *prefetch
	}

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	db, err := database.New(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	broker, err := messaging.NewBroker(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to connect to broker: %v", err)
	}
	defer broker.Close()

	store := graph.New(db.Graph, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	run, err := buildRunner(cfg, logger, broker, store, *queue)
	if err != nil {
		log.Fatalf("Failed to build worker: %v", err)
	}

	logger.WithFields(logrus.Fields{
		"queue":   *queue,
		"workers": *count,
	}).Info("Worker starting")

	var wg sync.WaitGroup
	for i := 0; i < *count; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil && ctx.Err() == nil {
				logger.WithError(err).Error("Worker stopped with error")
			}
		}()
	}
	wg.Wait()

	logger.Info("Worker exited")
}

func buildRunner(cfg *config.Config, logger *logrus.Logger, broker *messaging.Broker, store *graph.Store, queue string) (func(context.Context) error, error) {
	switch queue {
	case "qdrant":
		p, err := workers.NewProjector(cfg, logger, broker, workers.NewVectorApplier(logger))
		if err != nil {
			return nil, err
		}
		return p.Run, nil
	case "batch":
		p, err := workers.NewBatchProjector(cfg, logger, broker, store)
		if err != nil {
			return nil, err
		}
		return p.Run, nil
	default:
		p, err := workers.NewProjector(cfg, logger, broker, workers.NewGraphApplier(store))
		if err != nil {
			return nil, err
		}
		return p.Run, nil
	}
}
