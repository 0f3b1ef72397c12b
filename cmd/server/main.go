package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/garyjia/pizza-workflow/internal/config"
	httpserver "github.com/garyjia/pizza-workflow/internal/interfaces/http"
	"github.com/garyjia/pizza-workflow/internal/metrics"
	"github.com/garyjia/pizza-workflow/internal/orchestrator"
	"github.com/garyjia/pizza-workflow/internal/repository"
	"github.com/garyjia/pizza-workflow/internal/transport/kafka"
	"github.com/garyjia/pizza-workflow/internal/worker"
	"github.com/garyjia/pizza-workflow/pkg/database"
	"github.com/garyjia/pizza-workflow/pkg/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("Server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.ApplySchema(); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	store := repository.NewInstanceRepository(db, log)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	collector := metrics.NewCollector(registry)

	// Outbound transport
	dispatcher := kafka.NewStageDispatcher(cfg.Kafka.Brokers, log)
	defer dispatcher.Close()

	// Orchestration engine
	engine := orchestrator.NewEngine(store, dispatcher, orchestrator.Config{
		WaitTimeout:  cfg.Workflow.WaitTimeout,
		MaxAttempts:  cfg.Workflow.MaxAttempts,
		RetryBackoff: cfg.Workflow.RetryBackoff,
	}, log, orchestrator.WithMetrics(collector))

	recovered, err := engine.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover instances: %w", err)
	}
	if recovered > 0 {
		log.Info("Recovered in-flight instances", zap.Int("count", recovered))
	}

	// Inbound transport and background workers
	correlator := orchestrator.NewCorrelator(engine, log, collector)
	consumer := kafka.NewResultConsumer(kafka.ReaderConfig{
		Brokers: cfg.Kafka.Brokers,
		GroupID: cfg.Kafka.GroupID,
		Topic:   cfg.Kafka.ResultsTopic,
	}, correlator, log)
	reaper := worker.NewStaleReaper(engine, cfg.Workflow.ReapSchedule, cfg.Workflow.ReapHorizon, log)

	workers := worker.NewManager(log)
	workers.Register(consumer)
	workers.Register(reaper)

	if err := workers.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	defer workers.StopAll()

	// HTTP server
	server := httpserver.NewServer(httpserver.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, engine, registry, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})

	log.Info("Pizza workflow service started",
		zap.Int("port", cfg.Server.Port),
		zap.Strings("brokers", cfg.Kafka.Brokers))

	return g.Wait()
}
