package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/samijaber1/aegis-relay/internal/api"
	"github.com/samijaber1/aegis-relay/internal/breach"
	"github.com/samijaber1/aegis-relay/internal/collector"
	"github.com/samijaber1/aegis-relay/internal/collector/prom"
	"github.com/samijaber1/aegis-relay/internal/collector/synthetic"
	"github.com/samijaber1/aegis-relay/internal/config"
	"github.com/samijaber1/aegis-relay/internal/event"
	"github.com/samijaber1/aegis-relay/internal/eval"
	"github.com/samijaber1/aegis-relay/internal/logging"
	"github.com/samijaber1/aegis-relay/internal/scheduler"
	"github.com/samijaber1/aegis-relay/internal/sla"
	"github.com/samijaber1/aegis-relay/internal/storage/sqlite"
	"github.com/samijaber1/aegis-relay/internal/webhook"

	"go.uber.org/zap"
)

func main() {
	cfg := parseFlags()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Development)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Infow("Starting relay server",
		"port", cfg.Port,
		"db", cfg.DBPath,
		"definitions", cfg.DefinitionsDir,
		"collector", cfg.CollectorType,
	)

	store, err := sqlite.NewStore(cfg.DBPath)
	if err != nil {
		logger.Fatalw("Failed to open storage", "error", err)
	}
	defer store.Close()

	if err := seedCatalog(cfg, store, logger); err != nil {
		logger.Fatalw("Failed to seed SLA catalog", "error", err)
	}

	registry, err := buildCollectors(cfg, store, logger)
	if err != nil {
		logger.Fatalw("Failed to initialize collectors", "error", err)
	}

	publisher := event.NewPublisher(store, "aegis-relay", logger)
	breaches := breach.NewManager(store, publisher, logger)
	engine := eval.NewEngine(store, registry, breaches, logger,
		cfg.CollectorTimeout, cfg.EvalConcurrency, cfg.EvaluationInterval)

	sched := scheduler.New(engine, logger, cfg.EvaluationInterval, cfg.EvaluationInterval)
	if err := sched.Start(); err != nil {
		logger.Fatalw("Failed to start scheduler", "error", err)
	}

	workerCfg := webhook.DefaultWorkerConfig()
	workerCfg.PollInterval = cfg.DeliveryPollInterval
	workerCfg.HTTPTimeout = cfg.DeliveryHTTPTimeout
	workerCfg.Concurrency = cfg.DeliveryConcurrency
	workerCfg.FailureThreshold = cfg.EndpointFailureThreshold
	worker := webhook.NewWorker(store, logger, workerCfg)
	if err := worker.Start(); err != nil {
		logger.Fatalw("Failed to start delivery worker", "error", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	apiServer := api.NewServer(store, engine, breaches, sched, logger, addr, cfg.AdminToken)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- apiServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Fatalw("Server error", "error", err)

	case sig := <-shutdown:
		logger.Infow("Received signal", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulShutdownTimeout)
		defer cancel()

		if err := apiServer.Shutdown(ctx); err != nil {
			logger.Errorw("Error shutting down server", "error", err)
		}
		sched.Stop()
		worker.Stop()

		logger.Infow("Shutdown complete")
	}
}

// seedCatalog validates the YAML definitions directory and upserts each
// definition by slug, so edits to the files land on restart without
// clobbering instance history. A missing directory is not an error; the
// catalog can be managed entirely through the API.
func seedCatalog(cfg config.Config, store *sqlite.Store, logger *zap.SugaredLogger) error {
	if _, err := os.Stat(cfg.DefinitionsDir); os.IsNotExist(err) {
		logger.Infow("Definitions directory not found, skipping seed", "dir", cfg.DefinitionsDir)
		return nil
	}

	validator, err := sla.NewValidator(cfg.SchemaPath)
	if err != nil {
		return fmt.Errorf("initialize validator: %w", err)
	}
	if verrs := validator.ValidateDirectory(cfg.DefinitionsDir); len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Errorw("Invalid definition", "file", ve.File, "path", ve.Path, "message", ve.Message)
		}
		return fmt.Errorf("definition validation failed: %d error(s)", len(verrs))
	}

	defs, loadErrs := sla.LoadFromDirectory(cfg.DefinitionsDir)
	if len(loadErrs) > 0 {
		return fmt.Errorf("failed to load definitions: %d error(s)", len(loadErrs))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, dwf := range defs {
		if err := store.UpsertDefinitionBySlug(ctx, dwf.Definition); err != nil {
			return fmt.Errorf("upsert definition %q: %w", dwf.Definition.Slug, err)
		}
	}

	logger.Infow("SLA catalog seeded", "definitions", len(defs))
	return nil
}

func buildCollectors(cfg config.Config, store *sqlite.Store, logger *zap.SugaredLogger) (*collector.Registry, error) {
	registry := collector.NewRegistry()
	objectives := []sla.ObjectiveType{
		sla.ObjectiveLatency,
		sla.ObjectiveFreshness,
		sla.ObjectiveCadence,
		sla.ObjectiveSuccessRate,
	}

	switch cfg.CollectorType {
	case "prometheus":
		c := prom.New(prom.DefaultConfig(cfg.PrometheusURL))
		for _, o := range objectives {
			registry.Register(o, c)
		}

		// The collector executes each definition's own query template;
		// flag queryless definitions now instead of at first evaluation.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		defs, err := store.ListDefinitions(ctx, true)
		if err != nil {
			return nil, fmt.Errorf("list definitions: %w", err)
		}
		for _, def := range defs {
			if def.Query == "" {
				logger.Warnw("Definition has no query; its evaluations will fail until one is set",
					"slug", def.Slug)
			}
		}
		logger.Infow("Using Prometheus collector", "url", cfg.PrometheusURL)

	case "synthetic":
		c := synthetic.New()
		if cfg.FixturesDir != "" {
			if err := loadFixtures(c, cfg.FixturesDir, logger); err != nil {
				return nil, err
			}
		}
		for _, o := range objectives {
			registry.Register(o, c)
		}
		logger.Infow("Using synthetic collector", "fixtures", cfg.FixturesDir)

	default:
		return nil, fmt.Errorf("unknown collector type: %s", cfg.CollectorType)
	}

	return registry, nil
}

// loadFixtures maps fixtures/<slug>.json onto the definition with that slug.
func loadFixtures(c *synthetic.Collector, dir string, logger *zap.SugaredLogger) error {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return err
	}
	for _, path := range paths {
		slug := strings.TrimSuffix(filepath.Base(path), ".json")
		if err := c.LoadFixture(slug, path); err != nil {
			return fmt.Errorf("load fixture %s: %w", path, err)
		}
		logger.Debugw("Loaded metric fixture", "slug", slug, "path", path)
	}
	return nil
}

func parseFlags() config.Config {
	cfg := config.Load()

	flag.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.StringVar(&cfg.Host, "host", cfg.Host, "HTTP server host")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the SQLite database")
	flag.StringVar(&cfg.DefinitionsDir, "definitions-dir", cfg.DefinitionsDir, "Directory containing SLA definition YAML files")
	flag.StringVar(&cfg.SchemaPath, "schema", cfg.SchemaPath, "Path to the SLA definition JSON schema")
	flag.StringVar(&cfg.CollectorType, "collector", cfg.CollectorType, "Metric collector type (prometheus|synthetic)")
	flag.StringVar(&cfg.PrometheusURL, "prometheus-url", cfg.PrometheusURL, "Prometheus server URL (required for prometheus collector)")
	flag.StringVar(&cfg.FixturesDir, "fixtures", cfg.FixturesDir, "Directory containing synthetic metric fixtures")
	flag.StringVar(&cfg.AdminToken, "admin-token", cfg.AdminToken, "Bearer token for the admin API (empty disables writes)")
	flag.DurationVar(&cfg.EvaluationInterval, "evaluation-interval", cfg.EvaluationInterval, "Interval between evaluation passes")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug|info|warn|error)")
	flag.BoolVar(&cfg.Development, "dev", cfg.Development, "Development mode logging")

	flag.Parse()

	return cfg
}
