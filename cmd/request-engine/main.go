package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/request-engine/internal/api/http"
	"github.com/spec-kit/request-engine/internal/api/http/handlers"
	"github.com/spec-kit/request-engine/internal/auth"
	"github.com/spec-kit/request-engine/internal/config"
	"github.com/spec-kit/request-engine/internal/observability"
	"github.com/spec-kit/request-engine/internal/persistence"
	"github.com/spec-kit/request-engine/internal/rulefile"
)

var (
	app = kingpin.New("request-engine", "Request assignment and escalation engine")

	serveCmd           = app.Command("serve", "Run the HTTP API")
	serveWithScheduler = serveCmd.Flag("with-scheduler", "Run the escalation scheduler in-process").Bool()
	serveMemory        = serveCmd.Flag("memory", "Use the in-memory store instead of Postgres").Bool()
	serveSeed          = serveCmd.Flag("seed", "YAML seed file loaded into the in-memory store").ExistingFile()

	schedulerCmd = app.Command("scheduler", "Run the escalation scheduler only")

	migrateCmd = app.Command("migrate", "Apply database migrations")

	rulesCmd        = app.Command("rules", "Assignment rule management")
	rulesImportCmd  = rulesCmd.Command("import", "Import rules from a YAML file")
	rulesImportOrg  = rulesImportCmd.Flag("org", "Organization id").Required().String()
	rulesImportType = rulesImportCmd.Flag("type", "Request type id").Required().String()
	rulesImportFile = rulesImportCmd.Arg("file", "Rule file").Required().ExistingFile()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case serveCmd.FullCommand():
		err = runServe(ctx, cfg, logger)
	case schedulerCmd.FullCommand():
		err = runScheduler(ctx, cfg, logger)
	case migrateCmd.FullCommand():
		err = runMigrate(ctx, cfg, logger)
	case rulesImportCmd.FullCommand():
		err = runRulesImport(ctx, cfg, logger)
	}
	if err != nil {
		logger.Error("command failed", zap.String("command", command), zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	metrics := observability.NewMetrics()

	var (
		eng *engine
		err error
	)
	if *serveMemory {
		eng, err = newMemoryEngine(ctx, cfg, logger, metrics, *serveSeed)
	} else {
		eng, err = newPostgresEngine(ctx, cfg, logger, metrics)
	}
	if err != nil {
		return err
	}
	defer eng.Close()

	stopWorker := eng.StartNotifications(ctx)
	defer stopWorker()

	if *serveWithScheduler || cfg.Scheduler.Enabled {
		sched, err := eng.Scheduler(cfg)
		if err != nil {
			return err
		}
		sched.Start(ctx)
		defer sched.Stop()
	}

	fiberApp := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ErrorHandler: httptransport.ErrorHandler(logger),
	})
	httptransport.RegisterMiddlewares(fiberApp, logger, metrics, cfg.App.RequestTimeout())

	authMiddleware := auth.NewAuthMiddleware(eng.Auth.TokenManager(), eng.Repos.Members)
	httptransport.RegisterRoutes(fiberApp, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, eng.Postgres, eng.Redis),
		Auth:           handlers.NewAuthHandler(eng.Auth),
		Requests:       handlers.NewRequestsHandler(eng.Requests, eng.Acceptance),
		Rules:          handlers.NewRulesHandler(eng.Rules),
		Analytics:      handlers.NewAnalyticsHandler(eng.Requests),
		AuthMiddleware: authMiddleware,
		Metrics:        metrics,
	})

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- fiberApp.Listen(cfg.App.Addr())
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("fiber listen: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	return fiberApp.ShutdownWithTimeout(10 * time.Second)
}

func runScheduler(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	eng, err := newPostgresEngine(ctx, cfg, logger, observability.NewMetrics())
	if err != nil {
		return err
	}
	defer eng.Close()

	stopWorker := eng.StartNotifications(ctx)
	defer stopWorker()

	sched, err := eng.Scheduler(cfg)
	if err != nil {
		return err
	}
	sched.Start(ctx)
	<-ctx.Done()
	logger.Info("shutting down")
	sched.Stop()
	return nil
}

func runMigrate(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()
	if pg.PoolHandle() == nil {
		return fmt.Errorf("postgres.dsn is required for migrate")
	}
	return persistence.RunMigrations(ctx, pg.PoolHandle(), logger)
}

func runRulesImport(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	f, err := os.Open(*rulesImportFile)
	if err != nil {
		return err
	}
	defer f.Close()
	file, err := rulefile.ParseRules(f)
	if err != nil {
		return err
	}

	eng, err := newPostgresEngine(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	created, err := rulefile.Import(ctx, eng.Rules, rulefile.SystemViewer(*rulesImportOrg), *rulesImportType, file, logger)
	for _, rule := range created {
		fmt.Printf("%s\t%d\t%s\n", rule.ID, rule.PriorityOrder, rule.Name)
	}
	return err
}
