package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/spec-kit/request-engine/internal/config"
	"github.com/spec-kit/request-engine/internal/events"
	"github.com/spec-kit/request-engine/internal/expr"
	"github.com/spec-kit/request-engine/internal/observability"
	"github.com/spec-kit/request-engine/internal/persistence"
	"github.com/spec-kit/request-engine/internal/repository"
	"github.com/spec-kit/request-engine/internal/repository/memory"
	"github.com/spec-kit/request-engine/internal/rulefile"
	"github.com/spec-kit/request-engine/internal/scheduler"
	"github.com/spec-kit/request-engine/internal/service"
	"github.com/spec-kit/request-engine/internal/worker"
)

type repositories struct {
	Members  repository.MemberRepository
	Teams    repository.TeamRepository
	Rules    repository.RuleRepository
	Requests repository.RequestRepository
	Tickets  repository.EscalationTicketRepository
	Activity repository.ActivityRepository
}

// engine holds the wired services shared by the subcommands.
type engine struct {
	Postgres *persistence.Postgres
	Redis    *persistence.Redis
	Repos    repositories

	Dispatcher    *events.AsyncDispatcher
	Notifications *service.NotificationService
	Assignment    *service.AssignmentService
	Acceptance    *service.AcceptanceService
	Requests      *service.RequestService
	Rules         *service.RuleService
	Auth          *service.AuthService
	Notifier      service.Notifier

	logger  *zap.Logger
	metrics *observability.Metrics
}

func newPostgresEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) (*engine, error) {
	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	pool := pg.PoolHandle()
	if pool == nil {
		return nil, fmt.Errorf("postgres.dsn is required; use serve --memory to run without a database")
	}
	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pool, logger); err != nil {
			pg.Close()
			return nil, err
		}
	}
	repos := repositories{
		Members:  repository.NewMemberRepository(pool),
		Teams:    repository.NewTeamRepository(pool),
		Rules:    repository.NewRuleRepository(pool),
		Requests: repository.NewRequestRepository(pool),
		Tickets:  repository.NewEscalationTicketRepository(pool),
		Activity: repository.NewActivityRepository(pool),
	}
	eng := wire(cfg, logger, metrics, repos)
	eng.Postgres = pg
	eng.Redis = persistence.NewRedis(cfg.Redis, logger)
	return eng, nil
}

func newMemoryEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics, seedPath string) (*engine, error) {
	store := memory.New()
	repos := repositories{
		Members:  store.Members(),
		Teams:    store.Teams(),
		Rules:    store.Rules(),
		Requests: store.Requests(),
		Tickets:  store.Tickets(),
		Activity: store.Activity(),
	}
	eng := wire(cfg, logger, metrics, repos)
	eng.Redis = persistence.NewRedis(cfg.Redis, logger)
	logger.Warn("running on the in-memory store; state is lost on exit")

	if seedPath != "" {
		f, err := os.Open(seedPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		seed, err := rulefile.ParseSeed(f)
		if err != nil {
			return nil, err
		}
		err = seed.Apply(ctx, rulefile.SeedTargets{
			Members: repos.Members,
			Teams:   repos.Teams,
			Rules:   eng.Rules,
		}, cfg.Auth.BcryptCost)
		if err != nil {
			return nil, err
		}
		logger.Info("seed loaded", zap.String("path", seedPath), zap.String("organization_id", seed.OrganizationID))
	}
	return eng, nil
}

func wire(cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics, repos repositories) *engine {
	dispatcher := events.NewAsyncDispatcher(logger, cfg.Notification.QueueSize, cfg.Notification.Workers,
		func(event events.Event, _ error) { metrics.RecordNotificationFailure(string(event.Type)) },
		func(events.Event) { metrics.RecordNotificationDropped() },
	)
	notifier := service.NewEventNotifier(dispatcher, logger, nil)

	limits := expr.Limits{MaxSteps: cfg.Engine.PredicateMaxSteps, Timeout: cfg.Engine.PredicateTimeout}
	assignment := service.NewAssignmentService(service.AssignmentDependencies{
		RequestRepo:  repos.Requests,
		TicketRepo:   repos.Tickets,
		ActivityRepo: repos.Activity,
		Matcher:      service.NewRuleMatcher(repos.Rules, logger, metrics, limits),
		Resolver:     service.NewEligibilityResolver(repos.Members, logger),
		Selector:     service.NewStrategySelector(repos.Requests),
		Notifier:     notifier,
		Logger:       logger,
		Metrics:      metrics,
	})

	return &engine{
		Repos:         repos,
		Dispatcher:    dispatcher,
		Notifications: service.NewNotificationService(dispatcher, repos.Members, logger, cfg.Notification),
		Assignment:    assignment,
		Acceptance: service.NewAcceptanceService(service.AcceptanceDependencies{
			RequestRepo:  repos.Requests,
			ActivityRepo: repos.Activity,
			Notifier:     notifier,
			Logger:       logger,
			Metrics:      metrics,
		}),
		Requests: service.NewRequestService(service.RequestDependencies{
			RequestRepo:  repos.Requests,
			ActivityRepo: repos.Activity,
			Assignment:   assignment,
			Notifier:     notifier,
			Logger:       logger,
			Metrics:      metrics,
		}),
		Rules:    service.NewRuleService(repos.Rules, logger),
		Auth:     service.NewAuthService(cfg.Auth, repos.Members),
		Notifier: notifier,
		logger:   logger,
		metrics:  metrics,
	}
}

// StartNotifications begins delivering queued events. The returned func drains the queue.
func (e *engine) StartNotifications(ctx context.Context) func() {
	return worker.StartNotificationWorker(ctx, e.Dispatcher, e.Notifications)
}

// Scheduler builds the escalation scheduler. Instances coordinate through
// Redis when it is enabled and through ticket leases otherwise.
func (e *engine) Scheduler(cfg *config.Config) (*scheduler.Scheduler, error) {
	var locker scheduler.Locker = scheduler.NewTicketLocker(e.Repos.Tickets, nil)
	if e.Redis.Enabled() {
		redisLocker, err := persistence.NewRedisLocker(e.Redis, "request-engine:escalation:")
		if err != nil {
			return nil, err
		}
		locker = redisLocker
	}
	return scheduler.New(scheduler.Config{
		PollInterval: cfg.Scheduler.PollInterval,
		BatchSize:    cfg.Scheduler.BatchSize,
		Workers:      cfg.Scheduler.Workers,
		ClaimTTL:     cfg.Scheduler.ClaimTTL,
		InstanceID:   cfg.Scheduler.InstanceID,
	}, scheduler.Dependencies{
		TicketRepo: e.Repos.Tickets,
		RuleRepo:   e.Repos.Rules,
		Assignment: e.Assignment,
		Notifier:   e.Notifier,
		Activity:   service.NewActivityRecorder(e.Repos.Activity, e.logger, e.metrics),
		Locker:     locker,
		Logger:     e.logger,
		Metrics:    e.metrics,
	}), nil
}

// Close releases connections.
func (e *engine) Close() {
	e.Redis.Close()
	e.Postgres.Close()
}
