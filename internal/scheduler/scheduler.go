// Package scheduler advances escalation tickets whose deadline has passed.
// All timers are persisted deadlines, so a restarted scheduler picks up
// exactly where the previous one stopped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/spec-kit/request-engine/internal/domain"
	"github.com/spec-kit/request-engine/internal/observability"
	"github.com/spec-kit/request-engine/internal/repository"
	"github.com/spec-kit/request-engine/internal/service"
)

const (
	outcomeEscalated = "escalated"
	outcomeExhausted = "exhausted"
	outcomeConflict  = "claim_conflict"
	outcomeFailed    = "error"
)

// Broadener adds the members of an escalation level to a request's pool.
type Broadener interface {
	Broaden(ctx context.Context, ticket *domain.EscalationTicket, level domain.EscalationLevel, now time.Time) ([]string, error)
}

// Config tunes the scan loop.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	Workers      int
	ClaimTTL     time.Duration
	InstanceID   string
}

// Dependencies bundles collaborators.
type Dependencies struct {
	TicketRepo repository.EscalationTicketRepository
	RuleRepo   repository.RuleRepository
	Assignment Broadener
	Notifier   service.Notifier
	Activity   *service.ActivityRecorder
	// Locker is optional. The level compare-and-swap alone already prevents
	// double escalation; the lock keeps instances from duplicating work.
	Locker  Locker
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// ScanStats summarizes one scan.
type ScanStats struct {
	Due       int
	Escalated int
	Exhausted int
	Conflicts int
	Failed    int
}

func (s *ScanStats) add(outcome string) {
	switch outcome {
	case outcomeEscalated:
		s.Escalated++
	case outcomeExhausted:
		s.Exhausted++
	case outcomeConflict:
		s.Conflicts++
	default:
		s.Failed++
	}
}

// Scheduler polls for due tickets and advances each by one level.
type Scheduler struct {
	cfg        Config
	tickets    repository.EscalationTicketRepository
	rules      repository.RuleRepository
	assignment Broadener
	notifier   service.Notifier
	activity   *service.ActivityRecorder
	locker     Locker
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// New builds a scheduler.
func New(cfg Config, deps Dependencies) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = time.Minute
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		cfg:        cfg,
		tickets:    deps.TicketRepo,
		rules:      deps.RuleRepo,
		assignment: deps.Assignment,
		notifier:   deps.Notifier,
		activity:   deps.Activity,
		locker:     deps.Locker,
		logger:     logger.Named("scheduler"),
		metrics:    deps.Metrics,
		now:        now,
		stopChan:   make(chan struct{}),
	}
}

// Start scans immediately, then every PollInterval, until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.logger.Info("scheduler started",
			zap.Duration("poll_interval", s.cfg.PollInterval),
			zap.Int("workers", s.cfg.Workers),
			zap.String("instance_id", s.cfg.InstanceID))
		s.wg.Add(1)
		go s.run(ctx)
	})
}

// Stop ends the loop and waits for the running scan to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.scanAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.scanAndLog(ctx)
		}
	}
}

func (s *Scheduler) scanAndLog(ctx context.Context) {
	stats, err := s.Scan(ctx)
	if err != nil {
		s.logger.Error("escalation scan failed", zap.Error(err))
		return
	}
	if stats.Due > 0 {
		s.logger.Info("escalation scan finished",
			zap.Int("due", stats.Due),
			zap.Int("escalated", stats.Escalated),
			zap.Int("exhausted", stats.Exhausted),
			zap.Int("conflicts", stats.Conflicts),
			zap.Int("failed", stats.Failed))
	}
}

// Scan processes one batch of due tickets on a bounded worker pool. Each
// ticket moves at most one level per scan.
func (s *Scheduler) Scan(ctx context.Context) (ScanStats, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveScan(time.Since(start)) }()

	due, err := s.tickets.ListDue(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		return ScanStats{}, fmt.Errorf("list due tickets: %w", err)
	}
	stats := ScanStats{Due: len(due)}

	var mu sync.Mutex
	p := pool.New().WithMaxGoroutines(s.cfg.Workers)
	for _, ticket := range due {
		ticket := ticket
		p.Go(func() {
			outcome := s.process(ctx, ticket)
			s.metrics.RecordEscalation(outcome)
			mu.Lock()
			stats.add(outcome)
			mu.Unlock()
		})
	}
	p.Wait()
	return stats, nil
}

func (s *Scheduler) process(ctx context.Context, ticket domain.EscalationTicket) string {
	log := s.logger.With(zap.String("request_id", ticket.RequestID), zap.Int("level", ticket.CurrentLevel))

	if s.locker != nil {
		claimed, err := s.locker.Claim(ctx, ticket.RequestID, s.cfg.InstanceID, s.cfg.ClaimTTL)
		if err != nil {
			log.Warn("ticket claim failed", zap.Error(err))
			return outcomeFailed
		}
		if !claimed {
			return outcomeConflict
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), ticket.RequestID, s.cfg.InstanceID); err != nil {
				log.Warn("ticket release failed", zap.Error(err))
			}
		}()
	}

	outcome, err := s.step(ctx, ticket)
	switch {
	case errors.Is(err, domain.ErrClaimConflict):
		log.Debug("ticket already advanced elsewhere")
		return outcomeConflict
	case err != nil:
		log.Error("escalation step failed", zap.Error(err))
		return outcomeFailed
	}
	return outcome
}

// step advances ticket to the next level, or flags it exhausted when the
// rule has no level left.
func (s *Scheduler) step(ctx context.Context, ticket domain.EscalationTicket) (string, error) {
	now := s.now()
	next := ticket.CurrentLevel + 1

	var (
		level domain.EscalationLevel
		found bool
	)
	rule, err := s.rules.GetByID(ctx, ticket.RuleID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		s.logger.Warn("rule of escalation ticket no longer exists",
			zap.String("request_id", ticket.RequestID),
			zap.String("rule_id", ticket.RuleID))
	case err != nil:
		return "", fmt.Errorf("load rule %s: %w", ticket.RuleID, err)
	default:
		level, found = rule.Escalation.Level(next)
	}

	if !found {
		if err := s.tickets.MarkExhausted(ctx, ticket.RequestID, ticket.CurrentLevel, now); err != nil {
			return "", err
		}
		ticket.Exhausted = true
		ticket.UpdatedAt = now
		s.activity.Update(ctx, ticket.RequestID, nil, domain.Update{
			Type:    domain.UpdateEscalationExhausted,
			Title:   "Escalation exhausted",
			Content: fmt.Sprintf("No escalation level after level %d, manual assignment required", ticket.CurrentLevel),
		}, now)
		s.notifier.OnEscalationExhausted(ctx, &ticket)
		s.logger.Warn("escalation exhausted",
			zap.String("request_id", ticket.RequestID),
			zap.Int("level", ticket.CurrentLevel))
		return outcomeExhausted, nil
	}

	added, err := s.assignment.Broaden(ctx, &ticket, level, now)
	if err != nil {
		return "", err
	}
	ticket.CurrentLevel = level.Level
	ticket.DeadlineAt = now.Add(level.Timeout())
	ticket.TargetRoles = level.Roles
	ticket.UpdatedAt = now

	s.activity.Update(ctx, ticket.RequestID, nil, domain.Update{
		Type:    domain.UpdateEscalated,
		Title:   fmt.Sprintf("Escalated to level %d", level.Level),
		Content: fmt.Sprintf("%d new candidate(s) with roles %s", len(added), joinRoles(level.Roles)),
	}, now)
	s.notifier.OnEscalated(ctx, &ticket, added)
	s.logger.Info("request escalated",
		zap.String("request_id", ticket.RequestID),
		zap.Int("level", level.Level),
		zap.Strings("added", added),
		zap.Time("deadline_at", ticket.DeadlineAt))
	return outcomeEscalated, nil
}

func joinRoles(roles []domain.OrgRole) string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}
