package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Keystone/internal/orchestration"
	"github.com/shaiso/Keystone/internal/telemetry"
)

const (
	defaultUserID      = "system"
	defaultConcurrency = 4
)

// ErrNoCronExpr — планировщик запущен без расписания.
var ErrNoCronExpr = errors.New("cron expression is required")

// Orchestrator — то, что планировщик запускает для каждого тенанта.
type Orchestrator interface {
	AutoOrchestrate(ctx context.Context, tenantID, userID string) (*orchestration.AutoOrchestrationResult, error)
}

// Leader — выбор лидера между несколькими hub-процессами.
// Реализуется *repo.AdvisoryLock.
type Leader interface {
	TryAcquire(ctx context.Context) (bool, error)
}

// Config — конфигурация Scheduler.
type Config struct {
	Orchestrator Orchestrator

	// Leader — опционально. Без него тик выполняет каждый процесс.
	Leader Leader

	// CronExpr — расписание тиков.
	CronExpr string

	// Tenants — тенанты, обрабатываемые на каждом тике.
	Tenants []string

	// UserID — от чьего имени запускаются workflow (default: system).
	UserID string

	// Concurrency — сколько тенантов обрабатывается одновременно (default: 4).
	Concurrency int

	Logger *slog.Logger
}

// TickResult — итог одного тика.
type TickResult struct {
	// Skipped — процесс не лидер, тенанты не обрабатывались.
	Skipped bool

	Tenants            int
	Failed             int
	WorkflowsTriggered int
}

// Scheduler периодически запускает auto-orchestration по тенантам.
type Scheduler struct {
	orchestrator Orchestrator
	leader       Leader
	cronExpr     string
	tenants      []string
	userID       string
	concurrency  int
	logger       *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	s := &Scheduler{
		orchestrator: cfg.Orchestrator,
		leader:       cfg.Leader,
		cronExpr:     cfg.CronExpr,
		tenants:      cfg.Tenants,
		userID:       cfg.UserID,
		concurrency:  cfg.Concurrency,
		logger:       cfg.Logger,
	}
	if s.userID == "" {
		s.userID = defaultUserID
	}
	if s.concurrency <= 0 {
		s.concurrency = defaultConcurrency
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Start регистрирует тик по расписанию и запускает cron.
// Тик, не успевший завершиться к следующему срабатыванию, не дублируется.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cronExpr == "" {
		return ErrNoCronExpr
	}
	if err := ValidateCronExpr(s.cronExpr); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	logger := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(s.cronExpr, func() {
		s.Tick(ctx)
	}); err != nil {
		return fmt.Errorf("add cron job: %w", err)
	}

	c.Start()
	s.cron = c

	s.logger.Info("scheduler started", "cron", s.cronExpr, "tenants", len(s.tenants))
	return nil
}

// Stop останавливает cron и дожидается тика в полёте.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Tick выполняет auto-orchestration для всех тенантов.
//
// Ошибки одного тенанта не блокируют обработку остальных.
// Если настроен Leader, тик выполняет только лидер.
func (s *Scheduler) Tick(ctx context.Context) TickResult {
	if s.leader != nil {
		ok, err := s.leader.TryAcquire(ctx)
		if err != nil {
			s.logger.Warn("leader election failed, skipping tick", "error", err)
			return TickResult{Skipped: true}
		}
		if !ok {
			s.logger.Debug("not a leader, skipping tick")
			return TickResult{Skipped: true}
		}
	}

	telemetry.SchedulerTicks.Inc()

	res := TickResult{Tenants: len(s.tenants)}
	if len(s.tenants) == 0 {
		return res
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.concurrency)

	for _, tenantID := range s.tenants {
		g.Go(func() error {
			triggered, err := s.processTenant(ctx, tenantID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				telemetry.SchedulerTenantFailures.Inc()
				s.logger.Error("failed to auto-orchestrate tenant",
					"tenant_id", tenantID,
					"error", err,
				)
				return nil
			}
			res.WorkflowsTriggered += triggered
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("scheduler tick completed",
		"tenants", res.Tenants,
		"failed", res.Failed,
		"workflows_triggered", res.WorkflowsTriggered,
	)
	return res
}

// processTenant запускает auto-orchestration одного тенанта.
// Паника внутри не роняет тик.
func (s *Scheduler) processTenant(ctx context.Context, tenantID string) (triggered int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("auto-orchestrate panicked: %v", r)
		}
	}()

	out, err := s.orchestrator.AutoOrchestrate(ctx, tenantID, s.userID)
	if err != nil {
		return 0, err
	}
	return out.WorkflowsTriggered, nil
}

// Next возвращает время следующего тика.
func (s *Scheduler) Next(from time.Time) (time.Time, error) {
	return NextRun(s.cronExpr, from)
}
