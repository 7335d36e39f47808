package constraint

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Keystone/internal/domain"
	"github.com/shaiso/Keystone/internal/telemetry"
)

// DataSources — семейства метрик, опрашиваемые при анализе.
var DataSources = []string{
	"invoices",
	"payments",
	"credit_profiles",
	"customer_data",
	"operational_metrics",
}

// Analyzer — Constraint Analysis Engine.
//
// Analyze запускает шесть независимых анализаторов параллельно.
// Каждый пишет только в свой слот, errgroup.Wait служит барьером.
// Ошибка любого запроса метрик прерывает анализ целиком: частичный
// результат не возвращается.
type Analyzer struct {
	source MetricsSource
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// Config — конфигурация Analyzer.
type Config struct {
	Source MetricsSource

	// Store — опциональное хранилище ограничений.
	// Ошибка сохранения логируется и не влияет на результат.
	Store Store

	Logger *slog.Logger
	Now    func() time.Time
}

// New создаёт Analyzer.
func New(cfg Config) *Analyzer {
	a := &Analyzer{
		source: cfg.Source,
		store:  cfg.Store,
		logger: cfg.Logger,
		now:    cfg.Now,
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

// analyzerFunc — один анализатор: запрос метрик и их оценка.
type analyzerFunc func(ctx context.Context, tenantID string, now time.Time) (*domain.Constraint, error)

type namedAnalyzer struct {
	name string
	run  analyzerFunc
}

// analyzers возвращает анализаторы в фиксированном порядке.
func (a *Analyzer) analyzers() []namedAnalyzer {
	src := a.source
	return []namedAnalyzer{
		{string(domain.ConstraintCashFlow), func(ctx context.Context, tenantID string, now time.Time) (*domain.Constraint, error) {
			m, err := src.CashFlow(ctx, tenantID)
			if err != nil {
				return nil, err
			}
			return analyzeCashFlow(tenantID, m, now), nil
		}},
		{string(domain.ConstraintCollectionEfficiency), func(ctx context.Context, tenantID string, now time.Time) (*domain.Constraint, error) {
			m, err := src.Collection(ctx, tenantID)
			if err != nil {
				return nil, err
			}
			return analyzeCollection(tenantID, m, now), nil
		}},
		{string(domain.ConstraintCreditRisk), func(ctx context.Context, tenantID string, now time.Time) (*domain.Constraint, error) {
			m, err := src.CreditRisk(ctx, tenantID)
			if err != nil {
				return nil, err
			}
			return analyzeCreditRisk(tenantID, m, now), nil
		}},
		{string(domain.ConstraintOperational), func(ctx context.Context, tenantID string, now time.Time) (*domain.Constraint, error) {
			m, err := src.Operational(ctx, tenantID)
			if err != nil {
				return nil, err
			}
			return analyzeOperational(tenantID, m, now), nil
		}},
		{string(domain.ConstraintCustomerSegment), func(ctx context.Context, tenantID string, now time.Time) (*domain.Constraint, error) {
			m, err := src.CustomerConcentration(ctx, tenantID)
			if err != nil {
				return nil, err
			}
			return analyzeCustomerSegment(tenantID, m, now), nil
		}},
		{string(domain.ConstraintProcess), func(ctx context.Context, tenantID string, now time.Time) (*domain.Constraint, error) {
			m, err := src.ProcessCycle(ctx, tenantID)
			if err != nil {
				return nil, err
			}
			return analyzeProcess(tenantID, m, now), nil
		}},
	}
}

// Analyze выполняет полный анализ ограничений тенанта.
//
// Возвращает *DataError (errors.Is(err, ErrConstraintData)), если хотя бы
// один анализатор не получил метрики.
func (a *Analyzer) Analyze(ctx context.Context, tenantID string) (*domain.AnalysisResult, error) {
	if a.source == nil {
		return nil, ErrNoMetricsSource
	}

	logger := telemetry.WithTenantID(a.logger, tenantID)
	logger.Info("constraint analysis started")

	start := time.Now()
	now := a.now()

	list := a.analyzers()
	slots := make([]*domain.Constraint, len(list))

	g, gctx := errgroup.WithContext(ctx)
	for i, an := range list {
		g.Go(func() error {
			c, err := an.run(gctx, tenantID, now)
			if err != nil {
				return &DataError{Analyzer: an.name, TenantID: tenantID, Err: err}
			}
			slots[i] = c
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		telemetry.ConstraintAnalyses.WithLabelValues("error").Inc()
		logger.Error("constraint analysis failed", "error", err)
		return nil, err
	}

	constraints := make([]domain.Constraint, 0, len(slots))
	for _, c := range slots {
		if c != nil {
			constraints = append(constraints, *c)
		}
	}

	Amplify(constraints)

	slices.SortStableFunc(constraints, func(x, y domain.Constraint) int {
		switch {
		case x.ImpactScore > y.ImpactScore:
			return -1
		case x.ImpactScore < y.ImpactScore:
			return 1
		default:
			return 0
		}
	})

	var total float64
	for _, c := range constraints {
		total += c.ImpactScore
		telemetry.ConstraintsIdentified.WithLabelValues(string(c.Type), string(c.Severity)).Inc()
	}

	elapsed := time.Since(start)

	result := &domain.AnalysisResult{
		TenantID:          tenantID,
		Constraints:       constraints,
		TotalImpactScore:  total,
		AnalysisTimestamp: now,
		DataSources:       slices.Clone(DataSources),
		ConfidenceScore:   Confidence(len(constraints), elapsed),
		Duration:          elapsed,
	}
	if len(constraints) > 0 {
		primary := constraints[0]
		result.PrimaryConstraint = &primary

		logger.Info("primary constraint identified",
			"constraint_type", primary.Type,
			"severity", primary.Severity,
			"impact_score", primary.ImpactScore,
		)
	}

	if a.store != nil && len(constraints) > 0 {
		if err := a.store.SaveConstraints(ctx, constraints); err != nil {
			logger.Warn("failed to persist constraints", "error", err)
		}
	}

	telemetry.ConstraintAnalyses.WithLabelValues("success").Inc()
	telemetry.AnalysisDuration.Observe(elapsed.Seconds())

	logger.Info("constraint analysis completed",
		"constraints", len(constraints),
		"total_impact_score", total,
		"duration", elapsed,
	)

	return result, nil
}
