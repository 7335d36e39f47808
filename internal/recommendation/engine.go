package recommendation

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Keystone/internal/domain"
)

// Store сохраняет сгенерированные рекомендации.
type Store interface {
	SaveRecommendations(ctx context.Context, recs []domain.Recommendation) error
}

// Engine — Recommendation Engine.
//
// Превращает ограничение в план действий с прогнозом ROI и сроков.
// Вычисления детерминированы и не завершаются ошибкой: значения вне
// диапазона обрезаются.
type Engine struct {
	logger *slog.Logger
	now    func() time.Time
}

// Config — конфигурация Engine.
type Config struct {
	Logger *slog.Logger
	Now    func() time.Time
}

// New создаёт Engine.
func New(cfg Config) *Engine {
	e := &Engine{
		logger: cfg.Logger,
		now:    cfg.Now,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Generate формирует рекомендацию для одного ограничения.
func (e *Engine) Generate(tenantID string, c *domain.Constraint) domain.Recommendation {
	p := Project(c)
	priority := Priority(c, p)

	rec := domain.Recommendation{
		ID:                         uuid.New(),
		TenantID:                   tenantID,
		ConstraintID:               c.ID,
		ConstraintType:             c.Type,
		Type:                       RecommendationType(c, p),
		Title:                      title(c),
		Description:                description(c, p),
		ExpectedImpact:             expectedImpact(c, p),
		ActionItems:                ActionItems(c),
		Priority:                   priority,
		EstimatedROIPercentage:     p.ROIPercentage,
		ImplementationTimelineDays: p.TimelineDays,
		RiskScore:                  p.RiskScore,
		ComplexityScore:            p.ComplexityScore,
		RiskFactors:                riskFactors(c, p),
		SuccessMetrics:             successMetrics(c),
		Status:                     domain.RecommendationStatusPending,
		CreatedAt:                  e.now(),
	}

	e.logger.Debug("recommendation generated",
		"tenant_id", tenantID,
		"constraint_type", c.Type,
		"priority", priority,
		"roi", p.ROIPercentage,
	)

	return rec
}

// GenerateAll формирует рекомендации для набора ограничений.
//
// Результат отсортирован по убыванию приоритета (стабильно).
// Первая рекомендация помечается как главная: IsPrimaryFocus и
// префикс PrimaryFocusMarker в описании.
func (e *Engine) GenerateAll(tenantID string, constraints []domain.Constraint) []domain.Recommendation {
	recs := make([]domain.Recommendation, 0, len(constraints))
	for i := range constraints {
		recs = append(recs, e.Generate(tenantID, &constraints[i]))
	}

	slices.SortStableFunc(recs, func(a, b domain.Recommendation) int {
		return b.Priority - a.Priority
	})

	if len(recs) > 0 {
		MarkPrimary(&recs[0])
		e.logger.Info("primary focus selected",
			"tenant_id", tenantID,
			"constraint_type", recs[0].ConstraintType,
			"priority", recs[0].Priority,
		)
	}

	return recs
}

// MarkPrimary помечает рекомендацию как главную. Повторный вызов ничего не меняет.
func MarkPrimary(rec *domain.Recommendation) {
	rec.IsPrimaryFocus = true
	if !strings.HasPrefix(rec.Description, domain.PrimaryFocusMarker) {
		rec.Description = domain.PrimaryFocusMarker + rec.Description
	}
}
