package recommendation

import (
	"math"

	"github.com/shaiso/Keystone/internal/domain"
)

const (
	maxROI          = 300.0
	defaultBaseROI  = 50.0
	defaultTimeline = 60
	defaultComplex  = 50.0
	baseRisk        = 30.0
	basePriority    = 5.0
)

var baseROIByType = map[domain.ConstraintType]float64{
	domain.ConstraintCashFlow:             150,
	domain.ConstraintCollectionEfficiency: 120,
	domain.ConstraintCreditRisk:           100,
	domain.ConstraintOperational:          80,
	domain.ConstraintCustomerSegment:      70,
	domain.ConstraintProcess:              90,
	domain.ConstraintMarket:               60,
	domain.ConstraintResource:             75,
}

var severityROIMultiplier = map[domain.Severity]float64{
	domain.SeverityCritical: 1.5,
	domain.SeverityHigh:     1.3,
	domain.SeverityMedium:   1.1,
	domain.SeverityLow:      1.0,
}

var timelineByType = map[domain.ConstraintType]int{
	domain.ConstraintCashFlow:             30,
	domain.ConstraintCollectionEfficiency: 45,
	domain.ConstraintCreditRisk:           60,
	domain.ConstraintOperational:          40,
	domain.ConstraintCustomerSegment:      90,
	domain.ConstraintProcess:              50,
	domain.ConstraintMarket:               120,
	domain.ConstraintResource:             60,
}

var complexityByType = map[domain.ConstraintType]float64{
	domain.ConstraintCashFlow:             30,
	domain.ConstraintCollectionEfficiency: 40,
	domain.ConstraintCreditRisk:           60,
	domain.ConstraintOperational:          50,
	domain.ConstraintCustomerSegment:      70,
	domain.ConstraintProcess:              65,
	domain.ConstraintMarket:               80,
	domain.ConstraintResource:             45,
}

var severityPriorityBonus = map[domain.Severity]float64{
	domain.SeverityCritical: 4,
	domain.SeverityHigh:     3,
	domain.SeverityMedium:   1.5,
	domain.SeverityLow:      0,
}

// Projection — прогноз эффекта от устранения ограничения.
type Projection struct {
	ROIPercentage   float64
	TimelineDays    int
	RiskScore       float64
	ComplexityScore float64
}

// Project вычисляет ROI, срок, риск и сложность для ограничения.
//
// ROI дисконтируется риском и сложностью и всегда лежит в [0,300].
func Project(c *domain.Constraint) Projection {
	risk := Risk(c)
	complexity := Complexity(c)

	roi := BaseROI(c) * (1 - risk/200) * (1 - complexity/200)

	return Projection{
		ROIPercentage:   clamp(math.Round(roi), 0, maxROI),
		TimelineDays:    Timeline(c),
		RiskScore:       risk,
		ComplexityScore: complexity,
	}
}

// BaseROI — ROI до учёта риска и сложности.
func BaseROI(c *domain.Constraint) float64 {
	roi, ok := baseROIByType[c.Type]
	if !ok {
		roi = defaultBaseROI
	}
	if m, ok := severityROIMultiplier[c.Severity]; ok {
		roi *= m
	}

	impact := c.ImpactScore
	if math.IsNaN(impact) || impact < 0 {
		impact = 0
	}
	roi *= 1 + impact/200

	return clamp(roi, 0, maxROI)
}

// Timeline — срок реализации в днях. Для critical сокращается на 20%.
func Timeline(c *domain.Constraint) int {
	days, ok := timelineByType[c.Type]
	if !ok {
		days = defaultTimeline
	}
	if c.Severity == domain.SeverityCritical {
		return int(math.Round(float64(days) * 0.8))
	}
	return days
}

// Risk — риск реализации (0–100).
func Risk(c *domain.Constraint) float64 {
	risk := baseRisk

	switch c.Severity {
	case domain.SeverityCritical:
		risk -= 10
	case domain.SeverityLow:
		risk += 10
	}

	risk += math.Min(20, float64(moduleCount(c))*5)

	if c.Type == domain.ConstraintProcess {
		risk += 15
	}

	return clamp(risk, 0, 100)
}

// Complexity — сложность реализации (0–100).
func Complexity(c *domain.Constraint) float64 {
	complexity, ok := complexityByType[c.Type]
	if !ok {
		complexity = defaultComplex
	}
	complexity += math.Min(20, float64(moduleCount(c)-1)*10)
	return clamp(complexity, 0, 100)
}

// Priority — приоритет рекомендации [1,10].
//
//	5 + severity bonus + ROI/50 − risk/200 (+0.5 при сроке < 30 дней)
func Priority(c *domain.Constraint, p Projection) int {
	priority := basePriority + severityPriorityBonus[c.Severity]
	priority += p.ROIPercentage / 50
	priority -= p.RiskScore / 200
	if p.TimelineDays < 30 {
		priority += 0.5
	}
	return int(clamp(math.Round(priority), 1, 10))
}

// RecommendationType выбирает горизонт рекомендации по сроку и типу ограничения.
func RecommendationType(c *domain.Constraint, p Projection) domain.RecommendationType {
	switch {
	case p.TimelineDays < 14:
		return domain.RecommendationImmediateAction
	case p.TimelineDays < 60:
		return domain.RecommendationShortTerm
	case c.Type == domain.ConstraintProcess:
		return domain.RecommendationProcessImprovement
	case c.Type == domain.ConstraintOperational:
		return domain.RecommendationTechnologyUpgrade
	default:
		return domain.RecommendationLongTerm
	}
}

// moduleCount — число затронутых модулей, минимум 1.
func moduleCount(c *domain.Constraint) int {
	if n := len(c.AffectedModules); n > 0 {
		return n
	}
	return 1
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
