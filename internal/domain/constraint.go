package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConstraintType — категория узкого места (Theory of Constraints).
type ConstraintType string

const (
	ConstraintCashFlow             ConstraintType = "cash_flow"
	ConstraintCollectionEfficiency ConstraintType = "collection_efficiency"
	ConstraintCreditRisk           ConstraintType = "credit_risk"
	ConstraintOperational          ConstraintType = "operational"
	ConstraintCustomerSegment      ConstraintType = "customer_segment"
	ConstraintProcess              ConstraintType = "process"
	ConstraintMarket               ConstraintType = "market"
	ConstraintResource             ConstraintType = "resource"
)

// Severity — тяжесть ограничения.
//
// Всегда выводится из identified_data по порогам конкретного типа.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Constraint — выявленное ограничение пропускной способности тенанта.
type Constraint struct {
	// ID — уникальный идентификатор.
	ID uuid.UUID `json:"id"`

	// TenantID — тенант, для которого проведён анализ.
	TenantID string `json:"tenant_id"`

	// Type — тип ограничения.
	Type ConstraintType `json:"constraint_type"`

	// Severity — тяжесть, вычисленная из метрик.
	Severity Severity `json:"severity"`

	// Title — короткое название.
	Title string `json:"title"`

	// Description — человекочитаемое описание с конкретными цифрами.
	Description string `json:"description"`

	// ImpactScore — взвешенная оценка влияния.
	// До амплификации в диапазоне [0,100], после может превышать 100.
	ImpactScore float64 `json:"impact_score"`

	// IdentifiedData — метрики, на основании которых выявлено ограничение.
	IdentifiedData map[string]any `json:"identified_data"`

	// RootCauses — упорядоченный список причин.
	RootCauses []string `json:"root_causes"`

	// AffectedModules — модули платформы, затронутые ограничением.
	AffectedModules []string `json:"affected_modules"`

	// Status — статус ограничения.
	Status ConstraintStatus `json:"status"`

	// CreatedAt — время выявления.
	CreatedAt time.Time `json:"created_at"`
}

// Float возвращает числовое значение из IdentifiedData.
// Возвращает 0, если ключ отсутствует или не число.
func (c *Constraint) Float(key string) float64 {
	if c == nil || c.IdentifiedData == nil {
		return 0
	}
	switch v := c.IdentifiedData[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case int32:
		return float64(v)
	}
	return 0
}

// AnalysisResult — результат анализа ограничений для тенанта.
type AnalysisResult struct {
	TenantID string `json:"tenant_id"`

	// Constraints — ограничения, отсортированные по убыванию ImpactScore.
	Constraints []Constraint `json:"constraints"`

	// PrimaryConstraint — главное ограничение. Nil, если ограничений нет.
	PrimaryConstraint *Constraint `json:"primary_constraint"`

	// TotalImpactScore — сумма итоговых оценок.
	TotalImpactScore float64 `json:"total_impact_score"`

	AnalysisTimestamp time.Time `json:"analysis_timestamp"`

	// DataSources — опрошенные семейства метрик.
	DataSources []string `json:"data_sources"`

	// ConfidenceScore — уверенность в результате [0,100].
	ConfidenceScore float64 `json:"confidence_score"`

	// Duration — длительность анализа.
	Duration time.Duration `json:"duration"`
}
