package domain

import (
	"time"

	"github.com/google/uuid"
)

// RecommendationType — горизонт рекомендации.
type RecommendationType string

const (
	RecommendationImmediateAction    RecommendationType = "immediate_action"
	RecommendationShortTerm          RecommendationType = "short_term"
	RecommendationLongTerm           RecommendationType = "long_term"
	RecommendationProcessImprovement RecommendationType = "process_improvement"
	RecommendationTechnologyUpgrade  RecommendationType = "technology_upgrade"
)

// PrimaryFocusMarker — префикс описания главной рекомендации.
const PrimaryFocusMarker = "[PRIMARY FOCUS] "

// Recommendation — стратегическая рекомендация по одному ограничению.
//
// ActionItems принадлежат рекомендации и отдельно не хранятся.
type Recommendation struct {
	ID uuid.UUID `json:"id"`

	TenantID string `json:"tenant_id"`

	// ConstraintID — слабая ссылка на ограничение.
	ConstraintID uuid.UUID `json:"constraint_id"`

	ConstraintType ConstraintType `json:"constraint_type"`

	Type RecommendationType `json:"recommendation_type"`

	Title string `json:"title"`

	Description string `json:"description"`

	ExpectedImpact string `json:"expected_impact"`

	ActionItems []ActionItem `json:"action_items"`

	// Priority — приоритет [1,10].
	Priority int `json:"priority"`

	// EstimatedROIPercentage — прогноз ROI [0,300].
	EstimatedROIPercentage float64 `json:"estimated_roi_percentage"`

	ImplementationTimelineDays int `json:"implementation_timeline_days"`

	RiskScore float64 `json:"risk_score"`

	ComplexityScore float64 `json:"complexity_score"`

	RiskFactors []string `json:"risk_factors"`

	SuccessMetrics []string `json:"success_metrics"`

	// IsPrimaryFocus — единственная рекомендация, на которой стоит сосредоточиться.
	IsPrimaryFocus bool `json:"is_primary_focus"`

	Status RecommendationStatus `json:"status"`

	CreatedAt time.Time `json:"created_at"`
}

// ActionItem — конкретное действие внутри рекомендации.
type ActionItem struct {
	Title                  string   `json:"title"`
	Description            string   `json:"description"`
	EstimatedEffortHours   float64  `json:"estimated_effort_hours"`
	RequiredResources      []string `json:"required_resources"`
	Dependencies           []string `json:"dependencies,omitempty"`
	ExpectedCompletionDays int      `json:"expected_completion_days"`
}
