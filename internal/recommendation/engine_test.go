package recommendation

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Keystone/internal/domain"
)

func newTestEngine() *Engine {
	return New(Config{Now: func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }})
}

func cashFlowConstraint() domain.Constraint {
	return domain.Constraint{
		ID:          uuid.New(),
		TenantID:    "t1",
		Type:        domain.ConstraintCashFlow,
		Severity:    domain.SeverityCritical,
		ImpactScore: 60,
		Description: "Cash flow constraint: 500000 outstanding.",
		IdentifiedData: map[string]any{
			"total_outstanding": 500000.0,
			"overdue_count":     25,
			"avg_overdue_days":  50.0,
		},
		AffectedModules: []string{
			domain.ModuleInvoiceManagement,
			domain.ModulePaymentIntegration,
			domain.ModuleCreditScoring,
		},
	}
}

// --- Projection Tests ---

func TestProject_CriticalCashFlow(t *testing.T) {
	c := cashFlowConstraint()
	p := Project(&c)

	assert.Equal(t, 35.0, p.RiskScore)
	assert.Equal(t, 50.0, p.ComplexityScore)
	assert.Equal(t, 24, p.TimelineDays)
	// 150 * 1.5 * 1.3 = 292.5; * 0.825 * 0.75 = 180.98
	assert.Equal(t, 181.0, p.ROIPercentage)
	assert.Equal(t, 10, Priority(&c, p))
}

func TestProject_LowOperational(t *testing.T) {
	c := domain.Constraint{
		Type:            domain.ConstraintOperational,
		Severity:        domain.SeverityLow,
		ImpactScore:     20,
		AffectedModules: []string{domain.ModuleInvoiceManagement, domain.ModuleMilestoneWorkflows},
	}
	p := Project(&c)

	assert.Equal(t, 50.0, p.RiskScore)
	assert.Equal(t, 60.0, p.ComplexityScore)
	assert.Equal(t, 40, p.TimelineDays)
	assert.Equal(t, 46.0, p.ROIPercentage)
	assert.Equal(t, 6, Priority(&c, p))
	assert.Equal(t, domain.RecommendationShortTerm, RecommendationType(&c, p))
}

func TestROI_AlwaysInRange(t *testing.T) {
	types := []domain.ConstraintType{
		domain.ConstraintCashFlow,
		domain.ConstraintCreditRisk,
		domain.ConstraintMarket,
		"unknown",
	}
	impacts := []float64{-50, 0, 100, 500, 1e9, math.NaN()}
	severities := []domain.Severity{domain.SeverityCritical, domain.SeverityLow, ""}

	for _, typ := range types {
		for _, impact := range impacts {
			for _, sev := range severities {
				c := domain.Constraint{Type: typ, Severity: sev, ImpactScore: impact}
				p := Project(&c)
				assert.GreaterOrEqual(t, p.ROIPercentage, 0.0)
				assert.LessOrEqual(t, p.ROIPercentage, 300.0)

				prio := Priority(&c, p)
				assert.GreaterOrEqual(t, prio, 1)
				assert.LessOrEqual(t, prio, 10)
			}
		}
	}

	c := cashFlowConstraint()
	c.ImpactScore = 500
	assert.LessOrEqual(t, BaseROI(&c), 300.0)
}

func TestRisk_Clamped(t *testing.T) {
	c := domain.Constraint{
		Type:            domain.ConstraintProcess,
		Severity:        domain.SeverityLow,
		AffectedModules: make([]string, 9),
	}
	// 30 + 10 + 20 + 15
	assert.Equal(t, 75.0, Risk(&c))
	assert.Equal(t, 85.0, Complexity(&c))
}

func TestRecommendationType(t *testing.T) {
	tests := []struct {
		typ  domain.ConstraintType
		days int
		want domain.RecommendationType
	}{
		{domain.ConstraintCashFlow, 7, domain.RecommendationImmediateAction},
		{domain.ConstraintCashFlow, 30, domain.RecommendationShortTerm},
		{domain.ConstraintProcess, 60, domain.RecommendationProcessImprovement},
		{domain.ConstraintOperational, 90, domain.RecommendationTechnologyUpgrade},
		{domain.ConstraintMarket, 120, domain.RecommendationLongTerm},
	}

	for _, tt := range tests {
		c := domain.Constraint{Type: tt.typ}
		assert.Equal(t, tt.want, RecommendationType(&c, Projection{TimelineDays: tt.days}))
	}
}

// --- Action Item Tests ---

func TestActionItems_UseIdentifiedData(t *testing.T) {
	op := domain.Constraint{
		Type:           domain.ConstraintOperational,
		IdentifiedData: map[string]any{"draft_invoices": 42, "avg_send_delay_days": 3.5},
	}
	items := ActionItems(&op)
	require.Len(t, items, 3)
	assert.Equal(t, "Process 42 Draft Invoices", items[0].Title)
	assert.Equal(t, 21.0, items[0].EstimatedEffortHours)

	credit := domain.Constraint{
		Type:           domain.ConstraintCreditRisk,
		IdentifiedData: map[string]any{"high_risk_count": 8, "avg_score": 700.0},
	}
	items = ActionItems(&credit)
	require.Len(t, items, 1)
	assert.Equal(t, "Review Credit Limits for 8 High-Risk Customers", items[0].Title)

	cash := cashFlowConstraint()
	items = ActionItems(&cash)
	require.Len(t, items, 4)
	assert.Equal(t, "Prioritize Collection of Top 5 Overdue Invoices", items[0].Title)
	assert.Equal(t, []string{"Credit risk assessment"}, items[3].Dependencies)

	unknown := domain.Constraint{Type: domain.ConstraintMarket}
	assert.Equal(t, "Conduct Detailed Root Cause Analysis", ActionItems(&unknown)[0].Title)
}

// --- Engine Tests ---

func TestGenerate(t *testing.T) {
	c := cashFlowConstraint()
	rec := newTestEngine().Generate("t1", &c)

	assert.Equal(t, "t1", rec.TenantID)
	assert.Equal(t, c.ID, rec.ConstraintID)
	assert.Equal(t, domain.ConstraintCashFlow, rec.ConstraintType)
	assert.Equal(t, domain.RecommendationStatusPending, rec.Status)
	assert.Equal(t, "Improve Cash Flow Through Accelerated Collections", rec.Title)
	assert.Contains(t, rec.Description, c.Description)
	assert.NotEmpty(t, rec.ActionItems)
	assert.NotEmpty(t, rec.SuccessMetrics)
	assert.Contains(t, rec.RiskFactors, "Business-critical implementation requires careful planning")
	assert.False(t, rec.IsPrimaryFocus)
}

func TestGenerateAll_SortedWithPrimaryFocus(t *testing.T) {
	constraints := []domain.Constraint{
		{ID: uuid.New(), Type: domain.ConstraintOperational, Severity: domain.SeverityLow, ImpactScore: 10},
		cashFlowConstraint(),
		{ID: uuid.New(), Type: domain.ConstraintCustomerSegment, Severity: domain.SeverityMedium, ImpactScore: 40},
	}

	recs := newTestEngine().GenerateAll("t1", constraints)
	require.Len(t, recs, 3)

	for i := 1; i < len(recs); i++ {
		assert.GreaterOrEqual(t, recs[i-1].Priority, recs[i].Priority)
	}

	assert.True(t, recs[0].IsPrimaryFocus)
	assert.True(t, strings.HasPrefix(recs[0].Description, domain.PrimaryFocusMarker))
	assert.Equal(t, domain.ConstraintCashFlow, recs[0].ConstraintType)

	for _, r := range recs[1:] {
		assert.False(t, r.IsPrimaryFocus)
		assert.False(t, strings.HasPrefix(r.Description, domain.PrimaryFocusMarker))
	}
}

func TestGenerateAll_Empty(t *testing.T) {
	assert.Empty(t, newTestEngine().GenerateAll("t1", nil))
}

func TestMarkPrimary_Idempotent(t *testing.T) {
	rec := domain.Recommendation{Description: "x"}
	MarkPrimary(&rec)
	MarkPrimary(&rec)
	assert.Equal(t, domain.PrimaryFocusMarker+"x", rec.Description)
}
