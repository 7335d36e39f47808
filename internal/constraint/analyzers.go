package constraint

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Keystone/internal/domain"
)

// Пороги активации и тяжести.
const (
	cashFlowCritical      = 500000.0
	cashFlowHigh          = 200000.0
	cashFlowMedium        = 100000.0
	cashFlowOverdueCount  = 10
	collectionBenchmark   = 30.0 // средний срок сбора по отрасли, дни
	creditDefaultAvgScore = 700.0
	maxOverdueInvoices    = 5
)

// newConstraint заполняет общие поля ограничения.
func newConstraint(tenantID string, typ domain.ConstraintType, title string, now time.Time) *domain.Constraint {
	return &domain.Constraint{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Type:      typ,
		Title:     title,
		Status:    domain.ConstraintStatusActive,
		CreatedAt: now,
	}
}

// rootCauses возвращает найденные причины или fallback, если правил не сработало.
func rootCauses(causes []string, fallback string) []string {
	if len(causes) == 0 {
		return []string{fallback}
	}
	return causes
}

// analyzeCashFlow — задолженность и просрочка.
func analyzeCashFlow(tenantID string, m *CashFlowMetrics, now time.Time) *domain.Constraint {
	if m == nil {
		return nil
	}
	if m.TotalOutstanding <= cashFlowMedium && m.OverdueCount <= cashFlowOverdueCount {
		return nil
	}

	trend := m.TrendPercentage()
	outstanding := m.TotalOutstanding
	if outstanding <= 0 {
		outstanding = 1
	}
	concentration := m.LargestOutstanding / outstanding

	scores := Score(ImpactInputs{
		BaseAmount:        m.TotalOutstanding,
		AffectedCount:     float64(m.OverdueCount),
		AvgDelay:          m.AvgOverdueDays,
		TrendPercentage:   trend,
		ConcentrationRisk: concentration,
	})

	var causes []string
	if m.AvgOverdueDays > 45 {
		causes = append(causes, "Extended payment delays beyond industry norms")
	}
	if trend > 20 {
		causes = append(causes, "Rapidly deteriorating collection performance")
	}
	if concentration > 0.25 {
		causes = append(causes, "High concentration in largest receivable accounts")
	}

	direction := "decreasing"
	if trend > 0 {
		direction = "increasing"
	}

	invoices := m.OverdueInvoices
	if len(invoices) > maxOverdueInvoices {
		invoices = invoices[:maxOverdueInvoices]
	}
	overdue := make([]map[string]any, 0, len(invoices))
	for _, inv := range invoices {
		overdue = append(overdue, map[string]any{
			"invoice_id":   inv.InvoiceID,
			"customer_id":  inv.CustomerID,
			"amount_due":   inv.AmountDue,
			"days_overdue": inv.DaysOverdue,
		})
	}

	c := newConstraint(tenantID, domain.ConstraintCashFlow, "Cash Flow Constraint", now)
	c.Severity = severityByAmount(m.TotalOutstanding, cashFlowCritical, cashFlowHigh, cashFlowMedium)
	c.ImpactScore = scores.Total
	c.Description = fmt.Sprintf(
		"Cash flow constraint: %.0f outstanding across %d overdue invoices (%.1f%% %s). Average %.0f days overdue affecting %d customers.",
		m.TotalOutstanding, m.OverdueCount, math.Abs(trend), direction, math.Round(m.AvgOverdueDays), m.AffectedCustomers,
	)
	c.IdentifiedData = map[string]any{
		"total_outstanding":    m.TotalOutstanding,
		"overdue_count":        m.OverdueCount,
		"avg_overdue_days":     math.Round(m.AvgOverdueDays),
		"total_overdue_amount": m.TotalOverdueAmount,
		"affected_customers":   m.AffectedCustomers,
		"largest_outstanding":  m.LargestOutstanding,
		"p90_outstanding":      m.P90Outstanding,
		"trend_percentage":     round1(trend),
		"urgency_score":        scores.Urgency,
		"trend_score":          scores.Trend,
		"overdue_invoices":     overdue,
	}
	c.RootCauses = rootCauses(causes, "Multiple small delays accumulating into cash flow pressure")
	c.AffectedModules = []string{
		domain.ModuleInvoiceManagement,
		domain.ModulePaymentIntegration,
		domain.ModuleCreditScoring,
	}
	return c
}

// analyzeCollection — скорость и стабильность сбора платежей.
func analyzeCollection(tenantID string, m *CollectionMetrics, now time.Time) *domain.Constraint {
	if m == nil {
		return nil
	}
	avg, fail, std := m.AvgCollectionDays, m.FailureRate, m.CollectionDaysStdDev
	if avg <= 45 && fail <= 5 && std <= 20 {
		return nil
	}

	var severity domain.Severity
	switch {
	case avg > 60 || fail > 10:
		severity = domain.SeverityHigh
	case avg > 50 || fail > 7:
		severity = domain.SeverityMedium
	default:
		severity = domain.SeverityLow
	}

	exceedance := (avg - collectionBenchmark) / collectionBenchmark * 100
	var variability float64
	if avg > 0 {
		variability = std / avg
	}

	scores := Score(ImpactInputs{
		BaseAmount:        avg * 1000,
		AffectedCount:     float64(m.TotalPayments),
		AvgDelay:          avg,
		TrendPercentage:   exceedance,
		ConcentrationRisk: variability,
	})

	var causes []string
	if fail > 10 {
		causes = append(causes, "High payment failure rate indicating process or system issues")
	}
	if std > 20 {
		causes = append(causes, "High variability in collection times suggesting inconsistent processes")
	}
	if avg > 60 {
		causes = append(causes, "Ineffective follow-up procedures")
	}

	c := newConstraint(tenantID, domain.ConstraintCollectionEfficiency, "Collection Efficiency Constraint", now)
	c.Severity = severity
	c.ImpactScore = scores.Total
	c.Description = fmt.Sprintf(
		"Collection efficiency constraint: %.0f days average collection time (%.0f%% above industry benchmark) with %.0f%% failure rate.",
		avg, exceedance, fail,
	)
	c.IdentifiedData = map[string]any{
		"avg_collection_days":             round1(avg),
		"median_collection_days":          round1(m.MedianCollectionDays),
		"p90_collection_days":             round1(m.P90CollectionDays),
		"failure_rate":                    round1(fail),
		"total_payments":                  m.TotalPayments,
		"successful_payments":             m.SuccessfulPayments,
		"variability":                     round1(std),
		"benchmark_exceedance_percentage": round1(exceedance),
		"urgency_score":                   scores.Urgency,
	}
	c.RootCauses = rootCauses(causes, "Suboptimal collection process efficiency")
	c.AffectedModules = []string{
		domain.ModuleCustomerCommunication,
		domain.ModulePaymentIntegration,
		domain.ModuleMilestoneWorkflows,
	}
	return c
}

// analyzeCreditRisk — доля рискованных клиентов и качество скоринга.
func analyzeCreditRisk(tenantID string, m *CreditMetrics, now time.Time) *domain.Constraint {
	if m == nil {
		return nil
	}
	avg := m.AvgScore
	if avg <= 0 {
		avg = creditDefaultAvgScore
	}
	hr := m.HighRiskCount
	conc := m.ConcentrationRisk()

	if hr <= 5 && avg >= 650 && conc <= 0.25 {
		return nil
	}

	var severity domain.Severity
	switch {
	case hr > 10 || avg < 600 || conc > 0.4:
		severity = domain.SeverityCritical
	case hr > 7 || avg < 620 || conc > 0.3:
		severity = domain.SeverityHigh
	default:
		severity = domain.SeverityMedium
	}

	scores := Score(ImpactInputs{
		BaseAmount:        float64(hr) * 10000,
		AffectedCount:     float64(hr),
		AvgDelay:          creditDefaultAvgScore - avg,
		TrendPercentage:   conc * 100,
		ConcentrationRisk: conc,
	})

	var causes []string
	if avg < 620 {
		causes = append(causes, "Below-average customer credit quality")
	}
	if hr > 10 {
		causes = append(causes, "Insufficient credit screening or risk management")
	}

	c := newConstraint(tenantID, domain.ConstraintCreditRisk, "Credit Risk Constraint", now)
	c.Severity = severity
	c.ImpactScore = scores.Total
	c.Description = fmt.Sprintf(
		"Credit risk constraint: %d high-risk customers with average score of %.0f. %.0f%% exposure concentrated in critical accounts.",
		hr, avg, conc*100,
	)
	c.IdentifiedData = map[string]any{
		"high_risk_count":               hr,
		"avg_score":                     math.Round(avg),
		"min_score":                     math.Round(m.MinScore),
		"p25_score":                     math.Round(m.P25Score),
		"total_customers":               m.TotalCustomers,
		"concentration_risk_percentage": round1(conc * 100),
		"critical_exposure":             m.CriticalExposure,
		"urgency_score":                 scores.Urgency,
	}
	c.RootCauses = rootCauses(causes, "Elevated credit risk exposure")
	c.AffectedModules = []string{
		domain.ModuleCreditScoring,
		domain.ModuleFinancingFactoring,
		domain.ModuleMarketingCustomerSuccess,
	}
	return c
}

// analyzeOperational — черновики и задержки отправки счетов.
func analyzeOperational(tenantID string, m *OperationalMetrics, now time.Time) *domain.Constraint {
	if m == nil {
		return nil
	}
	drafts, delay := m.DraftInvoices, m.AvgSendDelayDays
	draftPct := m.DraftPercentage()

	if drafts <= 20 && delay <= 3 && draftPct <= 15 {
		return nil
	}

	var severity domain.Severity
	switch {
	case drafts > 50 || delay > 5:
		severity = domain.SeverityHigh
	case drafts > 30 || delay > 4:
		severity = domain.SeverityMedium
	default:
		severity = domain.SeverityLow
	}

	scores := Score(ImpactInputs{
		BaseAmount:        float64(drafts) * 500,
		AffectedCount:     float64(drafts),
		AvgDelay:          delay,
		TrendPercentage:   draftPct,
		ConcentrationRisk: 0.1,
	})

	var causes []string
	if drafts > 30 {
		causes = append(causes, "Invoice approval bottleneck or workflow inefficiency")
	}
	if delay > 4 {
		causes = append(causes, "Excessive delays in invoice processing")
	}

	total := m.TotalInvoices30d
	if total <= 0 {
		total = 1
	}

	c := newConstraint(tenantID, domain.ConstraintOperational, "Operational Constraint", now)
	c.Severity = severity
	c.ImpactScore = scores.Total
	c.Description = fmt.Sprintf(
		"Operational constraint: %d draft invoices (%.0f%% of total) with %.1f days average send delay.",
		drafts, draftPct, delay,
	)
	c.IdentifiedData = map[string]any{
		"draft_invoices":      drafts,
		"avg_send_delay_days": round1(delay),
		"max_send_delay_days": round1(m.MaxSendDelayDays),
		"draft_percentage":    round1(draftPct),
		"total_invoices_30d":  total,
		"urgency_score":       scores.Urgency,
	}
	c.RootCauses = rootCauses(causes, "Operational process bottlenecks")
	c.AffectedModules = []string{
		domain.ModuleInvoiceManagement,
		domain.ModuleMilestoneWorkflows,
	}
	return c
}

// analyzeCustomerSegment — концентрация задолженности у крупнейших клиентов.
func analyzeCustomerSegment(tenantID string, m *ConcentrationMetrics, now time.Time) *domain.Constraint {
	if m == nil || len(m.TopCustomers) == 0 {
		return nil
	}
	top5 := m.Top5Concentration()
	if top5 <= 0.5 {
		return nil
	}

	var severity domain.Severity
	switch {
	case top5 > 0.7:
		severity = domain.SeverityCritical
	case top5 > 0.6:
		severity = domain.SeverityHigh
	default:
		severity = domain.SeverityMedium
	}

	scores := Score(ImpactInputs{
		BaseAmount:        m.TotalOutstanding * top5,
		AffectedCount:     5,
		AvgDelay:          0,
		TrendPercentage:   top5 * 100,
		ConcentrationRisk: top5,
	})

	c := newConstraint(tenantID, domain.ConstraintCustomerSegment, "Customer Concentration Constraint", now)
	c.Severity = severity
	c.ImpactScore = scores.Total
	c.Description = fmt.Sprintf(
		"High customer concentration risk: Top 5 customers represent %.1f%% of outstanding receivables",
		top5*100,
	)
	c.IdentifiedData = map[string]any{
		"top5_concentration_percentage": round1(top5 * 100),
		"top_customer_id":               m.TopCustomers[0].CustomerID,
		"top_customer_outstanding":      m.TopCustomers[0].Outstanding,
		"total_outstanding":             m.TotalOutstanding,
		"urgency_score":                 scores.Urgency,
	}
	c.RootCauses = []string{"Customer diversification insufficient", "Over-reliance on key accounts"}
	c.AffectedModules = []string{
		domain.ModuleCreditScoring,
		domain.ModuleMarketingCustomerSuccess,
	}
	return c
}

// analyzeProcess — длительность цикла «счёт → оплата» и доля оплаченных счетов.
func analyzeProcess(tenantID string, m *ProcessMetrics, now time.Time) *domain.Constraint {
	if m == nil || m.InvoicesWithPayments+m.InvoicesWithoutPayments == 0 {
		return nil
	}
	days := m.AvgInvoiceToPaymentDays
	rate := m.PaymentRate()

	if days <= 60 && rate >= 0.7 {
		return nil
	}

	var severity domain.Severity
	switch {
	case days > 90 || rate < 0.5:
		severity = domain.SeverityHigh
	case days > 75 || rate < 0.6:
		severity = domain.SeverityMedium
	default:
		severity = domain.SeverityLow
	}

	scores := Score(ImpactInputs{
		BaseAmount:        days * 1000,
		AffectedCount:     float64(m.InvoicesWithoutPayments),
		AvgDelay:          days,
		TrendPercentage:   (1 - rate) * 100,
		ConcentrationRisk: 0.1,
	})

	c := newConstraint(tenantID, domain.ConstraintProcess, "Invoice-to-Payment Process Constraint", now)
	c.Severity = severity
	c.ImpactScore = scores.Total
	c.Description = fmt.Sprintf(
		"Inefficient invoice-to-payment process: %.0f days average, %.0f%% payment rate",
		days, rate*100,
	)
	c.IdentifiedData = map[string]any{
		"avg_invoice_to_payment_days": round1(days),
		"payment_rate_percentage":     round1(rate * 100),
		"invoices_with_payments":      m.InvoicesWithPayments,
		"invoices_without_payments":   m.InvoicesWithoutPayments,
		"urgency_score":               scores.Urgency,
	}
	c.RootCauses = []string{"Inefficient follow-up process", "Poor payment term optimization"}
	c.AffectedModules = []string{
		domain.ModuleCustomerCommunication,
		domain.ModulePaymentIntegration,
		domain.ModuleMilestoneWorkflows,
	}
	return c
}
