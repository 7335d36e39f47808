package recommendation

import (
	"fmt"

	"github.com/shaiso/Keystone/internal/domain"
)

var titleByType = map[domain.ConstraintType]string{
	domain.ConstraintCashFlow:             "Improve Cash Flow Through Accelerated Collections",
	domain.ConstraintCollectionEfficiency: "Optimize Collection Process Efficiency",
	domain.ConstraintCreditRisk:           "Mitigate Credit Risk Exposure",
	domain.ConstraintOperational:          "Eliminate Operational Bottlenecks",
	domain.ConstraintCustomerSegment:      "Diversify Customer Portfolio",
	domain.ConstraintProcess:              "Streamline Invoice-to-Payment Process",
	domain.ConstraintMarket:               "Adapt to Market Conditions",
	domain.ConstraintResource:             "Optimize Resource Allocation",
}

var successMetricsByType = map[domain.ConstraintType][]string{
	domain.ConstraintCashFlow: {
		"Total outstanding receivables reduced by 30%+",
		"Days Sales Outstanding (DSO) improved by 15%+",
		"Overdue invoice count reduced by 40%+",
	},
	domain.ConstraintCollectionEfficiency: {
		"Average collection time reduced to <40 days",
		"Payment failure rate reduced to <5%",
		"Collection success rate increased to >85%",
	},
	domain.ConstraintCreditRisk: {
		"High-risk customer count reduced by 50%+",
		"Average credit score improved to >650",
		"Bad debt writeoffs reduced by 40%+",
	},
	domain.ConstraintOperational: {
		"Draft invoice backlog cleared within 1 week",
		"Average invoice send delay reduced to <1 day",
		"Invoice approval time reduced by 50%+",
	},
	domain.ConstraintCustomerSegment: {
		"Top 5 customer concentration reduced to <40%",
		"New customer segment revenue >20% of total",
	},
	domain.ConstraintProcess: {
		"Invoice-to-payment cycle reduced to <45 days",
		"Process automation coverage >70%",
		"Manual intervention reduced by 50%+",
	},
	domain.ConstraintMarket: {
		"Market share improvement measured",
		"Customer satisfaction score increased",
	},
	domain.ConstraintResource: {
		"Resource utilization improved by 20%+",
		"Operational cost reduced by 15%+",
	},
}

func title(c *domain.Constraint) string {
	if t, ok := titleByType[c.Type]; ok {
		return t
	}
	return "Address Business Constraint"
}

func description(c *domain.Constraint, p Projection) string {
	return fmt.Sprintf(
		"Focus on resolving the %s constraint. Removing this bottleneck is projected to yield %.0f%% ROI within %d days. %s",
		c.Type, p.ROIPercentage, p.TimelineDays, c.Description,
	)
}

func expectedImpact(c *domain.Constraint, p Projection) string {
	switch c.Type {
	case domain.ConstraintCashFlow:
		return fmt.Sprintf("Reduce outstanding receivables by 30-40%% within %d days. Improve cash flow predictability and working capital availability.", p.TimelineDays)
	case domain.ConstraintCollectionEfficiency:
		return "Reduce average collection time by 15-20 days. Increase collection success rate by 10-15%."
	case domain.ConstraintCreditRisk:
		return "Reduce bad debt by 40-50%. Improve customer credit quality score by 50-75 points."
	case domain.ConstraintOperational:
		return "Reduce invoice processing time by 50%. Clear draft invoice backlog within 1 week."
	case domain.ConstraintCustomerSegment:
		return "Reduce customer concentration risk by 20-30%. Improve revenue stability."
	case domain.ConstraintProcess:
		return "Reduce invoice-to-payment cycle by 25-35%. Improve process reliability."
	case domain.ConstraintMarket:
		return "Improve market position and customer satisfaction."
	case domain.ConstraintResource:
		return "Improve resource utilization by 20-30%. Reduce operational costs."
	default:
		return "Measurable business improvement expected."
	}
}

func riskFactors(c *domain.Constraint, p Projection) []string {
	var risks []string
	if p.RiskScore > 60 {
		risks = append(risks, "High implementation risk due to complexity")
	}
	if p.ComplexityScore > 70 {
		risks = append(risks, "Requires coordination across multiple teams and modules")
	}
	if len(c.AffectedModules) > 3 {
		risks = append(risks, "Multi-module dependencies may cause integration challenges")
	}
	if c.Severity == domain.SeverityCritical {
		risks = append(risks, "Business-critical implementation requires careful planning")
	}
	if p.TimelineDays > 60 {
		risks = append(risks, "Long implementation timeline may reduce sustained focus")
	}
	if len(risks) == 0 {
		return []string{"Low risk: straightforward implementation"}
	}
	return risks
}

func successMetrics(c *domain.Constraint) []string {
	if m, ok := successMetricsByType[c.Type]; ok {
		return append([]string(nil), m...)
	}
	return []string{"Measurable improvement in relevant KPIs"}
}
