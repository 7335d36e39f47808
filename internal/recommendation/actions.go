package recommendation

import (
	"fmt"
	"math"

	"github.com/shaiso/Keystone/internal/domain"
)

// ActionItems формирует план действий по ограничению.
//
// Значения берутся из IdentifiedData, поэтому заголовки содержат
// конкретные числа («Process 42 Draft Invoices»).
func ActionItems(c *domain.Constraint) []domain.ActionItem {
	switch c.Type {
	case domain.ConstraintCashFlow:
		return cashFlowActions(c)
	case domain.ConstraintCollectionEfficiency:
		return collectionActions(c)
	case domain.ConstraintCreditRisk:
		return creditRiskActions(c)
	case domain.ConstraintOperational:
		return operationalActions(c)
	case domain.ConstraintCustomerSegment:
		return customerSegmentActions(c)
	case domain.ConstraintProcess:
		return processActions(c)
	default:
		return genericActions()
	}
}

func cashFlowActions(c *domain.Constraint) []domain.ActionItem {
	var items []domain.ActionItem

	if overdue := c.Float("overdue_count"); overdue > 0 {
		top := int(math.Min(10, math.Ceil(overdue*0.2)))
		items = append(items, domain.ActionItem{
			Title:                  fmt.Sprintf("Prioritize Collection of Top %d Overdue Invoices", top),
			Description:            "Focus immediate collection efforts on the highest-value overdue invoices. Use automated workflows for systematic follow-up.",
			EstimatedEffortHours:   float64(top * 2),
			RequiredResources:      []string{"Collections Team", "Workflow Automation"},
			ExpectedCompletionDays: 7,
		})
	}

	items = append(items, domain.ActionItem{
		Title:                  "Activate Automated Payment Reminder Workflows",
		Description:            "Set up multi-channel automated reminders (email, SMS, WhatsApp) for all overdue invoices with escalation based on aging and customer risk profile.",
		EstimatedEffortHours:   16,
		RequiredResources:      []string{"Orchestration Module", "Communication Module"},
		ExpectedCompletionDays: 5,
	})

	if c.Float("total_outstanding") > 100000 {
		items = append(items, domain.ActionItem{
			Title:                  "Introduce Early Payment Discount Program",
			Description:            "Offer a 2-3% discount for payments within 7 days to accelerate collection from creditworthy customers.",
			EstimatedEffortHours:   8,
			RequiredResources:      []string{"Finance Team", "Payment Module Configuration"},
			ExpectedCompletionDays: 3,
		})
	}

	if c.Float("avg_overdue_days") > 45 {
		items = append(items, domain.ActionItem{
			Title:                  "Review and Tighten Credit Terms",
			Description:            "Implement stricter payment terms (advance payment, shorter net terms) for customers with poor payment history.",
			EstimatedEffortHours:   12,
			RequiredResources:      []string{"Credit Team", "Customer Success"},
			Dependencies:           []string{"Credit risk assessment"},
			ExpectedCompletionDays: 10,
		})
	}

	return items
}

func collectionActions(c *domain.Constraint) []domain.ActionItem {
	var items []domain.ActionItem

	if c.Float("failure_rate") > 5 {
		items = append(items, domain.ActionItem{
			Title:                  "Optimize Payment Communication Channels",
			Description:            "Analyze payment success rates by channel and prioritize high-success channels over low-performing ones.",
			EstimatedEffortHours:   20,
			RequiredResources:      []string{"Analytics Module", "Communication Module"},
			ExpectedCompletionDays: 14,
		})
	}

	items = append(items, domain.ActionItem{
		Title:                  "Expand and Promote Easy Payment Methods",
		Description:            "Display UPI, card, and bank transfer options prominently and pre-fill payment details to reduce friction.",
		EstimatedEffortHours:   16,
		RequiredResources:      []string{"Payment Module", "UI/UX Team"},
		ExpectedCompletionDays: 10,
	})

	if c.Float("avg_collection_days") > 45 {
		items = append(items, domain.ActionItem{
			Title:                  "Standardize Collection Follow-up Procedures",
			Description:            "Create and enforce procedures for follow-up timing, escalation triggers, and communication templates.",
			EstimatedEffortHours:   24,
			RequiredResources:      []string{"Collections Team", "Process Documentation"},
			ExpectedCompletionDays: 15,
		})
	}

	return items
}

func creditRiskActions(c *domain.Constraint) []domain.ActionItem {
	var items []domain.ActionItem

	if c.Float("avg_score") < 650 {
		items = append(items, domain.ActionItem{
			Title:                  "Strengthen Pre-Transaction Credit Assessment",
			Description:            "Require credit checks for new customers and periodic reviews for existing ones using the credit scoring module.",
			EstimatedEffortHours:   20,
			RequiredResources:      []string{"Credit Scoring Module", "Onboarding Team"},
			ExpectedCompletionDays: 12,
		})
	}

	if hr := c.Float("high_risk_count"); hr > 5 {
		items = append(items, domain.ActionItem{
			Title:                  fmt.Sprintf("Review Credit Limits for %.0f High-Risk Customers", hr),
			Description:            "Review credit limits for all high-risk customers. Consider reducing limits or requiring deposits or guarantees.",
			EstimatedEffortHours:   hr * 1.5,
			RequiredResources:      []string{"Credit Team", "Finance Team"},
			ExpectedCompletionDays: 7,
		})
	}

	if c.Float("concentration_risk_percentage") > 50 {
		items = append(items, domain.ActionItem{
			Title:                  "Diversify Customer Portfolio",
			Description:            "Reduce reliance on top customers and target new segments to spread risk.",
			EstimatedEffortHours:   40,
			RequiredResources:      []string{"Sales Team", "Marketing Module"},
			ExpectedCompletionDays: 90,
		})
	}

	if len(items) == 0 {
		return genericActions()
	}
	return items
}

func operationalActions(c *domain.Constraint) []domain.ActionItem {
	var items []domain.ActionItem

	if drafts := c.Float("draft_invoices"); drafts > 10 {
		items = append(items, domain.ActionItem{
			Title:                  fmt.Sprintf("Process %.0f Draft Invoices", drafts),
			Description:            "Review, approve, and send all draft invoices. Identify and resolve bottlenecks in the approval workflow.",
			EstimatedEffortHours:   drafts * 0.5,
			RequiredResources:      []string{"Billing Team", "Approvers"},
			ExpectedCompletionDays: 5,
		})
	}

	if c.Float("avg_send_delay_days") > 2 {
		items = append(items, domain.ActionItem{
			Title:                  "Implement Automated Invoice Generation",
			Description:            "Set up invoice templates and generation triggers (milestone completion, delivery confirmation) to eliminate manual delays.",
			EstimatedEffortHours:   32,
			RequiredResources:      []string{"Invoice Module", "Development Team"},
			ExpectedCompletionDays: 14,
		})
	}

	items = append(items, domain.ActionItem{
		Title:                  "Optimize Invoice Approval Workflow",
		Description:            "Auto-approve low-value invoices and run parallel approval for high-value ones.",
		EstimatedEffortHours:   20,
		RequiredResources:      []string{"Workflow Module", "Management"},
		ExpectedCompletionDays: 10,
	})

	return items
}

func customerSegmentActions(c *domain.Constraint) []domain.ActionItem {
	return []domain.ActionItem{
		{
			Title:       "Diversify Customer Base",
			Description: fmt.Sprintf(
				"Reduce reliance on top customers (currently %.1f%% of receivables). Target new customer segments and industries.",
				c.Float("top5_concentration_percentage"),
			),
			EstimatedEffortHours:   80,
			RequiredResources:      []string{"Sales Team", "Marketing", "Business Development"},
			ExpectedCompletionDays: 90,
		},
		{
			Title:                  "Establish Credit Limits for Top Customers",
			Description:            "Set credit limits for the largest customers to manage concentration risk while keeping the relationships.",
			EstimatedEffortHours:   16,
			RequiredResources:      []string{"Credit Team", "Senior Management"},
			ExpectedCompletionDays: 14,
		},
	}
}

func processActions(c *domain.Constraint) []domain.ActionItem {
	return []domain.ActionItem{
		{
			Title:       "Map and Optimize Invoice-to-Payment Process",
			Description: fmt.Sprintf(
				"The current average of %.1f days can be reduced through process optimization and automation.",
				c.Float("avg_invoice_to_payment_days"),
			),
			EstimatedEffortHours:   40,
			RequiredResources:      []string{"Process Team", "All Modules"},
			ExpectedCompletionDays: 20,
		},
		{
			Title:                  "Implement Workflow Automation",
			Description:            "Automate routine coordination across invoice, communication, and payment modules with orchestration workflows.",
			EstimatedEffortHours:   60,
			RequiredResources:      []string{"Orchestration Module", "Development Team"},
			ExpectedCompletionDays: 30,
		},
	}
}

func genericActions() []domain.ActionItem {
	return []domain.ActionItem{{
		Title:                  "Conduct Detailed Root Cause Analysis",
		Description:            "Perform a focused analysis to identify specific actions.",
		EstimatedEffortHours:   16,
		RequiredResources:      []string{"Analytics Team"},
		ExpectedCompletionDays: 7,
	}}
}
