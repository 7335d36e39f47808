package eventbridge

import "github.com/shaiso/Keystone/internal/domain"

// Типы событий платформы.
const (
	EventInvoiceCreated        = "invoice.created"
	EventInvoiceSent           = "invoice.sent"
	EventInvoiceOverdue        = "invoice.overdue"
	EventInvoiceStatusChanged  = "invoice.status_changed"
	EventPaymentReceived       = "payment.received"
	EventPaymentFailed         = "payment.failed"
	EventCreditScoreChanged    = "credit.score_changed"
	EventDisputeOpened         = "dispute.opened"
	EventDisputeResolved       = "dispute.resolved"
	EventMilestoneCompleted    = "milestone.completed"
	EventFinancingApproved     = "financing.approved"
	EventCustomerAtRisk        = "customer.at_risk"
	EventConstraintIdentified  = "constraint.identified"
	EventWorkflowStepCompleted = "workflow.step_completed"
	EventWorkflowCompleted     = "workflow.completed"
)

// DefaultSubscriptions — подписки модулей платформы по умолчанию.
var DefaultSubscriptions = map[string][]string{
	domain.ModuleInvoiceManagement: {
		EventPaymentReceived,
		EventMilestoneCompleted,
		EventDisputeResolved,
	},
	domain.ModuleCustomerCommunication: {
		EventInvoiceSent,
		EventInvoiceOverdue,
		EventPaymentFailed,
		EventDisputeOpened,
	},
	domain.ModulePaymentIntegration: {
		EventInvoiceCreated,
		EventFinancingApproved,
	},
	domain.ModuleAnalyticsReporting: {
		EventInvoiceCreated,
		EventPaymentReceived,
		EventPaymentFailed,
		EventConstraintIdentified,
		EventWorkflowCompleted,
	},
	domain.ModuleMilestoneWorkflows: {
		EventPaymentReceived,
	},
	domain.ModuleCreditScoring: {
		EventPaymentReceived,
		EventInvoiceOverdue,
		EventDisputeOpened,
	},
	domain.ModuleFinancingFactoring: {
		EventInvoiceCreated,
		EventCreditScoreChanged,
	},
	domain.ModuleDisputeResolution: {
		EventPaymentFailed,
		EventInvoiceStatusChanged,
	},
	domain.ModuleMarketingCustomerSuccess: {
		EventCustomerAtRisk,
		EventCreditScoreChanged,
		EventWorkflowCompleted,
	},
}
