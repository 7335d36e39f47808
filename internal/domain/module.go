package domain

import "time"

// Модули платформы.
const (
	ModuleInvoiceManagement        = "invoice_management"
	ModuleCustomerCommunication    = "customer_communication"
	ModulePaymentIntegration       = "payment_integration"
	ModuleAnalyticsReporting       = "analytics_reporting"
	ModuleMilestoneWorkflows       = "milestone_workflows"
	ModuleCreditScoring            = "credit_scoring"
	ModuleFinancingFactoring       = "financing_factoring"
	ModuleDisputeResolution        = "dispute_resolution"
	ModuleMarketingCustomerSuccess = "marketing_customer_success"

	// ModuleOrchestrationHub — источник событий самого hub.
	ModuleOrchestrationHub = "orchestration_hub"
)

// PlatformModules — все известные модули в порядке нумерации платформы.
var PlatformModules = []string{
	ModuleInvoiceManagement,
	ModuleCustomerCommunication,
	ModulePaymentIntegration,
	ModuleAnalyticsReporting,
	ModuleMilestoneWorkflows,
	ModuleCreditScoring,
	ModuleFinancingFactoring,
	ModuleDisputeResolution,
	ModuleMarketingCustomerSuccess,
}

// ModuleHealth — результат health check одного модуля.
type ModuleHealth struct {
	Module         string       `json:"module"`
	Status         HealthStatus `json:"status"`
	ResponseTimeMs int64        `json:"response_time_ms"`
	Error          string       `json:"error,omitempty"`
	CheckedAt      time.Time    `json:"checked_at"`
}
