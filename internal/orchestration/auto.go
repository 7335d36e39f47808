package orchestration

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/shaiso/Keystone/internal/domain"
	"github.com/shaiso/Keystone/internal/telemetry"
	"github.com/shaiso/Keystone/internal/workflow"
)

// maxAutoInvoices — сколько просроченных счетов на ограничение запускает follow-up.
const maxAutoInvoices = 5

// AutoOrchestrationResult — итог AutoOrchestrate.
type AutoOrchestrationResult struct {
	TenantID                 string      `json:"tenant_id"`
	ConstraintsIdentified    int         `json:"constraints_identified"`
	RecommendationsGenerated int         `json:"recommendations_generated"`
	WorkflowsTriggered       int         `json:"workflows_triggered"`
	ExecutionIDs             []uuid.UUID `json:"execution_ids"`

	// Errors — invoice_id → ошибка запуска follow-up.
	Errors map[string]string `json:"errors,omitempty"`

	Analysis *domain.AnalysisResult `json:"analysis"`
}

// AutoOrchestrate анализирует тенанта, генерирует рекомендации и для каждого
// критичного cash_flow ограничения запускает overdue_invoice_follow_up по
// крупнейшим просроченным счетам (не больше пяти) с немедленной эскалацией.
//
// Ошибка запуска отдельного workflow не прерывает остальные и попадает в Errors.
func (s *Service) AutoOrchestrate(ctx context.Context, tenantID, userID string) (*AutoOrchestrationResult, error) {
	logger := telemetry.WithTenantID(s.logger, tenantID)
	logger.Info("auto-orchestration started")

	analysis, err := s.AnalyzeConstraints(ctx, tenantID)
	if err != nil {
		telemetry.AutoOrchestrations.WithLabelValues("error").Inc()
		return nil, err
	}

	out := &AutoOrchestrationResult{
		TenantID:              tenantID,
		ConstraintsIdentified: len(analysis.Constraints),
		ExecutionIDs:          []uuid.UUID{},
		Analysis:              analysis,
	}
	s.ledger.record(tenantID, entryAutoRun, 1, s.now())

	if len(analysis.Constraints) == 0 {
		telemetry.AutoOrchestrations.WithLabelValues("noop").Inc()
		logger.Info("no constraints identified, no action needed")
		return out, nil
	}

	if s.recommender != nil {
		out.RecommendationsGenerated = len(s.generate(ctx, tenantID, analysis.Constraints))
	}

	if s.workflows == nil {
		telemetry.AutoOrchestrations.WithLabelValues("success").Inc()
		return out, nil
	}

	for _, c := range analysis.Constraints {
		if c.Type != domain.ConstraintCashFlow || c.Severity != domain.SeverityCritical {
			continue
		}

		for _, inv := range overdueInvoices(c.IdentifiedData, maxAutoInvoices) {
			exec, err := s.workflows.StartWorkflow(ctx, workflow.OverdueFollowUpType, map[string]any{
				"tenant_id":            tenantID,
				"invoice_id":           inv.invoiceID,
				"customer_id":          inv.customerID,
				"user_id":              userID,
				"escalate_immediately": true,
			}, tenantID, userID)
			if err != nil {
				if out.Errors == nil {
					out.Errors = make(map[string]string)
				}
				out.Errors[inv.invoiceID] = err.Error()
				logger.Warn("failed to auto-trigger follow-up", "invoice_id", inv.invoiceID, "error", err)
				continue
			}
			out.ExecutionIDs = append(out.ExecutionIDs, exec.ID)
		}
	}

	out.WorkflowsTriggered = len(out.ExecutionIDs)
	telemetry.AutoWorkflowsTriggered.Add(float64(out.WorkflowsTriggered))
	telemetry.AutoOrchestrations.WithLabelValues("success").Inc()

	logger.Info("auto-orchestration completed",
		"constraints", out.ConstraintsIdentified,
		"recommendations", out.RecommendationsGenerated,
		"workflows_triggered", out.WorkflowsTriggered,
		"failed", len(out.Errors),
	)
	return out, nil
}

type overdueRef struct {
	invoiceID  string
	customerID string
}

// overdueInvoices читает identified_data.overdue_invoices.
//
// Поддерживает оба представления: []map[string]any прямо из анализатора
// и []any после JSON (ограничение из БД или кэша другого процесса).
func overdueInvoices(data map[string]any, limit int) []overdueRef {
	var items []map[string]any
	switch v := data["overdue_invoices"].(type) {
	case []map[string]any:
		items = v
	case []any:
		for _, it := range v {
			if m, ok := it.(map[string]any); ok {
				items = append(items, m)
			}
		}
	}

	var out []overdueRef
	for _, m := range items {
		if len(out) == limit {
			break
		}
		id := idField(m, "invoice_id")
		if id == "" {
			id = idField(m, "id")
		}
		if id == "" {
			continue
		}
		out = append(out, overdueRef{invoiceID: id, customerID: idField(m, "customer_id")})
	}
	return out
}

func idField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}
