package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/shaiso/Keystone/internal/domain"
	"github.com/shaiso/Keystone/internal/mq"
	"github.com/shaiso/Keystone/internal/orchestration"
	"github.com/shaiso/Keystone/internal/workflow"
)

// Hub — операции фасада, доступные из CLI. Реализуется *orchestration.Service.
type Hub interface {
	AnalyzeConstraints(ctx context.Context, tenantID string) (*domain.AnalysisResult, error)
	GenerateStrategicRecommendations(ctx context.Context, tenantID string) (*orchestration.StrategicRecommendations, error)
	GetOneThingToFocusOn(ctx context.Context, tenantID string) (*domain.Recommendation, error)
	AutoOrchestrate(ctx context.Context, tenantID, userID string) (*orchestration.AutoOrchestrationResult, error)
	GetOrchestrationMetrics(ctx context.Context, tenantID string, periodDays int) (*orchestration.OrchestrationMetrics, error)

	StartWorkflow(ctx context.Context, workflowType string, input map[string]any) (*domain.WorkflowExecution, error)
	GetWorkflowStatus(ctx context.Context, id uuid.UUID) (*orchestration.WorkflowStatus, error)
	CancelWorkflow(ctx context.Context, id uuid.UUID, reason string) (*domain.WorkflowExecution, error)
	SignalWorkflow(ctx context.Context, id uuid.UUID, name string, payload map[string]any) (workflow.Disposition, error)
	ListActiveWorkflows(ctx context.Context, tenantID string) ([]domain.WorkflowExecution, error)

	HealthCheck(ctx context.Context) orchestration.Health
}

// Broker — публикация в RabbitMQ для процесса хаба. Реализуется *mq.Publisher.
type Broker interface {
	PublishWorkflowSignal(ctx context.Context, sig mq.WorkflowSignalPayload) error
	PublishInboundEvent(ctx context.Context, evt domain.ModuleEvent) error
}

// HubFunc лениво создаёт Hub после парсинга флагов.
type HubFunc func(ctx context.Context) (Hub, error)

// BrokerFunc лениво подключается к брокеру.
type BrokerFunc func(ctx context.Context) (Broker, error)

// parseKV разбирает пары KEY=VALUE (строка) и KEY:=JSON (число, bool,
// объект): invoice_id=123 остаётся строкой, max_attempts:=5 — числом.
func parseKV(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" || key == ":" {
			return nil, fmt.Errorf("invalid input format %q, expected KEY=VALUE or KEY:=JSON", kv)
		}

		if raw, isJSON := strings.CutSuffix(key, ":"); isJSON {
			var v any
			if err := json.Unmarshal([]byte(value), &v); err != nil {
				return nil, fmt.Errorf("invalid json value for %q: %w", raw, err)
			}
			out[raw] = v
			continue
		}
		out[key] = value
	}
	return out, nil
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid execution id %q: %w", s, err)
	}
	return id, nil
}
