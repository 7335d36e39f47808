package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Keystone/internal/domain"
	"github.com/shaiso/Keystone/internal/mq"
	"github.com/shaiso/Keystone/internal/orchestration"
	"github.com/shaiso/Keystone/internal/workflow"
)

var execID = uuid.MustParse("6f1c2b9e-1d2a-4c3b-9e8f-0a1b2c3d4e5f")

type fakeHub struct {
	analysis *domain.AnalysisResult
	recs     *orchestration.StrategicRecommendations
	health   orchestration.Health
	err      error

	startedType  string
	startedInput map[string]any
	signal       string
	payload      map[string]any
	cancelReason string
}

func (h *fakeHub) AnalyzeConstraints(context.Context, string) (*domain.AnalysisResult, error) {
	return h.analysis, h.err
}

func (h *fakeHub) GenerateStrategicRecommendations(context.Context, string) (*orchestration.StrategicRecommendations, error) {
	return h.recs, h.err
}

func (h *fakeHub) GetOneThingToFocusOn(context.Context, string) (*domain.Recommendation, error) {
	if h.err != nil || h.recs == nil || len(h.recs.Recommendations) == 0 {
		return nil, h.err
	}
	return &h.recs.Recommendations[0], nil
}

func (h *fakeHub) AutoOrchestrate(_ context.Context, tenantID, _ string) (*orchestration.AutoOrchestrationResult, error) {
	return &orchestration.AutoOrchestrationResult{
		TenantID:           tenantID,
		WorkflowsTriggered: 1,
		ExecutionIDs:       []uuid.UUID{execID},
		Errors:             map[string]string{"inv-2": "unknown workflow type"},
	}, h.err
}

func (h *fakeHub) GetOrchestrationMetrics(_ context.Context, tenantID string, days int) (*orchestration.OrchestrationMetrics, error) {
	return &orchestration.OrchestrationMetrics{TenantID: tenantID, PeriodDays: days, WorkflowsExecuted: 4}, h.err
}

func (h *fakeHub) StartWorkflow(_ context.Context, workflowType string, input map[string]any) (*domain.WorkflowExecution, error) {
	h.startedType, h.startedInput = workflowType, input
	return &domain.WorkflowExecution{
		ID:           execID,
		TenantID:     "t1",
		WorkflowType: workflowType,
		Status:       domain.WorkflowStatusPending,
		StartedAt:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}, h.err
}

func (h *fakeHub) GetWorkflowStatus(_ context.Context, id uuid.UUID) (*orchestration.WorkflowStatus, error) {
	return &orchestration.WorkflowStatus{
		WorkflowExecution: &domain.WorkflowExecution{
			ID:            id,
			WorkflowType:  workflow.OverdueFollowUpType,
			Status:        domain.WorkflowStatusRunning,
			ExecutionPath: []string{"get_invoice_details", "get_credit_score"},
			WaitingOn: &domain.WaitPoint{
				StepID:  "await_payment_1",
				Signals: []string{workflow.SignalPaymentReceived},
			},
		},
		History: []domain.StepRecord{{StepID: "get_invoice_details", Kind: domain.StepKindActivity, Status: domain.StepStatusCompleted, Attempt: 1}},
	}, h.err
}

func (h *fakeHub) CancelWorkflow(_ context.Context, id uuid.UUID, reason string) (*domain.WorkflowExecution, error) {
	h.cancelReason = reason
	return &domain.WorkflowExecution{ID: id, Status: domain.WorkflowStatusCancelled}, h.err
}

func (h *fakeHub) SignalWorkflow(_ context.Context, _ uuid.UUID, name string, payload map[string]any) (workflow.Disposition, error) {
	h.signal, h.payload = name, payload
	return workflow.DispositionDelivered, h.err
}

func (h *fakeHub) ListActiveWorkflows(context.Context, string) ([]domain.WorkflowExecution, error) {
	return []domain.WorkflowExecution{{ID: execID, TenantID: "t1", WorkflowType: "x", Status: domain.WorkflowStatusRunning}}, h.err
}

func (h *fakeHub) HealthCheck(context.Context) orchestration.Health {
	return h.health
}

type fakeBroker struct {
	signals []mq.WorkflowSignalPayload
	events  []domain.ModuleEvent
}

func (b *fakeBroker) PublishWorkflowSignal(_ context.Context, sig mq.WorkflowSignalPayload) error {
	b.signals = append(b.signals, sig)
	return nil
}

func (b *fakeBroker) PublishInboundEvent(_ context.Context, evt domain.ModuleEvent) error {
	b.events = append(b.events, evt)
	return nil
}

// run выполняет команду и возвращает stdout и stderr.
func run(t *testing.T, hub *fakeHub, broker *fakeBroker, jsonMode bool, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	hubFn := func(context.Context) (Hub, error) { return hub, nil }
	brokerFn := func(context.Context) (Broker, error) { return broker, nil }
	outputFn := func() *Output { return NewOutputTo(jsonMode, &stdout, &stderr) }

	root := &cobra.Command{Use: "keystone", SilenceUsage: true, SilenceErrors: true}
	root.AddCommand(
		NewAnalyzeCmd(hubFn, outputFn),
		NewRecommendCmd(hubFn, outputFn),
		NewFocusCmd(hubFn, outputFn),
		NewAutoCmd(hubFn, outputFn),
		NewMetricsCmd(hubFn, outputFn),
		NewWorkflowCmd(hubFn, brokerFn, outputFn),
		NewEventCmd(brokerFn, outputFn),
		NewHealthCmd(hubFn, outputFn),
	)
	root.SetArgs(args)
	root.SetOut(&stdout)
	root.SetErr(&stderr)

	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func testAnalysis() *domain.AnalysisResult {
	c := domain.Constraint{
		ID:          uuid.New(),
		Type:        domain.ConstraintCashFlow,
		Severity:    domain.SeverityCritical,
		Title:       "Cash Flow Constraint",
		ImpactScore: 82.5,
	}
	return &domain.AnalysisResult{
		TenantID:          "t1",
		Constraints:       []domain.Constraint{c},
		PrimaryConstraint: &c,
		TotalImpactScore:  82.5,
		ConfidenceScore:   100,
	}
}

// --- Strategy Tests ---

func TestAnalyzeCmd(t *testing.T) {
	hub := &fakeHub{analysis: testAnalysis()}

	stdout, stderr, err := run(t, hub, nil, false, "analyze", "--tenant", "t1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "cash_flow")
	assert.Contains(t, stdout, "82.5")
	assert.Contains(t, stderr, "Primary constraint: Cash Flow Constraint")

	stdout, _, err = run(t, hub, nil, true, "analyze", "--tenant", "t1")
	require.NoError(t, err)
	var got domain.AnalysisResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	assert.Len(t, got.Constraints, 1)

	_, _, err = run(t, hub, nil, false, "analyze")
	assert.Error(t, err, "tenant flag is required")
}

func TestAnalyzeCmd_NoConstraints(t *testing.T) {
	hub := &fakeHub{analysis: &domain.AnalysisResult{TenantID: "t1"}}

	stdout, stderr, err := run(t, hub, nil, false, "analyze", "--tenant", "t1")
	require.NoError(t, err)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "No constraints identified")
}

func TestRecommendAndFocusCmd(t *testing.T) {
	hub := &fakeHub{recs: &orchestration.StrategicRecommendations{
		TenantID: "t1",
		Recommendations: []domain.Recommendation{{
			ConstraintType:             domain.ConstraintCashFlow,
			Title:                      "Accelerate Cash Collection",
			Priority:                   10,
			EstimatedROIPercentage:     150,
			ImplementationTimelineDays: 30,
			IsPrimaryFocus:             true,
			ActionItems:                []domain.ActionItem{{Title: "Automate reminders", EstimatedEffortHours: 8}},
		}},
	}}

	stdout, _, err := run(t, hub, nil, false, "recommend", "--tenant", "t1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Accelerate Cash Collection")
	assert.Contains(t, stdout, "150.0")

	stdout, _, err = run(t, hub, nil, false, "focus", "--tenant", "t1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Title:")
	assert.Contains(t, stdout, "Automate reminders (8.0 h)")

	hub.recs.Recommendations = nil
	_, stderr, err := run(t, hub, nil, false, "focus", "--tenant", "t1")
	require.NoError(t, err)
	assert.Contains(t, stderr, "nothing to focus on")
}

func TestAutoAndMetricsCmd(t *testing.T) {
	hub := &fakeHub{}

	stdout, stderr, err := run(t, hub, nil, false, "auto", "--tenant", "t1")
	require.NoError(t, err)
	assert.Contains(t, stdout, execID.String())
	assert.Contains(t, stderr, "invoice inv-2")

	stdout, _, err = run(t, hub, nil, true, "metrics", "--tenant", "t1", "--days", "7")
	require.NoError(t, err)
	var m orchestration.OrchestrationMetrics
	require.NoError(t, json.Unmarshal([]byte(stdout), &m))
	assert.Equal(t, 7, m.PeriodDays)
	assert.Equal(t, 4, m.WorkflowsExecuted)
}

// --- Workflow Tests ---

func TestWorkflowStartCmd(t *testing.T) {
	hub := &fakeHub{}

	stdout, stderr, err := run(t, hub, nil, false,
		"workflow", "start", workflow.OverdueFollowUpType,
		"--tenant", "t1", "--user", "u1",
		"--input", "invoice_id=123", "--input", "max_attempts:=5", "--input", "skip_sms:=true",
	)
	require.NoError(t, err)
	assert.Contains(t, stderr, "Workflow started: "+execID.String())
	assert.Contains(t, stdout, "pending")

	assert.Equal(t, workflow.OverdueFollowUpType, hub.startedType)
	assert.Equal(t, map[string]any{
		"tenant_id":    "t1",
		"user_id":      "u1",
		"invoice_id":   "123",
		"max_attempts": 5.0,
		"skip_sms":     true,
	}, hub.startedInput)

	_, _, err = run(t, hub, nil, false, "workflow", "start", "x", "--input", "novalue")
	assert.Error(t, err)
}

func TestWorkflowStatusCmd(t *testing.T) {
	stdout, _, err := run(t, &fakeHub{}, nil, false, "workflow", "status", execID.String())
	require.NoError(t, err)
	assert.Contains(t, stdout, "get_invoice_details > get_credit_score")
	assert.Contains(t, stdout, "await_payment_1 [payment_received]")
	assert.Contains(t, stdout, "STEP")

	_, _, err = run(t, &fakeHub{}, nil, false, "workflow", "status", "not-a-uuid")
	assert.ErrorContains(t, err, "invalid execution id")
}

func TestWorkflowCancelAndListCmd(t *testing.T) {
	hub := &fakeHub{}

	_, stderr, err := run(t, hub, nil, false, "workflow", "cancel", execID.String(), "--reason", "paid offline")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Workflow cancelled")
	assert.Equal(t, "paid offline", hub.cancelReason)

	stdout, _, err := run(t, hub, nil, false, "workflow", "list", "--tenant", "t1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "running")

	hub.err = errors.New("db down")
	_, _, err = run(t, hub, nil, false, "workflow", "list")
	assert.ErrorContains(t, err, "db down")
}

func TestWorkflowSignalCmd(t *testing.T) {
	hub := &fakeHub{}
	broker := &fakeBroker{}

	_, stderr, err := run(t, hub, broker, false,
		"workflow", "signal", execID.String(), workflow.SignalPaymentReceived, "--payload", "amount:=100")
	require.NoError(t, err)
	assert.Contains(t, stderr, "delivered")
	assert.Equal(t, workflow.SignalPaymentReceived, hub.signal)
	assert.Equal(t, 100.0, hub.payload["amount"])
	assert.Empty(t, broker.signals)

	_, stderr, err = run(t, hub, broker, false,
		"workflow", "signal", execID.String(), workflow.SignalManualEscalation, "--via-broker")
	require.NoError(t, err)
	assert.Contains(t, stderr, "published")
	require.Len(t, broker.signals, 1)
	assert.Equal(t, execID, broker.signals[0].ExecutionID)
	assert.Equal(t, workflow.SignalManualEscalation, broker.signals[0].Name)
}

// --- Event & Health Tests ---

func TestEventPublishCmd(t *testing.T) {
	broker := &fakeBroker{}

	_, _, err := run(t, nil, broker, false,
		"event", "publish", "payment.received", "--source", domain.ModulePaymentIntegration, "--tenant", "t1", "--payload", "invoice_id=inv-1")
	require.NoError(t, err)
	require.Len(t, broker.events, 1)

	evt := broker.events[0]
	assert.Equal(t, "payment.received", evt.EventType)
	assert.NotEmpty(t, evt.EventID)
	assert.False(t, evt.Timestamp.IsZero())
	assert.Equal(t, "inv-1", evt.Payload["invoice_id"])

	_, _, err = run(t, nil, broker, false, "event", "publish", "payment.received")
	assert.Error(t, err, "source flag is required")
}

func TestHealthCmd(t *testing.T) {
	hub := &fakeHub{health: orchestration.Health{
		Status: domain.HealthStatusDegraded,
		Components: map[string]orchestration.ComponentHealth{
			orchestration.ComponentGateway:        {Status: domain.HealthStatusHealthy},
			orchestration.ComponentWorkflowEngine: {Status: domain.HealthStatusDegraded},
		},
	}}

	stdout, stderr, err := run(t, hub, nil, false, "health")
	require.NoError(t, err)
	assert.Contains(t, stdout, "gateway")
	assert.Contains(t, stderr, "Overall: degraded")

	hub.health.Status = domain.HealthStatusUnhealthy
	_, _, err = run(t, hub, nil, false, "health")
	assert.ErrorIs(t, err, ErrUnhealthy)
}

// --- Helper Tests ---

func TestParseKV(t *testing.T) {
	got, err := parseKV([]string{"a=1", "b:=1", "c:={\"x\":true}", "d=x=y"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"a": "1",
		"b": 1.0,
		"c": map[string]any{"x": true},
		"d": "x=y",
	}, got)

	for _, bad := range []string{"novalue", "=x", ":=1", "b:=nope"} {
		_, err := parseKV([]string{bad})
		assert.Error(t, err, bad)
	}
}
