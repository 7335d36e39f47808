package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Keystone/internal/domain"
	"github.com/shaiso/Keystone/internal/eventbridge"
)

// moduleStub отвечает на действия модулей заранее заданными ответами.
type moduleStub struct {
	mu        sync.Mutex
	responses map[string]map[string]any
	calls     []string
	params    map[string][]map[string]any
}

func newModuleStub(responses map[string]map[string]any) *moduleStub {
	return &moduleStub{responses: responses, params: make(map[string][]map[string]any)}
}

func (s *moduleStub) ExecuteModuleAction(_ context.Context, module, action string, params map[string]any, _ string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := module + "." + action
	s.calls = append(s.calls, key)
	s.params[key] = append(s.params[key], params)

	out := map[string]any{"success": true}
	for k, v := range s.responses[key] {
		out[k] = v
	}
	return out, nil
}

func (s *moduleStub) count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == key {
			n++
		}
	}
	return n
}

// eventSink запоминает опубликованные события.
type eventSink struct {
	mu     sync.Mutex
	events []domain.ModuleEvent
}

func (s *eventSink) PublishEvent(_ context.Context, evt domain.ModuleEvent) (domain.ModuleEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evt.EventID = "evt-" + evt.EventType
	s.events = append(s.events, evt)
	return evt, nil
}

func (s *eventSink) byType(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

const (
	keyInvoice     = "invoice_management.get_invoice_details"
	keyCredit      = "credit_scoring.get_credit_score"
	keyTrack       = "analytics_reporting.track_customer_interaction"
	keyEmail       = "customer_communication.send_email"
	keySMS         = "customer_communication.send_sms"
	keyWhatsApp    = "customer_communication.send_whatsapp"
	keyStatus      = "invoice_management.update_invoice_status"
	keyHealthScore = "marketing_customer_success.update_customer_health"
)

func newFollowUpEngine(t *testing.T, clock *fakeClock, stub *moduleStub, sink *eventSink) *Engine {
	t.Helper()
	e := New(Config{
		Store:      NewMemoryStore(),
		Dispatcher: stub,
		Publisher:  sink,
		Now:        clock.Now,
	})
	require.NoError(t, e.Register(OverdueFollowUp(FollowUpConfig{
		CollectionsEmail: "ar@example.com",
		Now:              clock.Now,
	})))
	return e
}

func followUpInput(maxAttempts int) map[string]any {
	return map[string]any{
		"tenant_id":    "t1",
		"invoice_id":   "inv-1",
		"customer_id":  "cust-1",
		"user_id":      "u1",
		"max_attempts": maxAttempts,
	}
}

// --- Input Tests ---

func TestDecodeFollowUpInput(t *testing.T) {
	in, err := DecodeFollowUpInput(map[string]any{
		"tenant_id":   "t1",
		"invoice_id":  "inv-1",
		"customer_id": "c1",
		"skip_sms":    true,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, in.MaxAttempts)
	assert.True(t, in.SkipSMS)

	tests := []struct {
		name  string
		input map[string]any
	}{
		{"missing invoice", map[string]any{"tenant_id": "t1", "customer_id": "c1"}},
		{"attempts too high", map[string]any{"tenant_id": "t1", "invoice_id": "i", "customer_id": "c1", "max_attempts": 11}},
		{"attempts zero", map[string]any{"tenant_id": "t1", "invoice_id": "i", "customer_id": "c1", "max_attempts": 0}},
		{"wrong type", map[string]any{"tenant_id": "t1", "invoice_id": 5, "customer_id": "c1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFollowUpInput(tt.input)
			assert.Error(t, err)
		})
	}
}

func TestFollowUpPriority(t *testing.T) {
	tests := []struct {
		amount, days, score float64
		want                string
	}{
		{150000, 0, 800, PriorityCritical},
		{1000, 61, 800, PriorityCritical},
		{1000, 0, 450, PriorityCritical},
		{60000, 0, 800, PriorityHigh},
		{1000, 31, 800, PriorityHigh},
		{1000, 0, 600, PriorityHigh},
		{20000, 0, 800, PriorityMedium},
		{1000, 16, 800, PriorityMedium},
		{1000, 5, 800, PriorityLow},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FollowUpPriority(tt.amount, tt.days, tt.score),
			"amount=%v days=%v score=%v", tt.amount, tt.days, tt.score)
	}
}

func TestFollowUpWaitAndHealth(t *testing.T) {
	assert.Equal(t, 2*time.Hour, FollowUpWait(PriorityCritical, 1))
	assert.Equal(t, 48*time.Hour, FollowUpWait(PriorityHigh, 2))
	assert.Equal(t, 216*time.Hour, FollowUpWait(PriorityMedium, 3))
	assert.Equal(t, 168*time.Hour, FollowUpWait(PriorityLow, 1))

	assert.Equal(t, 82.0, CustomerHealth(720, true))
	assert.Equal(t, 100.0, CustomerHealth(990, true))
	assert.Equal(t, 57.0, CustomerHealth(720, false))
	assert.Equal(t, 0.0, CustomerHealth(100, false))
}

func TestDaysOverdue(t *testing.T) {
	now := time.Date(2026, 1, 11, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 11.0, daysOverdue("2026-01-01", now))
	assert.Equal(t, 10.0, daysOverdue("2026-01-01T12:00:00Z", now))
	assert.Equal(t, 0.0, daysOverdue("2026-02-01", now))
	assert.Equal(t, 0.0, daysOverdue(nil, now))
	assert.Equal(t, 0.0, daysOverdue("garbage", now))
}

// --- Workflow Tests ---

func TestFollowUp_PaymentReceived(t *testing.T) {
	clock := newFakeClock()
	stub := newModuleStub(map[string]map[string]any{
		keyInvoice: {
			"invoice_number": "INV-001",
			"grand_total":    150000.0,
			"due_date":       "2026-02-01",
			"customer_email": "payer@example.com",
			"customer_phone": "+15550100",
		},
		keyCredit: {"current_score": 720.0},
	})
	sink := &eventSink{}
	e := newFollowUpEngine(t, clock, stub, sink)

	exec, err := e.StartWorkflow(context.Background(), OverdueFollowUpType, followUpInput(3), "t1", "u1")
	require.NoError(t, err)

	e.runPass(context.Background(), exec.ID)

	got := getExec(t, e, exec.ID)
	require.NotNil(t, got.WaitingOn)
	assert.Equal(t, "await_payment_1", got.WaitingOn.StepID)
	assert.Equal(t, clock.Now().Add(2*time.Hour), got.WaitingOn.WakeAt)

	// Критический приоритет: три канала.
	assert.Equal(t, 1, stub.count(keyEmail))
	assert.Equal(t, 1, stub.count(keySMS))
	assert.Equal(t, 1, stub.count(keyWhatsApp))

	disp, err := e.Signal(context.Background(), exec.ID, SignalPaymentReceived, map[string]any{
		"payment_id": "pay-9",
		"amount":     150000.0,
	})
	require.NoError(t, err)
	assert.Equal(t, DispositionDelivered, disp)

	e.runPass(context.Background(), exec.ID)

	got = getExec(t, e, exec.ID)
	require.Equal(t, domain.WorkflowStatusCompleted, got.Status)
	assert.Equal(t, FinalStatusPaid, got.Result["final_status"])
	assert.Equal(t, "completed", got.Result["status"])
	assert.Equal(t, PriorityCritical, got.Result["priority"])
	assert.Equal(t, 82.0, got.Result["health_score"])

	// Replay не повторил вызовы первого прохода.
	assert.Equal(t, 1, stub.count(keyInvoice))
	assert.Equal(t, 1, stub.count(keyCredit))
	assert.Equal(t, 1, stub.count(keyTrack))
	assert.Equal(t, 1, stub.count(keyEmail))

	require.Equal(t, 1, stub.count(keyStatus))
	assert.Equal(t, "paid", stub.params[keyStatus][0]["status"])
	assert.Equal(t, 82.0, stub.params[keyHealthScore][0]["health_score"])

	assert.Equal(t, 4, sink.byType(eventbridge.EventWorkflowStepCompleted))
	assert.Equal(t, 1, sink.byType(eventbridge.EventWorkflowCompleted))
}

func TestFollowUp_AutoEscalation(t *testing.T) {
	clock := newFakeClock()
	stub := newModuleStub(map[string]map[string]any{
		keyInvoice: {"grand_total": 500.0, "due_date": "2026-02-27"},
		keyCredit:  {"current_score": 720.0},
	})
	e := newFollowUpEngine(t, clock, stub, &eventSink{})

	exec, err := e.StartWorkflow(context.Background(), OverdueFollowUpType, followUpInput(1), "t1", "u1")
	require.NoError(t, err)

	e.runPass(context.Background(), exec.ID)

	got := getExec(t, e, exec.ID)
	require.Equal(t, domain.WorkflowStatusCompleted, got.Status)
	assert.Equal(t, FinalStatusAutoEscalated, got.Result["final_status"])
	assert.Equal(t, PriorityLow, got.Result["priority"])
	assert.Equal(t, 57.0, got.Result["health_score"])

	// Напоминание клиенту + письмо команде взыскания.
	require.Equal(t, 2, stub.count(keyEmail))
	assert.Equal(t, "ar@example.com", stub.params[keyEmail][1]["to"])
	assert.Equal(t, "collections", stub.params[keyStatus][0]["status"])
	assert.Zero(t, stub.count(keySMS))
}

func TestFollowUp_AutoEscalationAfterWaits(t *testing.T) {
	clock := newFakeClock()
	stub := newModuleStub(map[string]map[string]any{
		keyInvoice: {"grand_total": 60000.0, "due_date": "2026-02-27"},
		keyCredit:  {"current_score": 720.0},
	})
	e := newFollowUpEngine(t, clock, stub, &eventSink{})

	input := followUpInput(2)
	input["skip_sms"] = true
	exec, err := e.StartWorkflow(context.Background(), OverdueFollowUpType, input, "t1", "u1")
	require.NoError(t, err)

	e.runPass(context.Background(), exec.ID)
	assert.Equal(t, clock.Now().Add(24*time.Hour), getExec(t, e, exec.ID).WaitingOn.WakeAt)

	clock.Advance(24 * time.Hour)
	e.runPass(context.Background(), exec.ID)

	got := getExec(t, e, exec.ID)
	require.Equal(t, domain.WorkflowStatusCompleted, got.Status)
	assert.Equal(t, FinalStatusAutoEscalated, got.Result["final_status"])
	assert.Equal(t, 2, got.Result["attempts"])

	// Высокий приоритет без SMS: два напоминания и письмо взыскания.
	assert.Equal(t, 3, stub.count(keyEmail))
	assert.Zero(t, stub.count(keySMS))
}

func TestFollowUp_ManualEscalationQueued(t *testing.T) {
	clock := newFakeClock()
	stub := newModuleStub(map[string]map[string]any{
		keyInvoice: {"grand_total": 20000.0},
		keyCredit:  {"current_score": 700.0},
	})
	e := newFollowUpEngine(t, clock, stub, &eventSink{})

	exec, err := e.StartWorkflow(context.Background(), OverdueFollowUpType, followUpInput(3), "t1", "u1")
	require.NoError(t, err)

	// Сигнал до первого ожидания сохраняется политикой queue.
	disp, err := e.Signal(context.Background(), exec.ID, SignalManualEscalation, map[string]any{"reason": "disputed"})
	require.NoError(t, err)
	assert.Equal(t, DispositionQueued, disp)

	e.runPass(context.Background(), exec.ID)

	got := getExec(t, e, exec.ID)
	require.Equal(t, domain.WorkflowStatusCompleted, got.Status)
	assert.Equal(t, FinalStatusManuallyEscalated, got.Result["final_status"])
	assert.Equal(t, 1, got.Result["attempts"])
	assert.Zero(t, stub.count(keyStatus))
	assert.Zero(t, stub.count(keyHealthScore))
}

func TestFollowUp_InvalidInputRejected(t *testing.T) {
	e := newFollowUpEngine(t, newFakeClock(), newModuleStub(nil), &eventSink{})

	_, err := e.StartWorkflow(context.Background(), OverdueFollowUpType, map[string]any{"tenant_id": "t1"}, "t1", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
