package mq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Keystone/internal/domain"
	"github.com/shaiso/Keystone/internal/eventbridge"
	"github.com/shaiso/Keystone/internal/workflow"
)

type fakeBridge struct {
	events []domain.ModuleEvent
	err    error
}

func (b *fakeBridge) PublishEvent(_ context.Context, evt domain.ModuleEvent) (domain.ModuleEvent, error) {
	b.events = append(b.events, evt)
	return evt, b.err
}

type fakeSignaler struct {
	calls []WorkflowSignalPayload
	err   error
}

func (s *fakeSignaler) Signal(_ context.Context, id uuid.UUID, name string, payload map[string]any) (workflow.Disposition, error) {
	s.calls = append(s.calls, WorkflowSignalPayload{ExecutionID: id, Name: name, Payload: payload})
	return workflow.DispositionDelivered, s.err
}

// wire имитирует путь сообщения через брокер: marshal → unmarshal конверта.
func wire(t *testing.T, msg Message) *Delivery {
	t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(body, &decoded))
	return &Delivery{Message: decoded}
}

// --- Topology Tests ---

func TestRoutingKeys(t *testing.T) {
	assert.Equal(t, RoutingKey("inbound.payment.received"), InboundKey("payment.received"))
	assert.Equal(t, RoutingKey("outbound.invoice.created"), OutboundKey("invoice.created"))
}

func TestQueueArgs(t *testing.T) {
	args := queueArgs(queueDecl{name: QueueEventsInbound, dlq: true})
	assert.Equal(t, string(ExchangeDLQ), args["x-dead-letter-exchange"])
	assert.Equal(t, string(RoutingKeyDead), args["x-dead-letter-routing-key"])

	assert.Nil(t, queueArgs(queueDecl{name: QueueDLQ}))
}

// --- Payload Tests ---

func TestParsePayload(t *testing.T) {
	id := uuid.New()
	d := wire(t, Message{
		ID:   "m1",
		Type: MessageTypeWorkflowSignal,
		Payload: WorkflowSignalPayload{
			ExecutionID: id,
			Name:        "payment_received",
			Payload:     map[string]any{"amount": 10.5},
		},
	})

	sig, err := ParsePayload[WorkflowSignalPayload](&d.Message)
	require.NoError(t, err)
	assert.Equal(t, id, sig.ExecutionID)
	assert.Equal(t, "payment_received", sig.Name)
	assert.Equal(t, 10.5, sig.Payload["amount"])
}

// --- Handler Tests ---

func TestInboundEventHandler(t *testing.T) {
	bridge := &fakeBridge{}
	h := InboundEventHandler(bridge, nil)

	ts := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	d := wire(t, Message{
		ID:   "evt-1",
		Type: MessageTypeModuleEvent,
		Payload: domain.ModuleEvent{
			EventID:      "evt-1",
			EventType:    "payment.received",
			SourceModule: domain.ModulePaymentIntegration,
			TenantID:     "t1",
			Payload:      map[string]any{"invoice_id": "inv-1"},
			Timestamp:    ts,
		},
	})

	require.NoError(t, h(context.Background(), d))
	require.Len(t, bridge.events, 1)

	evt := bridge.events[0]
	assert.Equal(t, "payment.received", evt.EventType)
	assert.Equal(t, "t1", evt.TenantID)
	assert.Equal(t, "inv-1", evt.Payload["invoice_id"])
	assert.True(t, ts.Equal(evt.Timestamp))
}

func TestInboundEventHandler_Errors(t *testing.T) {
	tests := []struct {
		name      string
		msg       Message
		bridgeErr error
		wantErr   bool
	}{
		{
			name: "wrong type acked",
			msg:  Message{Type: MessageTypeWorkflowSignal, Payload: map[string]any{}},
		},
		{
			name:      "invalid event acked",
			msg:       Message{Type: MessageTypeModuleEvent, Payload: domain.ModuleEvent{}},
			bridgeErr: eventbridge.ErrInvalidEvent,
		},
		{
			name:      "bridge closed requeued",
			msg:       Message{Type: MessageTypeModuleEvent, Payload: domain.ModuleEvent{EventType: "x"}},
			bridgeErr: eventbridge.ErrBridgeClosed,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := InboundEventHandler(&fakeBridge{err: tt.bridgeErr}, nil)
			err := h(context.Background(), wire(t, tt.msg))
			if tt.wantErr {
				assert.ErrorIs(t, err, tt.bridgeErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWorkflowSignalHandler(t *testing.T) {
	id := uuid.New()
	msg := Message{
		Type:    MessageTypeWorkflowSignal,
		Payload: WorkflowSignalPayload{ExecutionID: id, Name: "manual_escalation", Payload: map[string]any{"reason": "x"}},
	}

	s := &fakeSignaler{}
	require.NoError(t, WorkflowSignalHandler(s, nil)(context.Background(), wire(t, msg)))
	require.Len(t, s.calls, 1)
	assert.Equal(t, id, s.calls[0].ExecutionID)
	assert.Equal(t, "manual_escalation", s.calls[0].Name)

	// Завершённый execution — подтверждаем.
	s = &fakeSignaler{err: workflow.ErrExecutionFinished}
	assert.NoError(t, WorkflowSignalHandler(s, nil)(context.Background(), wire(t, msg)))

	// Ошибка хранилища — повтор.
	storeErr := errors.New("db down")
	s = &fakeSignaler{err: storeErr}
	assert.ErrorIs(t, WorkflowSignalHandler(s, nil)(context.Background(), wire(t, msg)), storeErr)
}

// --- Consumer Tests ---

func TestSettle(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		redelivered bool
		want        Settlement
	}{
		{"handled", nil, false, SettleAck},
		{"handled after redelivery", nil, true, SettleAck},
		{"first failure", errors.New("boom"), false, SettleRequeue},
		{"second failure", errors.New("boom"), true, SettleDeadLetter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Settle(tt.err, tt.redelivered))
		})
	}
}

func TestConsumer_InvokeRecoversPanic(t *testing.T) {
	c := &Consumer{handler: func(context.Context, *Delivery) error {
		panic("bad payload")
	}}

	err := c.invoke(context.Background(), &Delivery{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad payload")
}

func TestConnection_NilStatus(t *testing.T) {
	var c *Connection
	assert.Equal(t, domain.HealthStatusDegraded, c.Status())
}
