package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Messages Tests ---

func TestDefaultMessages(t *testing.T) {
	m := DefaultMessages()
	data := MessageData{
		InvoiceID:     "inv-1",
		InvoiceNumber: "INV-001",
		Amount:        1234.5,
	}

	tests := []struct {
		key  string
		want string
	}{
		{MessageCriticalSubject, "URGENT: Payment Required for Invoice INV-001"},
		{MessageCriticalSMS, "URGENT: Invoice INV-001 payment of 1234.50 is severely overdue. Please contact us immediately."},
		{MessageReminderSubject, "Payment Reminder: Invoice INV-001"},
		{MessageReminderSMS, "Invoice INV-001 payment of 1234.50 is overdue. Please pay at your earliest convenience."},
		{MessageEscalationSubject, "Auto-escalation: Invoice inv-1"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := m.Render(tt.key, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewMessages_Overrides(t *testing.T) {
	m, err := NewMessages(map[string]string{
		MessageReminderSubject: `{{ upper .Priority }} #{{ .Attempt }}: {{ default "n/a" .InvoiceNumber }}`,
	})
	require.NoError(t, err)

	got, err := m.Render(MessageReminderSubject, MessageData{Priority: "high", Attempt: 2})
	require.NoError(t, err)
	assert.Equal(t, "HIGH #2: n/a", got)

	// Остальные ключи остаются по умолчанию.
	got, err = m.Render(MessageEscalationSubject, MessageData{InvoiceID: "inv-7"})
	require.NoError(t, err)
	assert.Equal(t, "Auto-escalation: Invoice inv-7", got)
}

func TestNewMessages_Errors(t *testing.T) {
	_, err := NewMessages(map[string]string{"greeting": "hi"})
	assert.ErrorIs(t, err, ErrUnknownMessage)

	_, err = NewMessages(map[string]string{MessageCriticalSMS: "{{ .InvoiceNumber"})
	assert.ErrorIs(t, err, ErrMessageTemplate)

	m, err := NewMessages(map[string]string{MessageCriticalSMS: "{{ .Missing }}"})
	require.NoError(t, err)
	_, err = m.Render(MessageCriticalSMS, MessageData{})
	assert.ErrorIs(t, err, ErrMessageTemplate)

	_, err = m.Render("nope", MessageData{})
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestFollowUp_CustomMessages(t *testing.T) {
	clock := newFakeClock()
	stub := newModuleStub(map[string]map[string]any{
		keyInvoice: {"invoice_number": "INV-042", "grand_total": 60000.0, "due_date": "2026-02-27"},
		keyCredit:  {"current_score": 720.0},
	})

	messages, err := NewMessages(map[string]string{
		MessageReminderSubject: `Reminder {{ .Attempt }} for {{ .InvoiceNumber }}`,
		MessageReminderSMS:     `Pay {{ money .Amount }} for {{ .InvoiceNumber }}`,
	})
	require.NoError(t, err)

	e := New(Config{
		Store:      NewMemoryStore(),
		Dispatcher: stub,
		Publisher:  &eventSink{},
		Now:        clock.Now,
	})
	require.NoError(t, e.Register(OverdueFollowUp(FollowUpConfig{
		Now:      clock.Now,
		Messages: messages,
	})))

	exec, err := e.StartWorkflow(context.Background(), OverdueFollowUpType, followUpInput(1), "t1", "u1")
	require.NoError(t, err)

	e.runPass(context.Background(), exec.ID)

	require.GreaterOrEqual(t, stub.count(keyEmail), 1)
	assert.Equal(t, "Reminder 1 for INV-042", stub.params[keyEmail][0]["subject"])
	require.Equal(t, 1, stub.count(keySMS))
	assert.Equal(t, "Pay 60000.00 for INV-042", stub.params[keySMS][0]["message"])
}
