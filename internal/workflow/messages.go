package workflow

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// Ключи шаблонов сообщений overdue_invoice_follow_up.
const (
	MessageCriticalSubject   = "critical_subject"
	MessageCriticalSMS       = "critical_sms"
	MessageReminderSubject   = "reminder_subject"
	MessageReminderSMS       = "reminder_sms"
	MessageEscalationSubject = "escalation_subject"
)

// defaultMessageTemplates — тексты, которые follow-up отправляет без переопределений.
var defaultMessageTemplates = map[string]string{
	MessageCriticalSubject:   `URGENT: Payment Required for Invoice {{ .InvoiceNumber }}`,
	MessageCriticalSMS:       `URGENT: Invoice {{ .InvoiceNumber }} payment of {{ money .Amount }} is severely overdue. Please contact us immediately.`,
	MessageReminderSubject:   `Payment Reminder: Invoice {{ .InvoiceNumber }}`,
	MessageReminderSMS:       `Invoice {{ .InvoiceNumber }} payment of {{ money .Amount }} is overdue. Please pay at your earliest convenience.`,
	MessageEscalationSubject: `Auto-escalation: Invoice {{ .InvoiceID }}`,
}

// MessageData — данные, доступные шаблонам:
//
//	{{ .InvoiceNumber }}, {{ money .Amount }}, {{ .Attempt }}
type MessageData struct {
	InvoiceID     string
	InvoiceNumber string
	CustomerID    string
	Amount        float64
	DaysOverdue   float64
	Attempt       int
	Priority      string
}

// messageFuncs — функции шаблонов сообщений.
var messageFuncs = template.FuncMap{
	// money — сумма с двумя знаками после точки
	"money": func(v float64) string {
		return fmt.Sprintf("%.2f", v)
	},

	// default — значение по умолчанию для пустой строки
	"default": func(def, val string) string {
		if val == "" {
			return def
		}
		return val
	},

	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"trim":  strings.TrimSpace,
}

// Messages — набор разобранных шаблонов сообщений.
// Безопасен для конкурентного использования.
type Messages struct {
	templates map[string]*template.Template
}

// NewMessages разбирает шаблоны. overrides заменяет тексты по ключу,
// остальные ключи берутся из набора по умолчанию.
func NewMessages(overrides map[string]string) (*Messages, error) {
	m := &Messages{templates: make(map[string]*template.Template, len(defaultMessageTemplates))}

	for key := range overrides {
		if _, ok := defaultMessageTemplates[key]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, key)
		}
	}

	for key, text := range defaultMessageTemplates {
		if o, ok := overrides[key]; ok {
			text = o
		}
		t, err := template.New(key).Funcs(messageFuncs).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMessageTemplate, key, err)
		}
		m.templates[key] = t
	}

	return m, nil
}

// DefaultMessages возвращает набор шаблонов по умолчанию.
func DefaultMessages() *Messages {
	m, err := NewMessages(nil)
	if err != nil {
		panic(err)
	}
	return m
}

// Render рендерит сообщение по ключу.
func (m *Messages) Render(key string, data MessageData) (string, error) {
	t, ok := m.templates[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownMessage, key)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrMessageTemplate, key, err)
	}
	return buf.String(), nil
}
