package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/shaiso/Keystone/internal/domain"
	"github.com/shaiso/Keystone/internal/eventbridge"
)

// OverdueFollowUpType — тип workflow сопровождения просроченного инвойса.
const OverdueFollowUpType = "overdue_invoice_follow_up"

// Сигналы overdue_invoice_follow_up.
const (
	SignalPaymentReceived  = "payment_received"
	SignalManualEscalation = "manual_escalation"
)

// Приоритеты follow-up.
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

// Итоги follow-up.
const (
	FinalStatusPaid              = "paid"
	FinalStatusManuallyEscalated = "manually_escalated"
	FinalStatusAutoEscalated     = "auto_escalated"
)

const (
	followUpTimeout            = 30 * 24 * time.Hour
	defaultFollowUpAttempts    = 3
	defaultCollectionsEmail    = "collections@company.com"
	defaultCreditScoreFallback = 700
)

// followUpActivity — политика activity для вызовов модулей.
var followUpActivity = ActivityOptions{
	StartToCloseTimeout: time.Minute,
	MaxAttempts:         3,
	InitialInterval:     time.Second,
	BackoffCoefficient:  2,
	MaxInterval:         30 * time.Second,
}

// baseWait — базовая пауза между раундами напоминаний по приоритету.
var baseWait = map[string]time.Duration{
	PriorityCritical: 2 * time.Hour,
	PriorityHigh:     24 * time.Hour,
	PriorityMedium:   72 * time.Hour,
	PriorityLow:      168 * time.Hour,
}

var followUpValidate = validator.New()

// FollowUpInput — вход overdue_invoice_follow_up.
type FollowUpInput struct {
	TenantID            string `json:"tenant_id" validate:"required"`
	InvoiceID           string `json:"invoice_id" validate:"required"`
	CustomerID          string `json:"customer_id" validate:"required"`
	UserID              string `json:"user_id"`
	MaxAttempts         int    `json:"max_attempts" validate:"gte=1,lte=10"`
	SkipEmail           bool   `json:"skip_email"`
	SkipSMS             bool   `json:"skip_sms"`
	EscalateImmediately bool   `json:"escalate_immediately"`
}

// DecodeFollowUpInput разбирает и валидирует вход. MaxAttempts по умолчанию 3.
func DecodeFollowUpInput(input map[string]any) (FollowUpInput, error) {
	var in FollowUpInput

	raw, err := json.Marshal(input)
	if err != nil {
		return in, fmt.Errorf("marshal input: %w", err)
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return in, fmt.Errorf("decode input: %w", err)
	}

	if _, set := input["max_attempts"]; !set {
		in.MaxAttempts = defaultFollowUpAttempts
	}

	if err := followUpValidate.Struct(&in); err != nil {
		return in, err
	}
	return in, nil
}

// FollowUpPriority вычисляет приоритет сопровождения.
func FollowUpPriority(amount, daysOverdue, creditScore float64) string {
	switch {
	case amount > 100000 || daysOverdue > 60 || creditScore < 500:
		return PriorityCritical
	case amount > 50000 || daysOverdue > 30 || creditScore < 650:
		return PriorityHigh
	case amount > 10000 || daysOverdue > 15:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// FollowUpWait возвращает паузу ожидания после раунда attempt.
func FollowUpWait(priority string, attempt int) time.Duration {
	base, ok := baseWait[priority]
	if !ok {
		base = baseWait[PriorityLow]
	}
	return base * time.Duration(attempt)
}

// CustomerHealth вычисляет health score клиента по итогу сопровождения.
func CustomerHealth(creditScore float64, paid bool) float64 {
	if paid {
		return math.Min(100, creditScore/10+10)
	}
	return math.Max(0, creditScore/10-15)
}

// FollowUpConfig — параметры определения.
type FollowUpConfig struct {
	// CollectionsEmail — адрес команды взыскания для авто-эскалации.
	CollectionsEmail string

	// Now — часы для расчёта просрочки (default: time.Now).
	Now func() time.Time

	// Messages — тексты писем и SMS (default: DefaultMessages).
	Messages *Messages
}

// OverdueFollowUp возвращает определение overdue_invoice_follow_up.
//
// Шаги: детали инвойса, кредитный скоринг, приоритет, фиксация
// взаимодействия, до max_attempts раундов напоминаний с ожиданием
// payment_received / manual_escalation между раундами, итог.
func OverdueFollowUp(cfg FollowUpConfig) Definition {
	f := &followUp{
		collectionsEmail: cfg.CollectionsEmail,
		now:              cfg.Now,
		messages:         cfg.Messages,
	}
	if f.collectionsEmail == "" {
		f.collectionsEmail = defaultCollectionsEmail
	}
	if f.now == nil {
		f.now = time.Now
	}
	if f.messages == nil {
		f.messages = DefaultMessages()
	}

	return Definition{
		Type:             OverdueFollowUpType,
		Run:              f.run,
		SignalPolicy:     SignalPolicyQueue,
		ExecutionTimeout: followUpTimeout,
		Validate: func(input map[string]any) error {
			_, err := DecodeFollowUpInput(input)
			return err
		},
	}
}

type followUp struct {
	collectionsEmail string
	now              func() time.Time
	messages         *Messages
}

// invoiceFacts — данные инвойса, нужные раундам.
type invoiceFacts struct {
	Number      string
	Amount      float64
	DaysOverdue float64
	DueDate     any
	Email       string
	Phone       string
}

func (f *followUp) run(wctx *Context, raw map[string]any) (map[string]any, error) {
	in, err := DecodeFollowUpInput(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	var actions []string

	// 1. Детали инвойса. Просрочка считается внутри activity и
	// записывается в историю вместе с ответом модуля.
	invoice, err := wctx.ExecuteActivity("get_invoice_details", followUpActivity, func(ctx context.Context) (map[string]any, error) {
		out, err := wctx.dispatch(ctx, domain.ModuleInvoiceManagement, "get_invoice_details", map[string]any{
			"invoice_id": in.InvoiceID,
		})
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = make(map[string]any)
		}
		if _, ok := out["days_overdue"]; !ok {
			out["days_overdue"] = daysOverdue(out["due_date"], f.now())
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	facts := invoiceFacts{
		Number:      stringOr(invoice["invoice_number"], in.InvoiceID),
		Amount:      number(invoice["grand_total"]),
		DaysOverdue: number(invoice["days_overdue"]),
		DueDate:     invoice["due_date"],
		Email:       stringOr(invoice["customer_email"], ""),
		Phone:       stringOr(invoice["customer_phone"], ""),
	}
	actions = append(actions, fmt.Sprintf("Retrieved invoice: %s, Amount: %.2f, Days overdue: %.0f",
		in.InvoiceID, facts.Amount, facts.DaysOverdue))

	if err := f.stepCompleted(wctx, "get_invoice_details", in); err != nil {
		return nil, err
	}

	// 2-3. Кредитный скоринг и приоритет.
	credit, err := wctx.CallModule("get_credit_score", domain.ModuleCreditScoring, "get_credit_score", map[string]any{
		"customer_id": in.CustomerID,
	}, followUpActivity)
	if err != nil {
		return nil, err
	}

	score := float64(defaultCreditScoreFallback)
	if v, ok := credit["current_score"]; ok {
		score = number(v)
	}
	priority := FollowUpPriority(facts.Amount, facts.DaysOverdue, score)
	actions = append(actions, fmt.Sprintf("Credit score: %.0f, Priority: %s", score, priority))

	if err := f.stepCompleted(wctx, "assess_priority", in); err != nil {
		return nil, err
	}

	// 4. Фиксация взаимодействия.
	if _, err := wctx.CallModule("track_interaction", domain.ModuleAnalyticsReporting, "track_customer_interaction", map[string]any{
		"customer_id":      in.CustomerID,
		"interaction_type": "overdue_follow_up_started",
		"invoice_id":       in.InvoiceID,
		"priority":         priority,
		"days_overdue":     facts.DaysOverdue,
		"amount":           facts.Amount,
	}, followUpActivity); err != nil {
		return nil, err
	}

	if err := f.stepCompleted(wctx, "track_interaction", in); err != nil {
		return nil, err
	}

	// 5. Раунды напоминаний.
	var signal *domain.Signal
	rounds := 0
	for attempt := 1; attempt <= in.MaxAttempts && signal == nil; attempt++ {
		sent, err := f.remind(wctx, in, facts, priority, attempt)
		if err != nil {
			return nil, err
		}
		rounds = attempt
		actions = append(actions, sent)

		if err := f.stepCompleted(wctx, fmt.Sprintf("reminder_round_%d", attempt), in); err != nil {
			return nil, err
		}

		if attempt < in.MaxAttempts {
			signal, err = wctx.WaitSignal(fmt.Sprintf("await_payment_%d", attempt),
				FollowUpWait(priority, attempt), SignalPaymentReceived, SignalManualEscalation)
			if err != nil {
				return nil, err
			}
		}
	}

	// 6. Итог.
	result := map[string]any{
		"invoice_id": in.InvoiceID,
		"priority":   priority,
		"attempts":   rounds,
	}

	switch {
	case signal != nil && signal.Name == SignalPaymentReceived:
		actions = append(actions, fmt.Sprintf("Payment received: %v for amount %v",
			signal.Payload["payment_id"], signal.Payload["amount"]))

		if err := f.setInvoiceStatus(wctx, in, "paid"); err != nil {
			return nil, err
		}
		health := CustomerHealth(score, true)
		if err := f.setHealth(wctx, in, health); err != nil {
			return nil, err
		}

		actions = append(actions, "Payment received - workflow completed successfully")
		result["status"] = "completed"
		result["final_status"] = FinalStatusPaid
		result["health_score"] = health

	case signal != nil && signal.Name == SignalManualEscalation:
		actions = append(actions, fmt.Sprintf("Manual escalation triggered: %v", signal.Payload["reason"]))
		actions = append(actions, "Manual escalation - transferred to collections team")
		result["status"] = "escalated"
		result["final_status"] = FinalStatusManuallyEscalated

	default:
		if err := f.setInvoiceStatus(wctx, in, "collections"); err != nil {
			return nil, err
		}
		subject, err := f.messages.Render(MessageEscalationSubject, f.messageData(in, facts, priority, rounds))
		if err != nil {
			return nil, err
		}
		if _, err := wctx.CallModule("notify_collections", domain.ModuleCustomerCommunication, "send_email", map[string]any{
			"to":       f.collectionsEmail,
			"subject":  subject,
			"template": "collections-escalation",
			"data": map[string]any{
				"invoice_id":    in.InvoiceID,
				"customer_id":   in.CustomerID,
				"amount":        facts.Amount,
				"days_overdue":  facts.DaysOverdue,
				"attempts_made": rounds,
				"credit_score":  score,
			},
		}, followUpActivity); err != nil {
			return nil, err
		}
		health := CustomerHealth(score, false)
		if err := f.setHealth(wctx, in, health); err != nil {
			return nil, err
		}

		actions = append(actions, "Auto-escalated to collections after max attempts")
		result["status"] = "escalated"
		result["final_status"] = FinalStatusAutoEscalated
		result["health_score"] = health
	}

	result["actions_taken"] = actions

	if _, err := wctx.PublishEvent("publish_workflow_completed", domain.ModuleEvent{
		EventType:    eventbridge.EventWorkflowCompleted,
		SourceModule: domain.ModuleOrchestrationHub,
		Payload: map[string]any{
			"execution_id":  wctx.ExecutionID().String(),
			"workflow_type": OverdueFollowUpType,
			"invoice_id":    in.InvoiceID,
			"customer_id":   in.CustomerID,
			"final_status":  result["final_status"],
		},
	}); err != nil {
		return nil, err
	}

	return result, nil
}

// remind выполняет один раунд напоминаний по приоритету.
func (f *followUp) remind(wctx *Context, in FollowUpInput, facts invoiceFacts, priority string, attempt int) (string, error) {
	emailData := map[string]any{
		"invoice_number": facts.Number,
		"amount":         facts.Amount,
		"due_date":       facts.DueDate,
		"attempt":        attempt,
	}

	critical := priority == PriorityCritical || in.EscalateImmediately

	subjectKey, smsKey := MessageReminderSubject, MessageReminderSMS
	if critical {
		subjectKey, smsKey = MessageCriticalSubject, MessageCriticalSMS
	}
	data := f.messageData(in, facts, priority, attempt)
	subject, err := f.messages.Render(subjectKey, data)
	if err != nil {
		return "", err
	}
	sms, err := f.messages.Render(smsKey, data)
	if err != nil {
		return "", err
	}

	send := func(channel, action string, params map[string]any) error {
		_, err := wctx.CallModule(fmt.Sprintf("send_%s_%d", channel, attempt),
			domain.ModuleCustomerCommunication, action, params, followUpActivity)
		return err
	}

	switch {
	case critical:
		if err := send("email", "send_email", map[string]any{
			"to":       facts.Email,
			"subject":  subject,
			"template": "critical-payment-reminder",
			"data":     emailData,
		}); err != nil {
			return "", err
		}
		if err := send("sms", "send_sms", map[string]any{
			"phone_number": facts.Phone,
			"message":      sms,
		}); err != nil {
			return "", err
		}
		if err := send("whatsapp", "send_whatsapp", map[string]any{
			"phone_number": facts.Phone,
			"template":     "critical_payment_reminder",
			"parameters": map[string]any{
				"invoice_number": facts.Number,
				"amount":         facts.Amount,
			},
		}); err != nil {
			return "", err
		}
		return fmt.Sprintf("Critical priority follow-up (Attempt %d): Email, SMS, and WhatsApp sent", attempt), nil

	case priority == PriorityHigh:
		if !in.SkipEmail {
			if err := send("email", "send_email", map[string]any{
				"to":       facts.Email,
				"subject":  subject,
				"template": "high-priority-payment-reminder",
				"data":     emailData,
			}); err != nil {
				return "", err
			}
		}
		if !in.SkipSMS {
			if err := send("sms", "send_sms", map[string]any{
				"phone_number": facts.Phone,
				"message":      sms,
			}); err != nil {
				return "", err
			}
		}
		return fmt.Sprintf("High priority follow-up (Attempt %d): Email and SMS sent", attempt), nil

	default:
		if in.SkipEmail {
			return fmt.Sprintf("Follow-up skipped (Attempt %d): email disabled", attempt), nil
		}
		if err := send("email", "send_email", map[string]any{
			"to":       facts.Email,
			"subject":  subject,
			"template": "standard-payment-reminder",
			"data":     emailData,
		}); err != nil {
			return "", err
		}
		return fmt.Sprintf("Medium priority follow-up (Attempt %d): Email sent", attempt), nil
	}
}

func (f *followUp) messageData(in FollowUpInput, facts invoiceFacts, priority string, attempt int) MessageData {
	return MessageData{
		InvoiceID:     in.InvoiceID,
		InvoiceNumber: facts.Number,
		CustomerID:    in.CustomerID,
		Amount:        facts.Amount,
		DaysOverdue:   facts.DaysOverdue,
		Attempt:       attempt,
		Priority:      priority,
	}
}

func (f *followUp) setInvoiceStatus(wctx *Context, in FollowUpInput, status string) error {
	_, err := wctx.CallModule("update_invoice_status", domain.ModuleInvoiceManagement, "update_invoice_status", map[string]any{
		"invoice_id": in.InvoiceID,
		"status":     status,
	}, followUpActivity)
	return err
}

func (f *followUp) setHealth(wctx *Context, in FollowUpInput, health float64) error {
	_, err := wctx.CallModule("update_customer_health", domain.ModuleMarketingCustomerSuccess, "update_customer_health", map[string]any{
		"customer_id":  in.CustomerID,
		"health_score": health,
	}, followUpActivity)
	return err
}

// stepCompleted публикует workflow.step_completed.
func (f *followUp) stepCompleted(wctx *Context, step string, in FollowUpInput) error {
	_, err := wctx.PublishEvent("publish_"+step, domain.ModuleEvent{
		EventType:    eventbridge.EventWorkflowStepCompleted,
		SourceModule: domain.ModuleOrchestrationHub,
		Payload: map[string]any{
			"execution_id":  wctx.ExecutionID().String(),
			"workflow_type": OverdueFollowUpType,
			"step":          step,
			"invoice_id":    in.InvoiceID,
		},
	})
	return err
}

// daysOverdue считает полные и начатые дни просрочки от due_date.
func daysOverdue(due any, now time.Time) float64 {
	s, ok := due.(string)
	if !ok || s == "" {
		return 0
	}

	var t time.Time
	var err error
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if t, err = time.Parse(layout, s); err == nil {
			break
		}
	}
	if err != nil {
		return 0
	}

	days := math.Ceil(now.Sub(t).Hours() / 24)
	return math.Max(0, days)
}

// number приводит значение из JSON-ответа к float64.
func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	default:
		return 0
	}
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}
