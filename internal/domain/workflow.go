package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// WorkflowExecution — экземпляр выполнения durable workflow.
//
// Изменяется только Workflow Engine. После перехода в терминальный
// статус больше не меняется.
type WorkflowExecution struct {
	// ID — уникальный идентификатор execution.
	ID uuid.UUID `json:"id"`

	TenantID string `json:"tenant_id"`

	// WorkflowType — имя зарегистрированного определения.
	WorkflowType string `json:"workflow_type"`

	Status WorkflowStatus `json:"status"`

	// InputData — входные параметры.
	InputData map[string]any `json:"input_data,omitempty"`

	// ExecutionPath — append-only лог завершённых шагов.
	ExecutionPath []string `json:"execution_path"`

	// Result — результат завершённого workflow.
	Result map[string]any `json:"result,omitempty"`

	// Error — текст ошибки (failed/timeout) или причина отмены.
	Error string `json:"error,omitempty"`

	// WaitingOn — точка продолжения приостановленного execution.
	// Nil, если execution не ждёт таймер или сигнал.
	WaitingOn *WaitPoint `json:"waiting_on,omitempty"`

	StartedAt time.Time `json:"started_at"`

	// CompletedAt — время перехода в терминальный статус.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	CreatedBy string `json:"created_by,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// WaitPoint — сохранённая точка продолжения.
type WaitPoint struct {
	// StepID — шаг, на котором приостановлено выполнение.
	StepID string `json:"step_id"`

	// Kind — timer или signal.
	Kind StepKind `json:"kind"`

	// Signals — имена сигналов, которых ждёт шаг (только для signal).
	Signals []string `json:"signals,omitempty"`

	// WakeAt — время пробуждения (таймер) или дедлайн ожидания сигнала.
	WakeAt time.Time `json:"wake_at"`
}

// AwaitsSignal возвращает true, если execution ждёт сигнал с таким именем.
func (e *WorkflowExecution) AwaitsSignal(name string) bool {
	if e.WaitingOn == nil || e.WaitingOn.Kind != StepKindSignal {
		return false
	}
	return slices.Contains(e.WaitingOn.Signals, name)
}

// IsFinished возвращает true, если execution завершён (в любом статусе).
func (e *WorkflowExecution) IsFinished() bool {
	return e.Status.IsTerminal()
}

// Duration возвращает продолжительность выполнения.
// Для незавершённого execution возвращает 0.
func (e *WorkflowExecution) Duration() time.Duration {
	if e.CompletedAt == nil {
		return 0
	}
	return e.CompletedAt.Sub(e.StartedAt)
}

// AppendStep дописывает шаг в ExecutionPath.
func (e *WorkflowExecution) AppendStep(stepID string) {
	e.ExecutionPath = append(e.ExecutionPath, stepID)
}

// MarkRunning переводит execution в running.
func (e *WorkflowExecution) MarkRunning(now time.Time) {
	e.Status = WorkflowStatusRunning
	e.UpdatedAt = now
}

// MarkCompleted завершает execution с результатом.
func (e *WorkflowExecution) MarkCompleted(result map[string]any, now time.Time) {
	e.finish(WorkflowStatusCompleted, now)
	e.Result = result
}

// MarkFailed завершает execution с ошибкой.
func (e *WorkflowExecution) MarkFailed(err string, now time.Time) {
	e.finish(WorkflowStatusFailed, now)
	e.Error = err
}

// MarkCancelled отменяет execution.
func (e *WorkflowExecution) MarkCancelled(reason string, now time.Time) {
	e.finish(WorkflowStatusCancelled, now)
	e.Error = reason
}

// MarkTimeout завершает execution по таймауту.
func (e *WorkflowExecution) MarkTimeout(reason string, now time.Time) {
	e.finish(WorkflowStatusTimeout, now)
	e.Error = reason
}

func (e *WorkflowExecution) finish(status WorkflowStatus, now time.Time) {
	e.Status = status
	e.WaitingOn = nil
	e.CompletedAt = &now
	e.UpdatedAt = now
}

// StepRecord — запись истории шага, ключ (ExecutionID, StepID).
type StepRecord struct {
	ExecutionID uuid.UUID      `json:"execution_id"`
	StepID      string         `json:"step_id"`
	Kind        StepKind       `json:"kind"`
	Status      StepStatus     `json:"status"`
	Attempt     int            `json:"attempt"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	WakeAt      *time.Time     `json:"wake_at,omitempty"`
	RecordedAt  time.Time      `json:"recorded_at"`
}

// Signal — внешний сигнал, адресованный execution.
type Signal struct {
	ID          uuid.UUID      `json:"id"`
	ExecutionID uuid.UUID      `json:"execution_id"`
	Name        string         `json:"name"`
	Payload     map[string]any `json:"payload,omitempty"`
	ReceivedAt  time.Time      `json:"received_at"`

	// WaitStep — шаг ожидания, которому доставлен сигнал. Пусто для
	// сигналов, сохранённых вне ожидания.
	WaitStep string `json:"wait_step,omitempty"`
}
