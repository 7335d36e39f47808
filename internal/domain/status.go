package domain

// WorkflowStatus — статус выполнения workflow.
//
// Жизненный цикл:
//
//	pending → running → completed
//	                  ↘ failed
//	                  ↘ timeout
//	        (или) → cancelled (из pending или running)
type WorkflowStatus string

const (
	// WorkflowStatusPending — execution создан, первый проход ещё не начался.
	WorkflowStatusPending WorkflowStatus = "pending"

	// WorkflowStatusRunning — execution выполняется или приостановлен (timer/signal).
	WorkflowStatusRunning WorkflowStatus = "running"

	// WorkflowStatusCompleted — workflow успешно завершён.
	WorkflowStatusCompleted WorkflowStatus = "completed"

	// WorkflowStatusFailed — workflow завершился с ошибкой.
	WorkflowStatusFailed WorkflowStatus = "failed"

	// WorkflowStatusCancelled — workflow отменён.
	WorkflowStatusCancelled WorkflowStatus = "cancelled"

	// WorkflowStatusTimeout — истёк таймаут execution или ожидания сигнала.
	WorkflowStatusTimeout WorkflowStatus = "timeout"
)

// IsTerminal возвращает true, если статус финальный.
func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusCancelled, WorkflowStatusTimeout:
		return true
	default:
		return false
	}
}

// StepStatus — статус записи истории шага.
//
//	waiting → completed
//	        ↘ failed
type StepStatus string

const (
	// StepStatusWaiting — шаг ожидает (таймер или сигнал).
	StepStatusWaiting StepStatus = "waiting"

	// StepStatusCompleted — шаг завершён, результат записан.
	StepStatusCompleted StepStatus = "completed"

	// StepStatusFailed — activity исчерпала попытки.
	StepStatusFailed StepStatus = "failed"
)

// StepKind — тип шага workflow.
type StepKind string

const (
	StepKindActivity StepKind = "activity"
	StepKindTimer    StepKind = "timer"
	StepKindSignal   StepKind = "signal"
)

// ConstraintStatus — статус ограничения.
type ConstraintStatus string

const (
	ConstraintStatusActive    ConstraintStatus = "active"
	ConstraintStatusResolved  ConstraintStatus = "resolved"
	ConstraintStatusDismissed ConstraintStatus = "dismissed"
)

// RecommendationStatus — статус рекомендации.
type RecommendationStatus string

const (
	RecommendationStatusPending   RecommendationStatus = "pending"
	RecommendationStatusAccepted  RecommendationStatus = "accepted"
	RecommendationStatusRejected  RecommendationStatus = "rejected"
	RecommendationStatusCompleted RecommendationStatus = "completed"
)

// HealthStatus — агрегированное состояние компонента.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// Worse возвращает более тяжёлое из двух состояний.
func (s HealthStatus) Worse(other HealthStatus) HealthStatus {
	rank := func(h HealthStatus) int {
		switch h {
		case HealthStatusHealthy:
			return 0
		case HealthStatusDegraded:
			return 1
		default:
			return 2
		}
	}
	if rank(other) > rank(s) {
		return other
	}
	return s
}
