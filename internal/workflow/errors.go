package workflow

import "errors"

// Ошибки Workflow Engine.
var (
	// ErrActivityFailed — activity исчерпала попытки. Завершает workflow статусом failed.
	ErrActivityFailed = errors.New("activity failed")

	// ErrSignalTimeout — определение не дождалось сигнала и завершает
	// execution статусом timeout.
	ErrSignalTimeout = errors.New("signal wait timed out")

	// ErrExecutionTimeout — истёк таймаут всего execution.
	ErrExecutionTimeout = errors.New("execution timed out")

	// ErrExecutionNotFound — execution не найден.
	ErrExecutionNotFound = errors.New("workflow execution not found")

	// ErrExecutionFinished — execution уже в терминальном статусе.
	ErrExecutionFinished = errors.New("workflow execution already finished")

	// ErrUnknownWorkflowType — тип workflow не зарегистрирован.
	ErrUnknownWorkflowType = errors.New("unknown workflow type")

	// ErrSignalPolicyMissing — определение зарегистрировано без политики сигналов.
	ErrSignalPolicyMissing = errors.New("signal policy is required")

	// ErrInvalidInput — входные данные не прошли валидацию.
	ErrInvalidInput = errors.New("invalid workflow input")

	// ErrDuplicateStep — step id повторяется в одном проходе.
	ErrDuplicateStep = errors.New("duplicate step id")

	// ErrEngineStopped — движок остановлен.
	ErrEngineStopped = errors.New("workflow engine stopped")

	// ErrUnknownMessage — неизвестный ключ шаблона сообщения.
	ErrUnknownMessage = errors.New("unknown message template")

	// ErrMessageTemplate — шаблон сообщения не разобрался или не отрендерился.
	ErrMessageTemplate = errors.New("message template error")
)

// errSuspended — внутренний маркер: проход приостановлен на таймере или сигнале.
var errSuspended = errors.New("workflow suspended")

// IsSuspended возвращает true, если ошибка означает приостановку прохода.
// Определения должны пробрасывать такую ошибку без изменений.
func IsSuspended(err error) bool {
	return errors.Is(err, errSuspended)
}
