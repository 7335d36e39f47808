package gateway

import (
	"errors"
	"fmt"
)

// Ошибки Integration Gateway.
var (
	// ErrRateLimitExceeded — тенант превысил лимит вызовов в скользящем окне.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrCircuitBreakerOpen — circuit breaker модуля открыт, вызов отклонён.
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")

	// ErrModuleTimeout — модуль не ответил за отведённое время.
	ErrModuleTimeout = errors.New("module call timeout")

	// ErrModuleUnreachable — модуль недоступен (нет адаптера или транспортная ошибка).
	ErrModuleUnreachable = errors.New("module unreachable")

	// ErrUnknownModule — адаптер для модуля не зарегистрирован.
	ErrUnknownModule = errors.New("module not registered")

	// ErrAllModulesFailed — при multi-module dispatch ни один модуль не ответил успешно.
	ErrAllModulesFailed = errors.New("all modules failed")
)

// ModuleError — ошибка вызова конкретного модуля.
type ModuleError struct {
	Module string // имя модуля
	Action string // вызванное действие
	Err    error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ModuleError) Error() string {
	return fmt.Sprintf("module %s action %s: %v", e.Module, e.Action, e.Err)
}

// Unwrap возвращает базовую ошибку.
func (e *ModuleError) Unwrap() error {
	return e.Err
}
