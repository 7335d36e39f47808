package constraint

import (
	"errors"
	"fmt"
)

// Ошибки анализа ограничений.
var (
	// ErrConstraintData — не удалось получить метрики для анализатора.
	ErrConstraintData = errors.New("constraint data unavailable")

	// ErrNoMetricsSource — Analyzer создан без MetricsSource.
	ErrNoMetricsSource = errors.New("metrics source not configured")
)

// DataError — ошибка запроса метрик конкретного анализатора.
//
// errors.Is(err, ErrConstraintData) возвращает true, исходная ошибка
// доступна через Unwrap.
type DataError struct {
	Analyzer string // имя анализатора (cash_flow, credit_risk, ...)
	TenantID string
	Err      error
}

// Error реализует интерфейс error.
func (e *DataError) Error() string {
	return fmt.Sprintf("%v: analyzer %s tenant %s: %v", ErrConstraintData, e.Analyzer, e.TenantID, e.Err)
}

// Unwrap возвращает исходную ошибку.
func (e *DataError) Unwrap() error {
	return e.Err
}

// Is сопоставляет DataError с ErrConstraintData.
func (e *DataError) Is(target error) bool {
	return target == ErrConstraintData
}
