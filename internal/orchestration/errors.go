package orchestration

import "errors"

// Ошибки фасада.
var (
	// ErrTenantRequired — не указан tenant_id.
	ErrTenantRequired = errors.New("tenant_id is required")

	// ErrNotConfigured — компонент, нужный операции, не передан в Config.
	ErrNotConfigured = errors.New("component not configured")
)
