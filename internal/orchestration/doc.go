// Package orchestration реализует фасад Orchestration Hub для внешних
// вызывающих: CLI, HTTP-слоя и планировщика.
//
// Структура:
//   - service.go  — Service: анализ ограничений, рекомендации, workflows
//   - auto.go     — AutoOrchestrate: запуск follow-up по критичной просрочке
//   - metrics.go  — GetOrchestrationMetrics и журнал активности тенанта
//   - health.go   — HealthCheck по всем компонентам
//   - errors.go   — ошибки
//
// Service не владеет компонентами: он получает их готовыми и только
// координирует вызовы.
package orchestration
