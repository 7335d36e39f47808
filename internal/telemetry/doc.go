// Package telemetry обеспечивает наблюдаемость системы.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики (gateway, events, workflow, constraints)
//
// Все компоненты используют единый формат логирования,
// метрики экспортируются hub-процессом на /metrics.
package telemetry
