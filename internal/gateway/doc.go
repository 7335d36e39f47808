// Package gateway реализует Integration Gateway — единую точку вызова
// модулей платформы.
//
// Структура:
//   - adapter.go   — интерфейс Adapter и AdapterFunc
//   - gateway.go   — Gateway: ExecuteModuleAction, ExecuteMultiModuleAction, reset
//   - breaker.go   — circuit breaker на модуль (closed/open/half-open)
//   - ratelimit.go — скользящее окно вызовов на тенанта
//   - health.go    — health checks, агрегированный статус, статистика, broadcast
//   - errors.go    — ошибки и ModuleError
//
// Порядок проверок при вызове: rate limit → circuit breaker → адаптер с таймаутом.
// Отказы по rate limit и открытому breaker не доходят до адаптера и
// не засчитываются breaker.
package gateway
