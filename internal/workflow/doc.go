// Package workflow реализует Durable Workflow Engine.
//
// Определение workflow — детерминированная Go-функция, которая
// перезапускается с начала при каждом проходе. Шаги адресуются
// стабильным step id и бывают трёх видов:
//   - activity (ExecuteActivity, CallModule, PublishEvent) — с retry и backoff
//   - таймер (Sleep)
//   - ожидание сигнала (WaitSignal) с дедлайном
//
// Результат каждого шага пишется в историю (Store). При повторном
// проходе завершённые шаги возвращают записанный результат без
// повторного вызова. Ожидающий шаг сохраняет точку продолжения
// (waiting_on) и завершает проход, горутина не удерживается.
//
// Структура:
//   - engine.go       — Engine: lifecycle, проходы, Cancel, Signal, Health
//   - context.go      — Context: шаги и replay
//   - definition.go   — Definition, SignalPolicy, Registry
//   - retry.go        — ActivityOptions и backoff
//   - timer_queue.go  — min-heap пробуждений
//   - store.go        — интерфейс Store
//   - memory_store.go — in-memory Store
//   - followup.go     — определение overdue_invoice_follow_up
//   - errors.go       — ошибки
package workflow
