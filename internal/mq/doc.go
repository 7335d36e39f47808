// Package mq предоставляет инфраструктуру RabbitMQ для hub.
//
// Структура:
//   - connection.go — соединение с reconnect и graceful shutdown
//   - topology.go   — exchanges, queues, bindings
//   - publisher.go  — публикация событий и сигналов
//   - consumer.go   — потребление очередей
//   - handlers.go   — обработчики: events.inbound → Event Bridge,
//     workflow.signals → Workflow Engine
//   - errors.go     — ошибки
//
// Типы сообщений:
//   - module.event     — межмодульное событие
//   - workflow.signal  — сигнал workflow execution
//
// Exchanges:
//   - keystone.events   — события (topic: inbound.*, outbound.*)
//   - keystone.workflow — сигналы workflow
//   - keystone.dlq      — dead letter queue
//
// Исход сообщения (Settle): успех — ack, первая ошибка — requeue,
// ошибка после повторной доставки или битый конверт — DLQ.
package mq
