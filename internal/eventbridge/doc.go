// Package eventbridge реализует Event Bridge: публикацию событий между
// модулями платформы.
//
// Структура:
//   - bridge.go        — Bridge: подписки, listeners, PublishEvent, PublishBatch
//   - subscriptions.go — типы событий и подписки модулей по умолчанию
//   - errors.go        — ошибки
//
// Доставка at-most-once, порядок между подписчиками не гарантируется.
// Модули должны обрабатывать handleEvent идемпотентно.
package eventbridge
