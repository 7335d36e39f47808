package eventbridge

import "errors"

// Ошибки Event Bridge.
var (
	// ErrInvalidEvent — у события не указан тип.
	ErrInvalidEvent = errors.New("invalid event: event_type is required")

	// ErrBridgeClosed — bridge остановлен, новые публикации не принимаются.
	ErrBridgeClosed = errors.New("event bridge closed")
)
