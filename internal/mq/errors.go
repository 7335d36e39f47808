package mq

import "errors"

// Ошибки слоя RabbitMQ.
var (
	// ErrNoChannel — соединение не установлено или переподключается.
	ErrNoChannel = errors.New("amqp channel not available")

	// ErrUnexpectedMessage — тип сообщения не подходит обработчику.
	ErrUnexpectedMessage = errors.New("unexpected message type")
)
