package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Keystone/internal/telemetry"
)

const defaultPrefetch = 10

// Handler — функция обработки сообщения.
// Ошибка возвращает сообщение в очередь. Сообщения, которые не имеет
// смысла повторять, обработчик должен подтверждать, возвращая nil.
//
// Логгер доставки (queue, message_id) доступен через telemetry.FromContext.
type Handler func(ctx context.Context, msg *Delivery) error

// Delivery — доставленное сообщение.
type Delivery struct {
	Message     Message
	Redelivered bool
}

// Settlement — итог обработки сообщения.
type Settlement string

const (
	SettleAck        Settlement = "ack"
	SettleRequeue    Settlement = "requeue"
	SettleDeadLetter Settlement = "dead_letter"
)

// Settle выбирает итог по ошибке обработчика. Повторно доставленное
// сообщение, которое снова не обработалось, уходит в DLQ.
func Settle(err error, redelivered bool) Settlement {
	switch {
	case err == nil:
		return SettleAck
	case redelivered:
		return SettleDeadLetter
	default:
		return SettleRequeue
	}
}

// errDeliveriesClosed — брокер закрыл канал доставки.
var errDeliveriesClosed = errors.New("deliveries channel closed")

// Consumer потребляет одну очередь хаба.
//
// Переживает переподключение: после разрыва ждёт ReconnectNotify
// и заново подписывается на очередь.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    string
	handler  Handler
	prefetch int

	mu     sync.Mutex
	cancel context.CancelFunc
}

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	// Queue — имя очереди (QueueEventsInbound, QueueWorkflowSignals).
	Queue string

	// Handler — обработчик сообщений.
	Handler Handler

	// Prefetch — количество неподтверждённых сообщений (default: 10).
	Prefetch int
}

// NewConsumer создаёт новый Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Consumer{
		conn:     conn,
		logger:   logger.With("queue", cfg.Queue),
		queue:    cfg.Queue,
		handler:  cfg.Handler,
		prefetch: cfg.Prefetch,
	}
	if c.prefetch <= 0 {
		c.prefetch = defaultPrefetch
	}
	return c
}

// Start потребляет очередь до отмены ctx, Stop или закрытия соединения.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	for {
		reconnected := c.conn.ReconnectNotify()

		deliveries, err := c.subscribe()
		if err == nil {
			c.logger.Info("consumer started")
			err = c.drain(ctx, deliveries)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		c.logger.Warn("consumer interrupted, waiting for reconnect", "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.Done():
			return ErrNoChannel
		case <-reconnected:
			c.logger.Info("reconnected, restarting consumer")
		}
	}
}

// subscribe настраивает prefetch и подписывается на очередь.
func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, ErrNoChannel
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	// manual ack, тег consumer генерирует брокер
	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.queue, err)
	}
	return deliveries, nil
}

// drain обрабатывает сообщения, пока канал доставки открыт.
func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				return errDeliveriesClosed
			}
			c.settle(raw, c.process(ctx, raw))
		}
	}
}

// process разбирает конверт и вызывает обработчик.
func (c *Consumer) process(ctx context.Context, raw amqp.Delivery) Settlement {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		c.logger.Error("failed to unmarshal message", "error", err, "body", string(raw.Body))
		return SettleDeadLetter
	}

	logger := c.logger.With("message_id", msg.ID, "type", msg.Type)
	logger.Debug("received message")

	err := c.invoke(telemetry.WithLogger(ctx, logger), &Delivery{Message: msg, Redelivered: raw.Redelivered})
	s := Settle(err, raw.Redelivered)
	if err != nil {
		logger.Error("handler failed", "error", err, "settlement", s)
	}
	return s
}

// invoke вызывает обработчик, превращая панику в ошибку.
func (c *Consumer) invoke(ctx context.Context, d *Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(ctx, d)
}

func (c *Consumer) settle(raw amqp.Delivery, s Settlement) {
	var err error
	switch s {
	case SettleAck:
		err = raw.Ack(false)
	case SettleRequeue:
		err = raw.Nack(false, true)
	default:
		err = raw.Nack(false, false)
	}
	if err != nil {
		c.logger.Warn("failed to settle message", "settlement", s, "error", err)
	}
	telemetry.MessagesConsumed.WithLabelValues(c.queue, string(s)).Inc()
}

// Stop останавливает consumer.
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// ParsePayload перекодирует payload конверта в указанный тип.
// После json.Unmarshal конверта payload — map[string]any.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}
	return result, nil
}
