package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Keystone/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeModuleEvent    MessageType = "module.event"
	MessageTypeWorkflowSignal MessageType = "workflow.signal"
)

// Message — конверт сообщения.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// WorkflowSignalPayload — payload сигнала workflow.
type WorkflowSignalPayload struct {
	ExecutionID uuid.UUID      `json:"execution_id"`
	Name        string         `json:"name"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Publisher публикует сообщения в RabbitMQ.
//
// Реализует eventbridge.Transport: события, опубликованные через
// Event Bridge, зеркалируются в keystone.events.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
	now    func() time.Time
}

// NewPublisher создаёт Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
		now:    time.Now,
	}
}

// Publish публикует сообщение в exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),
			string(routingKey),
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Type:         string(msg.Type),
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishModuleEvent зеркалирует опубликованное событие в outbound.<event_type>.
func (p *Publisher) PublishModuleEvent(ctx context.Context, evt domain.ModuleEvent) error {
	return p.Publish(ctx, ExchangeEvents, OutboundKey(evt.EventType), p.eventMessage(evt))
}

// PublishInboundEvent отправляет событие модуля в hub (inbound.<event_type>).
func (p *Publisher) PublishInboundEvent(ctx context.Context, evt domain.ModuleEvent) error {
	evt = evt.WithDefaults(p.now())
	return p.Publish(ctx, ExchangeEvents, InboundKey(evt.EventType), p.eventMessage(evt))
}

// PublishWorkflowSignal отправляет сигнал execution.
func (p *Publisher) PublishWorkflowSignal(ctx context.Context, sig WorkflowSignalPayload) error {
	msg := &Message{
		ID:        uuid.NewString(),
		Type:      MessageTypeWorkflowSignal,
		Payload:   sig,
		Timestamp: p.now(),
	}
	return p.Publish(ctx, ExchangeWorkflow, RoutingKeySignal, msg)
}

func (p *Publisher) eventMessage(evt domain.ModuleEvent) *Message {
	id := evt.EventID
	if id == "" {
		id = uuid.NewString()
	}
	return &Message{
		ID:        id,
		Type:      MessageTypeModuleEvent,
		Payload:   evt,
		Timestamp: p.now(),
	}
}
