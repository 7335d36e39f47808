package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

// Exchanges.
const (
	// ExchangeEvents — topic-обменник межмодульных событий.
	ExchangeEvents Exchange = "keystone.events"

	// ExchangeWorkflow — команды workflow engine.
	ExchangeWorkflow Exchange = "keystone.workflow"

	ExchangeDLQ Exchange = "keystone.dlq"
)

// Queues.
const (
	// QueueEventsInbound — события модулей для Event Bridge.
	QueueEventsInbound Queue = "events.inbound"

	// QueueWorkflowSignals — сигналы для workflow executions.
	QueueWorkflowSignals Queue = "workflow.signals"

	QueueDLQ Queue = "dlq.keystone"
)

// Routing keys.
//
// События в keystone.events маршрутизируются как
// "inbound.<event_type>" (от модулей к hub) и
// "outbound.<event_type>" (зеркало опубликованных hub событий).
const (
	RoutingKeyInboundPrefix  = "inbound."
	RoutingKeyOutboundPrefix = "outbound."

	RoutingKeyInboundAll RoutingKey = "inbound.#"
	RoutingKeySignal     RoutingKey = "signal"
	RoutingKeyDead       RoutingKey = "dead"
)

// InboundKey возвращает routing key входящего события.
func InboundKey(eventType string) RoutingKey {
	return RoutingKey(RoutingKeyInboundPrefix + eventType)
}

// OutboundKey возвращает routing key зеркалированного события.
func OutboundKey(eventType string) RoutingKey {
	return RoutingKey(RoutingKeyOutboundPrefix + eventType)
}

type exchangeDecl struct {
	name Exchange
	kind string
}

type queueDecl struct {
	name Queue
	dlq  bool
}

type bindingDecl struct {
	queue      Queue
	routingKey RoutingKey
	exchange   Exchange
}

var (
	exchanges = []exchangeDecl{
		{ExchangeEvents, amqp.ExchangeTopic},
		{ExchangeWorkflow, amqp.ExchangeDirect},
		{ExchangeDLQ, amqp.ExchangeDirect},
	}

	queues = []queueDecl{
		{QueueEventsInbound, true},
		{QueueWorkflowSignals, true},
		{QueueDLQ, false},
	}

	bindings = []bindingDecl{
		{QueueEventsInbound, RoutingKeyInboundAll, ExchangeEvents},
		{QueueWorkflowSignals, RoutingKeySignal, ExchangeWorkflow},
		{QueueDLQ, RoutingKeyDead, ExchangeDLQ},
	}
)

// SetupTopology объявляет exchanges, queues и bindings. Идемпотентно.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range exchanges {
			if err := ch.ExchangeDeclare(
				string(ex.name), // name
				ex.kind,         // type
				true,            // durable
				false,           // auto-deleted
				false,           // internal
				false,           // no-wait
				nil,             // arguments
			); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex.name, err)
			}
		}

		for _, q := range queues {
			if _, err := ch.QueueDeclare(
				string(q.name), // name
				true,           // durable
				false,          // delete when unused
				false,          // exclusive
				false,          // no-wait
				queueArgs(q),   // arguments
			); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
		}

		for _, b := range bindings {
			if err := ch.QueueBind(
				string(b.queue),      // queue name
				string(b.routingKey), // routing key
				string(b.exchange),   // exchange
				false,                // no-wait
				nil,                  // arguments
			); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}

		return nil
	})
}

// queueArgs возвращает аргументы очереди: отклонённые без requeue
// сообщения уходят в keystone.dlq.
func queueArgs(q queueDecl) amqp.Table {
	if !q.dlq {
		return nil
	}
	return amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDead),
	}
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Keystone RabbitMQ Topology:

    keystone.events (topic)
    ├── events.inbound [routing: inbound.#]
    │       Consumer: Event Bridge
    │       DLQ: dlq.keystone
    └── outbound.<event_type>
            Published by Event Bridge (mirror), no hub consumer

    keystone.workflow (direct)
    └── workflow.signals [routing: signal]
            Consumer: Workflow Engine
            DLQ: dlq.keystone

    keystone.dlq (direct)
    └── dlq.keystone [routing: dead]
            Manual processing
`
}
