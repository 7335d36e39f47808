package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/Keystone/internal/domain"
	"github.com/shaiso/Keystone/internal/eventbridge"
	"github.com/shaiso/Keystone/internal/telemetry"
	"github.com/shaiso/Keystone/internal/workflow"
)

// EventPublisher — получатель входящих событий. Реализуется *eventbridge.Bridge.
type EventPublisher interface {
	PublishEvent(ctx context.Context, evt domain.ModuleEvent) (domain.ModuleEvent, error)
}

// Signaler — получатель сигналов. Реализуется *workflow.Engine.
type Signaler interface {
	Signal(ctx context.Context, id uuid.UUID, name string, payload map[string]any) (workflow.Disposition, error)
}

// InboundEventHandler передаёт события из events.inbound в Event Bridge.
//
// Невалидные события подтверждаются и логируются: повтор их не исправит.
func InboundEventHandler(bridge EventPublisher, logger *slog.Logger) Handler {
	return func(ctx context.Context, d *Delivery) error {
		logger := loggerFor(ctx, logger)
		if d.Message.Type != MessageTypeModuleEvent {
			logger.Warn("skipping message", "type", d.Message.Type, "error", ErrUnexpectedMessage)
			return nil
		}

		evt, err := ParsePayload[domain.ModuleEvent](&d.Message)
		if err != nil {
			logger.Warn("skipping malformed event", "message_id", d.Message.ID, "error", err)
			return nil
		}

		_, err = bridge.PublishEvent(ctx, evt)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, eventbridge.ErrInvalidEvent):
			logger.Warn("skipping invalid event", "message_id", d.Message.ID, "error", err)
			return nil
		default:
			return fmt.Errorf("publish inbound event: %w", err)
		}
	}
}

// WorkflowSignalHandler передаёт сигналы из workflow.signals в Workflow Engine.
//
// Сигналы для неизвестных или завершённых executions подтверждаются.
func WorkflowSignalHandler(engine Signaler, logger *slog.Logger) Handler {
	return func(ctx context.Context, d *Delivery) error {
		logger := loggerFor(ctx, logger)
		if d.Message.Type != MessageTypeWorkflowSignal {
			logger.Warn("skipping message", "type", d.Message.Type, "error", ErrUnexpectedMessage)
			return nil
		}

		sig, err := ParsePayload[WorkflowSignalPayload](&d.Message)
		if err != nil {
			logger.Warn("skipping malformed signal", "message_id", d.Message.ID, "error", err)
			return nil
		}

		disp, err := engine.Signal(ctx, sig.ExecutionID, sig.Name, sig.Payload)
		switch {
		case err == nil:
			logger.Debug("signal handled",
				"execution_id", sig.ExecutionID,
				"signal", sig.Name,
				"disposition", disp,
			)
			return nil
		case errors.Is(err, workflow.ErrExecutionNotFound),
			errors.Is(err, workflow.ErrExecutionFinished),
			errors.Is(err, workflow.ErrInvalidInput),
			errors.Is(err, workflow.ErrUnknownWorkflowType):
			logger.Warn("signal discarded",
				"execution_id", sig.ExecutionID,
				"signal", sig.Name,
				"error", err,
			)
			return nil
		default:
			return fmt.Errorf("deliver signal: %w", err)
		}
	}
}

// loggerFor возвращает переданный логгер или логгер доставки из контекста.
func loggerFor(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return telemetry.FromContext(ctx)
}
