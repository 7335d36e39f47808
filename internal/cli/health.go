package cli

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Keystone/internal/domain"
)

// ErrUnhealthy — итоговый статус хаба unhealthy. Команда завершается с кодом 1.
var ErrUnhealthy = errors.New("orchestration hub is unhealthy")

// NewHealthCmd создаёт команду проверки здоровья компонентов.
func NewHealthCmd(hubFn HubFunc, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check health of hub components",
		RunE: func(cmd *cobra.Command, args []string) error {
			hub, err := hubFn(cmd.Context())
			if err != nil {
				return err
			}
			out := outputFn()

			h := hub.HealthCheck(cmd.Context())

			names := slices.Sorted(maps.Keys(h.Components))
			rows := make([][]string, len(names))
			for i, name := range names {
				rows[i] = []string{name, string(h.Components[name].Status)}
			}

			if err := out.Print([]string{"COMPONENT", "STATUS"}, rows, h); err != nil {
				return err
			}
			if !out.JSONMode() {
				out.Success(fmt.Sprintf("Overall: %s", h.Status))
			}

			if h.Status == domain.HealthStatusUnhealthy {
				return ErrUnhealthy
			}
			return nil
		},
	}
}

// NewEventCmd создаёт группу команд для событий.
func NewEventCmd(brokerFn BrokerFunc, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Publish module events",
	}

	cmd.AddCommand(newEventPublishCmd(brokerFn, outputFn))

	return cmd
}

func newEventPublishCmd(brokerFn BrokerFunc, outputFn func() *Output) *cobra.Command {
	var source, tenantID string
	var payloadKV []string

	cmd := &cobra.Command{
		Use:   "publish EVENT_TYPE",
		Short: "Publish an inbound module event to RabbitMQ for the hub's Event Bridge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parseKV(payloadKV)
			if err != nil {
				return err
			}

			if args[0] == "" {
				return fmt.Errorf("event type is required")
			}
			evt := domain.ModuleEvent{
				EventType:    args[0],
				SourceModule: source,
				TenantID:     tenantID,
				Payload:      payload,
			}.WithDefaults(time.Now())

			broker, err := brokerFn(cmd.Context())
			if err != nil {
				return err
			}
			out := outputFn()

			if err := broker.PublishInboundEvent(cmd.Context(), evt); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Event published: %s (%s)", evt.EventID, evt.EventType))
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Source module")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID")
	cmd.Flags().StringArrayVar(&payloadKV, "payload", nil, "Payload as KEY=VALUE or KEY:=JSON (repeatable)")
	_ = cmd.MarkFlagRequired("source")

	return cmd
}
