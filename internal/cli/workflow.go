package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shaiso/Keystone/internal/domain"
	"github.com/shaiso/Keystone/internal/mq"
	"github.com/shaiso/Keystone/internal/workflow"
)

// NewWorkflowCmd создаёт группу команд для управления workflow executions.
func NewWorkflowCmd(hubFn HubFunc, brokerFn BrokerFunc, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage workflow executions",
	}

	cmd.AddCommand(
		newWorkflowStartCmd(hubFn, outputFn),
		newWorkflowStatusCmd(hubFn, outputFn),
		newWorkflowCancelCmd(hubFn, outputFn),
		newWorkflowSignalCmd(hubFn, brokerFn, outputFn),
		newWorkflowListCmd(hubFn, outputFn),
	)

	return cmd
}

func executionRow(e *domain.WorkflowExecution) []string {
	return []string{
		e.ID.String(),
		e.TenantID,
		e.WorkflowType,
		string(e.Status),
		orDash(waitingOn(e)),
		formatTime(e.StartedAt),
	}
}

var executionHeaders = []string{"ID", "TENANT", "TYPE", "STATUS", "WAITING_ON", "STARTED"}

func waitingOn(e *domain.WorkflowExecution) string {
	if e.WaitingOn == nil {
		return ""
	}
	if len(e.WaitingOn.Signals) > 0 {
		return e.WaitingOn.StepID + " [" + strings.Join(e.WaitingOn.Signals, ",") + "]"
	}
	return e.WaitingOn.StepID
}

func newWorkflowStartCmd(hubFn HubFunc, outputFn func() *Output) *cobra.Command {
	var tenantID, userID string
	var inputs []string

	cmd := &cobra.Command{
		Use:   "start TYPE",
		Short: "Start a workflow execution",
		Long: "Start a workflow execution. The hub process picks it up on its next poll.\n\n" +
			"Inputs are KEY=VALUE (string) or KEY:=JSON (number, bool, object), e.g.\n" +
			"  keystone workflow start " + workflow.OverdueFollowUpType + " --tenant t1 \\\n" +
			"    --input invoice_id=inv-42 --input customer_id=c-7 --input max_attempts:=5",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := parseKV(inputs)
			if err != nil {
				return err
			}
			if tenantID != "" {
				input["tenant_id"] = tenantID
			}
			if userID != "" {
				input["user_id"] = userID
			}

			hub, err := hubFn(cmd.Context())
			if err != nil {
				return err
			}
			out := outputFn()

			exec, err := hub.StartWorkflow(cmd.Context(), args[0], input)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Workflow started: %s", exec.ID))
			return out.Print(executionHeaders, [][]string{executionRow(exec)}, exec)
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID (overrides input tenant_id)")
	cmd.Flags().StringVar(&userID, "user", "", "User ID recorded as creator")
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "Input as KEY=VALUE or KEY:=JSON (repeatable)")

	return cmd
}

func newWorkflowStatusCmd(hubFn HubFunc, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "status ID",
		Short: "Show execution status and step history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			hub, err := hubFn(cmd.Context())
			if err != nil {
				return err
			}
			out := outputFn()

			status, err := hub.GetWorkflowStatus(cmd.Context(), id)
			if err != nil {
				return err
			}
			if out.JSONMode() {
				return out.JSON(status)
			}

			e := status.WorkflowExecution
			if err := out.Detail([][2]string{
				{"ID", e.ID.String()},
				{"Type", e.WorkflowType},
				{"Tenant", e.TenantID},
				{"Status", string(e.Status)},
				{"Waiting on", orDash(waitingOn(e))},
				{"Path", orDash(strings.Join(e.ExecutionPath, " > "))},
				{"Error", orDash(e.Error)},
			}, status); err != nil {
				return err
			}

			if len(status.History) == 0 {
				return nil
			}
			rows := make([][]string, len(status.History))
			for i, r := range status.History {
				rows[i] = []string{r.StepID, string(r.Kind), string(r.Status), strconv.Itoa(r.Attempt), orDash(r.Error), formatTime(r.RecordedAt)}
			}
			out.Table([]string{"STEP", "KIND", "STATUS", "ATTEMPT", "ERROR", "RECORDED"}, rows)
			return nil
		},
	}
}

func newWorkflowCancelCmd(hubFn HubFunc, outputFn func() *Output) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a workflow execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			hub, err := hubFn(cmd.Context())
			if err != nil {
				return err
			}
			out := outputFn()

			exec, err := hub.CancelWorkflow(cmd.Context(), id, reason)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Workflow cancelled: %s", exec.ID))
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Cancellation reason")

	return cmd
}

func newWorkflowSignalCmd(hubFn HubFunc, brokerFn BrokerFunc, outputFn func() *Output) *cobra.Command {
	var payloadKV []string
	var viaBroker bool

	cmd := &cobra.Command{
		Use:   "signal ID NAME",
		Short: "Send a signal to a workflow execution",
		Long: "Send a signal to a workflow execution, e.g. payment_received or manual_escalation.\n\n" +
			"With --via-broker the signal is published to RabbitMQ and delivered by the hub process.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			name := args[1]

			payload, err := parseKV(payloadKV)
			if err != nil {
				return err
			}
			out := outputFn()

			if viaBroker {
				broker, err := brokerFn(cmd.Context())
				if err != nil {
					return err
				}
				if err := broker.PublishWorkflowSignal(cmd.Context(), mq.WorkflowSignalPayload{
					ExecutionID: id,
					Name:        name,
					Payload:     payload,
				}); err != nil {
					return err
				}
				out.Success(fmt.Sprintf("Signal %s published for %s", name, id))
				return nil
			}

			hub, err := hubFn(cmd.Context())
			if err != nil {
				return err
			}

			disp, err := hub.SignalWorkflow(cmd.Context(), id, name, payload)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Signal %s %s for %s", name, disp, id))
			if out.JSONMode() {
				return out.JSON(map[string]any{"execution_id": id, "signal": name, "disposition": disp})
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&payloadKV, "payload", nil, "Payload as KEY=VALUE or KEY:=JSON (repeatable)")
	cmd.Flags().BoolVar(&viaBroker, "via-broker", false, "Publish the signal to RabbitMQ instead of delivering in-process")

	return cmd
}

func newWorkflowListCmd(hubFn HubFunc, outputFn func() *Output) *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active workflow executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			hub, err := hubFn(cmd.Context())
			if err != nil {
				return err
			}
			out := outputFn()

			execs, err := hub.ListActiveWorkflows(cmd.Context(), tenantID)
			if err != nil {
				return err
			}

			rows := make([][]string, len(execs))
			for i := range execs {
				rows[i] = executionRow(&execs[i])
			}
			return out.Print(executionHeaders, rows, execs)
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Filter by tenant (all tenants if empty)")

	return cmd
}
