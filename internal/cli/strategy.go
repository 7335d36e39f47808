package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shaiso/Keystone/internal/domain"
)

// NewAnalyzeCmd создаёт команду анализа ограничений.
func NewAnalyzeCmd(hubFn HubFunc, outputFn func() *Output) *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Identify receivables constraints for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			hub, err := hubFn(cmd.Context())
			if err != nil {
				return err
			}
			out := outputFn()

			result, err := hub.AnalyzeConstraints(cmd.Context(), tenantID)
			if err != nil {
				return err
			}

			if len(result.Constraints) == 0 && !out.JSONMode() {
				out.Success("No constraints identified")
				return nil
			}

			headers := []string{"TYPE", "SEVERITY", "IMPACT", "TITLE", "ID"}
			rows := make([][]string, len(result.Constraints))
			for i, c := range result.Constraints {
				rows[i] = []string{string(c.Type), string(c.Severity), formatFloat(c.ImpactScore), c.Title, c.ID.String()}
			}

			if err := out.Print(headers, rows, result); err != nil {
				return err
			}
			if !out.JSONMode() {
				out.Success(fmt.Sprintf("Primary constraint: %s (total impact %s, confidence %s%%)",
					result.PrimaryConstraint.Title,
					formatFloat(result.TotalImpactScore),
					formatFloat(result.ConfidenceScore),
				))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

// NewRecommendCmd создаёт команду генерации стратегических рекомендаций.
func NewRecommendCmd(hubFn HubFunc, outputFn func() *Output) *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Generate strategic recommendations ranked by priority",
		RunE: func(cmd *cobra.Command, args []string) error {
			hub, err := hubFn(cmd.Context())
			if err != nil {
				return err
			}
			out := outputFn()

			recs, err := hub.GenerateStrategicRecommendations(cmd.Context(), tenantID)
			if err != nil {
				return err
			}

			headers := []string{"PRIORITY", "CONSTRAINT", "TITLE", "ROI%", "DAYS", "PRIMARY"}
			rows := make([][]string, len(recs.Recommendations))
			for i, r := range recs.Recommendations {
				rows[i] = []string{
					strconv.Itoa(r.Priority),
					string(r.ConstraintType),
					r.Title,
					formatFloat(r.EstimatedROIPercentage),
					strconv.Itoa(r.ImplementationTimelineDays),
					strconv.FormatBool(r.IsPrimaryFocus),
				}
			}

			if err := out.Print(headers, rows, recs); err != nil {
				return err
			}
			if recs.Insights != nil && !out.JSONMode() {
				out.Success(fmt.Sprintf("Insights (%s): %s", recs.Insights.Source, recs.Insights.Summary))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

// NewFocusCmd создаёт команду "одна главная задача".
func NewFocusCmd(hubFn HubFunc, outputFn func() *Output) *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "focus",
		Short: "Show the single highest-priority recommendation",
		RunE: func(cmd *cobra.Command, args []string) error {
			hub, err := hubFn(cmd.Context())
			if err != nil {
				return err
			}
			out := outputFn()

			rec, err := hub.GetOneThingToFocusOn(cmd.Context(), tenantID)
			if err != nil {
				return err
			}
			if rec == nil {
				if out.JSONMode() {
					return out.JSON(nil)
				}
				out.Success("No constraints identified, nothing to focus on")
				return nil
			}

			return out.Detail(focusFields(rec), rec)
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func focusFields(rec *domain.Recommendation) [][2]string {
	fields := [][2]string{
		{"Title", rec.Title},
		{"Constraint", string(rec.ConstraintType)},
		{"Priority", strconv.Itoa(rec.Priority)},
		{"Expected impact", rec.ExpectedImpact},
		{"ROI", formatFloat(rec.EstimatedROIPercentage) + "%"},
		{"Timeline", strconv.Itoa(rec.ImplementationTimelineDays) + " days"},
	}
	for i, item := range rec.ActionItems {
		fields = append(fields, [2]string{
			"Action " + strconv.Itoa(i+1),
			fmt.Sprintf("%s (%s h)", item.Title, formatFloat(item.EstimatedEffortHours)),
		})
	}
	return fields
}

// NewAutoCmd создаёт команду разовой auto-orchestration.
func NewAutoCmd(hubFn HubFunc, outputFn func() *Output) *cobra.Command {
	var tenantID, userID string

	cmd := &cobra.Command{
		Use:   "auto",
		Short: "Analyze a tenant and auto-trigger follow-ups for critical cash flow constraints",
		RunE: func(cmd *cobra.Command, args []string) error {
			hub, err := hubFn(cmd.Context())
			if err != nil {
				return err
			}
			out := outputFn()

			res, err := hub.AutoOrchestrate(cmd.Context(), tenantID, userID)
			if err != nil {
				return err
			}

			ids := make([]string, len(res.ExecutionIDs))
			for i, id := range res.ExecutionIDs {
				ids[i] = id.String()
			}

			if err := out.Detail([][2]string{
				{"Constraints", strconv.Itoa(res.ConstraintsIdentified)},
				{"Recommendations", strconv.Itoa(res.RecommendationsGenerated)},
				{"Workflows triggered", strconv.Itoa(res.WorkflowsTriggered)},
				{"Executions", orDash(strings.Join(ids, ", "))},
			}, res); err != nil {
				return err
			}

			for invoiceID, msg := range res.Errors {
				out.Error(fmt.Sprintf("invoice %s: %s", invoiceID, msg))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID")
	cmd.Flags().StringVar(&userID, "user", "cli", "User ID recorded on started workflows")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

// NewMetricsCmd создаёт команду метрик оркестрации.
func NewMetricsCmd(hubFn HubFunc, outputFn func() *Output) *cobra.Command {
	var tenantID string
	var days int

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show orchestration metrics for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			hub, err := hubFn(cmd.Context())
			if err != nil {
				return err
			}
			out := outputFn()

			m, err := hub.GetOrchestrationMetrics(cmd.Context(), tenantID, days)
			if err != nil {
				return err
			}

			return out.Detail([][2]string{
				{"Period", strconv.Itoa(m.PeriodDays) + " days"},
				{"Constraints identified", strconv.Itoa(m.ConstraintsIdentified)},
				{"Recommendations", strconv.Itoa(m.RecommendationsGenerated)},
				{"Workflows executed", strconv.Itoa(m.WorkflowsExecuted)},
				{"Workflows successful", strconv.Itoa(m.WorkflowsSuccessful)},
				{"Workflows active", strconv.Itoa(m.WorkflowsActive)},
				{"Avg duration", formatFloat(m.AverageWorkflowDurationMs) + " ms"},
				{"Auto-orchestrations", strconv.Itoa(m.AutoOrchestrationTriggers)},
			}, m)
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID")
	cmd.Flags().IntVar(&days, "days", 30, "Period in days")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}
