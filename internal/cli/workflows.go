package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/petrijr/caseflow/pkg/api"
)

func newTriggerCommand(app *App) *cobra.Command {
	var (
		actor string
		data  []string
	)
	cmd := &cobra.Command{
		Use:   "trigger <workflow-type> <entity-id>",
		Short: "Start a workflow instance",
		Long: `Start a workflow instance and enqueue its first step. A running
"caseflow serve" sharing the same store and queue executes it.

Example:
  caseflow trigger case_processing case-42 --data customer_email=a@b.c --actor intake`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parseData(data)
			if err != nil {
				return NewExitError(2, err)
			}
			ctx := cmd.Context()
			env, err := app.open(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			inst, err := env.Runtime.TriggerWorkflow(ctx, api.WorkflowType(args[0]), args[1], payload, actor)
			if err != nil {
				return err
			}
			def, _ := env.Runtime.Orchestrator.Definition(inst.WorkflowType)
			fmt.Fprintf(app.Out, "%s\t%s\t%s\t%s\n", inst.ID, inst.WorkflowType, inst.Status, def.Steps[inst.CurrentStepIndex].ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "cli", "actor recorded on the instance")
	cmd.Flags().StringArrayVar(&data, "data", nil, "payload entry as key=value (repeatable)")
	return cmd
}

func parseData(entries []string) (api.Payload, error) {
	payload := api.Payload{}
	for _, e := range entries {
		k, v, ok := strings.Cut(e, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --data %q, want key=value", e)
		}
		payload[k] = v
	}
	return payload, nil
}

func newStatusCommand(app *App) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status <instance-id>",
		Short: "Show a workflow instance and its step history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := app.open(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			orch := env.Runtime.Orchestrator
			inst, err := orch.GetInstance(ctx, args[0])
			if err != nil {
				return err
			}
			records, err := orch.StepRecords(ctx, inst.ID)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(app.Out, map[string]any{
					"instance": inst,
					"progress": orch.Progress(inst),
					"steps":    records,
				})
			}
			fmt.Fprintf(app.Out, "instance  %s\nworkflow  %s\nentity    %s\nstatus    %s\nprogress  %d%%\n\n",
				inst.ID, inst.WorkflowType, inst.EntityID, inst.Status, orch.Progress(inst))
			tw := tabwriter.NewWriter(app.Out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STEP\tSTATUS\tSTARTED\tERROR")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.StepID, r.Status, r.StartedAt.Format(time.RFC3339), r.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
