package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/petrijr/caseflow/pkg/api"
)

func newSLACommand(app *App) *cobra.Command {
	var (
		asJSON bool
		scan   bool
	)
	cmd := &cobra.Command{
		Use:   "sla",
		Short: "Print the SLA compliance report",
		Long: `Print per-status SLA compliance. With --scan, also record an
sla_breach exception for every breaching status.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := app.open(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			monitor := env.Runtime.Monitor
			if monitor == nil {
				return errors.New("no case store configured")
			}
			var report api.ComplianceReport
			if scan {
				report, err = monitor.ScanBreaches(ctx)
				if err != nil {
					return err
				}
			} else {
				report = monitor.Compute(ctx)
			}
			if asJSON {
				return writeJSON(app.Out, report)
			}

			tw := tabwriter.NewWriter(app.Out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STATUS\tTARGET\tWARNING\tIN WARNING\tBREACHED\tCOMPLIANCE")
			for _, s := range report.Statuses {
				compliance := fmt.Sprintf("%.0f%%", s.Compliance)
				if s.Unknown {
					compliance = "unknown: " + s.Error
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
					s.Status, hours(s.Target), hours(s.Warning), s.WarningCount, s.BreachedCount, compliance)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(app.Out, "\noverall %.1f%%\n", report.Overall)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().BoolVar(&scan, "scan", false, "record breach exceptions")
	return cmd
}

func hours(d time.Duration) string {
	return fmt.Sprintf("%gh", d.Hours())
}

func newExceptionsCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exceptions",
		Short: "List and resolve case exceptions",
	}
	cmd.AddCommand(newExceptionsListCommand(app), newExceptionsResolveCommand(app))
	return cmd
}

func newExceptionsListCommand(app *App) *cobra.Command {
	var (
		filter api.ExceptionFilter
		status string
		typ    string
		sev    string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List exceptions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Status = api.ExceptionStatus(status)
			filter.Type = api.ExceptionType(typ)
			filter.Severity = api.Severity(sev)

			ctx := cmd.Context()
			env, err := app.open(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			list, err := env.Runtime.Recorder.List(ctx, filter)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(app.Out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tSEVERITY\tSTATUS\tDETECTED\tAFFECTED\tDESCRIPTION")
			for _, ex := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					ex.ID, ex.Type, ex.Severity, ex.Status, ex.DetectedAt.Format(time.RFC3339),
					len(ex.AffectedEntityIDs), ex.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "open or resolved")
	cmd.Flags().StringVar(&typ, "type", "", strings.Join([]string{
		string(api.ExceptionSLABreach), string(api.ExceptionOrphanedCase), string(api.ExceptionStuckWorkflow),
	}, ", "))
	cmd.Flags().StringVar(&sev, "severity", "", "low, medium, high or critical")
	return cmd
}

func newExceptionsResolveCommand(app *App) *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "resolve <exception-id>",
		Short: "Mark an exception as resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				return NewExitError(2, errors.New("--actor is required"))
			}
			ctx := cmd.Context()
			env, err := app.open(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			ex, err := env.Runtime.Recorder.Resolve(ctx, args[0], actor)
			if err != nil {
				return err
			}
			fmt.Fprintf(app.Out, "%s resolved by %s at %s\n", ex.ID, ex.ResolvedBy, ex.ResolvedAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "who resolved the exception")
	return cmd
}
