package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/petrijr/caseflow"
)

func newServeCommand(app *App) *cobra.Command {
	var (
		noHTTP     bool
		noSchedule bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run workers, scheduled jobs and the HTTP API",
		Long: `Run the task workers, the SLA breach scan and exception detection
jobs, and the HTTP API until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := app.open(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			cfg := env.Config
			opts := caseflow.RunOptions{
				Concurrency:        cfg.Worker.Concurrency,
				Schedule:           cfg.Schedule.Enabled && !noSchedule,
				BreachScanInterval: cfg.Schedule.BreachScanInterval,
				DetectionInterval:  cfg.Schedule.DetectionInterval,
				StuckAfter:         cfg.Engine.StuckAfter,
				RecoveryInterval:   cfg.Schedule.RecoveryInterval,
				ShutdownTimeout:    cfg.HTTP.ShutdownTimeout,
			}
			if !noHTTP {
				opts.HTTPAddr = cfg.HTTP.Addr
			}
			env.Logger.Info("caseflow starting",
				"store", cfg.Store.Driver,
				"queue", cfg.Queue.Driver,
				"exceptions", cfg.Exceptions.Backend,
				"concurrency", opts.Concurrency,
				"schedule", opts.Schedule,
				"http", opts.HTTPAddr,
			)
			err = env.Runtime.Run(ctx, opts)
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			env.Logger.Info("caseflow stopped")
			return err
		},
	}
	cmd.Flags().BoolVar(&noHTTP, "no-http", false, "do not start the HTTP API")
	cmd.Flags().BoolVar(&noSchedule, "no-schedule", false, "do not run scheduled jobs")
	return cmd
}
