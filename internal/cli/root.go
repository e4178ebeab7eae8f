// Package cli implements the caseflow command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/petrijr/caseflow/internal/config"
)

// App holds what every command shares.
type App struct {
	Out io.Writer
	Err io.Writer

	configPath string
	cfg        *config.Config
}

// NewRootCommand builds the caseflow command tree.
func NewRootCommand(app *App) *cobra.Command {
	if app.Out == nil {
		app.Out = os.Stdout
	}
	if app.Err == nil {
		app.Err = os.Stderr
	}

	root := &cobra.Command{
		Use:           "caseflow",
		Short:         "Workflow orchestration and SLA monitoring for case processing",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(app.configPath)
			if err != nil {
				return NewExitError(2, err)
			}
			app.cfg = cfg
			return nil
		},
	}
	root.SetOut(app.Out)
	root.SetErr(app.Err)
	root.PersistentFlags().StringVarP(&app.configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(
		newServeCommand(app),
		newTriggerCommand(app),
		newStatusCommand(app),
		newSLACommand(app),
		newExceptionsCommand(app),
	)
	return root
}

// open builds an Env for a one-shot command.
func (app *App) open(ctx context.Context) (*Env, error) {
	if app.cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return Open(ctx, app.cfg, app.cfg.NewLogger(app.Err))
}

// Execute runs the command line with args and returns the exit code.
func Execute(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &App{}
	root := NewRootCommand(app)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(app.Err, "Error:", err)
	}
	return ExitCode(err)
}
