package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/codemie-ai/codemie-code/cli"
	"github.com/codemie-ai/codemie-code/internal/watch"
	"github.com/codemie-ai/codemie-code/pkg/paths"
	"github.com/spf13/cobra"
)

// NewWatchCmd creates the watch command.
func NewWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch sessions and sync them in the background",
		Long: `Watch runs the background sync loop: delta writes trigger a
debounced sync of the affected session, and a periodic sweep covers
sessions that produce no filesystem events. Runs until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine(cmd)
			if err != nil {
				return cli.NewErrorHandler(cli.GetOptions(cmd).Verbose).Handle(err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			w := watch.New(paths.SessionsDir(), eng.orch, eng.store, eng.pctx, eng.cfg.Sync.Interval(), eng.logger)
			return w.Run(ctx)
		},
	}

	cmd.Flags().Bool("dry-run", false, "Run local state transitions without network calls")

	return cmd
}
