package cmd

import (
	"fmt"

	"github.com/codemie-ai/codemie-code/cli"
	"github.com/spf13/cobra"
)

// NewSyncCmd creates the sync command.
func NewSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync [session-id]",
		Short: "Sync session metrics and conversations to the CodeMie API",
		Long: `Sync runs the processor chain for one session, or for every
correlated session with --all. Metrics are aggregated per branch and
submitted first; new conversation turns follow. Sessions locked by
another process are skipped, not failed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine(cmd)
			if err != nil {
				return cli.NewErrorHandler(cli.GetOptions(cmd).Verbose).Handle(err)
			}

			all, _ := cmd.Flags().GetBool("all")
			if !all && len(args) == 0 {
				return fmt.Errorf("provide a session id or --all")
			}

			var sessionIDs []string
			if all {
				sessions, err := eng.store.List()
				if err != nil {
					return err
				}
				for _, meta := range syncableSessions(sessions) {
					sessionIDs = append(sessionIDs, meta.SessionID)
				}
				if len(sessionIDs) == 0 {
					fmt.Println("No sessions to sync")
					return nil
				}
			} else {
				sessionIDs = args
			}

			var failures int
			for _, sessionID := range sessionIDs {
				result, err := eng.orch.Sync(cmd.Context(), sessionID, eng.pctx)
				if err != nil {
					failures++
					fmt.Printf("%s: %v\n", sessionID, err)
					continue
				}
				if !result.Success {
					failures++
				}
				fmt.Printf("%s: %s\n", sessionID, result.Message)
			}

			if failures > 0 {
				return fmt.Errorf("%d of %d sessions did not sync cleanly", failures, len(sessionIDs))
			}
			return nil
		},
	}

	cmd.Flags().Bool("all", false, "Sync every correlated session")
	cmd.Flags().Bool("dry-run", false, "Run local state transitions without network calls")

	return cmd
}
