package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/codemie-ai/codemie-code/cli"
	"github.com/codemie-ai/codemie-code/pkg/models"
	"github.com/spf13/cobra"
)

// sessionStatusView is the JSON shape for one session in status output.
type sessionStatusView struct {
	SessionID     string               `json:"sessionId"`
	Agent         string               `json:"agent"`
	Status        models.SessionStatus `json:"status"`
	Correlation   string               `json:"correlation"`
	PendingDeltas int                  `json:"pendingDeltas"`
	SyncedDeltas  int                  `json:"syncedDeltas"`
	FailedDeltas  int                  `json:"failedDeltas"`
	HistoryIndex  int                  `json:"historyIndex"`
	LastSyncAt    *time.Time           `json:"lastSyncAt,omitempty"`
}

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [session-id]",
		Short: "Show sync state for sessions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine(cmd)
			if err != nil {
				return cli.NewErrorHandler(cli.GetOptions(cmd).Verbose).Handle(err)
			}

			var sessions []*models.SessionMetadata
			if len(args) == 1 {
				meta, err := eng.store.Load(args[0])
				if err != nil {
					return cli.NewErrorHandler(cli.GetOptions(cmd).Verbose).Handle(err)
				}
				sessions = []*models.SessionMetadata{meta}
			} else {
				sessions, err = eng.store.List()
				if err != nil {
					return err
				}
			}

			now := time.Now()
			views := make([]sessionStatusView, 0, len(sessions))
			for _, meta := range sessions {
				pending, err := eng.store.Deltas(meta.SessionID).Pending()
				if err != nil {
					eng.logger.WithError(err).WithField("session", meta.SessionID).Warn("Failed to read deltas")
				}

				view := sessionStatusView{
					SessionID:     meta.SessionID,
					Agent:         meta.AgentName,
					Status:        meta.Status(now),
					Correlation:   string(meta.Correlation.Status),
					PendingDeltas: len(pending),
					SyncedDeltas:  meta.Sync.Metrics.TotalSynced,
					FailedDeltas:  meta.Sync.Metrics.TotalFailed,
					HistoryIndex:  meta.Sync.Conversations.LastSyncedHistoryIndex,
				}
				if !meta.Sync.Conversations.LastSyncAt.IsZero() {
					t := meta.Sync.Conversations.LastSyncAt
					view.LastSyncAt = &t
				}
				views = append(views, view)
			}

			if cli.GetOptions(cmd).JSONOutput {
				data, err := json.MarshalIndent(views, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			if len(views) == 0 {
				fmt.Println("No sessions found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tAGENT\tSTATUS\tCORRELATION\tPENDING\tSYNCED\tFAILED\tHISTORY")
			for _, v := range views {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
					v.SessionID, v.Agent, v.Status, v.Correlation,
					v.PendingDeltas, v.SyncedDeltas, v.FailedDeltas, v.HistoryIndex)
			}
			return w.Flush()
		},
	}

	return cmd
}
