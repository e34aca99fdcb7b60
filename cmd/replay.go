package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	stdlog "log"
	"path/filepath"

	"github.com/codemie-ai/codemie-code/cli"
	"github.com/codemie-ai/codemie-code/internal/store"
	"github.com/codemie-ai/codemie-code/pkg/models"
	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
)

// NewReplayCmd creates the replay command for inspecting the payload log.
func NewReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <session-id>",
		Short: "Inspect the conversation payload log for a session",
		Long: `Replay prints the append-only conversation payload log: every
upsert attempt with its pending/success/failed outcome. With --follow it
tails the log as new attempts are recorded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine(cmd)
			if err != nil {
				return cli.NewErrorHandler(cli.GetOptions(cmd).Verbose).Handle(err)
			}
			sessionID := args[0]

			// Fail early with the friendly message if the session is unknown.
			if _, err := eng.store.Load(sessionID); err != nil {
				return cli.NewErrorHandler(cli.GetOptions(cmd).Verbose).Handle(err)
			}

			follow, _ := cmd.Flags().GetBool("follow")
			if follow {
				return followPayloadLog(cmd, eng, sessionID)
			}

			records, err := eng.store.Payloads(sessionID).ReadAll()
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No payload records")
				return nil
			}

			jsonOutput := cli.GetOptions(cmd).JSONOutput
			for i, rec := range records {
				printPayloadRecord(i, rec, jsonOutput)
			}
			return nil
		},
	}

	cmd.Flags().BoolP("follow", "f", false, "Follow the payload log for new records")

	return cmd
}

func followPayloadLog(cmd *cobra.Command, eng *engine, sessionID string) error {
	path := filepath.Join(eng.store.Dir(sessionID), store.PayloadLogFileName)

	t, err := tail.TailFile(path, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Location: &tail.SeekInfo{Offset: 0, Whence: io.SeekStart},
		Logger:   stdlog.New(io.Discard, "", 0),
	})
	if err != nil {
		return fmt.Errorf("tail payload log: %w", err)
	}
	defer t.Stop()

	jsonOutput := cli.GetOptions(cmd).JSONOutput
	i := 0
	for {
		select {
		case <-cmd.Context().Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return nil
			}
			if line.Err != nil {
				eng.logger.WithError(line.Err).Warn("Tail error on payload log")
				continue
			}
			var rec models.ConversationPayloadRecord
			if err := json.Unmarshal([]byte(line.Text), &rec); err != nil {
				continue
			}
			printPayloadRecord(i, &rec, jsonOutput)
			i++
		}
	}
}

func printPayloadRecord(i int, rec *models.ConversationPayloadRecord, jsonOutput bool) {
	if jsonOutput {
		data, err := json.Marshal(rec)
		if err == nil {
			fmt.Println(string(data))
		}
		return
	}

	fmt.Printf("[%d] %s  %s  messages=%d indices=%v continuation=%v\n",
		i, rec.Timestamp.Format("2006-01-02 15:04:05"), rec.Status,
		rec.MessageCount, rec.HistoryIndices, rec.IsTurnContinuation)
	if rec.Error != "" {
		fmt.Printf("    error: %s\n", rec.Error)
	}
}
