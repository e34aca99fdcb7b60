package main

import (
	"os"

	"github.com/codemie-ai/codemie-code/cli"
	"github.com/codemie-ai/codemie-code/cmd"
)

func main() {
	rootCmd := cli.NewStandardCommand("codemie", "Session sync engine for AI coding agents")

	rootCmd.AddCommand(cmd.NewSyncCmd())
	rootCmd.AddCommand(cmd.NewStatusCmd())
	rootCmd.AddCommand(cmd.NewReplayCmd())
	rootCmd.AddCommand(cmd.NewWatchCmd())
	rootCmd.AddCommand(cli.NewVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
