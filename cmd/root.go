package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "llmhub",
	Short: "Chat backend with streaming, tools, and a local-model emulator",
	Long: `llmhub runs the chat application backend.

Examples:
  llmhub serve                 # start the chat backend on :8001
  llmhub emulate               # start the OpenRouter-shaped emulator on :8000
  llmhub emulate --config /etc/llmhub/emulator.yaml`,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
