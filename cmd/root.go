package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/colebaker/chatwire/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "chatwire",
	Short: "Chat with LLM providers over their native wire protocols",
	Long: `chatwire talks to OpenAI-compatible, Gemini and Anthropic endpoints
with sessions, tools and memory.

Examples:
  chatwire chat "explain CIDR notation"
  chatwire chat --session work --model openai/gpt-4o "summarize this"
  chatwire models openai
  chatwire transcribe voicenote.mp3`,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

var (
	flagModel string
	flagDebug bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagModel, "model", "m", "", "Model as provider/model (default from config)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Write request/event logs for this session")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flagDebug {
		cfg.Debug = true
	}
	return cfg, nil
}
