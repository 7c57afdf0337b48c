package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/colebaker/chatwire/internal/config"
)

func init() {
	rootCmd.AddCommand(credsCmd)
}

var credsCmd = &cobra.Command{
	Use:   "creds <provider-id>",
	Short: "Store an API key for a provider",
	Long:  "Prompts for an API key without echoing it and saves it to the config file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		providerID := args[0]

		fmt.Fprintf(os.Stderr, "API key for %s: ", providerID)
		key, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return err
		}
		apiKey := strings.TrimSpace(string(key))
		if apiKey == "" {
			return fmt.Errorf("empty API key")
		}

		configDir, err := config.Dir()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(configDir, 0o700); err != nil {
			return err
		}
		path := filepath.Join(configDir, "config.yaml")

		tree := map[string]any{}
		if raw, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(raw, &tree); err != nil {
				return fmt.Errorf("parse %s: %w", path, err)
			}
		}

		providers, _ := tree["providers"].(map[string]any)
		if providers == nil {
			providers = map[string]any{}
			tree["providers"] = providers
		}
		provider, _ := providers[providerID].(map[string]any)
		if provider == nil {
			provider = map[string]any{}
			providers[providerID] = provider
		}
		keys, _ := provider["api_keys"].([]any)
		for _, existing := range keys {
			if existing == apiKey {
				fmt.Fprintln(os.Stderr, "key already stored")
				return nil
			}
		}
		provider["api_keys"] = append(keys, apiKey)

		out, err := yaml.Marshal(tree)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, out, 0o600); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "saved to %s\n", path)
		return nil
	},
}
