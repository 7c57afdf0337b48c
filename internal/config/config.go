// Package config loads chatwire configuration with viper: a YAML file in
// ~/.config/chatwire (or the working directory), overridable with
// CHATWIRE_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/colebaker/chatwire/internal/chat"
	"github.com/colebaker/chatwire/internal/llm"
	"github.com/colebaker/chatwire/internal/mcp"
)

// ProviderConfig is one provider block in the config file.
type ProviderConfig struct {
	Type       string            `mapstructure:"type"`
	BaseURL    string            `mapstructure:"base_url"`
	APIKeys    []string          `mapstructure:"api_keys"`
	Headers    map[string]string `mapstructure:"headers"`
	APIVersion string            `mapstructure:"api_version"`
	Models     []ModelConfig     `mapstructure:"models"`
}

// ModelConfig is one model entry under a provider.
type ModelConfig struct {
	ID          string   `mapstructure:"id"`
	Name        string   `mapstructure:"name"`
	MaxTokens   int      `mapstructure:"max_tokens"`
	Temperature *float64 `mapstructure:"temperature"`
	TopP        *float64 `mapstructure:"top_p"`
	Stream      *bool    `mapstructure:"stream"`
}

// ChatConfig holds the orchestrator settings.
type ChatConfig struct {
	SystemPrompt      string `mapstructure:"system_prompt"`
	TopicPrompt       string `mapstructure:"topic_prompt"`
	IncludeTime       bool   `mapstructure:"include_time"`
	HistoryWindow     int    `mapstructure:"history_window"`
	EnhancementPrompt string `mapstructure:"enhancement_prompt"`
	MemoryLimit       int    `mapstructure:"memory_limit"`
	MaxTurns          int    `mapstructure:"max_turns"`
	UnknownToolPolicy string `mapstructure:"unknown_tool_policy"`
	CheckpointEvery   int    `mapstructure:"checkpoint_every"`
	ToolManifest      string `mapstructure:"tool_manifest"`
}

// EmbedConfig selects the embedding provider memory uses.
type EmbedConfig struct {
	Provider string `mapstructure:"provider"`
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
}

// Config is the loaded configuration tree.
type Config struct {
	DefaultModel string                      `mapstructure:"default_model"` // "provider/model"
	Providers    map[string]ProviderConfig   `mapstructure:"providers"`
	Chat         ChatConfig                  `mapstructure:"chat"`
	MCP          map[string]mcp.ServerConfig `mapstructure:"mcp"`
	Embed        EmbedConfig                 `mapstructure:"embed"`
	SessionDB    string                      `mapstructure:"session_db"`
	MemoryDB     string                      `mapstructure:"memory_db"`
	DebugLogDir  string                      `mapstructure:"debug_log_dir"`
	Debug        bool                        `mapstructure:"debug"`
}

// Load reads configuration from disk and the environment.
func Load() (*Config, error) {
	configDir, err := Dir()
	if err != nil {
		return nil, err
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	viper.SetDefault("chat.include_time", true)
	viper.SetDefault("chat.history_window", 40)
	viper.SetDefault("chat.memory_limit", 5)
	viper.SetDefault("chat.unknown_tool_policy", "non_blocking")
	viper.SetDefault("embed.provider", "openai")
	viper.SetDefault("session_db", filepath.Join(configDir, "sessions.db"))
	viper.SetDefault("memory_db", filepath.Join(configDir, "memory.db"))
	viper.SetDefault("debug_log_dir", filepath.Join(configDir, "logs"))

	viper.SetEnvPrefix("CHATWIRE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	expandKeys(&cfg)
	return &cfg, nil
}

// expandKeys resolves ${ENV_VAR} references in API key lists so keys can
// stay out of the config file.
func expandKeys(cfg *Config) {
	for name, provider := range cfg.Providers {
		for i, key := range provider.APIKeys {
			provider.APIKeys[i] = expandEnv(key)
		}
		cfg.Providers[name] = provider
	}
	cfg.Embed.APIKey = expandEnv(cfg.Embed.APIKey)
}

func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	return s
}

// Dir returns the chatwire config directory.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(base, "chatwire"), nil
}

// RunnableModel resolves a "provider/model" reference (or the configured
// default when ref is empty) into a runnable model.
func (c *Config) RunnableModel(ref string) (llm.RunnableModel, error) {
	if ref == "" {
		ref = c.DefaultModel
	}
	if ref == "" {
		return llm.RunnableModel{}, fmt.Errorf("no model configured; set default_model or pass --model")
	}

	providerID, modelID, ok := strings.Cut(ref, "/")
	if !ok {
		return llm.RunnableModel{}, fmt.Errorf("model reference %q must be provider/model", ref)
	}
	provider, ok := c.Providers[providerID]
	if !ok {
		return llm.RunnableModel{}, fmt.Errorf("unknown provider %q", providerID)
	}

	runnable := llm.RunnableModel{
		Provider: llm.ProviderConfig{
			ID:         providerID,
			Type:       llm.ProviderType(provider.Type),
			BaseURL:    provider.BaseURL,
			APIKeys:    provider.APIKeys,
			Headers:    provider.Headers,
			APIVersion: provider.APIVersion,
		},
		Model: llm.ModelConfig{ID: modelID, Name: modelID, Stream: true},
	}
	for _, model := range provider.Models {
		if model.ID != modelID {
			continue
		}
		runnable.Model = llm.ModelConfig{
			ID:          model.ID,
			Name:        model.Name,
			MaxTokens:   model.MaxTokens,
			Temperature: model.Temperature,
			TopP:        model.TopP,
			Stream:      model.Stream == nil || *model.Stream,
		}
		break
	}
	return runnable, nil
}

// ChatSettings converts the config block into orchestrator settings.
func (c *Config) ChatSettings() chat.Settings {
	return chat.Settings{
		SystemPrompt:      c.Chat.SystemPrompt,
		TopicPrompt:       c.Chat.TopicPrompt,
		IncludeTime:       c.Chat.IncludeTime,
		HistoryWindow:     c.Chat.HistoryWindow,
		EnhancementPrompt: c.Chat.EnhancementPrompt,
		MemoryLimit:       c.Chat.MemoryLimit,
		MaxTurns:          c.Chat.MaxTurns,
		UnknownToolPolicy: chat.UnknownToolPolicy(c.Chat.UnknownToolPolicy),
		CheckpointEvery:   c.Chat.CheckpointEvery,
	}
}
