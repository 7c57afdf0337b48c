package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/colebaker/chatwire/internal/chat"
	"github.com/colebaker/chatwire/internal/debuglog"
	"github.com/colebaker/chatwire/internal/embedding"
	"github.com/colebaker/chatwire/internal/mcp"
	"github.com/colebaker/chatwire/internal/memory"
	"github.com/colebaker/chatwire/internal/session"
)

var (
	flagSession string
	flagNoMem   bool
)

func init() {
	chatCmd.Flags().StringVarP(&flagSession, "session", "s", "", "Session name (a new one is created when empty)")
	chatCmd.Flags().BoolVar(&flagNoMem, "no-memory", false, "Skip memory recall for this turn")
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Send a message and stream the reply",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		model, err := cfg.RunnableModel(flagModel)
		if err != nil {
			return err
		}

		store, err := session.Open(cfg.SessionDB)
		if err != nil {
			return err
		}
		defer store.Close()

		sessionID := flagSession
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		if err := store.CreateSession(cmd.Context(), sessionID, sessionID, model.Provider.ID, model.Model.ID); err != nil {
			return err
		}

		orch := chat.NewOrchestrator(model, store)
		orch.Settings = cfg.ChatSettings()

		if !flagNoMem {
			if embedder, err := embedding.New(cfg.Embed.Provider, cfg.Embed.APIKey, cfg.Embed.Model); err == nil {
				if mem, err := memory.Open(cfg.MemoryDB, embedder); err == nil {
					defer mem.Close()
					orch.Memory = mem
				}
			}
		}

		// MCP servers that fail to start are reported but do not block
		// the turn; the model just sees fewer tools.
		for name, serverCfg := range cfg.MCP {
			client := mcp.NewClient(name, serverCfg)
			if err := client.Start(cmd.Context()); err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v\n", err)
				continue
			}
			defer client.Stop()
			mcp.RegisterTools(client, orch.Tools)
		}

		if cfg.Chat.ToolManifest != "" {
			if err := orch.Tools.LoadManifest(cfg.Chat.ToolManifest); err != nil {
				return err
			}
		}

		if cfg.Debug {
			if logger, err := debuglog.New(cfg.DebugLogDir, sessionID); err == nil {
				defer logger.Close()
				orch.Logger = logger
			}
		}

		handle, events, err := orch.StartTurn(cmd.Context(), sessionID, args[0], nil)
		if err != nil {
			return err
		}

		// Ctrl-C cancels the turn; partial output already printed stays.
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(interrupt)
		go func() {
			<-interrupt
			handle.Cancel()
		}()

		var turnErr error
		for event := range events {
			switch event.Type {
			case chat.EventContent:
				fmt.Print(event.Content)
			case chat.EventToolStart:
				fmt.Fprintf(os.Stderr, "\n[tool %s]\n", event.ToolCall.Name)
			case chat.EventRetry:
				fmt.Fprintf(os.Stderr, "\n[transient error, retrying in %s (attempt %d)]\n", event.Wait, event.Attempt)
			case chat.EventError:
				turnErr = event.Err
			}
		}
		handle.Wait()
		fmt.Println()
		return turnErr
	},
}
