package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/colebaker/chatwire/internal/embedding"
	"github.com/colebaker/chatwire/internal/memory"
)

var flagMemSession string

func init() {
	memoryAddCmd.Flags().StringVarP(&flagMemSession, "session", "s", "", "Session the fragment belongs to")
	memoryCmd.AddCommand(memoryAddCmd)
	memoryCmd.AddCommand(memoryForgetCmd)
	memoryCmd.AddCommand(memoryPinCmd)
	rootCmd.AddCommand(memoryCmd)
}

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "List remembered fragments",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openMemoryStore()
		if err != nil {
			return err
		}
		defer store.Close()

		fragments, err := store.List(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, frag := range fragments {
			marker := " "
			if frag.Pinned {
				marker = "*"
			}
			fmt.Fprintf(w, "%s %s\t%s\t%s\n",
				marker, frag.ID, frag.CreatedAt.Format("2006-01-02"), frag.Content)
		}
		return w.Flush()
	},
}

var memoryAddCmd = &cobra.Command{
	Use:   "add <content>",
	Short: "Remember a fragment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openMemoryStore()
		if err != nil {
			return err
		}
		defer store.Close()

		frag, err := store.Remember(cmd.Context(), flagMemSession, args[0])
		if err != nil {
			return err
		}
		fmt.Println(frag.ID)
		return nil
	},
}

var memoryForgetCmd = &cobra.Command{
	Use:   "forget <fragment-id>",
	Short: "Delete a fragment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openMemoryStore()
		if err != nil {
			return err
		}
		defer store.Close()
		return store.Forget(cmd.Context(), args[0])
	},
}

var memoryPinCmd = &cobra.Command{
	Use:   "pin <fragment-id>",
	Short: "Pin a fragment so it never decays",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openMemoryStore()
		if err != nil {
			return err
		}
		defer store.Close()
		return store.Pin(cmd.Context(), args[0], true)
	},
}

func openMemoryStore() (*memory.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	embedder, err := embedding.New(cfg.Embed.Provider, cfg.Embed.APIKey, cfg.Embed.Model)
	if err != nil {
		return nil, err
	}
	return memory.Open(cfg.MemoryDB, embedder)
}
