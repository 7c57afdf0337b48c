package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/colebaker/chatwire/internal/session"
)

func init() {
	sessionsCmd.AddCommand(sessionsSearchCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List chat sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSessionStore()
		if err != nil {
			return err
		}
		defer store.Close()

		sessions, err := store.Sessions(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, sess := range sessions {
			fmt.Fprintf(w, "%s\t%s\t%s/%s\t%s\t%d tokens\n",
				sess.ID, sess.Name, sess.Provider, sess.Model,
				sess.UpdatedAt.Format("2006-01-02 15:04"), sess.TotalTokens)
		}
		return w.Flush()
	},
}

var sessionsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search across session transcripts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSessionStore()
		if err != nil {
			return err
		}
		defer store.Close()

		results, err := store.Search(cmd.Context(), args[0], 20)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, hit := range results {
			fmt.Fprintf(w, "%s\t%s\t%s\n", hit.SessionID, hit.Role, hit.Snippet)
		}
		return w.Flush()
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session and its messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSessionStore()
		if err != nil {
			return err
		}
		defer store.Close()
		return store.DeleteSession(cmd.Context(), args[0])
	},
}

func openSessionStore() (*session.SQLiteStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return session.Open(cfg.SessionDB)
}
