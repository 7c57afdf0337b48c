package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/colebaker/chatwire/internal/chat"
	"github.com/colebaker/chatwire/internal/llm"
)

func init() {
	rootCmd.AddCommand(modelsCmd)
}

var modelsCmd = &cobra.Command{
	Use:   "models [provider]",
	Short: "List the models a configured provider offers",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ref := flagModel
		if len(args) == 1 {
			// The listing endpoint only needs the provider half.
			ref = args[0] + "/-"
		}
		model, err := cfg.RunnableModel(ref)
		if err != nil {
			return err
		}
		codec, err := llm.CodecFor(model.Provider.Type)
		if err != nil {
			return err
		}

		wire, err := codec.BuildModelListRequest(model)
		if err != nil {
			return err
		}
		transport := &chat.Transport{}
		body, err := transport.Do(cmd.Context(), model.Provider.ID, wire)
		if err != nil {
			return err
		}
		infos, err := codec.ParseModelListResponse(body)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, info := range infos {
			created := ""
			if info.Created > 0 {
				created = time.Unix(info.Created, 0).Format("2006-01-02")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.ID, info.DisplayName, info.OwnedBy, created)
		}
		return w.Flush()
	},
}
