package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/colebaker/chatwire/internal/chat"
	"github.com/colebaker/chatwire/internal/llm"
)

var flagLanguage string

func init() {
	transcribeCmd.Flags().StringVarP(&flagLanguage, "language", "l", "", "ISO-639-1 language hint")
	rootCmd.AddCommand(transcribeCmd)
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <audio-file>",
	Short: "Transcribe an audio file through the configured provider",
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
		codec, err := llm.CodecFor(model.Provider.Type)
		if err != nil {
			return err
		}

		audio, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		wire, err := codec.BuildTranscriptionRequest(model, filepath.Base(args[0]), audio, flagLanguage)
		if err != nil {
			return err
		}
		transport := &chat.Transport{}
		body, err := transport.Do(cmd.Context(), model.Provider.ID, wire)
		if err != nil {
			return err
		}
		text, err := codec.ParseTranscriptionResponse(body)
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	},
}
