package cmd

import (
	"fmt"
	"mime"
	"os"

	"github.com/spf13/cobra"

	"github.com/colebaker/chatwire/internal/chat"
	"github.com/colebaker/chatwire/internal/llm"
)

var (
	flagImageSize  string
	flagImageCount int
	flagImageOut   string
)

func init() {
	imagineCmd.Flags().StringVar(&flagImageSize, "size", "1024x1024", "Image size")
	imagineCmd.Flags().IntVarP(&flagImageCount, "count", "n", 1, "Number of images")
	imagineCmd.Flags().StringVarP(&flagImageOut, "out", "o", "image", "Output file prefix")
	rootCmd.AddCommand(imagineCmd)
}

var imagineCmd = &cobra.Command{
	Use:   "imagine <prompt>",
	Short: "Generate images from a prompt",
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

		wire, err := codec.BuildImageRequest(model, llm.ImageRequest{
			Prompt: args[0],
			Size:   flagImageSize,
			Count:  flagImageCount,
		})
		if err != nil {
			return err
		}
		transport := &chat.Transport{}
		body, err := transport.Do(cmd.Context(), model.Provider.ID, wire)
		if err != nil {
			return err
		}
		images, err := codec.ParseImageResponse(body)
		if err != nil {
			return err
		}

		for i, img := range images {
			ext := ".png"
			if exts, _ := mime.ExtensionsByType(img.MIME); len(exts) > 0 {
				ext = exts[0]
			}
			name := fmt.Sprintf("%s-%d%s", flagImageOut, i+1, ext)
			if err := os.WriteFile(name, img.Data, 0o644); err != nil {
				return err
			}
			fmt.Println(name)
		}
		return nil
	},
}
