package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	jpeg2000 "github.com/adeilla-codes/j2kcore"
)

// NewInfoCmd reports a codestream's header geometry without decoding it.
func NewInfoCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info [file]",
		Short: "print JPEG 2000 header metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer f.Close()

			slog.InfoContext(ctx, "reading metadata", "file", args[0])
			meta, err := jpeg2000.DecodeMetadata(f)
			if err != nil {
				return fmt.Errorf("decode metadata: %w", err)
			}

			fmt.Printf("Format:          %s\n", meta.Format)
			fmt.Printf("Size:            %dx%d\n", meta.Width, meta.Height)
			fmt.Printf("Components:      %d\n", meta.NumComponents)
			fmt.Printf("Bit depth:       %v\n", meta.BitsPerComponent)
			fmt.Printf("Signed:          %v\n", meta.Signed)
			fmt.Printf("Resolutions:     %d\n", meta.NumResolutions)
			fmt.Printf("Quality layers:  %d\n", meta.NumQualityLayers)
			fmt.Printf("Tiles:           %dx%d (%dx%d each)\n",
				meta.NumTilesX, meta.NumTilesY, meta.TileWidth, meta.TileHeight)
			if meta.Comment != "" {
				fmt.Printf("Comment:         %s\n", meta.Comment)
			}
			return nil
		},
	}
	return cmd
}
