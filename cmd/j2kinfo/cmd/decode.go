package cmd

import (
	"context"
	"fmt"
	"image/png"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	jpeg2000 "github.com/adeilla-codes/j2kcore"
	"github.com/adeilla-codes/j2kcore/internal/logging"
)

// NewDecodeCmd decodes a JPEG 2000 file to PNG.
func NewDecodeCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode [file]",
		Short: "decode a JPEG 2000 file and write it out as PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			workers, _ := cmd.Flags().GetInt("workers")
			if out == "" {
				out = args[0] + ".png"
			}

			rt := jpeg2000.NewRuntime(
				jpeg2000.WithLogger(slog.Default()),
				jpeg2000.WithMaxWorkers(workers),
			)
			ctx = logging.AppendCtx(ctx, slog.String("run_id", rt.RunID), slog.String("file", args[0]))
			rt.Logger.InfoContext(ctx, "decoding", "workers", rt.MaxWorkers)

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer f.Close()

			img, err := jpeg2000.DecodeConfig(f, rt.Config())
			if err != nil {
				return fmt.Errorf("decode: %w", err)
			}

			w, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create %s: %w", out, err)
			}
			defer w.Close()

			if err := png.Encode(w, img); err != nil {
				return fmt.Errorf("encode png: %w", err)
			}

			rt.Logger.InfoContext(ctx, "wrote output", "path", out)
			return nil
		},
	}
	pf := cmd.PersistentFlags()
	pf.String("out", "", "output PNG path (default: input path + .png)")
	pf.Int("workers", 0, "number of Tier-1 decode workers (0 = runtime.NumCPU())")
	return cmd
}
