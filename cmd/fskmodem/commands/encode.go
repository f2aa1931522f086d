package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/fskmodem/internal/feed"
	"github.com/MrWong99/fskmodem/internal/wavio"
	"github.com/MrWong99/fskmodem/pkg/fsk"
)

var (
	encodeInput  string
	encodeOutput string
	encodeText   string
	encodeRaw    bool
)

var encodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Modulate bytes into FSK audio",
	Long: `Modulate bytes into FSK audio.

The payload is read from --input (stdin by default) or given with --text.
The audio is written as a WAV file, or as headerless PCM with --raw.

Examples:
  echo hello | fskmodem encode -o hello.wav
  fskmodem encode --mode 1 --text "fast" -o fast.wav
  fskmodem encode -i payload.bin --raw --format pcm8 > payload.pcm`,
	Args: cobra.NoArgs,
	RunE: runEncode,
}

func init() {
	encodeCmd.Flags().StringVarP(&encodeInput, "input", "i", "", "payload file (default stdin)")
	encodeCmd.Flags().StringVarP(&encodeOutput, "output", "o", "", "output file (default stdout)")
	encodeCmd.Flags().StringVarP(&encodeText, "text", "t", "", "payload text instead of --input")
	encodeCmd.Flags().BoolVar(&encodeRaw, "raw", false, "write headerless PCM instead of WAV")
	rootCmd.AddCommand(encodeCmd)
}

func runEncode(cmd *cobra.Command, _ []string) error {
	cfg, err := modemConfig()
	if err != nil {
		return err
	}

	data := []byte(encodeText)
	if encodeText == "" {
		in, err := openInput(cmd, encodeInput)
		if err != nil {
			return err
		}
		data, err = io.ReadAll(in)
		in.Close()
		if err != nil {
			return fmt.Errorf("read payload: %w", err)
		}
	}

	pcm, stats, err := encodeStream(cmd.Context(), cfg, data)
	if err != nil {
		return err
	}
	clip := wavio.NewClip(cfg, pcm)
	logger.Info("encoded",
		"config", cfg.String(),
		"bytes", stats.BytesSent,
		"blocks", stats.Blocks,
		"duration", clip.Duration(),
	)

	out := pcm
	if !encodeRaw {
		if out, err = wavio.Encode(clip); err != nil {
			return err
		}
	}
	if encodeOutput == "" || encodeOutput == "-" {
		_, err = cmd.OutOrStdout().Write(out)
		return err
	}
	return os.WriteFile(encodeOutput, out, 0o644)
}

// encodeStream runs data through an [fsk.Encoder] and returns the
// concatenated blocks.
func encodeStream(ctx context.Context, cfg fsk.Config, data []byte) ([]byte, fsk.EncoderStats, error) {
	var pcm []byte
	enc := fsk.NewEncoder(cfg, func(b fsk.Block) {
		pcm = append(pcm, b.Data...)
	}, fsk.WithLogger(logger))
	defer func() {
		enc.Stop()
		<-enc.Done()
	}()

	if err := feed.Bytes(ctx, enc, data, feedOptions(cfg)); err != nil {
		return nil, fsk.EncoderStats{}, err
	}
	if err := enc.Drain(ctx); err != nil {
		return nil, fsk.EncoderStats{}, err
	}
	enc.Stop()
	<-enc.Done()
	return pcm, enc.Stats(), nil
}
