package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/fskmodem/internal/feed"
	"github.com/MrWong99/fskmodem/internal/wavio"
	"github.com/MrWong99/fskmodem/pkg/fsk"
)

var (
	decodeInput  string
	decodeOutput string
	decodeRaw    bool
)

var decodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "Recover bytes from FSK audio",
	Long: `Recover bytes from FSK audio.

WAV input sets the sample rate, format and channel count from its header;
--mode and --threshold select the modem profile. With --raw the input is
headerless PCM described by --rate, --format and --channels.

Frames that fail validation are dropped and counted in the summary written
to the log.

Examples:
  fskmodem decode -i hello.wav
  fskmodem decode --raw --format pcm8 --mode 2 < capture.pcm > payload.bin`,
	Args: cobra.NoArgs,
	RunE: runDecode,
}

func init() {
	decodeCmd.Flags().StringVarP(&decodeInput, "input", "i", "", "audio file (default stdin)")
	decodeCmd.Flags().StringVarP(&decodeOutput, "output", "o", "", "output file (default stdout)")
	decodeCmd.Flags().BoolVar(&decodeRaw, "raw", false, "read headerless PCM instead of WAV")
	rootCmd.AddCommand(decodeCmd)
}

func runDecode(cmd *cobra.Command, _ []string) error {
	base, err := modemConfig()
	if err != nil {
		return err
	}
	clip, err := readClip(cmd, decodeInput, decodeRaw, base)
	if err != nil {
		return err
	}
	cfg, err := clip.Config(base.Mode(), base.Threshold())
	if err != nil {
		return err
	}

	var out io.Writer = cmd.OutOrStdout()
	if decodeOutput != "" && decodeOutput != "-" {
		f, err := os.Create(decodeOutput)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}
	w := bufio.NewWriter(out)

	stats, err := decodeStream(cmd.Context(), cfg, clip.PCM, w)
	if err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	logger.Info("decoded",
		"config", cfg.String(),
		"bytes", stats.BytesDecoded,
		"framing_errors", stats.FramingErrors,
		"ambiguous_bits", stats.AmbiguousBits,
		"stop_bit_failures", stats.StopBitFailures,
	)
	return nil
}

// readClip loads a WAV file, or headerless PCM in base's stream format.
func readClip(cmd *cobra.Command, path string, raw bool, base fsk.Config) (*wavio.Clip, error) {
	in, err := openInput(cmd, path)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	if raw {
		return wavio.ReadRaw(in, base.SampleRate(), base.SampleFormat(), base.Channels())
	}
	if rs, ok := in.(io.ReadSeeker); ok {
		return wavio.Read(rs)
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	return wavio.Decode(data)
}

// decodeStream runs pcm through an [fsk.Decoder], writing recovered bytes to
// w as they arrive.
func decodeStream(ctx context.Context, cfg fsk.Config, pcm []byte, w io.Writer) (fsk.DecoderStats, error) {
	decoded := make(chan []byte, 16)
	dec := fsk.NewDecoder(cfg, func(b []byte) { decoded <- b }, fsk.WithLogger(logger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer func() {
			dec.Stop()
			<-dec.Done()
			close(decoded)
		}()
		if err := feed.Signal(gctx, dec, pcm, feedOptions(cfg)); err != nil {
			return err
		}
		return dec.Flush(gctx)
	})
	g.Go(func() error {
		var werr error
		for b := range decoded {
			if werr == nil {
				_, werr = w.Write(b)
			}
		}
		return werr
	})
	if err := g.Wait(); err != nil {
		return fsk.DecoderStats{}, err
	}
	return dec.Stats(), nil
}
