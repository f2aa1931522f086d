package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand/v2"

	"github.com/spf13/cobra"

	"github.com/MrWong99/fskmodem/internal/feed"
	"github.com/MrWong99/fskmodem/pkg/fsk"
)

var terminalNoise float64

var terminalCmd = &cobra.Command{
	Use:   "terminal",
	Short: "Loop stdin lines through an encoder and decoder",
	Long: `Loop stdin lines through an encoder and decoder in one process.

Every line typed is modulated, optionally mixed with white noise, and fed
straight into a decoder; whatever the decoder recovers is printed. Raise
--noise or --threshold to see how each mode copes with a bad channel.

Examples:
  fskmodem terminal --mode 1
  fskmodem terminal --mode 4 --noise 0.6`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := modemConfig()
		if err != nil {
			return err
		}
		if terminalNoise < 0 || terminalNoise > 1 {
			return fmt.Errorf("--noise %g must be within [0, 1]", terminalNoise)
		}
		stats, err := loopback(cmd.Context(), cfg, terminalNoise, cmd.InOrStdin(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		logger.Info("terminal closed",
			"bytes_sent", stats.sent,
			"bytes_decoded", stats.decoded.BytesDecoded,
			"framing_errors", stats.decoded.FramingErrors,
		)
		return nil
	},
}

func init() {
	terminalCmd.Flags().Float64Var(&terminalNoise, "noise", 0, "white noise amplitude mixed into the signal, 0 to 1")
	rootCmd.AddCommand(terminalCmd)
}

type loopbackStats struct {
	sent    int64
	decoded fsk.DecoderStats
}

// loopback transmits each line of in through cfg's encoder into its decoder
// and writes the decoded bytes to out. It returns after in is exhausted and
// both engines drained.
func loopback(ctx context.Context, cfg fsk.Config, noise float64, in io.Reader, out io.Writer) (loopbackStats, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fo := feedOptions(cfg)
	decoded := make(chan []byte, 16)
	dec := fsk.NewDecoder(cfg, func(b []byte) { decoded <- b }, fsk.WithLogger(logger))

	var (
		samples []float64
		feedErr error
	)
	enc := fsk.NewEncoder(cfg, func(b fsk.Block) {
		pcm := b.Data
		if noise > 0 {
			samples = fsk.ReadSamples(samples[:0], pcm, cfg.SampleFormat(), cfg.Channels())
			for i := range samples {
				samples[i] = max(-1, min(1, samples[i]*(1-noise)+noise*(2*rand.Float64()-1)))
			}
			fsk.PutSamples(pcm, samples, cfg.SampleFormat(), cfg.Channels())
		}
		if err := feed.Signal(ctx, dec, pcm, fo); err != nil && feedErr == nil {
			feedErr = err
		}
	}, fsk.WithLogger(logger))

	printed := make(chan error, 1)
	go func() {
		var werr error
		for b := range decoded {
			if werr == nil {
				_, werr = out.Write(b)
			}
		}
		printed <- werr
	}()

	stop := func() {
		enc.Stop()
		<-enc.Done()
		dec.Stop()
		<-dec.Done()
		close(decoded)
	}

	var stats loopbackStats
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := append([]byte(sc.Text()), '\n')
		if err := feed.Bytes(ctx, enc, line, fo); err != nil {
			stop()
			<-printed
			return stats, err
		}
		// Pace per line so the echo follows what was typed.
		if err := enc.Drain(ctx); err != nil {
			stop()
			<-printed
			return stats, err
		}
		if err := dec.Flush(ctx); err != nil {
			stop()
			<-printed
			return stats, err
		}
	}
	stop()
	werr := <-printed

	stats.sent = enc.Stats().BytesSent
	stats.decoded = dec.Stats()
	if err := sc.Err(); err != nil {
		return stats, fmt.Errorf("read input: %w", err)
	}
	if feedErr != nil {
		return stats, feedErr
	}
	return stats, werr
}
