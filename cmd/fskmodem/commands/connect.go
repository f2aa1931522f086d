package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/fskmodem/internal/link"
	"github.com/MrWong99/fskmodem/pkg/fsk"
)

var (
	connectURL  string
	connectWait time.Duration
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Send stdin lines to a modem server as audio",
	Long: `Open a WebSocket link to 'fskmodem serve', modulate every stdin line
locally and send the audio. Bytes the server decodes are printed.

Modem flags given on the command line are requested from the server;
otherwise the server's profile is used.

Examples:
  fskmodem connect --url ws://localhost:8080/modem
  echo ping | fskmodem connect --url ws://modem.local/modem --mode 1`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		url := connectURL
		q, err := requestedProfile(cmd)
		if err != nil {
			return err
		}
		if q != "" {
			url += "?" + q
		}
		return runConnect(cmd.Context(), url, connectWait, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	connectCmd.Flags().StringVarP(&connectURL, "url", "u", "ws://localhost:8080/modem", "modem server WebSocket URL")
	connectCmd.Flags().DurationVar(&connectWait, "wait", 5*time.Second, "how long to wait for outstanding decodes after input ends")
	rootCmd.AddCommand(connectCmd)
}

// requestedProfile encodes the modem flags set on the command line.
func requestedProfile(cmd *cobra.Command) (string, error) {
	cfg, err := modemConfig()
	if err != nil {
		return "", err
	}
	q := link.Query(cfg)
	for _, name := range []struct{ flag, param string }{
		{"rate", "rate"}, {"format", "format"}, {"channels", "channels"},
		{"mode", "mode"}, {"threshold", "threshold"},
	} {
		if !cmd.Flags().Changed(name.flag) {
			q.Del(name.param)
		}
	}
	return q.Encode(), nil
}

type sendResult struct {
	bytes int
	err   error
}

func runConnect(ctx context.Context, url string, wait time.Duration, in io.Reader, out io.Writer) error {
	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	c, err := link.Dial(dctx, url)
	cancel()
	if err != nil {
		return err
	}
	defer c.Close()
	cfg := c.Config()
	logger.Info("link open", "url", url, "config", cfg.String())

	sent := make(chan sendResult, 1)
	go func() {
		total := 0
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			line := append([]byte(sc.Text()), '\n')
			if err := c.SendPCM(ctx, fsk.Modulate(cfg, line)); err != nil {
				sent <- sendResult{err: err}
				return
			}
			total += len(line)
		}
		sent <- sendResult{bytes: total, err: sc.Err()}
	}()

	var (
		received int
		expected = -1
		deadline <-chan time.Time
	)
	for expected < 0 || received < expected {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				return c.Err()
			}
			switch ev.Type {
			case link.EventDecoded:
				received += len(ev.Data)
				if _, err := out.Write(ev.Data); err != nil {
					return err
				}
			case link.EventFramingError:
				logger.Warn("frame dropped", "reason", ev.Reason, "offset", ev.Offset)
			case link.EventError:
				logger.Warn("server error", "message", ev.Message)
			}
		case res := <-sent:
			if res.err != nil {
				return fmt.Errorf("send: %w", res.err)
			}
			expected = res.bytes
			deadline = time.After(wait)
		case <-deadline:
			logger.Warn("gave up waiting for decodes", "received", received, "sent", expected)
			return nil
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}
