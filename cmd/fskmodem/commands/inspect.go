package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrWong99/fskmodem/internal/spectrum"
)

var inspectRaw bool

var inspectCmd = &cobra.Command{
	Use:   "inspect [file]",
	Short: "Check a capture against the modem tone plan",
	Long: `Estimate the power spectrum of a capture and report its strongest peaks
and how much of its power sits on each mode's mark and space tones.

The best scoring mode is the one to pass to 'fskmodem decode --mode'.

Examples:
  fskmodem inspect capture.wav
  fskmodem inspect --raw --rate 48000 < capture.pcm`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		base, err := modemConfig()
		if err != nil {
			return err
		}
		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		clip, err := readClip(cmd, path, inspectRaw, base)
		if err != nil {
			return err
		}
		report, err := spectrum.Analyze(clip.Samples(), clip.SampleRate)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d Hz %s %s, %s, %d frames of %d samples (%.1f Hz bins)\n\n",
			clip.SampleRate, clip.Format, clip.Channels, clip.Duration(),
			report.Frames, report.FrameSize, report.Resolution)

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "MODE\tMARK\tSPACE\tSCORE")
		for _, m := range report.Match(clip.Format, clip.Channels) {
			fmt.Fprintf(tw, "%d\t%.1f%%\t%.1f%%\t%.1f%%\n",
				int(m.Mode), 100*m.MarkShare, 100*m.SpaceShare, 100*m.Score())
		}
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "PEAK HZ\tPOWER")
		for _, p := range report.Peaks {
			fmt.Fprintf(tw, "%.1f\t%.3g\n", p.Frequency, p.Power)
		}
		return tw.Flush()
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectRaw, "raw", false, "read headerless PCM instead of WAV")
	rootCmd.AddCommand(inspectCmd)
}
