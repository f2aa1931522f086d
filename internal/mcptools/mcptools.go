// Package mcptools exposes the modem as MCP tools.
//
// Four tools are registered by [NewServer]:
//   - "fsk_encode"  modulates text or base64 bytes into a base64 WAV clip.
//   - "fsk_decode"  demodulates a base64 WAV clip.
//   - "fsk_inspect" scores a base64 WAV clip against every modem mode.
//   - "fsk_profile" reports the derived constants of a modem profile.
//
// Every call runs in its own span and records its duration on the
// fskmodem.operation.duration histogram.
package mcptools

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/fskmodem/internal/link"
	"github.com/MrWong99/fskmodem/internal/observe"
	"github.com/MrWong99/fskmodem/internal/spectrum"
	"github.com/MrWong99/fskmodem/internal/wavio"
	"github.com/MrWong99/fskmodem/pkg/fsk"
)

// MaxPayload caps the bytes fsk_encode accepts in one call.
const MaxPayload = 4096

// Option configures [NewServer].
type Option func(*toolset)

// WithMetrics records call durations on m. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(t *toolset) { t.metrics = m }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(t *toolset) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithVersion sets the version the server reports to clients.
func WithVersion(v string) Option {
	return func(t *toolset) { t.version = v }
}

type toolset struct {
	base    fsk.Config
	metrics *observe.Metrics
	logger  *slog.Logger
	version string
}

// NewServer returns an MCP server whose tools default to the base profile.
// Run it with (*mcp.Server).Run on a transport such as [mcp.StdioTransport].
func NewServer(base fsk.Config, opts ...Option) *mcp.Server {
	t := &toolset{base: base, logger: slog.Default(), version: "dev"}
	for _, opt := range opts {
		opt(t)
	}
	if t.metrics == nil {
		t.metrics = observe.DefaultMetrics()
	}

	srv := mcp.NewServer(&mcp.Implementation{Name: "fskmodem", Version: t.version}, nil)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "fsk_encode",
		Description: "Modulate text or base64 bytes into FSK audio. Returns a base64 encoded WAV file.",
	}, instrument(t, "fsk_encode", t.encode))
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "fsk_decode",
		Description: "Demodulate a base64 encoded WAV file. The clip's header sets rate, format and channels.",
	}, instrument(t, "fsk_decode", t.decode))
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "fsk_inspect",
		Description: "Measure how much of a base64 encoded WAV file's power sits on each mode's tones.",
	}, instrument(t, "fsk_inspect", t.inspect))
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "fsk_profile",
		Description: "Report tone frequencies, baud rate and frame timing of a modem profile.",
	}, instrument(t, "fsk_profile", t.profile))
	return srv
}

// instrument adapts h to the SDK handler signature, adding a span, a
// duration measurement and a debug log line. Errors become tool errors.
func instrument[In, Out any](t *toolset, name string, h func(context.Context, In) (Out, error)) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		ctx, span := observe.StartSpan(ctx, "mcp."+name)
		defer span.End()

		start := time.Now()
		out, err := h(ctx, in)
		elapsed := time.Since(start)
		t.metrics.RecordOperation(ctx, name, elapsed.Seconds(), err)

		logger := observe.Logger(ctx, t.logger)
		if err != nil {
			span.RecordError(err)
			logger.Debug("mcptools: tool failed", "tool", name, "duration", elapsed, "err", err)
			var zero Out
			return nil, zero, err
		}
		logger.Debug("mcptools: tool done", "tool", name, "duration", elapsed)
		return nil, out, nil
	}
}

// EncodeArgs is the input of fsk_encode. Exactly one of Text and Base64 must
// be set.
type EncodeArgs struct {
	Text       string  `json:"text,omitempty" jsonschema:"UTF-8 text to transmit"`
	Base64     string  `json:"base64,omitempty" jsonschema:"standard base64 bytes to transmit"`
	SampleRate int     `json:"sample_rate,omitempty" jsonschema:"sample rate in Hz, 11025 to 48000"`
	Format     string  `json:"format,omitempty" jsonschema:"sample format: pcm8 or pcm16"`
	Channels   int     `json:"channels,omitempty" jsonschema:"1 for mono, 2 for stereo"`
	Mode       int     `json:"mode,omitempty" jsonschema:"modem mode 1 to 4, 1 is fastest"`
	Threshold  float64 `json:"threshold,omitempty" jsonschema:"detection threshold in percent"`
}

// EncodeResult is the output of fsk_encode.
type EncodeResult struct {
	WAV             string       `json:"wav"`
	Bytes           int          `json:"bytes"`
	Frames          int          `json:"frames"`
	DurationSeconds float64      `json:"duration_seconds"`
	Profile         link.Profile `json:"profile"`
}

func (t *toolset) encode(_ context.Context, a EncodeArgs) (EncodeResult, error) {
	var data []byte
	switch {
	case a.Text != "" && a.Base64 != "":
		return EncodeResult{}, errors.New("set text or base64, not both")
	case a.Text != "":
		data = []byte(a.Text)
	case a.Base64 != "":
		b, err := base64.StdEncoding.DecodeString(a.Base64)
		if err != nil {
			return EncodeResult{}, fmt.Errorf("invalid base64: %w", err)
		}
		data = b
	default:
		return EncodeResult{}, errors.New("text or base64 is required")
	}
	if len(data) > MaxPayload {
		return EncodeResult{}, fmt.Errorf("payload of %d bytes exceeds the %d byte limit", len(data), MaxPayload)
	}

	cfg, err := override(t.base, a.SampleRate, a.Format, a.Channels, a.Mode, a.Threshold)
	if err != nil {
		return EncodeResult{}, err
	}
	clip := wavio.NewClip(cfg, fsk.Modulate(cfg, data))
	wav, err := wavio.Encode(clip)
	if err != nil {
		return EncodeResult{}, err
	}
	return EncodeResult{
		WAV:             base64.StdEncoding.EncodeToString(wav),
		Bytes:           len(data),
		Frames:          clip.Frames(),
		DurationSeconds: clip.Duration().Seconds(),
		Profile:         link.ProfileOf(cfg),
	}, nil
}

// DecodeArgs is the input of fsk_decode.
type DecodeArgs struct {
	WAV       string  `json:"wav" jsonschema:"standard base64 WAV file"`
	Mode      int     `json:"mode,omitempty" jsonschema:"modem mode 1 to 4"`
	Threshold float64 `json:"threshold,omitempty" jsonschema:"detection threshold in percent"`
}

// DecodeResult is the output of fsk_decode. Text is set only when the
// decoded bytes are valid UTF-8.
type DecodeResult struct {
	Text            string       `json:"text,omitempty"`
	Base64          string       `json:"base64"`
	Bytes           int          `json:"bytes"`
	FramingErrors   int64        `json:"framing_errors"`
	AmbiguousBits   int64        `json:"ambiguous_bits"`
	StopBitFailures int64        `json:"stop_bit_failures"`
	Profile         link.Profile `json:"profile"`
}

func (t *toolset) decode(_ context.Context, a DecodeArgs) (DecodeResult, error) {
	clip, err := decodeWAV(a.WAV)
	if err != nil {
		return DecodeResult{}, err
	}
	mode, threshold := t.base.Mode(), t.base.Threshold()
	if a.Mode != 0 {
		mode = fsk.Mode(a.Mode)
	}
	if a.Threshold != 0 {
		threshold = a.Threshold
	}
	cfg, err := clip.Config(mode, threshold)
	if err != nil {
		return DecodeResult{}, err
	}

	data, stats, err := fsk.Demodulate(cfg, clip.PCM)
	if err != nil {
		return DecodeResult{}, err
	}
	res := DecodeResult{
		Base64:          base64.StdEncoding.EncodeToString(data),
		Bytes:           len(data),
		FramingErrors:   stats.FramingErrors,
		AmbiguousBits:   stats.AmbiguousBits,
		StopBitFailures: stats.StopBitFailures,
		Profile:         link.ProfileOf(cfg),
	}
	if utf8.Valid(data) {
		res.Text = string(data)
	}
	return res, nil
}

// InspectArgs is the input of fsk_inspect.
type InspectArgs struct {
	WAV string `json:"wav" jsonschema:"standard base64 WAV file"`
}

// ModeScore is the share of a clip's power on one mode's tones.
type ModeScore struct {
	Mode       int     `json:"mode"`
	MarkShare  float64 `json:"mark_share"`
	SpaceShare float64 `json:"space_share"`
	Score      float64 `json:"score"`
}

// PeakResult is one spectral peak.
type PeakResult struct {
	Frequency float64 `json:"frequency_hz"`
	Power     float64 `json:"power"`
}

// InspectResult is the output of fsk_inspect. Modes is sorted best first.
type InspectResult struct {
	SampleRate      int          `json:"sample_rate"`
	DurationSeconds float64      `json:"duration_seconds"`
	Resolution      float64      `json:"resolution_hz"`
	Modes           []ModeScore  `json:"modes"`
	Peaks           []PeakResult `json:"peaks"`
}

func (t *toolset) inspect(_ context.Context, a InspectArgs) (InspectResult, error) {
	clip, err := decodeWAV(a.WAV)
	if err != nil {
		return InspectResult{}, err
	}
	report, err := spectrum.Analyze(clip.Samples(), clip.SampleRate)
	if err != nil {
		return InspectResult{}, err
	}

	res := InspectResult{
		SampleRate:      clip.SampleRate,
		DurationSeconds: clip.Duration().Seconds(),
		Resolution:      report.Resolution,
		Modes:           []ModeScore{},
		Peaks:           make([]PeakResult, 0, len(report.Peaks)),
	}
	for _, m := range report.Match(clip.Format, clip.Channels) {
		res.Modes = append(res.Modes, ModeScore{
			Mode:       int(m.Mode),
			MarkShare:  m.MarkShare,
			SpaceShare: m.SpaceShare,
			Score:      m.Score(),
		})
	}
	for _, p := range report.Peaks {
		res.Peaks = append(res.Peaks, PeakResult{Frequency: p.Frequency, Power: p.Power})
	}
	return res, nil
}

// ProfileArgs is the input of fsk_profile. Unset fields take the server's
// default profile.
type ProfileArgs struct {
	SampleRate int     `json:"sample_rate,omitempty" jsonschema:"sample rate in Hz, 11025 to 48000"`
	Format     string  `json:"format,omitempty" jsonschema:"sample format: pcm8 or pcm16"`
	Channels   int     `json:"channels,omitempty" jsonschema:"1 for mono, 2 for stereo"`
	Mode       int     `json:"mode,omitempty" jsonschema:"modem mode 1 to 4"`
	Threshold  float64 `json:"threshold,omitempty" jsonschema:"detection threshold in percent"`
}

// ProfileResult is the output of fsk_profile.
type ProfileResult struct {
	Profile        link.Profile `json:"profile"`
	SamplesPerBit  float64      `json:"samples_per_bit"`
	SymbolLength   int          `json:"symbol_length"`
	StopBits       int          `json:"stop_bits"`
	BytesPerSecond float64      `json:"bytes_per_second"`
}

func (t *toolset) profile(_ context.Context, a ProfileArgs) (ProfileResult, error) {
	cfg, err := override(t.base, a.SampleRate, a.Format, a.Channels, a.Mode, a.Threshold)
	if err != nil {
		return ProfileResult{}, err
	}
	return ProfileResult{
		Profile:        link.ProfileOf(cfg),
		SamplesPerBit:  cfg.SamplesPerBit(),
		SymbolLength:   cfg.SymbolLength(),
		StopBits:       cfg.StopBits(),
		BytesPerSecond: cfg.BytesPerSecond(),
	}, nil
}

// override replaces the non-zero settings of base.
func override(base fsk.Config, rate int, format string, channels, mode int, threshold float64) (fsk.Config, error) {
	f := base.SampleFormat()
	if format != "" {
		var err error
		if f, err = fsk.ParseSampleFormat(format); err != nil {
			return fsk.Config{}, err
		}
	}
	if rate == 0 {
		rate = base.SampleRate()
	}
	ch := base.Channels()
	if channels != 0 {
		ch = fsk.Channels(channels)
	}
	m := base.Mode()
	if mode != 0 {
		m = fsk.Mode(mode)
	}
	if threshold == 0 {
		threshold = base.Threshold()
	}
	return fsk.NewConfig(rate, f, ch, m, threshold)
}

func decodeWAV(b64 string) (*wavio.Clip, error) {
	if b64 == "" {
		return nil, errors.New("wav is required")
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	return wavio.Decode(data)
}
