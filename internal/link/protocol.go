// Package link runs a full-duplex modem over a WebSocket connection.
//
// Each connection owns an encoder and a decoder built from one modem
// profile. Binary messages carry interleaved PCM in the profile's format:
// the client sends audio to decode and receives the audio the server
// modulated. Text messages carry JSON [Event]s.
//
// The server opens every link with a hello event describing the profile.
// Clients request transmission with send events; the server reports
// recovered bytes with decoded events and dropped frames with
// framing_error events.
package link

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/MrWong99/fskmodem/pkg/fsk"
)

// EventType names a text message.
type EventType string

const (
	// EventHello is the first message of every link (server to client).
	EventHello EventType = "hello"
	// EventSend asks the server to modulate Data (client to server).
	EventSend EventType = "send"
	// EventDecoded carries bytes recovered from client audio.
	EventDecoded EventType = "decoded"
	// EventFramingError reports a frame the decoder dropped.
	EventFramingError EventType = "framing_error"
	// EventError reports a malformed client message.
	EventError EventType = "error"
)

// Event is the JSON body of a text message. Data is base64 encoded on the
// wire.
type Event struct {
	Type    EventType `json:"type"`
	Data    []byte    `json:"data,omitempty"`
	Profile *Profile  `json:"profile,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	Offset  int64     `json:"offset,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Profile describes the modem settings of a link.
type Profile struct {
	SampleRate     int     `json:"sample_rate"`
	Format         string  `json:"format"`
	Channels       int     `json:"channels"`
	Mode           int     `json:"mode"`
	Threshold      float64 `json:"threshold"`
	Baud           float64 `json:"baud"`
	MarkFrequency  float64 `json:"mark_hz"`
	SpaceFrequency float64 `json:"space_hz"`
	FrameSamples   int     `json:"frame_samples"`
}

// ProfileOf describes cfg.
func ProfileOf(cfg fsk.Config) Profile {
	return Profile{
		SampleRate:     cfg.SampleRate(),
		Format:         cfg.SampleFormat().String(),
		Channels:       int(cfg.Channels()),
		Mode:           int(cfg.Mode()),
		Threshold:      cfg.Threshold(),
		Baud:           cfg.Baud(),
		MarkFrequency:  cfg.MarkFrequency(),
		SpaceFrequency: cfg.SpaceFrequency(),
		FrameSamples:   cfg.FrameSamples(),
	}
}

// Config rebuilds the modem configuration a profile describes.
func (p Profile) Config() (fsk.Config, error) {
	format, err := fsk.ParseSampleFormat(p.Format)
	if err != nil {
		return fsk.Config{}, err
	}
	return fsk.NewConfig(p.SampleRate, format, fsk.Channels(p.Channels), fsk.Mode(p.Mode), p.Threshold)
}

// ParseQuery applies the rate, format, channels, mode and threshold query
// parameters to base.
func ParseQuery(base fsk.Config, q url.Values) (fsk.Config, error) {
	rate, format, channels := base.SampleRate(), base.SampleFormat(), base.Channels()
	mode, threshold := base.Mode(), base.Threshold()

	intParam := func(name string, dst *int) error {
		v := q.Get(name)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("link: query %s=%q: %w", name, v, err)
		}
		*dst = n
		return nil
	}

	if err := intParam("rate", &rate); err != nil {
		return fsk.Config{}, err
	}
	if v := q.Get("format"); v != "" {
		f, err := fsk.ParseSampleFormat(v)
		if err != nil {
			return fsk.Config{}, err
		}
		format = f
	}
	ch := int(channels)
	if err := intParam("channels", &ch); err != nil {
		return fsk.Config{}, err
	}
	m := int(mode)
	if err := intParam("mode", &m); err != nil {
		return fsk.Config{}, err
	}
	if v := q.Get("threshold"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fsk.Config{}, fmt.Errorf("link: query threshold=%q: %w", v, err)
		}
		threshold = t
	}
	return fsk.NewConfig(rate, format, fsk.Channels(ch), fsk.Mode(m), threshold)
}

// Query encodes cfg as query parameters understood by [ParseQuery].
func Query(cfg fsk.Config) url.Values {
	q := url.Values{}
	q.Set("rate", strconv.Itoa(cfg.SampleRate()))
	q.Set("format", cfg.SampleFormat().String())
	q.Set("channels", strconv.Itoa(int(cfg.Channels())))
	q.Set("mode", strconv.Itoa(int(cfg.Mode())))
	q.Set("threshold", strconv.FormatFloat(cfg.Threshold(), 'g', -1, 64))
	return q
}
