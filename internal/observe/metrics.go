// Package observe provides the observability primitives shared by the modem
// commands: OpenTelemetry metrics, tracing helpers, and HTTP middleware that
// ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// bridges them to a Prometheus exporter so they can be scraped via /metrics.
// A package-level [DefaultMetrics] instance is provided for convenience;
// tests should use [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/fskmodem/pkg/fsk"
)

// meterName is the instrumentation scope name used for all modem metrics.
const meterName = "github.com/MrWong99/fskmodem"

// Metrics holds the metric instruments of the modem. All fields are safe for
// concurrent use.
type Metrics struct {
	// EncoderBytes counts payload bytes turned into audio.
	EncoderBytes metric.Int64Counter

	// DecoderBytes counts bytes recovered from audio.
	DecoderBytes metric.Int64Counter

	// FramingErrors counts dropped frames. Attribute: reason.
	FramingErrors metric.Int64Counter

	// BackpressureRejected counts input refused by a full engine buffer, in
	// bytes for the encoder and sample frames for the decoder. Attribute:
	// component.
	BackpressureRejected metric.Int64Counter

	// ActiveLinks tracks open WebSocket modem links.
	ActiveLinks metric.Int64UpDownCounter

	// OperationDuration tracks one-shot operations such as encoding a file
	// or serving a tool call. Attributes: operation, status.
	OperationDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, route, status.
	HTTPRequestDuration metric.Float64Histogram
}

// durationBuckets are histogram boundaries in seconds.
var durationBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.EncoderBytes, err = m.Int64Counter("fskmodem.encoder.bytes",
		metric.WithDescription("Payload bytes modulated into audio."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.DecoderBytes, err = m.Int64Counter("fskmodem.decoder.bytes",
		metric.WithDescription("Bytes recovered from audio."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.FramingErrors, err = m.Int64Counter("fskmodem.decoder.framing_errors",
		metric.WithDescription("Frames dropped by the decoder, by reason."),
	); err != nil {
		return nil, err
	}
	if met.BackpressureRejected, err = m.Int64Counter("fskmodem.backpressure.rejected",
		metric.WithDescription("Input refused because an engine buffer was full, by component."),
	); err != nil {
		return nil, err
	}
	if met.ActiveLinks, err = m.Int64UpDownCounter("fskmodem.link.active",
		metric.WithDescription("Number of open modem links."),
	); err != nil {
		return nil, err
	}
	if met.OperationDuration, err = m.Float64Histogram("fskmodem.operation.duration",
		metric.WithDescription("Duration of one-shot modem operations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("fskmodem.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Call it after [InitProvider] so
// the instruments land on the Prometheus-backed provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordOperation records the duration of a one-shot operation.
func (m *Metrics) RecordOperation(ctx context.Context, operation string, seconds float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.OperationDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)
}

// Observer returns an [fsk.Observer] that records engine events on m. attrs
// are added to every measurement, for example to tag a link's transport.
func (m *Metrics) Observer(attrs ...attribute.KeyValue) fsk.Observer {
	return &modemObserver{m: m, attrs: attrs}
}

type modemObserver struct {
	m     *Metrics
	attrs []attribute.KeyValue
}

func (o *modemObserver) with(extra ...attribute.KeyValue) metric.MeasurementOption {
	all := make([]attribute.KeyValue, 0, len(o.attrs)+len(extra))
	all = append(all, o.attrs...)
	all = append(all, extra...)
	return metric.WithAttributes(all...)
}

func (o *modemObserver) BytesEncoded(n int) {
	o.m.EncoderBytes.Add(context.Background(), int64(n), o.with())
}

func (o *modemObserver) BytesDecoded(n int) {
	o.m.DecoderBytes.Add(context.Background(), int64(n), o.with())
}

func (o *modemObserver) FramingError(fe fsk.FramingError) {
	o.m.FramingErrors.Add(context.Background(), 1, o.with(attribute.String("reason", string(fe.Reason))))
}

func (o *modemObserver) Backpressure(component string, rejected int) {
	o.m.BackpressureRejected.Add(context.Background(), int64(rejected), o.with(attribute.String("component", component)))
}
