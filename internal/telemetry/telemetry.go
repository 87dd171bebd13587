// Package telemetry wraps OpenTelemetry tracing and metrics for the
// delivery pipeline. Providers come from the otel globals unless set in
// Config, so exporters are wired by whoever installs them.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/euphoria1203/campus-email"

// Delivery kinds used as the "kind" attribute.
const (
	KindOutbound  = "outbound"
	KindInbound   = "inbound"
	KindScheduled = "scheduled"
)

// Config selects what is instrumented.
type Config struct {
	Metrics bool
	Tracing bool

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Instrumentation records spans and metrics. A nil *Instrumentation is
// valid and records nothing.
type Instrumentation struct {
	tracer         trace.Tracer
	metricsEnabled bool

	deliveryLatency metric.Float64Histogram
	deliveryCount   metric.Int64Counter
	deliveryErrors  metric.Int64Counter
	localCopies     metric.Int64Counter
	externalSends   metric.Int64Counter
	dispatchBatch   metric.Int64Counter
	dispatchErrors  metric.Int64Counter
}

// New creates instrumentation from cfg.
func New(cfg Config) (*Instrumentation, error) {
	i := &Instrumentation{metricsEnabled: cfg.Metrics}

	if cfg.Tracing {
		tp := cfg.TracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		i.tracer = tp.Tracer(instrumentationName)
	}

	if cfg.Metrics {
		mp := cfg.MeterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		if err := i.initMetrics(mp.Meter(instrumentationName)); err != nil {
			return nil, err
		}
	}
	return i, nil
}

func (i *Instrumentation) initMetrics(meter metric.Meter) error {
	var err error

	if i.deliveryLatency, err = meter.Float64Histogram(
		"campusmail.delivery.duration",
		metric.WithDescription("Duration of delivery operations"),
		metric.WithUnit("s"),
	); err != nil {
		return err
	}
	if i.deliveryCount, err = meter.Int64Counter(
		"campusmail.delivery.count",
		metric.WithDescription("Number of delivery operations"),
	); err != nil {
		return err
	}
	if i.deliveryErrors, err = meter.Int64Counter(
		"campusmail.delivery.errors",
		metric.WithDescription("Number of failed delivery operations"),
	); err != nil {
		return err
	}
	if i.localCopies, err = meter.Int64Counter(
		"campusmail.delivery.local_copies",
		metric.WithDescription("Number of inbox copies created for local recipients"),
	); err != nil {
		return err
	}
	if i.externalSends, err = meter.Int64Counter(
		"campusmail.delivery.external",
		metric.WithDescription("Number of messages handed to the external transport"),
	); err != nil {
		return err
	}
	if i.dispatchBatch, err = meter.Int64Counter(
		"campusmail.dispatch.messages",
		metric.WithDescription("Number of due scheduled messages picked up"),
	); err != nil {
		return err
	}
	if i.dispatchErrors, err = meter.Int64Counter(
		"campusmail.dispatch.errors",
		metric.WithDescription("Number of scheduled messages that failed to dispatch"),
	); err != nil {
		return err
	}
	return nil
}

// StartSpan starts a span when tracing is enabled. The returned function
// ends it, recording err when non-nil.
func (i *Instrumentation) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if i == nil || i.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := i.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// RecordDelivery records one send, inbound delivery or scheduled dispatch.
func (i *Instrumentation) RecordDelivery(ctx context.Context, kind string, duration time.Duration, localCopies int, external bool, err error) {
	if i == nil || !i.metricsEnabled {
		return
	}
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	i.deliveryLatency.Record(ctx, duration.Seconds(), attrs)
	i.deliveryCount.Add(ctx, 1, attrs)
	if err != nil {
		i.deliveryErrors.Add(ctx, 1, attrs)
	}
	if localCopies > 0 {
		i.localCopies.Add(ctx, int64(localCopies), attrs)
	}
	if external {
		i.externalSends.Add(ctx, 1, attrs)
	}
}

// RecordDispatch records one poller batch.
func (i *Instrumentation) RecordDispatch(ctx context.Context, due, failed int) {
	if i == nil || !i.metricsEnabled {
		return
	}
	i.dispatchBatch.Add(ctx, int64(due))
	if failed > 0 {
		i.dispatchErrors.Add(ctx, int64(failed))
	}
}
