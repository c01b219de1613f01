package observability

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"whistlechain/core/events"
	"whistlechain/native/bounty"
)

const meterName = "whistlechain/bounty"

// EventRecorder is an events.Emitter that turns bounty events into metrics.
// Prometheus carries the value gauges; an OTLP counter mirrors event volume
// for collectors.
type EventRecorder struct {
	metrics *BountyMetrics
	events  metric.Int64Counter
}

// NewEventRecorder binds a recorder to the supplied registry, defaulting to
// the process-wide one, and to the global meter provider.
func NewEventRecorder(metrics *BountyMetrics) *EventRecorder {
	if metrics == nil {
		metrics = Bounty()
	}
	r := &EventRecorder{metrics: metrics, events: noop.Int64Counter{}}
	_ = r.UseMeter(otel.Meter(meterName))
	return r
}

// UseMeter switches the OTLP counter to meter.
func (r *EventRecorder) UseMeter(meter metric.Meter) error {
	counter, err := meter.Int64Counter("bounty.events",
		metric.WithDescription("Bounty lifecycle events emitted by the engine"),
		metric.WithUnit("{event}"))
	if err != nil {
		return err
	}
	r.events = counter
	return nil
}

// Emit implements events.Emitter.
func (r *EventRecorder) Emit(evt events.Event) {
	rendered := events.Render(evt)
	if r == nil || rendered == nil {
		return
	}
	r.metrics.RecordTransition(rendered.Type)
	r.events.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", rendered.Type)))
	attrs := rendered.Attributes
	switch rendered.Type {
	case bounty.EventTypeBountyCreated:
		r.metrics.RecordLock(attrs["tokenType"], parseAmount(attrs["amount"]))
	case bounty.EventTypeBountyClosed:
		r.metrics.RecordSettlement(attrs["settlement"], attrs["tokenType"], parseAmount(attrs["settledAmount"]))
	case bounty.EventTypeDeposit:
		r.metrics.RecordDeposit(attrs["tokenType"], parseAmount(attrs["amount"]))
	}
}

func parseAmount(raw string) uint64 {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
