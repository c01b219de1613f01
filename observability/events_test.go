package observability

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"whistlechain/core/types"
	"whistlechain/native/bounty"
)

type renderedEvent struct{ evt *types.Event }

func (e renderedEvent) EventType() string { return e.evt.Type }
func (e renderedEvent) Event() *types.Event { return e.evt }

func TestEventRecorderCountsValue(t *testing.T) {
	m := Bounty()
	rec := NewEventRecorder(m)

	b := &bounty.Bounty{ID: bounty.ID{1}, Creator: "alice", Amount: 250, Token: bounty.TokenStable, Status: bounty.BountyOpen}
	beforeLock := testutil.ToFloat64(m.locked.WithLabelValues("STABLE"))
	beforeCreated := testutil.ToFloat64(m.transitions.WithLabelValues(bounty.EventTypeBountyCreated))
	rec.Emit(renderedEvent{evt: bounty.NewCreatedEvent(b)})
	if got := testutil.ToFloat64(m.locked.WithLabelValues("STABLE")) - beforeLock; got != 250 {
		t.Fatalf("expected 250 locked, got %v", got)
	}
	if got := testutil.ToFloat64(m.transitions.WithLabelValues(bounty.EventTypeBountyCreated)) - beforeCreated; got != 1 {
		t.Fatalf("expected one transition, got %v", got)
	}

	closed := b.Clone()
	closed.Status = bounty.BountyClosed
	settlement := &bounty.Settlement{BountyID: b.ID, Kind: bounty.SettlementRelease, Recipient: "bob", Amount: 250, Token: bounty.TokenStable}
	beforeSettled := testutil.ToFloat64(m.settled.WithLabelValues("release", "STABLE"))
	rec.Emit(renderedEvent{evt: bounty.NewClosedEvent(closed, settlement)})
	if got := testutil.ToFloat64(m.settled.WithLabelValues("release", "STABLE")) - beforeSettled; got != 250 {
		t.Fatalf("expected 250 settled, got %v", got)
	}
}

func TestNilRecorderIgnoresEvents(t *testing.T) {
	var rec *EventRecorder
	rec.Emit(renderedEvent{evt: &types.Event{Type: "x"}})
	var m *BountyMetrics
	m.RecordTransition("x")
}

func TestEventRecorderExportsOTLPCounter(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	rec := NewEventRecorder(nil)
	if err := rec.UseMeter(provider.Meter(meterName)); err != nil {
		t.Fatalf("use meter: %v", err)
	}
	rec.Emit(renderedEvent{evt: &types.Event{Type: bounty.EventTypeClaimSubmitted}})
	rec.Emit(renderedEvent{evt: &types.Event{Type: bounty.EventTypeClaimSubmitted}})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != "bounty.events" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("unexpected data %T", m.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	if total != 2 {
		t.Fatalf("expected 2 events, got %d", total)
	}
}
