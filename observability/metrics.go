package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type operationMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	operationMetricsOnce sync.Once
	operationRegistry    *operationMetrics

	bountyMetricsOnce sync.Once
	bountyRegistry    *BountyMetrics
)

// Operations returns the lazily-initialised registry used to record bounty
// API operations.
func Operations() *operationMetrics {
	operationMetricsOnce.Do(func() {
		operationRegistry = &operationMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "whistle",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total bounty API requests segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "whistle",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total bounty API errors segmented by operation and status code.",
			}, []string{"operation", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "whistle",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for bounty API operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "whistle",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			operationRegistry.requests,
			operationRegistry.errors,
			operationRegistry.latency,
			operationRegistry.throttles,
		)
	})
	return operationRegistry
}

// Observe records the outcome of an operation. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *operationMetrics) Observe(operation string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(operation, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(operation, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" so dashboards and alerts remain consistent.
func (m *operationMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// BountyMetrics tracks lifecycle transitions and value movements.
type BountyMetrics struct {
	transitions *prometheus.CounterVec
	locked      *prometheus.CounterVec
	settled     *prometheus.CounterVec
	deposits    *prometheus.CounterVec
	feedClients prometheus.Gauge
	feedDropped prometheus.Counter
}

// Bounty returns the singleton bounty metrics registry.
func Bounty() *BountyMetrics {
	bountyMetricsOnce.Do(func() {
		bountyRegistry = &BountyMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "whistle",
				Subsystem: "bounty",
				Name:      "transitions_total",
				Help:      "Count of committed lifecycle transitions segmented by event type.",
			}, []string{"event"}),
			locked: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "whistle",
				Subsystem: "bounty",
				Name:      "locked_amount_total",
				Help:      "Value locked into escrow segmented by token.",
			}, []string{"token"}),
			settled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "whistle",
				Subsystem: "bounty",
				Name:      "settled_amount_total",
				Help:      "Value leaving escrow segmented by settlement kind and token.",
			}, []string{"kind", "token"}),
			deposits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "whistle",
				Subsystem: "ledger",
				Name:      "deposited_amount_total",
				Help:      "Value credited from external rails segmented by token.",
			}, []string{"token"}),
			feedClients: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "whistle",
				Subsystem: "feed",
				Name:      "subscribers",
				Help:      "Number of connected live feed subscribers.",
			}),
			feedDropped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "whistle",
				Subsystem: "feed",
				Name:      "dropped_events_total",
				Help:      "Events discarded because a subscriber fell behind.",
			}),
		}
		prometheus.MustRegister(
			bountyRegistry.transitions,
			bountyRegistry.locked,
			bountyRegistry.settled,
			bountyRegistry.deposits,
			bountyRegistry.feedClients,
			bountyRegistry.feedDropped,
		)
	})
	return bountyRegistry
}

func normalizeLabel(v, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	return v
}

// RecordTransition counts a committed lifecycle event.
func (m *BountyMetrics) RecordTransition(eventType string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(eventType, "unknown")).Inc()
}

// RecordLock adds value locked at bounty creation.
func (m *BountyMetrics) RecordLock(token string, amount uint64) {
	if m == nil {
		return
	}
	m.locked.WithLabelValues(normalizeLabel(strings.ToUpper(token), "UNKNOWN")).Add(float64(amount))
}

// RecordSettlement adds value released or refunded at close.
func (m *BountyMetrics) RecordSettlement(kind, token string, amount uint64) {
	if m == nil {
		return
	}
	m.settled.WithLabelValues(normalizeLabel(kind, "unknown"), normalizeLabel(strings.ToUpper(token), "UNKNOWN")).Add(float64(amount))
}

// RecordDeposit adds value credited from outside.
func (m *BountyMetrics) RecordDeposit(token string, amount uint64) {
	if m == nil {
		return
	}
	m.deposits.WithLabelValues(normalizeLabel(strings.ToUpper(token), "UNKNOWN")).Add(float64(amount))
}

// FeedConnected adjusts the live subscriber gauge by delta.
func (m *BountyMetrics) FeedConnected(delta int) {
	if m == nil {
		return
	}
	m.feedClients.Add(float64(delta))
}

// RecordFeedDrops adds events a subscriber missed.
func (m *BountyMetrics) RecordFeedDrops(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.feedDropped.Add(float64(n))
}
