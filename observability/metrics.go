package observability

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// PiggyMetrics records registry operation outcomes and collateral totals. It
// satisfies piggy.Metrics.
type PiggyMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	locked     *prometheus.GaugeVec

	opCounter   metric.Int64Counter
	opHistogram metric.Float64Histogram
}

type rpcMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	piggyMetricsOnce sync.Once
	piggyRegistry    *PiggyMetrics

	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics
)

// Piggy returns the lazily-initialised registry metrics.
func Piggy() *PiggyMetrics {
	piggyMetricsOnce.Do(func() {
		piggyRegistry = &PiggyMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "piggy",
				Name:      "operations_total",
				Help:      "Registry operations segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "piggy",
				Name:      "operation_duration_seconds",
				Help:      "Latency of registry operations, including token interactions.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			locked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "piggy",
				Name:      "collateral_locked",
				Help:      "Collateral accounted as locked per token, in base units.",
			}, []string{"token"}),
		}
		prometheus.MustRegister(piggyRegistry.operations, piggyRegistry.latency, piggyRegistry.locked)
		piggyRegistry.initMeter()
	})
	return piggyRegistry
}

func (m *PiggyMetrics) initMeter() {
	meter := otel.GetMeterProvider().Meter("slimhogs/piggy")
	counter, err := meter.Int64Counter("piggy.operations")
	if err != nil {
		meter = noop.NewMeterProvider().Meter("slimhogs/piggy")
		counter, _ = meter.Int64Counter("piggy.operations")
	}
	histogram, err := meter.Float64Histogram("piggy.operation.duration", metric.WithUnit("s"))
	if err != nil {
		fallback := noop.NewMeterProvider().Meter("slimhogs/piggy")
		histogram, _ = fallback.Float64Histogram("piggy.operation.duration")
	}
	m.opCounter = counter
	m.opHistogram = histogram
}

// ObserveOperation records one completed or rejected operation.
func (m *PiggyMetrics) ObserveOperation(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	if elapsed > 0 {
		m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
	}
	attrs := metric.WithAttributes(attribute.String("op", op), attribute.String("outcome", outcome))
	m.opCounter.Add(context.Background(), 1, attrs)
	if elapsed > 0 {
		m.opHistogram.Record(context.Background(), elapsed.Seconds(), metric.WithAttributes(attribute.String("op", op)))
	}
}

// SetCollateralLocked publishes the accounted total for token. Totals beyond
// float64 precision are reported approximately.
func (m *PiggyMetrics) SetCollateralLocked(token common.Address, amount *uint256.Int) {
	if m == nil {
		return
	}
	value := 0.0
	if amount != nil {
		value = amount.Float64()
	}
	m.locked.WithLabelValues(token.Hex()).Set(value)
}

// RPC returns the lazily-initialised JSON-RPC metrics.
func RPC() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "piggy",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "JSON-RPC requests segmented by method and error code.",
			}, []string{"method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "piggy",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "piggy",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Requests rejected by the per-client rate limiter.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(rpcRegistry.requests, rpcRegistry.latency, rpcRegistry.throttles)
	})
	return rpcRegistry
}

// Observe records a JSON-RPC call. code is zero for success.
func (m *rpcMetrics) Observe(method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	m.requests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for reason.
func (m *rpcMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}
