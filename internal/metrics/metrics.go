package metrics

import (
	"math/big"
	"net/http"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stakeledger"

// Recorder exports ledger activity to Prometheus. A nil Recorder is a
// valid no-op.
type Recorder struct {
	registry  *prometheus.Registry
	ops       *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	principal *prometheus.CounterVec
	reward    prometheus.Counter
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Ledger operations by kind and result.",
		}, []string{"op", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Ledger operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"op"}),
		principal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "principal_moved_total",
			Help:      "Principal moved into (stake) or out of (unstake) custody, in base units.",
		}, []string{"direction"}),
		reward: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reward_paid_total",
			Help:      "Reward paid to participants, in base units.",
		}),
	}
	r.registry.MustRegister(
		r.ops, r.latency, r.principal, r.reward,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveOp records one finished operation.
func (r *Recorder) ObserveOp(op, result string, started time.Time) {
	if r == nil {
		return
	}
	r.ops.WithLabelValues(op, result).Inc()
	r.latency.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// AddPrincipal counts principal moved in direction "in" or "out".
func (r *Recorder) AddPrincipal(direction string, amount *uint256.Int) {
	if r == nil || amount == nil {
		return
	}
	r.principal.WithLabelValues(direction).Add(toFloat(amount))
}

// AddReward counts paid reward.
func (r *Recorder) AddReward(amount *uint256.Int) {
	if r == nil || amount == nil {
		return
	}
	r.reward.Add(toFloat(amount))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

func toFloat(v *uint256.Int) float64 {
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}
