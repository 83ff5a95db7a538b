package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gas_relay"

// Metrics holds relay instrumentation. A nil *Metrics is valid and records nothing.
type Metrics struct {
	NonceAllocations prometheus.Counter
	ChainSyncs       *prometheus.CounterVec
	Resyncs          *prometheus.CounterVec
	SendAttempts     *prometheus.CounterVec
	SequencerFlushes prometheus.Counter
	QueueDepth       prometheus.Gauge
	RelayRequests    *prometheus.CounterVec
	FundingDuration  prometheus.Histogram
}

// New creates the relay metrics and registers them with reg.
//
// Parameters:
// - reg: the registerer to use, prometheus.DefaultRegisterer when nil.
//
// Returns:
// - *Metrics: the registered metrics.
// - error: an error if a collector is already registered.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		NonceAllocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nonce_allocations_total",
			Help:      "Total number of nonces handed out by the optimistic allocator",
		}),
		ChainSyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nonce_chain_syncs_total",
			Help:      "Chain transaction count lookups by result",
		}, []string{"result"}),
		Resyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nonce_resyncs_total",
			Help:      "Forced nonce resynchronizations by kind",
		}, []string{"kind"}),
		SendAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_attempts_total",
			Help:      "Funding transaction send attempts by result",
		}, []string{"result"}),
		SequencerFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequencer_flushes_total",
			Help:      "Number of queued batches invalidated by a failed action",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sequencer_queue_depth",
			Help:      "Number of actions waiting across all sequencers",
		}),
		RelayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_requests_total",
			Help:      "Relay requests by outcome",
		}, []string{"outcome"}),
		FundingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "funding_duration_seconds",
			Help:      "Time from funding submission to confirmation",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}

	collectors := []prometheus.Collector{
		m.NonceAllocations,
		m.ChainSyncs,
		m.Resyncs,
		m.SendAttempts,
		m.SequencerFlushes,
		m.QueueDepth,
		m.RelayRequests,
		m.FundingDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) NonceAllocated() {
	if m == nil {
		return
	}
	m.NonceAllocations.Inc()
}

func (m *Metrics) ChainSynced(ok bool) {
	if m == nil {
		return
	}
	m.ChainSyncs.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) Resynced(kind string) {
	if m == nil {
		return
	}
	m.Resyncs.WithLabelValues(kind).Inc()
}

func (m *Metrics) SendAttempted(outcome string) {
	if m == nil {
		return
	}
	m.SendAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SequencerFlushed() {
	if m == nil {
		return
	}
	m.SequencerFlushes.Inc()
}

func (m *Metrics) QueueChanged(delta int) {
	if m == nil {
		return
	}
	m.QueueDepth.Add(float64(delta))
}

func (m *Metrics) RelayFinished(outcome string) {
	if m == nil {
		return
	}
	m.RelayRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) FundingConfirmed(since time.Time) {
	if m == nil {
		return
	}
	m.FundingDuration.Observe(time.Since(since).Seconds())
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
