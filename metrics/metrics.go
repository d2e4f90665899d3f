// Package metrics registers the coordinator's instrumentation. Grounded on
// plugin/evm/gossip_eth_tx_pool.go's constructor-injected
// prometheus.Registerer and core/txpool/txpool.go's
// metrics.GetOrRegisterGauge idiom: metrics exporters are an explicit
// non-goal (spec.md §1), but the ambient instrumentation points
// themselves are still carried, injected rather than global.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Set is the coordinator's metric handles.
type Set struct {
	PoolSize        prometheus.Gauge
	ReadyCount      prometheus.Gauge
	NotReadyCount   prometheus.Gauge
	Evictions       prometheus.Counter
	BroadcastsSent  *prometheus.CounterVec // label: peer
	BroadcastBytes  *prometheus.CounterVec // label: peer
	RetriesFlagged  *prometheus.CounterVec // label: peer
	TransportErrors *prometheus.CounterVec // label: peer
	AckTimeouts     *prometheus.CounterVec // label: peer
}

// New registers a fresh metric set on registerer. Passing a nil registerer
// is valid (e.g. in tests) and simply leaves the metrics unregistered but
// still usable as no-op recording targets.
func New(registerer prometheus.Registerer) *Set {
	s := &Set{
		PoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sharedmempool", Name: "pool_size",
			Help: "Number of live entries in the core pool.",
		}),
		ReadyCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sharedmempool", Name: "ready_entries",
			Help: "Number of Ready entries in the core pool.",
		}),
		NotReadyCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sharedmempool", Name: "not_ready_entries",
			Help: "Number of NotReady (buffered) entries in the core pool.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sharedmempool", Name: "evictions_total",
			Help: "Number of entries evicted due to a full pool.",
		}),
		BroadcastsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sharedmempool", Name: "broadcasts_sent_total",
			Help: "Number of broadcast batches successfully sent, per peer.",
		}, []string{"peer"}),
		BroadcastBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sharedmempool", Name: "broadcast_txns_total",
			Help: "Number of transactions broadcast, per peer.",
		}, []string{"peer"}),
		RetriesFlagged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sharedmempool", Name: "retries_flagged_total",
			Help: "Number of timeline ids flagged for retry via ACK, per peer.",
		}, []string{"peer"}),
		TransportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sharedmempool", Name: "transport_errors_total",
			Help: "Number of broadcast send failures, per peer.",
		}, []string{"peer"}),
		AckTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sharedmempool", Name: "ack_timeouts_total",
			Help: "Number of batches reclassified as retry due to ACK timeout, per peer.",
		}, []string{"peer"}),
	}
	if registerer != nil {
		registerer.MustRegister(
			s.PoolSize, s.ReadyCount, s.NotReadyCount, s.Evictions,
			s.BroadcastsSent, s.BroadcastBytes, s.RetriesFlagged,
			s.TransportErrors, s.AckTimeouts,
		)
	}
	return s
}
