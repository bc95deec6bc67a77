package offload

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowmesh/flowmesh/common"
)

var (
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowmesh_offload_queue_depth",
			Help: "Requests waiting for the offload worker.",
		},
	)
	opsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowmesh_offload_ops_total",
			Help: "Offload requests processed, by operation and result.",
		},
		[]string{"op", "result"},
	)
	tnlPopAnomalies = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flowmesh_offload_tnlpop_rollback_anomalies_total",
			Help: "Rollbacks that found a failed tnl-pop flow still referenced by an earlier composition.",
		},
	)
)

func init() {
	prometheus.MustRegister(queueDepth, opsTotal, tnlPopAnomalies)
}

// StartMetrics serves prometheus metrics on addr.
func StartMetrics(addr string) error {
	http.Handle("/metrics", promhttp.Handler())

	go func() {
		common.Log.Infof("Serving /metrics on %s", addr)
		if err := http.ListenAndServe(addr, nil); err != nil {
			common.Log.Fatalf("Failed to bind metrics server: %v", err)
		}
	}()

	return nil
}
