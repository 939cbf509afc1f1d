package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics shared by the flow establishment path.
var (
	ActiveFlows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowgrind_active_flows",
			Help: "A gauge of flows currently occupying a pool slot.",
		})
	FlowsEstablished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgrind_flows_established_total",
			Help: "Number of flows successfully established by this agent.",
		},
		[]string{"connect"})
	FlowSetupErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgrind_flow_setup_errors_total",
			Help: "Number of flow establishment failures for each setup stage.",
		},
		[]string{"stage"})
	CandidateConnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgrind_candidate_connects_total",
			Help: "Number of per-candidate connect attempts by address family and result.",
		},
		[]string{"family", "result"})
	SocketBufferSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "flowgrind_socket_buffer_size_bytes",
			Help: "A histogram of kernel-negotiated socket buffer sizes.",
			Buckets: []float64{
				4096, 16384, 65536, 262144,
				1048576, 4194304, 16777216, 67108864},
		},
		[]string{"direction"},
	)
)
