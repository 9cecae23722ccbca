package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scaler_nodes_total",
			Help: "Total number of nodes by role and status",
		},
		[]string{"role", "status"},
	)

	ManagedServices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scaler_managed_services",
			Help: "Number of services with a cached scaler configuration",
		},
	)

	// Reconciler metrics
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scaler_events_total",
			Help: "Total number of cluster events processed by kind",
		},
		[]string{"kind"},
	)

	SweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scaler_sweeps_total",
			Help: "Total number of full rescale sweeps",
		},
	)

	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scaler_sweep_duration_seconds",
			Help:    "Time taken by a full rescale sweep in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SyncsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scaler_syncs_total",
			Help: "Total number of startup syncs against the service list",
		},
	)

	StreamReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scaler_stream_reconnects_total",
			Help: "Total number of event stream re-establishments",
		},
	)

	ConfigErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scaler_config_errors_total",
			Help: "Total number of services with invalid scaler labels",
		},
	)

	// Scaling metrics
	ScaleActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scaler_scale_actions_total",
			Help: "Total number of scale commands by result",
		},
		[]string{"result"},
	)

	DesiredReplicas = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scaler_desired_replicas",
			Help: "Last computed desired replica count per service",
		},
		[]string{"service"},
	)

	// Janitor metrics
	NodesRemoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scaler_nodes_removed_total",
			Help: "Total number of outdated nodes removed by result",
		},
		[]string{"result"},
	)

	JanitorDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scaler_janitor_duration_seconds",
			Help:    "Time taken by a janitor run in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Result label values
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultDryRun  = "dry_run"
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(ManagedServices)
	prometheus.MustRegister(EventsTotal)
	prometheus.MustRegister(SweepsTotal)
	prometheus.MustRegister(SweepDuration)
	prometheus.MustRegister(SyncsTotal)
	prometheus.MustRegister(StreamReconnects)
	prometheus.MustRegister(ConfigErrors)
	prometheus.MustRegister(ScaleActions)
	prometheus.MustRegister(DesiredReplicas)
	prometheus.MustRegister(NodesRemoved)
	prometheus.MustRegister(JanitorDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// NewServeMux returns a mux exposing /metrics, /health, /ready and /live
func NewServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", HealthHandler())
	mux.HandleFunc("/ready", ReadyHandler())
	mux.HandleFunc("/live", LivenessHandler())
	return mux
}
