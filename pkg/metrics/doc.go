/*
Package metrics provides Prometheus metrics and health reporting for the
scaler.

All metrics are package variables registered with the default Prometheus
registry at init and exposed by Handler. NewServeMux bundles the metrics
endpoint with the health endpoints served by the api package.

# Metrics

Cluster:

	scaler_nodes_total{role,status}        gauge, sampled by Collector
	scaler_managed_services                gauge, cached configurations

Reconciler:

	scaler_events_total{kind}              counter, cluster events handled
	scaler_sweeps_total                    counter
	scaler_sweep_duration_seconds          histogram
	scaler_syncs_total                     counter, full service listings
	scaler_stream_reconnects_total         counter
	scaler_config_errors_total             counter, invalid scaler labels

Scaling:

	scaler_scale_actions_total{result}     counter, success|failure|dry_run
	scaler_desired_replicas{service}       gauge, last computed target

Janitor:

	scaler_nodes_removed_total{result}     counter, success|failure|dry_run
	scaler_janitor_duration_seconds        histogram

Timer measures an operation and observes it into a histogram:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SweepDuration)

# Health

HealthChecker tracks named components. The orchestrator component is
updated by Collector on every sample; the reconciler reports ready only
while it is listening to the event stream; the janitor reports the outcome
of its last run.

	/health   503 if any registered component is unhealthy
	/ready    503 until the orchestrator and reconciler are healthy
	/live     always 200

# Example Queries

Scale commands failing in the last hour:

	increase(scaler_scale_actions_total{result="failure"}[1h])

Event stream instability:

	rate(scaler_stream_reconnects_total[15m]) > 0

Slow sweeps:

	histogram_quantile(0.99, rate(scaler_sweep_duration_seconds_bucket[5m]))
*/
package metrics
