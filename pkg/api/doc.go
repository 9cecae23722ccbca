/*
Package api serves the scaler's HTTP endpoints.

The server exposes Prometheus metrics and the component health registry
from the metrics package:

	GET /metrics   Prometheus exposition
	GET /health    200 while every registered component is healthy
	GET /ready     200 once the orchestrator and reconciler are ready
	GET /live      200 while the process runs

The scaler itself has no control API; everything it does is driven by
cluster events and service labels.

	srv := api.NewServer(":9090")
	if err := srv.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("metrics server failed")
	}
*/
package api
