/*
Package reconciler keeps replicated services sized in proportion to the
number of active worker nodes in the cluster.

The reconciler is event driven. It subscribes to the orchestrator event
stream, rebuilds the service configuration cache from a full listing and
then reacts to individual node and service events:

	┌──────────────┐   subscribe    ┌──────────────┐
	│ Orchestrator │───────────────▶│  Reconciler  │
	│  event feed  │   events       │  dispatcher  │
	└──────────────┘                └──────┬───────┘
	                                       │
	          ┌────────────────────────────┼──────────────────────┐
	          ▼                            ▼                      ▼
	  node ready / down            service updated          service removed
	          │                            │                      │
	          ▼                            ▼                      ▼
	  sweep every cached       parse labels, upsert         drop cache entry
	  enabled service          and reconcile once

# Lifecycle

Run drives one session after another. A session subscribes first, then
syncs, so changes made while the listing is in flight are still delivered.
When the stream drops, the session ends and a new one starts after a
backoff delay; the fresh sync covers anything missed in between.

	starting ──sync ok──▶ listening ──stream lost──▶ starting

Fatal orchestrator errors (authentication, incompatible API) end Run with
an error. Cancelling the context ends it cleanly: an event already being
handled runs to completion, bounded by Options.EventTimeout, and the
context is only checked while waiting for the next event.

# Sweeps

A node transition triggers a sweep. The active worker list is fetched once
per sweep and each service counts the nodes matching its own node filter.
Services are reconciled with bounded parallelism (Options.SweepWorkers).
A service that no longer exists is skipped, and a failure on one service
never stops the others.

# Usage

	r := reconciler.NewReconciler(client, cache.New(), engine, broker, reconciler.Options{
		SweepWorkers: 4,
		Retry:        orchestrator.DefaultRetryPolicy(),
	})
	if err := r.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("reconciler failed")
	}
*/
package reconciler
