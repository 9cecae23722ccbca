/*
Package janitor removes worker nodes that have been down for too long.

A node is outdated when its status is down and its last update is older
than the retention period (24h by default, compared strictly). Clean
evaluates every node once; Schedule repeats Clean on a cron expression and
skips a tick while the previous run is still going.

	j := janitor.New(client, broker, janitor.Options{Retention: 24 * time.Hour})
	report, err := j.Clean(ctx)
*/
package janitor
