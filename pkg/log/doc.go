/*
Package log provides structured logging for the scaler using zerolog.

A single global logger is configured once at startup with Init. Packages
derive child loggers that carry context fields, so every line can be
filtered by component, service or node:

	┌──────────────────────────────────────────────┐
	│ log.Init(Config{Level, JSONOutput, Output})  │
	└──────────────────────┬───────────────────────┘
	                       │
	      ┌────────────────┼─────────────────┐
	      ▼                ▼                 ▼
	WithComponent     WithService        WithNodeID
	("reconciler")    (id, name)         (id)

Until Init is called the global logger discards everything, which keeps
package tests quiet.

# Levels

Debug, info, warn and error are supported. ParseLevel accepts them in any
case and treats an empty string as info.

# Formats

Console output is meant for people:

	2024-03-01T12:00:00Z INF service scaled component=scaler from=2 to=3 service_name=web

JSON output is meant for log shippers:

	{"level":"info","component":"scaler","service_name":"web","from":2,"to":3,"time":"2024-03-01T12:00:00Z","message":"service scaled"}

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("janitor")
	logger.Info().Str("node_id", id).Msg("removed outdated node")
*/
package log
