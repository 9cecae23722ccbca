/*
Package swarm implements orchestrator.Client against the Docker Engine
Swarm API.

The adapter talks to a manager node through the official Docker client,
configured from the environment (DOCKER_HOST, DOCKER_TLS_VERIFY,
DOCKER_CERT_PATH) with API version negotiation.

# Events

The engine event stream is filtered to node and service events and mapped
onto cluster events:

	node    update  (state.new set)   → node.state_changed
	service create | update           → service.updated
	service remove                    → service.removed
	anything else                     → unknown

# Errors

Engine errors are classified with the errdefs package:

	NotFound                          → orchestrator.ErrNotFound
	Unauthorized, Forbidden,
	NotImplemented                    → orchestrator.ErrFatal
	Unavailable, System, Deadline,
	connection failures               → orchestrator.ErrTransient

Errors read from an open event stream are transient unless they are
authorization failures.
*/
package swarm
