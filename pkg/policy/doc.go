/*
Package policy parses the scaler.* labels that opt a service into scaling.

	scaler.enabled      required  boolean (true/false, yes/no, on/off, 1/0)
	scaler.per_node     required  replicas per active worker, > 0, may be fractional
	scaler.node_filter  optional  label selector restricting which nodes count

A service with no scaler.* label is not managed. A service with at least
one must carry both required labels; otherwise Parse returns every problem
as a *ValidationError, combined with multierr.

Node filters use Kubernetes label selector syntax and are matched against
the node's labels plus a few built-in attributes:

	zone=eu,node.platform.arch=aarch64
	engine.labels.gpu in (nvidia,amd)
	!maintenance
*/
package policy
