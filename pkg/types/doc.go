// Package types defines the orchestrator-neutral view of nodes, services,
// scaling policies and cluster events shared by every scaler package.
package types
