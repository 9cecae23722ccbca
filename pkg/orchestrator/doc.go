// Package orchestrator defines the cluster API the scaler depends on, the
// error classes it reacts to, and the retry policy applied to reads.
package orchestrator
