// Package common holds the pieces shared by every component of the quorum
// layer: the error taxonomy and the bounded fan-out used to contact a subset
// of nodes in parallel.
//
// # Errors
//
// Failures that callers are expected to branch on are exposed as sentinel
// values (ErrNoQualifyingLeaders, ErrQuorumEmpty, ErrConsensusExhausted, ...)
// or as typed errors (ConfigError). Components wrap them with fmt.Errorf and
// %w, so errors.Is and errors.As are the only supported way to inspect them.
//
// # Fan-out
//
// FanOut runs one call per node on a worker pool and joins them with a
// barrier. Calls never short-circuit each other: a vote or a prepare that
// fails is an outcome, not a reason to abandon the others.
package common
