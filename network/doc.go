// Package network provides the node transport used by the quorum layer.
// It carries the two-phase messages (prepare, commit, rollback), the
// gossiped leader set announcements and the fetches of stored fragments.
//
// # Core Components
//
// Transport: the interface every component talks to. Calls may block and
// always take a context; a failed call returns a *CallError wrapping
// ErrTimeout, ErrUnreachable, ErrRefused or the node error.
//
// Endpoint: the node side. It stages prepared messages, moves them to the
// node store on commit and drops them on rollback. Faults can be injected
// per operation to simulate slow or failing nodes.
//
// Local: an in-process Transport that runs every call on its own goroutine
// under the configured timeout, so that a slow node is observed exactly as
// a remote one would be.
//
// # Timeouts
//
// A call that does not complete within the timeout returns ErrTimeout.
// Callers treat it as a "no": a timed-out prepare aborts the transaction,
// a timed-out vote is an invalid vote.
package network
