// Package reputation implements the reputation ledger used by leader election.
//
// The ledger is an ordered index of (node, reputation) pairs sorted by
// reputation, highest first, with ties broken by node ID. Updating a node
// replaces its previous entry, so a node appears at most once. Threshold
// queries walk the index from the top and stop at the first entry below the
// threshold.
package reputation
