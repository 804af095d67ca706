// Package ledger implements the in-memory ledgers of the quorum layer.
//
// # Core Components
//
// AccessLog: an append-only log of access decisions with hash chaining for
// tamper detection. Every record stores the seeker, the block, the outcome,
// the validators that granted it and the quorum they had to reach.
//
// Placement: the metadata of fragment distribution. For each block it
// keeps the ordered manifest of key fragments and data chunks, and for
// each piece the nodes that hold it.
//
// # Security Properties
//
// The access log provides:
//   - Immutability: records are only ever appended
//   - Verifiability: Verify re-checks every hash and link of the chain
//   - Quorum evidence: a granted record cannot be appended with fewer
//     validators than its quorum
//
// # Usage
//
// Append a record after every access decision and query the history of a
// block with ByBlock. Verify can be called at any time.
package ledger
