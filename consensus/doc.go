// Package consensus implements the access-validation protocol run before a
// seeker receives the key and the content of a protected block.
//
// # Core Components
//
// Consensus: runs the rounds of one access request over a cluster of nodes,
// tallies the votes and records the outcome in the access log.
//
// Voter: the per-node evaluation of the access claim, by default the access
// policy contract.
//
// Accumulator: rebuilds key and content for a granted seeker.
//
// # Protocol
//
// Every round:
//  1. ⌈n/2⌉ distinct nodes of the cluster are sampled, nodes not yet tried
//     first
//  2. the seeker is pushed onto the active queue of each sampled node
//  3. sampled nodes vote concurrently; a vote that fails or times out counts
//     as REJECT
//  4. accepting nodes join the validator index, which spans all rounds
//  5. once the index holds ⌈n/2⌉ validators the seeker is granted, the block
//     is accumulated and the seeker is released from every queue
//  6. otherwise the seeker moves to the pending queue of the sampled nodes
//     and a new round starts after a backoff
//
// After Config.MaxRounds rounds without quorum the request is denied and the
// seeker is left pending on the nodes that evaluated it.
package consensus
