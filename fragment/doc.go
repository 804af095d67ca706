// Package fragment splits protected blocks into pieces, places them on the
// leaders and reassembles them for granted seekers.
//
// # Core Components
//
// Distributor: generates the symmetric key of a block, cuts the key into
// fragments and the content into chunks, seals fragments under the block
// policy and chunks under the key, then places every piece on Redundancy
// distinct leaders with an all-or-nothing two-phase commit. Placement
// metadata is recorded on the holders and in the placement ledger.
//
// Accumulator: fetches every piece from all of its holders, keeps the
// payload a strict majority of them agree on, releases the key fragments
// through the policy authority and decrypts the chunks with the rebuilt key.
//
// Key holders and chunk holders are drawn independently from the same pool
// unless Request.DataLeaders gives the chunks a pool of their own.
package fragment
