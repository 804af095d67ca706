// Package registry holds the nodes of the permissioned network.
//
// A Node carries its reputation, its connectivity degree, the queues of
// seekers it is currently validating (active) or holding back (pending),
// the last leader set gossiped to it and the fragments it stores. The
// Registry owns every node; other components keep the *Node pointer and go
// through its methods, which serialize access with a per-node mutex.
package registry
