package registry

import (
	"fmt"
	"math/rand"
	"slices"
)

// Registry owns the nodes of the network. The set of nodes is fixed at
// construction, the nodes themselves are mutable.
type Registry struct {
	nodes []*Node
	byID  map[NodeID]*Node
}

type registryOption func(*Registry)

// WithDegrees assigns the degree of every node from the given function.
func WithDegrees(degree func(NodeID) int) registryOption {
	return func(r *Registry) {
		for _, n := range r.nodes {
			n.degree = degree(n.ID)
		}
	}
}

// WithRandomDegrees assigns every node a degree drawn uniformly from [lo, hi].
func WithRandomDegrees(rng *rand.Rand, lo, hi int) registryOption {
	return WithDegrees(func(NodeID) int {
		if hi <= lo {
			return lo
		}
		return lo + rng.Intn(hi-lo+1)
	})
}

// New creates a registry of n nodes with IDs 0..n-1.
func New(n int, opts ...registryOption) (*Registry, error) {
	if n <= 0 {
		return nil, fmt.Errorf("registry needs at least one node, got %d", n)
	}
	r := &Registry{
		nodes: make([]*Node, n),
		byID:  make(map[NodeID]*Node, n),
	}
	for i := range n {
		node := NewNode(NodeID(i), 0)
		r.nodes[i] = node
		r.byID[node.ID] = node
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Registry) Len() int {
	return len(r.nodes)
}

func (r *Registry) Node(id NodeID) (*Node, bool) {
	n, ok := r.byID[id]
	return n, ok
}

// Nodes returns the nodes in ID order. The slice is a copy, the nodes are not.
func (r *Registry) Nodes() []*Node {
	return slices.Clone(r.nodes)
}

// IDs returns the IDs of every node in ascending order.
func (r *Registry) IDs() []NodeID {
	ids := make([]NodeID, len(r.nodes))
	for i, n := range r.nodes {
		ids[i] = n.ID
	}
	return ids
}

// Connect records a connection between a and b, raising the degree of both.
func (r *Registry) Connect(a, b NodeID) error {
	na, ok := r.byID[a]
	if !ok {
		return fmt.Errorf("unknown node %d", a)
	}
	nb, ok := r.byID[b]
	if !ok {
		return fmt.Errorf("unknown node %d", b)
	}
	if a == b {
		return fmt.Errorf("node %d cannot connect to itself", a)
	}
	na.incDegree()
	nb.incDegree()
	return nil
}

// Sample draws k distinct IDs uniformly at random from ids. If k exceeds
// len(ids) every ID is returned, in random order.
func Sample(rng *rand.Rand, ids []NodeID, k int) []NodeID {
	if k > len(ids) {
		k = len(ids)
	}
	if k <= 0 {
		return []NodeID{}
	}
	perm := rng.Perm(len(ids))
	out := make([]NodeID, k)
	for i := range k {
		out[i] = ids[perm[i]]
	}
	return out
}

// Distinct returns ids without duplicates, keeping the first occurrence.
func Distinct(ids []NodeID) []NodeID {
	seen := make(map[NodeID]struct{}, len(ids))
	out := make([]NodeID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
