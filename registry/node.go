package registry

import (
	"slices"
	"sync"
)

// NodeID identifies a node of the permissioned network.
type NodeID int

// SeekerID identifies a party requesting access to a data block.
type SeekerID string

// BlockID identifies a stored data block.
type BlockID string

// Node is a participant of the network. All the mutable state is guarded by
// the node mutex, so a *Node can be shared by the elector, the access
// consensus and the transport endpoints.
type Node struct {
	ID NodeID

	mu          sync.Mutex
	reputation  int
	degree      int
	leader      bool
	active      []SeekerID
	pending     []SeekerID
	leaderEpoch uint64
	leaders     []NodeID
	holdings    map[BlockID]map[string]struct{}
}

// NewNode creates a node with zero reputation and the given degree.
func NewNode(id NodeID, degree int) *Node {
	return &Node{
		ID:       id,
		degree:   degree,
		holdings: make(map[BlockID]map[string]struct{}),
	}
}

func (n *Node) Reputation() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.reputation
}

func (n *Node) SetReputation(rep int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reputation = rep
}

// Degree returns the number of active connections of the node.
func (n *Node) Degree() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.degree
}

func (n *Node) SetDegree(degree int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.degree = degree
}

func (n *Node) incDegree() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.degree++
}

func (n *Node) IsLeader() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.leader
}

func (n *Node) SetLeader(leader bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.leader = leader
}

// Activate puts the seeker on the active queue, removing it from the
// pending queue if it was waiting there.
func (n *Node) Activate(s SeekerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pending = remove(n.pending, s)
	if !slices.Contains(n.active, s) {
		n.active = append(n.active, s)
	}
}

// Requeue moves the seeker from the active queue to the pending queue.
func (n *Node) Requeue(s SeekerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.active = remove(n.active, s)
	if !slices.Contains(n.pending, s) {
		n.pending = append(n.pending, s)
	}
}

// Release removes the seeker from both queues.
func (n *Node) Release(s SeekerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.active = remove(n.active, s)
	n.pending = remove(n.pending, s)
}

// ActiveQueue returns a copy of the active queue.
func (n *Node) ActiveQueue() []SeekerID {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.active)
}

// PendingQueue returns a copy of the pending queue.
func (n *Node) PendingQueue() []SeekerID {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.pending)
}

func (n *Node) IsActive(s SeekerID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Contains(n.active, s)
}

func (n *Node) IsPending(s SeekerID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Contains(n.pending, s)
}

// UpdateLeaders stores the announced leader set if it is newer than the one
// already known. It reports whether the update was applied, so replaying the
// same announcement is a no-op.
func (n *Node) UpdateLeaders(epoch uint64, leaders []NodeID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if epoch <= n.leaderEpoch {
		return false
	}
	n.leaderEpoch = epoch
	n.leaders = slices.Clone(leaders)
	return true
}

// Leaders returns the last leader set this node was told about.
func (n *Node) Leaders() (uint64, []NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.leaderEpoch, slices.Clone(n.leaders)
}

// RecordHolding marks the item (a key fragment or a data chunk) of the block
// as stored on this node.
func (n *Node) RecordHolding(block BlockID, item string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	items, ok := n.holdings[block]
	if !ok {
		items = make(map[string]struct{})
		n.holdings[block] = items
	}
	items[item] = struct{}{}
}

// Holdings returns the sorted identifiers of the items of block stored on this node.
func (n *Node) Holdings(block BlockID) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	items := make([]string, 0, len(n.holdings[block]))
	for item := range n.holdings[block] {
		items = append(items, item)
	}
	slices.Sort(items)
	return items
}

func remove(queue []SeekerID, s SeekerID) []SeekerID {
	return slices.DeleteFunc(queue, func(x SeekerID) bool { return x == s })
}
