package reputation

import (
	"sync"

	"github.com/google/btree"

	"github.com/luca-patrignani/ztp-quorum/registry"
)

const defaultDegree = 16

var _ btree.LessFunc[Entry] = Entry.Less

// Entry is the reputation of one node.
type Entry struct {
	Node       registry.NodeID
	Reputation int
}

// Less orders entries by reputation, highest first, and then by node ID.
func (e Entry) Less(than Entry) bool {
	if e.Reputation != than.Reputation {
		return e.Reputation > than.Reputation
	}
	return e.Node < than.Node
}

// Ledger is the ordered index of node reputations. It keeps at most one
// entry per node: the tree gives the order, the map the point lookups.
type Ledger struct {
	mu    sync.RWMutex
	tree  *btree.BTreeG[Entry]
	index map[registry.NodeID]int
}

func New() *Ledger {
	return &Ledger{
		tree:  btree.NewG(defaultDegree, Entry.Less),
		index: make(map[registry.NodeID]int),
	}
}

// Upsert sets the reputation of the node, replacing any previous entry.
func (l *Ledger) Upsert(node registry.NodeID, rep int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if old, ok := l.index[node]; ok {
		l.tree.Delete(Entry{Node: node, Reputation: old})
	}
	l.tree.ReplaceOrInsert(Entry{Node: node, Reputation: rep})
	l.index[node] = rep
}

// Get returns the current reputation of the node.
func (l *Ledger) Get(node registry.NodeID) (int, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rep, ok := l.index[node]
	return rep, ok
}

// Remove deletes the entry of the node and reports whether it existed.
func (l *Ledger) Remove(node registry.NodeID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	rep, ok := l.index[node]
	if !ok {
		return false
	}
	l.tree.Delete(Entry{Node: node, Reputation: rep})
	delete(l.index, node)
	return true
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tree.Len()
}

// AtLeast returns, best first, the nodes whose reputation is >= threshold.
func (l *Ledger) AtLeast(threshold int) []registry.NodeID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []registry.NodeID
	l.tree.Ascend(func(e Entry) bool {
		if e.Reputation < threshold {
			return false
		}
		out = append(out, e.Node)
		return true
	})
	return out
}

// Entries returns every entry in ledger order.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0, l.tree.Len())
	l.tree.Ascend(func(e Entry) bool {
		out = append(out, e)
		return true
	})
	return out
}

func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tree.Clear(false)
	clear(l.index)
}
