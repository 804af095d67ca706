package ledger

import (
	"slices"
	"sync"

	"github.com/luca-patrignani/ztp-quorum/registry"
)

// Manifest lists, in order, the pieces a block was split into.
type Manifest struct {
	Block     registry.BlockID
	Policy    string
	Fragments []string
	Chunks    []string
}

// Placement keeps track of where every piece of every block is stored:
// item -> holders, and the reverse node -> items.
type Placement struct {
	mu        sync.RWMutex
	manifests map[registry.BlockID]Manifest
	holders   map[string][]registry.NodeID
	nodeItems map[registry.NodeID]map[string]struct{}
}

func NewPlacement() *Placement {
	return &Placement{
		manifests: make(map[registry.BlockID]Manifest),
		holders:   make(map[string][]registry.NodeID),
		nodeItems: make(map[registry.NodeID]map[string]struct{}),
	}
}

// SetManifest stores the manifest of a block, replacing the previous one.
func (p *Placement) SetManifest(m Manifest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m.Fragments = slices.Clone(m.Fragments)
	m.Chunks = slices.Clone(m.Chunks)
	p.manifests[m.Block] = m
}

func (p *Placement) Manifest(block registry.BlockID) (Manifest, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.manifests[block]
	if !ok {
		return Manifest{}, false
	}
	m.Fragments = slices.Clone(m.Fragments)
	m.Chunks = slices.Clone(m.Chunks)
	return m, true
}

// Record sets the holders of an item.
func (p *Placement) Record(item string, holders []registry.NodeID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, old := range p.holders[item] {
		delete(p.nodeItems[old], item)
	}
	p.holders[item] = slices.Clone(holders)
	for _, id := range holders {
		items, ok := p.nodeItems[id]
		if !ok {
			items = make(map[string]struct{})
			p.nodeItems[id] = items
		}
		items[item] = struct{}{}
	}
}

// Holders returns the nodes storing item.
func (p *Placement) Holders(item string) []registry.NodeID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.holders[item])
}

// NodeItems returns the sorted items stored on a node.
func (p *Placement) NodeItems(node registry.NodeID) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	items := make([]string, 0, len(p.nodeItems[node]))
	for item := range p.nodeItems[node] {
		items = append(items, item)
	}
	slices.Sort(items)
	return items
}

// Blocks returns the sorted IDs of the blocks with a manifest.
func (p *Placement) Blocks() []registry.BlockID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	blocks := make([]registry.BlockID, 0, len(p.manifests))
	for b := range p.manifests {
		blocks = append(blocks, b)
	}
	slices.Sort(blocks)
	return blocks
}
