package policy

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/luca-patrignani/ztp-quorum/metrics"
	"github.com/luca-patrignani/ztp-quorum/registry"
)

var (
	ErrUnknownBlock = errors.New("unknown block")
	ErrBlockExists  = errors.New("block already exists")
)

// DataBlock is a unit of protected data registered on the contract.
type DataBlock struct {
	ID              registry.BlockID
	Content         []byte
	ApprovedSeekers []registry.SeekerID
	Policy          Policy
}

type entry struct {
	block      DataBlock
	agreements uint64
}

// Contract is the access policy contract: it stores the blocks with their
// approved seekers and policy, answers access checks and counts, per block,
// how many checks agreed to grant access.
type Contract struct {
	mu      sync.RWMutex
	blocks  map[registry.BlockID]*entry
	checker AttributeChecker
	metrics *metrics.Metrics
	log     *slog.Logger
}

type contractOption func(*Contract)

func WithMetrics(m *metrics.Metrics) contractOption {
	return func(c *Contract) { c.metrics = m }
}

func WithLogger(l *slog.Logger) contractOption {
	return func(c *Contract) { c.log = l }
}

// NewContract creates an empty contract. checker may be nil, in which case
// only the approved lists grant access.
func NewContract(checker AttributeChecker, opts ...contractOption) *Contract {
	c := &Contract{
		blocks:  make(map[registry.BlockID]*entry),
		checker: checker,
		log:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type blockOption func(*DataBlock)

// WithContent attaches the raw content to the block.
func WithContent(content []byte) blockOption {
	return func(b *DataBlock) { b.Content = slices.Clone(content) }
}

// AddBlock registers a new block.
func (c *Contract) AddBlock(id registry.BlockID, approved []registry.SeekerID, p Policy, opts ...blockOption) error {
	if id == "" {
		return fmt.Errorf("block id must not be empty")
	}
	b := DataBlock{
		ID:              id,
		ApprovedSeekers: slices.Clone(approved),
		Policy:          p,
	}
	for _, opt := range opts {
		opt(&b)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.blocks[id]; ok {
		return fmt.Errorf("%w: %s", ErrBlockExists, id)
	}
	c.blocks[id] = &entry{block: b}
	c.log.Debug("block added", "block", id, "policy", p.Name, "approved", len(approved))
	return nil
}

// Block returns a copy of the registered block.
func (c *Contract) Block(id registry.BlockID) (DataBlock, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.blocks[id]
	if !ok {
		return DataBlock{}, false
	}
	b := e.block
	b.Content = slices.Clone(b.Content)
	b.ApprovedSeekers = slices.Clone(b.ApprovedSeekers)
	return b, true
}

// CheckAccess grants access if the seeker satisfies the block policy or is
// in its approved list. Every affirmative answer increments the agreement
// counter of the block.
func (c *Contract) CheckAccess(seeker registry.SeekerID, id registry.BlockID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.blocks[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownBlock, id)
	}
	if !c.allowed(seeker, e.block) {
		return false, nil
	}
	e.agreements++
	c.metrics.Agreement()
	return true, nil
}

// Authorized evaluates the same rule as CheckAccess without counting it.
func (c *Contract) Authorized(seeker registry.SeekerID, id registry.BlockID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.blocks[id]
	return ok && c.allowed(seeker, e.block)
}

// Approve adds the seeker to the approved list of the block.
func (c *Contract) Approve(id registry.BlockID, seeker registry.SeekerID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.blocks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBlock, id)
	}
	if !slices.Contains(e.block.ApprovedSeekers, seeker) {
		e.block.ApprovedSeekers = append(e.block.ApprovedSeekers, seeker)
	}
	return nil
}

// Agreements returns the number of affirmative checks recorded for the block.
func (c *Contract) Agreements(id registry.BlockID) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.blocks[id]; ok {
		return e.agreements
	}
	return 0
}

func (c *Contract) allowed(seeker registry.SeekerID, b DataBlock) bool {
	if c.checker != nil && c.checker.Check(seeker, b.Policy) {
		return true
	}
	return slices.Contains(b.ApprovedSeekers, seeker)
}
