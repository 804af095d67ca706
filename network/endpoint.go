package network

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/luca-patrignani/ztp-quorum/registry"
	"github.com/luca-patrignani/ztp-quorum/storage"
)

// Fault makes an endpoint misbehave on one operation: the call is delayed
// by Delay and then fails with Err, if set.
type Fault struct {
	Err   error
	Delay time.Duration
}

// Endpoint is the node side of the transport. Prepared messages are staged
// in memory; a commit moves the payload to the node store and records the
// holding on the node, a rollback discards it.
type Endpoint struct {
	node  *registry.Node
	store storage.Store
	log   *slog.Logger

	mu     sync.Mutex
	staged map[string]Message
	faults map[Op]Fault
	refuse func(Message) bool
}

type endpointOption func(*Endpoint)

func WithEndpointLogger(l *slog.Logger) endpointOption {
	return func(e *Endpoint) { e.log = l.With("node", e.node.ID) }
}

// NewEndpoint binds a node to its store. A nil store means an in-memory one.
func NewEndpoint(node *registry.Node, store storage.Store, opts ...endpointOption) *Endpoint {
	if store == nil {
		store = storage.NewMemory()
	}
	e := &Endpoint{
		node:   node,
		store:  store,
		log:    slog.New(slog.DiscardHandler),
		staged: make(map[string]Message),
		faults: make(map[Op]Fault),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Endpoint) Node() *registry.Node {
	return e.node
}

func (e *Endpoint) Store() storage.Store {
	return e.store
}

// Inject sets the fault applied to every future call of op.
func (e *Endpoint) Inject(op Op, f Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faults[op] = f
}

// RefuseWhen makes the endpoint vote "no" on every prepare matching pred.
func (e *Endpoint) RefuseWhen(pred func(Message) bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refuse = pred
}

// Heal removes every injected fault and refusal.
func (e *Endpoint) Heal() {
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.faults)
	e.refuse = nil
}

// Staged returns the number of prepared, undecided messages.
func (e *Endpoint) Staged() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.staged)
}

func (e *Endpoint) fault(op Op) Fault {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.faults[op]
}

func stageKey(msg Message) string {
	return msg.Tx + "|" + msg.Item
}

func (e *Endpoint) prepare(msg Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.refuse != nil && e.refuse(msg) {
		return ErrRefused
	}
	e.staged[stageKey(msg)] = msg
	e.log.Debug("prepared", "tx", msg.Tx, "kind", msg.Kind, "item", msg.Item)
	return nil
}

func (e *Endpoint) commit(msg Message) error {
	e.mu.Lock()
	staged, ok := e.staged[stageKey(msg)]
	delete(e.staged, stageKey(msg))
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotPrepared, msg.Tx)
	}

	switch staged.Kind {
	case KindLeaderRole:
		e.node.SetLeader(true)
	case KindKeyFragment, KindDataChunk:
		if err := e.store.Put(staged.Item, staged.Payload); err != nil {
			return fmt.Errorf("store %s: %w", staged.Item, err)
		}
		e.node.RecordHolding(staged.Block, staged.Item)
	default:
		return fmt.Errorf("unknown message kind %q", staged.Kind)
	}
	e.log.Debug("committed", "tx", msg.Tx, "kind", staged.Kind, "item", staged.Item)
	return nil
}

func (e *Endpoint) rollback(msg Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.staged, stageKey(msg))
	e.log.Debug("rolled back", "tx", msg.Tx, "item", msg.Item)
	return nil
}

func (e *Endpoint) discard(msg Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.staged[stageKey(msg)]; ok {
		delete(e.staged, stageKey(msg))
		e.log.Debug("decision lost, staged message dropped", "tx", msg.Tx, "item", msg.Item)
	}
}

func (e *Endpoint) announce(a Announcement) error {
	if e.node.UpdateLeaders(a.Epoch, a.Leaders) {
		e.log.Debug("leader set updated", "epoch", a.Epoch, "leaders", len(a.Leaders))
	}
	return nil
}

func (e *Endpoint) fetch(block registry.BlockID, item string) ([]byte, error) {
	v, err := e.store.Get(item)
	if err != nil {
		return nil, fmt.Errorf("block %s item %s: %w", block, item, err)
	}
	return v, nil
}
