package network

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/luca-patrignani/ztp-quorum/registry"
)

var _ Transport = (*Local)(nil)

// Local is an in-process Transport dispatching every call to the Endpoint
// of the target node, on its own goroutine and under the call timeout.
type Local struct {
	endpoints map[registry.NodeID]*Endpoint
	timeout   time.Duration
	log       *slog.Logger
}

type localOption func(Local) Local

// WithTimeout bounds every node call. Zero means only the caller context applies.
func WithTimeout(timeout time.Duration) localOption {
	return func(l Local) Local {
		l.timeout = timeout
		return l
	}
}

func WithLogger(logger *slog.Logger) localOption {
	return func(l Local) Local {
		l.log = logger
		return l
	}
}

func NewLocal(endpoints []*Endpoint, opts ...localOption) *Local {
	l := Local{
		endpoints: make(map[registry.NodeID]*Endpoint, len(endpoints)),
		log:       slog.New(slog.DiscardHandler),
	}
	for _, e := range endpoints {
		l.endpoints[e.node.ID] = e
	}
	for _, opt := range opts {
		l = opt(l)
	}
	return &l
}

// CreateEndpoints builds one in-memory endpoint per node of the registry.
func CreateEndpoints(reg *registry.Registry, opts ...endpointOption) []*Endpoint {
	nodes := reg.Nodes()
	endpoints := make([]*Endpoint, len(nodes))
	for i, n := range nodes {
		endpoints[i] = NewEndpoint(n, nil, opts...)
	}
	return endpoints
}

func (l *Local) Endpoint(id registry.NodeID) (*Endpoint, bool) {
	e, ok := l.endpoints[id]
	return e, ok
}

func (l *Local) Prepare(ctx context.Context, node registry.NodeID, msg Message) error {
	return l.call(ctx, node, OpPrepare, func(e *Endpoint) error { return e.prepare(msg) })
}

func (l *Local) Commit(ctx context.Context, node registry.NodeID, msg Message) error {
	err := l.call(ctx, node, OpCommit, func(e *Endpoint) error { return e.commit(msg) })
	l.undelivered(node, msg, err)
	return err
}

func (l *Local) Rollback(ctx context.Context, node registry.NodeID, msg Message) error {
	err := l.call(ctx, node, OpRollback, func(e *Endpoint) error { return e.rollback(msg) })
	l.undelivered(node, msg, err)
	return err
}

// undelivered drops the staged copy of a message whose decision never
// reached the node, so the coordinator's view and the node agree.
func (l *Local) undelivered(node registry.NodeID, msg Message, err error) {
	if err == nil {
		return
	}
	if e, ok := l.endpoints[node]; ok {
		e.discard(msg)
	}
}

func (l *Local) Announce(ctx context.Context, node registry.NodeID, a Announcement) error {
	return l.call(ctx, node, OpAnnounce, func(e *Endpoint) error { return e.announce(a) })
}

func (l *Local) Fetch(ctx context.Context, node registry.NodeID, block registry.BlockID, item string) ([]byte, error) {
	var payload []byte
	err := l.call(ctx, node, OpFetch, func(e *Endpoint) error {
		var err error
		payload, err = e.fetch(block, item)
		return err
	})
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (l *Local) call(ctx context.Context, node registry.NodeID, op Op, fn func(*Endpoint) error) error {
	e, ok := l.endpoints[node]
	if !ok {
		return &CallError{Node: node, Op: op, Err: ErrUnreachable}
	}
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	fault := e.fault(op)
	done := make(chan error, 1)
	go func() {
		if fault.Delay > 0 {
			select {
			case <-time.After(fault.Delay):
			case <-ctx.Done():
				done <- ctx.Err()
				return
			}
		}
		if fault.Err != nil {
			done <- fault.Err
			return
		}
		done <- fn(e)
	}()

	select {
	case err := <-done:
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return l.expired(node, op, ctxErr)
			}
			return &CallError{Node: node, Op: op, Err: err}
		}
		return nil
	case <-ctx.Done():
		return l.expired(node, op, ctx.Err())
	}
}

func (l *Local) expired(node registry.NodeID, op Op, err error) error {
	l.log.Debug("node call expired", "node", node, "op", op, "err", err)
	if errors.Is(err, context.DeadlineExceeded) {
		return &CallError{Node: node, Op: op, Err: ErrTimeout}
	}
	return &CallError{Node: node, Op: op, Err: err}
}
