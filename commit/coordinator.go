package commit

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/luca-patrignani/ztp-quorum/common"
	"github.com/luca-patrignani/ztp-quorum/metrics"
	"github.com/luca-patrignani/ztp-quorum/network"
	"github.com/luca-patrignani/ztp-quorum/registry"
)

var errUnsupportedOp = errors.New("not a two-phase operation")

// Decision is the outcome of a two-phase transaction.
type Decision int

const (
	Rollback Decision = iota
	Commit
)

func (d Decision) String() string {
	if d == Commit {
		return "commit"
	}
	return "rollback"
}

// Outcome describes a finished transaction. Prepared holds the prepare
// answer of every selected node (nil means "yes"), Delivered the result of
// delivering the decision. Holders lists, in selection order, the nodes
// that acknowledged a commit.
type Outcome struct {
	Decision  Decision
	Prepared  map[registry.NodeID]error
	Delivered map[registry.NodeID]error
	Holders   []registry.NodeID
}

// Coordinator drives prepare/commit/rollback phases over a Transport.
type Coordinator struct {
	transport network.Transport
	log       *slog.Logger
	metrics   *metrics.Metrics
}

type coordinatorOption func(*Coordinator)

func WithLogger(l *slog.Logger) coordinatorOption {
	return func(c *Coordinator) { c.log = l }
}

func WithMetrics(m *metrics.Metrics) coordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

func NewCoordinator(t network.Transport, opts ...coordinatorOption) *Coordinator {
	c := &Coordinator{transport: t, log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Phase sends op to every node concurrently and waits for all of them.
// The returned map has one entry per node, nil on success.
func (c *Coordinator) Phase(ctx context.Context, op network.Op, nodes []registry.NodeID, msg network.Message) map[registry.NodeID]error {
	var mu sync.Mutex
	results := make(map[registry.NodeID]error, len(nodes))
	common.FanOut(ctx, len(nodes), len(nodes), func(ctx context.Context, i int) {
		var err error
		switch op {
		case network.OpPrepare:
			err = c.transport.Prepare(ctx, nodes[i], msg)
		case network.OpCommit:
			err = c.transport.Commit(ctx, nodes[i], msg)
		case network.OpRollback:
			err = c.transport.Rollback(ctx, nodes[i], msg)
		default:
			err = &network.CallError{Node: nodes[i], Op: op, Err: errUnsupportedOp}
		}
		mu.Lock()
		results[nodes[i]] = err
		mu.Unlock()
	})
	return results
}

// Run executes an all-or-nothing transaction: every node is asked to
// prepare, and only if every node answers "yes" the commit is sent.
// Otherwise every selected node receives a rollback. Failures delivering
// the decision are recorded in the outcome, never retried.
func (c *Coordinator) Run(ctx context.Context, nodes []registry.NodeID, msg network.Message) Outcome {
	out := Outcome{Prepared: c.Phase(ctx, network.OpPrepare, nodes, msg)}

	out.Decision = Commit
	for _, id := range nodes {
		if err := out.Prepared[id]; err != nil {
			c.log.Info("prepare refused", "tx", msg.Tx, "node", id, "err", err)
			out.Decision = Rollback
		}
	}
	if len(nodes) == 0 {
		out.Decision = Rollback
	}

	op := network.OpRollback
	if out.Decision == Commit {
		op = network.OpCommit
	}
	out.Delivered = c.Phase(ctx, op, nodes, msg)
	for _, id := range nodes {
		if err := out.Delivered[id]; err != nil {
			c.log.Warn(string(op)+" delivery failed", "tx", msg.Tx, "node", id, "err", err)
			continue
		}
		if out.Decision == Commit {
			out.Holders = append(out.Holders, id)
		}
	}
	c.metrics.Commit(string(msg.Kind), out.Decision.String())
	c.log.Debug("transaction decided", "tx", msg.Tx, "item", msg.Item, "decision", out.Decision, "holders", len(out.Holders))
	return out
}

// Accepted returns, in the order of nodes, the ones whose entry in results is nil.
func Accepted(nodes []registry.NodeID, results map[registry.NodeID]error) []registry.NodeID {
	return slices.DeleteFunc(slices.Clone(nodes), func(id registry.NodeID) bool {
		err, ok := results[id]
		return !ok || err != nil
	})
}
