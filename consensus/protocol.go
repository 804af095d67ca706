package consensus

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/btree"
	"github.com/google/uuid"

	"github.com/luca-patrignani/ztp-quorum/common"
	"github.com/luca-patrignani/ztp-quorum/ledger"
	"github.com/luca-patrignani/ztp-quorum/registry"
)

// round is the state of one access request.
type round struct {
	req     Request
	cluster []registry.NodeID
	quorum  int
	// tried avoids resampling the same rejecting subset.
	tried map[registry.NodeID]bool
	// pushed are the nodes whose queues hold the seeker.
	pushed     map[registry.NodeID]bool
	validators *btree.BTreeG[registry.NodeID]
	result     *Result
}

// ValidateAccess runs rounds until a quorum of the cluster accepts the
// seeker or Config.MaxRounds is reached. The Result is never nil.
//
// A granted request returns a nil error. A denied one returns
// common.ErrConsensusExhausted; any other error is a protocol failure.
func (c *Consensus) ValidateAccess(ctx context.Context, req Request) (*Result, error) {
	r, err := c.newRound(req)
	if err != nil {
		return r.result, err
	}
	log := c.logger.With("round", r.result.Round, "seeker", req.Seeker, "block", req.Block)
	log.Info("access requested", "cluster", len(r.cluster), "quorum", r.quorum)

	b := c.newBackoff()
	for i := 1; i <= c.cfg.MaxRounds; i++ {
		if err := ctx.Err(); err != nil {
			return c.fail(r, err)
		}
		sample := c.sample(r, computeQuorum(len(r.cluster)))
		for _, id := range sample {
			node, _ := c.reg.Node(id)
			node.Activate(req.Seeker)
			r.pushed[id] = true
			r.tried[id] = true
		}

		votes := c.collect(ctx, i, sample, req)
		accepted := collectVotes(votes, VoteAccept)
		for _, v := range accepted {
			r.validators.ReplaceOrInsert(v.Voter)
		}
		r.result.Votes = append(r.result.Votes, collectVotes(votes, "both")...)
		r.result.Rounds = i
		c.metrics.Round()
		log.Debug("round completed", "n", i, "sampled", sample, "accepted", len(accepted), "validators", r.validators.Len())

		if r.validators.Len() >= r.quorum {
			return c.grant(ctx, r)
		}
		for _, id := range sample {
			node, _ := c.reg.Node(id)
			node.Requeue(req.Seeker)
		}
		if err := ctx.Err(); err != nil {
			return c.fail(r, err)
		}
		if i < c.cfg.MaxRounds {
			if err := c.wait(ctx, b); err != nil {
				return c.fail(r, err)
			}
		}
	}
	return c.deny(r)
}

func (c *Consensus) newRound(req Request) (*round, error) {
	r := &round{
		req:        req,
		tried:      make(map[registry.NodeID]bool),
		pushed:     make(map[registry.NodeID]bool),
		validators: btree.NewOrderedG[registry.NodeID](8),
		result: &Result{
			Round:   uuid.NewString(),
			Seeker:  req.Seeker,
			Block:   req.Block,
			Outcome: OutcomeFailed,
		},
	}
	if req.Seeker == "" {
		return r, common.NewConfigError("seeker", "must not be empty")
	}
	if req.Block == "" {
		return r, common.NewConfigError("block", "must not be empty")
	}
	r.cluster = registry.Distinct(req.Cluster)
	if len(r.cluster) == 0 {
		r.cluster = c.reg.IDs()
	}
	if len(r.cluster) == 0 {
		return r, common.NewConfigError("cluster", "no nodes to vote")
	}
	for _, id := range r.cluster {
		if _, ok := c.reg.Node(id); !ok {
			return r, common.NewConfigError("cluster", "unknown node %d", id)
		}
	}
	r.quorum = computeQuorum(len(r.cluster))
	r.result.Quorum = r.quorum
	return r, nil
}

// sample draws k distinct nodes, preferring the ones not tried yet.
func (c *Consensus) sample(r *round, k int) []registry.NodeID {
	var fresh, seen []registry.NodeID
	for _, id := range r.cluster {
		if r.tried[id] {
			seen = append(seen, id)
		} else {
			fresh = append(fresh, id)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(fresh) >= k {
		return registry.Sample(c.rng, fresh, k)
	}
	return append(fresh, registry.Sample(c.rng, seen, k-len(fresh))...)
}

// collect asks every sampled node for its vote and waits for all of them.
func (c *Consensus) collect(ctx context.Context, n int, sample []registry.NodeID, req Request) map[registry.NodeID]Vote {
	var mu sync.Mutex
	votes := make(map[registry.NodeID]Vote, len(sample))
	common.FanOut(ctx, len(sample), len(sample), func(ctx context.Context, i int) {
		node, _ := c.reg.Node(sample[i])
		v := Vote{Voter: node.ID, Round: n, Value: VoteReject}
		ok, err := c.castVote(ctx, node, req)
		switch {
		case err != nil:
			v.Reason = err.Error()
		case ok:
			v.Value = VoteAccept
		default:
			v.Reason = "access check refused"
		}
		c.metrics.Vote(err == nil)
		mu.Lock()
		votes[node.ID] = v
		mu.Unlock()
	})
	return votes
}

func (c *Consensus) castVote(ctx context.Context, node *registry.Node, req Request) (bool, error) {
	if c.cfg.VoteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.VoteTimeout)
		defer cancel()
	}
	type answer struct {
		ok  bool
		err error
	}
	ch := make(chan answer, 1)
	go func() {
		ok, err := c.voter.Vote(ctx, node, req.Seeker, req.Block)
		ch <- answer{ok, err}
	}()
	select {
	case a := <-ch:
		return a.ok, a.err
	case <-ctx.Done():
		return false, fmt.Errorf("node %d: %w", node.ID, ctx.Err())
	}
}

func (c *Consensus) wait(ctx context.Context, b *backoff.ExponentialBackOff) error {
	if c.cfg.RoundBackoff == 0 {
		return nil
	}
	d := b.NextBackOff()
	if d == backoff.Stop {
		d = b.MaxInterval
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Consensus) grant(ctx context.Context, r *round) (*Result, error) {
	res := r.result
	res.Validators = ascend(r.validators)
	defer c.release(r)

	if c.accumulator != nil {
		d, err := c.accumulator.Accumulate(ctx, r.req.Seeker, r.req.Block)
		if err != nil {
			return c.failed(res, fmt.Errorf("accumulate %s: %w", r.req.Block, err))
		}
		res.Delivery = d
	}
	if c.approver != nil {
		if err := c.approver.Approve(r.req.Block, r.req.Seeker); err != nil {
			c.logger.Warn("approval not recorded", "round", res.Round, "err", err)
		}
	}
	rec, err := c.log.Append(c.access(r, ledger.OutcomeGranted))
	if err != nil {
		return c.failed(res, fmt.Errorf("access log: %w", err))
	}
	res.Record = rec.Index
	res.Outcome = OutcomeGranted
	c.metrics.Decision(res.Outcome.String())
	c.logger.Info("access granted", "round", res.Round, "seeker", res.Seeker, "block", res.Block,
		"rounds", res.Rounds, "validators", res.Validators)
	return res, nil
}

func (c *Consensus) deny(r *round) (*Result, error) {
	res := r.result
	res.Validators = ascend(r.validators)
	rec, err := c.log.Append(c.access(r, ledger.OutcomeDenied))
	if err != nil {
		return c.failed(res, fmt.Errorf("access log: %w", err))
	}
	res.Record = rec.Index
	res.Outcome = OutcomeDenied
	c.metrics.Decision(res.Outcome.String())
	c.logger.Warn("access denied", "round", res.Round, "seeker", res.Seeker, "block", res.Block,
		"rounds", res.Rounds, "validators", len(res.Validators), "quorum", res.Quorum)
	return res, fmt.Errorf("seeker %s on %s after %d rounds: %w", res.Seeker, res.Block, res.Rounds, common.ErrConsensusExhausted)
}

// fail ends an interrupted request; the seeker is left pending on the nodes
// that evaluated it.
func (c *Consensus) fail(r *round, err error) (*Result, error) {
	r.result.Validators = ascend(r.validators)
	for id := range r.pushed {
		node, _ := c.reg.Node(id)
		if node.IsActive(r.req.Seeker) {
			node.Requeue(r.req.Seeker)
		}
	}
	return c.failed(r.result, err)
}

func (c *Consensus) failed(res *Result, err error) (*Result, error) {
	res.Outcome = OutcomeFailed
	c.metrics.Decision(res.Outcome.String())
	c.logger.Error("access request failed", "round", res.Round, "seeker", res.Seeker, "block", res.Block, "err", err)
	return res, err
}

// release removes the seeker from the queues of every node it was pushed to.
func (c *Consensus) release(r *round) {
	for id := range r.pushed {
		node, _ := c.reg.Node(id)
		node.Release(r.req.Seeker)
	}
}

func (c *Consensus) access(r *round, outcome ledger.Outcome) ledger.Access {
	return ledger.Access{
		Round:      r.result.Round,
		Seeker:     r.req.Seeker,
		Block:      r.req.Block,
		Outcome:    outcome,
		Validators: r.result.Validators,
		Quorum:     r.quorum,
		Rounds:     r.result.Rounds,
	}
}

func ascend(t *btree.BTreeG[registry.NodeID]) []registry.NodeID {
	out := make([]registry.NodeID, 0, t.Len())
	t.Ascend(func(id registry.NodeID) bool {
		out = append(out, id)
		return true
	})
	return out
}

// collectVotes returns the votes with the given value ("both" for all),
// ordered by voter.
func collectVotes(m map[registry.NodeID]Vote, filter VoteValue) []Vote {
	out := []Vote{}
	for _, v := range m {
		if v.Value == filter || filter == "both" {
			out = append(out, v)
		}
	}
	slices.SortFunc(out, func(a, b Vote) int { return int(a.Voter) - int(b.Voter) })
	return out
}
