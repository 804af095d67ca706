package consensus

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/luca-patrignani/ztp-quorum/common"
	"github.com/luca-patrignani/ztp-quorum/fragment"
	"github.com/luca-patrignani/ztp-quorum/ledger"
	"github.com/luca-patrignani/ztp-quorum/policy"
	"github.com/luca-patrignani/ztp-quorum/registry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCollectVotes(t *testing.T) {
	m := map[registry.NodeID]Vote{
		13: {Voter: 13, Value: VoteAccept},
		1:  {Voter: 1, Value: VoteAccept},
		12: {Voter: 12, Value: VoteReject},
	}
	accepts := collectVotes(m, VoteAccept)
	if len(accepts) != 2 {
		t.Fatalf("expected 2 accepts, got %d", len(accepts))
	}
	if accepts[0].Voter != 1 || accepts[1].Voter != 13 {
		t.Fatalf("expected accepts ordered by voter, got %v", accepts)
	}
	rejects := collectVotes(m, VoteReject)
	if len(rejects) != 1 {
		t.Fatalf("expected 1 reject, got %d", len(rejects))
	}
	if all := collectVotes(m, "both"); len(all) != 3 {
		t.Fatalf("expected 3 votes, got %d", len(all))
	}
}

func TestComputeQuorum(t *testing.T) {
	for n, want := range map[int]int{1: 1, 2: 1, 3: 2, 9: 5, 10: 5, 11: 6} {
		if got := computeQuorum(n); got != want {
			t.Fatalf("computeQuorum(%d) = %d, want %d", n, got, want)
		}
	}
}

type env struct {
	reg      *registry.Registry
	contract *policy.Contract
	log      *ledger.AccessLog
}

func newEnv(t *testing.T, n int) *env {
	t.Helper()
	reg, err := registry.New(n)
	require.NoError(t, err)
	contract := policy.NewContract(policy.NewAttributeStore())
	require.NoError(t, contract.AddBlock("blockX", []registry.SeekerID{"5"}, policy.Policy{Name: "doctors"}))
	return &env{reg: reg, contract: contract, log: ledger.NewAccessLog()}
}

func (e *env) consensus(t *testing.T, voter Voter, cfg Config, opts ...consensusOption) *Consensus {
	t.Helper()
	opts = append([]consensusOption{WithRand(rand.New(rand.NewSource(1)))}, opts...)
	c, err := New(e.reg, voter, e.log, cfg, opts...)
	require.NoError(t, err)
	return c
}

func (e *env) assertNotActive(t *testing.T, seeker registry.SeekerID) {
	t.Helper()
	for _, n := range e.reg.Nodes() {
		assert.False(t, n.IsActive(seeker), "node %d", n.ID)
		assert.False(t, n.IsActive(seeker) && n.IsPending(seeker), "node %d", n.ID)
	}
}

// refuseFirst rejects the first n votes and then asks the contract.
func refuseFirst(n int32, checker Checker) Voter {
	var calls atomic.Int32
	inner := ContractVoter{Checker: checker}
	return VoterFunc(func(ctx context.Context, node *registry.Node, s registry.SeekerID, b registry.BlockID) (bool, error) {
		if calls.Add(1) <= n {
			return false, nil
		}
		return inner.Vote(ctx, node, s, b)
	})
}

func TestApprovedSeekerGrantedAfterTwoRounds(t *testing.T) {
	e := newEnv(t, 10)
	c := e.consensus(t, refuseFirst(5, e.contract), Config{MaxRounds: 4})

	res, err := c.ValidateAccess(context.Background(), Request{Seeker: "5", Block: "blockX"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeGranted, res.Outcome)
	assert.Equal(t, 2, res.Rounds)
	assert.Equal(t, 5, res.Quorum)
	assert.Len(t, res.Validators, 5)
	assert.Len(t, res.Votes, 10)
	assert.NotEmpty(t, res.Round)
	e.assertNotActive(t, "5")
	for _, n := range e.reg.Nodes() {
		assert.False(t, n.IsPending("5"), "node %d", n.ID)
	}

	assert.Equal(t, uint64(5), e.contract.Agreements("blockX"))
	rec, err := e.log.GetByIndex(res.Record)
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeGranted, rec.Access.Outcome)
	assert.Equal(t, res.Validators, rec.Access.Validators)
	require.NoError(t, e.log.Verify())
}

// Only the first k nodes accept: the request is granted iff k reaches ⌈n/2⌉.
func TestGrantedIffQuorumAccepts(t *testing.T) {
	const n = 10
	for k := 0; k <= n; k++ {
		e := newEnv(t, n)
		voter := VoterFunc(func(_ context.Context, node *registry.Node, _ registry.SeekerID, _ registry.BlockID) (bool, error) {
			return int(node.ID) < k, nil
		})
		c := e.consensus(t, voter, Config{MaxRounds: 3})
		res, err := c.ValidateAccess(context.Background(), Request{Seeker: "s", Block: "blockX"})
		if k >= computeQuorum(n) {
			require.NoError(t, err, "k=%d", k)
			assert.Equal(t, OutcomeGranted, res.Outcome, "k=%d", k)
			assert.GreaterOrEqual(t, len(res.Validators), res.Quorum)
			continue
		}
		require.ErrorIs(t, err, common.ErrConsensusExhausted, "k=%d", k)
		assert.Equal(t, OutcomeDenied, res.Outcome)
		assert.Equal(t, 3, res.Rounds)
		assert.Len(t, res.Validators, k)
		e.assertNotActive(t, "s")
	}
}

func TestDeniedSeekerStaysPending(t *testing.T) {
	e := newEnv(t, 4)
	c := e.consensus(t, ContractVoter{Checker: e.contract}, Config{MaxRounds: 2})

	res, err := c.ValidateAccess(context.Background(), Request{Seeker: "9", Block: "blockX"})
	require.ErrorIs(t, err, common.ErrConsensusExhausted)
	assert.Equal(t, OutcomeDenied, res.Outcome)
	assert.Empty(t, res.Validators)
	// two rounds of two nodes, untried first, cover the whole cluster
	for _, n := range e.reg.Nodes() {
		assert.True(t, n.IsPending("9"), "node %d", n.ID)
		assert.False(t, n.IsActive("9"), "node %d", n.ID)
	}
	rec := e.log.GetLatest()
	assert.Equal(t, ledger.OutcomeDenied, rec.Access.Outcome)
	assert.Equal(t, 2, rec.Access.Rounds)
}

func TestClusterRestrictsVoters(t *testing.T) {
	e := newEnv(t, 10)
	var voted [10]atomic.Bool
	voter := VoterFunc(func(_ context.Context, node *registry.Node, _ registry.SeekerID, _ registry.BlockID) (bool, error) {
		voted[node.ID].Store(true)
		return true, nil
	})
	c := e.consensus(t, voter, Config{MaxRounds: 1})
	res, err := c.ValidateAccess(context.Background(), Request{Seeker: "5", Block: "blockX", Cluster: []registry.NodeID{2, 4, 4, 6}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Quorum)
	assert.Subset(t, []registry.NodeID{2, 4, 6}, res.Validators)
	for id := range voted {
		if id != 2 && id != 4 && id != 6 {
			assert.False(t, voted[id].Load(), "node %d voted", id)
		}
	}
}

func TestVoteTimeoutCountsAsReject(t *testing.T) {
	e := newEnv(t, 3)
	voter := VoterFunc(func(ctx context.Context, node *registry.Node, _ registry.SeekerID, _ registry.BlockID) (bool, error) {
		if node.ID == 0 {
			return true, nil
		}
		<-ctx.Done()
		return true, ctx.Err()
	})
	c := e.consensus(t, voter, Config{MaxRounds: 3, VoteTimeout: 10 * time.Millisecond})

	res, err := c.ValidateAccess(context.Background(), Request{Seeker: "5", Block: "blockX"})
	require.ErrorIs(t, err, common.ErrConsensusExhausted)
	assert.Equal(t, []registry.NodeID{0}, res.Validators)
	for _, v := range res.Votes {
		if v.Voter != 0 {
			assert.Equal(t, VoteReject, v.Value)
			assert.Contains(t, v.Reason, context.DeadlineExceeded.Error())
		}
	}
}

func TestCancelledRequestFails(t *testing.T) {
	e := newEnv(t, 6)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	c := e.consensus(t, ContractVoter{Checker: e.contract}, Config{MaxRounds: 10, RoundBackoff: time.Hour})

	res, err := c.ValidateAccess(ctx, Request{Seeker: "9", Block: "blockX"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, 1, res.Rounds)
	e.assertNotActive(t, "9")
	assert.Equal(t, 1, e.log.Len(), "only genesis")
}

func TestBackoffBetweenRounds(t *testing.T) {
	e := newEnv(t, 2)
	c := e.consensus(t, ContractVoter{Checker: e.contract}, Config{
		MaxRounds:       3,
		RoundBackoff:    5 * time.Millisecond,
		MaxRoundBackoff: 10 * time.Millisecond,
	})
	start := time.Now()
	_, err := c.ValidateAccess(context.Background(), Request{Seeker: "9", Block: "blockX"})
	require.ErrorIs(t, err, common.ErrConsensusExhausted)
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestInvalidConfigAndRequests(t *testing.T) {
	e := newEnv(t, 3)
	_, err := New(e.reg, ContractVoter{Checker: e.contract}, e.log, Config{})
	assert.True(t, common.IsConfigError(err), "%v", err)
	_, err = New(e.reg, ContractVoter{Checker: e.contract}, e.log, Config{MaxRounds: 1, VoteTimeout: -1})
	assert.True(t, common.IsConfigError(err), "%v", err)

	c := e.consensus(t, ContractVoter{Checker: e.contract}, Config{MaxRounds: 1})
	for name, req := range map[string]Request{
		"no seeker":    {Block: "blockX"},
		"no block":     {Seeker: "5"},
		"unknown node": {Seeker: "5", Block: "blockX", Cluster: []registry.NodeID{1, 42}},
	} {
		res, err := c.ValidateAccess(context.Background(), req)
		assert.True(t, common.IsConfigError(err), "%s: %v", name, err)
		assert.Equal(t, OutcomeFailed, res.Outcome, name)
	}
}

func TestUnknownBlockVotesReject(t *testing.T) {
	e := newEnv(t, 3)
	c := e.consensus(t, ContractVoter{Checker: e.contract}, Config{MaxRounds: 1})
	res, err := c.ValidateAccess(context.Background(), Request{Seeker: "5", Block: "missing"})
	require.ErrorIs(t, err, common.ErrConsensusExhausted)
	for _, v := range res.Votes {
		assert.Equal(t, VoteReject, v.Value)
		assert.Contains(t, v.Reason, policy.ErrUnknownBlock.Error())
	}
}

func TestUnreliableVoterAbstains(t *testing.T) {
	v := NewUnreliableVoter(VoterFunc(func(context.Context, *registry.Node, registry.SeekerID, registry.BlockID) (bool, error) {
		return true, nil
	}), 1, rand.New(rand.NewSource(1)))
	ok, err := v.Vote(context.Background(), registry.NewNode(0, 0), "5", "b")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrAbstained)

	v.FailureRate = 0
	ok, err = v.Vote(context.Background(), registry.NewNode(0, 0), "5", "b")
	assert.True(t, ok)
	assert.NoError(t, err)
}

type stubAccumulator struct {
	delivery *fragment.Delivery
	err      error
}

func (s stubAccumulator) Accumulate(context.Context, registry.SeekerID, registry.BlockID) (*fragment.Delivery, error) {
	return s.delivery, s.err
}

func TestGrantDeliversAndApproves(t *testing.T) {
	e := newEnv(t, 4)
	voter := VoterFunc(func(context.Context, *registry.Node, registry.SeekerID, registry.BlockID) (bool, error) {
		return true, nil
	})
	d := &fragment.Delivery{Block: "blockX", Seeker: "7", Data: []byte("ok")}
	c := e.consensus(t, voter, Config{MaxRounds: 1}, WithAccumulator(stubAccumulator{delivery: d}), WithApprover(e.contract))

	res, err := c.ValidateAccess(context.Background(), Request{Seeker: "7", Block: "blockX"})
	require.NoError(t, err)
	assert.Same(t, d, res.Delivery)
	assert.True(t, e.contract.Authorized("7", "blockX"))
}

func TestAccumulationFailureIsProtocolError(t *testing.T) {
	e := newEnv(t, 4)
	broken := errors.New("holders unreachable")
	c := e.consensus(t, ContractVoter{Checker: e.contract}, Config{MaxRounds: 1},
		WithAccumulator(stubAccumulator{err: broken}), WithApprover(e.contract))

	res, err := c.ValidateAccess(context.Background(), Request{Seeker: "5", Block: "blockX"})
	require.ErrorIs(t, err, broken)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Len(t, res.Validators, 2)
	assert.Equal(t, 1, e.log.Len())
	for _, n := range e.reg.Nodes() {
		assert.False(t, n.IsActive("5") || n.IsPending("5"), "node %d", n.ID)
	}
}
