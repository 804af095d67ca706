package consensus

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"github.com/luca-patrignani/ztp-quorum/registry"
)

// ErrAbstained is the reason of a vote dropped by an UnreliableVoter.
var ErrAbstained = errors.New("node did not answer")

// Checker is the access check a node evaluates, policy.Contract in practice.
type Checker interface {
	CheckAccess(seeker registry.SeekerID, block registry.BlockID) (bool, error)
}

// ContractVoter makes every node answer with the access policy contract.
type ContractVoter struct {
	Checker Checker
}

func (v ContractVoter) Vote(ctx context.Context, _ *registry.Node, seeker registry.SeekerID, block registry.BlockID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return v.Checker.CheckAccess(seeker, block)
}

// UnreliableVoter wraps a Voter and drops each vote with probability
// FailureRate, as a node that is offline or slow would.
type UnreliableVoter struct {
	Inner       Voter
	FailureRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

func NewUnreliableVoter(inner Voter, failureRate float64, rng *rand.Rand) *UnreliableVoter {
	return &UnreliableVoter{Inner: inner, FailureRate: failureRate, rng: rng}
}

func (v *UnreliableVoter) Vote(ctx context.Context, node *registry.Node, seeker registry.SeekerID, block registry.BlockID) (bool, error) {
	v.mu.Lock()
	drop := v.rng.Float64() < v.FailureRate
	v.mu.Unlock()
	if drop {
		return false, ErrAbstained
	}
	return v.Inner.Vote(ctx, node, seeker, block)
}
