package consensus

import (
	"context"

	"github.com/luca-patrignani/ztp-quorum/fragment"
	"github.com/luca-patrignani/ztp-quorum/ledger"
	"github.com/luca-patrignani/ztp-quorum/registry"
)

// Voter evaluates an access claim on behalf of one node.
//
// Vote must be safe for concurrent use: every sampled node of a round votes
// at the same time. A returned error counts as a REJECT and its message is
// kept as the vote reason. Implementations should return when ctx is done.
type Voter interface {
	Vote(ctx context.Context, node *registry.Node, seeker registry.SeekerID, block registry.BlockID) (bool, error)
}

// VoterFunc adapts a function to Voter.
type VoterFunc func(ctx context.Context, node *registry.Node, seeker registry.SeekerID, block registry.BlockID) (bool, error)

func (f VoterFunc) Vote(ctx context.Context, node *registry.Node, seeker registry.SeekerID, block registry.BlockID) (bool, error) {
	return f(ctx, node, seeker, block)
}

// Ledger è l'interfaccia per registrare le decisioni di accesso
//
// Append is called once per terminal outcome, granted or denied, and must
// reject granted entries below quorum.
type Ledger interface {
	Append(a ledger.Access) (ledger.Record, error)
}

// Accumulator rebuilds key and content of a block for a granted seeker.
type Accumulator interface {
	Accumulate(ctx context.Context, seeker registry.SeekerID, block registry.BlockID) (*fragment.Delivery, error)
}

// Approver remembers seekers that passed consensus, so that later checks
// take the approved-list fast path.
type Approver interface {
	Approve(block registry.BlockID, seeker registry.SeekerID) error
}
