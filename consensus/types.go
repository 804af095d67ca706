package consensus

import (
	"fmt"
	"time"

	"github.com/luca-patrignani/ztp-quorum/common"
	"github.com/luca-patrignani/ztp-quorum/fragment"
	"github.com/luca-patrignani/ztp-quorum/registry"
)

// VoteValue represents the value of a vote (accept/reject)
type VoteValue string

const (
	VoteAccept VoteValue = "ACCEPT"
	VoteReject VoteValue = "REJECT"
)

// Vote is the answer of one node in one round.
type Vote struct {
	Voter  registry.NodeID `json:"voter"`
	Round  int             `json:"round"`
	Value  VoteValue       `json:"value"`
	Reason string          `json:"reason,omitempty"`
}

// Outcome is the terminal state of an access request.
type Outcome int

const (
	// OutcomeFailed is a protocol error: the request was interrupted or a
	// collaborator failed after quorum.
	OutcomeFailed Outcome = iota
	OutcomeGranted
	// OutcomeDenied means the round cap was hit; the seeker stays pending.
	OutcomeDenied
)

func (o Outcome) String() string {
	switch o {
	case OutcomeGranted:
		return "granted"
	case OutcomeDenied:
		return "denied"
	default:
		return "failed"
	}
}

// Config bounds an access request.
type Config struct {
	// MaxRounds is required: the protocol has no other termination bound.
	MaxRounds int `mapstructure:"maxRounds"`
	// VoteTimeout bounds a single vote, zero disables it.
	VoteTimeout time.Duration `mapstructure:"voteTimeout"`
	// RoundBackoff is the first wait between rounds, doubled up to
	// MaxRoundBackoff. Zero disables waiting.
	RoundBackoff    time.Duration `mapstructure:"roundBackoff"`
	MaxRoundBackoff time.Duration `mapstructure:"maxRoundBackoff"`
}

func (c Config) validate() error {
	if c.MaxRounds < 1 {
		return common.NewConfigError("maxRounds", "must be at least 1, got %d", c.MaxRounds)
	}
	if c.VoteTimeout < 0 {
		return common.NewConfigError("voteTimeout", "must not be negative, got %s", c.VoteTimeout)
	}
	if c.RoundBackoff < 0 || c.MaxRoundBackoff < 0 {
		return common.NewConfigError("roundBackoff", "must not be negative")
	}
	return nil
}

// Request asks access to Block for Seeker. An empty Cluster means every
// node of the registry.
type Request struct {
	Seeker  registry.SeekerID
	Block   registry.BlockID
	Cluster []registry.NodeID
}

// Result describes how a request ended. It is returned for every outcome.
type Result struct {
	Round   string
	Seeker  registry.SeekerID
	Block   registry.BlockID
	Outcome Outcome
	// Rounds is the number of rounds that were started.
	Rounds int
	Quorum int
	// Validators are the distinct nodes that accepted, in ascending order.
	Validators []registry.NodeID
	Votes      []Vote
	// Record is the index of the access log entry, zero when none was written.
	Record   int
	Delivery *fragment.Delivery
}

func (r *Result) String() string {
	return fmt.Sprintf("%s %s/%s after %d rounds (%d/%d validators)",
		r.Outcome, r.Seeker, r.Block, r.Rounds, len(r.Validators), r.Quorum)
}
