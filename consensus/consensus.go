package consensus

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/luca-patrignani/ztp-quorum/metrics"
	"github.com/luca-patrignani/ztp-quorum/registry"
)

// Consensus runs access requests over the nodes of a registry.
type Consensus struct {
	reg         *registry.Registry
	voter       Voter
	log         Ledger
	cfg         Config
	accumulator Accumulator
	approver    Approver
	logger      *slog.Logger
	metrics     *metrics.Metrics

	mu  sync.Mutex
	rng *rand.Rand
}

type consensusOption func(*Consensus)

func WithRand(rng *rand.Rand) consensusOption {
	return func(c *Consensus) { c.rng = rng }
}

// WithAccumulator makes granted requests rebuild the block for the seeker.
func WithAccumulator(a Accumulator) consensusOption {
	return func(c *Consensus) { c.accumulator = a }
}

// WithApprover records granted seekers in the approved list of the block.
func WithApprover(a Approver) consensusOption {
	return func(c *Consensus) { c.approver = a }
}

func WithLogger(l *slog.Logger) consensusOption {
	return func(c *Consensus) { c.logger = l }
}

func WithMetrics(m *metrics.Metrics) consensusOption {
	return func(c *Consensus) { c.metrics = m }
}

// New validates cfg and returns a Consensus recording outcomes in log.
func New(reg *registry.Registry, voter Voter, log Ledger, cfg Config, opts ...consensusOption) (*Consensus, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	c := &Consensus{
		reg:    reg,
		voter:  voter,
		log:    log,
		cfg:    cfg,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return c, nil
}

// computeQuorum returns ⌈n/2⌉.
func computeQuorum(n int) int {
	return (n + 1) / 2
}

func (c *Consensus) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RoundBackoff
	if c.cfg.MaxRoundBackoff > 0 {
		b.MaxInterval = c.cfg.MaxRoundBackoff
	}
	b.Reset()
	return b
}
