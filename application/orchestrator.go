package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"github.com/luca-patrignani/ztp-quorum/config"
	"github.com/luca-patrignani/ztp-quorum/consensus"
	"github.com/luca-patrignani/ztp-quorum/crypt"
	"github.com/luca-patrignani/ztp-quorum/fragment"
	"github.com/luca-patrignani/ztp-quorum/ledger"
	"github.com/luca-patrignani/ztp-quorum/metrics"
	"github.com/luca-patrignani/ztp-quorum/network"
	"github.com/luca-patrignani/ztp-quorum/policy"
	"github.com/luca-patrignani/ztp-quorum/quorum"
	"github.com/luca-patrignani/ztp-quorum/registry"
	"github.com/luca-patrignani/ztp-quorum/reputation"
	"github.com/luca-patrignani/ztp-quorum/storage"
)

// ErrNoLeaders is returned by operations that need an elected leader set.
var ErrNoLeaders = errors.New("no leader set elected")

// Orchestrator wires the components of a simulated network: the elector
// picks the leaders, the distributor places blocks on them and the access
// consensus runs over them.
type Orchestrator struct {
	Registry    *registry.Registry
	Endpoints   []*network.Endpoint
	Transport   *network.Local
	Attributes  *policy.AttributeStore
	Contract    *policy.Contract
	Authority   *crypt.Authority
	Placement   *ledger.Placement
	AccessLog   *ledger.AccessLog
	Elector     *quorum.Elector
	Distributor *fragment.Distributor
	Accumulator *fragment.Accumulator
	Consensus   *consensus.Consensus

	cfg         config.Config
	logger      *slog.Logger
	metrics     *metrics.Metrics
	failureRate float64
	stores      []storage.Store

	mu      sync.Mutex
	leaders *quorum.LeaderSet
}

type orchestratorOption func(*Orchestrator)

func WithLogger(l *slog.Logger) orchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

func WithMetrics(m *metrics.Metrics) orchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithFailureRate makes every vote get lost with probability p.
func WithFailureRate(p float64) orchestratorOption {
	return func(o *Orchestrator) { o.failureRate = p }
}

// New builds the network described by cfg. Close releases the node stores.
func New(cfg *config.Config, opts ...orchestratorOption) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{cfg: *cfg, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(o)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	// one source per component, so that their draws do not interleave
	rng := rand.New(rand.NewSource(seed))
	source := func() *rand.Rand { return rand.New(rand.NewSource(rng.Int63())) }

	reg, err := registry.New(cfg.Network.TotalNodes,
		registry.WithRandomDegrees(source(), cfg.Network.MinDegree, cfg.Network.MaxDegree))
	if err != nil {
		return nil, err
	}
	o.Registry = reg

	for _, n := range reg.Nodes() {
		store, err := o.openStore(n.ID)
		if err != nil {
			o.Close()
			return nil, err
		}
		o.stores = append(o.stores, store)
		o.Endpoints = append(o.Endpoints, network.NewEndpoint(n, store, network.WithEndpointLogger(o.logger)))
	}
	o.Transport = network.NewLocal(o.Endpoints,
		network.WithTimeout(cfg.Network.CallTimeout), network.WithLogger(o.logger))

	o.Attributes = policy.NewAttributeStore()
	o.Contract = policy.NewContract(o.Attributes, policy.WithLogger(o.logger), policy.WithMetrics(o.metrics))
	o.Authority = crypt.NewAuthority(o.Contract)
	o.Placement = ledger.NewPlacement()
	o.AccessLog = ledger.NewAccessLog()

	o.Elector = quorum.NewElector(reg, reputation.New(), o.Transport,
		quorum.WithScorer(quorum.NewRandomScorer(source())),
		quorum.WithRand(source()),
		quorum.WithLogger(o.logger),
		quorum.WithMetrics(o.metrics))
	o.Distributor = fragment.NewDistributor(o.Transport, o.Authority, crypt.Symmetric{}, o.Placement,
		fragment.WithRand(source()),
		fragment.WithParallelism(cfg.Distribution.Parallelism),
		fragment.WithLogger(o.logger),
		fragment.WithMetrics(o.metrics))
	o.Accumulator = fragment.NewAccumulator(o.Transport, o.Placement, o.Authority, crypt.Symmetric{}, o.logger)

	var voter consensus.Voter = consensus.ContractVoter{Checker: o.Contract}
	if o.failureRate > 0 {
		voter = consensus.NewUnreliableVoter(voter, o.failureRate, source())
	}
	o.Consensus, err = consensus.New(reg, voter, o.AccessLog, cfg.Consensus,
		consensus.WithRand(source()),
		consensus.WithAccumulator(o.Accumulator),
		consensus.WithApprover(o.Contract),
		consensus.WithLogger(o.logger),
		consensus.WithMetrics(o.metrics))
	if err != nil {
		o.Close()
		return nil, err
	}
	return o, nil
}

func (o *Orchestrator) openStore(id registry.NodeID) (storage.Store, error) {
	if o.cfg.Storage.Backend != "pebble" {
		return storage.NewMemory(), nil
	}
	path := fmt.Sprintf("node-%d", id)
	cache := storage.WithCacheSize(o.cfg.Storage.CacheSize)
	logger := storage.WithLogger(o.logger.With("node", id))
	if o.cfg.Storage.Dir == "" {
		return storage.OpenPebble(path, storage.InMemory(), cache, logger)
	}
	return storage.OpenPebble(filepath.Join(o.cfg.Storage.Dir, path), cache, logger)
}

// Elect runs one election and makes its leaders the current ones.
func (o *Orchestrator) Elect(ctx context.Context) (*quorum.LeaderSet, error) {
	set, err := o.Elector.ElectLeaders(ctx, o.cfg.Election)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.leaders = set
	o.mu.Unlock()
	return set, nil
}

// Leaders returns the current leader set, nil before the first election.
func (o *Orchestrator) Leaders() *quorum.LeaderSet {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.leaders
}

// Publish registers a block in the contract and distributes it on the
// current leaders.
func (o *Orchestrator) Publish(ctx context.Context, block registry.BlockID, content []byte, approved []registry.SeekerID, p policy.Policy) (*fragment.Distribution, error) {
	set := o.Leaders()
	if set == nil {
		return nil, ErrNoLeaders
	}
	req := fragment.Request{
		Block:      block,
		Content:    content,
		Shape:      fragment.Shape{Size: o.cfg.Distribution.KeyFragmentSize},
		ChunkSize:  o.cfg.Distribution.ChunkSize,
		Redundancy: o.cfg.Distribution.Redundancy,
		Policy:     p.Name,
		Leaders:    set.Members,
	}
	if o.cfg.Distribution.SeparateDataLeaders {
		half := len(set.Members) / 2
		req.Leaders, req.DataLeaders = set.Members[:half], set.Members[half:]
	}
	// the block is registered only once the request is known to be placeable
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := o.Contract.AddBlock(block, approved, p, policy.WithContent(content)); err != nil {
		return nil, err
	}
	return o.Distributor.Distribute(ctx, req)
}

// Request runs the access consensus for seeker over the current leaders.
func (o *Orchestrator) Request(ctx context.Context, seeker registry.SeekerID, block registry.BlockID) (*consensus.Result, error) {
	set := o.Leaders()
	if set == nil {
		return nil, ErrNoLeaders
	}
	return o.Consensus.ValidateAccess(ctx, consensus.Request{Seeker: seeker, Block: block, Cluster: set.Members})
}

// Close closes every node store.
func (o *Orchestrator) Close() error {
	var errs []error
	for _, s := range o.stores {
		errs = append(errs, s.Close())
	}
	o.stores = nil
	return errors.Join(errs...)
}
