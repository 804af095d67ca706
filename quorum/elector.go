package quorum

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/luca-patrignani/ztp-quorum/commit"
	"github.com/luca-patrignani/ztp-quorum/common"
	"github.com/luca-patrignani/ztp-quorum/metrics"
	"github.com/luca-patrignani/ztp-quorum/network"
	"github.com/luca-patrignani/ztp-quorum/registry"
	"github.com/luca-patrignani/ztp-quorum/reputation"
)

// Elector elects the leader set of the network. Elections are serialized:
// each one gets the next epoch and runs to completion before the next starts.
type Elector struct {
	reg       *registry.Registry
	ledger    *reputation.Ledger
	transport network.Transport
	coord     *commit.Coordinator
	scorer    Scorer
	rng       *rand.Rand
	log       *slog.Logger
	metrics   *metrics.Metrics

	mu      sync.Mutex
	epoch   uint64
	current *LeaderSet
}

type electorOption func(*Elector)

func WithScorer(s Scorer) electorOption {
	return func(e *Elector) { e.scorer = s }
}

// WithRand sets the random source used for sampling.
func WithRand(rng *rand.Rand) electorOption {
	return func(e *Elector) { e.rng = rng }
}

func WithLogger(l *slog.Logger) electorOption {
	return func(e *Elector) { e.log = l }
}

func WithMetrics(m *metrics.Metrics) electorOption {
	return func(e *Elector) { e.metrics = m }
}

func NewElector(reg *registry.Registry, ledger *reputation.Ledger, transport network.Transport, opts ...electorOption) *Elector {
	e := &Elector{
		reg:       reg,
		ledger:    ledger,
		transport: transport,
		log:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if e.scorer == nil {
		e.scorer = NewRandomScorer(rand.New(rand.NewSource(e.rng.Int63())))
	}
	e.coord = commit.NewCoordinator(transport, commit.WithLogger(e.log), commit.WithMetrics(e.metrics))
	return e
}

// Current returns the last committed leader set, or nil.
func (e *Elector) Current() *LeaderSet {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// ElectLeaders runs a full election: scoring, threshold filter, degree
// convergence, two-phase finalize and gossip of the result to every node.
// Failures are returned to the caller and never retried.
func (e *Elector) ElectLeaders(ctx context.Context, cfg Config) (*LeaderSet, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.epoch++
	set := &LeaderSet{Epoch: e.epoch, Dropped: make(map[registry.NodeID]error)}
	log := e.log.With("epoch", set.Epoch)
	ids := e.reg.IDs()
	sampleSize := max(1, int(cfg.InitialLeaderRatio*float64(len(ids))))
	maxIterations := cfg.MaxIterations
	if maxIterations == 0 {
		maxIterations = 2 * len(ids)
	}

	set.Candidates = registry.Sample(e.rng, ids, sampleSize)
	set.Stage = StageCandidates
	log.Debug("candidates drawn", "candidates", set.Candidates)

	if err := e.score(ctx, log); err != nil {
		e.metrics.Election("error", 0, 0)
		return nil, err
	}

	set.Qualified = e.ledger.AtLeast(cfg.ReputationThreshold)
	if len(set.Qualified) == 0 {
		e.metrics.Election("no_leaders", 0, 0)
		return nil, fmt.Errorf("epoch %d, threshold %d: %w", set.Epoch, cfg.ReputationThreshold, common.ErrNoQualifyingLeaders)
	}
	set.Stage = StageQualified
	log.Info("leaders above threshold", "threshold", cfg.ReputationThreshold, "count", len(set.Qualified))

	converged, iterations, err := e.converge(ids, set.Qualified, sampleSize, cfg.TargetDegree, maxIterations)
	set.Iterations = iterations
	if err != nil {
		e.metrics.Election("no_convergence", iterations, 0)
		return nil, err
	}
	set.Converged = converged
	set.Stage = StageConverged
	log.Info("degree converged", "iterations", iterations, "leaders", len(converged))

	if err := e.finalize(ctx, set); err != nil {
		e.metrics.Election("quorum_empty", iterations, 0)
		return nil, err
	}
	set.Stage = StageCommitted
	set.AvgDegree = e.meanDegree(set.Members)

	e.gossip(ctx, set)
	set.Stage = StageSynced
	e.current = set
	e.metrics.Election("ok", iterations, len(set.Members))
	log.Info("leader set synced", "leaders", set.Members, "avg_degree", set.AvgDegree)
	return set, nil
}

// score resets every reputation to zero and runs one scoring pass per node.
func (e *Elector) score(ctx context.Context, log *slog.Logger) error {
	e.ledger.Reset()
	nodes := e.reg.Nodes()
	for _, n := range nodes {
		n.SetReputation(0)
		e.ledger.Upsert(n.ID, 0)
	}
	for _, n := range nodes {
		if err := ctx.Err(); err != nil {
			return err
		}
		rep, err := e.scorer.Score(ctx, n)
		if err != nil {
			log.Warn("scoring failed, reputation stays at zero", "node", n.ID, "err", err)
			continue
		}
		n.SetReputation(rep)
		e.ledger.Upsert(n.ID, rep)
	}
	return nil
}

// converge grows or halves the leader list until its average degree equals
// target. Averages are compared as sum == target*len to stay exact.
func (e *Elector) converge(ids, qualified []registry.NodeID, sampleSize, target, maxIterations int) ([]registry.NodeID, int, error) {
	leaders := append([]registry.NodeID(nil), qualified...)
	for it := 0; ; it++ {
		sum := e.degreeSum(leaders)
		if len(leaders) == 0 {
			if target == 0 {
				return leaders, it, nil
			}
		} else if sum == target*len(leaders) {
			return leaders, it, nil
		}
		if it >= maxIterations {
			avg := 0.0
			if len(leaders) > 0 {
				avg = float64(sum) / float64(len(leaders))
			}
			return nil, it, &ConvergenceError{Iterations: it, AvgDegree: avg, Target: target}
		}
		if sum < target*len(leaders) || len(leaders) == 0 {
			leaders = append(leaders, registry.Sample(e.rng, ids, sampleSize)...)
		} else {
			leaders = leaders[:len(leaders)/2]
		}
	}
}

func (e *Elector) degreeSum(ids []registry.NodeID) int {
	sum := 0
	for _, id := range ids {
		if n, ok := e.reg.Node(id); ok {
			sum += n.Degree()
		}
	}
	return sum
}

func (e *Elector) meanDegree(ids []registry.NodeID) float64 {
	if len(ids) == 0 {
		return 0
	}
	degrees := make([]float64, 0, len(ids))
	for _, id := range ids {
		if n, ok := e.reg.Node(id); ok {
			degrees = append(degrees, float64(n.Degree()))
		}
	}
	return stat.Mean(degrees, nil)
}

// finalize asks every distinct leader to take the role. Leaders failing
// prepare or commit are dropped.
func (e *Elector) finalize(ctx context.Context, set *LeaderSet) error {
	members := registry.Distinct(set.Converged)
	msg := network.Message{
		Tx:    fmt.Sprintf("election-%d", set.Epoch),
		Kind:  network.KindLeaderRole,
		Epoch: set.Epoch,
	}

	prepared := e.coord.Phase(ctx, network.OpPrepare, members, msg)
	ready := commit.Accepted(members, prepared)
	for _, id := range members {
		if err := prepared[id]; err != nil {
			set.Dropped[id] = err
		}
	}
	if len(ready) == 0 {
		return fmt.Errorf("epoch %d, %d leaders failed prepare: %w", set.Epoch, len(members), common.ErrQuorumEmpty)
	}

	committed := e.coord.Phase(ctx, network.OpCommit, ready, msg)
	set.Members = commit.Accepted(ready, committed)
	for _, id := range ready {
		if err := committed[id]; err != nil {
			set.Dropped[id] = err
		}
	}
	if len(set.Members) == 0 {
		return fmt.Errorf("epoch %d, %d leaders failed commit: %w", set.Epoch, len(ready), common.ErrQuorumEmpty)
	}

	for _, n := range e.reg.Nodes() {
		if !set.Contains(n.ID) {
			n.SetLeader(false)
		}
	}
	return nil
}

// gossip announces the committed set to every node. Delivery failures are
// logged and counted, never retried.
func (e *Elector) gossip(ctx context.Context, set *LeaderSet) {
	ids := e.reg.IDs()
	a := network.Announcement{Epoch: set.Epoch, Leaders: set.Members}
	common.FanOut(ctx, len(ids), len(ids), func(ctx context.Context, i int) {
		err := e.transport.Announce(ctx, ids[i], a)
		e.metrics.Gossip(err == nil)
		if err != nil {
			e.log.Warn("leader set announcement lost", "node", ids[i], "epoch", set.Epoch, "err", err)
		}
	})
}
