package quorum

import (
	"fmt"
	"slices"

	"github.com/luca-patrignani/ztp-quorum/common"
	"github.com/luca-patrignani/ztp-quorum/registry"
)

// Config holds the parameters of one election.
type Config struct {
	// InitialLeaderRatio is the fraction of nodes drawn by every random
	// sample, in (0, 1].
	InitialLeaderRatio float64 `mapstructure:"initialLeaderRatio"`
	// ReputationThreshold is the minimum reputation of a leader.
	ReputationThreshold int `mapstructure:"reputationThreshold"`
	// TargetDegree is the average degree the leader set converges to.
	TargetDegree int `mapstructure:"targetDegree"`
	// MaxIterations caps the convergence loop. Zero means twice the number of nodes.
	MaxIterations int `mapstructure:"maxIterations"`
}

func (c Config) validate() error {
	if c.InitialLeaderRatio <= 0 || c.InitialLeaderRatio > 1 {
		return common.NewConfigError("initialLeaderRatio", "must be in (0, 1], got %v", c.InitialLeaderRatio)
	}
	if c.TargetDegree < 0 {
		return common.NewConfigError("targetDegree", "must not be negative, got %d", c.TargetDegree)
	}
	if c.MaxIterations < 0 {
		return common.NewConfigError("maxIterations", "must not be negative, got %d", c.MaxIterations)
	}
	return nil
}

// Stage is the last step an election went through.
type Stage string

const (
	StageCandidates Stage = "candidates"
	StageQualified  Stage = "qualified"
	StageConverged  Stage = "converged"
	StageCommitted  Stage = "committed"
	StageSynced     Stage = "synced"
)

// LeaderSet is the result of an election. It is never modified after
// ElectLeaders returns.
type LeaderSet struct {
	Epoch uint64
	// Members are the leaders that accepted the role, in election order.
	Members []registry.NodeID
	// Candidates is the initial random sample.
	Candidates []registry.NodeID
	// Qualified are the nodes above the reputation threshold, best first.
	Qualified []registry.NodeID
	// Converged is the leader list when the degree loop stopped. It may
	// contain duplicates.
	Converged []registry.NodeID
	// Dropped maps every leader that failed prepare or commit to its error.
	Dropped    map[registry.NodeID]error
	Iterations int
	AvgDegree  float64
	Stage      Stage
}

func (s *LeaderSet) Contains(id registry.NodeID) bool {
	return slices.Contains(s.Members, id)
}

// Len returns the number of committed leaders.
func (s *LeaderSet) Len() int {
	return len(s.Members)
}

// ConvergenceError is returned when the degree loop hits its iteration cap.
type ConvergenceError struct {
	Iterations int
	AvgDegree  float64
	Target     int
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("%v: average degree %.2f, target %d after %d iterations",
		common.ErrConvergence, e.AvgDegree, e.Target, e.Iterations)
}

func (e *ConvergenceError) Is(target error) bool {
	return target == common.ErrConvergence
}
