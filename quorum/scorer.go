package quorum

import (
	"context"
	"math/rand"
	"sync"

	"github.com/luca-patrignani/ztp-quorum/registry"
)

// MaxReputation is the highest score the RandomScorer hands out.
const MaxReputation = 100

// Scorer runs one verification pass on a node and returns its new reputation.
type Scorer interface {
	Score(ctx context.Context, node *registry.Node) (int, error)
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(ctx context.Context, node *registry.Node) (int, error)

func (f ScorerFunc) Score(ctx context.Context, node *registry.Node) (int, error) {
	return f(ctx, node)
}

// RandomScorer simulates the verification pass: every node scores uniformly
// in [0, MaxReputation].
type RandomScorer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandomScorer(rng *rand.Rand) *RandomScorer {
	return &RandomScorer{rng: rng}
}

func (s *RandomScorer) Score(ctx context.Context, _ *registry.Node) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(MaxReputation + 1), nil
}
