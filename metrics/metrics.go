package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ztp"

// Metrics collects the counters of the quorum layer. A nil *Metrics is
// valid and records nothing, so components can be built without a registry.
type Metrics struct {
	elections          *prometheus.CounterVec
	electionIterations prometheus.Histogram
	leaders            prometheus.Gauge
	gossip             *prometheus.CounterVec
	rounds             prometheus.Counter
	votes              *prometheus.CounterVec
	decisions          *prometheus.CounterVec
	commits            *prometheus.CounterVec
	agreements         prometheus.Counter
}

// New creates the metrics and registers them on registerer.
func New(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		elections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "elections_total",
			Help:      "Number of leader elections by result",
		}, []string{"result"}),
		electionIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "election_iterations",
			Help:      "Iterations of the degree convergence loop per election",
			Buckets:   prometheus.LinearBuckets(0, 2, 10),
		}),
		leaders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "leaders",
			Help:      "Size of the last committed leader set",
		}),
		gossip: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gossip_total",
			Help:      "Leader set announcements by delivery result",
		}, []string{"result"}),
		rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consensus_rounds_total",
			Help:      "Number of access consensus rounds",
		}),
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_total",
			Help:      "Access votes by value",
		}, []string{"value"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_decisions_total",
			Help:      "Access requests by outcome",
		}, []string{"outcome"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commit_decisions_total",
			Help:      "Two-phase commit decisions by kind of payload",
		}, []string{"kind", "decision"}),
		agreements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_agreements_total",
			Help:      "Affirmative access checks over all blocks",
		}),
	}

	err := errors.Join(
		registerer.Register(m.elections),
		registerer.Register(m.electionIterations),
		registerer.Register(m.leaders),
		registerer.Register(m.gossip),
		registerer.Register(m.rounds),
		registerer.Register(m.votes),
		registerer.Register(m.decisions),
		registerer.Register(m.commits),
		registerer.Register(m.agreements),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) Election(result string, iterations int, leaders int) {
	if m == nil {
		return
	}
	m.elections.WithLabelValues(result).Inc()
	m.electionIterations.Observe(float64(iterations))
	if result == "ok" {
		m.leaders.Set(float64(leaders))
	}
}

func (m *Metrics) Gossip(delivered bool) {
	if m == nil {
		return
	}
	m.gossip.WithLabelValues(outcomeLabel(delivered, "delivered", "failed")).Inc()
}

func (m *Metrics) Round() {
	if m == nil {
		return
	}
	m.rounds.Inc()
}

func (m *Metrics) Vote(valid bool) {
	if m == nil {
		return
	}
	m.votes.WithLabelValues(outcomeLabel(valid, "valid", "invalid")).Inc()
}

func (m *Metrics) Decision(outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Commit(kind string, decision string) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(kind, decision).Inc()
}

// Agreement counts one affirmative access check. Per-block counts live in
// the contract.
func (m *Metrics) Agreement() {
	if m == nil {
		return
	}
	m.agreements.Inc()
}

func outcomeLabel(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
