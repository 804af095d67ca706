package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/luca-patrignani/ztp-quorum/common"
	"github.com/luca-patrignani/ztp-quorum/config"
	"github.com/luca-patrignani/ztp-quorum/consensus"
	"github.com/luca-patrignani/ztp-quorum/ledger"
	"github.com/luca-patrignani/ztp-quorum/policy"
	"github.com/luca-patrignani/ztp-quorum/quorum"
	"github.com/luca-patrignani/ztp-quorum/registry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testConfig gives every node degree 3, so the leader set converges at once.
func testConfig() *config.Config {
	return &config.Config{
		Seed: 7,
		Network: config.NetworkConfig{
			TotalNodes:  10,
			MinDegree:   3,
			MaxDegree:   3,
			CallTimeout: time.Second,
		},
		Election: quorum.Config{InitialLeaderRatio: 0.5, ReputationThreshold: 0, TargetDegree: 3},
		Distribution: config.DistributionConfig{
			Redundancy:      3,
			ChunkSize:       16,
			KeyFragmentSize: 8,
			Parallelism:     4,
		},
		Consensus: consensus.Config{MaxRounds: 3, VoteTimeout: time.Second},
		Storage:   config.StorageConfig{Backend: "memory", CacheSize: 16},
	}
}

var record = []byte("radiology report 2291: no fractures detected, follow-up in six weeks")

func TestPublishAndRequest(t *testing.T) {
	for name, storageCfg := range map[string]config.StorageConfig{
		"memory":           {Backend: "memory"},
		"pebble in memory": {Backend: "pebble", CacheSize: 8},
		"pebble on disk":   {Backend: "pebble", Dir: t.TempDir(), CacheSize: 8},
	} {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Storage = storageCfg
			o, err := New(cfg)
			require.NoError(t, err)
			defer func() { require.NoError(t, o.Close()) }()
			ctx := context.Background()

			set, err := o.Elect(ctx)
			require.NoError(t, err)
			require.Equal(t, 10, set.Len())
			assert.Equal(t, set, o.Leaders())

			dist, err := o.Publish(ctx, "xray-2291", record, []registry.SeekerID{"5"}, policy.Policy{Name: "radiology"})
			require.NoError(t, err)
			require.NoError(t, dist.Err())

			res, err := o.Request(ctx, "5", "xray-2291")
			require.NoError(t, err)
			assert.Equal(t, consensus.OutcomeGranted, res.Outcome)
			require.NotNil(t, res.Delivery)
			assert.Equal(t, record, res.Delivery.Data)
			for _, n := range o.Registry.Nodes() {
				assert.False(t, n.IsActive("5"), "node %d", n.ID)
			}

			res, err = o.Request(ctx, "9", "xray-2291")
			require.ErrorIs(t, err, common.ErrConsensusExhausted)
			assert.Equal(t, consensus.OutcomeDenied, res.Outcome)
			assert.Nil(t, res.Delivery)

			recs := o.AccessLog.ByBlock("xray-2291")
			require.Len(t, recs, 2)
			assert.Equal(t, ledger.OutcomeGranted, recs[0].Access.Outcome)
			assert.Equal(t, ledger.OutcomeDenied, recs[1].Access.Outcome)
			require.NoError(t, o.AccessLog.Verify())
		})
	}
}

func TestAttributeHolderGranted(t *testing.T) {
	o, err := New(testConfig())
	require.NoError(t, err)
	defer o.Close()
	ctx := context.Background()
	_, err = o.Elect(ctx)
	require.NoError(t, err)

	p := policy.Policy{Name: "radiology", Require: map[string]string{"ward": "radiology"}}
	_, err = o.Publish(ctx, "xray-1", record, nil, p)
	require.NoError(t, err)
	o.Attributes.Grant("dr-rossi", policy.Attributes{"ward": "radiology"})

	res, err := o.Request(ctx, "dr-rossi", "xray-1")
	require.NoError(t, err)
	assert.Equal(t, record, res.Delivery.Data)
	// granted seekers take the approved-list fast path afterwards
	b, _ := o.Contract.Block("xray-1")
	assert.Contains(t, b.ApprovedSeekers, registry.SeekerID("dr-rossi"))
}

func TestSeparateDataLeaders(t *testing.T) {
	cfg := testConfig()
	cfg.Distribution.SeparateDataLeaders = true
	o, err := New(cfg)
	require.NoError(t, err)
	defer o.Close()
	ctx := context.Background()
	set, err := o.Elect(ctx)
	require.NoError(t, err)

	dist, err := o.Publish(ctx, "b", record, []registry.SeekerID{"5"}, policy.Policy{Name: "p"})
	require.NoError(t, err)
	keyPool := set.Members[:len(set.Members)/2]
	for _, f := range dist.Fragments {
		assert.Subset(t, keyPool, f.Placement)
	}
	for _, c := range dist.Chunks {
		for _, id := range c.Placement {
			assert.NotContains(t, keyPool, id)
		}
	}
}

func TestRejectedPublishLeavesNoBlock(t *testing.T) {
	cfg := testConfig()
	cfg.Distribution.SeparateDataLeaders = true
	cfg.Distribution.Redundancy = 6
	o, err := New(cfg)
	require.NoError(t, err)
	defer o.Close()
	ctx := context.Background()
	_, err = o.Elect(ctx)
	require.NoError(t, err)

	// 10 leaders split 5/5 cannot hold 6 copies
	_, err = o.Publish(ctx, "b", record, []registry.SeekerID{"5"}, policy.Policy{Name: "p"})
	require.True(t, common.IsConfigError(err), "%v", err)
	_, ok := o.Contract.Block("b")
	assert.False(t, ok)
	_, ok = o.Placement.Manifest("b")
	assert.False(t, ok)

	o.cfg.Distribution.Redundancy = 1
	dist, err := o.Publish(ctx, "b", record, []registry.SeekerID{"5"}, policy.Policy{Name: "p"})
	require.NoError(t, err)
	require.NoError(t, dist.Err())
	_, ok = o.Contract.Block("b")
	assert.True(t, ok)
}

func TestOperationsNeedLeaders(t *testing.T) {
	o, err := New(testConfig())
	require.NoError(t, err)
	defer o.Close()
	_, err = o.Publish(context.Background(), "b", record, nil, policy.Policy{Name: "p"})
	require.ErrorIs(t, err, ErrNoLeaders)
	_, err = o.Request(context.Background(), "5", "b")
	require.ErrorIs(t, err, ErrNoLeaders)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Consensus.MaxRounds = 0
	_, err := New(cfg)
	require.True(t, common.IsConfigError(err))
}
