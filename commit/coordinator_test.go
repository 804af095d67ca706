package commit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"

	"github.com/luca-patrignani/ztp-quorum/network"
	"github.com/luca-patrignani/ztp-quorum/network/networkmock"
	"github.com/luca-patrignani/ztp-quorum/registry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var chunk = network.Message{Tx: "tx-1", Kind: network.KindDataChunk, Block: "b", Item: "b/d/0001", Payload: []byte("c")}

func TestRunCommitsWhenAllPrepare(t *testing.T) {
	ctrl := gomock.NewController(t)
	transport := networkmock.NewTransport(ctrl)
	nodes := []registry.NodeID{1, 2, 3}
	for _, id := range nodes {
		transport.EXPECT().Prepare(gomock.Any(), id, chunk).Return(nil)
		transport.EXPECT().Commit(gomock.Any(), id, chunk).Return(nil)
	}

	out := NewCoordinator(transport).Run(context.Background(), nodes, chunk)
	require.Equal(t, Commit, out.Decision)
	require.Equal(t, nodes, out.Holders)
	for _, id := range nodes {
		require.NoError(t, out.Prepared[id])
		require.NoError(t, out.Delivered[id])
	}
}

func TestRunRollsBackEveryNodeOnTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	transport := networkmock.NewTransport(ctrl)
	nodes := []registry.NodeID{4, 7, 9}
	timeout := &network.CallError{Node: 9, Op: network.OpPrepare, Err: network.ErrTimeout}

	transport.EXPECT().Prepare(gomock.Any(), registry.NodeID(4), chunk).Return(nil)
	transport.EXPECT().Prepare(gomock.Any(), registry.NodeID(7), chunk).Return(nil)
	transport.EXPECT().Prepare(gomock.Any(), registry.NodeID(9), chunk).Return(timeout)
	for _, id := range nodes {
		transport.EXPECT().Rollback(gomock.Any(), id, chunk).Return(nil)
	}
	transport.EXPECT().Commit(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	out := NewCoordinator(transport).Run(context.Background(), nodes, chunk)
	require.Equal(t, Rollback, out.Decision)
	require.Empty(t, out.Holders)
	require.ErrorIs(t, out.Prepared[9], network.ErrTimeout)
}

func TestRunRecordsCommitDeliveryFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	transport := networkmock.NewTransport(ctrl)
	nodes := []registry.NodeID{1, 2}
	lost := errors.New("connection reset")

	transport.EXPECT().Prepare(gomock.Any(), gomock.Any(), chunk).Return(nil).Times(2)
	transport.EXPECT().Commit(gomock.Any(), registry.NodeID(1), chunk).Return(nil)
	transport.EXPECT().Commit(gomock.Any(), registry.NodeID(2), chunk).Return(lost)

	out := NewCoordinator(transport).Run(context.Background(), nodes, chunk)
	require.Equal(t, Commit, out.Decision)
	require.Equal(t, []registry.NodeID{1}, out.Holders)
	require.ErrorIs(t, out.Delivered[2], lost)
}

func TestRunWithoutNodesRollsBack(t *testing.T) {
	ctrl := gomock.NewController(t)
	out := NewCoordinator(networkmock.NewTransport(ctrl)).Run(context.Background(), nil, chunk)
	assert.Equal(t, Rollback, out.Decision)
}

// Two nodes acknowledge, the third times out: nothing may remain staged or
// stored anywhere.
func TestRunAtomicityOverLocalTransport(t *testing.T) {
	reg, err := registry.New(3)
	require.NoError(t, err)
	endpoints := network.CreateEndpoints(reg)
	transport := network.NewLocal(endpoints, network.WithTimeout(30*time.Millisecond))
	endpoints[2].Inject(network.OpPrepare, network.Fault{Delay: time.Second})

	out := NewCoordinator(transport).Run(context.Background(), reg.IDs(), chunk)
	require.Equal(t, Rollback, out.Decision)
	require.ErrorIs(t, out.Prepared[2], network.ErrTimeout)
	for _, e := range endpoints {
		assert.Zero(t, e.Staged())
		assert.Empty(t, e.Node().Holdings("b"))
		_, err := e.Store().Get(chunk.Item)
		assert.Error(t, err)
	}
}

func TestPhaseWaitsForEveryNode(t *testing.T) {
	reg, err := registry.New(4)
	require.NoError(t, err)
	endpoints := network.CreateEndpoints(reg)
	endpoints[1].Inject(network.OpPrepare, network.Fault{Delay: 20 * time.Millisecond})
	endpoints[3].Inject(network.OpPrepare, network.Fault{Err: network.ErrRefused})
	transport := network.NewLocal(endpoints)

	res := NewCoordinator(transport).Phase(context.Background(), network.OpPrepare, reg.IDs(), chunk)
	require.Len(t, res, 4)
	assert.Equal(t, []registry.NodeID{0, 1, 2}, Accepted(reg.IDs(), res))
	assert.ErrorIs(t, res[3], network.ErrRefused)
}

func TestPhaseRejectsUnknownOp(t *testing.T) {
	ctrl := gomock.NewController(t)
	res := NewCoordinator(networkmock.NewTransport(ctrl)).Phase(context.Background(), network.OpFetch, []registry.NodeID{1}, chunk)
	assert.ErrorIs(t, res[1], errUnsupportedOp)
}
