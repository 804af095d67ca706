package network

import (
	"context"
	"errors"
	"fmt"

	"github.com/luca-patrignani/ztp-quorum/registry"
)

//go:generate mockgen -package=networkmock -destination=networkmock/transport.go -mock_names=Transport=Transport . Transport

var (
	// ErrTimeout is returned when a node does not answer within the call timeout.
	ErrTimeout = errors.New("node call timed out")
	// ErrUnreachable is returned for nodes the transport has no route to.
	ErrUnreachable = errors.New("node unreachable")
	// ErrRefused is returned by a node that votes "no" on a prepare.
	ErrRefused = errors.New("node refused to prepare")
	// ErrNotPrepared is returned on commit when nothing was staged for the transaction.
	ErrNotPrepared = errors.New("transaction was not prepared")
)

// Kind is the type of payload carried by a two-phase message.
type Kind string

const (
	KindLeaderRole  Kind = "leader_role"
	KindKeyFragment Kind = "key_fragment"
	KindDataChunk   Kind = "data_chunk"
)

// Op names a node-side operation.
type Op string

const (
	OpPrepare  Op = "prepare"
	OpCommit   Op = "commit"
	OpRollback Op = "rollback"
	OpAnnounce Op = "announce"
	OpFetch    Op = "fetch"
)

// Message is the body of a prepare, commit or rollback call. Tx identifies
// the transaction, Item the piece being placed (empty for leader roles).
type Message struct {
	Tx      string           `json:"tx"`
	Kind    Kind             `json:"kind"`
	Block   registry.BlockID `json:"block,omitempty"`
	Item    string           `json:"item,omitempty"`
	Payload []byte           `json:"payload,omitempty"`
	Epoch   uint64           `json:"epoch,omitempty"`
}

// Announcement is the gossiped "current leader set" update.
type Announcement struct {
	Epoch   uint64            `json:"epoch"`
	Leaders []registry.NodeID `json:"leaders"`
}

// Transport reaches the nodes of the network. Every method may block and
// must honor the context.
type Transport interface {
	Prepare(ctx context.Context, node registry.NodeID, msg Message) error
	Commit(ctx context.Context, node registry.NodeID, msg Message) error
	Rollback(ctx context.Context, node registry.NodeID, msg Message) error
	Announce(ctx context.Context, node registry.NodeID, a Announcement) error
	Fetch(ctx context.Context, node registry.NodeID, block registry.BlockID, item string) ([]byte, error)
}

// CallError is the error returned by a failed node call.
type CallError struct {
	Node registry.NodeID
	Op   Op
	Err  error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s on node %d: %v", e.Op, e.Node, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}
