package fragment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/luca-patrignani/ztp-quorum/common"
	"github.com/luca-patrignani/ztp-quorum/ledger"
	"github.com/luca-patrignani/ztp-quorum/network"
	"github.com/luca-patrignani/ztp-quorum/registry"
)

var (
	ErrUnknownBlock = errors.New("block was never distributed")
	ErrMissingPiece = errors.New("piece has no holder")
	ErrNoMajority   = errors.New("holders do not agree on the piece")
)

// Opener releases a sealed key fragment to an authorized seeker.
type Opener interface {
	Open(seeker registry.SeekerID, block registry.BlockID, policy string, ciphertext []byte) ([]byte, error)
}

// Delivery is what a granted seeker receives: the block key and the block.
type Delivery struct {
	Block  registry.BlockID
	Seeker registry.SeekerID
	Key    []byte
	Data   []byte
}

// Accumulator collects the pieces of a block from their holders, checks
// that the holders agree on each of them and reassembles key and data.
type Accumulator struct {
	transport network.Transport
	placement *ledger.Placement
	opener    Opener
	cipher    Cipher
	log       *slog.Logger
}

func NewAccumulator(t network.Transport, placement *ledger.Placement, opener Opener, cipher Cipher, log *slog.Logger) *Accumulator {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Accumulator{transport: t, placement: placement, opener: opener, cipher: cipher, log: log}
}

// Accumulate reassembles the key and the content of block for seeker.
func (a *Accumulator) Accumulate(ctx context.Context, seeker registry.SeekerID, block registry.BlockID) (*Delivery, error) {
	m, ok := a.placement.Manifest(block)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBlock, block)
	}

	sealedFragments, err := a.collect(ctx, block, m.Fragments)
	if err != nil {
		return nil, err
	}
	keyParts := make([][]byte, len(sealedFragments))
	for i, sealed := range sealedFragments {
		part, err := a.opener.Open(seeker, block, m.Policy, sealed)
		if err != nil {
			return nil, fmt.Errorf("fragment %s: %w", m.Fragments[i], err)
		}
		keyParts[i] = part
	}
	key := Join(keyParts)

	sealedChunks, err := a.collect(ctx, block, m.Chunks)
	if err != nil {
		return nil, err
	}
	chunks := make([][]byte, len(sealedChunks))
	for i, sealed := range sealedChunks {
		chunk, err := a.cipher.Open(key, sealed, chunkAAD(block, i))
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", m.Chunks[i], err)
		}
		chunks[i] = chunk
	}

	a.log.Info("block accumulated", "block", block, "seeker", seeker, "fragments", len(keyParts), "chunks", len(chunks))
	return &Delivery{Block: block, Seeker: seeker, Key: key, Data: Join(chunks)}, nil
}

// collect fetches every item and returns, in order, the payload each
// majority of holders agreed on.
func (a *Accumulator) collect(ctx context.Context, block registry.BlockID, items []string) ([][]byte, error) {
	payloads := make([][]byte, len(items))
	errs := make([]error, len(items))
	common.FanOut(ctx, len(items), len(items), func(ctx context.Context, i int) {
		payloads[i], errs[i] = a.agreed(ctx, block, items[i])
	})
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return payloads, nil
}

// agreed fetches item from all of its holders and returns the payload
// returned by a strict majority of them.
func (a *Accumulator) agreed(ctx context.Context, block registry.BlockID, item string) ([]byte, error) {
	holders := a.placement.Holders(item)
	if len(holders) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingPiece, item)
	}

	var mu sync.Mutex
	counts := make(map[string]int)
	common.FanOut(ctx, len(holders), len(holders), func(ctx context.Context, i int) {
		payload, err := a.transport.Fetch(ctx, holders[i], block, item)
		if err != nil {
			a.log.Warn("fetch failed", "item", item, "node", holders[i], "err", err)
			return
		}
		mu.Lock()
		counts[string(payload)]++
		mu.Unlock()
	})

	for payload, n := range counts {
		if n > len(holders)/2 {
			return []byte(payload), nil
		}
	}
	return nil, fmt.Errorf("%w: %s (%d holders)", ErrNoMajority, item, len(holders))
}
