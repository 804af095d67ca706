package fragment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luca-patrignani/ztp-quorum/commit"
	"github.com/luca-patrignani/ztp-quorum/common"
	"github.com/luca-patrignani/ztp-quorum/ledger"
	"github.com/luca-patrignani/ztp-quorum/metrics"
	"github.com/luca-patrignani/ztp-quorum/network"
	"github.com/luca-patrignani/ztp-quorum/registry"
)

const defaultParallelism = 4

// ErrRolledBack marks a piece whose two-phase placement was rolled back.
var ErrRolledBack = errors.New("placement rolled back")

// Sealer encrypts a key fragment under an access policy.
type Sealer interface {
	Seal(payload []byte, policy string) ([]byte, error)
}

// Cipher is the symmetric cipher protecting the data chunks.
type Cipher interface {
	NewKey() ([]byte, error)
	Seal(key, plaintext, aad []byte) ([]byte, error)
	Open(key, ciphertext, aad []byte) ([]byte, error)
}

// Request describes one block to distribute.
type Request struct {
	Block      registry.BlockID
	Content    []byte
	Shape      Shape
	ChunkSize  int
	Redundancy int
	Policy     string
	// Leaders is the pool the holders are drawn from.
	Leaders []registry.NodeID
	// DataLeaders, when set, is the pool for data chunks; key fragments
	// keep using Leaders.
	DataLeaders []registry.NodeID
}

// Piece is a key fragment or a data chunk and the result of its placement.
type Piece struct {
	ID    string
	Kind  network.Kind
	Index int
	// Payload is the encrypted content sent to the holders.
	Payload []byte
	// Selected are the nodes the piece was offered to, Placement the ones
	// that acknowledged the commit.
	Selected  []registry.NodeID
	Placement []registry.NodeID
	Decision  commit.Decision
	Err       error
}

// Distribution is the result of Distribute, pieces in generation order.
type Distribution struct {
	Block     registry.BlockID
	Policy    string
	Fragments []Piece
	Chunks    []Piece
}

// Err joins the errors of every piece that was not committed.
func (d *Distribution) Err() error {
	var errs []error
	for _, p := range d.Fragments {
		errs = append(errs, p.Err)
	}
	for _, p := range d.Chunks {
		errs = append(errs, p.Err)
	}
	return errors.Join(errs...)
}

// Distributor fragments blocks and places every piece on a redundant set of
// leaders under an all-or-nothing two-phase commit.
type Distributor struct {
	coord       *commit.Coordinator
	sealer      Sealer
	cipher      Cipher
	placement   *ledger.Placement
	parallelism int
	log         *slog.Logger
	metrics     *metrics.Metrics
	seq         atomic.Uint64

	mu  sync.Mutex
	rng *rand.Rand
}

type distributorOption func(*Distributor)

func WithRand(rng *rand.Rand) distributorOption {
	return func(d *Distributor) { d.rng = rng }
}

// WithParallelism bounds the number of pieces placed concurrently.
func WithParallelism(n int) distributorOption {
	return func(d *Distributor) { d.parallelism = n }
}

func WithLogger(l *slog.Logger) distributorOption {
	return func(d *Distributor) { d.log = l }
}

func WithMetrics(m *metrics.Metrics) distributorOption {
	return func(d *Distributor) { d.metrics = m }
}

func NewDistributor(t network.Transport, sealer Sealer, cipher Cipher, placement *ledger.Placement, opts ...distributorOption) *Distributor {
	d := &Distributor{
		sealer:      sealer,
		cipher:      cipher,
		placement:   placement,
		parallelism: defaultParallelism,
		log:         slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.rng == nil {
		d.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	d.coord = commit.NewCoordinator(t, commit.WithLogger(d.log), commit.WithMetrics(d.metrics))
	return d
}

// Validate returns the configuration error Distribute would fail with, if
// any. Nothing is generated or sent.
func (r Request) Validate() error {
	_, _, err := r.validate()
	return err
}

func (r Request) validate() (keyPool, dataPool []registry.NodeID, err error) {
	if r.Block == "" {
		return nil, nil, common.NewConfigError("block", "must not be empty")
	}
	if r.Policy == "" {
		return nil, nil, common.NewConfigError("policy", "must not be empty")
	}
	if r.Redundancy < 1 {
		return nil, nil, common.NewConfigError("redundancy", "must be at least 1, got %d", r.Redundancy)
	}
	if r.ChunkSize <= 0 {
		return nil, nil, common.NewConfigError("chunkSize", "must be positive, got %d", r.ChunkSize)
	}
	if r.Shape.Size <= 0 {
		return nil, nil, common.NewConfigError("shape.size", "must be positive, got %d", r.Shape.Size)
	}
	keyPool = registry.Distinct(r.Leaders)
	dataPool = keyPool
	if len(r.DataLeaders) > 0 {
		dataPool = registry.Distinct(r.DataLeaders)
	}
	for name, pool := range map[string][]registry.NodeID{"leaders": keyPool, "dataLeaders": dataPool} {
		if r.Redundancy > len(pool) {
			return nil, nil, common.NewConfigError("redundancy", "%d exceeds the %d %s", r.Redundancy, len(pool), name)
		}
	}
	return keyPool, dataPool, nil
}

// Distribute generates the block key, fragments key and block, encrypts
// every piece and places it on Redundancy distinct leaders. Configuration
// errors are returned before anything is sent; failures of single pieces
// are reported in the Distribution.
func (d *Distributor) Distribute(ctx context.Context, req Request) (*Distribution, error) {
	keyPool, dataPool, err := req.validate()
	if err != nil {
		return nil, err
	}

	key, err := d.cipher.NewKey()
	if err != nil {
		return nil, fmt.Errorf("block %s: %w", req.Block, err)
	}
	keyParts, err := SplitKey(key, req.Shape)
	if err != nil {
		return nil, err
	}
	chunks, err := SplitBlock(req.Content, req.ChunkSize)
	if err != nil {
		return nil, err
	}

	dist := &Distribution{
		Block:     req.Block,
		Policy:    req.Policy,
		Fragments: make([]Piece, len(keyParts)),
		Chunks:    make([]Piece, len(chunks)),
	}
	for i, part := range keyParts {
		dist.Fragments[i] = d.sealFragment(req, i, part)
		dist.Fragments[i].Selected = d.sample(keyPool, req.Redundancy)
	}
	for i, chunk := range chunks {
		dist.Chunks[i] = d.sealChunk(req, key, i, chunk)
		dist.Chunks[i].Selected = d.sample(dataPool, req.Redundancy)
	}

	pieces := make([]*Piece, 0, len(dist.Fragments)+len(dist.Chunks))
	for i := range dist.Fragments {
		pieces = append(pieces, &dist.Fragments[i])
	}
	for i := range dist.Chunks {
		pieces = append(pieces, &dist.Chunks[i])
	}
	seq := d.seq.Add(1)
	common.FanOut(ctx, d.parallelism, len(pieces), func(ctx context.Context, i int) {
		d.place(ctx, req.Block, seq, pieces[i])
	})

	manifest := ledger.Manifest{Block: req.Block, Policy: req.Policy}
	for _, p := range dist.Fragments {
		manifest.Fragments = append(manifest.Fragments, p.ID)
	}
	for _, p := range dist.Chunks {
		manifest.Chunks = append(manifest.Chunks, p.ID)
	}
	d.placement.SetManifest(manifest)

	d.log.Info("block distributed", "block", req.Block, "fragments", len(dist.Fragments),
		"chunks", len(dist.Chunks), "redundancy", req.Redundancy, "failed", dist.Err() != nil)
	return dist, nil
}

func (d *Distributor) sealFragment(req Request, i int, part []byte) Piece {
	p := Piece{Kind: network.KindKeyFragment, Index: i, Decision: commit.Rollback}
	sealed, err := d.sealer.Seal(part, req.Policy)
	if err != nil {
		p.ID = Identifier(req.Block, p.Kind, i, nil)
		p.Err = fmt.Errorf("fragment %d: %w", i, err)
		return p
	}
	p.Payload = sealed
	p.ID = Identifier(req.Block, p.Kind, i, sealed)
	return p
}

func (d *Distributor) sealChunk(req Request, key []byte, i int, chunk []byte) Piece {
	p := Piece{Kind: network.KindDataChunk, Index: i, Decision: commit.Rollback}
	sealed, err := d.cipher.Seal(key, chunk, chunkAAD(req.Block, i))
	if err != nil {
		p.ID = Identifier(req.Block, p.Kind, i, nil)
		p.Err = fmt.Errorf("chunk %d: %w", i, err)
		return p
	}
	p.Payload = sealed
	p.ID = Identifier(req.Block, p.Kind, i, sealed)
	return p
}

func chunkAAD(block registry.BlockID, i int) []byte {
	return fmt.Appendf(nil, "%s/d/%04d", block, i)
}

func (d *Distributor) sample(pool []registry.NodeID, k int) []registry.NodeID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return registry.Sample(d.rng, pool, k)
}

// place runs the two-phase commit of one piece. Pieces that failed
// encryption are never sent.
func (d *Distributor) place(ctx context.Context, block registry.BlockID, seq uint64, p *Piece) {
	if p.Err != nil {
		return
	}
	msg := network.Message{
		Tx:      fmt.Sprintf("%s@%d", p.ID, seq),
		Kind:    p.Kind,
		Block:   block,
		Item:    p.ID,
		Payload: p.Payload,
	}
	out := d.coord.Run(ctx, p.Selected, msg)
	p.Decision = out.Decision
	p.Placement = out.Holders
	if out.Decision == commit.Rollback {
		var causes []error
		for _, id := range p.Selected {
			if err := out.Prepared[id]; err != nil {
				causes = append(causes, err)
			}
		}
		p.Err = fmt.Errorf("%s: %w", p.ID, ErrRolledBack)
		if len(causes) > 0 {
			p.Err = fmt.Errorf("%w: %w", p.Err, errors.Join(causes...))
		}
		return
	}
	d.placement.Record(p.ID, p.Placement)
}
