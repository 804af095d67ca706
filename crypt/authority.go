package crypt

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"go.dedis.ch/kyber/v4"
	"go.dedis.ch/kyber/v4/encrypt/ecies"
	"go.dedis.ch/kyber/v4/suites"

	"github.com/luca-patrignani/ztp-quorum/common"
	"github.com/luca-patrignani/ztp-quorum/registry"
)

// ErrUnauthorized is returned by Open when the seeker does not satisfy the
// access rules of the block.
var ErrUnauthorized = errors.New("seeker is not authorized")

var suite suites.Suite = suites.MustFind("Ed25519")

// Gate decides whether a seeker may receive the secrets of a block.
type Gate interface {
	Authorized(seeker registry.SeekerID, block registry.BlockID) bool
}

type keyPair struct {
	private kyber.Scalar
	public  kyber.Point
}

// Authority seals payloads under an access policy and releases them only
// to seekers its gate authorizes. Every policy name owns an Ed25519 key
// pair; payloads are encrypted with ECIES under the policy public key.
type Authority struct {
	mu   sync.Mutex
	keys map[string]keyPair
	gate Gate
}

// NewAuthority creates an authority. A nil gate authorizes everybody.
func NewAuthority(gate Gate) *Authority {
	return &Authority{
		keys: make(map[string]keyPair),
		gate: gate,
	}
}

func (a *Authority) keyFor(policy string) keyPair {
	a.mu.Lock()
	defer a.mu.Unlock()
	kp, ok := a.keys[policy]
	if !ok {
		private := suite.Scalar().Pick(suite.RandomStream())
		kp = keyPair{private: private, public: suite.Point().Mul(private, nil)}
		a.keys[policy] = kp
	}
	return kp
}

// Seal encrypts payload under the policy.
func (a *Authority) Seal(payload []byte, policy string) ([]byte, error) {
	if policy == "" {
		return nil, fmt.Errorf("%w: empty policy", common.ErrEncryption)
	}
	ct, err := ecies.Encrypt(suite, a.keyFor(policy).public, payload, sha256.New)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrEncryption, err)
	}
	return ct, nil
}

// Open decrypts a payload sealed under policy for a seeker requesting a
// block. The gate is consulted before any decryption happens.
func (a *Authority) Open(seeker registry.SeekerID, block registry.BlockID, policy string, ciphertext []byte) ([]byte, error) {
	if a.gate != nil && !a.gate.Authorized(seeker, block) {
		return nil, fmt.Errorf("%w: seeker %s on block %s", ErrUnauthorized, seeker, block)
	}
	a.mu.Lock()
	kp, ok := a.keys[policy]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown policy %q", common.ErrEncryption, policy)
	}
	pt, err := ecies.Decrypt(suite, kp.private, ciphertext, sha256.New)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrEncryption, err)
	}
	return pt, nil
}
