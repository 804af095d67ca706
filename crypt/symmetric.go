package crypt

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/luca-patrignani/ztp-quorum/common"
)

// KeySize is the size of the symmetric key protecting a data block.
const KeySize = chacha20poly1305.KeySize

// Symmetric encrypts data blocks with ChaCha20-Poly1305. The nonce is
// random and prepended to the ciphertext.
type Symmetric struct{}

func (Symmetric) NewKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: key generation: %w", common.ErrEncryption, err)
	}
	return key, nil
}

// Seal encrypts plaintext under key, authenticating aad along with it.
func (Symmetric) Seal(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrEncryption, err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: nonce: %w", common.ErrEncryption, err)
	}
	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Open reverses Seal. It fails if the key, the aad or the ciphertext differ.
func (Symmetric) Open(key, ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrEncryption, err)
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", common.ErrEncryption)
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrEncryption, err)
	}
	return plaintext, nil
}
