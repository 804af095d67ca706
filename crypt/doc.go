// Package crypt provides the cryptographic collaborators of the fragment
// distributor.
//
// # Core Components
//
// Symmetric: ChaCha20-Poly1305 encryption of data chunks under the block key.
//
// Authority: seals key fragments under a named access policy using ECIES
// over the Ed25519 group, and opens them only for seekers its Gate
// authorizes. It stands in for an attribute-based encryption authority:
// holding the policy secret is equivalent to satisfying the policy.
//
// Every failure wraps common.ErrEncryption, except a refused release which
// returns ErrUnauthorized.
package crypt
