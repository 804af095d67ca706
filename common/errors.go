package common

import (
	"errors"
	"fmt"
)

var (
	// ErrNoQualifyingLeaders is returned when no node reaches the reputation threshold.
	ErrNoQualifyingLeaders = errors.New("no node reaches the reputation threshold")
	// ErrConvergence is matched by every error produced when the degree
	// convergence loop hits its iteration cap.
	ErrConvergence = errors.New("leader set did not converge to the target degree")
	// ErrQuorumEmpty is returned when every leader failed the two-phase finalize.
	ErrQuorumEmpty = errors.New("no leader accepted the role")
	// ErrEncryption wraps every failure of the crypto collaborators.
	ErrEncryption = errors.New("encryption failure")
	// ErrConsensusExhausted is returned when a seeker is still undecided after
	// the configured number of rounds.
	ErrConsensusExhausted = errors.New("access consensus exhausted its rounds")
)

// ConfigError reports an invalid configuration entry. It is raised before
// any side effect takes place.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// NewConfigError is a shorthand for building a *ConfigError with a formatted reason.
func NewConfigError(field string, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err carries a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
