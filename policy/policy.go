package policy

import (
	"maps"
	"slices"
	"sync"

	"github.com/luca-patrignani/ztp-quorum/registry"
)

// Attributes are the credentials of a seeker, e.g. {"role": "doctor"}.
type Attributes map[string]string

// Policy is the access rule attached to a data block. A seeker satisfies
// it if it is listed in Users or holds every attribute in Require. A policy
// with neither is satisfied by nobody.
type Policy struct {
	Name    string              `json:"name"`
	Users   []registry.SeekerID `json:"users,omitempty"`
	Require map[string]string   `json:"require,omitempty"`
}

// Satisfied evaluates the policy against a seeker and its attributes.
func (p Policy) Satisfied(seeker registry.SeekerID, attrs Attributes) bool {
	if slices.Contains(p.Users, seeker) {
		return true
	}
	if len(p.Require) == 0 {
		return false
	}
	for k, v := range p.Require {
		if attrs[k] != v {
			return false
		}
	}
	return true
}

// AttributeChecker answers the attribute-based side of an access check.
type AttributeChecker interface {
	Check(seeker registry.SeekerID, p Policy) bool
}

// AttributeStore is an in-memory AttributeChecker holding the attributes of
// every known seeker.
type AttributeStore struct {
	mu    sync.RWMutex
	attrs map[registry.SeekerID]Attributes
}

func NewAttributeStore() *AttributeStore {
	return &AttributeStore{attrs: make(map[registry.SeekerID]Attributes)}
}

// Grant sets the attributes of a seeker, replacing the previous ones.
func (s *AttributeStore) Grant(seeker registry.SeekerID, attrs Attributes) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs[seeker] = maps.Clone(attrs)
}

func (s *AttributeStore) Check(seeker registry.SeekerID, p Policy) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return p.Satisfied(seeker, s.attrs[seeker])
}
