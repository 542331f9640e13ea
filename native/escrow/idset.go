package escrow

import (
	"bytes"
	"sort"
)

// IDSet is a deduplicating, order-irrelevant collection of item identifiers.
// It accumulates the identifiers of deposited items and validates that a
// caller-supplied wish-list names no identifier twice.
type IDSet struct {
	members map[[32]byte]struct{}
}

// NewIDSet returns an empty identifier set.
func NewIDSet() *IDSet {
	return &IDSet{members: make(map[[32]byte]struct{})}
}

// NewIDSetFromList builds a set from the supplied identifiers, failing with
// ErrDuplicateIdentifier when any identifier appears more than once.
func NewIDSetFromList(ids [][32]byte) (*IDSet, error) {
	set := NewIDSet()
	for _, id := range ids {
		if err := set.Insert(id); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// Insert adds the identifier to the set. Inserting an identifier that is
// already present fails with ErrDuplicateIdentifier.
func (s *IDSet) Insert(id [32]byte) error {
	if s.members == nil {
		s.members = make(map[[32]byte]struct{})
	}
	if _, ok := s.members[id]; ok {
		return ErrDuplicateIdentifier
	}
	s.members[id] = struct{}{}
	return nil
}

// Contains reports whether the identifier is a member of the set.
func (s *IDSet) Contains(id [32]byte) bool {
	if s == nil {
		return false
	}
	_, ok := s.members[id]
	return ok
}

// Len returns the number of members.
func (s *IDSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.members)
}

// Equal reports set equality: same cardinality and same members.
func (s *IDSet) Equal(other *IDSet) bool {
	if s.Len() != other.Len() {
		return false
	}
	for id := range s.members {
		if !other.Contains(id) {
			return false
		}
	}
	return true
}

// IDs returns the members sorted lexicographically so persisted encodings and
// event payloads stay deterministic.
func (s *IDSet) IDs() [][32]byte {
	if s == nil || len(s.members) == 0 {
		return nil
	}
	ids := make([][32]byte, 0, len(s.members))
	for id := range s.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	return ids
}
