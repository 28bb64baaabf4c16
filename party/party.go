// Package party maps operator identities to the dense 1-based participant
// indices used inside a session.
//
// Identities are opaque byte strings (operator public keys). A [Set] orders
// them lexicographically by their raw bytes, so every operator derives the
// same index for the same identity without an extra round of coordination.
package party

import (
	"bytes"
	"encoding/hex"
	"math"
	"sort"

	"github.com/pkg/errors"
)

// Index is a participant's 1-based position in a [Set]. Zero is never a
// valid index; on the wire it addresses every participant.
type Index uint16

// Broadcast is the recipient index that addresses every participant.
const Broadcast Index = 0

var (
	ErrEmptySet          = errors.New("empty participant set")
	ErrEmptyIdentity     = errors.New("empty participant identity")
	ErrDuplicateIdentity = errors.New("duplicate participant identity")
	ErrUnknownIdentity   = errors.New("identity is not a participant")
	ErrTooManyIdentities = errors.New("too many participants")
)

// Set is an immutable, canonically ordered list of participant identities.
type Set struct {
	identities [][]byte
	index      map[string]Index
}

// NewSet sorts identities and assigns index = position + 1. The input slice
// is not modified.
func NewSet(identities [][]byte) (*Set, error) {
	if len(identities) == 0 {
		return nil, ErrEmptySet
	}
	if len(identities) > math.MaxUint16 {
		return nil, errors.Wrapf(ErrTooManyIdentities, "%d", len(identities))
	}

	sorted := make([][]byte, len(identities))
	for i, id := range identities {
		if len(id) == 0 {
			return nil, ErrEmptyIdentity
		}
		sorted[i] = append([]byte(nil), id...)
	}
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i], sorted[j]) < 0 })

	s := &Set{identities: sorted, index: make(map[string]Index, len(sorted))}
	for i, id := range sorted {
		if i > 0 && bytes.Equal(sorted[i-1], id) {
			return nil, errors.Wrap(ErrDuplicateIdentity, hex.EncodeToString(id))
		}
		s.index[string(id)] = Index(i + 1)
	}
	return s, nil
}

// Len returns the number of participants.
func (s *Set) Len() int { return len(s.identities) }

// IndexOf returns the index assigned to identity.
func (s *Set) IndexOf(identity []byte) (Index, error) {
	idx, ok := s.index[string(identity)]
	if !ok {
		return 0, errors.Wrap(ErrUnknownIdentity, hex.EncodeToString(identity))
	}
	return idx, nil
}

// Contains reports whether idx is a valid index of s.
func (s *Set) Contains(idx Index) bool {
	return idx != Broadcast && int(idx) <= len(s.identities)
}

// Identity returns the identity at idx, or nil when idx is out of range.
func (s *Set) Identity(idx Index) []byte {
	if !s.Contains(idx) {
		return nil
	}
	return s.identities[idx-1]
}

// Indices returns every index of s in ascending order.
func (s *Set) Indices() []Index {
	out := make([]Index, len(s.identities))
	for i := range out {
		out[i] = Index(i + 1)
	}
	return out
}

// Identities returns a copy of the canonically ordered identities.
func (s *Set) Identities() [][]byte {
	out := make([][]byte, len(s.identities))
	for i, id := range s.identities {
		out[i] = append([]byte(nil), id...)
	}
	return out
}

// Subset resolves a list of identities to their indices in s, sorted
// ascending. Empty, duplicate or unknown identities are rejected.
func (s *Set) Subset(identities [][]byte) ([]Index, error) {
	if len(identities) == 0 {
		return nil, ErrEmptySet
	}
	seen := make(map[Index]struct{}, len(identities))
	out := make([]Index, 0, len(identities))
	for _, id := range identities {
		if len(id) == 0 {
			return nil, ErrEmptyIdentity
		}
		idx, err := s.IndexOf(id)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[idx]; dup {
			return nil, errors.Wrap(ErrDuplicateIdentity, hex.EncodeToString(id))
		}
		seen[idx] = struct{}{}
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
