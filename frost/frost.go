package frost

import (
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/tangle-network/frost-blueprint/group"
)

// Identifier is a participant's non-zero FROST identifier. It is the
// participant's 1-based position in the canonical participant order.
type Identifier uint16

// FROST holds the ciphersuite and threshold parameters of one key.
type FROST struct {
	suite     *Ciphersuite
	group     group.Group
	threshold int // t - minimum signers needed
	total     int // n - total participants
}

// KeyPackage is a participant's long-lived share of the group key.
type KeyPackage struct {
	Identifier     Identifier
	SigningShare   group.Scalar // secret
	VerifyingShare group.Point
	VerifyingKey   group.Point
	MinSigners     uint16
}

// PublicKeyPackage is the public output of a DKG, identical for every
// participant.
type PublicKeyPackage struct {
	VerifyingShares map[Identifier]group.Point
	VerifyingKey    group.Point
}

// Signature is a Schnorr signature.
type Signature struct {
	R group.Point
	Z group.Scalar
}

// New creates a FROST instance for cs with the given threshold parameters.
// threshold is the minimum number of signers required (t).
// total is the total number of participants (n).
func New(cs *Ciphersuite, threshold, total int) (*FROST, error) {
	if threshold < 1 {
		return nil, errors.Wrap(ErrInvalidThreshold, "threshold must be at least 1")
	}
	if total < threshold {
		return nil, errors.Wrap(ErrInvalidThreshold, "total must be >= threshold")
	}
	if total > math.MaxUint16 {
		return nil, errors.Wrap(ErrInvalidThreshold, "too many participants")
	}

	return &FROST{
		suite:     cs,
		group:     cs.group,
		threshold: threshold,
		total:     total,
	}, nil
}

// Ciphersuite returns the ciphersuite of f.
func (f *FROST) Ciphersuite() *Ciphersuite { return f.suite }

// Threshold returns t.
func (f *FROST) Threshold() int { return f.threshold }

// Total returns n.
func (f *FROST) Total() int { return f.total }

func (f *FROST) checkID(id Identifier) error {
	if id == 0 || int(id) > f.total {
		return errors.Wrapf(ErrInvalidIdentifier, "%d not in 1..%d", id, f.total)
	}
	return nil
}

func (f *FROST) scalarFromID(id Identifier) group.Scalar {
	return f.group.NewScalar().SetUint64(uint64(id))
}

func (f *FROST) evalPolynomial(coeffs []group.Scalar, x group.Scalar) group.Scalar {
	result := f.group.NewScalar().Set(coeffs[len(coeffs)-1])
	for i := len(coeffs) - 2; i >= 0; i-- {
		result = f.group.NewScalar().Mul(result, x)
		result = f.group.NewScalar().Add(result, coeffs[i])
	}
	return result
}

// evalCommitment computes Σ C_k * x^k, the public image of a polynomial
// evaluation.
func (f *FROST) evalCommitment(commitments []group.Point, x group.Scalar) group.Point {
	result := f.group.NewPoint()
	xPower := f.group.NewScalar().SetUint64(1)
	for _, c := range commitments {
		term := f.group.NewPoint().ScalarMult(xPower, c)
		result = f.group.NewPoint().Add(result, term)
		xPower = f.group.NewScalar().Mul(xPower, x)
	}
	return result
}

// lagrangeCoefficient returns λ_id = Π x_j / (x_j - x_id) over the other
// members of ids.
func (f *FROST) lagrangeCoefficient(id Identifier, ids []Identifier) (group.Scalar, error) {
	x := f.scalarFromID(id)
	num := f.group.NewScalar().SetUint64(1)
	den := f.group.NewScalar().SetUint64(1)
	found := false

	for _, other := range ids {
		if other == id {
			found = true
			continue
		}
		xj := f.scalarFromID(other)
		num = f.group.NewScalar().Mul(num, xj)
		den = f.group.NewScalar().Mul(den, f.group.NewScalar().Sub(xj, x))
	}
	if !found {
		return nil, errors.Wrapf(ErrMissingData, "identifier %d not among signers", id)
	}

	denInv, err := f.group.NewScalar().Invert(den)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidIdentifier, "duplicate signer identifier")
	}
	return f.group.NewScalar().Mul(num, denInv), nil
}

func sortedIDs[V any](m map[Identifier]V) []Identifier {
	ids := make([]Identifier, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func zeroScalar(g group.Group, s group.Scalar) {
	if s != nil {
		s.Set(g.NewScalar())
	}
}
