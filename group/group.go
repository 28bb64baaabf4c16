package group

import (
	"io"
)

// Scalar is an integer modulo the group order.
//
// Arithmetic methods write the result into the receiver and return it, so
// calls chain: s.Mul(a, b).Add(s, c). Results are always reduced.
type Scalar interface {
	Add(a, b Scalar) Scalar
	Sub(a, b Scalar) Scalar
	Mul(a, b Scalar) Scalar
	Negate(a Scalar) Scalar
	// Invert fails when a is zero.
	Invert(a Scalar) (Scalar, error)
	Set(a Scalar) Scalar
	SetUint64(v uint64) Scalar

	// Bytes is the ciphersuite's canonical encoding. SetBytes accepts only
	// that encoding: wrong lengths and values at or above the order are
	// rejected.
	Bytes() []byte
	SetBytes(data []byte) (Scalar, error)

	Equal(b Scalar) bool
	IsZero() bool
}

// Point is a group element, with the same receiver convention as [Scalar].
type Point interface {
	Add(a, b Point) Point
	Sub(a, b Point) Point
	Negate(a Point) Point
	ScalarMult(s Scalar, p Point) Point
	Set(a Point) Point

	// SetBytes rejects anything that does not decode to a point of the
	// prime-order subgroup.
	Bytes() []byte
	SetBytes(data []byte) (Point, error)

	Equal(b Point) bool
	IsIdentity() bool
}

// Group is a prime-order group together with the hash-to-scalar of one
// FROST ciphersuite. Everything curve specific lives behind it:
//
//	g := ed25519.New()
//	k, _ := g.RandomScalar(rand.Reader)
//	R := g.NewPoint().ScalarMult(k, g.Generator())
type Group interface {
	Name() string

	// NewScalar is zero and NewPoint is the identity.
	NewScalar() Scalar
	NewPoint() Point
	Generator() Point

	// RandomScalar never returns zero.
	RandomScalar(r io.Reader) (Scalar, error)
	// HashToScalar reduces H(dst || msg...) to a scalar. A nil dst hashes
	// msg alone.
	HashToScalar(dst []byte, msg ...[]byte) (Scalar, error)

	ScalarLength() int
	ElementLength() int
	// Order is big-endian.
	Order() []byte
}
