package ed25519

import (
	"bytes"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"filippo.io/edwards25519"

	"github.com/tangle-network/frost-blueprint/group"
)

const (
	scalarLength  = 32
	elementLength = 32
)

// order is l = 2^252 + 27742317777372353535851937790883648493, big-endian.
var order, _ = hex.DecodeString("1000000000000000000000000000000014def9dea2f79cd65812631a5cf5d3ed")

var (
	errInvalidLength = errors.New("ed25519: invalid encoding length")
	errNonCanonical  = errors.New("ed25519: non-canonical point encoding")
	errTorsion       = errors.New("ed25519: point is not in the prime-order subgroup")
)

// Scalar is an element of the Ed25519 scalar field, encoded as 32
// little-endian bytes.
type Scalar struct {
	inner *edwards25519.Scalar
}

func newScalar() *Scalar {
	return &Scalar{inner: edwards25519.NewScalar()}
}

// Add sets s to a + b and returns s.
func (s *Scalar) Add(a, b group.Scalar) group.Scalar {
	s.inner.Add(a.(*Scalar).inner, b.(*Scalar).inner)
	return s
}

// Sub sets s to a - b and returns s.
func (s *Scalar) Sub(a, b group.Scalar) group.Scalar {
	s.inner.Subtract(a.(*Scalar).inner, b.(*Scalar).inner)
	return s
}

// Mul sets s to a * b and returns s.
func (s *Scalar) Mul(a, b group.Scalar) group.Scalar {
	s.inner.Multiply(a.(*Scalar).inner, b.(*Scalar).inner)
	return s
}

// Negate sets s to -a and returns s.
func (s *Scalar) Negate(a group.Scalar) group.Scalar {
	s.inner.Negate(a.(*Scalar).inner)
	return s
}

// Invert sets s to a^(-1) and returns s.
func (s *Scalar) Invert(a group.Scalar) (group.Scalar, error) {
	aScalar := a.(*Scalar)
	if aScalar.IsZero() {
		return nil, errors.New("cannot invert zero scalar")
	}
	s.inner.Invert(aScalar.inner)
	return s, nil
}

// Set copies a into s and returns s.
func (s *Scalar) Set(a group.Scalar) group.Scalar {
	s.inner.Set(a.(*Scalar).inner)
	return s
}

// SetUint64 sets s to v and returns s.
func (s *Scalar) SetUint64(v uint64) group.Scalar {
	var buf [scalarLength]byte
	binary.LittleEndian.PutUint64(buf[:8], v)
	if _, err := s.inner.SetCanonicalBytes(buf[:]); err != nil {
		// unreachable: every uint64 is below the group order
		panic(err)
	}
	return s
}

// Bytes returns the 32-byte little-endian encoding of s.
func (s *Scalar) Bytes() []byte {
	return s.inner.Bytes()
}

// SetBytes decodes a canonical 32-byte little-endian scalar.
func (s *Scalar) SetBytes(data []byte) (group.Scalar, error) {
	if len(data) != scalarLength {
		return nil, errInvalidLength
	}
	if _, err := s.inner.SetCanonicalBytes(data); err != nil {
		return nil, fmt.Errorf("ed25519: %w", err)
	}
	return s, nil
}

// Equal reports whether s and b are the same scalar.
func (s *Scalar) Equal(b group.Scalar) bool {
	return s.inner.Equal(b.(*Scalar).inner) == 1
}

// IsZero reports whether s is zero.
func (s *Scalar) IsZero() bool {
	return s.inner.Equal(edwards25519.NewScalar()) == 1
}

// Point is an element of the prime-order subgroup of edwards25519.
type Point struct {
	inner *edwards25519.Point
}

// Add sets p to a + b and returns p.
func (p *Point) Add(a, b group.Point) group.Point {
	p.inner.Add(a.(*Point).inner, b.(*Point).inner)
	return p
}

// Sub sets p to a - b and returns p.
func (p *Point) Sub(a, b group.Point) group.Point {
	p.inner.Subtract(a.(*Point).inner, b.(*Point).inner)
	return p
}

// Negate sets p to -a and returns p.
func (p *Point) Negate(a group.Point) group.Point {
	p.inner.Negate(a.(*Point).inner)
	return p
}

// ScalarMult sets p to s * q and returns p.
func (p *Point) ScalarMult(s group.Scalar, q group.Point) group.Point {
	p.inner.ScalarMult(s.(*Scalar).inner, q.(*Point).inner)
	return p
}

// Set copies a into p and returns p.
func (p *Point) Set(a group.Point) group.Point {
	p.inner.Set(a.(*Point).inner)
	return p
}

// Bytes returns the 32-byte compressed encoding of p.
func (p *Point) Bytes() []byte {
	return p.inner.Bytes()
}

// SetBytes decodes a canonical compressed point and checks that it lies in
// the prime-order subgroup.
func (p *Point) SetBytes(data []byte) (group.Point, error) {
	if len(data) != elementLength {
		return nil, errInvalidLength
	}
	q, err := new(edwards25519.Point).SetBytes(data)
	if err != nil {
		return nil, fmt.Errorf("ed25519: %w", err)
	}
	if !bytes.Equal(q.Bytes(), data) {
		return nil, errNonCanonical
	}
	// [l]Q computed as [l-1]Q + Q, since l itself reduces to zero.
	minusOne := newScalar()
	minusOne.SetUint64(1)
	minusOne.inner.Negate(minusOne.inner)
	check := new(edwards25519.Point).ScalarMult(minusOne.inner, q)
	check.Add(check, q)
	if check.Equal(edwards25519.NewIdentityPoint()) != 1 {
		return nil, errTorsion
	}
	p.inner = q
	return p, nil
}

// Equal reports whether p and b are the same point.
func (p *Point) Equal(b group.Point) bool {
	return p.inner.Equal(b.(*Point).inner) == 1
}

// IsIdentity reports whether p is the neutral element.
func (p *Point) IsIdentity() bool {
	return p.inner.Equal(edwards25519.NewIdentityPoint()) == 1
}

// Group implements [group.Group] for edwards25519 with SHA-512 as the
// hash-to-scalar primitive, as used by FROST(Ed25519, SHA-512).
type Group struct{}

// New returns the Ed25519 group.
func New() *Group {
	return &Group{}
}

// Name returns "ed25519".
func (g *Group) Name() string {
	return "ed25519"
}

// NewScalar returns a new zero scalar.
func (g *Group) NewScalar() group.Scalar {
	return newScalar()
}

// NewPoint returns a new identity point.
func (g *Group) NewPoint() group.Point {
	return &Point{inner: edwards25519.NewIdentityPoint()}
}

// Generator returns the standard base point.
func (g *Group) Generator() group.Point {
	return &Point{inner: edwards25519.NewGeneratorPoint()}
}

// RandomScalar reduces 64 random bytes modulo l, rejecting zero.
func (g *Group) RandomScalar(r io.Reader) (group.Scalar, error) {
	var buf [64]byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, err
		}
		s := newScalar()
		if _, err := s.inner.SetUniformBytes(buf[:]); err != nil {
			return nil, err
		}
		if !s.IsZero() {
			return s, nil
		}
	}
}

// HashToScalar computes SHA-512(dst || msg...) interpreted as a
// little-endian integer modulo l.
func (g *Group) HashToScalar(dst []byte, msg ...[]byte) (group.Scalar, error) {
	h := sha512.New()
	h.Write(dst)
	for _, m := range msg {
		h.Write(m)
	}
	s := newScalar()
	if _, err := s.inner.SetUniformBytes(h.Sum(nil)); err != nil {
		return nil, err
	}
	return s, nil
}

// ScalarLength returns 32.
func (g *Group) ScalarLength() int {
	return scalarLength
}

// ElementLength returns 32.
func (g *Group) ElementLength() int {
	return elementLength
}

// Order returns l as a big-endian byte slice.
func (g *Group) Order() []byte {
	out := make([]byte, len(order))
	copy(out, order)
	return out
}
