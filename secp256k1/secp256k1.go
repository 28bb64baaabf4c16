package secp256k1

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/tangle-network/frost-blueprint/group"
)

const (
	scalarLength  = 32
	elementLength = 33

	// hashToFieldLength is L = ceil((ceil(log2(n)) + 128) / 8).
	hashToFieldLength = 48
)

var (
	orderBytes, _ = hex.DecodeString("fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141")
	orderInt      = new(big.Int).SetBytes(orderBytes)

	identityEncoding = make([]byte, elementLength)
)

var (
	errInvalidLength = errors.New("secp256k1: invalid encoding length")
	errOverflow      = errors.New("secp256k1: scalar is not below the group order")
	errZeroInverse   = errors.New("cannot invert zero scalar")
)

// Scalar is an integer modulo the secp256k1 group order n, encoded as 32
// big-endian bytes.
type Scalar struct {
	inner secp256k1.ModNScalar
}

// Add sets s to a + b and returns s.
func (s *Scalar) Add(a, b group.Scalar) group.Scalar {
	s.inner.Add2(&a.(*Scalar).inner, &b.(*Scalar).inner)
	return s
}

// Sub sets s to a - b and returns s.
func (s *Scalar) Sub(a, b group.Scalar) group.Scalar {
	var negB secp256k1.ModNScalar
	negB.NegateVal(&b.(*Scalar).inner)
	s.inner.Add2(&a.(*Scalar).inner, &negB)
	return s
}

// Mul sets s to a * b and returns s.
func (s *Scalar) Mul(a, b group.Scalar) group.Scalar {
	s.inner.Mul2(&a.(*Scalar).inner, &b.(*Scalar).inner)
	return s
}

// Negate sets s to -a and returns s.
func (s *Scalar) Negate(a group.Scalar) group.Scalar {
	s.inner.NegateVal(&a.(*Scalar).inner)
	return s
}

// Invert sets s to a^(-1) and returns s.
func (s *Scalar) Invert(a group.Scalar) (group.Scalar, error) {
	aScalar := a.(*Scalar)
	if aScalar.inner.IsZero() {
		return nil, errZeroInverse
	}
	s.inner.InverseValNonConst(&aScalar.inner)
	return s, nil
}

// Set copies a into s and returns s.
func (s *Scalar) Set(a group.Scalar) group.Scalar {
	s.inner.Set(&a.(*Scalar).inner)
	return s
}

// SetUint64 sets s to v and returns s.
func (s *Scalar) SetUint64(v uint64) group.Scalar {
	var hi, lo secp256k1.ModNScalar
	hi.SetInt(uint32(v >> 32))
	lo.SetInt(uint32(v))
	var shift secp256k1.ModNScalar
	shift.SetInt(1 << 16)
	hi.Mul(&shift).Mul(&shift)
	s.inner.Add2(&hi, &lo)
	return s
}

// Bytes returns the 32-byte big-endian encoding of s.
func (s *Scalar) Bytes() []byte {
	b := s.inner.Bytes()
	return b[:]
}

// SetBytes decodes a 32-byte big-endian scalar, rejecting values >= n.
func (s *Scalar) SetBytes(data []byte) (group.Scalar, error) {
	if len(data) != scalarLength {
		return nil, errInvalidLength
	}
	var tmp secp256k1.ModNScalar
	if overflow := tmp.SetByteSlice(data); overflow {
		return nil, errOverflow
	}
	s.inner.Set(&tmp)
	return s, nil
}

// Equal reports whether s and b are the same scalar.
func (s *Scalar) Equal(b group.Scalar) bool {
	return s.inner.Equals(&b.(*Scalar).inner)
}

// IsZero reports whether s is zero.
func (s *Scalar) IsZero() bool {
	return s.inner.IsZero()
}

// Point is a secp256k1 curve point held in Jacobian coordinates. The zero
// value is the point at infinity.
type Point struct {
	inner secp256k1.JacobianPoint
}

func (p *Point) isInfinity() bool {
	return p.inner.Z.IsZero() || (p.inner.X.IsZero() && p.inner.Y.IsZero())
}

func (p *Point) setInfinity() {
	p.inner = secp256k1.JacobianPoint{}
}

// affine returns a copy of p normalized to Z = 1. p must not be infinity.
func (p *Point) affine() secp256k1.JacobianPoint {
	var a secp256k1.JacobianPoint
	a.Set(&p.inner)
	a.ToAffine()
	return a
}

// Add sets p to a + b and returns p.
func (p *Point) Add(a, b group.Point) group.Point {
	var r secp256k1.JacobianPoint
	secp256k1.AddNonConst(&a.(*Point).inner, &b.(*Point).inner, &r)
	p.inner = r
	return p
}

// Sub sets p to a - b and returns p.
func (p *Point) Sub(a, b group.Point) group.Point {
	var negB Point
	negB.Negate(b)
	return p.Add(a, &negB)
}

// Negate sets p to -a and returns p.
func (p *Point) Negate(a group.Point) group.Point {
	aPoint := a.(*Point)
	if aPoint.isInfinity() {
		p.setInfinity()
		return p
	}
	r := aPoint.affine()
	r.Y.Negate(1).Normalize()
	p.inner = r
	return p
}

// ScalarMult sets p to s * q and returns p.
func (p *Point) ScalarMult(s group.Scalar, q group.Point) group.Point {
	k := &s.(*Scalar).inner
	qPoint := q.(*Point)
	if k.IsZero() || qPoint.isInfinity() {
		p.setInfinity()
		return p
	}
	var r secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(k, &qPoint.inner, &r)
	p.inner = r
	return p
}

// Set copies a into p and returns p.
func (p *Point) Set(a group.Point) group.Point {
	p.inner.Set(&a.(*Point).inner)
	return p
}

// Bytes returns the 33-byte SEC1 compressed encoding of p. The point at
// infinity encodes as 33 zero bytes.
func (p *Point) Bytes() []byte {
	if p.isInfinity() {
		return make([]byte, elementLength)
	}
	a := p.affine()
	return secp256k1.NewPublicKey(&a.X, &a.Y).SerializeCompressed()
}

// SetBytes decodes a compressed point. 33 zero bytes decode to the point at
// infinity.
func (p *Point) SetBytes(data []byte) (group.Point, error) {
	if len(data) != elementLength {
		return nil, errInvalidLength
	}
	if bytes.Equal(data, identityEncoding) {
		p.setInfinity()
		return p, nil
	}
	pk, err := secp256k1.ParsePubKey(data)
	if err != nil {
		return nil, err
	}
	pk.AsJacobian(&p.inner)
	return p, nil
}

// Equal reports whether p and b are the same point.
func (p *Point) Equal(b group.Point) bool {
	bPoint := b.(*Point)
	pInf, bInf := p.isInfinity(), bPoint.isInfinity()
	if pInf || bInf {
		return pInf == bInf
	}
	pa, ba := p.affine(), bPoint.affine()
	return pa.X.Equals(&ba.X) && pa.Y.Equals(&ba.Y)
}

// IsIdentity reports whether p is the point at infinity.
func (p *Point) IsIdentity() bool {
	return p.isInfinity()
}

// Group implements [group.Group] for secp256k1 with the hash_to_field
// construction from RFC 9380 (expand_message_xmd with SHA-256).
type Group struct{}

// New returns the secp256k1 group.
func New() *Group {
	return &Group{}
}

// Name returns "secp256k1".
func (g *Group) Name() string {
	return "secp256k1"
}

// NewScalar returns a new zero scalar.
func (g *Group) NewScalar() group.Scalar {
	return &Scalar{}
}

// NewPoint returns the point at infinity.
func (g *Group) NewPoint() group.Point {
	return &Point{}
}

// Generator returns the standard base point G.
func (g *Group) Generator() group.Point {
	var one secp256k1.ModNScalar
	one.SetInt(1)
	p := &Point{}
	secp256k1.ScalarBaseMultNonConst(&one, &p.inner)
	return p
}

// RandomScalar samples 32 bytes until they form a non-zero value below n.
func (g *Group) RandomScalar(r io.Reader) (group.Scalar, error) {
	var buf [scalarLength]byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, err
		}
		s := &Scalar{}
		if overflow := s.inner.SetByteSlice(buf[:]); overflow || s.inner.IsZero() {
			continue
		}
		return s, nil
	}
}

// HashToScalar maps msg to a scalar with hash_to_field using dst as the
// domain separation tag.
func (g *Group) HashToScalar(dst []byte, msg ...[]byte) (group.Scalar, error) {
	uniform, err := expandMessageXMD(dst, bytes.Join(msg, nil), hashToFieldLength)
	if err != nil {
		return nil, err
	}
	reduced := new(big.Int).SetBytes(uniform)
	reduced.Mod(reduced, orderInt)

	var buf [scalarLength]byte
	reduced.FillBytes(buf[:])
	s := &Scalar{}
	s.inner.SetByteSlice(buf[:])
	return s, nil
}

// ScalarLength returns 32.
func (g *Group) ScalarLength() int {
	return scalarLength
}

// ElementLength returns 33.
func (g *Group) ElementLength() int {
	return elementLength
}

// Order returns n as a big-endian byte slice.
func (g *Group) Order() []byte {
	out := make([]byte, len(orderBytes))
	copy(out, orderBytes)
	return out
}

// expandMessageXMD implements expand_message_xmd from RFC 9380 section
// 5.3.1 with SHA-256.
func expandMessageXMD(dst, msg []byte, lenInBytes int) ([]byte, error) {
	const (
		bInBytes = sha256.Size
		sInBytes = sha256.BlockSize
	)
	if len(dst) > 255 {
		return nil, errors.New("secp256k1: domain separation tag too long")
	}
	ell := (lenInBytes + bInBytes - 1) / bInBytes
	if ell > 255 {
		return nil, errors.New("secp256k1: requested output too long")
	}
	dstPrime := append(append([]byte{}, dst...), byte(len(dst)))

	h := sha256.New()
	h.Write(make([]byte, sInBytes))
	h.Write(msg)
	h.Write([]byte{byte(lenInBytes >> 8), byte(lenInBytes)})
	h.Write([]byte{0})
	h.Write(dstPrime)
	b0 := h.Sum(nil)

	h.Reset()
	h.Write(b0)
	h.Write([]byte{1})
	h.Write(dstPrime)
	bi := h.Sum(nil)

	out := make([]byte, 0, ell*bInBytes)
	out = append(out, bi...)
	for i := 2; i <= ell; i++ {
		mixed := make([]byte, bInBytes)
		for j := range mixed {
			mixed[j] = b0[j] ^ bi[j]
		}
		h.Reset()
		h.Write(mixed)
		h.Write([]byte{byte(i)})
		h.Write(dstPrime)
		bi = h.Sum(nil)
		out = append(out, bi...)
	}
	return out[:lenInBytes], nil
}
