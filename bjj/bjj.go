package bjj

import (
	"errors"
	"io"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"
	"golang.org/x/crypto/blake2b"

	"github.com/tangle-network/frost-blueprint/group"
)

const (
	scalarLength  = 32
	elementLength = 32
)

var (
	errInvalidLength = errors.New("bjj: invalid encoding length")
	errOutOfRange    = errors.New("bjj: scalar is not below the subgroup order")
	errSubgroup      = errors.New("bjj: point is not in the prime-order subgroup")
	errZeroInverse   = errors.New("bjj: cannot invert zero scalar")
)

// curveOrder is the order of the prime subgroup, not the BN254 scalar
// field the curve is defined over.
var curveOrder = func() *big.Int {
	curve := twistededwards.GetEdwardsCurve()
	return new(big.Int).Set(&curve.Order)
}()

// Scalar is an integer modulo curveOrder. Every operation leaves it
// reduced.
type Scalar struct {
	v big.Int
}

func bigOf(s group.Scalar) *big.Int { return &s.(*Scalar).v }

func (s *Scalar) mod() group.Scalar {
	s.v.Mod(&s.v, curveOrder)
	return s
}

func (s *Scalar) Add(a, b group.Scalar) group.Scalar {
	s.v.Add(bigOf(a), bigOf(b))
	return s.mod()
}

func (s *Scalar) Sub(a, b group.Scalar) group.Scalar {
	s.v.Sub(bigOf(a), bigOf(b))
	return s.mod()
}

func (s *Scalar) Mul(a, b group.Scalar) group.Scalar {
	s.v.Mul(bigOf(a), bigOf(b))
	return s.mod()
}

func (s *Scalar) Negate(a group.Scalar) group.Scalar {
	s.v.Neg(bigOf(a))
	return s.mod()
}

func (s *Scalar) Invert(a group.Scalar) (group.Scalar, error) {
	if a.IsZero() {
		return nil, errZeroInverse
	}
	s.v.ModInverse(bigOf(a), curveOrder)
	return s, nil
}

func (s *Scalar) Set(a group.Scalar) group.Scalar {
	s.v.Set(bigOf(a))
	return s
}

func (s *Scalar) SetUint64(v uint64) group.Scalar {
	s.v.SetUint64(v)
	return s
}

// Bytes is 32 bytes big-endian.
func (s *Scalar) Bytes() []byte {
	return s.v.FillBytes(make([]byte, scalarLength))
}

func (s *Scalar) SetBytes(data []byte) (group.Scalar, error) {
	if len(data) != scalarLength {
		return nil, errInvalidLength
	}
	var v big.Int
	if v.SetBytes(data).Cmp(curveOrder) >= 0 {
		return nil, errOutOfRange
	}
	s.v.Set(&v)
	return s, nil
}

func (s *Scalar) Equal(b group.Scalar) bool { return s.v.Cmp(bigOf(b)) == 0 }

func (s *Scalar) IsZero() bool { return s.v.Sign() == 0 }

// Point is an affine Baby Jubjub point. The identity is (0, 1).
type Point struct {
	p twistededwards.PointAffine
}

func affine(p group.Point) *twistededwards.PointAffine { return &p.(*Point).p }

func (p *Point) Add(a, b group.Point) group.Point {
	p.p.Add(affine(a), affine(b))
	return p
}

func (p *Point) Sub(a, b group.Point) group.Point {
	var neg twistededwards.PointAffine
	neg.Neg(affine(b))
	p.p.Add(affine(a), &neg)
	return p
}

func (p *Point) Negate(a group.Point) group.Point {
	p.p.Neg(affine(a))
	return p
}

func (p *Point) ScalarMult(s group.Scalar, q group.Point) group.Point {
	p.p.ScalarMultiplication(affine(q), bigOf(s))
	return p
}

func (p *Point) Set(a group.Point) group.Point {
	p.p.Set(affine(a))
	return p
}

// Bytes is gnark's compressed encoding.
func (p *Point) Bytes() []byte {
	enc := p.p.Bytes()
	return enc[:]
}

// SetBytes decodes a compressed point and checks [order]Q = O, computed as
// [order-1]Q + Q, so torsion points are rejected.
func (p *Point) SetBytes(data []byte) (group.Point, error) {
	if len(data) != elementLength {
		return nil, errInvalidLength
	}
	var q, check twistededwards.PointAffine
	if err := q.Unmarshal(data); err != nil {
		return nil, err
	}
	check.ScalarMultiplication(&q, new(big.Int).Sub(curveOrder, big.NewInt(1)))
	if !check.Add(&check, &q).IsZero() {
		return nil, errSubgroup
	}
	p.p = q
	return p, nil
}

func (p *Point) Equal(b group.Point) bool { return p.p.Equal(affine(b)) }

func (p *Point) IsIdentity() bool { return p.p.IsZero() }

// BJJ is the Baby Jubjub group with Blake2b-512 hash-to-scalar.
type BJJ struct{}

func New() *BJJ { return &BJJ{} }

func (*BJJ) Name() string { return "bjj" }

func (*BJJ) NewScalar() group.Scalar { return new(Scalar) }

func (*BJJ) NewPoint() group.Point {
	p := new(Point)
	p.p.X.SetZero()
	p.p.Y.SetOne()
	return p
}

func (*BJJ) Generator() group.Point {
	return &Point{p: twistededwards.GetEdwardsCurve().Base}
}

// RandomScalar reduces 48 random bytes, which keeps the modulo bias
// negligible, and retries on zero.
func (*BJJ) RandomScalar(r io.Reader) (group.Scalar, error) {
	var buf [48]byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, err
		}
		s := new(Scalar)
		s.v.SetBytes(buf[:])
		if !s.mod().IsZero() {
			return s, nil
		}
	}
}

// HashToScalar reads Blake2b-512(dst || msg...) as a little-endian integer
// and reduces it, the convention of the Ledger and iden3 implementations.
func (*BJJ) HashToScalar(dst []byte, msg ...[]byte) (group.Scalar, error) {
	h, err := blake2b.New512(nil)
	if err != nil {
		return nil, err
	}
	h.Write(dst)
	for _, m := range msg {
		h.Write(m)
	}
	digest := h.Sum(nil)
	for i, j := 0, len(digest)-1; i < j; i, j = i+1, j-1 {
		digest[i], digest[j] = digest[j], digest[i]
	}

	s := new(Scalar)
	s.v.SetBytes(digest)
	return s.mod(), nil
}

func (*BJJ) ScalarLength() int { return scalarLength }

func (*BJJ) ElementLength() int { return elementLength }

func (*BJJ) Order() []byte { return curveOrder.Bytes() }
