// Package grouptest provides a conformance suite that every [group.Group]
// implementation runs from its own tests.
package grouptest

import (
	"crypto/rand"
	"testing"

	"github.com/tangle-network/frost-blueprint/group"
)

// Run exercises scalar and point arithmetic and encodings of g.
func Run(t *testing.T, g group.Group) {
	t.Helper()
	t.Run("Scalar", func(t *testing.T) { testScalar(t, g) })
	t.Run("Point", func(t *testing.T) { testPoint(t, g) })
	t.Run("HashToScalar", func(t *testing.T) { testHash(t, g) })
}

func randomScalar(t *testing.T, g group.Group) group.Scalar {
	t.Helper()
	s, err := g.RandomScalar(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func testScalar(t *testing.T, g group.Group) {
	t.Run("AddSub", func(t *testing.T) {
		a := randomScalar(t, g)
		b := randomScalar(t, g)

		sum := g.NewScalar().Add(a, b)
		diff := g.NewScalar().Sub(sum, b)
		if !diff.Equal(a) {
			t.Error("(a+b)-b != a")
		}
	})

	t.Run("MulInvert", func(t *testing.T) {
		a := randomScalar(t, g)
		aInv, err := g.NewScalar().Invert(a)
		if err != nil {
			t.Fatal(err)
		}
		product := g.NewScalar().Mul(a, aInv)
		one := g.NewScalar().SetUint64(1)
		if !product.Equal(one) {
			t.Error("a*a^-1 != 1")
		}
	})

	t.Run("InvertZeroFails", func(t *testing.T) {
		if _, err := g.NewScalar().Invert(g.NewScalar()); err == nil {
			t.Error("expected error inverting zero")
		}
	})

	t.Run("Negate", func(t *testing.T) {
		a := randomScalar(t, g)
		negA := g.NewScalar().Negate(a)
		if !g.NewScalar().Add(a, negA).IsZero() {
			t.Error("a + (-a) != 0")
		}
		if a.Equal(negA) {
			t.Error("a should not equal -a")
		}
	})

	t.Run("SetUint64", func(t *testing.T) {
		two := g.NewScalar().SetUint64(2)
		one := g.NewScalar().SetUint64(1)
		if !g.NewScalar().Add(one, one).Equal(two) {
			t.Error("1+1 != 2")
		}
	})

	t.Run("BytesRoundtrip", func(t *testing.T) {
		a := randomScalar(t, g)
		enc := a.Bytes()
		if len(enc) != g.ScalarLength() {
			t.Fatalf("scalar encoding has %d bytes, want %d", len(enc), g.ScalarLength())
		}
		restored, err := g.NewScalar().SetBytes(enc)
		if err != nil {
			t.Fatal(err)
		}
		if !restored.Equal(a) {
			t.Error("scalar bytes roundtrip failed")
		}
	})

	t.Run("RejectsWrongLength", func(t *testing.T) {
		if _, err := g.NewScalar().SetBytes(make([]byte, g.ScalarLength()+1)); err == nil {
			t.Error("expected error for oversized scalar")
		}
	})

	t.Run("NewScalarIsZero", func(t *testing.T) {
		if !g.NewScalar().IsZero() {
			t.Error("new scalar should be zero")
		}
	})
}

func testPoint(t *testing.T, g group.Group) {
	t.Run("AddSub", func(t *testing.T) {
		P := g.NewPoint().ScalarMult(randomScalar(t, g), g.Generator())
		Q := g.NewPoint().ScalarMult(randomScalar(t, g), g.Generator())

		sum := g.NewPoint().Add(P, Q)
		diff := g.NewPoint().Sub(sum, Q)
		if !diff.Equal(P) {
			t.Error("(P+Q)-Q != P")
		}
	})

	t.Run("Distributive", func(t *testing.T) {
		a := randomScalar(t, g)
		b := randomScalar(t, g)
		lhs := g.NewPoint().ScalarMult(g.NewScalar().Add(a, b), g.Generator())
		rhs := g.NewPoint().Add(
			g.NewPoint().ScalarMult(a, g.Generator()),
			g.NewPoint().ScalarMult(b, g.Generator()),
		)
		if !lhs.Equal(rhs) {
			t.Error("(a+b)G != aG + bG")
		}
	})

	t.Run("Negate", func(t *testing.T) {
		P := g.NewPoint().ScalarMult(randomScalar(t, g), g.Generator())
		negP := g.NewPoint().Negate(P)
		if !g.NewPoint().Add(P, negP).IsIdentity() {
			t.Error("P + (-P) != identity")
		}
	})

	t.Run("IdentityArithmetic", func(t *testing.T) {
		P := g.NewPoint().ScalarMult(randomScalar(t, g), g.Generator())
		if !g.NewPoint().Add(P, g.NewPoint()).Equal(P) {
			t.Error("P + identity != P")
		}
		if !g.NewPoint().ScalarMult(g.NewScalar(), P).IsIdentity() {
			t.Error("0*P != identity")
		}
	})

	t.Run("BytesRoundtrip", func(t *testing.T) {
		P := g.NewPoint().ScalarMult(randomScalar(t, g), g.Generator())
		enc := P.Bytes()
		if len(enc) != g.ElementLength() {
			t.Fatalf("point encoding has %d bytes, want %d", len(enc), g.ElementLength())
		}
		restored, err := g.NewPoint().SetBytes(enc)
		if err != nil {
			t.Fatal(err)
		}
		if !restored.Equal(P) {
			t.Error("point bytes roundtrip failed")
		}
	})

	t.Run("IsIdentity", func(t *testing.T) {
		if !g.NewPoint().IsIdentity() {
			t.Error("new point should be identity")
		}
		if g.Generator().IsIdentity() {
			t.Error("generator should not be identity")
		}
	})
}

func testHash(t *testing.T, g group.Group) {
	a, err := g.HashToScalar([]byte("dst"), []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := g.HashToScalar([]byte("dst"), []byte("hel"), []byte("lo"))
	if err != nil {
		t.Fatal(err)
	}
	if !a.Equal(b) {
		t.Error("hash should be over the concatenation of its inputs")
	}
	c, err := g.HashToScalar([]byte("other"), []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if a.Equal(c) {
		t.Error("domain separation tag did not change the output")
	}
}
