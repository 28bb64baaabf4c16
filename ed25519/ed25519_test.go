package ed25519

import (
	"encoding/hex"
	"testing"

	"github.com/tangle-network/frost-blueprint/group/grouptest"
)

func TestGroup(t *testing.T) {
	grouptest.Run(t, New())
}

func TestPointDecoding(t *testing.T) {
	g := New()

	t.Run("RejectsSmallOrder", func(t *testing.T) {
		// (0, -1) has order 2
		enc, _ := hex.DecodeString("ecffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff7f")
		if _, err := g.NewPoint().SetBytes(enc); err == nil {
			t.Error("expected small-order point to be rejected")
		}
	})

	t.Run("RejectsNonCanonical", func(t *testing.T) {
		// y = p encodes the same point as y = 0
		enc, _ := hex.DecodeString("edffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff7f")
		if _, err := g.NewPoint().SetBytes(enc); err == nil {
			t.Error("expected non-canonical encoding to be rejected")
		}
	})

	t.Run("RejectsOutOfRangeScalar", func(t *testing.T) {
		enc := make([]byte, 32)
		for i := range enc {
			enc[i] = 0xff
		}
		if _, err := g.NewScalar().SetBytes(enc); err == nil {
			t.Error("expected scalar >= l to be rejected")
		}
	})
}
