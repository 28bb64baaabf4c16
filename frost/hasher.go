package frost

import (
	"github.com/tangle-network/frost-blueprint/group"
)

// The hash functions below follow RFC 9591 section 6: every function except
// H2 on Ed25519 is domain separated by the context string and a short tag.

func (cs *Ciphersuite) dst(tag string) []byte {
	out := make([]byte, 0, len(cs.context)+len(tag))
	out = append(out, cs.context...)
	return append(out, tag...)
}

// h1 derives a binding factor.
func (cs *Ciphersuite) h1(m ...[]byte) (group.Scalar, error) {
	return cs.group.HashToScalar(cs.dst("rho"), m...)
}

// h2 derives the Schnorr challenge.
func (cs *Ciphersuite) h2(m ...[]byte) (group.Scalar, error) {
	return cs.group.HashToScalar(cs.chalDST, m...)
}

// h3 derives a nonce.
func (cs *Ciphersuite) h3(m ...[]byte) (group.Scalar, error) {
	return cs.group.HashToScalar(cs.dst("nonce"), m...)
}

// h4 hashes the message being signed.
func (cs *Ciphersuite) h4(m []byte) []byte {
	return cs.hash("msg", m)
}

// h5 hashes the encoded commitment list.
func (cs *Ciphersuite) h5(m []byte) []byte {
	return cs.hash("com", m)
}

// hdkg derives the challenge of the DKG proof of knowledge.
func (cs *Ciphersuite) hdkg(m ...[]byte) (group.Scalar, error) {
	return cs.group.HashToScalar(cs.dst("dkg"), m...)
}

func (cs *Ciphersuite) hash(tag string, m []byte) []byte {
	h := cs.digest()
	h.Write(cs.context)
	h.Write([]byte(tag))
	h.Write(m)
	return h.Sum(nil)
}
