package frost

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/tangle-network/frost-blueprint/group"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}).DecMode(); err != nil {
		panic(err)
	}
}

type round1Wire struct {
	Commitments [][]byte `cbor:"1,keyasint"`
	ProofR      []byte   `cbor:"2,keyasint"`
	ProofZ      []byte   `cbor:"3,keyasint"`
}

type commitmentsWire struct {
	Identifier uint16 `cbor:"1,keyasint"`
	Hiding     []byte `cbor:"2,keyasint"`
	Binding    []byte `cbor:"3,keyasint"`
}

type sigShareWire struct {
	Identifier uint16 `cbor:"1,keyasint"`
	Z          []byte `cbor:"2,keyasint"`
}

type keyPackageWire struct {
	Identifier     uint16 `cbor:"1,keyasint"`
	SigningShare   []byte `cbor:"2,keyasint"`
	VerifyingShare []byte `cbor:"3,keyasint"`
	VerifyingKey   []byte `cbor:"4,keyasint"`
	MinSigners     uint16 `cbor:"5,keyasint"`
}

type publicKeyPackageWire struct {
	VerifyingShares map[uint16][]byte `cbor:"1,keyasint"`
	VerifyingKey    []byte            `cbor:"2,keyasint"`
}

func (cs *Ciphersuite) decodeScalar(b []byte) (group.Scalar, error) {
	s, err := cs.group.NewScalar().SetBytes(b)
	if err != nil {
		return nil, errors.Wrap(ErrEncoding, err.Error())
	}
	return s, nil
}

// decodeElement decodes a point and rejects the identity, which never
// appears in a well-formed FROST message.
func (cs *Ciphersuite) decodeElement(b []byte) (group.Point, error) {
	p, err := cs.group.NewPoint().SetBytes(b)
	if err != nil {
		return nil, errors.Wrap(ErrEncoding, err.Error())
	}
	if p.IsIdentity() {
		return nil, errors.Wrap(ErrEncoding, "identity element")
	}
	return p, nil
}

func (cs *Ciphersuite) unmarshal(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return errors.Wrap(ErrEncoding, err.Error())
	}
	return nil
}

// Encode serializes a round-1 package.
func (p *Round1Package) Encode() ([]byte, error) {
	w := round1Wire{
		Commitments: make([][]byte, len(p.Commitments)),
		ProofR:      p.ProofR.Bytes(),
		ProofZ:      p.ProofZ.Bytes(),
	}
	for i, c := range p.Commitments {
		w.Commitments[i] = c.Bytes()
	}
	return encMode.Marshal(w)
}

// DecodeRound1Package parses a round-1 package.
func (cs *Ciphersuite) DecodeRound1Package(data []byte) (*Round1Package, error) {
	var w round1Wire
	if err := cs.unmarshal(data, &w); err != nil {
		return nil, err
	}
	p := &Round1Package{Commitments: make([]group.Point, len(w.Commitments))}
	var err error
	for i, c := range w.Commitments {
		if p.Commitments[i], err = cs.decodeElement(c); err != nil {
			return nil, err
		}
	}
	if p.ProofR, err = cs.decodeElement(w.ProofR); err != nil {
		return nil, err
	}
	if p.ProofZ, err = cs.decodeScalar(w.ProofZ); err != nil {
		return nil, err
	}
	return p, nil
}

// EncodeScalar serializes a secret share sent in DKG round 2.
func (cs *Ciphersuite) EncodeScalar(s group.Scalar) []byte {
	return s.Bytes()
}

// DecodeScalar parses a secret share sent in DKG round 2.
func (cs *Ciphersuite) DecodeScalar(data []byte) (group.Scalar, error) {
	return cs.decodeScalar(data)
}

// Encode serializes signing commitments.
func (c *SigningCommitments) Encode() ([]byte, error) {
	return encMode.Marshal(commitmentsWire{
		Identifier: uint16(c.Identifier),
		Hiding:     c.Hiding.Bytes(),
		Binding:    c.Binding.Bytes(),
	})
}

// DecodeSigningCommitments parses signing commitments.
func (cs *Ciphersuite) DecodeSigningCommitments(data []byte) (*SigningCommitments, error) {
	var w commitmentsWire
	if err := cs.unmarshal(data, &w); err != nil {
		return nil, err
	}
	c := &SigningCommitments{Identifier: Identifier(w.Identifier)}
	var err error
	if c.Hiding, err = cs.decodeElement(w.Hiding); err != nil {
		return nil, err
	}
	if c.Binding, err = cs.decodeElement(w.Binding); err != nil {
		return nil, err
	}
	return c, nil
}

// Encode serializes a signature share.
func (s *SignatureShare) Encode() ([]byte, error) {
	return encMode.Marshal(sigShareWire{Identifier: uint16(s.Identifier), Z: s.Z.Bytes()})
}

// DecodeSignatureShare parses a signature share.
func (cs *Ciphersuite) DecodeSignatureShare(data []byte) (*SignatureShare, error) {
	var w sigShareWire
	if err := cs.unmarshal(data, &w); err != nil {
		return nil, err
	}
	z, err := cs.decodeScalar(w.Z)
	if err != nil {
		return nil, err
	}
	return &SignatureShare{Identifier: Identifier(w.Identifier), Z: z}, nil
}

// Encode serializes the key package, including the secret signing share.
func (kp *KeyPackage) Encode() ([]byte, error) {
	return encMode.Marshal(keyPackageWire{
		Identifier:     uint16(kp.Identifier),
		SigningShare:   kp.SigningShare.Bytes(),
		VerifyingShare: kp.VerifyingShare.Bytes(),
		VerifyingKey:   kp.VerifyingKey.Bytes(),
		MinSigners:     kp.MinSigners,
	})
}

// DecodeKeyPackage parses a key package.
func (cs *Ciphersuite) DecodeKeyPackage(data []byte) (*KeyPackage, error) {
	var w keyPackageWire
	if err := cs.unmarshal(data, &w); err != nil {
		return nil, err
	}
	if w.Identifier == 0 || w.MinSigners == 0 {
		return nil, errors.Wrap(ErrEncoding, "zero identifier or threshold")
	}
	kp := &KeyPackage{Identifier: Identifier(w.Identifier), MinSigners: w.MinSigners}
	var err error
	if kp.SigningShare, err = cs.decodeScalar(w.SigningShare); err != nil {
		return nil, err
	}
	if kp.VerifyingShare, err = cs.decodeElement(w.VerifyingShare); err != nil {
		return nil, err
	}
	if kp.VerifyingKey, err = cs.decodeElement(w.VerifyingKey); err != nil {
		return nil, err
	}
	return kp, nil
}

// Encode serializes the public key package. Map keys are sorted by the
// deterministic encoder, so every participant produces identical bytes.
func (pub *PublicKeyPackage) Encode() ([]byte, error) {
	w := publicKeyPackageWire{
		VerifyingShares: make(map[uint16][]byte, len(pub.VerifyingShares)),
		VerifyingKey:    pub.VerifyingKey.Bytes(),
	}
	for id, p := range pub.VerifyingShares {
		w.VerifyingShares[uint16(id)] = p.Bytes()
	}
	return encMode.Marshal(w)
}

// DecodePublicKeyPackage parses a public key package.
func (cs *Ciphersuite) DecodePublicKeyPackage(data []byte) (*PublicKeyPackage, error) {
	var w publicKeyPackageWire
	if err := cs.unmarshal(data, &w); err != nil {
		return nil, err
	}
	pub := &PublicKeyPackage{VerifyingShares: make(map[Identifier]group.Point, len(w.VerifyingShares))}
	var err error
	for id, b := range w.VerifyingShares {
		if id == 0 {
			return nil, errors.Wrap(ErrEncoding, "zero identifier")
		}
		if pub.VerifyingShares[Identifier(id)], err = cs.decodeElement(b); err != nil {
			return nil, err
		}
	}
	if pub.VerifyingKey, err = cs.decodeElement(w.VerifyingKey); err != nil {
		return nil, err
	}
	return pub, nil
}

// Bytes returns the raw signature encoding R || z.
func (sig *Signature) Bytes() []byte {
	r := sig.R.Bytes()
	z := sig.Z.Bytes()
	out := make([]byte, 0, len(r)+len(z))
	out = append(out, r...)
	return append(out, z...)
}

// DecodeSignature parses a raw R || z signature.
func (cs *Ciphersuite) DecodeSignature(data []byte) (*Signature, error) {
	el, sl := cs.group.ElementLength(), cs.group.ScalarLength()
	if len(data) != el+sl {
		return nil, errors.Wrapf(ErrEncoding, "signature has %d bytes, want %d", len(data), el+sl)
	}
	R, err := cs.decodeElement(data[:el])
	if err != nil {
		return nil, err
	}
	z, err := cs.decodeScalar(data[el:])
	if err != nil {
		return nil, err
	}
	return &Signature{R: R, Z: z}, nil
}
