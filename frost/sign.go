package frost

import (
	"io"
	"sort"

	"github.com/pkg/errors"

	"github.com/tangle-network/frost-blueprint/group"
)

// SigningNonces holds a signer's secret nonce pair. Nonces are single use:
// [FROST.Sign] zeroes them.
type SigningNonces struct {
	Hiding  group.Scalar
	Binding group.Scalar
	used    bool
}

// SigningCommitments is broadcast in round 1 of signing.
type SigningCommitments struct {
	Identifier Identifier
	Hiding     group.Point // d * G
	Binding    group.Point // e * G
}

// SignatureShare is a participant's share of the signature.
type SignatureShare struct {
	Identifier Identifier
	Z          group.Scalar
}

// Zero overwrites the nonces and marks them used.
func (n *SigningNonces) Zero(g group.Group) {
	zeroScalar(g, n.Hiding)
	zeroScalar(g, n.Binding)
	n.used = true
}

// nonceGenerate derives a nonce from 32 fresh random bytes and the signing
// share, so a weak RNG alone does not leak the share.
func (f *FROST) nonceGenerate(r io.Reader, secret group.Scalar) (group.Scalar, error) {
	var buf [32]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, errors.Wrap(err, "read nonce randomness")
	}
	return f.suite.h3(buf[:], secret.Bytes())
}

// Commit generates nonces and commitments for one signing operation.
func (f *FROST) Commit(r io.Reader, kp *KeyPackage) (*SigningNonces, *SigningCommitments, error) {
	d, err := f.nonceGenerate(r, kp.SigningShare)
	if err != nil {
		return nil, nil, err
	}
	e, err := f.nonceGenerate(r, kp.SigningShare)
	if err != nil {
		return nil, nil, err
	}

	nonces := &SigningNonces{Hiding: d, Binding: e}
	commitments := &SigningCommitments{
		Identifier: kp.Identifier,
		Hiding:     f.group.NewPoint().ScalarMult(d, f.group.Generator()),
		Binding:    f.group.NewPoint().ScalarMult(e, f.group.Generator()),
	}
	return nonces, commitments, nil
}

// signingPackage is the per-message state every signer and the aggregator
// derive identically from the commitment list.
type signingPackage struct {
	ids         []Identifier
	commitments map[Identifier]*SigningCommitments
	rho         map[Identifier]group.Scalar
	R           group.Point
	challenge   group.Scalar
}

func (f *FROST) newSigningPackage(
	message []byte,
	commitments []*SigningCommitments,
	verifyingKey group.Point,
) (*signingPackage, error) {
	if len(commitments) < f.threshold {
		return nil, errors.Wrapf(ErrMissingData, "%d commitments, need %d", len(commitments), f.threshold)
	}

	sorted := make([]*SigningCommitments, len(commitments))
	copy(sorted, commitments)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Identifier < sorted[j].Identifier })

	sp := &signingPackage{
		ids:         make([]Identifier, 0, len(sorted)),
		commitments: make(map[Identifier]*SigningCommitments, len(sorted)),
		rho:         make(map[Identifier]group.Scalar, len(sorted)),
	}

	var encoded []byte
	for _, c := range sorted {
		if err := f.checkID(c.Identifier); err != nil {
			return nil, err
		}
		if _, dup := sp.commitments[c.Identifier]; dup {
			return nil, errors.Wrapf(ErrInvalidIdentifier, "duplicate commitment from %d", c.Identifier)
		}
		if c.Hiding == nil || c.Binding == nil || c.Hiding.IsIdentity() || c.Binding.IsIdentity() {
			return nil, culprit(c.Identifier, ErrInvalidCommitment)
		}
		sp.ids = append(sp.ids, c.Identifier)
		sp.commitments[c.Identifier] = c
		encoded = append(encoded, f.scalarFromID(c.Identifier).Bytes()...)
		encoded = append(encoded, c.Hiding.Bytes()...)
		encoded = append(encoded, c.Binding.Bytes()...)
	}

	prefix := make([]byte, 0, 256)
	prefix = append(prefix, verifyingKey.Bytes()...)
	prefix = append(prefix, f.suite.h4(message)...)
	prefix = append(prefix, f.suite.h5(encoded)...)

	R := f.group.NewPoint()
	for _, id := range sp.ids {
		rho, err := f.suite.h1(prefix, f.scalarFromID(id).Bytes())
		if err != nil {
			return nil, err
		}
		sp.rho[id] = rho

		c := sp.commitments[id]
		term := f.group.NewPoint().ScalarMult(rho, c.Binding)
		term = f.group.NewPoint().Add(c.Hiding, term)
		R = f.group.NewPoint().Add(R, term)
	}
	sp.R = R

	challenge, err := f.suite.h2(R.Bytes(), verifyingKey.Bytes(), message)
	if err != nil {
		return nil, err
	}
	sp.challenge = challenge
	return sp, nil
}

// Sign computes kp's signature share over message. The nonces are zeroed
// and cannot be used again.
func (f *FROST) Sign(
	kp *KeyPackage,
	nonces *SigningNonces,
	message []byte,
	commitments []*SigningCommitments,
) (*SignatureShare, error) {
	if nonces == nil || nonces.used {
		return nil, ErrNoncesUsed
	}
	defer nonces.Zero(f.group)

	sp, err := f.newSigningPackage(message, commitments, kp.VerifyingKey)
	if err != nil {
		return nil, err
	}

	own, ok := sp.commitments[kp.Identifier]
	if !ok {
		return nil, errors.Wrapf(ErrMissingData, "no commitment from signer %d", kp.Identifier)
	}
	hidingG := f.group.NewPoint().ScalarMult(nonces.Hiding, f.group.Generator())
	bindingG := f.group.NewPoint().ScalarMult(nonces.Binding, f.group.Generator())
	if !own.Hiding.Equal(hidingG) || !own.Binding.Equal(bindingG) {
		return nil, errors.Wrap(ErrInvalidCommitment, "own commitment does not match nonces")
	}

	lambda, err := f.lagrangeCoefficient(kp.Identifier, sp.ids)
	if err != nil {
		return nil, err
	}

	// z_i = d + e*rho + lambda*s*c
	z := f.group.NewScalar().Mul(nonces.Binding, sp.rho[kp.Identifier])
	z = f.group.NewScalar().Add(nonces.Hiding, z)
	lambdaS := f.group.NewScalar().Mul(lambda, kp.SigningShare)
	lambdaSC := f.group.NewScalar().Mul(lambdaS, sp.challenge)
	z = f.group.NewScalar().Add(z, lambdaSC)

	return &SignatureShare{Identifier: kp.Identifier, Z: z}, nil
}

// VerifySignatureShare checks z_i*G == D_i + rho_i*E_i + lambda_i*c*Y_i.
func (f *FROST) VerifySignatureShare(
	share *SignatureShare,
	message []byte,
	commitments []*SigningCommitments,
	pub *PublicKeyPackage,
) error {
	sp, err := f.newSigningPackage(message, commitments, pub.VerifyingKey)
	if err != nil {
		return err
	}
	return f.verifyShare(sp, share, pub)
}

func (f *FROST) verifyShare(sp *signingPackage, share *SignatureShare, pub *PublicKeyPackage) error {
	id := share.Identifier
	comm, ok := sp.commitments[id]
	if !ok {
		return errors.Wrapf(ErrMissingData, "no commitment from %d", id)
	}
	Y, ok := pub.VerifyingShares[id]
	if !ok {
		return errors.Wrapf(ErrMissingData, "no verifying share for %d", id)
	}
	if share.Z == nil {
		return culprit(id, ErrInvalidSigShare)
	}
	lambda, err := f.lagrangeCoefficient(id, sp.ids)
	if err != nil {
		return err
	}

	lhs := f.group.NewPoint().ScalarMult(share.Z, f.group.Generator())

	rhs := f.group.NewPoint().ScalarMult(sp.rho[id], comm.Binding)
	rhs = f.group.NewPoint().Add(comm.Hiding, rhs)
	lc := f.group.NewScalar().Mul(lambda, sp.challenge)
	rhs = f.group.NewPoint().Add(rhs, f.group.NewPoint().ScalarMult(lc, Y))

	if !lhs.Equal(rhs) {
		return culprit(id, ErrInvalidSigShare)
	}
	return nil
}

// Aggregate combines signature shares into the group signature and verifies
// it. When the result does not verify, every share is checked and a
// [*CulpritError] names the lowest offending identifier.
func (f *FROST) Aggregate(
	message []byte,
	commitments []*SigningCommitments,
	shares []*SignatureShare,
	pub *PublicKeyPackage,
) (*Signature, error) {
	sp, err := f.newSigningPackage(message, commitments, pub.VerifyingKey)
	if err != nil {
		return nil, err
	}
	if len(shares) != len(sp.ids) {
		return nil, errors.Wrapf(ErrMissingData, "%d shares for %d commitments", len(shares), len(sp.ids))
	}

	byID := make(map[Identifier]*SignatureShare, len(shares))
	for _, s := range shares {
		if _, ok := sp.commitments[s.Identifier]; !ok {
			return nil, errors.Wrapf(ErrMissingData, "share from %d without commitment", s.Identifier)
		}
		if _, dup := byID[s.Identifier]; dup {
			return nil, errors.Wrapf(ErrInvalidIdentifier, "duplicate share from %d", s.Identifier)
		}
		if s.Z == nil {
			return nil, culprit(s.Identifier, ErrInvalidSigShare)
		}
		byID[s.Identifier] = s
	}

	z := f.group.NewScalar()
	for _, id := range sp.ids {
		z = f.group.NewScalar().Add(z, byID[id].Z)
	}
	sig := &Signature{R: sp.R, Z: z}

	if f.Verify(message, sig, pub.VerifyingKey) {
		return sig, nil
	}

	for _, id := range sp.ids {
		if err := f.verifyShare(sp, byID[id], pub); err != nil {
			return nil, err
		}
	}
	return nil, ErrInvalidSignature
}

// Verify checks a Schnorr signature against the group verifying key.
func (f *FROST) Verify(message []byte, sig *Signature, verifyingKey group.Point) bool {
	return f.suite.Verify(message, sig, verifyingKey)
}

// Verify checks a Schnorr signature produced under cs.
func (cs *Ciphersuite) Verify(message []byte, sig *Signature, verifyingKey group.Point) bool {
	if sig == nil || sig.R == nil || sig.Z == nil || verifyingKey == nil {
		return false
	}
	g := cs.group
	c, err := cs.h2(sig.R.Bytes(), verifyingKey.Bytes(), message)
	if err != nil {
		return false
	}

	// z*G == R + c*Y
	lhs := g.NewPoint().ScalarMult(sig.Z, g.Generator())
	cY := g.NewPoint().ScalarMult(c, verifyingKey)
	rhs := g.NewPoint().Add(sig.R, cY)
	return lhs.Equal(rhs)
}
