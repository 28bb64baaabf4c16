package frost

import (
	"io"

	"github.com/pkg/errors"

	"github.com/tangle-network/frost-blueprint/group"
)

// Round1Package is broadcast by each participant in round 1 of the DKG. It
// commits to the participant's secret polynomial and proves knowledge of the
// constant term.
type Round1Package struct {
	Commitments []group.Point // C_k = a_k * G
	ProofR      group.Point
	ProofZ      group.Scalar
}

// Participant holds one party's secret state during DKG.
type Participant struct {
	id           Identifier
	coefficients []group.Scalar // our secret polynomial
	pkg          *Round1Package
}

// NewParticipant samples a random polynomial of degree t-1 for id and builds
// its round-1 package.
func (f *FROST) NewParticipant(r io.Reader, id Identifier) (*Participant, error) {
	if err := f.checkID(id); err != nil {
		return nil, err
	}

	coeffs := make([]group.Scalar, f.threshold)
	for i := range coeffs {
		c, err := f.group.RandomScalar(r)
		if err != nil {
			return nil, errors.Wrap(err, "sample coefficient")
		}
		coeffs[i] = c
	}

	commits := make([]group.Point, f.threshold)
	for i, c := range coeffs {
		commits[i] = f.group.NewPoint().ScalarMult(c, f.group.Generator())
	}

	// Schnorr proof of knowledge of a_0.
	k, err := f.group.RandomScalar(r)
	if err != nil {
		return nil, errors.Wrap(err, "sample proof nonce")
	}
	R := f.group.NewPoint().ScalarMult(k, f.group.Generator())
	c, err := f.dkgChallenge(id, commits[0], R)
	if err != nil {
		return nil, err
	}
	mu := f.group.NewScalar().Mul(coeffs[0], c)
	mu = f.group.NewScalar().Add(k, mu)
	zeroScalar(f.group, k)

	return &Participant{
		id:           id,
		coefficients: coeffs,
		pkg: &Round1Package{
			Commitments: commits,
			ProofR:      R,
			ProofZ:      mu,
		},
	}, nil
}

func (f *FROST) dkgChallenge(id Identifier, c0, R group.Point) (group.Scalar, error) {
	return f.suite.hdkg(f.scalarFromID(id).Bytes(), c0.Bytes(), R.Bytes())
}

// Identifier returns the participant's identifier.
func (p *Participant) Identifier() Identifier { return p.id }

// Round1Package returns the package to broadcast to all participants.
func (p *Participant) Round1Package() *Round1Package { return p.pkg }

// Zero overwrites the secret polynomial. The participant is unusable
// afterwards.
func (p *Participant) Zero(g group.Group) {
	for _, c := range p.coefficients {
		zeroScalar(g, c)
	}
	p.coefficients = nil
}

// VerifyRound1 checks the shape and proof of knowledge of a round-1 package
// received from a peer. Failures are returned as a [*CulpritError].
func (f *FROST) VerifyRound1(from Identifier, pkg *Round1Package) error {
	if err := f.checkID(from); err != nil {
		return err
	}
	if pkg == nil || len(pkg.Commitments) != f.threshold {
		return culprit(from, errors.Wrap(ErrInvalidCommitment, "wrong number of commitments"))
	}
	for _, c := range pkg.Commitments {
		if c == nil || c.IsIdentity() {
			return culprit(from, errors.Wrap(ErrInvalidCommitment, "identity commitment"))
		}
	}
	if pkg.ProofR == nil || pkg.ProofZ == nil {
		return culprit(from, ErrInvalidProof)
	}

	c, err := f.dkgChallenge(from, pkg.Commitments[0], pkg.ProofR)
	if err != nil {
		return err
	}
	// R == mu*G - c*C_0
	expected := f.group.NewPoint().ScalarMult(pkg.ProofZ, f.group.Generator())
	cC0 := f.group.NewPoint().ScalarMult(c, pkg.Commitments[0])
	expected = f.group.NewPoint().Sub(expected, cC0)
	if !expected.Equal(pkg.ProofR) {
		return culprit(from, ErrInvalidProof)
	}
	return nil
}

// Share returns f_p(recipient), the secret share p sends privately to
// recipient in round 2.
func (f *FROST) Share(p *Participant, recipient Identifier) (group.Scalar, error) {
	if err := f.checkID(recipient); err != nil {
		return nil, err
	}
	if p.coefficients == nil {
		return nil, errors.New("participant state has been zeroed")
	}
	return f.evalPolynomial(p.coefficients, f.scalarFromID(recipient)), nil
}

// VerifyShare checks a share received by self from sender against the
// sender's round-1 commitments: share*G == Σ C_k * self^k.
func (f *FROST) VerifyShare(self, from Identifier, share group.Scalar, senderCommitments []group.Point) error {
	if share == nil {
		return culprit(from, ErrInvalidShare)
	}
	lhs := f.group.NewPoint().ScalarMult(share, f.group.Generator())
	rhs := f.evalCommitment(senderCommitments, f.scalarFromID(self))
	if !lhs.Equal(rhs) {
		return culprit(from, ErrInvalidShare)
	}
	return nil
}

// Finalize combines the participant's own polynomial with the shares and
// round-1 packages received from every other participant.
func (f *FROST) Finalize(
	p *Participant,
	shares map[Identifier]group.Scalar,
	packages map[Identifier]*Round1Package,
) (*KeyPackage, *PublicKeyPackage, error) {
	if p.coefficients == nil {
		return nil, nil, errors.New("participant state has been zeroed")
	}

	all := make(map[Identifier]*Round1Package, f.total)
	for id, pkg := range packages {
		all[id] = pkg
	}
	all[p.id] = p.pkg

	for id := Identifier(1); int(id) <= f.total; id++ {
		if _, ok := all[id]; !ok {
			return nil, nil, errors.Wrapf(ErrMissingData, "round-1 package from %d", id)
		}
		if id == p.id {
			continue
		}
		if _, ok := shares[id]; !ok {
			return nil, nil, errors.Wrapf(ErrMissingData, "share from %d", id)
		}
	}

	// Sum all received shares, including our own.
	self := f.scalarFromID(p.id)
	signingShare := f.evalPolynomial(p.coefficients, self)
	for _, id := range sortedIDs(shares) {
		if id == p.id {
			continue
		}
		if err := f.VerifyShare(p.id, id, shares[id], all[id].Commitments); err != nil {
			return nil, nil, err
		}
		signingShare = f.group.NewScalar().Add(signingShare, shares[id])
	}

	// Coefficient-wise sum of every commitment vector.
	summed := make([]group.Point, f.threshold)
	for k := range summed {
		summed[k] = f.group.NewPoint()
	}
	for _, id := range sortedIDs(all) {
		for k, c := range all[id].Commitments {
			summed[k] = f.group.NewPoint().Add(summed[k], c)
		}
	}

	verifyingKey := summed[0]
	verifyingShares := make(map[Identifier]group.Point, f.total)
	for id := Identifier(1); int(id) <= f.total; id++ {
		verifyingShares[id] = f.evalCommitment(summed, f.scalarFromID(id))
	}

	own := f.group.NewPoint().ScalarMult(signingShare, f.group.Generator())
	if !own.Equal(verifyingShares[p.id]) {
		return nil, nil, errors.Wrap(ErrInvalidShare, "signing share does not match verifying share")
	}

	kp := &KeyPackage{
		Identifier:     p.id,
		SigningShare:   signingShare,
		VerifyingShare: own,
		VerifyingKey:   verifyingKey,
		MinSigners:     uint16(f.threshold),
	}
	pub := &PublicKeyPackage{
		VerifyingShares: verifyingShares,
		VerifyingKey:    verifyingKey,
	}
	return kp, pub, nil
}
