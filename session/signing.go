package session

import (
	"crypto/rand"
	"io"
	"sort"

	"github.com/pkg/errors"

	"github.com/tangle-network/frost-blueprint/frost"
	"github.com/tangle-network/frost-blueprint/party"
	"github.com/tangle-network/frost-blueprint/wire"
)

// SigningConfig describes one signing ceremony.
type SigningConfig struct {
	SessionID        wire.SessionID
	Suite            *frost.Ciphersuite
	KeyPackage       *frost.KeyPackage
	PublicKeyPackage *frost.PublicKeyPackage
	// Signers is the signer subset, as indices of the keygen participant set.
	Signers []party.Index
	Message []byte
	// Rand defaults to crypto/rand.
	Rand io.Reader
}

// Signing runs the two-round FROST signing protocol for one signer.
//
// Round 1 broadcasts nonce commitments. Once every signer's commitments are
// in, the signature share is computed, the nonces are destroyed and the
// share is broadcast. Every signer aggregates and verifies the signature
// locally; an invalid aggregate names the signer whose share is
// inconsistent.
type Signing struct {
	rounds
	cfg         SigningConfig
	frost       *frost.FROST
	signers     []party.Index
	nonces      *frost.SigningNonces
	commitments map[party.Index]*frost.SigningCommitments
	shares      map[party.Index]*frost.SignatureShare
	signature   *frost.Signature
}

// NewSigning validates cfg and returns a Pending session.
func NewSigning(cfg SigningConfig) (*Signing, error) {
	if cfg.Suite == nil || cfg.KeyPackage == nil || cfg.PublicKeyPackage == nil {
		return nil, errors.New("signing: ciphersuite and key material are required")
	}
	kp := cfg.KeyPackage
	self := party.Index(kp.Identifier)

	signers := append([]party.Index(nil), cfg.Signers...)
	sort.Slice(signers, func(i, j int) bool { return signers[i] < signers[j] })
	isSigner := false
	for i, s := range signers {
		if i > 0 && signers[i-1] == s {
			return nil, errors.Errorf("signing: duplicate signer %d", s)
		}
		if _, ok := cfg.PublicKeyPackage.VerifyingShares[frost.Identifier(s)]; !ok {
			return nil, errors.Errorf("signing: signer %d is not a key holder", s)
		}
		if s == self {
			isSigner = true
		}
	}
	if !isSigner {
		return nil, errors.Errorf("signing: own index %d is not in the signer subset", self)
	}
	if len(signers) < int(kp.MinSigners) {
		return nil, errors.Errorf("signing: %d signers, threshold is %d", len(signers), kp.MinSigners)
	}

	f, err := frost.New(cfg.Suite, int(kp.MinSigners), len(cfg.PublicKeyPackage.VerifyingShares))
	if err != nil {
		return nil, errors.Wrap(err, "signing")
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}
	cfg.Message = append([]byte(nil), cfg.Message...)

	return &Signing{
		rounds:      newRounds(cfg.SessionID, self, signers, nil),
		cfg:         cfg,
		frost:       f,
		signers:     signers,
		commitments: make(map[party.Index]*frost.SigningCommitments, len(signers)),
		shares:      make(map[party.Index]*frost.SignatureShare, len(signers)),
	}, nil
}

// Aggregator returns the lowest signer index. Every signer aggregates, but
// only the aggregator's result is submitted externally.
func (s *Signing) Aggregator() party.Index { return s.signers[0] }

// Signers returns the signer subset in ascending order.
func (s *Signing) Signers() []party.Index {
	return append([]party.Index(nil), s.signers...)
}

// Start generates fresh nonces and returns the round-1 broadcast.
func (s *Signing) Start() ([]Outgoing, error) {
	if s.status != Pending {
		return nil, errors.New("signing: already started")
	}
	nonces, comm, err := s.frost.Commit(s.cfg.Rand, s.cfg.KeyPackage)
	if err != nil {
		return nil, errors.Wrap(err, "signing: round 1")
	}
	payload, err := comm.Encode()
	if err != nil {
		nonces.Zero(s.cfg.Suite.Group())
		return nil, errors.Wrap(err, "signing: encode round 1")
	}
	s.nonces = nonces
	s.commitments[s.self] = comm
	s.status = Round1Collecting

	out := []Outgoing{{Round: Round1, Recipient: party.Broadcast, Payload: payload}}
	return append(out, s.advance()...), nil
}

// Handle applies one inbound message. A returned error is always a
// [*Violation]; fatal outcomes are reported through Status and Failure.
func (s *Signing) Handle(msg *wire.RoundMessage) ([]Outgoing, error) {
	ok, err := s.admit(msg)
	if !ok {
		return nil, err
	}
	s.process(msg)
	return s.advance(), nil
}

func (s *Signing) process(msg *wire.RoundMessage) {
	switch msg.Round {
	case Round1:
		comm, err := s.cfg.Suite.DecodeSigningCommitments(msg.Payload)
		if err != nil {
			s.abort(cheater(msg.Sender, err))
			return
		}
		if party.Index(comm.Identifier) != msg.Sender {
			s.abort(cheater(msg.Sender, errors.Errorf("commitments claim identifier %d", comm.Identifier)))
			return
		}
		s.commitments[msg.Sender] = comm

	case Round2:
		share, err := s.cfg.Suite.DecodeSignatureShare(msg.Payload)
		if err != nil {
			s.abort(cheater(msg.Sender, err))
			return
		}
		if party.Index(share.Identifier) != msg.Sender {
			s.abort(cheater(msg.Sender, errors.Errorf("share claims identifier %d", share.Identifier)))
			return
		}
		s.shares[msg.Sender] = share
	}
}

func (s *Signing) advance() []Outgoing {
	var out []Outgoing
	for {
		switch {
		case s.status == Round1Collecting && len(s.commitments) == len(s.signers):
			share, err := s.frost.Sign(s.cfg.KeyPackage, s.nonces, s.cfg.Message, s.commitmentList())
			s.nonces = nil
			if err != nil {
				s.abort(failureFrom(err))
				return out
			}
			payload, err := share.Encode()
			if err != nil {
				s.abort(&Failure{Kind: InvalidInput, Detail: err.Error()})
				return out
			}
			s.shares[s.self] = share
			out = append(out, Outgoing{Round: Round2, Recipient: party.Broadcast, Payload: payload})
			s.status = Round2Collecting
			for _, m := range s.release(Round2) {
				if s.status.Terminal() {
					break
				}
				s.process(m)
			}

		case s.status == Round2Collecting && len(s.shares) == len(s.signers):
			s.aggregate()
			return out

		default:
			return out
		}
	}
}

func (s *Signing) commitmentList() []*frost.SigningCommitments {
	out := make([]*frost.SigningCommitments, 0, len(s.signers))
	for _, idx := range s.signers {
		out = append(out, s.commitments[idx])
	}
	return out
}

func (s *Signing) aggregate() {
	shares := make([]*frost.SignatureShare, 0, len(s.signers))
	for _, idx := range s.signers {
		shares = append(shares, s.shares[idx])
	}
	sig, err := s.frost.Aggregate(s.cfg.Message, s.commitmentList(), shares, s.cfg.PublicKeyPackage)
	if err != nil {
		s.abort(failureFrom(err))
		return
	}
	s.signature = sig
	s.status = Completed
}

func failureFrom(err error) *Failure {
	var ce *frost.CulpritError
	if errors.As(err, &ce) {
		return cheater(party.Index(ce.Culprit), err)
	}
	return &Failure{Kind: InvalidInput, Detail: err.Error()}
}

// Missing lists the signers whose message for the open round has not been
// processed.
func (s *Signing) Missing() []party.Index {
	return s.missing(func(p party.Index) bool {
		if s.status == Round1Collecting {
			_, ok := s.commitments[p]
			return ok
		}
		_, ok := s.shares[p]
		return ok
	})
}

// Abort fails the session with f and destroys unused nonces. A retry must
// start a new session with fresh nonces.
func (s *Signing) Abort(f *Failure) {
	if s.status.Terminal() {
		return
	}
	s.abort(f)
}

func (s *Signing) abort(f *Failure) {
	if s.nonces != nil {
		s.nonces.Zero(s.cfg.Suite.Group())
		s.nonces = nil
	}
	s.fail(f)
}

// Signature returns the aggregated signature once the session has
// Completed.
func (s *Signing) Signature() *frost.Signature { return s.signature }
