package session

import (
	"crypto/rand"
	"io"

	"github.com/pkg/errors"

	"github.com/tangle-network/frost-blueprint/frost"
	"github.com/tangle-network/frost-blueprint/group"
	"github.com/tangle-network/frost-blueprint/party"
	"github.com/tangle-network/frost-blueprint/wire"
)

// KeygenConfig describes one DKG ceremony.
type KeygenConfig struct {
	SessionID    wire.SessionID
	Suite        *frost.Ciphersuite
	Participants *party.Set
	Threshold    int
	Self         party.Index
	// Rand defaults to crypto/rand.
	Rand io.Reader
}

// KeygenResult is the artifact of a completed DKG.
type KeygenResult struct {
	KeyPackage       *frost.KeyPackage
	PublicKeyPackage *frost.PublicKeyPackage
}

// Keygen runs the two-round FROST DKG for one participant.
//
// Round 1 broadcasts the commitment package. Once every participant's
// package has been verified, round 2 sends each peer its secret share
// directly. When all n-1 shares have been verified the key package is
// derived and the session completes.
type Keygen struct {
	rounds
	cfg    KeygenConfig
	frost  *frost.FROST
	group  group.Group
	state  *frost.Participant
	pkgs   map[party.Index]*frost.Round1Package
	shares map[party.Index]group.Scalar
	result *KeygenResult
}

// NewKeygen validates cfg and returns a Pending session.
func NewKeygen(cfg KeygenConfig) (*Keygen, error) {
	if cfg.Suite == nil || cfg.Participants == nil {
		return nil, errors.New("keygen: ciphersuite and participants are required")
	}
	if !cfg.Participants.Contains(cfg.Self) {
		return nil, errors.Errorf("keygen: own index %d is not a participant", cfg.Self)
	}
	f, err := frost.New(cfg.Suite, cfg.Threshold, cfg.Participants.Len())
	if err != nil {
		return nil, errors.Wrap(err, "keygen")
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}

	return &Keygen{
		rounds: newRounds(cfg.SessionID, cfg.Self, cfg.Participants.Indices(), map[uint8]bool{Round2: true}),
		cfg:    cfg,
		frost:  f,
		group:  cfg.Suite.Group(),
		pkgs:   make(map[party.Index]*frost.Round1Package, cfg.Participants.Len()),
		shares: make(map[party.Index]group.Scalar, cfg.Participants.Len()),
	}, nil
}

// Start samples the secret polynomial and returns the round-1 broadcast.
func (k *Keygen) Start() ([]Outgoing, error) {
	if k.status != Pending {
		return nil, errors.New("keygen: already started")
	}
	state, err := k.frost.NewParticipant(k.cfg.Rand, frost.Identifier(k.self))
	if err != nil {
		return nil, errors.Wrap(err, "keygen: round 1")
	}
	payload, err := state.Round1Package().Encode()
	if err != nil {
		state.Zero(k.group)
		return nil, errors.Wrap(err, "keygen: encode round 1")
	}
	k.state = state
	k.pkgs[k.self] = state.Round1Package()
	k.status = Round1Collecting

	out := []Outgoing{{Round: Round1, Recipient: party.Broadcast, Payload: payload}}
	return append(out, k.advance()...), nil
}

// Handle applies one inbound message. A returned error is always a
// [*Violation]; fatal outcomes are reported through Status and Failure.
func (k *Keygen) Handle(msg *wire.RoundMessage) ([]Outgoing, error) {
	ok, err := k.admit(msg)
	if !ok {
		return nil, err
	}
	k.process(msg)
	return k.advance(), nil
}

func (k *Keygen) process(msg *wire.RoundMessage) {
	switch msg.Round {
	case Round1:
		pkg, err := k.cfg.Suite.DecodeRound1Package(msg.Payload)
		if err != nil {
			k.abort(cheater(msg.Sender, err))
			return
		}
		if err := k.frost.VerifyRound1(frost.Identifier(msg.Sender), pkg); err != nil {
			k.abort(cheater(msg.Sender, err))
			return
		}
		k.pkgs[msg.Sender] = pkg

	case Round2:
		share, err := k.cfg.Suite.DecodeScalar(msg.Payload)
		if err != nil {
			k.abort(cheater(msg.Sender, err))
			return
		}
		commitments := k.pkgs[msg.Sender].Commitments
		if err := k.frost.VerifyShare(frost.Identifier(k.self), frost.Identifier(msg.Sender), share, commitments); err != nil {
			k.abort(cheater(msg.Sender, err))
			return
		}
		k.shares[msg.Sender] = share
	}
}

// advance moves through every round whose inputs are complete and replays
// buffered messages for each newly opened round.
func (k *Keygen) advance() []Outgoing {
	var out []Outgoing
	for {
		switch {
		case k.status == Round1Collecting && len(k.pkgs) == k.cfg.Participants.Len():
			shares, err := k.round2Messages()
			if err != nil {
				k.abort(&Failure{Kind: InvalidInput, Detail: err.Error()})
				return out
			}
			out = append(out, shares...)
			k.status = Round2Collecting
			for _, m := range k.release(Round2) {
				if k.status.Terminal() {
					break
				}
				k.process(m)
			}

		case k.status == Round2Collecting && len(k.shares) == len(k.senders):
			k.finalize()
			return out

		default:
			return out
		}
	}
}

func (k *Keygen) round2Messages() ([]Outgoing, error) {
	out := make([]Outgoing, 0, len(k.senders))
	for _, to := range k.cfg.Participants.Indices() {
		if to == k.self {
			continue
		}
		share, err := k.frost.Share(k.state, frost.Identifier(to))
		if err != nil {
			return nil, err
		}
		out = append(out, Outgoing{Round: Round2, Recipient: to, Payload: k.cfg.Suite.EncodeScalar(share)})
	}
	return out, nil
}

func (k *Keygen) finalize() {
	shares := make(map[frost.Identifier]group.Scalar, len(k.shares))
	for idx, s := range k.shares {
		shares[frost.Identifier(idx)] = s
	}
	pkgs := make(map[frost.Identifier]*frost.Round1Package, len(k.pkgs))
	for idx, p := range k.pkgs {
		pkgs[frost.Identifier(idx)] = p
	}

	kp, pub, err := k.frost.Finalize(k.state, shares, pkgs)
	if err != nil {
		var ce *frost.CulpritError
		if errors.As(err, &ce) {
			k.abort(cheater(party.Index(ce.Culprit), err))
		} else {
			k.abort(&Failure{Kind: InvalidInput, Detail: err.Error()})
		}
		return
	}
	k.zeroSecrets()
	k.result = &KeygenResult{KeyPackage: kp, PublicKeyPackage: pub}
	k.status = Completed
}

// Missing lists the peers whose message for the open round has not been
// processed.
func (k *Keygen) Missing() []party.Index {
	return k.missing(func(p party.Index) bool {
		if k.status == Round1Collecting {
			_, ok := k.pkgs[p]
			return ok
		}
		_, ok := k.shares[p]
		return ok
	})
}

// Abort fails the session with f and discards the secret polynomial. It is
// a no-op on a terminal session.
func (k *Keygen) Abort(f *Failure) {
	if k.status.Terminal() {
		return
	}
	k.abort(f)
}

func (k *Keygen) abort(f *Failure) {
	k.zeroSecrets()
	k.fail(f)
}

func (k *Keygen) zeroSecrets() {
	if k.state != nil {
		k.state.Zero(k.group)
		k.state = nil
	}
	for idx, s := range k.shares {
		s.Set(k.group.NewScalar())
		delete(k.shares, idx)
	}
}

// Result returns the key material once the session has Completed.
func (k *Keygen) Result() *KeygenResult { return k.result }
