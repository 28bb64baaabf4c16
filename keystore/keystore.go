package keystore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/tangle-network/frost-blueprint/frost"
	"github.com/tangle-network/frost-blueprint/party"
)

var (
	// ErrNotFound is returned by Get and Lookup before keygen completed for a
	// service.
	ErrNotFound = errors.New("key share not found")
	// ErrAlreadyExists is returned by Put when key material for the key is
	// already stored.
	ErrAlreadyExists = errors.New("key share already exists")
)

// Backend is a write-once key-value store. PutOnce must fail with
// [ErrAlreadyExists] when the key is present, atomically with respect to
// other writers of the same backend.
type Backend interface {
	PutOnce(ctx context.Context, key string, value []byte) error
	Load(ctx context.Context, key string) ([]byte, error)
	Name() string
	Close() error
}

// Record is the persisted key material of one participant for one service.
type Record struct {
	Ciphersuite      string   `json:"ciphersuite"`
	KeyPackage       []byte   `json:"key_package"`
	PublicKeyPackage []byte   `json:"public_key_package"`
	Participants     [][]byte `json:"participants"`
	Threshold        int      `json:"threshold"`

	// Index is the owner's participant index, set by [Store.Put].
	Index uint16 `json:"index"`
}

// NewRecord encodes the output of a completed keygen.
func NewRecord(cs *frost.Ciphersuite, kp *frost.KeyPackage, pub *frost.PublicKeyPackage, participants *party.Set) (*Record, error) {
	kpBytes, err := kp.Encode()
	if err != nil {
		return nil, errors.Wrap(err, "encode key package")
	}
	pubBytes, err := pub.Encode()
	if err != nil {
		return nil, errors.Wrap(err, "encode public key package")
	}
	return &Record{
		Ciphersuite:      cs.ID(),
		KeyPackage:       kpBytes,
		PublicKeyPackage: pubBytes,
		Participants:     participants.Identities(),
		Threshold:        int(kp.MinSigners),
	}, nil
}

// Keys is the decoded form of a [Record].
type Keys struct {
	Suite            *frost.Ciphersuite
	KeyPackage       *frost.KeyPackage
	PublicKeyPackage *frost.PublicKeyPackage
	Participants     *party.Set
}

// Decode parses the key packages and participant set of r.
func (r *Record) Decode() (*Keys, error) {
	cs, err := frost.Lookup(r.Ciphersuite)
	if err != nil {
		return nil, err
	}
	kp, err := cs.DecodeKeyPackage(r.KeyPackage)
	if err != nil {
		return nil, errors.Wrap(err, "decode key package")
	}
	pub, err := cs.DecodePublicKeyPackage(r.PublicKeyPackage)
	if err != nil {
		return nil, errors.Wrap(err, "decode public key package")
	}
	set, err := party.NewSet(r.Participants)
	if err != nil {
		return nil, errors.Wrap(err, "decode participants")
	}
	return &Keys{Suite: cs, KeyPackage: kp, PublicKeyPackage: pub, Participants: set}, nil
}

const lockStripes = 64

// Store persists the key-share records of one node on top of a [Backend].
// Records are keyed by (owner identity, service id), so nodes sharing a
// backend never see each other's shares, and each record is written once
// under a single key together with the node's own index.
type Store struct {
	backend Backend
	owner   string
	locks   [lockStripes]sync.Mutex
	log     zerolog.Logger
}

// New wraps backend for the node identified by owner.
func New(backend Backend, owner []byte, log zerolog.Logger) *Store {
	return &Store{
		backend: backend,
		owner:   hex.EncodeToString(owner),
		log:     log.With().Str("component", "keystore").Str("backend", backend.Name()).Logger(),
	}
}

func (s *Store) recordKey(serviceID uint64) string {
	return fmt.Sprintf("frost/%s/%d", s.owner, serviceID)
}

func (s *Store) lock(serviceID uint64) *sync.Mutex {
	return &s.locks[serviceID%lockStripes]
}

// Put stores rec as this node's share of serviceID, held under index own.
// A second Put for the service fails with [ErrAlreadyExists] and leaves
// the stored record untouched, whatever index it names.
func (s *Store) Put(ctx context.Context, serviceID uint64, own party.Index, rec *Record) error {
	stored := *rec
	stored.Index = uint16(own)
	data, err := json.Marshal(&stored)
	if err != nil {
		return errors.Wrap(err, "marshal record")
	}

	mu := s.lock(serviceID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.backend.PutOnce(ctx, s.recordKey(serviceID), data); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return errors.Wrapf(ErrAlreadyExists, "service %d index %d", serviceID, own)
		}
		return errors.Wrap(err, "store record")
	}

	s.log.Info().Uint64("service", serviceID).Uint16("index", uint16(own)).
		Str("ciphersuite", rec.Ciphersuite).Msg("stored key share")
	return nil
}

func (s *Store) load(ctx context.Context, serviceID uint64) (*Record, error) {
	data, err := s.backend.Load(ctx, s.recordKey(serviceID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, errors.Wrapf(ErrNotFound, "service %d", serviceID)
		}
		return nil, errors.Wrap(err, "load record")
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrap(err, "unmarshal record")
	}
	if rec.Index == 0 {
		return nil, errors.Errorf("corrupt record for service %d: no own index", serviceID)
	}
	return &rec, nil
}

// Get loads the record for (serviceID, own). A record held under another
// index is reported as [ErrNotFound].
func (s *Store) Get(ctx context.Context, serviceID uint64, own party.Index) (*Record, error) {
	rec, err := s.load(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if party.Index(rec.Index) != own {
		return nil, errors.Wrapf(ErrNotFound, "service %d index %d", serviceID, own)
	}
	return rec, nil
}

// Lookup returns the index this node holds for serviceID.
func (s *Store) Lookup(ctx context.Context, serviceID uint64) (party.Index, error) {
	rec, err := s.load(ctx, serviceID)
	if err != nil {
		return 0, err
	}
	return party.Index(rec.Index), nil
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
