// Package wire defines the peer message envelope and session identifiers.
package wire

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/tangle-network/frost-blueprint/party"
)

// Kind is the protocol a session runs.
type Kind string

const (
	KindKeygen  Kind = "keygen"
	KindSigning Kind = "signing"
)

// SessionIDLength is the size of a [SessionID].
const SessionIDLength = 32

// SessionID identifies one ceremony. It is the routing key for every message
// of the ceremony.
type SessionID [SessionIDLength]byte

// NewSessionID derives keccak256(kind || service id || call id) with both ids
// encoded as 8 little-endian bytes.
func NewSessionID(kind Kind, serviceID, callID uint64) SessionID {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], serviceID)
	binary.LittleEndian.PutUint64(buf[8:], callID)

	var id SessionID
	copy(id[:], crypto.Keccak256([]byte(kind), buf[:]))
	return id
}

func (id SessionID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first four bytes in hex, for logs.
func (id SessionID) Short() string {
	return hex.EncodeToString(id[:4])
}

// RoundMessage is the envelope exchanged between participants. A zero
// Recipient addresses every participant of the session.
type RoundMessage struct {
	SessionID SessionID   `cbor:"1,keyasint"`
	Round     uint8       `cbor:"2,keyasint"`
	Sender    party.Index `cbor:"3,keyasint"`
	Recipient party.Index `cbor:"4,keyasint"`
	Payload   []byte      `cbor:"5,keyasint"`
}

// IsBroadcast reports whether m addresses every participant.
func (m *RoundMessage) IsBroadcast() bool {
	return m.Recipient == party.Broadcast
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	opts := cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxArrayElements: 1 << 16,
	}
	if decMode, err = opts.DecMode(); err != nil {
		panic(err)
	}
}

// ErrMalformed is returned by [Decode] for input that is not a valid
// envelope.
var ErrMalformed = errors.New("malformed round message")

// Encode serializes m with deterministic CBOR.
func Encode(m *RoundMessage) ([]byte, error) {
	return encMode.Marshal(m)
}

// Decode parses an envelope produced by [Encode].
func Decode(data []byte) (*RoundMessage, error) {
	var m RoundMessage
	if err := decMode.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}
	if m.Sender == party.Broadcast {
		return nil, errors.Wrap(ErrMalformed, "zero sender index")
	}
	return &m, nil
}
