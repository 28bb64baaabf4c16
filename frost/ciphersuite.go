package frost

import (
	"crypto/sha256"
	"crypto/sha512"
	"hash"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"

	"github.com/tangle-network/frost-blueprint/bjj"
	"github.com/tangle-network/frost-blueprint/ed25519"
	"github.com/tangle-network/frost-blueprint/group"
	"github.com/tangle-network/frost-blueprint/secp256k1"
)

// Ciphersuite tags.
const (
	Ed25519    = "FROST-ED25519-SHA512-v1"
	Secp256k1  = "FROST-secp256k1-SHA256-v1"
	BabyJubjub = "FROST-EDBABYJUJUB-BLAKE512-v1"
)

// ErrUnknownCiphersuite is returned by [Lookup] for a tag outside the
// supported set.
var ErrUnknownCiphersuite = errors.New("unknown ciphersuite")

// Ciphersuite pairs a prime-order group with the hash functions FROST uses
// over it. A ciphersuite is chosen once per session and never mixed with
// another.
type Ciphersuite struct {
	id      string
	group   group.Group
	context []byte
	// chalDST is the prefix of H2. Ed25519 uses none so that aggregated
	// signatures are plain RFC 8032 signatures.
	chalDST []byte
	digest  func() hash.Hash
}

func blake2b512() hash.Hash {
	h, _ := blake2b.New512(nil)
	return h
}

var suites = map[string]*Ciphersuite{
	Ed25519: {
		id:      Ed25519,
		group:   ed25519.New(),
		context: []byte(Ed25519),
		digest:  sha512.New,
	},
	Secp256k1: {
		id:      Secp256k1,
		group:   secp256k1.New(),
		context: []byte(Secp256k1),
		chalDST: []byte(Secp256k1 + "chal"),
		digest:  sha256.New,
	},
	BabyJubjub: {
		id:      BabyJubjub,
		group:   bjj.New(),
		context: []byte(BabyJubjub),
		chalDST: []byte(BabyJubjub + "chal"),
		digest:  blake2b512,
	},
}

// Lookup returns the ciphersuite registered under tag.
func Lookup(tag string) (*Ciphersuite, error) {
	cs, ok := suites[tag]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownCiphersuite, "%q", tag)
	}
	return cs, nil
}

// Ciphersuites lists the supported tags in lexical order.
func Ciphersuites() []string {
	tags := make([]string, 0, len(suites))
	for tag := range suites {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// ID returns the ciphersuite tag.
func (cs *Ciphersuite) ID() string { return cs.id }

// Group returns the underlying prime-order group.
func (cs *Ciphersuite) Group() group.Group { return cs.group }

func (cs *Ciphersuite) String() string { return cs.id }
