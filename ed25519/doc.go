// Package ed25519 implements [group.Group] over the prime-order subgroup of
// edwards25519, backed by filippo.io/edwards25519.
//
// Scalars are encoded as 32 little-endian bytes and points use the standard
// 32-byte compressed encoding, so FROST signatures produced with this group
// are ordinary 64-byte Ed25519 signatures that verify with crypto/ed25519.
//
// Point decoding is strict: non-canonical encodings and points with a
// small-order component are rejected.
package ed25519
