// Package secp256k1 implements [group.Group] over the secp256k1 curve using
// github.com/decred/dcrd/dcrec/secp256k1/v4 for field and point arithmetic.
//
// Scalars are 32 big-endian bytes and points use the 33-byte SEC1 compressed
// form. Hash-to-scalar follows hash_to_field from RFC 9380 with
// expand_message_xmd over SHA-256, producing 48 uniform bytes that are
// reduced modulo the group order.
package secp256k1
