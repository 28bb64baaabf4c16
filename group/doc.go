// Package group defines the abstract group capabilities FROST is generic
// over: scalar arithmetic, point arithmetic and hash-to-scalar.
//
//   - [Scalar]: elements of the scalar field (integers modulo the group order)
//   - [Point]: elements of the group (points on an elliptic curve)
//   - [Group]: factory and utility methods for creating scalars and points
//
// # Mutable receivers
//
// Operations like Add, Mul and ScalarMult set the receiver to the result and
// return it, allowing chaining while minimizing allocations:
//
//	// Compute a + b*c
//	result := g.NewScalar().Mul(b, c)
//	result = g.NewScalar().Add(a, result)
//
// Implementations type-assert their arguments to their own concrete types, so
// values from different groups must never be mixed. A session selects exactly
// one group when it is created and keeps it for its whole lifetime.
//
// # Implementations
//
// The ed25519, secp256k1 and bjj packages implement these interfaces for the
// ciphersuites supported by the frost package.
//
// # Encoding rules
//
// Implementations must:
//
//   - reduce scalar arithmetic modulo the group order
//   - reject out-of-range scalars and invalid points in SetBytes
//   - generate random scalars from the provided reader only
package group
