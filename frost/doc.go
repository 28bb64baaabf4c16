// Package frost implements FROST (Flexible Round-Optimized Schnorr
// Threshold) signatures as specified by RFC 9591, together with the
// two-round distributed key generation with proofs of knowledge from its
// Appendix C.
//
// A [Ciphersuite] fixes the group and hash functions. Three are supported
// and selected by tag with [Lookup]:
//
//   - FROST-ED25519-SHA512-v1, whose signatures verify with crypto/ed25519
//   - FROST-secp256k1-SHA256-v1
//   - FROST-EDBABYJUJUB-BLAKE512-v1, compatible with the Ledger and iden3
//     Baby Jubjub implementations
//
// # Distributed Key Generation (DKG)
//
//  1. Each participant samples a polynomial with [FROST.NewParticipant] and
//     broadcasts its [Round1Package]: commitments to the coefficients and a
//     Schnorr proof of knowledge of the constant term.
//  2. Receivers check each package with [FROST.VerifyRound1].
//  3. Each participant sends [FROST.Share] privately to every other
//     participant, and receivers check it with [FROST.VerifyShare].
//  4. [FROST.Finalize] produces the participant's [KeyPackage] and the
//     [PublicKeyPackage] shared by all participants.
//
// # Threshold Signing
//
//  1. Each signer calls [FROST.Commit] and broadcasts its
//     [SigningCommitments].
//  2. Each signer calls [FROST.Sign] with the full commitment list.
//  3. [FROST.Aggregate] sums the shares and verifies the result. If the
//     signature is invalid every share is checked and the first bad signer
//     is reported as a [*CulpritError].
//  4. Anyone can check the result with [FROST.Verify].
//
// # Example
//
//	cs, _ := frost.Lookup(frost.Ed25519)
//	f, _ := frost.New(cs, 2, 3)
//
//	nonces, commitments, _ := f.Commit(rand.Reader, keyPackage)
//	// ... exchange commitments ...
//	share, _ := f.Sign(keyPackage, nonces, message, allCommitments)
//	// ... exchange shares ...
//	sig, err := f.Aggregate(message, allCommitments, allShares, publicKeyPackage)
//
// # Security Considerations
//
// Nonces returned by [FROST.Commit] are single use. [FROST.Sign] zeroes them
// and rejects a second call with [ErrNoncesUsed]. Participant state from the
// DKG should be zeroed with [Participant.Zero] once the key package is
// produced or the DKG is abandoned.
package frost
