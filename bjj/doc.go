// Package bjj implements [group.Group] over Baby Jubjub, the twisted
// Edwards curve a*x^2 + y^2 = 1 + d*x^2*y^2 (a = 168700, d = 168696)
// defined over the BN254 scalar field. Curve arithmetic comes from
// gnark-crypto.
//
// It backs the FROST-EDBABYJUJUB-BLAKE512-v1 ciphersuite:
//
//	suite, err := frost.Lookup(frost.BabyJubjub)
//
// Scalars are reduced modulo the prime subgroup order
//
//	2736030358979909402780800718157159386076813972158567259200215660948447373041
//
// and encode as 32 big-endian bytes. Points use gnark's 32-byte compressed
// form; decoding rejects points outside the prime-order subgroup.
package bjj
