// Package keystore persists each participant's FROST key material.
//
// A [Store] belongs to one node and keeps one [Record] per service, keyed
// by the node's identity and holding its own participant index. Records are
// never overwritten: the second Put for a service fails with
// [ErrAlreadyExists]. Concurrent writers of one key are serialized inside
// the Store, and the [Backend] contract adds an atomic write-once primitive
// so the invariant also holds across processes sharing a backend.
//
// Backends are selected by URI with [Open]:
//
//   - mem:// keeps records in process memory.
//   - pebble:///var/lib/frostd stores records in an embedded Pebble database.
//     pebble:// with no path uses an in-memory filesystem.
//   - redis://host:6379/0 stores records in Redis using SETNX.
//   - vault://host:8200/secret/frostd stores records in a Vault KV v2 mount
//     using check-and-set. The token is read from VAULT_TOKEN or the token
//     query parameter, and tls=false selects plain HTTP.
package keystore
