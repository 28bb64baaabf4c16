// Package coordinator owns the lifecycle of FROST ceremonies on one node.
//
// A job request is validated, mapped to a participant set with canonical
// indices and bound to a session id derived from (kind, service, call). The
// coordinator then registers the session with the router, instantiates the
// matching state machine from package session and drives it until it
// reaches a terminal state:
//
//	Pending -> Running -> Completed | Failed | TimedOut
//
// Each round has its own deadline. When it expires the session fails with a
// Timeout failure naming the participants that never answered. A
// successful keygen persists the key share in the keystore; signing only
// reads it.
//
// Requests are idempotent per (service, call): a finished session returns
// its cached outcome without running any cryptography, and a request for a
// running session fails with ErrSessionRunning. A failed session is never
// resumed; a retry needs a new call id.
package coordinator
