// Package session implements the round-based state machines that run one
// FROST ceremony for one participant: [Keygen] for distributed key
// generation and [Signing] for threshold signing.
//
// A state machine never touches the network. [Keygen.Start] and
// [Signing.Start] return the first outbound messages; every inbound
// [wire.RoundMessage] is applied with Handle, which returns the outbound
// messages it produced. The owner delivers them and keeps feeding inbound
// messages until Status reports a terminal state:
//
//	out, err := k.Start()
//	send(out)
//	for !k.Status().Terminal() {
//		msg := recv()
//		out, err := k.Handle(msg)
//		if err != nil {
//			// *Violation: log and keep going
//		}
//		send(out)
//	}
//
// # Rounds
//
// Both protocols have two rounds. A round opens only after the previous one
// has a valid message from every expected participant. Messages for a round
// that is not open yet are buffered and replayed when it opens. Messages for
// a closed round, duplicates, and messages from unexpected senders are
// dropped and reported as a [*Violation].
//
// # Failures
//
// A payload that does not decode or does not verify fails the session with
// a [CheaterDetected] [Failure] naming the sender. The owner fails a session
// that misses its round deadline with [NewTimeout] and [Keygen.Missing].
// Abort destroys the polynomial coefficients or signing nonces, so a retry
// always needs a new session.
//
// These types are not safe for concurrent use. One goroutine owns each
// session.
package session
