// Package router carries protocol messages between the nodes of a session.
//
// A [Router] reads frames from a [Transport], decodes them as
// [wire.RoundMessage] and hands them to the mailbox of the registered
// session. Before a message is queued the router checks that the transport
// identity of the frame is the registered identity of the claimed sender,
// that the sender is a member of the session and that the message is
// addressed to this node or broadcast. Rejected messages are logged and
// counted; they never affect the session.
//
// Messages for a session that is not registered yet are parked for a
// bounded time and replayed on [Router.Register], so a fast peer's round-1
// message is not lost. Each session's mailbox preserves arrival order. It
// holds at most [Config.MailboxSize] undelivered messages per sender, so a
// sender flooding the session only loses its own messages.
//
// Two transports are provided: [LocalNetwork] for nodes inside one process
// and [RedisTransport], which publishes signed frames on one Redis channel
// per node.
package router
