// Package jobs connects external job requests to the coordinator.
//
// A [Source] produces [Event] values: keygen requests, sign requests and
// service terminations. The [Bridge] runs each request through the
// coordinator on its own goroutine and hands the outcome to a [Sink] as a
// [Result]. Results carry the public key package or the signature on
// success and a structured failure reason otherwise.
//
// Sources: [ChanSource] for in-process producers such as the HTTP API, and
// [EthSource], which polls the job manager contract for request events.
// Sinks: [MemorySink], [LogSink], [MultiSink] and [EthSink], which sends
// submitResult and reportFailure transactions.
package jobs
