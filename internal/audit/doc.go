// Package audit delivers audit entries from the auth engine to one or more sinks.
//
// # Components
//
//   - [Sink]: event consumer. [StoreSink] persists to a store.AuditLog,
//     [MultiSink] fans out, [ChannelSink] and [JSONWriterSink] serve tests and
//     local tooling.
//   - [Dispatcher]: optional buffered async relay with drop-if-full or
//     block-if-full semantics. Events marked critical bypass a full queue
//     and are delivered inline; a panicking sink costs one event.
//
// # Architecture boundaries
//
// This package owns buffering and delivery. It does NOT decide which events to
// emit or what they are called; the engine does.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import the agencyauth root package or any sibling internal package.
package audit
