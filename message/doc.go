// Package message defines the pipeline message model for the collector.
//
// Messages are the fundamental unit of data flow between pipeline stages.
// Three concrete kinds exist:
//
//   - DataMessage: a framed IPFIX message from a Transport Session, decorated
//     by the parser with header fields and template-bound record references.
//   - SessionMessage: a Transport Session lifecycle event (open, close).
//   - GarbageMessage: a carrier whose sole purpose is deferred destruction of
//     a retired shared object (template table, dictionary snapshot, parser
//     state) once pipeline order guarantees no reader remains.
//
// Design principles:
//
//   - Dispatch by kind: stages subscribe to a Kind bitmask and switch on
//     Kind() per message; kinds a stage does not recognize are forwarded
//     unchanged.
//   - Ordering as a safety barrier: the host pipeline delivers messages to
//     each downstream stage in submission order, so a GarbageMessage emitted
//     after the last message referencing an object is a proof that no stage
//     will observe the object after the carrier is destroyed. No reference
//     counting is used anywhere.
//   - Single ownership: once an object is wrapped into a GarbageMessage, no
//     other component may destroy it directly.
package message
