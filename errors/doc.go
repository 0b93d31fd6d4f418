// Package errors provides standardized error handling for collector pipeline
// components.
//
// # Overview
//
// The package implements a three-class error classification system designed
// around the failure taxonomy of a flow collector stage: Transient (temporary,
// the operation may be retried), Invalid (malformed input or configuration,
// contained per message or per session), and Fatal (an internal invariant was
// violated and the stage must stop).
//
// # Error Classification
//
//   - Transient: connection loss, subscription hiccups, shutdown timeouts
//   - Invalid: malformed protocol data, unknown sessions, bad configuration
//   - Fatal: feedback channel write failures, forced-removal sweep failures,
//     resource exhaustion
//
// Classification integrates with Go's standard error handling, supporting
// errors.Is(), errors.As() and wrapping chains.
//
// # Quick Start
//
// Return a sentinel for a known condition:
//
//	if table.Retired() {
//	    return errors.ErrObjectRetired
//	}
//
// Wrap errors with component context:
//
//	if err := parser.Process(msg); err != nil {
//	    return errors.Wrap(err, "FlowParser", "Dispatch", "message decode")
//	}
//
// Escalate only what cannot be contained:
//
//	if err := feedback.RequestClose(ts); err != nil {
//	    return errors.WrapFatal(err, "FlowParser", "removeSession", "feedback write")
//	}
package errors
