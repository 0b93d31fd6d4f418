// Package parser implements the stateful per-session protocol parser driven
// by the flowparser orchestrator.
//
// The parser owns the Session Registry: per Transport Session template
// tables and sequence counters, keyed by session and Observation Domain ID.
// It is single-writer by construction - only the owning pipeline stage calls
// into it, one message at a time - so the registry carries no locks on the
// per-message path.
//
// Whenever the parser retires shared decoding state (a replaced template, a
// removed session's tables, a swapped dictionary), it hands the retired
// objects back wrapped in a garbage carrier instead of freeing them:
// messages already forwarded downstream may still reference that state, and
// only the pipeline's ordered delivery can prove when the last reader is
// gone.
package parser
