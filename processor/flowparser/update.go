package flowparser

import (
	"github.com/dperdices/ipfixcol2/errors"
	"github.com/dperdices/ipfixcol2/ipfix"
	"github.com/dperdices/ipfixcol2/session"
)

// UpdateScope describes which parts of the collector configuration a
// runtime update request touches.
type UpdateScope uint8

const (
	// ScopeDictionary marks updates replacing the shared information-element
	// dictionary
	ScopeDictionary UpdateScope = 1 << iota
	// ScopeInputs marks updates reconfiguring input stages; nothing for this
	// stage to do
	ScopeInputs
)

// UpdateDecision is the stage's answer to an update prepare request
type UpdateDecision int

const (
	// UpdateNothing means the request's scope does not concern this stage
	UpdateNothing UpdateDecision = iota
	// UpdateReady means the stage accepted the request and awaits commit
	UpdateReady
)

// updatePhase tracks the configuration-update state machine
type updatePhase int

const (
	updateIdle updatePhase = iota
	updatePrepared
)

// PrepareUpdate is phase one of the configuration-update protocol. Nothing
// is mutated: messages already queued ahead of the update keep decoding
// against the current dictionary until commit.
func (p *Processor) PrepareUpdate(scope UpdateScope) UpdateDecision {
	if scope&ScopeDictionary == 0 {
		return UpdateNothing
	}
	p.update = updatePrepared
	p.logger.Info("Dictionary update prepared, awaiting commit")
	return UpdateReady
}

// CommitUpdate atomically points every session's template tables at the new
// dictionary and retires the previous one through a garbage carrier: it may
// still be referenced by messages decoded just before the swap.
//
// A swap that cannot be applied is never applied to a subset of sessions:
// on failure every session is force-removed through the feedback-aware
// removal path, leaving no session half-migrated. If even one forced removal
// fails fatally, the whole commit is reported fatal to the host pipeline.
func (p *Processor) CommitUpdate(dict *ipfix.Dictionary) error {
	if p.update != updatePrepared {
		return errors.WrapInvalid(errors.ErrUpdateNotPrepared,
			"FlowParser", "CommitUpdate", "phase check")
	}
	p.update = updateIdle

	carrier, err := p.parser.UpdateDictionary(dict)
	if err == nil {
		if carrier != nil {
			if fwdErr := p.bus.Forward(carrier); fwdErr != nil {
				return errors.WrapFatal(fwdErr, "FlowParser", "CommitUpdate", "garbage forward")
			}
			p.metrics.recordGarbage(p.name, "dictionary")
		}
		p.metrics.recordDictionarySwap(p.name)
		p.logger.Info("Dictionary update committed")
		return nil
	}

	// The swap failed; sessions must not stay inconsistently versioned.
	p.logger.Error("Dictionary update failed, force-removing all sessions", "error", err)

	var sweepErr error
	p.parser.ForEachSession(func(s *session.Session) {
		if sweepErr != nil {
			return
		}
		sweepErr = p.removeSession(s)
	})

	if sweepErr != nil {
		return errors.WrapFatal(sweepErr, "FlowParser", "CommitUpdate", "forced session removal")
	}
	return nil
}

// AbortUpdate cancels a prepared update. Prepare mutated nothing, so there
// is nothing to roll back.
func (p *Processor) AbortUpdate() {
	p.update = updateIdle
}
