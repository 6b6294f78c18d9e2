package flow

import "fmt"

// Phase is a step of an initiator run.
type Phase string

const (
	PhaseBuilding      Phase = "building"
	// PhaseLocallySigned covers contract verification and the own signature.
	PhaseLocallySigned Phase = "locally_signed"
	PhaseCollecting    Phase = "collecting_signatures"
	PhaseFinalizing    Phase = "finalizing"
	PhaseCommitted     Phase = "committed"
	PhaseAborted       Phase = "aborted"
)

// ResponderState is a step of a responder run.
type ResponderState string

const (
	StateAwaitingProposal     ResponderState = "awaiting_proposal"
	StateValidating           ResponderState = "validating"
	StateSigned               ResponderState = "signed"
	StateRejected             ResponderState = "rejected"
	StateAwaitingFinalization ResponderState = "awaiting_finalization"
	StateRecorded             ResponderState = "recorded"
)

// Error reports an aborted initiator run and the phase it failed in.
type Error struct {
	Protocol string
	Phase    Phase
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("flow: %s aborted while %s: %v", e.Protocol, e.Phase, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
