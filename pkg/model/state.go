package model

// SessionState represents where a playback session is in its timeline merge.
type SessionState string

const (
	SessionStatePriming  SessionState = "PRIMING"  // ensuring decoders exist for current samples
	SessionStateWaiting  SessionState = "WAITING"  // suspended until the next deadline
	SessionStateEmitting SessionState = "EMITTING" // decoding and advancing one track
	SessionStateDraining SessionState = "DRAINING" // no track has a pending deadline
	SessionStateFinished SessionState = "FINISHED" // end-of-stream reported
	SessionStateStalled  SessionState = "STALLED"  // a host completion was dropped
)

// String returns the string representation of the session state.
func (s SessionState) String() string {
	return string(s)
}

// IsTerminal returns true if the session will never run again on its own.
func (s SessionState) IsTerminal() bool {
	switch s {
	case SessionStateFinished, SessionStateStalled:
		return true
	}
	return false
}

// ValidSessionTransitions defines the state machine a session walks through.
// Looping is the Draining -> Priming edge.
var ValidSessionTransitions = map[SessionState][]SessionState{
	SessionStatePriming:  {SessionStateWaiting, SessionStateDraining, SessionStateStalled},
	SessionStateWaiting:  {SessionStateEmitting, SessionStateStalled},
	SessionStateEmitting: {SessionStatePriming},
	SessionStateDraining: {SessionStatePriming, SessionStateFinished},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s SessionState) CanTransitionTo(next SessionState) bool {
	for _, allowed := range ValidSessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PlayOptions configures a playback session.
type PlayOptions struct {
	Repeat bool `json:"repeat" yaml:"repeat"`
}

// SessionStatus is a point-in-time view of a registered session.
type SessionStatus struct {
	ID      SessionID    `json:"id"`
	State   SessionState `json:"state"`
	Repeat  bool         `json:"repeat"`
	Loops   int          `json:"loops"`
	Decoded int          `json:"decoded"`
}
