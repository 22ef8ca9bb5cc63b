package model

import "time"

// EventType names a session lifecycle event recorded in the playback journal.
type EventType string

const (
	EventStarted       EventType = "started"
	EventDecoderOpened EventType = "decoder_opened"
	EventDecoderClosed EventType = "decoder_closed"
	EventLooped        EventType = "looped"
	EventEndOfStream   EventType = "end_of_stream"
	EventStopped       EventType = "stopped"
	EventReplaced      EventType = "replaced"
	EventStalled       EventType = "stalled"
)

// Event is one entry of a session's lifecycle. RunID distinguishes successive
// plays under the same session id.
type Event struct {
	ID        int64             `json:"id,omitempty"`
	RunID     string            `json:"run_id"`
	SessionID SessionID         `json:"session_id"`
	Type      EventType         `json:"type"`
	Detail    map[string]string `json:"detail,omitempty"`
	At        time.Time         `json:"at"`
}

// RunState is the journal state of one play.
type RunState string

const (
	RunStatePlaying  RunState = "PLAYING"
	RunStateFinished RunState = "FINISHED"
	RunStateStopped  RunState = "STOPPED"
	RunStateStalled  RunState = "STALLED"
)

// IsTerminal returns true if the run is over.
func (s RunState) IsTerminal() bool {
	return s != RunStatePlaying
}

// Run is the journal record of one play of a session id.
type Run struct {
	ID        string     `json:"id"`
	SessionID SessionID  `json:"session_id"`
	Repeat    bool       `json:"repeat"`
	State     RunState   `json:"state"`
	Loops     int        `json:"loops"`
	Decoded   int        `json:"decoded"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Events    []Event    `json:"events,omitempty"`
}
