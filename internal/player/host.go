// Package player implements playback sessions: the timeline merge across
// tracks and the decoder lifecycle of each track.
package player

import (
	"time"

	"github.com/shiguredo/media-processors/pkg/model"
)

// Host is the decode host as seen from a session. Sleep and the decoder
// creation calls complete asynchronously: the host later reports completion
// for token, with Awake for a sleep and the new model.DecoderID for a decoder.
// The host may also complete synchronously, before the call returns.
type Host interface {
	Now() time.Duration
	Sleep(token model.Token, session model.SessionID, d time.Duration)
	CreateVideoDecoder(token model.Token, session model.SessionID, cfg model.VideoDecoderConfig)
	CreateAudioDecoder(token model.Token, session model.SessionID, cfg model.AudioDecoderConfig)
	Decode(session model.SessionID, decoder model.DecoderID, chunk model.EncodedChunk, payload []byte)
	CloseDecoder(session model.SessionID, decoder model.DecoderID)
	NotifyEndOfStream(session model.SessionID)
}

// Awake is the completion value of a sleep.
type Awake struct{}

// Observer receives session lifecycle events.
type Observer interface {
	SessionEvent(session model.SessionID, typ model.EventType, detail map[string]any)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(session model.SessionID, typ model.EventType, detail map[string]any)

func (f ObserverFunc) SessionEvent(session model.SessionID, typ model.EventType, detail map[string]any) {
	f(session, typ, detail)
}

type nopObserver struct{}

func (nopObserver) SessionEvent(model.SessionID, model.EventType, map[string]any) {}
