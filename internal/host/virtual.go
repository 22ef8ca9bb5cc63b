package host

import (
	"time"

	"github.com/shiguredo/media-processors/pkg/model"
)

// Record is one command executed by a Virtual host.
type Record struct {
	At      time.Duration
	Command model.HostCommand
	// Bytes is the payload size of a decode.
	Bytes int
}

type virtualSleep struct {
	token    model.Token
	deadline time.Duration
	seq      uint64
}

// Virtual is a decode host with a manual clock. Calls are recorded and
// completed only when the host is stepped: decoder creations first, in request
// order, then the sleep with the earliest deadline.
type Virtual struct {
	now         time.Duration
	seq         uint64
	nextDecoder model.DecoderID
	records     []Record
	creates     []model.Token
	sleeps      []virtualSleep
}

// NewVirtual creates a virtual host with its clock at zero.
func NewVirtual() *Virtual {
	return &Virtual{}
}

func (v *Virtual) Now() time.Duration {
	return v.now
}

func (v *Virtual) record(cmd model.HostCommand, n int) {
	v.records = append(v.records, Record{At: v.now, Command: cmd, Bytes: n})
}

func (v *Virtual) Sleep(token model.Token, session model.SessionID, d time.Duration) {
	v.record(model.HostCommand{Type: model.HostSleep, SessionID: session, Token: token, SleepMicros: d.Microseconds()}, 0)
	v.seq++
	v.sleeps = append(v.sleeps, virtualSleep{token: token, deadline: v.now + d, seq: v.seq})
}

func (v *Virtual) CreateVideoDecoder(token model.Token, session model.SessionID, cfg model.VideoDecoderConfig) {
	v.record(model.HostCommand{Type: model.HostCreateVideoDecoder, SessionID: session, Token: token, Video: &cfg}, 0)
	v.creates = append(v.creates, token)
}

func (v *Virtual) CreateAudioDecoder(token model.Token, session model.SessionID, cfg model.AudioDecoderConfig) {
	v.record(model.HostCommand{Type: model.HostCreateAudioDecoder, SessionID: session, Token: token, Audio: &cfg}, 0)
	v.creates = append(v.creates, token)
}

func (v *Virtual) Decode(session model.SessionID, decoder model.DecoderID, chunk model.EncodedChunk, payload []byte) {
	v.record(model.HostCommand{Type: model.HostDecode, SessionID: session, DecoderID: decoderRef(decoder), Chunk: &chunk}, len(payload))
}

func (v *Virtual) CloseDecoder(session model.SessionID, decoder model.DecoderID) {
	v.record(model.HostCommand{Type: model.HostCloseDecoder, SessionID: session, DecoderID: decoderRef(decoder)}, 0)
}

func (v *Virtual) NotifyEndOfStream(session model.SessionID) {
	v.record(model.HostCommand{Type: model.HostEndOfStream, SessionID: session}, 0)
}

// Pending reports whether any completion is outstanding.
func (v *Virtual) Pending() bool {
	return len(v.creates) > 0 || len(v.sleeps) > 0
}

// next returns the index of the sleep that completes first.
func (v *Virtual) next() int {
	best := -1
	for i, s := range v.sleeps {
		if best < 0 || s.deadline < v.sleeps[best].deadline ||
			(s.deadline == v.sleeps[best].deadline && s.seq < v.sleeps[best].seq) {
			best = i
		}
	}
	return best
}

// Step completes one outstanding operation. It reports false when nothing is
// pending.
func (v *Virtual) Step(w Waker) bool {
	if len(v.creates) > 0 {
		tok := v.creates[0]
		v.creates = v.creates[1:]
		v.nextDecoder++
		w.DecoderCreated(tok, v.nextDecoder)
		return true
	}
	i := v.next()
	if i < 0 {
		return false
	}
	s := v.sleeps[i]
	v.sleeps = append(v.sleeps[:i], v.sleeps[i+1:]...)
	if s.deadline > v.now {
		v.now = s.deadline
	}
	w.Awake(s.token)
	return true
}

// RunUntil steps the host until nothing is pending or the next sleep would
// move the clock past until. It returns the number of steps taken.
func (v *Virtual) RunUntil(w Waker, until time.Duration) int {
	steps := 0
	for {
		if len(v.creates) == 0 {
			i := v.next()
			if i < 0 || v.sleeps[i].deadline > until {
				return steps
			}
		}
		v.Step(w)
		steps++
	}
}

// Advance moves the clock forward without completing anything.
func (v *Virtual) Advance(d time.Duration) {
	v.now += d
}

// Records returns every command executed so far.
func (v *Virtual) Records() []Record {
	return v.records
}

// Count returns the number of recorded commands of type typ.
func (v *Virtual) Count(typ model.HostCommandType) int {
	n := 0
	for _, r := range v.records {
		if r.Command.Type == typ {
			n++
		}
	}
	return n
}

// Decodes returns the recorded decode commands in order.
func (v *Virtual) Decodes() []Record {
	var out []Record
	for _, r := range v.records {
		if r.Command.Type == model.HostDecode {
			out = append(out, r)
		}
	}
	return out
}

// PendingTokens returns the tokens of outstanding operations, creations first.
func (v *Virtual) PendingTokens() []model.Token {
	out := append([]model.Token(nil), v.creates...)
	for _, s := range v.sleeps {
		out = append(out, s.token)
	}
	return out
}

// Forget drops an outstanding operation so it never completes.
func (v *Virtual) Forget(token model.Token) bool {
	for i, t := range v.creates {
		if t == token {
			v.creates = append(v.creates[:i], v.creates[i+1:]...)
			return true
		}
	}
	for i, s := range v.sleeps {
		if s.token == token {
			v.sleeps = append(v.sleeps[:i], v.sleeps[i+1:]...)
			return true
		}
	}
	return false
}
