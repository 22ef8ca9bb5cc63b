package player

import (
	"time"

	"github.com/shiguredo/media-processors/internal/mp4"
	"github.com/shiguredo/media-processors/internal/scheduler"
	"github.com/shiguredo/media-processors/pkg/model"
)

// cursor is a playback position in one track plus the decoder that serves it.
// The position is a 1-based sample index; it is past the end once every
// sample, including the last, has been emitted.
type cursor struct {
	s       *Session
	track   *mp4.Track
	index   uint32
	decoder model.DecoderID
	open    bool
	// entry is the sample entry the live decoder was created for.
	entry *mp4.SampleEntry
	// pending is the entry of the creation request in flight.
	pending *mp4.SampleEntry
	// creating is set while a decoder creation request is in flight.
	creating bool
}

func newCursor(s *Session, track *mp4.Track) *cursor {
	return &cursor{s: s, track: track, index: 1}
}

func (c *cursor) eos() bool {
	return c.index > c.track.Samples.SampleCount()
}

func (c *cursor) current() (mp4.Sample, bool) {
	return c.track.Samples.Sample(c.index)
}

// due returns the media time of the current sample.
func (c *cursor) due() time.Duration {
	cur, _ := c.current()
	return c.track.Timestamp(cur)
}

func (c *cursor) advance() {
	c.index++
}

func (c *cursor) rewind() {
	c.index = 1
}

// needsDecoder reports whether the current sample cannot be decoded by the
// live decoder. After a repeat wrap the live decoder still holds the last
// sample's entry, so a track whose first and last entries differ gets a new
// decoder at the wrap.
func (c *cursor) needsDecoder() bool {
	if c.eos() {
		return false
	}
	if !c.open {
		return true
	}
	cur, _ := c.current()
	return !cur.Entry.Equal(c.entry)
}

// ensureDecoder requests a decoder for the current sample when one is needed,
// closing the previous decoder first. It reports whether a creation request
// was issued, in which case the session must suspend until opened is called.
func (c *cursor) ensureDecoder(park scheduler.Park) bool {
	if !c.needsDecoder() {
		return false
	}
	c.release()

	cur, _ := c.current()
	c.creating = true
	c.pending = cur.Entry
	tok := park()
	switch {
	case cur.Entry.Video != nil:
		c.s.logger.Debug("creating video decoder", "track", c.track.ID, "codec", cur.Entry.Video.Codec, "token", tok)
		c.s.host.CreateVideoDecoder(tok, c.s.id, *cur.Entry.Video)
	case cur.Entry.Audio != nil:
		c.s.logger.Debug("creating audio decoder", "track", c.track.ID, "codec", cur.Entry.Audio.Codec, "token", tok)
		c.s.host.CreateAudioDecoder(tok, c.s.id, *cur.Entry.Audio)
	}
	return true
}

// opened records the decoder the host created for this cursor.
func (c *cursor) opened(id model.DecoderID) {
	c.creating = false
	c.decoder = id
	c.open = true
	c.entry = c.pending
	c.pending = nil
	c.s.logger.Debug("decoder opened", "track", c.track.ID, "decoder_id", id)
	c.s.observer.SessionEvent(c.s.id, model.EventDecoderOpened, map[string]any{
		"track":      c.track.ID,
		"decoder_id": uint32(id),
	})
}

// emit sends the current sample to the decoder. Timestamps are computed from
// the absolute tick count of the sample plus the session offset.
func (c *cursor) emit(offset time.Duration) {
	cur, ok := c.current()
	if !ok || !c.open {
		return
	}
	chunk := model.EncodedChunk{
		Type:      model.ChunkTypeOf(cur.IsSync),
		Timestamp: c.track.Timestamp(cur) + offset,
		Duration:  c.track.SampleDuration(cur),
	}
	c.s.host.Decode(c.s.id, c.decoder, chunk, c.s.container.Payload(cur))
}

// release closes the live decoder, if any. It is safe to call repeatedly.
func (c *cursor) release() {
	if !c.open {
		return
	}
	id := c.decoder
	c.open = false
	c.decoder = 0
	c.entry = nil
	c.s.host.CloseDecoder(c.s.id, id)
	c.s.logger.Debug("decoder closed", "track", c.track.ID, "decoder_id", id)
	c.s.observer.SessionEvent(c.s.id, model.EventDecoderClosed, map[string]any{
		"track":      c.track.ID,
		"decoder_id": uint32(id),
	})
}
