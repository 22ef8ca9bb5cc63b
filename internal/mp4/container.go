package mp4

import (
	"fmt"
	"time"

	"github.com/shiguredo/media-processors/pkg/model"
)

// Track is a validated audio or video track.
type Track struct {
	ID        uint32
	Timescale uint32
	Kind      model.TrackKind
	Samples   *SampleTable
}

// Timestamp converts a sample's presentation time to a duration.
func (t *Track) Timestamp(s Sample) time.Duration {
	return model.TicksToDuration(s.Timestamp, t.Timescale)
}

// SampleDuration converts a sample's duration to a duration.
func (t *Track) SampleDuration(s Sample) time.Duration {
	return model.TicksToDuration(uint64(s.Duration), t.Timescale)
}

// Duration is the end time of the track's last sample.
func (t *Track) Duration() time.Duration {
	last, ok := t.Samples.Last()
	if !ok {
		return 0
	}
	return model.TicksToDuration(last.Timestamp+uint64(last.Duration), t.Timescale)
}

// Container is a loaded, validated MP4 file. It is immutable and shared by
// every playback session.
type Container struct {
	data   []byte
	tracks []*Track
	info   model.ContainerInfo
}

// NewContainer validates tracks against data. Tracks are checked in order and
// the first failure is returned; then the track set as a whole is checked.
func NewContainer(data []byte, tracks []*Track) (*Container, error) {
	var audio, video int
	for _, t := range tracks {
		if err := validateTrack(data, t); err != nil {
			return nil, err
		}
		switch t.Kind {
		case model.TrackKindAudio:
			audio++
		case model.TrackKindVideo:
			video++
		}
	}
	switch {
	case audio > 1:
		return nil, ErrMultipleAudioTracks
	case video > 1:
		return nil, ErrMultipleVideoTracks
	case audio+video == 0:
		return nil, ErrNoTracks
	}

	c := &Container{data: data, tracks: tracks}
	c.info = c.buildInfo()
	return c, nil
}

func validateTrack(data []byte, t *Track) error {
	fail := func(err error, detail string) error {
		return &LoadError{TrackID: t.ID, Kind: t.Kind, Detail: detail, Err: err}
	}
	if t.Samples == nil || t.Samples.SampleCount() == 0 {
		return fail(ErrEmptyTrack, "")
	}
	first, _ := t.Samples.Sample(1)
	if first.Entry == nil {
		return fail(ErrMalformed, "sample 1 has no sample entry")
	}
	if t.Kind == "" {
		t.Kind = first.Entry.Kind()
	}
	if t.Timescale == 0 {
		return fail(ErrInvalidTimescale, "")
	}

	for i := uint32(1); i <= t.Samples.SampleCount(); i++ {
		s, _ := t.Samples.Sample(i)
		if s.Entry == nil {
			return fail(ErrMalformed, fmt.Sprintf("sample %d has no sample entry", i))
		}
		kind := s.Entry.Kind()
		if kind == "" {
			return fail(ErrUnsupportedCodec, string(s.Entry.Codec))
		}
		if kind != t.Kind {
			return fail(ErrMalformed, fmt.Sprintf("sample %d is %s in a %s track", i, kind, t.Kind))
		}
		if err := checkEntry(s.Entry); err != nil {
			return fail(err, fmt.Sprintf("sample %d", i))
		}
	}

	// Chunk offsets need not increase, so every sample is checked.
	size := uint64(len(data))
	for i := uint32(1); i <= t.Samples.SampleCount(); i++ {
		s, _ := t.Samples.Sample(i)
		if s.Offset > size || uint64(s.Size) > size-s.Offset {
			return fail(ErrSampleOutOfRange, fmt.Sprintf("sample %d at offset %d with %d bytes, file has %d bytes", i, s.Offset, s.Size, size))
		}
	}
	return nil
}

// checkEntry rejects supported entries whose configuration is incomplete.
func checkEntry(e *SampleEntry) error {
	switch {
	case e.Video != nil && e.Video.Codec == "":
		return fmt.Errorf("%w: %s without codec configuration", ErrMalformed, e.Codec)
	case e.Audio != nil && e.Audio.Codec == "":
		return fmt.Errorf("%w: %s without codec configuration", ErrMalformed, e.Codec)
	case e.Video == nil && e.Audio == nil:
		return fmt.Errorf("%w: %s has no decoder configuration", ErrMalformed, e.Codec)
	}
	return nil
}

// buildInfo lists distinct decoder configurations in first-seen order.
func (c *Container) buildInfo() model.ContainerInfo {
	info := model.ContainerInfo{
		AudioConfigs: []model.AudioDecoderConfig{},
		VideoConfigs: []model.VideoDecoderConfig{},
	}
	var seen []*SampleEntry
	for _, t := range c.tracks {
		for i := uint32(1); i <= t.Samples.SampleCount(); i++ {
			s, _ := t.Samples.Sample(i)
			if containsEntry(seen, s.Entry) {
				continue
			}
			seen = append(seen, s.Entry)
			if s.Entry.Audio != nil {
				info.AudioConfigs = append(info.AudioConfigs, *s.Entry.Audio)
			}
			if s.Entry.Video != nil {
				info.VideoConfigs = append(info.VideoConfigs, *s.Entry.Video)
			}
		}
	}
	return info
}

func containsEntry(entries []*SampleEntry, e *SampleEntry) bool {
	for _, x := range entries {
		if x.Equal(e) {
			return true
		}
	}
	return false
}

// Tracks returns the tracks in declaration order.
func (c *Container) Tracks() []*Track {
	return c.tracks
}

// Info returns the distinct decoder configurations of the container.
func (c *Container) Info() model.ContainerInfo {
	return c.info
}

// Payload returns a sample's bytes as a view into the container data.
func (c *Container) Payload(s Sample) []byte {
	return c.data[s.Offset:s.End():s.End()]
}

// Size returns the size of the file in bytes.
func (c *Container) Size() int {
	return len(c.data)
}

// Duration is the end time of the longest track.
func (c *Container) Duration() time.Duration {
	var d time.Duration
	for _, t := range c.tracks {
		if td := t.Duration(); td > d {
			d = td
		}
	}
	return d
}

// Summary describes the container for display.
func (c *Container) Summary() model.ContainerSummary {
	out := model.ContainerSummary{
		Info:           c.info,
		Bytes:          len(c.data),
		DurationMicros: c.Duration().Microseconds(),
	}
	for _, t := range c.tracks {
		ts := model.TrackSummary{
			ID:             t.ID,
			Kind:           t.Kind,
			Timescale:      t.Timescale,
			Samples:        t.Samples.SampleCount(),
			DurationMicros: t.Duration().Microseconds(),
		}
		for i := uint32(1); i <= ts.Samples; i++ {
			if s, _ := t.Samples.Sample(i); s.IsSync {
				ts.SyncSamples++
			}
		}
		out.Tracks = append(out.Tracks, ts)
	}
	return out
}
