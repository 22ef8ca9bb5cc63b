package mp4

import (
	"strconv"

	"github.com/shiguredo/media-processors/pkg/model"
)

// Codec is the four-character code of a sample entry box.
type Codec string

const (
	CodecAVC1 Codec = "avc1"
	CodecVP08 Codec = "vp08"
	CodecVP09 Codec = "vp09"
	CodecOpus Codec = "Opus"
	CodecMP4A Codec = "mp4a"
)

// Kind returns the track kind a codec belongs to, or "" when unsupported.
func (c Codec) Kind() model.TrackKind {
	switch c {
	case CodecAVC1, CodecVP08, CodecVP09:
		return model.TrackKindVideo
	case CodecOpus, CodecMP4A:
		return model.TrackKindAudio
	}
	return ""
}

// SampleEntry is one codec configuration a track's samples are encoded under.
// Exactly one of Video and Audio is set for supported codecs.
type SampleEntry struct {
	Codec Codec
	Video *model.VideoDecoderConfig
	Audio *model.AudioDecoderConfig

	// raw holds the encoded sample entry box; two entries are the same codec
	// configuration iff their encodings are identical.
	raw string
}

// NewVideoEntry builds a video sample entry whose identity is cfg itself.
func NewVideoEntry(codec Codec, cfg model.VideoDecoderConfig) *SampleEntry {
	return &SampleEntry{
		Codec: codec,
		Video: &cfg,
		raw:   string(codec) + "|" + cfg.Codec + "|" + string(cfg.Description) + "|" + strconv.Itoa(int(cfg.CodedWidth)) + "x" + strconv.Itoa(int(cfg.CodedHeight)),
	}
}

// NewAudioEntry builds an audio sample entry whose identity is cfg itself.
func NewAudioEntry(codec Codec, cfg model.AudioDecoderConfig) *SampleEntry {
	return &SampleEntry{
		Codec: codec,
		Audio: &cfg,
		raw:   string(codec) + "|" + cfg.Codec + "|" + strconv.Itoa(int(cfg.SampleRate)) + "|" + strconv.Itoa(int(cfg.NumberOfChannels)),
	}
}

// Kind returns the track kind of the entry, or "" when the codec is unsupported.
func (e *SampleEntry) Kind() model.TrackKind {
	if e == nil {
		return ""
	}
	return e.Codec.Kind()
}

// Equal reports whether two entries describe the same codec configuration.
func (e *SampleEntry) Equal(o *SampleEntry) bool {
	if e == nil || o == nil {
		return e == o
	}
	return e.raw == o.raw
}

// Sample is one entry of a sample table. Timestamp and Duration are in the
// track's timescale.
type Sample struct {
	Index     uint32 // 1-based
	Timestamp uint64
	Duration  uint32
	Offset    uint64
	Size      uint32
	IsSync    bool
	Entry     *SampleEntry
}

// End returns the byte offset one past the sample's payload.
func (s Sample) End() uint64 {
	return s.Offset + uint64(s.Size)
}

// SampleTable is an immutable, random-access index of a track's samples.
type SampleTable struct {
	samples []Sample
}

// NewSampleTable indexes samples in order, assigning 1-based indices.
func NewSampleTable(samples []Sample) *SampleTable {
	out := make([]Sample, len(samples))
	copy(out, samples)
	for i := range out {
		out[i].Index = uint32(i + 1)
	}
	return &SampleTable{samples: out}
}

// SampleCount returns the number of samples.
func (t *SampleTable) SampleCount() uint32 {
	return uint32(len(t.samples))
}

// Sample returns the sample at the 1-based index.
func (t *SampleTable) Sample(index uint32) (Sample, bool) {
	if index == 0 || index > uint32(len(t.samples)) {
		return Sample{}, false
	}
	return t.samples[index-1], true
}

// Last returns the final sample.
func (t *SampleTable) Last() (Sample, bool) {
	return t.Sample(t.SampleCount())
}
