package mp4

import (
	"fmt"

	gomp4 "github.com/abema/go-mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"

	"github.com/shiguredo/media-processors/pkg/model"
)

const (
	// objectTypeMPEG4Audio is the esds objectTypeIndication for MPEG-4 audio.
	objectTypeMPEG4Audio = 0x40

	defaultVP9Codec = "vp09.00.10.08"
)

// videoEntry seeds a video sample entry from its box payload. Codec strings
// that depend on child boxes are filled in by applyAVCC and applyVPCC.
func videoEntry(codec Codec, raw []byte, box *gomp4.VisualSampleEntry) *SampleEntry {
	cfg := &model.VideoDecoderConfig{
		CodedWidth:  box.Width,
		CodedHeight: box.Height,
	}
	switch codec {
	case CodecVP08:
		cfg.Codec = "vp8"
	case CodecVP09:
		cfg.Codec = defaultVP9Codec
	}
	return &SampleEntry{Codec: codec, Video: cfg, raw: string(raw)}
}

func audioEntry(codec Codec, raw []byte, box *gomp4.AudioSampleEntry) *SampleEntry {
	cfg := &model.AudioDecoderConfig{
		SampleRate:       box.SampleRate >> 16,
		NumberOfChannels: uint8(box.ChannelCount),
	}
	if codec == CodecOpus {
		cfg.Codec = "opus"
	}
	return &SampleEntry{Codec: codec, Audio: cfg, raw: string(raw)}
}

// applyAVCC sets the avc1.PPCCLL codec string and the decoder description,
// which is the avcC payload without its box header.
func applyAVCC(e *SampleEntry, payload []byte, box *gomp4.AVCDecoderConfiguration) {
	if e == nil || e.Video == nil {
		return
	}
	e.Video.Codec = fmt.Sprintf("avc1.%02x%02x%02x", box.Profile, box.ProfileCompatibility, box.Level)
	e.Video.Description = append([]byte(nil), payload...)
}

func applyVPCC(e *SampleEntry, box *gomp4.VpcC) {
	if e == nil || e.Video == nil {
		return
	}
	e.Video.Codec = fmt.Sprintf("vp09.%02d.%02d.%02d", box.Profile, box.Level, box.BitDepth)
}

// applyESDS derives the mp4a codec string. For MPEG-4 audio the audio object
// type is appended, taken from the AudioSpecificConfig.
func applyESDS(e *SampleEntry, box *gomp4.Esds) error {
	if e == nil || e.Audio == nil {
		return nil
	}
	var (
		oti    uint8
		found  bool
		config []byte
	)
	for _, d := range box.Descriptors {
		switch d.Tag {
		case gomp4.DecoderConfigDescrTag:
			if d.DecoderConfigDescriptor != nil {
				oti = d.DecoderConfigDescriptor.ObjectTypeIndication
				found = true
			}
		case gomp4.DecSpecificInfoTag:
			config = d.Data
		}
	}
	if !found {
		return fmt.Errorf("%w: esds without DecoderConfigDescriptor", ErrMalformed)
	}
	codec := fmt.Sprintf("mp4a.%02X", oti)
	if oti == objectTypeMPEG4Audio {
		if len(config) == 0 {
			return fmt.Errorf("%w: esds without DecoderSpecificInfo", ErrMalformed)
		}
		codec = fmt.Sprintf("%s.%d", codec, audioObjectType(config))
		if e.Audio.SampleRate == 0 {
			// The entry's 16.16 rate cannot hold rates above 65535 and some
			// muxers leave it empty; the ASC is authoritative.
			var asc mpeg4audio.AudioSpecificConfig
			if err := asc.Unmarshal(config); err == nil && asc.SampleRate > 0 {
				e.Audio.SampleRate = uint32(asc.SampleRate)
			}
		}
	}
	e.Audio.Codec = codec
	return nil
}

// audioObjectType returns the signalled audio object type of an
// AudioSpecificConfig. Escape-coded types (31) are resolved by a full parse.
func audioObjectType(config []byte) int {
	aot := int(config[0] >> 3)
	if aot != 31 {
		return aot
	}
	var asc mpeg4audio.AudioSpecificConfig
	if err := asc.Unmarshal(config); err == nil {
		return int(asc.Type)
	}
	return aot
}
