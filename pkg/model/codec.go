package model

import "encoding/hex"

// TrackKind is the media kind of a track, derived from its first sample's codec.
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// String returns the string representation of the track kind.
func (k TrackKind) String() string {
	return string(k)
}

// VideoDecoderConfig is what the decode host needs to configure a video decoder.
// Field names follow the WebCodecs VideoDecoderConfig dictionary.
type VideoDecoderConfig struct {
	Codec       string `json:"codec" yaml:"codec"`
	Description []byte `json:"description,omitempty" yaml:"description,omitempty"`
	CodedWidth  uint16 `json:"codedWidth" yaml:"coded_width"`
	CodedHeight uint16 `json:"codedHeight" yaml:"coded_height"`
}

// MarshalYAML renders the description as a hex string.
func (c VideoDecoderConfig) MarshalYAML() (any, error) {
	return struct {
		Codec       string `yaml:"codec"`
		Description string `yaml:"description,omitempty"`
		CodedWidth  uint16 `yaml:"coded_width"`
		CodedHeight uint16 `yaml:"coded_height"`
	}{c.Codec, hex.EncodeToString(c.Description), c.CodedWidth, c.CodedHeight}, nil
}

// AudioDecoderConfig is what the decode host needs to configure an audio decoder.
type AudioDecoderConfig struct {
	Codec            string `json:"codec" yaml:"codec"`
	SampleRate       uint32 `json:"sampleRate" yaml:"sample_rate"`
	NumberOfChannels uint8  `json:"numberOfChannels" yaml:"number_of_channels"`
}

// ContainerInfo summarizes the decoder configurations a loaded container needs,
// one entry per distinct sample entry in first-seen order.
type ContainerInfo struct {
	AudioConfigs []AudioDecoderConfig `json:"audioConfigs" yaml:"audio_configs"`
	VideoConfigs []VideoDecoderConfig `json:"videoConfigs" yaml:"video_configs"`
}

// HasAudio reports whether the container carries an audio track.
func (i *ContainerInfo) HasAudio() bool {
	return len(i.AudioConfigs) > 0
}

// HasVideo reports whether the container carries a video track.
func (i *ContainerInfo) HasVideo() bool {
	return len(i.VideoConfigs) > 0
}

// TrackSummary describes one track of a loaded container.
type TrackSummary struct {
	ID             uint32    `json:"id" yaml:"id"`
	Kind           TrackKind `json:"kind" yaml:"kind"`
	Timescale      uint32    `json:"timescale" yaml:"timescale"`
	Samples        uint32    `json:"samples" yaml:"samples"`
	SyncSamples    uint32    `json:"sync_samples" yaml:"sync_samples"`
	DurationMicros int64     `json:"duration_us" yaml:"duration_us"`
}

// ContainerSummary is the decoder summary plus per-track figures.
type ContainerSummary struct {
	Info           ContainerInfo  `json:"info" yaml:"info"`
	Tracks         []TrackSummary `json:"tracks" yaml:"tracks"`
	Bytes          int            `json:"bytes" yaml:"bytes"`
	DurationMicros int64          `json:"duration_us" yaml:"duration_us"`
}
