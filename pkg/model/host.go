package model

// HostCommandType names a request the engine makes of the decode host.
type HostCommandType string

const (
	HostSleep              HostCommandType = "sleep"
	HostCreateVideoDecoder HostCommandType = "create_video_decoder"
	HostCreateAudioDecoder HostCommandType = "create_audio_decoder"
	HostDecode             HostCommandType = "decode"
	HostCloseDecoder       HostCommandType = "close_decoder"
	HostEndOfStream        HostCommandType = "end_of_stream"
)

// HostCommand is a host call as published to remote decode hosts.
// Only the fields relevant to Type are set.
type HostCommand struct {
	Type        HostCommandType     `json:"type"`
	SessionID   SessionID           `json:"session_id,omitempty"`
	Token       Token               `json:"token,omitempty"`
	DecoderID   *DecoderID          `json:"decoder_id,omitempty"`
	SleepMicros int64               `json:"sleep_us,omitempty"`
	Video       *VideoDecoderConfig `json:"video,omitempty"`
	Audio       *AudioDecoderConfig `json:"audio,omitempty"`
	Chunk       *EncodedChunk       `json:"chunk,omitempty"`
	Payload     []byte              `json:"payload,omitempty"`
}
