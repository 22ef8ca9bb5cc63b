package mp4

import (
	"errors"
	"fmt"

	"github.com/shiguredo/media-processors/pkg/model"
)

// Sentinel errors. Every load failure wraps exactly one of these.
var (
	ErrNoFtyp              = errors.New("first box is not 'ftyp'")
	ErrNoMoov              = errors.New("no 'moov' box found")
	ErrNoTracks            = errors.New("no video or audio tracks found")
	ErrMultipleAudioTracks = errors.New("unsupported: multiple audio tracks")
	ErrMultipleVideoTracks = errors.New("unsupported: multiple video tracks")
	ErrEmptyTrack          = errors.New("empty track")
	ErrUnsupportedCodec    = errors.New("unsupported codec")
	ErrSampleOutOfRange    = errors.New("sample data is out of range")
	ErrInvalidTimescale    = errors.New("timescale must be positive")
	ErrMalformed           = errors.New("malformed container")
)

// LoadError attaches the offending track to a load failure.
type LoadError struct {
	TrackID uint32
	Kind    model.TrackKind // empty when the kind could not be determined
	Detail  string
	Err     error
}

func (e *LoadError) Error() string {
	prefix := fmt.Sprintf("track %d", e.TrackID)
	if e.Kind != "" {
		prefix = fmt.Sprintf("%s track %d", e.Kind, e.TrackID)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %v: %s", prefix, e.Err, e.Detail)
	}
	return fmt.Sprintf("%s: %v", prefix, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
