package model

import (
	"encoding/json"
	"time"
)

// ChunkType classifies an encoded chunk as a sync sample or not.
type ChunkType string

const (
	ChunkTypeKey   ChunkType = "key"
	ChunkTypeDelta ChunkType = "delta"
)

// ChunkTypeOf maps a sample's sync flag to its chunk type.
func ChunkTypeOf(isSync bool) ChunkType {
	if isSync {
		return ChunkTypeKey
	}
	return ChunkTypeDelta
}

// EncodedChunk is the metadata sent with every decode request.
// Timestamp already includes the session's repeat offset.
type EncodedChunk struct {
	Type      ChunkType
	Timestamp time.Duration
	Duration  time.Duration
}

type encodedChunkJSON struct {
	Type      ChunkType `json:"type"`
	Timestamp int64     `json:"timestamp"` // microseconds
	Duration  int64     `json:"duration"`  // microseconds
}

// MarshalJSON encodes timestamps in microseconds, the unit WebCodecs uses.
func (c EncodedChunk) MarshalJSON() ([]byte, error) {
	return json.Marshal(encodedChunkJSON{
		Type:      c.Type,
		Timestamp: c.Timestamp.Microseconds(),
		Duration:  c.Duration.Microseconds(),
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (c *EncodedChunk) UnmarshalJSON(data []byte) error {
	var v encodedChunkJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	c.Type = v.Type
	c.Timestamp = time.Duration(v.Timestamp) * time.Microsecond
	c.Duration = time.Duration(v.Duration) * time.Microsecond
	return nil
}

// TicksToDuration converts a tick count in the given timescale to a duration.
// The whole-second part and the remainder are converted separately so that
// large tick counts do not overflow and no rounding error accumulates.
func TicksToDuration(ticks uint64, timescale uint32) time.Duration {
	if timescale == 0 {
		return 0
	}
	ts := uint64(timescale)
	secs := ticks / ts
	rem := ticks % ts
	return time.Duration(secs)*time.Second + time.Duration(rem*uint64(time.Second)/ts)
}
