package model

import (
	"fmt"
	"strconv"
)

// SessionID identifies one playback session. It is chosen by the caller of
// play and is opaque to the engine.
type SessionID string

// DecoderID names a decoder resource living on the decode host.
type DecoderID uint32

// Token names one pending host operation (a sleep or a decoder creation).
// The host hands it back together with the completion value.
type Token uint64

// String returns the decimal form used on the HTTP surface.
func (t Token) String() string {
	return strconv.FormatUint(uint64(t), 10)
}

// ParseToken parses the decimal form produced by Token.String.
func ParseToken(s string) (Token, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse token %q: %w", s, err)
	}
	if v == 0 {
		return 0, fmt.Errorf("parse token %q: zero is not a valid token", s)
	}
	return Token(v), nil
}
