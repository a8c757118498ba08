package wire

import (
	"errors"
	"fmt"
)

// Decode errors are fatal to the connection: once a message fails to
// decode, stream framing can no longer be trusted.
var (
	ErrUnexpectedEOF = errors.New("pg: unexpected EOF decoding message")
	ErrInvalidUTF8   = errors.New("pg: string is not valid UTF-8")
)

// ErrBufferTooShort is returned when a length prefix is patched at an
// offset beyond the written bytes. It indicates a bug in the encoder.
var ErrBufferTooShort = errors.New("pg: buffer too short to patch length")

// UnexpectedByteError is returned when a well-known byte, e.g. a message
// tag, does not have its expected value.
type UnexpectedByteError struct {
	Expected byte
	Got      byte
}

func (err UnexpectedByteError) Error() string {
	return fmt.Sprintf("pg: unexpected byte: expected %#x, got %#x", err.Expected, err.Got)
}

// UnexpectedValueError is returned when a decoded value is outside the
// set the protocol allows, e.g. an unknown message tag or a negative
// field count.
type UnexpectedValueError struct {
	Reason string
}

func (err UnexpectedValueError) Error() string {
	return "pg: " + err.Reason
}

func unexpectedValuef(s string, args ...interface{}) UnexpectedValueError {
	return UnexpectedValueError{Reason: fmt.Sprintf(s, args...)}
}
