package pg

import (
	"fmt"

	"github.com/tidegate/pg/internal"
	"github.com/tidegate/pg/internal/wire"
)

var (
	// ErrNotReady is returned when a query is issued before the server
	// has reported ReadyForQuery.
	ErrNotReady = internal.Errorf("pg: connection is not ready for a query")

	// ErrClosed is returned when the connection has been closed or
	// abandoned after a fatal protocol error.
	ErrClosed = internal.Errorf("pg: connection is closed")

	// ErrMissingRowDescription is returned when data rows arrive
	// without a preceding row description.
	ErrMissingRowDescription = &ProtocolError{s: "pg: received data rows without a row description"}
)

// Codec errors, re-exported from the wire package. They are fatal to
// the connection: after one, stream framing can no longer be trusted.
var (
	ErrUnexpectedEOF  = wire.ErrUnexpectedEOF
	ErrInvalidUTF8    = wire.ErrInvalidUTF8
	ErrBufferTooShort = wire.ErrBufferTooShort
)

// Error is the interface of errors reported by the server. Field
// returns the value of an error field by its protocol code, e.g. 'S'
// for severity, 'C' for the SQLSTATE code and 'M' for the message.
type Error interface {
	error
	Field(byte) string
}

// ServerError is a backend error message. It is returned to the caller
// as a value; receiving one never terminates the process.
type ServerError struct {
	fields map[byte]string
}

var _ Error = (*ServerError)(nil)

func (err *ServerError) Field(k byte) string {
	return err.fields[k]
}

func (err *ServerError) Error() string {
	return fmt.Sprintf("%s #%s %s", err.Field('S'), err.Field('C'), err.Field('M'))
}

// ProtocolError reports a well-formed message arriving in a sequence
// the protocol does not allow.
type ProtocolError struct {
	s string
}

func protocolErrorf(s string, args ...interface{}) *ProtocolError {
	return &ProtocolError{s: fmt.Sprintf(s, args...)}
}

func (err *ProtocolError) Error() string {
	return err.s
}

// FieldNotFoundError is returned by Row lookups for a column name the
// result set does not contain.
type FieldNotFoundError struct {
	Name string
}

func (err FieldNotFoundError) Error() string {
	return fmt.Sprintf("pg: row has no field %q", err.Name)
}
