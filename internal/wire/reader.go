package wire

import (
	"bytes"
	"encoding/binary"
	"unicode/utf8"

	"github.com/tidegate/pg/internal"
)

// Reader is a bounds-checked cursor over a single received message body.
// All multi-byte integers are read in big-endian (network) order.
// Returned slices are views into the underlying buffer and must not be
// retained after the buffer is recycled.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Remaining returns the number of unread bytes.
func (rd *Reader) Remaining() int {
	return len(rd.buf) - rd.pos
}

func (rd *Reader) ReadByte() (byte, error) {
	if rd.pos >= len(rd.buf) {
		return 0, ErrUnexpectedEOF
	}
	c := rd.buf[rd.pos]
	rd.pos++
	return c, nil
}

// ReadThisByte reads one byte and fails unless it equals expected.
func (rd *Reader) ReadThisByte(expected byte) error {
	c, err := rd.ReadByte()
	if err != nil {
		return err
	}
	if c != expected {
		return UnexpectedByteError{Expected: expected, Got: c}
	}
	return nil
}

func (rd *Reader) ReadInt16() (int16, error) {
	b, err := rd.ReadN(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(b)), nil
}

func (rd *Reader) ReadInt32() (int32, error) {
	b, err := rd.ReadN(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

// ReadThisInt32 reads an int32 and fails unless it equals expected.
func (rd *Reader) ReadThisInt32(expected int32) error {
	n, err := rd.ReadInt32()
	if err != nil {
		return err
	}
	if n != expected {
		return unexpectedValuef("unexpected value: expected %d, got %d", expected, n)
	}
	return nil
}

// ReadString reads a NUL-terminated UTF-8 string and advances past the
// terminator.
func (rd *Reader) ReadString() (string, error) {
	i := bytes.IndexByte(rd.buf[rd.pos:], 0)
	if i == -1 {
		return "", ErrUnexpectedEOF
	}
	b := rd.buf[rd.pos : rd.pos+i]
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	rd.pos += i + 1
	return string(b), nil
}

// ReadN returns a view of the next n bytes.
func (rd *Reader) ReadN(n int) ([]byte, error) {
	if n < 0 {
		return nil, internal.Errorf("pg: reading negative number of bytes: %d", n)
	}
	if rd.pos+n > len(rd.buf) {
		return nil, ErrUnexpectedEOF
	}
	b := rd.buf[rd.pos : rd.pos+n]
	rd.pos += n
	return b, nil
}

// ReadRemaining returns a view of all unread bytes.
func (rd *Reader) ReadRemaining() []byte {
	b := rd.buf[rd.pos:]
	rd.pos = len(rd.buf)
	return b
}

func (rd *Reader) PeekByte() (byte, error) {
	if rd.pos >= len(rd.buf) {
		return 0, ErrUnexpectedEOF
	}
	return rd.buf[rd.pos], nil
}

func (rd *Reader) PeekInt32() (int32, error) {
	if rd.pos+4 > len(rd.buf) {
		return 0, ErrUnexpectedEOF
	}
	return int32(binary.BigEndian.Uint32(rd.buf[rd.pos:])), nil
}

func (rd *Reader) Skip(n int) error {
	if rd.pos+n > len(rd.buf) {
		return ErrUnexpectedEOF
	}
	rd.pos += n
	return nil
}

// Finish fails unless the cursor is exactly at the end of the buffer.
// It catches messages whose declared length disagrees with their body.
func (rd *Reader) Finish() error {
	if rd.pos != len(rd.buf) {
		return ErrUnexpectedEOF
	}
	return nil
}
