package wire

import "encoding/binary"

// Buffer is a growable output buffer for frontend messages. It is
// append-only except for WriteInt32At, which patches a reserved length
// prefix once the message body is known.
type Buffer struct {
	Bytes []byte
	start []int // message start positions
}

func NewBuffer() *Buffer {
	return &Buffer{
		Bytes: make([]byte, 0, 512),
	}
}

// StartMessage begins a message with the given tag and reserves the
// length prefix. A zero tag starts an untagged message (the startup and
// cancel-request frames have no leading type byte).
func (buf *Buffer) StartMessage(c byte) {
	if c == 0 {
		buf.start = append(buf.start, len(buf.Bytes))
	} else {
		buf.WriteByte(c)
		buf.start = append(buf.start, len(buf.Bytes))
	}
	buf.Grow(4)
}

// FinishMessage patches the reserved length prefix of the innermost
// started message. The length covers the prefix itself but not the tag.
func (buf *Buffer) FinishMessage() error {
	start := buf.start[len(buf.start)-1]
	buf.start = buf.start[:len(buf.start)-1]
	return buf.WriteInt32At(int32(len(buf.Bytes)-start), start)
}

func (buf *Buffer) WriteByte(c byte) error {
	buf.Bytes = append(buf.Bytes, c)
	return nil
}

func (buf *Buffer) WriteInt16(n int16) {
	buf.Bytes = append(buf.Bytes, 0, 0)
	binary.BigEndian.PutUint16(buf.Bytes[len(buf.Bytes)-2:], uint16(n))
}

func (buf *Buffer) WriteInt32(n int32) {
	buf.Bytes = append(buf.Bytes, 0, 0, 0, 0)
	binary.BigEndian.PutUint32(buf.Bytes[len(buf.Bytes)-4:], uint32(n))
}

// WriteInt32At overwrites 4 already-written bytes at offset.
func (buf *Buffer) WriteInt32At(n int32, offset int) error {
	if offset+4 > len(buf.Bytes) {
		return ErrBufferTooShort
	}
	binary.BigEndian.PutUint32(buf.Bytes[offset:], uint32(n))
	return nil
}

// WriteString writes the UTF-8 bytes of s followed by a NUL terminator.
func (buf *Buffer) WriteString(s string) {
	buf.Bytes = append(buf.Bytes, s...)
	buf.Bytes = append(buf.Bytes, 0)
}

func (buf *Buffer) WriteBytes(b []byte) {
	buf.Bytes = append(buf.Bytes, b...)
}

// Grow reserves n zero bytes.
func (buf *Buffer) Grow(n int) {
	buf.Bytes = append(buf.Bytes, make([]byte, n)...)
}

// Finish returns the accumulated bytes. It panics if a started message
// was not finished, since flushing a half-framed message desynchronizes
// the stream.
func (buf *Buffer) Finish() []byte {
	if len(buf.start) != 0 {
		panic("pg: message was not finished")
	}
	return buf.Bytes
}

func (buf *Buffer) Reset() {
	buf.start = buf.start[:0]
	buf.Bytes = buf.Bytes[:0]
}
