package wire

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"time"

	"github.com/vmihailenco/bufpool"
)

var noDeadline = time.Time{}

// peekTimeout bounds the non-blocking data check. It only needs to be
// long enough for bytes already delivered by the kernel to surface.
const peekTimeout = time.Millisecond

// Conn frames messages over an ordered, reliable byte stream. It owns
// the stream exclusively and is not safe for concurrent use.
type Conn struct {
	netConn net.Conn
	wb      *Buffer

	peekBuf [1]byte
	peeked  bool
}

func NewConn(netConn net.Conn) *Conn {
	return &Conn{
		netConn: netConn,
		wb:      NewBuffer(),
	}
}

func (cn *Conn) RemoteAddr() net.Addr {
	return cn.netConn.RemoteAddr()
}

// SetTimeout arms read and write deadlines relative to now. A zero
// duration clears the corresponding deadline.
func (cn *Conn) SetTimeout(rt, wt time.Duration) {
	now := time.Now()
	if rt > 0 {
		_ = cn.netConn.SetReadDeadline(now.Add(rt))
	} else {
		_ = cn.netConn.SetReadDeadline(noDeadline)
	}
	if wt > 0 {
		_ = cn.netConn.SetWriteDeadline(now.Add(wt))
	} else {
		_ = cn.netConn.SetWriteDeadline(noDeadline)
	}
}

// WriteBuffer returns the outgoing message buffer. Call Flush to send.
func (cn *Conn) WriteBuffer() *Buffer {
	return cn.wb
}

func (cn *Conn) Flush() error {
	b := cn.wb.Finish()
	_, err := cn.netConn.Write(b)
	cn.wb.Reset()
	return err
}

// ReadMessage reads one backend frame: a 5-byte header (tag + length)
// followed by length-4 body bytes. The body is returned in a pooled
// buffer; callers must copy what they keep and return the buffer with
// PutBuffer. A short read is an I/O error, not a decode error.
func (cn *Conn) ReadMessage() (byte, *bufpool.Buffer, error) {
	var header [5]byte
	if err := cn.readFull(header[:]); err != nil {
		return 0, nil, err
	}

	tag := header[0]
	msgLen := int32(binary.BigEndian.Uint32(header[1:]))
	if msgLen < 4 {
		return 0, nil, unexpectedValuef("message length %d is implausibly small", msgLen)
	}

	body := bufpool.Get(int(msgLen) - 4)
	if err := cn.readFull(body.Bytes()); err != nil {
		bufpool.Put(body)
		return 0, nil, err
	}
	return tag, body, nil
}

func (cn *Conn) PutBuffer(buf *bufpool.Buffer) {
	bufpool.Put(buf)
}

// HasData reports whether at least one byte is available to read
// without blocking. A byte consumed by the check is replayed by the
// next read.
func (cn *Conn) HasData() (bool, error) {
	if cn.peeked {
		return true, nil
	}
	if err := cn.netConn.SetReadDeadline(time.Now().Add(peekTimeout)); err != nil {
		return false, err
	}
	n, err := cn.netConn.Read(cn.peekBuf[:])
	_ = cn.netConn.SetReadDeadline(noDeadline)
	if n > 0 {
		cn.peeked = true
		return true, nil
	}
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return false, nil
		}
		return false, err
	}
	return false, nil
}

func (cn *Conn) readFull(b []byte) error {
	if cn.peeked && len(b) > 0 {
		b[0] = cn.peekBuf[0]
		cn.peeked = false
		b = b[1:]
	}
	_, err := io.ReadFull(cn.netConn, b)
	return err
}

func (cn *Conn) Close() error {
	return cn.netConn.Close()
}
