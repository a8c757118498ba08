package pg

import (
	"encoding/binary"
	"io"
	"net"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tidegate/pg/internal/wire"
)

// serverConn speaks the backend side of the protocol for tests.
type serverConn struct {
	c   net.Conn
	buf *wire.Buffer
}

func (sc *serverConn) readStartup() map[string]string {
	var lenBuf [4]byte
	_, err := io.ReadFull(sc.c, lenBuf[:])
	Expect(err).NotTo(HaveOccurred())

	msgLen := int(binary.BigEndian.Uint32(lenBuf[:]))
	bodyBuf := make([]byte, msgLen-4)
	_, err = io.ReadFull(sc.c, bodyBuf)
	Expect(err).NotTo(HaveOccurred())

	rd := wire.NewReader(bodyBuf)
	Expect(rd.ReadThisInt32(196608)).To(Succeed())

	params := make(map[string]string)
	for {
		c, err := rd.PeekByte()
		Expect(err).NotTo(HaveOccurred())
		if c == 0 {
			break
		}
		name, err := rd.ReadString()
		Expect(err).NotTo(HaveOccurred())
		value, err := rd.ReadString()
		Expect(err).NotTo(HaveOccurred())
		params[name] = value
	}
	return params
}

func (sc *serverConn) readMessage() (byte, *wire.Reader) {
	var header [5]byte
	_, err := io.ReadFull(sc.c, header[:])
	Expect(err).NotTo(HaveOccurred())

	msgLen := int(binary.BigEndian.Uint32(header[1:]))
	bodyBuf := make([]byte, msgLen-4)
	_, err = io.ReadFull(sc.c, bodyBuf)
	Expect(err).NotTo(HaveOccurred())

	return header[0], wire.NewReader(bodyBuf)
}

func (sc *serverConn) readQuery() string {
	tag, rd := sc.readMessage()
	Expect(tag).To(BeEquivalentTo('Q'))
	query, err := rd.ReadString()
	Expect(err).NotTo(HaveOccurred())
	return query
}

func (sc *serverConn) send(tag byte, fn func(buf *wire.Buffer)) {
	sc.buf.StartMessage(tag)
	if fn != nil {
		fn(sc.buf)
	}
	Expect(sc.buf.FinishMessage()).To(Succeed())
}

func (sc *serverConn) flush() {
	_, err := sc.c.Write(sc.buf.Finish())
	Expect(err).NotTo(HaveOccurred())
	sc.buf.Reset()
}

// startTestServer runs one script per expected client connection and
// returns Options dialing the server.
func startTestServer(scripts ...func(sc *serverConn)) *Options {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(func() {
		_ = ln.Close()
	})

	go func() {
		defer GinkgoRecover()
		for _, script := range scripts {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			script(&serverConn{c: c, buf: wire.NewBuffer()})
			// Keep the conn open until the client hangs up.
			go func(c net.Conn) {
				defer GinkgoRecover()
				_, _ = io.Copy(io.Discard, c)
				_ = c.Close()
			}(c)
		}
	}()

	return &Options{
		Addr: ln.Addr().String(),
		User: "postgres",
	}
}

func handshakeOK(sc *serverConn) {
	params := sc.readStartup()
	Expect(params["user"]).To(Equal("postgres"))

	sc.send('R', func(buf *wire.Buffer) {
		buf.WriteInt32(0)
	})
	sc.send('S', func(buf *wire.Buffer) {
		buf.WriteString("server_version")
		buf.WriteString("14.2")
	})
	sc.send('K', func(buf *wire.Buffer) {
		buf.WriteInt32(42)
		buf.WriteInt32(77)
	})
	sc.send('Z', func(buf *wire.Buffer) {
		buf.WriteByte('I')
	})
	sc.flush()
}

func sendSelectOne(sc *serverConn) {
	sc.send('T', func(buf *wire.Buffer) {
		buf.WriteInt16(1)
		buf.WriteString("?column?")
		buf.WriteInt32(0)
		buf.WriteInt16(0)
		buf.WriteInt32(23)
		buf.WriteInt16(4)
		buf.WriteInt32(-1)
		buf.WriteInt16(0)
	})
	sc.send('D', func(buf *wire.Buffer) {
		buf.WriteInt16(1)
		buf.WriteInt32(1)
		buf.WriteBytes([]byte("1"))
	})
	sc.send('C', func(buf *wire.Buffer) {
		buf.WriteString("SELECT 1")
	})
	sc.send('Z', func(buf *wire.Buffer) {
		buf.WriteByte('I')
	})
	sc.flush()
}

var _ = Describe("Connect", func() {
	It("performs the startup handshake", func() {
		opt := startTestServer(handshakeOK)

		cn, err := Connect(opt)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() {
			_ = cn.Close()
		})

		Expect(cn.Ready()).To(BeTrue())
		Expect(cn.BackendKeyData()).To(Equal(&KeyData{ProcessID: 42, SecretKey: 77}))

		Expect(cn.BufferedLen()).To(Equal(1))
		msg, ok := cn.NextBuffered()
		Expect(ok).To(BeTrue())
		Expect(msg).To(Equal(&ParameterStatus{Name: "server_version", Value: "14.2"}))

		_, ok = cn.NextBuffered()
		Expect(ok).To(BeFalse())
	})

	It("fails the handshake on a server error", func() {
		opt := startTestServer(func(sc *serverConn) {
			sc.readStartup()
			sc.send('E', func(buf *wire.Buffer) {
				buf.WriteByte('S')
				buf.WriteString("FATAL")
				buf.WriteByte('C')
				buf.WriteString("28000")
				buf.WriteByte('M')
				buf.WriteString("role does not exist")
				buf.WriteByte(0)
			})
			sc.flush()
		})

		_, err := Connect(opt)
		srvErr := &ServerError{}
		Expect(err).To(BeAssignableToTypeOf(srvErr))
		Expect(err.(*ServerError).Field('C')).To(Equal("28000"))
	})

	It("authenticates with a cleartext password", func() {
		opt := startTestServer(func(sc *serverConn) {
			sc.readStartup()
			sc.send('R', func(buf *wire.Buffer) {
				buf.WriteInt32(3)
			})
			sc.flush()

			tag, rd := sc.readMessage()
			Expect(tag).To(BeEquivalentTo('p'))
			password, err := rd.ReadString()
			Expect(err).NotTo(HaveOccurred())
			Expect(password).To(Equal("hunter2"))

			sc.send('R', func(buf *wire.Buffer) {
				buf.WriteInt32(0)
			})
			sc.send('Z', func(buf *wire.Buffer) {
				buf.WriteByte('I')
			})
			sc.flush()
		})
		opt.Password = "hunter2"

		cn, err := Connect(opt)
		Expect(err).NotTo(HaveOccurred())
		Expect(cn.Ready()).To(BeTrue())
		_ = cn.Close()
	})

	It("frames a SASL exchange through the authenticator", func() {
		opt := startTestServer(func(sc *serverConn) {
			sc.readStartup()
			sc.send('R', func(buf *wire.Buffer) {
				buf.WriteInt32(10)
				buf.WriteString("FAKE")
				buf.WriteByte(0)
			})
			sc.flush()

			tag, rd := sc.readMessage()
			Expect(tag).To(BeEquivalentTo('p'))
			mechanism, err := rd.ReadString()
			Expect(err).NotTo(HaveOccurred())
			Expect(mechanism).To(Equal("FAKE"))
			n, err := rd.ReadInt32()
			Expect(err).NotTo(HaveOccurred())
			initial, err := rd.ReadN(int(n))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(initial)).To(Equal("start"))

			sc.send('R', func(buf *wire.Buffer) {
				buf.WriteInt32(11)
				buf.WriteBytes([]byte("chal"))
			})
			sc.flush()

			tag, rd = sc.readMessage()
			Expect(tag).To(BeEquivalentTo('p'))
			Expect(string(rd.ReadRemaining())).To(Equal("echo-chal"))

			sc.send('R', func(buf *wire.Buffer) {
				buf.WriteInt32(12)
				buf.WriteBytes([]byte("final"))
			})
			sc.send('R', func(buf *wire.Buffer) {
				buf.WriteInt32(0)
			})
			sc.send('Z', func(buf *wire.Buffer) {
				buf.WriteByte('I')
			})
			sc.flush()
		})

		auth := &fakeAuth{}
		opt.Authenticator = auth

		cn, err := Connect(opt)
		Expect(err).NotTo(HaveOccurred())
		Expect(cn.Ready()).To(BeTrue())
		Expect(auth.finished).To(BeTrue())
		_ = cn.Close()
	})
})

var _ = Describe("Query", func() {
	It("returns typed rows bound to shared metadata", func() {
		opt := startTestServer(func(sc *serverConn) {
			handshakeOK(sc)
			Expect(sc.readQuery()).To(Equal("SELECT 1"))
			sendSelectOne(sc)
		})

		cn, err := Connect(opt)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() {
			_ = cn.Close()
		})

		res, err := cn.Query("SELECT 1")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Tag()).To(Equal("SELECT 1"))
		Expect(res.RowsAffected()).To(Equal(int64(1)))

		rows := res.Rows()
		Expect(rows).To(HaveLen(1))

		var n int
		Expect(rows[0].Scan("?column?", &n)).To(Succeed())
		Expect(n).To(Equal(1))

		_, ok := rows[0].Get("missing")
		Expect(ok).To(BeFalse())
		Expect(rows[0].Scan("missing", &n)).To(Equal(FieldNotFoundError{Name: "missing"}))

		Expect(cn.Ready()).To(BeTrue())
	})

	It("returns an empty result set for statements without rows", func() {
		opt := startTestServer(func(sc *serverConn) {
			handshakeOK(sc)
			sc.readQuery()
			sc.send('C', func(buf *wire.Buffer) {
				buf.WriteString("CREATE TABLE")
			})
			sc.send('Z', func(buf *wire.Buffer) {
				buf.WriteByte('I')
			})
			sc.flush()
		})

		cn, err := Connect(opt)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() {
			_ = cn.Close()
		})

		res, err := cn.Query("CREATE TABLE t (id int)")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Rows()).To(BeEmpty())
		Expect(res.Tag()).To(Equal("CREATE TABLE"))
		Expect(res.RowsAffected()).To(Equal(int64(-1)))
	})

	It("handles the empty query response", func() {
		opt := startTestServer(func(sc *serverConn) {
			handshakeOK(sc)
			sc.readQuery()
			sc.send('I', nil)
			sc.send('Z', func(buf *wire.Buffer) {
				buf.WriteByte('I')
			})
			sc.flush()
		})

		cn, err := Connect(opt)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() {
			_ = cn.Close()
		})

		res, err := cn.Query("")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Rows()).To(BeEmpty())
		Expect(res.Tag()).To(BeEmpty())
	})

	It("surfaces a server error as a value and stays usable", func() {
		opt := startTestServer(func(sc *serverConn) {
			handshakeOK(sc)

			sc.readQuery()
			sc.send('E', func(buf *wire.Buffer) {
				buf.WriteByte('S')
				buf.WriteString("ERROR")
				buf.WriteByte('C')
				buf.WriteString("42P01")
				buf.WriteByte('M')
				buf.WriteString(`relation "nonexistent" does not exist`)
				buf.WriteByte(0)
			})
			sc.send('Z', func(buf *wire.Buffer) {
				buf.WriteByte('I')
			})
			sc.flush()

			Expect(sc.readQuery()).To(Equal("SELECT 1"))
			sendSelectOne(sc)
		})

		cn, err := Connect(opt)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() {
			_ = cn.Close()
		})

		_, err = cn.Query("SELECT * FROM nonexistent")
		srvErr, ok := err.(*ServerError)
		Expect(ok).To(BeTrue())
		Expect(srvErr.Field('C')).To(Equal("42P01"))

		// The response sequence resolved, so the next query works.
		Expect(cn.Ready()).To(BeTrue())
		res, err := cn.Query("SELECT 1")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Rows()).To(HaveLen(1))
	})

	It("fails on data rows without a row description", func() {
		opt := startTestServer(func(sc *serverConn) {
			handshakeOK(sc)
			sc.readQuery()
			sc.send('D', func(buf *wire.Buffer) {
				buf.WriteInt16(1)
				buf.WriteInt32(1)
				buf.WriteBytes([]byte("1"))
			})
			sc.send('C', func(buf *wire.Buffer) {
				buf.WriteString("SELECT 1")
			})
			sc.send('Z', func(buf *wire.Buffer) {
				buf.WriteByte('I')
			})
			sc.flush()
		})

		cn, err := Connect(opt)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() {
			_ = cn.Close()
		})

		_, err = cn.Query("SELECT 1")
		Expect(err).To(Equal(ErrMissingRowDescription))
	})

	It("rejects a second row description before command completion", func() {
		opt := startTestServer(func(sc *serverConn) {
			handshakeOK(sc)
			sc.readQuery()
			for i := 0; i < 2; i++ {
				sc.send('T', func(buf *wire.Buffer) {
					buf.WriteInt16(0)
				})
			}
			sc.flush()
		})

		cn, err := Connect(opt)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() {
			_ = cn.Close()
		})

		_, err = cn.Query("SELECT 1")
		Expect(err).To(BeAssignableToTypeOf(&ProtocolError{}))
	})

	It("treats unknown message tags as fatal", func() {
		opt := startTestServer(func(sc *serverConn) {
			handshakeOK(sc)
			sc.readQuery()
			sc.send('X', nil)
			sc.flush()
		})

		cn, err := Connect(opt)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() {
			_ = cn.Close()
		})

		_, err = cn.Query("SELECT 1")
		Expect(err).To(BeAssignableToTypeOf(wire.UnexpectedValueError{}))
	})

	It("buffers out-of-band messages in arrival order", func() {
		opt := startTestServer(func(sc *serverConn) {
			handshakeOK(sc)
			sc.readQuery()
			sc.send('N', func(buf *wire.Buffer) {
				buf.WriteByte('S')
				buf.WriteString("NOTICE")
				buf.WriteByte('M')
				buf.WriteString("first")
				buf.WriteByte(0)
			})
			sc.send('S', func(buf *wire.Buffer) {
				buf.WriteString("TimeZone")
				buf.WriteString("UTC")
			})
			sendSelectOne(sc)
		})

		cn, err := Connect(opt)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() {
			_ = cn.Close()
		})

		_, ok := cn.NextBuffered() // ParameterStatus from the handshake
		Expect(ok).To(BeTrue())

		_, err = cn.Query("SELECT 1")
		Expect(err).NotTo(HaveOccurred())

		msg, ok := cn.NextBuffered()
		Expect(ok).To(BeTrue())
		Expect(msg).To(BeAssignableToTypeOf(&Notice{}))

		msg, ok = cn.NextBuffered()
		Expect(ok).To(BeTrue())
		Expect(msg).To(Equal(&ParameterStatus{Name: "TimeZone", Value: "UTC"}))
	})

	It("requires readiness", func() {
		cn := &Conn{opt: &Options{}}
		_, err := cn.Query("SELECT 1")
		Expect(err).To(Equal(ErrNotReady))
	})

	It("rejects queries after Close", func() {
		opt := startTestServer(handshakeOK)

		cn, err := Connect(opt)
		Expect(err).NotTo(HaveOccurred())
		Expect(cn.Close()).To(Succeed())

		_, err = cn.Query("SELECT 1")
		Expect(err).To(Equal(ErrClosed))
		Expect(cn.Close()).To(Equal(ErrClosed))
	})
})

var _ = Describe("Drain", func() {
	It("collects unsolicited messages without blocking", func() {
		sent := make(chan struct{})
		opt := startTestServer(func(sc *serverConn) {
			handshakeOK(sc)
			sc.send('S', func(buf *wire.Buffer) {
				buf.WriteString("TimeZone")
				buf.WriteString("UTC")
			})
			sc.flush()
			close(sent)
		})

		cn, err := Connect(opt)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() {
			_ = cn.Close()
		})

		_, ok := cn.NextBuffered() // ParameterStatus from the handshake
		Expect(ok).To(BeTrue())

		Eventually(sent).Should(BeClosed())
		Eventually(func() (int, error) {
			if err := cn.Drain(); err != nil {
				return 0, err
			}
			return cn.BufferedLen(), nil
		}).Should(Equal(1))

		msg, ok := cn.NextBuffered()
		Expect(ok).To(BeTrue())
		Expect(msg).To(Equal(&ParameterStatus{Name: "TimeZone", Value: "UTC"}))

		// Nothing left: Drain stays a no-op.
		Expect(cn.Drain()).To(Succeed())
		Expect(cn.BufferedLen()).To(BeZero())
	})
})

var _ = Describe("Cancel", func() {
	It("issues the cancel request on a separate connection", func() {
		cancelled := make(chan struct{})
		opt := startTestServer(
			handshakeOK,
			func(sc *serverConn) {
				var frame [16]byte
				_, err := io.ReadFull(sc.c, frame[:])
				Expect(err).NotTo(HaveOccurred())
				Expect(binary.BigEndian.Uint32(frame[0:4])).To(BeEquivalentTo(16))
				Expect(binary.BigEndian.Uint32(frame[4:8])).To(BeEquivalentTo(80877102))
				Expect(binary.BigEndian.Uint32(frame[8:12])).To(BeEquivalentTo(42))
				Expect(binary.BigEndian.Uint32(frame[12:16])).To(BeEquivalentTo(77))
				close(cancelled)
			},
		)

		cn, err := Connect(opt)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() {
			_ = cn.Close()
		})

		Expect(cn.Cancel()).To(Succeed())
		Eventually(cancelled).Should(BeClosed())
	})
})

var _ = Describe("Close", func() {
	It("sends a terminate message", func() {
		terminated := make(chan struct{})
		opt := startTestServer(func(sc *serverConn) {
			handshakeOK(sc)
			tag, _ := sc.readMessage()
			Expect(tag).To(BeEquivalentTo('X'))
			close(terminated)
		})

		cn, err := Connect(opt)
		Expect(err).NotTo(HaveOccurred())
		Expect(cn.Close()).To(Succeed())
		Eventually(terminated).Should(BeClosed())
	})
})

type fakeAuth struct {
	finished bool
}

func (a *fakeAuth) Start(mechanisms []string) (string, []byte, error) {
	return mechanisms[0], []byte("start"), nil
}

func (a *fakeAuth) Next(challenge []byte) ([]byte, error) {
	return append([]byte("echo-"), challenge...), nil
}

func (a *fakeAuth) Finish(data []byte) error {
	a.finished = true
	return nil
}
