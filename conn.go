package pg

import (
	"github.com/tidegate/pg/internal"
	"github.com/tidegate/pg/internal/wire"
)

// Conn is a single connection to a PostgreSQL server. It owns its
// transport exclusively and carries one strictly sequential
// conversation: a second query must not be issued before the first one
// resolves. It is not safe for concurrent use without external
// synchronization.
type Conn struct {
	opt *Options
	cn  *wire.Conn

	// Out-of-band backend messages in arrival order. Never reordered;
	// consumed only via NextBuffered.
	responses []Message

	ready   bool
	closed  bool
	keyData *KeyData
}

// Connect opens a connection and performs the startup handshake. The
// returned Conn is ready for queries.
func Connect(opt *Options) (*Conn, error) {
	opt.init()

	netConn, err := opt.getDialer()()
	if err != nil {
		return nil, err
	}

	cn := &Conn{
		opt: opt,
		cn:  wire.NewConn(netConn),
	}
	if err := cn.startup(); err != nil {
		_ = cn.cn.Close()
		return nil, err
	}
	return cn, nil
}

// startup sends the startup message and buffers backend messages until
// the first ReadyForQuery. An error response during the handshake is
// fatal; a handshake never succeeds partially.
func (cn *Conn) startup() error {
	cn.cn.SetTimeout(cn.opt.ReadTimeout, cn.opt.WriteTimeout)

	buf := cn.cn.WriteBuffer()
	if err := writeStartupMsg(buf, cn.opt.User, cn.opt.Database, cn.opt.ServerOptions); err != nil {
		return err
	}
	if err := cn.cn.Flush(); err != nil {
		return err
	}

	var auth Authenticator
	for {
		msg, err := cn.readMessage()
		if err != nil {
			return err
		}

		switch m := msg.(type) {
		case *ReadyForQuery:
			cn.ready = true
			return nil
		case *ServerError:
			return m
		case *AuthenticationOK:
			// Nothing to do.
		case *AuthenticationCleartextPassword:
			if err := writePasswordMsg(buf, cn.opt.Password); err != nil {
				return err
			}
			if err := cn.cn.Flush(); err != nil {
				return err
			}
		case *AuthenticationSASL:
			auth = cn.opt.getAuthenticator()
			mechanism, initial, err := auth.Start(m.Mechanisms)
			if err != nil {
				return err
			}
			if err := writeSASLInitialResponseMsg(buf, mechanism, initial); err != nil {
				return err
			}
			if err := cn.cn.Flush(); err != nil {
				return err
			}
		case *AuthenticationSASLContinue:
			if auth == nil {
				return protocolErrorf("pg: SASL challenge before negotiation started")
			}
			resp, err := auth.Next(m.Data)
			if err != nil {
				return err
			}
			if err := writeSASLResponseMsg(buf, resp); err != nil {
				return err
			}
			if err := cn.cn.Flush(); err != nil {
				return err
			}
		case *AuthenticationSASLFinal:
			if auth == nil {
				return protocolErrorf("pg: SASL final data before negotiation started")
			}
			if err := auth.Finish(m.Data); err != nil {
				return err
			}
		case *KeyData:
			cn.keyData = m
		case *Notice:
			internal.Logf("pg: %s", m)
			cn.responses = append(cn.responses, msg)
		default:
			cn.responses = append(cn.responses, msg)
		}
	}
}

// Query sends a simple query and reads its complete response. On
// success it returns the result set; rows share one RowDescription.
// A backend error is returned as *ServerError after the response
// sequence resolves; the connection stays usable. Decode and protocol
// errors are fatal and the connection must be discarded.
func (cn *Conn) Query(query string) (*Result, error) {
	if cn.closed {
		return nil, ErrClosed
	}
	if !cn.ready {
		return nil, ErrNotReady
	}
	cn.ready = false

	cn.cn.SetTimeout(cn.opt.ReadTimeout, cn.opt.WriteTimeout)

	buf := cn.cn.WriteBuffer()
	if err := writeQueryMsg(buf, query); err != nil {
		return nil, err
	}
	if err := cn.cn.Flush(); err != nil {
		return nil, err
	}

	var (
		desc      *RowDescription
		dataRows  []*DataRow
		completed bool
		srvErr    *ServerError
		res       = &Result{}
	)

	for {
		msg, err := cn.readMessage()
		if err != nil {
			return nil, cn.fail(err)
		}

		switch m := msg.(type) {
		case *RowDescription:
			if desc != nil && !completed {
				return nil, cn.fail(protocolErrorf("pg: second row description before command completion"))
			}
			desc = m
		case *DataRow:
			dataRows = append(dataRows, m)
		case *CommandComplete:
			res.tag = m.Tag
			completed = true
		case *EmptyQuery:
			completed = true
		case *ServerError:
			srvErr = m
		case *ReadyForQuery:
			cn.ready = true
			if srvErr != nil {
				return nil, srvErr
			}
			if desc == nil {
				if len(dataRows) > 0 {
					return nil, cn.fail(ErrMissingRowDescription)
				}
				return res, nil
			}
			res.rows = make([]Row, len(dataRows))
			for i, dr := range dataRows {
				res.rows[i] = Row{desc: desc, values: dr.Values}
			}
			return res, nil
		default:
			cn.responses = append(cn.responses, msg)
		}
	}
}

// fail abandons the connection after a fatal error. The transport is
// closed; the stream position can no longer be trusted.
func (cn *Conn) fail(err error) error {
	cn.closed = true
	cn.ready = false
	_ = cn.cn.Close()
	return err
}

// readMessage reads and decodes one backend frame. Unknown tags are a
// hard decode failure: skipping a message this client does not know
// would trade framing safety for forward compatibility.
func (cn *Conn) readMessage() (Message, error) {
	tag, body, err := cn.cn.ReadMessage()
	if err != nil {
		return nil, err
	}
	msg, err := decodeMessage(tag, body.Bytes())
	cn.cn.PutBuffer(body)
	return msg, err
}

// readMessageNow is the non-blocking variant of readMessage. It
// returns nil, nil when no bytes are available.
func (cn *Conn) readMessageNow() (Message, error) {
	ok, err := cn.cn.HasData()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return cn.readMessage()
}

// Drain reads messages the server has already delivered outside the
// request/response cycle and appends them to the buffered responses.
func (cn *Conn) Drain() error {
	if cn.closed {
		return ErrClosed
	}
	for {
		msg, err := cn.readMessageNow()
		if err != nil {
			return err
		}
		if msg == nil {
			return nil
		}
		switch m := msg.(type) {
		case *KeyData:
			cn.keyData = m
		case *ReadyForQuery:
			cn.ready = true
		default:
			cn.responses = append(cn.responses, msg)
		}
	}
}

// NextBuffered pops the oldest buffered out-of-band message, or
// returns false if the buffer is empty.
func (cn *Conn) NextBuffered() (Message, bool) {
	if len(cn.responses) == 0 {
		return nil, false
	}
	msg := cn.responses[0]
	cn.responses = cn.responses[1:]
	return msg, true
}

// BufferedLen returns the number of buffered out-of-band messages.
func (cn *Conn) BufferedLen() int {
	return len(cn.responses)
}

// Ready reports whether the server accepts a new query.
func (cn *Conn) Ready() bool {
	return cn.ready
}

// BackendKeyData returns the cancel key captured during the handshake,
// or nil if the server did not send one.
func (cn *Conn) BackendKeyData() *KeyData {
	return cn.keyData
}

// Cancel opens a separate connection to the server and requests
// cancellation of whatever this connection is currently running. The
// outcome is only observable on this connection's own stream.
func (cn *Conn) Cancel() error {
	if cn.keyData == nil {
		return internal.Errorf("pg: no backend key data for cancel request")
	}

	netConn, err := cn.opt.getDialer()()
	if err != nil {
		return err
	}
	defer netConn.Close()

	c := wire.NewConn(netConn)
	c.SetTimeout(cn.opt.ReadTimeout, cn.opt.WriteTimeout)
	if err := writeCancelRequestMsg(c.WriteBuffer(), cn.keyData.ProcessID, cn.keyData.SecretKey); err != nil {
		return err
	}
	return c.Flush()
}

// Close sends a terminate message and closes the transport. The Conn
// must not be used afterwards.
func (cn *Conn) Close() error {
	if cn.closed {
		return ErrClosed
	}
	cn.closed = true
	cn.ready = false

	if err := writeTerminateMsg(cn.cn.WriteBuffer()); err == nil {
		_ = cn.cn.Flush()
	}
	return cn.cn.Close()
}
