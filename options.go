package pg

import (
	"net"
	"time"
)

// Connection options.
type Options struct {
	// Network type, either tcp or unix.
	// Default is tcp.
	Network string
	// TCP host:port or Unix socket depending on Network.
	// Default is localhost:5432.
	Addr string

	User     string
	Password string
	Database string
	// ServerOptions are extra command-line options passed to the
	// server via the startup message.
	ServerOptions string

	// Dialer establishes the transport. The connection only requires
	// an ordered, reliable byte stream; wrap the returned conn for TLS
	// or tunneling. Default dials Network/Addr.
	Dialer func() (net.Conn, error)

	// Authenticator handles SASL challenges should the server request
	// them. Default is SCRAM-SHA-256 using User and Password. An
	// Authenticator is stateful and must not be shared between
	// connections.
	Authenticator Authenticator

	// Dial timeout for establishing new connections.
	// Default is 5 seconds.
	DialTimeout time.Duration
	// Timeout for socket reads. If reached, reads fail with a timeout
	// instead of blocking; the connection must then be discarded,
	// since partial message state cannot be resumed.
	ReadTimeout time.Duration
	// Timeout for socket writes.
	WriteTimeout time.Duration
}

func (opt *Options) init() {
	if opt.Network == "" {
		opt.Network = "tcp"
	}

	if opt.Addr == "" {
		switch opt.Network {
		case "tcp":
			opt.Addr = "localhost:5432"
		case "unix":
			opt.Addr = "/var/run/postgresql/.s.PGSQL.5432"
		}
	}

	if opt.User == "" {
		opt.User = "postgres"
	}

	if opt.DialTimeout == 0 {
		opt.DialTimeout = 5 * time.Second
	}
}

func (opt *Options) getDialer() func() (net.Conn, error) {
	if opt.Dialer != nil {
		return opt.Dialer
	}
	return func() (net.Conn, error) {
		return net.DialTimeout(opt.Network, opt.Addr, opt.DialTimeout)
	}
}

func (opt *Options) getAuthenticator() Authenticator {
	if opt.Authenticator != nil {
		return opt.Authenticator
	}
	return newSCRAMAuth(opt.User, opt.Password)
}
