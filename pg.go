/*
Package pg is a client for the PostgreSQL frontend/backend wire
protocol, version 3.0.

It speaks the simple-query flavor of the protocol: open a connection,
authenticate, send SQL text, get typed rows back.

	cn, err := pg.Connect(&pg.Options{
		User:     "postgres",
		Database: "app",
	})
	if err != nil {
		panic(err)
	}
	defer cn.Close()

	res, err := cn.Query("SELECT 1 AS n")
	if err != nil {
		panic(err)
	}
	var n int
	if err := res.Rows()[0].Scan("n", &n); err != nil {
		panic(err)
	}

The package handles framing, message decoding and the connection state
machine. Transport establishment beyond plain TCP (TLS, tunnels) is
injected via Options.Dialer, and SASL cryptography is delegated to an
Authenticator; SCRAM-SHA-256 is built in.
*/
package pg

import (
	"log"

	"github.com/tidegate/pg/internal"
	"github.com/tidegate/pg/types"
)

// Value format codes, re-exported for use with FieldDescription.
const (
	TextFormat   = types.TextFormat
	BinaryFormat = types.BinaryFormat
)

// ValueScanner lets custom types hook into Row.Scan.
type ValueScanner = types.ValueScanner

// SetLogger sets the logger used for server notices and other
// conditions that are reported but not returned as errors.
func SetLogger(logger *log.Logger) {
	internal.Logger = logger
}
