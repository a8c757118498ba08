package pg

import (
	"fmt"

	"github.com/tidegate/pg/internal/wire"
	"github.com/tidegate/pg/types"
)

type msgType byte

const (
	commandCompleteMsg    = msgType('C')
	dataRowMsg            = msgType('D')
	errorResponseMsg      = msgType('E')
	emptyQueryResponseMsg = msgType('I')
	backendKeyDataMsg     = msgType('K')
	noticeResponseMsg     = msgType('N')
	authenticationMsg     = msgType('R')
	parameterStatusMsg    = msgType('S')
	rowDescriptionMsg     = msgType('T')
	readyForQueryMsg      = msgType('Z')

	queryMsg           = msgType('Q')
	terminateMsg       = msgType('X')
	passwordMessageMsg = msgType('p')
)

// Authentication request codes carried by the 'R' message.
const (
	authenticationOK                = 0
	authenticationCleartextPassword = 3
	authenticationSASL              = 10
	authenticationSASLContinue      = 11
	authenticationSASLFinal         = 12
)

const (
	// Protocol version 3.0 as a single big-endian int32.
	protocolVersion = 196608 // 0x00030000

	cancelRequestCode = 80877102
)

// Message is a decoded backend message. The set of implementations is
// closed: the tag byte uniquely determines the decode rule, and an
// unknown tag is a decode error.
type Message interface {
	backend()
}

type AuthenticationOK struct{}

type AuthenticationCleartextPassword struct{}

// AuthenticationSASL asks the client to begin SASL authentication using
// one of the listed mechanisms.
type AuthenticationSASL struct {
	Mechanisms []string
}

// AuthenticationSASLContinue carries opaque challenge bytes of an
// in-progress SASL exchange.
type AuthenticationSASLContinue struct {
	Data []byte
}

// AuthenticationSASLFinal carries the opaque server-final SASL bytes.
type AuthenticationSASLFinal struct {
	Data []byte
}

// Notice is an informational message related to a request. Its fields
// use the same codes as server errors.
type Notice struct {
	fields map[byte]string
}

func (n *Notice) Field(k byte) string {
	return n.fields[k]
}

func (n *Notice) String() string {
	return n.Field('S') + ": " + n.Field('M')
}

// ParameterStatus reports a run-time parameter value.
type ParameterStatus struct {
	Name  string
	Value string
}

// KeyData identifies the backend process for out-of-band cancel
// requests on a separate connection.
type KeyData struct {
	ProcessID int32
	SecretKey int32
}

// ReadyForQuery marks the connection as available for the next query.
type ReadyForQuery struct {
	// TxStatus is 'I' when idle, 'T' inside a transaction block and
	// 'E' inside a failed transaction block.
	TxStatus byte
}

type EmptyQuery struct{}

// CommandComplete marks the successful end of one command's response.
type CommandComplete struct {
	Tag string
}

// RowDescription describes the columns of an upcoming result set. One
// instance is shared by every Row of the result set and is read-only
// after decoding.
type RowDescription struct {
	Fields []FieldDescription
}

// FieldDescription describes a single result column. TableOID and
// AttrNum are zero when the field is not a simple table column.
type FieldDescription struct {
	Name         string
	TableOID     int32
	AttrNum      int16
	TypeOID      int32
	TypeSize     int16
	TypeModifier int32
	Format       types.Format
}

// DataRow carries one row's raw column bytes. A nil value is SQL NULL;
// a zero-length non-nil value is an empty non-null value.
type DataRow struct {
	Values [][]byte
}

func (*AuthenticationOK) backend()                {}
func (*AuthenticationCleartextPassword) backend() {}
func (*AuthenticationSASL) backend()              {}
func (*AuthenticationSASLContinue) backend()      {}
func (*AuthenticationSASLFinal) backend()         {}
func (*ServerError) backend()                     {}
func (*Notice) backend()                          {}
func (*ParameterStatus) backend()                 {}
func (*KeyData) backend()                         {}
func (*ReadyForQuery) backend()                   {}
func (*EmptyQuery) backend()                      {}
func (*CommandComplete) backend()                 {}
func (*RowDescription) backend()                  {}
func (*DataRow) backend()                         {}

// decodeMessage decodes one backend message body. The 5-byte header
// (tag + length) has already been consumed; body holds exactly
// length-4 bytes.
func decodeMessage(tag byte, body []byte) (Message, error) {
	rd := wire.NewReader(body)
	switch msgType(tag) {
	case authenticationMsg:
		return decodeAuthentication(rd)
	case errorResponseMsg:
		fields, err := decodeFields(rd)
		if err != nil {
			return nil, err
		}
		return &ServerError{fields: fields}, nil
	case noticeResponseMsg:
		fields, err := decodeFields(rd)
		if err != nil {
			return nil, err
		}
		return &Notice{fields: fields}, nil
	case parameterStatusMsg:
		return decodeParameterStatus(rd)
	case backendKeyDataMsg:
		return decodeKeyData(rd)
	case readyForQueryMsg:
		return decodeReadyForQuery(rd)
	case emptyQueryResponseMsg:
		if err := rd.Finish(); err != nil {
			return nil, err
		}
		return &EmptyQuery{}, nil
	case commandCompleteMsg:
		return decodeCommandComplete(rd)
	case rowDescriptionMsg:
		return decodeRowDescription(rd)
	case dataRowMsg:
		return decodeDataRow(rd)
	default:
		return nil, wire.UnexpectedValueError{
			Reason: fmt.Sprintf("unknown message tag: %q", tag),
		}
	}
}

func decodeAuthentication(rd *wire.Reader) (Message, error) {
	code, err := rd.ReadInt32()
	if err != nil {
		return nil, err
	}
	switch code {
	case authenticationOK:
		if err := rd.Finish(); err != nil {
			return nil, err
		}
		return &AuthenticationOK{}, nil
	case authenticationCleartextPassword:
		if err := rd.Finish(); err != nil {
			return nil, err
		}
		return &AuthenticationCleartextPassword{}, nil
	case authenticationSASL:
		var mechanisms []string
		for {
			c, err := rd.PeekByte()
			if err != nil {
				return nil, err
			}
			if c == 0 {
				break
			}
			s, err := rd.ReadString()
			if err != nil {
				return nil, err
			}
			mechanisms = append(mechanisms, s)
		}
		return &AuthenticationSASL{Mechanisms: mechanisms}, nil
	case authenticationSASLContinue:
		return &AuthenticationSASLContinue{Data: copyBytes(rd.ReadRemaining())}, nil
	case authenticationSASLFinal:
		return &AuthenticationSASLFinal{Data: copyBytes(rd.ReadRemaining())}, nil
	default:
		return nil, wire.UnexpectedValueError{
			Reason: fmt.Sprintf("unknown authentication request code: %d", code),
		}
	}
}

// decodeFields reads the (code, value) list shared by error and notice
// messages, terminated by a bare NUL.
func decodeFields(rd *wire.Reader) (map[byte]string, error) {
	fields := make(map[byte]string)
	for {
		c, err := rd.ReadByte()
		if err != nil {
			return nil, err
		}
		if c == 0 {
			break
		}
		s, err := rd.ReadString()
		if err != nil {
			return nil, err
		}
		fields[c] = s
	}
	return fields, nil
}

func decodeParameterStatus(rd *wire.Reader) (*ParameterStatus, error) {
	name, err := rd.ReadString()
	if err != nil {
		return nil, err
	}
	value, err := rd.ReadString()
	if err != nil {
		return nil, err
	}
	if err := rd.Finish(); err != nil {
		return nil, err
	}
	return &ParameterStatus{Name: name, Value: value}, nil
}

func decodeKeyData(rd *wire.Reader) (*KeyData, error) {
	processID, err := rd.ReadInt32()
	if err != nil {
		return nil, err
	}
	secretKey, err := rd.ReadInt32()
	if err != nil {
		return nil, err
	}
	if err := rd.Finish(); err != nil {
		return nil, err
	}
	return &KeyData{ProcessID: processID, SecretKey: secretKey}, nil
}

func decodeReadyForQuery(rd *wire.Reader) (*ReadyForQuery, error) {
	status, err := rd.ReadByte()
	if err != nil {
		return nil, err
	}
	if err := rd.Finish(); err != nil {
		return nil, err
	}
	return &ReadyForQuery{TxStatus: status}, nil
}

func decodeCommandComplete(rd *wire.Reader) (*CommandComplete, error) {
	tag, err := rd.ReadString()
	if err != nil {
		return nil, err
	}
	if err := rd.Finish(); err != nil {
		return nil, err
	}
	return &CommandComplete{Tag: tag}, nil
}

func decodeRowDescription(rd *wire.Reader) (*RowDescription, error) {
	count, err := rd.ReadInt16()
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, wire.UnexpectedValueError{
			Reason: fmt.Sprintf("negative field count in row description: %d", count),
		}
	}

	fields := make([]FieldDescription, count)
	for i := range fields {
		if err := decodeFieldDescription(rd, &fields[i]); err != nil {
			return nil, err
		}
	}
	if err := rd.Finish(); err != nil {
		return nil, err
	}
	return &RowDescription{Fields: fields}, nil
}

func decodeFieldDescription(rd *wire.Reader, f *FieldDescription) error {
	var err error
	if f.Name, err = rd.ReadString(); err != nil {
		return err
	}
	if f.TableOID, err = rd.ReadInt32(); err != nil {
		return err
	}
	if f.AttrNum, err = rd.ReadInt16(); err != nil {
		return err
	}
	if f.TypeOID, err = rd.ReadInt32(); err != nil {
		return err
	}
	if f.TypeSize, err = rd.ReadInt16(); err != nil {
		return err
	}
	if f.TypeModifier, err = rd.ReadInt32(); err != nil {
		return err
	}
	format, err := rd.ReadInt16()
	if err != nil {
		return err
	}
	switch types.Format(format) {
	case types.TextFormat, types.BinaryFormat:
		f.Format = types.Format(format)
	default:
		return wire.UnexpectedValueError{
			Reason: fmt.Sprintf("unknown format code: %d", format),
		}
	}
	return nil
}

func decodeDataRow(rd *wire.Reader) (*DataRow, error) {
	count, err := rd.ReadInt16()
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, wire.UnexpectedValueError{
			Reason: fmt.Sprintf("negative field count in data row: %d", count),
		}
	}

	values := make([][]byte, count)
	for i := range values {
		n, err := rd.ReadInt32()
		if err != nil {
			return nil, err
		}
		if n < 0 {
			// NULL, represented as a nil slice.
			continue
		}
		b, err := rd.ReadN(int(n))
		if err != nil {
			return nil, err
		}
		values[i] = append(make([]byte, 0, n), b...)
	}
	if err := rd.Finish(); err != nil {
		return nil, err
	}
	return &DataRow{Values: values}, nil
}

//------------------------------------------------------------------------------

// The startup message has no leading type byte and its length prefix
// covers the whole message.
func writeStartupMsg(buf *wire.Buffer, user, database, options string) error {
	buf.StartMessage(0)
	buf.WriteInt32(protocolVersion)
	buf.WriteString("user")
	buf.WriteString(user)
	if database != "" {
		buf.WriteString("database")
		buf.WriteString(database)
	}
	if options != "" {
		buf.WriteString("options")
		buf.WriteString(options)
	}
	buf.WriteByte(0)
	return buf.FinishMessage()
}

func writeCancelRequestMsg(buf *wire.Buffer, processID, secretKey int32) error {
	buf.StartMessage(0)
	buf.WriteInt32(cancelRequestCode)
	buf.WriteInt32(processID)
	buf.WriteInt32(secretKey)
	return buf.FinishMessage()
}

func writeQueryMsg(buf *wire.Buffer, query string) error {
	buf.StartMessage(byte(queryMsg))
	buf.WriteString(query)
	return buf.FinishMessage()
}

func writePasswordMsg(buf *wire.Buffer, password string) error {
	buf.StartMessage(byte(passwordMessageMsg))
	buf.WriteString(password)
	return buf.FinishMessage()
}

func writeSASLInitialResponseMsg(buf *wire.Buffer, mechanism string, data []byte) error {
	buf.StartMessage(byte(passwordMessageMsg))
	buf.WriteString(mechanism)
	if data == nil {
		buf.WriteInt32(-1)
	} else {
		buf.WriteInt32(int32(len(data)))
		buf.WriteBytes(data)
	}
	return buf.FinishMessage()
}

func writeSASLResponseMsg(buf *wire.Buffer, data []byte) error {
	buf.StartMessage(byte(passwordMessageMsg))
	buf.WriteBytes(data)
	return buf.FinishMessage()
}

func writeTerminateMsg(buf *wire.Buffer) error {
	buf.StartMessage(byte(terminateMsg))
	return buf.FinishMessage()
}

func copyBytes(b []byte) []byte {
	return append([]byte(nil), b...)
}
