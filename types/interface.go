package types

// Format selects the wire representation of a value. The protocol
// defines exactly two.
type Format int16

const (
	TextFormat   Format = 0
	BinaryFormat Format = 1
)

func (f Format) String() string {
	switch f {
	case TextFormat:
		return "text"
	case BinaryFormat:
		return "binary"
	default:
		return "invalid"
	}
}

// ValueScanner is implemented by types that decode themselves from raw
// column bytes. New value types hook into Scan by implementing it; the
// row machinery does not change.
type ValueScanner interface {
	ScanValue(b []byte, format Format) error
}
