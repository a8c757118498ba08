package types

import (
	"encoding/binary"
	"math"
	"strconv"
	"time"

	"github.com/tmthrgd/go-hex"

	"github.com/tidegate/pg/internal"
)

// Scan decodes raw column bytes into v according to the column's wire
// format. A nil b represents SQL NULL and sets v to its zero value.
// Numeric text values are ASCII decimal; binary fixed-width integers
// are big-endian per the wire protocol.
func Scan(v interface{}, b []byte, format Format) error {
	switch v := v.(type) {
	case *string:
		if b == nil {
			*v = ""
			return nil
		}
		*v = string(b)
		return nil
	case *[]byte:
		if b == nil {
			*v = nil
			return nil
		}
		var err error
		*v, err = scanBytes(b, format)
		return err
	case *bool:
		if b == nil {
			*v = false
			return nil
		}
		var err error
		*v, err = scanBool(b, format)
		return err
	case *int16:
		n, err := scanInt(b, format, 16)
		*v = int16(n)
		return err
	case *int32:
		n, err := scanInt(b, format, 32)
		*v = int32(n)
		return err
	case *int64:
		n, err := scanInt(b, format, 64)
		*v = n
		return err
	case *int:
		n, err := scanInt(b, format, strconv.IntSize)
		*v = int(n)
		return err
	case *float32:
		f, err := scanFloat(b, format, 32)
		*v = float32(f)
		return err
	case *float64:
		f, err := scanFloat(b, format, 64)
		*v = f
		return err
	case *time.Time:
		if b == nil {
			*v = time.Time{}
			return nil
		}
		var err error
		*v, err = scanTime(b, format)
		return err
	}

	if scanner, ok := v.(ValueScanner); ok {
		return scanner.ScanValue(b, format)
	}
	return internal.Errorf("pg: Scan(unsupported %T)", v)
}

func scanBytes(b []byte, format Format) ([]byte, error) {
	if format == BinaryFormat {
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil
	}
	if len(b) < 2 || b[0] != '\\' || b[1] != 'x' {
		return nil, internal.Errorf("pg: can't parse bytea: %q", b)
	}
	b = b[2:]
	out := make([]byte, hex.DecodedLen(len(b)))
	if _, err := hex.Decode(out, b); err != nil {
		return nil, err
	}
	return out, nil
}

func scanBool(b []byte, format Format) (bool, error) {
	if format == BinaryFormat {
		if len(b) != 1 {
			return false, internal.Errorf("pg: can't parse bool: %d bytes", len(b))
		}
		return b[0] != 0, nil
	}
	switch internal.BytesToString(b) {
	case "t", "true":
		return true, nil
	case "f", "false":
		return false, nil
	}
	return false, internal.Errorf("pg: can't parse bool: %q", b)
}

func scanInt(b []byte, format Format, bitSize int) (int64, error) {
	if b == nil {
		return 0, nil
	}
	if format == TextFormat {
		return strconv.ParseInt(internal.BytesToString(b), 10, bitSize)
	}
	switch len(b) {
	case 2:
		return int64(int16(binary.BigEndian.Uint16(b))), nil
	case 4:
		return int64(int32(binary.BigEndian.Uint32(b))), nil
	case 8:
		return int64(binary.BigEndian.Uint64(b)), nil
	}
	return 0, internal.Errorf("pg: can't parse binary int: %d bytes", len(b))
}

func scanFloat(b []byte, format Format, bitSize int) (float64, error) {
	if b == nil {
		return 0, nil
	}
	if format == TextFormat {
		return strconv.ParseFloat(internal.BytesToString(b), bitSize)
	}
	switch len(b) {
	case 4:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b))), nil
	case 8:
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	}
	return 0, internal.Errorf("pg: can't parse binary float: %d bytes", len(b))
}
