package types

import (
	"encoding/binary"
	"time"

	"github.com/tidegate/pg/internal"
)

const (
	dateFormat         = "2006-01-02"
	timeFormat         = "15:04:05.999999999"
	timestampFormat    = "2006-01-02 15:04:05.999999999"
	timestamptzFormat  = "2006-01-02 15:04:05.999999999-07:00:00"
	timestamptzFormat2 = "2006-01-02 15:04:05.999999999-07:00"
	timestamptzFormat3 = "2006-01-02 15:04:05.999999999-07"
)

// Binary timestamps count microseconds from the Postgres epoch.
var pgEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

func scanTime(b []byte, format Format) (time.Time, error) {
	if format == BinaryFormat {
		if len(b) != 8 {
			return time.Time{}, internal.Errorf("pg: can't parse binary timestamp: %d bytes", len(b))
		}
		micros := int64(binary.BigEndian.Uint64(b))
		return pgEpoch.Add(time.Duration(micros) * time.Microsecond), nil
	}
	return ParseTimeString(internal.BytesToString(b))
}

// ParseTimeString parses the text representation of date, time,
// timestamp and timestamptz values.
func ParseTimeString(s string) (time.Time, error) {
	switch l := len(s); {
	case l <= len(timeFormat):
		if l == len(dateFormat) {
			return time.Parse(dateFormat, s)
		}
		return time.Parse(timeFormat, s)
	default:
		if c := s[len(s)-9]; c == '+' || c == '-' {
			return time.Parse(timestamptzFormat, s)
		}
		if c := s[len(s)-6]; c == '+' || c == '-' {
			return time.Parse(timestamptzFormat2, s)
		}
		if c := s[len(s)-3]; c == '+' || c == '-' {
			return time.Parse(timestamptzFormat3, s)
		}
		return time.Parse(timestampFormat, s)
	}
}
