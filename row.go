package pg

import (
	"github.com/tidegate/pg/types"
)

// Row is one row of a result set bound to the shared column metadata
// of its query.
type Row struct {
	desc   *RowDescription
	values [][]byte
}

// fieldIndex returns the index of the first field with the given name.
// The protocol allows duplicate column names; the first match wins.
func (d *RowDescription) fieldIndex(name string) int {
	for i := range d.Fields {
		if d.Fields[i].Name == name {
			return i
		}
	}
	return -1
}

// Description returns the column metadata shared by all rows of the
// result set.
func (r Row) Description() *RowDescription {
	return r.desc
}

// Get returns the raw bytes of the named column. A NULL value is
// returned as nil with ok true; an unknown name returns ok false.
func (r Row) Get(name string) (b []byte, ok bool) {
	i := r.desc.fieldIndex(name)
	if i == -1 || i >= len(r.values) {
		return nil, false
	}
	return r.values[i], true
}

// Scan decodes the named column into v, directed by the column's
// format code. v is one of the supported scalar pointers or a
// types.ValueScanner.
func (r Row) Scan(name string, v interface{}) error {
	i := r.desc.fieldIndex(name)
	if i == -1 || i >= len(r.values) {
		return FieldNotFoundError{Name: name}
	}
	return types.Scan(v, r.values[i], r.desc.Fields[i].Format)
}
