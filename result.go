package pg

import (
	"strconv"
	"strings"
)

// Result is the decoded response to one simple query.
type Result struct {
	tag  string
	rows []Row
}

// Rows returns the result set. It is empty for statements that return
// no rows.
func (res *Result) Rows() []Row {
	return res.rows
}

// Tag returns the raw command tag, e.g. "SELECT 1" or "INSERT 0 5".
// It is empty for an empty query.
func (res *Result) Tag() string {
	return res.tag
}

// RowsAffected parses the trailing row count of the command tag, or
// returns -1 when the tag carries none.
func (res *Result) RowsAffected() int64 {
	i := strings.LastIndexByte(res.tag, ' ')
	if i == -1 {
		return -1
	}
	n, err := strconv.ParseInt(res.tag[i+1:], 10, 64)
	if err != nil {
		return -1
	}
	return n
}
