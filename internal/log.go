package internal

import (
	"fmt"
	"log"
)

// Logger, when set, receives server notices and other conditions that
// are worth reporting but are not surfaced as errors.
var Logger *log.Logger

func Logf(s string, args ...interface{}) {
	if Logger == nil {
		return
	}
	_ = Logger.Output(2, fmt.Sprintf(s, args...))
}
