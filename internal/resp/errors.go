package resp

import (
	"errors"
	"fmt"
)

// ErrNeedMoreBytes signals that buf does not yet contain a complete value.
// It never escapes past the framed connection layer.
var ErrNeedMoreBytes = errors.New("resp: need more bytes")

// ProtocolError wraps a malformed-framing condition that is not simply
// "more bytes needed" — the connection that produced it must be closed.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string { return "resp: protocol error: " + e.Msg }

func protoErr(format string, args ...interface{}) error {
	return &ProtocolError{Msg: fmt.Sprintf(format, args...)}
}
