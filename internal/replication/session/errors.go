package session

import (
	"errors"
	"net"
)

// Session errors.
var (
	// ErrSessionClosed is returned when publishing on a session that is
	// closing or closed.
	ErrSessionClosed = errors.New("session: closed")

	// ErrFrameTooLarge is returned when a peer announces a frame larger
	// than the configured maximum.
	ErrFrameTooLarge = errors.New("session: frame exceeds maximum size")

	// ErrInvalidFrameHeader is returned when the length prefix is not
	// eight hexadecimal digits.
	ErrInvalidFrameHeader = errors.New("session: invalid frame header")

	// ErrHeartbeatTimeout is recorded when the peer stays silent for too
	// long.
	ErrHeartbeatTimeout = errors.New("session: heartbeat timeout")

	// ErrNoTLSConfig is returned when a secure session is requested
	// without a TLS configuration.
	ErrNoTLSConfig = errors.New("session: no TLS configuration")
)

// IOError is a transport failure on a session. The first IOError seen by a
// session is kept and reported by Err.
type IOError struct {
	Op  string // "publish", "receive", "handshake", ...
	Err error
}

// Error implements the error interface.
func (e *IOError) Error() string {
	return "session: " + e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *IOError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the error is a read or write deadline expiry.
func (e *IOError) Timeout() bool {
	return isTimeout(e.Err)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
