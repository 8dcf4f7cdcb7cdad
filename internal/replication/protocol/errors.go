package protocol

import (
	"errors"
	"fmt"
)

// Codec errors.
var (
	// ErrMalformedMessage is returned when bytes cannot be decoded into a
	// message: unknown tag, truncated buffer or inconsistent length field.
	ErrMalformedMessage = errors.New("protocol: malformed message")

	// ErrEmptyMessage is returned when decoding zero bytes.
	ErrEmptyMessage = errors.New("protocol: empty message")

	// ErrMissingCSN is returned when building an update without a CSN.
	ErrMissingCSN = errors.New("protocol: update message requires a CSN")

	// ErrMissingDN is returned when building an update without a DN.
	ErrMissingDN = errors.New("protocol: update message requires a DN")

	// ErrInvalidAssuredMode is returned for an assured mode other than
	// safe-read or safe-data.
	ErrInvalidAssuredMode = errors.New("protocol: invalid assured mode")
)

// DecodeError describes why a buffer could not be decoded. It always
// matches ErrMalformedMessage with errors.Is.
type DecodeError struct {
	Type    MsgType // Tag of the message being decoded, 0 if unknown
	Offset  int     // Byte offset where decoding failed
	Message string  // Human-readable description
	Err     error   // Underlying error, may be nil
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: cannot decode %s at offset %d: %s: %v", e.Type, e.Offset, e.Message, e.Err)
	}
	return fmt.Sprintf("protocol: cannot decode %s at offset %d: %s", e.Type, e.Offset, e.Message)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is makes every DecodeError match ErrMalformedMessage.
func (e *DecodeError) Is(target error) bool {
	return target == ErrMalformedMessage
}

func newDecodeError(t MsgType, offset int, message string, err error) *DecodeError {
	return &DecodeError{Type: t, Offset: offset, Message: message, Err: err}
}
