package ber

import (
	"errors"
	"fmt"
)

// Tag classes, the top two bits of the identifier octet.
const (
	ClassUniversal       = 0x00
	ClassApplication     = 0x40
	ClassContextSpecific = 0x80
	ClassPrivate         = 0xC0
)

// Primitive/constructed flag of the identifier octet.
const (
	TypePrimitive   = 0x00
	TypeConstructed = 0x20
)

// Universal tag numbers used by this package.
const (
	TagOctetString = 0x04
	TagEnumerated  = 0x0A
	TagSequence    = 0x10
	TagSet         = 0x11
)

const (
	// LengthLongFormBit marks a long form length octet.
	LengthLongFormBit = 0x80
	// MaxShortFormLength is the largest length written in a single octet.
	MaxShortFormLength = 127

	// maxLength bounds decoded lengths to keep them within int on every
	// platform.
	maxLength = 1<<31 - 1
)

var (
	ErrUnexpectedEOF    = errors.New("ber: unexpected end of data")
	ErrInvalidLength    = errors.New("ber: invalid length encoding")
	ErrIndefiniteLength = errors.New("ber: indefinite length not supported")
	ErrInvalidInteger   = errors.New("ber: invalid integer encoding")
	ErrTagMismatch      = errors.New("ber: tag mismatch")
)

// DecodeError provides detailed information about a decoding failure.
type DecodeError struct {
	Offset  int    // Byte offset where the error occurred
	Message string // Human-readable error description
	Err     error  // Underlying error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ber: decode error at offset %d: %s: %v", e.Offset, e.Message, e.Err)
	}
	return fmt.Sprintf("ber: decode error at offset %d: %s", e.Offset, e.Message)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// NewDecodeError creates a new DecodeError with the given parameters.
func NewDecodeError(offset int, message string, err error) *DecodeError {
	return &DecodeError{Offset: offset, Message: message, Err: err}
}

// TagMismatchError reports an identifier octet other than the expected one.
// It matches ErrTagMismatch with errors.Is.
type TagMismatchError struct {
	Offset   int
	Expected byte
	Actual   byte
}

func (e *TagMismatchError) Error() string {
	return fmt.Sprintf("ber: tag mismatch at offset %d: expected 0x%02x, got 0x%02x", e.Offset, e.Expected, e.Actual)
}

func (e *TagMismatchError) Is(target error) bool {
	return target == ErrTagMismatch
}
