// Package ldap implements the directory entry change model carried inside
// replication update messages.
package ldap

import (
	"errors"
	"fmt"
)

// Errors for change payload parsing
var (
	// ErrInvalidModifyOperation is returned when the modify operation is invalid
	ErrInvalidModifyOperation = errors.New("ldap: invalid modify operation")

	// ErrEmptyAttributeType is returned when an attribute has no type name
	ErrEmptyAttributeType = errors.New("ldap: attribute type cannot be empty")

	// ErrTrailingData is returned when bytes remain after the last element
	ErrTrailingData = errors.New("ldap: trailing data after last element")
)

// ParseError provides detailed information about a parsing failure
type ParseError struct {
	Offset  int
	Message string
	Err     error
}

// Error implements the error interface
func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ldap: parse error at offset %d: %s: %v", e.Offset, e.Message, e.Err)
	}
	return fmt.Sprintf("ldap: parse error at offset %d: %s", e.Offset, e.Message)
}

// Unwrap returns the underlying error
func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new ParseError
func NewParseError(offset int, message string, err error) *ParseError {
	return &ParseError{
		Offset:  offset,
		Message: message,
		Err:     err,
	}
}
