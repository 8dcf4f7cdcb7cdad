package server

import "errors"

// Server errors.
var (
	// ErrServerClosed is returned by Start after Close.
	ErrServerClosed = errors.New("server: closed")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("server: already started")

	// ErrUnexpectedMessage is returned when a peer opens with something
	// other than a ServerStartMsg.
	ErrUnexpectedMessage = errors.New("server: unexpected message during handshake")

	// ErrUnknownBaseDN is returned when a peer asks for another suffix.
	ErrUnknownBaseDN = errors.New("server: base DN not served")

	// ErrInvalidServerID is returned when a peer announces a server ID
	// a CSN cannot carry.
	ErrInvalidServerID = errors.New("server: server ID out of range")

	// ErrDuplicateServerID is returned when a server ID is already
	// connected.
	ErrDuplicateServerID = errors.New("server: server ID already connected")
)
