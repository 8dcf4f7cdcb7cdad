package broker

import (
	"errors"
	"fmt"
)

// Broker errors.
var (
	// ErrClosed is returned by operations on a closed broker.
	ErrClosed = errors.New("broker: closed")

	// ErrNotAssured is returned when waiting for the ack of an update that
	// was not published as assured.
	ErrNotAssured = errors.New("broker: update is not pending acknowledgement")

	// ErrUnexpectedMessage is returned when the peer answers the start
	// handshake with an unexpected message.
	ErrUnexpectedMessage = errors.New("broker: unexpected message during handshake")

	// ErrNotSupported is returned for requests the negotiated protocol
	// version cannot carry.
	ErrNotSupported = errors.New("broker: not supported at negotiated protocol version")

	// ErrNoReplicationServer is returned by Dial without a server address.
	ErrNoReplicationServer = errors.New("broker: no replication server address")
)

// RejectedError carries the ErrorMsg a replication server sent instead of
// completing the handshake.
type RejectedError struct {
	ServerID int
	Details  string
}

// Error implements the error interface.
func (e *RejectedError) Error() string {
	return fmt.Sprintf("broker: replication server %d rejected the connection: %s", e.ServerID, e.Details)
}
