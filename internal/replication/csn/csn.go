// Package csn provides change sequence numbers and the per-server
// high-water-mark map built from them.
package csn

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
)

// Encoded sizes of a CSN.
const (
	// StringLength is the length of the textual form: 16 hex digits of
	// timestamp, 4 of server ID and 8 of sequence number.
	StringLength = 28
	// ByteLength is the length of the compact binary form.
	ByteLength = 14
)

// Errors returned when parsing a CSN.
var (
	ErrInvalidLength = errors.New("csn: invalid encoded length")
	ErrInvalidString = errors.New("csn: invalid textual form")
)

// CSN identifies one change: when it was made (a logical clock in
// milliseconds), on which server, and its rank among changes sharing the
// same timestamp on that server.
type CSN struct {
	Timestamp int64
	ServerID  uint16
	SeqNum    uint32
}

// New returns a CSN.
func New(timestamp int64, seqNum uint32, serverID uint16) CSN {
	return CSN{Timestamp: timestamp, ServerID: serverID, SeqNum: seqNum}
}

// Compare returns -1, 0 or +1 depending on whether c sorts before, equal
// to or after other. Ordering is by timestamp, then server ID, then
// sequence number.
func (c CSN) Compare(other CSN) int {
	switch {
	case c.Timestamp < other.Timestamp:
		return -1
	case c.Timestamp > other.Timestamp:
		return 1
	case c.ServerID < other.ServerID:
		return -1
	case c.ServerID > other.ServerID:
		return 1
	case c.SeqNum < other.SeqNum:
		return -1
	case c.SeqNum > other.SeqNum:
		return 1
	}
	return 0
}

// NewerThan reports whether c sorts strictly after other.
func (c CSN) NewerThan(other CSN) bool {
	return c.Compare(other) > 0
}

// OlderThan reports whether c sorts strictly before other.
func (c CSN) OlderThan(other CSN) bool {
	return c.Compare(other) < 0
}

// IsZero reports whether c is the zero CSN.
func (c CSN) IsZero() bool {
	return c == CSN{}
}

// String returns the 28 character textual form.
func (c CSN) String() string {
	return fmt.Sprintf("%016x%04x%08x", uint64(c.Timestamp), c.ServerID, c.SeqNum)
}

// Parse parses the textual form produced by String.
func Parse(s string) (CSN, error) {
	if len(s) != StringLength {
		return CSN{}, fmt.Errorf("%w: %q", ErrInvalidLength, s)
	}
	ts, err := strconv.ParseUint(s[0:16], 16, 64)
	if err != nil {
		return CSN{}, fmt.Errorf("%w: timestamp: %v", ErrInvalidString, err)
	}
	sid, err := strconv.ParseUint(s[16:20], 16, 16)
	if err != nil {
		return CSN{}, fmt.Errorf("%w: server id: %v", ErrInvalidString, err)
	}
	seq, err := strconv.ParseUint(s[20:28], 16, 32)
	if err != nil {
		return CSN{}, fmt.Errorf("%w: sequence number: %v", ErrInvalidString, err)
	}
	return CSN{Timestamp: int64(ts), ServerID: uint16(sid), SeqNum: uint32(seq)}, nil
}

// AppendBinary appends the 14 byte big-endian form of c to b.
func (c CSN) AppendBinary(b []byte) []byte {
	b = binary.BigEndian.AppendUint64(b, uint64(c.Timestamp))
	b = binary.BigEndian.AppendUint16(b, c.ServerID)
	return binary.BigEndian.AppendUint32(b, c.SeqNum)
}

// Bytes returns the 14 byte binary form of c.
func (c CSN) Bytes() []byte {
	return c.AppendBinary(make([]byte, 0, ByteLength))
}

// FromBytes decodes the binary form produced by Bytes.
func FromBytes(b []byte) (CSN, error) {
	if len(b) != ByteLength {
		return CSN{}, fmt.Errorf("%w: got %d bytes", ErrInvalidLength, len(b))
	}
	return CSN{
		Timestamp: int64(binary.BigEndian.Uint64(b[0:8])),
		ServerID:  binary.BigEndian.Uint16(b[8:10]),
		SeqNum:    binary.BigEndian.Uint32(b[10:14]),
	}, nil
}
