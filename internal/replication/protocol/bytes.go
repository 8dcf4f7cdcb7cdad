package protocol

import (
	"bytes"
	"encoding/binary"
	"strconv"

	"github.com/KilimcininKorOglu/obarepl/internal/replication/csn"
)

// ByteBuilder appends the primitive fields replication messages are made
// of: single bytes, NUL terminated strings, decimal integers followed by a
// NUL, length prefixed blobs and CSNs.
type ByteBuilder struct {
	buf []byte
}

// NewByteBuilder creates a builder with an optional initial capacity.
func NewByteBuilder(capacity int) *ByteBuilder {
	if capacity <= 0 {
		capacity = 64
	}
	return &ByteBuilder{buf: make([]byte, 0, capacity)}
}

// Bytes returns the encoded bytes.
func (b *ByteBuilder) Bytes() []byte {
	return b.buf
}

// Len returns the number of bytes written so far.
func (b *ByteBuilder) Len() int {
	return len(b.buf)
}

// AppendByte appends a single byte.
func (b *ByteBuilder) AppendByte(v byte) {
	b.buf = append(b.buf, v)
}

// AppendBool appends 1 for true and 0 for false.
func (b *ByteBuilder) AppendBool(v bool) {
	if v {
		b.buf = append(b.buf, 1)
	} else {
		b.buf = append(b.buf, 0)
	}
}

// AppendString appends s followed by a NUL byte.
func (b *ByteBuilder) AppendString(s string) {
	b.buf = append(b.buf, s...)
	b.buf = append(b.buf, 0)
}

// AppendIntUTF8 appends the decimal form of v followed by a NUL byte.
func (b *ByteBuilder) AppendIntUTF8(v int) {
	b.buf = strconv.AppendInt(b.buf, int64(v), 10)
	b.buf = append(b.buf, 0)
}

// AppendLongUTF8 appends the decimal form of v followed by a NUL byte.
func (b *ByteBuilder) AppendLongUTF8(v int64) {
	b.buf = strconv.AppendInt(b.buf, v, 10)
	b.buf = append(b.buf, 0)
}

// AppendBlob appends the decimal length of data, a NUL byte, then data.
func (b *ByteBuilder) AppendBlob(data []byte) {
	b.AppendIntUTF8(len(data))
	b.buf = append(b.buf, data...)
}

// AppendBytes appends data verbatim.
func (b *ByteBuilder) AppendBytes(data []byte) {
	b.buf = append(b.buf, data...)
}

// AppendCompactUnsigned appends v as a base-128 varint.
func (b *ByteBuilder) AppendCompactUnsigned(v uint64) {
	b.buf = binary.AppendUvarint(b.buf, v)
}

// AppendCSN appends c in the form used at version v: 14 binary bytes from
// V7, the NUL terminated textual form before.
func (b *ByteBuilder) AppendCSN(c csn.CSN, v ProtocolVersion) {
	if v.binaryCSN() {
		b.buf = c.AppendBinary(b.buf)
		return
	}
	b.AppendString(c.String())
}

// AppendServerState appends s in the form used at version v.
//
// Before V7 each entry is "serverID NUL csn NUL" and the list ends with an
// extra NUL. From V7 the entry count is written as a varint followed by
// the binary CSNs.
func (b *ByteBuilder) AppendServerState(s *csn.ServerState, v ProtocolVersion) {
	csns := s.CSNs()
	if v.binaryCSN() {
		b.AppendCompactUnsigned(uint64(len(csns)))
		for _, c := range csns {
			b.buf = c.AppendBinary(b.buf)
		}
		return
	}
	for _, c := range csns {
		b.AppendIntUTF8(int(c.ServerID))
		b.AppendString(c.String())
	}
	b.AppendByte(0)
}

// ByteReader reads the fields written by ByteBuilder. Every failure is a
// *DecodeError carrying the offset.
type ByteReader struct {
	data []byte
	off  int
	t    MsgType
}

// NewByteReader creates a reader over data.
func NewByteReader(data []byte) *ByteReader {
	return &ByteReader{data: data}
}

// Offset returns the current read position.
func (r *ByteReader) Offset() int {
	return r.off
}

// Remaining returns the number of unread bytes.
func (r *ByteReader) Remaining() int {
	return len(r.data) - r.off
}

func (r *ByteReader) fail(message string, err error) error {
	return newDecodeError(r.t, r.off, message, err)
}

// ReadByte reads one byte.
func (r *ByteReader) ReadByte() (byte, error) {
	if r.off >= len(r.data) {
		return 0, r.fail("unexpected end of data", nil)
	}
	v := r.data[r.off]
	r.off++
	return v, nil
}

// ReadBool reads one byte and reports whether it is non-zero.
func (r *ByteReader) ReadBool() (bool, error) {
	v, err := r.ReadByte()
	return v != 0, err
}

// ReadBytes reads exactly n bytes.
func (r *ByteReader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || n > r.Remaining() {
		return nil, r.fail("length exceeds available data", nil)
	}
	out := make([]byte, n)
	copy(out, r.data[r.off:r.off+n])
	r.off += n
	return out, nil
}

// RemainingBytes consumes and returns every unread byte.
func (r *ByteReader) RemainingBytes() []byte {
	out, _ := r.ReadBytes(r.Remaining())
	return out
}

// ReadString reads up to the next NUL byte and consumes it.
func (r *ByteReader) ReadString() (string, error) {
	idx := bytes.IndexByte(r.data[r.off:], 0)
	if idx < 0 {
		return "", r.fail("missing string terminator", nil)
	}
	s := string(r.data[r.off : r.off+idx])
	r.off += idx + 1
	return s, nil
}

// ReadLongUTF8 reads a NUL terminated decimal integer.
func (r *ByteReader) ReadLongUTF8() (int64, error) {
	start := r.off
	s, err := r.ReadString()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		r.off = start
		return 0, r.fail("invalid decimal integer", err)
	}
	return v, nil
}

// ReadIntUTF8 reads a NUL terminated decimal integer that fits in an int32.
func (r *ByteReader) ReadIntUTF8() (int, error) {
	start := r.off
	v, err := r.ReadLongUTF8()
	if err != nil {
		return 0, err
	}
	if v < -1<<31 || v > 1<<31-1 {
		r.off = start
		return 0, r.fail("integer out of range", nil)
	}
	return int(v), nil
}

// ReadBlob reads a length written by AppendBlob and then that many bytes.
func (r *ByteReader) ReadBlob() ([]byte, error) {
	n, err := r.ReadIntUTF8()
	if err != nil {
		return nil, err
	}
	return r.ReadBytes(n)
}

// ReadCompactUnsigned reads a base-128 varint.
func (r *ByteReader) ReadCompactUnsigned() (uint64, error) {
	v, n := binary.Uvarint(r.data[r.off:])
	if n <= 0 {
		return 0, r.fail("invalid compact integer", nil)
	}
	r.off += n
	return v, nil
}

// ReadCSN reads a CSN in the form used at version v.
func (r *ByteReader) ReadCSN(v ProtocolVersion) (csn.CSN, error) {
	if v.binaryCSN() {
		start := r.off
		b, err := r.ReadBytes(csn.ByteLength)
		if err != nil {
			return csn.CSN{}, err
		}
		c, err := csn.FromBytes(b)
		if err != nil {
			r.off = start
			return csn.CSN{}, r.fail("invalid CSN", err)
		}
		return c, nil
	}

	start := r.off
	s, err := r.ReadString()
	if err != nil {
		return csn.CSN{}, err
	}
	c, err := csn.Parse(s)
	if err != nil {
		r.off = start
		return csn.CSN{}, r.fail("invalid CSN", err)
	}
	return c, nil
}

// ReadServerState reads a state written by AppendServerState. Before V7 the
// list ends at an empty server ID or at the end of the buffer.
func (r *ByteReader) ReadServerState(v ProtocolVersion) (*csn.ServerState, error) {
	state := csn.NewServerState()
	if v.binaryCSN() {
		n, err := r.ReadCompactUnsigned()
		if err != nil {
			return nil, err
		}
		if n > uint64(r.Remaining()/csn.ByteLength) {
			return nil, r.fail("server state count exceeds available data", nil)
		}
		for i := uint64(0); i < n; i++ {
			c, err := r.ReadCSN(v)
			if err != nil {
				return nil, err
			}
			state.Update(c)
		}
		return state, nil
	}

	for r.Remaining() > 0 {
		id, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		if id == "" {
			break
		}
		if _, err := strconv.ParseUint(id, 10, 16); err != nil {
			return nil, r.fail("invalid server id in state", err)
		}
		c, err := r.ReadCSN(v)
		if err != nil {
			return nil, err
		}
		state.Update(c)
	}
	return state, nil
}
