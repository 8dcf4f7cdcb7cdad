package protocol

import "sync"

// Msg is a replication protocol message.
type Msg interface {
	// Type returns the modern tag of the message kind.
	Type() MsgType

	// Bytes encodes the message for protocol version v. A nil result
	// means the message does not exist at that version and must be
	// dropped rather than sent. The returned slice must not be modified.
	Bytes(v ProtocolVersion) []byte
}

type decodeFunc func(r *ByteReader, t MsgType, v ProtocolVersion) (Msg, error)

// decoders maps every accepted tag to its decoder. Kinds with a legacy tag
// appear twice.
var decoders = map[MsgType]decodeFunc{}

func register(fn decodeFunc, tags ...MsgType) {
	for _, t := range tags {
		decoders[t] = fn
	}
}

// GenerateMsg decodes one message. The leading tag selects the message
// kind; v is the version negotiated on the session and is used by kinds
// whose layout does not carry its own version byte.
//
// On failure the returned error matches ErrMalformedMessage and no
// message is returned.
func GenerateMsg(data []byte, v ProtocolVersion) (Msg, error) {
	if len(data) == 0 {
		return nil, newDecodeError(0, 0, "no data", ErrEmptyMessage)
	}
	t := MsgType(data[0])
	decode, ok := decoders[t]
	if !ok {
		return nil, newDecodeError(t, 0, "unknown message type", nil)
	}
	r := &ByteReader{data: data, off: 1, t: t}
	return decode(r, t, v)
}

// layout is the encode/decode pair of one message kind for one wire
// version. A nil encode marks the kind as absent at that version.
type layout[M any] struct {
	encode func(m M, b *ByteBuilder, v ProtocolVersion)
	decode func(r *ByteReader, m M, v ProtocolVersion) error
}

// layoutTable holds one layout per wire version.
type layoutTable[M any] [numWireVersions]layout[M]

// encode runs the layout for v and reports whether one exists.
func (t *layoutTable[M]) encode(m M, b *ByteBuilder, v ProtocolVersion) bool {
	l := t[v.Wire()]
	if l.encode == nil {
		return false
	}
	l.encode(m, b, v)
	return true
}

// decode runs the layout for v.
func (t *layoutTable[M]) decode(r *ByteReader, m M, v ProtocolVersion) error {
	l := t[v.Wire()]
	if l.decode == nil {
		return r.fail("message kind not defined at "+v.String(), nil)
	}
	return l.decode(r, m, v)
}

// encodingCache remembers the last encoding of a message together with the
// version it was produced for.
type encodingCache struct {
	mu      sync.Mutex
	version ProtocolVersion
	data    []byte
}

func (c *encodingCache) get(v ProtocolVersion, encode func() []byte) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.data != nil && c.version == v {
		return c.data
	}
	c.data = encode()
	c.version = v
	return c.data
}

// single builds the encoding of a message made of its tag alone.
func single(t MsgType) []byte {
	return []byte{byte(t)}
}
