package protocol

import (
	"github.com/KilimcininKorOglu/obarepl/internal/replication/csn"
)

// DeleteMsg replicates a delete operation.
type DeleteMsg struct {
	updateMsg
	subtree bool
}

// NewDeleteMsg builds a Delete message for the entry dn.
func NewDeleteMsg(c csn.CSN, dn, entryUUID string, opts ...UpdateOption) (*DeleteMsg, error) {
	m := &DeleteMsg{}
	if err := m.init(c, dn, entryUUID, opts); err != nil {
		return nil, err
	}
	return m, nil
}

// NewSubtreeDeleteMsg builds a Delete message removing dn and everything
// below it. The subtree flag only travels from V4 on.
func NewSubtreeDeleteMsg(c csn.CSN, dn, entryUUID string, opts ...UpdateOption) (*DeleteMsg, error) {
	m, err := NewDeleteMsg(c, dn, entryUUID, opts...)
	if err != nil {
		return nil, err
	}
	m.subtree = true
	return m, nil
}

// Type implements Msg.
func (m *DeleteMsg) Type() MsgType { return MsgTypeDelete }

// IsSubtreeDelete reports whether the whole subtree is removed.
func (m *DeleteMsg) IsSubtreeDelete() bool { return m.subtree }

// Size implements UpdateMsg.
func (m *DeleteMsg) Size() int {
	return len(m.encodedEcl) + HeaderSizeEstimate
}

// Bytes implements Msg.
func (m *DeleteMsg) Bytes(v ProtocolVersion) []byte {
	return m.cache.get(v, func() []byte {
		b := NewByteBuilder(len(m.encodedEcl) + 128)
		m.encodeHeader(b, MsgTypeDelete, MsgTypeDeleteV1, v)
		if !deleteLayouts.encode(m, b, v) {
			return nil
		}
		return b.Bytes()
	})
}

var deleteLayouts = layoutTable[*DeleteMsg]{
	WireV1:     {encode: encodeDeleteLegacy, decode: decodeDeleteLegacy},
	WireV2V3:   {encode: encodeDeleteLegacy, decode: decodeDeleteLegacy},
	WireV4Plus: {encode: encodeDeleteV4, decode: decodeDeleteV4},
}

// Before V4 a delete is its header alone.
func encodeDeleteLegacy(*DeleteMsg, *ByteBuilder, ProtocolVersion) {}

func decodeDeleteLegacy(*ByteReader, *DeleteMsg, ProtocolVersion) error { return nil }

func encodeDeleteV4(m *DeleteMsg, b *ByteBuilder, _ ProtocolVersion) {
	b.AppendBlob(m.encodedEcl)
	b.AppendBool(m.subtree)
}

func decodeDeleteV4(r *ByteReader, m *DeleteMsg, _ ProtocolVersion) error {
	var err error
	if m.encodedEcl, err = r.ReadBlob(); err != nil {
		return err
	}
	if m.subtree, err = r.ReadBool(); err != nil {
		return err
	}
	return nil
}

func decodeDelete(r *ByteReader, t MsgType, _ ProtocolVersion) (Msg, error) {
	m := &DeleteMsg{}
	if err := m.decodeHeader(r, t, MsgTypeDeleteV1); err != nil {
		return nil, err
	}
	if err := deleteLayouts.decode(r, m, m.version); err != nil {
		return nil, err
	}
	return m, nil
}

func init() {
	register(decodeDelete, MsgTypeDelete, MsgTypeDeleteV1)
}
