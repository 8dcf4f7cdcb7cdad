package protocol

import (
	"github.com/KilimcininKorOglu/obarepl/internal/ldap"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/csn"
)

// AddMsg replicates an add operation.
type AddMsg struct {
	updateMsg
	parentEntryUUID   string
	encodedAttributes []byte
}

// NewAddMsg builds an Add message for the entry dn.
func NewAddMsg(c csn.CSN, dn, entryUUID, parentEntryUUID string, attrs []ldap.Attribute, opts ...UpdateOption) (*AddMsg, error) {
	encoded, err := ldap.EncodeAttributes(attrs)
	if err != nil {
		return nil, err
	}
	m := &AddMsg{parentEntryUUID: parentEntryUUID, encodedAttributes: encoded}
	if err := m.init(c, dn, entryUUID, opts); err != nil {
		return nil, err
	}
	return m, nil
}

// Type implements Msg.
func (m *AddMsg) Type() MsgType { return MsgTypeAdd }

// ParentEntryUUID returns the entry UUID of the parent entry.
func (m *AddMsg) ParentEntryUUID() string { return m.parentEntryUUID }

// EncodedAttributes returns the BER encoded attributes of the new entry.
func (m *AddMsg) EncodedAttributes() []byte { return m.encodedAttributes }

// Attributes decodes the attributes of the new entry.
func (m *AddMsg) Attributes() ([]ldap.Attribute, error) {
	return ldap.ParseAttributes(m.encodedAttributes)
}

// Size implements UpdateMsg.
func (m *AddMsg) Size() int {
	return len(m.encodedAttributes) + len(m.encodedEcl) + HeaderSizeEstimate
}

// Bytes implements Msg.
func (m *AddMsg) Bytes(v ProtocolVersion) []byte {
	return m.cache.get(v, func() []byte {
		b := NewByteBuilder(len(m.encodedAttributes) + len(m.encodedEcl) + 128)
		m.encodeHeader(b, MsgTypeAdd, MsgTypeAddV1, v)
		if !addLayouts.encode(m, b, v) {
			return nil
		}
		return b.Bytes()
	})
}

var addLayouts = layoutTable[*AddMsg]{
	WireV1:     {encode: encodeAddLegacy, decode: decodeAddLegacy},
	WireV2V3:   {encode: encodeAddLegacy, decode: decodeAddLegacy},
	WireV4Plus: {encode: encodeAddV4, decode: decodeAddV4},
}

func encodeAddLegacy(m *AddMsg, b *ByteBuilder, _ ProtocolVersion) {
	b.AppendString(m.parentEntryUUID)
	b.AppendBytes(m.encodedAttributes)
}

func decodeAddLegacy(r *ByteReader, m *AddMsg, _ ProtocolVersion) error {
	var err error
	if m.parentEntryUUID, err = r.ReadString(); err != nil {
		return err
	}
	m.encodedAttributes = r.RemainingBytes()
	return nil
}

func encodeAddV4(m *AddMsg, b *ByteBuilder, _ ProtocolVersion) {
	b.AppendString(m.parentEntryUUID)
	b.AppendBlob(m.encodedAttributes)
	b.AppendBlob(m.encodedEcl)
}

func decodeAddV4(r *ByteReader, m *AddMsg, _ ProtocolVersion) error {
	var err error
	if m.parentEntryUUID, err = r.ReadString(); err != nil {
		return err
	}
	if m.encodedAttributes, err = r.ReadBlob(); err != nil {
		return err
	}
	if m.encodedEcl, err = r.ReadBlob(); err != nil {
		return err
	}
	return nil
}

func decodeAdd(r *ByteReader, t MsgType, _ ProtocolVersion) (Msg, error) {
	m := &AddMsg{}
	if err := m.decodeHeader(r, t, MsgTypeAddV1); err != nil {
		return nil, err
	}
	if err := addLayouts.decode(r, m, m.version); err != nil {
		return nil, err
	}
	return m, nil
}

func init() {
	register(decodeAdd, MsgTypeAdd, MsgTypeAddV1)
}
