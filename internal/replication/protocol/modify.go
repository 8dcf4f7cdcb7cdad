package protocol

import (
	"github.com/KilimcininKorOglu/obarepl/internal/ldap"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/csn"
)

// ModifyMsg replicates a modify operation.
type ModifyMsg struct {
	updateMsg
	encodedMods []byte
}

// NewModifyMsg builds a Modify message for the entry dn.
func NewModifyMsg(c csn.CSN, dn, entryUUID string, mods []ldap.Modification, opts ...UpdateOption) (*ModifyMsg, error) {
	encoded, err := ldap.EncodeModifications(mods)
	if err != nil {
		return nil, err
	}
	m := &ModifyMsg{encodedMods: encoded}
	if err := m.init(c, dn, entryUUID, opts); err != nil {
		return nil, err
	}
	return m, nil
}

// Type implements Msg.
func (m *ModifyMsg) Type() MsgType { return MsgTypeModify }

// EncodedMods returns the BER encoded modifications.
func (m *ModifyMsg) EncodedMods() []byte { return m.encodedMods }

// Modifications decodes the modifications.
func (m *ModifyMsg) Modifications() ([]ldap.Modification, error) {
	return ldap.ParseModifications(m.encodedMods)
}

// Size implements UpdateMsg.
func (m *ModifyMsg) Size() int {
	return len(m.encodedMods) + len(m.encodedEcl) + HeaderSizeEstimate
}

// Bytes implements Msg.
func (m *ModifyMsg) Bytes(v ProtocolVersion) []byte {
	return m.cache.get(v, func() []byte {
		b := NewByteBuilder(len(m.encodedMods) + len(m.encodedEcl) + 128)
		m.encodeHeader(b, MsgTypeModify, MsgTypeModifyV1, v)
		if !modifyLayouts.encode(m, b, v) {
			return nil
		}
		return b.Bytes()
	})
}

var modifyLayouts = layoutTable[*ModifyMsg]{
	WireV1:     {encode: encodeModifyLegacy, decode: decodeModifyLegacy},
	WireV2V3:   {encode: encodeModifyLegacy, decode: decodeModifyLegacy},
	WireV4Plus: {encode: encodeModifyV4, decode: decodeModifyV4},
}

// Before V4 the modifications run to the end of the message, followed by
// a single NUL.
func encodeModifyLegacy(m *ModifyMsg, b *ByteBuilder, _ ProtocolVersion) {
	b.AppendBytes(m.encodedMods)
	b.AppendByte(0)
}

func decodeModifyLegacy(r *ByteReader, m *ModifyMsg, _ ProtocolVersion) error {
	mods, err := readLegacyTrailer(r)
	if err != nil {
		return err
	}
	m.encodedMods = mods
	return nil
}

// From V4 both sections are length prefixed.
func encodeModifyV4(m *ModifyMsg, b *ByteBuilder, _ ProtocolVersion) {
	b.AppendBlob(m.encodedMods)
	b.AppendBlob(m.encodedEcl)
}

func decodeModifyV4(r *ByteReader, m *ModifyMsg, _ ProtocolVersion) error {
	var err error
	if m.encodedMods, err = r.ReadBlob(); err != nil {
		return err
	}
	if m.encodedEcl, err = r.ReadBlob(); err != nil {
		return err
	}
	return nil
}

func decodeModify(r *ByteReader, t MsgType, _ ProtocolVersion) (Msg, error) {
	m := &ModifyMsg{}
	if err := m.decodeHeader(r, t, MsgTypeModifyV1); err != nil {
		return nil, err
	}
	if err := modifyLayouts.decode(r, m, m.version); err != nil {
		return nil, err
	}
	return m, nil
}

func init() {
	register(decodeModify, MsgTypeModify, MsgTypeModifyV1)
}
