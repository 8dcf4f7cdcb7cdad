package protocol

import (
	"github.com/KilimcininKorOglu/obarepl/internal/ldap"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/csn"
)

// ModifyDNMsg replicates a rename.
type ModifyDNMsg struct {
	updateMsg
	newRDN          string
	newSuperior     string
	newSuperiorUUID string
	deleteOldRDN    bool
	encodedMods     []byte
}

// Rename describes the target of a ModifyDN operation. NewSuperior and
// NewSuperiorUUID are empty when the entry keeps its parent.
type Rename struct {
	NewRDN          string
	NewSuperior     string
	NewSuperiorUUID string
	DeleteOldRDN    bool
}

// NewModifyDNMsg builds a ModifyDN message. mods holds the attribute
// changes implied by the rename and may be empty.
func NewModifyDNMsg(c csn.CSN, dn, entryUUID string, rename Rename, mods []ldap.Modification, opts ...UpdateOption) (*ModifyDNMsg, error) {
	encoded, err := ldap.EncodeModifications(mods)
	if err != nil {
		return nil, err
	}
	m := &ModifyDNMsg{
		newRDN:          rename.NewRDN,
		newSuperior:     rename.NewSuperior,
		newSuperiorUUID: rename.NewSuperiorUUID,
		deleteOldRDN:    rename.DeleteOldRDN,
		encodedMods:     encoded,
	}
	if err := m.init(c, dn, entryUUID, opts); err != nil {
		return nil, err
	}
	return m, nil
}

// Type implements Msg.
func (m *ModifyDNMsg) Type() MsgType { return MsgTypeModifyDN }

// Rename returns the rename target.
func (m *ModifyDNMsg) Rename() Rename {
	return Rename{
		NewRDN:          m.newRDN,
		NewSuperior:     m.newSuperior,
		NewSuperiorUUID: m.newSuperiorUUID,
		DeleteOldRDN:    m.deleteOldRDN,
	}
}

// EncodedMods returns the BER encoded modifications.
func (m *ModifyDNMsg) EncodedMods() []byte { return m.encodedMods }

// Modifications decodes the modifications.
func (m *ModifyDNMsg) Modifications() ([]ldap.Modification, error) {
	return ldap.ParseModifications(m.encodedMods)
}

// Size implements UpdateMsg.
func (m *ModifyDNMsg) Size() int {
	return len(m.encodedMods) + len(m.encodedEcl) + HeaderSizeEstimate
}

// Bytes implements Msg.
func (m *ModifyDNMsg) Bytes(v ProtocolVersion) []byte {
	return m.cache.get(v, func() []byte {
		b := NewByteBuilder(len(m.encodedMods) + len(m.encodedEcl) + 160)
		m.encodeHeader(b, MsgTypeModifyDN, MsgTypeModifyDNV1, v)
		if !modifyDNLayouts.encode(m, b, v) {
			return nil
		}
		return b.Bytes()
	})
}

var modifyDNLayouts = layoutTable[*ModifyDNMsg]{
	WireV1:     {encode: encodeModifyDNV1, decode: decodeModifyDNV1},
	WireV2V3:   {encode: encodeModifyDNV2, decode: decodeModifyDNV2},
	WireV4Plus: {encode: encodeModifyDNV4, decode: decodeModifyDNV4},
}

func (m *ModifyDNMsg) encodeRename(b *ByteBuilder) {
	b.AppendString(m.newRDN)
	b.AppendString(m.newSuperior)
	b.AppendString(m.newSuperiorUUID)
	b.AppendBool(m.deleteOldRDN)
}

func (m *ModifyDNMsg) decodeRename(r *ByteReader) error {
	var err error
	if m.newRDN, err = r.ReadString(); err != nil {
		return err
	}
	if m.newSuperior, err = r.ReadString(); err != nil {
		return err
	}
	if m.newSuperiorUUID, err = r.ReadString(); err != nil {
		return err
	}
	if m.deleteOldRDN, err = r.ReadBool(); err != nil {
		return err
	}
	return nil
}

// V1 carries the rename target only.
func encodeModifyDNV1(m *ModifyDNMsg, b *ByteBuilder, _ ProtocolVersion) {
	m.encodeRename(b)
}

func decodeModifyDNV1(r *ByteReader, m *ModifyDNMsg, _ ProtocolVersion) error {
	return m.decodeRename(r)
}

// V2 and V3 append the modifications and a NUL.
func encodeModifyDNV2(m *ModifyDNMsg, b *ByteBuilder, _ ProtocolVersion) {
	m.encodeRename(b)
	b.AppendBytes(m.encodedMods)
	b.AppendByte(0)
}

func decodeModifyDNV2(r *ByteReader, m *ModifyDNMsg, _ ProtocolVersion) error {
	if err := m.decodeRename(r); err != nil {
		return err
	}
	mods, err := readLegacyTrailer(r)
	if err != nil {
		return err
	}
	m.encodedMods = mods
	return nil
}

func encodeModifyDNV4(m *ModifyDNMsg, b *ByteBuilder, _ ProtocolVersion) {
	m.encodeRename(b)
	b.AppendBlob(m.encodedMods)
	b.AppendBlob(m.encodedEcl)
}

func decodeModifyDNV4(r *ByteReader, m *ModifyDNMsg, _ ProtocolVersion) error {
	if err := m.decodeRename(r); err != nil {
		return err
	}
	var err error
	if m.encodedMods, err = r.ReadBlob(); err != nil {
		return err
	}
	if m.encodedEcl, err = r.ReadBlob(); err != nil {
		return err
	}
	return nil
}

func decodeModifyDN(r *ByteReader, t MsgType, _ ProtocolVersion) (Msg, error) {
	m := &ModifyDNMsg{}
	if err := m.decodeHeader(r, t, MsgTypeModifyDNV1); err != nil {
		return nil, err
	}
	if err := modifyDNLayouts.decode(r, m, m.version); err != nil {
		return nil, err
	}
	return m, nil
}

func init() {
	register(decodeModifyDN, MsgTypeModifyDN, MsgTypeModifyDNV1)
}
