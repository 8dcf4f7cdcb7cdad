package protocol

import (
	"github.com/KilimcininKorOglu/obarepl/internal/ldap"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/csn"
)

// HeaderSizeEstimate is added to the payload length by Size. It is a
// flow-control heuristic covering the tag, version, CSN, DN, entry UUID
// and assured fields of a typical update, not an exact header length.
const HeaderSizeEstimate = 100

// UpdateMsg is implemented by the messages carrying a directory change.
type UpdateMsg interface {
	Msg

	CSN() csn.CSN
	DN() string
	EntryUUID() string
	IsAssured() bool
	AssuredMode() AssuredMode
	SafeDataLevel() byte
	// Version is the protocol version the message was decoded from, or
	// CurrentVersion for locally built messages.
	Version() ProtocolVersion
	// EclIncludes decodes the change-log include attributes.
	EclIncludes() ([]ldap.Attribute, error)
	// Size estimates the encoded size for send window accounting.
	Size() int
}

// UpdateOption customizes an update message at construction.
type UpdateOption func(*updateMsg) error

// WithAssured marks the update as assured. level only matters in
// AssuredSafeData mode.
func WithAssured(mode AssuredMode, level byte) UpdateOption {
	return func(u *updateMsg) error {
		if !mode.Valid() {
			return ErrInvalidAssuredMode
		}
		u.assured = true
		u.assuredMode = mode
		u.safeDataLevel = level
		return nil
	}
}

// WithEclIncludes attaches change-log include attributes.
func WithEclIncludes(attrs []ldap.Attribute) UpdateOption {
	return func(u *updateMsg) error {
		data, err := ldap.EncodeAttributes(attrs)
		if err != nil {
			return err
		}
		u.encodedEcl = data
		return nil
	}
}

// updateMsg holds the fields shared by every update message.
type updateMsg struct {
	csn           csn.CSN
	dn            string
	entryUUID     string
	assured       bool
	assuredMode   AssuredMode
	safeDataLevel byte
	version       ProtocolVersion
	encodedEcl    []byte

	cache encodingCache
}

func (u *updateMsg) init(c csn.CSN, dn, entryUUID string, opts []UpdateOption) error {
	if c.IsZero() {
		return ErrMissingCSN
	}
	if dn == "" {
		return ErrMissingDN
	}
	u.csn = c
	u.dn = dn
	u.entryUUID = entryUUID
	u.assuredMode = DefaultAssuredMode
	u.safeDataLevel = DefaultSafeDataLevel
	u.version = CurrentVersion
	for _, opt := range opts {
		if err := opt(u); err != nil {
			return err
		}
	}
	return nil
}

func (u *updateMsg) CSN() csn.CSN { return u.csn }
func (u *updateMsg) DN() string { return u.dn }
func (u *updateMsg) EntryUUID() string { return u.entryUUID }
func (u *updateMsg) IsAssured() bool { return u.assured }
func (u *updateMsg) AssuredMode() AssuredMode { return u.assuredMode }
func (u *updateMsg) SafeDataLevel() byte { return u.safeDataLevel }
func (u *updateMsg) Version() ProtocolVersion { return u.version }
func (u *updateMsg) EncodedEclIncludes() []byte { return u.encodedEcl }

func (u *updateMsg) EclIncludes() ([]ldap.Attribute, error) {
	return ldap.ParseAttributes(u.encodedEcl)
}

// encodeHeader writes the legacy header before V2 and the modern header
// from V2 on.
//
//	legacy: tag csn assured dn NUL uuid NUL
//	modern: tag version csn dn NUL uuid NUL assured mode level
func (u *updateMsg) encodeHeader(b *ByteBuilder, modern, legacy MsgType, v ProtocolVersion) {
	if v.Wire() == WireV1 {
		b.AppendByte(byte(legacy))
		b.AppendCSN(u.csn, v)
		b.AppendBool(u.assured)
		b.AppendString(u.dn)
		b.AppendString(u.entryUUID)
		return
	}
	b.AppendByte(byte(modern))
	b.AppendByte(byte(v))
	b.AppendCSN(u.csn, v)
	b.AppendString(u.dn)
	b.AppendString(u.entryUUID)
	b.AppendBool(u.assured)
	b.AppendByte(byte(u.assuredMode))
	b.AppendByte(u.safeDataLevel)
}

// decodeHeader reads the header announced by tag t. A legacy tag
// always yields V1; a modern tag yields the version byte it carries.
func (u *updateMsg) decodeHeader(r *ByteReader, t, legacy MsgType) error {
	u.assuredMode = DefaultAssuredMode
	u.safeDataLevel = DefaultSafeDataLevel
	var err error

	if t == legacy {
		u.version = V1
		if u.csn, err = r.ReadCSN(V1); err != nil {
			return err
		}
		if u.assured, err = r.ReadBool(); err != nil {
			return err
		}
		if u.dn, err = r.ReadString(); err != nil {
			return err
		}
		if u.entryUUID, err = r.ReadString(); err != nil {
			return err
		}
		return nil
	}

	vb, err := r.ReadByte()
	if err != nil {
		return err
	}
	u.version = ProtocolVersion(vb)
	if !u.version.Valid() {
		return r.fail("unsupported protocol version", nil)
	}
	if u.csn, err = r.ReadCSN(u.version); err != nil {
		return err
	}
	if u.dn, err = r.ReadString(); err != nil {
		return err
	}
	if u.entryUUID, err = r.ReadString(); err != nil {
		return err
	}
	if u.assured, err = r.ReadBool(); err != nil {
		return err
	}
	mode, err := r.ReadByte()
	if err != nil {
		return err
	}
	u.assuredMode = AssuredMode(mode)
	if !u.assuredMode.Valid() {
		return r.fail("invalid assured mode", ErrInvalidAssuredMode)
	}
	if u.safeDataLevel, err = r.ReadByte(); err != nil {
		return err
	}
	return nil
}

// readLegacyTrailer strips the NUL that ends the operation payload of
// pre-V4 Modify and ModifyDN messages and returns the bytes before it.
func readLegacyTrailer(r *ByteReader) ([]byte, error) {
	rest := r.RemainingBytes()
	if len(rest) == 0 || rest[len(rest)-1] != 0 {
		return nil, r.fail("missing payload terminator", nil)
	}
	return rest[:len(rest)-1], nil
}
