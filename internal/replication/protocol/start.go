package protocol

import (
	"github.com/KilimcininKorOglu/obarepl/internal/ber"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/csn"
)

// Defaults for fields older peers do not send.
const (
	UnknownGroupID int8 = -1
	DefaultGroupID int8 = 1

	UnknownDegradedThreshold = -1
)

// startHeader holds the fields leading every handshake message.
type startHeader struct {
	version      ProtocolVersion
	GenerationID int64
	GroupID      int8
}

// Version returns the protocol version the peer announced.
func (h *startHeader) Version() ProtocolVersion { return h.version }

// encode writes the header: the legacy tag, a V1 version byte and the
// generation ID at V1; from V2 the modern tag, the version, the
// generation ID and the group ID.
func (h *startHeader) encode(b *ByteBuilder, modern, legacy MsgType, v ProtocolVersion) {
	if v.Wire() == WireV1 {
		b.AppendByte(byte(legacy))
		b.AppendByte(byte(V1))
		b.AppendLongUTF8(h.GenerationID)
		return
	}
	b.AppendByte(byte(modern))
	b.AppendByte(byte(v))
	b.AppendLongUTF8(h.GenerationID)
	b.AppendByte(byte(h.GroupID))
}

func (h *startHeader) decode(r *ByteReader, t, legacy MsgType) error {
	vb, err := r.ReadByte()
	if err != nil {
		return err
	}
	h.version = ProtocolVersion(vb)
	if t == legacy {
		h.version = V1
	} else if !h.version.Valid() {
		return r.fail("unsupported protocol version", nil)
	}
	if h.GenerationID, err = r.ReadLongUTF8(); err != nil {
		return err
	}
	if h.version.Wire() == WireV1 {
		h.GroupID = UnknownGroupID
		return nil
	}
	gid, err := r.ReadByte()
	if err != nil {
		return err
	}
	h.GroupID = int8(gid)
	return nil
}

func appendFlag(b *ByteBuilder, v bool) {
	if v {
		b.AppendString("true")
	} else {
		b.AppendString("false")
	}
}

func readFlag(r *ByteReader) (bool, error) {
	s, err := r.ReadString()
	return s == "true", err
}

func stateOrEmpty(s *csn.ServerState) *csn.ServerState {
	if s == nil {
		return csn.NewServerState()
	}
	return s
}

// ServerStartMsg opens the handshake from a directory server.
type ServerStartMsg struct {
	startHeader
	ServerID          int
	ServerURL         string
	BaseDN            string
	MaxReceiveQueue   int
	MaxReceiveDelay   int
	MaxSendQueue      int
	MaxSendDelay      int
	WindowSize        int
	HeartbeatInterval int64 // milliseconds
	SSLEncryption     bool
	State             *csn.ServerState
}

func (*ServerStartMsg) Type() MsgType { return MsgTypeServerStart }

func (m *ServerStartMsg) Bytes(v ProtocolVersion) []byte {
	b := NewByteBuilder(128)
	m.startHeader.encode(b, MsgTypeServerStart, MsgTypeServerStartV1, v)
	b.AppendString(m.BaseDN)
	b.AppendIntUTF8(m.ServerID)
	b.AppendString(m.ServerURL)
	b.AppendIntUTF8(m.MaxReceiveQueue)
	b.AppendIntUTF8(m.MaxReceiveDelay)
	b.AppendIntUTF8(m.MaxSendQueue)
	b.AppendIntUTF8(m.MaxSendDelay)
	b.AppendIntUTF8(m.WindowSize)
	b.AppendLongUTF8(m.HeartbeatInterval)
	appendFlag(b, m.SSLEncryption)
	b.AppendServerState(stateOrEmpty(m.State), v)
	return b.Bytes()
}

func decodeServerStart(r *ByteReader, t MsgType, _ ProtocolVersion) (Msg, error) {
	m := &ServerStartMsg{}
	if err := m.startHeader.decode(r, t, MsgTypeServerStartV1); err != nil {
		return nil, err
	}
	var err error
	if m.BaseDN, err = r.ReadString(); err != nil {
		return nil, err
	}
	if m.ServerID, err = r.ReadIntUTF8(); err != nil {
		return nil, err
	}
	if m.ServerURL, err = r.ReadString(); err != nil {
		return nil, err
	}
	for _, p := range []*int{&m.MaxReceiveQueue, &m.MaxReceiveDelay, &m.MaxSendQueue, &m.MaxSendDelay, &m.WindowSize} {
		if *p, err = r.ReadIntUTF8(); err != nil {
			return nil, err
		}
	}
	if m.HeartbeatInterval, err = r.ReadLongUTF8(); err != nil {
		return nil, err
	}
	if m.SSLEncryption, err = readFlag(r); err != nil {
		return nil, err
	}
	if m.State, err = r.ReadServerState(m.version); err != nil {
		return nil, err
	}
	return m, nil
}

// ReplServerStartMsg answers a ServerStartMsg, or opens the handshake
// between two replication servers.
type ReplServerStartMsg struct {
	startHeader
	ServerID          int
	ServerURL         string
	BaseDN            string
	WindowSize        int
	SSLEncryption     bool
	DegradedThreshold int
	State             *csn.ServerState
}

func (*ReplServerStartMsg) Type() MsgType { return MsgTypeReplServerStart }

func (m *ReplServerStartMsg) Bytes(v ProtocolVersion) []byte {
	b := NewByteBuilder(128)
	m.startHeader.encode(b, MsgTypeReplServerStart, MsgTypeReplServerStartV1, v)
	m.encodeBody(b, v, nil)
	return b.Bytes()
}

// encodeBody writes the fields after the header. extra, when set, runs
// just before the server state.
func (m *ReplServerStartMsg) encodeBody(b *ByteBuilder, v ProtocolVersion, extra func()) {
	b.AppendString(m.BaseDN)
	b.AppendIntUTF8(m.ServerID)
	b.AppendString(m.ServerURL)
	b.AppendIntUTF8(m.WindowSize)
	appendFlag(b, m.SSLEncryption)
	if v.Wire() != WireV1 {
		b.AppendIntUTF8(m.DegradedThreshold)
	}
	if extra != nil {
		extra()
	}
	b.AppendServerState(stateOrEmpty(m.State), v)
}

func (m *ReplServerStartMsg) decodeBody(r *ByteReader, extra func() error) error {
	var err error
	if m.BaseDN, err = r.ReadString(); err != nil {
		return err
	}
	if m.ServerID, err = r.ReadIntUTF8(); err != nil {
		return err
	}
	if m.ServerURL, err = r.ReadString(); err != nil {
		return err
	}
	if m.WindowSize, err = r.ReadIntUTF8(); err != nil {
		return err
	}
	if m.SSLEncryption, err = readFlag(r); err != nil {
		return err
	}
	m.DegradedThreshold = UnknownDegradedThreshold
	if m.version.Wire() != WireV1 {
		if m.DegradedThreshold, err = r.ReadIntUTF8(); err != nil {
			return err
		}
	}
	if extra != nil {
		if err := extra(); err != nil {
			return err
		}
	}
	m.State, err = r.ReadServerState(m.version)
	return err
}

func decodeReplServerStart(r *ByteReader, t MsgType, _ ProtocolVersion) (Msg, error) {
	m := &ReplServerStartMsg{}
	if err := m.startHeader.decode(r, t, MsgTypeReplServerStartV1); err != nil {
		return nil, err
	}
	if err := m.decodeBody(r, nil); err != nil {
		return nil, err
	}
	return m, nil
}

// ReplServerStartDSMsg is the V4+ answer of a replication server to a
// directory server. It adds the weight of the replication server and the
// number of directory servers already connected to it.
type ReplServerStartDSMsg struct {
	ReplServerStartMsg
	Weight           int
	ConnectedDSCount int
}

func (*ReplServerStartDSMsg) Type() MsgType { return MsgTypeReplServerStartDS }

func (m *ReplServerStartDSMsg) Bytes(v ProtocolVersion) []byte {
	if v.Wire() != WireV4Plus {
		return nil
	}
	b := NewByteBuilder(128)
	m.startHeader.encode(b, MsgTypeReplServerStartDS, MsgTypeReplServerStartDS, v)
	m.encodeBody(b, v, func() {
		b.AppendIntUTF8(m.Weight)
		b.AppendIntUTF8(m.ConnectedDSCount)
	})
	return b.Bytes()
}

func decodeReplServerStartDS(r *ByteReader, t MsgType, _ ProtocolVersion) (Msg, error) {
	m := &ReplServerStartDSMsg{}
	if err := m.startHeader.decode(r, t, 0); err != nil {
		return nil, err
	}
	if m.version.Wire() != WireV4Plus {
		return nil, r.fail("message kind not defined at "+m.version.String(), nil)
	}
	err := m.decodeBody(r, func() error {
		var err error
		if m.Weight, err = r.ReadIntUTF8(); err != nil {
			return err
		}
		m.ConnectedDSCount, err = r.ReadIntUTF8()
		return err
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// StartSessionMsg ends the handshake of a directory server. It carries no
// version byte and is decoded with the negotiated version.
type StartSessionMsg struct {
	Status        ServerStatus
	ReferralURLs  []string
	Assured       bool
	AssuredMode   AssuredMode
	SafeDataLevel byte
	// EclIncludes and EclIncludesForDeletes name the attributes to
	// include in the external change log. The first travels from V4, the
	// second from V5.
	EclIncludes           []string
	EclIncludesForDeletes []string
}

func (*StartSessionMsg) Type() MsgType { return MsgTypeStartSession }

func (m *StartSessionMsg) Bytes(v ProtocolVersion) []byte {
	return encodeTagged(&startSessionLayouts, m, MsgTypeStartSession, v)
}

var startSessionLayouts = layoutTable[*StartSessionMsg]{
	WireV2V3:   {encode: encodeStartSessionV2, decode: decodeStartSessionV2},
	WireV4Plus: {encode: encodeStartSessionV4, decode: decodeStartSessionV4},
}

// mode returns the assured mode to put on the wire. An unset mode is sent
// as DefaultAssuredMode.
func (m *StartSessionMsg) mode() AssuredMode {
	if m.AssuredMode == 0 {
		return DefaultAssuredMode
	}
	return m.AssuredMode
}

func (m *StartSessionMsg) encodeFlags(b *ByteBuilder) {
	b.AppendByte(byte(m.Status))
	b.AppendBool(m.Assured)
	b.AppendByte(byte(m.mode()))
	b.AppendByte(m.SafeDataLevel)
}

func (m *StartSessionMsg) decodeFlags(r *ByteReader) error {
	status, err := r.ReadByte()
	if err != nil {
		return err
	}
	m.Status = ServerStatus(status)
	if !m.Status.Valid() {
		return r.fail("invalid server status", nil)
	}
	if m.Assured, err = r.ReadBool(); err != nil {
		return err
	}
	mode, err := r.ReadByte()
	if err != nil {
		return err
	}
	m.AssuredMode = AssuredMode(mode)
	if m.AssuredMode == 0 && !m.Assured {
		m.AssuredMode = DefaultAssuredMode
	}
	if !m.AssuredMode.Valid() {
		return r.fail("invalid assured mode", ErrInvalidAssuredMode)
	}
	m.SafeDataLevel, err = r.ReadByte()
	return err
}

// V2 and V3 write the referral URLs NUL terminated up to the end of the
// message.
func encodeStartSessionV2(m *StartSessionMsg, b *ByteBuilder, _ ProtocolVersion) {
	m.encodeFlags(b)
	for _, url := range m.ReferralURLs {
		b.AppendString(url)
	}
}

func decodeStartSessionV2(r *ByteReader, m *StartSessionMsg, _ ProtocolVersion) error {
	if err := m.decodeFlags(r); err != nil {
		return err
	}
	m.ReferralURLs = nil
	for r.Remaining() > 0 {
		url, err := r.ReadString()
		if err != nil {
			return err
		}
		m.ReferralURLs = append(m.ReferralURLs, url)
	}
	return nil
}

// From V4 the lists are BER sequences of octet strings.
func encodeStartSessionV4(m *StartSessionMsg, b *ByteBuilder, v ProtocolVersion) {
	m.encodeFlags(b)
	enc := ber.NewBEREncoder(128)
	writeStringSequence(enc, m.ReferralURLs)
	writeStringSequence(enc, m.EclIncludes)
	if v >= V5 {
		writeStringSequence(enc, m.EclIncludesForDeletes)
	}
	b.AppendBytes(enc.Bytes())
}

func decodeStartSessionV4(r *ByteReader, m *StartSessionMsg, v ProtocolVersion) error {
	if err := m.decodeFlags(r); err != nil {
		return err
	}
	start := r.Offset()
	dec := ber.NewBERDecoder(r.RemainingBytes())
	var err error
	if m.ReferralURLs, err = readStringSequence(dec); err != nil {
		return newDecodeError(r.t, start+dec.Offset(), "invalid referral URLs", err)
	}
	if m.EclIncludes, err = readStringSequence(dec); err != nil {
		return newDecodeError(r.t, start+dec.Offset(), "invalid ECL include attributes", err)
	}
	if v < V5 {
		m.EclIncludesForDeletes = m.EclIncludes
		return nil
	}
	if m.EclIncludesForDeletes, err = readStringSequence(dec); err != nil {
		return newDecodeError(r.t, start+dec.Offset(), "invalid ECL include attributes for deletes", err)
	}
	return nil
}

func writeStringSequence(enc *ber.BEREncoder, values []string) {
	pos := enc.BeginSequence()
	for _, v := range values {
		// Octet strings only fail on impossible lengths.
		_ = enc.WriteOctetString([]byte(v))
	}
	_ = enc.EndSequence(pos)
}

func readStringSequence(dec *ber.BERDecoder) ([]string, error) {
	seq, err := dec.ReadSequenceContents()
	if err != nil {
		return nil, err
	}
	var out []string
	for seq.Remaining() > 0 {
		v, err := seq.ReadOctetString()
		if err != nil {
			return nil, err
		}
		out = append(out, string(v))
	}
	return out, nil
}

func init() {
	register(decodeServerStart, MsgTypeServerStart, MsgTypeServerStartV1)
	register(decodeReplServerStart, MsgTypeReplServerStart, MsgTypeReplServerStartV1)
	register(decodeReplServerStartDS, MsgTypeReplServerStartDS)
	register(func(r *ByteReader, _ MsgType, v ProtocolVersion) (Msg, error) {
		return decodeTagged(&startSessionLayouts, r, &StartSessionMsg{}, v)
	}, MsgTypeStartSession)
}
