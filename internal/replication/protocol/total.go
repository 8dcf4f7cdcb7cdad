package protocol

// Messages of the total update exchange. They are routed by the
// replication servers from the sender to the destination server.

// Special destinations of a routed message.
const (
	UnknownServer = -1
	AllServers    = -3
)

// UnknownMsgID is the MsgID of an EntryMsg received from a peer older than
// V4.
const UnknownMsgID = -1

// InitializeRequestMsg asks the destination to send its whole content for
// BaseDN. InitWindow travels from V4 and is zero when decoded from an older
// peer.
type InitializeRequestMsg struct {
	Route
	BaseDN     string
	InitWindow int
}

func (*InitializeRequestMsg) Type() MsgType { return MsgTypeInitializeRequest }

func (m *InitializeRequestMsg) Bytes(v ProtocolVersion) []byte {
	return encodeTagged(&initializeRequestLayouts, m, MsgTypeInitializeRequest, v)
}

func encodeInitializeRequestV1(m *InitializeRequestMsg, b *ByteBuilder, _ ProtocolVersion) {
	b.AppendString(m.BaseDN)
	m.Route.encode(b)
}

func decodeInitializeRequestV1(r *ByteReader, m *InitializeRequestMsg, _ ProtocolVersion) error {
	var err error
	if m.BaseDN, err = r.ReadString(); err != nil {
		return err
	}
	return m.Route.decode(r)
}

var initializeRequestLayouts = layoutTable[*InitializeRequestMsg]{
	WireV1:   {encode: encodeInitializeRequestV1, decode: decodeInitializeRequestV1},
	WireV2V3: {encode: encodeInitializeRequestV1, decode: decodeInitializeRequestV1},
	WireV4Plus: {
		encode: func(m *InitializeRequestMsg, b *ByteBuilder, v ProtocolVersion) {
			encodeInitializeRequestV1(m, b, v)
			b.AppendIntUTF8(m.InitWindow)
		},
		decode: func(r *ByteReader, m *InitializeRequestMsg, v ProtocolVersion) error {
			if err := decodeInitializeRequestV1(r, m, v); err != nil {
				return err
			}
			var err error
			m.InitWindow, err = r.ReadIntUTF8()
			return err
		},
	},
}

// InitializeTargetMsg opens a total update: the sender is about to push
// EntryCount entries of BaseDN to the destination on behalf of
// InitiatorID.
type InitializeTargetMsg struct {
	Route
	BaseDN      string
	InitiatorID int
	EntryCount  int64
	InitWindow  int
}

func (*InitializeTargetMsg) Type() MsgType { return MsgTypeInitializeTarget }

func (m *InitializeTargetMsg) Bytes(v ProtocolVersion) []byte {
	return encodeTagged(&initializeTargetLayouts, m, MsgTypeInitializeTarget, v)
}

// The destination leads, ahead of the base DN and the sender.
func encodeInitializeTargetV1(m *InitializeTargetMsg, b *ByteBuilder, _ ProtocolVersion) {
	b.AppendIntUTF8(m.Destination)
	b.AppendString(m.BaseDN)
	b.AppendIntUTF8(m.SenderID)
	b.AppendIntUTF8(m.InitiatorID)
	b.AppendLongUTF8(m.EntryCount)
}

func decodeInitializeTargetV1(r *ByteReader, m *InitializeTargetMsg, _ ProtocolVersion) error {
	var err error
	if m.Destination, err = r.ReadIntUTF8(); err != nil {
		return err
	}
	if m.BaseDN, err = r.ReadString(); err != nil {
		return err
	}
	if m.SenderID, err = r.ReadIntUTF8(); err != nil {
		return err
	}
	if m.InitiatorID, err = r.ReadIntUTF8(); err != nil {
		return err
	}
	if m.EntryCount, err = r.ReadLongUTF8(); err != nil {
		return err
	}
	return nil
}

var initializeTargetLayouts = layoutTable[*InitializeTargetMsg]{
	WireV1:   {encode: encodeInitializeTargetV1, decode: decodeInitializeTargetV1},
	WireV2V3: {encode: encodeInitializeTargetV1, decode: decodeInitializeTargetV1},
	WireV4Plus: {
		encode: func(m *InitializeTargetMsg, b *ByteBuilder, v ProtocolVersion) {
			encodeInitializeTargetV1(m, b, v)
			b.AppendIntUTF8(m.InitWindow)
		},
		decode: func(r *ByteReader, m *InitializeTargetMsg, v ProtocolVersion) error {
			if err := decodeInitializeTargetV1(r, m, v); err != nil {
				return err
			}
			var err error
			m.InitWindow, err = r.ReadIntUTF8()
			return err
		},
	},
}

// EntryMsg carries one LDIF entry of a total update. From V4 each entry
// is numbered by MsgID so the receiver can acknowledge progress.
type EntryMsg struct {
	Route
	MsgID int
	Entry []byte
}

func (*EntryMsg) Type() MsgType { return MsgTypeEntry }

func (m *EntryMsg) Bytes(v ProtocolVersion) []byte {
	return encodeTagged(&entryLayouts, m, MsgTypeEntry, v)
}

// The entry runs to the end of the message and is followed by a single
// NUL byte.
func encodeEntryBody(m *EntryMsg, b *ByteBuilder) {
	b.AppendBytes(m.Entry)
	b.AppendByte(0)
}

func decodeEntryBody(r *ByteReader, m *EntryMsg) error {
	rest := r.RemainingBytes()
	if len(rest) == 0 || rest[len(rest)-1] != 0 {
		return r.fail("missing entry terminator", nil)
	}
	m.Entry = rest[:len(rest)-1]
	return nil
}

func encodeEntryV1(m *EntryMsg, b *ByteBuilder, _ ProtocolVersion) {
	m.Route.encode(b)
	encodeEntryBody(m, b)
}

func decodeEntryV1(r *ByteReader, m *EntryMsg, _ ProtocolVersion) error {
	if err := m.Route.decode(r); err != nil {
		return err
	}
	m.MsgID = UnknownMsgID
	return decodeEntryBody(r, m)
}

var entryLayouts = layoutTable[*EntryMsg]{
	WireV1:   {encode: encodeEntryV1, decode: decodeEntryV1},
	WireV2V3: {encode: encodeEntryV1, decode: decodeEntryV1},
	WireV4Plus: {
		encode: func(m *EntryMsg, b *ByteBuilder, _ ProtocolVersion) {
			m.Route.encode(b)
			b.AppendIntUTF8(m.MsgID)
			encodeEntryBody(m, b)
		},
		decode: func(r *ByteReader, m *EntryMsg, _ ProtocolVersion) error {
			if err := m.Route.decode(r); err != nil {
				return err
			}
			var err error
			if m.MsgID, err = r.ReadIntUTF8(); err != nil {
				return err
			}
			return decodeEntryBody(r, m)
		},
	},
}

// Routed is implemented by messages a replication server forwards to a
// single destination server.
type Routed interface {
	Msg
	Routing() Route
}

func (rt Route) Routing() Route { return rt }

func init() {
	register(func(r *ByteReader, _ MsgType, v ProtocolVersion) (Msg, error) {
		return decodeTagged(&initializeRequestLayouts, r, &InitializeRequestMsg{}, v)
	}, MsgTypeInitializeRequest)
	register(func(r *ByteReader, _ MsgType, v ProtocolVersion) (Msg, error) {
		return decodeTagged(&initializeTargetLayouts, r, &InitializeTargetMsg{}, v)
	}, MsgTypeInitializeTarget)
	register(func(r *ByteReader, _ MsgType, v ProtocolVersion) (Msg, error) {
		return decodeTagged(&entryLayouts, r, &EntryMsg{}, v)
	}, MsgTypeEntry)
}
