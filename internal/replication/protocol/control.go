package protocol

import (
	"github.com/KilimcininKorOglu/obarepl/internal/replication/csn"
)

// uniform returns a table using l at every wire version.
func uniform[M any](l layout[M]) layoutTable[M] {
	return layoutTable[M]{WireV1: l, WireV2V3: l, WireV4Plus: l}
}

// sinceV2 returns a table using l from V2 on.
func sinceV2[M any](l layout[M]) layoutTable[M] {
	return layoutTable[M]{WireV2V3: l, WireV4Plus: l}
}

// encodeTagged writes tag followed by the layout of m for v. It returns nil
// when m has no layout at v.
func encodeTagged[M any](t *layoutTable[M], m M, tag MsgType, v ProtocolVersion) []byte {
	b := NewByteBuilder(32)
	b.AppendByte(byte(tag))
	if !t.encode(m, b, v) {
		return nil
	}
	return b.Bytes()
}

// decodeTagged fills m from r and returns it as a Msg.
func decodeTagged[M Msg](t *layoutTable[M], r *ByteReader, m M, v ProtocolVersion) (Msg, error) {
	if err := t.decode(r, m, v); err != nil {
		return nil, err
	}
	return m, nil
}

// emptyLayout is the layout of messages made of their tag alone.
func emptyLayout[M any]() layout[M] {
	return layout[M]{
		encode: func(M, *ByteBuilder, ProtocolVersion) {},
		decode: func(*ByteReader, M, ProtocolVersion) error { return nil },
	}
}

// HeartbeatMsg is sent periodically to show the session is alive.
type HeartbeatMsg struct{}

func (*HeartbeatMsg) Type() MsgType { return MsgTypeHeartbeat }

func (*HeartbeatMsg) Bytes(ProtocolVersion) []byte { return single(MsgTypeHeartbeat) }

// WindowProbeMsg asks the peer to resend its window when the sender ran
// out of credit.
type WindowProbeMsg struct{}

func (*WindowProbeMsg) Type() MsgType { return MsgTypeWindowProbe }

func (*WindowProbeMsg) Bytes(ProtocolVersion) []byte { return single(MsgTypeWindowProbe) }

// StopMsg announces an orderly close of the session. It only exists from
// V4.
type StopMsg struct{}

func (*StopMsg) Type() MsgType { return MsgTypeStop }

func (m *StopMsg) Bytes(v ProtocolVersion) []byte {
	return encodeTagged(&stopLayouts, m, MsgTypeStop, v)
}

var stopLayouts = layoutTable[*StopMsg]{WireV4Plus: emptyLayout[*StopMsg]()}

// WindowMsg grants the receiver NumAck more updates of send credit.
type WindowMsg struct {
	NumAck int
}

func (*WindowMsg) Type() MsgType { return MsgTypeWindow }

func (m *WindowMsg) Bytes(v ProtocolVersion) []byte {
	return encodeTagged(&windowLayouts, m, MsgTypeWindow, v)
}

var windowLayouts = uniform(layout[*WindowMsg]{
	encode: func(m *WindowMsg, b *ByteBuilder, _ ProtocolVersion) {
		b.AppendIntUTF8(m.NumAck)
	},
	decode: func(r *ByteReader, m *WindowMsg, _ ProtocolVersion) error {
		var err error
		m.NumAck, err = r.ReadIntUTF8()
		return err
	},
})

// ChangeStatusMsg requests (DS to RS) or announces (RS to DS) a status
// change. Its encoding is exactly three bytes.
type ChangeStatusMsg struct {
	RequestedStatus ServerStatus
	NewStatus       ServerStatus
}

func (*ChangeStatusMsg) Type() MsgType { return MsgTypeChangeStatus }

func (m *ChangeStatusMsg) Bytes(v ProtocolVersion) []byte {
	return encodeTagged(&changeStatusLayouts, m, MsgTypeChangeStatus, v)
}

var changeStatusLayouts = sinceV2(layout[*ChangeStatusMsg]{
	encode: func(m *ChangeStatusMsg, b *ByteBuilder, _ ProtocolVersion) {
		b.AppendByte(byte(m.RequestedStatus))
		b.AppendByte(byte(m.NewStatus))
	},
	decode: func(r *ByteReader, m *ChangeStatusMsg, _ ProtocolVersion) error {
		requested, err := r.ReadByte()
		if err != nil {
			return err
		}
		status, err := r.ReadByte()
		if err != nil {
			return err
		}
		m.RequestedStatus = ServerStatus(requested)
		m.NewStatus = ServerStatus(status)
		if !m.RequestedStatus.Valid() || !m.NewStatus.Valid() {
			return r.fail("invalid server status", nil)
		}
		return nil
	},
})

// ResetGenerationIDMsg asks every server of the domain to adopt a new
// generation ID.
type ResetGenerationIDMsg struct {
	GenerationID int64
}

func (*ResetGenerationIDMsg) Type() MsgType { return MsgTypeResetGenerationID }

func (m *ResetGenerationIDMsg) Bytes(v ProtocolVersion) []byte {
	return encodeTagged(&resetGenerationIDLayouts, m, MsgTypeResetGenerationID, v)
}

var resetGenerationIDLayouts = uniform(layout[*ResetGenerationIDMsg]{
	encode: func(m *ResetGenerationIDMsg, b *ByteBuilder, _ ProtocolVersion) {
		b.AppendLongUTF8(m.GenerationID)
	},
	decode: func(r *ByteReader, m *ResetGenerationIDMsg, _ ProtocolVersion) error {
		var err error
		m.GenerationID, err = r.ReadLongUTF8()
		return err
	},
})

// Route identifies the sender and the destination of a routable message.
type Route struct {
	SenderID    int
	Destination int
}

func (rt *Route) encode(b *ByteBuilder) {
	b.AppendIntUTF8(rt.SenderID)
	b.AppendIntUTF8(rt.Destination)
}

func (rt *Route) decode(r *ByteReader) error {
	var err error
	if rt.SenderID, err = r.ReadIntUTF8(); err != nil {
		return err
	}
	if rt.Destination, err = r.ReadIntUTF8(); err != nil {
		return err
	}
	return nil
}

// MonitorRequestMsg asks a replication server for its monitoring data.
type MonitorRequestMsg struct {
	Route
}

func (*MonitorRequestMsg) Type() MsgType { return MsgTypeMonitorRequest }

func (m *MonitorRequestMsg) Bytes(v ProtocolVersion) []byte {
	return encodeTagged(&monitorRequestLayouts, m, MsgTypeMonitorRequest, v)
}

var monitorRequestLayouts = uniform(layout[*MonitorRequestMsg]{
	encode: func(m *MonitorRequestMsg, b *ByteBuilder, _ ProtocolVersion) { m.Route.encode(b) },
	decode: func(r *ByteReader, m *MonitorRequestMsg, _ ProtocolVersion) error { return m.Route.decode(r) },
})

// DoneMsg ends a total update exchange.
type DoneMsg struct {
	Route
}

func (*DoneMsg) Type() MsgType { return MsgTypeDone }

func (m *DoneMsg) Bytes(v ProtocolVersion) []byte {
	return encodeTagged(&doneLayouts, m, MsgTypeDone, v)
}

var doneLayouts = uniform(layout[*DoneMsg]{
	encode: func(m *DoneMsg, b *ByteBuilder, _ ProtocolVersion) { m.Route.encode(b) },
	decode: func(r *ByteReader, m *DoneMsg, _ ProtocolVersion) error { return m.Route.decode(r) },
})

// ErrorMsg reports a failure to the destination server. CreationTime is
// carried from V4 on and is zero when decoded from an older peer.
type ErrorMsg struct {
	Route
	MsgID        int64
	Details      string
	CreationTime int64
}

func (*ErrorMsg) Type() MsgType { return MsgTypeError }

func (m *ErrorMsg) Bytes(v ProtocolVersion) []byte {
	return encodeTagged(&errorLayouts, m, MsgTypeError, v)
}

func encodeErrorV1(m *ErrorMsg, b *ByteBuilder, _ ProtocolVersion) {
	m.Route.encode(b)
	b.AppendLongUTF8(m.MsgID)
	b.AppendString(m.Details)
}

func decodeErrorV1(r *ByteReader, m *ErrorMsg, _ ProtocolVersion) error {
	if err := m.Route.decode(r); err != nil {
		return err
	}
	var err error
	if m.MsgID, err = r.ReadLongUTF8(); err != nil {
		return err
	}
	if m.Details, err = r.ReadString(); err != nil {
		return err
	}
	return nil
}

var errorLayouts = layoutTable[*ErrorMsg]{
	WireV1:   {encode: encodeErrorV1, decode: decodeErrorV1},
	WireV2V3: {encode: encodeErrorV1, decode: decodeErrorV1},
	WireV4Plus: {
		encode: func(m *ErrorMsg, b *ByteBuilder, v ProtocolVersion) {
			encodeErrorV1(m, b, v)
			b.AppendLongUTF8(m.CreationTime)
		},
		decode: func(r *ByteReader, m *ErrorMsg, v ProtocolVersion) error {
			if err := decodeErrorV1(r, m, v); err != nil {
				return err
			}
			var err error
			m.CreationTime, err = r.ReadLongUTF8()
			return err
		},
	},
}

// ChangeTimeHeartbeatMsg carries the current time of a directory server so
// that idle replicas still advance the change time seen by others.
type ChangeTimeHeartbeatMsg struct {
	CSN csn.CSN
}

func (*ChangeTimeHeartbeatMsg) Type() MsgType { return MsgTypeChangeTimeHeartbeat }

func (m *ChangeTimeHeartbeatMsg) Bytes(v ProtocolVersion) []byte {
	return encodeTagged(&changeTimeHeartbeatLayouts, m, MsgTypeChangeTimeHeartbeat, v)
}

var changeTimeHeartbeatLayouts = uniform(layout[*ChangeTimeHeartbeatMsg]{
	encode: func(m *ChangeTimeHeartbeatMsg, b *ByteBuilder, v ProtocolVersion) {
		b.AppendCSN(m.CSN, v)
	},
	decode: func(r *ByteReader, m *ChangeTimeHeartbeatMsg, v ProtocolVersion) error {
		var err error
		m.CSN, err = r.ReadCSN(v)
		return err
	},
})

// ReplicaOfflineMsg tells the topology that a directory server went
// offline cleanly at CSN. It only exists at V8.
type ReplicaOfflineMsg struct {
	CSN csn.CSN
}

func (*ReplicaOfflineMsg) Type() MsgType { return MsgTypeReplicaOffline }

func (m *ReplicaOfflineMsg) Bytes(v ProtocolVersion) []byte {
	if v < V8 {
		return nil
	}
	b := NewByteBuilder(1 + csn.ByteLength)
	b.AppendByte(byte(MsgTypeReplicaOffline))
	b.AppendCSN(m.CSN, v)
	return b.Bytes()
}

func decodeReplicaOffline(r *ByteReader, _ MsgType, v ProtocolVersion) (Msg, error) {
	if v < V8 {
		return nil, r.fail("message kind not defined at "+v.String(), nil)
	}
	c, err := r.ReadCSN(v)
	if err != nil {
		return nil, err
	}
	return &ReplicaOfflineMsg{CSN: c}, nil
}

// AckMsg acknowledges an assured update. FailedServers lists the servers
// that did not acknowledge in time or in the right status.
type AckMsg struct {
	CSN            csn.CSN
	HasTimeout     bool
	HasWrongStatus bool
	HasReplayError bool
	FailedServers  []int
}

func (*AckMsg) Type() MsgType { return MsgTypeAck }

// Failed reports whether any error flag is set.
func (m *AckMsg) Failed() bool {
	return m.HasTimeout || m.HasWrongStatus || m.HasReplayError
}

func (m *AckMsg) Bytes(v ProtocolVersion) []byte {
	return encodeTagged(&ackLayouts, m, MsgTypeAck, v)
}

func encodeAckV1(m *AckMsg, b *ByteBuilder, v ProtocolVersion) {
	b.AppendCSN(m.CSN, v)
}

func decodeAckV1(r *ByteReader, m *AckMsg, v ProtocolVersion) error {
	var err error
	m.CSN, err = r.ReadCSN(v)
	return err
}

// From V2 the CSN is followed by three flag bytes and the failed server
// IDs, each NUL terminated, up to the end of the message.
func encodeAckV2(m *AckMsg, b *ByteBuilder, v ProtocolVersion) {
	b.AppendCSN(m.CSN, v)
	b.AppendBool(m.HasTimeout)
	b.AppendBool(m.HasWrongStatus)
	b.AppendBool(m.HasReplayError)
	for _, id := range m.FailedServers {
		b.AppendIntUTF8(id)
	}
}

func decodeAckV2(r *ByteReader, m *AckMsg, v ProtocolVersion) error {
	var err error
	if m.CSN, err = r.ReadCSN(v); err != nil {
		return err
	}
	if m.HasTimeout, err = r.ReadBool(); err != nil {
		return err
	}
	if m.HasWrongStatus, err = r.ReadBool(); err != nil {
		return err
	}
	if m.HasReplayError, err = r.ReadBool(); err != nil {
		return err
	}
	m.FailedServers = nil
	for r.Remaining() > 0 {
		id, err := r.ReadIntUTF8()
		if err != nil {
			return err
		}
		m.FailedServers = append(m.FailedServers, id)
	}
	return nil
}

var ackLayouts = layoutTable[*AckMsg]{
	WireV1:     {encode: encodeAckV1, decode: decodeAckV1},
	WireV2V3:   {encode: encodeAckV2, decode: decodeAckV2},
	WireV4Plus: {encode: encodeAckV2, decode: decodeAckV2},
}

func init() {
	register(func(*ByteReader, MsgType, ProtocolVersion) (Msg, error) {
		return &HeartbeatMsg{}, nil
	}, MsgTypeHeartbeat)
	register(func(*ByteReader, MsgType, ProtocolVersion) (Msg, error) {
		return &WindowProbeMsg{}, nil
	}, MsgTypeWindowProbe)
	register(func(r *ByteReader, _ MsgType, v ProtocolVersion) (Msg, error) {
		return decodeTagged(&stopLayouts, r, &StopMsg{}, v)
	}, MsgTypeStop)
	register(func(r *ByteReader, _ MsgType, v ProtocolVersion) (Msg, error) {
		return decodeTagged(&windowLayouts, r, &WindowMsg{}, v)
	}, MsgTypeWindow)
	register(func(r *ByteReader, _ MsgType, v ProtocolVersion) (Msg, error) {
		return decodeTagged(&changeStatusLayouts, r, &ChangeStatusMsg{}, v)
	}, MsgTypeChangeStatus)
	register(func(r *ByteReader, _ MsgType, v ProtocolVersion) (Msg, error) {
		return decodeTagged(&resetGenerationIDLayouts, r, &ResetGenerationIDMsg{}, v)
	}, MsgTypeResetGenerationID)
	register(func(r *ByteReader, _ MsgType, v ProtocolVersion) (Msg, error) {
		return decodeTagged(&monitorRequestLayouts, r, &MonitorRequestMsg{}, v)
	}, MsgTypeMonitorRequest)
	register(func(r *ByteReader, _ MsgType, v ProtocolVersion) (Msg, error) {
		return decodeTagged(&doneLayouts, r, &DoneMsg{}, v)
	}, MsgTypeDone)
	register(func(r *ByteReader, _ MsgType, v ProtocolVersion) (Msg, error) {
		return decodeTagged(&errorLayouts, r, &ErrorMsg{}, v)
	}, MsgTypeError)
	register(func(r *ByteReader, _ MsgType, v ProtocolVersion) (Msg, error) {
		return decodeTagged(&changeTimeHeartbeatLayouts, r, &ChangeTimeHeartbeatMsg{}, v)
	}, MsgTypeChangeTimeHeartbeat)
	register(func(r *ByteReader, _ MsgType, v ProtocolVersion) (Msg, error) {
		return decodeTagged(&ackLayouts, r, &AckMsg{}, v)
	}, MsgTypeAck)
	register(decodeReplicaOffline, MsgTypeReplicaOffline)
}
