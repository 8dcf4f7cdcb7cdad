package protocol

import (
	"github.com/KilimcininKorOglu/obarepl/internal/ber"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/csn"
)

// ReplicaKind tells a directory server from a replication server in a
// monitor report.
type ReplicaKind int

// Replica kinds.
const (
	ReplicaDS ReplicaKind = iota
	ReplicaRS
)

func (k ReplicaKind) String() string {
	if k == ReplicaRS {
		return "RS"
	}
	return "DS"
}

// MaxServerID is the largest server ID a CSN can carry.
const MaxServerID = 1<<16 - 1

// ReplicaInfo is the monitoring data of one replica. ServerID must lie in
// [0, MaxServerID]; other replicas are left out of the encoded message.
type ReplicaInfo struct {
	Kind     ReplicaKind
	ServerID int
	// ApproxFirstMissingDate is the time, in milliseconds since the
	// epoch, of the oldest change the replica has not seen yet, or 0.
	ApproxFirstMissingDate int64
	State                  *csn.ServerState
}

// On the wire each replica entry opens with a CSN whose server ID is the
// replica ID, whose timestamp is the first missing date and whose sequence
// number is 0 for a replication server and 1 for a directory server.
func (ri ReplicaInfo) packed() (csn.CSN, bool) {
	if ri.ServerID < 0 || ri.ServerID > MaxServerID {
		return csn.CSN{}, false
	}
	var seq uint32
	if ri.Kind == ReplicaDS {
		seq = 1
	}
	return csn.New(ri.ApproxFirstMissingDate, seq, uint16(ri.ServerID)), true
}

func unpackReplica(c csn.CSN) ReplicaInfo {
	kind := ReplicaRS
	if c.SeqNum > 0 {
		kind = ReplicaDS
	}
	return ReplicaInfo{
		Kind:                   kind,
		ServerID:               int(c.ServerID),
		ApproxFirstMissingDate: c.Timestamp,
	}
}

// MonitorMsg answers a MonitorRequestMsg with the state of a replication
// server and of every replica it knows about.
type MonitorMsg struct {
	Route
	ReplServerState *csn.ServerState
	Replicas        []ReplicaInfo
}

func (*MonitorMsg) Type() MsgType { return MsgTypeMonitor }

// Replica returns the entry for the replica of the given kind and ID.
func (m *MonitorMsg) Replica(kind ReplicaKind, serverID int) (ReplicaInfo, bool) {
	for _, ri := range m.Replicas {
		if ri.Kind == kind && ri.ServerID == serverID {
			return ri, true
		}
	}
	return ReplicaInfo{}, false
}

func (m *MonitorMsg) Bytes(v ProtocolVersion) []byte {
	return encodeTagged(&monitorLayouts, m, MsgTypeMonitor, v)
}

var monitorLayouts = sinceV2(layout[*MonitorMsg]{
	encode: encodeMonitor,
	decode: decodeMonitor,
})

// The payload after the route is one BER sequence holding the
// replication server state, then one sequence per replica.
func encodeMonitor(m *MonitorMsg, b *ByteBuilder, v ProtocolVersion) {
	m.Route.encode(b)

	enc := ber.NewBEREncoder(256)
	outer := enc.BeginSequence()
	writeCSNSequence(enc, stateOrEmpty(m.ReplServerState).CSNs(), v)
	for _, ri := range m.Replicas {
		head, ok := ri.packed()
		if !ok {
			continue
		}
		pos := enc.BeginSequence()
		_ = enc.WriteOctetString(csnOctets(head, v))
		for _, c := range stateOrEmpty(ri.State).CSNs() {
			_ = enc.WriteOctetString(csnOctets(c, v))
		}
		_ = enc.EndSequence(pos)
	}
	_ = enc.EndSequence(outer)
	b.AppendBytes(enc.Bytes())
}

func decodeMonitor(r *ByteReader, m *MonitorMsg, v ProtocolVersion) error {
	if err := m.Route.decode(r); err != nil {
		return err
	}
	start := r.Offset()
	dec := ber.NewBERDecoder(r.RemainingBytes())
	fail := func(message string, err error) error {
		return newDecodeError(r.t, start+dec.Offset(), message, err)
	}

	outer, err := dec.ReadSequenceContents()
	if err != nil {
		return fail("invalid monitor data", err)
	}
	rsState, err := outer.ReadSequenceContents()
	if err != nil {
		return fail("invalid replication server state", err)
	}
	if m.ReplServerState, err = readCSNs(rsState, v); err != nil {
		return fail("invalid replication server state", err)
	}

	m.Replicas = nil
	for outer.Remaining() > 0 {
		entry, err := outer.ReadSequenceContents()
		if err != nil {
			return fail("invalid replica entry", err)
		}
		raw, err := entry.ReadOctetString()
		if err != nil {
			return fail("invalid replica entry", err)
		}
		head, err := parseCSNOctets(raw, v)
		if err != nil {
			return fail("invalid replica entry", err)
		}
		ri := unpackReplica(head)
		if ri.State, err = readCSNs(entry, v); err != nil {
			return fail("invalid replica state", err)
		}
		m.Replicas = append(m.Replicas, ri)
	}
	return nil
}

func writeCSNSequence(enc *ber.BEREncoder, csns []csn.CSN, v ProtocolVersion) {
	pos := enc.BeginSequence()
	for _, c := range csns {
		_ = enc.WriteOctetString(csnOctets(c, v))
	}
	_ = enc.EndSequence(pos)
}

// readCSNs reads octet string CSNs until dec is exhausted.
func readCSNs(dec *ber.BERDecoder, v ProtocolVersion) (*csn.ServerState, error) {
	state := csn.NewServerState()
	for dec.Remaining() > 0 {
		raw, err := dec.ReadOctetString()
		if err != nil {
			return nil, err
		}
		c, err := parseCSNOctets(raw, v)
		if err != nil {
			return nil, err
		}
		state.Update(c)
	}
	return state, nil
}

func csnOctets(c csn.CSN, v ProtocolVersion) []byte {
	if v.binaryCSN() {
		return c.Bytes()
	}
	return []byte(c.String())
}

func parseCSNOctets(raw []byte, v ProtocolVersion) (csn.CSN, error) {
	if v.binaryCSN() {
		return csn.FromBytes(raw)
	}
	return csn.Parse(string(raw))
}

func init() {
	register(func(r *ByteReader, _ MsgType, v ProtocolVersion) (Msg, error) {
		return decodeTagged(&monitorLayouts, r, &MonitorMsg{}, v)
	}, MsgTypeMonitor)
}
