package protocol

// DefaultWeight is the weight of a replication server announced by a peer
// older than V4.
const DefaultWeight = 1

// maxListLen is the largest list a one byte count can announce.
const maxListLen = 255

// DSInfo describes a directory server connected somewhere in the topology.
type DSInfo struct {
	ServerID      int
	ServerURL     string // from V6
	RSID          int    // replication server the DS is connected to
	GenerationID  int64
	Status        ServerStatus
	Assured       bool
	AssuredMode   AssuredMode
	SafeDataLevel byte
	GroupID       int8
	ReferralURLs  []string
	// EclIncludes travels from V4, EclIncludesForDeletes and
	// ProtocolVersion from V5.
	EclIncludes           []string
	EclIncludesForDeletes []string
	ProtocolVersion       ProtocolVersion
}

// RSInfo describes a replication server of the topology.
type RSInfo struct {
	ServerID     int
	GenerationID int64
	GroupID      int8
	// Weight and ServerURL travel from V4.
	Weight    int
	ServerURL string
}

// TopologyMsg is sent by a replication server to describe every server it
// knows of. It does not exist at V1.
type TopologyMsg struct {
	Replicas []DSInfo
	Servers  []RSInfo
}

func (*TopologyMsg) Type() MsgType { return MsgTypeTopology }

func (m *TopologyMsg) Bytes(v ProtocolVersion) []byte {
	return encodeTagged(&topologyLayouts, m, MsgTypeTopology, v)
}

// Replica returns the DSInfo of server id.
func (m *TopologyMsg) Replica(id int) (DSInfo, bool) {
	for _, ds := range m.Replicas {
		if ds.ServerID == id {
			return ds, true
		}
	}
	return DSInfo{}, false
}

var topologyLayouts = sinceV2(layout[*TopologyMsg]{
	encode: encodeTopology,
	decode: decodeTopology,
})

func appendList(b *ByteBuilder, values []string) {
	if len(values) > maxListLen {
		values = values[:maxListLen]
	}
	b.AppendByte(byte(len(values)))
	for _, s := range values {
		b.AppendString(s)
	}
}

func readList(r *ByteReader) ([]string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	var out []string
	for i := 0; i < int(n); i++ {
		s, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func encodeTopology(m *TopologyMsg, b *ByteBuilder, v ProtocolVersion) {
	replicas := m.Replicas
	if len(replicas) > maxListLen {
		replicas = replicas[:maxListLen]
	}
	b.AppendByte(byte(len(replicas)))
	for i := range replicas {
		replicas[i].encode(b, v)
	}

	servers := m.Servers
	if len(servers) > maxListLen {
		servers = servers[:maxListLen]
	}
	b.AppendByte(byte(len(servers)))
	for i := range servers {
		servers[i].encode(b, v)
	}
}

func decodeTopology(r *ByteReader, m *TopologyMsg, v ProtocolVersion) error {
	n, err := r.ReadByte()
	if err != nil {
		return err
	}
	m.Replicas = nil
	for i := 0; i < int(n); i++ {
		var ds DSInfo
		if err := ds.decode(r, v); err != nil {
			return err
		}
		m.Replicas = append(m.Replicas, ds)
	}

	if n, err = r.ReadByte(); err != nil {
		return err
	}
	m.Servers = nil
	for i := 0; i < int(n); i++ {
		var rs RSInfo
		if err := rs.decode(r, v); err != nil {
			return err
		}
		m.Servers = append(m.Servers, rs)
	}
	return nil
}

func (ds *DSInfo) encode(b *ByteBuilder, v ProtocolVersion) {
	b.AppendIntUTF8(ds.ServerID)
	b.AppendIntUTF8(ds.RSID)
	b.AppendLongUTF8(ds.GenerationID)
	b.AppendByte(byte(ds.Status))
	b.AppendBool(ds.Assured)
	mode := ds.AssuredMode
	if mode == 0 {
		mode = DefaultAssuredMode
	}
	b.AppendByte(byte(mode))
	b.AppendByte(ds.SafeDataLevel)
	b.AppendByte(byte(ds.GroupID))
	appendList(b, ds.ReferralURLs)
	if v < V4 {
		return
	}
	appendList(b, ds.EclIncludes)
	if v < V5 {
		return
	}
	b.AppendByte(byte(ds.ProtocolVersion))
	appendList(b, ds.EclIncludesForDeletes)
	if v >= V6 {
		b.AppendString(ds.ServerURL)
	}
}

func (ds *DSInfo) decode(r *ByteReader, v ProtocolVersion) error {
	var err error
	if ds.ServerID, err = r.ReadIntUTF8(); err != nil {
		return err
	}
	if ds.RSID, err = r.ReadIntUTF8(); err != nil {
		return err
	}
	if ds.GenerationID, err = r.ReadLongUTF8(); err != nil {
		return err
	}
	status, err := r.ReadByte()
	if err != nil {
		return err
	}
	ds.Status = ServerStatus(status)
	if !ds.Status.Valid() {
		return r.fail("invalid server status", nil)
	}
	if ds.Assured, err = r.ReadBool(); err != nil {
		return err
	}
	mode, err := r.ReadByte()
	if err != nil {
		return err
	}
	ds.AssuredMode = AssuredMode(mode)
	if ds.AssuredMode == 0 && !ds.Assured {
		ds.AssuredMode = DefaultAssuredMode
	}
	if !ds.AssuredMode.Valid() {
		return r.fail("invalid assured mode", ErrInvalidAssuredMode)
	}
	if ds.SafeDataLevel, err = r.ReadByte(); err != nil {
		return err
	}
	gid, err := r.ReadByte()
	if err != nil {
		return err
	}
	ds.GroupID = int8(gid)
	if ds.ReferralURLs, err = readList(r); err != nil {
		return err
	}
	if v < V4 {
		return nil
	}
	if ds.EclIncludes, err = readList(r); err != nil {
		return err
	}
	if v < V5 {
		ds.EclIncludesForDeletes = ds.EclIncludes
		return nil
	}
	pv, err := r.ReadByte()
	if err != nil {
		return err
	}
	ds.ProtocolVersion = ProtocolVersion(pv)
	if ds.EclIncludesForDeletes, err = readList(r); err != nil {
		return err
	}
	if v >= V6 {
		if ds.ServerURL, err = r.ReadString(); err != nil {
			return err
		}
	}
	return nil
}

func (rs *RSInfo) encode(b *ByteBuilder, v ProtocolVersion) {
	b.AppendIntUTF8(rs.ServerID)
	b.AppendLongUTF8(rs.GenerationID)
	b.AppendByte(byte(rs.GroupID))
	if v < V4 {
		return
	}
	b.AppendIntUTF8(rs.Weight)
	b.AppendString(rs.ServerURL)
}

func (rs *RSInfo) decode(r *ByteReader, v ProtocolVersion) error {
	var err error
	if rs.ServerID, err = r.ReadIntUTF8(); err != nil {
		return err
	}
	if rs.GenerationID, err = r.ReadLongUTF8(); err != nil {
		return err
	}
	gid, err := r.ReadByte()
	if err != nil {
		return err
	}
	rs.GroupID = int8(gid)
	rs.Weight = DefaultWeight
	if v < V4 {
		return nil
	}
	if rs.Weight, err = r.ReadIntUTF8(); err != nil {
		return err
	}
	rs.ServerURL, err = r.ReadString()
	return err
}

func init() {
	register(func(r *ByteReader, _ MsgType, v ProtocolVersion) (Msg, error) {
		return decodeTagged(&topologyLayouts, r, &TopologyMsg{}, v)
	}, MsgTypeTopology)
}
