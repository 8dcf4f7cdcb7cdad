package protocol

import (
	"encoding/hex"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/obarepl/internal/ldap"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/csn"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

// PDUs captured from V3 peers.
const (
	deleteV3PDU = "1803303030303031323366313238343132303030326430303030303037620064633d636f" +
		"6d00756e69717565696400000201"
	modifyV3PDU = "1603303030303030303030303030303030313030303130303030303030300064633d7465" +
		"73740066616b65756e69717565696400000200301f0a0102301a040b6465736372697074" +
		"696f6e310b04096e65772076616c756500"
	replServerStartV3PDU = "15033132343500196f3d7465737400313600616e6f74686572486f73" +
		"743a31303235003130300074727565003334353600323633003030303030303030303030" +
		"30303034623031303730303030303030350000"
	serverStartV6PDU = "1406" +
		"31323438001f6f3d74657374003136006675726f6e0030003000" +
		"300030003130300031303000747275650032363300303030303030303030303030303034" +
		"623031303730303030303030350000"
	ackV3PDU = "05303030303031323366316535383832383030326430303030303037" +
		"6200010101313030003230303000333030303000"
	errorV3PDU = "0e380039003135313338383933004f6e207375666669782064633d6578616d706c652c64" +
		"633d636f6d2c207265706c69636174696f6e2073657276657220392070726573656e7465" +
		"642067656e65726174696f6e2049443d2d31207768656e2065787065637465642067656e" +
		"65726174696f6e2049443d343800"
	initializeTargetV3PDU  = "0b320064633d6578616d706c652c64633d636f6d00310032003400"
	initializeRequestV3PDU = "0a64633d6578616d706c652c64633d636f6d0032003100"
	entryV3PDU             = "0c32003100646e3a206f753d50656f706c652c64633d6578616d706c652c64633d636f6d0a" +
		"6f626a656374436c6173733a20746f700a6f626a656374436c6173733a206f7267616e697a6174696f6e616c556e69740a" +
		"6f753a2050656f706c650a0a00"
	topologyV3PDU1 = "1a01313300323600313534363331000300020c84026c6461703a2f2f6c6461702e697" +
		"06c616e65742e636f6d2f6f3d746573743f3f7375623f28736e3d4a656e73656e2900" +
		"6c646170733a2f2f6c6461702e69706c616e65742e636f6d3a343034312f7569643d6" +
		"26a656e73656e2c6f753d50656f706c652c6f3d746573743f636e2c6d61696c2c7465" +
		"6c6570686f6e654e756d6265720001343532370034353331360067"
	topologyV3PDU2 = "1a0003343532370034353331360067343532370030000030002d32313131330062"
	topologyV3PDU3 = "1a012d34333600343933002d32323738393600020101f9f70001343532370034353331360067"
	topologyV3PDU4 = "1a0000"
	startSessionV3PDU1 = "1b010102016c6461703a2f2f6c6461702e69706c616e65742e636f6d2f6f3d74657" +
		"3743f3f7375623f28736e3d4a656e73656e29006c646170733a2f2f6c6461702e69" +
		"706c616e65742e636f6d3a343034312f7569643d626a656e73656e2c6f753d50656" +
		"f706c652c6f3d746573743f636e2c6d61696c2c74656c6570686f6e654e756d62657200"
	startSessionV3PDU2 = "1b0200017b6c6461703a2f2f6c6461702e6578616d706c652e636f6d2f6f3d7465" +
		"73743f6f626a656374436c6173733f6f6e65006c6461703a2f2f686f73742e6578" +
		"616d706c652e636f6d2f6f753d70656f706c652c6f3d746573743f3f3f28736e3d612a2900"
)

func TestDecodeDeleteV3(t *testing.T) {
	pdu := mustHex(t, deleteV3PDU)
	msg, err := GenerateMsg(pdu, V3)
	require.NoError(t, err)

	del, ok := msg.(*DeleteMsg)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, V3, del.Version())
	assert.Equal(t, csn.New(0x123f1284120, 123, 45), del.CSN())
	assert.Equal(t, "dc=com", del.DN())
	assert.Equal(t, "uniqueid", del.EntryUUID())
	assert.False(t, del.IsAssured())
	assert.Equal(t, AssuredSafeData, del.AssuredMode())
	assert.Equal(t, byte(1), del.SafeDataLevel())

	assert.Equal(t, pdu, del.Bytes(V3))
}

func TestDecodeModifyV3(t *testing.T) {
	pdu := mustHex(t, modifyV3PDU)
	msg, err := GenerateMsg(pdu, V3)
	require.NoError(t, err)

	mod, ok := msg.(*ModifyMsg)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, csn.New(1, 0, 1), mod.CSN())
	assert.Equal(t, "dc=test", mod.DN())
	assert.Equal(t, "fakeuniqueid", mod.EntryUUID())
	assert.Equal(t, byte(0), mod.SafeDataLevel())

	mods, err := mod.Modifications()
	require.NoError(t, err)
	require.Len(t, mods, 1)
	assert.Equal(t, ldap.ModifyOperationReplace, mods[0].Operation)
	assert.Equal(t, "description", mods[0].Attribute.Type)
	assert.Equal(t, []string{"new value"}, mods[0].Attribute.StringValues())

	assert.Equal(t, pdu, mod.Bytes(V3))
}

func TestDecodeReplServerStartV3(t *testing.T) {
	pdu := mustHex(t, replServerStartV3PDU)
	msg, err := GenerateMsg(pdu, V3)
	require.NoError(t, err)

	rs, ok := msg.(*ReplServerStartMsg)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, V3, rs.Version())
	assert.Equal(t, int64(1245), rs.GenerationID)
	assert.Equal(t, int8(25), rs.GroupID)
	assert.Equal(t, "o=test", rs.BaseDN)
	assert.Equal(t, 16, rs.ServerID)
	assert.Equal(t, "anotherHost:1025", rs.ServerURL)
	assert.Equal(t, 100, rs.WindowSize)
	assert.True(t, rs.SSLEncryption)
	assert.Equal(t, 3456, rs.DegradedThreshold)

	c, ok := rs.State.Get(263)
	require.True(t, ok)
	assert.Equal(t, csn.New(75, 5, 263), c)

	assert.Equal(t, pdu, rs.Bytes(V3))
}

func TestDecodeServerStartV6(t *testing.T) {
	pdu := mustHex(t, serverStartV6PDU)
	msg, err := GenerateMsg(pdu, V6)
	require.NoError(t, err)

	ss, ok := msg.(*ServerStartMsg)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, V6, ss.Version())
	assert.Equal(t, int64(1248), ss.GenerationID)
	assert.Equal(t, int8(31), ss.GroupID)
	assert.Equal(t, "o=test", ss.BaseDN)
	assert.Equal(t, 16, ss.ServerID)
	assert.Equal(t, "furon", ss.ServerURL)
	assert.Equal(t, 100, ss.WindowSize)
	assert.Equal(t, int64(100), ss.HeartbeatInterval)
	assert.True(t, ss.SSLEncryption)

	assert.Equal(t, pdu, ss.Bytes(V6))
}

func TestDecodeAckV3(t *testing.T) {
	pdu := mustHex(t, ackV3PDU)
	msg, err := GenerateMsg(pdu, V3)
	require.NoError(t, err)

	ack, ok := msg.(*AckMsg)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, csn.New(0x123f1e58828, 123, 45), ack.CSN)
	assert.True(t, ack.HasTimeout)
	assert.True(t, ack.HasWrongStatus)
	assert.True(t, ack.HasReplayError)
	assert.Equal(t, []int{100, 2000, 30000}, ack.FailedServers)
	assert.True(t, ack.Failed())

	assert.Equal(t, pdu, ack.Bytes(V3))
}

func TestDecodeErrorV3(t *testing.T) {
	pdu := mustHex(t, errorV3PDU)
	msg, err := GenerateMsg(pdu, V3)
	require.NoError(t, err)

	em, ok := msg.(*ErrorMsg)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, 8, em.SenderID)
	assert.Equal(t, 9, em.Destination)
	assert.Equal(t, int64(15138893), em.MsgID)
	assert.Equal(t, "On suffix dc=example,dc=com, replication server 9 presented "+
		"generation ID=-1 when expected generation ID=48", em.Details)

	assert.Equal(t, pdu, em.Bytes(V3))
}

func TestDecodeStartSessionV3(t *testing.T) {
	tests := []struct {
		name   string
		pdu    string
		status ServerStatus
		assure bool
		mode   AssuredMode
		level  byte
		urls   int
	}{
		{"normal assured", startSessionV3PDU1, StatusNormal, true, AssuredSafeData, 1, 2},
		{"degraded", startSessionV3PDU2, StatusDegraded, false, AssuredSafeRead, 123, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pdu := mustHex(t, tt.pdu)
			msg, err := GenerateMsg(pdu, V3)
			require.NoError(t, err)

			ss, ok := msg.(*StartSessionMsg)
			require.True(t, ok, "got %T", msg)
			assert.Equal(t, tt.status, ss.Status)
			assert.Equal(t, tt.assure, ss.Assured)
			assert.Equal(t, tt.mode, ss.AssuredMode)
			assert.Equal(t, tt.level, ss.SafeDataLevel)
			assert.Len(t, ss.ReferralURLs, tt.urls)

			assert.Equal(t, pdu, ss.Bytes(V3))
		})
	}
}

func TestGenerateMsgErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"unknown tag", []byte{0xfe, 1, 2}},
		{"topology truncated", []byte{byte(MsgTypeTopology), 0}},
		{"topology bad status", append([]byte{byte(MsgTypeTopology), 1}, "1\x002\x000\x00\x09\x00\x02\x01\x01\x00\x00"...)},
		{"entry without terminator", []byte{byte(MsgTypeEntry), '1', 0, '2', 0, 'x'}},
		{"truncated window", []byte{byte(MsgTypeWindow), '1', '2'}},
		{"bad decimal", []byte{byte(MsgTypeWindow), 'x', 0}},
		{"change status too short", []byte{byte(MsgTypeChangeStatus), 1}},
		{"change status bad value", []byte{byte(MsgTypeChangeStatus), 1, 9}},
		{"stop before v4", []byte{byte(MsgTypeStop)}},
		{"replica offline before v8", append([]byte{byte(MsgTypeReplicaOffline)}, csn.New(1, 1, 1).Bytes()...)},
		{"bad update version", []byte{byte(MsgTypeDelete), 42}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := GenerateMsg(tt.data, V3)
			require.Error(t, err)
			assert.Nil(t, msg)
			assert.ErrorIs(t, err, ErrMalformedMessage)

			var de *DecodeError
			assert.True(t, errors.As(err, &de))
		})
	}
}

func TestGenerateMsgEmptyWrapsSentinel(t *testing.T) {
	_, err := GenerateMsg([]byte{}, V8)
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestDecodeErrorMessage(t *testing.T) {
	_, err := GenerateMsg([]byte{byte(MsgTypeWindow), '7'}, V8)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Window")
	assert.Contains(t, err.Error(), "offset 1")
}

func TestDecodeInitializeTargetV3(t *testing.T) {
	pdu := mustHex(t, initializeTargetV3PDU)
	msg, err := GenerateMsg(pdu, V3)
	require.NoError(t, err)

	it, ok := msg.(*InitializeTargetMsg)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, 2, it.Destination)
	assert.Equal(t, 1, it.SenderID)
	assert.Equal(t, 2, it.InitiatorID)
	assert.Equal(t, int64(4), it.EntryCount)
	assert.Equal(t, "dc=example,dc=com", it.BaseDN)
	assert.Zero(t, it.InitWindow)

	assert.Equal(t, pdu, it.Bytes(V3))
}

func TestDecodeInitializeRequestV3(t *testing.T) {
	pdu := mustHex(t, initializeRequestV3PDU)
	msg, err := GenerateMsg(pdu, V3)
	require.NoError(t, err)

	ir, ok := msg.(*InitializeRequestMsg)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, 1, ir.Destination)
	assert.Equal(t, 2, ir.SenderID)
	assert.Equal(t, "dc=example,dc=com", ir.BaseDN)
	assert.Zero(t, ir.InitWindow)

	assert.Equal(t, pdu, ir.Bytes(V3))
}

func TestDecodeEntryV3(t *testing.T) {
	pdu := mustHex(t, entryV3PDU)
	msg, err := GenerateMsg(pdu, V3)
	require.NoError(t, err)

	em, ok := msg.(*EntryMsg)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, 1, em.Destination)
	assert.Equal(t, 2, em.SenderID)
	assert.Equal(t, UnknownMsgID, em.MsgID)
	assert.Equal(t, "dn: ou=People,dc=example,dc=com\nobjectClass: top\n"+
		"objectClass: organizationalUnit\nou: People\n\n", string(em.Entry))

	assert.Equal(t, pdu, em.Bytes(V3))
}

func TestDecodeTopologyV3(t *testing.T) {
	rs4527 := RSInfo{ServerID: 4527, GenerationID: 45316, GroupID: 103, Weight: DefaultWeight}

	tests := []struct {
		name     string
		pdu      string
		replicas []DSInfo
		servers  []RSInfo
	}{
		{"one of each", topologyV3PDU1, []DSInfo{{
			ServerID:      13,
			RSID:          26,
			GenerationID:  154631,
			Status:        StatusFullUpdate,
			AssuredMode:   AssuredSafeData,
			SafeDataLevel: 12,
			GroupID:       -124,
			ReferralURLs: []string{
				"ldap://ldap.iplanet.com/o=test??sub?(sn=Jensen)",
				"ldaps://ldap.iplanet.com:4041/uid=bjensen,ou=People,o=test?cn,mail,telephoneNumber",
			},
		}}, []RSInfo{rs4527}},
		{"servers only", topologyV3PDU2, nil, []RSInfo{
			rs4527,
			{ServerID: 4527, GenerationID: 0, GroupID: 0, Weight: DefaultWeight},
			{ServerID: 0, GenerationID: -21113, GroupID: 98, Weight: DefaultWeight},
		}},
		{"negative ids", topologyV3PDU3, []DSInfo{{
			ServerID:      -436,
			RSID:          493,
			GenerationID:  -227896,
			Status:        StatusDegraded,
			Assured:       true,
			AssuredMode:   AssuredSafeRead,
			SafeDataLevel: 0xf9,
			GroupID:       -9,
		}}, []RSInfo{rs4527}},
		{"empty", topologyV3PDU4, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pdu := mustHex(t, tt.pdu)
			msg, err := GenerateMsg(pdu, V3)
			require.NoError(t, err)

			tm, ok := msg.(*TopologyMsg)
			require.True(t, ok, "got %T", msg)
			assert.Equal(t, tt.replicas, tm.Replicas)
			assert.Equal(t, tt.servers, tm.Servers)

			assert.Equal(t, pdu, tm.Bytes(V3))
		})
	}
}

// TestTagNumbers pins every message kind to its tag byte as written by
// the other implementations of the protocol.
func TestTagNumbers(t *testing.T) {
	c := csn.New(0x123f1284120, 1, 45)
	del, err := NewDeleteMsg(c, "dc=x", "uuid")
	require.NoError(t, err)
	add, err := NewAddMsg(c, "cn=a,dc=x", "uuid", "puuid", []ldap.Attribute{ldap.NewAttribute("cn", "a")})
	require.NoError(t, err)
	mod, err := NewModifyMsg(c, "cn=a,dc=x", "uuid", []ldap.Modification{
		ldap.NewModification(ldap.ModifyOperationReplace, "description", "d"),
	})
	require.NoError(t, err)
	mdn, err := NewModifyDNMsg(c, "cn=a,dc=x", "uuid", Rename{NewRDN: "cn=b"}, nil)
	require.NoError(t, err)

	tests := []struct {
		tag byte
		msg Msg
		v   ProtocolVersion
	}{
		{0x01, mod, V1},
		{0x02, add, V1},
		{0x03, del, V1},
		{0x04, mdn, V1},
		{0x05, &AckMsg{CSN: c}, V3},
		{0x06, &ServerStartMsg{BaseDN: "dc=x"}, V1},
		{0x07, &ReplServerStartMsg{BaseDN: "dc=x"}, V1},
		{0x08, &WindowMsg{NumAck: 10}, V3},
		{0x09, &HeartbeatMsg{}, V3},
		{0x0a, &InitializeRequestMsg{BaseDN: "dc=x"}, V3},
		{0x0b, &InitializeTargetMsg{BaseDN: "dc=x"}, V3},
		{0x0c, &EntryMsg{Entry: []byte("dn: dc=x\n")}, V3},
		{0x0d, &DoneMsg{}, V3},
		{0x0e, &ErrorMsg{Details: "x"}, V3},
		{0x0f, &WindowProbeMsg{}, V3},
		{0x11, &ResetGenerationIDMsg{GenerationID: 1}, V3},
		{0x12, &MonitorRequestMsg{}, V3},
		{0x13, &MonitorMsg{}, V3},
		{0x14, &ServerStartMsg{BaseDN: "dc=x"}, V3},
		{0x15, &ReplServerStartMsg{BaseDN: "dc=x"}, V3},
		{0x16, mod, V3},
		{0x17, add, V3},
		{0x18, del, V3},
		{0x19, mdn, V3},
		{0x1a, &TopologyMsg{}, V3},
		{0x1b, &StartSessionMsg{Status: StatusNormal}, V3},
		{0x1c, &ChangeStatusMsg{RequestedStatus: StatusNormal, NewStatus: StatusNormal}, V3},
		{0x21, &ChangeTimeHeartbeatMsg{CSN: c}, V3},
		{0x22, &ReplServerStartDSMsg{ReplServerStartMsg: ReplServerStartMsg{BaseDN: "dc=x"}}, V4},
		{0x23, &StopMsg{}, V4},
		{0x25, &ReplicaOfflineMsg{CSN: c}, V8},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%#02x", tt.tag), func(t *testing.T) {
			data := tt.msg.Bytes(tt.v)
			require.NotEmpty(t, data)
			assert.Equal(t, tt.tag, data[0])

			msg, err := GenerateMsg(data, tt.v)
			require.NoError(t, err)
			assert.IsType(t, tt.msg, msg)
		})
	}
}
