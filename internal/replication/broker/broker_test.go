package broker

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/obarepl/internal/ldap"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/protocol"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/server"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/session"
)

const (
	testBaseDN = "dc=example,dc=com"
	testRSID   = 100
)

func startRS(t *testing.T, cfg server.Config) *server.Server {
	t.Helper()
	cfg.ServerID = testRSID
	cfg.BaseDN = testBaseDN
	cfg.ListenAddress = "127.0.0.1:0"
	srv := server.New(cfg)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Close() })
	return srv
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func dial(t *testing.T, srv *server.Server, id int, opts ...func(*Config)) *Broker {
	t.Helper()
	cfg := Config{
		ServerID:          id,
		BaseDN:            testBaseDN,
		ServerURL:         "localhost:389",
		ReplicationServer: srv.Addr().String(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	b, err := Dial(testContext(t), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	require.Eventually(t, func() bool {
		for _, p := range srv.Peers() {
			if p.ServerID == id {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	return b
}

func newModify(t *testing.T, b *Broker, opts ...protocol.UpdateOption) *protocol.ModifyMsg {
	t.Helper()
	msg, err := protocol.NewModifyMsg(b.NewCSN(), "uid=alice,ou=people,"+testBaseDN, uuid.NewString(),
		[]ldap.Modification{ldap.NewModification(ldap.ModifyOperationReplace, "mail", "alice@example.com")},
		opts...)
	require.NoError(t, err)
	return msg
}

func receiveUpdate(t *testing.T, b *Broker) protocol.UpdateMsg {
	t.Helper()
	select {
	case u, ok := <-b.Updates():
		require.True(t, ok, "updates channel closed")
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("no update received")
		return nil
	}
}

func TestDialHandshake(t *testing.T) {
	srv := startRS(t, server.Config{Weight: 2, GenerationID: 3})
	b := dial(t, srv, 1, func(c *Config) { c.GenerationID = 3 })

	assert.Equal(t, protocol.CurrentVersion, b.ProtocolVersion())
	assert.Equal(t, protocol.StatusNormal, b.Status())
	assert.False(t, b.Encrypted())
	assert.Equal(t, int64(3), b.GenerationID())

	rs := b.ReplServer()
	assert.Equal(t, testRSID, rs.ServerID)
	assert.Equal(t, testBaseDN, rs.BaseDN)
	assert.Equal(t, int64(3), rs.GenerationID)
	assert.Equal(t, 2, rs.Weight)
	assert.Equal(t, server.DefaultWindowSize, rs.WindowSize)

	peers := srv.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, "localhost:389", peers[0].ServerURL)
}

func TestDialOlderProtocol(t *testing.T) {
	srv := startRS(t, server.Config{Weight: 2})
	b := dial(t, srv, 1, func(c *Config) { c.ProtocolVersion = protocol.V3 })

	assert.Equal(t, protocol.V3, b.ProtocolVersion())
	assert.Zero(t, b.ReplServer().Weight, "weight is only sent from V4")
	assert.Equal(t, protocol.V3, srv.Peers()[0].ProtocolVersion)
}

func TestDialRejected(t *testing.T) {
	srv := startRS(t, server.Config{})
	_, err := Dial(testContext(t), Config{
		ServerID:          1,
		BaseDN:            "dc=other",
		ReplicationServer: srv.Addr().String(),
	})

	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, testRSID, rejected.ServerID)
	assert.Contains(t, rejected.Details, "dc=other")
}

func TestDialNoServer(t *testing.T) {
	_, err := Dial(context.Background(), Config{ServerID: 1})
	assert.ErrorIs(t, err, ErrNoReplicationServer)

	_, err = DialAny(context.Background(), Config{ServerID: 1}, nil)
	assert.ErrorIs(t, err, ErrNoReplicationServer)
}

func TestDialAny(t *testing.T) {
	srv := startRS(t, server.Config{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := ln.Addr().String()
	require.NoError(t, ln.Close())

	b, err := DialAny(testContext(t), Config{ServerID: 1, BaseDN: testBaseDN}, []string{dead, srv.Addr().String()})
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, testRSID, b.ReplServer().ServerID)

	_, err = DialAny(testContext(t), Config{ServerID: 2, BaseDN: testBaseDN}, []string{dead})
	assert.ErrorContains(t, err, dead)
}

func TestPublishDelivered(t *testing.T) {
	srv := startRS(t, server.Config{})
	b1 := dial(t, srv, 1)
	b2 := dial(t, srv, 2)

	msg := newModify(t, b1)
	pending, err := b1.Publish(testContext(t), msg)
	require.NoError(t, err)
	assert.Nil(t, pending)

	got := receiveUpdate(t, b2)
	assert.Equal(t, msg.CSN(), got.CSN())
	assert.Equal(t, msg.EntryUUID(), got.EntryUUID())
	assert.True(t, b2.State().Cover(msg.CSN()))
	assert.True(t, b1.State().Cover(msg.CSN()))

	stats := b1.Stats()
	assert.Equal(t, int64(1), stats.UpdatesSent)
	assert.Equal(t, int64(msg.Size()), stats.BytesSent)
	assert.Equal(t, int64(1), b2.Stats().UpdatesReceived)

	// CSNs generated after seeing a remote change sort after it.
	assert.True(t, b2.NewCSN().NewerThan(msg.CSN()))
}

func TestPublishFlowControl(t *testing.T) {
	srv := startRS(t, server.Config{WindowSize: 2})
	b1 := dial(t, srv, 1, func(c *Config) { c.WindowProbeInterval = 20 * time.Millisecond })
	b2 := dial(t, srv, 2, func(c *Config) {
		c.WindowSize = 2
		c.UpdateBuffer = 1
	})

	const n = 20
	sent := make([]*protocol.ModifyMsg, n)
	for i := range sent {
		sent[i] = newModify(t, b1)
		_, err := b1.Publish(testContext(t), sent[i])
		require.NoError(t, err)
	}

	for i := 0; i < n; i++ {
		got := receiveUpdate(t, b2)
		assert.Equal(t, sent[i].CSN(), got.CSN(), "update %d", i)
	}
}

func TestPublishAssuredSafeData(t *testing.T) {
	srv := startRS(t, server.Config{})
	b := dial(t, srv, 1)

	msg := newModify(t, b, protocol.WithAssured(protocol.AssuredSafeData, 1))
	pending, err := b.Publish(testContext(t), msg)
	require.NoError(t, err)
	require.NotNil(t, pending)

	ack, err := pending.Wait(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, msg.CSN(), ack.CSN)
	assert.False(t, ack.Failed())

	ack, err = b.WaitForAck(testContext(t), msg.CSN())
	require.NoError(t, err)
	assert.False(t, ack.Failed())
}

func TestPublishAssuredSafeRead(t *testing.T) {
	srv := startRS(t, server.Config{})
	b1 := dial(t, srv, 1)
	b2 := dial(t, srv, 2)

	msg := newModify(t, b1, protocol.WithAssured(protocol.AssuredSafeRead, 1))
	pending, err := b1.Publish(testContext(t), msg)
	require.NoError(t, err)

	receiveUpdate(t, b2)

	ack, err := pending.Wait(testContext(t))
	require.NoError(t, err)
	assert.False(t, ack.Failed())
	assert.Zero(t, b1.Stats().PendingAcks)
}

func TestPublishAssuredSafeReadWrongStatus(t *testing.T) {
	srv := startRS(t, server.Config{})
	b1 := dial(t, srv, 1)
	b2 := dial(t, srv, 2)

	require.NoError(t, b2.RequestStatus(testContext(t), protocol.StatusDegraded))
	require.Eventually(t, func() bool { return b2.Status() == protocol.StatusDegraded }, 2*time.Second, 5*time.Millisecond)

	pending, err := b1.Publish(testContext(t), newModify(t, b1, protocol.WithAssured(protocol.AssuredSafeRead, 1)))
	require.NoError(t, err)
	ack, err := pending.Wait(testContext(t))
	require.NoError(t, err)
	assert.True(t, ack.HasWrongStatus)
	assert.Equal(t, []int{2}, ack.FailedServers)
}

func TestPublishAssuredLocalTimeout(t *testing.T) {
	srv := startRS(t, server.Config{AssuredTimeout: time.Minute})
	b1 := dial(t, srv, 1, func(c *Config) { c.AssuredTimeout = 50 * time.Millisecond })
	dial(t, srv, 2, func(c *Config) { c.UpdateBuffer = 1 })

	// Nobody drains the updates of server 2, so the third update is never
	// handed off and never acked.
	for i := 0; i < 2; i++ {
		_, err := b1.Publish(testContext(t), newModify(t, b1))
		require.NoError(t, err)
	}
	pending, err := b1.Publish(testContext(t), newModify(t, b1, protocol.WithAssured(protocol.AssuredSafeRead, 1)))
	require.NoError(t, err)

	ack, err := pending.Wait(testContext(t))
	require.NoError(t, err)
	assert.True(t, ack.HasTimeout)
}

func TestWaitForAckNotAssured(t *testing.T) {
	srv := startRS(t, server.Config{})
	b := dial(t, srv, 1)

	msg := newModify(t, b)
	_, err := b.Publish(testContext(t), msg)
	require.NoError(t, err)

	_, err = b.WaitForAck(testContext(t), msg.CSN())
	assert.ErrorIs(t, err, ErrNotAssured)
}

func TestRequestMonitor(t *testing.T) {
	srv := startRS(t, server.Config{})
	b1 := dial(t, srv, 1)
	dial(t, srv, 2)

	msg := newModify(t, b1)
	_, err := b1.Publish(testContext(t), msg)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.State().Cover(msg.CSN()) }, 2*time.Second, 5*time.Millisecond)

	mon, err := b1.RequestMonitor(testContext(t), testRSID)
	require.NoError(t, err)
	assert.Equal(t, testRSID, mon.SenderID)
	assert.True(t, mon.ReplServerState.Cover(msg.CSN()))

	_, ok := mon.Replica(protocol.ReplicaDS, 1)
	assert.True(t, ok)
	_, ok = mon.Replica(protocol.ReplicaDS, 2)
	assert.True(t, ok)
	_, ok = mon.Replica(protocol.ReplicaRS, testRSID)
	assert.True(t, ok)

	cached, ok := b1.CachedMonitor(testRSID)
	require.True(t, ok)
	assert.Same(t, mon, cached)
}

func TestRequestMonitorNotSupported(t *testing.T) {
	srv := startRS(t, server.Config{})
	b := dial(t, srv, 1, func(c *Config) { c.ProtocolVersion = protocol.V1 })

	_, err := b.RequestMonitor(testContext(t), testRSID)
	assert.ErrorIs(t, err, ErrNotSupported)
}

func TestGenerationMismatch(t *testing.T) {
	srv := startRS(t, server.Config{GenerationID: 5})
	b := dial(t, srv, 1, func(c *Config) { c.GenerationID = 6 })

	assert.Equal(t, protocol.StatusBadGenID, b.Status())
	assert.Equal(t, protocol.StatusBadGenID, srv.Peers()[0].Status)
}

func TestResetGenerationID(t *testing.T) {
	srv := startRS(t, server.Config{GenerationID: 1})
	b1 := dial(t, srv, 1, func(c *Config) { c.GenerationID = 1 })
	b2 := dial(t, srv, 2, func(c *Config) { c.GenerationID = 1 })

	require.NoError(t, b1.ResetGenerationID(testContext(t), 9))
	assert.Equal(t, int64(9), b1.GenerationID())
	require.Eventually(t, func() bool { return b2.GenerationID() == 9 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(9), srv.GenerationID())
}

func TestHeartbeatsKeepSessionAlive(t *testing.T) {
	srv := startRS(t, server.Config{})
	b := dial(t, srv, 1, func(c *Config) { c.HeartbeatInterval = 50 * time.Millisecond })

	select {
	case <-b.Disconnected():
		t.Fatal("session dropped despite heartbeats")
	case <-time.After(500 * time.Millisecond):
	}
	assert.Len(t, srv.Peers(), 1)
}

func TestCloseSendsStop(t *testing.T) {
	srv := startRS(t, server.Config{})
	b := dial(t, srv, 1)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	<-b.Disconnected()
	_, ok := <-b.Updates()
	assert.False(t, ok)
	require.Eventually(t, func() bool { return len(srv.Peers()) == 0 }, 2*time.Second, 5*time.Millisecond)

	_, err := b.Publish(context.Background(), newModify(t, b))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestServerCloseDisconnects(t *testing.T) {
	srv := startRS(t, server.Config{})
	b := dial(t, srv, 1)

	require.NoError(t, srv.Close())
	select {
	case <-b.Disconnected():
	case <-time.After(2 * time.Second):
		t.Fatal("broker not disconnected")
	}

	_, err := b.RequestMonitor(testContext(t), testRSID)
	assert.Error(t, err)
}

func TestTLSSession(t *testing.T) {
	serverTLS, clientTLS := testTLSConfigs(t)

	for _, keep := range []bool{false, true} {
		srv := startRS(t, server.Config{TLS: serverTLS})
		b := dial(t, srv, 1, func(c *Config) {
			c.TLS = clientTLS
			c.SSLEncryption = keep
		})
		assert.Equal(t, keep, b.Encrypted())

		mon, err := b.RequestMonitor(testContext(t), testRSID)
		require.NoError(t, err)
		assert.Equal(t, testRSID, mon.SenderID)
	}
}

func testTLSConfigs(t *testing.T) (serverCfg, clientCfg *tls.Config) {
	t.Helper()
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"Test Org"}, CommonName: "localhost"},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(privateKey)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	serverCfg, err = session.LoadTLSConfig(session.NewTLSConfig().WithCertPEM(certPEM, keyPEM))
	require.NoError(t, err)
	clientCfg, err = session.LoadClientTLSConfig(session.NewTLSConfig().WithCAPEM(certPEM).WithServerName("localhost"))
	require.NoError(t, err)
	return serverCfg, clientCfg
}

func TestTopologyAnnounced(t *testing.T) {
	srv := startRS(t, server.Config{Weight: 4})
	b1 := dial(t, srv, 1)
	b2 := dial(t, srv, 2)

	require.Eventually(t, func() bool {
		topo, ok := b1.Topology()
		if !ok {
			return false
		}
		_, seen := topo.Replica(2)
		return seen
	}, 2*time.Second, 5*time.Millisecond)

	topo, _ := b1.Topology()
	_, self := topo.Replica(1)
	assert.False(t, self)
	require.Len(t, topo.Servers, 1)
	assert.Equal(t, testRSID, topo.Servers[0].ServerID)
	assert.Equal(t, 4, topo.Servers[0].Weight)
	ds, _ := topo.Replica(2)
	assert.Equal(t, testRSID, ds.RSID)
	assert.Equal(t, protocol.StatusNormal, ds.Status)

	require.NoError(t, b2.Close())
	require.Eventually(t, func() bool {
		topo, _ := b1.Topology()
		_, seen := topo.Replica(2)
		return !seen
	}, 2*time.Second, 5*time.Millisecond)
}

func receiveTotalUpdate(t *testing.T, b *Broker) protocol.Routed {
	t.Helper()
	select {
	case m, ok := <-b.TotalUpdates():
		require.True(t, ok, "total update channel closed")
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no total update message received")
		return nil
	}
}

func TestTotalUpdateExchange(t *testing.T) {
	srv := startRS(t, server.Config{})
	b1 := dial(t, srv, 1)
	b2 := dial(t, srv, 2)
	ctx := testContext(t)

	require.NoError(t, b1.SendTotalUpdate(ctx, &protocol.InitializeRequestMsg{
		Route:      protocol.Route{SenderID: 1, Destination: 2},
		BaseDN:     testBaseDN,
		InitWindow: 10,
	}))
	req, ok := receiveTotalUpdate(t, b2).(*protocol.InitializeRequestMsg)
	require.True(t, ok)
	assert.Equal(t, 1, req.SenderID)
	assert.Equal(t, 10, req.InitWindow)

	route := protocol.Route{SenderID: 2, Destination: 1}
	require.NoError(t, b2.SendTotalUpdate(ctx, &protocol.InitializeTargetMsg{
		Route: route, BaseDN: testBaseDN, InitiatorID: 1, EntryCount: 1,
	}))
	require.NoError(t, b2.SendTotalUpdate(ctx, &protocol.EntryMsg{
		Route: route, MsgID: 1, Entry: []byte("dn: " + testBaseDN + "\nobjectClass: top\n"),
	}))
	require.NoError(t, b2.SendTotalUpdate(ctx, &protocol.DoneMsg{Route: route}))

	target, ok := receiveTotalUpdate(t, b1).(*protocol.InitializeTargetMsg)
	require.True(t, ok)
	assert.Equal(t, int64(1), target.EntryCount)
	entry, ok := receiveTotalUpdate(t, b1).(*protocol.EntryMsg)
	require.True(t, ok)
	assert.Equal(t, 1, entry.MsgID)
	assert.Contains(t, string(entry.Entry), "objectClass: top")
	assert.IsType(t, &protocol.DoneMsg{}, receiveTotalUpdate(t, b1))

	require.NoError(t, b1.Close())
	assert.ErrorIs(t, b1.SendTotalUpdate(ctx, &protocol.DoneMsg{Route: route}), ErrClosed)
}
