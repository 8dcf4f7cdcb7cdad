package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KilimcininKorOglu/obarepl/internal/logging"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/csn"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/flow"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/protocol"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/session"
)

// ReplServerInfo describes the replication server a broker is connected
// to, as announced in its start message.
type ReplServerInfo struct {
	ServerID          int
	ServerURL         string
	BaseDN            string
	GenerationID      int64
	GroupID           int8
	WindowSize        int
	DegradedThreshold int
	SSLEncryption     bool
	// Weight and ConnectedDSCount are only sent from V4 on.
	Weight           int
	ConnectedDSCount int
	State            *csn.ServerState
}

// Stats are counters of a broker.
type Stats struct {
	UpdatesSent     int64
	BytesSent       int64
	UpdatesReceived int64
	PendingAcks     int
	SendCredit      int
}

// Broker is the directory server side of a replication session. It
// publishes local updates, delivers remote ones on Updates and tracks
// assured updates until they are acknowledged.
type Broker struct {
	cfg     Config
	session *session.Session
	logger  logging.Logger
	gen     *csn.Generator
	state   *csn.ServerState
	rs      ReplServerInfo

	generationID atomic.Int64
	status       atomic.Uint32

	sendWindow *flow.SendWindow
	rcvWindow  *flow.ReceiveWindow
	acks       *AckTracker
	monitors   *MonitorCache
	updates    chan protocol.UpdateMsg
	routed     chan protocol.Routed
	topology   atomic.Pointer[protocol.TopologyMsg]

	hbMonitor   *session.HeartbeatMonitor
	ctPublisher *session.HeartbeatPublisher

	updatesSent     atomic.Int64
	bytesSent       atomic.Int64
	updatesReceived atomic.Int64

	done         chan struct{}
	disconnected chan struct{}
	closeOnce    sync.Once
	closeErr     error
	wg           sync.WaitGroup
}

// Dial connects to cfg.ReplicationServer, runs the start handshake and
// starts the session goroutines.
func Dial(ctx context.Context, cfg Config) (*Broker, error) {
	if cfg.ReplicationServer == "" {
		return nil, ErrNoReplicationServer
	}
	cfg = cfg.withDefaults()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", cfg.ReplicationServer)
	if err != nil {
		return nil, fmt.Errorf("broker: dial %s: %w", cfg.ReplicationServer, err)
	}

	opts := session.Options{
		Version:       cfg.ProtocolVersion,
		QueueCapacity: cfg.QueueCapacity,
		MaxFrameSize:  cfg.MaxFrameSize,
		Logger:        cfg.Logger,
	}
	var s *session.Session
	if cfg.TLS != nil {
		if s, err = session.NewClientSession(ctx, conn, cfg.TLS, opts); err != nil {
			return nil, err
		}
	} else {
		s = session.NewPlainSession(conn, opts)
	}

	b, err := newBroker(ctx, cfg, s)
	if err != nil {
		s.Close()
		return nil, err
	}
	return b, nil
}

// DialAny tries each address in turn and returns the first broker whose
// handshake succeeds. A rejection by one server moves on to the next.
func DialAny(ctx context.Context, cfg Config, addrs []string) (*Broker, error) {
	if len(addrs) == 0 {
		return nil, ErrNoReplicationServer
	}
	var errs []error
	for _, addr := range addrs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		c := cfg
		c.ReplicationServer = addr
		b, err := Dial(ctx, c)
		if err == nil {
			return b, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", addr, err))
	}
	return nil, errors.Join(errs...)
}

// newBroker runs the handshake on s and starts the broker.
func newBroker(ctx context.Context, cfg Config, s *session.Session) (*Broker, error) {
	b := &Broker{
		cfg:          cfg,
		session:      s,
		logger:       cfg.Logger.Named("broker").WithFields("server_id", cfg.ServerID, "base_dn", cfg.BaseDN),
		gen:          csn.NewGenerator(uint16(cfg.ServerID)),
		state:        cfg.State,
		acks:         NewAckTracker(cfg.AssuredTimeout),
		monitors:     NewMonitorCache(cfg.MonitorTTL),
		updates:      make(chan protocol.UpdateMsg, cfg.UpdateBuffer),
		routed:       make(chan protocol.Routed, cfg.UpdateBuffer),
		rcvWindow:    flow.NewReceiveWindow(cfg.WindowSize),
		done:         make(chan struct{}),
		disconnected: make(chan struct{}),
	}
	b.generationID.Store(cfg.GenerationID)

	if err := b.handshake(ctx); err != nil {
		b.acks.Close()
		b.monitors.Close()
		return nil, err
	}
	b.start()
	return b, nil
}

func (b *Broker) handshake(ctx context.Context) error {
	s := b.session
	if deadline, ok := ctx.Deadline(); ok {
		d := time.Until(deadline)
		if d <= 0 {
			return context.DeadlineExceeded
		}
		s.SetReadTimeout(d)
	} else {
		s.SetReadTimeout(b.cfg.HandshakeTimeout)
	}
	defer s.SetReadTimeout(0)

	start := &protocol.ServerStartMsg{
		ServerID:          b.cfg.ServerID,
		ServerURL:         b.cfg.ServerURL,
		BaseDN:            b.cfg.BaseDN,
		WindowSize:        b.cfg.WindowSize,
		HeartbeatInterval: b.cfg.HeartbeatInterval.Milliseconds(),
		SSLEncryption:     b.cfg.SSLEncryption,
		State:             b.state.Clone(),
	}
	start.GenerationID = b.cfg.GenerationID
	start.GroupID = b.cfg.GroupID
	if err := s.PublishContext(ctx, start); err != nil {
		return fmt.Errorf("broker: send server start: %w", err)
	}

	msg, err := s.Receive()
	if err != nil {
		return fmt.Errorf("broker: receive replication server start: %w", err)
	}

	var rs *protocol.ReplServerStartMsg
	switch m := msg.(type) {
	case *protocol.ReplServerStartMsg:
		rs = m
	case *protocol.ReplServerStartDSMsg:
		rs = &m.ReplServerStartMsg
		b.rs.Weight = m.Weight
		b.rs.ConnectedDSCount = m.ConnectedDSCount
	case *protocol.ErrorMsg:
		return &RejectedError{ServerID: m.SenderID, Details: m.Details}
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedMessage, msg.Type())
	}

	v := protocol.Compatible(rs.Version())
	s.SetProtocolVersion(v)
	b.rs.ServerID = rs.ServerID
	b.rs.ServerURL = rs.ServerURL
	b.rs.BaseDN = rs.BaseDN
	b.rs.GenerationID = rs.GenerationID
	b.rs.GroupID = rs.GroupID
	b.rs.WindowSize = rs.WindowSize
	b.rs.DegradedThreshold = rs.DegradedThreshold
	b.rs.SSLEncryption = rs.SSLEncryption
	b.rs.State = rs.State

	if !b.cfg.SSLEncryption && !rs.SSLEncryption {
		s.StopEncryption()
	}

	status := protocol.StatusNormal
	if rs.GenerationID != b.cfg.GenerationID {
		b.logger.Warn("generation id mismatch",
			"local", b.cfg.GenerationID, "replication_server", rs.GenerationID)
		status = protocol.StatusBadGenID
	}
	b.status.Store(uint32(status))

	if v >= protocol.V2 {
		startSession := &protocol.StartSessionMsg{
			Status:                status,
			ReferralURLs:          b.cfg.ReferralURLs,
			AssuredMode:           protocol.DefaultAssuredMode,
			SafeDataLevel:         protocol.DefaultSafeDataLevel,
			EclIncludes:           b.cfg.EclIncludes,
			EclIncludesForDeletes: b.cfg.EclIncludesForDeletes,
		}
		if err := s.PublishContext(ctx, startSession); err != nil {
			return fmt.Errorf("broker: send start session: %w", err)
		}
	}

	b.logger.Info("connected to replication server",
		"rs_id", rs.ServerID, "rs_url", rs.ServerURL, "protocol_version", v.String(), "ssl", s.Encrypted())
	return nil
}

func (b *Broker) start() {
	b.sendWindow = flow.NewSendWindow(b.rs.WindowSize)
	b.session.StartSender()

	if b.cfg.HeartbeatInterval > 0 {
		b.hbMonitor = session.NewHeartbeatMonitor(b.session, b.cfg.HeartbeatInterval)
		b.hbMonitor.Start()
		b.ctPublisher = session.NewChangeTimeHeartbeatPublisher(b.session, b.cfg.HeartbeatInterval, b.gen)
		b.ctPublisher.Start()
	}

	b.wg.Add(2)
	go b.receiveLoop()
	go b.expireLoop()
}

// ProtocolVersion returns the negotiated version.
func (b *Broker) ProtocolVersion() protocol.ProtocolVersion {
	return b.session.ProtocolVersion()
}

// ReplServer returns what the replication server announced.
func (b *Broker) ReplServer() ReplServerInfo {
	return b.rs
}

// Encrypted reports whether the session kept TLS after the handshake.
func (b *Broker) Encrypted() bool {
	return b.session.Encrypted()
}

// GenerationID returns the current generation ID.
func (b *Broker) GenerationID() int64 {
	return b.generationID.Load()
}

// Status returns the status last set by the handshake or a ChangeStatusMsg.
func (b *Broker) Status() protocol.ServerStatus {
	return protocol.ServerStatus(b.status.Load())
}

// State returns a copy of the server state.
func (b *Broker) State() *csn.ServerState {
	return b.state.Clone()
}

// NewCSN returns a CSN for a local change.
func (b *Broker) NewCSN() csn.CSN {
	return b.gen.Next()
}

// Updates delivers updates received from the replication server. It is
// closed when the session ends. A consumer must keep draining it; a full
// channel stalls the session.
func (b *Broker) Updates() <-chan protocol.UpdateMsg {
	return b.updates
}

// TotalUpdates delivers the total update messages other directory
// servers address to this one: InitializeRequestMsg, InitializeTargetMsg,
// EntryMsg and DoneMsg. It is closed when the session ends. Messages are
// dropped while the channel is full.
func (b *Broker) TotalUpdates() <-chan protocol.Routed {
	return b.routed
}

// SendTotalUpdate sends a total update message. The replication server
// forwards it to msg's destination.
func (b *Broker) SendTotalUpdate(ctx context.Context, msg protocol.Routed) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}
	return b.session.PublishContext(ctx, msg)
}

// Topology returns the last topology announced by the replication server.
func (b *Broker) Topology() (*protocol.TopologyMsg, bool) {
	t := b.topology.Load()
	return t, t != nil
}

// Disconnected is closed when the session with the replication server
// ended, whatever the reason.
func (b *Broker) Disconnected() <-chan struct{} {
	return b.disconnected
}

// Stats returns a snapshot of the broker counters.
func (b *Broker) Stats() Stats {
	return Stats{
		UpdatesSent:     b.updatesSent.Load(),
		BytesSent:       b.bytesSent.Load(),
		UpdatesReceived: b.updatesReceived.Load(),
		PendingAcks:     b.acks.Len(),
		SendCredit:      b.sendWindow.Credit(),
	}
}

// Publish sends a local update. It waits for send window credit first.
// For assured updates the returned PendingAck resolves when the
// replication server acknowledges the update or AssuredTimeout elapses;
// it is nil otherwise.
func (b *Broker) Publish(ctx context.Context, u protocol.UpdateMsg) (*PendingAck, error) {
	select {
	case <-b.done:
		return nil, ErrClosed
	default:
	}

	if err := b.sendWindow.Acquire(ctx, b.cfg.WindowProbeInterval, b.probeWindow); err != nil {
		if errors.Is(err, flow.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, err
	}

	var pending *PendingAck
	if u.IsAssured() {
		pending = b.acks.Register(u.CSN(), time.Now())
	}
	if err := b.session.PublishContext(ctx, u); err != nil {
		if pending != nil {
			b.acks.Forget(u.CSN())
		}
		return nil, err
	}

	b.state.Update(u.CSN())
	b.updatesSent.Add(1)
	b.bytesSent.Add(int64(u.Size()))
	return pending, nil
}

func (b *Broker) probeWindow() error {
	b.logger.Debug("send window exhausted, probing")
	return b.session.Publish(&protocol.WindowProbeMsg{})
}

// WaitForAck waits for the ack of an assured update published earlier.
func (b *Broker) WaitForAck(ctx context.Context, c csn.CSN) (*protocol.AckMsg, error) {
	return b.acks.Wait(ctx, c)
}

// RequestMonitor asks replication server rsID for its monitoring data and
// waits for the reply, which is also kept in the monitor cache.
func (b *Broker) RequestMonitor(ctx context.Context, rsID int) (*protocol.MonitorMsg, error) {
	if b.ProtocolVersion() < protocol.V2 {
		return nil, ErrNotSupported
	}

	ch := b.monitors.subscribe(rsID)
	req := &protocol.MonitorRequestMsg{Route: protocol.Route{SenderID: b.cfg.ServerID, Destination: rsID}}
	if err := b.session.PublishContext(ctx, req); err != nil {
		b.monitors.unsubscribe(rsID, ch)
		return nil, err
	}

	select {
	case msg := <-ch:
		return msg, nil
	case <-ctx.Done():
		b.monitors.unsubscribe(rsID, ch)
		return nil, ctx.Err()
	case <-b.disconnected:
		b.monitors.unsubscribe(rsID, ch)
		return nil, ErrClosed
	}
}

// ResetGenerationID asks the topology to adopt id as generation ID.
func (b *Broker) ResetGenerationID(ctx context.Context, id int64) error {
	if err := b.session.PublishContext(ctx, &protocol.ResetGenerationIDMsg{GenerationID: id}); err != nil {
		return err
	}
	b.generationID.Store(id)
	return nil
}

// RequestStatus asks the replication server to move this directory server
// to status. Status reflects the change once the server confirms it.
func (b *Broker) RequestStatus(ctx context.Context, status protocol.ServerStatus) error {
	return b.session.PublishContext(ctx, &protocol.ChangeStatusMsg{RequestedStatus: status})
}

// CachedMonitor returns the last monitor reply of rsID still in the cache.
func (b *Broker) CachedMonitor(rsID int) (*protocol.MonitorMsg, bool) {
	return b.monitors.Get(rsID)
}

func (b *Broker) receiveLoop() {
	defer b.wg.Done()
	defer close(b.disconnected)
	defer close(b.updates)
	defer close(b.routed)
	defer b.sendWindow.Close()

	for {
		msg, err := b.session.Receive()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformedMessage) {
				b.logger.Warn("dropping malformed message", "error", err)
				continue
			}
			var ioErr *session.IOError
			if errors.As(err, &ioErr) && ioErr.Timeout() && b.session.Err() == nil {
				continue
			}
			if !b.session.Closing() {
				b.logger.Warn("lost connection to replication server", "error", err)
				b.session.Close()
			}
			return
		}
		if !b.handle(msg) {
			b.session.Close()
			return
		}
	}
}

// handle processes one message and reports whether the session goes on.
func (b *Broker) handle(msg protocol.Msg) bool {
	switch m := msg.(type) {
	case protocol.UpdateMsg:
		return b.deliver(m)

	case *protocol.WindowMsg:
		b.sendWindow.Grant(m.NumAck)

	case *protocol.WindowProbeMsg:
		b.session.Publish(&protocol.WindowMsg{NumAck: b.rcvWindow.Drain()})

	case *protocol.AckMsg:
		if !b.acks.Ack(m) {
			b.logger.Debug("ack for unknown update", "csn", m.CSN.String())
		}

	case *protocol.MonitorMsg:
		b.monitors.Put(m)

	case *protocol.TopologyMsg:
		b.topology.Store(m)
		b.logger.Debug("topology changed", "replicas", len(m.Replicas), "replication_servers", len(m.Servers))

	case *protocol.InitializeRequestMsg, *protocol.InitializeTargetMsg, *protocol.EntryMsg, *protocol.DoneMsg:
		select {
		case b.routed <- m.(protocol.Routed):
		default:
			b.logger.Warn("total update queue full, dropping message", "type", msg.Type().String())
		}

	case *protocol.HeartbeatMsg:

	case *protocol.ChangeTimeHeartbeatMsg:
		b.gen.Adjust(m.CSN)

	case *protocol.ErrorMsg:
		b.logger.Warn("replication server reported an error",
			"rs_id", m.SenderID, "msg_id", m.MsgID, "details", m.Details)

	case *protocol.ResetGenerationIDMsg:
		b.logger.Info("generation id reset", "generation_id", m.GenerationID)
		b.generationID.Store(m.GenerationID)

	case *protocol.ChangeStatusMsg:
		b.logger.Info("status changed", "status", m.NewStatus.String())
		b.status.Store(uint32(m.NewStatus))

	case *protocol.StopMsg:
		b.logger.Info("replication server closed the session")
		return false

	default:
		b.logger.Debug("ignoring message", "type", msg.Type().String())
	}
	return true
}

func (b *Broker) deliver(u protocol.UpdateMsg) bool {
	b.gen.Adjust(u.CSN())
	b.state.Update(u.CSN())
	b.updatesReceived.Add(1)

	select {
	case b.updates <- u:
	case <-b.done:
		return false
	}

	if n := b.rcvWindow.Consumed(); n > 0 {
		b.session.Publish(&protocol.WindowMsg{NumAck: n})
	}
	if u.IsAssured() && u.AssuredMode() == protocol.AssuredSafeRead {
		b.session.Publish(&protocol.AckMsg{CSN: u.CSN()})
	}
	return true
}

func (b *Broker) expireLoop() {
	defer b.wg.Done()

	tick := b.cfg.AssuredTimeout / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case now := <-ticker.C:
			if n := b.acks.Expire(now); n > 0 {
				b.logger.Warn("assured updates timed out", "count", n)
			}
		}
	}
}

// Close ends the session, sending a StopMsg when the protocol has one,
// and waits for the broker goroutines. Pending acks resolve with
// ErrClosed.
func (b *Broker) Close() error {
	b.closeOnce.Do(func() {
		close(b.done)
		b.closeErr = b.session.Close()
		if b.hbMonitor != nil {
			b.hbMonitor.Stop()
		}
		if b.ctPublisher != nil {
			b.ctPublisher.Stop()
		}
		b.wg.Wait()
		b.acks.Close()
		b.monitors.Close()
	})
	return b.closeErr
}
