package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KilimcininKorOglu/obarepl/internal/logging"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/csn"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/protocol"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/session"
)

// Server is a replication server. Directory servers connect to it, publish
// their updates and receive the updates of the others.
type Server struct {
	cfg    Config
	logger logging.Logger

	listener net.Listener
	state    *csn.ServerState
	assured  *assuredTracker

	generationID atomic.Int64

	mu      sync.RWMutex
	peers   map[int]*peer
	started bool
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a replication server. Start begins accepting connections.
func New(cfg Config) *Server {
	cfg = cfg.withDefaults()
	if cfg.TLS != nil {
		// Tickets sent after the handshake would reach the peer in clear
		// once encryption stops.
		cfg.TLS = cfg.TLS.Clone()
		cfg.TLS.SessionTicketsDisabled = true
	}
	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger.Named("server").WithFields("server_id", cfg.ServerID),
		state:  csn.NewServerState(),
		peers:  make(map[int]*peer),
		done:   make(chan struct{}),
	}
	s.assured = newAssuredTracker(cfg.AssuredTimeout)
	s.generationID.Store(cfg.GenerationID)
	return s
}

// Start listens on the configured address and accepts connections in the
// background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.ListenAddress, err)
	}
	if err := s.Serve(ln); err != nil {
		ln.Close()
		return err
	}
	return nil
}

// Serve accepts connections from ln in the background. The server owns ln
// from now on.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	s.listener = ln
	if s.cfg.ServerURL == "" {
		s.cfg.ServerURL = ln.Addr().String()
	}

	s.wg.Add(2)
	go s.acceptLoop()
	go s.expireLoop()

	s.logger.Info("replication server started", "address", ln.Addr().String(), "base_dn", s.cfg.BaseDN)
	return nil
}

// Addr returns the listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ServerID returns the configured server ID.
func (s *Server) ServerID() int {
	return s.cfg.ServerID
}

// GenerationID returns the current generation ID.
func (s *Server) GenerationID() int64 {
	return s.generationID.Load()
}

// State returns a copy of the newest CSN seen from each server.
func (s *Server) State() *csn.ServerState {
	return s.state.Clone()
}

// PeerInfo describes a connected directory server.
type PeerInfo struct {
	ServerID        int
	ServerURL       string
	GroupID         int8
	GenerationID    int64
	ProtocolVersion protocol.ProtocolVersion
	Status          protocol.ServerStatus
	Encrypted       bool
	State           *csn.ServerState
}

// Topology returns the topology as announced to a directory server that
// is not connected.
func (s *Server) Topology() *protocol.TopologyMsg {
	return s.topologyFor(protocol.UnknownServer)
}

// Peers returns the directory servers that completed the handshake,
// ordered by server ID.
func (s *Server) Peers() []PeerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]PeerInfo, 0, len(s.peers))
	for _, p := range s.peers {
		if p.ready.Load() {
			infos = append(infos, p.info())
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ServerID < infos[j].ServerID })
	return infos
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isClosed() {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.logger.Error("accept failed", "error", err)
			return
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Server) sessionOptions() session.Options {
	return session.Options{
		QueueCapacity: s.cfg.QueueCapacity,
		MaxFrameSize:  s.cfg.MaxFrameSize,
		Logger:        s.cfg.Logger,
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HandshakeTimeout)
	defer cancel()

	var sess *session.Session
	if s.cfg.TLS != nil {
		var err error
		if sess, err = session.NewServerSession(ctx, conn, s.cfg.TLS, s.sessionOptions()); err != nil {
			s.logger.Warn("TLS handshake failed", "remote", conn.RemoteAddr().String(), "error", err)
			return
		}
	} else {
		sess = session.NewPlainSession(conn, s.sessionOptions())
	}

	p, err := s.handshake(ctx, sess)
	if err != nil {
		s.logger.Warn("handshake failed", "remote", sess.RemoteAddr(), "error", err)
		sess.Close()
		return
	}
	defer s.unregister(p)

	p.run()
}

// handshake answers the start message of a directory server and registers
// it.
func (s *Server) handshake(ctx context.Context, sess *session.Session) (*peer, error) {
	sess.SetReadTimeout(s.cfg.HandshakeTimeout)

	msg, err := sess.Receive()
	if err != nil {
		return nil, err
	}
	start, ok := msg.(*protocol.ServerStartMsg)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedMessage, msg.Type())
	}

	v := protocol.Compatible(start.Version())
	sess.SetProtocolVersion(v)

	if start.BaseDN != s.cfg.BaseDN {
		s.reject(ctx, sess, start.ServerID, "base DN "+start.BaseDN+" is not replicated by this server")
		return nil, fmt.Errorf("%w: %s", ErrUnknownBaseDN, start.BaseDN)
	}

	if start.ServerID < 1 || start.ServerID > protocol.MaxServerID {
		s.reject(ctx, sess, start.ServerID, fmt.Sprintf("server ID %d is outside 1..%d", start.ServerID, protocol.MaxServerID))
		return nil, fmt.Errorf("%w: %d", ErrInvalidServerID, start.ServerID)
	}

	p := newPeer(s, sess, start)
	if !s.register(p) {
		s.reject(ctx, sess, start.ServerID, fmt.Sprintf("server ID %d is already connected", start.ServerID))
		return nil, fmt.Errorf("%w: %d", ErrDuplicateServerID, start.ServerID)
	}

	if err := sess.PublishContext(ctx, s.startReply(v)); err != nil {
		s.unregister(p)
		return nil, err
	}

	if !start.SSLEncryption && !s.cfg.SSLEncryption {
		sess.StopEncryption()
	}

	if v >= protocol.V2 {
		msg, err := sess.Receive()
		if err != nil {
			s.unregister(p)
			return nil, err
		}
		ss, ok := msg.(*protocol.StartSessionMsg)
		if !ok {
			s.unregister(p)
			return nil, fmt.Errorf("%w: %s", ErrUnexpectedMessage, msg.Type())
		}
		p.startSession(ss)
	}
	sess.SetReadTimeout(0)

	if p.generationID.Load() != s.GenerationID() {
		p.status.Store(uint32(protocol.StatusBadGenID))
	}

	p.logger.Info("directory server connected",
		"url", start.ServerURL, "protocol_version", v.String(), "ssl", sess.Encrypted(),
		"status", p.Status().String())
	return p, nil
}

func (s *Server) startReply(v protocol.ProtocolVersion) protocol.Msg {
	rs := protocol.ReplServerStartMsg{
		ServerID:          s.cfg.ServerID,
		ServerURL:         s.cfg.ServerURL,
		BaseDN:            s.cfg.BaseDN,
		WindowSize:        s.cfg.WindowSize,
		SSLEncryption:     s.cfg.SSLEncryption,
		DegradedThreshold: s.cfg.DegradedThreshold,
		State:             s.state.Clone(),
	}
	rs.GenerationID = s.GenerationID()
	rs.GroupID = s.cfg.GroupID

	if v < protocol.V4 {
		return &rs
	}
	s.mu.RLock()
	count := len(s.peers) - 1
	s.mu.RUnlock()
	return &protocol.ReplServerStartDSMsg{ReplServerStartMsg: rs, Weight: s.cfg.Weight, ConnectedDSCount: count}
}

func (s *Server) reject(ctx context.Context, sess *session.Session, dest int, details string) {
	msg := &protocol.ErrorMsg{
		Route:        protocol.Route{SenderID: s.cfg.ServerID, Destination: dest},
		Details:      details,
		CreationTime: time.Now().UnixMilli(),
	}
	if err := sess.PublishContext(ctx, msg); err != nil {
		s.logger.Debug("could not send error message", "error", err)
	}
}

func (s *Server) register(p *peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if _, ok := s.peers[p.id]; ok {
		return false
	}
	s.peers[p.id] = p
	return true
}

func (s *Server) unregister(p *peer) {
	s.mu.Lock()
	removed := s.peers[p.id] == p
	if removed {
		delete(s.peers, p.id)
	}
	closed := s.closed
	s.mu.Unlock()
	for _, r := range s.assured.peerGone(p.id) {
		s.sendAck(r)
	}
	if removed && !closed && p.ready.Load() {
		s.broadcastTopology()
	}
}

// route forwards msg to its destination. AllServers reaches every other
// directory server. An unknown destination is answered with an ErrorMsg
// unless msg is itself an error.
func (s *Server) route(from *peer, msg protocol.Routed) {
	dest := msg.Routing().Destination
	if dest == protocol.AllServers {
		for _, o := range s.others(from) {
			o.session.Publish(msg)
		}
		return
	}

	target, ok := s.peer(dest)
	if ok && target != from && target.ready.Load() {
		target.session.Publish(msg)
		return
	}

	from.logger.Warn("cannot route message", "type", msg.Type().String(), "destination", dest)
	if _, isErr := msg.(*protocol.ErrorMsg); isErr {
		return
	}
	from.session.Publish(&protocol.ErrorMsg{
		Route:        protocol.Route{SenderID: s.cfg.ServerID, Destination: from.id},
		Details:      fmt.Sprintf("server %d is not reachable from replication server %d", dest, s.cfg.ServerID),
		CreationTime: time.Now().UnixMilli(),
	})
}

// topologyFor describes the topology as seen by directory server id: the
// other directory servers and this replication server.
func (s *Server) topologyFor(id int) *protocol.TopologyMsg {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg := &protocol.TopologyMsg{
		Servers: []protocol.RSInfo{{
			ServerID:     s.cfg.ServerID,
			GenerationID: s.GenerationID(),
			GroupID:      s.cfg.GroupID,
			Weight:       s.cfg.Weight,
			ServerURL:    s.cfg.ServerURL,
		}},
	}
	for pid, p := range s.peers {
		if pid != id && p.ready.Load() {
			msg.Replicas = append(msg.Replicas, p.dsInfo())
		}
	}
	sort.Slice(msg.Replicas, func(i, j int) bool { return msg.Replicas[i].ServerID < msg.Replicas[j].ServerID })
	return msg
}

// broadcastTopology sends every running directory server its view of the
// topology.
func (s *Server) broadcastTopology() {
	s.mu.RLock()
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		if p.ready.Load() {
			peers = append(peers, p)
		}
	}
	s.mu.RUnlock()

	for _, p := range peers {
		p.session.Publish(s.topologyFor(p.id))
	}
}

// others returns the running peers other than p.
func (s *Server) others(p *peer) []*peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*peer, 0, len(s.peers))
	for id, o := range s.peers {
		if id != p.id && o.ready.Load() {
			out = append(out, o)
		}
	}
	return out
}

func (s *Server) peer(id int) (*peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.peers[id]
	return p, ok
}

// handleUpdate records u, acknowledges it when assured and forwards it to
// every other directory server.
func (s *Server) handleUpdate(origin *peer, u protocol.UpdateMsg) {
	s.state.Update(u.CSN())
	targets := s.others(origin)

	if u.IsAssured() {
		s.assure(origin, u, targets)
	}
	for _, t := range targets {
		t.forward(u)
	}
}

func (s *Server) assure(origin *peer, u protocol.UpdateMsg, targets []*peer) {
	if u.AssuredMode() == protocol.AssuredSafeData {
		// This server holds the change, which satisfies level 1. Higher
		// levels need more replication servers than there are.
		ack := &protocol.AckMsg{CSN: u.CSN(), HasTimeout: u.SafeDataLevel() > 1}
		origin.session.Publish(ack)
		return
	}

	var expected, wrongStatus []int
	for _, t := range targets {
		if t.Status() == protocol.StatusNormal {
			expected = append(expected, t.id)
		} else {
			wrongStatus = append(wrongStatus, t.id)
		}
	}
	if len(expected) == 0 {
		origin.session.Publish(&protocol.AckMsg{
			CSN:            u.CSN(),
			HasWrongStatus: len(wrongStatus) > 0,
			FailedServers:  wrongStatus,
		})
		return
	}
	s.assured.add(u.CSN(), origin.id, expected, wrongStatus, time.Now())
}

// handleAck merges the ack of a directory server into the pending safe
// read wait and answers the origin once every server replied.
func (s *Server) handleAck(from *peer, ack *protocol.AckMsg) {
	if done, ok := s.assured.ack(from.id, ack); ok {
		s.sendAck(done)
	}
}

func (s *Server) sendAck(r assuredResult) {
	origin, ok := s.peer(r.origin)
	if !ok {
		return
	}
	origin.session.Publish(r.ack)
}

func (s *Server) expireLoop() {
	defer s.wg.Done()

	tick := s.cfg.AssuredTimeout / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			for _, r := range s.assured.expire(now) {
				s.sendAck(r)
			}
		}
	}
}

// monitorReply builds the monitoring data sent to directory server dest.
func (s *Server) monitorReply(dest int) *protocol.MonitorMsg {
	rsState := s.state.Clone()
	msg := &protocol.MonitorMsg{
		Route:           protocol.Route{SenderID: s.cfg.ServerID, Destination: dest},
		ReplServerState: rsState,
	}
	for _, info := range s.Peers() {
		msg.Replicas = append(msg.Replicas, protocol.ReplicaInfo{
			Kind:                   protocol.ReplicaDS,
			ServerID:               info.ServerID,
			ApproxFirstMissingDate: firstMissingDate(rsState, info.State),
			State:                  info.State,
		})
	}
	msg.Replicas = append(msg.Replicas, protocol.ReplicaInfo{
		Kind:     protocol.ReplicaRS,
		ServerID: s.cfg.ServerID,
		State:    rsState,
	})
	return msg
}

// firstMissingDate approximates the time of the oldest change known to
// the replication server but not to the replica. Only the newest CSN of
// each server is kept, so the CSN the replica already holds stands in for
// the change that follows it.
func firstMissingDate(rs, replica *csn.ServerState) int64 {
	var oldest int64
	for _, c := range rs.CSNs() {
		have, ok := replica.Get(c.ServerID)
		if ok && !c.NewerThan(have) {
			continue
		}
		ts := c.Timestamp
		if ok {
			ts = have.Timestamp
		}
		if oldest == 0 || ts < oldest {
			oldest = ts
		}
	}
	return oldest
}

// resetGenerationID sets a new generation ID and tells every other peer.
func (s *Server) resetGenerationID(from *peer, id int64) {
	s.generationID.Store(id)
	s.logger.Info("generation id reset", "generation_id", id, "by", from.id)
	from.generationID.Store(id)
	for _, p := range s.others(from) {
		p.generationID.Store(id)
		p.session.Publish(&protocol.ResetGenerationIDMsg{GenerationID: id})
	}
}

// Close stops accepting, closes every session with a StopMsg and waits
// for the connection goroutines.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	close(s.done)
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for _, p := range peers {
		p.close()
	}
	s.wg.Wait()

	s.logger.Info("replication server stopped")
	return err
}
