package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KilimcininKorOglu/obarepl/internal/logging"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/csn"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/flow"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/protocol"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/session"
)

const windowProbeInterval = time.Second

// peer is a connected directory server.
type peer struct {
	id     int
	server *Server
	logger logging.Logger

	session *session.Session

	url          string
	groupID      int8
	referralURLs []string

	// Assured settings and ECL attributes announced in StartSession.
	assured               bool
	assuredMode           protocol.AssuredMode
	safeDataLevel         byte
	eclIncludes           []string
	eclIncludesForDeletes []string

	// heartbeatInterval is what the directory server asked for. It also
	// sends change time heartbeats at that pace, so silence for longer
	// means it is gone.
	heartbeatInterval time.Duration

	generationID atomic.Int64
	status       atomic.Uint32
	state        *csn.ServerState

	sendWindow *flow.SendWindow
	rcvWindow  *flow.ReceiveWindow

	out      chan protocol.UpdateMsg
	degraded atomic.Bool

	// ready is set once the handshake is over and the sender runs.
	ready atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newPeer(s *Server, sess *session.Session, start *protocol.ServerStartMsg) *peer {
	state := start.State
	if state == nil {
		state = csn.NewServerState()
	}
	state = state.Clone()

	ctx, cancel := context.WithCancel(context.Background())
	p := &peer{
		id:                start.ServerID,
		server:            s,
		logger:            s.logger.WithFields("ds_id", start.ServerID, "session_id", sess.ID()),
		session:           sess,
		url:               start.ServerURL,
		groupID:           start.GroupID,
		heartbeatInterval: time.Duration(start.HeartbeatInterval) * time.Millisecond,
		state:             state,
		sendWindow:        flow.NewSendWindow(start.WindowSize),
		rcvWindow:         flow.NewReceiveWindow(s.cfg.WindowSize),
		out:               make(chan protocol.UpdateMsg, s.cfg.ForwardQueue),
		ctx:               ctx,
		cancel:            cancel,
	}
	p.generationID.Store(start.GenerationID)
	p.status.Store(uint32(protocol.StatusNormal))
	return p
}

func (p *peer) startSession(ss *protocol.StartSessionMsg) {
	if ss.Status.Valid() && ss.Status != protocol.StatusInvalid {
		p.status.Store(uint32(ss.Status))
	}
	p.referralURLs = ss.ReferralURLs
	p.assured = ss.Assured
	p.assuredMode = ss.AssuredMode
	p.safeDataLevel = ss.SafeDataLevel
	p.eclIncludes = ss.EclIncludes
	p.eclIncludesForDeletes = ss.EclIncludesForDeletes
}

// dsInfo describes the peer in a TopologyMsg.
func (p *peer) dsInfo() protocol.DSInfo {
	return protocol.DSInfo{
		ServerID:              p.id,
		ServerURL:             p.url,
		RSID:                  p.server.cfg.ServerID,
		GenerationID:          p.generationID.Load(),
		Status:                p.Status(),
		Assured:               p.assured,
		AssuredMode:           p.assuredMode,
		SafeDataLevel:         p.safeDataLevel,
		GroupID:               p.groupID,
		ReferralURLs:          p.referralURLs,
		EclIncludes:           p.eclIncludes,
		EclIncludesForDeletes: p.eclIncludesForDeletes,
		ProtocolVersion:       p.session.ProtocolVersion(),
	}
}

// Status returns the status of the directory server.
func (p *peer) Status() protocol.ServerStatus {
	return protocol.ServerStatus(p.status.Load())
}

func (p *peer) info() PeerInfo {
	return PeerInfo{
		ServerID:        p.id,
		ServerURL:       p.url,
		GroupID:         p.groupID,
		GenerationID:    p.generationID.Load(),
		ProtocolVersion: p.session.ProtocolVersion(),
		Status:          p.Status(),
		Encrypted:       p.session.Encrypted(),
		State:           p.state.Clone(),
	}
}

// run serves the peer until the session ends.
func (p *peer) run() {
	p.session.StartSender()
	p.ready.Store(true)
	p.server.broadcastTopology()

	var (
		publisher *session.HeartbeatPublisher
		monitor   *session.HeartbeatMonitor
	)
	interval := p.heartbeatInterval
	if interval <= 0 {
		interval = p.server.cfg.HeartbeatInterval
	}
	if interval > 0 {
		publisher = session.NewHeartbeatPublisher(p.session, interval)
		publisher.Start()
	}
	if p.heartbeatInterval > 0 {
		monitor = session.NewHeartbeatMonitor(p.session, p.heartbeatInterval)
		monitor.Start()
	}

	p.wg.Add(1)
	go p.forwardLoop()

	p.receiveLoop()

	p.cancel()
	p.session.Close()
	if publisher != nil {
		publisher.Stop()
	}
	if monitor != nil {
		monitor.Stop()
	}
	p.wg.Wait()

	p.logger.Info("directory server disconnected", "error", p.session.Err())
}

func (p *peer) close() {
	p.cancel()
	p.session.Close()
}

// forward queues u for the directory server. A full queue drops the
// update and degrades the peer.
func (p *peer) forward(u protocol.UpdateMsg) {
	select {
	case p.out <- u:
	default:
		p.logger.Warn("forward queue full, dropping update", "csn", u.CSN().String())
		p.setDegraded(true)
	}
}

func (p *peer) setDegraded(degraded bool) {
	if p.degraded.Swap(degraded) == degraded {
		return
	}
	from, to := protocol.StatusNormal, protocol.StatusDegraded
	if !degraded {
		from, to = to, from
	}
	if !p.status.CompareAndSwap(uint32(from), uint32(to)) {
		return
	}
	p.logger.Info("status changed", "status", to.String())
	p.session.Publish(&protocol.ChangeStatusMsg{NewStatus: to})
}

func (p *peer) forwardLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case u := <-p.out:
			if err := p.sendWindow.Acquire(p.ctx, windowProbeInterval, p.probeWindow); err != nil {
				return
			}
			if err := p.session.Publish(u); err != nil {
				return
			}
			if len(p.out) == 0 && p.degraded.Load() {
				p.setDegraded(false)
			}
		}
	}
}

func (p *peer) probeWindow() error {
	return p.session.Publish(&protocol.WindowProbeMsg{})
}

func (p *peer) receiveLoop() {
	defer p.sendWindow.Close()

	for {
		msg, err := p.session.Receive()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformedMessage) {
				p.logger.Warn("dropping malformed message", "error", err)
				continue
			}
			var ioErr *session.IOError
			if errors.As(err, &ioErr) && ioErr.Timeout() && p.session.Err() == nil {
				continue
			}
			if !p.session.Closing() {
				p.logger.Warn("lost connection to directory server", "error", err)
			}
			return
		}
		if !p.handle(msg) {
			return
		}
	}
}

// handle processes one message and reports whether the session goes on.
func (p *peer) handle(msg protocol.Msg) bool {
	switch m := msg.(type) {
	case protocol.UpdateMsg:
		p.state.Update(m.CSN())
		p.server.handleUpdate(p, m)
		if n := p.rcvWindow.Consumed(); n > 0 {
			p.session.Publish(&protocol.WindowMsg{NumAck: n})
		}

	case *protocol.WindowMsg:
		p.sendWindow.Grant(m.NumAck)

	case *protocol.WindowProbeMsg:
		p.session.Publish(&protocol.WindowMsg{NumAck: p.rcvWindow.Drain()})

	case *protocol.AckMsg:
		p.server.handleAck(p, m)

	case *protocol.MonitorRequestMsg:
		if m.Destination != p.server.cfg.ServerID {
			p.server.route(p, m)
			break
		}
		p.session.Publish(p.server.monitorReply(m.SenderID))

	case *protocol.HeartbeatMsg:

	case *protocol.ChangeTimeHeartbeatMsg:
		for _, o := range p.server.others(p) {
			o.session.Publish(m)
		}

	case *protocol.ChangeStatusMsg:
		p.status.Store(uint32(m.RequestedStatus))
		p.logger.Info("status changed", "status", m.RequestedStatus.String())
		p.session.Publish(&protocol.ChangeStatusMsg{NewStatus: m.RequestedStatus})
		p.server.broadcastTopology()

	case *protocol.ResetGenerationIDMsg:
		p.server.resetGenerationID(p, m.GenerationID)

	case *protocol.ErrorMsg:
		if m.Destination != p.server.cfg.ServerID {
			p.server.route(p, m)
			break
		}
		p.logger.Warn("directory server reported an error", "msg_id", m.MsgID, "details", m.Details)

	case protocol.Routed:
		p.server.route(p, m)

	case *protocol.StopMsg:
		p.logger.Info("directory server closed the session")
		return false

	default:
		p.logger.Debug("ignoring message", "type", msg.Type().String())
	}
	return true
}
