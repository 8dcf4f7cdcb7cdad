package session

import (
	"sync"
	"time"

	"github.com/KilimcininKorOglu/obarepl/internal/replication/csn"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/protocol"
)

// MissedHeartbeats is the number of heartbeat intervals of silence after
// which a HeartbeatMonitor gives up on the peer.
const MissedHeartbeats = 3

// HeartbeatMonitor closes a session whose peer stopped sending.
type HeartbeatMonitor struct {
	session  *Session
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewHeartbeatMonitor creates a monitor checking s every interval.
func NewHeartbeatMonitor(s *Session, interval time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		session:  s,
		interval: interval,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the monitor goroutine.
func (m *HeartbeatMonitor) Start() {
	go m.run()
}

// Stop halts the monitor and waits for it to exit.
func (m *HeartbeatMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.done
}

func (m *HeartbeatMonitor) run() {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	limit := MissedHeartbeats * m.interval
	for {
		select {
		case <-m.stopCh:
			return
		case <-m.session.Done():
			return
		case <-ticker.C:
			silent := time.Since(m.session.LastReceiveTime())
			if silent < limit {
				continue
			}
			m.session.logger.Warn("no message received from peer, closing session",
				"silent_for", silent.String(), "interval", m.interval.String())
			m.session.fail("heartbeat", ErrHeartbeatTimeout)
			m.session.Close()
			return
		}
	}
}

// HeartbeatPublisher keeps a session alive by publishing a message
// whenever nothing else was published for one interval.
type HeartbeatPublisher struct {
	session  *Session
	interval time.Duration
	newMsg   func() protocol.Msg
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewHeartbeatPublisher creates a publisher sending HeartbeatMsg.
func NewHeartbeatPublisher(s *Session, interval time.Duration) *HeartbeatPublisher {
	return newPublisher(s, interval, func() protocol.Msg { return &protocol.HeartbeatMsg{} })
}

// NewChangeTimeHeartbeatPublisher creates a publisher sending
// ChangeTimeHeartbeatMsg carrying a fresh CSN from gen, so that the peer
// can tell this server's clock is moving even without updates.
func NewChangeTimeHeartbeatPublisher(s *Session, interval time.Duration, gen *csn.Generator) *HeartbeatPublisher {
	return newPublisher(s, interval, func() protocol.Msg {
		return &protocol.ChangeTimeHeartbeatMsg{CSN: gen.Next()}
	})
}

func newPublisher(s *Session, interval time.Duration, newMsg func() protocol.Msg) *HeartbeatPublisher {
	return &HeartbeatPublisher{
		session:  s,
		interval: interval,
		newMsg:   newMsg,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the publisher goroutine.
func (p *HeartbeatPublisher) Start() {
	go p.run()
}

// Stop halts the publisher and waits for it to exit.
func (p *HeartbeatPublisher) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	<-p.done
}

func (p *HeartbeatPublisher) run() {
	defer close(p.done)

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-p.session.Done():
			return
		case <-timer.C:
		}

		wait := time.Until(p.session.LastPublishTime().Add(p.interval))
		if wait <= 0 {
			if err := p.session.Publish(p.newMsg()); err != nil {
				p.session.logger.Debug("heartbeat publisher stopped", "error", err)
				return
			}
			wait = p.interval
		}
		timer.Reset(wait)
	}
}
