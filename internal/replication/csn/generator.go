package csn

import (
	"sync"
	"time"
)

// Generator hands out strictly increasing CSNs for one server.
type Generator struct {
	mu       sync.Mutex
	serverID uint16
	last     CSN
	now      func() time.Time
}

// NewGenerator returns a generator for serverID.
func NewGenerator(serverID uint16) *Generator {
	return &Generator{serverID: serverID, now: time.Now}
}

// Next returns a CSN newer than every CSN returned before and every CSN
// passed to Adjust.
func (g *Generator) Next() CSN {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.now().UnixMilli()
	if ts > g.last.Timestamp {
		g.last = CSN{Timestamp: ts, ServerID: g.serverID}
		return g.last
	}
	g.last.SeqNum++
	if g.last.SeqNum == 0 {
		g.last.Timestamp++
	}
	g.last.ServerID = g.serverID
	return g.last
}

// Adjust moves the clock forward so later CSNs sort after seen.
func (g *Generator) Adjust(seen CSN) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.last.NewerThan(seen) {
		g.last = CSN{Timestamp: seen.Timestamp + 1, ServerID: g.serverID}
	}
}
