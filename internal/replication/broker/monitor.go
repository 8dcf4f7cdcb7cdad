package broker

import (
	"strconv"
	"sync"
	"time"

	"github.com/ReneKroon/ttlcache"

	"github.com/KilimcininKorOglu/obarepl/internal/replication/protocol"
)

// DefaultMonitorTTL is how long a monitor reply stays cached.
const DefaultMonitorTTL = 30 * time.Second

// MonitorCache keeps the latest MonitorMsg received from each replication
// server and wakes callers waiting for a fresh one.
type MonitorCache struct {
	cache *ttlcache.Cache

	mu      sync.Mutex
	waiters map[int][]chan *protocol.MonitorMsg
}

// NewMonitorCache creates a cache expiring entries after ttl.
func NewMonitorCache(ttl time.Duration) *MonitorCache {
	if ttl <= 0 {
		ttl = DefaultMonitorTTL
	}
	c := ttlcache.NewCache()
	c.SetTTL(ttl)
	c.SkipTtlExtensionOnHit(true)
	return &MonitorCache{
		cache:   c,
		waiters: make(map[int][]chan *protocol.MonitorMsg),
	}
}

func monitorKey(serverID int) string {
	return strconv.Itoa(serverID)
}

// Put stores msg under its sender and hands it to waiters.
func (m *MonitorCache) Put(msg *protocol.MonitorMsg) {
	id := msg.SenderID
	m.cache.Set(monitorKey(id), msg)

	m.mu.Lock()
	waiters := m.waiters[id]
	delete(m.waiters, id)
	m.mu.Unlock()

	for _, ch := range waiters {
		ch <- msg
	}
}

// Get returns the cached reply of serverID.
func (m *MonitorCache) Get(serverID int) (*protocol.MonitorMsg, bool) {
	v, ok := m.cache.Get(monitorKey(serverID))
	if !ok {
		return nil, false
	}
	return v.(*protocol.MonitorMsg), true
}

// Count returns the number of cached replies.
func (m *MonitorCache) Count() int {
	return m.cache.Count()
}

// subscribe registers interest in the next reply of serverID. It must be
// called before the request is sent.
func (m *MonitorCache) subscribe(serverID int) chan *protocol.MonitorMsg {
	ch := make(chan *protocol.MonitorMsg, 1)
	m.mu.Lock()
	m.waiters[serverID] = append(m.waiters[serverID], ch)
	m.mu.Unlock()
	return ch
}

func (m *MonitorCache) unsubscribe(serverID int, ch chan *protocol.MonitorMsg) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.waiters[serverID]
	for i, c := range list {
		if c == ch {
			m.waiters[serverID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(m.waiters[serverID]) == 0 {
		delete(m.waiters, serverID)
	}
}

// Close releases the cache.
func (m *MonitorCache) Close() {
	m.cache.Close()
}
