package csn

import (
	"sort"
	"strings"
	"sync"
)

// ServerState maps each server ID to the newest CSN seen from it.
// It is safe for concurrent use.
type ServerState struct {
	mu   sync.RWMutex
	csns map[uint16]CSN
}

// NewServerState returns an empty state.
func NewServerState() *ServerState {
	return &ServerState{csns: make(map[uint16]CSN)}
}

// Update records c if it is newer than the CSN held for c.ServerID and
// reports whether the state advanced.
func (s *ServerState) Update(c CSN) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.csns[c.ServerID]; ok && !c.NewerThan(cur) {
		return false
	}
	s.csns[c.ServerID] = c
	return true
}

// UpdateState merges every CSN of other into s and reports whether any
// entry advanced.
func (s *ServerState) UpdateState(other *ServerState) bool {
	advanced := false
	for _, c := range other.CSNs() {
		if s.Update(c) {
			advanced = true
		}
	}
	return advanced
}

// Get returns the CSN held for serverID.
func (s *ServerState) Get(serverID uint16) (CSN, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.csns[serverID]
	return c, ok
}

// Remove drops the entry for serverID.
func (s *ServerState) Remove(serverID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.csns, serverID)
}

// Len returns the number of servers tracked.
func (s *ServerState) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.csns)
}

// ServerIDs returns the tracked server IDs in ascending order.
func (s *ServerState) ServerIDs() []uint16 {
	s.mu.RLock()
	ids := make([]uint16, 0, len(s.csns))
	for id := range s.csns {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// CSNs returns the held CSNs ordered by server ID.
func (s *ServerState) CSNs() []CSN {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]CSN, 0, len(s.csns))
	for _, c := range s.csns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out
}

// Cover reports whether s already holds c or something newer from the
// same server.
func (s *ServerState) Cover(c CSN) bool {
	cur, ok := s.Get(c.ServerID)
	return ok && !c.NewerThan(cur)
}

// Clone returns an independent copy.
func (s *ServerState) Clone() *ServerState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clone := &ServerState{csns: make(map[uint16]CSN, len(s.csns))}
	for id, c := range s.csns {
		clone.csns[id] = c
	}
	return clone
}

// Equal reports whether both states hold the same CSNs.
func (s *ServerState) Equal(other *ServerState) bool {
	a, b := s.CSNs(), other.CSNs()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// String returns the CSNs separated by spaces, ordered by server ID.
func (s *ServerState) String() string {
	csns := s.CSNs()
	parts := make([]string, len(csns))
	for i, c := range csns {
		parts[i] = c.String()
	}
	return strings.Join(parts, " ")
}
