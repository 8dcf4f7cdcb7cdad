package server

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/wangjia184/sortedset"

	"github.com/KilimcininKorOglu/obarepl/internal/replication/csn"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/protocol"
)

// safeReadWait is a safe read update waiting for the other directory
// servers to replay it.
type safeReadWait struct {
	csn      csn.CSN
	origin   int
	expected map[int]struct{}

	wrongStatus bool
	replayError bool
	failed      []int
}

func (w *safeReadWait) result(timeout bool) assuredResult {
	failed := append([]int(nil), w.failed...)
	if timeout {
		for id := range w.expected {
			failed = append(failed, id)
		}
	}
	sort.Ints(failed)
	return assuredResult{
		origin: w.origin,
		ack: &protocol.AckMsg{
			CSN:            w.csn,
			HasTimeout:     timeout,
			HasWrongStatus: w.wrongStatus,
			HasReplayError: w.replayError,
			FailedServers:  failed,
		},
	}
}

// assuredResult is the ack owed to the origin of a safe read update.
type assuredResult struct {
	origin int
	ack    *protocol.AckMsg
}

// assuredTracker orders pending safe read updates by deadline.
type assuredTracker struct {
	mu      sync.Mutex
	pending *sortedset.SortedSet // key: CSN, score: deadline
	timeout time.Duration
}

func newAssuredTracker(timeout time.Duration) *assuredTracker {
	return &assuredTracker{pending: sortedset.New(), timeout: timeout}
}

// add waits for acks from expected. Servers in wrongStatus are reported
// as failed right away.
func (t *assuredTracker) add(c csn.CSN, origin int, expected, wrongStatus []int, now time.Time) {
	w := &safeReadWait{
		csn:         c,
		origin:      origin,
		expected:    make(map[int]struct{}, len(expected)),
		wrongStatus: len(wrongStatus) > 0,
		failed:      append([]int(nil), wrongStatus...),
	}
	for _, id := range expected {
		w.expected[id] = struct{}{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending.AddOrUpdate(c.String(), sortedset.SCORE(now.Add(t.timeout).UnixNano()), w)
}

// ack records the ack of server from. It returns the ack for the origin
// once no other server is expected.
func (t *assuredTracker) ack(from int, msg *protocol.AckMsg) (assuredResult, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := msg.CSN.String()
	node := t.pending.GetByKey(key)
	if node == nil {
		return assuredResult{}, false
	}
	w := node.Value.(*safeReadWait)
	if _, ok := w.expected[from]; !ok {
		return assuredResult{}, false
	}
	delete(w.expected, from)

	if msg.HasWrongStatus {
		w.wrongStatus = true
	}
	if msg.HasReplayError {
		w.replayError = true
	}
	if msg.Failed() {
		w.failed = append(w.failed, from)
	}

	if len(w.expected) > 0 {
		return assuredResult{}, false
	}
	t.pending.Remove(key)
	return w.result(false), true
}

// expire returns a timeout ack for every wait whose deadline is not after
// now.
func (t *assuredTracker) expire(now time.Time) []assuredResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []assuredResult
	for {
		node := t.pending.PeekMin()
		if node == nil || int64(node.Score()) > now.UnixNano() {
			return out
		}
		t.pending.Remove(node.Key())
		out = append(out, node.Value.(*safeReadWait).result(true))
	}
}

// peerGone stops waiting for server id. Waits that need nobody else
// complete with id reported as failed. Waits originated by id are dropped.
func (t *assuredTracker) peerGone(id int) []assuredResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []assuredResult
	nodes := t.pending.GetByScoreRange(math.MinInt64, math.MaxInt64, nil)
	for _, node := range nodes {
		w := node.Value.(*safeReadWait)
		if w.origin == id {
			t.pending.Remove(node.Key())
			continue
		}
		if _, ok := w.expected[id]; !ok {
			continue
		}
		delete(w.expected, id)
		w.wrongStatus = true
		w.failed = append(w.failed, id)
		if len(w.expected) == 0 {
			t.pending.Remove(node.Key())
			out = append(out, w.result(false))
		}
	}
	return out
}

func (t *assuredTracker) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending.GetCount()
}
