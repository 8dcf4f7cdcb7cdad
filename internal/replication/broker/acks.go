package broker

import (
	"context"
	"sync"
	"time"

	"github.com/ReneKroon/ttlcache"
	"github.com/wangjia184/sortedset"

	"github.com/KilimcininKorOglu/obarepl/internal/replication/csn"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/protocol"
)

// PendingAck is an assured update waiting for its acknowledgement.
type PendingAck struct {
	CSN      csn.CSN
	Deadline time.Time

	done chan struct{}
	ack  *protocol.AckMsg
}

// Done is closed once the ack arrived, timed out or the tracker closed.
func (p *PendingAck) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the ack is resolved. A nil ack with a nil error
// cannot happen: a closed tracker yields ErrClosed.
func (p *PendingAck) Wait(ctx context.Context) (*protocol.AckMsg, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
	}
	if p.ack == nil {
		return nil, ErrClosed
	}
	return p.ack, nil
}

// AckTracker keeps assured updates ordered by deadline until the
// replication server acknowledges them. Resolved acks are remembered for
// a while so a late WaitForAck still sees them.
type AckTracker struct {
	mu       sync.Mutex
	pending  *sortedset.SortedSet // key: CSN, score: deadline
	resolved *ttlcache.Cache
	timeout  time.Duration
	closed   bool
}

// NewAckTracker creates a tracker timing out acks after timeout.
func NewAckTracker(timeout time.Duration) *AckTracker {
	resolved := ttlcache.NewCache()
	resolved.SetTTL(2 * timeout)
	resolved.SkipTtlExtensionOnHit(true)
	return &AckTracker{
		pending:  sortedset.New(),
		resolved: resolved,
		timeout:  timeout,
	}
}

// Register starts tracking c. It returns the existing entry when c is
// already pending.
func (t *AckTracker) Register(c csn.CSN, now time.Time) *PendingAck {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := c.String()
	if node := t.pending.GetByKey(key); node != nil {
		return node.Value.(*PendingAck)
	}

	p := &PendingAck{CSN: c, Deadline: now.Add(t.timeout), done: make(chan struct{})}
	if t.closed {
		close(p.done)
		return p
	}
	t.pending.AddOrUpdate(key, sortedset.SCORE(p.Deadline.UnixNano()), p)
	return p
}

// Forget stops tracking c without resolving waiters. Used when the update
// could not be sent.
func (t *AckTracker) Forget(c csn.CSN) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if node := t.pending.Remove(c.String()); node != nil {
		close(node.Value.(*PendingAck).done)
	}
}

// Ack resolves the update acknowledged by msg. It reports whether the
// update was pending.
func (t *AckTracker) Ack(msg *protocol.AckMsg) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resolveLocked(msg.CSN.String(), msg)
}

func (t *AckTracker) resolveLocked(key string, msg *protocol.AckMsg) bool {
	node := t.pending.Remove(key)
	if node == nil {
		return false
	}
	p := node.Value.(*PendingAck)
	p.ack = msg
	close(p.done)
	t.resolved.Set(key, msg)
	return true
}

// Expire resolves every update whose deadline is not after now with a
// timeout ack and returns how many expired.
func (t *AckTracker) Expire(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for {
		node := t.pending.PeekMin()
		if node == nil || int64(node.Score()) > now.UnixNano() {
			return n
		}
		p := node.Value.(*PendingAck)
		t.resolveLocked(node.Key(), &protocol.AckMsg{CSN: p.CSN, HasTimeout: true})
		n++
	}
}

// NextDeadline returns the earliest pending deadline.
func (t *AckTracker) NextDeadline() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	node := t.pending.PeekMin()
	if node == nil {
		return time.Time{}, false
	}
	return time.Unix(0, int64(node.Score())), true
}

// Len returns the number of pending acks.
func (t *AckTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending.GetCount()
}

// Wait returns the ack of c, waiting while it is pending.
func (t *AckTracker) Wait(ctx context.Context, c csn.CSN) (*protocol.AckMsg, error) {
	key := c.String()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	if v, ok := t.resolved.Get(key); ok {
		t.mu.Unlock()
		return v.(*protocol.AckMsg), nil
	}
	node := t.pending.GetByKey(key)
	t.mu.Unlock()

	if node == nil {
		return nil, ErrNotAssured
	}
	return node.Value.(*PendingAck).Wait(ctx)
}

// Close wakes every waiter with ErrClosed and releases the cache.
func (t *AckTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for {
		node := t.pending.PeekMin()
		if node == nil {
			break
		}
		t.pending.Remove(node.Key())
		close(node.Value.(*PendingAck).done)
	}
	t.resolved.Close()
}
