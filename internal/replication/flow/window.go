// Package flow implements the update window used for replication flow
// control. A receiver announces a window size in its start message; the
// sender may have that many updates in flight and the receiver hands the
// credit back with WindowMsg once it consumed half of it.
package flow

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Acquire once the window is closed.
var ErrClosed = errors.New("flow: window closed")

// SendWindow tracks the credit the peer granted us.
type SendWindow struct {
	mu     sync.Mutex
	credit int
	closed bool
	signal chan struct{}
}

// NewSendWindow creates a window holding initial credit.
func NewSendWindow(initial int) *SendWindow {
	return &SendWindow{credit: initial, signal: make(chan struct{})}
}

// Credit returns the number of updates that may still be sent.
func (w *SendWindow) Credit() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.credit
}

// Grant adds n to the credit and wakes blocked senders.
func (w *SendWindow) Grant(n int) {
	if n <= 0 {
		return
	}
	w.mu.Lock()
	w.credit += n
	w.broadcast()
	w.mu.Unlock()
}

// Close wakes every blocked sender with ErrClosed.
func (w *SendWindow) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		w.broadcast()
	}
	w.mu.Unlock()
}

// broadcast must be called with mu held.
func (w *SendWindow) broadcast() {
	close(w.signal)
	w.signal = make(chan struct{})
}

// Acquire takes one unit of credit. While none is available it waits;
// each time probeAfter elapses without credit, probe is called so the peer
// can resend a lost WindowMsg.
func (w *SendWindow) Acquire(ctx context.Context, probeAfter time.Duration, probe func() error) error {
	for {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return ErrClosed
		}
		if w.credit > 0 {
			w.credit--
			w.mu.Unlock()
			return nil
		}
		signal := w.signal
		w.mu.Unlock()

		timer := time.NewTimer(probeAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-signal:
			timer.Stop()
		case <-timer.C:
			if probe != nil {
				if err := probe(); err != nil {
					return err
				}
			}
		}
	}
}

// ReceiveWindow counts updates consumed since credit was last handed back.
type ReceiveWindow struct {
	mu      sync.Mutex
	size    int
	pending int
}

// NewReceiveWindow creates a window of the announced size.
func NewReceiveWindow(size int) *ReceiveWindow {
	return &ReceiveWindow{size: size}
}

// Size returns the announced window size.
func (w *ReceiveWindow) Size() int {
	return w.size
}

// Consumed records one consumed update. When half the window has been
// consumed it returns the credit to hand back, zero otherwise.
func (w *ReceiveWindow) Consumed() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending++
	threshold := w.size / 2
	if threshold < 1 {
		threshold = 1
	}
	if w.pending < threshold {
		return 0
	}
	n := w.pending
	w.pending = 0
	return n
}

// Drain returns all credit not yet handed back. It answers a WindowProbe.
func (w *ReceiveWindow) Drain() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.pending
	w.pending = 0
	return n
}
