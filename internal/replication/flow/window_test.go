package flow

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSendWindowAcquire(t *testing.T) {
	w := NewSendWindow(2)
	ctx := context.Background()

	require.NoError(t, w.Acquire(ctx, time.Hour, nil))
	require.NoError(t, w.Acquire(ctx, time.Hour, nil))
	assert.Equal(t, 0, w.Credit())

	done := make(chan error, 1)
	go func() { done <- w.Acquire(ctx, time.Hour, nil) }()

	select {
	case <-done:
		t.Fatal("acquire returned without credit")
	case <-time.After(20 * time.Millisecond):
	}

	w.Grant(3)
	require.NoError(t, <-done)
	assert.Equal(t, 2, w.Credit())
}

func TestSendWindowProbe(t *testing.T) {
	w := NewSendWindow(0)
	var probes atomic.Int32

	done := make(chan error, 1)
	go func() {
		done <- w.Acquire(context.Background(), 5*time.Millisecond, func() error {
			if probes.Add(1) == 3 {
				w.Grant(1)
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("acquire did not return")
	}
	assert.Equal(t, int32(3), probes.Load())
}

func TestSendWindowCancelAndClose(t *testing.T) {
	w := NewSendWindow(0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Acquire(ctx, time.Hour, nil), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- w.Acquire(context.Background(), time.Hour, nil) }()
	time.Sleep(10 * time.Millisecond)
	w.Close()
	assert.ErrorIs(t, <-done, ErrClosed)

	w.Grant(5)
	assert.ErrorIs(t, w.Acquire(context.Background(), time.Hour, nil), ErrClosed)
}

func TestReceiveWindow(t *testing.T) {
	w := NewReceiveWindow(10)
	for i := 0; i < 4; i++ {
		assert.Zero(t, w.Consumed())
	}
	assert.Equal(t, 5, w.Consumed())
	assert.Zero(t, w.Consumed())
	assert.Equal(t, 1, w.Drain())
	assert.Zero(t, w.Drain())

	tiny := NewReceiveWindow(1)
	assert.Equal(t, 1, tiny.Consumed())
}
