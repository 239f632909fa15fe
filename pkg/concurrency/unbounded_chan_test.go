package concurrency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const defaultUnboundedChanTestTimeout = 10 * time.Second

// Ensures that writes never block even when nothing is reading.
func TestUnboundedChanBuffersWithoutReader(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), defaultUnboundedChanTestTimeout)
	defer cancel()

	ch := NewUnboundedChan[int](ctx)

	const count = 1000
	for i := 0; i < count; i++ {
		ch.In <- i
	}
	close(ch.In)

	for i := 0; i < count; i++ {
		select {
		case v, open := <-ch.Out:
			require.True(t, open)
			require.Equal(t, i, v, "values must arrive in write order")
		case <-ctx.Done():
			t.Fatal("timed out reading buffered values")
		}
	}

	_, open := <-ch.Out
	require.False(t, open, "Out must be closed after In is closed and the buffer is drained")
}

func TestUnboundedChanInterleavedReadersAndWriters(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), defaultUnboundedChanTestTimeout)
	defer cancel()

	ch := NewUnboundedChanBuffered[int](ctx, 1, 1)

	const count = 500
	go func() {
		for i := 0; i < count; i++ {
			ch.In <- i
		}
		close(ch.In)
	}()

	received := 0
	for range ch.Out {
		received++
	}
	require.Equal(t, count, received)
}

func TestUnboundedChanContextCancellationClosesOut(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	ch := NewUnboundedChan[int](ctx)

	ch.In <- 1
	cancel()

	deadline := time.After(defaultUnboundedChanTestTimeout)
	for {
		select {
		case _, open := <-ch.Out:
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("Out was not closed after context cancellation")
		}
	}
}
