package ufx

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ufxgate/internal/gateway"
)

func TestDispatcherDeliversInOrder(t *testing.T) {
	var (
		mu  sync.Mutex
		got []uint64
	)
	d := newDispatcher(gateway.PublisherFunc(func(e gateway.Event) {
		mu.Lock()
		got = append(got, e.Order.LocalID)
		mu.Unlock()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.run(ctx)
		close(done)
	}()

	const n = 500
	for i := 1; i <= n; i++ {
		d.enqueue(gateway.NewOrderEvent(gateway.Order{LocalID: uint64(i)}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == n
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	for i, id := range got {
		assert.Equal(t, uint64(i+1), id)
	}
	mu.Unlock()

	cancel()
	<-done
}

func TestDispatcherFlushesOnShutdown(t *testing.T) {
	var (
		mu    sync.Mutex
		count int
	)
	d := newDispatcher(gateway.PublisherFunc(func(gateway.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	}))

	for i := 0; i < 10; i++ {
		d.enqueue(gateway.NewOrderEvent(gateway.Order{LocalID: uint64(i)}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	mu.Lock()
	assert.Equal(t, 10, count, "buffered events must be flushed before exit")
	mu.Unlock()
}

func TestDispatcherSurvivesPanickingPublisher(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	d := newDispatcher(gateway.PublisherFunc(func(gateway.Event) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			panic("consumer bug")
		}
	}))

	d.enqueue(gateway.NewOrderEvent(gateway.Order{LocalID: 1}))
	d.enqueue(gateway.NewOrderEvent(gateway.Order{LocalID: 2}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = d.run(ctx)

	mu.Lock()
	assert.Equal(t, 2, calls)
	mu.Unlock()
}
