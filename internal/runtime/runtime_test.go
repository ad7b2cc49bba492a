package runtime

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSpawnRunsOnNamedPool(t *testing.T) {
	rt := New(context.Background(), DefaultConfig())
	defer rt.Close()

	var n atomic.Int32
	for i := 0; i < 5; i++ {
		rt.Spawn(TX, func(ctx context.Context) error {
			n.Add(1)
			return nil
		})
	}
	require.NoError(t, rt.Wait(TX))
	require.EqualValues(t, 5, n.Load())
}

func TestCloseCancelsPoolContext(t *testing.T) {
	rt := New(context.Background(), DefaultConfig())

	started := make(chan struct{})
	done := make(chan error, 1)
	rt.Spawn(RX, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	<-started
	rt.Close()

	go func() { done <- rt.Wait(RX) }()
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("pool did not observe cancellation")
	}
}

func TestPoolString(t *testing.T) {
	require.Equal(t, "tx", TX.String())
	require.Equal(t, "net", Net.String())
}
