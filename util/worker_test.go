package util

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkerDrainsOnStop(t *testing.T) {
	var (
		wg      sync.WaitGroup
		handled atomic.Int32
	)
	w := NewWorker[int]("test", &wg, func(n int) error {
		handled.Add(1)
		if n%2 == 0 {
			return errors.New("even")
		}
		return nil
	}, 10)
	for i := 0; i < 10; i++ {
		require.True(t, w.Offer(i))
	}
	require.False(t, w.Offer(10))

	w.Start()
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	wg.Wait()
	require.Equal(t, int32(10), handled.Load())
}

func TestTickWorker(t *testing.T) {
	var (
		wg    sync.WaitGroup
		ticks atomic.Int32
	)
	tw := NewTickWorker("test", 5*time.Millisecond, func() { ticks.Add(1) }, &wg)
	tw.Start()
	require.Eventually(t, func() bool { return ticks.Load() >= 2 }, time.Second, 5*time.Millisecond)
	require.True(t, tw.IsRunning())

	require.NoError(t, tw.Stop())
	wg.Wait()
	require.False(t, tw.IsRunning())
}
