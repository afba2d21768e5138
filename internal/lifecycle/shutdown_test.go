package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_ClosersRunInReverseOrder(t *testing.T) {
	m := NewManager(Options{})

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		m.AddCloser(CloserFunc(func() error {
			order = append(order, i)
			return nil
		}))
	}

	require.NoError(t, m.Stop(context.Background(), "test"))
	assert.Equal(t, []int{2, 1, 0}, order)
}

func TestManager_StopIsIdempotent(t *testing.T) {
	m := NewManager(Options{})

	calls := 0
	m.AddCloser(CloserFunc(func() error {
		calls++
		return nil
	}))

	require.NoError(t, m.Stop(context.Background(), "first"))
	require.NoError(t, m.Stop(context.Background(), "second"))
	assert.Equal(t, 1, calls)
	assert.True(t, m.Stopping())
}

func TestManager_RejectsWorkWhileStopping(t *testing.T) {
	m := NewManager(Options{})

	require.True(t, m.Enter())
	m.Exit()

	require.NoError(t, m.Stop(context.Background(), "test"))
	assert.False(t, m.Enter())
}

func TestManager_DrainWaitsForWork(t *testing.T) {
	m := NewManager(Options{
		StopTimeout:  2 * time.Second,
		DrainTimeout: 2 * time.Second,
	})

	require.True(t, m.Enter())
	go func() {
		time.Sleep(150 * time.Millisecond)
		m.Exit()
	}()

	start := time.Now()
	require.NoError(t, m.Stop(context.Background(), "test"))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, int64(0), m.InFlight())
}

func TestManager_DrainTimesOut(t *testing.T) {
	m := NewManager(Options{
		StopTimeout:  500 * time.Millisecond,
		DrainTimeout: 200 * time.Millisecond,
	})

	require.True(t, m.Enter()) // never exited
	err := m.Stop(context.Background(), "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in-flight")
}

func TestManager_Callbacks(t *testing.T) {
	m := NewManager(Options{})

	var events []string
	m.OnStopStart(func() { events = append(events, "start") })
	m.AddCloser(CloserFunc(func() error {
		events = append(events, "close")
		return nil
	}))
	m.OnStopFinish(func() { events = append(events, "finish") })

	require.NoError(t, m.Stop(context.Background(), "test"))
	assert.Equal(t, []string{"start", "close", "finish"}, events)
}

func TestManager_WaitStopsOnContextCancel(t *testing.T) {
	m := NewManager(Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.WaitForSignal(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForSignal did not return after context cancellation")
	}
	assert.True(t, m.Stopping())
}

func TestCloseAll_ReturnsFirstError(t *testing.T) {
	boom := errors.New("boom")
	var closed []string

	err := CloseAll(
		CloserFunc(func() error { closed = append(closed, "a"); return nil }),
		CloserFunc(func() error { closed = append(closed, "b"); return boom }),
		CloserFunc(func() error { closed = append(closed, "c"); return nil }),
	)

	assert.Equal(t, boom, err)
	assert.Equal(t, []string{"a", "b", "c"}, closed)
}
