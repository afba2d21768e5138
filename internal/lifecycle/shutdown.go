// Package lifecycle coordinates engine shutdown: signal handling, draining
// of in-flight transactions and ordered resource teardown.
package lifecycle

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

const (
	defaultStopTimeout  = 30 * time.Second
	defaultDrainTimeout = 15 * time.Second
)

// Options bounds how long a stop may take.
type Options struct {
	// StopTimeout caps the whole stop sequence, draining included.
	StopTimeout time.Duration

	// DrainTimeout caps the wait for in-flight transactions alone.
	DrainTimeout time.Duration
}

// Manager runs the stop sequence exactly once: mark stopping, wait for
// in-flight transactions to drain, then close registered resources in
// reverse registration order.
type Manager struct {
	stopTimeout  time.Duration
	drainTimeout time.Duration

	stopped  chan struct{}
	stopOnce sync.Once
	inFlight atomic.Int64
	stopping atomic.Bool

	mu       sync.Mutex
	closers  []io.Closer
	onStart  []func()
	onFinish []func()
}

// NewManager returns a manager with zero option fields replaced by defaults.
func NewManager(o Options) *Manager {
	if o.StopTimeout == 0 {
		o.StopTimeout = defaultStopTimeout
	}
	if o.DrainTimeout == 0 {
		o.DrainTimeout = defaultDrainTimeout
	}
	return &Manager{
		stopTimeout:  o.StopTimeout,
		drainTimeout: o.DrainTimeout,
		stopped:      make(chan struct{}),
	}
}

// AddCloser registers a resource closed during Stop. Closers run in reverse
// registration order.
func (m *Manager) AddCloser(c io.Closer) {
	m.mu.Lock()
	m.closers = append(m.closers, c)
	m.mu.Unlock()
}

// OnStopStart registers a callback invoked when the stop sequence begins.
func (m *Manager) OnStopStart(fn func()) {
	m.mu.Lock()
	m.onStart = append(m.onStart, fn)
	m.mu.Unlock()
}

// OnStopFinish registers a callback invoked after every closer has run.
func (m *Manager) OnStopFinish(fn func()) {
	m.mu.Lock()
	m.onFinish = append(m.onFinish, fn)
	m.mu.Unlock()
}

// WaitForSignal blocks until SIGTERM or SIGINT arrives, the context is
// cancelled, or Stop is called elsewhere, then runs the stop sequence.
func (m *Manager) WaitForSignal(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		return m.Stop(ctx, fmt.Sprintf("received signal: %v", sig))
	case <-ctx.Done():
		return m.Stop(ctx, "context cancelled")
	case <-m.stopped:
		return nil
	}
}

// Stop drains in-flight transactions and closes registered resources.
// Subsequent calls return immediately.
func (m *Manager) Stop(ctx context.Context, reason string) error {
	var stopErr error

	m.stopOnce.Do(func() {
		m.stopping.Store(true)
		close(m.stopped)

		m.mu.Lock()
		starts := m.onStart
		m.mu.Unlock()
		for _, fn := range starts {
			fn()
		}

		stopCtx, cancel := context.WithTimeout(ctx, m.stopTimeout)
		defer cancel()

		if err := m.drain(stopCtx); err != nil {
			stopErr = fmt.Errorf("drain failed: %w", err)
		}

		m.mu.Lock()
		closers := m.closers
		m.mu.Unlock()
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil && stopErr == nil {
				stopErr = fmt.Errorf("close failed: %w", err)
			}
		}

		m.mu.Lock()
		finishes := m.onFinish
		m.mu.Unlock()
		for _, fn := range finishes {
			fn()
		}
	})

	return stopErr
}

// drain polls until the in-flight count reaches zero or the drain window
// closes.
func (m *Manager) drain(ctx context.Context) error {
	drainCtx, cancel := context.WithTimeout(ctx, m.drainTimeout)
	defer cancel()

	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for m.inFlight.Load() > 0 {
		select {
		case <-drainCtx.Done():
			if n := m.inFlight.Load(); n > 0 {
				return fmt.Errorf("timed out with %d in-flight transactions", n)
			}
			return nil
		case <-tick.C:
		}
	}
	return nil
}

// Enter registers a unit of in-flight work. It reports false, without
// registering, once the stop sequence has begun.
func (m *Manager) Enter() bool {
	if m.stopping.Load() {
		return false
	}
	m.inFlight.Add(1)
	return true
}

// Exit balances a successful Enter.
func (m *Manager) Exit() {
	m.inFlight.Add(-1)
}

// Stopping reports whether the stop sequence has begun.
func (m *Manager) Stopping() bool {
	return m.stopping.Load()
}

// InFlight returns the current in-flight transaction count.
func (m *Manager) InFlight() int64 {
	return m.inFlight.Load()
}

// Done returns a channel closed when the stop sequence begins.
func (m *Manager) Done() <-chan struct{} {
	return m.stopped
}

// CloserFunc adapts a function to io.Closer.
type CloserFunc func() error

func (f CloserFunc) Close() error { return f() }

// CloseAll closes every closer in order and returns the first error.
func CloseAll(closers ...io.Closer) error {
	var first error
	for _, c := range closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
