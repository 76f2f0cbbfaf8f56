package session

import (
	"context"
	"sync"

	"github.com/MrWong99/voiceturn/internal/observe"
)

// Manager tracks running controllers. All methods are safe for concurrent
// use.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]context.CancelFunc
	closed   bool
	wg       sync.WaitGroup
	metrics  *observe.Metrics
}

// NewManager creates a Manager. m may be nil, in which case no gauge is
// reported.
func NewManager(m *observe.Metrics) *Manager {
	return &Manager{sessions: make(map[string]context.CancelFunc), metrics: m}
}

// Run registers c, runs it until it ends and deregisters it. It returns
// [ErrShuttingDown] without running c once [Manager.Shutdown] was called.
func (m *Manager) Run(ctx context.Context, c *Controller) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrShuttingDown
	}
	m.sessions[c.ID()] = cancel
	m.wg.Add(1)
	m.mu.Unlock()
	m.gauge(ctx, 1)

	defer func() {
		m.mu.Lock()
		delete(m.sessions, c.ID())
		m.mu.Unlock()
		m.gauge(context.Background(), -1)
		m.wg.Done()
	}()
	return c.Run(ctx)
}

// Active returns the number of running controllers.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown cancels every running controller and waits for them to return
// or for ctx to expire. New controllers are refused afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, cancel := range m.sessions {
		cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) gauge(ctx context.Context, delta int64) {
	if m.metrics == nil {
		return
	}
	m.metrics.ActiveSessions.Add(ctx, delta)
}
