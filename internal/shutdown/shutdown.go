// Package shutdown coordinates graceful teardown: components register in
// startup order and are stopped in reverse, so the HTTP surface drains
// before the pipeline beneath it goes away.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/wurstmineberg/api/internal/logging"
)

// StopFunc is a function that performs cleanup during shutdown
type StopFunc func(context.Context) error

// Manager handles graceful shutdown of the application
type Manager struct {
	logger  *logging.Logger
	timeout time.Duration

	mu    sync.Mutex
	names []string
	funcs []StopFunc

	once sync.Once
}

// New creates a new shutdown manager
func New(logger *logging.Logger, timeout time.Duration) *Manager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Manager{
		logger:  logger.WithComponent("shutdown"),
		timeout: timeout,
	}
}

// Register adds a named stop function. Registration order is startup
// order; teardown runs in reverse.
func (m *Manager) Register(name string, fn StopFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names = append(m.names, name)
	m.funcs = append(m.funcs, fn)
}

// WaitForSignal blocks until SIGINT or SIGTERM, then runs the teardown
func (m *Manager) WaitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	m.logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	m.Shutdown()
}

// Shutdown runs all registered stop functions once, newest first, under
// a shared timeout. A failing component is logged and does not prevent
// the rest from stopping.
func (m *Manager) Shutdown() {
	m.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		m.mu.Lock()
		names, funcs := m.names, m.funcs
		m.mu.Unlock()

		for i := len(funcs) - 1; i >= 0; i-- {
			if err := funcs[i](ctx); err != nil {
				m.logger.Error().Err(err).Str("component", names[i]).Msg("Shutdown failed")
				continue
			}
			m.logger.Debug().Str("component", names[i]).Msg("Stopped")
		}
		m.logger.Info().Msg("Graceful shutdown complete")
	})
}
