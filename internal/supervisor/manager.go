package supervisor

import (
	"context"
	"sync"
	"time"
)

// Status represents the current state of a supervised component.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusDegraded Status = "degraded"
)

// Component is one supervised unit: typically the whole serial side
// of the bridge (link, store, pump) built from one config snapshot.
//
// Start must return once the component is up; runtime failures after
// that are delivered through the report callback. Stop tears the
// component down and must be safe to call after a reported failure.
type Component interface {
	Name() string
	Start(ctx context.Context, report func(error)) error
	Stop()
}

// Logger is the minimal logging interface the supervisor needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// BackoffConfig tunes the restart delay after failures.
type BackoffConfig struct {
	// Initial is the delay before the first restart attempt.
	Initial time.Duration

	// Max caps the exponential growth.
	Max time.Duration
}

// DefaultBackoff returns the standard restart schedule.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		Initial: time.Second,
		Max:     time.Minute,
	}
}

// Manager supervises a single component through the
// Stopped -> Starting -> Running -> Degraded cycle.
//
// Only the manager restarts its component: a failed component just
// reports and waits to be stopped and started again, after an
// exponential backoff capped at BackoffConfig.Max. A successful
// start resets the backoff.
type Manager struct {
	component Component
	backoff   BackoffConfig

	mu            sync.RWMutex
	status        Status
	lastError     error
	restartCount  int
	stopRequested bool
	logger        Logger

	// onFailure and onRecovery feed the watchdog gate.
	onFailure  func(name string, err error)
	onRecovery func(name string)

	failureCh chan error
	stopCh    chan struct{}
	done      chan struct{}
}

// NewManager creates a manager for the given component.
func NewManager(component Component, backoff BackoffConfig) *Manager {
	if backoff.Initial <= 0 {
		backoff.Initial = time.Second
	}
	if backoff.Max < backoff.Initial {
		backoff.Max = backoff.Initial
	}

	return &Manager{
		component: component,
		backoff:   backoff,
		status:    StatusStopped,
		logger:    noopLogger{},
		failureCh: make(chan error, 1),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// SetLogger sets the logger. Must be called before Start.
func (m *Manager) SetLogger(logger Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger
}

// SetOnFailure sets the callback fired on every component failure.
// Must be called before Start.
func (m *Manager) SetOnFailure(callback func(name string, err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFailure = callback
}

// SetOnRecovery sets the callback fired when the component reaches
// Running. Must be called before Start.
func (m *Manager) SetOnRecovery(callback func(name string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRecovery = callback
}

// Start launches the supervision loop. It returns immediately; the
// component's first start happens inside the loop so that a failing
// component still gets its backoff-and-retry treatment.
func (m *Manager) Start(ctx context.Context) {
	go m.run(ctx)
}

// Stop shuts the component down and ends supervision. Blocks until
// the loop has exited.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopRequested {
		m.mu.Unlock()
		<-m.done
		return
	}
	m.stopRequested = true
	m.mu.Unlock()

	close(m.stopCh)
	<-m.done
}

// Status returns the component's current lifecycle state.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// LastError returns the most recent failure, or nil.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// RestartCount returns how many times the component has been
// restarted after failures.
func (m *Manager) RestartCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restartCount
}

// report delivers a runtime failure to the loop. Extra reports while
// one is already pending are dropped; the component restarts either
// way.
func (m *Manager) report(err error) {
	select {
	case m.failureCh <- err:
	default:
	}
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	delay := m.backoff.Initial

	for {
		if m.stopping(ctx) {
			m.setStatus(StatusStopped)
			return
		}

		m.setStatus(StatusStarting)
		m.logger.Info("starting component", "component", m.component.Name())

		if err := m.component.Start(ctx, m.report); err != nil {
			m.logger.Error("component failed to start",
				"component", m.component.Name(), "error", err)
			m.fail(err)
			if !m.sleep(ctx, delay) {
				m.setStatus(StatusStopped)
				return
			}
			delay = m.nextDelay(delay)
			continue
		}

		m.mu.Lock()
		m.status = StatusRunning
		m.mu.Unlock()
		m.logger.Info("component running", "component", m.component.Name())
		if m.onRecovery != nil {
			m.onRecovery(m.component.Name())
		}
		delay = m.backoff.Initial

		// Wait for a runtime failure or a stop request.
		select {
		case err := <-m.failureCh:
			m.logger.Warn("component failed",
				"component", m.component.Name(), "error", err)
			m.fail(err)
			m.component.Stop()

			m.mu.Lock()
			m.restartCount++
			m.mu.Unlock()

			if !m.sleep(ctx, delay) {
				m.setStatus(StatusStopped)
				return
			}
			delay = m.nextDelay(delay)

		case <-m.stopCh:
			m.component.Stop()
			m.setStatus(StatusStopped)
			m.logger.Info("component stopped", "component", m.component.Name())
			return

		case <-ctx.Done():
			m.component.Stop()
			m.setStatus(StatusStopped)
			return
		}
	}
}

// fail records the error, moves to Degraded, and notifies.
func (m *Manager) fail(err error) {
	m.mu.Lock()
	m.status = StatusDegraded
	m.lastError = err
	m.mu.Unlock()

	if m.onFailure != nil {
		m.onFailure(m.component.Name(), err)
	}
}

// sleep waits out the backoff delay; false means stop instead.
func (m *Manager) sleep(ctx context.Context, delay time.Duration) bool {
	m.logger.Info("backing off before restart",
		"component", m.component.Name(), "delay", delay.String())

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-m.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) nextDelay(delay time.Duration) time.Duration {
	delay *= 2
	if delay > m.backoff.Max {
		delay = m.backoff.Max
	}
	return delay
}

func (m *Manager) setStatus(status Status) {
	m.mu.Lock()
	m.status = status
	m.mu.Unlock()
}

func (m *Manager) stopping(ctx context.Context) bool {
	select {
	case <-m.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
