package supervisor

import (
	"context"
	"fmt"
	"sync"

	"github.com/hudrolax/serialbridge/internal/infrastructure/config"
)

// Builder constructs the supervised components from one immutable
// config snapshot. It runs on startup and again on every reload.
type Builder func(cfg *config.Config) ([]Component, error)

// Loader produces a fresh config snapshot. Reload failures leave the
// running components untouched.
type Loader func() (*config.Config, error)

// Supervisor runs a set of components, each under its own Manager,
// and owns config reloads: a reload loads a fresh snapshot, stops
// every component, rebuilds them from the new snapshot, and starts
// them again. The config is never mutated in place.
type Supervisor struct {
	load    Loader
	build   Builder
	backoff BackoffConfig

	mu       sync.Mutex
	managers []*Manager
	ctx      context.Context
	started  bool

	logger     Logger
	onFailure  func(name string, err error)
	onRecovery func(name string)
}

// New creates a supervisor.
//
// Parameters:
//   - load: Config snapshot source
//   - build: Component factory
//   - backoff: Restart schedule shared by all components
//
// Returns:
//   - *Supervisor: Supervisor ready for Start
func New(load Loader, build Builder, backoff BackoffConfig) *Supervisor {
	return &Supervisor{
		load:    load,
		build:   build,
		backoff: backoff,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger. Must be called before Start.
func (s *Supervisor) SetLogger(logger Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetOnFailure sets the callback fired on every component failure,
// typically the watchdog gate. Must be called before Start.
func (s *Supervisor) SetOnFailure(callback func(name string, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFailure = callback
}

// SetOnRecovery sets the callback fired when a component reaches
// Running. Must be called before Start.
func (s *Supervisor) SetOnRecovery(callback func(name string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRecovery = callback
}

// Start loads the config, builds the components, and starts a
// manager for each.
//
// Parameters:
//   - ctx: Cancelling the context stops all components
//
// Returns:
//   - error: If the config cannot be loaded or components built
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	cfg, err := s.load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := s.startLocked(ctx, cfg); err != nil {
		return err
	}

	s.ctx = ctx
	s.started = true
	return nil
}

// startLocked builds and starts managers for one config snapshot.
// Caller holds s.mu.
func (s *Supervisor) startLocked(ctx context.Context, cfg *config.Config) error {
	components, err := s.build(cfg)
	if err != nil {
		return fmt.Errorf("building components: %w", err)
	}

	managers := make([]*Manager, 0, len(components))
	for _, component := range components {
		m := NewManager(component, s.backoff)
		m.SetLogger(s.logger)
		if s.onFailure != nil {
			m.SetOnFailure(s.onFailure)
		}
		if s.onRecovery != nil {
			m.SetOnRecovery(s.onRecovery)
		}
		managers = append(managers, m)
	}

	for _, m := range managers {
		m.Start(ctx)
	}

	s.managers = managers
	return nil
}

// Reload loads a fresh config snapshot and restarts every component
// with it. A failed load or build keeps the current components
// running on the old snapshot.
//
// Returns:
//   - error: If the new config cannot be loaded or built
func (s *Supervisor) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}

	cfg, err := s.load()
	if err != nil {
		s.logger.Error("config reload failed, keeping current config", "error", err)
		return fmt.Errorf("loading config: %w", err)
	}

	s.logger.Info("config reloaded, restarting components")

	for _, m := range s.managers {
		m.Stop()
	}
	s.managers = nil

	if err := s.startLocked(s.ctx, cfg); err != nil {
		s.logger.Error("rebuilding components after reload failed", "error", err)
		return err
	}
	return nil
}

// Stop shuts every component down. Blocks until all have stopped.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}

	for _, m := range s.managers {
		m.Stop()
	}
	s.managers = nil
	s.started = false
}

// Status returns every component's lifecycle state by name.
func (s *Supervisor) Status() map[string]Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := make(map[string]Status, len(s.managers))
	for _, m := range s.managers {
		status[m.component.Name()] = m.Status()
	}
	return status
}
