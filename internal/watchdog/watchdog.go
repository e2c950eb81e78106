package watchdog

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// pingFrame is what the watchdog board expects on every beat.
// Missing beats make the board power-cycle the host.
const pingFrame = "~U"

// Port is the write side of the watchdog serial port.
type Port interface {
	io.WriteCloser
}

// DialFunc opens the watchdog port. Replaceable in tests.
type DialFunc func(cfg Config) (Port, error)

// Logger is the minimal logging interface the pinger needs.
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

// Config contains the pinger's settings.
type Config struct {
	// Port is the watchdog serial device (distinct from the
	// controller port).
	Port string

	// Baud is the watchdog port speed.
	Baud int

	// Interval is the beat period. Must be comfortably below the
	// board's reset window.
	Interval time.Duration

	// MaxFailures is the number of consecutive reported failures
	// after which pinging stops, letting the board reset the host.
	MaxFailures int
}

// Pinger feeds the external hardware watchdog.
//
// While the system is healthy it writes the ping frame on every
// interval. Components report failures through ReportFailure; when
// MaxFailures consecutive failures accumulate, the pinger goes
// silent so the watchdog board force-restarts the machine. A
// recovery report reopens the gate.
type Pinger struct {
	cfg Config

	mu       sync.Mutex
	port     Port
	logger   Logger
	dial     DialFunc
	failures int
	started  bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a pinger for the given port.
func New(cfg Config) *Pinger {
	return &Pinger{
		cfg:    cfg,
		logger: noopLogger{},
		dial:   serialDial,
		done:   make(chan struct{}),
	}
}

// serialDial opens the real watchdog port.
func serialDial(cfg Config) (Port, error) {
	port, err := serial.OpenPort(&serial.Config{Name: cfg.Port, Baud: cfg.Baud})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailed, cfg.Port, err)
	}
	return port, nil
}

// SetLogger sets the logger. Must be called before Start.
func (p *Pinger) SetLogger(logger Logger) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logger = logger
}

// SetDialFunc replaces the port factory. Must be called before Start.
func (p *Pinger) SetDialFunc(dial DialFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dial = dial
}

// Start opens the watchdog port and begins the beat loop.
//
// Returns:
//   - error: ErrOpenFailed if the port cannot be opened
func (p *Pinger) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}

	port, err := p.dial(p.cfg)
	if err != nil {
		return err
	}
	p.port = port
	p.started = true

	p.logger.Info("watchdog pinger started",
		"port", p.cfg.Port, "interval", p.cfg.Interval.String())

	p.wg.Add(1)
	go p.loop()
	return nil
}

// Close stops the beat loop and closes the port. The watchdog board
// will restart the host unless it is disarmed externally, so Close
// belongs only in full process shutdown paths.
func (p *Pinger) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		p.wg.Wait()

		p.mu.Lock()
		if p.port != nil {
			err = p.port.Close()
			p.port = nil
		}
		p.mu.Unlock()
	})
	return err
}

// ReportFailure records one component failure. Consecutive failures
// at or past MaxFailures close the gate.
func (p *Pinger) ReportFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failures++
	if p.failures == p.cfg.MaxFailures {
		p.logger.Warn("watchdog gate closed, host restart imminent",
			"failures", p.failures)
	}
}

// ReportRecovery resets the failure counter and resumes pinging.
func (p *Pinger) ReportRecovery() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failures >= p.cfg.MaxFailures {
		p.logger.Info("watchdog gate reopened after recovery")
	}
	p.failures = 0
}

// Pinging reports whether the gate is currently open.
func (p *Pinger) Pinging() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures < p.cfg.MaxFailures
}

func (p *Pinger) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.beat()
		case <-p.done:
			return
		}
	}
}

// beat writes one ping frame if the gate is open. Write errors are
// logged but not fatal: a dead watchdog port means missed beats,
// which is exactly the restart path the board implements.
func (p *Pinger) beat() {
	p.mu.Lock()
	port := p.port
	open := p.failures < p.cfg.MaxFailures
	p.mu.Unlock()

	if !open || port == nil {
		return
	}

	if _, err := port.Write([]byte(pingFrame)); err != nil {
		p.logger.Error("watchdog ping write failed", "error", err)
	}
}
