package link

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// Framing constants.
const (
	// maxLineLength is the longest accepted wire line. Anything longer
	// is dropped and counted; the firmware never emits lines near this.
	maxLineLength = 256

	// defaultWriteQueueSize is used when the config leaves it zero.
	defaultWriteQueueSize = 64
)

// Port is the minimal serial port surface the link needs.
// Satisfied by *serial.Port and by in-memory fakes in tests.
type Port interface {
	io.ReadWriteCloser
}

// DialFunc opens the underlying serial port. Replaceable in tests.
type DialFunc func(cfg Config) (Port, error)

// Config holds the link settings, converted from config.SerialConfig.
type Config struct {
	// Port is the serial device path.
	Port string

	// Baud is the line speed.
	Baud int

	// SettleDelay is how long to wait after opening before the link is
	// considered usable. Boards that reset on open need this.
	SettleDelay time.Duration

	// WriteQueueSize is the capacity of the outbound line queue.
	WriteQueueSize int
}

// Logger is the logging interface for the link.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Stats counts soft framing errors since the link opened.
type Stats struct {
	// OversizedLines is the number of dropped overlong lines.
	OversizedLines uint64

	// EmptyLines is the number of dropped blank lines.
	EmptyLines uint64
}

// Link manages the physical connection to the microcontroller: open,
// line-framed reads, and a queued write path.
//
// The link does not self-heal. On any I/O failure it transitions to
// disconnected, closes the Lines channel and reports the error through
// the OnError callback; retry and backoff are the supervisor's job.
//
// Thread Safety: all methods are safe for concurrent use.
type Link struct {
	cfg  Config
	dial DialFunc

	mu        sync.Mutex
	port      Port
	connected bool

	lines  chan string
	writes chan string
	done   chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once
	failOnce  sync.Once

	stats   Stats
	statsMu sync.Mutex

	onError func(err error)
	logger  Logger
}

// New creates a link for the given configuration.
// Call Open to connect.
func New(cfg Config) *Link {
	if cfg.WriteQueueSize <= 0 {
		cfg.WriteQueueSize = defaultWriteQueueSize
	}
	return &Link{
		cfg:    cfg,
		dial:   serialDial,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the link.
func (l *Link) SetLogger(logger Logger) {
	l.logger = logger
}

// SetOnError sets the callback invoked once when the link fails.
// The supervisor registers here to schedule a restart.
func (l *Link) SetOnError(callback func(err error)) {
	l.onError = callback
}

// SetDialFunc replaces the port opener. Used by tests to inject an
// in-memory port.
func (l *Link) SetDialFunc(dial DialFunc) {
	l.dial = dial
}

// serialDial opens a real serial port via tarm/serial.
func serialDial(cfg Config) (Port, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name: cfg.Port,
		Baud: cfg.Baud,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", ErrOpenFailed, cfg.Port, err)
	}
	return port, nil
}

// Open connects to the serial device and starts the read and write
// loops. After the port opens, the link waits for the configured settle
// delay; many boards reset when the port is opened and need time for
// the bootloader to hand over to the sketch.
//
// Returns:
//   - error: Wrapping ErrOpenFailed if the port cannot be opened
func (l *Link) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.connected {
		return fmt.Errorf("link: already open")
	}

	port, err := l.dial(l.cfg)
	if err != nil {
		return err
	}

	if l.cfg.SettleDelay > 0 {
		time.Sleep(l.cfg.SettleDelay)
	}

	l.port = port
	l.connected = true
	l.lines = make(chan string, 64)
	l.writes = make(chan string, l.cfg.WriteQueueSize)
	l.done = make(chan struct{})
	l.closeOnce = sync.Once{}
	l.failOnce = sync.Once{}

	l.wg.Add(2)
	go l.readLoop(port)
	go l.writeLoop(port)

	l.logger.Info("serial link open", "port", l.cfg.Port, "baud", l.cfg.Baud)
	return nil
}

// Lines returns the channel of raw decoded lines, without trailing
// newlines. The channel is closed when the link disconnects.
func (l *Link) Lines() <-chan string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lines
}

// Write enqueues one wire line for transmission. The newline terminator
// is appended by the write loop.
//
// Returns:
//   - error: ErrNotConnected if the link is down, ErrWriteQueueFull if
//     the queue has no room
func (l *Link) Write(line string) error {
	l.mu.Lock()
	connected := l.connected
	writes := l.writes
	done := l.done
	l.mu.Unlock()

	if !connected {
		return ErrNotConnected
	}

	select {
	case writes <- line:
		return nil
	case <-done:
		return ErrNotConnected
	default:
		return fmt.Errorf("%w: dropping %q", ErrWriteQueueFull, line)
	}
}

// Connected reports whether the link is currently usable.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// Stats returns a snapshot of the soft-error counters.
func (l *Link) Stats() Stats {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	return l.stats
}

// Close shuts the link down and waits for its loops to exit.
// Safe to call multiple times.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.connected = false
		port := l.port
		done := l.done
		l.mu.Unlock()

		if done != nil {
			close(done)
		}
		if port != nil {
			// Closing the port unblocks the pending read.
			err = port.Close()
		}
		l.wg.Wait()
	})
	return err
}

// fail records a link failure: marks the link disconnected and notifies
// the supervisor exactly once.
func (l *Link) fail(err error) {
	l.failOnce.Do(func() {
		l.mu.Lock()
		wasConnected := l.connected
		l.connected = false
		l.mu.Unlock()

		if !wasConnected {
			// Close() already ran; this is the read loop observing the
			// closed port, not a failure.
			return
		}

		l.logger.Error("serial link failed", "port", l.cfg.Port, "error", err)
		if l.onError != nil {
			l.onError(fmt.Errorf("%w: %w", ErrLinkFailed, err))
		}
	})
}

// readLoop frames newline-delimited lines and delivers them on the
// lines channel. Oversized and blank lines are dropped and counted.
func (l *Link) readLoop(port Port) {
	defer l.wg.Done()
	defer close(l.lines)

	reader := bufio.NewReaderSize(port, maxLineLength)
	oversized := false

	for {
		chunk, isPrefix, err := reader.ReadLine()
		if err != nil {
			l.fail(err)
			return
		}

		if isPrefix {
			// Line exceeds the buffer: swallow the remainder and drop it.
			oversized = true
			continue
		}
		if oversized {
			oversized = false
			l.countOversized()
			continue
		}
		if len(chunk) == 0 {
			l.countEmpty()
			continue
		}
		if len(chunk) > maxLineLength {
			l.countOversized()
			continue
		}

		line := string(chunk)
		select {
		case l.lines <- line:
		case <-l.done:
			return
		}
	}
}

// writeLoop drains the write queue, serialising all port writes.
func (l *Link) writeLoop(port Port) {
	defer l.wg.Done()

	for {
		select {
		case line := <-l.writes:
			if _, err := io.WriteString(port, line+"\n"); err != nil {
				l.fail(fmt.Errorf("writing %q: %w", line, err))
				return
			}
			l.logger.Debug("serial write", "line", line)
		case <-l.done:
			return
		}
	}
}

func (l *Link) countOversized() {
	l.statsMu.Lock()
	l.stats.OversizedLines++
	count := l.stats.OversizedLines
	l.statsMu.Unlock()
	l.logger.Warn("dropped oversized line", "count", count)
}

func (l *Link) countEmpty() {
	l.statsMu.Lock()
	l.stats.EmptyLines++
	l.statsMu.Unlock()
}
