package watchdog

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakePort counts ping writes.
type fakePort struct {
	mu     sync.Mutex
	writes []string
	closed bool
	beat   chan string
}

func newFakePort() *fakePort {
	return &fakePort{beat: make(chan string, 64)}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.writes = append(p.writes, string(b))
	p.mu.Unlock()
	p.beat <- string(b)
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.writes)
}

func startTestPinger(t *testing.T, cfg Config) (*Pinger, *fakePort) {
	t.Helper()

	if cfg.Interval == 0 {
		cfg.Interval = 20 * time.Millisecond
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 3
	}

	port := newFakePort()
	p := New(cfg)
	p.SetDialFunc(func(Config) (Port, error) { return port, nil })
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { p.Close() })

	return p, port
}

func waitBeat(t *testing.T, port *fakePort) {
	t.Helper()
	select {
	case frame := <-port.beat:
		if frame != "~U" {
			t.Fatalf("ping frame = %q, want %q", frame, "~U")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for ping")
	}
}

func TestPinger_Beats(t *testing.T) {
	_, port := startTestPinger(t, Config{})

	waitBeat(t, port)
	waitBeat(t, port)
}

func TestPinger_GateClosesAfterMaxFailures(t *testing.T) {
	p, port := startTestPinger(t, Config{MaxFailures: 3})

	waitBeat(t, port)

	p.ReportFailure()
	p.ReportFailure()
	if !p.Pinging() {
		t.Fatal("gate closed before MaxFailures")
	}

	p.ReportFailure()
	if p.Pinging() {
		t.Fatal("gate open at MaxFailures")
	}

	// Drain in-flight beats, then confirm silence.
	time.Sleep(50 * time.Millisecond)
	for len(port.beat) > 0 {
		<-port.beat
	}
	select {
	case <-port.beat:
		t.Error("ping written while gate closed")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPinger_RecoveryReopensGate(t *testing.T) {
	p, port := startTestPinger(t, Config{MaxFailures: 2})

	p.ReportFailure()
	p.ReportFailure()
	if p.Pinging() {
		t.Fatal("gate open after failures")
	}

	p.ReportRecovery()
	if !p.Pinging() {
		t.Fatal("gate closed after recovery")
	}
	waitBeat(t, port)
}

func TestPinger_RecoveryResetsCounter(t *testing.T) {
	p, _ := startTestPinger(t, Config{MaxFailures: 2})

	// Failures separated by a recovery are not consecutive.
	p.ReportFailure()
	p.ReportRecovery()
	p.ReportFailure()
	if !p.Pinging() {
		t.Error("gate closed by non-consecutive failures")
	}
}

func TestPinger_Close(t *testing.T) {
	p, port := startTestPinger(t, Config{})

	waitBeat(t, port)
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	port.mu.Lock()
	closed := port.closed
	port.mu.Unlock()
	if !closed {
		t.Error("port not closed")
	}

	// Close is idempotent.
	if err := p.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestPinger_StartDialFailure(t *testing.T) {
	p := New(Config{Port: "/dev/missing", Baud: 9600, Interval: time.Second, MaxFailures: 3})
	p.SetDialFunc(func(Config) (Port, error) { return nil, ErrOpenFailed })

	if err := p.Start(); !errors.Is(err, ErrOpenFailed) {
		t.Errorf("Start() error = %v, want ErrOpenFailed", err)
	}
}
