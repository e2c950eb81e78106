package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeComponent is a controllable supervised unit.
type fakeComponent struct {
	name string

	mu        sync.Mutex
	starts    int
	stops     int
	startErrs []error
	report    func(error)

	startedCh chan int
}

func newFakeComponent(name string, startErrs ...error) *fakeComponent {
	return &fakeComponent{
		name:      name,
		startErrs: startErrs,
		startedCh: make(chan int, 16),
	}
}

func (f *fakeComponent) Name() string { return f.name }

func (f *fakeComponent) Start(_ context.Context, report func(error)) error {
	f.mu.Lock()
	f.starts++
	n := f.starts
	f.report = report
	var err error
	if n <= len(f.startErrs) {
		err = f.startErrs[n-1]
	}
	f.mu.Unlock()

	if err != nil {
		return err
	}
	f.startedCh <- n
	return nil
}

func (f *fakeComponent) Stop() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func (f *fakeComponent) fail(err error) {
	f.mu.Lock()
	report := f.report
	f.mu.Unlock()
	report(err)
}

func (f *fakeComponent) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

func waitStarted(t *testing.T, c *fakeComponent) int {
	t.Helper()
	select {
	case n := <-c.startedCh:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for component start")
		return 0
	}
}

func waitStatus(t *testing.T, m *Manager, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Status() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("status = %s, want %s", m.Status(), want)
}

func testBackoff() BackoffConfig {
	return BackoffConfig{Initial: 10 * time.Millisecond, Max: 40 * time.Millisecond}
}

func TestManager_StartsComponent(t *testing.T) {
	c := newFakeComponent("serial")
	m := NewManager(c, testBackoff())

	var recoveredMu sync.Mutex
	var recovered []string
	m.SetOnRecovery(func(name string) {
		recoveredMu.Lock()
		recovered = append(recovered, name)
		recoveredMu.Unlock()
	})

	m.Start(context.Background())
	defer m.Stop()

	waitStarted(t, c)
	waitStatus(t, m, StatusRunning)

	recoveredMu.Lock()
	defer recoveredMu.Unlock()
	if len(recovered) != 1 || recovered[0] != "serial" {
		t.Errorf("recovery callbacks = %v, want [serial]", recovered)
	}
}

func TestManager_RestartsAfterRuntimeFailure(t *testing.T) {
	c := newFakeComponent("serial")
	m := NewManager(c, testBackoff())

	failures := make(chan error, 4)
	m.SetOnFailure(func(_ string, err error) { failures <- err })

	m.Start(context.Background())
	defer m.Stop()
	waitStarted(t, c)

	bang := errors.New("port vanished")
	c.fail(bang)

	select {
	case err := <-failures:
		if !errors.Is(err, bang) {
			t.Errorf("failure callback err = %v, want %v", err, bang)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for failure callback")
	}

	// The component is stopped, then started again after backoff.
	if n := waitStarted(t, c); n != 2 {
		t.Errorf("start count = %d, want 2", n)
	}
	waitStatus(t, m, StatusRunning)

	_, stops := c.counts()
	if stops != 1 {
		t.Errorf("stop count = %d, want 1", stops)
	}
	if m.RestartCount() != 1 {
		t.Errorf("RestartCount() = %d, want 1", m.RestartCount())
	}
	if !errors.Is(m.LastError(), bang) {
		t.Errorf("LastError() = %v, want %v", m.LastError(), bang)
	}
}

func TestManager_RetriesFailedStart(t *testing.T) {
	bang := errors.New("no such port")
	c := newFakeComponent("serial", bang, bang) // first two starts fail
	m := NewManager(c, testBackoff())
	m.Start(context.Background())
	defer m.Stop()

	if n := waitStarted(t, c); n != 3 {
		t.Errorf("successful start attempt = %d, want 3", n)
	}
	waitStatus(t, m, StatusRunning)
}

func TestManager_Stop(t *testing.T) {
	c := newFakeComponent("serial")
	m := NewManager(c, testBackoff())
	m.Start(context.Background())
	waitStarted(t, c)

	m.Stop()

	if m.Status() != StatusStopped {
		t.Errorf("status = %s, want stopped", m.Status())
	}
	_, stops := c.counts()
	if stops != 1 {
		t.Errorf("stop count = %d, want 1", stops)
	}

	// Idempotent.
	m.Stop()
}

func TestManager_ContextCancelStops(t *testing.T) {
	c := newFakeComponent("serial")
	m := NewManager(c, testBackoff())

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	waitStarted(t, c)

	cancel()
	waitStatus(t, m, StatusStopped)
}

func TestManager_BackoffDoublesAndCaps(t *testing.T) {
	m := NewManager(newFakeComponent("serial"), BackoffConfig{
		Initial: 10 * time.Millisecond,
		Max:     25 * time.Millisecond,
	})

	d := m.nextDelay(10 * time.Millisecond)
	if d != 20*time.Millisecond {
		t.Errorf("nextDelay(10ms) = %s, want 20ms", d)
	}
	d = m.nextDelay(d)
	if d != 25*time.Millisecond {
		t.Errorf("nextDelay(20ms) = %s, want capped 25ms", d)
	}
}
