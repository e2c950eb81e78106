package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hudrolax/serialbridge/internal/protocol"
)

// publishRecord is one OnPublish callback invocation.
type publishRecord struct {
	channel Channel
	value   int
}

// fakeSender captures wire lines written by the store.
type fakeSender struct {
	mu    sync.Mutex
	lines []string
	ch    chan string
}

func newFakeSender() *fakeSender {
	return &fakeSender{ch: make(chan string, 16)}
}

func (f *fakeSender) Write(line string) error {
	f.mu.Lock()
	f.lines = append(f.lines, line)
	f.mu.Unlock()
	f.ch <- line
	return nil
}

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.lines))
	copy(out, f.lines)
	return out
}

// fakePersister records SaveOutput calls.
type fakePersister struct {
	mu    sync.Mutex
	saves map[int]bool
}

func newFakePersister() *fakePersister {
	return &fakePersister{saves: make(map[int]bool)}
}

func (f *fakePersister) SaveOutput(_ context.Context, channel int, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves[channel] = on
	return nil
}

func (f *fakePersister) saved(channel int) (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	on, ok := f.saves[channel]
	return on, ok
}

func testChannels() []Channel {
	return []Channel{
		{ID: 3, Kind: DigitalInput},
		{ID: 38, Kind: DigitalInput, Label: "door_contact"},
		{ID: 7, Kind: DigitalOutput},
		{ID: 36, Kind: DigitalOutput, Label: "hall_light"},
		{ID: 5, Kind: Analog, Label: "tank_level"},
	}
}

// newTestStore builds a started store with fakes wired in.
func newTestStore(t *testing.T, cfg Config) (*Store, *fakeSender, *fakePersister, chan publishRecord) {
	t.Helper()

	if cfg.Channels == nil {
		cfg.Channels = testChannels()
	}
	if cfg.AckTimeout == 0 {
		cfg.AckTimeout = time.Second
	}
	if cfg.MaxCommandAttempts == 0 {
		cfg.MaxCommandAttempts = 3
	}

	sender := newFakeSender()
	persister := newFakePersister()
	publishes := make(chan publishRecord, 32)

	s := New(cfg)
	s.SetSender(sender)
	s.SetPersister(persister)
	s.SetOnPublish(func(ch Channel, value int) {
		publishes <- publishRecord{channel: ch, value: value}
	})
	s.Start()
	t.Cleanup(s.Close)

	return s, sender, persister, publishes
}

func waitPublish(t *testing.T, publishes <-chan publishRecord) publishRecord {
	t.Helper()
	select {
	case p := <-publishes:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for publish")
		return publishRecord{}
	}
}

func expectNoPublish(t *testing.T, publishes <-chan publishRecord) {
	t.Helper()
	select {
	case p := <-publishes:
		t.Fatalf("unexpected publish: channel %s value %d", p.channel.WireName(), p.value)
	case <-time.After(100 * time.Millisecond):
	}
}

func waitWireLine(t *testing.T, sender *fakeSender) string {
	t.Helper()
	select {
	case line := <-sender.ch:
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for wire line")
		return ""
	}
}

// snapshotFor polls until the named channel's snapshot satisfies ok,
// or fails after a deadline.
func snapshotFor(t *testing.T, s *Store, wireName string, ok func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var last Snapshot
	for time.Now().Before(deadline) {
		for _, snap := range s.Snapshots() {
			if snap.Channel.WireName() == wireName {
				last = snap
				if ok(snap) {
					return snap
				}
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("channel %s never reached expected state; last snapshot: %+v", wireName, last)
	return Snapshot{}
}

func TestStore_InputChangePublishes(t *testing.T) {
	s, _, _, publishes := newTestStore(t, Config{})

	if err := s.HandleEvent(protocol.Event{Kind: protocol.EventInput, Channel: 3, On: true}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	p := waitPublish(t, publishes)
	if p.channel.WireName() != "S3" || p.value != 1 {
		t.Errorf("publish = %s/%d, want S3/1", p.channel.WireName(), p.value)
	}

	// Same value again: not publish-worthy.
	if err := s.HandleEvent(protocol.Event{Kind: protocol.EventInput, Channel: 3, On: true}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	expectNoPublish(t, publishes)

	// A change is.
	if err := s.HandleEvent(protocol.Event{Kind: protocol.EventInput, Channel: 3, On: false}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	p = waitPublish(t, publishes)
	if p.value != 0 {
		t.Errorf("publish value = %d, want 0", p.value)
	}
}

func TestStore_AnalogHysteresis(t *testing.T) {
	s, _, _, publishes := newTestStore(t, Config{AnalogThreshold: 10})

	send := func(value int) {
		t.Helper()
		if err := s.HandleEvent(protocol.Event{Kind: protocol.EventAnalog, Channel: 5, Value: value}); err != nil {
			t.Fatalf("HandleEvent() error = %v", err)
		}
	}

	// First sample always publishes.
	send(500)
	if p := waitPublish(t, publishes); p.value != 500 {
		t.Fatalf("first publish = %d, want 500", p.value)
	}

	// Delta equal to the threshold is suppressed.
	send(510)
	expectNoPublish(t, publishes)

	// Strictly beyond the threshold publishes, measured against the
	// last published value, not the last sample.
	send(511)
	if p := waitPublish(t, publishes); p.value != 511 {
		t.Fatalf("publish = %d, want 511", p.value)
	}

	// Back inside the band around 511: suppressed.
	send(503)
	expectNoPublish(t, publishes)
}

func TestStore_CommandAckConfirms(t *testing.T) {
	s, sender, persister, publishes := newTestStore(t, Config{})

	if err := s.Command(7, protocol.OutputOn); err != nil {
		t.Fatalf("Command() error = %v", err)
	}

	if line := waitWireLine(t, sender); line != "P7:1" {
		t.Errorf("wire line = %q, want %q", line, "P7:1")
	}

	if err := s.HandleEvent(protocol.Event{Kind: protocol.EventAck, Channel: 7, On: true}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	p := waitPublish(t, publishes)
	if p.channel.WireName() != "P7" || p.value != 1 {
		t.Errorf("publish = %s/%d, want P7/1", p.channel.WireName(), p.value)
	}

	snap := snapshotFor(t, s, "P7", func(s Snapshot) bool { return s.Confirmation == Confirmed })
	if !snap.Known || snap.Value != 1 {
		t.Errorf("snapshot = %+v, want known on", snap)
	}

	if on, ok := persister.saved(7); !ok || !on {
		t.Errorf("persisted state = %v/%v, want on recorded", on, ok)
	}
}

func TestStore_StaleAckDiscarded(t *testing.T) {
	s, sender, _, publishes := newTestStore(t, Config{})

	if err := s.Command(7, protocol.OutputOn); err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	waitWireLine(t, sender)

	// An OFF ack cannot belong to the pending ON command.
	if err := s.HandleEvent(protocol.Event{Kind: protocol.EventAck, Channel: 7, On: false}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	expectNoPublish(t, publishes)

	// The matching ack still confirms afterwards.
	if err := s.HandleEvent(protocol.Event{Kind: protocol.EventAck, Channel: 7, On: true}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if p := waitPublish(t, publishes); p.value != 1 {
		t.Errorf("publish value = %d, want 1", p.value)
	}
}

func TestStore_UnsolicitedAckDropped(t *testing.T) {
	s, _, _, publishes := newTestStore(t, Config{})

	if err := s.HandleEvent(protocol.Event{Kind: protocol.EventAck, Channel: 7, On: true}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	expectNoPublish(t, publishes)

	snap := snapshotFor(t, s, "P7", func(Snapshot) bool { return true })
	if snap.Known {
		t.Error("channel became known from an unsolicited ack")
	}
}

func TestStore_CommandSupersedes(t *testing.T) {
	s, sender, _, publishes := newTestStore(t, Config{})

	if err := s.Command(7, protocol.OutputOn); err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	waitWireLine(t, sender)

	if err := s.Command(7, protocol.OutputOff); err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	if line := waitWireLine(t, sender); line != "P7:0" {
		t.Errorf("wire line = %q, want %q", line, "P7:0")
	}

	// The ack for the superseded ON command is stale now.
	if err := s.HandleEvent(protocol.Event{Kind: protocol.EventAck, Channel: 7, On: true}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	expectNoPublish(t, publishes)

	// The OFF ack confirms the live command.
	if err := s.HandleEvent(protocol.Event{Kind: protocol.EventAck, Channel: 7, On: false}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if p := waitPublish(t, publishes); p.value != 0 {
		t.Errorf("publish value = %d, want 0", p.value)
	}
}

func TestStore_ToggleConfirmedByAnyAck(t *testing.T) {
	s, sender, _, publishes := newTestStore(t, Config{})

	if err := s.Command(7, protocol.OutputToggle); err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	if line := waitWireLine(t, sender); line != "P7:2" {
		t.Errorf("wire line = %q, want %q", line, "P7:2")
	}

	// Toggle's desired value is unknown; the ack decides.
	if err := s.HandleEvent(protocol.Event{Kind: protocol.EventAck, Channel: 7, On: false}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if p := waitPublish(t, publishes); p.value != 0 {
		t.Errorf("publish value = %d, want 0", p.value)
	}
}

func TestStore_AckTimeoutRetriesThenUnconfirmed(t *testing.T) {
	s, sender, _, publishes := newTestStore(t, Config{
		AckTimeout:         30 * time.Millisecond,
		MaxCommandAttempts: 2,
	})

	// Seed a confirmed state first so we can prove it is not reverted.
	if err := s.Command(7, protocol.OutputOff); err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	waitWireLine(t, sender)
	if err := s.HandleEvent(protocol.Event{Kind: protocol.EventAck, Channel: 7, On: false}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	waitPublish(t, publishes)

	// Now a command that never gets acked.
	if err := s.Command(7, protocol.OutputOn); err != nil {
		t.Fatalf("Command() error = %v", err)
	}

	if line := waitWireLine(t, sender); line != "P7:1" {
		t.Fatalf("first send = %q, want %q", line, "P7:1")
	}
	// One retry, then give up.
	if line := waitWireLine(t, sender); line != "P7:1" {
		t.Fatalf("retry send = %q, want %q", line, "P7:1")
	}

	snap := snapshotFor(t, s, "P7", func(s Snapshot) bool { return s.Confirmation == Unconfirmed })

	// Never a third send.
	select {
	case line := <-sender.ch:
		t.Fatalf("unexpected extra send %q", line)
	case <-time.After(100 * time.Millisecond):
	}

	// Last confirmed value survives; nothing was reverted or invented.
	if snap.Value != 0 {
		t.Errorf("value after unconfirmed command = %d, want 0", snap.Value)
	}
	expectNoPublish(t, publishes)
}

func TestStore_CommandValidation(t *testing.T) {
	s, _, _, _ := newTestStore(t, Config{})

	if err := s.Command(99, protocol.OutputOn); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("Command(99) error = %v, want ErrUnknownChannel", err)
	}
	if err := s.Command(3, protocol.OutputOn); !errors.Is(err, ErrNotOutput) {
		t.Errorf("Command(3) error = %v, want ErrNotOutput", err)
	}
}

func TestStore_RestoreSeedsOutputs(t *testing.T) {
	cfg := Config{Channels: testChannels(), AckTimeout: time.Second, MaxCommandAttempts: 3}
	s := New(cfg)
	s.Restore(map[int]bool{36: true, 99: false})
	s.Start()
	defer s.Close()

	snap := snapshotFor(t, s, "P36", func(s Snapshot) bool { return s.Known })
	if snap.Value != 1 {
		t.Errorf("restored value = %d, want 1", snap.Value)
	}
	if snap.Confirmation != Confirmed {
		t.Errorf("restored confirmation = %s, want confirmed", snap.Confirmation)
	}
}

func TestStore_HandleEventAfterClose(t *testing.T) {
	s, _, _, _ := newTestStore(t, Config{})
	s.Close()

	err := s.HandleEvent(protocol.Event{Kind: protocol.EventInput, Channel: 3, On: true})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("HandleEvent() after close error = %v, want ErrClosed", err)
	}
}

func TestStore_OrderingPreserved(t *testing.T) {
	s, sender, _, publishes := newTestStore(t, Config{})

	// Command then immediately its ack: the ack is queued behind the
	// issuance and must confirm it, not be dropped as unsolicited.
	if err := s.Command(7, protocol.OutputOn); err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	if err := s.HandleEvent(protocol.Event{Kind: protocol.EventAck, Channel: 7, On: true}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	waitWireLine(t, sender)
	if p := waitPublish(t, publishes); p.value != 1 {
		t.Errorf("publish value = %d, want 1", p.value)
	}
	snapshotFor(t, s, "P7", func(s Snapshot) bool { return s.Confirmation == Confirmed })
}

func TestStore_FailsafeBindingTogglesOutput(t *testing.T) {
	s, sender, _, publishes := newTestStore(t, Config{
		Failsafe: map[int]int{38: 36},
	})

	// Input closing fires the bound output.
	if err := s.HandleEvent(protocol.Event{Kind: protocol.EventInput, Channel: 38, On: true}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	waitPublish(t, publishes) // the input's own state change
	if line := waitWireLine(t, sender); line != "P36:2" {
		t.Errorf("wire line = %q, want P36:2", line)
	}

	// Input opening does not.
	if err := s.HandleEvent(protocol.Event{Kind: protocol.EventInput, Channel: 38, On: false}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	waitPublish(t, publishes)
	select {
	case line := <-sender.ch:
		t.Fatalf("unexpected wire line %q on input opening", line)
	case <-time.After(100 * time.Millisecond):
	}

	// A repeated closed report is not a change and fires nothing.
	if err := s.HandleEvent(protocol.Event{Kind: protocol.EventInput, Channel: 38, On: true}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	waitPublish(t, publishes)
	if line := waitWireLine(t, sender); line != "P36:2" {
		t.Errorf("wire line = %q, want P36:2", line)
	}
	if err := s.HandleEvent(protocol.Event{Kind: protocol.EventInput, Channel: 38, On: true}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	expectNoPublish(t, publishes)
	if got := len(sender.sent()); got != 2 {
		t.Errorf("wire lines sent = %d, want 2", got)
	}
}
