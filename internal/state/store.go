package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hudrolax/serialbridge/internal/protocol"
)

const (
	// queueSize bounds the inbound event/command queue. The firmware
	// produces at most a few lines per second, so this never fills in
	// practice.
	queueSize = 128

	// persistTimeout bounds each SQLite write from the actor loop.
	persistTimeout = 5 * time.Second

	// idleWait is the deadline-check interval when no command is pending.
	idleWait = time.Hour
)

// Sender transmits one encoded wire line to the controller.
// *link.Link satisfies this.
type Sender interface {
	Write(line string) error
}

// Persister records confirmed output states.
// *database.ChannelStore satisfies this.
type Persister interface {
	SaveOutput(ctx context.Context, channel int, on bool) error
}

// Logger is the minimal logging interface the store needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log output.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config contains the store's tunables.
type Config struct {
	// Channels lists every configured I/O point.
	Channels []Channel

	// AnalogThreshold is the hysteresis delta. An analog sample is
	// publish-worthy only when it differs from the last published
	// value by strictly more than this.
	AnalogThreshold int

	// AckTimeout is how long to wait for an acknowledgement before
	// retrying an output command.
	AckTimeout time.Duration

	// MaxCommandAttempts is the total number of sends (first try plus
	// retries) before a command is given up as unconfirmed.
	MaxCommandAttempts int

	// Failsafe maps input channels to output channels toggled locally
	// when that input closes, so wall switches stay usable without the
	// broker.
	Failsafe map[int]int
}

// message is one unit of work for the actor loop. Events and command
// issuances share the queue so their relative order is preserved.
type message struct {
	event *protocol.Event
	cmd   *commandRequest
	snap  chan []Snapshot
}

// commandRequest is an output command awaiting issuance.
type commandRequest struct {
	channel int
	value   protocol.OutputValue
}

// Store owns all channel state. A single actor goroutine applies
// every mutation, so decoded events and command issuances are
// processed in arrival order with no locking on the hot path.
//
// Publish-worthy changes are delivered through the OnPublish callback
// from the actor goroutine; the callback must not block.
type Store struct {
	cfg      Config
	channels map[int]*channelState

	queue chan message
	done  chan struct{}
	wg    sync.WaitGroup

	mu        sync.Mutex
	started   bool
	logger    Logger
	sender    Sender
	persister Persister
	onPublish func(ch Channel, value int)

	// now is replaceable for tests.
	now func() time.Time

	nextCommandID uint64
}

// New creates a store for the given channel set.
//
// Parameters:
//   - cfg: Channel definitions and tunables
//
// Returns:
//   - *Store: Store ready for Restore/Start
func New(cfg Config) *Store {
	channels := make(map[int]*channelState, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		channels[key(ch.Kind, ch.ID)] = &channelState{channel: ch}
	}

	return &Store{
		cfg:      cfg,
		channels: channels,
		queue:    make(chan message, queueSize),
		done:     make(chan struct{}),
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// key disambiguates channels that share a pin number across kinds.
func key(kind Kind, id int) int {
	return int(kind)*10000 + id
}

// SetLogger sets the logger. Must be called before Start.
func (s *Store) SetLogger(logger Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetSender sets the wire transmitter used for output commands.
// Must be called before Start.
func (s *Store) SetSender(sender Sender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sender = sender
}

// SetPersister sets the confirmed-state recorder. Optional; without
// one, confirmed states are not persisted. Must be called before Start.
func (s *Store) SetPersister(p Persister) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persister = p
}

// SetOnPublish sets the callback receiving publish-worthy values.
// For digital channels value is 0 or 1; for analog it is the raw
// sample. Called from the actor goroutine. Must be set before Start.
func (s *Store) SetOnPublish(callback func(ch Channel, value int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPublish = callback
}

// Restore seeds output channels with their persisted states.
// Must be called before Start; restored states count as known and
// publish-worthy so the first MQTT publish reflects them.
func (s *Store) Restore(outputs map[int]bool) {
	for id, on := range outputs {
		cs, ok := s.channels[key(DigitalOutput, id)]
		if !ok {
			s.logger.Warn("persisted state for unconfigured output dropped", "channel", id)
			continue
		}
		cs.known = true
		cs.lastValue = boolValue(on)
		cs.confirmation = Confirmed
		cs.lastUpdatedAt = s.now()
	}
}

// Start launches the actor loop.
func (s *Store) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	s.wg.Add(1)
	go s.run()
}

// Close stops the actor loop and waits for it to exit.
// Safe to call multiple times.
func (s *Store) Close() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	select {
	case <-s.done:
		s.mu.Unlock()
		return
	default:
	}
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
}

// HandleEvent enqueues a decoded wire event for processing.
//
// Parameters:
//   - event: Decoded event from the codec
//
// Returns:
//   - error: ErrQueueFull if the store cannot keep up
func (s *Store) HandleEvent(event protocol.Event) error {
	ev := event
	return s.enqueue(message{event: &ev})
}

// Command requests an output state change. The command is validated
// against the channel table synchronously, then queued behind any
// events already received so ordering is preserved.
//
// Parameters:
//   - channel: Output channel number
//   - value: Desired state (off/on/toggle)
//
// Returns:
//   - error: ErrUnknownChannel, ErrNotOutput, or ErrQueueFull
func (s *Store) Command(channel int, value protocol.OutputValue) error {
	if _, ok := s.channels[key(DigitalOutput, channel)]; !ok {
		for _, cs := range s.channels {
			if cs.channel.ID == channel {
				return fmt.Errorf("%w: channel %d is %s", ErrNotOutput, channel, cs.channel.Kind)
			}
		}
		return fmt.Errorf("%w: channel %d", ErrUnknownChannel, channel)
	}

	return s.enqueue(message{cmd: &commandRequest{channel: channel, value: value}})
}

// Snapshots returns a copy of every channel's current state, in no
// particular order. Used for reconnect re-publishes.
//
// Returns:
//   - []Snapshot: One entry per configured channel
func (s *Store) Snapshots() []Snapshot {
	reply := make(chan []Snapshot, 1)
	if err := s.enqueue(message{snap: reply}); err != nil {
		return nil
	}
	select {
	case snaps := <-reply:
		return snaps
	case <-s.done:
		return nil
	}
}

func (s *Store) enqueue(msg message) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	select {
	case s.queue <- msg:
		return nil
	case <-s.done:
		return ErrClosed
	default:
		return ErrQueueFull
	}
}

// run is the actor loop: the only goroutine that mutates channel state.
func (s *Store) run() {
	defer s.wg.Done()

	timer := time.NewTimer(idleWait)
	defer timer.Stop()

	for {
		s.resetTimer(timer)

		select {
		case msg := <-s.queue:
			s.handle(msg)
		case <-timer.C:
			s.checkDeadlines()
		case <-s.done:
			return
		}
	}
}

// resetTimer arms the timer for the earliest pending deadline.
func (s *Store) resetTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}

	wait := idleWait
	now := s.now()
	for _, cs := range s.channels {
		if cs.pending == nil {
			continue
		}
		if d := cs.pending.deadline.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}
	timer.Reset(wait)
}

func (s *Store) handle(msg message) {
	switch {
	case msg.event != nil:
		s.applyEvent(*msg.event)
	case msg.cmd != nil:
		s.issueCommand(msg.cmd.channel, msg.cmd.value)
	case msg.snap != nil:
		msg.snap <- s.snapshots()
	}
}

func (s *Store) applyEvent(event protocol.Event) {
	switch event.Kind {
	case protocol.EventInput:
		s.applyInput(event.Channel, event.On)
	case protocol.EventAnalog:
		s.applyAnalog(event.Channel, event.Value)
	case protocol.EventAck:
		s.applyAck(event.Channel, event.On)
	case protocol.EventHandshake:
		s.logger.Debug("handshake acknowledged", "channel", event.Channel)
	}
}

// applyInput records a digital input report; a changed (or first)
// value is publish-worthy. A changed-to-on report on a failsafe-bound
// input also toggles its bound output directly.
func (s *Store) applyInput(channel int, on bool) {
	cs, ok := s.channels[key(DigitalInput, channel)]
	if !ok {
		s.logger.Debug("input report for unconfigured channel dropped", "channel", channel)
		return
	}

	value := boolValue(on)
	changed := !cs.known || cs.lastValue != value

	cs.known = true
	cs.lastValue = value
	cs.lastUpdatedAt = s.now()

	if changed {
		s.publish(cs, value)
	}
	if changed && on {
		if out, bound := s.cfg.Failsafe[channel]; bound {
			if _, ok := s.channels[key(DigitalOutput, out)]; ok {
				s.logger.Info("failsafe binding fired", "input", channel, "output", out)
				s.issueCommand(out, protocol.OutputToggle)
			}
		}
	}
}

// applyAnalog records a sample; publish-worthy only past the
// hysteresis threshold. Equal-to-threshold deltas are suppressed.
func (s *Store) applyAnalog(channel, value int) {
	cs, ok := s.channels[key(Analog, channel)]
	if !ok {
		s.logger.Debug("analog sample for unconfigured channel dropped", "channel", channel)
		return
	}

	cs.known = true
	cs.lastValue = value
	cs.lastUpdatedAt = s.now()

	if cs.published && abs(value-cs.lastPublishedValue) <= s.cfg.AnalogThreshold {
		return
	}
	s.publish(cs, value)
}

// applyAck resolves a pending output command. Acks that do not match
// the currently pending command belong to a superseded one and are
// discarded.
func (s *Store) applyAck(channel int, on bool) {
	cs, ok := s.channels[key(DigitalOutput, channel)]
	if !ok {
		s.logger.Debug("ack for unconfigured channel dropped", "channel", channel)
		return
	}

	p := cs.pending
	if p == nil {
		s.logger.Debug("ack with no pending command dropped", "channel", channel, "on", on)
		return
	}
	if p.value != protocol.OutputToggle && boolValue(on) != int(p.value) {
		s.logger.Debug("stale ack dropped",
			"channel", channel, "ack_on", on, "pending", p.value.String())
		return
	}

	cs.pending = nil
	cs.known = true
	cs.lastValue = boolValue(on)
	cs.confirmation = Confirmed
	cs.lastUpdatedAt = s.now()

	s.logger.Info("output confirmed", "channel", channel, "on", on)
	s.persist(channel, on)
	s.publish(cs, cs.lastValue)
}

// issueCommand sends a command to the wire and arms its ack deadline.
// A command on a channel with one already pending supersedes it.
func (s *Store) issueCommand(channel int, value protocol.OutputValue) {
	cs := s.channels[key(DigitalOutput, channel)]

	if cs.pending != nil {
		s.logger.Info("pending command superseded",
			"channel", channel, "old", cs.pending.value.String(), "new", value.String())
	}

	s.nextCommandID++
	cs.pending = &pendingCommand{
		id:       s.nextCommandID,
		value:    value,
		attempts: 1,
		deadline: s.now().Add(s.cfg.AckTimeout),
	}

	s.send(cs, channel, value)
}

// checkDeadlines retries or abandons commands whose ack deadline passed.
func (s *Store) checkDeadlines() {
	now := s.now()
	for _, cs := range s.channels {
		p := cs.pending
		if p == nil || p.deadline.After(now) {
			continue
		}

		if p.attempts >= s.cfg.MaxCommandAttempts {
			s.logger.Warn("output command unconfirmed, giving up",
				"channel", cs.channel.ID, "value", p.value.String(), "attempts", p.attempts)
			cs.pending = nil
			cs.confirmation = Unconfirmed
			continue
		}

		p.attempts++
		p.deadline = now.Add(s.cfg.AckTimeout)
		s.logger.Warn("ack timeout, retrying command",
			"channel", cs.channel.ID, "value", p.value.String(), "attempt", p.attempts)
		s.send(cs, cs.channel.ID, p.value)
	}
}

func (s *Store) send(cs *channelState, channel int, value protocol.OutputValue) {
	if s.sender == nil {
		return
	}
	line := protocol.EncodeCommand(channel, value)
	if err := s.sender.Write(line); err != nil {
		s.logger.Error("writing command to wire", "channel", channel, "error", err)
	}
}

func (s *Store) publish(cs *channelState, value int) {
	cs.published = true
	cs.lastPublishedValue = value
	if s.onPublish != nil {
		s.onPublish(cs.channel, value)
	}
}

func (s *Store) persist(channel int, on bool) {
	if s.persister == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.persister.SaveOutput(ctx, channel, on); err != nil {
		s.logger.Error("persisting confirmed output state", "channel", channel, "error", err)
	}
}

func (s *Store) snapshots() []Snapshot {
	snaps := make([]Snapshot, 0, len(s.channels))
	for _, cs := range s.channels {
		snaps = append(snaps, Snapshot{
			Channel:      cs.channel,
			Known:        cs.known,
			Value:        cs.lastValue,
			Confirmation: cs.confirmation,
			UpdatedAt:    cs.lastUpdatedAt,
		})
	}
	return snaps
}

func boolValue(on bool) int {
	if on {
		return 1
	}
	return 0
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
