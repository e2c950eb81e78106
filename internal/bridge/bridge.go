package bridge

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hudrolax/serialbridge/internal/infrastructure/mqtt"
	"github.com/hudrolax/serialbridge/internal/protocol"
	"github.com/hudrolax/serialbridge/internal/state"
)

// Publisher is the MQTT surface the bridge needs. *mqtt.Client
// satisfies this; tests use a fake.
type Publisher interface {
	PublishString(topic string, payload string, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	SetOnConnect(callback func())
	IsConnected() bool
}

// Store is the device-state surface the bridge needs. *state.Store
// satisfies this.
type Store interface {
	HandleEvent(event protocol.Event) error
	Command(channel int, value protocol.OutputValue) error
	Snapshots() []state.Snapshot
}

// Link is the serial surface the bridge needs. *link.Link satisfies
// this.
type Link interface {
	Lines() <-chan string
	Write(line string) error
}

// Telemetry receives channel activity for time-series recording.
// *influxdb.Client satisfies this. Optional.
type Telemetry interface {
	WriteAnalogSample(channel int, label string, value int)
	WriteInputEvent(channel int, on bool)
	WriteOutputEvent(channel int, on bool)
}

// Logger is the minimal logging interface the bridge needs.
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

// Config contains the bridge's settings.
type Config struct {
	// DeviceName identifies the bridge in discovery payloads and
	// unique IDs.
	DeviceName string

	// Manufacturer and Model fill the discovery device block.
	Manufacturer string
	Model        string

	// BaseTopic is the channel topic root (no trailing slash).
	BaseTopic string

	// DiscoveryPrefix is the Home Assistant discovery root, normally
	// "homeassistant".
	DiscoveryPrefix string

	// RetainDiscovery publishes discovery configs retained.
	RetainDiscovery bool

	// QoS applies to all bridge publishes and subscriptions.
	QoS byte

	// Channels lists every configured I/O point.
	Channels []state.Channel

	// HandshakeAttempts is how many times to probe the firmware
	// before giving up during startup.
	HandshakeAttempts int

	// HandshakeTimeout is the wait per handshake attempt.
	HandshakeTimeout time.Duration

	// Version is reported in the discovery device block.
	Version string
}

// Stats counts soft failures on the serial-to-MQTT path.
type Stats struct {
	// UnparsableLines is the number of wire lines the codec rejected.
	UnparsableLines uint64

	// DroppedCommands is the number of MQTT commands dropped for
	// unknown channels or bad payloads.
	DroppedCommands uint64
}

// Bridge connects the serial side to the MQTT side: it pumps decoded
// wire events into the store, publishes the store's publish-worthy
// values, announces channels via Home Assistant discovery, and turns
// MQTT commands into output issuances.
type Bridge struct {
	cfg    Config
	topics mqtt.Topics

	client Publisher
	store  Store
	link   Link

	// byWireName resolves command topics to channels.
	byWireName map[string]state.Channel

	handshakeC chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup

	mu        sync.Mutex
	started   bool
	logger    Logger
	telemetry Telemetry

	statsMu sync.Mutex
	stats   Stats
}

// New creates a bridge. SetLogger/SetTelemetry may be called before
// Start; the client, store and link are required.
//
// Parameters:
//   - cfg: Bridge settings
//   - client: MQTT publisher
//   - store: Device state store
//   - link: Serial link
//
// Returns:
//   - *Bridge: Bridge ready for Start
func New(cfg Config, client Publisher, store Store, link Link) *Bridge {
	if cfg.HandshakeAttempts <= 0 {
		cfg.HandshakeAttempts = 3
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 2 * time.Second
	}

	byWireName := make(map[string]state.Channel, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		byWireName[ch.WireName()] = ch
	}

	return &Bridge{
		cfg:        cfg,
		topics:     mqtt.Topics{Base: cfg.BaseTopic},
		client:     client,
		store:      store,
		link:       link,
		byWireName: byWireName,
		handshakeC: make(chan struct{}, 1),
		done:       make(chan struct{}),
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger. Must be called before Start.
func (b *Bridge) SetLogger(logger Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
}

// SetTelemetry sets the optional time-series sink. Must be called
// before Start.
func (b *Bridge) SetTelemetry(t Telemetry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.telemetry = t
}

// Start subscribes to the command topics, registers the reconnect
// hook, publishes discovery and the current states, and launches the
// serial pump.
//
// Returns:
//   - error: If the command subscription fails
func (b *Bridge) Start() error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = true
	b.mu.Unlock()

	if err := b.client.Subscribe(b.topics.CommandPattern(), b.cfg.QoS, b.handleCommand); err != nil {
		return fmt.Errorf("subscribing to command topics: %w", err)
	}

	// On every (re)connect the broker gets a full picture: discovery
	// configs plus the last known state of each channel, without
	// waiting for new device data.
	b.client.SetOnConnect(b.publishAll)

	if b.client.IsConnected() {
		b.publishAll()
	}

	b.wg.Add(1)
	go b.pump()

	return nil
}

// Close stops the serial pump. The MQTT client is owned by the
// caller and is not touched.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
	})
	b.wg.Wait()
}

// Stats returns a snapshot of the soft-failure counters.
func (b *Bridge) Stats() Stats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return b.stats
}

// Handshake probes the firmware until it answers or attempts are
// exhausted. Call after the link is open and the pump is running.
//
// Parameters:
//   - ctx: Context for cancellation
//
// Returns:
//   - error: ErrHandshakeFailed if the firmware never answered
func (b *Bridge) Handshake(ctx context.Context) error {
	// Drain any stale signal from a previous attempt.
	select {
	case <-b.handshakeC:
	default:
	}

	for attempt := 1; attempt <= b.cfg.HandshakeAttempts; attempt++ {
		if err := b.link.Write(protocol.EncodeHandshake()); err != nil {
			b.logger.Warn("handshake write failed", "attempt", attempt, "error", err)
		}

		timer := time.NewTimer(b.cfg.HandshakeTimeout)
		select {
		case <-b.handshakeC:
			timer.Stop()
			b.logger.Info("firmware handshake complete", "attempt", attempt)
			return nil
		case <-timer.C:
			b.logger.Warn("handshake timeout", "attempt", attempt)
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-b.done:
			timer.Stop()
			return ErrClosed
		}
	}

	return fmt.Errorf("%w: no answer after %d attempts", ErrHandshakeFailed, b.cfg.HandshakeAttempts)
}

// HandlePublish is the store's publish callback: it formats and
// publishes one channel value, retained, and feeds telemetry.
func (b *Bridge) HandlePublish(ch state.Channel, value int) {
	topic := b.topics.ChannelState(ch.WireName())
	payload := formatValue(ch.Kind, value)

	if err := b.client.PublishString(topic, payload, b.cfg.QoS, true); err != nil {
		b.logger.Error("publishing channel state",
			"channel", ch.WireName(), "payload", payload, "error", err)
	}

	b.mu.Lock()
	telemetry := b.telemetry
	b.mu.Unlock()
	if telemetry == nil {
		return
	}

	switch ch.Kind {
	case state.Analog:
		telemetry.WriteAnalogSample(ch.ID, ch.Label, value)
	case state.DigitalInput:
		telemetry.WriteInputEvent(ch.ID, value != 0)
	case state.DigitalOutput:
		telemetry.WriteOutputEvent(ch.ID, value != 0)
	}
}

// pump reads wire lines, decodes them, and routes events. The pump
// exits when the link's line channel closes (link failure) or the
// bridge is closed.
func (b *Bridge) pump() {
	defer b.wg.Done()

	for {
		select {
		case line, ok := <-b.link.Lines():
			if !ok {
				b.logger.Info("serial line channel closed, pump exiting")
				return
			}
			b.handleLine(line)
		case <-b.done:
			return
		}
	}
}

func (b *Bridge) handleLine(line string) {
	event, err := protocol.Decode(line)
	if err != nil {
		b.countUnparsable()
		b.logger.Debug("unparsable wire line dropped", "line", line, "error", err)
		return
	}

	if event.Kind == protocol.EventHandshake {
		select {
		case b.handshakeC <- struct{}{}:
		default:
		}
	}

	if err := b.store.HandleEvent(event); err != nil {
		b.logger.Error("routing wire event", "kind", event.Kind.String(), "error", err)
	}
}

// publishAll sends discovery configs and every channel's last known
// state. Runs on connect and reconnect.
func (b *Bridge) publishAll() {
	b.logger.Info("publishing discovery and current states")

	if err := b.PublishDiscovery(); err != nil {
		b.logger.Error("publishing discovery configs", "error", err)
	}

	for _, snap := range b.store.Snapshots() {
		if !snap.Known {
			continue
		}
		b.HandlePublish(snap.Channel, snap.Value)
	}
}

// formatValue renders a channel value as its MQTT payload: ON/OFF
// for digital channels, the decimal sample for analog ones.
func formatValue(kind state.Kind, value int) string {
	if kind == state.Analog {
		return strconv.Itoa(value)
	}
	if value != 0 {
		return "ON"
	}
	return "OFF"
}

func (b *Bridge) countUnparsable() {
	b.statsMu.Lock()
	b.stats.UnparsableLines++
	b.statsMu.Unlock()
}

func (b *Bridge) countDropped() {
	b.statsMu.Lock()
	b.stats.DroppedCommands++
	b.statsMu.Unlock()
}
