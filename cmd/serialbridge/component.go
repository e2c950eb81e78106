package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hudrolax/serialbridge/internal/bridge"
	"github.com/hudrolax/serialbridge/internal/infrastructure/config"
	"github.com/hudrolax/serialbridge/internal/infrastructure/database"
	"github.com/hudrolax/serialbridge/internal/infrastructure/influxdb"
	"github.com/hudrolax/serialbridge/internal/infrastructure/logging"
	"github.com/hudrolax/serialbridge/internal/infrastructure/mqtt"
	"github.com/hudrolax/serialbridge/internal/link"
	"github.com/hudrolax/serialbridge/internal/protocol"
	"github.com/hudrolax/serialbridge/internal/state"
)

// restoreTimeout bounds the persisted-state load during startup.
const restoreTimeout = 10 * time.Second

// serialComponent is the supervised serial side of the bridge: the
// link, the state store, and the bridge itself, all rebuilt from a
// fresh config snapshot on every (re)start. The MQTT client, the
// database, and the telemetry sink are long-lived and shared across
// restarts.
type serialComponent struct {
	cfg *config.Config
	log *logging.Logger

	mqttClient   *mqtt.Client
	channelStore *database.ChannelStore
	telemetry    *influxdb.Client

	mu     sync.Mutex
	serial *link.Link
	store  *state.Store
	brg    *bridge.Bridge
}

func newSerialComponent(
	cfg *config.Config,
	log *logging.Logger,
	mqttClient *mqtt.Client,
	channelStore *database.ChannelStore,
	telemetry *influxdb.Client,
) *serialComponent {
	return &serialComponent{
		cfg:          cfg,
		log:          log,
		mqttClient:   mqttClient,
		channelStore: channelStore,
		telemetry:    telemetry,
	}
}

func (c *serialComponent) Name() string { return "serial" }

// Start opens the serial link, restores persisted output states,
// performs the firmware handshake, and drives the relays back to
// where they were. Runtime link failures go to report.
func (c *serialComponent) Start(ctx context.Context, report func(error)) error {
	channels := channelsFromConfig(c.cfg)

	serial := link.New(link.Config{
		Port:           c.cfg.Serial.Port,
		Baud:           c.cfg.Serial.Baud,
		SettleDelay:    c.cfg.SettleDelay(),
		WriteQueueSize: c.cfg.Serial.WriteQueueSize,
	})
	serial.SetLogger(c.log)
	serial.SetOnError(report)

	store := state.New(state.Config{
		Channels:           channels,
		AnalogThreshold:    c.cfg.Channels.AnalogThreshold,
		AckTimeout:         c.cfg.AckTimeout(),
		MaxCommandAttempts: c.cfg.Serial.MaxCommandAttempts,
		Failsafe:           failsafeFromConfig(c.cfg.Channels.Failsafe),
	})
	store.SetLogger(c.log)
	store.SetSender(serial)
	store.SetPersister(c.channelStore)

	restoreCtx, cancel := context.WithTimeout(ctx, restoreTimeout)
	restored, err := c.channelStore.Outputs(restoreCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("loading persisted output states: %w", err)
	}
	store.Restore(restored)

	brg := bridge.New(bridge.Config{
		DeviceName:        c.cfg.Device.Name,
		Manufacturer:      c.cfg.Device.Manufacturer,
		Model:             c.cfg.Device.Model,
		BaseTopic:         c.cfg.MQTT.BaseTopic,
		DiscoveryPrefix:   c.cfg.MQTT.DiscoveryPrefix,
		RetainDiscovery:   c.cfg.MQTT.RetainDiscovery,
		QoS:               byte(c.cfg.MQTT.QoS),
		Channels:          channels,
		HandshakeAttempts: c.cfg.Serial.HandshakeAttempts,
		Version:           version,
	}, c.mqttClient, store, serial)
	brg.SetLogger(c.log)
	if c.telemetry != nil {
		brg.SetTelemetry(c.telemetry)
	}
	store.SetOnPublish(brg.HandlePublish)

	if err := serial.Open(); err != nil {
		return fmt.Errorf("opening serial link: %w", err)
	}

	store.Start()

	if err := brg.Start(); err != nil {
		store.Close()
		serial.Close() //nolint:errcheck // Best effort cleanup on error path
		return fmt.Errorf("starting bridge: %w", err)
	}

	if err := brg.Handshake(ctx); err != nil {
		brg.Close()
		store.Close()
		serial.Close() //nolint:errcheck // Best effort cleanup on error path
		return err
	}

	// Drive the controller back to the persisted relay states. Each
	// command goes through the normal issuance path, so it is acked,
	// retried, and re-persisted like any other.
	for id, on := range restored {
		value := protocol.OutputOff
		if on {
			value = protocol.OutputOn
		}
		if err := store.Command(id, value); err != nil {
			c.log.Warn("restoring output state failed", "channel", id, "error", err)
		}
	}

	c.mu.Lock()
	c.serial = serial
	c.store = store
	c.brg = brg
	c.mu.Unlock()

	return nil
}

// Stop tears the serial side down in reverse order of Start.
func (c *serialComponent) Stop() {
	c.mu.Lock()
	serial, store, brg := c.serial, c.store, c.brg
	c.serial, c.store, c.brg = nil, nil, nil
	c.mu.Unlock()

	if brg != nil {
		brg.Close()
	}
	if store != nil {
		store.Close()
	}
	if serial != nil {
		if err := serial.Close(); err != nil {
			c.log.Warn("closing serial link", "error", err)
		}
	}
}

// channelsFromConfig maps the configured channel definitions to
// store channels.
func channelsFromConfig(cfg *config.Config) []state.Channel {
	channels := make([]state.Channel, 0,
		len(cfg.Channels.Inputs)+len(cfg.Channels.Outputs)+len(cfg.Channels.Analog))

	for _, def := range cfg.Channels.Inputs {
		channels = append(channels, state.Channel{ID: def.ID, Kind: state.DigitalInput, Label: def.Label})
	}
	for _, def := range cfg.Channels.Outputs {
		channels = append(channels, state.Channel{ID: def.ID, Kind: state.DigitalOutput, Label: def.Label})
	}
	for _, def := range cfg.Channels.Analog {
		channels = append(channels, state.Channel{ID: def.ID, Kind: state.Analog, Label: def.Label})
	}
	return channels
}

// failsafeFromConfig converts the configured bindings to the store's
// input-to-output map.
func failsafeFromConfig(bindings []config.FailsafeBinding) map[int]int {
	if len(bindings) == 0 {
		return nil
	}
	failsafe := make(map[int]int, len(bindings))
	for _, fb := range bindings {
		failsafe[fb.Input] = fb.Output
	}
	return failsafe
}
