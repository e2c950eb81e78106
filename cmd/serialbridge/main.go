// serialbridge bridges a microcontroller on a serial link to an MQTT
// broker for Home Assistant: digital inputs, acknowledged relay
// outputs, and analog channels, announced via MQTT discovery, with an
// optional hardware watchdog fed over a second serial port.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hudrolax/serialbridge/internal/infrastructure/config"
	"github.com/hudrolax/serialbridge/internal/infrastructure/database"
	"github.com/hudrolax/serialbridge/internal/infrastructure/influxdb"
	"github.com/hudrolax/serialbridge/internal/infrastructure/logging"
	"github.com/hudrolax/serialbridge/internal/infrastructure/mqtt"
	"github.com/hudrolax/serialbridge/internal/supervisor"
	"github.com/hudrolax/serialbridge/internal/watchdog"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on interrupt signals for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting serialbridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	// Open database and apply migrations
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	channelStore := database.NewChannelStore(db)

	// Connect to MQTT broker; the LWT marks us offline if we die
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttClient.SetLogger(log)
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Start the hardware watchdog pinger (optional)
	var pinger *watchdog.Pinger
	if cfg.Watchdog.Enabled {
		pinger = watchdog.New(watchdog.Config{
			Port:        cfg.Watchdog.Port,
			Baud:        cfg.Watchdog.Baud,
			Interval:    cfg.WatchdogInterval(),
			MaxFailures: cfg.Watchdog.MaxFailures,
		})
		pinger.SetLogger(log)
		if err := pinger.Start(); err != nil {
			return fmt.Errorf("starting watchdog pinger: %w", err)
		}
		defer func() {
			log.Info("stopping watchdog pinger")
			if closeErr := pinger.Close(); closeErr != nil {
				log.Error("error closing watchdog port", "error", closeErr)
			}
		}()
	} else {
		log.Info("hardware watchdog disabled")
	}

	// Supervise the serial side; reloads rebuild it from a fresh
	// config snapshot
	sup := supervisor.New(
		func() (*config.Config, error) { return config.Load(configPath) },
		func(snapshot *config.Config) ([]supervisor.Component, error) {
			return []supervisor.Component{
				newSerialComponent(snapshot, log, mqttClient, channelStore, influxClient),
			}, nil
		},
		supervisor.DefaultBackoff(),
	)
	sup.SetLogger(log)
	if pinger != nil {
		sup.SetOnFailure(func(name string, err error) {
			log.Warn("component failure reported", "component", name, "error", err)
			pinger.ReportFailure()
		})
		sup.SetOnRecovery(func(string) { pinger.ReportRecovery() })
	}

	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("starting supervisor: %w", err)
	}
	defer func() {
		log.Info("stopping supervisor")
		sup.Stop()
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	// SIGHUP triggers a config reload (the admin UI edits the same
	// file and signals us)
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-hup:
			log.Info("SIGHUP received, reloading configuration")
			if err := sup.Reload(); err != nil {
				log.Error("config reload failed", "error", err)
			}
		case <-ctx.Done():
			log.Info("shutdown signal received, cleaning up")
			// Deferred cleanups run in reverse order: supervisor,
			// watchdog, InfluxDB, MQTT (publishes offline), database.
			log.Info("serialbridge stopped")
			return nil
		}
	}
}

// getConfigPath returns the configuration file path.
// Uses SERIALBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SERIALBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
