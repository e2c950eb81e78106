// Package mqtt provides MQTT client connectivity for the serial bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) on <base>/availability
//   - Connection health monitoring
//
// # Architecture
//
// The bridge publishes channel states to <base>/<channel>/state and
// subscribes to <base>/+/set for output commands. Availability is a
// retained online/offline payload on <base>/availability, backed by an
// LWT so broker-detected disconnects surface to Home Assistant without
// the bridge's cooperation.
//
//	Microcontroller ↔ serial bridge ↔ MQTT Broker ↔ Home Assistant
//
// # Security Considerations
//
//   - TLS is recommended for non-local brokers (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topics := mqtt.Topics{Base: cfg.MQTT.BaseTopic}
//	err = client.Subscribe(topics.CommandPattern(), 1,
//	    func(topic string, payload []byte) error {
//	        // translate into an outbound serial command
//	        return nil
//	    })
package mqtt
