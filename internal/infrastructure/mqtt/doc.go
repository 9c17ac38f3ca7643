// Package mqtt provides MQTT client connectivity for the mesh core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions, restored after reconnect
//   - A retained core status with Last Will for offline detection
//
// # Architecture
//
// The radio daemon that drives the physical coordinator talks to the core
// over MQTT. Requests, responses and network events are exchanged on
// graylogic/mesh/{bridge}/... topics; see Topics.
//
//	Mesh Core ↔ MQTT Broker ↔ Radio Daemon
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.BridgeEvents("radio0"), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(mqtt.LastSegment(topic), payload)
//	    })
package mqtt
