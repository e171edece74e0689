// Package mqtt provides the shared cloud transport session for Vacmesh Core.
//
// This package manages:
//   - Connection to the vendor MQTT broker with auto-reconnect
//   - Per-topic handler registries with ordered fan-out
//   - Request/response correlation by response topic and request id
//   - Connection health monitoring
//
// # Architecture
//
// Every robot in the fleet shares one broker session. Device
// connections subscribe to their own response topics and publish
// commands through the session; the session correlates each command's
// request id, scoped to the device's response topic, with the caller
// awaiting its response. Scoping matters because every device runs its
// own id sequence: the same id can be in flight for two devices at
// once without either resolving the other's request.
//
//	Device Connections ↔ Session ↔ Vendor MQTT Broker ↔ Robots
//
// The session never inspects payloads. Frames are encrypted and
// encoded by the device layer; the session only moves bytes and
// matches ids that callers extract themselves.
//
// # Failure Semantics
//
//   - Connection loss fails every outstanding request with
//     ErrConnectionLost. The session reconnects and restores its
//     subscriptions on its own, but in-flight requests are never
//     silently retried.
//   - Close fails outstanding requests with ErrSessionClosed and
//     rejects further use.
//   - A request timeout discards the pending entry, so a late response
//     cannot leak into a future request that reuses the id.
//
// # Usage
//
//	session, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close()
//
//	// Route a device's inbound frames to its decoder
//	respTopic := "rr/m/o/u1/k1/abc123"
//	sub, err := session.Subscribe(respTopic,
//	    func(topic string, payload []byte) error {
//	        id, body, err := codec.Decode(payload)
//	        if err != nil {
//	            return err
//	        }
//	        session.Resolve(respTopic, id, body)
//	        return nil
//	    })
//	defer sub.Unsubscribe()
//
//	// Send a command and await its response
//	resp, err := session.Request(ctx, "rr/m/i/u1/k1/abc123", respTopic, id, frame, 10*time.Second)
package mqtt
