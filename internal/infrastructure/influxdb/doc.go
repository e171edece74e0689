// Package influxdb provides the optional fleet telemetry sink.
//
// This package manages:
//   - Connection to an InfluxDB v2 server with token authentication
//   - Non-blocking, batched writes of fleet telemetry
//   - Health monitoring
//
// # Telemetry Model
//
// The fleet manager records three measurements:
//   - device_lifecycle: every lifecycle state transition per device
//   - command_latency: round-trip time and outcome per device command
//   - reconciliation: per-cycle inventory reconciliation outcomes
//
// Telemetry is strictly best-effort. The client drops writes silently
// when disconnected, write errors surface only through the optional
// SetOnError callback, and a disabled or unreachable InfluxDB never
// affects fleet operation.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without telemetry
//	}
//	defer client.Close()
//
//	client.WriteLifecycleTransition("abc123", "roborock.vacuum.a87", "mapped", "connected")
package influxdb
