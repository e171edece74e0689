// Package fleet orchestrates the robot vacuum fleet.
//
// This package manages:
//   - The device inventory: cached startup, periodic reconciliation
//     against the vendor account, missing-device debounce
//   - One connection per device, bridging its topics to the shared
//     cloud session or a dedicated LAN transport
//   - Lifecycle state and listener notifications
//   - The command surface (Send) with per-call timeouts
//
// # Architecture
//
//	           ┌──────────┐   fetch_inventory    ┌─────────┐
//	           │ Manager  │─────────────────────▶│ Account │
//	           └────┬─────┘                      └─────────┘
//	      ┌─────────┼─────────┐
//	   ┌──▼──┐   ┌──▼──┐   ┌──▼──┐        one Conn per device
//	   │Conn │   │Conn │   │Conn │
//	   └──┬──┘   └──┬──┘   └──┬──┘
//	   local      mqtt      mqtt          channels by descriptor
//
// The manager holds the inventory map; each Conn reports transitions
// through a one-way callback and holds no reference back. Startup
// reads only the cache — the fleet maps and announces device_ready
// with zero network connectivity, and the first account refresh
// happens in the background.
//
// # Failure Containment
//
// Background failures (refresh errors, reconnect attempts) never
// surface as errors; they appear only as lifecycle notifications and
// log lines. Command failures surface synchronously to the one caller
// of Send and affect nothing else.
package fleet
