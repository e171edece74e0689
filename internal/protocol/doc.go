// Package protocol implements the wire framing shared by the cloud and
// local device transports.
//
// A frame is a fixed 15-byte header (version, request id, timestamp,
// payload length), the opaque payload, and a CRC-32 trailer. The
// request id is what the fleet layer uses to correlate a response with
// the command that caused it; everything inside the payload is
// vendor-specific and opaque to this package.
//
// The codec deliberately knows nothing about encryption. Device
// payloads are encrypted with per-device keys by the vendor adapter
// before they reach the core, so a frame's payload is just bytes here.
package protocol
