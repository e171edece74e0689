// Package rpc provides a generic pending-request table for correlating
// outbound commands with asynchronous responses.
//
// Devices answer commands out of band on a shared response topic, so the
// transport layer needs a way to hand each response back to the caller
// that sent the matching request. Tracker owns that bookkeeping: request
// ids map to buffered result channels, and every entry is removed on
// resolve, failure, timeout cleanup, or shutdown.
package rpc
