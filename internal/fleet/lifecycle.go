package fleet

// State is the lifecycle state of a managed device.
//
// Devices move through a fixed state machine:
//
//	Discovered → Mapped → Connected ⇄ Disconnected
//	                 ↘        ↓            ↙
//	                       Removed
//
// Removed is terminal. A device missing from the account inventory for
// the configured number of consecutive reconciliation cycles is
// removed; if it later reappears it is treated as a brand-new device.
type State int

const (
	// StateDiscovered means the descriptor has been seen but capabilities
	// are not yet computed.
	StateDiscovered State = iota

	// StateMapped means capabilities are computed and the device is
	// usable for capability queries, connected or not.
	StateMapped

	// StateConnected means a transport channel is live.
	StateConnected

	// StateDisconnected means the transport dropped or never came up;
	// the connection keeps retrying in the background.
	StateDisconnected

	// StateRemoved means the device left the account inventory. Terminal.
	StateRemoved
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateMapped:
		return "mapped"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// CanTransition reports whether moving from s to next is a valid
// lifecycle transition.
func (s State) CanTransition(next State) bool {
	switch s {
	case StateDiscovered:
		return next == StateMapped || next == StateRemoved
	case StateMapped:
		return next == StateConnected || next == StateDisconnected || next == StateRemoved
	case StateConnected:
		return next == StateDisconnected || next == StateRemoved
	case StateDisconnected:
		return next == StateConnected || next == StateRemoved
	case StateRemoved:
		return false
	default:
		return false
	}
}
