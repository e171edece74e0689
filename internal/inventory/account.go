package inventory

import (
	"context"
	"errors"
)

// Sentinel errors for account API failures.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrAuthentication is returned when the account API rejects the
	// session credentials. The fleet manager treats this as "no change"
	// and retries on the next reconciliation interval.
	ErrAuthentication = errors.New("inventory: authentication failed")

	// ErrUnavailable is returned when the account API cannot be reached.
	ErrUnavailable = errors.New("inventory: account api unavailable")
)

// AccountAPI fetches the authoritative device inventory for an account.
//
// Implementations live outside this module (the cloud HTTP client);
// the fleet manager depends only on this boundary. Any error from
// FetchInventory leaves the previous snapshot authoritative.
type AccountAPI interface {
	FetchInventory(ctx context.Context) (*Snapshot, error)
}

// AccountAPIFunc adapts a plain function to the AccountAPI interface.
type AccountAPIFunc func(ctx context.Context) (*Snapshot, error)

// FetchInventory implements AccountAPI.
func (f AccountAPIFunc) FetchInventory(ctx context.Context) (*Snapshot, error) {
	return f(ctx)
}
