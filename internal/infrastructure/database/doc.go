// Package database provides the SQLite connection used by the local
// device cache.
//
// The cache exists so that the fleet manager can start and expose a
// usable device list without any network connectivity. Corruption or
// absence of the database never propagates past the cache layer; the
// manager degrades to an empty inventory and a background refresh.
//
// Schema management is owned by the inventory store, which creates its
// tables on first use. There is no migration framework: the cache is
// disposable and can always be rebuilt from the account API.
package database
