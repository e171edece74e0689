package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vacmesh/vacmesh-core/internal/capability"
	"github.com/vacmesh/vacmesh-core/internal/inventory"
)

// Logger defines the logging interface used by the Store.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Store persists the inventory snapshot and capability overrides in
// SQLite so the fleet manager can start without network connectivity.
//
// All read paths degrade to "absent" on corruption or schema problems;
// cache trouble is logged, never surfaced to the core. The cache is
// disposable and rebuilds from the account API.
type Store struct {
	db     *sql.DB
	logger Logger
}

// NewStore creates the cache store and ensures its schema exists.
//
// Parameters:
//   - ctx: Context for schema creation
//   - db: Open SQLite connection
//
// Returns:
//   - *Store: Store ready for use
//   - error: If the schema cannot be created
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	s := &Store{
		db:     db,
		logger: noopLogger{},
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("creating cache schema: %w", err)
	}
	return s, nil
}

// SetLogger sets the logger for cache diagnostics.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// ensureSchema creates the cache tables if they do not exist.
func (s *Store) ensureSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS inventory_snapshot (
		id         INTEGER PRIMARY KEY CHECK (id = 1),
		fetched_at TEXT NOT NULL,
		payload    TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS capability_overrides (
		duid             TEXT PRIMARY KEY,
		firmware_version TEXT NOT NULL,
		features         TEXT NOT NULL,
		updated_at       TEXT NOT NULL
	);`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// LoadInventory returns the cached inventory snapshot, or nil if no
// snapshot is cached. Corruption degrades to nil rather than an error.
//
// Returns:
//   - *inventory.Snapshot: Cached snapshot, or nil when absent
//   - error: Only for unexpected database failures
func (s *Store) LoadInventory(ctx context.Context) (*inventory.Snapshot, error) {
	var fetchedAt, payload string
	err := s.db.QueryRowContext(ctx,
		"SELECT fetched_at, payload FROM inventory_snapshot WHERE id = 1",
	).Scan(&fetchedAt, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cached inventory: %w", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, fetchedAt)
	if err != nil {
		s.logger.Warn("cached inventory timestamp corrupt, treating as absent", "error", err)
		return nil, nil
	}

	var devices []inventory.Descriptor
	if err := json.Unmarshal([]byte(payload), &devices); err != nil {
		s.logger.Warn("cached inventory payload corrupt, treating as absent", "error", err)
		return nil, nil
	}

	return &inventory.Snapshot{FetchedAt: ts, Devices: devices}, nil
}

// StoreInventory replaces the cached inventory snapshot.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - snap: Snapshot to persist
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (s *Store) StoreInventory(ctx context.Context, snap *inventory.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("snapshot is required")
	}

	payload, err := json.Marshal(snap.Devices)
	if err != nil {
		return fmt.Errorf("marshalling inventory: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO inventory_snapshot (id, fetched_at, payload) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET fetched_at = excluded.fetched_at, payload = excluded.payload`,
		snap.FetchedAt.UTC().Format(time.RFC3339Nano),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("storing inventory: %w", err)
	}

	s.logger.Debug("inventory snapshot cached", "devices", len(snap.Devices))
	return nil
}

// LoadOverride returns the persisted capability override for a device,
// or nil if none is stored. Corruption degrades to nil.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - duid: Device unique identifier
//
// Returns:
//   - *capability.Override: Stored override, or nil when absent
//   - error: Only for unexpected database failures
func (s *Store) LoadOverride(ctx context.Context, duid string) (*capability.Override, error) {
	var firmware, features string
	err := s.db.QueryRowContext(ctx,
		"SELECT firmware_version, features FROM capability_overrides WHERE duid = ?",
		duid,
	).Scan(&firmware, &features)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading override for %s: %w", duid, err)
	}

	var featureMap map[capability.Feature]bool
	if err := json.Unmarshal([]byte(features), &featureMap); err != nil {
		s.logger.Warn("cached override corrupt, treating as absent", "duid", duid, "error", err)
		return nil, nil
	}

	return &capability.Override{
		FirmwareVersion: firmware,
		Features:        featureMap,
	}, nil
}

// StoreOverride persists a capability override for a device, replacing
// any previous one.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - duid: Device unique identifier
//   - ov: Override to persist
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (s *Store) StoreOverride(ctx context.Context, duid string, ov *capability.Override) error {
	if duid == "" {
		return fmt.Errorf("duid is required")
	}
	if ov == nil {
		return fmt.Errorf("override is required")
	}

	features, err := json.Marshal(ov.Features)
	if err != nil {
		return fmt.Errorf("marshalling override: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO capability_overrides (duid, firmware_version, features, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(duid) DO UPDATE SET
		   firmware_version = excluded.firmware_version,
		   features = excluded.features,
		   updated_at = excluded.updated_at`,
		duid,
		ov.FirmwareVersion,
		string(features),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("storing override for %s: %w", duid, err)
	}

	return nil
}
