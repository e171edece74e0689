package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/vacmesh/vacmesh-core/internal/capability"
	"github.com/vacmesh/vacmesh-core/internal/infrastructure/config"
	"github.com/vacmesh/vacmesh-core/internal/infrastructure/database"
	"github.com/vacmesh/vacmesh-core/internal/inventory"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, config.CacheConfig{
		Path:        filepath.Join(t.TempDir(), "cache.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(ctx, db.DB)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	return store
}

func TestLoadInventoryAbsent(t *testing.T) {
	store := newTestStore(t)

	snap, err := store.LoadInventory(context.Background())
	if err != nil {
		t.Fatalf("LoadInventory() error = %v", err)
	}
	if snap != nil {
		t.Error("LoadInventory() on empty cache should return nil")
	}
}

func TestStoreAndLoadInventory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	want := &inventory.Snapshot{
		FetchedAt: time.Now().UTC().Truncate(time.Millisecond),
		Devices: []inventory.Descriptor{
			{
				DUID:            "abc123",
				Name:            "Hallway",
				Model:           "roborock.vacuum.a15",
				FirmwareVersion: "02.15.76",
				FeatureFlags:    42,
				FeatureIDs:      []int{111, 119},
				ProductTags:     []string{"mop"},
				PublishTopic:    "rr/m/i/u1/k1/abc123",
				SubscribeTopic:  "rr/m/o/u1/k1/abc123",
			},
		},
	}

	if err := store.StoreInventory(ctx, want); err != nil {
		t.Fatalf("StoreInventory() error = %v", err)
	}

	got, err := store.LoadInventory(ctx)
	if err != nil {
		t.Fatalf("LoadInventory() error = %v", err)
	}
	if got == nil {
		t.Fatal("LoadInventory() returned nil after store")
	}
	if len(got.Devices) != 1 || !got.Devices[0].Equal(&want.Devices[0]) {
		t.Errorf("loaded snapshot differs: %+v", got.Devices)
	}
	if !got.FetchedAt.Equal(want.FetchedAt) {
		t.Errorf("FetchedAt = %v, want %v", got.FetchedAt, want.FetchedAt)
	}
}

func TestStoreInventoryReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &inventory.Snapshot{
		FetchedAt: time.Now().UTC(),
		Devices:   []inventory.Descriptor{{DUID: "old"}},
	}
	second := &inventory.Snapshot{
		FetchedAt: time.Now().UTC(),
		Devices:   []inventory.Descriptor{{DUID: "new-1"}, {DUID: "new-2"}},
	}

	if err := store.StoreInventory(ctx, first); err != nil {
		t.Fatalf("StoreInventory() error = %v", err)
	}
	if err := store.StoreInventory(ctx, second); err != nil {
		t.Fatalf("StoreInventory() error = %v", err)
	}

	got, err := store.LoadInventory(ctx)
	if err != nil {
		t.Fatalf("LoadInventory() error = %v", err)
	}
	if len(got.Devices) != 2 {
		t.Errorf("snapshot should be replaced, got %d devices", len(got.Devices))
	}
}

func TestCorruptInventoryDegradesToAbsent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.db.ExecContext(ctx,
		"INSERT INTO inventory_snapshot (id, fetched_at, payload) VALUES (1, ?, ?)",
		time.Now().UTC().Format(time.RFC3339Nano),
		"{not json",
	)
	if err != nil {
		t.Fatalf("seeding corrupt row: %v", err)
	}

	snap, err := store.LoadInventory(ctx)
	if err != nil {
		t.Fatalf("LoadInventory() error = %v, corruption must not raise", err)
	}
	if snap != nil {
		t.Error("corrupt payload should degrade to absent")
	}
}

func TestLoadOverrideAbsent(t *testing.T) {
	store := newTestStore(t)

	ov, err := store.LoadOverride(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("LoadOverride() error = %v", err)
	}
	if ov != nil {
		t.Error("LoadOverride() with nothing stored should return nil")
	}
}

func TestStoreAndLoadOverride(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	want := &capability.Override{
		FirmwareVersion: "02.15.76",
		Features: map[capability.Feature]bool{
			capability.FeatureHotWashTowel: true,
		},
	}

	if err := store.StoreOverride(ctx, "abc123", want); err != nil {
		t.Fatalf("StoreOverride() error = %v", err)
	}

	got, err := store.LoadOverride(ctx, "abc123")
	if err != nil {
		t.Fatalf("LoadOverride() error = %v", err)
	}
	if got == nil {
		t.Fatal("LoadOverride() returned nil after store")
	}
	if got.FirmwareVersion != want.FirmwareVersion {
		t.Errorf("FirmwareVersion = %q, want %q", got.FirmwareVersion, want.FirmwareVersion)
	}
	if !got.Features[capability.FeatureHotWashTowel] {
		t.Error("stored feature flag lost on round trip")
	}
}

func TestStoreOverrideReplacesPerDevice(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := &capability.Override{
		FirmwareVersion: "02.15.76",
		Features:        map[capability.Feature]bool{capability.FeatureMatter: true},
	}
	updated := &capability.Override{
		FirmwareVersion: "02.16.00",
		Features:        map[capability.Feature]bool{capability.FeatureVideoCall: true},
	}

	if err := store.StoreOverride(ctx, "abc123", old); err != nil {
		t.Fatalf("StoreOverride() error = %v", err)
	}
	if err := store.StoreOverride(ctx, "abc123", updated); err != nil {
		t.Fatalf("StoreOverride() error = %v", err)
	}

	got, err := store.LoadOverride(ctx, "abc123")
	if err != nil {
		t.Fatalf("LoadOverride() error = %v", err)
	}
	if got.FirmwareVersion != "02.16.00" {
		t.Errorf("override not replaced, firmware = %q", got.FirmwareVersion)
	}
	if got.Features[capability.FeatureMatter] {
		t.Error("old override features should be gone")
	}
}
