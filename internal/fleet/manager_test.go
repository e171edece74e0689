package fleet

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vacmesh/vacmesh-core/internal/cache"
	"github.com/vacmesh/vacmesh-core/internal/capability"
	"github.com/vacmesh/vacmesh-core/internal/infrastructure/config"
	"github.com/vacmesh/vacmesh-core/internal/infrastructure/database"
	"github.com/vacmesh/vacmesh-core/internal/inventory"
)

// stubAccount serves a scripted sequence of fetch results, repeating
// the last one when the script runs out.
type stubAccount struct {
	mu    sync.Mutex
	queue []fetchResult
	calls int
}

type fetchResult struct {
	snap *inventory.Snapshot
	err  error
}

func (a *stubAccount) FetchInventory(_ context.Context) (*inventory.Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls++
	if len(a.queue) == 0 {
		return nil, inventory.ErrUnavailable
	}
	res := a.queue[0]
	if len(a.queue) > 1 {
		a.queue = a.queue[1:]
	}
	if res.err != nil {
		return nil, res.err
	}
	return res.snap.DeepCopy(), nil
}

func (a *stubAccount) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func snapOf(devices ...inventory.Descriptor) *inventory.Snapshot {
	return &inventory.Snapshot{FetchedAt: time.Now().UTC(), Devices: devices}
}

func testDescriptor(duid string, flags uint64) inventory.Descriptor {
	return inventory.Descriptor{
		DUID:            duid,
		Name:            "Vacuum " + duid,
		Model:           "roborock.vacuum.a87",
		FirmwareVersion: "02.15.76",
		FeatureFlags:    flags,
		// TEST-NET address: never dialed since auto_connect is off.
		LocalAddr: "192.0.2.10:58867",
	}
}

func testManagerConfig() *config.Config {
	return &config.Config{
		MQTT: config.MQTTConfig{
			Reconnect: config.MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 2},
		},
		Manager: config.ManagerConfig{
			RefreshInterval: 3600,
			AutoConnect:     false,
			RequestTimeout:  1,
			RemovalCycles:   2,
		},
		Local: config.LocalConfig{ConnectTimeout: 1, ReadTimeout: 1},
	}
}

type managerFixture struct {
	m       *Manager
	store   *cache.Store
	account *stubAccount
	events  chan Event
}

// newTestManager builds a manager over a real SQLite cache, a stubbed
// account, and no broker session. seed, when non-nil, is pre-stored as
// the cached inventory.
func newTestManager(t *testing.T, account *stubAccount, seed *inventory.Snapshot) *managerFixture {
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

	store, err := cache.NewStore(ctx, db.DB)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	if seed != nil {
		if err := store.StoreInventory(ctx, seed); err != nil {
			t.Fatalf("seeding cache: %v", err)
		}
	}

	m, err := NewManager(ManagerOptions{
		Config:  testManagerConfig(),
		Account: account,
		Codecs:  CodecProviderFunc(func(*inventory.Descriptor) (Codec, error) { return &frameCodec{}, nil }),
		Cache:   store,
	})
	if err != nil {
		t.Fatalf("creating manager: %v", err)
	}
	t.Cleanup(func() { m.Close() })

	events := make(chan Event, 64)
	m.AddListener(func(ev Event) { events <- ev })

	return &managerFixture{m: m, store: store, account: account, events: events}
}

func waitEvent(t *testing.T, ch <-chan Event, pred func(Event) bool) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if pred(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("expected event not received within 2s")
		}
	}
}

func assertNoEvent(t *testing.T, ch <-chan Event, window time.Duration, pred func(Event) bool) {
	t.Helper()
	deadline := time.After(window)
	for {
		select {
		case ev := <-ch:
			if pred(ev) {
				t.Fatalf("unexpected event: %+v", ev)
			}
		case <-deadline:
			return
		}
	}
}

func isReady(duid string) func(Event) bool {
	return func(ev Event) bool {
		return ev.DUID == duid && ev.State == StateMapped && ev.Features != nil
	}
}

// =============================================================================
// Load Tests
// =============================================================================

func TestLoadWithoutCacheSchedulesRefresh(t *testing.T) {
	account := &stubAccount{queue: []fetchResult{{snap: snapOf(testDescriptor("d1", 0))}}}
	f := newTestManager(t, account, nil)

	devices, err := f.m.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(devices) != 0 {
		t.Errorf("Load() with empty cache returned %d devices, want 0", len(devices))
	}

	// The immediate background refresh maps the device.
	waitEvent(t, f.events, isReady("d1"))
	if len(f.m.Devices()) != 1 {
		t.Errorf("Devices() = %d after refresh, want 1", len(f.m.Devices()))
	}

	// And the fetched snapshot lands in the cache for next start.
	cached, err := f.store.LoadInventory(context.Background())
	if err != nil || cached == nil {
		t.Errorf("refresh should cache the snapshot, got (%v, %v)", cached, err)
	}
}

func TestLoadFromCacheWithoutNetwork(t *testing.T) {
	account := &stubAccount{} // every fetch fails
	f := newTestManager(t, account, snapOf(testDescriptor("d1", 0)))

	start := time.Now()
	devices, err := f.m.Load(context.Background())
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(devices) != 1 {
		t.Fatalf("Load() from cache returned %d devices, want 1", len(devices))
	}
	if devices[0].State != StateMapped {
		t.Errorf("device state = %v, want Mapped", devices[0].State)
	}
	waitEvent(t, f.events, isReady("d1"))

	// Cache-backed startup performs no network I/O.
	if account.callCount() != 0 {
		t.Errorf("Load() made %d account calls, want 0", account.callCount())
	}
	if elapsed > time.Second {
		t.Errorf("Load() took %v, must not block on network", elapsed)
	}
}

func TestLoadGuards(t *testing.T) {
	f := newTestManager(t, &stubAccount{}, nil)

	if _, err := f.m.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := f.m.Load(context.Background()); !errors.Is(err, ErrAlreadyLoaded) {
		t.Errorf("second Load() error = %v, want ErrAlreadyLoaded", err)
	}

	if err := f.m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := f.m.Close(); err != nil {
		t.Errorf("second Close() error = %v, want nil", err)
	}
	if _, err := f.m.Load(context.Background()); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Load() after close error = %v, want ErrManagerClosed", err)
	}
	if _, err := f.m.Send(context.Background(), "d1", nil, 0); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Send() after close error = %v, want ErrManagerClosed", err)
	}
}

// =============================================================================
// Reconciliation Tests
// =============================================================================

func TestReconciliationDebounce(t *testing.T) {
	account := &stubAccount{queue: []fetchResult{{snap: snapOf()}}}
	f := newTestManager(t, account, snapOf(testDescriptor("d1", 0)))

	if _, err := f.m.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	waitEvent(t, f.events, isReady("d1"))

	// First cycle missing: transient, device stays.
	f.m.refresh(context.Background())
	if len(f.m.Devices()) != 1 {
		t.Fatal("device missing one cycle must remain present")
	}
	assertNoEvent(t, f.events, 50*time.Millisecond, func(ev Event) bool {
		return ev.State == StateRemoved
	})

	// Second consecutive cycle missing: removed.
	f.m.refresh(context.Background())
	waitEvent(t, f.events, func(ev Event) bool {
		return ev.DUID == "d1" && ev.State == StateRemoved
	})
	if len(f.m.Devices()) != 0 {
		t.Error("device missing two consecutive cycles must be removed")
	}
}

func TestReconciliationReappearanceResetsDebounce(t *testing.T) {
	d1 := testDescriptor("d1", 0)
	account := &stubAccount{queue: []fetchResult{
		{snap: snapOf()},   // missing (1)
		{snap: snapOf(d1)}, // back: counter resets
		{snap: snapOf()},   // missing (1)
		{snap: snapOf()},   // missing (2): removed
	}}
	f := newTestManager(t, account, snapOf(d1))

	if _, err := f.m.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	waitEvent(t, f.events, isReady("d1"))

	for i := range 3 {
		f.m.refresh(context.Background())
		if len(f.m.Devices()) != 1 {
			t.Fatalf("device removed after refresh %d, debounce not reset by reappearance", i+1)
		}
	}

	f.m.refresh(context.Background())
	if len(f.m.Devices()) != 0 {
		t.Error("device should be removed after two consecutive missing cycles")
	}
}

func TestReconciliationNewDevice(t *testing.T) {
	d1 := testDescriptor("d1", 0)
	d2 := testDescriptor("d2", 0)
	account := &stubAccount{queue: []fetchResult{{snap: snapOf(d1, d2)}}}
	f := newTestManager(t, account, snapOf(d1))

	if _, err := f.m.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	waitEvent(t, f.events, isReady("d1"))

	f.m.refresh(context.Background())

	waitEvent(t, f.events, isReady("d2"))
	if len(f.m.Devices()) != 2 {
		t.Errorf("Devices() = %d, want 2", len(f.m.Devices()))
	}

	// The existing device is untouched by the newcomer.
	assertNoEvent(t, f.events, 50*time.Millisecond, func(ev Event) bool {
		return ev.DUID == "d1"
	})
	if info, err := f.m.Device("d1"); err != nil || info.State != StateMapped {
		t.Errorf("d1 state = (%v, %v), want Mapped untouched", info.State, err)
	}
}

func TestReconciliationChangedDescriptor(t *testing.T) {
	d1 := testDescriptor("d1", 0)
	// Firmware update flips the custom-mode bit on.
	updated := d1
	updated.FirmwareVersion = "02.16.00"
	updated.FeatureFlags = 1 << 2

	account := &stubAccount{queue: []fetchResult{{snap: snapOf(updated)}}}
	f := newTestManager(t, account, snapOf(d1))

	if _, err := f.m.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	first := waitEvent(t, f.events, isReady("d1"))
	if first.Features.Supported(capability.FeatureCustomMode) {
		t.Fatal("precondition: custom mode should start unsupported")
	}

	f.m.refresh(context.Background())

	ev := waitEvent(t, f.events, func(ev Event) bool {
		return ev.DUID == "d1" && ev.Features != nil && ev.Features.Supported(capability.FeatureCustomMode)
	})
	if ev.State != StateMapped {
		t.Errorf("capability re-announce state = %v, want existing state preserved", ev.State)
	}

	info, err := f.m.Device("d1")
	if err != nil {
		t.Fatalf("Device() error = %v", err)
	}
	if info.Descriptor.FirmwareVersion != "02.16.00" {
		t.Errorf("descriptor not updated, firmware = %q", info.Descriptor.FirmwareVersion)
	}
}

func TestReconciliationSameDescriptorNoEvent(t *testing.T) {
	d1 := testDescriptor("d1", 0)
	account := &stubAccount{queue: []fetchResult{{snap: snapOf(d1)}}}
	f := newTestManager(t, account, snapOf(d1))

	if _, err := f.m.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	waitEvent(t, f.events, isReady("d1"))

	f.m.refresh(context.Background())

	assertNoEvent(t, f.events, 50*time.Millisecond, func(ev Event) bool {
		return ev.DUID == "d1"
	})
}

func TestRefreshFailureSwallowed(t *testing.T) {
	account := &stubAccount{queue: []fetchResult{
		{err: inventory.ErrUnavailable},
		{err: inventory.ErrAuthentication},
	}}
	f := newTestManager(t, account, snapOf(testDescriptor("d1", 0)))

	if _, err := f.m.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	waitEvent(t, f.events, isReady("d1"))

	f.m.refresh(context.Background())
	f.m.refresh(context.Background())

	// Previous snapshot stays authoritative; no removals, no events.
	if len(f.m.Devices()) != 1 {
		t.Error("refresh failure must not change the inventory")
	}
	assertNoEvent(t, f.events, 50*time.Millisecond, func(Event) bool { return true })
}

// =============================================================================
// Command Surface and Listener Tests
// =============================================================================

func TestSendUnknownDevice(t *testing.T) {
	f := newTestManager(t, &stubAccount{}, nil)
	if _, err := f.m.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	_, err := f.m.Send(context.Background(), "ghost", []byte("cmd"), 0)
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Send() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSendNotConnected(t *testing.T) {
	account := &stubAccount{}
	f := newTestManager(t, account, snapOf(testDescriptor("d1", 0)))
	if _, err := f.m.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// auto_connect is off and nothing called StartConnect.
	_, err := f.m.Send(context.Background(), "d1", []byte("cmd"), 0)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() on mapped-only device error = %v, want ErrNotConnected", err)
	}
}

func TestListenerRemoveIdempotent(t *testing.T) {
	var reg listenerRegistry

	var a, b int
	ha := reg.add(func(Event) { a++ })
	reg.add(func(Event) { b++ })

	ha.Remove()
	ha.Remove()

	reg.dispatch(Event{DUID: "d1", State: StateMapped})

	if a != 0 {
		t.Error("removed listener must not receive events")
	}
	if b != 1 {
		t.Errorf("remaining listener received %d events, want 1", b)
	}
	if reg.count() != 1 {
		t.Errorf("registry count = %d, want 1", reg.count())
	}
}

func TestApplyOverride(t *testing.T) {
	account := &stubAccount{}
	f := newTestManager(t, account, snapOf(testDescriptor("d1", 0)))
	if _, err := f.m.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	first := waitEvent(t, f.events, isReady("d1"))
	if first.Features.Supported(capability.FeatureHotWashTowel) {
		t.Fatal("precondition: hot wash towel should start unsupported")
	}

	ov := &capability.Override{
		FirmwareVersion: "02.15.76",
		Features:        map[capability.Feature]bool{capability.FeatureHotWashTowel: true},
	}
	if err := f.m.ApplyOverride(context.Background(), "d1", ov); err != nil {
		t.Fatalf("ApplyOverride() error = %v", err)
	}

	ev := waitEvent(t, f.events, func(ev Event) bool {
		return ev.DUID == "d1" && ev.Features != nil && ev.Features.Supported(capability.FeatureHotWashTowel)
	})
	if ev.State != StateMapped {
		t.Errorf("override re-announce state = %v, want Mapped", ev.State)
	}

	// The override is persisted for the next start.
	stored, err := f.store.LoadOverride(context.Background(), "d1")
	if err != nil || stored == nil {
		t.Errorf("override not persisted, got (%v, %v)", stored, err)
	}

	if err := f.m.ApplyOverride(context.Background(), "ghost", ov); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("ApplyOverride() unknown device error = %v, want ErrDeviceNotFound", err)
	}
}
