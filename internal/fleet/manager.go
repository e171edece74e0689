package fleet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vacmesh/vacmesh-core/internal/cache"
	"github.com/vacmesh/vacmesh-core/internal/capability"
	"github.com/vacmesh/vacmesh-core/internal/infrastructure/config"
	"github.com/vacmesh/vacmesh-core/internal/infrastructure/influxdb"
	"github.com/vacmesh/vacmesh-core/internal/infrastructure/mqtt"
	"github.com/vacmesh/vacmesh-core/internal/inventory"
)

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// Config is the loaded service configuration. Required.
	Config *config.Config

	// Account fetches the device inventory from the vendor account.
	// Required.
	Account inventory.AccountAPI

	// Codecs builds the per-device frame codec. Required.
	Codecs CodecProvider

	// Session is the shared cloud transport. Optional; when nil, only
	// devices with a local address are connectable.
	Session *mqtt.Session

	// Cache persists inventory and overrides between runs. Optional;
	// without it every start is cloud-only.
	Cache *cache.Store

	// Telemetry receives lifecycle and latency measurements. Optional.
	Telemetry *influxdb.Client

	// Logger for manager diagnostics. Optional.
	Logger Logger
}

// managedDevice is the manager's record of one device.
type managedDevice struct {
	desc     inventory.Descriptor
	features capability.FeatureSet
	conn     *Conn
}

// DeviceInfo is a point-in-time view of a managed device.
type DeviceInfo struct {
	Descriptor inventory.Descriptor
	State      State
	Features   capability.FeatureSet
}

// Manager is the top-level fleet orchestrator.
//
// It owns the device inventory: loading it from cache at startup,
// reconciling it against the account on a fixed interval, computing
// capabilities, and running one Conn per device. Consumers observe
// the fleet through lifecycle listeners and command it through Send.
type Manager struct {
	cfg       *config.Config
	account   inventory.AccountAPI
	codecs    CodecProvider
	session   *mqtt.Session
	store     *cache.Store
	telemetry *influxdb.Client
	logger    Logger

	// devices is the active inventory, keyed by DUID.
	devices map[string]*managedDevice
	mu      sync.RWMutex

	// missing counts consecutive reconciliation cycles each device has
	// been absent from the account snapshot. Guarded by refreshMu.
	missing map[string]int

	// refreshMu serializes snapshot application (initial load,
	// immediate refresh, periodic reconciliation).
	refreshMu sync.Mutex

	listeners listenerRegistry

	loaded bool
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a Manager. It does not touch the network or the
// cache; call Load to start.
//
// Parameters:
//   - opts: Collaborators and configuration
//
// Returns:
//   - *Manager: Manager ready for Load
//   - error: If a required option is missing
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Account == nil {
		return nil, fmt.Errorf("account collaborator is required")
	}
	if opts.Codecs == nil {
		return nil, fmt.Errorf("codec provider is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:       opts.Config,
		account:   opts.Account,
		codecs:    opts.Codecs,
		session:   opts.Session,
		store:     opts.Cache,
		telemetry: opts.Telemetry,
		logger:    logger,
		devices:   make(map[string]*managedDevice),
		missing:   make(map[string]int),
		ctx:       ctx,
		cancel:    cancel,
	}

	// A broker session loss affects every cloud-routed device at once;
	// route it to each connection, which decides whether it applies.
	if m.session != nil {
		m.session.SetOnConnectionLost(m.handleSessionDown)
		m.session.SetOnConnect(m.handleSessionUp)
	}

	return m, nil
}

// Load starts the manager from the cached inventory.
//
// Load never performs network I/O: with a cached snapshot the fleet is
// mapped immediately from it; without one the inventory starts empty
// and an immediate background refresh is scheduled. Either way the
// periodic reconciliation loop starts and Load returns promptly.
//
// Parameters:
//   - ctx: Context for cache reads
//
// Returns:
//   - []DeviceInfo: The mapped fleet (possibly empty)
//   - error: ErrManagerClosed, ErrAlreadyLoaded; cache trouble degrades
//     to an empty inventory instead of failing
func (m *Manager) Load(ctx context.Context) ([]DeviceInfo, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if m.loaded {
		m.mu.Unlock()
		return nil, ErrAlreadyLoaded
	}
	m.loaded = true
	m.mu.Unlock()

	var snap *inventory.Snapshot
	if m.store != nil {
		cached, err := m.store.LoadInventory(ctx)
		if err != nil {
			m.logger.Warn("inventory cache unavailable, starting cloud-only", "error", err)
		} else {
			snap = cached
		}
	}

	if snap != nil {
		m.logger.Info("loaded cached inventory",
			"devices", len(snap.Devices),
			"fetched_at", snap.FetchedAt,
		)
		m.applySnapshot(ctx, snap)
	} else {
		m.logger.Info("no cached inventory, scheduling immediate refresh")
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.refresh(m.ctx)
		}()
	}

	m.wg.Add(1)
	go m.reconcileLoop()

	return m.Devices(), nil
}

// reconcileLoop re-fetches the account inventory on the configured
// interval until the manager closes.
func (m *Manager) reconcileLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.GetRefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.refresh(m.ctx)
		}
	}
}

// refresh fetches a fresh inventory snapshot and reconciles it.
// Failures are swallowed: the previous snapshot remains authoritative
// and the next interval retries.
func (m *Manager) refresh(ctx context.Context) {
	start := time.Now()

	snap, err := m.account.FetchInventory(ctx)
	if err != nil {
		if errors.Is(err, inventory.ErrAuthentication) {
			m.logger.Warn("inventory refresh rejected, credentials may be stale", "error", err)
		} else {
			m.logger.Warn("inventory refresh failed, keeping previous snapshot", "error", err)
		}
		return
	}

	if m.store != nil {
		if err := m.store.StoreInventory(ctx, snap); err != nil {
			m.logger.Warn("caching inventory snapshot failed", "error", err)
		}
	}

	added, removed, changed := m.applySnapshot(ctx, snap)
	m.logger.Debug("inventory reconciled",
		"devices", len(snap.Devices),
		"added", added,
		"removed", removed,
		"changed", changed,
	)
	if m.telemetry != nil {
		m.telemetry.WriteReconciliation(added, removed, changed, time.Since(start))
	}
}

// applySnapshot reconciles a snapshot against the active inventory:
// unseen descriptors become new devices, changed descriptors get their
// capabilities recomputed, and descriptors absent for the configured
// number of consecutive cycles are removed. Existing devices are never
// disrupted by changes to others.
func (m *Manager) applySnapshot(ctx context.Context, snap *inventory.Snapshot) (added, removed, changed int) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	seen := make(map[string]bool, len(snap.Devices))

	for i := range snap.Devices {
		d := &snap.Devices[i]
		if d.DUID == "" {
			continue
		}
		seen[d.DUID] = true

		m.mu.RLock()
		md, ok := m.devices[d.DUID]
		m.mu.RUnlock()

		if !ok {
			m.addDevice(ctx, d)
			added++
			continue
		}

		delete(m.missing, d.DUID)

		m.mu.RLock()
		same := md.desc.Equal(d)
		m.mu.RUnlock()
		if same {
			continue
		}

		// Descriptor changed (firmware update, renamed, new topics):
		// recompute capabilities and re-announce only if they differ.
		feats := capability.Compute(d, m.loadOverride(ctx, d.DUID))

		m.mu.Lock()
		md.desc = *d.DeepCopy()
		capsChanged := !feats.Equal(md.features)
		if capsChanged {
			md.features = feats
		}
		state := md.conn.State()
		m.mu.Unlock()

		if capsChanged {
			changed++
			m.emit(Event{
				DUID:     d.DUID,
				Previous: state,
				State:    state,
				Features: feats.Clone(),
			})
		}
	}

	// Missing-device debounce: one absent cycle is transient, the
	// configured count of consecutive absences means gone.
	m.mu.RLock()
	var absent []string
	for duid := range m.devices {
		if !seen[duid] {
			absent = append(absent, duid)
		}
	}
	m.mu.RUnlock()

	for _, duid := range absent {
		m.missing[duid]++
		if m.missing[duid] < m.cfg.Manager.RemovalCycles {
			m.logger.Debug("device missing from refresh, debouncing",
				"duid", duid,
				"cycles", m.missing[duid],
			)
			continue
		}
		m.removeDevice(duid)
		removed++
	}

	return added, removed, changed
}

// addDevice creates and maps a device from its descriptor: compute
// capabilities, build transports, announce device_ready, and start
// connecting when auto_connect is on. Mapping succeeds whether or not
// a connection ever does.
func (m *Manager) addDevice(ctx context.Context, d *inventory.Descriptor) {
	feats := capability.Compute(d, m.loadOverride(ctx, d.DUID))

	channels, err := m.buildChannels(d)
	if err != nil {
		m.logger.Error("device has no usable transport, mapping without connectivity",
			"duid", d.DUID,
			"error", err,
		)
	}

	conn := newConn(d.DUID, channels, m.handleConnEvent, connParams{
		requestTimeout: m.cfg.GetRequestTimeout(),
		initialDelay:   time.Duration(m.cfg.MQTT.Reconnect.InitialDelay) * time.Second,
		maxDelay:       time.Duration(m.cfg.MQTT.Reconnect.MaxDelay) * time.Second,
	})

	md := &managedDevice{
		desc:     *d.DeepCopy(),
		features: feats,
		conn:     conn,
	}

	m.mu.Lock()
	m.devices[d.DUID] = md
	m.mu.Unlock()

	m.logger.Info("device mapped",
		"duid", d.DUID,
		"model", d.Model,
		"features", len(feats.SupportedList()),
	)

	// device_ready: the Mapped event carries the capability set.
	conn.markMapped()

	if m.cfg.Manager.AutoConnect {
		conn.StartConnect()
	}
}

// removeDevice tears down a device that left the inventory.
func (m *Manager) removeDevice(duid string) {
	m.mu.RLock()
	md, ok := m.devices[duid]
	m.mu.RUnlock()
	if !ok {
		return
	}

	md.conn.markRemoved()
	_ = md.conn.Close()

	m.mu.Lock()
	delete(m.devices, duid)
	m.mu.Unlock()
	delete(m.missing, duid)

	m.logger.Info("device removed from inventory", "duid", duid)
}

// buildChannels assembles a device's transports in preference order:
// LAN first when the descriptor has a local address, cloud fallback
// when a session exists.
func (m *Manager) buildChannels(d *inventory.Descriptor) ([]Channel, error) {
	codec, err := m.codecs.CodecFor(d)
	if err != nil {
		return nil, fmt.Errorf("building codec: %w", err)
	}

	var channels []Channel
	if d.LocalAddr != "" {
		duid := d.DUID
		channels = append(channels, newLocalChannel(
			d.LocalAddr,
			codec,
			m.cfg.GetLocalConnectTimeout(),
			m.cfg.GetLocalReadTimeout(),
			func(err error) { m.handleDeviceTransportDown(duid, kindLocal, err) },
		))
	}
	if m.session != nil && d.PublishTopic != "" && d.SubscribeTopic != "" {
		channels = append(channels, newMQTTChannel(m.session, codec, d.PublishTopic, d.SubscribeTopic))
	}

	if len(channels) == 0 {
		return nil, fmt.Errorf("descriptor has no local address and no broker topics")
	}
	return channels, nil
}

// loadOverride fetches a device's capability override from the cache.
// Absence and corruption both yield nil; firmware staleness is the
// capability engine's concern.
func (m *Manager) loadOverride(ctx context.Context, duid string) *capability.Override {
	if m.store == nil {
		return nil
	}
	ov, err := m.store.LoadOverride(ctx, duid)
	if err != nil {
		m.logger.Warn("loading capability override failed", "duid", duid, "error", err)
		return nil
	}
	return ov
}

// handleConnEvent receives transitions from device connections,
// enriches Mapped events with the capability set, and fans out.
func (m *Manager) handleConnEvent(ev Event) {
	if ev.State == StateMapped && ev.Features == nil {
		m.mu.RLock()
		if md, ok := m.devices[ev.DUID]; ok {
			ev.Features = md.features.Clone()
		}
		m.mu.RUnlock()
	}
	m.emit(ev)
}

// emit records telemetry for real transitions and dispatches to
// listeners.
func (m *Manager) emit(ev Event) {
	if m.telemetry != nil && ev.Previous != ev.State {
		m.mu.RLock()
		model := ""
		if md, ok := m.devices[ev.DUID]; ok {
			model = md.desc.Model
		}
		m.mu.RUnlock()
		m.telemetry.WriteLifecycleTransition(ev.DUID, model, ev.Previous.String(), ev.State.String())
	}
	m.listeners.dispatch(ev)
}

// handleDeviceTransportDown routes a dedicated transport's loss to its
// device connection.
func (m *Manager) handleDeviceTransportDown(duid, kind string, err error) {
	m.mu.RLock()
	md, ok := m.devices[duid]
	m.mu.RUnlock()
	if ok {
		md.conn.handleTransportDown(kind, err)
	}
}

// handleSessionDown marks every cloud-connected device Disconnected
// when the shared broker session drops. Connections on a local channel
// ignore it.
func (m *Manager) handleSessionDown(err error) {
	cause := fmt.Errorf("%w: %w", ErrConnectivity, err)
	for _, md := range m.snapshotDevices() {
		md.conn.handleTransportDown(kindMQTT, cause)
	}
}

// handleSessionUp nudges disconnected devices to retry immediately
// instead of waiting out their backoff.
func (m *Manager) handleSessionUp() {
	for _, md := range m.snapshotDevices() {
		if md.conn.State() == StateDisconnected {
			md.conn.StartConnect()
		}
	}
}

func (m *Manager) snapshotDevices() []*managedDevice {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*managedDevice, 0, len(m.devices))
	for _, md := range m.devices {
		out = append(out, md)
	}
	return out
}

// AddListener registers a lifecycle listener and returns its handle.
// Events for a single device arrive in transition order.
func (m *Manager) AddListener(fn Listener) *ListenerHandle {
	return m.listeners.add(fn)
}

// Devices returns a point-in-time view of the fleet, sorted by DUID.
func (m *Manager) Devices() []DeviceInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]DeviceInfo, 0, len(m.devices))
	for _, md := range m.devices {
		out = append(out, DeviceInfo{
			Descriptor: *md.desc.DeepCopy(),
			State:      md.conn.State(),
			Features:   md.features.Clone(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Descriptor.DUID < out[j].Descriptor.DUID })
	return out
}

// Device returns the current view of one device.
func (m *Manager) Device(duid string) (DeviceInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	md, ok := m.devices[duid]
	if !ok {
		return DeviceInfo{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, duid)
	}
	return DeviceInfo{
		Descriptor: *md.desc.DeepCopy(),
		State:      md.conn.State(),
		Features:   md.features.Clone(),
	}, nil
}

// StartConnect begins connectivity attempts for one device. Used by
// consumers when auto_connect is disabled. Idempotent.
func (m *Manager) StartConnect(duid string) error {
	m.mu.RLock()
	md, ok := m.devices[duid]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, duid)
	}
	md.conn.StartConnect()
	return nil
}

// Send transmits a command to one device and blocks for its response.
// Failures surface only to this caller; other devices and other
// in-flight commands are unaffected.
//
// Parameters:
//   - ctx: Context for cancellation
//   - duid: Target device
//   - command: Opaque command body
//   - timeout: Per-call deadline, or 0 for the configured default
//
// Returns:
//   - []byte: The decoded response body
//   - error: ErrDeviceNotFound, or a send error from the device's Conn
func (m *Manager) Send(ctx context.Context, duid string, command []byte, timeout time.Duration) ([]byte, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrManagerClosed
	}
	md, ok := m.devices[duid]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, duid)
	}

	start := time.Now()
	transport := md.conn.Transport()
	resp, err := md.conn.Send(ctx, command, timeout)

	if m.telemetry != nil && transport != "" {
		m.telemetry.WriteCommandLatency(duid, transport, time.Since(start), err == nil)
	}
	return resp, err
}

// ApplyOverride persists a capability override for a device (typically
// produced by a runtime probe), recomputes its capability set, and
// re-announces device_ready if the set changed.
//
// Parameters:
//   - ctx: Context for the cache write
//   - duid: Target device
//   - ov: Override to apply
//
// Returns:
//   - error: ErrDeviceNotFound, or a cache write failure
func (m *Manager) ApplyOverride(ctx context.Context, duid string, ov *capability.Override) error {
	m.mu.RLock()
	md, ok := m.devices[duid]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, duid)
	}

	if m.store != nil {
		if err := m.store.StoreOverride(ctx, duid, ov); err != nil {
			return fmt.Errorf("persisting override: %w", err)
		}
	}

	m.mu.Lock()
	desc := *md.desc.DeepCopy()
	m.mu.Unlock()

	feats := capability.Compute(&desc, ov)

	m.mu.Lock()
	capsChanged := !feats.Equal(md.features)
	if capsChanged {
		md.features = feats
	}
	state := md.conn.State()
	m.mu.Unlock()

	if capsChanged {
		m.emit(Event{
			DUID:     duid,
			Previous: state,
			State:    state,
			Features: feats.Clone(),
		})
	}
	return nil
}

// Close cancels reconciliation and closes every device connection.
// Safe to call multiple times. In-flight requests resolve immediately
// with a closure failure rather than hanging.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()

	for _, md := range m.snapshotDevices() {
		_ = md.conn.Close()
	}

	m.logger.Info("fleet manager closed")
	return nil
}
