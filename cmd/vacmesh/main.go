// Vacmesh Core - Robot Vacuum Fleet Manager
//
// This is the main entry point for the Vacmesh Core service. Vacmesh
// manages a fleet of robot vacuums:
//   - Offline-first startup from the cached inventory
//   - Capability computation from multi-scheme device flags
//   - Cloud (MQTT) and local (LAN) command transports per device
//   - Periodic reconciliation against the account inventory
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vacmesh/vacmesh-core/internal/cache"
	"github.com/vacmesh/vacmesh-core/internal/fleet"
	"github.com/vacmesh/vacmesh-core/internal/infrastructure/config"
	"github.com/vacmesh/vacmesh-core/internal/infrastructure/database"
	"github.com/vacmesh/vacmesh-core/internal/infrastructure/influxdb"
	"github.com/vacmesh/vacmesh-core/internal/infrastructure/logging"
	"github.com/vacmesh/vacmesh-core/internal/infrastructure/mqtt"
	"github.com/vacmesh/vacmesh-core/internal/inventory"
	"github.com/vacmesh/vacmesh-core/internal/process"
	"github.com/vacmesh/vacmesh-core/internal/protocol"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Vacmesh Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open the cache database
	db, err := database.Open(ctx, cfg.Cache)
	if err != nil {
		return fmt.Errorf("opening cache database: %w", err)
	}
	defer func() {
		log.Info("closing cache database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing cache database", "error", closeErr)
		}
	}()
	log.Info("cache database connected", "path", cfg.Cache.Path)

	store, err := cache.NewStore(ctx, db.DB)
	if err != nil {
		return fmt.Errorf("initialising cache store: %w", err)
	}
	store.SetLogger(log)

	// Connect the cloud session. Startup is offline-first: an unreachable
	// broker degrades to local-transport-only operation instead of
	// failing, and the session reconnects in the background.
	session, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		log.Warn("cloud session unavailable, continuing with local transports only",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"error", err,
		)
		session = nil
	} else {
		defer func() {
			log.Info("closing cloud session")
			if closeErr := session.Close(); closeErr != nil {
				log.Error("error closing cloud session", "error", closeErr)
			}
		}()
		session.SetLogger(log)
		log.Info("cloud session connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	}

	// Connect to InfluxDB (optional telemetry)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil && !errors.Is(err, influxdb.ErrDisabled) {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		if influxClient != nil {
			defer func() {
				log.Info("closing InfluxDB connection")
				if closeErr := influxClient.Close(); closeErr != nil {
					log.Error("error closing InfluxDB", "error", closeErr)
				}
			}()
			influxClient.SetOnError(func(err error) {
				log.Error("InfluxDB write error", "error", err)
			})
			log.Info("InfluxDB connected",
				"url", cfg.InfluxDB.URL,
				"org", cfg.InfluxDB.Org,
				"bucket", cfg.InfluxDB.Bucket,
			)
		}
	} else {
		log.Info("InfluxDB disabled")
	}

	// Start the vendor API adapter (if managed). It authenticates with
	// the cloud account and writes the inventory export this service reads.
	if cfg.Adapter.Managed {
		adapter, adapterErr := startAdapter(ctx, cfg, log)
		if adapterErr != nil {
			return fmt.Errorf("starting inventory adapter: %w", adapterErr)
		}
		defer func() {
			log.Info("stopping inventory adapter")
			if stopErr := adapter.Stop(); stopErr != nil {
				log.Error("error stopping inventory adapter", "error", stopErr)
			}
		}()
	}

	// The account inventory arrives as a JSON export written by the
	// out-of-process vendor API adapter.
	account := inventory.NewFileAccount(cfg.Account.InventoryPath)

	// Every device speaks the same frame envelope; payload crypto is the
	// vendor adapter's problem.
	codecs := fleet.CodecProviderFunc(func(_ *inventory.Descriptor) (fleet.Codec, error) {
		return protocol.NewCodec(), nil
	})

	// Build the fleet manager. It takes ownership of the session's
	// connection callbacks, so nothing else may set them after this.
	manager, err := fleet.NewManager(fleet.ManagerOptions{
		Config:    cfg,
		Account:   account,
		Codecs:    codecs,
		Session:   session,
		Cache:     store,
		Telemetry: influxClient,
		Logger:    log.With("component", "fleet"),
	})
	if err != nil {
		return fmt.Errorf("creating fleet manager: %w", err)
	}
	defer func() {
		log.Info("closing fleet manager")
		if closeErr := manager.Close(); closeErr != nil {
			log.Error("error closing fleet manager", "error", closeErr)
		}
	}()

	manager.AddListener(func(ev fleet.Event) {
		attrs := []any{
			"duid", ev.DUID,
			"from", ev.Previous.String(),
			"to", ev.State.String(),
		}
		if ev.Err != nil {
			attrs = append(attrs, "error", ev.Err)
			log.Warn("device lifecycle", attrs...)
			return
		}
		log.Info("device lifecycle", attrs...)
	})

	devices, err := manager.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading fleet: %w", err)
	}
	log.Info("fleet loaded",
		"devices", len(devices),
		"refresh_interval", cfg.GetRefreshInterval(),
	)

	// Verify infrastructure connections are healthy
	if err := healthCheck(ctx, db, session, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. Fleet manager (closes device connections)
	// 2. InfluxDB (if enabled)
	// 3. Cloud session (if connected)
	// 4. Cache database

	log.Info("Vacmesh Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses VACMESH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("VACMESH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// startAdapter launches the managed vendor API adapter process.
//
// Parameters:
//   - ctx: Context for startup/cancellation
//   - cfg: Application configuration
//   - log: Logger instance
//
// Returns:
//   - *process.Manager: Running adapter supervisor
//   - error: If the adapter fails to start
func startAdapter(ctx context.Context, cfg *config.Config, log *logging.Logger) (*process.Manager, error) {
	mgr := process.NewManager(process.Config{
		Name:               "inventory-adapter",
		Binary:             cfg.Adapter.Binary,
		Args:               cfg.Adapter.Args,
		RestartOnFailure:   cfg.Adapter.RestartOnFailure,
		RestartDelay:       cfg.GetAdapterRestartDelay(),
		MaxRestartAttempts: cfg.Adapter.MaxRestartAttempts,
		GracefulTimeout:    cfg.GetAdapterGracefulTimeout(),
		ExportPath:         cfg.Account.InventoryPath,
		ExportMaxAge:       cfg.GetAdapterExportMaxAge(),
	})
	mgr.SetLogger(log)

	if err := mgr.Start(ctx); err != nil {
		return nil, err
	}

	log.Info("inventory adapter started",
		"binary", cfg.Adapter.Binary,
		"pid", mgr.PID(),
	)

	// Give a freshly-provisioned adapter a moment to write its first
	// export; startup continues either way, reconciliation picks the
	// file up later.
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mgr.WaitForExport(waitCtx); err != nil {
		log.Warn("inventory export not yet written", "error", err)
	}

	return mgr, nil
}

// healthCheck verifies infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Cache database to check
//   - session: Cloud session to check (may be nil when offline)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, session *mqtt.Session, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("cache database: %w", err)
	}

	// The session is optional at startup; when present it must be live.
	if session != nil {
		if err := session.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
