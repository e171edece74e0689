package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status represents the current state of the supervised adapter.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

const (
	// maxHealthFailures is how many consecutive failed health checks
	// the supervisor tolerates before killing a wedged adapter.
	maxHealthFailures = 3

	// healthCheckTimeout bounds a single health check invocation.
	healthCheckTimeout = 5 * time.Second

	// exportPollInterval is how often WaitForExport re-checks the disk.
	exportPollInterval = 200 * time.Millisecond
)

// Config holds supervision settings for the vendor API adapter.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the adapter executable.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Env are additional environment variables (key=value format).
	// If nil, inherits from the parent process.
	Env []string

	// WorkDir is the working directory for the adapter.
	// If empty, inherits from the parent process.
	WorkDir string

	// RestartOnFailure enables automatic restart when the adapter
	// exits unexpectedly.
	RestartOnFailure bool

	// RestartDelay is the base delay before the first restart attempt.
	// Subsequent attempts back off exponentially.
	RestartDelay time.Duration

	// MaxRestartDelay caps the exponential backoff.
	MaxRestartDelay time.Duration

	// StableThreshold is how long the adapter must run before a crash
	// is treated as a fresh incident rather than a continuation of the
	// previous crash loop. A run at least this long resets the backoff.
	StableThreshold time.Duration

	// MaxRestartAttempts limits consecutive restart attempts.
	// 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// ExportPath is the inventory export file the adapter writes. Used
	// by WaitForExport and, with ExportMaxAge, by the built-in
	// freshness health check.
	ExportPath string

	// ExportMaxAge is the oldest the export's modification time may be
	// before the adapter is considered wedged. 0 disables the built-in
	// freshness check.
	ExportMaxAge time.Duration

	// HealthCheckFunc overrides the built-in export freshness check.
	// If nil and ExportPath/ExportMaxAge are set, freshness is checked;
	// otherwise the adapter is considered healthy while running.
	HealthCheckFunc func(ctx context.Context) error

	// HealthCheckInterval is how often to run health checks.
	HealthCheckInterval time.Duration

	// OnStart is called when the adapter starts successfully.
	OnStart func()

	// OnStop is called when the adapter stops, normally or on failure.
	OnStop func(err error)

	// OnRestart is called before each restart attempt.
	OnRestart func(attempt int)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(name, binary string, args []string) Config {
	return Config{
		Name:                name,
		Binary:              binary,
		Args:                args,
		RestartOnFailure:    true,
		RestartDelay:        5 * time.Second,
		MaxRestartDelay:     5 * time.Minute,
		StableThreshold:     2 * time.Minute,
		MaxRestartAttempts:  10,
		GracefulTimeout:     10 * time.Second,
		HealthCheckInterval: 30 * time.Second,
	}
}

// RecoverableError lets a health check distinguish failures worth a
// restart from failures that will recur identically, such as rejected
// account credentials. Errors that do not implement the interface are
// treated as recoverable.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// IsRecoverable reports whether a restart could plausibly clear err.
func IsRecoverable(err error) bool {
	var re RecoverableError
	if errors.As(err, &re) {
		return re.IsRecoverable()
	}
	return true
}

// Logger defines the logging interface for the supervisor.
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

// Manager supervises the vendor API adapter subprocess.
//
// The adapter authenticates against the cloud account and periodically
// writes the inventory export this service reads. The supervisor's job
// is to keep that export flowing: it launches the adapter, restarts it
// with exponential backoff when it crashes, and kills it when the
// export goes stale while the process looks alive.
type Manager struct {
	config Config
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	restartCount  int
	attempts      int
	lastError     error
	startTime     time.Time
	stopRequested bool

	done chan struct{}
}

// NewManager creates a supervisor with the given configuration.
// Zero-valued timing fields take the DefaultConfig values.
func NewManager(cfg Config) *Manager {
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = 5 * time.Second
	}
	if cfg.MaxRestartDelay == 0 {
		cfg.MaxRestartDelay = 5 * time.Minute
	}
	if cfg.StableThreshold == 0 {
		cfg.StableThreshold = 2 * time.Minute
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = 10 * time.Second
	}
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = 30 * time.Second
	}

	return &Manager{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the supervisor.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Start launches the adapter and begins supervising it.
// Returns an error if the initial launch fails; later crashes are
// handled by the restart policy.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return fmt.Errorf("process %s is already running", m.config.Name)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.attempts = 0
	m.done = make(chan struct{})
	m.mu.Unlock()

	if err := m.launch(ctx); err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastError = err
		m.mu.Unlock()
		return err
	}

	go m.supervise(ctx)

	return nil
}

// launch starts one adapter process and wires up output capture.
func (m *Manager) launch(ctx context.Context) error {
	m.logger.Info("starting adapter process",
		"name", m.config.Name,
		"binary", m.config.Binary,
		"args", m.config.Args,
	)

	cmd := exec.CommandContext(ctx, m.config.Binary, m.config.Args...) //nolint:gosec // Binary path comes from validated configuration

	// New process group, so shutdown signals reach the adapter's own
	// children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if m.config.Env != nil {
		cmd.Env = append(os.Environ(), m.config.Env...)
	}
	if m.config.WorkDir != "" {
		cmd.Dir = m.config.WorkDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", m.config.Name, err)
	}

	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.startTime = time.Now()
	m.mu.Unlock()

	go m.pipeOutput("stdout", stdout)
	go m.pipeOutput("stderr", stderr)

	m.logger.Info("adapter process started",
		"name", m.config.Name,
		"pid", cmd.Process.Pid,
	)

	if m.config.OnStart != nil {
		m.config.OnStart()
	}

	return nil
}

// pipeOutput forwards one subprocess stream to the logger, a line at a
// time. The adapter's stdout is debug noise here; its real product is
// the export file.
func (m *Manager) pipeOutput(stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 256*1024)
	for scanner.Scan() {
		m.logger.Debug("adapter output",
			"name", m.config.Name,
			"stream", stream,
			"line", scanner.Text(),
		)
	}
}

// healthCheckFn resolves the active health check: an explicit override,
// the built-in export freshness check, or none.
func (m *Manager) healthCheckFn() func(context.Context) error {
	if m.config.HealthCheckFunc != nil {
		return m.config.HealthCheckFunc
	}
	if m.config.ExportPath != "" && m.config.ExportMaxAge > 0 {
		return m.checkExportFresh
	}
	return nil
}

// checkExportFresh verifies the adapter is still writing its inventory
// export. A missing file is healthy: the adapter may not have finished
// its first authentication cycle yet. A modification time older than
// ExportMaxAge means the process is alive but wedged.
func (m *Manager) checkExportFresh(context.Context) error {
	info, err := os.Stat(m.config.ExportPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat export %s: %w", m.config.ExportPath, err)
	}
	if age := time.Since(info.ModTime()); age > m.config.ExportMaxAge {
		return fmt.Errorf("inventory export %s is stale: last written %s ago (max %s)",
			m.config.ExportPath, age.Round(time.Second), m.config.ExportMaxAge)
	}
	return nil
}

// WaitForExport blocks until the inventory export exists on disk or the
// context expires. Useful on first start, before the initial inventory
// load. A manager with no ExportPath returns immediately.
func (m *Manager) WaitForExport(ctx context.Context) error {
	if m.config.ExportPath == "" {
		return nil
	}

	ticker := time.NewTicker(exportPollInterval)
	defer ticker.Stop()

	for {
		if _, err := os.Stat(m.config.ExportPath); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for inventory export %s: %w", m.config.ExportPath, ctx.Err())
		case <-ticker.C:
		}
	}
}

// awaitExitOrUnhealthy blocks until the adapter exits or fails
// maxHealthFailures consecutive health checks, in which case it kills
// the process. The returned error wraps the last health failure so the
// restart policy can inspect its recoverability.
func (m *Manager) awaitExitOrUnhealthy(ctx context.Context, cmd *exec.Cmd) error {
	exitCh := make(chan error, 1)
	go func() {
		exitCh <- cmd.Wait()
	}()

	check := m.healthCheckFn()
	if check == nil {
		return <-exitCh
	}

	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	failures := 0
	var lastHealthErr error

	for {
		select {
		case err := <-exitCh:
			return err

		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			err := check(checkCtx)
			cancel()

			if err == nil {
				if failures > 0 {
					m.logger.Info("adapter health recovered",
						"name", m.config.Name,
						"previous_failures", failures,
					)
				}
				failures = 0
				continue
			}

			failures++
			lastHealthErr = err
			m.logger.Warn("adapter health check failed",
				"name", m.config.Name,
				"error", err,
				"consecutive_failures", failures,
			)
			if failures < maxHealthFailures {
				continue
			}

			m.logger.Error("adapter unhealthy, killing process",
				"name", m.config.Name,
				"failures", failures,
			)
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}

			select {
			case <-exitCh:
			case <-time.After(healthCheckTimeout):
				return fmt.Errorf("adapter did not exit after kill: %w", lastHealthErr)
			}
			return fmt.Errorf("adapter killed after %d failed health checks: %w", failures, lastHealthErr)
		}
	}
}

// supervise watches the adapter and applies the restart policy.
func (m *Manager) supervise(ctx context.Context) {
	defer close(m.done)

	for {
		m.mu.RLock()
		cmd := m.cmd
		started := m.startTime
		m.mu.RUnlock()

		if cmd == nil {
			return
		}

		err := m.awaitExitOrUnhealthy(ctx, cmd)
		runTime := time.Since(started)

		m.mu.Lock()
		stopRequested := m.stopRequested
		m.mu.Unlock()

		if stopRequested {
			m.logger.Info("adapter stopped as requested", "name", m.config.Name)
			m.mu.Lock()
			m.status = StatusStopped
			m.mu.Unlock()
			if m.config.OnStop != nil {
				m.config.OnStop(nil)
			}
			return
		}

		m.logger.Warn("adapter exited unexpectedly",
			"name", m.config.Name,
			"error", err,
			"run_time", runTime.Round(time.Millisecond),
		)

		m.mu.Lock()
		m.lastError = err
		m.status = StatusFailed
		m.mu.Unlock()

		if m.config.OnStop != nil {
			m.config.OnStop(err)
		}

		if !m.config.RestartOnFailure {
			m.logger.Info("restart disabled, not restarting", "name", m.config.Name)
			return
		}
		if !IsRecoverable(err) {
			m.logger.Error("adapter failure is not recoverable, giving up",
				"name", m.config.Name,
				"error", err,
			)
			return
		}

		m.mu.Lock()
		// A stable run forgives earlier crashes: backoff starts over.
		if m.config.StableThreshold > 0 && runTime >= m.config.StableThreshold {
			m.attempts = 0
		}
		m.attempts++
		m.restartCount++
		attempt := m.attempts
		m.mu.Unlock()

		if m.config.MaxRestartAttempts > 0 && attempt > m.config.MaxRestartAttempts {
			m.logger.Error("adapter restart budget exhausted",
				"name", m.config.Name,
				"attempts", attempt-1,
			)
			return
		}

		delay := m.calculateBackoffDelay(attempt)
		m.logger.Info("restarting adapter",
			"name", m.config.Name,
			"attempt", attempt,
			"delay", delay,
		)

		if m.config.OnRestart != nil {
			m.config.OnRestart(attempt)
		}

		select {
		case <-ctx.Done():
			m.logger.Info("context cancelled, not restarting", "name", m.config.Name)
			return
		case <-time.After(delay):
		}

		m.mu.RLock()
		stopRequested = m.stopRequested
		m.mu.RUnlock()
		if stopRequested {
			return
		}

		if err := m.launch(ctx); err != nil {
			m.logger.Error("adapter relaunch failed",
				"name", m.config.Name,
				"error", err,
			)
			m.mu.Lock()
			m.cmd = nil
			m.status = StatusFailed
			m.lastError = err
			m.mu.Unlock()
			return
		}
	}
}

// calculateBackoffDelay doubles the restart delay for each consecutive
// failed attempt, capped at MaxRestartDelay.
func (m *Manager) calculateBackoffDelay(attempt int) time.Duration {
	delay := m.config.RestartDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.config.MaxRestartDelay {
			return m.config.MaxRestartDelay
		}
	}
	if delay > m.config.MaxRestartDelay {
		return m.config.MaxRestartDelay
	}
	return delay
}

// Stop gracefully stops the adapter: SIGTERM to the process group,
// then SIGKILL after GracefulTimeout. Safe to call at any time; a
// supervisor sleeping out a restart backoff will notice and give up.
func (m *Manager) Stop() error {
	m.mu.Lock()
	m.stopRequested = true
	if m.status != StatusRunning && m.status != StatusStarting {
		m.mu.Unlock()
		return nil
	}
	cmd := m.cmd
	done := m.done
	m.mu.Unlock()

	if cmd == nil || cmd.Process == nil || done == nil {
		return nil
	}

	pid := cmd.Process.Pid
	m.logger.Info("stopping adapter", "name", m.config.Name, "pid", pid)

	// Negative PID signals the whole process group created via Setpgid.
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		if !errors.Is(err, syscall.ESRCH) {
			m.logger.Warn("failed to send SIGTERM to process group",
				"name", m.config.Name,
				"error", err,
			)
		}
	}

	select {
	case <-done:
		m.logger.Info("adapter stopped gracefully", "name", m.config.Name)
		return nil
	case <-time.After(m.config.GracefulTimeout):
		m.logger.Warn("graceful shutdown timeout, sending SIGKILL",
			"name", m.config.Name,
			"timeout", m.config.GracefulTimeout,
		)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		if !errors.Is(err, syscall.ESRCH) {
			return fmt.Errorf("killing process group %s: %w", m.config.Name, err)
		}
	}

	<-done
	m.logger.Info("adapter killed", "name", m.config.Name)

	return nil
}

// Status returns the current supervision status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning returns true if the adapter is currently running.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// LastError returns the last error that caused the adapter to exit.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// RestartCount returns the number of restarts attempted so far.
func (m *Manager) RestartCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restartCount
}

// Uptime returns how long the current adapter process has been running,
// or 0 when it is not running.
func (m *Manager) Uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status != StatusRunning {
		return 0
	}
	return time.Since(m.startTime)
}

// PID returns the adapter's process ID, or 0 if not running.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Pid
	}
	return 0
}

// Stats is a point-in-time snapshot of the supervised adapter.
type Stats struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
	ExportAge    time.Duration `json:"export_age,omitempty"`
	ExportStale  bool          `json:"export_stale,omitempty"`
}

// Stats returns current statistics, including the inventory export's
// age when an export path is configured.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:         m.config.Name,
		Status:       m.status,
		RestartCount: m.restartCount,
	}

	if m.cmd != nil && m.cmd.Process != nil {
		stats.PID = m.cmd.Process.Pid
	}
	if m.status == StatusRunning {
		stats.Uptime = time.Since(m.startTime)
	}
	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}

	if m.config.ExportPath != "" {
		if info, err := os.Stat(m.config.ExportPath); err == nil {
			stats.ExportAge = time.Since(info.ModTime())
			stats.ExportStale = m.config.ExportMaxAge > 0 && stats.ExportAge > m.config.ExportMaxAge
		}
	}

	return stats
}
