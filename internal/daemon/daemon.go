package daemon

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/tyonishi/commanda-sub001/internal/config"
	"github.com/tyonishi/commanda-sub001/internal/logger"
	"github.com/tyonishi/commanda-sub001/internal/metrics"
	"github.com/tyonishi/commanda-sub001/internal/observability"
	"github.com/tyonishi/commanda-sub001/internal/tracing"
	"github.com/tyonishi/commanda-sub001/pkg/dispatcher"
	"github.com/tyonishi/commanda-sub001/pkg/extension"
	"github.com/tyonishi/commanda-sub001/pkg/gateway"
	"github.com/tyonishi/commanda-sub001/pkg/history"
	"github.com/tyonishi/commanda-sub001/pkg/policy"
	"github.com/tyonishi/commanda-sub001/pkg/process"
	"github.com/tyonishi/commanda-sub001/pkg/secrets"
	"github.com/tyonishi/commanda-sub001/pkg/tools"
)

// Daemon assembles the gateway, dispatcher, registries and stores into
// one long-running service.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	metrics    *metrics.Metrics
	policy     *policy.Evaluator
	processes  *process.Manager
	secrets    *secrets.Store
	dispatcher *dispatcher.Dispatcher
	observer   *observability.CallObserver
	history    *history.Store
	extensions *extension.Registry

	// Services
	gatewayServer *gateway.Server
	watcher       *extension.Watcher
	housekeeping  *Housekeeping

	// Internal
	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	if err := tracing.InitOpenTelemetry("commanda-daemon"); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
	} else {
		log.Info().Msg("Tracing initialized successfully")
	}

	d := &Daemon{
		config:         cfg,
		logger:         log,
		ctx:            ctx,
		cancel:         cancel,
		tracingEnabled: true,
	}

	// Initialize core modules in dependency order
	if err := d.initializeCoreModules(); err != nil {
		cancel()
		d.shutdownTracing()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	// Initialize services
	if err := d.initializeServices(); err != nil {
		cancel()
		d.closeStores()
		d.shutdownTracing()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

// initializeCoreModules initializes all core modules
func (d *Daemon) initializeCoreModules() error {
	if err := os.MkdirAll(d.config.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if d.config.Extensions.Dir == "" {
		d.config.Extensions.Dir = filepath.Join(d.config.DataDir, "extensions")
	}

	// Initialize audit logger
	auditPath := filepath.Join(d.config.DataDir, "audit.log")
	if err := observability.InitAuditLogger(auditPath); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to initialize audit logger, using default stderr")
	} else {
		d.logger.Info().Str("path", auditPath).Msg("Audit logger initialized")
	}

	d.metrics = metrics.NewMetrics()
	d.logger.Info().Msg("Metrics registry initialized")

	protector := secrets.NewAESGCMProtector(filepath.Join(d.config.DataDir, "secrets.key"))
	d.secrets = secrets.New(d.logger.GetZerolog(), filepath.Join(d.config.DataDir, "secrets.json"), protector)
	d.logger.Info().Int("count", d.secrets.Count()).Msg("Secret store initialized")

	d.policy = policy.NewEvaluator()
	d.logger.Info().Msg("Policy evaluator initialized")

	d.processes = process.NewManager(process.Config{
		StartupWatch: time.Duration(d.config.Process.StartupWatchMS) * time.Millisecond,
		GracefulWait: time.Duration(d.config.Process.GracefulWaitMS) * time.Millisecond,
		ForcedWait:   time.Duration(d.config.Process.ForcedWaitMS) * time.Millisecond,
	}, d.logger.GetZerolog())
	d.logger.Info().Msg("Process manager initialized")

	historyStore, err := history.New(d.logger.GetZerolog(), filepath.Join(d.config.DataDir, "history.db"))
	if err != nil {
		return fmt.Errorf("failed to open call history: %w", err)
	}
	d.history = historyStore

	d.dispatcher = dispatcher.New(d.logger.GetZerolog())
	d.dispatcher.SetDefaultTimeout(d.config.DefaultTimeout())

	d.observer = observability.NewCallObserver(d.logger.GetZerolog(), d.metrics, d.history, d.dispatcher)
	d.dispatcher.SetObserver(d.observer)
	d.logger.Info().Msg("Tool dispatcher initialized")

	if err := tools.RegisterCoreTools(d.dispatcher, tools.Options{
		Policy:      d.policy,
		Processes:   d.processes,
		Secrets:     d.secrets,
		Metrics:     d.metrics,
		MaxReadSize: d.config.Tools.MaxReadBytes,
	}); err != nil {
		return fmt.Errorf("failed to register core tools: %w", err)
	}
	d.logger.Info().Int("tools", d.dispatcher.ToolCount()).Msg("Core tools registered")

	d.extensions = extension.NewRegistry(d.logger.GetZerolog(), d.config.Extensions.Dir, d.dispatcher)
	d.extensions.SetMetrics(d.metrics)
	d.logger.Info().Str("dir", d.config.Extensions.Dir).Msg("Extension registry initialized")

	return nil
}

// initializeServices initializes the watcher, housekeeping and gateway
func (d *Daemon) initializeServices() error {
	if d.config.Extensions.AutoReload {
		watcher, err := extension.NewWatcher(d.logger.GetZerolog(), extension.WatcherConfig{
			Dir: d.config.Extensions.Dir,
			OnSettled: func() {
				if _, err := d.extensions.Reload(d.ctx); err != nil {
					d.logger.Error().Err(err).Msg("Extension reload failed")
				}
			},
		})
		if err != nil {
			return fmt.Errorf("failed to create extension watcher: %w", err)
		}
		d.watcher = watcher
	}

	housekeeping, err := NewHousekeeping(d)
	if err != nil {
		return fmt.Errorf("failed to create housekeeping: %w", err)
	}
	d.housekeeping = housekeeping

	sharedSecret, err := d.loadOrCreateSharedSecret()
	if err != nil {
		return fmt.Errorf("failed to prepare gateway secret: %w", err)
	}

	gatewayServer, err := gateway.NewServer(gateway.Config{
		Host:              d.config.Gateway.Host,
		Port:              d.config.Gateway.Port,
		SharedSecret:      sharedSecret,
		RequestsPerMinute: d.config.Gateway.RequestsPerMinute,
		MaxConcurrent:     d.config.Gateway.MaxConcurrent,
		Dispatcher:        d.dispatcher,
		Extensions:        d.extensions,
		Processes:         d.processes,
		Secrets:           d.secrets,
		History:           d.history,
		Status:            d.statusSnapshot,
		Metrics:           d.metrics,
		Logger:            d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}
	d.gatewayServer = gatewayServer

	// Call events reach websocket clients through the observer.
	d.observer.SetBroadcast(func(event string, payload map[string]interface{}) {
		d.gatewayServer.Broadcast(event, payload)
	})

	return nil
}

// loadOrCreateSharedSecret returns the configured gateway secret, or
// materializes a persistent random one under the data dir so clients can
// read it from disk. Mirrors the secret-key bootstrap of the credential
// store.
func (d *Daemon) loadOrCreateSharedSecret() (string, error) {
	if s := strings.TrimSpace(d.config.Gateway.SharedSecret); s != "" {
		return s, nil
	}

	secretPath := filepath.Join(d.config.DataDir, "gateway.secret")
	data, err := os.ReadFile(secretPath)
	if err == nil {
		if s := strings.TrimSpace(string(data)); s != "" {
			return s, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read gateway secret: %w", err)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate gateway secret: %w", err)
	}
	secret := hex.EncodeToString(buf)

	if err := os.WriteFile(secretPath, []byte(secret+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("failed to write gateway secret: %w", err)
	}
	d.logger.Info().Str("path", secretPath).Msg("Generated gateway shared secret")

	return secret, nil
}

// statusSnapshot backs the gateway's status RPC method.
func (d *Daemon) statusSnapshot() map[string]interface{} {
	status := d.Status()

	return map[string]interface{}{
		"running":     status.Running,
		"uptime_ms":   status.Uptime.Milliseconds(),
		"started_at":  status.StartTime.UTC().Format(time.RFC3339),
		"tools":       d.dispatcher.ToolCount(),
		"extensions":  d.extensions.Count(),
		"processes":   d.processes.TrackedCount(),
		"secret_keys": d.secrets.Count(),
	}
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Starting Commanda daemon")

	// Start lifecycle manager
	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	// Load extensions before serving so the first request sees the full
	// tool surface.
	if result, err := d.extensions.Load(d.ctx); err != nil {
		logger.Warn().Err(err).Msg("Extension scan failed, continuing with built-in tools only")
	} else {
		logger.Info().
			Int("loaded", len(result.Loaded)).
			Int("failed", len(result.Failed)).
			Msg("Extensions loaded")
	}

	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start extension watcher, auto-reload disabled")
		} else {
			logger.Info().Msg("Extension watcher started")
		}
	}

	if err := d.housekeeping.Start(); err != nil {
		return fmt.Errorf("failed to start housekeeping: %w", err)
	}
	logger.Info().Str("schedule", d.config.Housekeeping.Schedule).Msg("Housekeeping started")

	// Start gateway server
	if err := d.gatewayServer.Start(); err != nil {
		return fmt.Errorf("failed to start gateway server: %w", err)
	}
	logger.Info().
		Str("host", d.config.Gateway.Host).
		Int("port", d.config.Gateway.Port).
		Msg("Gateway server started")

	logger.Info().Msg("Daemon started successfully - all core modules active")

	return nil
}

// Stop stops the daemon service gracefully
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Stopping Commanda daemon")

	// Stop gateway server first so no new calls arrive while the rest
	// shuts down.
	if d.gatewayServer != nil {
		if err := d.gatewayServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop gateway server")
		}
	}

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop extension watcher")
		}
	}

	if d.housekeeping != nil {
		d.housekeeping.Stop()
		logger.Info().Msg("Housekeeping stopped")
	}

	// Cancel in-flight dispatches before tearing down providers.
	d.cancel()

	// Kill extension provider processes
	if d.extensions != nil {
		d.extensions.Shutdown()
		logger.Info().Msg("Extension registry shut down")
	}

	// Reap anything the process manager still tracks
	if d.processes != nil {
		reaped := d.processes.PruneExited(context.Background())
		if reaped > 0 {
			logger.Info().Int("reaped", reaped).Msg("Pruned exited processes")
		}
	}

	d.closeStores()

	// Stop lifecycle manager
	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.shutdownTracing()

	// Close audit logger
	if err := observability.GetAuditLogger().Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close audit logger")
	}

	logger.Info().Msg("Daemon stopped successfully")

	return nil
}

func (d *Daemon) closeStores() {
	if d.history != nil {
		if err := d.history.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close call history")
		}
		d.history = nil
	}
}

func (d *Daemon) shutdownTracing() {
	if !d.tracingEnabled {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
		d.logger.Error().Err(err).Msg("Failed to shutdown tracing")
	}
	cancel()
	d.tracingEnabled = false
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}

	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// Status represents daemon status
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetLogger returns the daemon logger
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetDispatcher returns the tool dispatcher
func (d *Daemon) GetDispatcher() *dispatcher.Dispatcher {
	return d.dispatcher
}

// GetExtensionRegistry returns the extension registry
func (d *Daemon) GetExtensionRegistry() *extension.Registry {
	return d.extensions
}

// GetProcessManager returns the process manager
func (d *Daemon) GetProcessManager() *process.Manager {
	return d.processes
}

// GetSecretStore returns the secret store
func (d *Daemon) GetSecretStore() *secrets.Store {
	return d.secrets
}

// GetHistory returns the call history store
func (d *Daemon) GetHistory() *history.Store {
	return d.history
}

// GetGatewayServer returns the gateway server
func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.gatewayServer
}
