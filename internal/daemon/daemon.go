package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/vocalis/vocalis/internal/config"
	"github.com/vocalis/vocalis/internal/logger"
	"github.com/vocalis/vocalis/internal/observability"
	"github.com/vocalis/vocalis/internal/tracing"
	"github.com/vocalis/vocalis/pkg/definition"
	"github.com/vocalis/vocalis/pkg/gateway"
	"github.com/vocalis/vocalis/pkg/intent"
	"github.com/vocalis/vocalis/pkg/orchestrator"
	"github.com/vocalis/vocalis/pkg/provider"
	"github.com/vocalis/vocalis/pkg/session"
	"github.com/vocalis/vocalis/pkg/store"
	"github.com/vocalis/vocalis/pkg/toolgateway"
)

const (
	definitionReloadDebounce = 500 * time.Millisecond

	serviceName    = "vocalisd"
	serviceVersion = "0.1.0"
)

// Daemon wires the runtime together: definition store, provider adapter,
// tool gateway, checkpoint store, session manager and the client websocket
// server.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	definitions *definition.Store
	watcher     *definition.Watcher
	provider    provider.Provider
	tools       *toolgateway.Gateway
	checkpoints store.Store
	classifier  intent.Classifier
	sessions    *session.Manager
	sweeper     *session.Sweeper
	gateway     *gateway.Server
	lifecycle   *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	running   bool
	startTime time.Time

	tracingEnabled bool
}

// Status is a point-in-time daemon snapshot.
type Status struct {
	Running        bool          `json:"running"`
	PID            int           `json:"pid"`
	Uptime         time.Duration `json:"uptime"`
	ActiveSessions int           `json:"active_sessions"`
	Agents         int           `json:"agents"`
}

// New builds a daemon from validated configuration.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()

	tracingEnabled := false
	if cfg.Tracing.Enabled {
		if err := tracing.Init(tracing.Options{
			ServiceName:  serviceName,
			Version:      serviceVersion,
			SampleRatio:  cfg.Tracing.SampleRatio,
			StdoutExport: cfg.Tracing.StdoutExport,
		}); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without it")
		} else {
			tracingEnabled = true
		}
	}

	d := &Daemon{
		config:         cfg,
		logger:         log,
		ctx:            ctx,
		cancel:         cancel,
		tracingEnabled: tracingEnabled,
	}

	if err := d.initialize(); err != nil {
		cancel()
		if d.tracingEnabled {
			_ = tracing.Shutdown(context.Background())
		}
		return nil, fmt.Errorf("failed to initialize daemon: %w", err)
	}

	d.lifecycle = NewLifecycleManager(d)
	return d, nil
}

// initialize builds the components in dependency order.
func (d *Daemon) initialize() error {
	defs, err := definition.NewStore(d.config.Definitions.Dir)
	if err != nil {
		return fmt.Errorf("agent definitions: %w", err)
	}
	d.definitions = defs
	d.logger.Info().Str("dir", d.config.Definitions.Dir).
		Int("agents", len(defs.Current().Agents())).Msg("Agent definitions loaded")

	if d.config.Definitions.WatchReload {
		watcher, err := definition.NewWatcher(defs, definitionReloadDebounce)
		if err != nil {
			return fmt.Errorf("definition watcher: %w", err)
		}
		d.watcher = watcher
	}

	profile, err := d.selectProvider()
	if err != nil {
		return err
	}
	p, err := provider.New(profile, provider.Options{
		EventBuffer:    d.config.Realtime.EventBuffer,
		ConnectTimeout: d.config.Realtime.ConnectTimeout,
	})
	if err != nil {
		return fmt.Errorf("provider %q: %w", profile.ID, err)
	}
	d.provider = p

	d.tools = toolgateway.NewGateway(d.config.Tools)

	checkpoints, err := store.NewSQLiteStore(d.config.Sessions.CheckpointPath)
	if err != nil {
		return fmt.Errorf("checkpoint store: %w", err)
	}
	d.checkpoints = checkpoints

	classifier, err := intent.New(d.config.Intent)
	if err != nil {
		return fmt.Errorf("intent classifier: %w", err)
	}
	d.classifier = classifier

	d.sessions = session.NewManager(d.ctx, d.orchestratorDeps(), d.config.Sessions)

	sweeper, err := session.NewSweeper(d.sessions)
	if err != nil {
		return fmt.Errorf("idle sweep: %w", err)
	}
	d.sweeper = sweeper

	gw, err := gateway.NewServer(d.config.Gateway, d.sessions)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	d.gateway = gw

	return nil
}

func (d *Daemon) orchestratorDeps() orchestrator.Deps {
	return orchestrator.Deps{
		Provider:    d.provider,
		Definitions: d.definitions,
		Tools:       d.tools,
		Checkpoints: d.checkpoints,
		Classifier:  d.classifier,
		Realtime:    d.config.Realtime,
	}
}

// selectProvider picks the configured provider profile; the first one wins
// unless exactly one is marked by the realtime model.
func (d *Daemon) selectProvider() (config.ProviderProfile, error) {
	if len(d.config.Providers) == 0 {
		return config.ProviderProfile{}, fmt.Errorf("no provider profiles configured")
	}
	return d.config.Providers[0], nil
}

// Start brings the daemon up and blocks until shutdown.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("lifecycle: %w", err)
	}

	if err := observability.InitAuditLogger(filepath.Join(d.config.DataDir, "audit.log")); err != nil {
		d.logger.Warn().Err(err).Msg("Audit log file unavailable, falling back to stderr")
	}

	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			return fmt.Errorf("definition watcher: %w", err)
		}
	}
	d.sweeper.Start()

	gatewayErr := make(chan error, 1)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.gateway.Start(); err != nil {
			gatewayErr <- err
		}
	}()

	d.logger.Info().Int("pid", os.Getpid()).Msg("Daemon started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				d.reloadDefinitions()
				continue
			}
			d.logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
			return d.Stop()

		case err := <-gatewayErr:
			d.logger.Error().Err(err).Msg("Gateway server failed")
			stopErr := d.Stop()
			if stopErr != nil {
				d.logger.Error().Err(stopErr).Msg("Shutdown after gateway failure was dirty")
			}
			return err

		case <-d.ctx.Done():
			return d.Stop()
		}
	}
}

// reloadDefinitions swaps in a fresh definition set; a rejected set leaves
// the active one serving.
func (d *Daemon) reloadDefinitions() {
	d.logger.Info().Msg("Reload signal received")
	if err := d.definitions.Reload(); err != nil {
		d.logger.Error().Err(err).Msg("Definition reload rejected, keeping active set")
		return
	}
	d.logger.Info().Int("agents", len(d.definitions.Current().Agents())).
		Msg("Definitions reloaded")
}

// Stop tears the daemon down in reverse dependency order, draining active
// sessions through their final checkpoints.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	d.logger.Info().Msg("Stopping daemon")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := d.gateway.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn().Err(err).Msg("Gateway shutdown was dirty")
	}
	d.sweeper.Stop()
	if d.watcher != nil {
		_ = d.watcher.Stop()
	}

	// Sessions drain through their final checkpoints before the base
	// context is cancelled; a cancel-first order would report every
	// graceful close as an errored one.
	d.sessions.Shutdown()
	d.cancel()
	d.tools.Close()

	if err := d.checkpoints.Close(); err != nil {
		d.logger.Warn().Err(err).Msg("Checkpoint store close failed")
	}

	if err := d.lifecycle.Stop(); err != nil {
		d.logger.Warn().Err(err).Msg("Lifecycle teardown failed")
	}

	if d.tracingEnabled {
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			d.logger.Warn().Err(err).Msg("Tracing shutdown failed")
		}
	}

	d.wg.Wait()
	d.logger.Info().Dur("uptime", time.Since(d.startTime)).Msg("Daemon stopped")
	return nil
}

// Status reports the daemon snapshot.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var uptime time.Duration
	if d.running {
		uptime = time.Since(d.startTime)
	}
	return Status{
		Running:        d.running,
		PID:            os.Getpid(),
		Uptime:         uptime,
		ActiveSessions: d.sessions.Active(),
		Agents:         len(d.definitions.Current().Agents()),
	}
}
