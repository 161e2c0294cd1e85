// Package daemon assembles the engine into a long-running service: config
// with hot reload, logging, audit, metrics, the admin server, and the
// confirmation sweeper.
package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gatehouse-io/gatehouse/internal/audit"
	"github.com/gatehouse-io/gatehouse/internal/config"
	"github.com/gatehouse-io/gatehouse/internal/engine"
	"github.com/gatehouse-io/gatehouse/internal/logger"
	"github.com/gatehouse-io/gatehouse/internal/metrics"
	"github.com/gatehouse-io/gatehouse/internal/server"
	"github.com/gatehouse-io/gatehouse/pkg/catalog"
	"github.com/gatehouse-io/gatehouse/pkg/executor"
	"github.com/gatehouse-io/gatehouse/pkg/vault"
)

const shutdownTimeout = 10 * time.Second

// Daemon is the assembled gatehouse service
type Daemon struct {
	cfgMgr    *config.Manager
	log       *logger.Logger
	zlog      zerolog.Logger
	repo      *catalog.StaticRepository
	eng       *engine.Engine
	srv       *server.Server
	recorder  *audit.Recorder
	met       *metrics.Metrics
	lifecycle *LifecycleManager

	cancelMetricsFeed func()
	startedAt         time.Time
}

// New loads configuration and assembles the daemon. v is the external
// credential vault; nil disables credential injection (systems with AuthNone
// still work).
func New(configPath string, v vault.Vault) (*Daemon, error) {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	lg, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	zlog := lg.Zerolog()

	repo, err := catalog.NewFileRepository(cfg.Catalog.Path)
	if err != nil {
		lg.Close()
		return nil, fmt.Errorf("failed to load catalog snapshot: %w", err)
	}

	cfgMgr := config.NewManager(cfg, loader)

	var recorder *audit.Recorder
	var sink executor.AuditSink
	if cfg.Audit.Path != "" {
		recorder, err = audit.NewRecorder(cfg.Audit.Path, lg.Redactor(), zlog)
		if err != nil {
			lg.Close()
			return nil, fmt.Errorf("failed to open audit recorder: %w", err)
		}
		sink = recorder
	}

	eng := engine.New(repo, cfgMgr, v, sink, zlog, executor.Options{})

	met := metrics.NewMetrics()

	var srv *server.Server
	if cfg.Admin.Enabled {
		srv = server.NewServer(server.Options{
			Host:    cfg.Admin.Host,
			Port:    cfg.Admin.Port,
			Metrics: met.Handler(),
		}, eng, cfgMgr, zlog)
	}

	d := &Daemon{
		cfgMgr:   cfgMgr,
		log:      lg,
		zlog:     zlog,
		repo:     repo,
		eng:      eng,
		srv:      srv,
		recorder: recorder,
		met:      met,
	}
	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

// Engine returns the assembled engine
func (d *Daemon) Engine() *engine.Engine { return d.eng }

// Start brings background work up: PID file, confirmation sweeper, config
// watcher, metrics feed and the admin server.
func (d *Daemon) Start() error {
	if err := d.lifecycle.Start(); err != nil {
		return err
	}
	d.startedAt = time.Now()

	if err := d.eng.Start(); err != nil {
		return fmt.Errorf("failed to start confirmation sweeper: %w", err)
	}

	if err := d.cfgMgr.Watch(); err != nil {
		// Hot reload is best-effort; a missing config file is a valid setup.
		d.zlog.Warn().Err(err).Msg("Config hot reload unavailable")
	}

	ch, cancel := d.eng.Bus().Subscribe(256)
	d.cancelMetricsFeed = cancel
	go d.met.Run(ch, d.eng.Gate().TotalPending)

	if d.srv != nil {
		go func() {
			if err := d.srv.Start(); err != nil {
				d.zlog.Error().Err(err).Msg("Admin server exited")
			}
		}()
	}

	d.zlog.Info().Msg("Daemon started")
	return nil
}

// Run starts the daemon and blocks until the context is cancelled
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return d.Stop()
}

// Stop tears everything down in reverse dependency order
func (d *Daemon) Stop() error {
	if d.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := d.srv.Shutdown(ctx); err != nil {
			d.zlog.Warn().Err(err).Msg("Admin server shutdown failed")
		}
		cancel()
	}

	d.eng.Stop()

	if d.cancelMetricsFeed != nil {
		d.cancelMetricsFeed()
	}

	if d.recorder != nil {
		if err := d.recorder.Close(); err != nil {
			d.zlog.Warn().Err(err).Msg("Audit recorder close failed")
		}
	}

	if err := d.cfgMgr.Close(); err != nil {
		d.zlog.Warn().Err(err).Msg("Config watcher close failed")
	}

	if err := d.lifecycle.Stop(); err != nil {
		d.zlog.Warn().Err(err).Msg("Lifecycle teardown failed")
	}

	d.zlog.Info().Msg("Daemon stopped")
	return d.log.Close()
}

// Uptime reports how long the daemon has been running
func (d *Daemon) Uptime() time.Duration {
	if d.startedAt.IsZero() {
		return 0
	}
	return time.Since(d.startedAt)
}
