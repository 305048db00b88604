// Package daemon coordinates the long-running watchpod process: the entity
// store, the feed refresher, the download manager, the device reconciler,
// cache cleanup, the scheduler, and the HTTP API, under a single lifecycle
// with flock-based locking to prevent multiple instances.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"watchpod/internal/config"
	"watchpod/internal/deps"
	"watchpod/internal/device"
	"watchpod/internal/download"
	"watchpod/internal/feed"
	"watchpod/internal/logging"
	"watchpod/internal/maintenance"
	"watchpod/internal/podcasts"
	"watchpod/internal/scheduler"
	"watchpod/internal/storage"
	"watchpod/internal/store"
	"watchpod/internal/syncer"
	"watchpod/internal/transcode"
)

// Daemon owns every long-lived component of the watchpod process.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store

	podcastSvc *podcasts.Service
	downloads  *download.Manager
	reconciler *syncer.Reconciler
	reclaimer  *storage.Reclaimer
	locator    *device.Locator
	monitor    *device.Monitor
	scheduler  *scheduler.Scheduler
	api        *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New wires up a daemon from configuration. The store is opened immediately;
// nothing else starts until Start.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg)
	if err != nil {
		return nil, err
	}

	lock := maintenance.NewLock(cfg.Paths.DataDir)
	locator := device.NewLocator(cfg, logger)
	gateway := transcode.NewGateway(cfg, logger)
	fetcher := feed.NewHTTPFetcher(cfg.FeedTimeout())

	d := &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		store:      st,
		podcastSvc: podcasts.NewService(cfg, st, fetcher, logger),
		downloads:  download.NewManager(cfg, st, gateway, logger),
		reconciler: syncer.NewReconciler(cfg, st, locator, lock, logger),
		reclaimer:  storage.NewReclaimer(cfg, st, lock, logger),
		locator:    locator,
		scheduler:  scheduler.New(logger),
		lockPath:   filepath.Join(cfg.Paths.DataDir, "watchpod.lock"),
	}
	d.lock = flock.New(d.lockPath)
	d.monitor = device.NewMonitor(logger, d.onDeviceEvent)
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the instance lock and launches every component.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return nil
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another watchpod instance is already running (lock %s)", d.lockPath)
	}

	if missing := deps.MissingRequired(deps.CheckBinaries(deps.Requirements(d.cfg))); len(missing) > 0 {
		d.logger.Warn("required external tools missing, conversions will fail",
			logging.Any("missing", missing),
		)
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.registerJobs()
	d.scheduler.Start(d.ctx)

	if err := d.monitor.Start(d.ctx); err != nil {
		d.logger.Warn("device monitor failed to start", logging.Error(err))
	}
	if err := d.api.start(d.ctx); err != nil {
		d.Stop()
		return err
	}

	d.running.Store(true)
	d.logger.Info("daemon started",
		logging.Int("pid", os.Getpid()),
		logging.String("database", d.store.Path()),
	)
	return nil
}

// Stop shuts components down in reverse order and releases the lock.
func (d *Daemon) Stop() {
	if d.cancel != nil {
		d.cancel()
	}

	d.api.stop()
	d.monitor.Stop()
	d.scheduler.Stop()
	d.downloads.Shutdown()

	if err := d.store.Close(); err != nil {
		d.logger.Warn("failed to close store", logging.Error(err))
	}
	_ = d.lock.Unlock()

	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// APIAddr returns the bound API listen address, empty before Start.
func (d *Daemon) APIAddr() string {
	return d.api.Addr()
}

// Wait blocks until the daemon's context ends.
func (d *Daemon) Wait() {
	if d.ctx == nil {
		return
	}
	<-d.ctx.Done()
}

// Status describes the daemon's current condition.
type Status struct {
	Running         bool
	PID             int
	DatabasePath    string
	LockFilePath    string
	APIBind         string
	ActiveDownloads int
	DeviceConnected bool
	Dependencies    []deps.Status
}

// Status reports daemon health for the API and CLI.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:         d.running.Load(),
		PID:             os.Getpid(),
		DatabasePath:    d.store.Path(),
		LockFilePath:    d.lockPath,
		APIBind:         d.cfg.Paths.APIBind,
		ActiveDownloads: d.downloads.ActiveCount(),
		DeviceConnected: d.locator.IsConnected(),
		Dependencies:    deps.CheckBinaries(deps.Requirements(d.cfg)),
	}
}

// onDeviceEvent reacts to block device attach events by probing for the
// watch and, when auto-sync is enabled, reconciling it.
func (d *Daemon) onDeviceEvent(ctx context.Context, action string) {
	if action != "add" {
		return
	}
	// The kernel announces the block device before the mount shows up.
	time.Sleep(2 * time.Second)

	if !d.locator.IsConnected() {
		return
	}
	d.logger.Info("device attached")

	if !d.syncEnabled(ctx) {
		return
	}
	if _, err := d.reconciler.SyncToDevice(ctx, store.SyncAuto, nil); err != nil && !errors.Is(err, maintenance.ErrBusy) {
		d.logger.Warn("auto-sync after device attach failed", logging.Error(err))
	}
}
