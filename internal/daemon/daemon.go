package daemon

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/singleflight"

	"github.com/msageha/restfile/internal/engine"
	"github.com/msageha/restfile/internal/events"
	"github.com/msageha/restfile/internal/httpapi"
	"github.com/msageha/restfile/internal/lock"
	"github.com/msageha/restfile/internal/logging"
	"github.com/msageha/restfile/internal/model"
	"github.com/msageha/restfile/internal/state"
	"github.com/msageha/restfile/internal/uds"
)

const (
	defaultShutdownTimeout = 30 * time.Second
	reloadDebounce         = 250 * time.Millisecond
	auditLogName           = "audit.jsonl"
)

// Daemon is the long-running restfile process. It owns the command registry,
// serves the CLI over a Unix socket and optionally the REST API.
type Daemon struct {
	dir       string
	config    model.Config
	overrides model.EnvOverrides
	logOut    io.Writer
	logger    *logging.Logger
	logFile   io.Closer

	fileLock *lock.FileLock
	server   *uds.Server
	api      *httpapi.Server
	watcher  *fsnotify.Watcher

	bus         *events.Bus
	audit       *events.AuditLogger
	detachAudit func()

	registry *engine.Registry
	engine   *engine.Engine
	store    state.Store
	reloads  singleflight.Group

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once
	stopped  chan struct{}
}

// New creates a Daemon logging to <dir>/logs/daemon.log. cfg must already have
// overrides applied; they are kept to be re-applied on reload.
func New(dir string, cfg model.Config, overrides model.EnvOverrides) (*Daemon, error) {
	logPath := filepath.Join(dir, "logs", "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}

	d, err := newDaemon(dir, cfg, overrides, logFile, logFile)
	if err != nil {
		_ = logFile.Close()
		return nil, err
	}
	return d, nil
}

// newDaemon is the internal constructor for testing.
func newDaemon(dir string, cfg model.Config, overrides model.EnvOverrides, w io.Writer, closer io.Closer) (*Daemon, error) {
	level := logging.ParseLevel(cfg.Logging.Level)
	logger := logging.New(w, level, "daemon")

	cmds, err := cfg.BuildCommands()
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", model.ConfigFileName, err)
	}

	var store state.Store
	if cfg.State.PersistEnabled() {
		fs, err := state.OpenFileStore(dir, logger.With("state"))
		if err != nil {
			return nil, fmt.Errorf("open state: %w", err)
		}
		store = fs
	} else {
		store = state.NewMemoryStore()
	}

	ctx, cancel := context.WithCancel(context.Background())
	bus := events.NewBus(0)
	registry := engine.NewRegistry(cmds)

	d := &Daemon{
		dir:       dir,
		config:    cfg,
		overrides: overrides,
		logOut:    w,
		logger:    logger,
		logFile:   closer,
		fileLock:  lock.NewFileLock(filepath.Join(dir, "locks", "daemon.lock")),
		server:    uds.NewServer(filepath.Join(dir, uds.DefaultSocketName), logger.With("uds")),
		bus:       bus,
		registry:  registry,
		store:     store,
		ctx:       ctx,
		cancel:    cancel,
		stopped:   make(chan struct{}),
	}
	d.engine = engine.New(registry, engine.Options{
		Store:  store,
		Bus:    bus,
		Logger: logger.With("engine"),
	})
	return d, nil
}

// Run starts the daemon and blocks until shutdown completes.
func (d *Daemon) Run() error {
	// Step 1: Acquire file lock
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.logger.Infof("daemon starting pid=%d commands=%v", os.Getpid(), d.registry.Names())

	// Step 2: Audit trail
	audit, err := events.NewAuditLogger(filepath.Join(d.dir, "logs", auditLogName), events.DefaultMaxLogSize)
	if err != nil {
		d.cleanup()
		return fmt.Errorf("open audit log: %w", err)
	}
	d.audit = audit
	d.detachAudit = audit.Attach(d.bus, func(err error) {
		d.logger.Warnf("audit write: %v", err)
	})

	// Step 3: Config watcher
	if d.config.Daemon.WatchEnabled() {
		if err := d.startWatcher(); err != nil {
			d.Shutdown()
			return err
		}
	}

	// Step 4: REST API
	if d.config.API.Listen != "" {
		if err := d.startAPI(); err != nil {
			d.Shutdown()
			return err
		}
	}

	// Step 5: UDS server, last: a shutdown request may arrive as soon as it accepts.
	d.registerHandlers()
	if err := d.server.Start(); err != nil {
		d.Shutdown()
		return fmt.Errorf("start UDS server: %w", err)
	}
	d.logger.Infof("UDS server listening on %s", filepath.Join(d.dir, uds.DefaultSocketName))

	d.logger.Infof("daemon ready")

	// Step 6: Wait for a signal or a shutdown request
	d.waitSignals()
	<-d.stopped
	return nil
}

func (d *Daemon) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	// Watch the directory: editors replace config.yaml rather than write it in place.
	if err := watcher.Add(d.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", d.dir, err)
	}
	d.watcher = watcher

	d.wg.Add(1)
	go d.fsnotifyLoop()
	return nil
}

func (d *Daemon) startAPI() error {
	handler := httpapi.Handler{
		Engine:   d.engine,
		States:   d.store,
		Services: d.registry.Describe,
		Reload:   d.Reload,
		Base:     d.ctx,
	}
	api, err := httpapi.NewServer(httpapi.ServerConfig{
		Listen:      d.config.API.Listen,
		TokenSecret: d.config.API.TokenSecret,
		LogOutput:   d.logOut,
	}, handler, d.logger.With("api"))
	if err != nil {
		return fmt.Errorf("start API: %w", err)
	}
	d.api = api
	api.Start()
	return nil
}

// fsnotifyLoop reloads after config.yaml changes settle.
func (d *Daemon) fsnotifyLoop() {
	defer d.wg.Done()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != model.ConfigFileName {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			d.logger.Debugf("fsnotify event=%s file=%s", event.Op, event.Name)
			if debounce == nil {
				debounce = time.AfterFunc(reloadDebounce, d.watchReload)
			} else {
				debounce.Reset(reloadDebounce)
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Errorf("fsnotify error=%v", err)
		}
	}
}

func (d *Daemon) watchReload() {
	if d.ctx.Err() != nil {
		return
	}
	if _, err := d.Reload(d.ctx); err != nil {
		d.logger.Warnf("reload after config change: %v", err)
	}
}

// waitSignals blocks until a shutdown signal arrives or Shutdown is called.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.logger.Infof("received signal=%s, initiating graceful shutdown", sig)
	case <-d.ctx.Done():
		return
	}

	// Second signal → force exit
	go func() {
		select {
		case <-sigCh:
			d.logger.Warnf("received second signal, forcing exit")
			os.Exit(1)
		case <-d.stopped:
		}
	}()

	d.Shutdown()
}

// Shutdown performs graceful shutdown (idempotent via sync.Once). In-flight
// invocations are cancelled and leave no last result.
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.logger.Infof("shutdown started")

		timeout := time.Duration(d.config.Daemon.ShutdownTimeoutSec) * time.Second
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		deadline, cancelDeadline := context.WithTimeout(context.Background(), timeout)
		defer cancelDeadline()

		// 1. Cancel context (stops accepting new work, aborts calls)
		d.cancel()

		// 2. Stop producers
		if d.watcher != nil {
			_ = d.watcher.Close()
		}
		if d.server != nil {
			_ = d.server.Stop()
		}
		if d.api != nil {
			if err := d.api.Shutdown(deadline); err != nil {
				d.logger.Warnf("api shutdown: %v", err)
			}
		}

		// 3. Drain background loops
		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			d.logger.Infof("all goroutines drained")
		case <-deadline.Done():
			d.logger.Warnf("shutdown timeout after %s, some operations may be incomplete", timeout)
		}

		// 4. Cleanup
		d.logger.Infof("daemon stopped")
		d.cleanup()
		close(d.stopped)
	})
}

// cleanup releases resources.
func (d *Daemon) cleanup() {
	if d.detachAudit != nil {
		d.detachAudit()
	}
	d.bus.Close()
	if d.audit != nil {
		_ = d.audit.Close()
	}
	_ = os.Remove(filepath.Join(d.dir, uds.DefaultSocketName))
	_ = d.fileLock.Unlock()
	if d.logFile != nil {
		_ = d.logFile.Close()
	}
}
