package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dm-vev/powermobs/server/blocker"
	"github.com/dm-vev/powermobs/server/cmd"
	"github.com/dm-vev/powermobs/server/plugin"
	"github.com/dm-vev/powermobs/server/scheduler"
	"github.com/dm-vev/powermobs/server/world"
)

var (
	// ErrRunning is returned by Server.Run if the Server is already running.
	ErrRunning = errors.New("server is already running")
	// ErrClosed is returned by Server.Run if the Server was closed.
	ErrClosed = errors.New("server is closed")
	// ErrNoLedger is returned by Server.LedgerPartitions if the Server was not
	// configured with a ledger database.
	ErrNoLedger = errors.New("no ledger database configured")
)

// Server ties the spawn blocker manager, the worlds it tracks, the plugin
// manager and the scheduler driving them together. A Server is created using
// Config.New and started with Run.
type Server struct {
	conf    Config
	log     *slog.Logger
	startMu sync.Mutex
	started time.Time

	sched    *scheduler.Scheduler
	worlds   *world.Worlds
	blockers *blocker.Manager
	plugins  *plugin.Manager[*Server, Config]
	wrapped  bool

	running      atomic.Bool
	closing      chan struct{}
	closeOnce    sync.Once
	shutdownOnce sync.Once
	shutdownErr  error
}

// handleable is a world that accepts a Handler for its events.
type handleable interface {
	world.World
	Handle(h world.Handler)
}

// Run loads the plugins, starts the blocker manager and runs the scheduler
// until ctx is cancelled or Close is called. The blocker snapshot is saved and
// every plugin disabled before Run returns.
func (srv *Server) Run(ctx context.Context) error {
	select {
	case <-srv.closing:
		return ErrClosed
	default:
	}
	if !srv.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	srv.startMu.Lock()
	srv.started = time.Now()
	srv.startMu.Unlock()

	srv.LoadPlugins()
	srv.blockers.Start(srv.sched)
	for _, name := range srv.worlds.Names() {
		if w, ok := srv.worlds.World(name); ok {
			srv.scanWorld(w)
		}
	}
	srv.log.Info("Server running.", "name", srv.conf.Name, "worlds", len(srv.worlds.Names()), "definitions", srv.blockers.Registry().Len())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-srv.closing:
			cancel()
		case <-runCtx.Done():
		}
	}()
	srv.sched.Run(runCtx)

	err := srv.shutdown()
	srv.running.Store(false)
	return err
}

// Close stops the Server. If the Server is running, Close returns immediately
// and Run performs the shutdown before returning. Otherwise, the shutdown is
// performed right away. Close may be called from a scheduler task.
func (srv *Server) Close() error {
	srv.closeOnce.Do(func() {
		close(srv.closing)
	})
	if srv.running.Load() {
		return nil
	}
	return srv.shutdown()
}

func (srv *Server) shutdown() error {
	srv.shutdownOnce.Do(func() {
		srv.log.Info("Server closing...")
		srv.plugins.Shutdown()

		var errs []error
		if srv.StartTime().IsZero() {
			// The snapshot was never loaded, so only the ledger is closed.
			if c, ok := srv.conf.Blockers.Ledger.(io.Closer); ok {
				if err := c.Close(); err != nil {
					errs = append(errs, fmt.Errorf("close ledger: %w", err))
				}
			}
		} else if err := srv.blockers.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close blockers: %w", err))
		}
		if srv.wrapped {
			world.SetHandlerWrap(nil)
		}
		srv.shutdownErr = errors.Join(errs...)
		if srv.shutdownErr != nil {
			srv.log.Error("Server closed with errors.", "error", srv.shutdownErr)
			return
		}
		srv.log.Info("Server closed.")
	})
	return srv.shutdownErr
}

// ExecuteCommand runs a command line on behalf of source. While the Server is
// running, the command runs on the scheduler goroutine and ExecuteCommand
// blocks until it has finished, ctx is cancelled or the Server is closed.
// ExecuteCommand must not be called from a scheduler task.
func (srv *Server) ExecuteCommand(ctx context.Context, source cmd.Source, line string) {
	run := func() {
		cmd.ExecuteLine(source, line, func(c cmd.Command, args []string) bool {
			srv.log.Debug("Executing command.", "source", source.Name(), "command", c.Name(), "args", args)
			return true
		})
	}
	if !srv.running.Load() {
		run()
		return
	}
	select {
	case <-srv.sched.Exec(run):
	case <-ctx.Done():
	case <-srv.closing:
	}
}

// LoadPlugins enables the static plugins of the Config and every plugin found
// through the plugin configuration. It does nothing if the plugin subsystem is
// disabled.
func (srv *Server) LoadPlugins() {
	if !srv.plugins.Enabled() {
		return
	}
	names := make([]string, 0, len(srv.conf.StaticPlugins))
	for name := range srv.conf.StaticPlugins {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := srv.plugins.EnableFactory(name, srv.conf.StaticPlugins[name]); err != nil && !errors.Is(err, plugin.ErrAlreadyLoaded) {
			srv.log.Error("Could not enable static plugin.", "plugin", name, "error", err)
		}
	}
	srv.plugins.LoadConfigured()
}

// AddWorld starts tracking the blockers of w. If the Server is running, the
// chunks of w that are already resident are scanned on the scheduler and
// AddWorld waits for the scan, unless the Server is closed first. AddWorld must
// not be called from a scheduler task.
func (srv *Server) AddWorld(w world.World) {
	srv.addWorld(w)
	if srv.running.Load() {
		select {
		case <-srv.sched.Exec(func() { srv.scanWorld(w) }):
		case <-srv.closing:
		}
	}
}

func (srv *Server) addWorld(w world.World) {
	if h, ok := w.(handleable); ok {
		h.Handle(blockerHandler{blockers: srv.blockers})
	}
	srv.worlds.Add(w)
}

func (srv *Server) scanWorld(w world.World) {
	if n := srv.blockers.ScanWorld(w); n > 0 {
		srv.log.Debug("Hydrated blockers of resident chunks.", "world", w.Name(), "count", n)
	}
}

// Name returns the name of the Server.
func (srv *Server) Name() string {
	return srv.conf.Name
}

// StartTime returns the time the Server started running. It is the zero time
// if Run was never called.
func (srv *Server) StartTime() time.Time {
	srv.startMu.Lock()
	defer srv.startMu.Unlock()
	return srv.started
}

// Scheduler returns the Scheduler all tasks of the Server run on.
func (srv *Server) Scheduler() *scheduler.Scheduler {
	return srv.sched
}

// Blockers returns the spawn blocker manager of the Server.
func (srv *Server) Blockers() *blocker.Manager {
	return srv.blockers
}

// Worlds returns the worlds tracked by the Server.
func (srv *Server) Worlds() *world.Worlds {
	return srv.worlds
}

// LedgerPartitions returns the chunks of a world that currently hold a ledger
// in the ledger database.
func (srv *Server) LedgerPartitions(worldName string) ([]world.ChunkPos, error) {
	if srv.conf.Ledger == nil {
		return nil, ErrNoLedger
	}
	chunks, err := srv.conf.Ledger.Partitions(worldName)
	if err != nil {
		return nil, fmt.Errorf("list ledger partitions: %w", err)
	}
	return chunks, nil
}

// PluginsEnabled reports if the plugin subsystem of the Server is enabled.
func (srv *Server) PluginsEnabled() bool {
	return srv.plugins.Enabled()
}

// Plugins returns information about all enabled plugins.
func (srv *Server) Plugins() []PluginInfo {
	return slices.Clone(srv.plugins.Infos())
}

// EnablePlugin loads and enables the plugin file at path.
func (srv *Server) EnablePlugin(path string) (PluginInfo, error) {
	return srv.plugins.Enable(path)
}

// DisablePlugin disables the plugin with the name passed.
func (srv *Server) DisablePlugin(name string) (PluginInfo, error) {
	return srv.plugins.Disable(name)
}

// ReloadPlugin disables and enables the plugin with the name passed again.
func (srv *Server) ReloadPlugin(name string) (PluginInfo, error) {
	return srv.plugins.Reload(name)
}
