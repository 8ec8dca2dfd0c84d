package plugin

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dm-vev/powermobs/server/block/cube"
	"github.com/dm-vev/powermobs/server/blocker"
	"github.com/dm-vev/powermobs/server/cmd"
	"github.com/dm-vev/powermobs/server/scheduler"
	"github.com/dm-vev/powermobs/server/world"
	"github.com/go-gl/mathgl/mgl64"
)

// API exposes functionality of the server core to plugins.
type API[S any, C any] struct {
	manager *Manager[S, C]
	host    Host[S, C]
	name    atomic.Value // stores string
	ctx     atomic.Value // stores context.Context
	dataDir atomic.Value // stores string

	mu       sync.Mutex
	tasks    []*scheduler.Task
	commands []cmd.Command
}

func newAPI[S any, C any](manager *Manager[S, C], host Host[S, C], name string) *API[S, C] {
	api := &API[S, C]{manager: manager, host: host}
	api.name.Store(name)
	api.ctx.Store(context.Background())
	return api
}

func (api *API[S, C]) setName(name string) {
	if name == "" {
		return
	}
	api.name.Store(name)
}

func (api *API[S, C]) pluginName() string {
	if v := api.name.Load(); v != nil {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "plugin"
}

func (api *API[S, C]) setContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	api.ctx.Store(ctx)
}

// Context returns a cancellable context that is invalidated when the plugin is disabled.
func (api *API[S, C]) Context() context.Context {
	if v := api.ctx.Load(); v != nil {
		if ctx, ok := v.(context.Context); ok && ctx != nil {
			return ctx
		}
	}
	return context.Background()
}

func (api *API[S, C]) setDataDirectory(dir string) {
	if dir == "" {
		api.dataDir.Store("")
		return
	}
	api.dataDir.Store(filepath.Clean(dir))
}

// DataDirectory returns the absolute path to the plugin's data directory.
func (api *API[S, C]) DataDirectory() string {
	if v := api.dataDir.Load(); v != nil {
		if dir, ok := v.(string); ok && dir != "" {
			return dir
		}
	}
	return api.manager.pluginDataDirectory(api.pluginName())
}

func (api *API[S, C]) resolveDataPath(name string) (string, error) {
	if name == "" {
		return "", errors.New("data path is empty")
	}
	if filepath.IsAbs(name) {
		return "", errors.New("data path must be relative")
	}
	base := api.DataDirectory()
	cleaned := filepath.Clean(name)
	target := filepath.Join(base, cleaned)
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", errors.New("data path escapes plugin directory")
	}
	return target, nil
}

// EnsureDataSubdir ensures a subdirectory inside the plugin data directory exists and returns its absolute path.
func (api *API[S, C]) EnsureDataSubdir(name string) (string, error) {
	if name == "" {
		dir := api.DataDirectory()
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
		return dir, nil
	}
	path, err := api.resolveDataPath(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// OpenDataFile opens or creates a file within the plugin data directory using the provided flags and permissions.
func (api *API[S, C]) OpenDataFile(name string, flag int, perm fs.FileMode) (*os.File, error) {
	path, err := api.resolveDataPath(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if perm == 0 {
		perm = 0o644
	}
	return os.OpenFile(path, flag, perm)
}

// Go launches fn on a new goroutine tied to the plugin's lifecycle context. Panics cause the plugin to be disabled.
func (api *API[S, C]) Go(fn func(context.Context)) {
	if fn == nil {
		return
	}
	ctx := api.Context()
	name := api.pluginName()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				api.manager.handlePluginPanic(name, r)
			}
		}()
		fn(ctx)
	}()
}

// Server returns the underlying server instance.
func (api *API[S, C]) Server() S {
	return api.host.Instance()
}

// Config returns a snapshot of the server configuration at the time of the call.
func (api *API[S, C]) Config() C {
	return api.host.Config()
}

// StartTime reports when the server started running.
func (api *API[S, C]) StartTime() time.Time {
	return api.host.StartTime()
}

// Logger returns a logger scoped to the plugin's name for structured logging.
func (api *API[S, C]) Logger() *slog.Logger {
	logger := api.host.Logger()
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("plugin", api.pluginName())
}

// Blockers returns the spawn blocker manager of the server.
func (api *API[S, C]) Blockers() *blocker.Manager {
	return api.host.Blockers()
}

// IsSpawnBlocked reports if spawning powered mobs at pos in the named world is
// blocked.
func (api *API[S, C]) IsSpawnBlocked(worldName string, pos cube.Pos) bool {
	return api.host.Blockers().IsSpawnBlocked(worldName, pos)
}

// IsSpawnBlockedAt reports if spawning powered mobs at the position vec in the
// named world is blocked.
func (api *API[S, C]) IsSpawnBlockedAt(worldName string, vec mgl64.Vec3) bool {
	return api.host.Blockers().IsSpawnBlockedAt(worldName, vec)
}

// World looks up a world managed by the server by its name.
func (api *API[S, C]) World(name string) (world.World, bool) {
	return api.host.Worlds().World(name)
}

// WorldNames returns the names of every world managed by the server.
func (api *API[S, C]) WorldNames() []string {
	return api.host.Worlds().Names()
}

// Later runs fn on the server scheduler once, delay ticks from now. The task is
// cancelled when the plugin is disabled, and a panic in fn disables the plugin.
func (api *API[S, C]) Later(delay int64, fn func()) *scheduler.Task {
	return api.schedule(func(s *scheduler.Scheduler, name string, fn func()) *scheduler.Task {
		return s.Later(name, delay, fn)
	}, fn)
}

// Every runs fn on the server scheduler after delay ticks and then every period
// ticks, until the task or the plugin is cancelled.
func (api *API[S, C]) Every(delay, period int64, fn func()) *scheduler.Task {
	return api.schedule(func(s *scheduler.Scheduler, name string, fn func()) *scheduler.Task {
		return s.Every(name, delay, period, fn)
	}, fn)
}

func (api *API[S, C]) schedule(add func(*scheduler.Scheduler, string, func()) *scheduler.Task, fn func()) *scheduler.Task {
	s := api.host.Scheduler()
	if s == nil || fn == nil {
		return nil
	}
	name := api.pluginName()
	task := add(s, "plugin."+name, func() {
		defer func() {
			if r := recover(); r != nil {
				api.manager.handlePluginPanic(name, r)
			}
		}()
		fn()
	})
	api.mu.Lock()
	api.tasks = append(api.tasks, task)
	api.mu.Unlock()
	return task
}

// RegisterCommand registers a command with the global command registry. The
// command is unregistered when the plugin is disabled.
func (api *API[S, C]) RegisterCommand(command cmd.Command) {
	cmd.Register(command)
	api.mu.Lock()
	api.commands = append(api.commands, command)
	api.mu.Unlock()
}

// Commands returns all registered commands indexed by alias.
func (api *API[S, C]) Commands() map[string]cmd.Command {
	return cmd.Commands()
}

// ExecuteCommand executes a command line on behalf of the provided source and
// returns once it has finished. The command line should include the leading
// slash. It must not be called from a task scheduled through Later or Every.
func (api *API[S, C]) ExecuteCommand(source cmd.Source, commandLine string) {
	api.host.ExecuteCommand(api.Context(), source, commandLine)
}

// release cancels the tasks and unregisters the commands of the plugin.
func (api *API[S, C]) release() {
	api.mu.Lock()
	tasks, commands := api.tasks, api.commands
	api.tasks, api.commands = nil, nil
	api.mu.Unlock()

	for _, t := range tasks {
		t.Cancel()
	}
	for _, c := range commands {
		cmd.Unregister(c)
	}
}

// Plugins returns metadata for all currently loaded plugins.
func (api *API[S, C]) Plugins() []Info {
	return api.manager.Infos()
}

// Plugin returns a loaded plugin by name if present.
func (api *API[S, C]) Plugin(name string) (Plugin, bool) {
	return api.manager.Plugin(name)
}

// EnablePlugin loads and enables a plugin by file path.
func (api *API[S, C]) EnablePlugin(path string) (Info, error) {
	return api.manager.Enable(path)
}

// DisablePlugin disables a plugin by its name.
func (api *API[S, C]) DisablePlugin(name string) (Info, error) {
	return api.manager.Disable(name)
}

// ReloadPlugin reloads a plugin by disabling and re-enabling it.
func (api *API[S, C]) ReloadPlugin(name string) (Info, error) {
	return api.manager.Reload(name)
}

// CloseServer requests a graceful server shutdown.
func (api *API[S, C]) CloseServer() error {
	return api.host.Close()
}

// PluginsEnabled reports whether the plugin subsystem is currently active.
func (api *API[S, C]) PluginsEnabled() bool {
	return api.host.PluginsEnabled()
}

// PluginDirectory returns the directory scanned for plugin binaries.
func (api *API[S, C]) PluginDirectory() string {
	return api.manager.Directory()
}

// PluginDataRoot returns the root directory used to persist plugin data.
func (api *API[S, C]) PluginDataRoot() string {
	return api.manager.DataRoot()
}

// ResolvePluginPath resolves the provided path against the configured plugin directory.
func (api *API[S, C]) ResolvePluginPath(path string) string {
	return api.manager.ResolvePath(path)
}

// Events returns helpers for subscribing to world events.
func (api *API[S, C]) Events() *PluginEvents[S, C] {
	return &PluginEvents[S, C]{api: api}
}

// PluginEvents exposes registration helpers for subscribing to core event streams.
type PluginEvents[S any, C any] struct {
	api *API[S, C]
}

// OnWorld registers a world.Handler invoked for each world managed by the server.
// The returned function removes the handler when called.
func (pe *PluginEvents[S, C]) OnWorld(handler world.Handler) func() {
	if pe == nil || handler == nil {
		return func() {}
	}
	return pe.api.manager.events.addWorld(pe.api.pluginName(), handler)
}

// Clear removes all handlers previously registered by the plugin.
func (pe *PluginEvents[S, C]) Clear() {
	if pe == nil {
		return
	}
	pe.api.manager.events.clear(pe.api.pluginName())
}
