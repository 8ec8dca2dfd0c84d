package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	goplugin "plugin"
	"runtime/debug"
	"slices"
	"strings"
	"sync"

	"github.com/dm-vev/powermobs/server/world"
	"log/slog"
)

var pluginFactorySymbols = []string{"InitPlugin", "Init", "NewPlugin", "New"}

// staticPrefix is the path prefix of plugins linked into the binary.
const staticPrefix = "static:"

type pluginInstance[S any, C any] struct {
	name    string
	version string
	path    string
	plugin  Plugin
	module  *goplugin.Plugin
	factory PluginFactory[S, C]
	api     *API[S, C]
	cancel  context.CancelFunc
}

func (pi pluginInstance[S, C]) info() Info {
	return Info{Name: pi.name, Version: pi.version, Path: pi.path}
}

func (pi pluginInstance[S, C]) attrs() []any {
	attrs := []any{"name", pi.name, "path", pi.path}
	if pi.version != "" {
		attrs = append(attrs, "version", pi.version)
	}
	return attrs
}

func (pi pluginInstance[S, C]) release() {
	if pi.cancel != nil {
		pi.cancel()
	}
	if pi.api != nil {
		pi.api.release()
	}
}

// Manager discovers, enables and disables the plugins of a host. Plugins are
// either shared objects opened from the plugin directory or factories linked
// into the binary.
type Manager[S any, C any] struct {
	host       Host[S, C]
	cfg        Config
	log        *slog.Logger
	runtimeLog *slog.Logger

	once    sync.Once
	mu      sync.RWMutex
	plugins []pluginInstance[S, C]
	events  *eventHub[S, C]
}

// NewManager returns a Manager for host. cfg is copied.
func NewManager[S any, C any](host Host[S, C], cfg Config) *Manager[S, C] {
	cfg.Files = slices.Clone(cfg.Files)
	log := host.Logger()
	if log == nil {
		log = slog.Default()
	}
	m := &Manager[S, C]{host: host, cfg: cfg, log: log, runtimeLog: log.With("subsystem", "plugin.runtime")}
	m.events = newEventHub(m, log)
	return m
}

// Enabled reports if the plugin system is enabled.
func (m *Manager[S, C]) Enabled() bool {
	return m.cfg.Enabled
}

// Directory returns the directory plugins are discovered in.
func (m *Manager[S, C]) Directory() string {
	return m.directory()
}

// DataRoot returns the directory the data directories of plugins live in.
func (m *Manager[S, C]) DataRoot() string {
	return m.dataRoot()
}

// ResolvePath resolves a relative path against the plugin directory. The
// result is always cleaned.
func (m *Manager[S, C]) ResolvePath(path string) string {
	return m.resolvePath(path)
}

// LoadConfigured enables the plugins found in the plugin directory and listed
// in the configuration. Only the first call has an effect.
func (m *Manager[S, C]) LoadConfigured() {
	m.once.Do(m.loadConfigured)
}

// Infos returns the metadata of the enabled plugins in load order.
func (m *Manager[S, C]) Infos() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, len(m.plugins))
	for i, p := range m.plugins {
		infos[i] = p.info()
	}
	return infos
}

// Plugin looks up an enabled plugin by its name, ignoring case.
func (m *Manager[S, C]) Plugin(name string) (Plugin, bool) {
	p, ok := m.find(byName[S, C](name))
	return p.plugin, ok
}

// find returns the first enabled plugin matched by fn.
func (m *Manager[S, C]) find(fn func(pluginInstance[S, C]) bool) (pluginInstance[S, C], bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.plugins {
		if fn(p) {
			return p, true
		}
	}
	return pluginInstance[S, C]{}, false
}

func byName[S any, C any](name string) func(pluginInstance[S, C]) bool {
	return func(p pluginInstance[S, C]) bool { return strings.EqualFold(p.name, name) }
}

func byPath[S any, C any](path string) func(pluginInstance[S, C]) bool {
	return func(p pluginInstance[S, C]) bool { return p.path == path }
}

// Enable opens the shared object at path and enables the plugin it exports.
// ErrAlreadyLoaded is returned with the existing plugin's Info if the path is
// already enabled.
func (m *Manager[S, C]) Enable(path string) (Info, error) {
	if !m.Enabled() {
		return Info{}, ErrDisabled
	}
	if err := m.ensureDirectory(); err != nil {
		return Info{}, fmt.Errorf("create plugin directory: %w", err)
	}
	resolved := m.resolvePath(path)
	if existing, ok := m.find(byPath[S, C](resolved)); ok {
		return existing.info(), ErrAlreadyLoaded
	}

	mod, err := goplugin.Open(resolved)
	if err != nil {
		return Info{}, fmt.Errorf("open plugin: %w", err)
	}
	factory, symbol, err := lookupPluginFactory[S, C](mod)
	if err != nil {
		return Info{}, fmt.Errorf("locate plugin factory: %w", err)
	}
	return m.enable(resolved, mod, factory, symbol)
}

// EnableFactory enables a plugin linked into the binary, constructed by
// factory. The plugin is listed with the path static:<name> and may be disabled
// and reloaded like any other plugin.
func (m *Manager[S, C]) EnableFactory(name string, factory PluginFactory[S, C]) (Info, error) {
	if !m.Enabled() {
		return Info{}, ErrDisabled
	}
	if factory == nil {
		return Info{}, errors.New("plugin factory is nil")
	}
	path := staticPrefix + strings.TrimSpace(name)
	if existing, ok := m.find(byPath[S, C](path)); ok {
		return existing.info(), ErrAlreadyLoaded
	}
	return m.enable(path, nil, factory, "static")
}

// enable constructs the plugin through factory and adds it to the manager. The
// plugin's data directory is named after its path until the plugin reports its
// own name, after which the directory and any event handlers it added are moved
// over to that name.
func (m *Manager[S, C]) enable(path string, mod *goplugin.Plugin, factory PluginFactory[S, C], symbol string) (info Info, err error) {
	if err := m.ensureDataRoot(); err != nil {
		return Info{}, fmt.Errorf("create plugin data root: %w", err)
	}
	pathName := pluginBaseName(strings.TrimPrefix(path, staticPrefix))
	dataDir := m.pluginDataDirectory(pathName)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return Info{}, fmt.Errorf("create plugin data directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	api := newAPI(m, m.host, pathName)
	api.setContext(ctx)
	api.setDataDirectory(dataDir)
	defer func() {
		if err != nil {
			cancel()
			api.release()
			m.events.clear(api.pluginName())
		}
	}()

	inst, err := factory(api)
	if err == nil && inst == nil {
		err = errors.New("factory returned nil")
	}
	if err != nil {
		return Info{}, fmt.Errorf("initialise plugin via %s: %w", symbol, err)
	}

	name := inst.Name()
	if name == "" {
		name = pathName
	}
	if name != pathName {
		api.setName(name)
		m.events.rename(pathName, name)
	}
	if target := m.pluginDataDirectory(name); target != dataDir {
		if err := m.migrateDataDirectory(dataDir, target); err != nil {
			m.runtimeLog.Error("Could not move plugin data directory.", "plugin", name, "from", dataDir, "to", target, "error", err)
		} else {
			api.setDataDirectory(target)
		}
	}

	entry := pluginInstance[S, C]{name: name, path: path, plugin: inst, module: mod, factory: factory, api: api, cancel: cancel}
	if v, ok := inst.(VersionedPlugin); ok {
		entry.version = v.Version()
	}

	m.mu.Lock()
	if slices.ContainsFunc(m.plugins, byName[S, C](name)) {
		m.mu.Unlock()
		if err := inst.Close(); err != nil {
			m.log.Error("Could not close plugin with conflicting name.", "name", name, "path", path, "error", err)
		}
		return Info{}, fmt.Errorf("%w: %s", ErrNameConflict, name)
	}
	m.plugins = append(m.plugins, entry)
	m.mu.Unlock()

	m.log.Info("Plugin enabled.", append(entry.attrs(), "symbol", symbol)...)
	return entry.info(), nil
}

// Disable closes the plugin with the name passed, ignoring case, and removes
// it from the manager. If closing fails the plugin stays enabled.
func (m *Manager[S, C]) Disable(name string) (Info, error) {
	if !m.Enabled() {
		return Info{}, ErrDisabled
	}

	m.mu.Lock()
	i := slices.IndexFunc(m.plugins, byName[S, C](name))
	if i == -1 {
		m.mu.Unlock()
		return Info{}, ErrNotFound
	}
	entry := m.plugins[i]
	m.plugins = slices.Delete(m.plugins, i, i+1)
	m.mu.Unlock()

	if err := m.close(entry); err != nil {
		m.mu.Lock()
		m.plugins = append(m.plugins, entry)
		m.mu.Unlock()
		return Info{}, fmt.Errorf("close plugin: %w", err)
	}
	return entry.info(), nil
}

// close closes the plugin of entry and releases its API and event handlers.
// Nothing is released if closing fails.
func (m *Manager[S, C]) close(entry pluginInstance[S, C]) error {
	if err := entry.plugin.Close(); err != nil {
		return err
	}
	entry.release()
	m.events.clear(entry.name)
	m.log.Info("Plugin disabled.", "name", entry.name, "path", entry.path)
	return nil
}

// Reload disables the plugin with the name passed and enables it again from
// the same path or factory.
func (m *Manager[S, C]) Reload(name string) (Info, error) {
	var factory PluginFactory[S, C]
	if p, ok := m.find(byName[S, C](name)); ok && p.module == nil {
		factory = p.factory
	}
	info, err := m.Disable(name)
	if err != nil {
		return Info{}, err
	}

	if factory != nil {
		info, err = m.EnableFactory(strings.TrimPrefix(info.Path, staticPrefix), factory)
	} else {
		info, err = m.Enable(info.Path)
	}
	if err != nil {
		return Info{}, err
	}
	m.log.Info("Plugin reloaded.", "name", info.Name, "path", info.Path)
	return info, nil
}

// DisableAll disables the enabled plugins in reverse load order and returns
// the Info of each disabled plugin in the order they were disabled. It stops at
// the first plugin that fails to close.
func (m *Manager[S, C]) DisableAll() ([]Info, error) {
	if !m.Enabled() {
		return nil, ErrDisabled
	}
	infos := m.Infos()
	disabled := make([]Info, 0, len(infos))
	for i := len(infos) - 1; i >= 0; i-- {
		info, err := m.Disable(infos[i].Name)
		if err != nil {
			return disabled, err
		}
		disabled = append(disabled, info)
	}
	return disabled, nil
}

// Shutdown disables every plugin in reverse load order. Plugins that fail to
// close are logged and dropped.
func (m *Manager[S, C]) Shutdown() {
	m.mu.Lock()
	plugins := m.plugins
	m.plugins = nil
	m.mu.Unlock()

	for _, entry := range slices.Backward(plugins) {
		if err := m.close(entry); err != nil {
			entry.release()
			m.events.clear(entry.name)
			m.log.Error("Could not disable plugin.", "name", entry.name, "path", entry.path, "error", err)
		}
	}
}

func (m *Manager[S, C]) loadConfigured() {
	if !m.cfg.Enabled {
		m.log.Debug("Plugin system disabled.")
		return
	}
	if err := m.ensureDirectory(); err != nil {
		m.log.Error("Could not create plugin directory.", "dir", m.directory(), "error", err)
		return
	}
	paths := m.discover()
	if len(paths) == 0 {
		m.log.Debug("No plugins discovered.", "dir", m.directory())
		return
	}
	for _, path := range paths {
		if _, err := m.Enable(path); err != nil {
			m.log.Error("Could not enable plugin.", "path", path, "error", err)
		}
	}
}

// discover returns the sorted, deduplicated paths of the plugins to enable:
// every .so file in the plugin directory if Autoload is set, followed by the
// configured Files.
func (m *Manager[S, C]) discover() []string {
	var paths []string
	if m.cfg.Autoload {
		dir := m.directory()
		entries, err := os.ReadDir(dir)
		if err != nil {
			m.log.Error("Could not read plugin directory.", "dir", dir, "error", err)
		}
		for _, entry := range entries {
			if !entry.IsDir() && strings.EqualFold(filepath.Ext(entry.Name()), ".so") {
				paths = append(paths, filepath.Join(dir, entry.Name()))
			}
		}
	}
	for _, file := range m.cfg.Files {
		if path := m.resolvePath(file); path != "" {
			paths = append(paths, path)
		}
	}
	slices.Sort(paths)
	return slices.Compact(paths)
}

func (m *Manager[S, C]) directory() string {
	if m.cfg.Directory == "" {
		return "plugins"
	}
	return m.cfg.Directory
}

func (m *Manager[S, C]) ensureDirectory() error {
	return os.MkdirAll(m.directory(), 0o755)
}

// resolvePath joins a relative path to the plugin directory, unless path
// already lies inside it, as "plugins/demo.so" does.
func (m *Manager[S, C]) resolvePath(path string) string {
	if path == "" {
		return ""
	}
	path = filepath.Clean(path)
	dir := filepath.Clean(m.directory())
	if filepath.IsAbs(path) || path == dir {
		return path
	}
	if rel, err := filepath.Rel(dir, path); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return filepath.Join(dir, path)
}

// dataRoot returns the configured data directory, resolved against the plugin
// directory, or the data directory inside it if none is configured.
func (m *Manager[S, C]) dataRoot() string {
	switch dir := m.cfg.DataDirectory; {
	case dir == "":
		return filepath.Join(m.directory(), "data")
	case filepath.IsAbs(dir):
		return filepath.Clean(dir)
	default:
		return filepath.Join(m.directory(), dir)
	}
}

func (m *Manager[S, C]) ensureDataRoot() error {
	return os.MkdirAll(m.dataRoot(), 0o755)
}

// pluginDataDirectory returns the data directory of the plugin named name.
func (m *Manager[S, C]) pluginDataDirectory(name string) string {
	return filepath.Join(m.dataRoot(), sanitizePluginDirectory(name))
}

// migrateDataDirectory moves the data directory from to to. If from does not
// exist, to is created empty instead.
func (m *Manager[S, C]) migrateDataDirectory(from, to string) error {
	switch {
	case from == to:
		return nil
	case to == "":
		return errors.New("target data directory is empty")
	case from == "":
		return os.MkdirAll(to, 0o755)
	}
	info, err := os.Stat(from)
	if errors.Is(err, os.ErrNotExist) {
		return os.MkdirAll(to, 0o755)
	} else if err != nil {
		return fmt.Errorf("stat data directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", from)
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return fmt.Errorf("create data root: %w", err)
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("move data directory: %w", err)
	}
	return nil
}

// handlePluginPanic drops the event handlers of the plugin that panicked and
// disables it off the calling goroutine, which may be holding locks Disable
// needs.
func (m *Manager[S, C]) handlePluginPanic(name string, reason any) {
	if name == "" {
		name = "plugin"
	}
	m.events.clear(name)
	m.runtimeLog.Error("Plugin panicked.", "plugin", name, "panic", reason, "stack", string(debug.Stack()))
	go func() {
		info, err := m.Disable(name)
		if errors.Is(err, ErrNotFound) {
			return
		} else if err != nil {
			m.runtimeLog.Error("Could not disable plugin after panic.", "plugin", name, "error", err)
			return
		}
		m.runtimeLog.Warn("Plugin disabled after panic.", "name", info.Name, "path", info.Path)
	}()
}

// pluginBaseName returns the file name of path without its extension.
func pluginBaseName(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if base == "" {
		return "plugin"
	}
	return base
}

// sanitizePluginDirectory lower-cases name and replaces every character other
// than a letter, digit, '-', '_' or '.' with '-'.
func sanitizePluginDirectory(name string) string {
	sanitized := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || strings.ContainsRune("-_.", r) {
			return r
		}
		return '-'
	}, strings.ToLower(strings.TrimSpace(name)))
	if sanitized = strings.Trim(sanitized, "-_."); sanitized == "" {
		return "plugin"
	}
	return sanitized
}

// lookupPluginFactory returns the factory exported by mod under the first
// symbol of pluginFactorySymbols it exports.
func lookupPluginFactory[S any, C any](mod *goplugin.Plugin) (PluginFactory[S, C], string, error) {
	for _, symbol := range pluginFactorySymbols {
		sym, err := mod.Lookup(symbol)
		if err != nil {
			continue
		}
		factory, err := pluginFactory[S, C](sym, symbol)
		return factory, symbol, err
	}
	return nil, "", fmt.Errorf("none of %v exported", pluginFactorySymbols)
}

// pluginFactory converts an exported symbol to a PluginFactory. Both factories
// and plain constructors are accepted, as values or pointers.
func pluginFactory[S any, C any](sym goplugin.Symbol, symbol string) (PluginFactory[S, C], error) {
	switch fn := sym.(type) {
	case PluginFactory[S, C]:
		return fn, nil
	case *PluginFactory[S, C]:
		return *fn, nil
	case func(*API[S, C]) (Plugin, error):
		return fn, nil
	case *func(*API[S, C]) (Plugin, error):
		return *fn, nil
	case func(*API[S, C]) Plugin:
		return constructorFactory(fn, symbol), nil
	case *func(*API[S, C]) Plugin:
		return constructorFactory(*fn, symbol), nil
	default:
		return nil, fmt.Errorf("symbol %s has incompatible type %T", symbol, sym)
	}
}

func constructorFactory[S any, C any](ctor func(*API[S, C]) Plugin, symbol string) PluginFactory[S, C] {
	return func(api *API[S, C]) (Plugin, error) {
		if p := ctor(api); p != nil {
			return p, nil
		}
		return nil, fmt.Errorf("%s returned nil plugin", symbol)
	}
}

// WorldHandlerWrap returns a handler of w that calls the world handlers of
// every plugin before base.
func (m *Manager[S, C]) WorldHandlerWrap(w world.World, base world.Handler) world.Handler {
	return m.events.wrapWorld(w, base)
}
