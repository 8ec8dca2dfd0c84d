package server

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dm-vev/powermobs/server/blocker"
	"github.com/dm-vev/powermobs/server/blocker/ledgerdb"
	"github.com/dm-vev/powermobs/server/plugin"
	"github.com/dm-vev/powermobs/server/scheduler"
	"github.com/dm-vev/powermobs/server/world"
)

// Config contains options for starting a Server.
type Config struct {
	// Log is the Logger to use for logging information. If nil, Log is set to
	// slog.Default().
	Log *slog.Logger
	// Name is the name of the server, used in logs.
	Name string
	// Worlds are the worlds whose blockers are tracked. Worlds with a Handle
	// method receive a handler that keeps the blocker index in sync with chunk
	// loads and block changes. If empty, a single in-memory world named
	// "overworld" is created.
	Worlds []world.World
	// Blockers holds the parameters of the spawn blocker manager. Its Log and
	// Worlds fields are set by the Server.
	Blockers blocker.Config
	// Ledger is the durable ledger store. If set, it takes precedence over
	// Blockers.Ledger and may be inspected through Server.LedgerPartitions. It
	// is closed when the Server shuts down.
	Ledger ledgerdb.Store
	// TickInterval is the real time duration of a scheduler tick. If 0 or
	// lower, scheduler.TickInterval is used.
	TickInterval time.Duration
	// Plugins controls the plugin loader.
	Plugins plugin.Config
	// StaticPlugins are plugins linked into the binary, keyed by name. They are
	// enabled when the Server starts if the plugin subsystem is enabled.
	StaticPlugins map[string]PluginFactory
}

// New creates a Server using fields of conf. The Server starts tracking
// blockers once Server.Run is called.
func (conf Config) New() *Server {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Name == "" {
		conf.Name = "PowerMobs"
	}
	if conf.TickInterval <= 0 {
		conf.TickInterval = scheduler.TickInterval
	}
	if len(conf.Worlds) == 0 {
		conf.Worlds = []world.World{world.NewMemory("overworld")}
	}
	if conf.Ledger != nil {
		conf.Blockers.Ledger = conf.Ledger
	}

	srv := &Server{
		conf:    conf,
		log:     conf.Log,
		worlds:  world.NewWorlds(),
		closing: make(chan struct{}),
	}
	srv.sched = scheduler.New(scheduler.Config{Log: conf.Log, Interval: conf.TickInterval})

	blockerConf := conf.Blockers
	blockerConf.Log = conf.Log
	blockerConf.Worlds = srv.worlds
	srv.blockers = blockerConf.New()

	srv.plugins = plugin.NewManager[*Server, Config](newPluginHost(srv), conf.Plugins)
	if conf.Plugins.Enabled {
		world.SetHandlerWrap(srv.plugins.WorldHandlerWrap)
		srv.wrapped = true
	}
	for _, w := range conf.Worlds {
		srv.addWorld(w)
	}
	return srv
}

// UserConfig is the user configuration of a PowerMobs server. It may be
// serialised as TOML and can be converted to a Config by calling
// UserConfig.Config().
type UserConfig struct {
	Server struct {
		// Name is the name of the server, used in logs.
		Name string
		// Worlds lists the names of the worlds whose blockers are tracked.
		Worlds []string
	}
	Blockers struct {
		// Enabled controls whether spawn blockers are loaded at all. If false,
		// no spawning is ever blocked.
		Enabled bool
		// DefinitionsFile is the YAML or TOML file that blocker definitions are
		// read from. A file with example definitions is created if it does not
		// exist.
		DefinitionsFile string
		// SnapshotFile is the file every registered blocker is saved to on
		// shutdown. Files ending in .zst are compressed with zstd. Leave empty
		// to disable snapshots.
		SnapshotFile string
		// CacheTTL is the interval at which the query cache is cleared, for
		// example "30s".
		CacheTTL string
		// SweepInterval is the interval at which registered blockers in loaded
		// chunks are revalidated, for example "1m".
		SweepInterval string
		// MismatchThreshold is the number of consecutive failed validations
		// after which a blocker is removed.
		MismatchThreshold int
		// NearRadius is the distance in chunks searched when looking up the
		// blockers around a position.
		NearRadius int
	}
	Ledger struct {
		// Backend is the database holding per-chunk ledgers: "leveldb" or
		// "sqlite".
		Backend string
		// Path is the LevelDB directory or SQLite file of the ledger. Leave
		// empty to keep ledgers in memory only.
		Path string
	}
	Plugins struct {
		// Enabled controls if the plugin subsystem is initialised.
		Enabled bool
		// Directory is the directory plugins are loaded from.
		Directory string
		// DataDirectory is the directory plugin data is stored in, relative to
		// Directory unless absolute.
		DataDirectory string
		// Autoload controls whether every .so file in Directory is loaded.
		Autoload bool
		// Files lists additional plugin files to load.
		Files []string
	}
}

// Config converts a UserConfig to a Config, so that it may be used for creating
// a Server. An error is returned if opening the ledger or loading the blocker
// definitions failed.
func (uc UserConfig) Config(log *slog.Logger) (Config, error) {
	if log == nil {
		log = slog.Default()
	}
	conf := Config{
		Log:  log,
		Name: uc.Server.Name,
		Plugins: plugin.Config{
			Enabled:       uc.Plugins.Enabled,
			Directory:     uc.Plugins.Directory,
			DataDirectory: uc.Plugins.DataDirectory,
			Autoload:      uc.Plugins.Autoload,
			Files:         uc.Plugins.Files,
		},
	}
	for _, name := range uc.Server.Worlds {
		if name = strings.TrimSpace(name); name != "" {
			conf.Worlds = append(conf.Worlds, world.NewMemory(name))
		}
	}

	var err error
	if conf.Blockers.CacheTTL, err = parseDuration(uc.Blockers.CacheTTL); err != nil {
		return conf, fmt.Errorf("parse cache ttl: %w", err)
	}
	if conf.Blockers.SweepInterval, err = parseDuration(uc.Blockers.SweepInterval); err != nil {
		return conf, fmt.Errorf("parse sweep interval: %w", err)
	}
	conf.Blockers.MismatchThreshold = uc.Blockers.MismatchThreshold
	conf.Blockers.NearRadius = uc.Blockers.NearRadius
	conf.Blockers.SnapshotFile = strings.TrimSpace(uc.Blockers.SnapshotFile)

	if uc.Blockers.Enabled {
		file := strings.TrimSpace(uc.Blockers.DefinitionsFile)
		if file == "" {
			file = "blockers.yml"
		}
		if err := writeDefaultDefinitions(file); err != nil {
			return conf, fmt.Errorf("create blocker definitions: %w", err)
		}
		conf.Blockers.DefinitionsFile = file
		if conf.Blockers.Registry, err = blocker.LoadDefinitions(file, log); err != nil {
			return conf, fmt.Errorf("load blocker definitions: %w", err)
		}
	}

	if path := strings.TrimSpace(uc.Ledger.Path); path != "" {
		conf.Ledger, err = ledgerdb.Config{Log: log, Backend: uc.Ledger.Backend, Path: path}.Open()
		if err != nil {
			return conf, fmt.Errorf("open blocker ledger: %w", err)
		}
	}
	return conf, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s = strings.TrimSpace(s); s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// DefaultConfig returns a configuration with the default values filled out.
func DefaultConfig() UserConfig {
	c := UserConfig{}
	c.Server.Name = "PowerMobs"
	c.Server.Worlds = []string{"overworld", "nether", "the_end"}
	c.Blockers.Enabled = true
	c.Blockers.DefinitionsFile = "blockers.yml"
	c.Blockers.SnapshotFile = "data/blockers.toml.zst"
	c.Blockers.CacheTTL = "30s"
	c.Blockers.SweepInterval = "1m"
	c.Blockers.MismatchThreshold = 1
	c.Blockers.NearRadius = blocker.DefaultNearRadius
	c.Ledger.Backend = ledgerdb.BackendLevelDB
	c.Ledger.Path = "data/ledger"
	c.Plugins.Directory = "plugins"
	c.Plugins.DataDirectory = "data"
	c.Plugins.Autoload = true
	return c
}

// defaultDefinitions is written to the definitions file if it does not exist.
const defaultDefinitions = `# Spawn blockers prevent powered mobs from spawning in the chunks around them.
# chunk-range is the Chebyshev radius in chunks: 1 covers only the chunk of the
# source, 2 covers a 3x3 area and so on.
blockers:
  beacon:
    type: block
    material: minecraft:beacon
    chunk-range: 2
    name: Guardian Beacon
    description: Keeps powered mobs away from the surrounding chunks.
  soul_lantern:
    enabled: false
    type: block
    material: minecraft:soul_lantern
    chunk-range: 1
  ward_totem:
    type: item
    material: minecraft:totem_of_undying
    chunk-range: 1
    name: Ward Totem
    lore:
      - Place it in an item frame to ward
      - off powered mobs nearby.
`

func writeDefaultDefinitions(path string) error {
	if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(defaultDefinitions), 0o644)
}
