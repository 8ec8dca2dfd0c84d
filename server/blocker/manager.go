package blocker

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dm-vev/powermobs/server/block/cube"
	"github.com/dm-vev/powermobs/server/scheduler"
	"github.com/dm-vev/powermobs/server/world"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

// ErrNoDefinitionsFile is returned by Manager.ReloadDefinitions if the Manager
// was not configured with a definitions file.
var ErrNoDefinitionsFile = errors.New("no blocker definitions file configured")

// Config holds the parameters of a Manager. The zero value of every field is
// replaced with a sensible default by Config.New.
type Config struct {
	// Log is the Logger to log debug output and persistence failures to. If
	// nil, slog.Default() is used.
	Log *slog.Logger
	// Registry holds the definitions instances are resolved with. If nil, an
	// empty registry is used and no spawning is ever blocked.
	Registry *Registry
	// DefinitionsFile is the path ReloadDefinitions reads definitions from.
	DefinitionsFile string
	// Worlds is used to find the worlds instances are validated in. If nil, no
	// world is ever considered resident.
	Worlds world.Lookup
	// Ledger is the store per-chunk ledgers are kept in. If nil, ledgers are
	// not persisted.
	Ledger LedgerStore
	// SnapshotFile is the path of the snapshot file. If empty, the snapshot is
	// never read or written.
	SnapshotFile string
	// CacheTTL is the interval at which the query cache is cleared regardless
	// of mutations. Defaults to 30 seconds.
	CacheTTL time.Duration
	// SweepInterval is the interval at which resident instances are
	// revalidated. Defaults to 60 seconds.
	SweepInterval time.Duration
	// MismatchThreshold is the number of consecutive sweeps a source point must
	// fail validation in before it is removed. Defaults to 1.
	MismatchThreshold int
	// NearRadius is the Chebyshev distance in chunks scanned for point lookups.
	// Defaults to DefaultNearRadius.
	NearRadius int
}

func (conf Config) withDefaults() Config {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Registry == nil {
		conf.Registry = NewRegistry()
	}
	if conf.Worlds == nil {
		conf.Worlds = world.NopLookup{}
	}
	if conf.Ledger == nil {
		conf.Ledger = nopStore{}
	}
	if conf.CacheTTL <= 0 {
		conf.CacheTTL = 30 * time.Second
	}
	if conf.SweepInterval <= 0 {
		conf.SweepInterval = time.Minute
	}
	if conf.MismatchThreshold <= 0 {
		conf.MismatchThreshold = 1
	}
	if conf.NearRadius <= 0 {
		conf.NearRadius = DefaultNearRadius
	}
	return conf
}

// New creates a Manager using the parameters in conf.
func (conf Config) New() *Manager {
	conf = conf.withDefaults()
	m := &Manager{
		conf:    conf,
		log:     conf.Log.With("subsystem", "blocker"),
		session: uuid.New(),
		metrics: NewMetrics(),
		index:   NewIndex(conf.Registry, conf.NearRadius),
	}
	m.cache = NewCache(m.index, m.metrics)
	m.ledger = NewLedger(conf.Ledger, m.log)
	if conf.SnapshotFile != "" {
		m.snapshot = NewSnapshotStore(conf.SnapshotFile, m.session, m.log)
	}
	m.sweep = &Sweep{
		index:     m.index,
		cache:     m.cache,
		worlds:    conf.Worlds,
		log:       m.log,
		threshold: conf.MismatchThreshold,
		misses:    make(map[point]int),
		remove: func(p point) {
			m.RemoveBlocker(p.world, p.pos)
		},
	}
	return m
}

// Manager is the entry point of the spawn blocker subsystem. It keeps the
// Index, Cache and Ledger consistent with each other and schedules the
// periodic cache clears and validation sweeps.
type Manager struct {
	conf    Config
	log     *slog.Logger
	session uuid.UUID

	index    *Index
	cache    *Cache
	metrics  *Metrics
	ledger   *Ledger
	snapshot *SnapshotStore

	sweepMu sync.Mutex
	sweep   *Sweep

	// loadPending is true while a scheduled snapshot load has not succeeded.
	// The snapshot file is never overwritten in that state.
	loadPending atomic.Bool

	tasksMu sync.Mutex
	tasks   []*scheduler.Task
}

// Session returns the id of the current session, recorded in snapshots.
func (m *Manager) Session() uuid.UUID {
	return m.session
}

// Index returns the spatial index of the Manager.
func (m *Manager) Index() *Index {
	return m.index
}

// Registry returns the definitions currently in use.
func (m *Manager) Registry() *Registry {
	return m.index.Registry()
}

// Start schedules the work of the Manager on s. The snapshot is loaded one tick
// later, after which the cache clear and the sweep repeat at their configured
// intervals.
func (m *Manager) Start(s *scheduler.Scheduler) {
	m.tasksMu.Lock()
	defer m.tasksMu.Unlock()
	if m.snapshot != nil {
		m.loadPending.Store(true)
		m.tasks = append(m.tasks, s.Later("blocker.snapshot", 1, func() {
			if _, err := m.LoadSnapshot(); err != nil {
				m.log.Error("Could not load blocker snapshot.", "path", m.snapshot.Path(), "error", err)
			}
		}))
	}
	ttl := scheduler.Ticks(m.conf.CacheTTL)
	interval := scheduler.Ticks(m.conf.SweepInterval)
	m.tasks = append(m.tasks,
		s.Every("blocker.cache", ttl, ttl, m.cache.Clear),
		s.Every("blocker.sweep", interval, interval, func() { m.Sweep() }),
	)
}

// Close cancels the scheduled tasks of the Manager, saves the snapshot and
// closes the ledger store if it implements io.Closer.
func (m *Manager) Close() error {
	m.tasksMu.Lock()
	for _, t := range m.tasks {
		t.Cancel()
	}
	m.tasks = nil
	m.tasksMu.Unlock()

	var errs []error
	if m.snapshot != nil {
		if m.loadPending.Load() {
			m.log.Warn("Not saving blocker snapshot: it was never loaded.", "path", m.snapshot.Path())
		} else if _, err := m.SaveSnapshot(); err != nil {
			errs = append(errs, err)
		}
	}
	if c, ok := m.conf.Ledger.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close ledger: %w", err))
		}
	}
	return errors.Join(errs...)
}

// IsSpawnBlocked reports if spawning is suppressed at pos in the world passed.
// It is called before every spawn attempt and is served from the cache.
func (m *Manager) IsSpawnBlocked(worldName string, pos cube.Pos) bool {
	return m.cache.IsBlocked(worldName, world.ChunkPosOf(pos))
}

// IsSpawnBlockedAt reports if spawning is suppressed at the exact position vec.
func (m *Manager) IsSpawnBlockedAt(worldName string, vec mgl64.Vec3) bool {
	return m.IsSpawnBlocked(worldName, cube.PosFromVec3(vec))
}

// IsChunkBlocked reports if spawning is suppressed anywhere in a chunk.
func (m *Manager) IsChunkBlocked(worldName string, chunk world.ChunkPos) bool {
	return m.cache.IsBlocked(worldName, chunk)
}

// RegisterBlocker registers a blocker of the id passed at pos, for example
// after a player placed its source block, and records it in the ledger of the
// chunk containing pos. RegisterBlocker returns false if the id is unknown or
// disabled, or if the same blocker is already registered at pos. A failing
// ledger write is logged but does not undo the registration.
func (m *Manager) RegisterBlocker(worldName string, pos cube.Pos, blockerID string) bool {
	inst := Instance{BlockerID: blockerID, World: worldName, Pos: pos}
	if !m.index.Register(inst) {
		return false
	}
	m.metrics.IncRegistered(worldName)
	if err := m.ledger.Append(inst.Partition(), pos, blockerID); err != nil {
		m.metrics.IncLedgerErrors()
		m.log.Error("Could not record blocker in ledger.", "blocker", inst, "error", err)
	}
	m.log.Debug("Registered blocker.", "blocker", inst)
	return true
}

// RemoveBlocker removes every blocker with a source at pos, regardless of its
// id, and strips them from the ledger. It returns the id of a removed blocker
// with true, or false if nothing was registered at pos.
func (m *Manager) RemoveBlocker(worldName string, pos cube.Pos) (string, bool) {
	removed := m.index.Unregister(worldName, pos)
	if len(removed) == 0 {
		return "", false
	}
	for _, inst := range removed {
		m.forget(inst)
	}
	return removed[0].BlockerID, true
}

// RemoveBlockerByID removes only the blocker of the id passed at pos and
// reports if it was registered.
func (m *Manager) RemoveBlockerByID(worldName string, pos cube.Pos, blockerID string) bool {
	inst := Instance{BlockerID: blockerID, World: worldName, Pos: pos}
	if !m.index.UnregisterInstance(inst) {
		return false
	}
	m.forget(inst)
	return true
}

// forget strips an unregistered instance from its ledger.
func (m *Manager) forget(inst Instance) {
	m.metrics.AddRemoved(1)
	if err := m.ledger.Remove(inst.Partition(), inst.Pos, inst.BlockerID); err != nil {
		m.metrics.IncLedgerErrors()
		m.log.Error("Could not remove blocker from ledger.", "blocker", inst, "error", err)
	}
	m.log.Debug("Removed blocker.", "blocker", inst)
}

// BlockerAt returns the blocker with a source at exactly pos. If more than one
// is registered there, the one with the lowest id is returned.
func (m *Manager) BlockerAt(worldName string, pos cube.Pos) (Instance, bool) {
	for _, inst := range m.index.InstancesNear(worldName, pos) {
		if inst.Pos == pos {
			return inst, true
		}
	}
	return Instance{}, false
}

// Near returns the blockers held by chunks close to pos.
func (m *Manager) Near(worldName string, pos cube.Pos) []Instance {
	return m.index.InstancesNear(worldName, pos)
}

// OnPartitionLoaded hydrates the index from the ledger of a chunk that just
// became resident in w and returns the number of blockers registered.
func (m *Manager) OnPartitionLoaded(w world.World, chunk world.ChunkPos) int {
	p := Partition{World: w.Name(), Chunk: chunk}
	res, err := m.ledger.Hydrate(p, w, m.index)
	if err != nil {
		m.metrics.IncLedgerErrors()
		m.log.Error("Could not hydrate blockers from ledger.", "partition", p, "error", err)
	}
	m.metrics.AddHydrated(res.Registered)
	m.metrics.AddStale(res.Stale)
	if res.Registered > 0 || res.Stale > 0 {
		m.log.Debug("Hydrated blockers from ledger.", "partition", p, "registered", res.Registered, "stale", res.Stale, "dropped", res.Dropped)
	}
	return res.Registered
}

// ScanWorld hydrates the index from the ledgers of every chunk currently
// resident in w and returns the number of blockers registered.
func (m *Manager) ScanWorld(w world.World) int {
	n := 0
	for _, chunk := range w.LoadedChunks() {
		n += m.OnPartitionLoaded(w, chunk)
	}
	if n > 0 {
		m.log.Info("Scanned world for blockers.", "world", w.Name(), "registered", n)
	}
	return n
}

// SaveSnapshot writes every registered blocker to the snapshot file and
// returns the number of rows written.
func (m *Manager) SaveSnapshot() (int, error) {
	if m.snapshot == nil {
		return 0, nil
	}
	n, err := m.snapshot.Save(m.index.Instances())
	if err != nil {
		m.log.Error("Could not save blocker snapshot.", "path", m.snapshot.Path(), "error", err)
		return 0, err
	}
	m.log.Info("Saved blocker snapshot.", "path", m.snapshot.Path(), "rows", n)
	return n, nil
}

// LoadSnapshot registers the blockers stored in the snapshot file. Blockers
// already registered are left untouched.
func (m *Manager) LoadSnapshot() (LoadResult, error) {
	if m.snapshot == nil {
		return LoadResult{}, nil
	}
	res, err := m.snapshot.Load(m.index, m.conf.Worlds)
	if err != nil {
		return res, err
	}
	m.loadPending.Store(false)
	m.metrics.AddHydrated(res.Registered())
	m.metrics.AddStale(res.Stale)
	m.log.Info("Loaded blocker snapshot.", "path", m.snapshot.Path(), "rows", res.Rows, "validated", res.Validated, "optimistic", res.Optimistic, "stale", res.Stale, "dropped", res.Dropped)
	return res, nil
}

// Sweep revalidates every blocker whose origin chunk is resident and removes
// those whose source changed.
func (m *Manager) Sweep() SweepResult {
	m.sweepMu.Lock()
	res := m.sweep.Run()
	m.sweepMu.Unlock()

	m.metrics.IncSweeps()
	m.metrics.AddStale(res.Removed)
	m.metrics.AddRemoved(res.Orphaned)
	if res.Removed > 0 || res.Orphaned > 0 {
		m.log.Debug("Swept blockers.", "checked", res.Checked, "skipped", res.Skipped, "removed", res.Removed, "orphaned", res.Orphaned, "pruned", res.Pruned)
	}
	return res
}

// SetRegistry replaces the definitions blockers are resolved with.
func (m *Manager) SetRegistry(reg *Registry) {
	m.index.SetRegistry(reg)
}

// ReloadDefinitions reads the definitions file again and replaces the
// definitions in use. It returns the number of definitions loaded.
func (m *Manager) ReloadDefinitions() (int, error) {
	if m.conf.DefinitionsFile == "" {
		return 0, ErrNoDefinitionsFile
	}
	reg, err := LoadDefinitions(m.conf.DefinitionsFile, m.log)
	if err != nil {
		return 0, err
	}
	m.SetRegistry(reg)
	m.log.Info("Reloaded blocker definitions.", "path", m.conf.DefinitionsFile, "count", reg.Len())
	return reg.Len(), nil
}

// ClearCache drops every cached chunk query result.
func (m *Manager) ClearCache() {
	m.cache.Clear()
}

// Instances returns every registered blocker, sorted by world, position and id.
func (m *Manager) Instances() []Instance {
	return m.index.Instances()
}

// InstancesIn returns the registered blockers of a single world.
func (m *Manager) InstancesIn(worldName string) []Instance {
	var instances []Instance
	for _, inst := range m.index.Instances() {
		if inst.World == worldName {
			instances = append(instances, inst)
		}
	}
	return instances
}

// Count returns the number of registered blockers.
func (m *Manager) Count() int {
	return m.index.Count()
}

// Stats returns the counters of the Manager along with the current size of
// the index and cache.
func (m *Manager) Stats() Stats {
	s := m.metrics.Stats()
	s.Instances = m.index.Count()
	s.Buckets = m.index.Buckets()
	s.CachedChunks = m.cache.Len()
	s.Definitions = m.index.Registry().Len()
	return s
}

// nopStore is the LedgerStore used when none is configured.
type nopStore struct{}

func (nopStore) LoadLedger(Partition) (string, bool, error) { return "", false, nil }
func (nopStore) StoreLedger(Partition, string) error        { return nil }
func (nopStore) DeleteLedger(Partition) error               { return nil }
