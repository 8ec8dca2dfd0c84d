package blocker

import (
	"sync"
)

// Metrics tracks counters of the blocker subsystem for observability. A nil
// *Metrics is valid and discards all updates.
type Metrics struct {
	mu sync.Mutex

	cacheHits    uint64
	cacheMisses  uint64
	registered   uint64
	removed      uint64
	hydrated     uint64
	stale        uint64
	sweeps       uint64
	ledgerErrors uint64
	perWorld     map[string]uint64
}

// Stats is a point in time copy of the counters held by Metrics.
type Stats struct {
	CacheHits    uint64
	CacheMisses  uint64
	Registered   uint64
	Removed      uint64
	Hydrated     uint64
	Stale        uint64
	Sweeps       uint64
	LedgerErrors uint64
	// Registrations holds the number of registrations per world.
	Registrations map[string]uint64

	Instances    int
	Buckets      int
	CachedChunks int
	Definitions  int
}

// NewMetrics creates an empty metrics registry.
func NewMetrics() *Metrics {
	return &Metrics{perWorld: make(map[string]uint64)}
}

// CacheLookup records a query cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if hit {
		m.cacheHits++
	} else {
		m.cacheMisses++
	}
	m.mu.Unlock()
}

// IncRegistered increments the registration counters for a world.
func (m *Metrics) IncRegistered(worldName string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.registered++
	m.perWorld[worldName]++
	m.mu.Unlock()
}

// AddRemoved adds to the removal counter.
func (m *Metrics) AddRemoved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.mu.Lock()
	m.removed += uint64(n)
	m.mu.Unlock()
}

// AddHydrated adds to the counter of instances restored from ledgers and
// snapshots.
func (m *Metrics) AddHydrated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.mu.Lock()
	m.hydrated += uint64(n)
	m.mu.Unlock()
}

// AddStale adds to the counter of source points found to no longer match.
func (m *Metrics) AddStale(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.mu.Lock()
	m.stale += uint64(n)
	m.mu.Unlock()
}

// IncSweeps increments the completed sweep counter.
func (m *Metrics) IncSweeps() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.sweeps++
	m.mu.Unlock()
}

// IncLedgerErrors increments the counter of failed ledger operations.
func (m *Metrics) IncLedgerErrors() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.ledgerErrors++
	m.mu.Unlock()
}

// Stats returns a copy of the current counters.
func (m *Metrics) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	perWorld := make(map[string]uint64, len(m.perWorld))
	for k, v := range m.perWorld {
		perWorld[k] = v
	}
	return Stats{
		CacheHits:     m.cacheHits,
		CacheMisses:   m.cacheMisses,
		Registered:    m.registered,
		Removed:       m.removed,
		Hydrated:      m.hydrated,
		Stale:         m.stale,
		Sweeps:        m.sweeps,
		LedgerErrors:  m.ledgerErrors,
		Registrations: perWorld,
	}
}
