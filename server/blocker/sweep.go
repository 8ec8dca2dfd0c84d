package blocker

import (
	"log/slog"

	"github.com/dm-vev/powermobs/server/world"
)

// SweepResult summarises a single run of the validation sweep.
type SweepResult struct {
	// Checked is the number of instances whose source was read.
	Checked int
	// Skipped is the number of instances whose origin chunk was not resident.
	Skipped int
	// Mismatched is the number of instances whose source no longer matched.
	Mismatched int
	// Removed is the number of unique source points unregistered.
	Removed int
	// Orphaned is the number of instances dropped because their definition is
	// unknown or disabled.
	Orphaned int
	// Pruned is the number of empty buckets deleted.
	Pruned int
}

// Sweep periodically revalidates the source of every instance in an already
// resident chunk and removes the instances whose source has changed. It never
// reads from chunks that are not resident.
type Sweep struct {
	index  *Index
	cache  *Cache
	worlds world.Lookup
	log    *slog.Logger

	// threshold is the number of consecutive failed validations after which a
	// source point is removed.
	threshold int
	misses    map[point]int

	// remove unregisters every instance at a source point, cascading to the
	// ledger and the cache.
	remove func(p point)
}

// Run performs a single sweep.
func (s *Sweep) Run() SweepResult {
	var res SweepResult
	reg := s.index.Registry()
	stale := make(map[point]struct{})
	var orphans []Instance

	for _, inst := range s.index.Instances() {
		w, ok := s.worlds.World(inst.World)
		if !ok || !w.ChunkLoaded(inst.Origin()) {
			res.Skipped++
			continue
		}
		def, err := reg.Resolve(inst.BlockerID)
		if err != nil {
			orphans = append(orphans, inst)
			continue
		}
		res.Checked++
		if def.Matches(w, inst.Pos) {
			continue
		}
		res.Mismatched++
		stale[inst.point()] = struct{}{}
	}

	// Points that validated or were not checked this run start over.
	for p := range s.misses {
		if _, ok := stale[p]; !ok {
			delete(s.misses, p)
		}
	}
	for p := range stale {
		s.misses[p]++
		if s.misses[p] < s.threshold {
			continue
		}
		delete(s.misses, p)
		s.log.Debug("Removing stale blocker source.", "world", p.world, "pos", p.pos)
		s.remove(p)
		res.Removed++
	}
	for _, inst := range orphans {
		if s.index.UnregisterInstance(inst) {
			res.Orphaned++
		}
	}

	res.Pruned = s.index.Prune()
	s.cache.Clear()
	return res
}
