package blocker

import (
	"sync"
	"sync/atomic"

	"github.com/dm-vev/powermobs/server/block/cube"
	"github.com/dm-vev/powermobs/server/world"
)

// DefaultNearRadius is the Chebyshev distance, in chunks, scanned by
// Index.InstancesNear when no other radius is configured.
const DefaultNearRadius = 5

// bucketKey identifies a single chunk of a world in the index.
type bucketKey struct {
	world string
	chunk world.ChunkPos
}

// Index is the in-memory spatial index of blocker instances. Every instance is
// fanned out into all chunk buckets its definition's range covers, so a query
// for a chunk is a single map lookup. The Index is the authoritative state for a
// session. It is safe for concurrent use, although callers are expected to use
// it from the server tick goroutine.
type Index struct {
	nearRadius int32

	registry atomic.Pointer[Registry]

	mu      sync.RWMutex
	buckets map[bucketKey]map[Instance]struct{}

	observers []func()
}

// NewIndex creates an empty Index resolving definitions through reg.
// nearRadius bounds InstancesNear and defaults to DefaultNearRadius if 0 or
// lower.
func NewIndex(reg *Registry, nearRadius int) *Index {
	if nearRadius <= 0 {
		nearRadius = DefaultNearRadius
	}
	x := &Index{nearRadius: int32(nearRadius), buckets: make(map[bucketKey]map[Instance]struct{})}
	if reg == nil {
		reg = NewRegistry()
	}
	x.registry.Store(reg)
	return x
}

// Registry returns the definitions the index currently resolves ids with.
func (x *Index) Registry() *Registry {
	return x.registry.Load()
}

// SetRegistry replaces the definitions used to resolve ids. Instances already
// registered are kept, but only block spawning while their definition exists
// and is enabled. Instances whose definition's chunk range changed are fanned
// out again over the new range.
func (x *Index) SetRegistry(reg *Registry) {
	if reg == nil {
		reg = NewRegistry()
	}

	x.mu.Lock()
	old := x.registry.Swap(reg)
	refan := make(map[Instance]Definition)
	for _, set := range x.buckets {
		for inst := range set {
			def, ok := reg.Get(inst.BlockerID)
			if !ok {
				continue
			}
			if prev, ok := old.Get(inst.BlockerID); !ok || prev.ChunkRange != def.ChunkRange {
				refan[inst] = def
			}
		}
	}
	if len(refan) > 0 {
		for _, set := range x.buckets {
			for inst := range set {
				if _, ok := refan[inst]; ok {
					delete(set, inst)
				}
			}
		}
		for inst, def := range refan {
			x.fanOut(inst, def)
		}
	}
	x.mu.Unlock()

	x.changed()
}

// OnChange adds a function called after every mutation of the index. It must
// be called before the index is used.
func (x *Index) OnChange(fn func()) {
	x.observers = append(x.observers, fn)
}

func (x *Index) changed() {
	for _, fn := range x.observers {
		fn()
	}
}

// Register fans inst out into every chunk bucket covered by its definition.
// Register returns false without changing the index if the definition is
// unknown or disabled, or if inst is already present in its origin bucket.
func (x *Index) Register(inst Instance) bool {
	x.mu.Lock()
	// The registry is resolved under the lock so that SetRegistry never misses
	// an instance fanned out with a stale range.
	def, err := x.Registry().Resolve(inst.BlockerID)
	if err != nil {
		x.mu.Unlock()
		return false
	}
	if _, ok := x.buckets[bucketKey{world: inst.World, chunk: inst.Origin()}][inst]; ok {
		x.mu.Unlock()
		return false
	}
	x.fanOut(inst, def)
	x.mu.Unlock()

	x.changed()
	return true
}

// fanOut adds inst to every bucket covered by the range of def. x.mu must be
// held.
func (x *Index) fanOut(inst Instance, def Definition) {
	origin := inst.Origin()
	r := int32(def.ChunkRange - 1)
	for dx := -r; dx <= r; dx++ {
		for dz := -r; dz <= r; dz++ {
			key := bucketKey{world: inst.World, chunk: world.ChunkPos{origin[0] + dx, origin[1] + dz}}
			set, ok := x.buckets[key]
			if !ok {
				set = make(map[Instance]struct{}, 1)
				x.buckets[key] = set
			}
			set[inst] = struct{}{}
		}
	}
}

// Unregister removes every instance with a source at pos in the world passed,
// regardless of its blocker id, from every bucket of that world. The removed
// instances are returned sorted by id. Emptied buckets are kept until Prune is
// called.
func (x *Index) Unregister(worldName string, pos cube.Pos) []Instance {
	return x.unregister(worldName, func(inst Instance) bool { return inst.Pos == pos })
}

// UnregisterInstance removes the exact instance passed from every bucket of its
// world and reports if it was present.
func (x *Index) UnregisterInstance(inst Instance) bool {
	return len(x.unregister(inst.World, func(other Instance) bool { return other == inst })) > 0
}

func (x *Index) unregister(worldName string, match func(Instance) bool) []Instance {
	removed := make(map[Instance]struct{})

	x.mu.Lock()
	for key, set := range x.buckets {
		if key.world != worldName {
			continue
		}
		for inst := range set {
			if match(inst) {
				delete(set, inst)
				removed[inst] = struct{}{}
			}
		}
	}
	x.mu.Unlock()

	if len(removed) == 0 {
		return nil
	}
	instances := make([]Instance, 0, len(removed))
	for inst := range removed {
		instances = append(instances, inst)
	}
	sortInstances(instances)
	x.changed()
	return instances
}

// IsBlocked reports if the chunk passed is covered by at least one instance
// whose definition is currently enabled.
func (x *Index) IsBlocked(worldName string, chunk world.ChunkPos) bool {
	reg := x.Registry()

	x.mu.RLock()
	defer x.mu.RUnlock()
	for inst := range x.buckets[bucketKey{world: worldName, chunk: chunk}] {
		if d, ok := reg.Get(inst.BlockerID); ok && d.Enabled {
			return true
		}
	}
	return false
}

// Contains reports if inst is registered.
func (x *Index) Contains(inst Instance) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.buckets[bucketKey{world: inst.World, chunk: inst.Origin()}][inst]
	return ok
}

// InstancesNear returns the unique instances held by buckets within the near
// radius of the chunk containing pos. It is a bounded scan used for point
// lookups and never walks the whole world.
func (x *Index) InstancesNear(worldName string, pos cube.Pos) []Instance {
	centre := world.ChunkPosOf(pos)
	seen := make(map[Instance]struct{})

	x.mu.RLock()
	for dx := -x.nearRadius; dx <= x.nearRadius; dx++ {
		for dz := -x.nearRadius; dz <= x.nearRadius; dz++ {
			key := bucketKey{world: worldName, chunk: world.ChunkPos{centre[0] + dx, centre[1] + dz}}
			for inst := range x.buckets[key] {
				seen[inst] = struct{}{}
			}
		}
	}
	x.mu.RUnlock()

	instances := make([]Instance, 0, len(seen))
	for inst := range seen {
		instances = append(instances, inst)
	}
	sortInstances(instances)
	return instances
}

// Instances returns every unique instance in the index, sorted by world,
// position and id.
func (x *Index) Instances() []Instance {
	seen := make(map[Instance]struct{})
	x.mu.RLock()
	for _, set := range x.buckets {
		for inst := range set {
			seen[inst] = struct{}{}
		}
	}
	x.mu.RUnlock()

	instances := make([]Instance, 0, len(seen))
	for inst := range seen {
		instances = append(instances, inst)
	}
	sortInstances(instances)
	return instances
}

// Count returns the number of unique instances in the index.
func (x *Index) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	// Every instance is present in its own origin bucket exactly once.
	n := 0
	for key, set := range x.buckets {
		for inst := range set {
			if inst.Origin() == key.chunk {
				n++
			}
		}
	}
	return n
}

// Buckets returns the number of chunk buckets currently allocated, including
// empty ones.
func (x *Index) Buckets() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.buckets)
}

// Prune deletes all empty buckets and returns how many were deleted.
func (x *Index) Prune() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	n := 0
	for key, set := range x.buckets {
		if len(set) == 0 {
			delete(x.buckets, key)
			n++
		}
	}
	return n
}
