package world

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dm-vev/powermobs/server/block/cube"
)

// airBlock is returned by Memory for positions that never had a block set.
const airBlock = "minecraft:air"

// Memory is a World held entirely in memory. Chunks are only resident after a
// call to LoadChunk, which allows callers to simulate partial map loading.
// Memory is safe for concurrent use.
type Memory struct {
	name    string
	handler atomic.Pointer[Handler]

	mu     sync.RWMutex
	loaded map[ChunkPos]struct{}
	blocks map[cube.Pos]string
	items  map[cube.Pos]string
	reads  map[ChunkPos]int
}

// NewMemory returns an empty Memory world with the name passed and no resident
// chunks.
func NewMemory(name string) *Memory {
	m := &Memory{
		name:   name,
		loaded: make(map[ChunkPos]struct{}),
		blocks: make(map[cube.Pos]string),
		items:  make(map[cube.Pos]string),
		reads:  make(map[ChunkPos]int),
	}
	m.Handle(nil)
	return m
}

// Handle changes the current Handler of the world. As a result, events called
// by the world will call the methods of the Handler passed. Handle sets the
// world's Handler to NopHandler if nil is passed.
func (m *Memory) Handle(h Handler) {
	h = wrapHandler(m, h)
	m.handler.Store(&h)
}

// Handler returns the current Handler of the world.
func (m *Memory) Handler() Handler {
	return *m.handler.Load()
}

// Name ...
func (m *Memory) Name() string { return m.name }

// LoadChunk marks the chunk at the position passed as resident.
func (m *Memory) LoadChunk(pos ChunkPos) {
	m.mu.Lock()
	_, ok := m.loaded[pos]
	m.loaded[pos] = struct{}{}
	m.mu.Unlock()
	if !ok {
		m.Handler().HandleChunkLoad(m, pos)
	}
}

// UnloadChunk marks the chunk at the position passed as no longer resident.
func (m *Memory) UnloadChunk(pos ChunkPos) {
	m.mu.Lock()
	_, ok := m.loaded[pos]
	delete(m.loaded, pos)
	m.mu.Unlock()
	if ok {
		m.Handler().HandleChunkUnload(m, pos)
	}
}

// ChunkLoaded ...
func (m *Memory) ChunkLoaded(pos ChunkPos) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.loaded[pos]
	return ok
}

// LoadedChunks returns the resident chunks sorted by X and then Z.
func (m *Memory) LoadedChunks() []ChunkPos {
	m.mu.RLock()
	chunks := make([]ChunkPos, 0, len(m.loaded))
	for pos := range m.loaded {
		chunks = append(chunks, pos)
	}
	m.mu.RUnlock()
	slices.SortFunc(chunks, func(a, b ChunkPos) int {
		if a[0] != b[0] {
			return int(a[0] - b[0])
		}
		return int(a[1] - b[1])
	})
	return chunks
}

// SetBlock sets the material of the block at a position. An empty material
// resets the position to air.
func (m *Memory) SetBlock(pos cube.Pos, material string) {
	if material == "" {
		material = airBlock
	}
	m.mu.Lock()
	before, ok := m.blocks[pos]
	if !ok {
		before = airBlock
	}
	if material == airBlock {
		delete(m.blocks, pos)
	} else {
		m.blocks[pos] = material
	}
	m.mu.Unlock()
	if before != material {
		m.Handler().HandleBlockChange(m, pos, before, material)
	}
}

// Block returns the material set at the position passed or minecraft:air.
func (m *Memory) Block(pos cube.Pos) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads[ChunkPosOf(pos)]++
	if b, ok := m.blocks[pos]; ok {
		return b
	}
	return airBlock
}

// SetAnchoredItem anchors an item of the material passed at a position. An
// empty material removes the item.
func (m *Memory) SetAnchoredItem(pos cube.Pos, material string) {
	m.mu.Lock()
	before := m.items[pos]
	if material == "" {
		delete(m.items, pos)
	} else {
		m.items[pos] = material
	}
	m.mu.Unlock()
	if before != material {
		m.Handler().HandleItemAnchor(m, pos, before, material)
	}
}

// AnchoredItem ...
func (m *Memory) AnchoredItem(pos cube.Pos) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads[ChunkPosOf(pos)]++
	it, ok := m.items[pos]
	return it, ok
}

// Reads returns how often Block or AnchoredItem were called for positions in
// the chunk passed.
func (m *Memory) Reads(pos ChunkPos) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reads[pos]
}

// Worlds is a Lookup backed by a map of worlds keyed by name.
type Worlds struct {
	mu     sync.RWMutex
	worlds map[string]World
}

// NewWorlds returns a Worlds lookup holding the worlds passed.
func NewWorlds(worlds ...World) *Worlds {
	l := &Worlds{worlds: make(map[string]World, len(worlds))}
	for _, w := range worlds {
		l.Add(w)
	}
	return l
}

// Add registers a world, replacing any world with the same name.
func (l *Worlds) Add(w World) {
	l.mu.Lock()
	l.worlds[w.Name()] = w
	l.mu.Unlock()
}

// Remove forgets the world with the name passed.
func (l *Worlds) Remove(name string) {
	l.mu.Lock()
	delete(l.worlds, name)
	l.mu.Unlock()
}

// World ...
func (l *Worlds) World(name string) (World, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	w, ok := l.worlds[name]
	return w, ok
}

// Names returns the names of all worlds, sorted.
func (l *Worlds) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.worlds))
	for name := range l.worlds {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
