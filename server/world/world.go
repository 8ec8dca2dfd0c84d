package world

import (
	"fmt"

	"github.com/dm-vev/powermobs/server/block/cube"
)

// ChunkPos holds the position of a chunk. The type is provided as a utility
// struct for keeping track of a chunk's position. Chunks do not themselves keep
// track of that. Chunk positions are different from block positions in the way
// that increasing the X/Z by one means increasing the absolute value on the X/Z
// axis in terms of blocks by 16.
type ChunkPos [2]int32

// String implements fmt.Stringer and returns (x, z).
func (p ChunkPos) String() string {
	return fmt.Sprintf("(%v, %v)", p[0], p[1])
}

// X returns the X coordinate of the chunk position.
func (p ChunkPos) X() int32 {
	return p[0]
}

// Z returns the Z coordinate of the chunk position.
func (p ChunkPos) Z() int32 {
	return p[1]
}

// Chebyshev returns the chessboard distance between two chunk positions.
func (p ChunkPos) Chebyshev(o ChunkPos) int32 {
	dx, dz := p[0]-o[0], p[1]-o[1]
	if dx < 0 {
		dx = -dx
	}
	if dz < 0 {
		dz = -dz
	}
	return max(dx, dz)
}

// ChunkPosOf returns the position of the chunk that contains the block
// position passed. The arithmetic shift floors negative coordinates.
func ChunkPosOf(pos cube.Pos) ChunkPos {
	return ChunkPos{int32(pos[0] >> 4), int32(pos[2] >> 4)}
}

// World is the view of a loaded world map the blocker subsystem needs. Block
// and AnchoredItem are only called for positions whose chunk reports
// ChunkLoaded as true, so implementations never have to load chunks on demand.
type World interface {
	// Name returns the unique name of the world.
	Name() string
	// ChunkLoaded reports if the chunk at the position passed is currently
	// resident in memory.
	ChunkLoaded(pos ChunkPos) bool
	// LoadedChunks returns the positions of all chunks currently resident.
	LoadedChunks() []ChunkPos
	// Block returns the material identifier of the block at the position
	// passed, for example "minecraft:beacon".
	Block(pos cube.Pos) string
	// AnchoredItem returns the material identifier of an item anchored at the
	// position passed, such as an item held by an item frame or armour stand.
	AnchoredItem(pos cube.Pos) (string, bool)
}

// Lookup resolves worlds by their name.
type Lookup interface {
	// World returns the world with the name passed, if it is currently known.
	World(name string) (World, bool)
}

// NopLookup is a Lookup that knows no worlds. Every chunk is therefore treated
// as not resident.
type NopLookup struct{}

// World always returns false.
func (NopLookup) World(string) (World, bool) { return nil, false }
