package blocker

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/dm-vev/powermobs/server/block/cube"
	"github.com/dm-vev/powermobs/server/world"
)

// Instance is a single placed or anchored occurrence of a blocker definition.
// Two instances are equal if their id, world and position are equal.
type Instance struct {
	BlockerID string
	World     string
	Pos       cube.Pos
}

// Origin returns the chunk that contains the source position of the instance.
func (i Instance) Origin() world.ChunkPos {
	return world.ChunkPosOf(i.Pos)
}

// Partition returns the partition whose ledger holds the instance.
func (i Instance) Partition() Partition {
	return Partition{World: i.World, Chunk: i.Origin()}
}

// String ...
func (i Instance) String() string {
	return fmt.Sprintf("%s@%s%v", i.BlockerID, i.World, i.Pos)
}

// point identifies a source position regardless of the blocker id.
type point struct {
	world string
	pos   cube.Pos
}

func (i Instance) point() point {
	return point{world: i.World, pos: i.Pos}
}

// compareInstances orders instances by world, position and then id.
func compareInstances(a, b Instance) int {
	if c := cmp.Compare(a.World, b.World); c != 0 {
		return c
	}
	for i := range a.Pos {
		if c := cmp.Compare(a.Pos[i], b.Pos[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(a.BlockerID, b.BlockerID)
}

func sortInstances(instances []Instance) {
	slices.SortFunc(instances, compareInstances)
}
