package server

import (
	"github.com/dm-vev/powermobs/server/block/cube"
	"github.com/dm-vev/powermobs/server/blocker"
	"github.com/dm-vev/powermobs/server/world"
)

// blockerHandler keeps the blocker index of a world in sync with the events of
// that world. Chunks becoming resident are hydrated from their ledger, and
// placing or breaking the source of a blocker registers or removes it.
type blockerHandler struct {
	world.NopHandler
	blockers *blocker.Manager
}

// Compile time check to make sure blockerHandler implements world.Handler.
var _ world.Handler = blockerHandler{}

// HandleChunkLoad ...
func (h blockerHandler) HandleChunkLoad(w world.World, pos world.ChunkPos) {
	h.blockers.OnPartitionLoaded(w, pos)
}

// HandleBlockChange ...
func (h blockerHandler) HandleBlockChange(w world.World, pos cube.Pos, before, after string) {
	h.sourceChanged(w, pos, blocker.SourceWorldBlock, before, after)
}

// HandleItemAnchor ...
func (h blockerHandler) HandleItemAnchor(w world.World, pos cube.Pos, before, after string) {
	h.sourceChanged(w, pos, blocker.SourcePortableItem, before, after)
}

func (h blockerHandler) sourceChanged(w world.World, pos cube.Pos, kind blocker.SourceKind, before, after string) {
	if blocker.NormaliseMaterial(before) == blocker.NormaliseMaterial(after) {
		return
	}
	reg := h.blockers.Registry()
	for _, def := range reg.Sourced(kind, before) {
		h.blockers.RemoveBlockerByID(w.Name(), pos, def.ID)
	}
	for _, def := range reg.Sourced(kind, after) {
		h.blockers.RegisterBlocker(w.Name(), pos, def.ID)
	}
}
