package world

import (
	"sync/atomic"

	"github.com/dm-vev/powermobs/server/block/cube"
)

// Handler handles events that are called by a World. Implementations of
// Handler may be added to a World by calling Handle on it.
type Handler interface {
	// HandleChunkLoad handles a chunk becoming resident in the world.
	HandleChunkLoad(w World, pos ChunkPos)
	// HandleChunkUnload handles a chunk no longer being resident.
	HandleChunkUnload(w World, pos ChunkPos)
	// HandleBlockChange handles the block at pos changing from the material
	// before to the material after.
	HandleBlockChange(w World, pos cube.Pos, before, after string)
	// HandleItemAnchor handles the item anchored at pos changing. An empty
	// material means there was or is no item.
	HandleItemAnchor(w World, pos cube.Pos, before, after string)
}

// NopHandler implements the Handler interface but does not execute any code
// when an event is called. The default Handler of worlds is NopHandler.
type NopHandler struct{}

// Compile time check to make sure NopHandler implements Handler.
var _ Handler = NopHandler{}

func (NopHandler) HandleChunkLoad(World, ChunkPos)                   {}
func (NopHandler) HandleChunkUnload(World, ChunkPos)                 {}
func (NopHandler) HandleBlockChange(World, cube.Pos, string, string) {}
func (NopHandler) HandleItemAnchor(World, cube.Pos, string, string)  {}

type handlerWrapper func(World, Handler) Handler

var handlerWrap atomic.Value

func init() {
	SetHandlerWrap(nil)
}

// SetHandlerWrap installs a wrapper applied to handlers assigned to a world
// through Handle. The wrapper is invoked after nil handlers are normalised to
// NopHandler. Passing nil removes the wrapper.
func SetHandlerWrap(w func(World, Handler) Handler) {
	if w == nil {
		handlerWrap.Store(handlerWrapper(func(_ World, h Handler) Handler {
			return h
		}))
		return
	}
	handlerWrap.Store(handlerWrapper(w))
}

func wrapHandler(w World, h Handler) Handler {
	if h == nil {
		h = NopHandler{}
	}
	return handlerWrap.Load().(handlerWrapper)(w, h)
}
