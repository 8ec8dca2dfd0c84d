package plugin

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dm-vev/powermobs/server/block/cube"
	"github.com/dm-vev/powermobs/server/world"
)

type eventRegistration[T any] struct {
	plugin  string
	handler T
	id      uint64
}

type eventList[T any] struct {
	regs []eventRegistration[T]
	next uint64
}

func (l *eventList[T]) add(plugin string, handler T) uint64 {
	id := l.next
	l.next++
	l.regs = append(l.regs, eventRegistration[T]{plugin: plugin, handler: handler, id: id})
	return id
}

func (l *eventList[T]) removeByID(id uint64) {
	if len(l.regs) == 0 {
		return
	}
	regs := l.regs[:0]
	for _, reg := range l.regs {
		if reg.id == id {
			continue
		}
		regs = append(regs, reg)
	}
	l.regs = regs
}

func (l *eventList[T]) removePlugin(plugin string) {
	if len(l.regs) == 0 {
		return
	}
	regs := l.regs[:0]
	for _, reg := range l.regs {
		if reg.plugin == plugin {
			continue
		}
		regs = append(regs, reg)
	}
	l.regs = regs
}

func (l *eventList[T]) rename(oldName, newName string) {
	if oldName == newName || len(l.regs) == 0 {
		return
	}
	for i := range l.regs {
		if l.regs[i].plugin == oldName {
			l.regs[i].plugin = newName
		}
	}
}

func (l *eventList[T]) snapshot() []eventRegistration[T] {
	if len(l.regs) == 0 {
		return nil
	}
	out := make([]eventRegistration[T], len(l.regs))
	copy(out, l.regs)
	return out
}

type eventHub[S any, C any] struct {
	mu         sync.Mutex
	log        *slog.Logger
	manager    *Manager[S, C]
	world      eventList[world.Handler]
	worldChain atomic.Value // []eventRegistration[world.Handler]
}

func newEventHub[S any, C any](manager *Manager[S, C], log *slog.Logger) *eventHub[S, C] {
	if log == nil {
		log = slog.Default()
	}
	hub := &eventHub[S, C]{manager: manager, log: log.With("subsystem", "plugin.events")}
	hub.worldChain.Store([]eventRegistration[world.Handler]{})
	return hub
}

func (pe *eventHub[S, C]) addWorld(plugin string, handler world.Handler) func() {
	if handler == nil {
		return func() {}
	}
	pe.mu.Lock()
	id := pe.world.add(plugin, handler)
	pe.worldChain.Store(pe.world.snapshot())
	pe.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			pe.mu.Lock()
			pe.world.removeByID(id)
			pe.worldChain.Store(pe.world.snapshot())
			pe.mu.Unlock()
		})
	}
}

func (pe *eventHub[S, C]) clear(plugin string) {
	pe.mu.Lock()
	pe.world.removePlugin(plugin)
	pe.worldChain.Store(pe.world.snapshot())
	pe.mu.Unlock()
}

func (pe *eventHub[S, C]) rename(oldName, newName string) {
	if newName == "" || oldName == newName {
		return
	}
	pe.mu.Lock()
	pe.world.rename(oldName, newName)
	pe.worldChain.Store(pe.world.snapshot())
	pe.mu.Unlock()
}

func (pe *eventHub[S, C]) loadWorldChain() []eventRegistration[world.Handler] {
	if v := pe.worldChain.Load(); v != nil {
		return v.([]eventRegistration[world.Handler])
	}
	return nil
}

func (pe *eventHub[S, C]) wrapWorld(_ world.World, base world.Handler) world.Handler {
	if chain, ok := base.(*worldHandlerChain[S, C]); ok {
		base = chain.base
	}
	if base == nil {
		base = world.NopHandler{}
	}
	return &worldHandlerChain[S, C]{manager: pe, base: base}
}

// worldHandlerChain calls the world handlers of every plugin, in the order they
// were registered, followed by the base handler of the world.
type worldHandlerChain[S any, C any] struct {
	manager *eventHub[S, C]
	base    world.Handler
}

func (c *worldHandlerChain[S, C]) call(fn func(world.Handler)) {
	for _, reg := range c.manager.loadWorldChain() {
		handler := reg.handler
		c.manager.invoke(reg.plugin, func() {
			fn(handler)
		})
	}
	fn(c.base)
}

func (c *worldHandlerChain[S, C]) HandleChunkLoad(w world.World, pos world.ChunkPos) {
	c.call(func(h world.Handler) { h.HandleChunkLoad(w, pos) })
}

func (c *worldHandlerChain[S, C]) HandleChunkUnload(w world.World, pos world.ChunkPos) {
	c.call(func(h world.Handler) { h.HandleChunkUnload(w, pos) })
}

func (c *worldHandlerChain[S, C]) HandleBlockChange(w world.World, pos cube.Pos, before, after string) {
	c.call(func(h world.Handler) { h.HandleBlockChange(w, pos, before, after) })
}

func (c *worldHandlerChain[S, C]) HandleItemAnchor(w world.World, pos cube.Pos, before, after string) {
	c.call(func(h world.Handler) { h.HandleItemAnchor(w, pos, before, after) })
}

func (pe *eventHub[S, C]) invoke(plugin string, call func()) {
	if call == nil {
		return
	}
	if plugin == "" {
		call()
		return
	}
	defer func() {
		if r := recover(); r != nil {
			pe.manager.handlePluginPanic(plugin, r)
		}
	}()
	call()
}
